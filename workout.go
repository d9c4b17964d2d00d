// Package sonarfit bridges named remote calls from a host application to a
// workout engine and reduces the engine's callbacks to a single reply.
package sonarfit

import (
	"strings"
	"time"
)

// WorkoutType identifies the exercise being tracked.
type WorkoutType string

const (
	WorkoutSquat      WorkoutType = "squat"
	WorkoutDeadlift   WorkoutType = "deadlift"
	WorkoutBenchpress WorkoutType = "benchpress"
)

// ParseWorkoutType matches s case-insensitively against the known workouts.
func ParseWorkoutType(s string) (WorkoutType, bool) {
	switch WorkoutType(strings.ToLower(s)) {
	case WorkoutSquat:
		return WorkoutSquat, true
	case WorkoutDeadlift:
		return WorkoutDeadlift, true
	case WorkoutBenchpress:
		return WorkoutBenchpress, true
	default:
		return "", false
	}
}

// DeviceType identifies the companion device used for motion sensing.
type DeviceType string

const (
	DeviceNone    DeviceType = "none"
	DeviceWatch   DeviceType = "watch"
	DeviceAirPods DeviceType = "airpods"
)

// ParseDeviceType never fails: unknown names degrade to DeviceNone.
func ParseDeviceType(s string) DeviceType {
	switch DeviceType(strings.ToLower(s)) {
	case DeviceWatch:
		return DeviceWatch
	case DeviceAirPods:
		return DeviceAirPods
	default:
		return DeviceNone
	}
}

const (
	DefaultRestTime          = 60
	DefaultCountdownDuration = 3
	DefaultAutoReLift        = true
)

// WorkoutConfig is the validated input of a presentWorkout call.
type WorkoutConfig struct {
	WorkoutType       WorkoutType `json:"workoutType" yaml:"workoutType"`
	Sets              int         `json:"sets" yaml:"sets"`
	Reps              int         `json:"reps" yaml:"reps"`
	RestTime          int         `json:"restTime" yaml:"restTime"`
	CountdownDuration int         `json:"countdownDuration" yaml:"countdownDuration"`
	AutoReLift        bool        `json:"autoReLift" yaml:"autoReLift"`
	DeviceType        DeviceType  `json:"deviceType" yaml:"deviceType"`
}

// WorkoutStatus reports whether every target rep was performed.
type WorkoutStatus string

const (
	StatusCompleted    WorkoutStatus = "completed"
	StatusStoppedEarly WorkoutStatus = "stoppedEarly"
)

// SetResult is the outcome of a single set.
type SetResult struct {
	SetNumber     int `json:"setNumber"`
	RepsCompleted int `json:"repsCompleted"`
}

// WorkoutResult is produced by the engine when a session ends normally.
// CompletionPercentage is TotalRepsCompleted over TotalTargetReps, scaled to
// 0..100.
type WorkoutResult struct {
	WorkoutType          WorkoutType
	DeviceType           DeviceType
	StartTime            time.Time
	EndTime              time.Time
	TotalDuration        time.Duration
	Status               WorkoutStatus
	CompletionPercentage float64
	TargetSets           int
	TargetRepsPerSet     int
	TotalRepsCompleted   int
	TotalTargetReps      int
	Sets                 []SetResult
}
