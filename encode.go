package sonarfit

import "time"

// EncodeWorkoutResult flattens a result into the reply payload sent to the
// host. Times are float seconds since the Unix epoch.
func EncodeWorkoutResult(result WorkoutResult) map[string]any {
	sets := make([]any, 0, len(result.Sets))
	for _, set := range result.Sets {
		sets = append(sets, map[string]any{
			"setNumber":     set.SetNumber,
			"repsCompleted": set.RepsCompleted,
		})
	}

	return map[string]any{
		"workoutType":          string(result.WorkoutType),
		"deviceType":           encodeDeviceType(result.DeviceType),
		"startTime":            epochSeconds(result.StartTime),
		"endTime":              epochSeconds(result.EndTime),
		"totalDuration":        result.TotalDuration.Seconds(),
		"status":               encodeStatus(result.Status),
		"completionPercentage": result.CompletionPercentage,
		"targetSets":           result.TargetSets,
		"targetRepsPerSet":     result.TargetRepsPerSet,
		"totalRepsCompleted":   result.TotalRepsCompleted,
		"totalTargetReps":      result.TotalTargetReps,
		"sets":                 sets,
	}
}

func encodeDeviceType(d DeviceType) string {
	switch d {
	case DeviceWatch, DeviceAirPods:
		return string(d)
	default:
		return string(DeviceNone)
	}
}

func encodeStatus(s WorkoutStatus) string {
	if s == StatusCompleted {
		return string(StatusCompleted)
	}
	return string(StatusStoppedEarly)
}

func epochSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}
