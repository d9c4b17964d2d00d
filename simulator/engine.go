package simulator

import (
	"errors"
	"slices"
	"sync"
	"time"

	sonarfit "github.com/goliatone/go-sonarfit"
	"github.com/goliatone/go-sonarfit/logging"
)

// WorkoutViewName is the name of the view the engine presents.
const WorkoutViewName = "workout"

var (
	errInvalidAPIKey  = errors.New("Invalid API key")
	errNotInitialized = errors.New("SonarFit SDK is not initialized")
)

type EngineOption func(*Engine)

func WithEngineLogger(logger logging.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logging.OrNop(logger)
	}
}

// WithClock replaces time.Now for result timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine is a scripted sonarfit.Engine. Callbacks fire from background
// goroutines, never from the caller's.
type Engine struct {
	script Script
	now    func() time.Time
	logger logging.Logger

	mu          sync.Mutex
	initialized bool
	started     int
}

var _ sonarfit.Engine = (*Engine)(nil)

func NewEngine(script Script, opts ...EngineOption) *Engine {
	e := &Engine{
		script: script,
		now:    time.Now,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Started returns how many workouts were started.
func (e *Engine) Started() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Initialize implements sonarfit.Engine.
func (e *Engine) Initialize(apiKey string, done func(ok bool, err error)) {
	go func() {
		if d := e.script.InitDelay; d > 0 {
			time.Sleep(d)
		}
		if !e.acceptsKey(apiKey) {
			e.logger.Debug("simulator rejected api key")
			done(false, errInvalidAPIKey)
			return
		}
		e.mu.Lock()
		e.initialized = true
		e.mu.Unlock()
		done(true, nil)
	}()
}

func (e *Engine) acceptsKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}
	if len(e.script.APIKeys) == 0 {
		return true
	}
	return slices.Contains(e.script.APIKeys, apiKey)
}

// StartWorkout implements sonarfit.Engine.
func (e *Engine) StartWorkout(cfg sonarfit.WorkoutConfig, anchor sonarfit.Anchor, cb sonarfit.Callbacks) {
	e.mu.Lock()
	e.started++
	initialized := e.initialized
	e.mu.Unlock()

	if e.script.RequireInitialize && !initialized {
		go cb.OnPermissionError(errNotInitialized)
		return
	}

	if view, ok := anchor.(*View); ok {
		view.Present(WorkoutViewName)
	}
	start := e.now()

	go func() {
		if d := e.script.Delay; d > 0 {
			time.Sleep(d)
		}
		e.logger.Debug("simulator workout finished", "outcome", e.script.Outcome, "workout_type", cfg.WorkoutType)
		e.fire(cfg, start, cb)
		if e.script.DuplicateCallbacks {
			cb.OnDismissRequest()
			e.fire(cfg, start, cb)
		}
	}()
}

func (e *Engine) fire(cfg sonarfit.WorkoutConfig, start time.Time, cb sonarfit.Callbacks) {
	switch e.script.Outcome {
	case OutcomePermissionDenied:
		cb.OnPermissionError(errors.New(e.script.PermissionMessage))
	case OutcomeCancelled:
		cb.OnDismissRequest()
	case OutcomeNoResult:
		cb.OnCompletion(nil)
	case OutcomeStoppedEarly:
		reps := e.script.RepsPerSet
		if len(reps) == 0 {
			// stop halfway through the first set
			reps = []int{cfg.Reps / 2}
		}
		result := BuildResult(cfg, reps, start, e.now())
		cb.OnCompletion(&result)
	default:
		result := BuildResult(cfg, e.script.RepsPerSet, start, e.now())
		cb.OnCompletion(&result)
	}
}

// BuildResult assembles a result for cfg. repsPerSet gives the reps done in
// each set, clamped to cfg.Reps; when nil every set is complete. Sets beyond
// the slice count as zero reps.
func BuildResult(cfg sonarfit.WorkoutConfig, repsPerSet []int, start, end time.Time) sonarfit.WorkoutResult {
	sets := make([]sonarfit.SetResult, 0, cfg.Sets)
	total := 0
	for i := 0; i < cfg.Sets; i++ {
		reps := cfg.Reps
		if repsPerSet != nil {
			reps = 0
			if i < len(repsPerSet) {
				reps = min(max(repsPerSet[i], 0), cfg.Reps)
			}
		}
		total += reps
		sets = append(sets, sonarfit.SetResult{SetNumber: i + 1, RepsCompleted: reps})
	}

	target := cfg.Sets * cfg.Reps
	completion := 0.0
	if target > 0 {
		completion = 100 * float64(total) / float64(target)
	}
	status := sonarfit.StatusStoppedEarly
	if target > 0 && total >= target {
		status = sonarfit.StatusCompleted
	}
	if end.Before(start) {
		end = start
	}

	return sonarfit.WorkoutResult{
		WorkoutType:          cfg.WorkoutType,
		DeviceType:           cfg.DeviceType,
		StartTime:            start,
		EndTime:              end,
		TotalDuration:        end.Sub(start),
		Status:               status,
		CompletionPercentage: completion,
		TargetSets:           cfg.Sets,
		TargetRepsPerSet:     cfg.Reps,
		TotalRepsCompleted:   total,
		TotalTargetReps:      target,
		Sets:                 sets,
	}
}
