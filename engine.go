package sonarfit

// Callbacks are the three mutually exclusive outcomes of a workout. The
// engine may invoke them from any goroutine and, when misbehaving, more
// than once; only the first one is honored.
type Callbacks struct {
	OnCompletion      func(result *WorkoutResult)
	OnPermissionError func(err error)
	OnDismissRequest  func()
}

// Engine is the external workout SDK. It is opaque to the bridge.
type Engine interface {
	// Initialize validates the API key and reports through done.
	Initialize(apiKey string, done func(ok bool, err error))
	// StartWorkout presents the workout UI on anchor and reports its outcome
	// through cb.
	StartWorkout(cfg WorkoutConfig, anchor Anchor, cb Callbacks)
}

// Executor runs tasks on the interaction context. Post fails once the
// context stopped accepting work.
type Executor interface {
	Post(task func()) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(task func()) error

func (f ExecutorFunc) Post(task func()) error {
	return f(task)
}

// InlineExecutor runs tasks on the calling goroutine.
var InlineExecutor Executor = ExecutorFunc(func(task func()) error {
	task()
	return nil
})
