package sonarfit

import (
	"fmt"
	"sync"

	apperrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-sonarfit/logging"
)

// ArbiterState tracks one workout invocation.
type ArbiterState int

const (
	StateIdle ArbiterState = iota
	StateDispatched
	StateAwaitingOutcome
	StateResolved
)

func (s ArbiterState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatched:
		return "dispatched"
	case StateAwaitingOutcome:
		return "awaiting_outcome"
	case StateResolved:
		return "resolved"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CallbackKind names the outcome that resolved an invocation.
type CallbackKind string

const (
	CallbackCompletion      CallbackKind = "completion"
	CallbackPermissionError CallbackKind = "permission_error"
	CallbackDismissRequest  CallbackKind = "dismiss_request"
	CallbackStartPanic      CallbackKind = "start_panic"
)

// ErrArbiterStarted is returned when Start is called twice.
var ErrArbiterStarted = apperrors.New("workout already started", apperrors.CategoryConflict).
	WithTextCode("ARBITER_STARTED")

// ArbiterObserver is notified of callbacks that arrived after resolution.
type ArbiterObserver interface {
	LateCallback(kind CallbackKind)
}

type ArbiterOption func(*Arbiter)

func WithArbiterLogger(logger logging.Logger) ArbiterOption {
	return func(a *Arbiter) {
		a.logger = logging.OrNop(logger)
	}
}

func WithArbiterObserver(observer ArbiterObserver) ArbiterOption {
	return func(a *Arbiter) {
		a.observer = observer
	}
}

// WithInvocationID overrides the generated invocation id used in logs.
func WithInvocationID(id string) ArbiterOption {
	return func(a *Arbiter) {
		if id != "" {
			a.id = id
		}
	}
}

// Arbiter reduces the engine's racing outcome callbacks to a single reply.
// The first callback to claim wins; later ones are dropped. On the
// completion and dismiss paths the anchor is dismissed on the executor and
// the reply is sent only after the dismissal reported done.
type Arbiter struct {
	mu     sync.Mutex
	state  ArbiterState
	winner CallbackKind

	id        string
	anchor    Anchor
	executor  Executor
	reply     *ReplyOnce
	delivered chan struct{}

	logger   logging.Logger
	observer ArbiterObserver
}

// NewArbiter prepares an invocation that will answer through reply.
func NewArbiter(anchor Anchor, executor Executor, reply ResultFunc, opts ...ArbiterOption) *Arbiter {
	a := &Arbiter{
		state:     StateIdle,
		id:        uuid.NewString(),
		anchor:    anchor,
		executor:  executor,
		reply:     NewReplyOnce(reply),
		delivered: make(chan struct{}),
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.executor == nil {
		a.executor = InlineExecutor
	}
	a.logger = a.logger.With("invocation", a.id)
	return a
}

func (a *Arbiter) ID() string {
	return a.id
}

func (a *Arbiter) State() ArbiterState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Winner returns the callback that resolved the invocation, "" before that.
func (a *Arbiter) Winner() CallbackKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.winner
}

// Done is closed once the reply was delivered.
func (a *Arbiter) Done() <-chan struct{} {
	return a.delivered
}

// Callbacks returns the callback set handed to the engine.
func (a *Arbiter) Callbacks() Callbacks {
	return Callbacks{
		OnCompletion:      a.onCompletion,
		OnPermissionError: a.onPermissionError,
		OnDismissRequest:  a.onDismissRequest,
	}
}

// Start hands the workout to engine. A panic raised by the engine while
// starting resolves the invocation with E_START_FAILED.
func (a *Arbiter) Start(engine Engine, cfg WorkoutConfig) error {
	a.mu.Lock()
	if a.state != StateIdle {
		a.mu.Unlock()
		return ErrArbiterStarted
	}
	a.state = StateDispatched
	a.mu.Unlock()

	a.logger.Debug("workout dispatched",
		"workout_type", cfg.WorkoutType,
		"sets", cfg.Sets,
		"reps", cfg.Reps,
		"device_type", cfg.DeviceType,
	)

	a.startEngine(engine, cfg)

	a.mu.Lock()
	if a.state == StateDispatched {
		a.state = StateAwaitingOutcome
	}
	a.mu.Unlock()
	return nil
}

func (a *Arbiter) startEngine(engine Engine, cfg WorkoutConfig) {
	defer func() {
		if p := recover(); p != nil {
			a.logger.Error("workout engine panicked on start", "panic", fmt.Sprint(p))
			if a.claim(CallbackStartPanic) {
				a.deliver(Failure(StartFailed(p)))
			}
		}
	}()
	if engine == nil {
		panic("workout engine not configured")
	}
	engine.StartWorkout(cfg, a.anchor, a.Callbacks())
}

func (a *Arbiter) onCompletion(result *WorkoutResult) {
	if !a.claim(CallbackCompletion) {
		return
	}
	reply := Failure(NoResult())
	if result != nil {
		reply = Success(EncodeWorkoutResult(*result))
	}
	a.teardownThenDeliver(reply)
}

// Permission errors reply without dismissing: the engine keeps ownership of
// its UI on that path.
func (a *Arbiter) onPermissionError(err error) {
	if !a.claim(CallbackPermissionError) {
		return
	}
	a.deliver(Failure(PermissionDenied(err)))
}

func (a *Arbiter) onDismissRequest() {
	if !a.claim(CallbackDismissRequest) {
		return
	}
	a.teardownThenDeliver(Failure(Cancelled()))
}

// claim is the single check-and-set guarding the reply.
func (a *Arbiter) claim(kind CallbackKind) bool {
	a.mu.Lock()
	if a.state == StateResolved {
		winner := a.winner
		a.mu.Unlock()
		a.logger.Warn("late workout callback ignored", "callback", kind, "winner", winner)
		if a.observer != nil {
			a.observer.LateCallback(kind)
		}
		return false
	}
	a.state = StateResolved
	a.winner = kind
	a.mu.Unlock()
	return true
}

func (a *Arbiter) teardownThenDeliver(reply Reply) {
	err := a.executor.Post(func() {
		defer func() {
			if p := recover(); p != nil {
				a.logger.Error("anchor dismissal panicked", "panic", fmt.Sprint(p))
				a.deliver(reply)
			}
		}()
		if isNilAnchor(a.anchor) {
			a.deliver(reply)
			return
		}
		a.anchor.Dismiss(func(err error) {
			if err != nil {
				a.logger.Warn("anchor dismissal failed", "error", err)
			}
			// dismissal may finish on another goroutine; the reply goes out
			// on the executor like the rest of the teardown
			if postErr := a.executor.Post(func() { a.deliver(reply) }); postErr != nil {
				a.logger.Warn("could not schedule reply after dismissal", "error", postErr)
				a.deliver(reply)
			}
		})
	})
	if err != nil {
		a.logger.Error("could not schedule anchor dismissal", "error", err)
		a.deliver(reply)
	}
}

func (a *Arbiter) deliver(reply Reply) {
	if !a.reply.Deliver(reply) {
		return
	}
	close(a.delivered)
	if reply.IsError() {
		a.logger.Info("workout resolved", "callback", a.Winner(), "code", reply.Code())
		return
	}
	a.logger.Info("workout resolved", "callback", a.Winner())
}
