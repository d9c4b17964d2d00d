// Package mainloop provides the interaction context: a single goroutine that
// runs posted tasks in order. Anything touching presentation surfaces runs
// there.
package mainloop

import (
	"context"
	"sync"
	"sync/atomic"

	apperrors "github.com/goliatone/go-errors"
	sonarfit "github.com/goliatone/go-sonarfit"
	"github.com/goliatone/go-sonarfit/logging"
)

var (
	ErrClosed = apperrors.New("main loop closed", apperrors.CategoryConflict).
			WithTextCode("LOOP_CLOSED")
	ErrRunning = apperrors.New("main loop already running", apperrors.CategoryConflict).
			WithTextCode("LOOP_RUNNING")
	ErrNilTask = apperrors.New("main loop task required", apperrors.CategoryBadInput).
			WithTextCode("LOOP_NIL_TASK")
)

type Option func(*Loop)

func WithLogger(logger logging.Logger) Option {
	return func(l *Loop) {
		l.logger = logging.OrNop(logger)
	}
}

// Loop is an unbounded FIFO of tasks drained by the goroutine calling Run.
// Posting from inside a task never blocks.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	running atomic.Bool
	gid     atomic.Uint64
	logger  logging.Logger
}

var _ sonarfit.Executor = (*Loop)(nil)

func New(opts ...Option) *Loop {
	l := &Loop{
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Start runs the loop on a new goroutine.
func (l *Loop) Start(ctx context.Context) {
	go func() {
		if err := l.Run(ctx); err != nil && err != context.Canceled {
			l.logger.Warn("main loop stopped", "error", err)
		}
	}()
}

// Run drains tasks until Close is called or ctx is done. Tasks queued before
// the stop still run. Run may only be called once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	if ctx == nil {
		ctx = context.Background()
	}
	l.gid.Store(sonarfit.GoroutineID())
	defer close(l.done)

	for {
		l.drain()
		select {
		case <-l.wake:
		case <-l.stop:
			l.markClosed()
			l.drain()
			return nil
		case <-ctx.Done():
			l.markClosed()
			l.drain()
			return ctx.Err()
		}
	}
}

// Post queues task. It fails with ErrClosed once the loop stopped.
func (l *Loop) Post(task func()) error {
	if task == nil {
		return ErrNilTask
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// OnLoop reports whether the caller runs on the loop goroutine.
func (l *Loop) OnLoop() bool {
	id := l.gid.Load()
	return id != 0 && id == sonarfit.GoroutineID()
}

// Close stops accepting tasks and lets Run return after draining.
func (l *Loop) Close() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}

// Done is closed when Run returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) markClosed() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task
}

func (l *Loop) drain() {
	for task := l.next(); task != nil; task = l.next() {
		l.run(task)
	}
}

func (l *Loop) run(task func()) {
	defer sonarfit.MakePanicHandler(sonarfit.LoggerPanicHandler(l.logger))("mainloop.task")
	task()
}
