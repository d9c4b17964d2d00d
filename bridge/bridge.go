// Package bridge exposes the workout engine as named remote operations.
package bridge

import (
	"context"
	"fmt"
	"sync/atomic"

	sonarfit "github.com/goliatone/go-sonarfit"
	"github.com/goliatone/go-sonarfit/logging"
	"github.com/goliatone/go-sonarfit/rpc"
)

// ChannelName identifies the method channel towards the host.
const ChannelName = "sonarfit_flutter"

const (
	MethodInitialize     = "initialize"
	MethodPresentWorkout = "presentWorkout"
)

type Option func(*Bridge)

func WithLogger(logger logging.Logger) Option {
	return func(b *Bridge) {
		b.logger = logging.OrNop(logger)
	}
}

// WithExecutor sets the interaction context anchors are resolved and
// dismissed on. Defaults to running inline.
func WithExecutor(executor sonarfit.Executor) Option {
	return func(b *Bridge) {
		if executor != nil {
			b.executor = executor
		}
	}
}

// WithObserver is passed to every arbiter, typically the metrics.
func WithObserver(observer sonarfit.ArbiterObserver) Option {
	return func(b *Bridge) {
		b.observer = observer
	}
}

// Bridge routes initialize and presentWorkout to the engine.
type Bridge struct {
	engine   sonarfit.Engine
	anchors  sonarfit.AnchorSource
	executor sonarfit.Executor
	observer sonarfit.ArbiterObserver
	logger   logging.Logger

	inflight atomic.Int32
}

var _ rpc.EndpointsProvider = (*Bridge)(nil)

func New(engine sonarfit.Engine, anchors sonarfit.AnchorSource, opts ...Option) *Bridge {
	b := &Bridge{
		engine:   engine,
		anchors:  anchors,
		executor: sonarfit.InlineExecutor,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// NewServer registers b on a server that recovers handler panics as
// E_INTERNAL. Extra options are applied after that default.
func NewServer(b *Bridge, opts ...rpc.Option) (*rpc.Server, error) {
	base := []rpc.Option{rpc.WithFailureMode(rpc.FailureModeRecover)}
	if b != nil {
		base = append(base, rpc.WithLogger(b.logger))
	}
	server := rpc.NewServer(append(base, opts...)...)
	if err := server.Register(b); err != nil {
		return nil, err
	}
	return server, nil
}

// Inflight returns the number of workouts started and not yet replied.
func (b *Bridge) Inflight() int {
	return int(b.inflight.Load())
}

func (b *Bridge) RPCEndpoints() []rpc.EndpointDefinition {
	return []rpc.EndpointDefinition{
		rpc.NewEndpoint(rpc.EndpointSpec{
			Method:      MethodInitialize,
			Kind:        rpc.MethodKindCommand,
			Idempotent:  true,
			Summary:     "Initialize the workout SDK",
			Description: "Validates the API key with the engine. Replies with no value on success.",
			Tags:        []string{"sdk"},
			Params: []rpc.Param{
				{Name: sonarfit.KeyAPIKey, Type: "string", Required: true},
			},
		}, b.Initialize),
		rpc.NewEndpoint(rpc.EndpointSpec{
			Method:      MethodPresentWorkout,
			Kind:        rpc.MethodKindCommand,
			Summary:     "Present a workout session",
			Description: "Shows the workout UI and replies once with the result, a permission error or a cancellation.",
			Tags:        []string{"workout"},
			Params: []rpc.Param{
				{Name: sonarfit.KeyWorkoutType, Type: "string", Required: true, Enum: []string{
					string(sonarfit.WorkoutSquat), string(sonarfit.WorkoutDeadlift), string(sonarfit.WorkoutBenchpress),
				}},
				{Name: sonarfit.KeySets, Type: "int", Required: true},
				{Name: sonarfit.KeyReps, Type: "int", Required: true},
				{Name: sonarfit.KeyRestTime, Type: "int", Default: sonarfit.DefaultRestTime},
				{Name: sonarfit.KeyCountdownDuration, Type: "int", Default: sonarfit.DefaultCountdownDuration},
				{Name: sonarfit.KeyAutoReLift, Type: "bool", Default: sonarfit.DefaultAutoReLift},
				{Name: sonarfit.KeyDeviceType, Type: "string", Default: string(sonarfit.DeviceNone), Enum: []string{
					string(sonarfit.DeviceNone), string(sonarfit.DeviceWatch), string(sonarfit.DeviceAirPods),
				}},
			},
		}, b.PresentWorkout),
	}
}

// Initialize hands the apiKey to the engine and relays its verdict.
func (b *Bridge) Initialize(_ context.Context, payload any, reply sonarfit.ResultFunc) {
	apiKey, err := sonarfit.DecodeAPIKey(payload)
	if err != nil {
		reply(sonarfit.Failure(err))
		return
	}
	if b.engine == nil {
		reply(sonarfit.Failure(sonarfit.Internal(fmt.Errorf("workout engine not configured"))))
		return
	}

	b.engine.Initialize(apiKey, func(ok bool, err error) {
		if ok {
			b.logger.Info("sdk initialized")
			reply(sonarfit.Success(nil))
			return
		}
		b.logger.Warn("sdk initialization failed", "error", err)
		reply(sonarfit.Failure(sonarfit.InitFailed(err)))
	})
}

// PresentWorkout decodes the configuration, then resolves the anchor and
// starts the workout on the interaction context.
func (b *Bridge) PresentWorkout(_ context.Context, payload any, reply sonarfit.ResultFunc) {
	cfg, err := sonarfit.DecodePresentWorkoutArgs(payload)
	if err != nil {
		reply(sonarfit.Failure(err))
		return
	}

	once := sonarfit.NewReplyOnce(reply)
	if err := b.executor.Post(func() { b.startWorkout(cfg, once) }); err != nil {
		b.logger.Error("could not reach interaction context", "error", err)
		once.Deliver(sonarfit.Failure(sonarfit.Internal(err)))
	}
}

func (b *Bridge) startWorkout(cfg sonarfit.WorkoutConfig, once *sonarfit.ReplyOnce) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("workout start panicked", "panic", fmt.Sprint(p))
			once.Deliver(sonarfit.Failure(sonarfit.Internal(fmt.Errorf("%v", p))))
		}
	}()

	anchor, err := sonarfit.ResolveAnchor(b.anchors)
	if err != nil {
		once.Deliver(sonarfit.Failure(err))
		return
	}

	if n := b.inflight.Add(1); n > 1 {
		b.logger.Warn("workout presented while another is in flight", "inflight", n)
	}
	arbiter := sonarfit.NewArbiter(anchor, b.executor, func(r sonarfit.Reply) {
		b.inflight.Add(-1)
		once.Deliver(r)
	},
		sonarfit.WithArbiterLogger(b.logger),
		sonarfit.WithArbiterObserver(b.observer),
	)
	if err := arbiter.Start(b.engine, cfg); err != nil {
		b.inflight.Add(-1)
		once.Deliver(sonarfit.Failure(sonarfit.Internal(err)))
	}
}
