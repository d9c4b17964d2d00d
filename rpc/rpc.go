package rpc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	sonarfit "github.com/goliatone/go-sonarfit"
	"github.com/goliatone/go-sonarfit/logging"
)

// Endpoint describes a registered method.
type Endpoint struct {
	Method      string        `json:"method" cbor:"method"`
	HandlerKind string        `json:"handlerKind" cbor:"handlerKind"`
	Timeout     time.Duration `json:"timeout" cbor:"timeout"`
	Idempotent  bool          `json:"idempotent" cbor:"idempotent"`
	Params      []Param       `json:"params,omitempty" cbor:"params,omitempty"`
	Summary     string        `json:"summary,omitempty" cbor:"summary,omitempty"`
	Description string        `json:"description,omitempty" cbor:"description,omitempty"`
	Tags        []string      `json:"tags,omitempty" cbor:"tags,omitempty"`
	Deprecated  bool          `json:"deprecated,omitempty" cbor:"deprecated,omitempty"`
	Since       string        `json:"since,omitempty" cbor:"since,omitempty"`
}

type endpointEntry struct {
	endpoint Endpoint
	def      EndpointDefinition
}

const (
	HandlerKindExecute = "execute"
	HandlerKindQuery   = "query"
)

var (
	errServerNotConfigured   = errors.New("rpc server not configured")
	errEndpointNotConfigured = errors.New("rpc endpoint handler not configured")
)

// FailureStage identifies where a failure happened.
type FailureStage string

const (
	FailureStageRegister FailureStage = "register"
	FailureStageInvoke   FailureStage = "invoke"
)

// FailureMode controls how the server reacts to registration/invocation failures.
type FailureMode int

const (
	// FailureModeReject returns registration errors and re-panics invoke panics.
	FailureModeReject FailureMode = iota
	// FailureModeRecover returns registration errors and converts invoke panics
	// into an E_INTERNAL reply.
	FailureModeRecover
	// FailureModeLogAndContinue suppresses failures after logging them.
	// For register, the endpoint is skipped. For invoke panic, the caller
	// gets an E_INTERNAL reply.
	FailureModeLogAndContinue
)

// FailureEvent carries context for strategy/logging decisions.
type FailureEvent struct {
	Stage  FailureStage
	Method string
	Err    error
	Panic  any
}

// FailureStrategy decides how to handle a failure event.
type FailureStrategy func(FailureEvent) FailureMode

// FailureLogger receives failure events when configured.
type FailureLogger func(FailureEvent)

// Option customizes server behavior.
type Option func(*Server)

// WithFailureStrategy sets a custom failure strategy function.
func WithFailureStrategy(strategy FailureStrategy) Option {
	return func(s *Server) {
		if strategy != nil {
			s.failureStrategy = strategy
		}
	}
}

// WithFailureMode sets a fixed strategy mode.
func WithFailureMode(mode FailureMode) Option {
	return WithFailureStrategy(func(FailureEvent) FailureMode {
		return mode
	})
}

// WithFailureLogger sets an optional callback for failure events.
func WithFailureLogger(logger FailureLogger) Option {
	return func(s *Server) {
		s.failureLogger = logger
	}
}

// WithLogger routes failure events to a structured logger unless a
// FailureLogger was set explicitly.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		s.logger = logging.OrNop(logger)
	}
}

// WithMiddleware appends invoke middleware in registration order.
func WithMiddleware(mw ...Middleware) Option {
	return func(s *Server) {
		if s == nil {
			return
		}
		for _, m := range mw {
			if m != nil {
				s.middleware = append(s.middleware, m)
			}
		}
	}
}

// Server is an in memory method registry and invoker. Transport adapters
// hand it a method name and an untyped payload; the reply arrives through a
// callback that fires exactly once.
type Server struct {
	mu              sync.RWMutex
	endpoints       map[string]endpointEntry
	middleware      []Middleware
	failureStrategy FailureStrategy
	failureLogger   FailureLogger
	logger          logging.Logger
}

// NewServer creates an empty server.
func NewServer(opts ...Option) *Server {
	server := &Server{
		endpoints: make(map[string]endpointEntry),
		failureStrategy: func(FailureEvent) FailureMode {
			return FailureModeReject
		},
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(server)
		}
	}
	return server
}

// Register stores every endpoint exposed by provider.
func (s *Server) Register(provider EndpointsProvider) error {
	if s == nil {
		return errServerNotConfigured
	}
	if provider == nil {
		return s.handleRegisterFailure("", fmt.Errorf("rpc endpoints provider required"))
	}
	return s.RegisterEndpoints(provider.RPCEndpoints()...)
}

// RegisterEndpoint stores an explicit endpoint definition.
func (s *Server) RegisterEndpoint(def EndpointDefinition) error {
	if s == nil {
		return errServerNotConfigured
	}
	if def == nil {
		return s.handleRegisterFailure("", fmt.Errorf("rpc endpoint definition required"))
	}

	spec := def.Spec()
	if spec.Method == "" {
		return s.handleRegisterFailure(spec.Method, fmt.Errorf("rpc method required"))
	}

	handlerKind := string(spec.Kind)
	if handlerKind == "" {
		handlerKind = HandlerKindExecute
	}

	entry := endpointEntry{
		endpoint: Endpoint{
			Method:      spec.Method,
			HandlerKind: handlerKind,
			Timeout:     spec.Timeout,
			Idempotent:  spec.Idempotent,
			Params:      cloneParams(spec.Params),
			Summary:     spec.Summary,
			Description: spec.Description,
			Tags:        cloneStrings(spec.Tags),
			Deprecated:  spec.Deprecated,
			Since:       spec.Since,
		},
		def: def,
	}

	if err := s.registerEndpointEntry(spec.Method, entry); err != nil {
		return s.handleRegisterFailure(spec.Method, err)
	}
	return nil
}

// RegisterEndpoints stores explicit endpoint definitions in registration order.
func (s *Server) RegisterEndpoints(defs ...EndpointDefinition) error {
	for _, def := range defs {
		if err := s.RegisterEndpoint(def); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch routes one invocation. reply is called exactly once: with the
// handler's answer, with a not implemented reply for unknown methods, or
// with E_INTERNAL when a handler panic was recovered.
func (s *Server) Dispatch(ctx context.Context, method string, payload any, reply sonarfit.ResultFunc) {
	once := sonarfit.NewReplyOnce(reply)
	if s == nil {
		once.Deliver(sonarfit.Failure(sonarfit.Internal(errServerNotConfigured)))
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.RLock()
	entry, ok := s.endpoints[method]
	middleware := cloneMiddleware(s.middleware)
	s.mu.RUnlock()
	if !ok {
		once.Deliver(sonarfit.NotImplementedReply())
		return
	}

	req := InvokeRequest{
		Method:   method,
		Endpoint: cloneEndpoint(entry.endpoint),
		Payload:  payload,
	}
	base := func(ctx context.Context, req InvokeRequest, reply sonarfit.ResultFunc) {
		s.invokeEndpoint(ctx, entry.def, req, reply)
	}
	applyMiddleware(middleware, base)(ctx, req, once.Func())
}

// invokeEndpoint runs the handler below the middleware chain, so duplicate
// replies and recovered panics are settled before middleware observes them.
func (s *Server) invokeEndpoint(ctx context.Context, def EndpointDefinition, req InvokeRequest, reply sonarfit.ResultFunc) {
	once := sonarfit.NewReplyOnce(reply)
	defer func() {
		if p := recover(); p != nil {
			panErr := fmt.Errorf("rpc invoke panic for method %q: %v", req.Method, p)
			event := FailureEvent{
				Stage:  FailureStageInvoke,
				Method: req.Method,
				Err:    panErr,
				Panic:  p,
			}
			switch s.failureMode(event) {
			case FailureModeRecover, FailureModeLogAndContinue:
				s.logFailure(event)
				once.Deliver(sonarfit.Failure(sonarfit.Internal(panErr)))
			default:
				panic(p)
			}
		}
	}()
	def.Invoke(ctx, req.Payload, once.Func())
}

// Call dispatches method and blocks until its reply arrives or ctx is done.
// Giving up does not cancel the invocation; its late reply is dropped.
// The endpoint timeout, when set, bounds the wait.
func (s *Server) Call(ctx context.Context, method string, payload any) (sonarfit.Reply, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if endpoint, ok := s.Endpoint(method); ok && endpoint.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, endpoint.Timeout)
		defer cancel()
	}

	done := make(chan sonarfit.Reply, 1)
	s.Dispatch(ctx, method, payload, func(reply sonarfit.Reply) {
		done <- reply
	})

	select {
	case reply := <-done:
		return reply, nil
	case <-ctx.Done():
		return sonarfit.Reply{}, ctx.Err()
	}
}

// Endpoint returns endpoint metadata for the method.
func (s *Server) Endpoint(method string) (Endpoint, bool) {
	if s == nil {
		return Endpoint{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.endpoints[method]
	if !ok {
		return Endpoint{}, false
	}
	return cloneEndpoint(entry.endpoint), true
}

// Endpoints returns all endpoint metadata sorted by method.
func (s *Server) Endpoints() []Endpoint {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Endpoint, 0, len(s.endpoints))
	for _, entry := range s.endpoints {
		out = append(out, cloneEndpoint(entry.endpoint))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Method < out[j].Method
	})
	return out
}

func cloneMiddleware(values []Middleware) []Middleware {
	if len(values) == 0 {
		return nil
	}
	out := make([]Middleware, len(values))
	copy(out, values)
	return out
}

func cloneEndpoint(endpoint Endpoint) Endpoint {
	endpoint.Params = cloneParams(endpoint.Params)
	endpoint.Tags = cloneStrings(endpoint.Tags)
	return endpoint
}

func (s *Server) handleRegisterFailure(method string, err error) error {
	event := FailureEvent{
		Stage:  FailureStageRegister,
		Method: method,
		Err:    err,
	}
	switch s.failureMode(event) {
	case FailureModeLogAndContinue:
		s.logFailure(event)
		return nil
	default:
		return err
	}
}

func (s *Server) failureMode(event FailureEvent) FailureMode {
	if s == nil || s.failureStrategy == nil {
		return FailureModeReject
	}
	return s.failureStrategy(event)
}

func (s *Server) logFailure(event FailureEvent) {
	if s == nil {
		return
	}
	if s.failureLogger != nil {
		s.failureLogger(event)
		return
	}
	logging.OrNop(s.logger).Error("rpc failure",
		"stage", event.Stage,
		"method", event.Method,
		"error", event.Err,
	)
}

func (s *Server) registerEndpointEntry(method string, entry endpointEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.endpoints[method]; exists {
		return fmt.Errorf("rpc method %q already registered", method)
	}
	s.endpoints[method] = entry
	return nil
}
