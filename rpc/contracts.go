package rpc

import (
	"context"
	"slices"
	"time"

	sonarfit "github.com/goliatone/go-sonarfit"
)

// Error is a transport-friendly error envelope.
type Error struct {
	Code      string         `json:"code" cbor:"code"`
	Message   string         `json:"message" cbor:"message"`
	Category  string         `json:"category,omitempty" cbor:"category,omitempty"`
	Retryable bool           `json:"retryable,omitempty" cbor:"retryable,omitempty"`
	Details   map[string]any `json:"details,omitempty" cbor:"details,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

// ResponseEnvelope is the canonical reply shape for transport adapters.
type ResponseEnvelope struct {
	Data           any    `json:"data,omitempty" cbor:"data,omitempty"`
	Error          *Error `json:"error,omitempty" cbor:"error,omitempty"`
	NotImplemented bool   `json:"notImplemented,omitempty" cbor:"notImplemented,omitempty"`
}

// NewResponseEnvelope converts a reply into its transport shape.
func NewResponseEnvelope(reply sonarfit.Reply) ResponseEnvelope {
	switch {
	case reply.NotImplemented:
		return ResponseEnvelope{NotImplemented: true}
	case reply.Err != nil:
		return ResponseEnvelope{Error: ErrorEnvelope(reply.Err)}
	default:
		return ResponseEnvelope{Data: reply.Value}
	}
}

// MethodKind describes endpoint invocation shape.
type MethodKind string

const (
	MethodKindCommand MethodKind = HandlerKindExecute
	MethodKindQuery   MethodKind = HandlerKindQuery
)

// Param documents one payload key accepted by a method.
type Param struct {
	Name     string   `json:"name" cbor:"name"`
	Type     string   `json:"type" cbor:"type"`
	Required bool     `json:"required,omitempty" cbor:"required,omitempty"`
	Default  any      `json:"default,omitempty" cbor:"default,omitempty"`
	Enum     []string `json:"enum,omitempty" cbor:"enum,omitempty"`
}

// EndpointSpec declares endpoint metadata independent from the handler.
type EndpointSpec struct {
	Method      string
	Kind        MethodKind
	Timeout     time.Duration
	Idempotent  bool
	Params      []Param
	Summary     string
	Description string
	Tags        []string
	Deprecated  bool
	Since       string
}

// Handler answers one invocation by calling reply. reply may be called later
// and from any goroutine; extra calls are dropped by the server.
type Handler func(ctx context.Context, payload any, reply sonarfit.ResultFunc)

// EndpointDefinition is the endpoint contract registered in the server.
type EndpointDefinition interface {
	Spec() EndpointSpec
	Invoke(ctx context.Context, payload any, reply sonarfit.ResultFunc)
}

// EndpointsProvider exposes one or more endpoint definitions.
type EndpointsProvider interface {
	RPCEndpoints() []EndpointDefinition
}

type endpointDefinition struct {
	spec    EndpointSpec
	handler Handler
}

func (d *endpointDefinition) Spec() EndpointSpec {
	if d == nil {
		return EndpointSpec{}
	}
	spec := d.spec
	spec.Params = cloneParams(spec.Params)
	spec.Tags = cloneStrings(spec.Tags)
	return spec
}

func (d *endpointDefinition) Invoke(ctx context.Context, payload any, reply sonarfit.ResultFunc) {
	if d == nil || d.handler == nil {
		reply(sonarfit.Failure(sonarfit.Internal(errEndpointNotConfigured)))
		return
	}
	d.handler(ctx, payload, reply)
}

// NewEndpoint builds an endpoint definition from a spec and handler.
func NewEndpoint(spec EndpointSpec, handler Handler) EndpointDefinition {
	return &endpointDefinition{spec: spec, handler: handler}
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	return slices.Clone(values)
}

func cloneParams(values []Param) []Param {
	if len(values) == 0 {
		return nil
	}
	out := make([]Param, len(values))
	for i, p := range values {
		p.Enum = cloneStrings(p.Enum)
		out[i] = p
	}
	return out
}
