package rpc

import (
	"context"

	sonarfit "github.com/goliatone/go-sonarfit"
)

// InvokeRequest carries method metadata and payload through middleware.
type InvokeRequest struct {
	Method   string
	Endpoint Endpoint
	Payload  any
}

// InvokeHandler executes one invoke step in a middleware chain. It must
// eventually call reply.
type InvokeHandler func(ctx context.Context, req InvokeRequest, reply sonarfit.ResultFunc)

// Middleware wraps invoke execution with cross-cutting behavior.
type Middleware func(next InvokeHandler) InvokeHandler

func applyMiddleware(middleware []Middleware, handler InvokeHandler) InvokeHandler {
	for i := len(middleware) - 1; i >= 0; i-- {
		current := middleware[i]
		if current == nil {
			continue
		}
		handler = current(handler)
	}
	return handler
}
