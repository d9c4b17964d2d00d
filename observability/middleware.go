package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sonarfit "github.com/goliatone/go-sonarfit"
	"github.com/goliatone/go-sonarfit/logging"
	"github.com/goliatone/go-sonarfit/rpc"
)

const tracerName = "github.com/goliatone/go-sonarfit/rpc"

// MetricsMiddleware tracks inflight invocations, outcomes and latency.
func MetricsMiddleware(m *Metrics) rpc.Middleware {
	return func(next rpc.InvokeHandler) rpc.InvokeHandler {
		return func(ctx context.Context, req rpc.InvokeRequest, reply sonarfit.ResultFunc) {
			start := time.Now()
			m.InvocationStarted()
			next(ctx, req, func(r sonarfit.Reply) {
				m.InvocationFinished()
				m.RecordInvocation(req.Method, r, time.Since(start))
				reply(r)
			})
		}
	}
}

// LoggingMiddleware logs dispatch and reply of every invocation.
func LoggingMiddleware(logger logging.Logger) rpc.Middleware {
	logger = logging.OrNop(logger)
	return func(next rpc.InvokeHandler) rpc.InvokeHandler {
		return func(ctx context.Context, req rpc.InvokeRequest, reply sonarfit.ResultFunc) {
			start := time.Now()
			logger.Debug("invocation_started", "method", req.Method)
			next(ctx, req, func(r sonarfit.Reply) {
				duration := time.Since(start)
				if r.IsError() {
					logger.Warn("invocation_failed",
						"method", req.Method,
						"duration_ms", duration.Milliseconds(),
						"code", r.Code(),
						"error", sonarfit.MessageOf(r.Err),
					)
				} else {
					logger.Debug("invocation_completed",
						"method", req.Method,
						"duration_ms", duration.Milliseconds(),
						"outcome", OutcomeLabel(r),
					)
				}
				reply(r)
			})
		}
	}
}

// TracingMiddleware opens one span per invocation, ended when the reply is
// delivered.
func TracingMiddleware() rpc.Middleware {
	tracer := otel.Tracer(tracerName)
	return func(next rpc.InvokeHandler) rpc.InvokeHandler {
		return func(ctx context.Context, req rpc.InvokeRequest, reply sonarfit.ResultFunc) {
			ctx, span := tracer.Start(ctx, "sonarfit."+req.Method,
				trace.WithAttributes(
					attribute.String("sonarfit.method", req.Method),
					attribute.String("sonarfit.handler_kind", req.Endpoint.HandlerKind),
				),
			)
			next(ctx, req, func(r sonarfit.Reply) {
				span.SetAttributes(attribute.String("sonarfit.outcome", OutcomeLabel(r)))
				if r.IsError() {
					span.RecordError(r.Err)
					span.SetStatus(codes.Error, r.Code())
				} else {
					span.SetStatus(codes.Ok, "success")
				}
				span.End()
				reply(r)
			})
		}
	}
}
