package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sonarfit "github.com/goliatone/go-sonarfit"
	"github.com/goliatone/go-sonarfit/logging"
	"github.com/goliatone/go-sonarfit/rpc"
)

func newTestServer(t *testing.T, m *Metrics) *rpc.Server {
	t.Helper()
	s := rpc.NewServer(rpc.WithMiddleware(
		MetricsMiddleware(m),
		LoggingMiddleware(logging.Nop()),
		TracingMiddleware(),
	))
	require.NoError(t, s.RegisterEndpoints(
		rpc.NewEndpoint(rpc.EndpointSpec{Method: "ok"}, func(_ context.Context, _ any, reply sonarfit.ResultFunc) {
			reply(sonarfit.Success("done"))
			reply(sonarfit.Success("again"))
		}),
		rpc.NewEndpoint(rpc.EndpointSpec{Method: "cancel"}, func(_ context.Context, _ any, reply sonarfit.ResultFunc) {
			reply(sonarfit.Failure(sonarfit.Cancelled()))
		}),
		rpc.NewEndpoint(rpc.EndpointSpec{Method: "pending"}, func(context.Context, any, sonarfit.ResultFunc) {}),
	))
	return s
}

func TestMetricsMiddlewareRecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	s := newTestServer(t, m)

	_, err := s.Call(context.Background(), "ok", nil)
	require.NoError(t, err)
	_, err = s.Call(context.Background(), "cancel", nil)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.invocationsTotal.WithLabelValues("ok", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invocationsTotal.WithLabelValues("cancel", sonarfit.CodeCancelled)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inflight))
	assert.Equal(t, 2, testutil.CollectAndCount(m.invocationDuration))
}

func TestMetricsMiddlewareTracksInflight(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	s := newTestServer(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := s.Call(ctx, "pending", nil)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.inflight))
}

func TestLateCallbackCounter(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.LateCallback(sonarfit.CallbackCompletion)
	m.LateCallback(sonarfit.CallbackCompletion)
	m.LateCallback(sonarfit.CallbackDismissRequest)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.lateCallbacks.WithLabelValues("completion")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lateCallbacks.WithLabelValues("dismiss_request")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.InvocationStarted()
	m.InvocationFinished()
	m.LateCallback(sonarfit.CallbackCompletion)
	m.RecordInvocation("x", sonarfit.Success(nil), time.Second)
}

func TestOutcomeLabel(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, OutcomeLabel(sonarfit.Success(nil)))
	assert.Equal(t, OutcomeNotImplemented, OutcomeLabel(sonarfit.NotImplementedReply()))
	assert.Equal(t, sonarfit.CodePermission, OutcomeLabel(sonarfit.Failure(sonarfit.PermissionDenied(nil))))
}

func TestInitTracerWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "sonarfit-bridge", "test", "")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
