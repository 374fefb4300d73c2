package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderCounters(t *testing.T) {
	p, err := Init(Config{ServiceName: "test"})
	require.NoError(t, err)

	p.RecordMetric("steps", 1, nil)
	p.RecordMetric("steps", 2, nil)
	p.RecordMetric("steps", 1, map[string]string{"status": "failed"})

	counters := p.Counters()
	assert.Equal(t, 3.0, counters["steps"])
	assert.Equal(t, 1.0, counters["steps{status=failed}"])
}

func TestCounterKeyIsLabelOrderIndependent(t *testing.T) {
	a := counterKey("m", map[string]string{"x": "1", "y": "2"})
	b := counterKey("m", map[string]string{"y": "2", "x": "1"})
	assert.Equal(t, a, b)
}

func TestSpanLifecycle(t *testing.T) {
	p, err := Init(Config{ServiceName: "test"})
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "work")
	require.NotNil(t, ctx)
	span.SetAttribute("step", "s1")
	span.SetAttribute("attempts", 2)
	span.RecordError(errors.New("boom"))
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestHTTPMiddlewareCountsRequests(t *testing.T) {
	p, err := Init(Config{ServiceName: "test"})
	require.NoError(t, err)

	handler := HTTPMiddleware(p)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)

	counters := p.Counters()
	assert.Equal(t, 1.0, counters["gateway.requests{method=GET}{status=418}"])
}

func TestHTTPMiddlewareSkipsUpgrades(t *testing.T) {
	p, err := Init(Config{ServiceName: "test"})
	require.NoError(t, err)

	handler := HTTPMiddleware(p)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Upgrade", "websocket")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Empty(t, p.Counters())
}
