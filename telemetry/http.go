package telemetry

import (
	"net/http"
	"strconv"

	"github.com/operandhq/operand/core"
)

// statusRecorder captures the status code for span attributes.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// HTTPMiddleware opens a span per request and counts requests by method
// and status. WebSocket upgrades are skipped; their connections outlive
// any sensible span.
func HTTPMiddleware(t core.Telemetry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if t == nil || r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			ctx, span := t.StartSpan(r.Context(), "http "+r.Method+" "+r.URL.Path)
			defer span.End()
			span.SetAttribute("http.method", r.Method)
			span.SetAttribute("http.path", r.URL.Path)

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r.WithContext(ctx))

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			span.SetAttribute("http.status_code", rec.status)
			t.RecordMetric("gateway.requests", 1, map[string]string{
				"method": r.Method,
				"status": strconv.Itoa(rec.status),
			})
		})
	}
}
