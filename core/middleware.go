package core

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// RequestIDMiddleware assigns each request a correlation ID, honoring an
// inbound X-Request-ID so clients can trace across hops. The ID rides the
// context and is echoed on the response.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.New().String()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(ContextWithRequestID(r.Context(), id)))
		})
	}
}

// LoggingMiddleware logs HTTP requests with structured logging. In
// development mode it logs every request; in production only non-2xx
// responses and requests slower than a second.
func LoggingMiddleware(logger Logger, devMode bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			shouldLog := devMode || wrapped.statusCode >= 400 || duration > time.Second
			if !shouldLog || logger == nil {
				return
			}

			logData := map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.statusCode,
				"duration_ms": duration.Milliseconds(),
				"remote_addr": r.RemoteAddr,
			}
			if r.URL.RawQuery != "" {
				logData["query"] = r.URL.RawQuery
			}

			switch {
			case wrapped.statusCode >= 500:
				logger.ErrorWithContext(r.Context(), "HTTP request error", logData)
			case wrapped.statusCode >= 400:
				logger.WarnWithContext(r.Context(), "HTTP request client error", logData)
			case duration > time.Second:
				logger.WarnWithContext(r.Context(), "HTTP request slow", logData)
			default:
				logger.InfoWithContext(r.Context(), "HTTP request", logData)
			}
		})
	}
}

// RecoveryMiddleware converts handler panics into 500 responses instead of
// tearing down the server.
func RecoveryMiddleware(logger Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if logger != nil {
						logger.ErrorWithContext(r.Context(), "HTTP handler panic", map[string]interface{}{
							"panic": rec,
							"path":  r.URL.Path,
							"stack": string(debug.Stack()),
						})
					}
					http.Error(w, `{"success":false,"error":{"code":"INTERNAL_ERROR","message":"internal error"}}`, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
