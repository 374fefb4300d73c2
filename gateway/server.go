// Package gateway is the platform's REST and WebSocket surface. It accepts
// raw intents, exposes execution records and hub discovery, and fans bus
// events out to connected WebSocket clients. The gateway owns no business
// logic; it translates HTTP into calls on the router, planner, monitor,
// executor, and store.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/operandhq/operand/aurora"
	"github.com/operandhq/operand/core"
	"github.com/operandhq/operand/executor"
	"github.com/operandhq/operand/hub"
	"github.com/operandhq/operand/planner"
	"github.com/operandhq/operand/router"
	"github.com/operandhq/operand/session"
	"github.com/operandhq/operand/telemetry"
)

// Server wires the platform components behind HTTP.
type Server struct {
	cfg      *core.Config
	logger   core.Logger
	bus      *core.EventBus
	registry *core.SkillRegistry
	router   *router.Router
	planner  *planner.Planner
	monitor  *aurora.Monitor
	exec     *executor.Executor
	store    *session.Store
	hubs     *hub.Runtime
	tel      core.Telemetry

	httpServer *http.Server
	started    time.Time
}

// New builds the server. All dependencies are required except hubs, which
// may be nil when no hub runtime is configured.
func New(cfg *core.Config, logger core.Logger, bus *core.EventBus, registry *core.SkillRegistry,
	rt *router.Router, pl *planner.Planner, monitor *aurora.Monitor, exec *executor.Executor,
	store *session.Store, hubs *hub.Runtime) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   core.ScopedLogger(logger, "gateway"),
		bus:      bus,
		registry: registry,
		router:   rt,
		planner:  pl,
		monitor:  monitor,
		exec:     exec,
		store:    store,
		hubs:     hubs,
		tel:      &core.NoOpTelemetry{},
		started:  time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		MaxHeaderBytes:    cfg.HTTP.MaxHeaderBytes,
	}
	return s
}

// Handler builds the routed, middleware-wrapped handler. Exposed so tests
// can drive the gateway through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("POST /api/v1/intent", s.handleIntent)
	mux.HandleFunc("GET /api/v1/executions", s.handleListExecutions)
	mux.HandleFunc("GET /api/v1/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("POST /api/v1/executions/{id}/cancel", s.handleCancelExecution)
	mux.HandleFunc("POST /api/v1/executions/{id}/resume", s.handleResumeExecution)
	mux.HandleFunc("GET /api/v1/hubs", s.handleListHubs)
	mux.HandleFunc("GET /api/v1/hubs/{id}", s.handleGetHub)
	mux.HandleFunc("GET /api/v1/hubs/{id}/workflows", s.handleHubWorkflows)
	mux.HandleFunc("POST /api/v1/hubs/{id}/execute", s.handleHubExecute)
	mux.HandleFunc("/ws", s.handleWebSocket)

	var h http.Handler = mux
	h = s.timingMiddleware(h)
	h = core.CORSMiddleware(&s.cfg.HTTP.CORS)(h)
	h = telemetry.HTTPMiddleware(s.tel)(h)
	h = core.LoggingMiddleware(s.logger, s.cfg.Development)(h)
	h = core.RequestIDMiddleware()(h)
	h = core.RecoveryMiddleware(s.logger)(h)
	return h
}

// UseTelemetry installs a telemetry provider. Call before Start.
func (s *Server) UseTelemetry(t core.Telemetry) {
	if t == nil {
		return
	}
	s.tel = t
	s.httpServer.Handler = s.Handler()
}

// Start listens until the context is cancelled, then drains in-flight
// requests.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return &core.Error{Op: "gateway.Start", Kind: core.KindInternal, Err: err}
	}
	s.logger.Info("Gateway listening", map[string]interface{}{
		"addr":    ln.Addr().String(),
		"version": s.cfg.Version,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// startTimeKey carries the request arrival time so the response envelope
// can report duration.
type startTimeKey struct{}

func (s *Server) timingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), startTimeKey{}, time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// apiError is the wire shape of a failure.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type responseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// envelope is the uniform response wrapper.
type envelope struct {
	Success bool         `json:"success"`
	Data    interface{}  `json:"data,omitempty"`
	Error   *apiError    `json:"error,omitempty"`
	Meta    responseMeta `json:"meta"`
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	s.write(w, r, status, envelope{Success: true, Data: data})
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := core.KindOf(err)
	s.write(w, r, kind.HTTPStatus(), envelope{
		Success: false,
		Error:   &apiError{Code: kind.APICode(), Message: err.Error()},
	})
}

// respondFailure carries data alongside an error, used when a created
// execution ends blocked or failed and the client still needs the record.
func (s *Server) respondFailure(w http.ResponseWriter, r *http.Request, status int, data interface{}, code, message string) {
	s.write(w, r, status, envelope{
		Success: false,
		Data:    data,
		Error:   &apiError{Code: code, Message: message},
	})
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, status int, env envelope) {
	env.Meta.Timestamp = time.Now().UTC()
	env.Meta.RequestID = core.RequestIDFromContext(r.Context())
	if start, ok := r.Context().Value(startTimeKey{}).(time.Time); ok {
		env.Meta.DurationMS = time.Since(start).Milliseconds()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.logger.Warn("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return &core.Error{Op: "gateway.decode", Kind: core.KindValidation, Message: "malformed JSON body", Err: err}
	}
	return nil
}
