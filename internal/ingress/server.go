// Package ingress exposes the engine's external inputs over HTTP: plan
// starts, delegate task results, operator interventions, plan aborts and
// redelivered advise events. Operators can also read the retry lineage of an
// attempt.
package ingress

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/orchestra/internal/ir"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Engine is the subset of the engine the ingress drives.
type Engine interface {
	Start(ctx context.Context, plan ir.Plan) (ir.PlanExecution, error)
	NotifyTask(ctx context.Context, taskID string, resp ir.StepResponse) (bool, error)
	NotifyTaskError(ctx context.Context, taskID, message string) (bool, error)
	Abort(ctx context.Context, planExecutionID string) error
	Intervene(ctx context.Context, nodeExecutionID string, action ir.RepairActionCode, nextNodeID string) error
	SubmitAdviseEvent(ctx context.Context, ev ir.AdviseEvent)
	Lineage(ctx context.Context, nodeExecutionID string) ([]ir.NodeExecution, error)
}

// Server routes ingress requests to an Engine.
type Server struct {
	router chi.Router
	engine Engine
}

// NewServer creates a Server with all routes configured.
func NewServer(e Engine) *Server {
	s := &Server{engine: e}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/notify/{correlationId}", s.handleNotify)
		r.Post("/plan-executions", s.handleStart)
		r.Post("/plan-executions/{id}/abort", s.handleAbort)
		r.Get("/node-executions/{id}/lineage", s.handleLineage)
		r.Post("/node-executions/{id}/intervene", s.handleIntervene)
		r.Post("/advise-events", s.handleAdviseEvent)
	})

	s.router = r
	return s
}

// ServeHTTP implements the http.Handler interface, delegating to the chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs one line per request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
