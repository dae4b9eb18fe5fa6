// Package callback provides the HTTP endpoints through which external
// systems resolve process steps that wait for them.
//
//	GET  /processes/{id}
//	POST /processes/{id}/steps/{stepType}/complete
//	POST /processes/{id}/steps/{stepType}/fail     {"message": "..."}
package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/petrijr/procflow/internal/engine"
	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/pkg/api"
)

// Transitions lists, per process type, the step types a callback may
// resolve and what each schedules.
type Transitions map[api.ProcessTypeID]map[api.StepTypeID]engine.Transition

// Server serves the callback endpoints over a Store.
type Server struct {
	router      chi.Router
	store       persistence.Store
	transitions Transitions
	logger      *slog.Logger
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a callback server.
func NewServer(store persistence.Store, transitions Transitions, opts ...ServerOption) *Server {
	s := &Server{
		store:       store,
		transitions: transitions,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.loggingMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/processes/{processID}", func(r chi.Router) {
		r.Get("/", s.handleGetProcess)
		r.Post("/steps/{stepTypeID}/complete", s.handleComplete)
		r.Post("/steps/{stepTypeID}/fail", s.handleFail)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	processID, ok := parseProcessID(w, r)
	if !ok {
		return
	}

	details, err := s.details(r.Context(), processID)
	if err != nil {
		s.respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, details)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.resolve(w, r, func(m *engine.ManualContext, t engine.Transition) {
		engine.Finalize(m, t.OnComplete)
	})
}

type failRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	s.resolve(w, r, func(m *engine.ManualContext, t engine.Transition) {
		engine.Fail(m, req.Message, t.OnFail)
	})
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request, apply func(*engine.ManualContext, engine.Transition)) {
	processID, ok := parseProcessID(w, r)
	if !ok {
		return
	}
	stepTypeID := api.StepTypeID(chi.URLParam(r, "stepTypeID"))
	ctx := r.Context()

	repo := persistence.NewRepository(s.store)
	m, err := engine.VerifyProcessSteps(ctx, repo, processID, stepTypeID, nil, nil)
	if err != nil {
		s.respondFault(w, err)
		return
	}

	t, ok := s.transitions[m.Process().ProcessTypeID][stepTypeID]
	if !ok {
		respondError(w, http.StatusNotFound,
			fmt.Sprintf("step %s of %s is not resolved by callback", stepTypeID, m.Process().ProcessTypeID))
		return
	}

	apply(m, t)
	if err := repo.SaveChanges(ctx); err != nil {
		s.respondFault(w, err)
		return
	}

	s.logger.Info("process step resolved by callback",
		"process_id", processID.String(),
		"step_type", string(stepTypeID),
		"path", r.URL.Path,
	)

	details, err := s.details(ctx, processID)
	if err != nil {
		s.respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, details)
}

func (s *Server) details(ctx context.Context, processID uuid.UUID) (*api.ProcessDetails, error) {
	p, err := s.store.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	steps, err := s.store.GetProcessSteps(ctx, processID)
	if err != nil {
		return nil, err
	}
	return &api.ProcessDetails{Process: *p, Steps: steps}, nil
}

func (s *Server) respondFault(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, persistence.ErrProcessNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrStepNotEligible), errors.Is(err, persistence.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("callback failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseProcessID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "processID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid process id")
		return uuid.Nil, false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// ListenAndServe serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting callback server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
