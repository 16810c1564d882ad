package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"yield-rebalance-agent/internal/registry"
)

// CallerHeader carries the identity of the caller. Authentication happens in front of the agent.
const CallerHeader = "X-Caller"

// APIServer provides an HTTP interface for the decision engine.
type APIServer struct {
	server *http.Server
	router *mux.Router
	engine *Engine
	logger *zap.Logger
}

// NewAPIServer creates a new APIServer listening on port.
func NewAPIServer(engine *Engine, port int, logger *zap.Logger) *APIServer {
	s := &APIServer{
		router: mux.NewRouter(),
		engine: engine,
		logger: logger.Named("api-server"),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // evaluate waits for the vault move
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *APIServer) setupRoutes() {
	s.router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/recommendation", s.recommendationHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/strategies", s.listStrategiesHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/strategies", s.registerHandler).Methods(http.MethodPost)
	s.router.HandleFunc("/strategies/{id}", s.deregisterHandler).Methods(http.MethodDelete)
	s.router.HandleFunc("/evaluate", s.evaluateHandler).Methods(http.MethodPost)
	s.router.HandleFunc("/config/cooldown", s.cooldownHandler).Methods(http.MethodPut)
	s.router.HandleFunc("/config/min-improvement", s.minImprovementHandler).Methods(http.MethodPut)
	s.router.Use(s.loggingMiddleware)
}

// Handler returns the routed handler.
func (s *APIServer) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()
	status := http.StatusOK
	health := "OK"
	if st.ConsecutiveFailures > 0 {
		health = "DEGRADED"
	}
	s.writeJSON(w, status, map[string]interface{}{
		"status":               health,
		"active_strategy":      st.ActiveStrategy,
		"consecutive_failures": st.ConsecutiveFailures,
		"uptime":               st.Uptime,
	})
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *APIServer) recommendationHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.GetRecommendation(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *APIServer) listStrategiesHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Strategies())
}

type registerRequest struct {
	ID string `json:"id"`
}

func (s *APIServer) registerHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.engine.RegisterStrategy(r.Context(), caller(r), req.ID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID, "status": "registered"})
}

func (s *APIServer) deregisterHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.DeregisterStrategy(r.Context(), caller(r), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deregistered"})
}

func (s *APIServer) evaluateHandler(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.EvaluateAndAct(r.Context(), caller(r))
	if errors.Is(err, ErrVaultCommand) {
		// The outcome still explains what was attempted.
		s.writeJSON(w, http.StatusBadGateway, out)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

type cooldownRequest struct {
	Cooldown string `json:"cooldown"`
}

func (s *APIServer) cooldownHandler(w http.ResponseWriter, r *http.Request) {
	var req cooldownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	d, err := time.ParseDuration(req.Cooldown)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", ErrInvalidCooldown, err))
		return
	}
	if err := s.engine.SetCooldown(r.Context(), caller(r), d); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"cooldown": d.String()})
}

type minImprovementRequest struct {
	MinImprovementBps *int64 `json:"min_improvement_bps"`
}

func (s *APIServer) minImprovementHandler(w http.ResponseWriter, r *http.Request) {
	var req minImprovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if req.MinImprovementBps == nil {
		s.writeError(w, fmt.Errorf("%w: min_improvement_bps is required", ErrInvalidThreshold))
		return
	}
	if err := s.engine.SetMinImprovement(r.Context(), caller(r), *req.MinImprovementBps); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"min_improvement_bps": *req.MinImprovementBps})
}

var errBadRequest = errors.New("malformed request")

func caller(r *http.Request) string {
	return r.Header.Get(CallerHeader)
}

// statusCode maps engine errors onto HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, registry.ErrUnknownStrategy):
		return http.StatusNotFound
	case errors.Is(err, ErrCycleInProgress),
		errors.Is(err, ErrNoStrategies),
		errors.Is(err, registry.ErrDuplicateStrategy),
		errors.Is(err, registry.ErrActiveStrategyProtected):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, registry.ErrInvalidStrategy),
		errors.Is(err, ErrInvalidCooldown),
		errors.Is(err, ErrInvalidThreshold):
		return http.StatusBadRequest
	case errors.Is(err, ErrVaultCommand):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *APIServer) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusCode(err), map[string]string{"error": err.Error()})
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (s *APIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("Handled request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("caller", caller(r)),
			zap.Duration("duration", time.Since(start)))
	})
}
