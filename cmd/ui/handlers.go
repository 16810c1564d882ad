package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"yield-rebalance-agent/internal/events"
	"yield-rebalance-agent/internal/registry"
	"yield-rebalance-agent/internal/scoring"
	"yield-rebalance-agent/internal/store"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log   *zap.Logger
	store *store.Store
	now   func() time.Time
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, s *store.Store) *APIHandler {
	return &APIHandler{log: log, store: s, now: time.Now}
}

// StrategyView is a persisted strategy as shown on the dashboard.
type StrategyView struct {
	ID                   string `json:"id"`
	Registered           bool   `json:"registered"`
	Active               bool   `json:"active"`
	APY                  string `json:"apy"`
	TVL                  string `json:"tvl"`
	RiskLevel            uint64 `json:"risk_level"`
	Healthy              bool   `json:"healthy"`
	Score                int64  `json:"score"`
	Confidence           int    `json:"confidence"`
	SuccessfulRebalances uint64 `json:"successful_rebalances"`
}

// StatusResponse is the structure for the /api/status endpoint.
type StatusResponse struct {
	ActiveStrategy    string         `json:"active_strategy"`
	LastRebalanceTime *time.Time     `json:"last_rebalance_time,omitempty"`
	CooldownSeconds   int64          `json:"cooldown_seconds"`
	MinImprovementBps int64          `json:"min_improvement_bps"`
	Strategies        []StrategyView `json:"strategies"`
}

// StatusHandler returns the persisted agent state and strategy table.
func (h *APIHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	state, ok, err := h.store.LoadState(r.Context())
	if err != nil {
		h.log.Error("Failed to load agent state", zap.Error(err))
		http.Error(w, "Failed to load status", http.StatusInternalServerError)
		return
	}
	records, err := h.store.LoadStrategies(r.Context())
	if err != nil {
		h.log.Error("Failed to load strategies", zap.Error(err))
		http.Error(w, "Failed to load status", http.StatusInternalServerError)
		return
	}

	resp := StatusResponse{Strategies: make([]StrategyView, 0, len(records))}
	if ok {
		resp.ActiveStrategy = state.ActiveStrategy
		resp.CooldownSeconds = int64(state.Cooldown / time.Second)
		resp.MinImprovementBps = state.MinImprovementBps
		if !state.LastRebalanceTime.IsZero() {
			t := state.LastRebalanceTime
			resp.LastRebalanceTime = &t
		}
	}
	for _, rec := range records {
		resp.Strategies = append(resp.Strategies, strategyView(rec, rec.ID == resp.ActiveStrategy))
	}

	h.writeJSON(w, resp)
}

func strategyView(rec registry.Record, active bool) StrategyView {
	result := scoring.Evaluate(rec.Input())
	return StrategyView{
		ID:                   rec.ID,
		Registered:           rec.Registered,
		Active:               active,
		APY:                  scoring.FormatAPY(rec.Metrics.APY),
		TVL:                  scoring.FormatTVL(rec.Metrics.TVL),
		RiskLevel:            rec.Metrics.RiskLevel,
		Healthy:              rec.Metrics.Healthy,
		Score:                result.Score,
		Confidence:           result.Confidence,
		SuccessfulRebalances: rec.SuccessfulRebalances,
	}
}

// EventsHandler returns the most recent journaled events, optionally filtered by ?type=.
func (h *APIHandler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.ListEvents(r.Context(), events.Type(r.URL.Query().Get("type")), limit(r))
	if err != nil {
		h.log.Error("Failed to get events from database", zap.Error(err))
		http.Error(w, "Failed to get events", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, rows)
}

// ScoresHandler returns recent score snapshots, optionally filtered by ?strategy=.
func (h *APIHandler) ScoresHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.ListSnapshots(r.Context(), r.URL.Query().Get("strategy"), limit(r))
	if err != nil {
		h.log.Error("Failed to get score snapshots from database", zap.Error(err))
		http.Error(w, "Failed to get scores", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, rows)
}

// StatsDetail holds decision counts for a given period.
type StatsDetail struct {
	Evaluations        int64   `json:"evaluations"`
	RebalancesExecuted int64   `json:"rebalances_executed"`
	RebalancesFailed   int64   `json:"rebalances_failed"`
	Rejections         int64   `json:"rejections"`
	SuccessRate        float64 `json:"success_rate"`
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

// StatisticsHandler calculates and returns decision statistics.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	since24h := h.now().Add(-24 * time.Hour)

	stats24h, err := h.stats(r, since24h)
	if err != nil {
		h.log.Error("Failed to calculate 24h statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}
	allTime, err := h.stats(r, time.Time{})
	if err != nil {
		h.log.Error("Failed to calculate all-time statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, StatisticsResponse{Since24h: stats24h, AllTime: allTime})
}

func (h *APIHandler) stats(r *http.Request, since time.Time) (StatsDetail, error) {
	var s StatsDetail
	var err error
	if s.RebalancesExecuted, err = h.store.CountEvents(r.Context(), events.RebalanceExecuted, since); err != nil {
		return s, err
	}
	if s.RebalancesFailed, err = h.store.CountEvents(r.Context(), events.RebalanceFailed, since); err != nil {
		return s, err
	}
	if s.Rejections, err = h.store.CountEvents(r.Context(), events.EvaluationRejected, since); err != nil {
		return s, err
	}
	s.Evaluations = s.RebalancesExecuted + s.RebalancesFailed + s.Rejections
	if attempts := s.RebalancesExecuted + s.RebalancesFailed; attempts > 0 {
		s.SuccessRate = float64(s.RebalancesExecuted) / float64(attempts)
	}
	return s, nil
}

func limit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("Failed to write response", zap.Error(err))
	}
}
