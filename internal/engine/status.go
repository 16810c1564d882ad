package engine

import (
	"time"

	"yield-rebalance-agent/internal/registry"
)

// Status is a point-in-time view of the engine.
type Status struct {
	ActiveStrategy       string            `json:"active_strategy"`
	LastRebalanceTime    time.Time         `json:"last_rebalance_time"`
	CooldownSeconds      int64             `json:"cooldown_seconds"`
	CooldownRemaining    string            `json:"cooldown_remaining"`
	MinImprovementBps    int64             `json:"min_improvement_bps"`
	RegisteredStrategies int               `json:"registered_strategies"`
	Strategies           []registry.Record `json:"strategies"`
	Cycles               uint64            `json:"cycles"`
	ConsecutiveFailures  int               `json:"consecutive_failures"`
	LastCycleAt          *time.Time        `json:"last_cycle_at,omitempty"`
	LastError            string            `json:"last_error,omitempty"`
	LastOutcome          *Outcome          `json:"last_outcome,omitempty"`
	StartedAt            time.Time         `json:"started_at"`
	Uptime               string            `json:"uptime"`
}

// Status reports the current state. It is safe to call while a cycle runs.
func (e *Engine) Status() Status {
	now := e.now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	remaining := e.state.Cooldown - now.Sub(e.state.LastRebalanceTime)
	if remaining < 0 || e.state.ActiveStrategy == "" {
		remaining = 0
	}

	s := Status{
		ActiveStrategy:       e.state.ActiveStrategy,
		LastRebalanceTime:    e.state.LastRebalanceTime,
		CooldownSeconds:      int64(e.state.Cooldown / time.Second),
		CooldownRemaining:    remaining.Round(time.Second).String(),
		MinImprovementBps:    e.state.MinImprovementBps,
		RegisteredStrategies: e.registry.Len(),
		Strategies:           e.registry.Registered(),
		Cycles:               e.cycles,
		ConsecutiveFailures:  e.consecutiveFailures,
		LastError:            e.lastError,
		StartedAt:            e.startedAt,
		Uptime:               now.Sub(e.startedAt).Round(time.Second).String(),
	}
	if !e.lastCycleAt.IsZero() {
		at := e.lastCycleAt
		s.LastCycleAt = &at
	}
	if e.lastOutcome != nil {
		out := *e.lastOutcome
		s.LastOutcome = &out
	}
	return s
}
