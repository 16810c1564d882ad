package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"yield-rebalance-agent/internal/gate"
	"yield-rebalance-agent/internal/registry"
	"yield-rebalance-agent/internal/scoring"
	"yield-rebalance-agent/internal/store"
	"yield-rebalance-agent/internal/strategy"
)

const (
	exclusionMetricsUnavailable = "metrics_unavailable"
	exclusionUnhealthy          = "unhealthy"
)

// CandidateView is a scored strategy as reported to callers.
type CandidateView struct {
	ID         string `json:"id"`
	Score      int64  `json:"score"`
	Confidence int    `json:"confidence"`
	APYBps     uint64 `json:"apy_bps"`
	APY        string `json:"apy"`
	TVL        string `json:"tvl"`
	RiskLevel  uint64 `json:"risk_level"`
}

// Exclusion names a registered strategy left out of the ranking and why.
type Exclusion struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// Recommendation is the outcome of scoring every registered strategy once. It is recomputed
// from scratch on every call.
type Recommendation struct {
	CandidateID    string          `json:"candidate_id,omitempty"`
	Score          int64           `json:"score"`
	Confidence     int             `json:"confidence"`
	Rationale      string          `json:"rationale"`
	ActiveStrategy string          `json:"active_strategy,omitempty"`
	ActiveScore    int64           `json:"active_score"`
	ImprovementBps *int64          `json:"improvement_bps,omitempty"`
	WouldAct       bool            `json:"would_act"`
	Reason         gate.Reason     `json:"reason"`
	Gates          []gate.Result   `json:"gates"`
	Ranked         []CandidateView `json:"ranked"`
	Excluded       []Exclusion     `json:"excluded,omitempty"`
}

// GetRecommendation scores every registered strategy against fresh metrics and reports what
// a cycle would do right now. It never changes engine state and needs no role.
func (e *Engine) GetRecommendation(ctx context.Context) (Recommendation, error) {
	targets, st := e.snapshot()
	if len(targets) == 0 {
		return Recommendation{}, ErrNoStrategies
	}

	obs := e.observe(ctx, targets)

	scratch := registry.New()
	for _, t := range targets {
		scratch.Restore(t.rec, t.src)
	}
	rec, _ := assess(e.gates, scratch, obs, st, e.now())
	return rec, nil
}

type target struct {
	rec registry.Record
	src strategy.Source
}

type observation struct {
	id      string
	metrics strategy.Metrics
	err     error
}

// snapshot copies the registered strategies and the agent state under one read lock.
func (e *Engine) snapshot() ([]target, store.State) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	records := e.registry.Registered()
	targets := make([]target, 0, len(records))
	for _, rec := range records {
		src, err := e.registry.Source(rec.ID)
		if err != nil {
			continue
		}
		targets = append(targets, target{rec: rec, src: src})
	}
	return targets, e.state
}

// observe fetches metrics for every target with bounded parallelism. Failures are kept per
// target and never abort the others.
func (e *Engine) observe(ctx context.Context, targets []target) []observation {
	obs := make([]observation, len(targets))

	var g errgroup.Group
	g.SetLimit(e.opts.RefreshConcurrency)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			m, err := strategy.Fetch(ctx, t.src, e.opts.MetricsTimeout)
			obs[i] = observation{id: t.rec.ID, metrics: m, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return obs
}

// assess applies obs to reg, ranks the candidates and runs the gates. The returned candidate
// is the best healthy one, or nil.
func assess(gates gate.Chain, reg *registry.Registry, obs []observation, st store.State, now time.Time) (Recommendation, *scoring.Candidate) {
	var excluded []Exclusion
	for _, o := range obs {
		if o.err != nil {
			_ = reg.MarkFailed(o.id, o.err)
			excluded = append(excluded, Exclusion{ID: o.id, Reason: exclusionMetricsUnavailable, Detail: o.err.Error()})
			continue
		}
		_ = reg.Apply(o.id, o.metrics, now)
	}

	candidates := reg.Candidates()
	for _, c := range candidates {
		if !c.Healthy {
			excluded = append(excluded, Exclusion{ID: c.ID, Reason: exclusionUnhealthy})
		}
	}
	sort.Slice(excluded, func(i, j int) bool { return excluded[i].ID < excluded[j].ID })

	var activeScore int64
	if active, ok := reg.Get(st.ActiveStrategy); ok && active.HasMetrics {
		activeScore = scoring.Score(active.Input())
	}

	ranked := scoring.Rank(candidates)
	var best *scoring.Candidate
	if len(ranked) > 0 {
		best = &ranked[0]
	}

	d := gates.Evaluate(gate.Input{
		Best:              best,
		ActiveID:          st.ActiveStrategy,
		ActiveScore:       activeScore,
		Now:               now,
		LastRebalance:     st.LastRebalanceTime,
		Cooldown:          st.Cooldown,
		MinImprovementBps: st.MinImprovementBps,
	})

	rec := Recommendation{
		ActiveStrategy: st.ActiveStrategy,
		ActiveScore:    activeScore,
		ImprovementBps: d.ImprovementBps,
		WouldAct:       d.Act,
		Reason:         d.Reason,
		Gates:          d.Trail,
		Ranked:         make([]CandidateView, 0, len(ranked)),
		Excluded:       excluded,
	}
	for _, c := range ranked {
		rec.Ranked = append(rec.Ranked, CandidateView{
			ID:         c.ID,
			Score:      c.Score,
			Confidence: c.Confidence,
			APYBps:     c.APY,
			APY:        scoring.FormatAPY(c.APY),
			TVL:        scoring.FormatTVL(c.TVL),
			RiskLevel:  c.RiskLevel,
		})
	}
	if best != nil {
		rec.CandidateID = best.ID
		rec.Score = best.Score
		rec.Confidence = best.Confidence
	}
	rec.Rationale = rationale(best, d, st)
	return rec, best
}

func rationale(best *scoring.Candidate, d gate.Decision, st store.State) string {
	if best == nil {
		return "no healthy strategy available"
	}
	lead := fmt.Sprintf("%s scores %d at %s APY (confidence %d)", best.ID, best.Score, scoring.FormatAPY(best.APY), best.Confidence)
	switch d.Reason {
	case gate.ReasonAccepted:
		return fmt.Sprintf("%s; improvement %d bps over %s clears %d bps and cooldown has elapsed",
			lead, *d.ImprovementBps, st.ActiveStrategy, st.MinImprovementBps)
	default:
		return lead + "; " + d.Detail
	}
}
