// Package registry keeps the table of strategies the engine may allocate to, with their last
// observed metrics and historical counters.
//
// A Registry is not safe for concurrent use; the engine serializes access to it.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"

	"yield-rebalance-agent/internal/scoring"
	"yield-rebalance-agent/internal/strategy"
)

var (
	ErrDuplicateStrategy       = errors.New("strategy already registered")
	ErrInvalidStrategy         = errors.New("invalid strategy")
	ErrUnknownStrategy         = errors.New("strategy not registered")
	ErrActiveStrategyProtected = errors.New("active strategy cannot be deregistered")
)

// Record is the bookkeeping kept for one strategy.
type Record struct {
	ID                   string           `json:"id"`
	Registered           bool             `json:"registered"`
	Metrics              strategy.Metrics `json:"metrics"`
	HasMetrics           bool             `json:"has_metrics"`
	Stale                bool             `json:"stale"` // last refresh failed; Metrics is the previous snapshot
	LastError            string           `json:"last_error,omitempty"`
	LastRefreshedAt      time.Time        `json:"last_refreshed_at"`
	SuccessfulRebalances uint64           `json:"successful_rebalances"`

	source strategy.Source
}

// Input returns the scoring input built from the record's last snapshot.
func (r Record) Input() scoring.Input {
	tvl := r.Metrics.TVL
	if tvl.IsNil() {
		tvl = sdkmath.ZeroInt()
	}
	return scoring.Input{
		APY:                  r.Metrics.APY,
		TVL:                  tvl,
		RiskLevel:            r.Metrics.RiskLevel,
		SuccessfulRebalances: r.SuccessfulRebalances,
	}
}

// Registry maps strategy identifiers to records.
type Registry struct {
	records map[string]*Record
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Register adds id backed by src. A previously deregistered id becomes registered again and
// keeps its counters.
func (r *Registry) Register(id string, src strategy.Source) error {
	if err := strategy.ValidateID(id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStrategy, err)
	}
	if src == nil {
		return fmt.Errorf("%w: %q has no metrics source", ErrInvalidStrategy, id)
	}

	rec, ok := r.records[id]
	if ok && rec.Registered {
		return fmt.Errorf("%w: %q", ErrDuplicateStrategy, id)
	}
	if !ok {
		rec = &Record{ID: id}
		r.records[id] = rec
	}
	rec.Registered = true
	rec.source = src
	return nil
}

// Deregister marks id as no longer registered. activeID is the strategy the vault currently
// uses; it can never be removed.
func (r *Registry) Deregister(id, activeID string) error {
	rec, ok := r.records[id]
	if !ok || !rec.Registered {
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, id)
	}
	if id == activeID {
		return fmt.Errorf("%w: %q", ErrActiveStrategyProtected, id)
	}
	rec.Registered = false
	rec.source = nil
	return nil
}

// Source returns the metrics source of a registered strategy.
func (r *Registry) Source(id string) (strategy.Source, error) {
	rec, ok := r.records[id]
	if !ok || !rec.Registered {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, id)
	}
	return rec.source, nil
}

// Apply stores a successful observation of id.
func (r *Registry) Apply(id string, m strategy.Metrics, now time.Time) error {
	rec, ok := r.records[id]
	if !ok || !rec.Registered {
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, id)
	}
	rec.Metrics = m
	rec.HasMetrics = true
	rec.Stale = false
	rec.LastError = ""
	rec.LastRefreshedAt = now
	return nil
}

// MarkFailed records a failed refresh. The previous snapshot is kept.
func (r *Registry) MarkFailed(id string, cause error) error {
	rec, ok := r.records[id]
	if !ok || !rec.Registered {
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, id)
	}
	rec.Stale = true
	if cause != nil {
		rec.LastError = cause.Error()
	}
	return nil
}

// IncrementRebalances bumps the successful rebalance counter of id.
func (r *Registry) IncrementRebalances(id string) error {
	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, id)
	}
	rec.SuccessfulRebalances++
	return nil
}

// Get returns a copy of the record for id, registered or not.
func (r *Registry) Get(id string) (Record, bool) {
	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// IsRegistered reports whether id is currently registered.
func (r *Registry) IsRegistered(id string) bool {
	rec, ok := r.records[id]
	return ok && rec.Registered
}

// Registered returns copies of every registered record ordered by id.
func (r *Registry) Registered() []Record {
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if rec.Registered {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered strategies.
func (r *Registry) Len() int {
	n := 0
	for _, rec := range r.records {
		if rec.Registered {
			n++
		}
	}
	return n
}

// Candidates returns a scored candidate for every registered strategy whose latest refresh
// succeeded. Health is carried on the candidate so ranking can exclude it.
func (r *Registry) Candidates() []scoring.Candidate {
	var out []scoring.Candidate
	for _, rec := range r.Registered() {
		if !rec.HasMetrics || rec.Stale {
			continue
		}
		out = append(out, scoring.NewCandidate(rec.ID, rec.Metrics.Healthy, rec.Input()))
	}
	return out
}

// Restore loads a persisted record. A record persisted as registered is registered again
// with src; without a source it is kept for its counters only.
func (r *Registry) Restore(rec Record, src strategy.Source) {
	rec.source = src
	rec.Registered = rec.Registered && src != nil
	r.records[rec.ID] = &rec
}
