package gate

import (
	"time"

	"yield-rebalance-agent/internal/scoring"
)

// Reason is the machine-readable code attached to every gate outcome.
type Reason string

const (
	ReasonAccepted           Reason = "accepted"
	ReasonBootstrap          Reason = "bootstrap"
	ReasonNoHealthyCandidate Reason = "no_healthy_candidate"
	ReasonAlreadyActive      Reason = "already_active"
	ReasonDivisionUndefined  Reason = "division_undefined"
	ReasonBelowThreshold     Reason = "improvement_below_threshold"
	ReasonCooldownActive     Reason = "cooldown_active"
)

// Verdict is what a single gate decided.
type Verdict int

const (
	// Pass hands the decision to the next gate.
	Pass Verdict = iota
	// Reject stops the chain with no action.
	Reject
	// Accept stops the chain and approves the move without consulting later gates.
	Accept
)

func (v Verdict) String() string {
	switch v {
	case Pass:
		return "pass"
	case Reject:
		return "reject"
	case Accept:
		return "accept"
	}
	return "unknown"
}

// Input is everything the gates look at for one decision.
type Input struct {
	Best              *scoring.Candidate // nil when no healthy candidate exists
	ActiveID          string             // empty before the first adoption
	ActiveScore       int64
	Now               time.Time
	LastRebalance     time.Time
	Cooldown          time.Duration
	MinImprovementBps int64
}

// Result is the outcome of one gate.
type Result struct {
	Gate    string  `json:"gate"`
	Verdict Verdict `json:"-"`
	Reason  Reason  `json:"reason,omitempty"`
	Detail  string  `json:"detail,omitempty"`
}

// Decision is the outcome of the whole chain.
type Decision struct {
	Act            bool     `json:"act"`
	Reason         Reason   `json:"reason"`
	Detail         string   `json:"detail,omitempty"`
	ImprovementBps *int64   `json:"improvement_bps,omitempty"`
	Trail          []Result `json:"trail"`
}
