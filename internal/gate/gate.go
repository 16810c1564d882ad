// Package gate decides whether a rebalance may proceed. Each gate checks one condition and
// returns a verdict with a reason code; a Chain runs them in order.
package gate

import (
	"fmt"
	"math"
	"time"

	sdkmath "cosmossdk.io/math"
)

const bpsDenominator = 10000

// Gate checks one rebalance precondition.
type Gate interface {
	Name() string
	Check(in Input) Result
}

// Chain runs gates in order until one rejects or accepts.
type Chain []Gate

// DefaultChain is health -> bootstrap -> same strategy -> improvement -> cooldown.
func DefaultChain() Chain {
	return Chain{HealthGate{}, BootstrapGate{}, SameStrategyGate{}, ImprovementGate{}, CooldownGate{}}
}

// Evaluate runs the chain against in.
func (c Chain) Evaluate(in Input) Decision {
	d := Decision{Trail: make([]Result, 0, len(c))}
	if in.Best != nil && in.ActiveID != "" {
		if imp, ok := ImprovementBps(in.Best.Score, in.ActiveScore); ok {
			d.ImprovementBps = &imp
		}
	}

	for _, g := range c {
		r := g.Check(in)
		r.Gate = g.Name()
		d.Trail = append(d.Trail, r)

		switch r.Verdict {
		case Reject:
			d.Reason, d.Detail = r.Reason, r.Detail
			return d
		case Accept:
			d.Act = true
			d.Reason, d.Detail = r.Reason, r.Detail
			return d
		}
	}

	d.Act = true
	d.Reason = ReasonAccepted
	return d
}

// ImprovementBps returns (best - active) * 10000 / active, saturating at the int64 range.
// ok is false when active is zero and the ratio is undefined.
func ImprovementBps(best, active int64) (bps int64, ok bool) {
	if active == 0 {
		return 0, false
	}
	v := sdkmath.NewInt(best).Sub(sdkmath.NewInt(active)).MulRaw(bpsDenominator).QuoRaw(active)
	switch {
	case v.IsInt64():
		return v.Int64(), true
	case v.IsNegative():
		return math.MinInt64, true
	default:
		return math.MaxInt64, true
	}
}

// HealthGate rejects when no healthy candidate is available.
type HealthGate struct{}

func (HealthGate) Name() string { return "health" }

func (HealthGate) Check(in Input) Result {
	if in.Best == nil {
		return Result{Verdict: Reject, Reason: ReasonNoHealthyCandidate, Detail: "no registered strategy reported healthy metrics"}
	}
	return Result{Verdict: Pass}
}

// BootstrapGate adopts the best candidate when no strategy is active yet.
type BootstrapGate struct{}

func (BootstrapGate) Name() string { return "bootstrap" }

func (BootstrapGate) Check(in Input) Result {
	if in.ActiveID == "" {
		return Result{Verdict: Accept, Reason: ReasonBootstrap, Detail: fmt.Sprintf("no active strategy, adopting %s", in.Best.ID)}
	}
	return Result{Verdict: Pass}
}

// SameStrategyGate rejects when the best candidate is already active.
type SameStrategyGate struct{}

func (SameStrategyGate) Name() string { return "same_strategy" }

func (SameStrategyGate) Check(in Input) Result {
	if in.Best.ID == in.ActiveID {
		return Result{Verdict: Reject, Reason: ReasonAlreadyActive, Detail: fmt.Sprintf("%s is already active", in.ActiveID)}
	}
	return Result{Verdict: Pass}
}

// ImprovementGate requires the best candidate to beat the active score by MinImprovementBps.
type ImprovementGate struct{}

func (ImprovementGate) Name() string { return "improvement" }

func (ImprovementGate) Check(in Input) Result {
	imp, ok := ImprovementBps(in.Best.Score, in.ActiveScore)
	if !ok {
		return Result{Verdict: Reject, Reason: ReasonDivisionUndefined, Detail: fmt.Sprintf("active strategy %s scores zero", in.ActiveID)}
	}
	if imp < in.MinImprovementBps {
		return Result{
			Verdict: Reject,
			Reason:  ReasonBelowThreshold,
			Detail:  fmt.Sprintf("improvement %d bps below required %d bps", imp, in.MinImprovementBps),
		}
	}
	return Result{Verdict: Pass, Detail: fmt.Sprintf("improvement %d bps", imp)}
}

// CooldownGate requires Cooldown to have elapsed since the last rebalance.
type CooldownGate struct{}

func (CooldownGate) Name() string { return "cooldown" }

func (CooldownGate) Check(in Input) Result {
	elapsed := in.Now.Sub(in.LastRebalance)
	if elapsed < in.Cooldown {
		return Result{
			Verdict: Reject,
			Reason:  ReasonCooldownActive,
			Detail:  fmt.Sprintf("%s cooldown runs until %s", in.Cooldown, in.LastRebalance.Add(in.Cooldown).UTC().Format(time.RFC3339)),
		}
	}
	return Result{Verdict: Pass}
}
