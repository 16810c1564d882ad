// Package scoring turns strategy metrics into comparable scores and confidence values.
// Everything here is pure integer arithmetic.
package scoring

import (
	"sort"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// UnitDecimals is the precision of TVL readings (ether-style native units).
const UnitDecimals = 18

// Unit is one whole native unit of TVL.
var Unit = sdkmath.NewIntWithDecimal(1, UnitDecimals)

const (
	MaxRiskLevel = 10

	tvlFactorDeep    = 110
	tvlFactorShallow = 100

	baseConfidence   = 60
	highAPYBps       = 1000
	highAPYBonus     = 15
	moderateAPYBps   = 500
	moderateAPYBonus = 10
	deepTVLUnits     = 10
	deepTVLBonus     = 10
	lowRiskLevel     = 3
	lowRiskBonus     = 10
	trackRecordCount = 10
	trackRecordBonus = 10
	MaxConfidence    = 100
	MinConfidence    = 0
)

// Input is the snapshot of one strategy the scoring functions read.
type Input struct {
	APY                  uint64      // basis points
	TVL                  sdkmath.Int // native units
	RiskLevel            uint64
	SuccessfulRebalances uint64
}

// Result is the scored view of an Input.
type Result struct {
	Score      int64 `json:"score"`
	Confidence int   `json:"confidence"`
	RiskFactor int64 `json:"risk_factor"`
	TVLFactor  int64 `json:"tvl_factor"`
}

// RiskFactor maps the 0-10 risk scale to a multiplier. Levels above the scale
// collapse to the minimum multiplier.
func RiskFactor(riskLevel uint64) int64 {
	if riskLevel <= MaxRiskLevel {
		return int64(MaxRiskLevel - riskLevel)
	}
	return 1
}

// TVLFactor grants a 10% bonus to strategies holding more than one unit.
func TVLFactor(tvl sdkmath.Int) int64 {
	if !tvl.IsNil() && tvl.GT(Unit) {
		return tvlFactorDeep
	}
	return tvlFactorShallow
}

// Score computes APY * riskFactor * tvlFactor / 100.
func Score(in Input) int64 {
	return int64(in.APY) * RiskFactor(in.RiskLevel) * TVLFactor(in.TVL) / 100
}

// Confidence is a [0,100] heuristic of how much the data behind a score can be trusted.
func Confidence(in Input) int {
	c := baseConfidence

	switch {
	case in.APY >= highAPYBps:
		c += highAPYBonus
	case in.APY >= moderateAPYBps:
		c += moderateAPYBonus
	}
	if !in.TVL.IsNil() && in.TVL.GTE(Unit.MulRaw(deepTVLUnits)) {
		c += deepTVLBonus
	}
	if in.RiskLevel <= lowRiskLevel {
		c += lowRiskBonus
	}
	if in.SuccessfulRebalances >= trackRecordCount {
		c += trackRecordBonus
	}

	if c > MaxConfidence {
		return MaxConfidence
	}
	if c < MinConfidence {
		return MinConfidence
	}
	return c
}

// Evaluate scores in.
func Evaluate(in Input) Result {
	return Result{
		Score:      Score(in),
		Confidence: Confidence(in),
		RiskFactor: RiskFactor(in.RiskLevel),
		TVLFactor:  TVLFactor(in.TVL),
	}
}

// Candidate is a scored strategy taking part in one selection round.
type Candidate struct {
	ID      string
	Healthy bool
	Input
	Result
}

// NewCandidate scores in for strategy id.
func NewCandidate(id string, healthy bool, in Input) Candidate {
	return Candidate{ID: id, Healthy: healthy, Input: in, Result: Evaluate(in)}
}

// Rank returns the healthy candidates ordered best first: highest score, then lowest
// risk level, then smallest identifier.
func Rank(candidates []Candidate) []Candidate {
	ranked := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Healthy {
			ranked = append(ranked, c)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.RiskLevel != b.RiskLevel {
			return a.RiskLevel < b.RiskLevel
		}
		return a.ID < b.ID
	})
	return ranked
}

// FormatAPY renders basis points as a percentage, e.g. 1250 -> "12.50%".
func FormatAPY(bps uint64) string {
	return decimal.New(int64(bps), -2).StringFixed(2) + "%"
}

// FormatTVL renders native units as whole units, e.g. 5e17 -> "0.5".
func FormatTVL(tvl sdkmath.Int) string {
	if tvl.IsNil() {
		return "0"
	}
	return decimal.NewFromBigInt(tvl.BigInt(), -UnitDecimals).String()
}
