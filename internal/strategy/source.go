// Package strategy defines the read-only metrics capability every yield strategy exposes
// and the adapters that implement it.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
)

// MaxAPY bounds accepted APY readings (basis points). Anything above is treated as malformed.
const MaxAPY uint64 = 1_000_000_000

const maxIDLength = 128

var (
	// ErrMetricsUnavailable is returned when a source errors, times out or reports malformed data.
	ErrMetricsUnavailable = errors.New("metrics unavailable")
	// ErrInvalidID is returned by resolvers for identifiers that can never name a strategy.
	ErrInvalidID = errors.New("invalid strategy identifier")
)

// Source is the capability set the engine needs from a strategy.
type Source interface {
	EstimatedAPY(ctx context.Context) (uint64, error)
	TotalAssets(ctx context.Context) (sdkmath.Int, error)
	RiskLevel(ctx context.Context) (uint64, error)
	IsHealthy(ctx context.Context) (bool, error)
}

// Snapshotter is implemented by sources that can return all metrics in one call.
type Snapshotter interface {
	Snapshot(ctx context.Context) (Metrics, error)
}

// Resolver turns a strategy identifier into a Source.
type Resolver interface {
	Resolve(ctx context.Context, id string) (Source, error)
}

// Metrics is one observation of a strategy.
type Metrics struct {
	APY       uint64      `json:"estimated_apy"` // basis points
	TVL       sdkmath.Int `json:"total_assets"`  // native units, 18 decimals
	RiskLevel uint64      `json:"risk_level"`    // 0-10
	Healthy   bool        `json:"is_healthy"`
}

// Validate reports whether m can be scored.
func (m Metrics) Validate() error {
	if m.TVL.IsNil() {
		return errors.New("total assets missing")
	}
	if m.TVL.IsNegative() {
		return fmt.Errorf("total assets negative: %s", m.TVL)
	}
	if m.APY > MaxAPY {
		return fmt.Errorf("apy %d exceeds %d", m.APY, MaxAPY)
	}
	return nil
}

// ValidateID rejects identifiers that are empty, too long or contain whitespace.
func ValidateID(id string) error {
	if id == "" || len(id) > maxIDLength || strings.ContainsAny(id, " \t\r\n/") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Fetch reads every metric from src within timeout. Any failure, including malformed data,
// is reported as ErrMetricsUnavailable.
func Fetch(ctx context.Context, src Source, timeout time.Duration) (Metrics, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		m   Metrics
		err error
	}
	// Buffered so a source that ignores ctx can still finish and exit.
	done := make(chan result, 1)
	go func() {
		m, err := read(ctx, src)
		done <- result{m, err}
	}()

	var m Metrics
	var err error
	select {
	case r := <-done:
		m, err = r.m, r.err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err == nil {
		err = m.Validate()
	}
	if err != nil {
		return Metrics{}, fmt.Errorf("%w: %v", ErrMetricsUnavailable, err)
	}
	return m, nil
}

func read(ctx context.Context, src Source) (Metrics, error) {
	if s, ok := src.(Snapshotter); ok {
		return s.Snapshot(ctx)
	}

	var (
		m   Metrics
		err error
	)
	if m.APY, err = src.EstimatedAPY(ctx); err != nil {
		return Metrics{}, fmt.Errorf("estimated apy: %w", err)
	}
	if m.TVL, err = src.TotalAssets(ctx); err != nil {
		return Metrics{}, fmt.Errorf("total assets: %w", err)
	}
	if m.RiskLevel, err = src.RiskLevel(ctx); err != nil {
		return Metrics{}, fmt.Errorf("risk level: %w", err)
	}
	if m.Healthy, err = src.IsHealthy(ctx); err != nil {
		return Metrics{}, fmt.Errorf("health check: %w", err)
	}
	return m, nil
}
