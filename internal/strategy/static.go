package strategy

import (
	"context"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
)

// StaticSource serves fixed metrics. It backs dry-run mode and tests; Set and Fail
// change what later reads observe.
type StaticSource struct {
	mu      sync.RWMutex
	metrics Metrics
	err     error
}

// NewStaticSource returns a source reporting m.
func NewStaticSource(m Metrics) *StaticSource {
	return &StaticSource{metrics: m}
}

// Set replaces the reported metrics and clears any injected failure.
func (s *StaticSource) Set(m Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
	s.err = nil
}

// Fail makes every read return err until the next Set.
func (s *StaticSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StaticSource) Snapshot(ctx context.Context) (Metrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return Metrics{}, s.err
	}
	return s.metrics, nil
}

func (s *StaticSource) EstimatedAPY(ctx context.Context) (uint64, error) {
	m, err := s.Snapshot(ctx)
	return m.APY, err
}

func (s *StaticSource) TotalAssets(ctx context.Context) (sdkmath.Int, error) {
	m, err := s.Snapshot(ctx)
	return m.TVL, err
}

func (s *StaticSource) RiskLevel(ctx context.Context) (uint64, error) {
	m, err := s.Snapshot(ctx)
	return m.RiskLevel, err
}

func (s *StaticSource) IsHealthy(ctx context.Context) (bool, error) {
	m, err := s.Snapshot(ctx)
	return m.Healthy, err
}

// StaticResolver resolves identifiers against a fixed set of sources.
type StaticResolver struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewStaticResolver returns an empty resolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{sources: make(map[string]Source)}
}

// Add makes id resolvable to src.
func (r *StaticResolver) Add(id string, src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[id] = src
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(_ context.Context, id string) (Source, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a known strategy", ErrInvalidID, id)
	}
	return src, nil
}
