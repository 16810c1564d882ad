package strategy

import (
	"context"
	"net/url"

	sdkmath "cosmossdk.io/math"

	"yield-rebalance-agent/internal/rpc"
)

// HTTPSource reads a strategy's metrics from the metrics provider at
// GET /strategies/{id}/metrics.
type HTTPSource struct {
	client *rpc.Client
	id     string
}

// ensure HTTPSource implements the capability set and the snapshot fast path
var (
	_ Source      = (*HTTPSource)(nil)
	_ Snapshotter = (*HTTPSource)(nil)
)

// NewHTTPSource creates a source for strategy id.
func NewHTTPSource(client *rpc.Client, id string) *HTTPSource {
	return &HTTPSource{client: client, id: id}
}

// Snapshot fetches all four metrics in one request.
func (s *HTTPSource) Snapshot(ctx context.Context) (Metrics, error) {
	var m Metrics
	if err := s.client.Get(ctx, "/strategies/"+url.PathEscape(s.id)+"/metrics", &m); err != nil {
		return Metrics{}, err
	}
	return m, nil
}

func (s *HTTPSource) EstimatedAPY(ctx context.Context) (uint64, error) {
	m, err := s.Snapshot(ctx)
	return m.APY, err
}

func (s *HTTPSource) TotalAssets(ctx context.Context) (sdkmath.Int, error) {
	m, err := s.Snapshot(ctx)
	return m.TVL, err
}

func (s *HTTPSource) RiskLevel(ctx context.Context) (uint64, error) {
	m, err := s.Snapshot(ctx)
	return m.RiskLevel, err
}

func (s *HTTPSource) IsHealthy(ctx context.Context) (bool, error) {
	m, err := s.Snapshot(ctx)
	return m.Healthy, err
}

// HTTPResolver hands out HTTPSources sharing one rate-limited client.
type HTTPResolver struct {
	client *rpc.Client
}

// NewHTTPResolver creates a resolver backed by client.
func NewHTTPResolver(client *rpc.Client) *HTTPResolver {
	return &HTTPResolver{client: client}
}

// Resolve implements Resolver. Reachability is established by the caller's liveness probe.
func (r *HTTPResolver) Resolve(_ context.Context, id string) (Source, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	return NewHTTPSource(r.client, id), nil
}
