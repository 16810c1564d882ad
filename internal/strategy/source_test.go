package strategy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yield-rebalance-agent/internal/config"
	"yield-rebalance-agent/internal/rpc"
)

// plainSource implements only the four capability methods.
type plainSource struct {
	apy     uint64
	tvl     sdkmath.Int
	risk    uint64
	healthy bool
	riskErr error
	delay   time.Duration
}

func (p *plainSource) EstimatedAPY(ctx context.Context) (uint64, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return p.apy, nil
}
// stuckSource blocks every read until release is closed, ignoring ctx.
type stuckSource struct {
	plainSource
	release chan struct{}
}

func (s *stuckSource) EstimatedAPY(context.Context) (uint64, error) {
	<-s.release
	return s.apy, nil
}

func (p *plainSource) TotalAssets(context.Context) (sdkmath.Int, error) { return p.tvl, nil }
func (p *plainSource) RiskLevel(context.Context) (uint64, error)      { return p.risk, p.riskErr }
func (p *plainSource) IsHealthy(context.Context) (bool, error)        { return p.healthy, nil }

func TestFetch(t *testing.T) {
	ctx := context.Background()

	t.Run("PlainSource", func(t *testing.T) {
		src := &plainSource{apy: 500, tvl: sdkmath.NewInt(42), risk: 2, healthy: true}
		m, err := Fetch(ctx, src, time.Second)
		require.NoError(t, err)
		assert.Equal(t, uint64(500), m.APY)
		assert.True(t, m.TVL.Equal(sdkmath.NewInt(42)))
		assert.Equal(t, uint64(2), m.RiskLevel)
		assert.True(t, m.Healthy)
	})

	t.Run("SourceError", func(t *testing.T) {
		src := &plainSource{tvl: sdkmath.NewInt(1), riskErr: errors.New("execution reverted")}
		_, err := Fetch(ctx, src, time.Second)
		require.ErrorIs(t, err, ErrMetricsUnavailable)
		assert.Contains(t, err.Error(), "execution reverted")
	})

	t.Run("SlowSourceTimesOut", func(t *testing.T) {
		src := &plainSource{tvl: sdkmath.NewInt(1), delay: 50 * time.Millisecond}
		_, err := Fetch(ctx, src, 5*time.Millisecond)
		assert.ErrorIs(t, err, ErrMetricsUnavailable)
	})

	t.Run("SourceIgnoringContextIsAbandonedAtDeadline", func(t *testing.T) {
		src := &stuckSource{plainSource: plainSource{tvl: sdkmath.NewInt(1)}, release: make(chan struct{})}
		defer close(src.release)

		start := time.Now()
		_, err := Fetch(ctx, src, 20*time.Millisecond)
		require.ErrorIs(t, err, ErrMetricsUnavailable)
		assert.ErrorContains(t, err, context.DeadlineExceeded.Error())
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("Malformed", func(t *testing.T) {
		testCases := []struct {
			name string
			m    Metrics
		}{
			{name: "nil tvl", m: Metrics{APY: 1}},
			{name: "negative tvl", m: Metrics{APY: 1, TVL: sdkmath.NewInt(-1)}},
			{name: "absurd apy", m: Metrics{APY: MaxAPY + 1, TVL: sdkmath.NewInt(1)}},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := Fetch(ctx, NewStaticSource(tc.m), time.Second)
				assert.ErrorIs(t, err, ErrMetricsUnavailable)
			})
		}
	})
}

func TestStaticSource(t *testing.T) {
	ctx := context.Background()
	src := NewStaticSource(Metrics{APY: 900, TVL: sdkmath.NewInt(5), RiskLevel: 1, Healthy: true})

	apy, err := src.EstimatedAPY(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), apy)

	src.Fail(errors.New("paused"))
	_, err = Fetch(ctx, src, time.Second)
	assert.ErrorIs(t, err, ErrMetricsUnavailable)

	src.Set(Metrics{APY: 100, TVL: sdkmath.NewInt(5)})
	m, err := Fetch(ctx, src, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), m.APY)
	assert.False(t, m.Healthy)
}

func TestStaticResolver(t *testing.T) {
	r := NewStaticResolver()
	r.Add("venus", NewStaticSource(Metrics{}))

	_, err := r.Resolve(context.Background(), "venus")
	assert.NoError(t, err)

	_, err = r.Resolve(context.Background(), "beefy")
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = r.Resolve(context.Background(), "bad id")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("0x5FbDB2315678afecb367f032d93F642f64180aa3"))
	assert.Error(t, ValidateID(""))
	assert.Error(t, ValidateID("a/b"))
	assert.Error(t, ValidateID(string(make([]byte, maxIDLength+1))))
}

func TestHTTPSource(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/strategies/venus/metrics":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"estimated_apy":500,"total_assets":"2000000000000000000","risk_level":2,"is_healthy":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	client := rpc.NewClient(&config.Endpoint{BaseURL: server.URL, RateLimit: 100, RateLimitBurst: 10}, zap.NewNop())
	resolver := NewHTTPResolver(client)

	src, err := resolver.Resolve(context.Background(), "venus")
	require.NoError(t, err)

	m, err := Fetch(context.Background(), src, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), m.APY)
	assert.Equal(t, "2000000000000000000", m.TVL.String())
	assert.Equal(t, uint64(2), m.RiskLevel)
	assert.True(t, m.Healthy)

	healthy, err := src.IsHealthy(context.Background())
	require.NoError(t, err)
	assert.True(t, healthy)

	unknown, err := resolver.Resolve(context.Background(), "beefy")
	require.NoError(t, err)
	_, err = Fetch(context.Background(), unknown, time.Second)
	assert.ErrorIs(t, err, ErrMetricsUnavailable)
}
