package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yield-rebalance-agent/internal/scoring"
	"yield-rebalance-agent/internal/strategy"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func metrics(apy, risk uint64, tvl sdkmath.Int, healthy bool) strategy.Metrics {
	return strategy.Metrics{APY: apy, TVL: tvl, RiskLevel: risk, Healthy: healthy}
}

func TestRegister(t *testing.T) {
	r := New()
	src := strategy.NewStaticSource(metrics(500, 2, scoring.Unit, true))

	require.NoError(t, r.Register("venus", src))
	assert.True(t, r.IsRegistered("venus"))
	assert.Equal(t, 1, r.Len())

	err := r.Register("venus", src)
	assert.ErrorIs(t, err, ErrDuplicateStrategy)

	err = r.Register("", src)
	assert.ErrorIs(t, err, ErrInvalidStrategy)

	err = r.Register("beefy", nil)
	assert.ErrorIs(t, err, ErrInvalidStrategy)
	assert.False(t, r.IsRegistered("beefy"))

	rec, ok := r.Get("venus")
	require.True(t, ok)
	assert.Zero(t, rec.SuccessfulRebalances)
	assert.False(t, rec.HasMetrics)
}

func TestDeregister(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("venus", strategy.NewStaticSource(strategy.Metrics{})))
	require.NoError(t, r.Register("beefy", strategy.NewStaticSource(strategy.Metrics{})))

	assert.ErrorIs(t, r.Deregister("aave", "venus"), ErrUnknownStrategy)
	assert.ErrorIs(t, r.Deregister("venus", "venus"), ErrActiveStrategyProtected)
	assert.True(t, r.IsRegistered("venus"))

	require.NoError(t, r.Deregister("beefy", "venus"))
	assert.False(t, r.IsRegistered("beefy"))
	assert.ErrorIs(t, r.Deregister("beefy", "venus"), ErrUnknownStrategy)

	_, err := r.Source("beefy")
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	// History survives removal.
	_, ok := r.Get("beefy")
	assert.True(t, ok)
}

func TestReRegisterKeepsCounters(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("venus", strategy.NewStaticSource(strategy.Metrics{})))
	require.NoError(t, r.IncrementRebalances("venus"))
	require.NoError(t, r.IncrementRebalances("venus"))
	require.NoError(t, r.Deregister("venus", ""))

	require.NoError(t, r.Register("venus", strategy.NewStaticSource(strategy.Metrics{})))
	rec, _ := r.Get("venus")
	assert.Equal(t, uint64(2), rec.SuccessfulRebalances)
}

// refresh mirrors one engine round for id: fetch, then Apply or MarkFailed.
func refresh(t *testing.T, r *Registry, id string, at time.Time) error {
	t.Helper()
	src, err := r.Source(id)
	if err != nil {
		return err
	}
	m, err := strategy.Fetch(context.Background(), src, time.Second)
	if err != nil {
		require.NoError(t, r.MarkFailed(id, err))
		return err
	}
	return r.Apply(id, m, at)
}

func TestApplyAndMarkFailed(t *testing.T) {
	r := New()
	src := strategy.NewStaticSource(metrics(500, 2, scoring.Unit.MulRaw(2), true))
	require.NoError(t, r.Register("venus", src))

	require.NoError(t, refresh(t, r, "venus", now))

	rec, _ := r.Get("venus")
	assert.True(t, rec.HasMetrics)
	assert.False(t, rec.Stale)
	assert.Equal(t, uint64(500), rec.Metrics.APY)
	assert.Equal(t, now, rec.LastRefreshedAt)

	t.Run("FailureKeepsSnapshot", func(t *testing.T) {
		src.Fail(errors.New("rpc down"))
		err := refresh(t, r, "venus", now.Add(time.Minute))
		require.ErrorIs(t, err, strategy.ErrMetricsUnavailable)

		rec, _ := r.Get("venus")
		assert.True(t, rec.Stale)
		assert.Contains(t, rec.LastError, "rpc down")
		assert.Equal(t, uint64(500), rec.Metrics.APY)
		assert.Equal(t, now, rec.LastRefreshedAt)
		assert.Empty(t, r.Candidates())
	})

	t.Run("RecoveryClearsStale", func(t *testing.T) {
		src.Set(metrics(600, 2, scoring.Unit.MulRaw(2), true))
		require.NoError(t, refresh(t, r, "venus", now.Add(2*time.Minute)))

		rec, _ := r.Get("venus")
		assert.False(t, rec.Stale)
		assert.Empty(t, rec.LastError)
		assert.Len(t, r.Candidates(), 1)
	})

	assert.ErrorIs(t, r.Apply("aave", metrics(1, 1, scoring.Unit, true), now), ErrUnknownStrategy)
	assert.ErrorIs(t, r.MarkFailed("aave", errors.New("x")), ErrUnknownStrategy)
}

func TestCandidates(t *testing.T) {
	r := New()
	for id, m := range map[string]strategy.Metrics{
		"a": metrics(500, 2, scoring.Unit.MulRaw(2), true),
		"b": metrics(1200, 8, scoring.Unit.QuoRaw(2), true),
		"x": metrics(99999, 0, scoring.Unit.MulRaw(100), false),
	} {
		require.NoError(t, r.Register(id, strategy.NewStaticSource(m)))
		require.NoError(t, r.Apply(id, m, now))
	}
	require.NoError(t, r.Register("never-refreshed", strategy.NewStaticSource(strategy.Metrics{})))

	candidates := r.Candidates()
	require.Len(t, candidates, 3)
	assert.Equal(t, "a", candidates[0].ID)
	assert.Equal(t, int64(4400), candidates[0].Score)
	assert.Equal(t, int64(2400), candidates[1].Score)
	assert.False(t, candidates[2].Healthy)

	assert.Equal(t, "a", scoring.Rank(candidates)[0].ID)

	require.NoError(t, r.Deregister("a", ""))
	ranked := scoring.Rank(r.Candidates())
	require.NotEmpty(t, ranked)
	assert.Equal(t, "b", ranked[0].ID)
}

func TestRegisteredSorted(t *testing.T) {
	r := New()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, r.Register(id, strategy.NewStaticSource(strategy.Metrics{})))
	}
	require.NoError(t, r.Deregister("b", ""))

	var ids []string
	for _, rec := range r.Registered() {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestRestore(t *testing.T) {
	r := New()
	src := strategy.NewStaticSource(strategy.Metrics{})

	r.Restore(Record{ID: "venus", Registered: true, SuccessfulRebalances: 4}, src)
	r.Restore(Record{ID: "beefy", Registered: true, SuccessfulRebalances: 1}, nil)
	r.Restore(Record{ID: "old", Registered: false}, src)

	assert.True(t, r.IsRegistered("venus"))
	assert.False(t, r.IsRegistered("beefy"))
	assert.False(t, r.IsRegistered("old"))

	rec, ok := r.Get("beefy")
	require.True(t, ok)
	assert.Equal(t, uint64(1), rec.SuccessfulRebalances)

	got, err := r.Source("venus")
	require.NoError(t, err)
	assert.Same(t, src, got)
}

func TestRecordInput_NilTVL(t *testing.T) {
	in := Record{ID: "a"}.Input()
	assert.True(t, in.TVL.IsZero())
}
