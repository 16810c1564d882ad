package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yield-rebalance-agent/internal/database"
	"yield-rebalance-agent/internal/events"
	"yield-rebalance-agent/internal/registry"
	"yield-rebalance-agent/internal/scoring"
	"yield-rebalance-agent/internal/store"
	"yield-rebalance-agent/internal/strategy"
)

var now = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

func setupHandler(t *testing.T) (http.Handler, *store.Store) {
	t.Helper()
	db, err := database.NewDatabase(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	s := store.New(db)
	h := NewAPIHandler(zap.NewNop(), s)
	h.now = func() time.Time { return now }
	return NewRouter(h), s
}

func get(t *testing.T, h http.Handler, path string, into interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), into))
}

func TestStatusHandler(t *testing.T) {
	ctx := context.Background()
	h, s := setupHandler(t)

	var empty StatusResponse
	get(t, h, "/api/status", &empty)
	assert.Empty(t, empty.ActiveStrategy)
	assert.Empty(t, empty.Strategies)

	require.NoError(t, s.SaveState(ctx, store.State{ActiveStrategy: "a", LastRebalanceTime: now, Cooldown: time.Hour, MinImprovementBps: 2000}))
	require.NoError(t, s.SaveStrategy(ctx, registry.Record{
		ID:                   "a",
		Registered:           true,
		HasMetrics:           true,
		Metrics:              strategy.Metrics{APY: 500, RiskLevel: 2, TVL: sdkmath.NewIntWithDecimal(2, 18), Healthy: true},
		SuccessfulRebalances: 1,
	}))

	var resp StatusResponse
	get(t, h, "/api/status", &resp)
	assert.Equal(t, "a", resp.ActiveStrategy)
	assert.Equal(t, int64(3600), resp.CooldownSeconds)
	require.Len(t, resp.Strategies, 1)
	assert.True(t, resp.Strategies[0].Active)
	assert.Equal(t, int64(4400), resp.Strategies[0].Score)
	assert.Equal(t, "5.00%", resp.Strategies[0].APY)
	assert.Equal(t, "2", resp.Strategies[0].TVL)
}

func TestEventsAndStatistics(t *testing.T) {
	ctx := context.Background()
	h, s := setupHandler(t)

	publish := func(id string, typ events.Type, at time.Time) {
		require.NoError(t, s.Publish(ctx, events.Event{ID: id, Type: typ, Timestamp: at}))
	}
	publish("e1", events.RebalanceExecuted, now.Add(-48*time.Hour))
	publish("e2", events.RebalanceFailed, now.Add(-time.Hour))
	publish("e3", events.RebalanceExecuted, now.Add(-time.Hour))
	publish("e4", events.EvaluationRejected, now.Add(-time.Minute))

	var all []map[string]interface{}
	get(t, h, "/api/events?limit=2", &all)
	require.Len(t, all, 2)
	assert.Equal(t, "e4", all[0]["event_id"])

	var executed []map[string]interface{}
	get(t, h, "/api/events?type=rebalance_executed", &executed)
	assert.Len(t, executed, 2)

	var stats StatisticsResponse
	get(t, h, "/api/statistics", &stats)
	assert.Equal(t, int64(2), stats.AllTime.RebalancesExecuted)
	assert.Equal(t, int64(4), stats.AllTime.Evaluations)
	assert.InDelta(t, 2.0/3.0, stats.AllTime.SuccessRate, 1e-9)
	assert.Equal(t, int64(1), stats.Since24h.RebalancesExecuted)
	assert.Equal(t, int64(1), stats.Since24h.RebalancesFailed)
	assert.Equal(t, int64(1), stats.Since24h.Rejections)
	assert.InDelta(t, 0.5, stats.Since24h.SuccessRate, 1e-9)
}

func TestScoresHandler(t *testing.T) {
	ctx := context.Background()
	h, s := setupHandler(t)

	require.NoError(t, s.SaveSnapshots(ctx, "cycle-1", now, []scoring.Candidate{
		scoring.NewCandidate("a", true, scoring.Input{APY: 500, RiskLevel: 2, TVL: scoring.Unit.MulRaw(2)}),
		scoring.NewCandidate("b", true, scoring.Input{APY: 1200, RiskLevel: 8, TVL: scoring.Unit.QuoRaw(2)}),
	}))

	var rows []map[string]interface{}
	get(t, h, "/api/scores?strategy=b", &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, float64(2400), rows[0]["score"])
}

func TestLimit(t *testing.T) {
	for query, expected := range map[string]int{"": defaultLimit, "limit=abc": defaultLimit, "limit=-3": defaultLimit, "limit=7": 7, "limit=100000": maxLimit} {
		r := httptest.NewRequest(http.MethodGet, "/api/events?"+query, nil)
		assert.Equal(t, expected, limit(r), query)
	}
}
