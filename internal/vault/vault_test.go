package vault

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yield-rebalance-agent/internal/config"
	"yield-rebalance-agent/internal/rpc"
)

// fakeVault is a minimal vault service.
type fakeVault struct {
	current string
	reject  bool
	signed  bool
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/vault/strategy" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch r.Method {
	case http.MethodGet:
		_ = json.NewEncoder(w).Encode(map[string]string{"strategy": f.current})
	case http.MethodPost:
		f.signed = r.Header.Get("X-SIGNATURE") != ""
		body, _ := io.ReadAll(r.Body)
		var req strategyRequest
		_ = json.Unmarshal(body, &req)
		if f.reject {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": "paused"})
			return
		}
		f.current = req.Strategy
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "strategy": f.current})
	}
}

func newLedger(t *testing.T, fv *fakeVault) *HTTPLedger {
	t.Helper()
	server := httptest.NewServer(fv)
	t.Cleanup(server.Close)
	client := rpc.NewClient(&config.Endpoint{BaseURL: server.URL, SecretKey: "s3cret", RateLimit: 100, RateLimitBurst: 10, MaxRetries: 1}, zap.NewNop())
	return NewHTTPLedger(client, zap.NewNop())
}

func TestHTTPLedger(t *testing.T) {
	ctx := context.Background()
	fv := &fakeVault{current: "venus"}
	ledger := newLedger(t, fv)

	current, err := ledger.CurrentStrategy(ctx)
	require.NoError(t, err)
	assert.Equal(t, "venus", current)

	require.NoError(t, ledger.SetActiveStrategy(ctx, "beefy"))
	assert.True(t, fv.signed)

	current, err = ledger.CurrentStrategy(ctx)
	require.NoError(t, err)
	assert.Equal(t, "beefy", current)
}

func TestHTTPLedger_Rejected(t *testing.T) {
	fv := &fakeVault{current: "venus", reject: true}
	ledger := newLedger(t, fv)

	err := ledger.SetActiveStrategy(context.Background(), "beefy")
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "paused")
	assert.Equal(t, "venus", fv.current)
}

func TestHTTPLedger_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	client := rpc.NewClient(&config.Endpoint{BaseURL: server.URL, RateLimit: 100, RateLimitBurst: 10, MaxRetries: 1}, zap.NewNop())

	err := NewHTTPLedger(client, zap.NewNop()).SetActiveStrategy(context.Background(), "beefy")
	assert.Error(t, err)
}

func TestSimulatedLedger(t *testing.T) {
	ctx := context.Background()
	ledger := NewSimulatedLedger("", zap.NewNop())

	current, err := ledger.CurrentStrategy(ctx)
	require.NoError(t, err)
	assert.Empty(t, current)

	require.NoError(t, ledger.SetActiveStrategy(ctx, "venus"))
	ledger.Fail(errors.New("paused"))
	assert.EqualError(t, ledger.SetActiveStrategy(ctx, "beefy"), "paused")
	ledger.Fail(nil)
	require.NoError(t, ledger.SetActiveStrategy(ctx, "aave"))

	current, _ = ledger.CurrentStrategy(ctx)
	assert.Equal(t, "aave", current)
	assert.Equal(t, []string{"venus", "aave"}, ledger.Moves())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, ledger.SetActiveStrategy(cancelled, "x"), context.Canceled)
}
