// Package vault issues fund-movement commands to the vault that holds the capital.
// The engine never touches balances; it only names the strategy the vault should use.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"yield-rebalance-agent/internal/rpc"
)

// ErrRejected is returned when the vault refuses a move command.
var ErrRejected = errors.New("vault rejected move")

// Ledger is the command interface of the vault.
type Ledger interface {
	SetActiveStrategy(ctx context.Context, id string) error
	CurrentStrategy(ctx context.Context) (string, error)
}

type strategyRequest struct {
	Strategy string `json:"strategy"`
}

type strategyResponse struct {
	Strategy string `json:"strategy"`
	Success  *bool  `json:"success,omitempty"`
	Error    string `json:"error,omitempty"`
}

// HTTPLedger talks to a vault service over signed HTTP:
// POST /vault/strategy moves funds, GET /vault/strategy reports the current strategy.
type HTTPLedger struct {
	client *rpc.Client
	logger *zap.Logger
}

var _ Ledger = (*HTTPLedger)(nil)

// NewHTTPLedger creates a ledger backed by client.
func NewHTTPLedger(client *rpc.Client, logger *zap.Logger) *HTTPLedger {
	return &HTTPLedger{client: client, logger: logger}
}

func (l *HTTPLedger) SetActiveStrategy(ctx context.Context, id string) error {
	body, err := json.Marshal(strategyRequest{Strategy: id})
	if err != nil {
		return fmt.Errorf("failed to encode move command: %w", err)
	}

	var resp strategyResponse
	if err := l.client.Post(ctx, "/vault/strategy", body, &resp); err != nil {
		return fmt.Errorf("move to %s: %w", id, err)
	}
	if resp.Success != nil && !*resp.Success {
		return fmt.Errorf("%w: %s", ErrRejected, resp.Error)
	}
	if resp.Strategy != "" && resp.Strategy != id {
		return fmt.Errorf("%w: vault reports %s after move to %s", ErrRejected, resp.Strategy, id)
	}

	l.logger.Info("Vault moved funds", zap.String("strategy", id))
	return nil
}

func (l *HTTPLedger) CurrentStrategy(ctx context.Context) (string, error) {
	var resp strategyResponse
	if err := l.client.Get(ctx, "/vault/strategy", &resp); err != nil {
		return "", fmt.Errorf("failed to query vault strategy: %w", err)
	}
	return resp.Strategy, nil
}

// SimulatedLedger is an in-memory vault used in dry-run mode and tests.
type SimulatedLedger struct {
	mu      sync.Mutex
	current string
	moves   []string
	fail    error
	logger  *zap.Logger
}

var _ Ledger = (*SimulatedLedger)(nil)

// NewSimulatedLedger returns a ledger whose funds start in current (may be empty).
func NewSimulatedLedger(current string, logger *zap.Logger) *SimulatedLedger {
	return &SimulatedLedger{current: current, logger: logger}
}

// Fail makes subsequent moves return err. A nil err restores normal behaviour.
func (l *SimulatedLedger) Fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = err
}

// Moves returns every strategy funds were moved to, in order.
func (l *SimulatedLedger) Moves() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.moves...)
}

func (l *SimulatedLedger) SetActiveStrategy(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return l.fail
	}
	l.logger.Info("[SIMULATION] Vault moved funds", zap.String("from", l.current), zap.String("to", id))
	l.current = id
	l.moves = append(l.moves, id)
	return nil
}

func (l *SimulatedLedger) CurrentStrategy(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current, nil
}
