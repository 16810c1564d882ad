// Package engine is the rebalance decision state machine. It owns the strategy registry and
// the agent state, pulls metrics, ranks strategies and moves the vault when every gate passes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"yield-rebalance-agent/internal/config"
	"yield-rebalance-agent/internal/events"
	"yield-rebalance-agent/internal/gate"
	"yield-rebalance-agent/internal/registry"
	"yield-rebalance-agent/internal/scoring"
	"yield-rebalance-agent/internal/store"
	"yield-rebalance-agent/internal/strategy"
	"yield-rebalance-agent/internal/vault"
)

const (
	// MaxCooldown bounds SetCooldown.
	MaxCooldown = config.MaxCooldown
	// MaxMinImprovementBps bounds SetMinImprovement.
	MaxMinImprovementBps = config.MaxMinImprovementBps

	defaultMoveTimeout    = 2 * time.Minute
	defaultMetricsTimeout = 10 * time.Second
	defaultTickInterval   = 5 * time.Minute
	defaultConcurrency    = 4
)

// Options configures an Engine.
type Options struct {
	Owner              string
	Agents             []string
	Cooldown           time.Duration
	MinImprovementBps  int64
	TickInterval       time.Duration
	MoveTimeout        time.Duration
	MetricsTimeout     time.Duration
	RefreshConcurrency int
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// OptionsFromConfig maps the agent configuration section onto Options.
func OptionsFromConfig(cfg config.Agent) Options {
	return Options{
		Owner:              cfg.Owner,
		Agents:             cfg.Agents,
		Cooldown:           cfg.Cooldown,
		MinImprovementBps:  cfg.MinImprovementBps,
		TickInterval:       cfg.TickInterval,
		MoveTimeout:        cfg.MoveTimeout,
		MetricsTimeout:     cfg.MetricsTimeout,
		RefreshConcurrency: cfg.RefreshConcurrency,
	}
}

// Persister stores the engine's bookkeeping across restarts.
type Persister interface {
	LoadState(ctx context.Context) (store.State, bool, error)
	SaveState(ctx context.Context, state store.State) error
	LoadStrategies(ctx context.Context) ([]registry.Record, error)
	SaveStrategy(ctx context.Context, rec registry.Record) error
	SaveSnapshots(ctx context.Context, cycleID string, at time.Time, candidates []scoring.Candidate) error
}

// Publisher receives engine events.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Engine is the rebalance decision state machine.
type Engine struct {
	logger   *zap.Logger
	opts     Options
	agents   map[string]struct{}
	resolver strategy.Resolver
	ledger   vault.Ledger
	store    Persister
	events   Publisher
	gates    gate.Chain
	now      func() time.Time

	// cycleMu serializes evaluate-and-act cycles and every mutation of the registry or state.
	cycleMu sync.Mutex

	// mu guards the fields below for readers that do not hold cycleMu.
	mu                  sync.RWMutex
	registry            *registry.Registry
	state               store.State
	startedAt           time.Time
	cycles              uint64
	consecutiveFailures int
	lastCycleAt         time.Time
	lastOutcome         *Outcome
	lastError           string
}

// New creates an engine. store and publisher may be nil.
func New(logger *zap.Logger, opts Options, resolver strategy.Resolver, ledger vault.Ledger, persister Persister, publisher Publisher) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MoveTimeout <= 0 {
		opts.MoveTimeout = defaultMoveTimeout
	}
	if opts.MetricsTimeout <= 0 {
		opts.MetricsTimeout = defaultMetricsTimeout
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.RefreshConcurrency <= 0 {
		opts.RefreshConcurrency = defaultConcurrency
	}
	if persister == nil {
		persister = nopStore{}
	}

	agents := make(map[string]struct{}, len(opts.Agents))
	for _, a := range opts.Agents {
		agents[a] = struct{}{}
	}

	started := opts.Now()
	return &Engine{
		logger:   logger.Named("engine"),
		opts:     opts,
		agents:   agents,
		resolver: resolver,
		ledger:   ledger,
		store:    persister,
		events:   publisher,
		gates:    gate.DefaultChain(),
		now:      opts.Now,
		registry: registry.New(),
		state: store.State{
			LastRebalanceTime: started,
			Cooldown:          opts.Cooldown,
			MinImprovementBps: opts.MinImprovementBps,
		},
		startedAt: started,
	}
}

// Start restores persisted bookkeeping and reconciles the active strategy with the vault.
// Persisted cooldown and threshold take precedence over Options.
func (e *Engine) Start(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	records, err := e.store.LoadStrategies(ctx)
	if err != nil {
		return fmt.Errorf("could not load strategies: %w", err)
	}
	persisted, ok, err := e.store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("could not load agent state: %w", err)
	}

	e.mu.Lock()
	for _, rec := range records {
		var src strategy.Source
		if rec.Registered {
			if src, err = e.resolver.Resolve(ctx, rec.ID); err != nil {
				e.logger.Warn("Persisted strategy no longer resolves, keeping it deregistered",
					zap.String("strategy", rec.ID), zap.Error(err))
				src = nil
			}
		}
		e.registry.Restore(rec, src)
	}
	if ok {
		e.state = persisted
		if e.state.ActiveStrategy != "" && !e.registry.IsRegistered(e.state.ActiveStrategy) {
			e.logger.Warn("Persisted active strategy is not registered, clearing it",
				zap.String("strategy", e.state.ActiveStrategy))
			e.state.ActiveStrategy = ""
		}
	}
	e.mu.Unlock()

	e.logger.Info("Restored engine state",
		zap.Int("strategies", len(records)),
		zap.Bool("persisted_state", ok),
		zap.String("active_strategy", persisted.ActiveStrategy))

	e.reconcile(ctx)

	e.mu.RLock()
	st := e.state
	e.mu.RUnlock()
	if err := e.store.SaveState(ctx, st); err != nil {
		return fmt.Errorf("could not save agent state: %w", err)
	}
	return nil
}

// reconcile adopts the vault's reported strategy when it names a registered strategy.
func (e *Engine) reconcile(ctx context.Context) {
	current, err := e.ledger.CurrentStrategy(ctx)
	if err != nil {
		e.logger.Warn("Could not query vault strategy, keeping local state", zap.Error(err))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if current == e.state.ActiveStrategy {
		return
	}
	if current == "" {
		e.logger.Warn("Vault reports no strategy, keeping local state",
			zap.String("active_strategy", e.state.ActiveStrategy))
		return
	}
	if !e.registry.IsRegistered(current) {
		e.logger.Warn("Vault reports an unregistered strategy, keeping local state",
			zap.String("vault_strategy", current),
			zap.String("active_strategy", e.state.ActiveStrategy))
		return
	}
	e.logger.Warn("Vault strategy differs from local state, adopting vault",
		zap.String("vault_strategy", current),
		zap.String("active_strategy", e.state.ActiveStrategy))
	e.state.ActiveStrategy = current
}

// Run triggers a cycle immediately and then every TickInterval until ctx is cancelled.
// Cycles run as caller.
func (e *Engine) Run(ctx context.Context, caller string) {
	ticker := time.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()

	e.logger.Info("Starting evaluation loop", zap.Duration("interval", e.opts.TickInterval))
	e.trigger(ctx, caller)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping evaluation loop...")
			return
		case <-ticker.C:
			e.trigger(ctx, caller)
		}
	}
}

func (e *Engine) trigger(ctx context.Context, caller string) {
	out, err := e.EvaluateAndAct(ctx, caller)
	switch {
	case err == nil:
		e.logger.Info("Cycle complete",
			zap.String("cycle_id", out.CycleID),
			zap.Bool("acted", out.Acted),
			zap.String("reason", string(out.Recommendation.Reason)))
	case errors.Is(err, ErrCycleInProgress):
		e.logger.Debug("Skipping tick, cycle still running")
	case errors.Is(err, ErrNoStrategies):
		e.logger.Warn("Skipping tick, no strategies registered")
	case ctx.Err() != nil:
	default:
		e.logger.Error("Cycle failed", zap.String("cycle_id", out.CycleID), zap.Error(err))
	}
}

// Strategies returns every registered strategy record.
func (e *Engine) Strategies() []registry.Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.Registered()
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if e.events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	// Sinks log their own failures.
	_ = e.events.Publish(context.WithoutCancel(ctx), ev)
}

func (e *Engine) persistState(ctx context.Context, st store.State) {
	if err := e.store.SaveState(context.WithoutCancel(ctx), st); err != nil {
		e.logger.Error("Failed to persist agent state", zap.Error(err))
	}
}

func (e *Engine) persistStrategy(ctx context.Context, rec registry.Record) {
	if err := e.store.SaveStrategy(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Error("Failed to persist strategy", zap.String("strategy", rec.ID), zap.Error(err))
	}
}

type nopStore struct{}

func (nopStore) LoadState(context.Context) (store.State, bool, error)         { return store.State{}, false, nil }
func (nopStore) SaveState(context.Context, store.State) error                  { return nil }
func (nopStore) LoadStrategies(context.Context) ([]registry.Record, error)     { return nil, nil }
func (nopStore) SaveStrategy(context.Context, registry.Record) error           { return nil }
func (nopStore) SaveSnapshots(context.Context, string, time.Time, []scoring.Candidate) error {
	return nil
}
