package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"yield-rebalance-agent/internal/events"
	"yield-rebalance-agent/internal/registry"
	"yield-rebalance-agent/internal/strategy"
)

// RegisterStrategy adds id to the registry. The identifier must resolve and answer a
// liveness probe; the probe's metrics become the first snapshot.
func (e *Engine) RegisterStrategy(ctx context.Context, caller, id string) error {
	if err := e.authorize(caller, RoleOwner); err != nil {
		return err
	}
	if err := strategy.ValidateID(id); err != nil {
		return fmt.Errorf("%w: %v", registry.ErrInvalidStrategy, err)
	}

	e.mu.RLock()
	registered := e.registry.IsRegistered(id)
	e.mu.RUnlock()
	if registered {
		return fmt.Errorf("%w: %q", registry.ErrDuplicateStrategy, id)
	}

	src, err := e.resolver.Resolve(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %v", registry.ErrInvalidStrategy, err)
	}
	probe, err := strategy.Fetch(ctx, src, e.opts.MetricsTimeout)
	if err != nil {
		return fmt.Errorf("%w: liveness probe for %q failed: %v", registry.ErrInvalidStrategy, id, err)
	}

	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	now := e.now()
	e.mu.Lock()
	if err := e.registry.Register(id, src); err != nil {
		e.mu.Unlock()
		return err
	}
	_ = e.registry.Apply(id, probe, now)
	rec, _ := e.registry.Get(id)
	e.mu.Unlock()

	e.persistStrategy(ctx, rec)
	e.logger.Info("Strategy registered",
		zap.String("strategy", id),
		zap.Uint64("apy_bps", probe.APY),
		zap.Bool("healthy", probe.Healthy))
	e.publish(ctx, events.Event{Type: events.StrategyRegistered, StrategyID: id, Timestamp: now})
	return nil
}

// DeregisterStrategy removes id from future scoring. The active strategy cannot be removed.
func (e *Engine) DeregisterStrategy(ctx context.Context, caller, id string) error {
	if err := e.authorize(caller, RoleOwner); err != nil {
		return err
	}

	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	e.mu.Lock()
	if err := e.registry.Deregister(id, e.state.ActiveStrategy); err != nil {
		e.mu.Unlock()
		return err
	}
	rec, _ := e.registry.Get(id)
	e.mu.Unlock()

	e.persistStrategy(ctx, rec)
	e.logger.Info("Strategy deregistered", zap.String("strategy", id))
	e.publish(ctx, events.Event{Type: events.StrategyDeregistered, StrategyID: id})
	return nil
}

// SetCooldown changes the minimum time between rebalances.
func (e *Engine) SetCooldown(ctx context.Context, caller string, cooldown time.Duration) error {
	if err := e.authorize(caller, RoleOwner); err != nil {
		return err
	}
	if cooldown < 0 || cooldown > MaxCooldown {
		return fmt.Errorf("%w: %s not in [0, %s]", ErrInvalidCooldown, cooldown, MaxCooldown)
	}

	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	e.mu.Lock()
	previous := e.state.Cooldown
	e.state.Cooldown = cooldown
	st := e.state
	e.mu.Unlock()

	e.persistState(ctx, st)
	e.logger.Info("Cooldown updated", zap.Duration("previous", previous), zap.Duration("cooldown", cooldown))
	e.publish(ctx, events.Event{
		Type:   events.ConfigChanged,
		Reason: "cooldown",
		Detail: fmt.Sprintf("%s -> %s", previous, cooldown),
	})
	return nil
}

// SetMinImprovement changes the relative score improvement required to switch strategies.
func (e *Engine) SetMinImprovement(ctx context.Context, caller string, bps int64) error {
	if err := e.authorize(caller, RoleOwner); err != nil {
		return err
	}
	if bps < 0 || bps > MaxMinImprovementBps {
		return fmt.Errorf("%w: %d bps not in [0, %d]", ErrInvalidThreshold, bps, MaxMinImprovementBps)
	}

	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	e.mu.Lock()
	previous := e.state.MinImprovementBps
	e.state.MinImprovementBps = bps
	st := e.state
	e.mu.Unlock()

	e.persistState(ctx, st)
	e.logger.Info("Minimum improvement updated", zap.Int64("previous_bps", previous), zap.Int64("bps", bps))
	e.publish(ctx, events.Event{
		Type:   events.ConfigChanged,
		Reason: "min_improvement_bps",
		Detail: fmt.Sprintf("%d -> %d", previous, bps),
	})
	return nil
}
