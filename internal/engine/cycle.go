package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"yield-rebalance-agent/internal/events"
	"yield-rebalance-agent/internal/gate"
	"yield-rebalance-agent/internal/registry"
	"yield-rebalance-agent/internal/scoring"
	"yield-rebalance-agent/internal/store"
)

// Outcome is the result of one evaluate-and-act cycle.
type Outcome struct {
	CycleID          string         `json:"cycle_id"`
	Acted            bool           `json:"acted"`
	Recommendation   Recommendation `json:"recommendation"`
	PreviousStrategy string         `json:"previous_strategy,omitempty"`
	NewStrategy      string         `json:"new_strategy,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
	Error            string         `json:"error,omitempty"`
}

// EvaluateAndAct refreshes every registered strategy, ranks them and moves the vault to the
// best one if every gate passes. It is the only entry point that changes the active strategy.
//
// Cycles never overlap: a call made while another is running fails with ErrCycleInProgress.
// Once the vault move is issued it runs to completion even if ctx is cancelled, bounded by
// the move timeout. A failed move leaves the engine state unchanged and returns ErrVaultCommand.
func (e *Engine) EvaluateAndAct(ctx context.Context, caller string) (Outcome, error) {
	if err := e.authorize(caller, RoleAgent); err != nil {
		return Outcome{}, err
	}
	if !e.cycleMu.TryLock() {
		return Outcome{}, ErrCycleInProgress
	}
	defer e.cycleMu.Unlock()

	out := Outcome{CycleID: uuid.NewString()}
	l := e.logger.With(zap.String("cycle_id", out.CycleID))

	targets, _ := e.snapshot()
	if len(targets) == 0 {
		return out, ErrNoStrategies
	}

	l.Debug("Refreshing strategy metrics", zap.Int("strategies", len(targets)))
	obs := e.observe(ctx, targets)
	if err := ctx.Err(); err != nil {
		return out, err
	}

	now := e.now()
	out.Timestamp = now

	e.mu.Lock()
	st := e.state
	rec, best := assess(e.gates, e.registry, obs, st, now)
	refreshed := e.registry.Registered()
	candidates := e.registry.Candidates()
	e.mu.Unlock()
	out.Recommendation = rec

	for _, x := range rec.Excluded {
		l.Warn("Strategy excluded from this cycle",
			zap.String("strategy", x.ID),
			zap.String("reason", x.Reason),
			zap.String("detail", x.Detail))
	}
	e.persistCycle(ctx, l, out.CycleID, now, refreshed, candidates)

	if !rec.WouldAct {
		l.Info("No rebalance this cycle",
			zap.String("reason", string(rec.Reason)),
			zap.String("rationale", rec.Rationale))
		e.publish(ctx, events.Event{
			Type:           events.EvaluationRejected,
			CycleID:        out.CycleID,
			StrategyID:     rec.CandidateID,
			ImprovementBps: rec.ImprovementBps,
			Reason:         string(rec.Reason),
			Detail:         rec.Rationale,
			Timestamp:      now,
		})
		e.finish(out, nil)
		return out, nil
	}

	return e.act(ctx, l, out, st, best)
}

// act moves the vault to best and commits the new state only after the vault confirms.
func (e *Engine) act(ctx context.Context, l *zap.Logger, out Outcome, st store.State, best *scoring.Candidate) (Outcome, error) {
	rec := out.Recommendation
	out.PreviousStrategy = st.ActiveStrategy

	l = l.With(zap.String("from", st.ActiveStrategy), zap.String("to", best.ID))
	l.Info("Moving funds",
		zap.Int64("score", best.Score),
		zap.Int64("active_score", rec.ActiveScore),
		zap.Bool("bootstrap", rec.Reason == gate.ReasonBootstrap))

	if err := e.move(ctx, best.ID); err != nil {
		err = fmt.Errorf("%w: move to %s: %v", ErrVaultCommand, best.ID, err)
		out.Error = err.Error()
		l.Error("Vault move failed, state unchanged", zap.Error(err))
		e.publish(ctx, events.Event{
			Type:         events.RebalanceFailed,
			CycleID:      out.CycleID,
			FromStrategy: st.ActiveStrategy,
			ToStrategy:   best.ID,
			Reason:       "vault_command_failed",
			Detail:       err.Error(),
			Timestamp:    out.Timestamp,
		})
		e.finish(out, err)
		return out, err
	}

	e.mu.Lock()
	e.state.ActiveStrategy = best.ID
	e.state.LastRebalanceTime = out.Timestamp
	_ = e.registry.IncrementRebalances(best.ID)
	newState := e.state
	newRec, _ := e.registry.Get(best.ID)
	e.mu.Unlock()

	out.Acted = true
	out.NewStrategy = best.ID

	// The vault already moved; persistence failures are only logged.
	e.persistState(ctx, newState)
	e.persistStrategy(ctx, newRec)

	l.Info("Rebalance executed",
		zap.Int64("score_delta", best.Score-rec.ActiveScore),
		zap.Uint64("successful_rebalances", newRec.SuccessfulRebalances))
	e.publish(ctx, events.Event{
		Type:           events.RebalanceExecuted,
		CycleID:        out.CycleID,
		FromStrategy:   st.ActiveStrategy,
		ToStrategy:     best.ID,
		ScoreDelta:     best.Score - rec.ActiveScore,
		ImprovementBps: rec.ImprovementBps,
		Reason:         string(rec.Reason),
		Timestamp:      out.Timestamp,
	})
	e.finish(out, nil)
	return out, nil
}

// move asks the vault to switch to id. The call is detached from ctx cancellation but
// bounded by MoveTimeout; a ledger that overruns the deadline counts as failed even if it
// later confirms.
func (e *Engine) move(ctx context.Context, id string) error {
	moveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.MoveTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- e.ledger.SetActiveStrategy(moveCtx, id)
	}()

	select {
	case err := <-done:
		if err == nil {
			err = moveCtx.Err()
		}
		return err
	case <-moveCtx.Done():
		return moveCtx.Err()
	}
}

func (e *Engine) persistCycle(ctx context.Context, l *zap.Logger, cycleID string, now time.Time, refreshed []registry.Record, candidates []scoring.Candidate) {
	for _, rec := range refreshed {
		e.persistStrategy(ctx, rec)
	}
	if err := e.store.SaveSnapshots(context.WithoutCancel(ctx), cycleID, now, candidates); err != nil {
		l.Error("Failed to persist score snapshots", zap.Error(err))
	}
}

// finish records the cycle for Status.
func (e *Engine) finish(out Outcome, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cycles++
	e.lastCycleAt = out.Timestamp
	e.lastOutcome = &out
	if err != nil {
		e.consecutiveFailures++
		e.lastError = err.Error()
		return
	}
	e.consecutiveFailures = 0
	e.lastError = ""
}
