// Package events carries the observable state changes of the engine to any number of sinks.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type names an engine state change.
type Type string

const (
	StrategyRegistered   Type = "strategy_registered"
	StrategyDeregistered Type = "strategy_deregistered"
	RebalanceExecuted    Type = "rebalance_executed"
	RebalanceFailed      Type = "rebalance_failed"
	EvaluationRejected   Type = "evaluation_rejected"
	ConfigChanged        Type = "config_changed"
)

// Event is one observable state change.
type Event struct {
	ID             string    `json:"id"`
	Type           Type      `json:"type"`
	CycleID        string    `json:"cycle_id,omitempty"`
	StrategyID     string    `json:"strategy_id,omitempty"`
	FromStrategy   string    `json:"from_strategy,omitempty"`
	ToStrategy     string    `json:"to_strategy,omitempty"`
	ScoreDelta     int64     `json:"score_delta,omitempty"`
	ImprovementBps *int64    `json:"improvement_bps,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Sink receives published events.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus fans events out to every sink. A failing sink is logged and never blocks the others.
type Bus struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewBus returns a bus delivering to sinks.
func NewBus(logger *zap.Logger, sinks ...Sink) *Bus {
	return &Bus{sinks: sinks, logger: logger}
}

// Add appends a sink.
func (b *Bus) Add(s Sink) {
	b.sinks = append(b.sinks, s)
}

// Publish stamps ev with an id and delivers it. The first sink error is returned after every
// sink has been tried.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	var firstErr error
	for _, s := range b.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			b.logger.Error("Failed to publish event",
				zap.String("event_id", ev.ID),
				zap.String("type", string(ev.Type)),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// LogSink writes events to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink logging through logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("type", string(ev.Type)),
		zap.Time("timestamp", ev.Timestamp),
	}
	if ev.CycleID != "" {
		fields = append(fields, zap.String("cycle_id", ev.CycleID))
	}
	if ev.StrategyID != "" {
		fields = append(fields, zap.String("strategy", ev.StrategyID))
	}
	if ev.FromStrategy != "" || ev.ToStrategy != "" {
		fields = append(fields, zap.String("from", ev.FromStrategy), zap.String("to", ev.ToStrategy),
			zap.Int64("score_delta", ev.ScoreDelta))
	}
	if ev.ImprovementBps != nil {
		fields = append(fields, zap.Int64("improvement_bps", *ev.ImprovementBps))
	}
	if ev.Reason != "" {
		fields = append(fields, zap.String("reason", ev.Reason))
	}
	if ev.Detail != "" {
		fields = append(fields, zap.String("detail", ev.Detail))
	}

	switch ev.Type {
	case RebalanceFailed:
		s.logger.Warn("Engine event", fields...)
	default:
		s.logger.Info("Engine event", fields...)
	}
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.Events = append(r.Events, ev)
	return nil
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, ev := range r.Events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
