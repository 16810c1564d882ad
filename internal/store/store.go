// Package store persists the engine's bookkeeping and event journal with gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"gorm.io/gorm"

	"yield-rebalance-agent/internal/events"
	"yield-rebalance-agent/internal/models"
	"yield-rebalance-agent/internal/registry"
	"yield-rebalance-agent/internal/scoring"
	"yield-rebalance-agent/internal/strategy"
)

// State is the persisted view of the engine's singleton state.
type State struct {
	ActiveStrategy    string
	LastRebalanceTime time.Time
	Cooldown          time.Duration
	MinImprovementBps int64
}

// Store is a gorm-backed repository.
type Store struct {
	db *gorm.DB
}

// New returns a store over db. The schema must already be migrated.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// LoadState returns the persisted state. ok is false when nothing was saved yet.
func (s *Store) LoadState(ctx context.Context) (state State, ok bool, err error) {
	var row models.AgentState
	err = s.db.WithContext(ctx).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("failed to load agent state: %w", err)
	}
	return State{
		ActiveStrategy:    row.ActiveStrategy,
		LastRebalanceTime: row.LastRebalanceTime,
		Cooldown:          time.Duration(row.CooldownSeconds) * time.Second,
		MinImprovementBps: row.MinImprovementBps,
	}, true, nil
}

// SaveState overwrites the single state row.
func (s *Store) SaveState(ctx context.Context, state State) error {
	db := s.db.WithContext(ctx)

	var row models.AgentState
	if err := db.First(&row).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to load agent state: %w", err)
	}
	row.ActiveStrategy = state.ActiveStrategy
	row.LastRebalanceTime = state.LastRebalanceTime
	row.CooldownSeconds = int64(state.Cooldown / time.Second)
	row.MinImprovementBps = state.MinImprovementBps

	if err := db.Save(&row).Error; err != nil {
		return fmt.Errorf("failed to save agent state: %w", err)
	}
	return nil
}

// LoadStrategies returns every persisted strategy record, registered or not.
func (s *Store) LoadStrategies(ctx context.Context) ([]registry.Record, error) {
	var rows []models.Strategy
	if err := s.db.WithContext(ctx).Order("strategy_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load strategies: %w", err)
	}

	records := make([]registry.Record, 0, len(rows))
	for _, row := range rows {
		tvl, ok := sdkmath.NewIntFromString(row.LastTVL)
		if !ok {
			tvl = sdkmath.ZeroInt()
		}
		records = append(records, registry.Record{
			ID:         row.StrategyID,
			Registered: row.Registered,
			Metrics: strategy.Metrics{
				APY:       row.LastAPY,
				TVL:       tvl,
				RiskLevel: row.LastRiskLevel,
				Healthy:   row.LastHealthy,
			},
			HasMetrics:           row.HasMetrics,
			LastRefreshedAt:      row.LastRefreshedAt,
			SuccessfulRebalances: row.SuccessfulRebalances,
		})
	}
	return records, nil
}

// SaveStrategy upserts rec by strategy id.
func (s *Store) SaveStrategy(ctx context.Context, rec registry.Record) error {
	db := s.db.WithContext(ctx)

	var row models.Strategy
	err := db.Where(&models.Strategy{StrategyID: rec.ID}).First(&row).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to load strategy %s: %w", rec.ID, err)
	}

	row.StrategyID = rec.ID
	row.Registered = rec.Registered
	row.LastAPY = rec.Metrics.APY
	row.LastTVL = "0"
	if !rec.Metrics.TVL.IsNil() {
		row.LastTVL = rec.Metrics.TVL.String()
	}
	row.LastRiskLevel = rec.Metrics.RiskLevel
	row.LastHealthy = rec.Metrics.Healthy
	row.HasMetrics = rec.HasMetrics
	row.SuccessfulRebalances = rec.SuccessfulRebalances
	row.LastRefreshedAt = rec.LastRefreshedAt

	if err := db.Save(&row).Error; err != nil {
		return fmt.Errorf("failed to save strategy %s: %w", rec.ID, err)
	}
	return nil
}

// SaveSnapshots records the scores computed during one cycle.
func (s *Store) SaveSnapshots(ctx context.Context, cycleID string, at time.Time, candidates []scoring.Candidate) error {
	if len(candidates) == 0 {
		return nil
	}
	rows := make([]models.ScoreSnapshot, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, models.ScoreSnapshot{
			CycleID:    cycleID,
			StrategyID: c.ID,
			APY:        c.APY,
			TVL:        c.TVL.String(),
			RiskLevel:  c.RiskLevel,
			Healthy:    c.Healthy,
			Score:      c.Score,
			Confidence: c.Confidence,
			Timestamp:  at,
		})
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to save score snapshots: %w", err)
	}
	return nil
}

// ListSnapshots returns the most recent snapshots, newest first. An empty strategyID
// matches every strategy.
func (s *Store) ListSnapshots(ctx context.Context, strategyID string, limit int) ([]models.ScoreSnapshot, error) {
	q := s.db.WithContext(ctx).Order("timestamp desc, id desc").Limit(limit)
	if strategyID != "" {
		q = q.Where("strategy_id = ?", strategyID)
	}
	var rows []models.ScoreSnapshot
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list score snapshots: %w", err)
	}
	return rows, nil
}

// Publish journals ev. Store satisfies events.Sink.
func (s *Store) Publish(ctx context.Context, ev events.Event) error {
	row := models.Event{
		EventID:        ev.ID,
		Type:           string(ev.Type),
		CycleID:        ev.CycleID,
		StrategyID:     ev.StrategyID,
		FromStrategy:   ev.FromStrategy,
		ToStrategy:     ev.ToStrategy,
		ScoreDelta:     ev.ScoreDelta,
		ImprovementBps: ev.ImprovementBps,
		Reason:         ev.Reason,
		Detail:         ev.Detail,
		Timestamp:      ev.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to journal event %s: %w", ev.ID, err)
	}
	return nil
}

// ListEvents returns the most recent journaled events, newest first. An empty eventType
// matches every type.
func (s *Store) ListEvents(ctx context.Context, eventType events.Type, limit int) ([]models.Event, error) {
	q := s.db.WithContext(ctx).Order("timestamp desc, id desc").Limit(limit)
	if eventType != "" {
		q = q.Where("type = ?", string(eventType))
	}
	var rows []models.Event
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return rows, nil
}

// CountEvents counts journaled events of eventType at or after since. A zero since counts
// all of them.
func (s *Store) CountEvents(ctx context.Context, eventType events.Type, since time.Time) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Event{}).Where("type = ?", string(eventType))
	if !since.IsZero() {
		q = q.Where("timestamp >= ?", since)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}
