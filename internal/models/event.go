package models

import (
	"time"

	"gorm.io/gorm"
)

// Event is one journaled engine event.
type Event struct {
	gorm.Model
	EventID        string    `gorm:"uniqueIndex" json:"event_id"`
	Type           string    `gorm:"index" json:"type"`
	CycleID        string    `gorm:"index" json:"cycle_id,omitempty"`
	StrategyID     string    `json:"strategy_id,omitempty"`
	FromStrategy   string    `json:"from_strategy,omitempty"`
	ToStrategy     string    `json:"to_strategy,omitempty"`
	ScoreDelta     int64     `json:"score_delta,omitempty"`
	ImprovementBps *int64    `json:"improvement_bps,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	Timestamp      time.Time `gorm:"index" json:"timestamp"`
}
