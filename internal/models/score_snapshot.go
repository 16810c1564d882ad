package models

import (
	"time"

	"gorm.io/gorm"
)

// ScoreSnapshot records how one strategy scored during one evaluation cycle.
type ScoreSnapshot struct {
	gorm.Model
	CycleID    string    `gorm:"index:idx_cycle_strategy" json:"cycle_id"`
	StrategyID string    `gorm:"index:idx_cycle_strategy" json:"strategy_id"`
	APY        uint64    `json:"apy"`
	TVL        string    `json:"tvl"`
	RiskLevel  uint64    `json:"risk_level"`
	Healthy    bool      `json:"healthy"`
	Score      int64     `json:"score"`
	Confidence int       `json:"confidence"`
	Timestamp  time.Time `gorm:"index" json:"timestamp"`
}
