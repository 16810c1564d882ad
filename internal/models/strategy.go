package models

import (
	"time"

	"gorm.io/gorm"
)

// Strategy is the persisted bookkeeping of one strategy.
// TVL is stored as a decimal string in native units to keep full precision.
type Strategy struct {
	gorm.Model
	StrategyID           string `gorm:"uniqueIndex;not null"`
	Registered           bool   `gorm:"default:true"`
	LastAPY              uint64
	LastTVL              string
	LastRiskLevel        uint64
	LastHealthy          bool
	HasMetrics           bool
	SuccessfulRebalances uint64
	LastRefreshedAt      time.Time
}
