package models

import (
	"time"

	"gorm.io/gorm"
)

// AgentState is the decision engine's own bookkeeping.
// There should only ever be one row in this table.
type AgentState struct {
	gorm.Model
	ActiveStrategy    string
	LastRebalanceTime time.Time
	CooldownSeconds   int64
	MinImprovementBps int64
}
