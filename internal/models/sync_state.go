package models

import (
	"time"

	"gorm.io/datatypes"
)

// SyncState is a per-scope audit row updated at the end of every run,
// successful or not.
type SyncState struct {
	Scope         string         `gorm:"primaryKey;type:text"`
	LastAttemptAt *time.Time     `gorm:"type:timestamptz"`
	LastSuccessAt *time.Time     `gorm:"type:timestamptz"`
	LastError     *string        `gorm:"type:text"`
	StatsJSON     datatypes.JSON `gorm:"type:jsonb"`
}

func (SyncState) TableName() string {
	return "sync_state"
}
