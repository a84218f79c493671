package models

import (
	"time"
)

// ParentTask is a top-level work item harvested from the tracker site.
// TicketNumber is the only identifier that is stable across sync cycles;
// ID is reassigned on every full rebuild.
type ParentTask struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	TicketNumber string `gorm:"type:varchar(50);not null;uniqueIndex"`
	Description  string `gorm:"type:text"`
	Status       string `gorm:"type:varchar(50)"`

	// BatchName is the release-batch label whose transitions are tracked
	// for change notification. PreviousBatchName holds the value seen in
	// the prior cycle so the change survives the rebuild.
	BatchName         string `gorm:"type:varchar(50);index"`
	PreviousBatchName string `gorm:"type:varchar(50)"`

	PreviousDescription string `gorm:"type:text"`

	Assignee  string `gorm:"type:varchar(100)"`
	SourceURL string `gorm:"type:varchar(500)"`
	Priority  string `gorm:"type:varchar(20)"`

	BatchChangeNotified       bool `gorm:"not null;default:false"`
	DescriptionChangeNotified bool `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime;index"`

	SubTasks []SubTask `gorm:"foreignKey:ParentTaskID;constraint:OnDelete:CASCADE"`
}

func (ParentTask) TableName() string {
	return "parent_tasks"
}
