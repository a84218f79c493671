package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubTask is a child work item owned by exactly one ParentTask. Rows are
// recreated wholesale on every successful sync cycle.
type SubTask struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	TicketNumber string `gorm:"type:varchar(50);not null;uniqueIndex"`
	Name         string `gorm:"type:varchar(200);not null"`
	Status       string `gorm:"type:varchar(50)"`
	Assignee     string `gorm:"type:varchar(100)"`
	Priority     string `gorm:"type:varchar(20)"`

	EstimatedHours  decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`
	ActualHours     decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`
	EstimatedDoneAt *time.Time      `gorm:"type:timestamptz"`
	ActualDoneAt    *time.Time      `gorm:"type:timestamptz"`

	CodeMerged   bool   `gorm:"not null;default:false"`
	HasSQLScript bool   `gorm:"not null;default:false"`
	SQLScript    string `gorm:"type:text"`
	HasConfig    bool   `gorm:"not null;default:false"`
	Config       string `gorm:"type:text"`

	// BatchChanged marks rows whose owning parent's batch label moved in
	// the cycle that wrote this row. It is rewritten on every rebuild and
	// carries no history.
	BatchChanged bool `gorm:"not null;default:false"`

	SourceURL string `gorm:"type:varchar(500)"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime;index"`

	ParentTaskID uint        `gorm:"not null;index"`
	ParentTask   *ParentTask `gorm:"foreignKey:ParentTaskID;constraint:OnDelete:CASCADE"`
}

func (SubTask) TableName() string {
	return "sub_tasks"
}
