package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"jirasync/internal/models"
)

// StoreError wraps a persistence failure. Rebuild failures roll the
// transaction back before surfacing one of these.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// RebuildStats summarizes one full-dataset replacement.
type RebuildStats struct {
	Parents     int `json:"parents"`
	Subs        int `json:"subs"`
	DroppedSubs int `json:"dropped_subs"`
}

// Repository is the persistent store for harvested work items. All writers
// go through the orchestrator's single-flight rebuild path, so the
// implementation does not need to coordinate concurrent rebuilds.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// ListSubTasksWithParents returns the current snapshot with parent
	// rows attached, newest first. This is the "previous dataset" input
	// to change detection.
	ListSubTasksWithParents(ctx context.Context) ([]models.SubTask, error)
	ListParentTasks(ctx context.Context) ([]models.ParentTask, error)
	CountParentTasks(ctx context.Context) (int64, error)
	CountSubTasks(ctx context.Context) (int64, error)

	// Rebuild atomically replaces the entire parent/sub dataset: either
	// both tables reflect exactly the given records afterwards, or the
	// store is unchanged. Sub records are linked to parents by ticket
	// number; records whose parent cannot be resolved are dropped.
	Rebuild(ctx context.Context, parents []models.ParentTask, subs []models.SubTask) (RebuildStats, error)

	GetSyncState(ctx context.Context, scope string) (*models.SyncState, error)
	SaveSyncState(ctx context.Context, state *models.SyncState) error

	GetSetting(ctx context.Context, key string) (*models.Setting, error)
	SaveSetting(ctx context.Context, item *models.Setting) error
}
