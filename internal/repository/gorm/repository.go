package gormrepository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"jirasync/internal/models"
	"jirasync/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *Store) ListSubTasksWithParents(ctx context.Context) ([]models.SubTask, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SubTask
	err := s.db.WithContext(ctx).
		Model(&models.SubTask{}).
		Preload("ParentTask").
		Order("updated_at desc").
		Find(&items).Error
	if err != nil {
		return nil, &repository.StoreError{Op: "list sub tasks", Err: err}
	}
	return items, nil
}

func (s *Store) ListParentTasks(ctx context.Context) ([]models.ParentTask, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.ParentTask
	err := s.db.WithContext(ctx).
		Model(&models.ParentTask{}).
		Order("ticket_number asc").
		Find(&items).Error
	if err != nil {
		return nil, &repository.StoreError{Op: "list parent tasks", Err: err}
	}
	return items, nil
}

func (s *Store) CountParentTasks(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.ParentTask{}).Count(&n).Error; err != nil {
		return 0, &repository.StoreError{Op: "count parent tasks", Err: err}
	}
	return n, nil
}

func (s *Store) CountSubTasks(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.SubTask{}).Count(&n).Error; err != nil {
		return 0, &repository.StoreError{Op: "count sub tasks", Err: err}
	}
	return n, nil
}

// Rebuild replaces the whole dataset inside one transaction: delete subs,
// delete parents, restart the identity sequences, insert the new parents,
// re-read them to learn the generated ids, then insert subs linked by
// parent ticket number. Any failure rolls the whole thing back.
func (s *Store) Rebuild(ctx context.Context, parents []models.ParentTask, subs []models.SubTask) (repository.RebuildStats, error) {
	var stats repository.RebuildStats
	if s == nil || s.db == nil {
		return stats, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM sub_tasks").Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM parent_tasks").Error; err != nil {
			return err
		}
		if err := resetSequences(tx); err != nil {
			return err
		}

		for i := range parents {
			parents[i].ID = 0
		}
		if len(parents) > 0 {
			if err := tx.Create(&parents).Error; err != nil {
				return err
			}
		}

		var saved []models.ParentTask
		if err := tx.Find(&saved).Error; err != nil {
			return err
		}
		idByTicket := make(map[string]uint, len(saved))
		for _, p := range saved {
			idByTicket[p.TicketNumber] = p.ID
		}

		linked := make([]models.SubTask, 0, len(subs))
		for i := range subs {
			sub := subs[i]
			ticket := ""
			if sub.ParentTask != nil {
				ticket = sub.ParentTask.TicketNumber
			}
			id, ok := idByTicket[ticket]
			if !ok {
				stats.DroppedSubs++
				continue
			}
			sub.ID = 0
			sub.ParentTaskID = id
			sub.ParentTask = nil
			linked = append(linked, sub)
		}
		if len(linked) > 0 {
			if err := tx.Create(&linked).Error; err != nil {
				return err
			}
		}

		stats.Parents = len(parents)
		stats.Subs = len(linked)
		return nil
	})
	if err != nil {
		return repository.RebuildStats{}, &repository.StoreError{Op: "rebuild", Err: err}
	}
	return stats, nil
}

// resetSequences restarts the identity counters so rebuilt datasets get
// compact ids. Skipped on dialects without sequences.
func resetSequences(tx *gorm.DB) error {
	if tx.Dialector == nil || tx.Dialector.Name() != "postgres" {
		return nil
	}
	for _, seq := range []string{"parent_tasks_id_seq", "sub_tasks_id_seq"} {
		if err := tx.Exec("ALTER SEQUENCE " + seq + " RESTART WITH 1").Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetSyncState(ctx context.Context, scope string) (*models.SyncState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var state models.SyncState
	err := s.db.WithContext(ctx).Where("scope = ?", scope).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &repository.StoreError{Op: "get sync state", Err: err}
	}
	return &state, nil
}

func (s *Store) SaveSyncState(ctx context.Context, state *models.SyncState) error {
	if s == nil || s.db == nil || state == nil {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "scope"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_attempt_at",
			"last_success_at",
			"last_error",
			"stats_json",
		}),
	}).Create(state).Error
	if err != nil {
		return &repository.StoreError{Op: "save sync state", Err: err}
	}
	return nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.Setting
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &repository.StoreError{Op: "get setting", Err: err}
	}
	return &item, nil
}

func (s *Store) SaveSetting(ctx context.Context, item *models.Setting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Key) == "" {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
	if err != nil {
		return &repository.StoreError{Op: "save setting", Err: err}
	}
	return nil
}
