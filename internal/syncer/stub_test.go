package syncer

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"jirasync/internal/browser"
	"jirasync/internal/models"
	"jirasync/internal/notify"
	"jirasync/internal/repository"
	"jirasync/internal/scraper"
	"jirasync/internal/session"
)

type stubRepo struct {
	mu      sync.Mutex
	parents []models.ParentTask
	subs    []models.SubTask
	states  map[string]models.SyncState

	rebuildErr error
	rebuilds   int
}

func (r *stubRepo) InTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (r *stubRepo) ListSubTasksWithParents(context.Context) ([]models.SubTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byID := make(map[uint]models.ParentTask, len(r.parents))
	for _, p := range r.parents {
		byID[p.ID] = p
	}
	out := make([]models.SubTask, len(r.subs))
	for i, s := range r.subs {
		out[i] = s
		if p, ok := byID[s.ParentTaskID]; ok {
			pc := p
			out[i].ParentTask = &pc
		}
	}
	return out, nil
}

func (r *stubRepo) ListParentTasks(context.Context) ([]models.ParentTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ParentTask(nil), r.parents...), nil
}

func (r *stubRepo) CountParentTasks(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.parents)), nil
}

func (r *stubRepo) CountSubTasks(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.subs)), nil
}

func (r *stubRepo) Rebuild(_ context.Context, parents []models.ParentTask, subs []models.SubTask) (repository.RebuildStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rebuilds++
	if r.rebuildErr != nil {
		return repository.RebuildStats{}, &repository.StoreError{Op: "rebuild", Err: r.rebuildErr}
	}

	var stats repository.RebuildStats
	newParents := make([]models.ParentTask, len(parents))
	idByTicket := make(map[string]uint, len(parents))
	for i, p := range parents {
		p.ID = uint(i + 1)
		newParents[i] = p
		idByTicket[p.TicketNumber] = p.ID
	}

	newSubs := make([]models.SubTask, 0, len(subs))
	for i, s := range subs {
		ticket := ""
		if s.ParentTask != nil {
			ticket = s.ParentTask.TicketNumber
		}
		id, ok := idByTicket[ticket]
		if !ok {
			stats.DroppedSubs++
			continue
		}
		s.ID = uint(i + 1)
		s.ParentTaskID = id
		s.ParentTask = nil
		newSubs = append(newSubs, s)
	}

	r.parents = newParents
	r.subs = newSubs
	stats.Parents = len(newParents)
	stats.Subs = len(newSubs)
	return stats, nil
}

func (r *stubRepo) GetSyncState(_ context.Context, scope string) (*models.SyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[scope]; ok {
		sc := st
		return &sc, nil
	}
	return nil, nil
}

func (r *stubRepo) SaveSyncState(_ context.Context, state *models.SyncState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states == nil {
		r.states = make(map[string]models.SyncState)
	}
	r.states[state.Scope] = *state
	return nil
}

func (r *stubRepo) GetSetting(context.Context, string) (*models.Setting, error) { return nil, nil }
func (r *stubRepo) SaveSetting(context.Context, *models.Setting) error         { return nil }

type stubSessions struct {
	mu     sync.Mutex
	logins int
	err    error
}

func (s *stubSessions) EnsureSession(context.Context, string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.logins++
	return &session.Session{Cookies: []browser.Cookie{{Name: "sid", Value: "x"}}}, nil
}

func (s *stubSessions) Invalidate() {}

type stubExtractor struct {
	mu      sync.Mutex
	parents []scraper.ParentRow
	subs    []scraper.SubRow

	parentErr error
	subErr    error

	// block, when set, holds ExtractParentTasks until released so tests
	// can observe the single-flight gate.
	block   chan struct{}
	entered chan struct{}
}

func (e *stubExtractor) ExtractParentTasks(ctx context.Context, _ string, _ []browser.Cookie) ([]scraper.ParentRow, error) {
	if e.entered != nil {
		e.entered <- struct{}{}
	}
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.parentErr != nil {
		return nil, e.parentErr
	}
	return append([]scraper.ParentRow(nil), e.parents...), nil
}

func (e *stubExtractor) ExtractSubTasks(_ context.Context, _ string, _ []browser.Cookie) ([]scraper.SubRow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subErr != nil {
		return nil, e.subErr
	}
	return append([]scraper.SubRow(nil), e.subs...), nil
}

type memoNotification struct {
	Kind    notify.Kind
	Title   string
	Message string
}

type memoNotifier struct {
	mu   sync.Mutex
	sent []memoNotification
}

func (n *memoNotifier) Notify(_ context.Context, kind notify.Kind, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, memoNotification{Kind: kind, Title: title, Message: message})
	return nil
}

func (n *memoNotifier) all() []memoNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]memoNotification(nil), n.sent...)
}
