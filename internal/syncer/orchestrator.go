package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"jirasync/internal/browser"
	"jirasync/internal/config"
	cronrunner "jirasync/internal/cron"
	"jirasync/internal/diff"
	"jirasync/internal/models"
	"jirasync/internal/notify"
	"jirasync/internal/repository"
	"jirasync/internal/scraper"
	"jirasync/internal/session"
)

const syncScope = "tracker"

// SessionSource yields the credential cookies used for extraction.
type SessionSource interface {
	EnsureSession(ctx context.Context, loginURL string) (*session.Session, error)
	Invalidate()
}

// Extractor pulls typed rows out of the two list pages.
type Extractor interface {
	ExtractParentTasks(ctx context.Context, url string, cookies []browser.Cookie) ([]scraper.ParentRow, error)
	ExtractSubTasks(ctx context.Context, url string, cookies []browser.Cookie) ([]scraper.SubRow, error)
}

// Summary describes one completed sync run.
type Summary struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Parents     int       `json:"parents"`
	Subs        int       `json:"subs"`
	DroppedSubs int       `json:"dropped_subs"`
	Changes     int       `json:"changes"`
}

// Result is what one trigger attempt produced. Skipped means another run
// already held the pipeline; nothing was scraped or written.
type Result struct {
	RunID   string
	Skipped bool
	Summary Summary
	Changes []diff.ChangeEvent
}

// State is a point-in-time snapshot of the scheduler, safe to serve from
// HTTP handlers while a run is in flight.
type State struct {
	Running         bool       `json:"running"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	LastSummary     *Summary   `json:"last_summary,omitempty"`
	IntervalMinutes int        `json:"interval_minutes"`
	ParentListURL   string     `json:"parent_list_url"`
	SubListURL      string     `json:"sub_list_url"`
}

// Orchestrator drives the scrape, diff and rebuild pipeline. At most one
// run is ever in flight; triggers that land while a run holds the pipeline
// are dropped, never queued.
type Orchestrator struct {
	Repo      repository.Repository
	Sessions  SessionSource
	Extract   Extractor
	Detector  *diff.Detector
	Notifier  notify.Notifier
	ConfStore *config.Store
	Logger    *zap.Logger

	LoginURL string

	// BaseCtx is the process-lifetime context scheduled and immediate runs
	// derive from. Request contexts must not leak into background runs.
	BaseCtx context.Context

	running atomic.Bool

	mu              sync.Mutex
	parentURL       string
	subURL          string
	interval        int
	runner          *cronrunner.Runner
	entry           cron.EntryID
	scheduled       bool
	cancelRun       context.CancelFunc
	startedAt       *time.Time
	lastCompletedAt *time.Time
	lastError       string
	lastSummary     *Summary
}

// Start reconfigures the scheduler: it persists the settings, cancels any
// in-flight run, triggers an immediate run, then arms the repeating timer.
func (o *Orchestrator) Start(_ context.Context, parentURL, subURL string, intervalMinutes int) error {
	if err := validateListURL("site.parent_list_url", parentURL); err != nil {
		return err
	}
	if err := validateListURL("site.sub_list_url", subURL); err != nil {
		return err
	}
	if intervalMinutes < 1 {
		return &config.ConfigError{Field: "sync.interval_minutes", Reason: "must be at least 1"}
	}

	if o.ConfStore != nil {
		if err := o.ConfStore.SaveSync(parentURL, subURL, intervalMinutes); err != nil {
			return fmt.Errorf("persist sync settings: %w", err)
		}
	}

	o.mu.Lock()
	o.parentURL = parentURL
	o.subURL = subURL
	o.interval = intervalMinutes
	if o.runner == nil {
		o.runner = cronrunner.New(o.Logger, o.baseContext())
		o.runner.Start()
	}
	if o.scheduled {
		o.runner.Remove(o.entry)
		o.scheduled = false
	}
	if o.cancelRun != nil {
		o.cancelRun()
		o.cancelRun = nil
	}
	entry, err := o.runner.Add(fmt.Sprintf("@every %dm", intervalMinutes), func(jobCtx context.Context) {
		_, _ = o.RunOnce(jobCtx)
	})
	if err != nil {
		o.mu.Unlock()
		return fmt.Errorf("schedule sync: %w", err)
	}
	o.entry = entry
	o.scheduled = true
	o.mu.Unlock()

	if o.Logger != nil {
		o.Logger.Info("sync scheduled",
			zap.Int("interval_minutes", intervalMinutes),
			zap.String("parent_list_url", parentURL),
			zap.String("sub_list_url", subURL))
	}

	go func() { _, _ = o.RunOnce(o.baseContext()) }()
	return nil
}

func (o *Orchestrator) baseContext() context.Context {
	if o.BaseCtx != nil {
		return o.BaseCtx
	}
	return context.Background()
}

// Stop disarms the timer and asks any in-flight run to wind down. It does
// not wait for the run to observe the cancellation.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.scheduled && o.runner != nil {
		o.runner.Remove(o.entry)
		o.scheduled = false
	}
	if o.cancelRun != nil {
		o.cancelRun()
		o.cancelRun = nil
	}
}

// Shutdown stops the scheduler and drains the cron runner.
func (o *Orchestrator) Shutdown() {
	o.Stop()
	o.mu.Lock()
	runner := o.runner
	o.runner = nil
	o.mu.Unlock()
	if runner != nil {
		runner.Stop()
	}
}

// RunOnce executes one pipeline pass unless another pass already holds the
// single-flight gate, in which case the result comes back Skipped.
func (o *Orchestrator) RunOnce(ctx context.Context) (Result, error) {
	if !o.running.CompareAndSwap(false, true) {
		if o.Logger != nil {
			o.Logger.Info("sync trigger dropped, run already in flight")
		}
		return Result{Skipped: true}, nil
	}
	defer o.running.Store(false)

	runID := uuid.NewString()
	startedAt := time.Now().UTC()

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancelRun = cancel
	o.startedAt = &startedAt
	parentURL, subURL := o.parentURL, o.subURL
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		if o.cancelRun != nil {
			o.cancelRun = nil
		}
		o.startedAt = nil
		o.mu.Unlock()
	}()

	if parentURL == "" || subURL == "" {
		err := &config.ConfigError{Field: "site.parent_list_url", Reason: "sync has not been configured"}
		o.recordFailure(ctx, runID, startedAt, err)
		return Result{RunID: runID}, err
	}

	logger := o.logger().With(zap.String("run_id", runID))
	logger.Info("sync run started")
	if o.Notifier != nil {
		_ = o.Notifier.Notify(runCtx, notify.KindInfo, "sync run started",
			fmt.Sprintf("run %s started at %s", runID, startedAt.Format(time.RFC3339)))
	}

	res, err := o.run(runCtx, runID, startedAt, parentURL, subURL)
	if err != nil {
		o.recordFailure(ctx, runID, startedAt, err)
		return Result{RunID: runID}, err
	}

	finishedAt := time.Now().UTC()
	res.Summary.FinishedAt = finishedAt
	o.mu.Lock()
	o.lastCompletedAt = &finishedAt
	o.lastError = ""
	summary := res.Summary
	o.lastSummary = &summary
	o.mu.Unlock()

	o.recordSuccess(ctx, res.Summary)
	o.announce(ctx, res)

	logger.Info("sync run completed",
		zap.Int("parents", res.Summary.Parents),
		zap.Int("subs", res.Summary.Subs),
		zap.Int("dropped_subs", res.Summary.DroppedSubs),
		zap.Int("changes", res.Summary.Changes),
		zap.Duration("took", finishedAt.Sub(startedAt)))
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, runID string, startedAt time.Time, parentURL, subURL string) (Result, error) {
	sess, err := o.Sessions.EnsureSession(ctx, o.LoginURL)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	parentRows, err := o.Extract.ExtractParentTasks(ctx, parentURL, sess.Cookies)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	subRows, err := o.Extract.ExtractSubTasks(ctx, subURL, sess.Cookies)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	prev, err := o.Repo.ListSubTasksWithParents(ctx)
	if err != nil {
		return Result{}, err
	}

	parents, subs := o.assemble(parentRows, subRows, prev)

	detector := o.Detector
	if detector == nil {
		detector = diff.NewDetector(false)
	}
	changes := detector.Detect(prev, subs)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	stats, err := o.Repo.Rebuild(ctx, parents, subs)
	if err != nil {
		return Result{}, err
	}

	return Result{
		RunID: runID,
		Summary: Summary{
			RunID:       runID,
			StartedAt:   startedAt,
			Parents:     stats.Parents,
			Subs:        stats.Subs,
			DroppedSubs: stats.DroppedSubs,
			Changes:     len(changes),
		},
		Changes: changes,
	}, nil
}

// assemble maps scraped rows to model rows for the rebuild. Fields the list
// pages do not carry (merge flags, scripts, completion dates) and the change
// bookkeeping survive from the previous cycle's rows, keyed by ticket number.
func (o *Orchestrator) assemble(parentRows []scraper.ParentRow, subRows []scraper.SubRow, prev []models.SubTask) ([]models.ParentTask, []models.SubTask) {
	prevSubs := make(map[string]models.SubTask, len(prev))
	prevParents := make(map[string]models.ParentTask)
	for _, s := range prev {
		prevSubs[s.TicketNumber] = s
		if s.ParentTask != nil {
			prevParents[s.ParentTask.TicketNumber] = *s.ParentTask
		}
	}

	parents := make([]models.ParentTask, 0, len(parentRows))
	for _, row := range parentRows {
		p := models.ParentTask{
			TicketNumber: row.TicketNumber,
			Description:  row.Description,
			Status:       row.Status,
			BatchName:    row.BatchName,
			Assignee:     row.Assignee,
			Priority:     row.Priority,
			SourceURL:    row.SourceURL,
		}
		if old, ok := prevParents[row.TicketNumber]; ok {
			if old.BatchName != row.BatchName {
				p.PreviousBatchName = old.BatchName
				p.BatchChangeNotified = false
			} else {
				p.PreviousBatchName = old.PreviousBatchName
				p.BatchChangeNotified = old.BatchChangeNotified
			}
			if old.Description != row.Description {
				p.PreviousDescription = old.Description
				p.DescriptionChangeNotified = false
			} else {
				p.PreviousDescription = old.PreviousDescription
				p.DescriptionChangeNotified = old.DescriptionChangeNotified
			}
		}
		parents = append(parents, p)
	}

	parentAt := make(map[string]*models.ParentTask, len(parents))
	for i := range parents {
		parentAt[parents[i].TicketNumber] = &parents[i]
	}

	subs := make([]models.SubTask, 0, len(subRows))
	for _, row := range subRows {
		s := models.SubTask{
			TicketNumber:    row.TicketNumber,
			Name:            row.Name,
			Status:          row.Status,
			Assignee:        row.Assignee,
			Priority:        row.Priority,
			EstimatedHours:  row.EstimatedHours,
			ActualHours:     row.ActualHours,
			EstimatedDoneAt: row.EstimatedDoneAt,
			SourceURL:       row.SourceURL,
			ParentTask:      parentAt[row.ParentTicket],
		}
		if old, ok := prevSubs[row.TicketNumber]; ok {
			s.ActualDoneAt = old.ActualDoneAt
			s.CodeMerged = old.CodeMerged
			s.HasSQLScript = old.HasSQLScript
			s.SQLScript = old.SQLScript
			s.HasConfig = old.HasConfig
			s.Config = old.Config
		}
		subs = append(subs, s)
	}
	return parents, subs
}

func (o *Orchestrator) recordSuccess(ctx context.Context, summary Summary) {
	now := time.Now().UTC()
	stats, _ := json.Marshal(summary)
	state := &models.SyncState{
		Scope:         syncScope,
		LastAttemptAt: &now,
		LastSuccessAt: &now,
		StatsJSON:     stats,
	}
	if err := o.Repo.SaveSyncState(ctx, state); err != nil {
		o.logger().Warn("failed to record sync state", zap.Error(err))
	}
}

func (o *Orchestrator) recordFailure(_ context.Context, runID string, startedAt time.Time, runErr error) {
	o.mu.Lock()
	o.lastError = runErr.Error()
	o.mu.Unlock()

	o.logger().Error("sync run failed", zap.String("run_id", runID), zap.Error(runErr))

	// The run context may already be cancelled; state and notification
	// writes get their own bounded context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	msg := runErr.Error()
	state := &models.SyncState{
		Scope:         syncScope,
		LastAttemptAt: &now,
		LastError:     &msg,
	}
	if prev, err := o.Repo.GetSyncState(ctx, syncScope); err == nil && prev != nil {
		state.LastSuccessAt = prev.LastSuccessAt
		state.StatsJSON = prev.StatsJSON
	}
	if err := o.Repo.SaveSyncState(ctx, state); err != nil {
		o.logger().Warn("failed to record sync state", zap.Error(err))
	}

	if o.Notifier != nil {
		_ = o.Notifier.Notify(ctx, notify.KindError, "sync run failed",
			fmt.Sprintf("run %s started at %s: %s", runID, startedAt.Format(time.RFC3339), runErr))
	}
}

func (o *Orchestrator) announce(ctx context.Context, res Result) {
	if o.Notifier == nil {
		return
	}
	_ = o.Notifier.Notify(ctx, notify.KindInfo, "sync run completed",
		fmt.Sprintf("run %s: %d parents, %d sub tasks, %d changes",
			res.RunID, res.Summary.Parents, res.Summary.Subs, res.Summary.Changes))
	for _, ev := range res.Changes {
		kind := notify.KindInfo
		title := fmt.Sprintf("%s %s changed", ev.SubTicket, changeLabel(ev.Field))
		_ = o.Notifier.Notify(ctx, kind, title,
			fmt.Sprintf("%s (parent %s): %s changed from %q to %q",
				ev.SubTicket, ev.ParentTicket, changeLabel(ev.Field), ev.Old, ev.New))
	}
}

func changeLabel(field string) string {
	switch field {
	case diff.FieldBatchName:
		return "batch tag"
	case diff.FieldDescription:
		return "description"
	default:
		return field
	}
}

// Snapshot reports the current scheduler state.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := State{
		Running:         o.running.Load(),
		LastError:       o.lastError,
		IntervalMinutes: o.interval,
		ParentListURL:   o.parentURL,
		SubListURL:      o.subURL,
	}
	if o.startedAt != nil {
		t := *o.startedAt
		st.StartedAt = &t
	}
	if o.lastCompletedAt != nil {
		t := *o.lastCompletedAt
		st.LastCompletedAt = &t
	}
	if o.lastSummary != nil {
		s := *o.lastSummary
		st.LastSummary = &s
	}
	return st
}

// LastRunAt returns when the last successful run finished, zero if none.
func (o *Orchestrator) LastRunAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastCompletedAt == nil {
		return time.Time{}
	}
	return *o.lastCompletedAt
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop()
}

func validateListURL(field, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &config.ConfigError{Field: field, Reason: "must not be empty"}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &config.ConfigError{Field: field, Reason: "must be an absolute http(s) url"}
	}
	return nil
}
