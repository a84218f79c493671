package syncer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"jirasync/internal/config"
	"jirasync/internal/diff"
	"jirasync/internal/repository"
	"jirasync/internal/scraper"
)

func newTestOrchestrator(repo *stubRepo, ext *stubExtractor, notifier *memoNotifier) *Orchestrator {
	o := &Orchestrator{
		Repo:     repo,
		Sessions: &stubSessions{},
		Extract:  ext,
		Detector: diff.NewDetector(false),
		Notifier: notifier,
		LoginURL: "https://tracker.example.com/login",
	}
	o.parentURL = "https://tracker.example.com/parents"
	o.subURL = "https://tracker.example.com/subs"
	return o
}

func sampleRows() ([]scraper.ParentRow, []scraper.SubRow) {
	parents := []scraper.ParentRow{
		{TicketNumber: "PROJ-1", Description: "login flow", BatchName: "2026-08", SourceURL: "https://t/p1"},
		{TicketNumber: "PROJ-2", Description: "billing", BatchName: "2026-08", SourceURL: "https://t/p2"},
		{TicketNumber: "PROJ-3", Description: "search", BatchName: "2026-09", SourceURL: "https://t/p3"},
	}
	subs := []scraper.SubRow{
		{TicketNumber: "PROJ-11", Name: "backend", ParentTicket: "PROJ-1"},
		{TicketNumber: "PROJ-12", Name: "frontend", ParentTicket: "PROJ-1"},
		{TicketNumber: "PROJ-21", Name: "backend", ParentTicket: "PROJ-2"},
		{TicketNumber: "PROJ-22", Name: "migration", ParentTicket: "PROJ-2"},
		{TicketNumber: "PROJ-31", Name: "indexer", ParentTicket: "PROJ-3"},
	}
	return parents, subs
}

func TestRunOnceRebuildsStore(t *testing.T) {
	repo := &stubRepo{}
	ext := &stubExtractor{}
	ext.parents, ext.subs = sampleRows()
	// One row with an unknown parent must be dropped, not inserted.
	ext.subs = append(ext.subs, scraper.SubRow{TicketNumber: "PROJ-99", Name: "orphan", ParentTicket: "PROJ-404"})
	notifier := &memoNotifier{}

	o := newTestOrchestrator(repo, ext, notifier)
	res, err := o.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Skipped {
		t.Fatal("run should not be skipped")
	}
	if res.Summary.Parents != 3 || res.Summary.Subs != 5 || res.Summary.DroppedSubs != 1 {
		t.Fatalf("unexpected summary: %+v", res.Summary)
	}

	subs, _ := repo.ListSubTasksWithParents(context.Background())
	for _, s := range subs {
		if s.ParentTask == nil {
			t.Fatalf("sub %s lost its parent", s.TicketNumber)
		}
	}
	byTicket := make(map[string]string)
	for _, s := range subs {
		byTicket[s.TicketNumber] = s.ParentTask.TicketNumber
	}
	if byTicket["PROJ-21"] != "PROJ-2" || byTicket["PROJ-31"] != "PROJ-3" {
		t.Fatalf("parent linkage wrong: %v", byTicket)
	}
	if _, ok := byTicket["PROJ-99"]; ok {
		t.Fatal("orphan sub should have been dropped")
	}

	st := o.Snapshot()
	if st.Running || st.LastError != "" || st.LastCompletedAt == nil {
		t.Fatalf("unexpected state after success: %+v", st)
	}
}

func TestRunOnceSingleFlight(t *testing.T) {
	repo := &stubRepo{}
	ext := &stubExtractor{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	ext.parents, ext.subs = sampleRows()

	o := newTestOrchestrator(repo, ext, &memoNotifier{})

	done := make(chan Result, 1)
	go func() {
		res, _ := o.RunOnce(context.Background())
		done <- res
	}()
	<-ext.entered

	res, err := o.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if !res.Skipped {
		t.Fatal("second trigger should be dropped while the first holds the gate")
	}

	close(ext.block)
	first := <-done
	if first.Skipped {
		t.Fatal("first run should have completed")
	}
	if repo.rebuilds != 1 {
		t.Fatalf("expected exactly one rebuild, got %d", repo.rebuilds)
	}
}

func TestRunOnceRebuildFailureLeavesStoreUntouched(t *testing.T) {
	repo := &stubRepo{}
	ext := &stubExtractor{}
	ext.parents, ext.subs = sampleRows()
	notifier := &memoNotifier{}

	o := newTestOrchestrator(repo, ext, notifier)
	if _, err := o.RunOnce(context.Background()); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	repo.rebuildErr = errors.New("connection reset")
	_, err := o.RunOnce(context.Background())
	var storeErr *repository.StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StoreError, got %v", err)
	}

	subs, _ := repo.ListSubTasksWithParents(context.Background())
	if len(subs) != 5 {
		t.Fatalf("store should keep the previous dataset, has %d subs", len(subs))
	}
	st := o.Snapshot()
	if st.LastError == "" {
		t.Fatal("failure must surface in scheduler state")
	}

	var gotErrNote bool
	for _, n := range notifier.all() {
		if n.Kind == "error" && strings.Contains(n.Title, "failed") {
			gotErrNote = true
		}
	}
	if !gotErrNote {
		t.Fatal("expected an error notification")
	}
}

func TestSecondRunDetectsBatchChange(t *testing.T) {
	repo := &stubRepo{}
	ext := &stubExtractor{}
	ext.parents, ext.subs = sampleRows()
	notifier := &memoNotifier{}

	o := newTestOrchestrator(repo, ext, notifier)
	if _, err := o.RunOnce(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	ext.mu.Lock()
	for i := range ext.parents {
		if ext.parents[i].TicketNumber == "PROJ-2" {
			ext.parents[i].BatchName = "2026-10"
		}
	}
	ext.mu.Unlock()

	res, err := o.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(res.Changes) != 2 {
		t.Fatalf("expected one event per sub of the changed parent, got %d", len(res.Changes))
	}
	for _, ev := range res.Changes {
		if ev.ParentTicket != "PROJ-2" || ev.Old != "2026-08" || ev.New != "2026-10" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	}

	subs, _ := repo.ListSubTasksWithParents(context.Background())
	for _, s := range subs {
		wantMarked := s.ParentTask.TicketNumber == "PROJ-2"
		if s.BatchChanged != wantMarked {
			t.Fatalf("sub %s marker = %v, want %v", s.TicketNumber, s.BatchChanged, wantMarked)
		}
		if wantMarked && s.ParentTask.PreviousBatchName != "2026-08" {
			t.Fatalf("parent of %s should keep the prior batch label", s.TicketNumber)
		}
	}

	var changeNotes int
	for _, n := range notifier.all() {
		if strings.Contains(n.Title, "batch tag changed") {
			changeNotes++
		}
	}
	if changeNotes != 2 {
		t.Fatalf("expected 2 change notifications, got %d", changeNotes)
	}
}

func TestRunOnceCancelledBeforeRebuild(t *testing.T) {
	repo := &stubRepo{}
	ext := &stubExtractor{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	ext.parents, ext.subs = sampleRows()

	o := newTestOrchestrator(repo, ext, &memoNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := o.RunOnce(ctx)
		done <- err
	}()
	<-ext.entered
	cancel()
	close(ext.block)

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if repo.rebuilds != 0 {
		t.Fatal("cancelled run must not touch the store")
	}
}

func TestStartRejectsBadURLs(t *testing.T) {
	o := newTestOrchestrator(&stubRepo{}, &stubExtractor{}, &memoNotifier{})

	for _, raw := range []string{"", "not a url", "ftp://host/x", "/relative/path"} {
		err := o.Start(context.Background(), raw, "https://tracker.example.com/subs", 5)
		var cfgErr *config.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("url %q: expected ConfigError, got %v", raw, err)
		}
	}

	err := o.Start(context.Background(), "https://tracker.example.com/parents", "https://tracker.example.com/subs", 0)
	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected interval ConfigError, got %v", err)
	}
	o.Shutdown()
}

func TestStartArmsTimerAndRunsImmediately(t *testing.T) {
	repo := &stubRepo{}
	ext := &stubExtractor{}
	ext.parents, ext.subs = sampleRows()

	o := newTestOrchestrator(repo, ext, &memoNotifier{})
	if err := o.Start(context.Background(), "https://tracker.example.com/parents", "https://tracker.example.com/subs", 30); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Shutdown()

	deadline := time.After(2 * time.Second)
	for {
		if !o.LastRunAt().IsZero() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("immediate run never completed")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if n, _ := repo.CountParentTasks(context.Background()); n != 3 {
		t.Fatalf("expected 3 parents after immediate run, got %d", n)
	}
}
