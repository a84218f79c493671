package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"jirasync/internal/browser"
)

// ExtractError is a structural extraction failure: the page could not be
// reached, did not become ready, or the extraction script failed. It
// aborts the current sync cycle.
type ExtractError struct {
	URL   string
	Stage string
	Err   error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s (%s): %v", e.Stage, e.URL, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// ParentRow is a parent work item as scraped from the parent list page.
type ParentRow struct {
	TicketNumber string
	Description  string
	Status       string
	Assignee     string
	BatchName    string
	Priority     string
	SourceURL    string
}

// SubRow is a child work item as scraped from the sub-task list page.
// ParentTicket links it to its owning ParentRow by ticket number.
type SubRow struct {
	TicketNumber    string
	Name            string
	Status          string
	Assignee        string
	ParentTicket    string
	Priority        string
	EstimatedHours  decimal.Decimal
	ActualHours     decimal.Decimal
	EstimatedDoneAt *time.Time
	SourceURL       string
}

type parentPayload struct {
	TicketNumber string `json:"ticketNumber"`
	Description  string `json:"description"`
	Status       string `json:"status"`
	Assignee     string `json:"assignee"`
	BatchName    string `json:"batchName"`
	Priority     string `json:"priority"`
	URL          string `json:"url"`
}

type subPayload struct {
	TicketNumber   string `json:"ticketNumber"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	Assignee       string `json:"assignee"`
	ParentTicket   string `json:"parentTicket"`
	EstimatedHours string `json:"estimatedHours"`
	ActualHours    string `json:"actualHours"`
	DueDate        string `json:"dueDate"`
	Priority       string `json:"priority"`
	URL            string `json:"url"`
}

// Extractor pulls typed rows out of the script-rendered list pages. Each
// call owns one page context and releases it before returning.
type Extractor struct {
	Pages  browser.Factory
	Logger *zap.Logger

	// ReadyTimeout bounds the document-ready wait, ReadyPolls the settle
	// polling for the async-rendered table. CallTimeout caps one whole
	// extraction call so a hung page load cannot wedge the scheduler.
	ReadyTimeout time.Duration
	ReadyPolls   int
	CallTimeout  time.Duration
}

func (e *Extractor) ExtractParentTasks(ctx context.Context, url string, cookies []browser.Cookie) ([]ParentRow, error) {
	raw, err := e.extract(ctx, url, cookies, parentExtractionScript)
	if err != nil {
		return nil, err
	}

	var payload []parentPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, &ExtractError{URL: url, Stage: "decode", Err: err}
	}

	rows := make([]ParentRow, 0, len(payload))
	for _, p := range payload {
		if strings.TrimSpace(p.TicketNumber) == "" {
			continue
		}
		rows = append(rows, ParentRow{
			TicketNumber: strings.TrimSpace(p.TicketNumber),
			Description:  p.Description,
			Status:       p.Status,
			Assignee:     p.Assignee,
			BatchName:    p.BatchName,
			Priority:     p.Priority,
			SourceURL:    p.URL,
		})
	}
	if e.Logger != nil {
		e.Logger.Debug("parent rows extracted", zap.String("url", url), zap.Int("rows", len(rows)))
	}
	return rows, nil
}

func (e *Extractor) ExtractSubTasks(ctx context.Context, url string, cookies []browser.Cookie) ([]SubRow, error) {
	raw, err := e.extract(ctx, url, cookies, subExtractionScript)
	if err != nil {
		return nil, err
	}

	var payload []subPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, &ExtractError{URL: url, Stage: "decode", Err: err}
	}

	rows := make([]SubRow, 0, len(payload))
	for _, p := range payload {
		if strings.TrimSpace(p.TicketNumber) == "" {
			continue
		}
		rows = append(rows, SubRow{
			TicketNumber:    strings.TrimSpace(p.TicketNumber),
			Name:            p.Name,
			Status:          p.Status,
			Assignee:        p.Assignee,
			ParentTicket:    strings.TrimSpace(p.ParentTicket),
			Priority:        p.Priority,
			EstimatedHours:  parseHours(p.EstimatedHours),
			ActualHours:     parseHours(p.ActualHours),
			EstimatedDoneAt: parseWhen(p.DueDate),
			SourceURL:       p.URL,
		})
	}
	if e.Logger != nil {
		e.Logger.Debug("sub rows extracted", zap.String("url", url), zap.Int("rows", len(rows)))
	}
	return rows, nil
}

func (e *Extractor) extract(ctx context.Context, url string, cookies []browser.Cookie, script string) (string, error) {
	callTimeout := e.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	page, err := e.Pages.NewPage(ctx)
	if err != nil {
		return "", &ExtractError{URL: url, Stage: "open", Err: err}
	}
	defer func() { _ = page.Close() }()

	if len(cookies) > 0 {
		if err := page.SetCookies(ctx, url, cookies); err != nil {
			return "", &ExtractError{URL: url, Stage: "cookies", Err: err}
		}
	}
	if err := page.Navigate(ctx, url); err != nil {
		return "", &ExtractError{URL: url, Stage: "navigate", Err: err}
	}

	readyTimeout := e.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = 5 * time.Second
	}
	if err := page.WaitUntilReady(ctx, readyTimeout); err != nil {
		return "", &ExtractError{URL: url, Stage: "ready", Err: err}
	}
	if err := e.waitSettled(ctx, page, url); err != nil {
		return "", err
	}

	result, err := page.EvaluateScript(ctx, script)
	if err != nil {
		return "", &ExtractError{URL: url, Stage: "evaluate", Err: err}
	}
	return result, nil
}

// waitSettled polls for the async-rendered table to populate. An empty
// table after the last poll is not an error: the list may genuinely be
// empty, and the extraction script handles that.
func (e *Extractor) waitSettled(ctx context.Context, page browser.Page, url string) error {
	polls := e.ReadyPolls
	if polls <= 0 {
		polls = 10
	}
	for i := 0; i < polls; i++ {
		populated, err := page.EvaluateScript(ctx, tablePopulatedProbe)
		if err != nil {
			return &ExtractError{URL: url, Stage: "settle", Err: err}
		}
		if populated == "true" {
			return nil
		}
		select {
		case <-ctx.Done():
			return &ExtractError{URL: url, Stage: "settle", Err: ctx.Err()}
		case <-time.After(500 * time.Millisecond):
		}
	}
	if e.Logger != nil {
		e.Logger.Debug("table still empty after settle polling", zap.String("url", url))
	}
	return nil
}
