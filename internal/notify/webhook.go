package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Webhook posts notifications to an external endpoint that authenticates
// with an api key exchanged for a short-lived bearer token.
type Webhook struct {
	BaseURL string
	APIKey  string
	Source  string

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	HTTP *http.Client
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

func (w *Webhook) Login(ctx context.Context) error {
	base := strings.TrimRight(strings.TrimSpace(w.BaseURL), "/")
	if base == "" {
		return errors.New("webhook base url is empty")
	}
	apiKey := strings.TrimSpace(w.APIKey)
	if apiKey == "" {
		return errors.New("webhook api key is empty")
	}

	body, _ := json.Marshal(map[string]any{"api_key": apiKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook login http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var lr loginResponse
	if err := json.Unmarshal(b, &lr); err != nil {
		return err
	}
	exp, _ := time.Parse(time.RFC3339, strings.TrimSpace(lr.ExpiresAt))

	w.mu.Lock()
	w.token = strings.TrimSpace(lr.Token)
	w.expiresAt = exp
	w.mu.Unlock()
	return nil
}

func (w *Webhook) Token() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.token
}

func (w *Webhook) EnsureToken(ctx context.Context) error {
	w.mu.RLock()
	tok := w.token
	exp := w.expiresAt
	w.mu.RUnlock()
	if strings.TrimSpace(tok) == "" {
		return w.Login(ctx)
	}
	if !exp.IsZero() && time.Until(exp) < 2*time.Minute {
		return w.Login(ctx)
	}
	return nil
}

type eventRequest struct {
	Source  string `json:"source"`
	Level   string `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

func (w *Webhook) Notify(ctx context.Context, kind Kind, title, message string) error {
	if err := w.EnsureToken(ctx); err != nil {
		return err
	}
	base := strings.TrimRight(strings.TrimSpace(w.BaseURL), "/")
	b, err := json.Marshal(eventRequest{
		Source:  w.Source,
		Level:   string(kind),
		Title:   title,
		Message: message,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/v1/events", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.Token())

	resp, err := w.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bb, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("webhook event http %d: %s", resp.StatusCode, strings.TrimSpace(string(bb)))
	}
	return nil
}

func (w *Webhook) httpClient() *http.Client {
	if w.HTTP != nil {
		return w.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}
