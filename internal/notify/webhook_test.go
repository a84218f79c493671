package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestWebhookLoginThenNotify(t *testing.T) {
	var logins atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			logins.Add(1)
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["api_key"] != "k1" {
				rw.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]string{
				"token":      "t1",
				"expires_at": time.Now().Add(time.Hour).Format(time.RFC3339),
			})
		case "/api/v1/events":
			if r.Header.Get("Authorization") != "Bearer t1" {
				rw.WriteHeader(http.StatusUnauthorized)
				return
			}
			var ev eventRequest
			_ = json.NewDecoder(r.Body).Decode(&ev)
			if ev.Title == "" || ev.Level != "info" {
				rw.WriteHeader(http.StatusBadRequest)
				return
			}
			rw.WriteHeader(http.StatusAccepted)
		default:
			rw.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	w := &Webhook{BaseURL: srv.URL, APIKey: "k1", Source: "jirasync"}
	if err := w.Notify(context.Background(), KindInfo, "run done", "3 parents"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := w.Notify(context.Background(), KindInfo, "run done", "again"); err != nil {
		t.Fatalf("notify again: %v", err)
	}
	if got := logins.Load(); got != 1 {
		t.Fatalf("expected a single login, got %d", got)
	}
}

func TestWebhookReloginNearExpiry(t *testing.T) {
	var logins atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			logins.Add(1)
			_ = json.NewEncoder(rw).Encode(map[string]string{
				"token":      "t1",
				"expires_at": time.Now().Add(30 * time.Second).Format(time.RFC3339),
			})
		default:
			rw.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	w := &Webhook{BaseURL: srv.URL, APIKey: "k1"}
	_ = w.Notify(context.Background(), KindInfo, "a", "b")
	_ = w.Notify(context.Background(), KindInfo, "a", "b")
	if got := logins.Load(); got != 2 {
		t.Fatalf("expected relogin near expiry, got %d logins", got)
	}
}

func TestWebhookEmptyConfig(t *testing.T) {
	w := &Webhook{}
	if err := w.Notify(context.Background(), KindInfo, "a", "b"); err == nil {
		t.Fatal("expected error with empty base url")
	}
}
