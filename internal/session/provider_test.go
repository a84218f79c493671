package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"jirasync/internal/browser"
)

type stubFlow struct {
	cookies []browser.Cookie
	err     error
	calls   int
}

func (f *stubFlow) Login(ctx context.Context, loginURL string) ([]browser.Cookie, error) {
	f.calls++
	return f.cookies, f.err
}

func TestEnsureSession_Idempotent(t *testing.T) {
	flow := &stubFlow{cookies: []browser.Cookie{{Name: "JSESSIONID", Value: "abc"}}}
	p := &Provider{Flow: flow}

	s1, err := p.EnsureSession(context.Background(), "https://jira.example.com/login")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	s2, err := p.EnsureSession(context.Background(), "https://jira.example.com/login")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if s1 != s2 {
		t.Fatalf("expected same session handle")
	}
	if flow.calls != 1 {
		t.Fatalf("flow called %d times, want 1", flow.calls)
	}
	if !p.IsValid() {
		t.Fatalf("expected valid session")
	}
}

func TestEnsureSession_LoginFailure(t *testing.T) {
	flow := &stubFlow{err: errors.New("bad password")}
	p := &Provider{Flow: flow}

	_, err := p.EnsureSession(context.Background(), "https://jira.example.com/login")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.Reason != ReasonBadCredentials {
		t.Fatalf("reason=%q want %q", authErr.Reason, ReasonBadCredentials)
	}
	if p.IsValid() {
		t.Fatalf("session must not be valid after failure")
	}
}

func TestEnsureSession_TimeoutClassified(t *testing.T) {
	flow := &stubFlow{err: context.DeadlineExceeded}
	p := &Provider{Flow: flow}

	_, err := p.EnsureSession(context.Background(), "https://jira.example.com/login")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.Reason != ReasonTimeout {
		t.Fatalf("reason=%q want %q", authErr.Reason, ReasonTimeout)
	}
}

func TestEnsureSession_EmptyCookieSet(t *testing.T) {
	flow := &stubFlow{}
	p := &Provider{Flow: flow}

	_, err := p.EnsureSession(context.Background(), "https://jira.example.com/login")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	flow := &stubFlow{cookies: []browser.Cookie{{Name: "JSESSIONID", Value: "abc"}}}
	p := &Provider{Flow: flow, TTL: time.Millisecond}

	if _, err := p.EnsureSession(context.Background(), "https://jira.example.com/login"); err != nil {
		t.Fatalf("err=%v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if p.IsValid() {
		t.Fatalf("expected expired session")
	}
	if _, err := p.EnsureSession(context.Background(), "https://jira.example.com/login"); err != nil {
		t.Fatalf("err=%v", err)
	}
	if flow.calls != 2 {
		t.Fatalf("flow called %d times, want 2", flow.calls)
	}
}

func TestCookieSetCopies(t *testing.T) {
	flow := &stubFlow{cookies: []browser.Cookie{{Name: "a", Value: "1"}}}
	p := &Provider{Flow: flow}
	if _, err := p.EnsureSession(context.Background(), "https://jira.example.com/login"); err != nil {
		t.Fatalf("err=%v", err)
	}
	set := p.CookieSet()
	set[0].Value = "mutated"
	if p.CookieSet()[0].Value != "1" {
		t.Fatalf("CookieSet must return a copy")
	}
}
