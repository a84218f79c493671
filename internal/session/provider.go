package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"jirasync/internal/browser"
)

// AuthError reasons.
const (
	ReasonBadCredentials = "bad_credentials"
	ReasonUnreachable    = "unreachable"
	ReasonTimeout        = "timeout"
)

// AuthError reports a failed session acquisition. It is surfaced to the
// caller as-is; the provider never retries on its own.
type AuthError struct {
	Reason string
	URL    string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s (%s): %v", e.Reason, e.URL, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// LoginFlow is the interactive-login collaborator: it presents a login
// surface to a human (or a scripted flow) and returns the captured
// credential cookies on success.
type LoginFlow interface {
	Login(ctx context.Context, loginURL string) ([]browser.Cookie, error)
}

// Session is an authenticated handle against the tracker site.
type Session struct {
	Cookies    []browser.Cookie
	AcquiredAt time.Time
}

// Provider owns the credential cookie state. Extractors read the cookie
// set through it and never mutate it.
type Provider struct {
	Flow   LoginFlow
	Logger *zap.Logger

	// TTL bounds how long acquired cookies are trusted without
	// re-authenticating. Zero means no expiry.
	TTL time.Duration

	mu      sync.Mutex
	current *Session
}

// EnsureSession returns the live session, driving the login flow only when
// no valid session exists. Calling it repeatedly while a session is valid
// is cheap and returns the same handle.
func (p *Provider) EnsureSession(ctx context.Context, loginURL string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.validLocked() {
		return p.current, nil
	}
	if p.Flow == nil {
		return nil, &AuthError{Reason: ReasonBadCredentials, URL: loginURL, Err: errors.New("no login flow configured")}
	}

	cookies, err := p.Flow.Login(ctx, loginURL)
	if err != nil {
		return nil, &AuthError{Reason: classify(err), URL: loginURL, Err: err}
	}
	if len(cookies) == 0 {
		return nil, &AuthError{Reason: ReasonBadCredentials, URL: loginURL, Err: errors.New("login returned no cookies")}
	}

	p.current = &Session{Cookies: cookies, AcquiredAt: time.Now().UTC()}
	if p.Logger != nil {
		p.Logger.Info("session acquired", zap.Int("cookies", len(cookies)))
	}
	return p.current, nil
}

func (p *Provider) IsValid() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.validLocked()
}

// CookieSet returns a copy of the current credential cookies, or nil when
// no session is held.
func (p *Provider) CookieSet() []browser.Cookie {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	out := make([]browser.Cookie, len(p.current.Cookies))
	copy(out, p.current.Cookies)
	return out
}

// Invalidate drops the held session so the next EnsureSession call
// re-authenticates.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = nil
}

func (p *Provider) validLocked() bool {
	if p.current == nil || len(p.current.Cookies) == 0 {
		return false
	}
	if p.TTL > 0 && time.Since(p.current.AcquiredAt) > p.TTL {
		return false
	}
	return true
}

func classify(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ReasonTimeout
		}
		return ReasonUnreachable
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "refused") || strings.Contains(msg, "no such host") {
		return ReasonUnreachable
	}
	return ReasonBadCredentials
}
