package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"jirasync/internal/browser"
)

// BrowserFlow drives the tracker's login form in a browser page and waits
// for the session cookie to appear. With empty credentials it only waits,
// which covers SSO setups where the browser profile already carries a
// session.
type BrowserFlow struct {
	Pages  browser.Factory
	Logger *zap.Logger

	Username string
	Password string

	// SessionCookie is the cookie whose presence means the login stuck.
	SessionCookie string

	// Selectors for the login form. Zero values target a stock Jira
	// login page.
	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string

	// Timeout bounds the whole flow including the cookie wait.
	Timeout time.Duration
}

const cookiePollInterval = 500 * time.Millisecond

func (f *BrowserFlow) Login(ctx context.Context, loginURL string) ([]browser.Cookie, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page, err := f.Pages.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open login page: %w", err)
	}
	defer page.Close()

	if err := page.Navigate(ctx, loginURL); err != nil {
		return nil, fmt.Errorf("navigate to login page: %w", err)
	}
	if err := page.WaitUntilReady(ctx, 10*time.Second); err != nil {
		return nil, fmt.Errorf("login page not ready: %w", err)
	}

	if strings.TrimSpace(f.Username) != "" {
		out, err := page.EvaluateScript(ctx, f.fillScript())
		if err != nil {
			return nil, fmt.Errorf("submit login form: %w", err)
		}
		if out == "missing" {
			return nil, fmt.Errorf("login form not found at %s", loginURL)
		}
	}

	cookieName := f.SessionCookie
	if cookieName == "" {
		cookieName = "JSESSIONID"
	}

	for {
		cookies, err := page.Cookies(ctx, loginURL)
		if err != nil {
			return nil, fmt.Errorf("read cookies: %w", err)
		}
		for _, c := range cookies {
			if c.Name == cookieName && c.Value != "" {
				if f.Logger != nil {
					f.Logger.Info("login succeeded", zap.Int("cookies", len(cookies)))
				}
				return cookies, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("session cookie %s never appeared: %w", cookieName, ctx.Err())
		case <-time.After(cookiePollInterval):
		}
	}
}

func (f *BrowserFlow) fillScript() string {
	userSel := f.UsernameSelector
	if userSel == "" {
		userSel = "#login-form-username"
	}
	passSel := f.PasswordSelector
	if passSel == "" {
		passSel = "#login-form-password"
	}
	submitSel := f.SubmitSelector
	if submitSel == "" {
		submitSel = "#login-form-submit"
	}
	return fmt.Sprintf(`(() => {
	const user = document.querySelector(%s);
	const pass = document.querySelector(%s);
	const submit = document.querySelector(%s);
	if (!user || !pass || !submit) {
		return "missing";
	}
	user.value = %s;
	pass.value = %s;
	user.dispatchEvent(new Event("input", { bubbles: true }));
	pass.dispatchEvent(new Event("input", { bubbles: true }));
	submit.click();
	return "submitted";
})()`,
		strconv.Quote(userSel),
		strconv.Quote(passSel),
		strconv.Quote(submitSel),
		strconv.Quote(f.Username),
		strconv.Quote(f.Password))
}
