package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromeFactory opens pages as tabs of a single headless Chrome process.
// The process is started lazily on the first NewPage call.
type ChromeFactory struct {
	Headless  bool
	UserAgent string
	Logger    *zap.Logger

	once        sync.Once
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

func (f *ChromeFactory) init() {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !f.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if ua := strings.TrimSpace(f.UserAgent); ua != "" {
		opts = append(opts, chromedp.UserAgent(ua))
	}
	f.allocCtx, f.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
}

func (f *ChromeFactory) NewPage(ctx context.Context) (Page, error) {
	f.once.Do(f.init)

	tabCtx, tabCancel := chromedp.NewContext(f.allocCtx)
	// Starting with an empty run forces browser startup so failures
	// surface here instead of on the first navigation.
	if err := runWithCaller(ctx, tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("browser start: %w", err)
	}
	return &chromePage{ctx: tabCtx, cancel: tabCancel, logger: f.Logger}, nil
}

// Close shuts the browser process down. Pages opened from this factory
// become unusable.
func (f *ChromeFactory) Close() error {
	if f.allocCancel != nil {
		f.allocCancel()
	}
	return nil
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

func (p *chromePage) Navigate(ctx context.Context, pageURL string) error {
	return p.run(ctx, chromedp.Navigate(pageURL))
}

func (p *chromePage) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for {
		var state string
		if err := p.run(ctx, chromedp.Evaluate("document.readyState", &state)); err != nil {
			return err
		}
		if state == "complete" {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("page not ready after %s (readyState=%q)", timeout, state)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (p *chromePage) EvaluateScript(ctx context.Context, js string) (string, error) {
	var result string
	if err := p.run(ctx, chromedp.Evaluate(js, &result)); err != nil {
		return "", err
	}
	return result, nil
}

func (p *chromePage) Cookies(ctx context.Context, pageURL string) ([]Cookie, error) {
	host := hostOf(pageURL)
	var out []Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			if host != "" && !strings.HasSuffix(host, strings.TrimPrefix(c.Domain, ".")) {
				continue
			}
			out = append(out, Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path})
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *chromePage) SetCookies(ctx context.Context, pageURL string, cookies []Cookie) error {
	host := hostOf(pageURL)
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			domain := c.Domain
			if domain == "" {
				domain = host
			}
			path := c.Path
			if path == "" {
				path = "/"
			}
			err := network.SetCookie(c.Name, c.Value).
				WithDomain(domain).
				WithPath(path).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

func (p *chromePage) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

// run executes actions on the tab while honoring the caller's context.
// The tab context outlives individual calls; cancelling the caller's
// context abandons the call without tearing the tab down.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	if p.ctx == nil {
		return errors.New("page is closed")
	}
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(p.ctx, actions...)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func runWithCaller(ctx, tabCtx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(tabCtx)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
