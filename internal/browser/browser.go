// Package browser defines the narrow page-session capability the sync
// pipeline needs from an embedded browser runtime: navigate, wait for
// readiness, evaluate a script, and read/write cookies. Everything above
// this package is engine-agnostic.
package browser

import (
	"context"
	"time"
)

type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

// Page is one isolated page context. A Page is owned by the caller that
// acquired it and must be released with Close, including on error paths.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitUntilReady(ctx context.Context, timeout time.Duration) error
	// EvaluateScript runs a script in the page and returns its result
	// serialized as a string (the extraction scripts return JSON).
	EvaluateScript(ctx context.Context, js string) (string, error)
	Cookies(ctx context.Context, url string) ([]Cookie, error)
	SetCookies(ctx context.Context, url string, cookies []Cookie) error
	Close() error
}

// Factory opens fresh page contexts. Implementations decide how contexts
// map onto browser processes or tabs.
type Factory interface {
	NewPage(ctx context.Context) (Page, error)
}
