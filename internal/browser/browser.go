// Package browser provides the automation capability the crawl pipeline runs
// on: a single Chrome tab driven over CDP, with a persistent profile so the
// storefront session survives between runs.
package browser

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for faults the pipeline classifies.
var (
	// ErrNavigationTimeout indicates a navigation or URL wait exceeded its bound.
	ErrNavigationTimeout = errors.New("navigation timeout")

	// ErrDownloadTimeout indicates an expected download never started or finished.
	ErrDownloadTimeout = errors.New("download timeout")

	// ErrStaleElement indicates an element vanished between discovery and interaction.
	ErrStaleElement = errors.New("element no longer present")
)

// Element is a JSON-serializable snapshot of one DOM element, addressed by
// the (Selector, Index) pair it was discovered under. Interactions re-resolve
// the element in-page from that pair, so snapshots stay valid across DOM
// mutations as long as the element keeps its position in the match list.
type Element struct {
	Selector string `json:"-"`
	Index    int    `json:"index"`
	Tag      string `json:"tag"`
	Text     string `json:"text"`
	Href     string `json:"href"`    // absolute, browser-resolved
	RawHref  string `json:"rawHref"` // href attribute as written
	Download bool   `json:"download"`
	Disabled bool   `json:"disabled"`
	Visible  bool   `json:"visible"`

	// Attrs carries the interaction-relevant attributes when present:
	// onclick, data-action, data-a-modal, aria-label.
	Attrs map[string]string `json:"attrs"`
}

// Attr returns the named captured attribute, or "" when absent.
func (e Element) Attr(name string) string {
	return e.Attrs[name]
}

// Page is the capability surface the pipeline components consume. Session
// implements it over chromedp; tests substitute fakes.
type Page interface {
	// Navigate loads url and waits for the document to be ready.
	Navigate(ctx context.Context, url string, timeout time.Duration) error

	// Location returns the current page URL.
	Location(ctx context.Context) (string, error)

	// Title returns the current page title.
	Title(ctx context.Context) (string, error)

	// WaitLocation polls the current URL until accept returns true.
	WaitLocation(ctx context.Context, timeout time.Duration, accept func(string) bool) error

	// WaitReady waits for the current document's body to be ready, for
	// navigations triggered by the page itself rather than by Navigate.
	WaitReady(ctx context.Context, timeout time.Duration) error

	// WaitNetworkIdle waits for the current navigation's network activity to
	// settle, bounded by timeout.
	WaitNetworkIdle(ctx context.Context, timeout time.Duration) error

	// HTML returns the full page HTML.
	HTML(ctx context.Context) (string, error)

	// BodyText returns the page's visible body text.
	BodyText(ctx context.Context) (string, error)

	// QueryAll returns snapshots of every element matching selector, in DOM order.
	QueryAll(ctx context.Context, selector string) ([]Element, error)

	// Click scrolls the index-th match of selector into view and clicks it.
	Click(ctx context.Context, selector string, index int) error

	// PressEscape sends the Escape key to the page.
	PressEscape(ctx context.Context) error

	// PrintPDF renders the current page to PDF bytes.
	PrintPDF(ctx context.Context) ([]byte, error)

	// Download clicks the index-th match of selector and captures the
	// resulting browser download, returning the staged file path.
	Download(ctx context.Context, selector string, index int, timeout time.Duration) (string, error)

	// Screenshot captures the current viewport as PNG, best effort.
	Screenshot(ctx context.Context) ([]byte, error)

	// Sleep pauses without blocking past context cancellation.
	Sleep(ctx context.Context, d time.Duration) error
}
