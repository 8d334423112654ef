package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	cdbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

const (
	// opTimeout bounds the cheap per-call operations (queries, clicks, reads).
	opTimeout = 30 * time.Second

	// pdfTimeout bounds PDF rendering, which can be slow on long pages.
	pdfTimeout = 60 * time.Second

	// screenshotTimeout keeps diagnostics from stalling a broken session.
	screenshotTimeout = 5 * time.Second

	locationPollInterval = 500 * time.Millisecond
	networkProbeInterval = 500 * time.Millisecond
)

// Session drives one long-lived Chrome tab. All operations run sequentially
// against that tab; Session is not safe for concurrent use.
type Session struct {
	cfg        Config
	log        *slog.Logger
	stagingDir string

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu       sync.Mutex
	download *downloadWaiter
}

var _ Page = (*Session)(nil)

// downloadWaiter tracks the single in-flight download. The tab is driven
// sequentially, so at most one download is expected at a time.
type downloadWaiter struct {
	guid string
	done chan error
}

// NewSession launches Chrome with a persistent profile and returns a ready
// Session. Callers own Close.
func NewSession(cfg Config, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}

	if err := os.MkdirAll(cfg.ProfileDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	if err := os.MkdirAll(cfg.StagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download staging directory: %w", err)
	}
	// Chrome resolves the download path itself, so it has to be absolute.
	stagingDir, err := filepath.Abs(cfg.StagingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve download staging directory: %w", err)
	}

	chromePath := cfg.ChromePath
	if chromePath == "" {
		chromePath = FindChromePath()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserDataDir(cfg.ProfileDir),
	)
	if cfg.Stealth {
		opts = append(opts, StealthExecAllocatorOptions()...)
	}
	if chromePath != "" {
		opts = append(opts, chromedp.ExecPath(chromePath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	// The allocator hangs off Background so the browser outlives any one
	// operation's context; per-call cancellation is handled in run.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			log.Debug("chromedp: " + fmt.Sprintf(format, args...))
		}),
	)

	s := &Session{
		cfg:           cfg,
		log:           log,
		stagingDir:    stagingDir,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}
	chromedp.ListenTarget(browserCtx, s.handleDownloadEvent)

	start := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			return cdbrowser.SetDownloadBehavior(cdbrowser.SetDownloadBehaviorBehaviorAllowAndName).
				WithDownloadPath(stagingDir).
				WithEventsEnabled(true).
				Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return page.SetLifecycleEventsEnabled(true).Do(ctx)
		}),
	}
	if cfg.Stealth {
		start = append([]chromedp.Action{InjectStealthScript()}, start...)
	}
	if err := chromedp.Run(browserCtx, start...); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	log.Info("browser session ready",
		"headless", cfg.Headless,
		"stealth", cfg.Stealth,
		"profile", cfg.ProfileDir)
	return s, nil
}

// Close shuts the browser down gracefully so the persistent profile is
// flushed to disk.
func (s *Session) Close() error {
	s.log.Debug("closing browser session")
	var err error
	if s.browserCtx != nil {
		err = chromedp.Cancel(s.browserCtx)
	}
	if s.browserCancel != nil {
		s.browserCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	return err
}

func (s *Session) handleDownloadEvent(ev interface{}) {
	switch e := ev.(type) {
	case *cdbrowser.EventDownloadWillBegin:
		s.mu.Lock()
		if s.download != nil && s.download.guid == "" {
			s.download.guid = e.GUID
		}
		s.mu.Unlock()
		s.log.Debug("download started", "guid", e.GUID, "filename", e.SuggestedFilename)
	case *cdbrowser.EventDownloadProgress:
		switch e.State {
		case cdbrowser.DownloadProgressStateCompleted:
			s.finishDownload(e.GUID, nil)
		case cdbrowser.DownloadProgressStateCanceled:
			s.finishDownload(e.GUID, errors.New("download canceled by browser"))
		}
	}
}

func (s *Session) finishDownload(guid string, result error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.download == nil || s.download.guid != guid {
		return
	}
	select {
	case s.download.done <- result:
	default:
	}
}

// run executes actions against the session tab, bounded by timeout and by the
// caller's context. A zero timeout applies no additional bound.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if timeout > 0 {
		var tcancel context.CancelFunc
		runCtx, tcancel = context.WithTimeout(runCtx, timeout)
		defer tcancel()
	}
	return chromedp.Run(runCtx, actions...)
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "deadline exceeded")
}

// withReturnByValue forces evaluation results to be serialized back to the
// caller rather than held as remote object references.
func withReturnByValue(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithReturnByValue(true).WithAwaitPromise(true)
}

// Navigate loads url and waits for the document body to be ready. WaitVisible
// has an infinite-polling failure mode on pages that never settle, so body
// readiness is the signal used here.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	s.log.Debug("navigating", "url", url, "timeout", timeout)
	err := s.run(ctx, timeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if isDeadline(err) {
			return fmt.Errorf("%w: %s: %v", ErrNavigationTimeout, url, err)
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Location returns the current page URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, opTimeout, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read page location: %w", err)
	}
	return loc, nil
}

// Title returns the current page title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, opTimeout, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to read page title: %w", err)
	}
	return title, nil
}

// WaitLocation polls the current URL until accept returns true or timeout
// elapses.
func (s *Session) WaitLocation(ctx context.Context, timeout time.Duration, accept func(string) bool) error {
	deadline := time.Now().Add(timeout)
	for {
		loc, err := s.Location(ctx)
		if err != nil {
			return err
		}
		if accept(loc) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: still at %s after %s", ErrNavigationTimeout, loc, timeout)
		}
		if err := s.Sleep(ctx, locationPollInterval); err != nil {
			return err
		}
	}
}

// WaitReady waits for the current document's body, covering navigations the
// page triggered itself (pagination clicks, post-login redirects).
func (s *Session) WaitReady(ctx context.Context, timeout time.Duration) error {
	if err := s.run(ctx, timeout, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if isDeadline(err) {
			return fmt.Errorf("%w: document never became ready", ErrNavigationTimeout)
		}
		return fmt.Errorf("failed waiting for document: %w", err)
	}
	return nil
}

const networkProbeScript = `({ready: document.readyState === 'complete', resources: performance.getEntriesByType('resource').length})`

// WaitNetworkIdle waits for the tab's network activity to settle: either
// Chrome's networkIdle lifecycle event arrives, or the document is complete
// and no new resources finish across consecutive probes.
func (s *Session) WaitNetworkIdle(ctx context.Context, timeout time.Duration) error {
	runCtx, cancel := context.WithCancel(s.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	runCtx, tcancel := context.WithTimeout(runCtx, timeout)
	defer tcancel()

	idle := make(chan struct{}, 1)
	chromedp.ListenTarget(runCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
			select {
			case idle <- struct{}{}:
			default:
			}
		}
	})

	ticker := time.NewTicker(networkProbeInterval)
	defer ticker.Stop()

	lastResources := -1
	stable := 0
	for {
		select {
		case <-idle:
			return nil
		case <-runCtx.Done():
			return fmt.Errorf("%w: network never settled within %s", ErrNavigationTimeout, timeout)
		case <-ticker.C:
		}

		// The lifecycle event can predate this call, so also probe for a
		// quiet, complete document directly.
		var probe struct {
			Ready     bool `json:"ready"`
			Resources int  `json:"resources"`
		}
		if err := chromedp.Run(runCtx, chromedp.Evaluate(networkProbeScript, &probe, withReturnByValue)); err != nil {
			continue
		}
		if probe.Ready && probe.Resources == lastResources {
			stable++
			if stable >= 2 {
				return nil
			}
		} else {
			stable = 0
		}
		lastResources = probe.Resources
	}
}

// HTML returns the full page HTML.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, opTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page HTML: %w", err)
	}
	return html, nil
}

// BodyText returns the page's visible body text.
func (s *Session) BodyText(ctx context.Context) (string, error) {
	var text string
	err := s.run(ctx, opTimeout,
		chromedp.Evaluate(`document.body ? document.body.innerText : ''`, &text, withReturnByValue))
	if err != nil {
		return "", fmt.Errorf("failed to read body text: %w", err)
	}
	return text, nil
}

const queryAllScript = `
(function(sel) {
    var out = [];
    var els;
    try { els = document.querySelectorAll(sel); } catch (e) { return out; }
    var names = ['onclick', 'data-action', 'data-a-modal', 'aria-label'];
    for (var i = 0; i < els.length; i++) {
        var el = els[i];
        var attrs = {};
        for (var j = 0; j < names.length; j++) {
            var v = el.getAttribute(names[j]);
            if (v) { attrs[names[j]] = v; }
        }
        var rect = el.getBoundingClientRect();
        var style = window.getComputedStyle(el);
        out.push({
            index: i,
            tag: el.tagName.toLowerCase(),
            text: (el.innerText || el.textContent || '').trim(),
            href: typeof el.href === 'string' ? el.href : '',
            rawHref: el.getAttribute('href') || '',
            download: el.hasAttribute('download'),
            disabled: el.disabled === true || el.getAttribute('aria-disabled') === 'true' ||
                !!(el.closest && el.closest('.a-disabled, [aria-disabled="true"]')),
            visible: rect.width > 0 && rect.height > 0 && style.visibility !== 'hidden' && style.display !== 'none',
            attrs: attrs
        });
    }
    return out;
})(%s)
`

// QueryAll snapshots every element matching selector, in DOM order. Snapshots
// are taken in one page evaluation so they are mutually consistent.
func (s *Session) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	var els []Element
	script := fmt.Sprintf(queryAllScript, strconv.Quote(selector))
	if err := s.run(ctx, opTimeout, chromedp.Evaluate(script, &els, withReturnByValue)); err != nil {
		return nil, fmt.Errorf("query %q failed: %w", selector, err)
	}
	for i := range els {
		els[i].Selector = selector
	}
	return els, nil
}

const clickScript = `
(function(sel, idx) {
    var els;
    try { els = document.querySelectorAll(sel); } catch (e) { return false; }
    if (idx < 0 || idx >= els.length) { return false; }
    var el = els[idx];
    el.scrollIntoView({block: 'center', inline: 'nearest'});
    el.click();
    return true;
})(%s, %d)
`

// Click re-resolves the index-th match of selector and clicks it. The element
// is located fresh at click time, so a reshuffled DOM surfaces as
// ErrStaleElement rather than a click on the wrong element.
func (s *Session) Click(ctx context.Context, selector string, index int) error {
	var ok bool
	script := fmt.Sprintf(clickScript, strconv.Quote(selector), index)
	if err := s.run(ctx, opTimeout, chromedp.Evaluate(script, &ok, withReturnByValue)); err != nil {
		return fmt.Errorf("click on %q [%d] failed: %w", selector, index, err)
	}
	if !ok {
		return fmt.Errorf("%w: %q [%d]", ErrStaleElement, selector, index)
	}
	return nil
}

// PressEscape sends the Escape key to the page.
func (s *Session) PressEscape(ctx context.Context) error {
	if err := s.run(ctx, opTimeout, chromedp.KeyEvent(kb.Escape)); err != nil {
		return fmt.Errorf("failed to press escape: %w", err)
	}
	return nil
}

// PrintPDF renders the current page to PDF. Screen media emulation keeps the
// rendering close to what the operator sees; print stylesheets on storefront
// pages tend to blank out the interesting parts.
func (s *Session) PrintPDF(ctx context.Context) ([]byte, error) {
	var pdf []byte
	err := s.run(ctx, pdfTimeout,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := emulation.SetEmulatedMedia().WithMedia("screen").Do(ctx); err != nil {
				s.log.Debug("screen media emulation failed", "error", err)
			}
			return nil
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
			if err != nil {
				return err
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("pdf rendering failed: %w", err)
	}
	return pdf, nil
}

// Download clicks the index-th match of selector and waits for the browser to
// finish the resulting download, returning the staged file path.
func (s *Session) Download(ctx context.Context, selector string, index int, timeout time.Duration) (string, error) {
	w := &downloadWaiter{done: make(chan error, 1)}
	s.mu.Lock()
	s.download = w
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.download = nil
		s.mu.Unlock()
	}()

	if err := s.Click(ctx, selector, index); err != nil {
		return "", err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-w.done:
		if err != nil {
			return "", fmt.Errorf("download failed: %w", err)
		}
		s.mu.Lock()
		guid := w.guid
		s.mu.Unlock()
		return filepath.Join(s.stagingDir, guid), nil
	case <-timer.C:
		return "", fmt.Errorf("%w: no download completed within %s", ErrDownloadTimeout, timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Screenshot captures the current viewport as PNG. Kept on a short timeout so
// a wedged page cannot stall diagnostics.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var shot []byte
	if err := s.run(ctx, screenshotTimeout, chromedp.CaptureScreenshot(&shot)); err != nil {
		return nil, fmt.Errorf("screenshot capture failed: %w", err)
	}
	return shot, nil
}

// Sleep pauses for d without blocking past context cancellation.
func (s *Session) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
