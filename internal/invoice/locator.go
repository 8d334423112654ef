// Package invoice finds and captures the invoice documents attached to a
// single order: locating the affordances on the detail page, resolving the
// ones hidden behind modals, and saving each document as a PDF.
package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/invoicehound/invoicehound/internal/browser"
	"github.com/invoicehound/invoicehound/internal/crawler"
)

const (
	// modalSettle is how long a clicked modal trigger gets to render.
	modalSettle = 2 * time.Second

	// modalDismiss lets the page settle after Escape closes a modal.
	modalDismiss = 500 * time.Millisecond

	// visibilitySettle is one grace period for an invisible candidate to
	// finish rendering before it is skipped.
	visibilitySettle = time.Second

	// diagnosticLinkSample caps how many anchors the zero-candidate
	// diagnostic inspects.
	diagnosticLinkSample = 20
)

// Target is one invoice document to capture: where it lives and which
// positional suffix keeps it from clobbering its siblings.
type Target struct {
	URL    string
	Suffix string
	Label  string
}

// Locator inspects an order detail page for invoice documents.
type Locator struct {
	page       browser.Page
	nav        *crawler.Navigator
	base       string
	log        *slog.Logger
	strategies []Strategy
}

// Option configures a Locator.
type Option func(*Locator)

// WithStrategies replaces the default strategy chain.
func WithStrategies(strategies ...Strategy) Option {
	return func(l *Locator) {
		l.strategies = strategies
	}
}

// NewLocator creates a Locator for detail pages on the storefront at base.
func NewLocator(page browser.Page, nav *crawler.Navigator, base string, log *slog.Logger, opts ...Option) *Locator {
	l := &Locator{
		page:       page,
		nav:        nav,
		base:       strings.TrimRight(base, "/"),
		log:        log.With("component", "locator"),
		strategies: DefaultStrategies(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MatchesPayment reports whether the detail page's payment method ends in
// last4. An empty last4 matches everything. On a mismatch the payment
// section is logged so the operator can see what the page actually showed.
func (l *Locator) MatchesPayment(ctx context.Context, last4 string) (bool, error) {
	if last4 == "" {
		return true, nil
	}

	body, err := l.page.BodyText(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read detail page text: %w", err)
	}
	if PaymentPattern(last4).MatchString(body) {
		return true, nil
	}

	l.logPaymentSnippet(body)
	return false, nil
}

// PaymentPattern builds the matcher for a card's last four digits as
// storefronts render them: bare, or behind mask glyphs (****1234, ••••1234,
// -1234) with optional whitespace before the digits.
func PaymentPattern(last4 string) *regexp.Regexp {
	escaped := regexp.QuoteMeta(last4)
	return regexp.MustCompile(`(?:[*\x{2022}-])+\s*` + escaped + `|` + escaped)
}

func (l *Locator) logPaymentSnippet(body string) {
	idx := strings.Index(body, "Payment")
	if idx < 0 {
		return
	}
	window := truncate(body[idx:], 200)
	snippet := truncate(strings.Join(strings.Fields(window), " "), 150)
	l.log.Info("payment section", "snippet", snippet)
}

// Locate finds every invoice document reachable from the detail page at
// detailURL, which the browser is assumed to be showing. Direct links become
// targets as-is; modal triggers are opened, harvested, dismissed, and the
// detail page is reloaded so the next candidate starts from a clean DOM.
// An empty result with a nil error means the page simply has no invoices,
// which is an outcome, not a failure.
func (l *Locator) Locate(ctx context.Context, orderID, detailURL string) ([]Target, error) {
	var candidates []browser.Element
	for _, st := range l.strategies {
		els, err := st.Candidates(ctx, l.page)
		if err != nil {
			return nil, err
		}
		if len(els) > 0 {
			l.log.Info("found invoice links",
				"order", orderID, "strategy", st.Name(), "count", len(els))
			candidates = els
			break
		}
	}
	if len(candidates) == 0 {
		l.logLinkDiagnostics(ctx, orderID)
		return nil, nil
	}

	var targets []Target
	count := len(candidates)
	for i, el := range candidates {
		el, visible, err := l.ensureVisible(ctx, el)
		if err != nil {
			return nil, err
		}
		if !visible {
			l.log.Warn("invoice link not visible, skipping", "order", orderID, "link", i+1)
			continue
		}

		if isModalTrigger(el) {
			urls, err := l.resolveModal(ctx, orderID, el)
			if err != nil {
				l.log.Error("modal interaction failed", "order", orderID, "error", err)
				if escErr := l.page.PressEscape(ctx); escErr != nil {
					l.log.Debug("escape after failed modal also failed", "error", escErr)
				}
			}
			// Success or failure, reload the detail page so modal state
			// cannot leak into the next candidate.
			if navErr := l.nav.GotoAuthenticated(ctx, detailURL, DetailPageTimeout); navErr != nil {
				return nil, navErr
			}
			for j, u := range urls {
				targets = append(targets, Target{
					URL:    u,
					Suffix: modalSuffix(count, i, len(urls), j),
					Label:  fmt.Sprintf("modal invoice %d/%d", j+1, len(urls)),
				})
			}
		} else {
			target := el.Href
			if target == "" {
				target = resolveURL(l.base+"/", el.RawHref)
			}
			suffix := ""
			if count > 1 {
				suffix = "_" + strconv.Itoa(i+1)
			}
			targets = append(targets, Target{
				URL:    target,
				Suffix: suffix,
				Label:  fmt.Sprintf("invoice %d/%d", i+1, count),
			})
		}
	}
	return targets, nil
}

// ensureVisible gives an invisible candidate one settle period and a fresh
// snapshot before giving up on it.
func (l *Locator) ensureVisible(ctx context.Context, el browser.Element) (browser.Element, bool, error) {
	if el.Visible {
		return el, true, nil
	}
	if err := l.page.Sleep(ctx, visibilitySettle); err != nil {
		return el, false, err
	}
	els, err := l.page.QueryAll(ctx, el.Selector)
	if err != nil {
		return el, false, err
	}
	if el.Index < len(els) && els[el.Index].Visible {
		return els[el.Index], true, nil
	}
	return el, false, nil
}

// isModalTrigger reports whether the element opens an overlay instead of
// linking to a document: no href, a bare fragment, or a script handler.
func isModalTrigger(el browser.Element) bool {
	return el.RawHref == "" || el.RawHref == "#" || strings.HasPrefix(el.RawHref, "javascript:")
}

// resolveModal clicks a modal trigger, harvests the document URLs inside the
// overlay, and dismisses it with Escape. The caller reloads the detail page
// afterwards, whatever was found.
func (l *Locator) resolveModal(ctx context.Context, orderID string, el browser.Element) ([]string, error) {
	if err := l.page.Click(ctx, el.Selector, el.Index); err != nil {
		return nil, err
	}
	if err := l.page.Sleep(ctx, modalSettle); err != nil {
		return nil, err
	}

	links, err := l.findModalLinks(ctx)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		l.log.Warn("modal opened but no invoice links found", "order", orderID)
		if escErr := l.page.PressEscape(ctx); escErr != nil {
			l.log.Debug("escape dismissal failed", "error", escErr)
		}
		return nil, nil
	}
	l.log.Info("found invoice links in modal", "order", orderID, "count", len(links))

	var urls []string
	for _, ml := range links {
		href := ml.RawHref
		if href == "" || strings.HasPrefix(href, "javascript:") || strings.Contains(href, "summary/print") {
			continue
		}
		u := ml.Href
		if u == "" {
			u = resolveURL(l.base+"/", href)
		}
		urls = append(urls, u)
	}

	if escErr := l.page.PressEscape(ctx); escErr != nil {
		l.log.Debug("escape dismissal failed", "error", escErr)
	}
	if err := l.page.Sleep(ctx, modalDismiss); err != nil {
		return nil, err
	}

	if len(urls) == 0 {
		l.log.Warn("modal had no usable invoice URLs", "order", orderID)
	}
	return urls, nil
}

// findModalLinks probes the overlay containers for document links, most
// specific selector first.
func (l *Locator) findModalLinks(ctx context.Context) ([]browser.Element, error) {
	for _, sel := range []string{
		"div[role='dialog'] a[href*='/invoice/']",
		"div[role='dialog'] a[href*='invoice.pdf']",
		".a-popover a[href*='invoice']",
		".a-modal a[href*='invoice']",
	} {
		els, err := l.page.QueryAll(ctx, sel)
		if err != nil {
			return nil, err
		}
		if len(els) > 0 {
			return els, nil
		}
	}

	// Label-based fallback inside the overlay containers; "Summary" links
	// point at the print view, not the invoice.
	els, err := l.page.QueryAll(ctx, "div[role='dialog'] a, .a-popover a, .a-modal a")
	if err != nil {
		return nil, err
	}
	var labeled []browser.Element
	for _, el := range els {
		text := strings.ToLower(el.Text)
		if strings.Contains(text, "invoice") && !strings.Contains(text, "summary") {
			labeled = append(labeled, el)
		}
	}
	if len(labeled) > 0 {
		return labeled, nil
	}

	// Last resort stays scoped to the overlay containers; a page-wide probe
	// would pick the detail page's own links back up.
	return l.page.QueryAll(ctx,
		"div[role='dialog'] a[href*='invoice']:not([href*='summary/print']), "+
			".a-popover a[href*='invoice']:not([href*='summary/print']), "+
			".a-modal a[href*='invoice']:not([href*='summary/print'])")
}

// logLinkDiagnostics samples the page's anchors when no strategy matched,
// so selector drift shows up in the logs with something actionable.
func (l *Locator) logLinkDiagnostics(ctx context.Context, orderID string) {
	els, err := l.page.QueryAll(ctx, "a")
	if err == nil {
		var sample []string
		for i, el := range els {
			if i >= diagnosticLinkSample {
				break
			}
			text := strings.ToLower(el.Text)
			if strings.Contains(text, "invoice") || strings.Contains(text, "receipt") ||
				strings.Contains(text, "print") || strings.Contains(text, "view") {
				sample = append(sample, truncate(el.Text, 30)+" -> "+truncate(el.RawHref, 50))
			}
		}
		if len(sample) > 0 {
			l.log.Info("found potential invoice links",
				"order", orderID, "sample", strings.Join(sample, "; "))
		}
	}
	l.log.Warn("no invoice links found on details page", "order", orderID)
}

func modalSuffix(linkCount, linkIdx, urlCount, urlIdx int) string {
	var parts []string
	if linkCount > 1 {
		parts = append(parts, strconv.Itoa(linkIdx+1))
	}
	if urlCount > 1 {
		parts = append(parts, strconv.Itoa(urlIdx+1))
	}
	if len(parts) == 0 {
		return ""
	}
	return "_" + strings.Join(parts, "_")
}

// truncate caps s at n bytes, backing up to a rune boundary so mask glyphs
// and other multi-byte text never end up cut in half.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return b.ResolveReference(r).String()
}
