package invoice

import (
	"context"
	"regexp"
	"strings"

	"github.com/invoicehound/invoicehound/internal/browser"
)

// Strategy is one way of spotting invoice affordances on an order detail
// page. Strategies are tried in order; the first one that finds anything
// wins, so broad fallbacks belong at the end of the list.
type Strategy interface {
	// Name identifies the strategy in logs.
	Name() string

	// Candidates returns the affordance elements this strategy finds,
	// in page order.
	Candidates(ctx context.Context, pg browser.Page) ([]browser.Element, error)
}

// DefaultStrategies returns the built-in strategy chain: explicit invoice
// markup first, then accessible-name matching, then a sweep of the known
// order-action containers.
func DefaultStrategies() []Strategy {
	return []Strategy{
		hrefPatternStrategy{},
		textRoleStrategy{},
		containerScopedStrategy{},
	}
}

// invoiceAttrSelector matches elements whose markup names the invoice
// outright: href fragments, modal wiring, or script handlers.
const invoiceAttrSelector = "a[href*='invoice'], a[href*='summary/print'], a[href*='order-summary'], " +
	"a[href*='print-receipt'], a[href*='order-receipt'], [data-a-modal*='invoice'], " +
	"[data-action*='invoice'], a[onclick*='invoice'], button[onclick*='invoice']"

// containerScopedSelector sweeps the containers the detail page keeps its
// order actions in.
const containerScopedSelector = ".order-actions a, .order-actions button, .order-info a, " +
	".order-info button, #orderDetails a, #orderDetails button"

var (
	invoiceHrefFragments = []string{"invoice", "summary/print", "order-summary", "print-receipt", "order-receipt"}
	anchorLabelHints     = []string{"invoice", "view order summary"}
	buttonLabelHints     = []string{"invoice", "receipt", "view"}

	roleNamePattern = regexp.MustCompile(`(?i)invoice|receipt|summary|print`)
)

// hrefPatternStrategy finds affordances by their markup: invoice-flavored
// hrefs and attributes, plus anchors and buttons labeled like invoice
// controls.
type hrefPatternStrategy struct{}

func (hrefPatternStrategy) Name() string { return "href-pattern" }

func (hrefPatternStrategy) Candidates(ctx context.Context, pg browser.Page) ([]browser.Element, error) {
	els, err := pg.QueryAll(ctx, invoiceAttrSelector)
	if err != nil {
		return nil, err
	}

	labeled, err := pg.QueryAll(ctx, "a, button")
	if err != nil {
		return nil, err
	}

	out := els
	seen := make(map[string]bool, len(els))
	for _, el := range els {
		seen[candidateKey(el)] = true
	}
	for _, el := range labeled {
		if !labelHit(el) {
			continue
		}
		key := candidateKey(el)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, el)
	}
	return out, nil
}

// textRoleStrategy falls back to accessible names: any link whose text or
// aria-label mentions invoices, receipts, summaries, or printing.
type textRoleStrategy struct{}

func (textRoleStrategy) Name() string { return "text-role" }

func (textRoleStrategy) Candidates(ctx context.Context, pg browser.Page) ([]browser.Element, error) {
	els, err := pg.QueryAll(ctx, "a[href], [role='link']")
	if err != nil {
		return nil, err
	}

	var out []browser.Element
	for _, el := range els {
		if roleNamePattern.MatchString(el.Text) || roleNamePattern.MatchString(el.Attr("aria-label")) {
			out = append(out, el)
		}
	}
	return out, nil
}

// containerScopedStrategy restricts the search to the detail page's action
// containers, where looser matching is safe.
type containerScopedStrategy struct{}

func (containerScopedStrategy) Name() string { return "container-scoped" }

func (containerScopedStrategy) Candidates(ctx context.Context, pg browser.Page) ([]browser.Element, error) {
	els, err := pg.QueryAll(ctx, containerScopedSelector)
	if err != nil {
		return nil, err
	}

	var out []browser.Element
	for _, el := range els {
		if attrHit(el) || labelHit(el) {
			out = append(out, el)
		}
	}
	return out, nil
}

func candidateKey(el browser.Element) string {
	return el.Tag + "|" + el.RawHref + "|" + el.Text
}

func labelHit(el browser.Element) bool {
	text := strings.ToLower(el.Text)
	hints := anchorLabelHints
	if el.Tag == "button" {
		hints = buttonLabelHints
	}
	for _, hint := range hints {
		if strings.Contains(text, hint) {
			return true
		}
	}
	return false
}

func attrHit(el browser.Element) bool {
	href := strings.ToLower(el.RawHref)
	for _, frag := range invoiceHrefFragments {
		if strings.Contains(href, frag) {
			return true
		}
	}
	for _, attr := range []string{"onclick", "data-action", "data-a-modal"} {
		if strings.Contains(strings.ToLower(el.Attr(attr)), "invoice") {
			return true
		}
	}
	return false
}
