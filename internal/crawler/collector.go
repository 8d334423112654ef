package crawler

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/invoicehound/invoicehound/internal/browser"
)

const (
	paginationMaxWait = 45 * time.Second

	nextPageSelector = ".a-pagination .a-last a"
)

// Collector walks the order-history listing and harvests order IDs.
type Collector struct {
	page browser.Page
	nav  *Navigator
	base string
	log  *slog.Logger
}

// NewCollector creates a Collector for the storefront at base
// (e.g. "https://www.amazon.ca").
func NewCollector(page browser.Page, nav *Navigator, base string, log *slog.Logger) *Collector {
	return &Collector{
		page: page,
		nav:  nav,
		base: strings.TrimRight(base, "/"),
		log:  log.With("component", "collector"),
	}
}

// Collect walks the listing for year (0 means the default listing) and
// returns order IDs in first-seen order. Pagination stops on a disabled or
// missing next control, on any URL already walked, or on a page that never
// loads; the IDs gathered so far are returned alongside any error.
func (c *Collector) Collect(ctx context.Context, year int) ([]string, error) {
	listURL := historyURL(c.base, year)
	if year > 0 {
		c.log.Info("collecting order ids", "url", listURL, "year", year)
	} else {
		c.log.Info("collecting order ids", "url", listURL)
	}

	if err := c.nav.GotoAuthenticated(ctx, listURL, DefaultNavTimeout); err != nil {
		return nil, err
	}

	tr := newTrail()
	tr.Visit(listURL)

	var ids []string
	seen := make(map[string]bool)

	for {
		if err := ctx.Err(); err != nil {
			return ids, err
		}

		html, err := c.page.HTML(ctx)
		if err != nil {
			return ids, err
		}
		for _, id := range extractOrderIDs(html) {
			if seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
		c.log.Info("collected order ids so far", "count", len(ids))

		next, ok, err := c.findNextControl(ctx)
		if err != nil {
			return ids, err
		}
		if !ok {
			c.log.Debug("no further pages detected")
			break
		}
		if next.Disabled {
			c.log.Debug("pagination control disabled; reached last page")
			break
		}

		c.log.Info("advancing to the next order history page")
		if next.RawHref != "" {
			nextURL := next.Href
			if nextURL == "" {
				nextURL = resolveURL(c.base+"/", next.RawHref)
			}
			if !tr.Visit(nextURL) {
				c.log.Info("pagination loop detected; stopping")
				break
			}
			if err := c.nav.GotoAuthenticated(ctx, nextURL, paginationMaxWait); err != nil {
				if errors.Is(err, browser.ErrNavigationTimeout) {
					c.log.Warn("timed out loading next orders page; stopping", "error", err)
					break
				}
				return ids, err
			}
		} else {
			prev, err := c.page.Location(ctx)
			if err != nil {
				return ids, err
			}
			if err := c.page.Click(ctx, next.Selector, next.Index); err != nil {
				c.log.Warn("pagination control could not be clicked; stopping", "error", err)
				break
			}
			if err := c.page.WaitLocation(ctx, paginationMaxWait, func(u string) bool {
				return u != prev
			}); err != nil {
				c.log.Warn("pagination did not advance; stopping", "error", err)
				break
			}
			loc, err := c.page.Location(ctx)
			if err != nil {
				return ids, err
			}
			if !tr.Visit(loc) {
				c.log.Info("pagination loop detected; stopping")
				break
			}
			if err := c.page.WaitReady(ctx, paginationMaxWait); err != nil {
				c.log.Warn("timed out waiting for next orders page; stopping", "error", err)
				break
			}
		}
	}

	c.log.Info("collected order ids from order history", "count", len(ids))
	return ids, nil
}

// findNextControl locates the pagination control: the listing's own
// next-page arrow when present, otherwise the first anchor labeled "Next".
func (c *Collector) findNextControl(ctx context.Context) (browser.Element, bool, error) {
	els, err := c.page.QueryAll(ctx, nextPageSelector)
	if err != nil {
		return browser.Element{}, false, err
	}
	if len(els) == 0 {
		all, err := c.page.QueryAll(ctx, "a")
		if err != nil {
			return browser.Element{}, false, err
		}
		for _, el := range all {
			if strings.Contains(strings.ToLower(el.Text), "next") {
				els = append(els, el)
				break
			}
		}
	}
	if len(els) == 0 {
		return browser.Element{}, false, nil
	}
	return els[0], true, nil
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
