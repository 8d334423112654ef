package crawler

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// orderIDPattern matches the marketplace's 3-7-7 order number format.
var orderIDPattern = regexp.MustCompile(`\d{3}-\d{7}-\d{7}`)

// orderCardSelector covers the order-card markup variants the listing has
// shipped over the years.
const orderCardSelector = "[data-testid='order-card'], [id^='ordersContainer'] section, .order, .a-box-group"

// extractOrderIDs pulls order IDs from one listing page, in card order,
// first occurrence wins. Cards whose text carries no ID fall back to their
// "Order ..." link text before being skipped.
func extractOrderIDs(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var ids []string
	seen := make(map[string]bool)

	doc.Find(orderCardSelector).Each(func(_ int, card *goquery.Selection) {
		id := orderIDPattern.FindString(card.Text())
		if id == "" {
			link := card.Find("a").FilterFunction(func(_ int, a *goquery.Selection) bool {
				return looksLikeOrderLink(a.Text())
			}).First()
			id = orderIDPattern.FindString(link.Text())
		}
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	})

	return ids
}

// looksLikeOrderLink matches the listing's "Order #" link label in whatever
// case the storefront renders it.
func looksLikeOrderLink(text string) bool {
	return strings.Contains(strings.ToLower(text), "order")
}

// historyURL builds the order-history listing URL, optionally filtered to a
// single year.
func historyURL(base string, year int) string {
	u := strings.TrimRight(base, "/") + "/gp/your-account/order-history"
	if year > 0 {
		u += "?orderFilter=year-" + strconv.Itoa(year)
	}
	return u
}
