// Package crawler walks the authenticated order history: it handles the
// sign-in gate, harvests order IDs from each page, and follows pagination
// until the listing is exhausted.
package crawler

import "net/url"

// trail records every pagination URL seen during one listing walk. Storefront
// pagination can point back at an earlier page; the trail is what guarantees
// the walk terminates.
type trail struct {
	visited map[string]bool
}

func newTrail() *trail {
	return &trail{visited: make(map[string]bool)}
}

// Visit records rawURL and reports whether it was new. A false return means
// the walk has come back around.
func (t *trail) Visit(rawURL string) bool {
	normalized := normalizeURL(rawURL)
	if normalized == "" {
		return false
	}
	if t.visited[normalized] {
		return false
	}
	t.visited[normalized] = true
	return true
}

// normalizeURL normalizes a URL for comparison.
func normalizeURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	// Remove fragment
	parsed.Fragment = ""

	// Remove trailing slash from path (unless it's just "/")
	if len(parsed.Path) > 1 && parsed.Path[len(parsed.Path)-1] == '/' {
		parsed.Path = parsed.Path[:len(parsed.Path)-1]
	}

	return parsed.String()
}
