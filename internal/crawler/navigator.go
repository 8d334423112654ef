package crawler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/invoicehound/invoicehound/internal/browser"
)

const (
	// DefaultNavTimeout bounds ordinary page loads.
	DefaultNavTimeout = 60 * time.Second

	// loginWaitTimeout is how long the operator gets to complete an
	// interactive sign-in before the navigation counts as failed.
	loginWaitTimeout = 5 * time.Minute
)

// Navigator wraps navigation with sign-in awareness: any page load can be
// hijacked by the storefront's login wall, and the crawl has to wait for the
// operator to clear it rather than scrape the sign-in form.
type Navigator struct {
	page browser.Page
	log  *slog.Logger

	// LoginWait overrides how long to wait for interactive sign-in.
	LoginWait time.Duration
}

// NewNavigator creates a Navigator driving page.
func NewNavigator(page browser.Page, log *slog.Logger) *Navigator {
	return &Navigator{
		page:      page,
		log:       log.With("component", "navigator"),
		LoginWait: loginWaitTimeout,
	}
}

// GotoAuthenticated navigates to url and, if the storefront redirects to its
// sign-in page, blocks until the operator completes login, then repeats the
// navigation so the session actually lands on url. A login wait that expires
// is a hard failure so the caller's retry policy sees it; a sign-in page that
// survives both passes is logged and tolerated, since some account pages
// render partial content behind the wall.
func (n *Navigator) GotoAuthenticated(ctx context.Context, url string, timeout time.Duration) error {
	for pass := 0; pass < 2; pass++ {
		if err := n.page.Navigate(ctx, url, timeout); err != nil {
			return err
		}
		loc, err := n.page.Location(ctx)
		if err != nil {
			return err
		}
		if !isSignInURL(loc) {
			return nil
		}

		n.log.Info("sign-in required; complete login in the browser window",
			"wait", n.LoginWait)
		if err := n.page.WaitLocation(ctx, n.LoginWait, func(u string) bool {
			return !isSignInURL(u)
		}); err != nil {
			n.log.Error("timed out waiting for login to complete", "error", err)
			return err
		}
		n.log.Info("login complete")
	}

	n.log.Warn("still seeing sign-in page after retries; continuing")
	return nil
}

func isSignInURL(u string) bool {
	return strings.Contains(strings.ToLower(u), "signin")
}
