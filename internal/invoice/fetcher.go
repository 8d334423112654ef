package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/invoicehound/invoicehound/internal/browser"
	"github.com/invoicehound/invoicehound/internal/crawler"
)

const (
	// DetailPageTimeout bounds loads of order detail and invoice pages,
	// which sit behind the storefront's slowest backends.
	DetailPageTimeout = 180 * time.Second

	// networkIdleWait bounds the settle before PDF rendering.
	networkIdleWait = 30 * time.Second

	// downloadTimeout bounds a fallback browser download end to end.
	downloadTimeout = 120 * time.Second

	// downloadControlSelector matches explicit download affordances on an
	// invoice page.
	downloadControlSelector = "a[download], [aria-label*='Download'], .download-button"
)

// Fetcher captures one invoice target into a local PDF file.
type Fetcher struct {
	page browser.Page
	nav  *crawler.Navigator
	log  *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(page browser.Page, nav *crawler.Navigator, log *slog.Logger) *Fetcher {
	return &Fetcher{
		page: page,
		nav:  nav,
		log:  log.With("component", "fetcher"),
	}
}

// Fetch retrieves target into destPath and reports whether a new file was
// written. A destination that already exists is skipped before any
// navigation happens, and every failure mode is logged rather than
// propagated: one bad document never costs the rest of the order.
func (f *Fetcher) Fetch(ctx context.Context, target Target, orderID, destPath string) bool {
	if _, err := os.Stat(destPath); err == nil {
		f.log.Info("skipping, already downloaded", "order", orderID, "path", destPath)
		return false
	}

	if err := f.nav.GotoAuthenticated(ctx, target.URL, DetailPageTimeout); err != nil {
		f.log.Error("invoice page never loaded",
			"order", orderID, "label", target.Label, "url", target.URL, "error", err)
		return false
	}
	if err := f.page.WaitNetworkIdle(ctx, networkIdleWait); err != nil {
		f.log.Error("invoice page never settled",
			"order", orderID, "label", target.Label, "error", err)
		return false
	}

	size, err := f.renderPDF(ctx, destPath)
	if err == nil {
		f.log.Info("saved invoice",
			"order", orderID, "label", target.Label, "path", destPath,
			"size", humanize.Bytes(uint64(size)))
		return true
	}
	f.log.Warn("pdf capture failed; trying download controls",
		"order", orderID, "label", target.Label, "error", err)

	return f.fetchViaDownload(ctx, orderID, target, destPath)
}

func (f *Fetcher) renderPDF(ctx context.Context, destPath string) (int, error) {
	pdf, err := f.page.PrintPDF(ctx)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(destPath, pdf, 0o644); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", destPath, err)
	}
	return len(pdf), nil
}

// fetchViaDownload clicks whatever download affordance the page offers and
// captures the resulting browser download.
func (f *Fetcher) fetchViaDownload(ctx context.Context, orderID string, target Target, destPath string) bool {
	ctl, ok, err := f.findDownloadControl(ctx)
	if err != nil {
		f.log.Warn("could not inspect download controls", "order", orderID, "error", err)
		return false
	}
	if !ok {
		f.log.Warn("no download controls available", "order", orderID, "label", target.Label)
		return false
	}

	staged, err := f.page.Download(ctx, ctl.Selector, ctl.Index, downloadTimeout)
	if err != nil {
		if errors.Is(err, browser.ErrDownloadTimeout) {
			f.log.Warn("fallback download timed out", "order", orderID, "label", target.Label)
		} else {
			f.log.Warn("fallback download failed",
				"order", orderID, "label", target.Label, "error", err)
		}
		return false
	}

	if err := moveFile(staged, destPath); err != nil {
		f.log.Error("failed to move download into place",
			"order", orderID, "path", destPath, "error", err)
		return false
	}

	size := "unknown"
	if info, err := os.Stat(destPath); err == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}
	f.log.Info("saved invoice via download",
		"order", orderID, "label", target.Label, "path", destPath, "size", size)
	return true
}

// findDownloadControl picks the first explicit download affordance, falling
// back to anything labeled like one.
func (f *Fetcher) findDownloadControl(ctx context.Context) (browser.Element, bool, error) {
	els, err := f.page.QueryAll(ctx, downloadControlSelector)
	if err != nil {
		return browser.Element{}, false, err
	}
	if len(els) > 0 {
		return els[0], true, nil
	}

	all, err := f.page.QueryAll(ctx, "a, button")
	if err != nil {
		return browser.Element{}, false, err
	}
	for _, el := range all {
		text := strings.ToLower(el.Text)
		if strings.Contains(text, "download") || (el.Tag == "button" && strings.Contains(text, "print")) {
			return el, true, nil
		}
	}
	return browser.Element{}, false, nil
}

// moveFile renames staged downloads into place, copying across filesystems
// when rename cannot.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return err
	}
	return os.Remove(src)
}
