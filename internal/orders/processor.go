package orders

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/invoicehound/invoicehound/internal/browser"
	"github.com/invoicehound/invoicehound/internal/crawler"
	"github.com/invoicehound/invoicehound/internal/invoice"
)

// Status summarizes how one order ended up.
type Status string

const (
	// StatusSaved means at least one new invoice file was written.
	StatusSaved Status = "saved"

	// StatusExists means every invoice was already on disk from an
	// earlier run.
	StatusExists Status = "exists"

	// StatusSkippedFilter means the payment method did not match.
	StatusSkippedFilter Status = "skipped-filter"

	// StatusNoInvoice means the detail page offered no invoice documents.
	StatusNoInvoice Status = "no-invoice"

	// StatusFailed means invoices were found but none could be captured.
	StatusFailed Status = "failed"

	// StatusAbandoned means every attempt at the order failed.
	StatusAbandoned Status = "abandoned"
)

// Outcome is the per-order result the pipeline reports on.
type Outcome struct {
	OrderID  string `json:"orderId" yaml:"orderId"`
	Status   Status `json:"status" yaml:"status"`
	Saved    int    `json:"saved" yaml:"saved"`
	Attempts int    `json:"attempts" yaml:"attempts"`
}

// Config carries the run-scoped settings a Processor needs.
type Config struct {
	// Base is the storefront root, e.g. "https://www.amazon.ca".
	Base string

	// OutDir receives the invoice PDFs.
	OutDir string

	// Last4 filters orders by payment method; empty keeps everything.
	Last4 string

	// ScreenshotDir, when set, receives a screenshot of the page each
	// time an order is abandoned.
	ScreenshotDir string

	// Retry overrides the default attempt policy.
	Retry Policy
}

// Processor drives the full capture flow for one order at a time.
type Processor struct {
	page    browser.Page
	nav     *crawler.Navigator
	locator *invoice.Locator
	fetcher *invoice.Fetcher
	cfg     Config
	log     *slog.Logger
}

// NewProcessor wires a Processor from its collaborators.
func NewProcessor(page browser.Page, nav *crawler.Navigator, locator *invoice.Locator, fetcher *invoice.Fetcher, cfg Config, log *slog.Logger) *Processor {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultPolicy()
	}
	cfg.Base = strings.TrimRight(cfg.Base, "/")
	return &Processor{
		page:    page,
		nav:     nav,
		locator: locator,
		fetcher: fetcher,
		cfg:     cfg,
		log:     log.With("component", "processor"),
	}
}

// Process runs one order through the capture flow. Transient failures
// (navigation timeouts, anything unexpected) are retried per the policy; an
// order that exhausts its attempts is abandoned, never fatal, so one bad
// order cannot sink the run.
func (p *Processor) Process(ctx context.Context, orderID string) Outcome {
	out := Outcome{OrderID: orderID}

	err := p.cfg.Retry.Do(ctx, func(attempt int) error {
		out.Attempts = attempt
		res, err := p.processOnce(ctx, orderID)
		if err != nil {
			if errors.Is(err, browser.ErrNavigationTimeout) {
				p.log.Warn("timeout while loading order",
					"order", orderID, "attempt", attempt, "max", p.cfg.Retry.MaxAttempts)
			} else {
				p.log.Error("unexpected error processing order",
					"order", orderID, "attempt", attempt, "error", err)
			}
			return err
		}
		out.Status = res.status
		out.Saved = res.saved
		return nil
	})

	if err != nil {
		p.log.Error("exhausted retries, moving on", "order", orderID, "error", err)
		p.captureFailureShot(ctx, orderID)
		out.Status = StatusAbandoned
	}
	return out
}

type attemptResult struct {
	status Status
	saved  int
}

func (p *Processor) processOnce(ctx context.Context, orderID string) (attemptResult, error) {
	detailsURL := p.detailURL(orderID)
	p.log.Debug("loading order detail", "order", orderID, "url", detailsURL)
	if err := p.nav.GotoAuthenticated(ctx, detailsURL, invoice.DetailPageTimeout); err != nil {
		return attemptResult{}, err
	}

	p.log.Debug("checking payment method", "order", orderID)
	ok, err := p.locator.MatchesPayment(ctx, p.cfg.Last4)
	if err != nil {
		return attemptResult{}, err
	}
	if !ok {
		p.log.Info("payment method does not match; skipping",
			"order", orderID, "last4", p.cfg.Last4)
		return attemptResult{status: StatusSkippedFilter}, nil
	}

	p.log.Debug("locating invoice links", "order", orderID)
	targets, err := p.locator.Locate(ctx, orderID, detailsURL)
	if err != nil {
		return attemptResult{}, err
	}
	if len(targets) == 0 {
		return attemptResult{status: StatusNoInvoice}, nil
	}

	p.log.Debug("fetching invoice targets", "order", orderID, "count", len(targets))
	saved, existed := 0, 0
	for _, tgt := range targets {
		if err := ctx.Err(); err != nil {
			return attemptResult{}, err
		}
		dest := filepath.Join(p.cfg.OutDir, orderID+tgt.Suffix+".pdf")
		if _, statErr := os.Stat(dest); statErr == nil {
			existed++
		}
		if p.fetcher.Fetch(ctx, tgt, orderID, dest) {
			saved++
		}
	}

	res := attemptResult{saved: saved}
	switch {
	case saved > 0:
		res.status = StatusSaved
	case existed == len(targets):
		res.status = StatusExists
	default:
		res.status = StatusFailed
	}
	p.log.Debug("order attempt complete", "order", orderID, "status", res.status, "saved", saved)
	return res, nil
}

func (p *Processor) detailURL(orderID string) string {
	return p.cfg.Base + "/gp/your-account/order-details?orderID=" + orderID
}

// captureFailureShot grabs the page as the operator would have seen it when
// an order ran out of attempts.
func (p *Processor) captureFailureShot(ctx context.Context, orderID string) {
	if p.cfg.ScreenshotDir == "" {
		return
	}
	shot, err := p.page.Screenshot(ctx)
	if err != nil {
		p.log.Debug("failure screenshot unavailable", "order", orderID, "error", err)
		return
	}
	path := filepath.Join(p.cfg.ScreenshotDir, orderID+".png")
	if err := os.WriteFile(path, shot, 0o644); err != nil {
		p.log.Debug("failed to write failure screenshot", "order", orderID, "error", err)
		return
	}
	p.log.Info("captured failure screenshot", "order", orderID, "path", path)
}
