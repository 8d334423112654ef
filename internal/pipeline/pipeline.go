// Package pipeline sequences a full run: seed or crawl the order IDs, then
// drive each order through the capture flow and account for the results.
package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/invoicehound/invoicehound/internal/crawler"
	"github.com/invoicehound/invoicehound/internal/orders"
	"github.com/invoicehound/invoicehound/internal/report"
)

// Config carries the run-scoped settings for a pipeline.
type Config struct {
	// Base is the storefront root, e.g. "https://www.amazon.ca".
	Base string

	// SeedCSV is the exported orders report used to seed IDs without
	// crawling.
	SeedCSV string

	// CachePath is the plain-text ID cache left behind by a crawl.
	CachePath string

	// OutDir receives the invoice PDFs.
	OutDir string

	// ScreenshotDir, when set, receives failure screenshots.
	ScreenshotDir string

	// Last4 filters orders by payment method; empty keeps everything.
	Last4 string

	// Years restricts the crawl to specific order-history years; empty
	// crawls the default listing.
	Years []int

	// ForceCrawl discards the seed sources and crawls fresh.
	ForceCrawl bool
}

// Pipeline owns one end-to-end run against a single storefront session.
type Pipeline struct {
	nav       *crawler.Navigator
	collector *crawler.Collector
	processor *orders.Processor
	cfg       Config
	log       *slog.Logger
}

// New wires a Pipeline from its collaborators.
func New(nav *crawler.Navigator, collector *crawler.Collector, processor *orders.Processor, cfg Config, log *slog.Logger) *Pipeline {
	cfg.Base = strings.TrimRight(cfg.Base, "/")
	return &Pipeline{
		nav:       nav,
		collector: collector,
		processor: processor,
		cfg:       cfg,
		log:       log.With("component", "pipeline"),
	}
}

// Run executes the full flow and returns the per-order outcomes, including
// partial results when the context is canceled mid-run. Besides directory
// creation, nothing here is fatal: seed sources that fail fall back to
// crawling, and order failures are isolated by the processor.
func (p *Pipeline) Run(ctx context.Context) ([]orders.Outcome, error) {
	if err := p.ensureDirs(); err != nil {
		return nil, err
	}

	// Front the login interaction once so the operator signs in at a
	// predictable moment instead of mid-crawl.
	if err := p.nav.GotoAuthenticated(ctx, p.cfg.Base, crawler.DefaultNavTimeout); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.log.Warn("initial storefront navigation failed; continuing", "error", err)
	}

	ids := p.gatherIDs(ctx)
	if len(ids) == 0 {
		p.log.Info("no order ids gathered; nothing to download")
		return nil, ctx.Err()
	}

	p.log.Info("attempting downloads", "count", len(ids))
	outcomes := make([]orders.Outcome, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		outcomes = append(outcomes, p.processor.Process(ctx, id))
	}

	p.logSummary(outcomes)
	return outcomes, ctx.Err()
}

// gatherIDs resolves the set of order IDs for the run: the CSV seed first,
// then the cache from an earlier crawl, then a fresh crawl. ForceCrawl
// skips straight to crawling.
func (p *Pipeline) gatherIDs(ctx context.Context) []string {
	var ids []string
	if p.cfg.ForceCrawl {
		if err := report.DropCachedIDs(p.cfg.CachePath); err != nil {
			p.log.Warn("could not remove the cached id file", "path", p.cfg.CachePath, "error", err)
		}
	} else {
		seeded, err := report.LoadSeedIDs(p.cfg.SeedCSV, p.cfg.Last4, p.log)
		if err != nil {
			p.log.Error("seed report unusable; falling back to crawling", "path", p.cfg.SeedCSV, "error", err)
		}
		ids = seeded
		if len(ids) == 0 {
			cached, err := report.LoadCachedIDs(p.cfg.CachePath)
			if err != nil {
				p.log.Warn("could not read the cached id file", "path", p.cfg.CachePath, "error", err)
			}
			if len(cached) > 0 {
				p.log.Info("using cached order ids from an earlier crawl", "count", len(cached))
				ids = cached
			}
		}
	}

	if len(ids) == 0 {
		ids = p.crawlIDs(ctx)
	}
	return dedupe(ids)
}

// crawlIDs sweeps the order-history listing for each configured year and
// persists what it finds so later runs can skip the crawl.
func (p *Pipeline) crawlIDs(ctx context.Context) []string {
	years := p.cfg.Years
	if len(years) == 0 {
		years = []int{0}
	}

	var ids []string
	for _, year := range years {
		if ctx.Err() != nil {
			break
		}
		found, err := p.collector.Collect(ctx, year)
		if err != nil {
			p.log.Warn("order history crawl failed; keeping what was collected",
				"year", year, "error", err)
		}
		ids = append(ids, found...)
	}
	ids = dedupe(ids)

	if len(ids) > 0 {
		if err := report.SaveCachedIDs(p.cfg.CachePath, ids); err != nil {
			p.log.Warn("could not persist crawled order ids", "path", p.cfg.CachePath, "error", err)
		}
	}
	return ids
}

func (p *Pipeline) ensureDirs() error {
	dirs := []string{p.cfg.OutDir}
	if p.cfg.ScreenshotDir != "" {
		dirs = append(dirs, p.cfg.ScreenshotDir)
	}
	if p.cfg.CachePath != "" {
		dirs = append(dirs, filepath.Dir(p.cfg.CachePath))
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) logSummary(outcomes []orders.Outcome) {
	totals := make(map[orders.Status]int)
	saved := 0
	for _, out := range outcomes {
		totals[out.Status]++
		saved += out.Saved
	}
	p.log.Info("run complete",
		"orders", len(outcomes),
		"saved", saved,
		"existing", totals[orders.StatusExists],
		"skipped", totals[orders.StatusSkippedFilter],
		"no_invoice", totals[orders.StatusNoInvoice],
		"failed", totals[orders.StatusFailed]+totals[orders.StatusAbandoned],
	)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
