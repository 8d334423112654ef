package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/invoicehound/invoicehound/internal/browser"
	"github.com/invoicehound/invoicehound/internal/crawler"
	"github.com/invoicehound/invoicehound/internal/invoice"
	"github.com/invoicehound/invoicehound/internal/logger"
	"github.com/invoicehound/invoicehound/internal/orders"
	"github.com/invoicehound/invoicehound/internal/pipeline"
	"github.com/invoicehound/invoicehound/internal/report"
)

// fetchConfig is the validated bundle of run parameters.
type fetchConfig struct {
	Domain       string `validate:"required,hostname"`
	Last4        string `validate:"omitempty,len=4,numeric"`
	CSVPath      string
	OutDir       string `validate:"required"`
	ReportsDir   string `validate:"required"`
	ProfileDir   string `validate:"required"`
	ChromePath   string
	UserAgent    string
	ReportPath   string
	ReportFormat string `validate:"omitempty,oneof=json jsonl yaml"`
	Years        []int  `validate:"dive,gte=2000,lte=2100"`
	Headless     bool
	Stealth      bool
	ForceCrawl   bool
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Crawl the order history and download invoice PDFs",
	Long: `Fetch signs into the storefront, gathers order IDs, and captures
each order's invoice documents as PDFs under the output directory.

The first run opens a visible Chrome window so you can sign in; the
session lives in the profile directory, so later runs (including
headless ones) reuse it.

Order IDs are seeded from the exported orders report (--csv) when it
exists, or from the ID cache left by an earlier crawl. With neither,
or with --force-crawl, the order-history listing is crawled.

Examples:
  # Everything on the default listing
  invoicehound fetch

  # One card, one year, fresh crawl
  invoicehound fetch --last4 1234 --years 2024 --force-crawl

  # Headless follow-up run with a machine-readable summary
  invoicehound fetch --headless --report reports/run.json`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	flags := fetchCmd.Flags()

	// Storefront
	flags.String("domain", "www.amazon.ca", "storefront host to fetch from")
	flags.String("last4", "", "only fetch orders paid with a card ending in these 4 digits")
	flags.IntSlice("years", nil, "order-history year to sweep (repeatable; default: the default listing)")

	// Seed sources
	flags.String("csv", "reports/orders.csv", "exported orders report used to seed order IDs")
	flags.Bool("force-crawl", false, "ignore seed sources and crawl the listing fresh")

	// Output
	flags.String("out-dir", "downloads", "directory receiving invoice PDFs")
	flags.String("reports-dir", "reports", "directory for the ID cache and failure screenshots")
	flags.String("report", "", "write a run summary to this file")
	flags.String("report-format", "json", "run summary format: json, jsonl, yaml")

	// Browser
	flags.Bool("headless", false, "run Chrome without a window (sign in interactively first)")
	flags.String("profile-dir", ".profile", "persistent Chrome profile directory")
	flags.String("chrome-path", "", "Chrome binary (default: discovered)")
	flags.Bool("stealth", false, "mask automation fingerprints from the storefront")
	flags.String("user-agent", "", "override the browser user agent")
}

func runFetch(cmd *cobra.Command, args []string) error {
	logger.Init(logger.Options{
		Debug: viper.GetBool("debug"),
		Quiet: viper.GetBool("quiet"),
		JSON:  viper.GetBool("log_json"),
	})
	log := logger.Default()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := fetchConfigFromFlags(cmd)
	if err := validateConfig(cfg); err != nil {
		return err
	}

	var reportFormat report.Format
	if cfg.ReportPath != "" {
		var err error
		reportFormat, err = report.ParseFormat(cfg.ReportFormat)
		if err != nil {
			return err
		}
	}

	session, err := browser.NewSession(browser.Config{
		Headless:   cfg.Headless,
		Stealth:    cfg.Stealth,
		ProfileDir: cfg.ProfileDir,
		StagingDir: filepath.Join(cfg.OutDir, ".staging"),
		ChromePath: cfg.ChromePath,
		UserAgent:  cfg.UserAgent,
	}, log)
	if err != nil {
		log.Error("failed to start the browser session", "error", err)
		return err
	}
	defer func() { _ = session.Close() }()

	base := "https://" + cfg.Domain
	nav := crawler.NewNavigator(session, log)
	collector := crawler.NewCollector(session, nav, base, log)
	locator := invoice.NewLocator(session, nav, base, log)
	fetcher := invoice.NewFetcher(session, nav, log)
	processor := orders.NewProcessor(session, nav, locator, fetcher, orders.Config{
		Base:          base,
		OutDir:        cfg.OutDir,
		Last4:         cfg.Last4,
		ScreenshotDir: cfg.ReportsDir,
	}, log)

	run := pipeline.New(nav, collector, processor, pipeline.Config{
		Base:          base,
		SeedCSV:       cfg.CSVPath,
		CachePath:     filepath.Join(cfg.ReportsDir, "order_ids.txt"),
		OutDir:        cfg.OutDir,
		ScreenshotDir: cfg.ReportsDir,
		Last4:         cfg.Last4,
		Years:         cfg.Years,
		ForceCrawl:    cfg.ForceCrawl,
	}, log)

	outcomes, runErr := run.Run(ctx)

	if cfg.ReportPath != "" {
		summary := report.Summarize(base, cfg.Years, outcomes)
		if err := report.WriteFile(cfg.ReportPath, reportFormat, summary); err != nil {
			log.Error("failed to write the run summary", "path", cfg.ReportPath, "error", err)
			if runErr == nil {
				runErr = err
			}
		} else {
			log.Info("wrote run summary", "path", cfg.ReportPath, "format", string(reportFormat))
		}
	}

	if errors.Is(runErr, context.Canceled) {
		log.Warn("run interrupted")
		return nil
	}
	return runErr
}

func fetchConfigFromFlags(cmd *cobra.Command) fetchConfig {
	flags := cmd.Flags()
	var cfg fetchConfig
	cfg.Domain, _ = flags.GetString("domain")
	cfg.Last4, _ = flags.GetString("last4")
	cfg.Years, _ = flags.GetIntSlice("years")
	cfg.CSVPath, _ = flags.GetString("csv")
	cfg.ForceCrawl, _ = flags.GetBool("force-crawl")
	cfg.OutDir, _ = flags.GetString("out-dir")
	cfg.ReportsDir, _ = flags.GetString("reports-dir")
	cfg.ReportPath, _ = flags.GetString("report")
	cfg.ReportFormat, _ = flags.GetString("report-format")
	cfg.Headless, _ = flags.GetBool("headless")
	cfg.ProfileDir, _ = flags.GetString("profile-dir")
	cfg.ChromePath, _ = flags.GetString("chrome-path")
	cfg.Stealth, _ = flags.GetBool("stealth")
	cfg.UserAgent, _ = flags.GetString("user-agent")
	return cfg
}

var validate = validator.New()

func validateConfig(cfg fetchConfig) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("invalid --%s: %s", flagForField(e.Field()), formatValidationError(e))
	}
	return err
}

// flagForField maps a config field back to the flag the operator typed.
func flagForField(field string) string {
	switch {
	case field == "Domain":
		return "domain"
	case field == "Last4":
		return "last4"
	case field == "OutDir":
		return "out-dir"
	case field == "ReportsDir":
		return "reports-dir"
	case field == "ProfileDir":
		return "profile-dir"
	case field == "ReportFormat":
		return "report-format"
	case strings.HasPrefix(field, "Years"):
		return "years"
	default:
		return strings.ToLower(field)
	}
}

// formatValidationError creates a human-readable error message.
func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "hostname":
		return "must be a bare hostname like www.amazon.ca"
	case "len":
		return fmt.Sprintf("must be exactly %s characters", e.Param())
	case "numeric":
		return "must be digits only"
	case "gte":
		return fmt.Sprintf("must be %s or later", e.Param())
	case "lte":
		return fmt.Sprintf("must be %s or earlier", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}
