package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/invoicehound/invoicehound/internal/browser"
	"github.com/invoicehound/invoicehound/internal/crawler"
	"github.com/invoicehound/invoicehound/internal/invoice"
	"github.com/invoicehound/invoicehound/internal/orders"
	"github.com/invoicehound/invoicehound/internal/report"
)

const (
	testBase    = "https://shop.example"
	testOrderA  = "701-1111111-2222222"
	testOrderB  = "702-3333333-4444444"
	testOrderC  = "703-5555555-6666666"
	testHistory = testBase + "/gp/your-account/order-history"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// storePage is one URL's worth of fake storefront.
type storePage struct {
	html  string
	links []browser.Element
}

// fakeStore serves a handful of storefront URLs to the whole component
// stack at once: listing pages by their HTML, detail and invoice pages by
// their link elements.
type fakeStore struct {
	browser.Page

	pages     map[string]storePage
	location  string
	navigated []string

	// cancelAfter fires cancel once that many navigations have happened.
	cancelAfter int
	cancel      context.CancelFunc
}

func (f *fakeStore) Navigate(_ context.Context, url string, _ time.Duration) error {
	f.navigated = append(f.navigated, url)
	f.location = url
	if f.cancel != nil && f.cancelAfter > 0 && len(f.navigated) >= f.cancelAfter {
		f.cancel()
	}
	return nil
}

func (f *fakeStore) Location(context.Context) (string, error) {
	return f.location, nil
}

func (f *fakeStore) HTML(context.Context) (string, error) {
	return f.pages[f.location].html, nil
}

func (f *fakeStore) QueryAll(_ context.Context, selector string) ([]browser.Element, error) {
	src := f.pages[f.location].links
	els := make([]browser.Element, len(src))
	for i, el := range src {
		el.Selector = selector
		el.Index = i
		els[i] = el
	}
	return els, nil
}

func (f *fakeStore) WaitReady(context.Context, time.Duration) error { return nil }

func (f *fakeStore) WaitNetworkIdle(context.Context, time.Duration) error { return nil }

func (f *fakeStore) PrintPDF(context.Context) ([]byte, error) { return []byte("%PDF-1.4 fake"), nil }

func detailURL(orderID string) string {
	return testBase + "/gp/your-account/order-details?orderID=" + orderID
}

func invoiceLink(path string) browser.Element {
	return browser.Element{Tag: "a", Text: "Invoice 1", RawHref: path, Href: testBase + path, Visible: true}
}

// storeWithOrders serves a detail page with one direct invoice link for
// each given order.
func storeWithOrders(ids ...string) *fakeStore {
	pages := make(map[string]storePage)
	for _, id := range ids {
		pages[detailURL(id)] = storePage{
			links: []browser.Element{invoiceLink("/documents/" + id + ".pdf")},
		}
	}
	return &fakeStore{pages: pages}
}

func listingHTML(ids ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, id := range ids {
		b.WriteString(`<div class="order"><a href="` + detailURL(id) + `">Order # ` + id + `</a></div>`)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func visited(store *fakeStore, url string) bool {
	for _, u := range store.navigated {
		if u == url {
			return true
		}
	}
	return false
}

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		Base:      testBase,
		SeedCSV:   filepath.Join(dir, "reports", "orders.csv"),
		CachePath: filepath.Join(dir, "reports", "order_ids.txt"),
		OutDir:    filepath.Join(dir, "downloads"),
	}
}

func writeSeedCSV(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newPipelineUnderTest(store *fakeStore, cfg Config) *Pipeline {
	log := testLogger()
	nav := crawler.NewNavigator(store, log)
	col := crawler.NewCollector(store, nav, cfg.Base, log)
	loc := invoice.NewLocator(store, nav, cfg.Base, log)
	fet := invoice.NewFetcher(store, nav, log)
	proc := orders.NewProcessor(store, nav, loc, fet, orders.Config{
		Base:   cfg.Base,
		OutDir: cfg.OutDir,
		Last4:  cfg.Last4,
		Retry:  orders.Policy{MaxAttempts: 1},
	}, log)
	return New(nav, col, proc, cfg, log)
}

// --- Run Tests ---

func TestRunSeedsFromReport(t *testing.T) {
	cfg := testConfig(t)
	writeSeedCSV(t, cfg.SeedCSV, "Order ID\n"+testOrderA+"\n"+testOrderB+"\n")
	store := storeWithOrders(testOrderA, testOrderB)

	outs, err := newPipelineUnderTest(store, cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outs) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outs))
	}
	if outs[0].OrderID != testOrderA || outs[0].Status != orders.StatusSaved {
		t.Errorf("first outcome = %+v", outs[0])
	}
	if store.navigated[0] != testBase {
		t.Errorf("expected the run to front the login touchpoint, first navigation was %q", store.navigated[0])
	}
	if visited(store, testHistory) {
		t.Error("a seeded run should not crawl the order history")
	}
	if _, err := os.Stat(filepath.Join(cfg.OutDir, testOrderA+".pdf")); err != nil {
		t.Errorf("invoice not written: %v", err)
	}
	if _, err := os.Stat(cfg.CachePath); !os.IsNotExist(err) {
		t.Error("a seeded run should not write the crawl cache")
	}
}

func TestRunFallsBackToCachedIDs(t *testing.T) {
	cfg := testConfig(t)
	if err := report.SaveCachedIDs(cfg.CachePath, []string{testOrderA}); err != nil {
		t.Fatal(err)
	}
	store := storeWithOrders(testOrderA)

	outs, err := newPipelineUnderTest(store, cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outs) != 1 || outs[0].OrderID != testOrderA {
		t.Fatalf("outcomes = %+v", outs)
	}
	if visited(store, testHistory) {
		t.Error("a cached run should not crawl the order history")
	}
}

func TestRunCrawlsWhenNoSeeds(t *testing.T) {
	cfg := testConfig(t)
	store := storeWithOrders(testOrderA, testOrderB)
	store.pages[testHistory] = storePage{html: listingHTML(testOrderA, testOrderB)}

	outs, err := newPipelineUnderTest(store, cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outs) != 2 {
		t.Fatalf("expected 2 outcomes, got %+v", outs)
	}
	if !visited(store, testHistory) {
		t.Error("expected the order history crawled")
	}
	cached, err := report.LoadCachedIDs(cfg.CachePath)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{testOrderA, testOrderB}; !reflect.DeepEqual(cached, want) {
		t.Errorf("cache = %v, want %v", cached, want)
	}
}

func TestRunForceCrawlIgnoresSeeds(t *testing.T) {
	cfg := testConfig(t)
	cfg.ForceCrawl = true
	writeSeedCSV(t, cfg.SeedCSV, "Order ID\n"+testOrderC+"\n")
	if err := report.SaveCachedIDs(cfg.CachePath, []string{testOrderC}); err != nil {
		t.Fatal(err)
	}
	store := storeWithOrders(testOrderA)
	store.pages[testHistory] = storePage{html: listingHTML(testOrderA)}

	outs, err := newPipelineUnderTest(store, cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outs) != 1 || outs[0].OrderID != testOrderA {
		t.Fatalf("outcomes = %+v", outs)
	}
	cached, err := report.LoadCachedIDs(cfg.CachePath)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{testOrderA}; !reflect.DeepEqual(cached, want) {
		t.Errorf("cache = %v, want %v", cached, want)
	}
}

func TestRunSweepsConfiguredYears(t *testing.T) {
	cfg := testConfig(t)
	cfg.Years = []int{2023, 2024}
	store := storeWithOrders(testOrderA, testOrderB)
	store.pages[testHistory+"?orderFilter=year-2023"] = storePage{html: listingHTML(testOrderA)}
	store.pages[testHistory+"?orderFilter=year-2024"] = storePage{html: listingHTML(testOrderA, testOrderB)}

	outs, err := newPipelineUnderTest(store, cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The order repeated across years is processed once.
	if len(outs) != 2 {
		t.Fatalf("expected 2 outcomes, got %+v", outs)
	}
	if outs[0].OrderID != testOrderA || outs[1].OrderID != testOrderB {
		t.Errorf("outcomes out of order: %+v", outs)
	}
}

func TestRunUnusableSeedFallsBackToCrawl(t *testing.T) {
	cfg := testConfig(t)
	writeSeedCSV(t, cfg.SeedCSV, "Date,Total\n2024-01-02,19.99\n")
	store := storeWithOrders(testOrderA)
	store.pages[testHistory] = storePage{html: listingHTML(testOrderA)}

	outs, err := newPipelineUnderTest(store, cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outs) != 1 || outs[0].OrderID != testOrderA {
		t.Fatalf("outcomes = %+v", outs)
	}
}

func TestRunNothingToDownload(t *testing.T) {
	cfg := testConfig(t)
	store := &fakeStore{pages: map[string]storePage{
		testHistory: {html: "<html><body>no orders here</body></html>"},
	}}

	outs, err := newPipelineUnderTest(store, cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outs) != 0 {
		t.Errorf("expected no outcomes, got %+v", outs)
	}
	if _, err := os.Stat(cfg.CachePath); !os.IsNotExist(err) {
		t.Error("an empty crawl should not write the cache")
	}
}

func TestRunStopsWhenCanceled(t *testing.T) {
	cfg := testConfig(t)
	writeSeedCSV(t, cfg.SeedCSV, "Order ID\n"+testOrderA+"\n"+testOrderB+"\n"+testOrderC+"\n")
	store := storeWithOrders(testOrderA, testOrderB, testOrderC)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Navigations: touchpoint, then order A's detail page, then its
	// invoice page. Cancel lands while A is still being captured.
	store.cancelAfter = 3
	store.cancel = cancel

	outs, err := newPipelineUnderTest(store, cfg).Run(ctx)
	if err == nil {
		t.Fatal("expected the canceled context reported")
	}
	if len(outs) != 1 || outs[0].OrderID != testOrderA {
		t.Fatalf("expected only the in-flight order finished, got %+v", outs)
	}
	if visited(store, detailURL(testOrderB)) {
		t.Error("orders after the cancellation point should not be visited")
	}
}
