package invoice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/invoicehound/invoicehound/internal/browser"
	"github.com/invoicehound/invoicehound/internal/crawler"
)

// fakeInvoicePage simulates an invoice page: navigation, settle, PDF
// rendering, and an optional download affordance.
type fakeInvoicePage struct {
	browser.Page

	location  string
	navigated []string
	navErr    error
	idleErr   error

	pdf    []byte
	pdfErr error

	elements     map[string][]browser.Element
	downloadPath string
	downloadErr  error
}

func (f *fakeInvoicePage) Navigate(_ context.Context, url string, _ time.Duration) error {
	if f.navErr != nil {
		return f.navErr
	}
	f.navigated = append(f.navigated, url)
	f.location = url
	return nil
}

func (f *fakeInvoicePage) Location(context.Context) (string, error) {
	return f.location, nil
}

func (f *fakeInvoicePage) WaitReady(context.Context, time.Duration) error {
	return nil
}

func (f *fakeInvoicePage) WaitNetworkIdle(context.Context, time.Duration) error {
	return f.idleErr
}

func (f *fakeInvoicePage) PrintPDF(context.Context) ([]byte, error) {
	return f.pdf, f.pdfErr
}

func (f *fakeInvoicePage) QueryAll(_ context.Context, selector string) ([]browser.Element, error) {
	src := f.elements[selector]
	els := make([]browser.Element, len(src))
	copy(els, src)
	for i := range els {
		els[i].Selector = selector
		els[i].Index = i
	}
	return els, nil
}

func (f *fakeInvoicePage) Download(context.Context, string, int, time.Duration) (string, error) {
	if f.downloadErr != nil {
		return "", f.downloadErr
	}
	return f.downloadPath, nil
}

func newFetcherUnderTest(pg *fakeInvoicePage) *Fetcher {
	log := testLogger()
	return NewFetcher(pg, crawler.NewNavigator(pg, log), log)
}

func invoiceTarget() Target {
	return Target{URL: testBase + "/invoice/1", Label: "invoice 1/1"}
}

// --- Fetch Tests ---

func TestFetchSkipsExistingFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "701-1111111-2222222.pdf")
	if err := os.WriteFile(dest, []byte("previous run"), 0o644); err != nil {
		t.Fatal(err)
	}

	pg := &fakeInvoicePage{pdf: []byte("fresh")}
	saved := newFetcherUnderTest(pg).Fetch(context.Background(), invoiceTarget(), "701-1111111-2222222", dest)

	if saved {
		t.Error("an existing file is a skip, not a save")
	}
	if len(pg.navigated) != 0 {
		t.Errorf("skip must happen before any navigation, got %v", pg.navigated)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "previous run" {
		t.Errorf("existing file should be untouched, got %q (%v)", data, err)
	}
}

func TestFetchRendersPDF(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "701-1111111-2222222.pdf")
	pg := &fakeInvoicePage{pdf: []byte("%PDF-1.7 invoice")}

	saved := newFetcherUnderTest(pg).Fetch(context.Background(), invoiceTarget(), "701-1111111-2222222", dest)
	if !saved {
		t.Fatal("expected a successful save")
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("expected file written: %v", err)
	}
	if string(data) != "%PDF-1.7 invoice" {
		t.Errorf("unexpected file content %q", data)
	}
	if len(pg.navigated) != 1 || pg.navigated[0] != testBase+"/invoice/1" {
		t.Errorf("expected one navigation to the target, got %v", pg.navigated)
	}
}

func TestFetchNavigationFailureIsNotFatal(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "701-1111111-2222222.pdf")
	pg := &fakeInvoicePage{
		navErr: fmt.Errorf("%w: invoice page", browser.ErrNavigationTimeout),
	}

	saved := newFetcherUnderTest(pg).Fetch(context.Background(), invoiceTarget(), "701-1111111-2222222", dest)
	if saved {
		t.Error("navigation failure should report false")
	}
	if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
		t.Error("no file should be written on navigation failure")
	}
}

func TestFetchSettleFailureIsNotFatal(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "701-1111111-2222222.pdf")
	pg := &fakeInvoicePage{
		idleErr: fmt.Errorf("%w: network never settled", browser.ErrNavigationTimeout),
	}

	if saved := newFetcherUnderTest(pg).Fetch(context.Background(), invoiceTarget(), "701-1111111-2222222", dest); saved {
		t.Error("settle failure should report false")
	}
}

func TestFetchFallsBackToDownload(t *testing.T) {
	dir := t.TempDir()
	staged := filepath.Join(dir, "staged-download")
	if err := os.WriteFile(staged, []byte("downloaded invoice"), 0o644); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(dir, "701-1111111-2222222.pdf")

	pg := &fakeInvoicePage{
		pdfErr: errors.New("printing is not available"),
		elements: map[string][]browser.Element{
			downloadControlSelector: {
				{Tag: "a", Text: "Download", Download: true, Visible: true},
			},
		},
		downloadPath: staged,
	}

	saved := newFetcherUnderTest(pg).Fetch(context.Background(), invoiceTarget(), "701-1111111-2222222", dest)
	if !saved {
		t.Fatal("expected the download fallback to save")
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "downloaded invoice" {
		t.Errorf("expected staged download moved into place, got %q (%v)", data, err)
	}
	if _, err := os.Stat(staged); !errors.Is(err, os.ErrNotExist) {
		t.Error("staged file should be gone after the move")
	}
}

func TestFetchFallsBackToLabeledControl(t *testing.T) {
	dir := t.TempDir()
	staged := filepath.Join(dir, "staged-download")
	if err := os.WriteFile(staged, []byte("downloaded"), 0o644); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(dir, "701-1111111-2222222.pdf")

	pg := &fakeInvoicePage{
		pdfErr: errors.New("printing is not available"),
		elements: map[string][]browser.Element{
			"a, button": {
				{Tag: "button", Text: "Print this page", Visible: true},
			},
		},
		downloadPath: staged,
	}

	if saved := newFetcherUnderTest(pg).Fetch(context.Background(), invoiceTarget(), "701-1111111-2222222", dest); !saved {
		t.Error("expected the labeled print control to be used")
	}
}

func TestFetchNoDownloadControls(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "701-1111111-2222222.pdf")
	pg := &fakeInvoicePage{
		pdfErr: errors.New("printing is not available"),
	}

	if saved := newFetcherUnderTest(pg).Fetch(context.Background(), invoiceTarget(), "701-1111111-2222222", dest); saved {
		t.Error("no controls and no PDF should report false")
	}
}

func TestFetchDownloadTimeout(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "701-1111111-2222222.pdf")
	pg := &fakeInvoicePage{
		pdfErr: errors.New("printing is not available"),
		elements: map[string][]browser.Element{
			downloadControlSelector: {
				{Tag: "a", Text: "Download", Download: true, Visible: true},
			},
		},
		downloadErr: fmt.Errorf("%w: no download completed", browser.ErrDownloadTimeout),
	}

	if saved := newFetcherUnderTest(pg).Fetch(context.Background(), invoiceTarget(), "701-1111111-2222222", dest); saved {
		t.Error("download timeout should report false")
	}
}

// --- File Move Tests ---

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	if err := os.WriteFile(src, []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := moveFile(src, dst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "content" {
		t.Errorf("expected moved content, got %q (%v)", data, err)
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Error("source should be gone")
	}
}

func TestMoveFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	if err := moveFile(filepath.Join(dir, "absent"), filepath.Join(dir, "dst")); err == nil {
		t.Error("expected an error for a missing source")
	}
}
