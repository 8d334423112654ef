// Package report handles the run's artifacts under the reports directory:
// the exported orders CSV used to seed a run, the plain-text order ID cache
// left by a crawl, and the end-of-run summary document.
package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/invoicehound/invoicehound/internal/orders"
)

// Format represents summary serialization formats.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatJSONL, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported report format: %s", s)
	}
}

// Summary is the end-of-run report document.
type Summary struct {
	GeneratedAt time.Time        `json:"generatedAt" yaml:"generatedAt"`
	Storefront  string           `json:"storefront" yaml:"storefront"`
	Years       []int            `json:"years,omitempty" yaml:"years,omitempty"`
	Totals      map[string]int   `json:"totals" yaml:"totals"`
	Orders      []orders.Outcome `json:"orders" yaml:"orders"`
}

// Summarize rolls per-order outcomes up into a Summary.
func Summarize(storefront string, years []int, outs []orders.Outcome) Summary {
	totals := make(map[string]int)
	for _, o := range outs {
		totals[string(o.Status)]++
	}
	return Summary{
		GeneratedAt: time.Now().UTC(),
		Storefront:  storefront,
		Years:       years,
		Totals:      totals,
		Orders:      outs,
	}
}

// Writer serializes a run summary.
type Writer interface {
	// WriteSummary outputs the run report.
	WriteSummary(s Summary) error

	// Close flushes buffered output.
	Close() error
}

// WriterOption configures a writer.
type WriterOption func(*writerConfig)

type writerConfig struct {
	indent string
}

// WithIndent sets the JSON indentation string.
func WithIndent(indent string) WriterOption {
	return func(c *writerConfig) {
		c.indent = indent
	}
}

// NewWriter creates a writer for the specified format.
func NewWriter(w io.Writer, format Format, opts ...WriterOption) (Writer, error) {
	cfg := &writerConfig{
		indent: "  ",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	switch format {
	case FormatJSON:
		return NewJSONWriter(w, cfg.indent), nil
	case FormatJSONL:
		return NewJSONLWriter(w), nil
	case FormatYAML:
		return NewYAMLWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported report format: %s", format)
	}
}

// WriteFile serializes the summary to path in the given format.
func WriteFile(path string, format Format, s Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	w, err := NewWriter(f, format)
	if err != nil {
		return err
	}
	if err := w.WriteSummary(s); err != nil {
		return err
	}
	return w.Close()
}
