package report

import (
	"bufio"
	"encoding/json"
	"io"
)

// JSONWriter writes the summary as a single indented JSON document.
type JSONWriter struct {
	w      *bufio.Writer
	indent string
}

// NewJSONWriter creates a JSON writer.
func NewJSONWriter(w io.Writer, indent string) *JSONWriter {
	return &JSONWriter{
		w:      bufio.NewWriter(w),
		indent: indent,
	}
}

// WriteSummary writes the whole summary as one document.
func (w *JSONWriter) WriteSummary(s Summary) error {
	output, err := json.MarshalIndent(s, "", w.indent)
	if err != nil {
		return err
	}

	if _, err := w.w.Write(output); err != nil {
		return err
	}
	if _, err := w.w.WriteString("\n"); err != nil {
		return err
	}

	return w.w.Flush()
}

// Close flushes the writer.
func (w *JSONWriter) Close() error {
	return w.w.Flush()
}

// JSONLWriter writes one JSON line per order outcome, for piping into
// line-oriented tools. The run-level fields are dropped.
type JSONLWriter struct {
	w *bufio.Writer
}

// NewJSONLWriter creates a JSONL writer.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{
		w: bufio.NewWriter(w),
	}
}

// WriteSummary writes each order outcome as its own JSON line.
func (w *JSONLWriter) WriteSummary(s Summary) error {
	for _, o := range s.Orders {
		output, err := json.Marshal(o)
		if err != nil {
			return err
		}
		if _, err := w.w.Write(output); err != nil {
			return err
		}
		if _, err := w.w.WriteString("\n"); err != nil {
			return err
		}
	}

	return w.w.Flush()
}

// Close flushes the writer.
func (w *JSONLWriter) Close() error {
	return w.w.Flush()
}
