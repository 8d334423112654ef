package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/invoicehound/invoicehound/internal/invoice"
)

// LoadSeedIDs reads order IDs from a previously exported orders report.
// A missing file is not an error; it just means there is nothing to seed
// from. When last4 is set, rows are kept only when their payment columns
// mention those digits, so a report without payment columns seeds nothing
// and the caller falls back to crawling.
func LoadSeedIDs(path, last4 string, log *slog.Logger) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn("seed report not found", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open seed report: %w", err)
	}
	defer f.Close()

	log.Info("loading order ids from seed report", "path", path, "last4", last4)

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read seed report header: %w", err)
	}

	idCol := -1
	var payCols []int
	for i, h := range header {
		switch norm := normalizeHeader(h); {
		case norm == "order-id" || norm == "orderid":
			if idCol < 0 {
				idCol = i
			}
		case strings.Contains(norm, "payment"):
			payCols = append(payCols, i)
		}
	}
	if idCol < 0 {
		return nil, fmt.Errorf("no order-id column in %s", path)
	}

	var ids []string
	seen := make(map[string]bool)
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read seed report row: %w", err)
		}
		if idCol >= len(row) {
			continue
		}
		id := strings.TrimSpace(row[idCol])
		if id == "" || seen[id] {
			continue
		}
		if last4 != "" && !paymentCellsMatch(row, payCols, last4) {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	log.Info("seed report provided distinct order ids", "count", len(ids))
	return ids, nil
}

// paymentCellsMatch joins the row's payment cells and tests them the same
// way the detail-page filter does.
func paymentCellsMatch(row []string, payCols []int, last4 string) bool {
	var cells []string
	for _, c := range payCols {
		if c < len(row) {
			cells = append(cells, row[c])
		}
	}
	return invoice.PaymentPattern(last4).MatchString(strings.Join(cells, " "))
}

func normalizeHeader(h string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), " ", "-")
}
