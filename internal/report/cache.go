package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadCachedIDs reads the one-per-line order ID cache left by an earlier
// crawl. A missing cache is nil, nil.
func LoadCachedIDs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read order id cache: %w", err)
	}

	var ids []string
	for _, line := range strings.Split(string(data), "\n") {
		if id := strings.TrimSpace(line); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// SaveCachedIDs writes the crawled order IDs one per line so later runs can
// skip the listing crawl.
func SaveCachedIDs(path string, ids []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write order id cache: %w", err)
	}
	return nil
}

// DropCachedIDs removes the cache so the next crawl starts fresh. A missing
// cache is fine.
func DropCachedIDs(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove order id cache: %w", err)
	}
	return nil
}
