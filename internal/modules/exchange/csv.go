// Package exchange reads and writes the delimited files the two processes
// trade through: holdings, quote requests, live quotes, and orders.
//
// Every reader normalizes symbols to the canonical exchange-prefixed form
// at the boundary and fails fast on structural problems. Missing required
// columns are never papered over with defaults.
package exchange

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/zxnxzf/rebalancer/internal/domain"
)

// File names within the shared exchange directory.
const (
	PositionsFile = "positions_live.csv"
	QuotesFile    = "quotes_live.csv"
	SymbolsFile   = "symbols_req.csv"
	OrdersFile    = "orders_to_exec.csv"
	StateFile     = "state.json"
)

// cashCode marks the holdings row carrying account cash instead of shares.
const cashCode = "CASH"

// header maps column names to indices and resolves required vs optional
// lookups against one parsed header row.
type header map[string]int

func parseHeader(record []string) header {
	h := make(header, len(record))
	for i, name := range record {
		h[strings.TrimSpace(strings.ToLower(name))] = i
	}
	return h
}

// required returns the column index or a malformed-data error naming the
// missing column.
func (h header) required(file, name string) (int, error) {
	i, ok := h[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s missing required column %q", domain.ErrMalformedData, file, name)
	}
	return i, nil
}

// optional returns -1 when the column is absent.
func (h header) optional(name string) int {
	if i, ok := h[name]; ok {
		return i
	}
	return -1
}

// field returns the trimmed cell at index i, or "" when i is -1 or out of
// range for a short row.
func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// parseFloat parses a cell into a float, accepting NaN spellings. Empty
// cells and NaN both come back as NaN with ok=false so callers can treat
// "absent" uniformly.
func parseFloat(cell string) (float64, bool) {
	if cell == "" {
		return math.NaN(), false
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsNaN(v) {
		return math.NaN(), false
	}
	return v, true
}

func readAll(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // optional trailing columns vary by venue
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", domain.ErrMalformedData, filepath.Base(path), err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s has no header row", domain.ErrMalformedData, filepath.Base(path))
	}
	return records, nil
}

// writeAll writes a CSV through a temp file and rename so a concurrent
// reader on the other side never sees a half-written file.
func writeAll(path string, records [][]string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create exchange directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(records); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
