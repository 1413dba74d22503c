package exchange

import (
	"fmt"
	"math"

	"github.com/zxnxzf/rebalancer/internal/domain"
)

// ReadSymbolRequests parses the quote request file. Rows with NaN score
// and weight are placeholders: symbols that are held but not ranking
// candidates, included only so the venue exports a quote for them.
func ReadSymbolRequests(path string) ([]domain.TargetWeight, error) {
	records, err := readAll(path)
	if err != nil {
		return nil, err
	}

	h := parseHeader(records[0])
	instIdx, err := h.required(SymbolsFile, "instrument")
	if err != nil {
		return nil, err
	}
	scoreIdx, err := h.required(SymbolsFile, "score")
	if err != nil {
		return nil, err
	}
	weightIdx, err := h.required(SymbolsFile, "target_weight")
	if err != nil {
		return nil, err
	}

	result := make([]domain.TargetWeight, 0, len(records)-1)
	for line, record := range records[1:] {
		symbol := domain.NormalizeSymbol(field(record, instIdx))
		if symbol == "" {
			return nil, fmt.Errorf("%w: %s row %d has unrecognizable instrument %q",
				domain.ErrMalformedData, SymbolsFile, line+2, field(record, instIdx))
		}

		tw := domain.TargetWeight{Symbol: symbol, Score: math.NaN(), Weight: math.NaN()}
		if v, ok := parseFloat(field(record, scoreIdx)); ok {
			tw.Score = v
		}
		if v, ok := parseFloat(field(record, weightIdx)); ok {
			tw.Weight = v
		}
		result = append(result, tw)
	}

	return result, nil
}

// WriteSymbolRequests renders candidate rows followed by placeholder rows
// for held symbols that need a quote but carry no score.
func WriteSymbolRequests(path string, weights []domain.TargetWeight) error {
	records := [][]string{{"instrument", "score", "target_weight"}}
	for _, w := range weights {
		records = append(records, []string{w.Symbol, formatFloat(w.Score), formatFloat(w.Weight)})
	}
	return writeAll(path, records)
}
