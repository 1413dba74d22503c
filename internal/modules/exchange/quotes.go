package exchange

import (
	"fmt"
	"math"

	"github.com/zxnxzf/rebalancer/internal/domain"
)

// ReadQuotes parses a live quote export keyed by canonical symbol. Only
// the last-price column is structurally required; depth and limit columns
// are venue-dependent and absent fields stay nil.
func ReadQuotes(path string) (map[string]domain.Quote, error) {
	records, err := readAll(path)
	if err != nil {
		return nil, err
	}

	h := parseHeader(records[0])
	codeIdx, err := h.required(QuotesFile, "code")
	if err != nil {
		return nil, err
	}
	lastIdx, err := h.required(QuotesFile, "last")
	if err != nil {
		return nil, err
	}
	bidIdx := h.optional("bid1")
	askIdx := h.optional("ask1")
	highIdx := h.optional("high_limit")
	lowIdx := h.optional("low_limit")

	quotes := make(map[string]domain.Quote, len(records)-1)
	for line, record := range records[1:] {
		symbol := domain.NormalizeSymbol(field(record, codeIdx))
		if symbol == "" {
			return nil, fmt.Errorf("%w: %s row %d has unrecognizable code %q",
				domain.ErrMalformedData, QuotesFile, line+2, field(record, codeIdx))
		}

		q := domain.Quote{Symbol: symbol}
		setIfValid(&q.Last, field(record, lastIdx))
		setIfValid(&q.Bid1, field(record, bidIdx))
		setIfValid(&q.Ask1, field(record, askIdx))
		setIfValid(&q.HighLimit, field(record, highIdx))
		setIfValid(&q.LowLimit, field(record, lowIdx))
		quotes[symbol] = q
	}

	return quotes, nil
}

func setIfValid(dst **float64, cell string) {
	if v, ok := parseFloat(cell); ok && domain.ValidPrice(v) {
		*dst = &v
	}
}

// WriteQuotes renders quotes sorted by symbol so repeated exports over the
// same book produce identical files.
func WriteQuotes(path string, quotes map[string]domain.Quote) error {
	records := [][]string{{"code", "last", "bid1", "ask1", "high_limit", "low_limit"}}

	for _, symbol := range sortedKeys(quotes) {
		q := quotes[symbol]
		records = append(records, []string{
			symbol,
			formatOptional(q.Last),
			formatOptional(q.Bid1),
			formatOptional(q.Ask1),
			formatOptional(q.HighLimit),
			formatOptional(q.LowLimit),
		})
	}

	return writeAll(path, records)
}

func formatOptional(v *float64) string {
	if v == nil {
		return formatFloat(math.NaN())
	}
	return formatFloat(*v)
}
