package exchange

import (
	"fmt"
	"math"
	"strconv"

	"github.com/zxnxzf/rebalancer/internal/domain"
)

// Holdings is one parsed holdings snapshot: positions plus account cash.
// CashAssumed marks a snapshot whose cash came from the configured
// fallback rather than a CASH row; callers should log it.
type Holdings struct {
	Positions   []domain.Position
	Cash        float64
	CashAssumed bool
}

// Shares returns the snapshot as a symbol-to-shares map.
func (h Holdings) Shares() map[string]int64 {
	m := make(map[string]int64, len(h.Positions))
	for _, p := range h.Positions {
		m[p.Symbol] = p.Shares
	}
	return m
}

// ReadPositions parses a holdings export. The row whose code is CASH
// carries the account cash in the position column; every other row is one
// held symbol.
//
// Some venue exports omit the CASH row entirely. When fallbackCash is
// positive the snapshot is accepted with that amount and CashAssumed set;
// otherwise a missing CASH row is malformed, because cash zero and cash
// unknown are different things.
func ReadPositions(path string, fallbackCash float64) (Holdings, error) {
	records, err := readAll(path)
	if err != nil {
		return Holdings{}, err
	}

	h := parseHeader(records[0])
	codeIdx, err := h.required(PositionsFile, "code")
	if err != nil {
		return Holdings{}, err
	}
	posIdx, err := h.required(PositionsFile, "position")
	if err != nil {
		return Holdings{}, err
	}
	costIdx := h.optional("cost_price")
	lastIdx := h.optional("last_price")

	var result Holdings
	cashSeen := false
	for line, record := range records[1:] {
		code := field(record, codeIdx)
		if code == "" {
			return Holdings{}, fmt.Errorf("%w: %s row %d has empty code", domain.ErrMalformedData, PositionsFile, line+2)
		}

		if code == cashCode {
			cash, ok := parseFloat(field(record, posIdx))
			if !ok {
				return Holdings{}, fmt.Errorf("%w: %s CASH row has unparsable amount %q",
					domain.ErrMalformedData, PositionsFile, field(record, posIdx))
			}
			result.Cash = cash
			cashSeen = true
			continue
		}

		shares, err := strconv.ParseInt(field(record, posIdx), 10, 64)
		if err != nil {
			return Holdings{}, fmt.Errorf("%w: %s row %d has unparsable position %q",
				domain.ErrMalformedData, PositionsFile, line+2, field(record, posIdx))
		}
		if shares < 0 {
			return Holdings{}, fmt.Errorf("%w: %s row %d has negative position %d",
				domain.ErrMalformedData, PositionsFile, line+2, shares)
		}

		pos := domain.Position{
			Symbol: domain.NormalizeSymbol(code),
			Shares: shares,
		}
		if pos.Symbol == "" {
			return Holdings{}, fmt.Errorf("%w: %s row %d has unrecognizable code %q",
				domain.ErrMalformedData, PositionsFile, line+2, code)
		}

		// Valuation prefers the live price over the acquisition cost.
		if v, ok := parseFloat(field(record, lastIdx)); ok && domain.ValidPrice(v) {
			pos.ReferencePrice = &v
		} else if v, ok := parseFloat(field(record, costIdx)); ok && domain.ValidPrice(v) {
			pos.ReferencePrice = &v
		}

		result.Positions = append(result.Positions, pos)
	}

	if !cashSeen {
		if fallbackCash > 0 {
			result.Cash = fallbackCash
			result.CashAssumed = true
			return result, nil
		}
		return Holdings{}, fmt.Errorf("%w: %s has no CASH row", domain.ErrMalformedData, PositionsFile)
	}
	return result, nil
}

// WritePositions renders a holdings snapshot the way the venue exports it,
// CASH row last.
func WritePositions(path string, holdings Holdings) error {
	records := [][]string{{"code", "position", "available", "cost_price", "last_price"}}

	for _, p := range holdings.Positions {
		ref := math.NaN()
		if p.ReferencePrice != nil {
			ref = *p.ReferencePrice
		}
		records = append(records, []string{
			p.Symbol,
			strconv.FormatInt(p.Shares, 10),
			strconv.FormatInt(p.Shares, 10),
			formatFloat(ref),
			formatFloat(ref),
		})
	}

	records = append(records, []string{cashCode, formatFloat(holdings.Cash), "", "", ""})
	return writeAll(path, records)
}
