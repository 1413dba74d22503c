// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"math"
	"time"
)

// Direction represents the side of an order
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Position represents one held symbol in the current portfolio.
// Shares is a settled share count and must be a multiple of the venue
// lot size once an order has been applied.
type Position struct {
	AcquisitionDate time.Time `json:"acquisition_date"`
	Symbol          string    `json:"symbol"`
	Shares          int64     `json:"shares"`
	ReferencePrice  *float64  `json:"reference_price,omitempty"` // last known valuation price, nil when unknown
}

// MarketValue returns shares x reference price, or 0 when no price is known.
func (p Position) MarketValue() float64 {
	if p.ReferencePrice == nil {
		return 0
	}
	return float64(p.Shares) * *p.ReferencePrice
}

// TargetWeight is one candidate row produced fresh each rebalancing cycle.
// Score and Weight are NaN for placeholder rows (held symbols that are not
// ranking candidates but still need a live quote).
type TargetWeight struct {
	Symbol string  `json:"symbol"`
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
}

// IsPlaceholder reports whether the row only exists to request a quote.
func (t TargetWeight) IsPlaceholder() bool {
	return math.IsNaN(t.Score) && math.IsNaN(t.Weight)
}

// Quote is a live snapshot for one symbol. Absent fields are nil, never
// zero. Quotes are valid only for the cycle that fetched them.
type Quote struct {
	Symbol    string   `json:"symbol"`
	Last      *float64 `json:"last,omitempty"`
	Bid1      *float64 `json:"bid1,omitempty"`
	Ask1      *float64 `json:"ask1,omitempty"`
	HighLimit *float64 `json:"high_limit,omitempty"`
	LowLimit  *float64 `json:"low_limit,omitempty"`
}

// Order is one executable instruction emitted by the diff engine.
//
// Price is NaN when no waterfall source produced a valid price; such
// orders carry PriceResolved=false, are excluded from all monetary
// totals, and must be surfaced to the operator rather than dropped.
type Order struct {
	OrderID       string    `json:"order_id"`
	Symbol        string    `json:"symbol"`
	Direction     Direction `json:"direction"`
	Shares        int64     `json:"shares"`
	Price         float64   `json:"price"`
	Amount        float64   `json:"amount"`
	Score         float64   `json:"score"`
	Weight        float64   `json:"weight"`
	PriceResolved bool      `json:"price_resolved"`
}

// NewOrderID builds the deterministic order identifier used for idempotent
// re-submission: symbol + direction + trade date.
func NewOrderID(symbol string, dir Direction, tradeDate time.Time) string {
	return fmt.Sprintf("%s_%s_%s", symbol, dir, tradeDate.Format("20060102"))
}

// HoldingRecord is one row of the holdings-history ledger: when a symbol
// was first bought and the share count last written for it.
type HoldingRecord struct {
	BuyDate         time.Time `json:"buy_date"`
	Symbol          string    `json:"symbol"`
	LastKnownShares int64     `json:"last_known_shares"`
}

// ValidPrice reports whether p is usable for order pricing: finite and
// strictly positive. Zero and NaN are never valid prices.
func ValidPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0
}
