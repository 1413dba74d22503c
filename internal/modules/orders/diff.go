// Package orders turns target share vectors into executable order lists
// and caps buy-side spend to the available budget.
package orders

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/zxnxzf/rebalancer/internal/domain"
	"github.com/zxnxzf/rebalancer/internal/modules/pricing"
)

// PriceResolver is the slice of the pricing resolver the engine needs.
type PriceResolver interface {
	Resolve(symbol string, dir domain.Direction, w pricing.Window) (float64, pricing.Source, error)
}

// DiffEngine emits the minimal order set that converges current holdings
// onto target holdings.
type DiffEngine struct {
	resolver PriceResolver
	rounder  pricing.LotRounder
	log      zerolog.Logger
}

// NewDiffEngine creates a new order diff engine
func NewDiffEngine(resolver PriceResolver, rounder pricing.LotRounder, log zerolog.Logger) *DiffEngine {
	return &DiffEngine{
		resolver: resolver,
		rounder:  rounder,
		log:      log.With().Str("component", "order_diff").Logger(),
	}
}

// Diff compares target against current share counts and emits one order
// per symbol whose delta reaches a full lot. Deltas of zero or below one
// lot produce no order: the position is already at target within lot
// granularity.
//
// An order whose price cannot be resolved is retained with Price=NaN and
// PriceResolved=false rather than dropped, so the venue side still learns
// that intent existed. Such orders carry a zero amount and are excluded
// from every monetary total downstream.
//
// provenance supplies audit-only score/weight fields; symbols absent from
// it get NaN for both. Output is sorted by symbol so repeated runs over
// the same inputs emit identical files.
func (e *DiffEngine) Diff(target, current map[string]int64, provenance map[string]domain.TargetWeight, tradeDate time.Time, w pricing.Window) []domain.Order {
	symbols := make(map[string]bool, len(target)+len(current))
	for s := range target {
		symbols[s] = true
	}
	for s := range current {
		symbols[s] = true
	}

	ordered := make([]string, 0, len(symbols))
	for s := range symbols {
		ordered = append(ordered, s)
	}
	sort.Strings(ordered)

	var result []domain.Order
	for _, symbol := range ordered {
		delta := target[symbol] - current[symbol]
		if delta == 0 {
			continue
		}

		dir := domain.DirectionBuy
		shares := delta
		if delta < 0 {
			dir = domain.DirectionSell
			shares = -delta
		}

		if shares < e.rounder.LotSize {
			e.log.Debug().
				Str("symbol", symbol).
				Int64("delta", delta).
				Msg("Skipping sub-lot delta, position already at target")
			continue
		}

		order := domain.Order{
			OrderID:   domain.NewOrderID(symbol, dir, tradeDate),
			Symbol:    symbol,
			Direction: dir,
			Shares:    shares,
		}

		if prov, ok := provenance[symbol]; ok {
			order.Score = prov.Score
			order.Weight = prov.Weight
		} else {
			order.Score = math.NaN()
			order.Weight = math.NaN()
		}

		price, source, err := e.resolver.Resolve(symbol, dir, w)
		if err != nil {
			e.log.Warn().
				Str("symbol", symbol).
				Str("direction", string(dir)).
				Msg("No price from any source, order flagged for operator review")
			order.Price = math.NaN()
			order.Amount = 0
			order.PriceResolved = false
		} else {
			order.Price = price
			order.Amount = float64(shares) * price
			order.PriceResolved = true
			e.log.Debug().
				Str("symbol", symbol).
				Str("source", string(source)).
				Float64("price", price).
				Msg("Order priced")
		}

		result = append(result, order)
	}

	return result
}
