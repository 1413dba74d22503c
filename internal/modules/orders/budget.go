package orders

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/zxnxzf/rebalancer/internal/domain"
	"github.com/zxnxzf/rebalancer/internal/modules/pricing"
)

// Capper scales buy orders down so total buy notional never exceeds the
// cycle budget.
type Capper struct {
	rounder pricing.LotRounder
	log     zerolog.Logger
}

// NewCapper creates a new budget capper
func NewCapper(rounder pricing.LotRounder, log zerolog.Logger) *Capper {
	return &Capper{
		rounder: rounder,
		log:     log.With().Str("component", "budget_capper").Logger(),
	}
}

// Cap walks buy orders in score-descending order (ties by symbol
// ascending) and accumulates spend against budget = cash*riskDegree +
// resolved sell proceeds. The first order the remaining budget cannot
// fully cover is floored to the affordable lot count; below one lot it is
// zeroed, as is every order after it. A single greedy pass in ranked
// order, not a knapsack: high-score orders fill first even when a cheaper
// mix would use more of the budget.
//
// Orders are never increased. Unresolved-price orders pass through
// untouched and contribute nothing to either side of the budget. When
// budget <= 0 every buy is zeroed. Sell orders are returned as-is.
//
// The returned total is the buy notional actually committed after capping.
func (c *Capper) Cap(orderList []domain.Order, cash, riskDegree float64) ([]domain.Order, float64) {
	sellProceeds := 0.0
	for _, o := range orderList {
		if o.Direction == domain.DirectionSell && o.PriceResolved {
			sellProceeds += o.Amount
		}
	}
	budget := cash*riskDegree + sellProceeds

	// Indices of cappable buys, walked best-score first.
	var buys []int
	for i, o := range orderList {
		if o.Direction == domain.DirectionBuy && o.PriceResolved {
			buys = append(buys, i)
		}
	}
	sort.SliceStable(buys, func(a, b int) bool {
		oa, ob := orderList[buys[a]], orderList[buys[b]]
		if oa.Score != ob.Score {
			return oa.Score > ob.Score
		}
		return oa.Symbol < ob.Symbol
	})

	result := make([]domain.Order, len(orderList))
	copy(result, orderList)

	totalBuy := 0.0
	remaining := budget
	for _, i := range buys {
		o := &result[i]

		if remaining <= 0 {
			c.zero(o)
			continue
		}

		if o.Amount <= remaining {
			remaining -= o.Amount
			totalBuy += o.Amount
			continue
		}

		affordable := c.rounder.Round(remaining/o.Price, domain.DirectionBuy)
		if affordable < c.rounder.LotSize {
			c.zero(o)
			continue
		}

		c.log.Info().
			Str("symbol", o.Symbol).
			Int64("requested_shares", o.Shares).
			Int64("capped_shares", affordable).
			Msg("Buy order reduced to fit remaining budget")

		o.Shares = affordable
		o.Amount = float64(affordable) * o.Price
		remaining -= o.Amount
		totalBuy += o.Amount
	}

	c.log.Info().
		Float64("budget", budget).
		Float64("sell_proceeds", sellProceeds).
		Float64("total_buy", totalBuy).
		Msg("Budget capping complete")

	return result, totalBuy
}

func (c *Capper) zero(o *domain.Order) {
	c.log.Info().
		Str("symbol", o.Symbol).
		Int64("requested_shares", o.Shares).
		Msg("Buy order zeroed, budget exhausted")
	o.Shares = 0
	o.Amount = 0
}
