package pricing

import (
	"math"

	"github.com/zxnxzf/rebalancer/internal/domain"
)

// LotRounder rounds raw share counts to the exchange's minimum tradable
// unit. Buys always floor to the lot - rounding up could exceed budget.
// Sell rounding is configurable: odd sell lots are legal when closing a
// position that was assigned or split, so the default leaves sells alone.
type LotRounder struct {
	LotSize    int64
	RoundSells bool
}

// NewLotRounder creates a rounder for the given lot size. A lot size
// below 1 is treated as 1 (no lot constraint).
func NewLotRounder(lotSize int64, roundSells bool) LotRounder {
	if lotSize < 1 {
		lotSize = 1
	}
	return LotRounder{LotSize: lotSize, RoundSells: roundSells}
}

// Round converts a raw share count to a tradable one. The result is
// never negative and never rounds up. A buy below one lot rounds to
// zero, signalling "not affordable".
func (l LotRounder) Round(rawShares float64, dir domain.Direction) int64 {
	if rawShares <= 0 || math.IsNaN(rawShares) {
		return 0
	}

	if dir == domain.DirectionSell && !l.RoundSells {
		return int64(math.Floor(rawShares))
	}

	lots := int64(math.Floor(rawShares / float64(l.LotSize)))
	if lots < 0 {
		return 0
	}
	return lots * l.LotSize
}
