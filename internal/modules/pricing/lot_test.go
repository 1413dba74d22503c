package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zxnxzf/rebalancer/internal/domain"
)

func TestLotRounderBuysFloorToLot(t *testing.T) {
	r := NewLotRounder(100, false)

	assert.Equal(t, int64(100), r.Round(199, domain.DirectionBuy))
	assert.Equal(t, int64(100), r.Round(100, domain.DirectionBuy))
	assert.Equal(t, int64(1300), r.Round(1359.9, domain.DirectionBuy))

	// Below one lot means not affordable.
	assert.Equal(t, int64(0), r.Round(99, domain.DirectionBuy))
	assert.Equal(t, int64(0), r.Round(0.5, domain.DirectionBuy))
}

func TestLotRounderNeverRoundsUpOrNegative(t *testing.T) {
	r := NewLotRounder(100, true)

	for _, raw := range []float64{0, -1, -250, math.NaN()} {
		assert.Equal(t, int64(0), r.Round(raw, domain.DirectionBuy))
		assert.Equal(t, int64(0), r.Round(raw, domain.DirectionSell))
	}

	// 199.999... must not become 200.
	assert.Equal(t, int64(100), r.Round(199.9999, domain.DirectionBuy))
}

func TestLotRounderSellsPassThroughByDefault(t *testing.T) {
	r := NewLotRounder(100, false)

	// Odd sell lots are legal when liquidating, so sells only floor to
	// whole shares.
	assert.Equal(t, int64(150), r.Round(150, domain.DirectionSell))
	assert.Equal(t, int64(99), r.Round(99.7, domain.DirectionSell))
}

func TestLotRounderSellRoundingEnabled(t *testing.T) {
	r := NewLotRounder(100, true)

	assert.Equal(t, int64(100), r.Round(150, domain.DirectionSell))
	assert.Equal(t, int64(0), r.Round(99, domain.DirectionSell))
}

func TestLotRounderDegenerateLotSize(t *testing.T) {
	r := NewLotRounder(0, false)
	assert.Equal(t, int64(1), r.LotSize)
	assert.Equal(t, int64(42), r.Round(42.9, domain.DirectionBuy))
}
