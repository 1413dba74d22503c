package allocation

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zxnxzf/rebalancer/internal/domain"
	"github.com/zxnxzf/rebalancer/internal/modules/pricing"
)

// fixedPrices resolves every known symbol at a fixed price.
type fixedPrices map[string]float64

func (f fixedPrices) Resolve(symbol string, _ domain.Direction, _ pricing.Window) (float64, pricing.Source, error) {
	if p, ok := f[symbol]; ok {
		return p, pricing.SourceQuote, nil
	}
	return 0, pricing.SourceUnresolved, domain.ErrUnresolvedPrice
}

func testWindow() pricing.Window {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	return pricing.Window{Start: start, End: start.AddDate(0, 0, 1)}
}

func weightSum(weights []domain.TargetWeight) float64 {
	sum := 0.0
	for _, w := range weights {
		sum += w.Weight
	}
	return sum
}

func TestWeightsFlat(t *testing.T) {
	weights := Weights([]Candidate{
		{Symbol: "SH600000", Score: 0.9},
		{Symbol: "SZ000001", Score: 0.5},
		{Symbol: "SZ300750", Score: 0.1},
	}, MethodFlat)

	require.Len(t, weights, 3)
	for _, w := range weights {
		assert.InDelta(t, 1.0/3.0, w.Weight, 1e-9)
	}
	assert.InDelta(t, 1.0, weightSum(weights), 1e-6)
}

func TestWeightsScoreProportional(t *testing.T) {
	weights := Weights([]Candidate{
		{Symbol: "SH600000", Score: 3},
		{Symbol: "SZ000001", Score: 1},
	}, MethodScore)

	require.Len(t, weights, 2)
	assert.InDelta(t, 0.75, weights[0].Weight, 1e-9)
	assert.InDelta(t, 0.25, weights[1].Weight, 1e-9)
	assert.InDelta(t, 1.0, weightSum(weights), 1e-6)
}

func TestWeightsScoreFallsBackToFlat(t *testing.T) {
	// Non-positive score sum cannot be normalized proportionally.
	weights := Weights([]Candidate{
		{Symbol: "SH600000", Score: -0.2},
		{Symbol: "SZ000001", Score: 0.1},
	}, MethodScore)

	require.Len(t, weights, 2)
	assert.InDelta(t, 0.5, weights[0].Weight, 1e-9)
	assert.InDelta(t, 0.5, weights[1].Weight, 1e-9)
}

func TestWeightsEmptyInput(t *testing.T) {
	assert.Nil(t, Weights(nil, MethodFlat))
}

// The small-account scenario: cash=50000, riskDegree=0.95, lot=100, 20
// equal-score candidates at 120 each. The naive flat split gives each
// candidate 2375, under the 12000 a single lot costs, so a one-round
// allocator buys nothing. Shrinking the prefix concentrates the cash
// until it trades: 47500/3 ~ 15833 affords a lot, 47500/4 does not, so
// exactly the top 3 candidates survive.
func TestAllocateAffordableSmallAccountScenario(t *testing.T) {
	prices := fixedPrices{}
	candidates := make([]Candidate, 20)
	for i := range candidates {
		symbol := fmt.Sprintf("SH6000%02d", i)
		candidates[i] = Candidate{Symbol: symbol, Score: 1.0}
		prices[symbol] = 120.0
	}

	alloc := NewAllocator(prices, pricing.NewLotRounder(100, false), zerolog.Nop())
	availableCash := 50000.0 * 0.95

	targets := alloc.AllocateAffordable(candidates, availableCash, testWindow(), MethodFlat)
	require.Len(t, targets, 3, "concentrates into the longest affordable prefix")
	assert.Equal(t, "SH600000", targets[0].Symbol)
	assert.Equal(t, "SH600001", targets[1].Symbol)
	assert.Equal(t, "SH600002", targets[2].Symbol)
	assert.InDelta(t, 1.0, weightSum(targets), 1e-6)
	for _, w := range targets {
		assert.InDelta(t, 1.0/3.0, w.Weight, 1e-9)
	}

	// Each survivor's budget affords 131 shares raw, 100 after the lot
	// floor.
	rounder := pricing.NewLotRounder(100, false)
	perSymbol := availableCash / 3
	assert.Equal(t, int64(100), rounder.Round(perSymbol/120.0, domain.DirectionBuy))
	assert.LessOrEqual(t, int64(perSymbol/120.0), int64(131))
}

func TestAllocateAffordableEmptyOnlyWhenTopCandidateUnaffordable(t *testing.T) {
	// One lot of SH600519 costs 170000; shrinking all the way to a single
	// candidate still buys nothing.
	prices := fixedPrices{"SH600519": 1700.0}
	alloc := NewAllocator(prices, pricing.NewLotRounder(100, false), zerolog.Nop())

	targets := alloc.AllocateAffordable([]Candidate{
		{Symbol: "SH600519", Score: 0.9},
	}, 30000, testWindow(), MethodFlat)
	assert.Empty(t, targets)
}

func TestAllocateAffordableFiltersExpensiveCandidates(t *testing.T) {
	prices := fixedPrices{
		"SH600519": 1700.0, // one lot costs 170000
		"SZ000001": 10.0,
		"SH600000": 12.0,
	}
	alloc := NewAllocator(prices, pricing.NewLotRounder(100, false), zerolog.Nop())

	targets := alloc.AllocateAffordable([]Candidate{
		{Symbol: "SH600519", Score: 0.9},
		{Symbol: "SZ000001", Score: 0.8},
		{Symbol: "SH600000", Score: 0.7},
	}, 30000, testWindow(), MethodFlat)

	// 30000/3 = 10000 per symbol: affords lots of the cheap two only.
	require.Len(t, targets, 2)
	assert.Equal(t, "SZ000001", targets[0].Symbol)
	assert.Equal(t, "SH600000", targets[1].Symbol)
	assert.InDelta(t, 1.0, weightSum(targets), 1e-6)
}

func TestAllocateAffordableDropsUnresolvedPrices(t *testing.T) {
	prices := fixedPrices{"SZ000001": 10.0}
	alloc := NewAllocator(prices, pricing.NewLotRounder(100, false), zerolog.Nop())

	targets := alloc.AllocateAffordable([]Candidate{
		{Symbol: "SH999999", Score: 0.9}, // unpriceable
		{Symbol: "SZ000001", Score: 0.8},
	}, 10000, testWindow(), MethodFlat)

	require.Len(t, targets, 1)
	assert.Equal(t, "SZ000001", targets[0].Symbol)
}

func TestAllocateAffordableEmptyAndZeroCash(t *testing.T) {
	alloc := NewAllocator(fixedPrices{}, pricing.NewLotRounder(100, false), zerolog.Nop())

	assert.Nil(t, alloc.AllocateAffordable(nil, 10000, testWindow(), MethodFlat))
	assert.Nil(t, alloc.AllocateAffordable([]Candidate{{Symbol: "SH600000"}}, 0, testWindow(), MethodFlat))
	assert.Nil(t, alloc.AllocateAffordable([]Candidate{{Symbol: "SH600000"}}, -5, testWindow(), MethodFlat))
}

func TestAllocateAffordableScoreMethodOverSurvivors(t *testing.T) {
	prices := fixedPrices{
		"SH600000": 10.0,
		"SZ000001": 10.0,
		"SH600519": 5000.0,
	}
	alloc := NewAllocator(prices, pricing.NewLotRounder(100, false), zerolog.Nop())

	targets := alloc.AllocateAffordable([]Candidate{
		{Symbol: "SH600519", Score: 6},
		{Symbol: "SH600000", Score: 3},
		{Symbol: "SZ000001", Score: 1},
	}, 9000, testWindow(), MethodScore)

	// SH600519 is filtered; score weights renormalize over the rest.
	require.Len(t, targets, 2)
	assert.Equal(t, "SH600000", targets[0].Symbol)
	assert.InDelta(t, 0.75, targets[0].Weight, 1e-9)
	assert.InDelta(t, 0.25, targets[1].Weight, 1e-9)
}
