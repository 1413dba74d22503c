// Package allocation converts ranked candidates and available cash into
// per-symbol target weights.
package allocation

import (
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/zxnxzf/rebalancer/internal/domain"
	"github.com/zxnxzf/rebalancer/internal/modules/pricing"
)

// Method selects how weights are distributed over candidates.
type Method string

const (
	// MethodFlat assigns 1/N to each candidate.
	MethodFlat Method = "flat"
	// MethodScore assigns weight proportional to score, falling back to
	// flat when the score sum is not positive.
	MethodScore Method = "score"
)

// Candidate is one scored symbol, ordered by score descending on input.
type Candidate struct {
	Symbol string
	Score  float64
}

// PriceResolver is the slice of the pricing resolver the allocator needs.
type PriceResolver interface {
	Resolve(symbol string, dir domain.Direction, w pricing.Window) (float64, pricing.Source, error)
}

// Allocator produces target weights, optionally filtering candidates the
// budget cannot afford at lot granularity.
type Allocator struct {
	resolver PriceResolver
	rounder  pricing.LotRounder
	log      zerolog.Logger
}

// NewAllocator creates a new weight allocator
func NewAllocator(resolver PriceResolver, rounder pricing.LotRounder, log zerolog.Logger) *Allocator {
	return &Allocator{
		resolver: resolver,
		rounder:  rounder,
		log:      log.With().Str("component", "allocator").Logger(),
	}
}

// Weights distributes weight over candidates by the given method. The
// result sums to 1.0 for any non-empty input.
func Weights(candidates []Candidate, method Method) []domain.TargetWeight {
	if len(candidates) == 0 {
		return nil
	}

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = c.Score
	}

	weights := make([]float64, len(candidates))
	scoreSum := floats.Sum(scores)

	if method == MethodScore && scoreSum > 0 {
		for i, s := range scores {
			weights[i] = s / scoreSum
		}
	} else {
		flat := 1.0 / float64(len(candidates))
		for i := range weights {
			weights[i] = flat
		}
	}

	result := make([]domain.TargetWeight, len(candidates))
	for i, c := range candidates {
		result[i] = domain.TargetWeight{Symbol: c.Symbol, Score: c.Score, Weight: weights[i]}
	}
	return result
}

// AllocateAffordable runs the two-round affordability-filtered allocation.
//
// Round 1 assumes a flat split of availableCash over all N candidates and
// discards every candidate whose affordable share count at that budget is
// below one lot. Round 2 recomputes weights by the requested method over
// the M survivors only, concentrating the same cash into fewer positions.
//
// When the flat split is so thin that round 1 discards everyone, the
// filter reruns over a shrinking prefix of the ranked candidates (N-1,
// N-2, ...) until some prefix affords at least one lot per survivor. A
// small account thus concentrates into its strongest candidates instead
// of buying nothing: 47500 over 20 symbols at 120 buys zero lots, but the
// top 3 get ~15833 each and trade.
//
// Candidates with an unresolved price are discarded in round 1: an
// unpriceable symbol cannot be traded this cycle. The result is empty
// only when even the single top candidate cannot afford one lot - no
// trade this cycle, not an error.
func (a *Allocator) AllocateAffordable(candidates []Candidate, availableCash float64, w pricing.Window, method Method) []domain.TargetWeight {
	if len(candidates) == 0 || availableCash <= 0 || math.IsNaN(availableCash) {
		return nil
	}

	for n := len(candidates); n >= 1; n-- {
		survivors := a.affordable(candidates[:n], availableCash, w)
		if len(survivors) == 0 {
			continue
		}

		a.log.Info().
			Int("candidates", len(candidates)).
			Int("prefix", n).
			Int("survivors", len(survivors)).
			Float64("budget_per_symbol", availableCash/float64(len(survivors))).
			Msg("Affordability filter complete, reallocating over survivors")

		return Weights(survivors, method)
	}

	a.log.Warn().
		Int("candidates", len(candidates)).
		Float64("available_cash", availableCash).
		Msg("Not even the top candidate affords one lot, no buys this cycle")
	return nil
}

// affordable is the round-1 filter: flat split of availableCash over the
// given candidates, keeping those that afford at least one lot.
func (a *Allocator) affordable(candidates []Candidate, availableCash float64, w pricing.Window) []Candidate {
	budget := availableCash / float64(len(candidates))

	survivors := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		price, _, err := a.resolver.Resolve(c.Symbol, domain.DirectionBuy, w)
		if err != nil {
			a.log.Debug().Str("symbol", c.Symbol).Msg("Dropping candidate with unresolved price")
			continue
		}

		shares := a.rounder.Round(budget/price, domain.DirectionBuy)
		if shares < a.rounder.LotSize {
			a.log.Debug().
				Str("symbol", c.Symbol).
				Float64("price", price).
				Int64("affordable_shares", shares).
				Msg("Dropping candidate below one lot at flat split")
			continue
		}

		survivors = append(survivors, c)
	}
	return survivors
}
