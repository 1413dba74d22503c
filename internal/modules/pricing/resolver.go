// Package pricing resolves execution-reference prices and rounds share
// counts to the venue's minimum tradable unit.
package pricing

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/zxnxzf/rebalancer/internal/domain"
)

// Source identifies which waterfall step produced a price. Used as a
// metrics label, so values are stable strings.
type Source string

const (
	SourceQuote      Source = "quote"
	SourceDeal       Source = "deal"
	SourceClose      Source = "close"
	SourceFallback   Source = "fallback"
	SourceUnresolved Source = "unresolved"
)

// Window is the as-of window a price must belong to. For the daily cycle
// this is the trade date through the following day.
type Window struct {
	Start time.Time
	End   time.Time
}

// HistoricalSource provides venue deal prices and daily closes for
// waterfall steps 2 and 3. The bool result is false when the source has
// no row for the symbol/window - that is not an error.
type HistoricalSource interface {
	DealPrice(symbol string, w Window) (float64, bool, error)
	Close(symbol string, w Window) (float64, bool, error)
}

// Resolver walks the price waterfall: live quote, venue deal price,
// historical close, caller-supplied fallback table. The first source
// yielding a finite positive price wins.
type Resolver struct {
	quotes   map[string]domain.Quote
	history  HistoricalSource
	fallback map[string]float64
	log      zerolog.Logger
}

// NewResolver creates a resolver for one cycle. Quotes are volatile and
// must be the ones fetched for this cycle; fallback may be nil.
func NewResolver(quotes map[string]domain.Quote, history HistoricalSource, fallback map[string]float64, log zerolog.Logger) *Resolver {
	return &Resolver{
		quotes:   quotes,
		history:  history,
		fallback: fallback,
		log:      log.With().Str("component", "price_resolver").Logger(),
	}
}

// Resolve returns the execution-reference price for symbol in the given
// direction, along with the source that produced it. When every source is
// exhausted it returns domain.ErrUnresolvedPrice; callers must treat the
// symbol as untradable this cycle, never substitute zero.
func (r *Resolver) Resolve(symbol string, dir domain.Direction, w Window) (float64, Source, error) {
	if price, ok := r.quotePrice(symbol, dir); ok {
		return price, SourceQuote, nil
	}

	if r.history != nil {
		price, ok, err := r.history.DealPrice(symbol, w)
		if err != nil {
			r.log.Warn().Err(err).Str("symbol", symbol).Msg("Deal price lookup failed, continuing waterfall")
		} else if ok && domain.ValidPrice(price) {
			return price, SourceDeal, nil
		}

		price, ok, err = r.history.Close(symbol, w)
		if err != nil {
			r.log.Warn().Err(err).Str("symbol", symbol).Msg("Close price lookup failed, continuing waterfall")
		} else if ok && domain.ValidPrice(price) {
			return price, SourceClose, nil
		}
	}

	if price, ok := r.fallback[symbol]; ok && domain.ValidPrice(price) {
		return price, SourceFallback, nil
	}

	return 0, SourceUnresolved, domain.ErrUnresolvedPrice
}

// quotePrice prices off the live quote table: buys lift ask1 falling back
// to last and are clamped to the up-limit; sells hit bid1 falling back to
// last and are clamped to the down-limit.
func (r *Resolver) quotePrice(symbol string, dir domain.Direction) (float64, bool) {
	q, ok := r.quotes[symbol]
	if !ok {
		return 0, false
	}

	var price float64
	if dir == domain.DirectionBuy {
		price = firstValid(q.Ask1, q.Last)
		if q.HighLimit != nil && domain.ValidPrice(*q.HighLimit) {
			if domain.ValidPrice(price) {
				price = min(price, *q.HighLimit)
			} else {
				price = *q.HighLimit
			}
		}
	} else {
		price = firstValid(q.Bid1, q.Last)
		if q.LowLimit != nil && domain.ValidPrice(*q.LowLimit) {
			if domain.ValidPrice(price) {
				price = max(price, *q.LowLimit)
			} else {
				price = *q.LowLimit
			}
		}
	}

	if !domain.ValidPrice(price) {
		return 0, false
	}
	return price, true
}

func firstValid(candidates ...*float64) float64 {
	for _, c := range candidates {
		if c != nil && domain.ValidPrice(*c) {
			return *c
		}
	}
	return 0
}
