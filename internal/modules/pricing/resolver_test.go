package pricing

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zxnxzf/rebalancer/internal/domain"
)

func fp(v float64) *float64 { return &v }

type stubHistory struct {
	deal    map[string]float64
	closes  map[string]float64
	dealErr error
}

func (s *stubHistory) DealPrice(symbol string, _ Window) (float64, bool, error) {
	if s.dealErr != nil {
		return 0, false, s.dealErr
	}
	p, ok := s.deal[symbol]
	return p, ok, nil
}

func (s *stubHistory) Close(symbol string, _ Window) (float64, bool, error) {
	p, ok := s.closes[symbol]
	return p, ok, nil
}

func testWindow() Window {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

func TestResolveBuyPrefersAskClampedToHighLimit(t *testing.T) {
	quotes := map[string]domain.Quote{
		"SH600000": {Symbol: "SH600000", Last: fp(10.0), Ask1: fp(10.2), Bid1: fp(9.8), HighLimit: fp(10.1)},
	}
	r := NewResolver(quotes, &stubHistory{}, nil, zerolog.Nop())

	price, source, err := r.Resolve("SH600000", domain.DirectionBuy, testWindow())
	require.NoError(t, err)
	assert.Equal(t, SourceQuote, source)
	// ask1=10.2 clamped down to the 10.1 up-limit
	assert.InDelta(t, 10.1, price, 1e-9)
}

func TestResolveSellPrefersBidClampedToLowLimit(t *testing.T) {
	quotes := map[string]domain.Quote{
		"SH600000": {Symbol: "SH600000", Last: fp(10.0), Bid1: fp(9.5), LowLimit: fp(9.7)},
	}
	r := NewResolver(quotes, &stubHistory{}, nil, zerolog.Nop())

	price, source, err := r.Resolve("SH600000", domain.DirectionSell, testWindow())
	require.NoError(t, err)
	assert.Equal(t, SourceQuote, source)
	assert.InDelta(t, 9.7, price, 1e-9)
}

func TestResolveFallsBackToLastWhenSideMissing(t *testing.T) {
	quotes := map[string]domain.Quote{
		"SZ000001": {Symbol: "SZ000001", Last: fp(25.4)},
	}
	r := NewResolver(quotes, &stubHistory{}, nil, zerolog.Nop())

	price, _, err := r.Resolve("SZ000001", domain.DirectionBuy, testWindow())
	require.NoError(t, err)
	assert.InDelta(t, 25.4, price, 1e-9)

	price, _, err = r.Resolve("SZ000001", domain.DirectionSell, testWindow())
	require.NoError(t, err)
	assert.InDelta(t, 25.4, price, 1e-9)
}

func TestResolveWaterfallOrder(t *testing.T) {
	history := &stubHistory{
		deal:   map[string]float64{"SH600000": 11.0},
		closes: map[string]float64{"SH600000": 12.0, "SZ000001": 8.0},
	}
	fallback := map[string]float64{"SZ300750": 200.0}
	r := NewResolver(nil, history, fallback, zerolog.Nop())

	// No quote: deal price wins over close.
	price, source, err := r.Resolve("SH600000", domain.DirectionBuy, testWindow())
	require.NoError(t, err)
	assert.Equal(t, SourceDeal, source)
	assert.InDelta(t, 11.0, price, 1e-9)

	// No quote, no deal: close.
	price, source, err = r.Resolve("SZ000001", domain.DirectionBuy, testWindow())
	require.NoError(t, err)
	assert.Equal(t, SourceClose, source)
	assert.InDelta(t, 8.0, price, 1e-9)

	// Only the fallback table knows this one.
	price, source, err = r.Resolve("SZ300750", domain.DirectionSell, testWindow())
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, source)
	assert.InDelta(t, 200.0, price, 1e-9)
}

func TestResolveExhaustedReturnsUnresolved(t *testing.T) {
	r := NewResolver(nil, &stubHistory{}, nil, zerolog.Nop())

	_, source, err := r.Resolve("SH999999", domain.DirectionBuy, testWindow())
	assert.ErrorIs(t, err, domain.ErrUnresolvedPrice)
	assert.Equal(t, SourceUnresolved, source)
}

func TestResolveRejectsInvalidQuoteValues(t *testing.T) {
	// Zero and negative quote fields must be skipped, not returned.
	quotes := map[string]domain.Quote{
		"SH600000": {Symbol: "SH600000", Ask1: fp(0), Last: fp(-3)},
	}
	history := &stubHistory{closes: map[string]float64{"SH600000": 9.9}}
	r := NewResolver(quotes, history, nil, zerolog.Nop())

	price, source, err := r.Resolve("SH600000", domain.DirectionBuy, testWindow())
	require.NoError(t, err)
	assert.Equal(t, SourceClose, source)
	assert.InDelta(t, 9.9, price, 1e-9)
}

func TestResolveHistoryErrorContinuesWaterfall(t *testing.T) {
	history := &stubHistory{dealErr: errors.New("db locked")}
	fallback := map[string]float64{"SH600000": 7.7}
	r := NewResolver(nil, history, fallback, zerolog.Nop())

	price, source, err := r.Resolve("SH600000", domain.DirectionBuy, testWindow())
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, source)
	assert.InDelta(t, 7.7, price, 1e-9)
}

func TestResolveLimitOnlyQuote(t *testing.T) {
	// A symbol locked at the limit may publish only the limit price.
	quotes := map[string]domain.Quote{
		"SH600000": {Symbol: "SH600000", HighLimit: fp(11.0)},
	}
	r := NewResolver(quotes, &stubHistory{}, nil, zerolog.Nop())

	price, source, err := r.Resolve("SH600000", domain.DirectionBuy, testWindow())
	require.NoError(t, err)
	assert.Equal(t, SourceQuote, source)
	assert.InDelta(t, 11.0, price, 1e-9)
}
