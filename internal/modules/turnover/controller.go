package turnover

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/zxnxzf/rebalancer/internal/domain"
	"github.com/zxnxzf/rebalancer/internal/modules/history"
)

// untrackedHoldingDays is assigned to held symbols absent from the ledger.
// Positions that predate ledger tracking are treated as old holdings,
// always past the holding threshold and therefore sellable.
const untrackedHoldingDays = 100

// LedgerSource is the slice of the ledger repository the controller needs.
type LedgerSource interface {
	Load() (map[string]domain.HoldingRecord, error)
}

// Selection is the outcome of one dropout pass: held symbols that stay at
// their current size, new symbols to open, and held symbols to liquidate.
// Buys are ordered by score descending.
type Selection struct {
	Keep  []string
	Buys  []string
	Sells []string
}

// Controller applies the dropout/replacement policy over ranked candidates
// and enforces the minimum holding period on sells.
type Controller struct {
	ledger      LedgerSource
	topK        int
	dropoutRate float64
	holdThresh  int
	log         zerolog.Logger
}

// NewController creates a new turnover controller
func NewController(ledger LedgerSource, topK int, dropoutRate float64, holdThresh int, log zerolog.Logger) *Controller {
	return &Controller{
		ledger:      ledger,
		topK:        topK,
		dropoutRate: dropoutRate,
		holdThresh:  holdThresh,
		log:         log.With().Str("component", "turnover").Logger(),
	}
}

// SelectTargets runs one dropout pass: drop up to round(topK*dropoutRate)
// of the lowest-scoring held symbols whose holding period has elapsed, and
// fill the freed slots plus any remaining capacity with the highest-scoring
// candidates not already held.
//
// Held symbols still inside the holding period are never selected for
// sale, so the effective drop count shrinks when too few holdings are
// eligible.
func (c *Controller) SelectTargets(ranked []history.Score, held map[string]int64, today time.Time) (Selection, error) {
	records, err := c.ledger.Load()
	if err != nil {
		return Selection{}, fmt.Errorf("failed to load holdings ledger: %w", err)
	}

	scoreOf := make(map[string]float64, len(ranked))
	for _, s := range ranked {
		scoreOf[s.Symbol] = s.Score
	}

	var eligible []string
	var locked []string
	for symbol, shares := range held {
		if shares <= 0 {
			continue
		}
		if c.holdingDays(records, symbol, today) >= c.holdThresh {
			eligible = append(eligible, symbol)
		} else {
			locked = append(locked, symbol)
		}
	}

	// Lowest score sells first; ties break by symbol so the pass is
	// deterministic. Held symbols outside the candidate list rank lowest.
	sort.Slice(eligible, func(i, j int) bool {
		si, iOK := scoreOf[eligible[i]]
		sj, jOK := scoreOf[eligible[j]]
		if iOK != jOK {
			return !iOK
		}
		if si != sj {
			return si < sj
		}
		return eligible[i] < eligible[j]
	})

	dropCount := int(math.Round(float64(c.topK) * c.dropoutRate))
	if dropCount > len(eligible) {
		dropCount = len(eligible)
	}

	sel := Selection{
		Sells: append([]string(nil), eligible[:dropCount]...),
	}

	selling := make(map[string]bool, dropCount)
	for _, symbol := range sel.Sells {
		selling[symbol] = true
	}

	sel.Keep = append(sel.Keep, locked...)
	for _, symbol := range eligible[dropCount:] {
		sel.Keep = append(sel.Keep, symbol)
	}
	sort.Strings(sel.Keep)

	buySlots := c.topK - len(sel.Keep)
	for _, s := range ranked {
		if buySlots <= 0 {
			break
		}
		if _, isHeld := held[s.Symbol]; isHeld {
			continue
		}
		sel.Buys = append(sel.Buys, s.Symbol)
		buySlots--
	}

	c.log.Info().
		Int("held", len(held)).
		Int("keep", len(sel.Keep)).
		Int("sells", len(sel.Sells)).
		Int("buys", len(sel.Buys)).
		Msg("Turnover selection complete")

	return sel, nil
}

// EnsureSellable verifies every symbol has held long enough to be sold.
// A violation means the caller's candidate selection is broken, so this
// fails hard instead of skipping the offending order.
func (c *Controller) EnsureSellable(symbols []string, today time.Time) error {
	records, err := c.ledger.Load()
	if err != nil {
		return fmt.Errorf("failed to load holdings ledger: %w", err)
	}

	for _, symbol := range symbols {
		days := c.holdingDays(records, symbol, today)
		if days < c.holdThresh {
			return fmt.Errorf("%w: %s held %d trading days, minimum is %d",
				domain.ErrHoldingPeriod, symbol, days, c.holdThresh)
		}
	}
	return nil
}

// holdingDays returns the number of trading days a symbol has been held.
// Symbols absent from the ledger predate tracking and count as long-held.
func (c *Controller) holdingDays(records map[string]domain.HoldingRecord, symbol string, today time.Time) int {
	rec, ok := records[symbol]
	if !ok {
		return c.holdThresh + untrackedHoldingDays
	}
	return BusinessDaysBetween(rec.BuyDate, today)
}

// BusinessDaysBetween counts weekdays in (from, to]. Exchange holidays are
// not modeled; the venue calendar is not available on this side of the
// boundary and weekends dominate the gap in practice.
func BusinessDaysBetween(from, to time.Time) int {
	from = from.Truncate(24 * time.Hour)
	to = to.Truncate(24 * time.Hour)
	if !from.Before(to) {
		return 0
	}

	days := 0
	for d := from.AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days++
		}
	}
	return days
}
