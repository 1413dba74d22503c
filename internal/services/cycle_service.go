// Package services orchestrates the two halves of the rebalancing
// exchange: CycleService drives the signal-side cycle and VenueService
// runs the execution-venue adapter session.
package services

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/zxnxzf/rebalancer/internal/config"
	"github.com/zxnxzf/rebalancer/internal/domain"
	"github.com/zxnxzf/rebalancer/internal/metrics"
	"github.com/zxnxzf/rebalancer/internal/modules/allocation"
	"github.com/zxnxzf/rebalancer/internal/modules/exchange"
	"github.com/zxnxzf/rebalancer/internal/modules/handshake"
	"github.com/zxnxzf/rebalancer/internal/modules/history"
	"github.com/zxnxzf/rebalancer/internal/modules/orders"
	"github.com/zxnxzf/rebalancer/internal/modules/pricing"
	"github.com/zxnxzf/rebalancer/internal/modules/turnover"
)

// lookbackDays bounds the historical window the price waterfall may reach
// back into for deal prices and closes.
const lookbackDays = 7

// CycleStats summarizes one completed cycle. EstimatedCost and
// PortfolioValue are informational: neither feeds back into order
// generation.
type CycleStats struct {
	Version        string        `json:"version"`
	TradeDate      string        `json:"trade_date"`
	Orders         int           `json:"orders"`
	Buys           int           `json:"buys"`
	Sells          int           `json:"sells"`
	Unresolved     int           `json:"unresolved"`
	BuyNotional    float64       `json:"buy_notional"`
	SellProceeds   float64       `json:"sell_proceeds"`
	EstimatedCost  float64       `json:"estimated_cost"`  // commission estimate over priced orders
	PortfolioValue float64       `json:"portfolio_value"` // cash + valued holdings at cycle start
	Duration       time.Duration `json:"duration"`
}

// CycleService runs the signal-side rebalancing cycle: it requests
// holdings, selects targets, requests quotes, prices and caps orders,
// publishes them, and waits for the execution result.
type CycleService struct {
	store    *handshake.Store
	waiter   *handshake.Waiter
	history  *history.Repository
	ledger   *turnover.LedgerRepository
	turnover *turnover.Controller
	metrics  *metrics.Registry
	cfg      config.EngineConfig
	dir      string // shared exchange directory
	now      func() time.Time
	log      zerolog.Logger
}

// NewCycleService creates a new cycle service
func NewCycleService(
	store *handshake.Store,
	waiter *handshake.Waiter,
	historyRepo *history.Repository,
	ledgerRepo *turnover.LedgerRepository,
	turnoverCtl *turnover.Controller,
	m *metrics.Registry,
	cfg config.EngineConfig,
	exchangeDir string,
	log zerolog.Logger,
) *CycleService {
	return &CycleService{
		store:    store,
		waiter:   waiter,
		history:  historyRepo,
		ledger:   ledgerRepo,
		turnover: turnoverCtl,
		metrics:  m,
		cfg:      cfg,
		dir:      exchangeDir,
		now:      time.Now,
		log:      log.With().Str("service", "cycle").Logger(),
	}
}

// Run executes one full cycle. Any fatal error is persisted as an
// exec_failed record before returning so the counterpart and the operator
// both see a terminal state.
func (s *CycleService) Run(ctx context.Context) (CycleStats, error) {
	start := s.now()
	today := start.Truncate(24 * time.Hour)
	version := handshake.NewVersion()

	log := s.log.With().Str("version", version).Logger()
	log.Info().Str("trade_date", today.Format("2006-01-02")).Msg("Starting rebalancing cycle")

	// A non-terminal record means another cycle's version is still
	// unresolved; starting over it would orphan in-flight work on the
	// venue side. Refuse without touching the record.
	if prior, ok, readErr := s.store.Read(); readErr != nil {
		return CycleStats{}, readErr
	} else if ok && !prior.Phase.Terminal() {
		log.Warn().
			Str("prior_version", prior.Version).
			Str("prior_phase", string(prior.Phase)).
			Msg("Prior cycle unresolved, refusing to start")
		return CycleStats{}, fmt.Errorf("%w: version %s in phase %s",
			domain.ErrCycleInProgress, prior.Version, prior.Phase)
	}

	stats, err := s.run(ctx, version, today)
	stats.Version = version
	stats.TradeDate = today.Format("2006-01-02")
	stats.Duration = time.Since(start)

	if err != nil {
		// Best effort: the write target may be the thing that failed.
		_ = s.store.Write(handshake.State{
			Phase:   handshake.PhaseExecFailed,
			Version: version,
			Extra:   map[string]string{"error": err.Error()},
		})
		s.metrics.RecordCycle("failed", stats.Duration)
		return stats, err
	}

	s.metrics.RecordCycle("completed", stats.Duration)
	log.Info().
		Int("orders", stats.Orders).
		Int("unresolved", stats.Unresolved).
		Float64("buy_notional", stats.BuyNotional).
		Float64("estimated_cost", stats.EstimatedCost).
		Float64("portfolio_value", stats.PortfolioValue).
		Dur("duration", stats.Duration).
		Msg("Rebalancing cycle completed")
	return stats, nil
}

func (s *CycleService) run(ctx context.Context, version string, today time.Time) (CycleStats, error) {
	var stats CycleStats

	// Opening write supersedes the previous cycle's terminal record; a
	// non-terminal one was already refused in Run.
	if err := s.store.Write(handshake.State{Phase: handshake.PhasePositionsNeeded, Version: version}); err != nil {
		return stats, err
	}

	if err := s.await(ctx, handshake.PhasePositionsReady, version); err != nil {
		return stats, err
	}

	holdings, err := exchange.ReadPositions(filepath.Join(s.dir, exchange.PositionsFile), s.cfg.TotalCash)
	if err != nil {
		return stats, err
	}
	if holdings.CashAssumed {
		s.log.Warn().
			Float64("total_cash", holdings.Cash).
			Msg("Holdings export has no CASH row, using configured total_cash")
	}
	held := holdings.Shares()
	stats.PortfolioValue = s.valueHoldings(holdings, today)

	// The snapshot is ground truth: drop liquidated symbols from the
	// ledger and refresh share counts before any holding-day math.
	if err := s.ledger.Prune(held); err != nil {
		return stats, err
	}
	for symbol, shares := range held {
		if err := s.ledger.UpdateShares(symbol, shares); err != nil {
			return stats, err
		}
	}

	ranked, err := s.rankedCandidates(today)
	if err != nil {
		return stats, err
	}

	sel, err := s.turnover.SelectTargets(ranked, held, today)
	if err != nil {
		return stats, err
	}

	// Sells must clear the holding-period gate before any order exists.
	if err := s.turnover.EnsureSellable(sel.Sells, today); err != nil {
		return stats, err
	}

	requests := s.buildSymbolRequests(ranked, sel, held)
	if err := exchange.WriteSymbolRequests(filepath.Join(s.dir, exchange.SymbolsFile), requests); err != nil {
		return stats, err
	}
	if err := s.store.Write(handshake.State{Phase: handshake.PhaseSymbolsReady, Version: version}); err != nil {
		return stats, err
	}

	if err := s.await(ctx, handshake.PhaseQuotesReady, version); err != nil {
		return stats, err
	}
	quotes, err := exchange.ReadQuotes(filepath.Join(s.dir, exchange.QuotesFile))
	if err != nil {
		return stats, err
	}

	scoreOf := make(map[string]float64, len(ranked))
	for _, r := range ranked {
		scoreOf[r.Symbol] = r.Score
	}
	orderList, provenance, err := s.buildOrders(sel, held, holdings.Cash, quotes, scoreOf, today)
	if err != nil {
		return stats, err
	}

	for _, o := range orderList {
		if o.Shares <= 0 {
			continue
		}
		stats.Orders++
		if o.Direction == domain.DirectionBuy {
			stats.Buys++
			if o.PriceResolved {
				stats.BuyNotional += o.Amount
			}
		} else {
			stats.Sells++
			if o.PriceResolved {
				stats.SellProceeds += o.Amount
			}
		}
		if o.PriceResolved {
			stats.EstimatedCost += s.orderCost(o)
		} else {
			stats.Unresolved++
			s.metrics.UnresolvedOrders.Inc()
		}
		s.metrics.OrdersGenerated.WithLabelValues(string(o.Direction)).Inc()
	}
	s.metrics.BuyNotional.Set(stats.BuyNotional)
	s.logOrderPreview(orderList, provenance)

	if err := exchange.WriteOrders(filepath.Join(s.dir, exchange.OrdersFile), orderList); err != nil {
		return stats, err
	}
	if err := s.store.Write(handshake.State{Phase: handshake.PhaseOrdersReady, Version: version}); err != nil {
		return stats, err
	}

	// Record buys once the orders are published; the buy date anchors the
	// holding period from today.
	for _, o := range orderList {
		if o.Direction == domain.DirectionBuy && o.Shares > 0 {
			if err := s.ledger.RecordBuy(o.Symbol, today, held[o.Symbol]+o.Shares); err != nil {
				return stats, err
			}
		}
	}

	final, err := s.waiter.WaitFor(ctx, handshake.PhaseExecDone, version)
	if err != nil {
		return stats, err
	}
	if final.Phase == handshake.PhaseExecFailed {
		return stats, fmt.Errorf("venue reported execution failure: %s", final.Extra["error"])
	}

	return stats, nil
}

func (s *CycleService) await(ctx context.Context, phase handshake.Phase, version string) error {
	start := time.Now()
	_, err := s.waiter.WaitFor(ctx, phase, version)
	s.metrics.RecordPhaseWait(string(phase), time.Since(start))
	return err
}

// rankedCandidates loads the most recent model scores on or before the
// trade date. No scores at all is fatal: the cycle has nothing to rank.
func (s *CycleService) rankedCandidates(today time.Time) ([]history.Score, error) {
	date, ok, err := s.history.LatestScoreDate(today)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no model scores available on or before %s", today.Format("2006-01-02"))
	}

	ranked, err := s.history.RankedScores(date)
	if err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("score_date", date.Format("2006-01-02")).
		Int("candidates", len(ranked)).
		Msg("Loaded ranked candidates")
	return ranked, nil
}

// buildSymbolRequests assembles the quote request file: scored rows for
// buy candidates, NaN placeholder rows for every held symbol so the venue
// exports quotes for sells and valuation too.
func (s *CycleService) buildSymbolRequests(ranked []history.Score, sel turnover.Selection, held map[string]int64) []domain.TargetWeight {
	scoreOf := make(map[string]float64, len(ranked))
	for _, r := range ranked {
		scoreOf[r.Symbol] = r.Score
	}

	requests := make([]domain.TargetWeight, 0, len(sel.Buys)+len(held))
	for _, symbol := range sel.Buys {
		requests = append(requests, domain.TargetWeight{
			Symbol: symbol,
			Score:  scoreOf[symbol],
			Weight: 1.0 / float64(len(sel.Buys)),
		})
	}
	for _, symbol := range sortedSymbols(held) {
		requests = append(requests, domain.TargetWeight{
			Symbol: symbol,
			Score:  math.NaN(),
			Weight: math.NaN(),
		})
	}
	return requests
}

// buildOrders runs the allocation/diff/cap pipeline once quotes are in.
func (s *CycleService) buildOrders(sel turnover.Selection, held map[string]int64, cash float64, quotes map[string]domain.Quote, scoreOf map[string]float64, today time.Time) ([]domain.Order, map[string]domain.TargetWeight, error) {
	window := pricing.Window{Start: today.AddDate(0, 0, -lookbackDays), End: today}

	// The fallback table carries the last known close of any age, distinct
	// from the windowed close in waterfall step 3.
	fallbackSymbols := make([]string, 0, len(sel.Buys)+len(held))
	fallbackSymbols = append(fallbackSymbols, sel.Buys...)
	fallbackSymbols = append(fallbackSymbols, sortedSymbols(held)...)
	fallback, err := s.history.LatestCloses(fallbackSymbols, today)
	if err != nil {
		return nil, nil, err
	}

	resolver := &countingResolver{
		inner:   pricing.NewResolver(quotes, s.history, fallback, s.log),
		metrics: s.metrics,
	}
	rounder := pricing.NewLotRounder(s.cfg.LotSize, s.cfg.RoundSells)

	method := allocation.Method(s.cfg.Method)
	candidates := make([]allocation.Candidate, 0, len(sel.Buys))
	for _, r := range sel.Buys {
		candidates = append(candidates, allocation.Candidate{Symbol: r, Score: scoreOf[r]})
	}

	allocator := allocation.NewAllocator(resolver, rounder, s.log)
	weights := allocator.AllocateAffordable(candidates, cash*s.cfg.RiskDegree, window, method)

	target := make(map[string]int64, len(held)+len(weights))
	for _, symbol := range sel.Keep {
		target[symbol] = held[symbol]
	}
	for _, symbol := range sel.Sells {
		target[symbol] = 0
	}

	provenance := make(map[string]domain.TargetWeight, len(weights))
	budget := cash * s.cfg.RiskDegree
	for _, w := range weights {
		price, _, err := resolver.Resolve(w.Symbol, domain.DirectionBuy, window)
		if err != nil {
			// Survived allocation but lost its price since: skip the buy.
			continue
		}
		target[w.Symbol] = rounder.Round(w.Weight*budget/price, domain.DirectionBuy)
		provenance[w.Symbol] = w
	}

	engine := orders.NewDiffEngine(resolver, rounder, s.log)
	orderList := engine.Diff(target, held, provenance, today, window)

	capper := orders.NewCapper(rounder, s.log)
	capped, _ := capper.Cap(orderList, cash, s.cfg.RiskDegree)
	return capped, provenance, nil
}

// orderCost estimates the commission for one priced order: notional times
// the side's rate, floored at the per-order minimum.
func (s *CycleService) orderCost(o domain.Order) float64 {
	rate := s.cfg.OpenCost
	if o.Direction == domain.DirectionSell {
		rate = s.cfg.CloseCost
	}
	return math.Max(o.Amount*rate, s.cfg.MinCost)
}

// valueHoldings marks the book to market at cycle start: the export's own
// reference prices where present, the latest stored close otherwise.
// Positions with no price from either source are carried at zero and
// logged; valuation never blocks the cycle.
func (s *CycleService) valueHoldings(holdings exchange.Holdings, today time.Time) float64 {
	total := holdings.Cash

	var unpriced []string
	for _, p := range holdings.Positions {
		if p.ReferencePrice == nil {
			unpriced = append(unpriced, p.Symbol)
		}
	}

	closes := map[string]float64{}
	if len(unpriced) > 0 {
		var err error
		closes, err = s.history.LatestCloses(unpriced, today)
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to load closes for position valuation")
			closes = map[string]float64{}
		}
	}

	for _, p := range holdings.Positions {
		switch {
		case p.ReferencePrice != nil:
			total += p.MarketValue()
		case closes[p.Symbol] > 0:
			total += float64(p.Shares) * closes[p.Symbol]
		default:
			s.log.Warn().
				Str("symbol", p.Symbol).
				Int64("shares", p.Shares).
				Msg("No valuation price for held symbol")
		}
	}
	return total
}

// logOrderPreview writes one line per emitted order before publication so
// the operator can audit intent against the execution report.
func (s *CycleService) logOrderPreview(orderList []domain.Order, provenance map[string]domain.TargetWeight) {
	for _, o := range orderList {
		if o.Shares <= 0 {
			continue
		}
		event := s.log.Info().
			Str("order_id", o.OrderID).
			Str("direction", string(o.Direction)).
			Int64("shares", o.Shares)
		if o.PriceResolved {
			event = event.Float64("price", o.Price).Float64("amount", o.Amount)
		} else {
			event = event.Bool("price_unresolved", true)
		}
		if prov, ok := provenance[o.Symbol]; ok {
			event = event.Float64("score", prov.Score).Float64("weight", prov.Weight)
		}
		event.Msg("Order preview")
	}
}

// countingResolver wraps the price resolver with per-source counters.
type countingResolver struct {
	inner   *pricing.Resolver
	metrics *metrics.Registry
}

func (c *countingResolver) Resolve(symbol string, dir domain.Direction, w pricing.Window) (float64, pricing.Source, error) {
	price, source, err := c.inner.Resolve(symbol, dir, w)
	c.metrics.PriceResolutions.WithLabelValues(string(source)).Inc()
	return price, source, err
}

func sortedSymbols(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
