package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zxnxzf/rebalancer/internal/config"
	"github.com/zxnxzf/rebalancer/internal/database"
	"github.com/zxnxzf/rebalancer/internal/domain"
	"github.com/zxnxzf/rebalancer/internal/metrics"
	"github.com/zxnxzf/rebalancer/internal/modules/exchange"
	"github.com/zxnxzf/rebalancer/internal/modules/handshake"
	"github.com/zxnxzf/rebalancer/internal/modules/history"
	"github.com/zxnxzf/rebalancer/internal/modules/turnover"
)

func fp(v float64) *float64 { return &v }

// stubVenue implements VenueClient with a fixed book and quote board,
// recording every submission.
type stubVenue struct {
	mu        sync.Mutex
	holdings  exchange.Holdings
	quotes    map[string]domain.Quote
	submitted []domain.Order
}

func (v *stubVenue) Positions() (exchange.Holdings, error) {
	return v.holdings, nil
}

func (v *stubVenue) Quotes(symbols []string) (map[string]domain.Quote, error) {
	out := make(map[string]domain.Quote, len(symbols))
	for _, s := range symbols {
		if q, ok := v.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

func (v *stubVenue) Submit(order domain.Order) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.submitted = append(v.submitted, order)
	return nil
}

func (v *stubVenue) orders() []domain.Order {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.Order, len(v.submitted))
	copy(out, v.submitted)
	return out
}

type fixture struct {
	dir     string
	store   *handshake.Store
	cycle   *CycleService
	venue   *VenueService
	client  *stubVenue
	ledger  *turnover.LedgerRepository
	history *history.Repository
}

var tradeDate = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	historyDB, err := database.New(database.Config{
		Path: "file:svc_history_" + t.Name() + "?mode=memory&cache=shared",
		Name: "history",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = historyDB.Close() })
	require.NoError(t, historyDB.Migrate())

	ledgerDB, err := database.New(database.Config{
		Path: "file:svc_ledger_" + t.Name() + "?mode=memory&cache=shared",
		Name: "ledger",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledgerDB.Close() })
	require.NoError(t, ledgerDB.Migrate())

	historyRepo := history.NewRepository(historyDB.Conn(), zerolog.Nop())
	ledgerRepo := turnover.NewLedgerRepository(ledgerDB.Conn(), zerolog.Nop())

	engineCfg := config.EngineConfig{
		TopK:        2,
		DropoutRate: 0.5,
		HoldThresh:  1,
		RiskDegree:  0.95,
		LotSize:     100,
		Method:      "flat",
		OpenCost:    0.0015,
		CloseCost:   0.0025,
		MinCost:     5,
	}

	store := handshake.NewStore(filepath.Join(dir, exchange.StateFile), zerolog.Nop())
	waiter := handshake.NewWaiter(store, 5*time.Millisecond, 2*time.Second, zerolog.Nop())
	controller := turnover.NewController(ledgerRepo, engineCfg.TopK, engineCfg.DropoutRate, engineCfg.HoldThresh, zerolog.Nop())

	client := &stubVenue{
		holdings: exchange.Holdings{
			Positions: []domain.Position{{Symbol: "SH600000", Shares: 1000}},
			Cash:      50000,
		},
		quotes: map[string]domain.Quote{
			"SH600000": {Symbol: "SH600000", Last: fp(10.0), Bid1: fp(9.9)},
			"SZ000001": {Symbol: "SZ000001", Last: fp(25.0), Ask1: fp(25.1)},
			"SH600519": {Symbol: "SH600519", Last: fp(100.0), Ask1: fp(100.5)},
		},
	}

	cycle := NewCycleService(store, waiter, historyRepo, ledgerRepo, controller, metrics.New(),
		engineCfg, dir, zerolog.Nop())
	cycle.now = func() time.Time { return tradeDate }

	venue := NewVenueService(store, client, metrics.New(),
		config.VenueConfig{PollSecs: 1, EnforceBuyLots: true}, engineCfg.LotSize, dir, zerolog.Nop())

	return &fixture{
		dir:     dir,
		store:   store,
		cycle:   cycle,
		venue:   venue,
		client:  client,
		ledger:  ledgerRepo,
		history: historyRepo,
	}
}

// pump drives the venue adapter's poll loop at test speed.
func (f *fixture) pump(t *testing.T, ctx context.Context) {
	t.Helper()
	go func() {
		for ctx.Err() == nil {
			if err := f.venue.Poll(); err != nil {
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()
}

func seedScores(t *testing.T, f *fixture) {
	t.Helper()
	require.NoError(t, f.history.UpsertScores(tradeDate.Truncate(24*time.Hour), []history.Score{
		{Symbol: "SZ000001", Score: 0.9},
		{Symbol: "SH600519", Score: 0.8},
		{Symbol: "SH600000", Score: 0.1},
	}))
}

func TestFullCycleEndToEnd(t *testing.T) {
	f := newFixture(t)
	seedScores(t, f)
	// Held long before the threshold, free to drop.
	require.NoError(t, f.ledger.RecordBuy("SH600000", tradeDate.AddDate(0, -1, 0), 1000))
	// The venue's export carries no reference price for the holding, so
	// valuation falls back to this stored close.
	require.NoError(t, f.history.UpsertDailyPrice("SH600000", tradeDate.AddDate(0, 0, -1), 10.0, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.pump(t, ctx)

	stats, err := f.cycle.Run(ctx)
	require.NoError(t, err)

	// topK=2, dropout=0.5: drop the held laggard, open the two leaders.
	assert.Equal(t, 3, stats.Orders)
	assert.Equal(t, 2, stats.Buys)
	assert.Equal(t, 1, stats.Sells)
	assert.Zero(t, stats.Unresolved)

	// Flat split of 47500 over two buys: 900x25.1 + 200x100.5.
	assert.InDelta(t, 42690.0, stats.BuyNotional, 1e-6)
	assert.InDelta(t, 9900.0, stats.SellProceeds, 1e-6)

	// Commission estimate: 22590x0.0015 + 20100x0.0015 + 9900x0.0025.
	assert.InDelta(t, 88.785, stats.EstimatedCost, 1e-6)
	// Cash 50000 plus 1000 shares at the stored close of 10.
	assert.InDelta(t, 60000.0, stats.PortfolioValue, 1e-6)

	// The venue submitted exactly the published orders.
	submitted := f.client.orders()
	require.Len(t, submitted, 3)
	byID := map[string]domain.Order{}
	for _, o := range submitted {
		byID[o.OrderID] = o
		assert.Zerof(t, o.Shares%100, "submitted order %s not lot aligned", o.OrderID)
	}
	assert.Equal(t, int64(900), byID["SZ000001_BUY_20260302"].Shares)
	assert.Equal(t, int64(200), byID["SH600519_BUY_20260302"].Shares)
	assert.Equal(t, int64(1000), byID["SH600000_SELL_20260302"].Shares)

	// Terminal state is exec_done under the cycle's version.
	state, ok, err := f.store.Read()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, handshake.PhaseExecDone, state.Phase)
	assert.Equal(t, stats.Version, state.Version)

	// New buys entered the ledger with today's buy date.
	records, err := f.ledger.Load()
	require.NoError(t, err)
	require.Contains(t, records, "SZ000001")
	assert.Equal(t, "2026-03-02", records["SZ000001"].BuyDate.Format("2006-01-02"))
	require.Contains(t, records, "SH600519")
}

func TestCycleTimesOutWithoutVenue(t *testing.T) {
	f := newFixture(t)
	seedScores(t, f)

	// Shorten the wait so the test fails fast.
	f.cycle.waiter = handshake.NewWaiter(f.store, 5*time.Millisecond, 50*time.Millisecond, zerolog.Nop())

	_, err := f.cycle.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrProtocolTimeout)

	// The failure is terminal and visible to the counterpart.
	state, ok, readErr := f.store.Read()
	require.NoError(t, readErr)
	require.True(t, ok)
	assert.Equal(t, handshake.PhaseExecFailed, state.Phase)

	// No orders file was published.
	assert.NoFileExists(t, filepath.Join(f.dir, exchange.OrdersFile))
}

func TestCycleRefusesWhilePriorCycleUnresolved(t *testing.T) {
	f := newFixture(t)
	seedScores(t, f)

	// A lingering non-terminal record means another cycle never finished.
	require.NoError(t, f.store.Write(handshake.State{
		Phase:   handshake.PhaseOrdersReady,
		Version: "lingering",
	}))

	_, err := f.cycle.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrCycleInProgress)

	// The unresolved record must not be overwritten, not even with a
	// terminal failure.
	state, ok, readErr := f.store.Read()
	require.NoError(t, readErr)
	require.True(t, ok)
	assert.Equal(t, "lingering", state.Version)
	assert.Equal(t, handshake.PhaseOrdersReady, state.Phase)
}

func TestOrderCostRates(t *testing.T) {
	f := newFixture(t)

	// Tiny notional hits the per-order floor.
	assert.InDelta(t, 5.0, f.cycle.orderCost(domain.Order{
		Direction: domain.DirectionBuy, Amount: 100,
	}), 1e-9)

	// Large orders pay the side's rate.
	assert.InDelta(t, 30.0, f.cycle.orderCost(domain.Order{
		Direction: domain.DirectionBuy, Amount: 20000,
	}), 1e-9)
	assert.InDelta(t, 50.0, f.cycle.orderCost(domain.Order{
		Direction: domain.DirectionSell, Amount: 20000,
	}), 1e-9)
}

func TestValueHoldingsPrefersExportPrices(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.history.UpsertDailyPrice("SZ000001", tradeDate.AddDate(0, 0, -1), 25.0, nil))

	holdings := exchange.Holdings{
		Cash: 1000,
		Positions: []domain.Position{
			{Symbol: "SH600000", Shares: 100, ReferencePrice: fp(12.0)},
			// Valued at the stored close.
			{Symbol: "SZ000001", Shares: 200},
			// No price anywhere, carried at zero.
			{Symbol: "SH600519", Shares: 300},
		},
	}

	assert.InDelta(t, 1000+1200+5000, f.cycle.valueHoldings(holdings, tradeDate), 1e-6)
}

func TestCycleFailsWithoutScores(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.pump(t, ctx)

	_, err := f.cycle.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scores")
}

func TestVenueSkipsAlreadySubmittedOrderIDs(t *testing.T) {
	f := newFixture(t)
	seedScores(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.pump(t, ctx)

	_, err := f.cycle.Run(ctx)
	require.NoError(t, err)
	firstCount := len(f.client.orders())

	// A second cycle on the same trade date regenerates identical order
	// ids; the adapter must not double-submit them. The book still shows
	// the original holdings, so the diff reproduces the same orders.
	_, err = f.cycle.Run(ctx)
	require.NoError(t, err)

	assert.Len(t, f.client.orders(), firstCount, "identical order ids submitted once")
}

func TestVenueDryRunSubmitsNothing(t *testing.T) {
	f := newFixture(t)
	seedScores(t, f)
	f.venue.cfg.DryRun = true

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.pump(t, ctx)

	stats, err := f.cycle.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Orders)
	assert.Empty(t, f.client.orders(), "dry run never reaches the broker")
}
