package services

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/zxnxzf/rebalancer/internal/config"
	"github.com/zxnxzf/rebalancer/internal/domain"
	"github.com/zxnxzf/rebalancer/internal/metrics"
	"github.com/zxnxzf/rebalancer/internal/modules/exchange"
	"github.com/zxnxzf/rebalancer/internal/modules/handshake"
)

// VenueClient is the broker surface the adapter needs. Implementations
// talk to a real terminal API or, for development, a simulated book.
type VenueClient interface {
	// Positions returns the current account book including cash.
	Positions() (exchange.Holdings, error)
	// Quotes returns live quotes for the requested canonical symbols.
	// Symbols the venue cannot quote are simply absent from the result.
	Quotes(symbols []string) (map[string]domain.Quote, error)
	// Submit places one order. It must be safe to call once per order id.
	Submit(order domain.Order) error
}

// Session tracks one adapter run: which phase of which version has been
// handled, and the order ids already submitted so a re-read of the order
// file never double-submits.
type Session struct {
	Version       string
	HandledPhase  handshake.Phase
	Submitted     map[string]bool
	Polls         int
	CyclesServed  int
}

// VenueService polls the shared state record and serves the venue side of
// the exchange: it exports holdings, exports quotes, and submits orders.
type VenueService struct {
	store   *handshake.Store
	client  VenueClient
	metrics *metrics.Registry
	cfg     config.VenueConfig
	lotSize int64
	dir     string
	session Session
	log     zerolog.Logger
}

// NewVenueService creates a new venue adapter service
func NewVenueService(
	store *handshake.Store,
	client VenueClient,
	m *metrics.Registry,
	cfg config.VenueConfig,
	lotSize int64,
	exchangeDir string,
	log zerolog.Logger,
) *VenueService {
	return &VenueService{
		store:   store,
		client:  client,
		metrics: m,
		cfg:     cfg,
		lotSize: lotSize,
		dir:     exchangeDir,
		session: Session{Submitted: make(map[string]bool)},
		log:     log.With().Str("service", "venue").Logger(),
	}
}

// Run polls the state record until the context is cancelled, reacting to
// each signal-side phase. Errors while serving a phase are reported back
// through exec_failed rather than crashing the loop; only state-store
// failures end the run.
func (s *VenueService) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(s.cfg.PollSecs) * time.Second)
	defer ticker.Stop()

	s.log.Info().Str("exchange_dir", s.dir).Bool("dry_run", s.cfg.DryRun).Msg("Venue adapter started")

	for {
		if err := s.Poll(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			s.log.Info().Int("cycles_served", s.session.CyclesServed).Msg("Venue adapter stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll reads the state record once and handles it if it is new work.
func (s *VenueService) Poll() error {
	s.session.Polls++

	state, ok, err := s.store.Read()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	// A fresh version starts a fresh session scope; the de-dup set
	// persists across versions so a re-published order id stays skipped.
	if state.Version != s.session.Version {
		s.session.Version = state.Version
		s.session.HandledPhase = ""
	}
	if state.Phase == s.session.HandledPhase {
		return nil
	}

	var handleErr error
	switch state.Phase {
	case handshake.PhasePositionsNeeded:
		handleErr = s.exportPositions()
	case handshake.PhaseSymbolsReady:
		handleErr = s.exportQuotes()
	case handshake.PhaseOrdersReady:
		handleErr = s.executeOrders(state.Version)
	default:
		// The signal side's own phases and terminal states need nothing
		// from us.
		s.session.HandledPhase = state.Phase
		return nil
	}

	if handleErr != nil {
		s.log.Error().Err(handleErr).Str("phase", string(state.Phase)).Msg("Failed to serve phase")
		return s.store.Write(handshake.State{
			Phase:   handshake.PhaseExecFailed,
			Version: state.Version,
			Extra:   map[string]string{"error": handleErr.Error()},
		})
	}

	s.session.HandledPhase = state.Phase
	return nil
}

func (s *VenueService) exportPositions() error {
	holdings, err := s.client.Positions()
	if err != nil {
		return fmt.Errorf("failed to fetch positions: %w", err)
	}

	if err := exchange.WritePositions(filepath.Join(s.dir, exchange.PositionsFile), holdings); err != nil {
		return err
	}

	s.log.Info().Int("positions", len(holdings.Positions)).Float64("cash", holdings.Cash).Msg("Positions exported")
	return s.store.Write(handshake.State{Phase: handshake.PhasePositionsReady, Version: s.session.Version})
}

func (s *VenueService) exportQuotes() error {
	requests, err := exchange.ReadSymbolRequests(filepath.Join(s.dir, exchange.SymbolsFile))
	if err != nil {
		return err
	}

	symbols := make([]string, 0, len(requests))
	seen := make(map[string]bool, len(requests))
	for _, r := range requests {
		if !seen[r.Symbol] {
			seen[r.Symbol] = true
			symbols = append(symbols, r.Symbol)
		}
	}

	quotes, err := s.client.Quotes(symbols)
	if err != nil {
		return fmt.Errorf("failed to fetch quotes: %w", err)
	}

	if err := exchange.WriteQuotes(filepath.Join(s.dir, exchange.QuotesFile), quotes); err != nil {
		return err
	}

	s.log.Info().Int("requested", len(symbols)).Int("quoted", len(quotes)).Msg("Quotes exported")
	return s.store.Write(handshake.State{Phase: handshake.PhaseQuotesReady, Version: s.session.Version})
}

func (s *VenueService) executeOrders(version string) error {
	orderList, err := exchange.ReadOrders(filepath.Join(s.dir, exchange.OrdersFile))
	if err != nil {
		return err
	}

	submitted := 0
	for _, o := range orderList {
		if s.session.Submitted[o.OrderID] {
			s.metrics.OrdersSubmitted.WithLabelValues("skipped").Inc()
			s.log.Info().Str("order_id", o.OrderID).Msg("Order already submitted, skipping")
			continue
		}

		if s.cfg.EnforceBuyLots && o.Direction == domain.DirectionBuy && o.Shares%s.lotSize != 0 {
			floored := (o.Shares / s.lotSize) * s.lotSize
			s.log.Warn().
				Str("order_id", o.OrderID).
				Int64("shares", o.Shares).
				Int64("floored", floored).
				Msg("Buy order not lot aligned, flooring")
			o.Shares = floored
			if o.Shares == 0 {
				continue
			}
		}

		if s.cfg.DryRun {
			s.metrics.OrdersSubmitted.WithLabelValues("dry_run").Inc()
			s.log.Info().
				Str("order_id", o.OrderID).
				Str("direction", string(o.Direction)).
				Int64("shares", o.Shares).
				Msg("Dry run, order not submitted")
			s.session.Submitted[o.OrderID] = true
			continue
		}

		if err := s.client.Submit(o); err != nil {
			s.metrics.OrdersSubmitted.WithLabelValues("failed").Inc()
			return fmt.Errorf("failed to submit order %s: %w", o.OrderID, err)
		}
		s.metrics.OrdersSubmitted.WithLabelValues("submitted").Inc()
		s.session.Submitted[o.OrderID] = true
		submitted++
	}

	s.session.CyclesServed++
	s.log.Info().Int("submitted", submitted).Int("total", len(orderList)).Msg("Order execution complete")
	return s.store.Write(handshake.State{Phase: handshake.PhaseExecDone, Version: version})
}
