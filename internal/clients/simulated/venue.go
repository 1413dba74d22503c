// Package simulated provides a file-backed venue client for development
// and paper trading: the account book and the quote board live in CSV
// files, fills are applied to the book immediately at the order price.
package simulated

import (
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zxnxzf/rebalancer/internal/domain"
	"github.com/zxnxzf/rebalancer/internal/modules/exchange"
)

// Venue implements services.VenueClient against local CSV files.
type Venue struct {
	mu        sync.Mutex
	bookPath  string
	holdings  exchange.Holdings
	market    map[string]domain.Quote
	fillsPath string
	log       zerolog.Logger
}

// New loads the account book and quote board. The fills file is appended
// to on every submission and may start absent.
func New(bookPath, marketPath, fillsPath string, log zerolog.Logger) (*Venue, error) {
	// The book is operator-authored; it must carry its own CASH row.
	holdings, err := exchange.ReadPositions(bookPath, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load simulated book: %w", err)
	}
	market, err := exchange.ReadQuotes(marketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load simulated market: %w", err)
	}

	return &Venue{
		bookPath:  bookPath,
		holdings:  holdings,
		market:    market,
		fillsPath: fillsPath,
		log:       log.With().Str("component", "simulated_venue").Logger(),
	}, nil
}

// Positions returns a copy of the current book.
func (v *Venue) Positions() (exchange.Holdings, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := exchange.Holdings{
		Positions: make([]domain.Position, len(v.holdings.Positions)),
		Cash:      v.holdings.Cash,
	}
	copy(out.Positions, v.holdings.Positions)
	return out, nil
}

// Quotes returns board quotes for the requested symbols. Unknown symbols
// are absent from the result, matching real venue behavior for halted or
// delisted instruments.
func (v *Venue) Quotes(symbols []string) (map[string]domain.Quote, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make(map[string]domain.Quote, len(symbols))
	for _, s := range symbols {
		if q, ok := v.market[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

// Submit fills the order against the book at the order price, falling back
// to the board's last price when the order arrived unpriced. No price on
// either side rejects the order.
func (v *Venue) Submit(order domain.Order) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	price := order.Price
	if !domain.ValidPrice(price) {
		q, ok := v.market[order.Symbol]
		if !ok || q.Last == nil || !domain.ValidPrice(*q.Last) {
			return fmt.Errorf("order %s has no price and no board quote", order.OrderID)
		}
		price = *q.Last
	}

	amount := float64(order.Shares) * price
	switch order.Direction {
	case domain.DirectionBuy:
		if amount > v.holdings.Cash {
			return fmt.Errorf("order %s needs %.2f but only %.2f cash available", order.OrderID, amount, v.holdings.Cash)
		}
		v.holdings.Cash -= amount
		v.adjust(order.Symbol, order.Shares, price)
	case domain.DirectionSell:
		if held := v.shares(order.Symbol); held < order.Shares {
			return fmt.Errorf("order %s sells %d but only %d held", order.OrderID, order.Shares, held)
		}
		v.holdings.Cash += amount
		v.adjust(order.Symbol, -order.Shares, price)
	default:
		return fmt.Errorf("order %s has unknown direction %q", order.OrderID, order.Direction)
	}

	if err := exchange.WritePositions(v.bookPath, v.holdings); err != nil {
		return err
	}
	if err := v.recordFill(order, price, amount); err != nil {
		return err
	}

	v.log.Info().
		Str("order_id", order.OrderID).
		Float64("fill_price", price).
		Float64("amount", amount).
		Msg("Order filled")
	return nil
}

func (v *Venue) shares(symbol string) int64 {
	for _, p := range v.holdings.Positions {
		if p.Symbol == symbol {
			return p.Shares
		}
	}
	return 0
}

func (v *Venue) adjust(symbol string, delta int64, price float64) {
	for i := range v.holdings.Positions {
		p := &v.holdings.Positions[i]
		if p.Symbol != symbol {
			continue
		}
		p.Shares += delta
		p.ReferencePrice = &price
		if p.Shares <= 0 {
			v.holdings.Positions = append(v.holdings.Positions[:i], v.holdings.Positions[i+1:]...)
		}
		return
	}
	if delta > 0 {
		v.holdings.Positions = append(v.holdings.Positions, domain.Position{
			AcquisitionDate: time.Now(),
			Symbol:          symbol,
			Shares:          delta,
			ReferencePrice:  &price,
		})
	}
}

// recordFill appends one line to the fills log. Plain appends are fine
// here; the fills file is an audit trail, not a handshake artifact.
func (v *Venue) recordFill(order domain.Order, price, amount float64) error {
	f, err := os.OpenFile(v.fillsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open fills log: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s,%s,%s,%d,%.4f,%.4f,%s\n",
		time.Now().UTC().Format(time.RFC3339),
		order.OrderID, order.Direction, order.Shares, price, amount, formatCash(v.holdings.Cash)); err != nil {
		return fmt.Errorf("failed to append fill: %w", err)
	}
	return nil
}

func formatCash(c float64) string {
	if math.IsNaN(c) {
		return "NaN"
	}
	return fmt.Sprintf("%.2f", c)
}
