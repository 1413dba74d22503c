// Package turnover decides which holdings stay, which are replaced, and
// enforces the minimum holding period before a position may be sold.
package turnover

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zxnxzf/rebalancer/internal/domain"
)

const dateLayout = "2006-01-02"

// LedgerRepository handles holdings-history ledger database operations.
// The ledger records when each symbol was first bought so holding-day
// counts survive process restarts.
type LedgerRepository struct {
	ledgerDB *sql.DB // ledger.db - holdings_history table
	log      zerolog.Logger
}

// NewLedgerRepository creates a new holdings-history ledger repository
func NewLedgerRepository(ledgerDB *sql.DB, log zerolog.Logger) *LedgerRepository {
	return &LedgerRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "ledger").Logger(),
	}
}

// Load returns the full ledger keyed by symbol.
func (r *LedgerRepository) Load() (map[string]domain.HoldingRecord, error) {
	rows, err := r.ledgerDB.Query(`SELECT symbol, buy_date, last_known_shares FROM holdings_history`)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings history: %w", err)
	}
	defer rows.Close()

	records := make(map[string]domain.HoldingRecord)
	for rows.Next() {
		var rec domain.HoldingRecord
		var buyDate string
		if err := rows.Scan(&rec.Symbol, &buyDate, &rec.LastKnownShares); err != nil {
			return nil, fmt.Errorf("failed to scan holdings history row: %w", err)
		}
		rec.BuyDate, err = time.Parse(dateLayout, buyDate)
		if err != nil {
			return nil, fmt.Errorf("failed to parse buy date %q for %s: %w", buyDate, rec.Symbol, err)
		}
		records[rec.Symbol] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate holdings history rows: %w", err)
	}

	return records, nil
}

// RecordBuy upserts a symbol after a buy order is generated. The buy date
// is written once on first insert and never moved by later buys, since the
// holding period runs from the first open of the position.
func (r *LedgerRepository) RecordBuy(symbol string, buyDate time.Time, shares int64) error {
	query := `
		INSERT INTO holdings_history (symbol, buy_date, last_known_shares, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			last_known_shares = excluded.last_known_shares,
			updated_at = excluded.updated_at
	`

	if _, err := r.ledgerDB.Exec(query, symbol, buyDate.Format(dateLayout), shares, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to record buy for %s: %w", symbol, err)
	}
	return nil
}

// UpdateShares refreshes the last known share count for a tracked symbol
// without touching its buy date. Symbols not in the ledger are ignored.
func (r *LedgerRepository) UpdateShares(symbol string, shares int64) error {
	query := `UPDATE holdings_history SET last_known_shares = ?, updated_at = ? WHERE symbol = ?`

	if _, err := r.ledgerDB.Exec(query, shares, time.Now().Unix(), symbol); err != nil {
		return fmt.Errorf("failed to update shares for %s: %w", symbol, err)
	}
	return nil
}

// Prune removes ledger entries for symbols no longer present in current
// holdings. An entry is only deleted once the position is confirmed fully
// liquidated, which is exactly "absent from the live holdings snapshot".
func (r *LedgerRepository) Prune(held map[string]int64) error {
	records, err := r.Load()
	if err != nil {
		return err
	}

	for symbol := range records {
		if shares, ok := held[symbol]; ok && shares > 0 {
			continue
		}

		if _, err := r.ledgerDB.Exec(`DELETE FROM holdings_history WHERE symbol = ?`, symbol); err != nil {
			return fmt.Errorf("failed to prune ledger entry for %s: %w", symbol, err)
		}
		r.log.Debug().Str("symbol", symbol).Msg("Pruned liquidated symbol from holdings ledger")
	}

	return nil
}
