// Package history stores historical market data and model scores.
// It backs waterfall steps 2-3 of the price resolver and supplies the
// ranked candidate list for each cycle.
package history

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/zxnxzf/rebalancer/internal/modules/pricing"
)

const dateLayout = "2006-01-02"

// Score is one model prediction for a symbol on a date.
type Score struct {
	Symbol string
	Score  float64
}

// Repository handles market-data and score database operations
type Repository struct {
	historyDB *sql.DB // history.db - daily_prices, scores tables
	log       zerolog.Logger
}

// NewRepository creates a new history repository
func NewRepository(historyDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		historyDB: historyDB,
		log:       log.With().Str("repo", "history").Logger(),
	}
}

// DealPrice returns the venue-reported deal price for the most recent row
// inside the window. Implements pricing.HistoricalSource.
func (r *Repository) DealPrice(symbol string, w pricing.Window) (float64, bool, error) {
	return r.lookupPrice("deal_price", symbol, w)
}

// Close returns the daily close for the most recent row inside the
// window. Implements pricing.HistoricalSource.
func (r *Repository) Close(symbol string, w pricing.Window) (float64, bool, error) {
	return r.lookupPrice("close", symbol, w)
}

func (r *Repository) lookupPrice(column, symbol string, w pricing.Window) (float64, bool, error) {
	// column is one of two compile-time constants, never user input.
	query := fmt.Sprintf(`
		SELECT %s FROM daily_prices
		WHERE symbol = ? AND date >= ? AND date <= ? AND %s IS NOT NULL
		ORDER BY date DESC
		LIMIT 1
	`, column, column)

	var price float64
	err := r.historyDB.QueryRow(query, symbol, w.Start.Format(dateLayout), w.End.Format(dateLayout)).Scan(&price)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query %s for %s: %w", column, symbol, err)
	}
	return price, true, nil
}

// UpsertDailyPrice records a close (and optionally a deal price) for one
// symbol and date. dealPrice may be nil.
func (r *Repository) UpsertDailyPrice(symbol string, date time.Time, closePrice float64, dealPrice *float64) error {
	query := `
		INSERT INTO daily_prices (symbol, date, close, deal_price)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET
			close = excluded.close,
			deal_price = COALESCE(excluded.deal_price, daily_prices.deal_price)
	`

	var deal interface{}
	if dealPrice != nil {
		deal = *dealPrice
	}

	if _, err := r.historyDB.Exec(query, symbol, date.Format(dateLayout), closePrice, deal); err != nil {
		return fmt.Errorf("failed to upsert daily price for %s: %w", symbol, err)
	}
	return nil
}

// LatestCloses returns the most recent close on or before asOf for each
// requested symbol. Symbols with no data are absent from the result.
func (r *Repository) LatestCloses(symbols []string, asOf time.Time) (map[string]float64, error) {
	result := make(map[string]float64, len(symbols))

	query := `
		SELECT close FROM daily_prices
		WHERE symbol = ? AND date <= ? AND close IS NOT NULL
		ORDER BY date DESC
		LIMIT 1
	`

	for _, symbol := range symbols {
		var price float64
		err := r.historyDB.QueryRow(query, symbol, asOf.Format(dateLayout)).Scan(&price)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query latest close for %s: %w", symbol, err)
		}
		result[symbol] = price
	}

	return result, nil
}

// UpsertScores replaces the scores for one prediction date. The external
// model process writes here; the cycle only reads.
func (r *Repository) UpsertScores(date time.Time, scores []Score) error {
	now := time.Now().Unix()

	tx, err := r.historyDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin scores transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO scores (symbol, date, score, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET
			score = excluded.score,
			created_at = excluded.created_at
	`

	for _, s := range scores {
		if _, err := tx.Exec(query, s.Symbol, date.Format(dateLayout), s.Score, now); err != nil {
			return fmt.Errorf("failed to upsert score for %s: %w", s.Symbol, err)
		}
	}

	return tx.Commit()
}

// RankedScores returns the scores for a prediction date sorted by score
// descending, ties broken by symbol ascending so ordering is stable.
func (r *Repository) RankedScores(date time.Time) ([]Score, error) {
	rows, err := r.historyDB.Query(
		`SELECT symbol, score FROM scores WHERE date = ?`,
		date.Format(dateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	var scores []Score
	for rows.Next() {
		var s Score
		if err := rows.Scan(&s.Symbol, &s.Score); err != nil {
			return nil, fmt.Errorf("failed to scan score row: %w", err)
		}
		scores = append(scores, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate score rows: %w", err)
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Symbol < scores[j].Symbol
	})

	return scores, nil
}

// LatestScoreDate returns the most recent prediction date on or before
// asOf, or false when the scores table has no usable rows.
func (r *Repository) LatestScoreDate(asOf time.Time) (time.Time, bool, error) {
	var dateStr string
	err := r.historyDB.QueryRow(
		`SELECT date FROM scores WHERE date <= ? ORDER BY date DESC LIMIT 1`,
		asOf.Format(dateLayout),
	).Scan(&dateStr)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query latest score date: %w", err)
	}

	date, err := time.Parse(dateLayout, dateStr)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse score date %q: %w", dateStr, err)
	}
	return date, true, nil
}
