package database

// Embedded schemas, one per database name. Each schema is idempotent
// (CREATE TABLE IF NOT EXISTS) so Migrate can run on every startup.
var schemas = map[string]string{
	// ledger.db - holdings-history ledger gating the holding-period rule
	"ledger": `
CREATE TABLE IF NOT EXISTS holdings_history (
    symbol            TEXT PRIMARY KEY,
    buy_date          TEXT NOT NULL,     -- YYYY-MM-DD, date of first buy
    last_known_shares INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL   -- unix seconds
);
`,

	// history.db - historical market data and model scores
	"history": `
CREATE TABLE IF NOT EXISTS daily_prices (
    symbol     TEXT NOT NULL,
    date       TEXT NOT NULL,            -- YYYY-MM-DD
    close      REAL,
    deal_price REAL,                     -- venue-reported deal price, may be NULL
    PRIMARY KEY (symbol, date)
);

CREATE INDEX IF NOT EXISTS idx_daily_prices_date ON daily_prices(date);

CREATE TABLE IF NOT EXISTS scores (
    symbol     TEXT NOT NULL,
    date       TEXT NOT NULL,            -- prediction date, YYYY-MM-DD
    score      REAL NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (symbol, date)
);

CREATE INDEX IF NOT EXISTS idx_scores_date ON scores(date);
`,
}
