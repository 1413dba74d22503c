// Package config provides configuration management functionality.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration for both processes. Defaults are
// embedded; an optional JSON file and environment variables override them,
// environment last.
type Config struct {
	DataDir     string `json:"data_dir"`     // base directory for the sqlite databases, always absolute
	ExchangeDir string `json:"exchange_dir"` // shared directory both processes exchange files through
	LogLevel    string `json:"log_level"`
	LogPretty   bool   `json:"log_pretty"`
	Port        int    `json:"port"` // ops HTTP server, daemon mode only

	Engine   EngineConfig   `json:"engine"`
	Protocol ProtocolConfig `json:"protocol"`
	Venue    VenueConfig    `json:"venue"`
}

// EngineConfig holds the rebalancing parameters.
type EngineConfig struct {
	TopK        int     `json:"top_k"`        // portfolio size in symbols
	DropoutRate float64 `json:"dropout_rate"` // fraction of topK replaced per cycle
	HoldThresh  int     `json:"hold_thresh"`  // minimum holding period in trading days
	RiskDegree  float64 `json:"risk_degree"`  // fraction of cash committed to buys
	LotSize     int64   `json:"lot_size"`
	RoundSells  bool    `json:"round_sells"` // lot-align sell orders too
	Method      string  `json:"method"`      // "flat" or "score" weight distribution
	Schedule    string  `json:"schedule"`    // cron expression, daemon mode only
	TotalCash   float64 `json:"total_cash"`  // assumed cash when the venue export omits the CASH row; 0 keeps it fatal

	// Commission model for the logged cost estimate on each cycle
	// summary. Costs never change order generation.
	OpenCost  float64 `json:"open_cost"`  // buy-side rate
	CloseCost float64 `json:"close_cost"` // sell-side rate
	MinCost   float64 `json:"min_cost"`   // per-order floor
}

// ProtocolConfig holds the handshake timing parameters.
type ProtocolConfig struct {
	PollSecs int `json:"poll_secs"` // state record polling interval
	WaitSecs int `json:"wait_secs"` // per-phase timeout before the cycle fails
}

// VenueConfig holds the venue adapter parameters.
type VenueConfig struct {
	PollSecs       int  `json:"poll_secs"` // state record polling interval
	DryRun         bool `json:"dry_run"`   // log submissions instead of sending them
	EnforceBuyLots bool `json:"enforce_buy_lots"`
}

// defaults returns the embedded configuration used when no file and no
// environment overrides are present.
func defaults() *Config {
	return &Config{
		DataDir:     "./data",
		ExchangeDir: "./exchange",
		LogLevel:    "info",
		LogPretty:   false,
		Port:        8001,
		Engine: EngineConfig{
			TopK:        50,
			DropoutRate: 0.1,
			HoldThresh:  1,
			RiskDegree:  0.95,
			LotSize:     100,
			RoundSells:  false,
			Method:      "flat",
			Schedule:    "0 35 9 * * MON-FRI",
			TotalCash:   0,
			OpenCost:    0.0015,
			CloseCost:   0.0025,
			MinCost:     5,
		},
		Protocol: ProtocolConfig{
			PollSecs: 2,
			WaitSecs: 600,
		},
		Venue: VenueConfig{
			PollSecs:       2,
			DryRun:         false,
			EnforceBuyLots: true,
		},
	}
}

// Load builds the configuration: embedded defaults, then the optional JSON
// file at configPath, then environment variables. Directories are resolved
// to absolute paths and created.
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	cfg.DataDir = getEnv("REBALANCER_DATA_DIR", cfg.DataDir)
	cfg.ExchangeDir = getEnv("REBALANCER_EXCHANGE_DIR", cfg.ExchangeDir)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogPretty = getEnvAsBool("LOG_PRETTY", cfg.LogPretty)
	cfg.Port = getEnvAsInt("REBALANCER_PORT", cfg.Port)
	cfg.Venue.DryRun = getEnvAsBool("VENUE_DRY_RUN", cfg.Venue.DryRun)

	for name, dir := range map[string]*string{
		"data":     &cfg.DataDir,
		"exchange": &cfg.ExchangeDir,
	} {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s directory path: %w", name, err)
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", name, err)
		}
		*dir = abs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the engine parameters are internally consistent.
func (c *Config) Validate() error {
	if c.Engine.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.Engine.TopK)
	}
	if c.Engine.DropoutRate < 0 || c.Engine.DropoutRate > 1 {
		return fmt.Errorf("dropout_rate must be in [0,1], got %g", c.Engine.DropoutRate)
	}
	if c.Engine.RiskDegree <= 0 || c.Engine.RiskDegree > 1 {
		return fmt.Errorf("risk_degree must be in (0,1], got %g", c.Engine.RiskDegree)
	}
	if c.Engine.LotSize < 1 {
		return fmt.Errorf("lot_size must be at least 1, got %d", c.Engine.LotSize)
	}
	if c.Engine.Method != "flat" && c.Engine.Method != "score" {
		return fmt.Errorf("method must be \"flat\" or \"score\", got %q", c.Engine.Method)
	}
	if c.Engine.TotalCash < 0 {
		return fmt.Errorf("total_cash must be non-negative, got %g", c.Engine.TotalCash)
	}
	if c.Engine.OpenCost < 0 || c.Engine.CloseCost < 0 || c.Engine.MinCost < 0 {
		return fmt.Errorf("cost model rates must be non-negative")
	}
	if c.Protocol.PollSecs <= 0 || c.Protocol.WaitSecs <= 0 {
		return fmt.Errorf("protocol poll_secs and wait_secs must be positive")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
