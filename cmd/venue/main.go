// Command venue runs the execution-venue adapter. It polls the shared
// state record and serves the counterpart's requests: exporting holdings,
// exporting quotes, and submitting orders.
//
// The adapter ships with a CSV-backed simulated venue; a real broker
// integration implements services.VenueClient in its place.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/zxnxzf/rebalancer/internal/clients/simulated"
	"github.com/zxnxzf/rebalancer/internal/config"
	"github.com/zxnxzf/rebalancer/internal/metrics"
	"github.com/zxnxzf/rebalancer/internal/modules/exchange"
	"github.com/zxnxzf/rebalancer/internal/modules/handshake"
	"github.com/zxnxzf/rebalancer/internal/services"
	"github.com/zxnxzf/rebalancer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to external JSON config (embedded defaults otherwise)")
	bookPath := flag.String("book", "", "simulated account book CSV (defaults to <data-dir>/book.csv)")
	marketPath := flag.String("market", "", "simulated quote board CSV (defaults to <data-dir>/market.csv)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info"})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().Str("exchange_dir", cfg.ExchangeDir).Msg("Starting venue adapter process")

	if *bookPath == "" {
		*bookPath = filepath.Join(cfg.DataDir, "book.csv")
	}
	if *marketPath == "" {
		*marketPath = filepath.Join(cfg.DataDir, "market.csv")
	}

	client, err := simulated.New(*bookPath, *marketPath, filepath.Join(cfg.DataDir, "fills.csv"), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulated venue")
	}

	store := handshake.NewStore(filepath.Join(cfg.ExchangeDir, exchange.StateFile), log)
	venue := services.NewVenueService(store, client, metrics.New(),
		cfg.Venue, cfg.Engine.LotSize, cfg.ExchangeDir, log)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	if err := venue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Venue adapter failed")
		os.Exit(1)
	}
}
