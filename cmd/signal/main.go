// Command signal runs the signal-side rebalancing process. By default it
// executes a single cycle and exits 0 only on exec_done; with --daemon it
// schedules one cycle per trading day and serves the ops HTTP API.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/zxnxzf/rebalancer/internal/config"
	"github.com/zxnxzf/rebalancer/internal/database"
	"github.com/zxnxzf/rebalancer/internal/metrics"
	"github.com/zxnxzf/rebalancer/internal/modules/exchange"
	"github.com/zxnxzf/rebalancer/internal/modules/handshake"
	"github.com/zxnxzf/rebalancer/internal/modules/history"
	"github.com/zxnxzf/rebalancer/internal/modules/turnover"
	"github.com/zxnxzf/rebalancer/internal/scheduler"
	"github.com/zxnxzf/rebalancer/internal/server"
	"github.com/zxnxzf/rebalancer/internal/services"
	"github.com/zxnxzf/rebalancer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to external JSON config (embedded defaults otherwise)")
	daemon := flag.Bool("daemon", false, "run on the cron schedule with the ops HTTP server")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info"})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().Str("exchange_dir", cfg.ExchangeDir).Msg("Starting rebalancer signal process")

	historyDB, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "history.db"),
		Name: "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer historyDB.Close()

	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Name:    "ledger",
		Profile: database.ProfileLedger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	for _, db := range []*database.DB{historyDB, ledgerDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	store := handshake.NewStore(filepath.Join(cfg.ExchangeDir, exchange.StateFile), log)
	waiter := handshake.NewWaiter(store,
		time.Duration(cfg.Protocol.PollSecs)*time.Second,
		time.Duration(cfg.Protocol.WaitSecs)*time.Second,
		log)

	historyRepo := history.NewRepository(historyDB.Conn(), log)
	ledgerRepo := turnover.NewLedgerRepository(ledgerDB.Conn(), log)
	controller := turnover.NewController(ledgerRepo,
		cfg.Engine.TopK, cfg.Engine.DropoutRate, cfg.Engine.HoldThresh, log)

	m := metrics.New()
	cycle := services.NewCycleService(store, waiter, historyRepo, ledgerRepo, controller,
		m, cfg.Engine, cfg.ExchangeDir, log)

	if !*daemon {
		if _, err := cycle.Run(context.Background()); err != nil {
			log.Error().Err(err).Msg("Cycle failed")
			os.Exit(1)
		}
		return
	}

	runDaemon(cfg, store, cycle, m, log)
}

// cycleJob adapts the cycle service to the scheduler and publishes each
// result to the ops API.
type cycleJob struct {
	cycle *services.CycleService
	srv   *server.Server
}

func (j *cycleJob) Name() string { return "rebalancing_cycle" }

func (j *cycleJob) Run() error {
	stats, err := j.cycle.Run(context.Background())
	j.srv.SetLastStats(stats)
	return err
}

func runDaemon(cfg *config.Config, store *handshake.Store, cycle *services.CycleService, m *metrics.Registry, log zerolog.Logger) {
	srv := server.New(server.Config{
		Port:    cfg.Port,
		Log:     log,
		Store:   store,
		Metrics: m,
	})

	sched := scheduler.New(log)
	if err := sched.AddJob(cfg.Engine.Schedule, &cycleJob{cycle: cycle, srv: srv}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register cycle job")
	}
	sched.Start()
	defer sched.Stop()

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Str("schedule", cfg.Engine.Schedule).Msg("Daemon started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
}
