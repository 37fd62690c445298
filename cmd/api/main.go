// API process
// Serves spec.md §6's HTTP surface: health/readiness, the signal read
// endpoints, and the manual trading-control endpoints, plus a websocket
// endpoint (GET /api/signals/stream) that subscribers can connect to;
// nothing in this process publishes messages to its Hub. It
// wires its own Executor per configured ExecutorAccount and a shared
// Guard exactly the way cmd/executor/cmd/riskguard do, so a manual
// POST /api/v1/trading/execute call goes through the same idempotence,
// sizing, and risk-gate path a NATS-delivered signal would.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/signalpipe/signalpipe/internal/alerts"
	"github.com/signalpipe/signalpipe/internal/api"
	"github.com/signalpipe/signalpipe/internal/audit"
	"github.com/signalpipe/signalpipe/internal/backtest"
	"github.com/signalpipe/signalpipe/internal/config"
	"github.com/signalpipe/signalpipe/internal/consensus"
	"github.com/signalpipe/signalpipe/internal/db"
	"github.com/signalpipe/signalpipe/internal/executor"
	"github.com/signalpipe/signalpipe/internal/regime"
	"github.com/signalpipe/signalpipe/internal/risk"
)

// brokerAccountReader adapts executor.Broker's richer AccountState into
// risk.AccountReader's narrower shape — the same bridge cmd/executor
// uses, duplicated here because risk cannot import executor (would
// cycle back through executor.RiskGate) and this binary wires both.
type brokerAccountReader struct {
	broker executor.Broker
}

func (b brokerAccountReader) AccountState(ctx context.Context) (float64, bool, error) {
	state, err := b.broker.AccountState(ctx)
	if err != nil {
		return 0, false, err
	}
	return state.EquityUSD, state.Readable, nil
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal().Err(err).Msg("api: failed to load or validate configuration")
	}

	if cfg.App.LogLevel != "" {
		if lvl, err := zerolog.ParseLevel(cfg.App.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("api: failed to connect to database")
	}
	defer database.Close()

	snapshotTTL := cfg.Risk.SnapshotTTL
	if snapshotTTL <= 0 {
		snapshotTTL = 15 * time.Second
	}
	monitorInterval := cfg.Risk.MonitorInterval
	if monitorInterval <= 0 {
		monitorInterval = 5 * time.Second
	}

	guard := risk.NewGuard(database, snapshotTTL)
	guard.SetAlerter(alerts.NewManagerFromTelegram(cfg.Alerts.TelegramBotToken, cfg.Alerts.TelegramChatIDs))
	executors := buildExecutors(ctx, database, guard, cfg)
	go guard.Monitor(ctx, monitorInterval)

	runner := backtest.NewRunner(database, consensus.Config{
		StockWeights:    cfg.Consensus.StockWeights,
		CryptoWeights:   cfg.Consensus.CryptoWeights,
		TargetMultiple:  cfg.Consensus.TargetMultiple,
		StopMultiple:    cfg.Consensus.StopMultiple,
		StrategyVersion: cfg.Consensus.StrategyVersion,
	}, regime.Config{
		ShortWindow:               cfg.Regime.ShortWindow,
		LongWindow:                cfg.Regime.LongWindow,
		BullBearMATrendThreshold:  cfg.Regime.BullBearMATrendThreshold,
		CrisisVolatilityThreshold: cfg.Regime.CrisisVolatilityThreshold,
		CrisisDrawdownThreshold:   cfg.Regime.CrisisDrawdownThreshold,
	}, cfg.Backtest.ReportDir, log.Logger)

	authConfig := &api.AuthConfig{
		Enabled:      cfg.App.Environment == "production",
		HeaderName:   "X-API-Key",
		RequireHTTPS: cfg.App.Environment == "production",
	}

	server := api.NewServer(api.Config{
		Host:       cfg.API.Host,
		Port:       cfg.API.Port,
		DB:         database,
		Guard:      guard,
		Executors:  executors,
		Backtest:   runner,
		Version:    cfg.App.Version,
		Pool:       database.Pool(),
		AuthConfig: authConfig,
	})

	wireOperationalMiddleware(server, database, cfg)
	hub := wireSignalStream(server, cfg)
	go hub.Run()

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("api: server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Int("port", cfg.API.Port).Int("executors", len(executors)).Msg("api: started")

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("api: received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api: error during shutdown")
	}
	cancel()
}

// buildExecutors constructs one Executor per configured ExecutorAccount,
// registering each with guard so the periodic monitor pass and the
// synchronous Allow gate both see a reader, and loads each executor's
// open positions before accepting requests.
func buildExecutors(ctx context.Context, database *db.DB, guard *risk.Guard, cfg *config.Config) map[string]*executor.Executor {
	executors := make(map[string]*executor.Executor, len(cfg.Executors))

	for executorID, execCfg := range cfg.Executors {
		broker := buildBroker(execCfg)
		guard.RegisterAccountReader(executorID, brokerAccountReader{broker: broker})

		ex := executor.New(database, executorID, broker, guard, executor.Config{MinNotionalUSD: 10.0})
		if err := ex.Start(ctx); err != nil {
			log.Error().Err(err).Str("executor_id", executorID).Msg("api: failed to load open positions, continuing with an empty book")
		}
		executors[executorID] = ex
	}

	return executors
}

func buildBroker(execCfg config.ExecutorConfig) executor.Broker {
	if execCfg.BrokerName != "binance" || execCfg.APIKey == "" || execCfg.SecretKey == "" {
		return executor.NewSimulatedBroker()
	}
	return executor.NewBinanceBroker(executor.BinanceConfig{
		APIKey:    execCfg.APIKey,
		SecretKey: execCfg.SecretKey,
		Testnet:   execCfg.Testnet,
	})
}

// wireOperationalMiddleware attaches the audit log and the tiered rate
// limiter to the server's router, on top of the recovery/CORS/logging
// middleware NewServer already installed.
func wireOperationalMiddleware(server *api.Server, database *db.DB, cfg *config.Config) {
	router := server.Router()

	auditLogger := audit.NewLogger(database.Pool(), true)
	router.Use(AuditLoggingMiddleware(auditLogger))

	rateLimiter := NewRateLimiterMiddleware(DefaultRateLimiterConfig())
	rateLimiter.StartCleanupWorker(5 * time.Minute)
	router.Use(rateLimiter.GlobalMiddleware())
}

// wireSignalStream registers GET /api/signals/stream behind the same
// bearer auth every other non-health route uses, and returns the Hub so
// main can start its broadcast loop.
func wireSignalStream(server *api.Server, cfg *config.Config) *Hub {
	hub := NewHub()

	allowedOrigins := cfg.API.AllowedOrigins
	isProduction := cfg.App.Environment == "production"
	warnInsecureOrigins(allowedOrigins, isProduction)
	upgrader := newUpgrader(allowedOrigins, isProduction)

	router := server.Router()
	router.GET("/api/signals/stream", server.StreamAuthMiddleware(), serveWs(hub, upgrader))

	return hub
}
