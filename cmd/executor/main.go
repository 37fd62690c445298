// Executor process
// Runs one ExecutorAccount identity (STANDARD or PROP_FIRM): subscribes
// to its distributed signal subject, turns admitted signals into broker
// orders through the pre-trade risk gate, and reconciles closed
// positions back onto their originating signals.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/signalpipe/signalpipe/internal/db"
	"github.com/signalpipe/signalpipe/internal/distributor"
	"github.com/signalpipe/signalpipe/internal/executor"
	"github.com/signalpipe/signalpipe/internal/risk"
)

var (
	executorID = flag.String("executor-id", "", "ExecutorAccount.executor_id this process serves (required)")

	natsURL       = flag.String("nats-url", nats.DefaultURL, "NATS server URL (env NATS_URL also read)")
	subjectPrefix = flag.String("subject-prefix", "signals.", "Must match the subject prefix the distributor publishes under (\"signals.\" by default)")

	liveTrading = flag.Bool("live", false, "Use the live Binance broker instead of the simulator")
	testnet     = flag.Bool("testnet", true, "Use Binance's testnet endpoint when -live is set")
	apiKey      = flag.String("binance-api-key", "", "Binance API key (env BINANCE_API_KEY also read)")
	secretKey   = flag.String("binance-secret-key", "", "Binance secret key (env BINANCE_SECRET_KEY also read)")

	minNotionalUSD = flag.Float64("min-notional-usd", 10.0, "Orders sized below this are skipped rather than rounded to zero")
	snapshotTTL    = flag.Duration("snapshot-ttl", 15*time.Second, "How long a risk-guard account snapshot is trusted before Allow refuses the trade")
	monitorInterval = flag.Duration("monitor-interval", 5*time.Second, "Risk guard periodic refresh cadence (spec default)")
	reconcileInterval = flag.Duration("reconcile-interval", 30*time.Second, "How often closed positions are reconciled back onto their signals")

	verbose = flag.Bool("verbose", false, "Enable debug logging")
)

// brokerAccountReader adapts executor.Broker's richer AccountState into
// the narrower (equityUSD, readable, err) shape risk.AccountReader
// needs — risk cannot import executor directly (would cycle back
// through executor.RiskGate), so this thin bridge lives in the binary
// that wires both together instead.
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
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if *executorID == "" {
		fmt.Fprintln(os.Stderr, "Error: -executor-id is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	broker := buildBroker()

	guard := risk.NewGuard(database, *snapshotTTL)
	guard.RegisterAccountReader(*executorID, brokerAccountReader{broker: broker})
	go guard.Monitor(ctx, *monitorInterval)

	ex := executor.New(database, *executorID, broker, guard, executor.Config{MinNotionalUSD: *minNotionalUSD})
	if err := ex.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to load open positions")
	}

	lastPrice := func(symbol string) (float64, bool) { return 0, false }
	reconciler := executor.NewReconciler(database, ex, *reconcileInterval, lastPrice)
	go reconciler.Run(ctx)

	url := *natsURL
	if v := os.Getenv("NATS_URL"); v != "" {
		url = v
	}
	nc, err := nats.Connect(url)
	if err != nil {
		log.Fatal().Err(err).Str("url", url).Msg("failed to connect to NATS")
	}
	defer nc.Close()

	subject := *subjectPrefix + *executorID
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		handleEnvelope(ctx, database, ex, msg.Data)
	})
	if err != nil {
		log.Fatal().Err(err).Str("subject", subject).Msg("failed to subscribe")
	}
	defer sub.Unsubscribe()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Str("executor_id", *executorID).Str("subject", subject).Bool("live", *liveTrading).Msg("executor: started")

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("executor: received shutdown signal")
	cancel()
}

func buildBroker() executor.Broker {
	if !*liveTrading {
		return executor.NewSimulatedBroker()
	}

	key := *apiKey
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		key = v
	}
	secret := *secretKey
	if v := os.Getenv("BINANCE_SECRET_KEY"); v != "" {
		secret = v
	}
	return executor.NewBinanceBroker(executor.BinanceConfig{APIKey: key, SecretKey: secret, Testnet: *testnet})
}

func handleEnvelope(ctx context.Context, database *db.DB, ex *executor.Executor, data []byte) {
	var env distributor.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Msg("executor: failed to decode envelope")
		return
	}

	account, err := database.GetExecutorAccount(ctx, env.ExecutorID)
	if err != nil {
		log.Error().Err(err).Str("executor_id", env.ExecutorID).Msg("executor: failed to load account")
		return
	}

	order, err := ex.Execute(ctx, account, env.Signal)
	switch {
	case err == nil:
		log.Info().Str("signal_id", string(env.Signal.SignalID)).Str("order_id", order.OrderID).Str("status", string(order.Status)).Msg("executor: order placed")
	case errors.Is(err, executor.ErrSkipped):
		log.Debug().Str("signal_id", string(env.Signal.SignalID)).Err(err).Msg("executor: signal skipped")
	default:
		log.Error().Str("signal_id", string(env.Signal.SignalID)).Err(err).Msg("executor: execution failed")
	}
}
