// Signal Distributor
// Polls the Unified Signal Store for each tracked symbol and fans newly
// admitted signals out to every executor account over NATS.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/signalpipe/signalpipe/internal/db"
	"github.com/signalpipe/signalpipe/internal/distributor"
	"github.com/signalpipe/signalpipe/internal/model"
)

var (
	symbolsFlag  = flag.String("symbols", "BTC:CRYPTO,ETH:CRYPTO", "Comma-separated ticker:class pairs this distributor tracks")
	natsURL      = flag.String("nats-url", nats.DefaultURL, "NATS server URL (env NATS_URL also read)")
	redisAddr    = flag.String("redis-addr", "localhost:6379", "Redis address for the cursor cache (env REDIS_ADDR also read)")
	pollInterval = flag.Duration("poll-interval", 2*time.Second, "How often each symbol is re-polled")
	pageSize     = flag.Int("page-size", 200, "Max signals pulled from get_since per poll")
	queueDepth   = flag.Int("executor-queue-depth", 64, "Per-executor delivery backpressure bound")
	verbose      = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	symbols, err := parseSymbols(*symbolsFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -symbols")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	url := *natsURL
	if v := os.Getenv("NATS_URL"); v != "" {
		url = v
	}
	nc, err := nats.Connect(url)
	if err != nil {
		log.Fatal().Err(err).Str("url", url).Msg("failed to connect to NATS")
	}
	defer nc.Close()

	addr := *redisAddr
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		addr = v
	}
	redisClient := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatal().Err(err).Str("addr", addr).Msg("failed to connect to Redis")
	}
	pingCancel()
	defer redisClient.Close()

	cfg := distributor.DefaultConfig()
	cfg.PollInterval = *pollInterval
	cfg.PageSize = *pageSize
	cfg.ExecutorQueueDepth = *queueDepth

	d := distributor.New(database, database, nc, redisClient, symbols, cfg, log.Logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Run(ctx)
	}()

	log.Info().Int("symbols", len(symbols)).Str("nats_url", url).Msg("distributor: started")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("distributor: received shutdown signal")
	case err := <-errChan:
		if err != nil {
			log.Error().Err(err).Msg("distributor: run loop exited")
		}
	}

	cancel()
}

func parseSymbols(raw string) ([]model.Symbol, error) {
	parts := strings.Split(raw, ",")
	symbols := make([]model.Symbol, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		fields := strings.SplitN(p, ":", 2)
		class := model.SymbolCrypto
		ticker := p
		if len(fields) == 2 {
			ticker = fields[0]
			class = model.SymbolClass(strings.ToUpper(fields[1]))
		}
		symbols = append(symbols, model.Symbol{Ticker: strings.ToUpper(ticker), Class: class})
	}
	return symbols, nil
}
