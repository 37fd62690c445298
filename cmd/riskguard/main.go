// Risk Guard monitor
// Centralizes the periodic drawdown/daily-loss enforcement pass across
// every ExecutorAccount so a breach gets latched to Postgres even when
// the account's own executor process is down or its in-process monitor
// has stalled — SetPaused is durable and Allow always re-reads
// account.Paused fresh, so this process and each executor's own embedded
// Guard.Monitor are redundant by design, not exclusive.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/signalpipe/signalpipe/internal/alerts"
	"github.com/signalpipe/signalpipe/internal/db"
	"github.com/signalpipe/signalpipe/internal/executor"
	"github.com/signalpipe/signalpipe/internal/risk"
)

var (
	monitorInterval = flag.Duration("monitor-interval", 30*time.Second, "How often every executor account's snapshot is refreshed and its limits re-evaluated")
	snapshotTTL     = flag.Duration("snapshot-ttl", time.Minute, "Snapshot freshness window (irrelevant to this process's own enforcement, only sizes its Guard's synchronous-path cache)")
	refreshAccounts = flag.Duration("account-refresh-interval", 2*time.Minute, "How often the account roster is re-read for newly added executors")
	verbose         = flag.Bool("verbose", false, "Enable debug logging")

	telegramBotToken = flag.String("telegram-bot-token", "", "Telegram bot token for pause/near-limit alerts (disabled if empty)")
	telegramChatID   = flag.Int64("telegram-chat-id", 0, "Telegram chat ID to notify (ignored if -telegram-bot-token is empty)")
)

// simulatedAccountReader adapts SimulatedBroker's AccountState into
// risk.AccountReader's narrower shape, same bridge cmd/executor uses for
// its live broker.
type simulatedAccountReader struct {
	broker *executor.SimulatedBroker
}

func (r simulatedAccountReader) AccountState(ctx context.Context) (float64, bool, error) {
	state, err := r.broker.AccountState(ctx)
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	guard := risk.NewGuard(database, *snapshotTTL)
	var chatIDs []int64
	if *telegramChatID != 0 {
		chatIDs = []int64{*telegramChatID}
	}
	guard.SetAlerter(alerts.NewManagerFromTelegram(*telegramBotToken, chatIDs))

	if err := registerAccounts(ctx, database, guard); err != nil {
		log.Fatal().Err(err).Msg("failed to load executor accounts")
	}

	go guard.Monitor(ctx, *monitorInterval)
	go rosterRefresher(ctx, database, guard, *refreshAccounts)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Dur("monitor_interval", *monitorInterval).Msg("riskguard: started")

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("riskguard: received shutdown signal")
	cancel()
}

// registerAccounts wires a reader for every known executor so Monitor
// has something to refresh. This process never places orders, so a
// SimulatedBroker's always-readable, bottomless AccountState stands in
// for the real broker connection: enforcement here runs off the
// realized-PnL equity curve in Postgres, not live broker equity.
func registerAccounts(ctx context.Context, database *db.DB, guard *risk.Guard) error {
	accounts, err := database.ListExecutorAccounts(ctx)
	if err != nil {
		return err
	}
	for _, account := range accounts {
		guard.RegisterAccountReader(account.ExecutorID, simulatedAccountReader{broker: executor.NewSimulatedBroker()})
	}
	log.Info().Int("accounts", len(accounts)).Msg("riskguard: registered accounts")
	return nil
}

// rosterRefresher periodically re-registers the account list so an
// executor added after startup is picked up without a restart.
func rosterRefresher(ctx context.Context, database *db.DB, guard *risk.Guard, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := registerAccounts(ctx, database, guard); err != nil {
				log.Error().Err(err).Msg("riskguard: failed to refresh account roster")
			}
		case <-ctx.Done():
			return
		}
	}
}
