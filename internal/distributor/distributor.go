// Package distributor implements the Signal Distributor: it subscribes to
// the Unified Signal Store's ordered stream and fans each new Signal out
// to every admitted executor over NATS, applying per-executor admission
// filters and backpressure.
//
// Grounded on internal/orchestrator/messagebus.go (NATS publish/subscribe,
// AgentMessage envelope shape) for the transport, and blackboard.go
// (Redis-backed shared state) for the per-executor cursor cache — Postgres
// (internal/db's GetCursor/SetCursor) remains the durable cursor, Redis
// only caches the last-acked signal_id so a reconnecting executor resumes
// without a round trip to the store on the hot path.
package distributor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/signalpipe/signalpipe/internal/metrics"
	"github.com/signalpipe/signalpipe/internal/model"
)

// SignalStream is the subset of internal/db.DB the distributor polls —
// the store's get_since subscription surface (spec.md §4.4).
type SignalStream interface {
	GetSince(ctx context.Context, symbol model.Symbol, cursor model.SignalID, limit int) ([]model.Signal, error)
	GetCursor(ctx context.Context, executorID string) (model.SignalID, error)
	SetCursor(ctx context.Context, executorID string, cursor model.SignalID) error
}

// ExecutorDirectory resolves the live roster of executor accounts the
// distributor must fan signals out to, including each one's admission
// filters and paused state.
type ExecutorDirectory interface {
	ListExecutorAccounts(ctx context.Context) ([]model.ExecutorAccount, error)
}

// Envelope is the wire shape published to each executor's subject,
// generalized from orchestrator.AgentMessage: a thin routing header around
// the Signal payload rather than the teacher's generic multi-purpose
// message.
type Envelope struct {
	ExecutorID string      `json:"executor_id"`
	Signal      model.Signal `json:"signal"`
	DeliveredAt time.Time   `json:"delivered_at"`
}

// Config controls the distributor's poll cadence and per-executor
// backpressure bound.
type Config struct {
	// PollInterval is how often the store is re-polled for each symbol's
	// new signals.
	PollInterval time.Duration
	// PageSize bounds how many signals are pulled from get_since per poll.
	PageSize int
	// ExecutorQueueDepth bounds the per-executor delivery channel —
	// spec.md §5's backpressure requirement.
	ExecutorQueueDepth int
	// SubjectPrefix namespaces the NATS subjects this distributor
	// publishes on, mirroring messagebus.go's Prefix field.
	SubjectPrefix string
	// CursorCacheTTL bounds how long the Redis-cached cursor is trusted
	// before falling back to Postgres.
	CursorCacheTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:       2 * time.Second,
		PageSize:           200,
		ExecutorQueueDepth: 64,
		SubjectPrefix:      "signals.",
		CursorCacheTTL:     30 * time.Second,
	}
}

// Distributor fans stored signals out to executor subjects over NATS,
// one bounded channel worth of backpressure per executor.
type Distributor struct {
	store   SignalStream
	dir     ExecutorDirectory
	nc      *nats.Conn
	redis   *redis.Client
	symbols []model.Symbol
	cfg     Config
	log     zerolog.Logger

	mu     sync.Mutex
	queues map[string]chan Envelope
}

func New(store SignalStream, dir ExecutorDirectory, nc *nats.Conn, redisClient *redis.Client, symbols []model.Symbol, cfg Config, log zerolog.Logger) *Distributor {
	return &Distributor{
		store:   store,
		dir:     dir,
		nc:      nc,
		redis:   redisClient,
		symbols: symbols,
		cfg:     cfg,
		log:     log.With().Str("component", "distributor").Logger(),
		queues:  make(map[string]chan Envelope),
	}
}

// Run polls the store on cfg.PollInterval until ctx is cancelled, publishing
// newly admitted signals to each eligible executor's subject.
func (d *Distributor) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.pollOnce(ctx); err != nil {
				d.log.Error().Err(err).Msg("distributor: poll cycle failed")
			}
		}
	}
}

// queueFor returns executorID's bounded delivery channel, starting its
// drain worker the first time the executor is seen. The worker keeps
// running for the lifetime of ctx, so a slow executor's backlog keeps
// draining between poll cycles instead of only while deliverSymbol is on
// the stack.
func (d *Distributor) queueFor(ctx context.Context, executorID string) chan Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()

	queue, ok := d.queues[executorID]
	if !ok {
		queue = make(chan Envelope, d.cfg.ExecutorQueueDepth)
		d.queues[executorID] = queue
		go d.drain(ctx, executorID, queue)
	}
	return queue
}

// drain is the one worker per executor that actually publishes to NATS,
// decoupling the executor's subject from however slow that publish is.
func (d *Distributor) drain(ctx context.Context, executorID string, queue chan Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case envelope := <-queue:
			if err := d.publish(envelope); err != nil {
				d.log.Error().Err(err).Str("executor", executorID).Str("signal_id", string(envelope.Signal.SignalID)).Msg("distributor: async publish failed")
			}
		}
	}
}

func (d *Distributor) pollOnce(ctx context.Context) error {
	executors, err := d.dir.ListExecutorAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list executor accounts: %w", err)
	}

	for _, exec := range executors {
		if exec.Paused {
			continue
		}
		for _, symbol := range d.symbolsFor(exec) {
			if err := d.deliverSymbol(ctx, exec, symbol); err != nil {
				d.log.Error().Err(err).Str("executor", exec.ExecutorID).Str("symbol", symbol.Ticker).Msg("distributor: delivery failed")
			}
		}
	}
	return nil
}

// symbolsFor intersects the distributor's tracked symbols with the
// executor's configured allow-list; an empty allow-list permits every
// tracked symbol.
func (d *Distributor) symbolsFor(exec model.ExecutorAccount) []model.Symbol {
	if len(exec.SymbolAllowlist) == 0 {
		return d.symbols
	}
	allowed := make(map[string]bool, len(exec.SymbolAllowlist))
	for _, t := range exec.SymbolAllowlist {
		allowed[t] = true
	}
	var out []model.Symbol
	for _, s := range d.symbols {
		if allowed[s.Ticker] {
			out = append(out, s)
		}
	}
	return out
}

func (d *Distributor) deliverSymbol(ctx context.Context, exec model.ExecutorAccount, symbol model.Symbol) error {
	cursor, err := d.cursorFor(ctx, exec.ExecutorID)
	if err != nil {
		return fmt.Errorf("resolve cursor: %w", err)
	}

	signals, err := d.store.GetSince(ctx, symbol, cursor, d.cfg.PageSize)
	if err != nil {
		return fmt.Errorf("get_since: %w", err)
	}

	queue := d.queueFor(ctx, exec.ExecutorID)

	var lastDelivered model.SignalID
	for _, sig := range signals {
		if !admits(exec, sig) {
			continue
		}

		envelope := Envelope{ExecutorID: exec.ExecutorID, Signal: sig, DeliveredAt: time.Now()}
		select {
		case queue <- envelope:
			lastDelivered = sig.SignalID
		default:
			// Backpressure (spec.md §5): the executor's bounded channel is
			// full, meaning its drain worker is behind. Stop advancing this
			// executor's cursor here — everything already enqueued still
			// drains in the background — and let other executors continue
			// unaffected; the next poll resumes this executor from the same
			// cursor once the backlog has room again.
			d.log.Warn().Str("executor", exec.ExecutorID).Str("symbol", symbol.Ticker).Int("queue_depth", d.cfg.ExecutorQueueDepth).Msg("distributor: executor queue full, applying backpressure")
			if lastDelivered != "" {
				return d.advanceCursor(ctx, exec.ExecutorID, lastDelivered)
			}
			return nil
		}
	}

	if lastDelivered != "" {
		return d.advanceCursor(ctx, exec.ExecutorID, lastDelivered)
	}
	return nil
}

// admits applies spec.md §4.6's per-executor admission filters.
func admits(exec model.ExecutorAccount, sig model.Signal) bool {
	return sig.Confidence >= exec.MinConfidence
}

func (d *Distributor) publish(envelope Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := d.cfg.SubjectPrefix + envelope.ExecutorID
	// At-least-once delivery (spec.md §4.6): the executor deduplicates on
	// signal_id, so a publish retried after an ambiguous NATS error is safe.
	if err := d.nc.Publish(subject, data); err != nil {
		return err
	}
	metrics.NATSMessagesPublished.Inc()
	return nil
}

func (d *Distributor) cursorFor(ctx context.Context, executorID string) (model.SignalID, error) {
	if d.redis != nil {
		cached, err := d.redis.Get(ctx, d.cursorKey(executorID)).Result()
		if err == nil {
			return model.SignalID(cached), nil
		}
		if err != redis.Nil {
			d.log.Warn().Err(err).Str("executor", executorID).Msg("distributor: redis cursor read failed, falling back to store")
		}
	}
	return d.store.GetCursor(ctx, executorID)
}

func (d *Distributor) advanceCursor(ctx context.Context, executorID string, cursor model.SignalID) error {
	if err := d.store.SetCursor(ctx, executorID, cursor); err != nil {
		return fmt.Errorf("persist cursor: %w", err)
	}
	if d.redis != nil {
		if err := d.redis.Set(ctx, d.cursorKey(executorID), string(cursor), d.cfg.CursorCacheTTL).Err(); err != nil {
			d.log.Warn().Err(err).Str("executor", executorID).Msg("distributor: redis cursor cache write failed")
		}
	}
	return nil
}

func (d *Distributor) cursorKey(executorID string) string {
	return fmt.Sprintf("distributor:cursor:%s", executorID)
}
