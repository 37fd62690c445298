// Package generation implements the Signal Generation Service: it drives
// one consensus-build cycle per symbol on a fixed interval, fanning out
// to every registered adapter within a hard per-cycle deadline, and
// stores whatever the Weighted Consensus Engine decides to emit.
//
// Grounded on internal/agents/base.go + heartbeat.go's per-symbol
// StepInterval loop and start/stop lifecycle, generalized from one agent
// process per symbol into a single scheduler driving N symbol cycles
// concurrently with golang.org/x/sync/errgroup.
package generation

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rs/zerolog"

	"github.com/signalpipe/signalpipe/internal/adapters"
	"github.com/signalpipe/signalpipe/internal/consensus"
	"github.com/signalpipe/signalpipe/internal/metrics"
	"github.com/signalpipe/signalpipe/internal/model"
	"github.com/signalpipe/signalpipe/internal/regime"
)

// SignalStore is the subset of internal/db.DB the scheduler needs to
// persist an emitted signal — the Unified Signal Store's put operation.
type SignalStore interface {
	PutSignal(ctx context.Context, s model.Signal) (model.SignalID, error)
}

// RegimeEstimator reports the given symbol's current regime classification
// and volatility estimate, both recomputed from the same rolling close
// window the Scheduler feeds to its adapters.
type RegimeEstimator interface {
	Update(closes []float64, now time.Time) model.Regime
	Current() model.Regime
}

// Config controls the scheduler's cadence and fan-out bounds.
type Config struct {
	// CycleInterval is how often each symbol is re-evaluated.
	CycleInterval time.Duration
	// CycleDeadline bounds a single symbol's cycle — spec.md §5 "orphaned
	// adapter requests must not block the next cycle."
	CycleDeadline time.Duration
	// MaxConcurrentSymbols bounds how many symbol cycles run at once.
	MaxConcurrentSymbols int
}

func DefaultConfig() Config {
	return Config{
		CycleInterval:        30 * time.Second,
		CycleDeadline:        10 * time.Second,
		MaxConcurrentSymbols: 8,
	}
}

// symbolState is the scheduler's per-symbol serialization: a single
// goroutine-owner lock ensures cycles for one symbol never overlap, per
// spec.md's ordering requirement, even if a prior cycle overruns its
// deadline.
type symbolState struct {
	mu       sync.Mutex
	detector RegimeEstimator
	history  *adapters.PriceHistory
}

// Scheduler owns the generation loop for a fixed set of symbols.
type Scheduler struct {
	symbols []model.Symbol
	engine  *consensus.Engine
	store   SignalStore
	adaptrs []adapters.Adapter
	history *adapters.PriceHistory
	cfg     Config
	log     zerolog.Logger

	states map[string]*symbolState

	stopOnce sync.Once
	stopChan chan struct{}
}

// New builds a Scheduler. history is shared with every adapter that
// needs the same rolling close-price window (market data + technical).
func New(symbols []model.Symbol, engine *consensus.Engine, store SignalStore, adaptrs []adapters.Adapter, history *adapters.PriceHistory, regimeCfg regime.Config, cfg Config, log zerolog.Logger) *Scheduler {
	states := make(map[string]*symbolState, len(symbols))
	for _, sym := range symbols {
		states[sym.String()] = &symbolState{
			detector: regime.New(sym, regimeCfg, log),
			history:  history,
		}
	}

	return &Scheduler{
		symbols:  symbols,
		engine:   engine,
		store:    store,
		adaptrs:  adaptrs,
		history:  history,
		cfg:      cfg,
		log:      log.With().Str("component", "generation").Logger(),
		states:   states,
		stopChan: make(chan struct{}),
	}
}

// Run blocks, driving cycles until ctx is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runCycle(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the Run loop.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *Scheduler) runCycle(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrentSymbols)

	for _, sym := range s.symbols {
		sym := sym
		g.Go(func() error {
			s.runSymbolCycle(gctx, sym)
			return nil
		})
	}

	// errgroup.Wait only ever returns nil here since runSymbolCycle
	// never returns an error — every failure mode resolves to "no
	// signal this cycle," logged, never propagated as a cycle failure.
	_ = g.Wait()
}

func (s *Scheduler) runSymbolCycle(ctx context.Context, symbol model.Symbol) {
	state := s.states[symbol.String()]
	if !state.mu.TryLock() {
		// previous cycle for this symbol is still running past its
		// deadline; skip rather than queue up overlapping cycles.
		s.log.Warn().Str("symbol", symbol.Ticker).Msg("generation: skipping overlapping cycle")
		return
	}
	defer state.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CycleDeadline)
	defer cancel()

	start := time.Now()
	now := start

	opinions := s.collectOpinions(cctx, symbol, now)

	closes := state.history.Snapshot(symbol)
	regimeState := state.detector.Update(closes, now)

	result := s.engine.Build(symbol, opinions, regimeState, now)
	metrics.AgentProcessingDuration.WithLabelValues("generation").Observe(float64(time.Since(start).Milliseconds()))
	if !result.Emit {
		metrics.AgentSignalsByStatus.WithLabelValues("no_emit").Inc()
		return
	}

	metrics.AgentSignals.WithLabelValues("consensus", string(result.Signal.Action)).Inc()
	metrics.AgentSignalConfidence.WithLabelValues("consensus").Set(result.Signal.Confidence)

	if _, err := s.store.PutSignal(cctx, result.Signal); err != nil {
		metrics.AgentSignalsByStatus.WithLabelValues("store_failed").Inc()
		s.log.Error().Err(err).Str("symbol", symbol.Ticker).Msg("generation: failed to store signal")
		return
	}
	metrics.AgentSignalsByStatus.WithLabelValues("stored").Inc()
}

// collectOpinions fans every adapter out concurrently, bounded by cctx's
// deadline; an adapter that doesn't answer in time is simply absent from
// the cycle's active sources, never blocks the others.
func (s *Scheduler) collectOpinions(ctx context.Context, symbol model.Symbol, now time.Time) []model.SourceOpinion {
	opinions := make([]model.SourceOpinion, len(s.adaptrs))

	var wg sync.WaitGroup
	for i, a := range s.adaptrs {
		i, a := i, a
		wg.Add(1)
		go func() {
			defer wg.Done()
			opinions[i] = a.Opinion(ctx, symbol, now)
		}()
	}
	wg.Wait()

	return opinions
}
