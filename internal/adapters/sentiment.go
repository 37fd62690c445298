package adapters

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/rs/zerolog"

	"github.com/signalpipe/signalpipe/internal/model"
)

// Article is one scored news item, grounded on
// cmd/agents/sentiment-agent/main.go's Article shape, stripped of its
// BDI/NATS fields — Score is -1 (very negative) to +1 (very positive).
type Article struct {
	Score      float64
	Confidence float64
}

// NewsSource supplies recent scored articles for a symbol; the teacher's
// LLM-driven sentiment classification is replaced by a deterministic
// weighted-average aggregation over whatever scores the source returns.
type NewsSource interface {
	RecentArticles(ctx context.Context, symbol model.Symbol, lookback time.Duration) ([]Article, error)
}

// SentimentAdapter aggregates recent news sentiment into a single
// opinion. Per spec.md §4.1, it is gated off entirely for STOCK symbols
// outside market hours (it returns UNAVAILABLE, not NEUTRAL, so the
// consensus engine's active-source renormalization excludes it cleanly);
// CRYPTO symbols are always eligible.
type SentimentAdapter struct {
	news     NewsSource
	limiter  *rate.Limiter
	lookback time.Duration
	log      zerolog.Logger
}

func NewSentimentAdapter(news NewsSource, limiter *rate.Limiter, lookback time.Duration, log zerolog.Logger) *SentimentAdapter {
	return &SentimentAdapter{news: news, limiter: limiter, lookback: lookback, log: log}
}

func (a *SentimentAdapter) SourceID() string { return "sentiment" }

func (a *SentimentAdapter) Opinion(ctx context.Context, symbol model.Symbol, now time.Time) model.SourceOpinion {
	if symbol.Class == model.SymbolStock && !duringMarketHours(now) {
		return unavailable(a.SourceID(), symbol, now)
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return unavailable(a.SourceID(), symbol, now)
	}

	articles, err := a.news.RecentArticles(ctx, symbol, a.lookback)
	if err != nil || len(articles) == 0 {
		return unavailable(a.SourceID(), symbol, now)
	}

	direction, confidence := aggregateSentiment(articles)

	return model.SourceOpinion{
		SourceID:   a.SourceID(),
		Symbol:     symbol,
		ProducedAt: now,
		Direction:  direction,
		Confidence: confidence,
		Indicators: map[string]any{
			"article_count": len(articles),
		},
		Validity: model.ValidityOK,
	}
}

// aggregateSentiment confidence-weights each article's score, so a single
// high-confidence article outweighs several low-confidence ones.
func aggregateSentiment(articles []Article) (model.Direction, float64) {
	var weightedScore, totalWeight float64
	for _, art := range articles {
		weightedScore += art.Score * art.Confidence
		totalWeight += art.Confidence
	}
	if totalWeight == 0 {
		return model.DirectionNeutral, 0
	}

	avg := weightedScore / totalWeight
	confidence := clamp01(absf(avg))

	switch {
	case avg > 0.1:
		return model.DirectionLong, confidence
	case avg < -0.1:
		return model.DirectionShort, confidence
	default:
		return model.DirectionNeutral, confidence
	}
}

// duringMarketHours approximates US equity market hours (09:30-16:00
// Eastern, weekdays) — a simplified calendar check with no holiday
// awareness, adequate until a market-calendar dependency earns its keep.
func duringMarketHours(now time.Time) bool {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}

	open := time.Date(local.Year(), local.Month(), local.Day(), 9, 30, 0, 0, loc)
	close := time.Date(local.Year(), local.Month(), local.Day(), 16, 0, 0, 0, loc)
	return !local.Before(open) && !local.After(close)
}
