// Package adapters implements the Data Source Adapters: each one turns a
// vendor- or model-specific view of a symbol into a single
// model.SourceOpinion the Weighted Consensus Engine can score.
//
// Grounded on cmd/agents/technical-agent/main.go and
// cmd/agents/sentiment-agent/main.go, stripped of their BDI belief bases,
// NATS belief publishing, and LLM reasoning — an adapter here is a plain
// function of (symbol, now) to an opinion, nothing more.
package adapters

import (
	"context"
	"time"

	"github.com/signalpipe/signalpipe/internal/model"
)

// Adapter produces one opinion per aggregation cycle. It never returns a
// non-nil error: a failure on the happy path — rate limit, timeout, HTTP
// 5xx, stale cache — is encoded as model.SourceOpinion{Validity:
// ValidityUnavailable} instead, so a single flaky vendor can never halt a
// generation cycle.
type Adapter interface {
	SourceID() string
	Opinion(ctx context.Context, symbol model.Symbol, now time.Time) model.SourceOpinion
}

// unavailable builds the opinion every adapter returns when it cannot
// produce a trustworthy view this cycle.
func unavailable(sourceID string, symbol model.Symbol, now time.Time) model.SourceOpinion {
	return model.SourceOpinion{
		SourceID:   sourceID,
		Symbol:     symbol,
		ProducedAt: now,
		Direction:  model.DirectionNeutral,
		Confidence: 0,
		Validity:   model.ValidityUnavailable,
	}
}
