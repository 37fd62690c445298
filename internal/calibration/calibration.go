// Package calibration implements the Calibrator: a monotonic map from a
// consensus engine's raw score to a calibrated confidence, fit on
// historical (raw_confidence, outcome) pairs from the train+validation
// split, never the test split (spec §4.2, §4.9).
//
// Grounded on pkg/backtest/optimization.go's historical-fit shape
// (iterate over labeled samples, sort, derive summary statistics); no
// isotonic-regression or calibration library appears anywhere in the
// example pack, so the monotonic fit itself is standard-library math —
// see DESIGN.md.
package calibration

import (
	"sort"
	"sync/atomic"
)

// Sample is one (raw_confidence, won) training pair. won is true when
// the signal's Outcome was WIN.
type Sample struct {
	Raw float64
	Won bool
}

// Calibrator is an immutable, monotonic step function over [0,1]. A
// fitted Calibrator satisfies consensus.Calibrator.
type Calibrator struct {
	// breakpoints[i] is the upper raw-confidence bound of bucket i;
	// values[i] is the calibrated confidence for raw scores in
	// (breakpoints[i-1], breakpoints[i]].
	breakpoints []float64
	values      []float64
	isIdentity  bool
}

// Identity returns a Calibrator that passes raw scores through
// unchanged, tagged so consumers know no fit has been applied — the
// steady-state fallback per spec §4.2 "Calibration" and "Failure
// semantics."
func Identity() *Calibrator {
	return &Calibrator{isIdentity: true}
}

// Calibrate maps raw into a calibrated confidence in [0,1].
func (c *Calibrator) Calibrate(raw float64) (float64, bool) {
	if c == nil || c.isIdentity || len(c.breakpoints) == 0 {
		return clamp01(raw), true
	}
	idx := sort.SearchFloat64s(c.breakpoints, raw)
	if idx >= len(c.values) {
		idx = len(c.values) - 1
	}
	return c.values[idx], false
}

// Fit sorts samples by raw confidence, splits them into nBuckets buckets
// of equal sample count (the last bucket takes the remainder), and
// assigns each bucket its empirical win rate, then enforces
// monotonicity with a pool-adjacent-violators pass (merging any bucket
// whose rate is lower than its predecessor's into that predecessor) so
// the result is a true non-decreasing step function, matching the
// "monotonic map [0,1]→[0,1]" spec §4.2 requires.
//
// Fit returns Identity() if there are too few samples to bucket
// meaningfully (fewer than nBuckets*minPerBucket), per the "calibrator
// has not yet been fitted" fallback.
func Fit(samples []Sample, nBuckets int) *Calibrator {
	const minPerBucket = 5
	if nBuckets < 1 {
		nBuckets = 10
	}
	if len(samples) < nBuckets*minPerBucket {
		return Identity()
	}

	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Raw < sorted[j].Raw })

	bucketSize := len(sorted) / nBuckets
	breakpoints := make([]float64, 0, nBuckets)
	rates := make([]float64, 0, nBuckets)

	for i := 0; i < nBuckets; i++ {
		lo := i * bucketSize
		hi := lo + bucketSize
		if i == nBuckets-1 {
			hi = len(sorted)
		}
		if lo >= hi {
			continue
		}
		bucket := sorted[lo:hi]

		wins := 0
		for _, s := range bucket {
			if s.Won {
				wins++
			}
		}
		rates = append(rates, float64(wins)/float64(len(bucket)))
		breakpoints = append(breakpoints, bucket[len(bucket)-1].Raw)
	}

	poolAdjacentViolators(rates)
	breakpoints[len(breakpoints)-1] = 1.0 // last bucket always covers up to 1.0

	return &Calibrator{breakpoints: breakpoints, values: rates}
}

// poolAdjacentViolators enforces non-decreasing order in place by
// merging (averaging, weighted equally since callers pass equal-ish
// bucket sizes) any value that dips below its predecessor into a single
// pooled run — the classic PAVA step for isotonic regression.
func poolAdjacentViolators(rates []float64) {
	for i := 1; i < len(rates); i++ {
		if rates[i] >= rates[i-1] {
			continue
		}
		// Merge i into the run ending at i-1, widening the pooled run
		// backwards while its mean is still below the value before it.
		j, sum := i, rates[i]
		for j > 0 && sum/float64(i-j+1) < rates[j-1] {
			j--
			sum += rates[j]
		}
		for k := j; k <= i; k++ {
			rates[k] = sum / float64(i-j+1)
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Store holds the live Calibrator behind an atomic pointer so a
// background re-fit can hot-swap it without the consensus engine ever
// observing a torn read (spec §5 "hot-swaps install a new instance by
// pointer/handle swap").
type Store struct {
	ptr atomic.Pointer[Calibrator]
}

// NewStore returns a Store seeded with the identity calibrator.
func NewStore() *Store {
	s := &Store{}
	s.ptr.Store(Identity())
	return s
}

// Calibrate satisfies consensus.Calibrator by reading through the
// current pointer.
func (s *Store) Calibrate(raw float64) (float64, bool) {
	return s.ptr.Load().Calibrate(raw)
}

// Swap installs c as the live Calibrator. Safe to call concurrently with
// Calibrate from any number of goroutines.
func (s *Store) Swap(c *Calibrator) {
	s.ptr.Store(c)
}
