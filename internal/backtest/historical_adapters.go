package backtest

import (
	"context"

	"golang.org/x/time/rate"
)

// historicalPriceSource satisfies adapters.PriceSource by returning
// whatever the replay loop's current bar close is — no-look-ahead is
// enforced by the caller only ever advancing it to the bar under
// replay, never beyond.
type historicalPriceSource struct {
	close func() float64
}

func (h historicalPriceSource) GetPrice(ctx context.Context, symbol, vsCurrency string) (float64, error) {
	return h.close(), nil
}

// unlimited is shared by every adapter built for replay: historical bars
// arrive far slower than any real vendor rate limit, so throttling would
// only slow the backtest down for no reason.
func unlimited() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}
