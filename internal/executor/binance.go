package executor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/signalpipe/signalpipe/internal/model"
)

// BinanceBroker is the live-trading Broker, grounded on the teacher's
// BinanceExchange: a thin go-binance/v2 wrapper, retried with backoff and
// wrapped in a gobreaker circuit breaker so a flapping exchange degrades
// to the simulation fallback instead of hanging executors.
type BinanceBroker struct {
	client  *binance.Client
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig
}

// BinanceConfig configures live Binance trading.
type BinanceConfig struct {
	APIKey    string
	SecretKey string
	Testnet   bool
}

// NewBinanceBroker builds a live broker. Testnet selects Binance's
// testnet endpoint; the caller is expected to use it for every
// non-production ExecutorAccount.
func NewBinanceBroker(cfg BinanceConfig) *BinanceBroker {
	if cfg.Testnet {
		binance.UseTestnet = true
		log.Info().Msg("binance broker initialized (testnet)")
	} else {
		log.Warn().Msg("binance broker initialized (live trading)")
	}
	// NewClient picks its endpoint from UseTestnet, so it is built after
	// the flag is set.
	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "binance-broker",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("broker circuit breaker state change")
		},
	})

	return &BinanceBroker{client: client, breaker: breaker, retry: DefaultRetryConfig()}
}

// AccountState reports whether the configured credentials currently
// resolve to a readable, funded account; an error or a breaker trip here
// is exactly what routes an order to SimulatedBroker instead.
func (b *BinanceBroker) AccountState(ctx context.Context) (AccountState, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.client.NewGetAccountService().Do(ctx)
	})
	if err != nil {
		return AccountState{Readable: false}, fmt.Errorf("executor: binance account unreadable: %w", err)
	}

	account := result.(*binance.Account)
	var buyingPower float64
	for _, bal := range account.Balances {
		if bal.Asset == "USDT" {
			free, err := strconv.ParseFloat(bal.Free, 64)
			if err == nil {
				buyingPower = free
			}
			break
		}
	}

	return AccountState{Readable: true, BuyingPower: buyingPower, EquityUSD: buyingPower}, nil
}

// PlaceOrder submits a market order, retried with backoff and circuit-
// breaker protected. stop_price/target_price accompany the order as a
// follow-on OCO in a full integration; here they are recorded on the
// Order but the market leg is what actually executes.
func (b *BinanceBroker) PlaceOrder(ctx context.Context, req BrokerOrderRequest) (*BrokerOrderResult, error) {
	side := binance.SideTypeBuy
	if req.Side == model.OrderSideSell {
		side = binance.SideTypeSell
	}

	var resp *binance.CreateOrderResponse
	err := WithRetry(ctx, b.retry, func() error {
		out, err := b.breaker.Execute(func() (interface{}, error) {
			return b.client.NewCreateOrderService().
				Symbol(req.Symbol.Ticker).
				Side(side).
				Type(binance.OrderTypeMarket).
				Quantity(fmt.Sprintf("%.8f", req.Qty)).
				Do(ctx)
		})
		if err != nil {
			return err
		}
		resp = out.(*binance.CreateOrderResponse)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("executor: binance place order: %w", err)
	}

	fillPrice := 0.0
	if price, perr := strconv.ParseFloat(resp.Price, 64); perr == nil {
		fillPrice = price
	}

	return &BrokerOrderResult{
		BrokerOrderID: strconv.FormatInt(resp.OrderID, 10),
		FillPrice:     fillPrice,
		FilledAt:      time.Now(),
	}, nil
}
