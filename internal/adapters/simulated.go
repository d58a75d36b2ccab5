package adapters

import (
	"context"
	"math/rand"
	"sync"

	"github.com/aristath/trading-core/internal/domain"
)

// SimulatedExchange is a stand-in ExchangeClient that random-walks a base
// price per symbol. No real exchange is wired anywhere in this module (see
// the package doc and internal/risk's fill-processing simplification); this
// is what a standalone run or a test harness supplies instead. Grounded on
// other_examples' simulated_exchange package, whose PriceGenerator widens a
// base price by a volatility-scaled step per call — reduced here to the one
// method the adapters actually need.
type SimulatedExchange struct {
	volatility float64

	mu     sync.Mutex
	prices map[string]float64
	rng    *rand.Rand
}

// NewSimulatedExchange seeds each symbol at its given starting price.
func NewSimulatedExchange(initialPrices map[string]float64, volatility float64, seed int64) *SimulatedExchange {
	if volatility <= 0 {
		volatility = 0.01
	}
	prices := make(map[string]float64, len(initialPrices))
	for symbol, price := range initialPrices {
		prices[symbol] = price
	}
	return &SimulatedExchange{
		volatility: volatility,
		prices:     prices,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// FetchTicker advances symbol's price by one random-walk step and returns
// it as a Ticker. An unseen symbol starts at 100.0.
func (s *SimulatedExchange) FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[symbol]
	if !ok {
		price = 100.0
	}

	step := (s.rng.Float64()*2 - 1) * s.volatility * price
	price += step
	if price <= 0 {
		price = 0.01
	}
	s.prices[symbol] = price

	spread := price * 0.0005
	return domain.Ticker{
		Last:       price,
		Bid:        price - spread,
		Ask:        price + spread,
		BaseVolume: 100 + s.rng.Float64()*900,
	}, nil
}
