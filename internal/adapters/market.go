// Package adapters bridges an exchange into the bus: MarketAdapter polls
// tickers into market.tick, OptionsAdapter simulates an options chain into
// market.vol_surface. Grounded on original_source's
// adapters/{market_adapter,options_adapter}.py.
package adapters

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/trading-core/internal/bus"
	"github.com/aristath/trading-core/internal/domain"
)

// ExchangeClient is the minimal exchange surface the adapters depend on.
// No real exchange client ships with this module; SimulatedExchange
// (simulated.go) is the implementation cmd/server wires in, and callers
// may supply their own.
type ExchangeClient interface {
	FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error)
}

// MarketAdapter polls one goroutine per symbol and republishes each
// ticker as a MarketTick. Grounded on market_adapter.py's
// MarketDataAdapter: per-symbol poll task, backoff-on-error interval*2,
// idempotent start/stop, dynamic add_symbol.
type MarketAdapter struct {
	exchange     ExchangeClient
	bus          *bus.Bus
	pollInterval time.Duration
	log          zerolog.Logger

	mu      sync.Mutex
	symbols map[string]context.CancelFunc
	running bool
	ctx     context.Context

	pricesMu sync.RWMutex
	prices   map[string]float64
}

// NewMarketAdapter constructs a MarketAdapter over the given initial
// symbol list.
func NewMarketAdapter(exchange ExchangeClient, b *bus.Bus, symbols []string, pollInterval time.Duration, log zerolog.Logger) *MarketAdapter {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	m := &MarketAdapter{
		exchange:     exchange,
		bus:          b,
		pollInterval: pollInterval,
		log:          log.With().Str("component", "market_adapter").Logger(),
		symbols:      make(map[string]context.CancelFunc),
		prices:       make(map[string]float64),
	}
	for _, s := range symbols {
		m.symbols[s] = nil
	}
	return m
}

// Start spawns one poll goroutine per configured symbol. Calling Start
// again while already running is a no-op.
func (m *MarketAdapter) Start(ctx context.Context, wg *sync.WaitGroup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		m.log.Warn().Msg("market adapter already running")
		return
	}
	m.running = true
	m.ctx = ctx

	for symbol := range m.symbols {
		m.startSymbolLocked(symbol, wg)
	}
	m.log.Info().Int("symbols", len(m.symbols)).Msg("market adapter started")
}

func (m *MarketAdapter) startSymbolLocked(symbol string, wg *sync.WaitGroup) {
	symCtx, cancel := context.WithCancel(m.ctx)
	m.symbols[symbol] = cancel
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.pollSymbol(symCtx, symbol)
	}()
}

// AddSymbol begins polling a new symbol immediately if the adapter is
// already running.
func (m *MarketAdapter) AddSymbol(symbol string, wg *sync.WaitGroup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.symbols[symbol]; exists {
		return
	}
	if !m.running {
		m.symbols[symbol] = nil
		return
	}
	m.symbols[symbol] = nil
	m.startSymbolLocked(symbol, wg)
	m.log.Info().Str("symbol", symbol).Msg("added symbol to market adapter")
}

// RemoveSymbol stops polling symbol, if present.
func (m *MarketAdapter) RemoveSymbol(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.symbols[symbol]; ok && cancel != nil {
		cancel()
	}
	delete(m.symbols, symbol)
}

func (m *MarketAdapter) pollSymbol(ctx context.Context, symbol string) {
	interval := m.pollInterval
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ticker, err := m.exchange.FetchTicker(ctx, symbol)
		if err != nil {
			m.log.Error().Err(err).Str("symbol", symbol).Msg("failed to fetch ticker")
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.pollInterval * 2):
			}
			continue
		}

		m.pricesMu.Lock()
		m.prices[symbol] = ticker.Last
		m.pricesMu.Unlock()

		var bid, ask *float64
		if ticker.Bid > 0 {
			bid = &ticker.Bid
		}
		if ticker.Ask > 0 {
			ask = &ticker.Ask
		}

		tick := domain.MarketTick{
			Symbol: symbol,
			Price:  ticker.Last,
			Volume: ticker.BaseVolume,
			Bid:    bid,
			Ask:    ask,
			TS:     time.Now().UTC(),
		}
		if err := m.bus.Publish(domain.StreamMarketTick, tick); err != nil {
			m.log.Error().Err(err).Str("symbol", symbol).Msg("failed to publish tick")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// LastPrice satisfies internal/risk.SpotPriceLookup.
func (m *MarketAdapter) LastPrice(symbol string) (float64, bool) {
	m.pricesMu.RLock()
	defer m.pricesMu.RUnlock()
	p, ok := m.prices[symbol]
	return p, ok
}
