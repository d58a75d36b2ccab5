// Package risk implements the Risk Service: the Pre-Order Veto pipeline,
// fill-driven portfolio/PnL/Greeks bookkeeping, periodic drawdown/position
// alerts, and the macro/sentiment regime broadcast loop. Grounded on
// original_source's risk/risk_service.py.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/trading-core/internal/alerting"
	"github.com/aristath/trading-core/internal/blackscholes"
	"github.com/aristath/trading-core/internal/bus"
	"github.com/aristath/trading-core/internal/domain"
	"github.com/aristath/trading-core/internal/proxypool"
	"github.com/aristath/trading-core/internal/state"
)

// SpotPriceLookup supplies the last known spot price for an underlying, so
// the Risk Service can mark option positions without its own market feed.
// Satisfied by internal/adapters.MarketAdapter.
type SpotPriceLookup interface {
	LastPrice(symbol string) (float64, bool)
}

// Config configures a Service.
type Config struct {
	MaxDrawdownPct        float64
	MaxPositionRatio       float64
	MinPositionRatio       float64
	MaxSinglePositionPct   float64
	MaxGrossLeverage       float64
	MacroBroadcastInterval time.Duration
	PeriodicCheckInterval  time.Duration
	AssumedVolatility      float64
	RiskFreeRate           float64
}

func defaultedConfig(cfg Config) Config {
	if cfg.MaxDrawdownPct <= 0 {
		cfg.MaxDrawdownPct = 0.20
	}
	if cfg.MaxPositionRatio <= 0 {
		cfg.MaxPositionRatio = 0.80
	}
	if cfg.MinPositionRatio <= 0 {
		cfg.MinPositionRatio = 0.10
	}
	if cfg.MaxSinglePositionPct <= 0 {
		cfg.MaxSinglePositionPct = 0.30
	}
	if cfg.MaxGrossLeverage <= 0 {
		cfg.MaxGrossLeverage = 3.0
	}
	if cfg.MacroBroadcastInterval <= 0 {
		cfg.MacroBroadcastInterval = 60 * time.Second
	}
	if cfg.PeriodicCheckInterval <= 0 {
		cfg.PeriodicCheckInterval = 60 * time.Second
	}
	if cfg.AssumedVolatility <= 0 {
		cfg.AssumedVolatility = 0.6
	}
	if cfg.RiskFreeRate <= 0 {
		cfg.RiskFreeRate = 0.03
	}
	return cfg
}

// Service is the Risk Service: it owns the Pre-Order Veto, fill
// processing, periodic risk checks, and the macro broadcast loop.
type Service struct {
	cfg    Config
	bus    *bus.Bus
	store  *state.PortfolioStore
	alerts *alerting.Manager
	prices SpotPriceLookup
	sentiment *proxypool.Pool
	log    zerolog.Logger

	mu        sync.Mutex
	peakValue float64
}

// New constructs a Service. sentiment may be nil (the macro broadcast loop
// then always falls back to a neutral sentiment reading).
func New(cfg Config, b *bus.Bus, store *state.PortfolioStore, alerts *alerting.Manager, prices SpotPriceLookup, sentiment *proxypool.Pool, log zerolog.Logger) *Service {
	return &Service{
		cfg:       defaultedConfig(cfg),
		bus:       b,
		store:     store,
		alerts:    alerts,
		prices:    prices,
		sentiment: sentiment,
		log:       log.With().Str("component", "risk_service").Logger(),
	}
}

// Start initializes the peak value from history and begins consuming
// order.fill events until ctx is cancelled.
func (s *Service) Start(ctx context.Context, wg *sync.WaitGroup) error {
	peak, err := s.store.GetPeakValue()
	if err != nil {
		return fmt.Errorf("risk service: load peak value: %w", err)
	}
	if peak == 0 {
		current, err := s.calculateTotalValue()
		if err != nil {
			return fmt.Errorf("risk service: initial valuation: %w", err)
		}
		peak = current
	}
	s.mu.Lock()
	s.peakValue = peak
	s.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for d := range s.bus.Subscribe(ctx, domain.StreamOrderFill, "risk_service", 5*time.Second) {
			var fill domain.OrderFill
			if !s.bus.DecodeOrAck(d, &fill) {
				continue
			}
			if err := s.processFill(ctx, fill); err != nil {
				s.log.Error().Err(err).Str("symbol", fill.Symbol).Msg("failed to process fill")
			}
			d.Ack()
		}
	}()

	s.log.Info().Msg("risk service started")
	return nil
}

// calculateTotalValue is balances.USDT plus the mark value of every
// position at its average price (a simplification carried over from
// original_source: no live mark-to-market feed is wired here).
func (s *Service) calculateTotalValue() (float64, error) {
	balances, err := s.store.GetGlobalBalance()
	if err != nil {
		return 0, err
	}
	positions, err := s.store.AllPositions()
	if err != nil {
		return 0, err
	}

	total := balances["USDT"]
	for _, pos := range positions {
		total += pos.Quantity * pos.AvgPrice
	}
	return total, nil
}

func (s *Service) processFill(ctx context.Context, fill domain.OrderFill) error {
	_, err := s.store.UpdatePosition(fill.Symbol, fill.Side, fill.Quantity, fill.Price, fill.StrategyID)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}

	if err := s.updatePnl(); err != nil {
		return fmt.Errorf("update pnl: %w", err)
	}

	if err := s.updateRiskMetrics(ctx); err != nil {
		return fmt.Errorf("update risk metrics: %w", err)
	}

	s.alerts.Emit(alerting.FillProcessed, "risk_service", map[string]any{
		"symbol": fill.Symbol, "side": string(fill.Side), "quantity": fill.Quantity, "price": fill.Price,
	})
	return nil
}

func (s *Service) updatePnl() error {
	totalValue, err := s.calculateTotalValue()
	if err != nil {
		return err
	}
	return s.store.RecordPnl(0, 0, totalValue)
}

// updateRiskMetrics recomputes aggregate Greeks across every position
// (Greeks already attached for option positions, computed on demand via
// Black-Scholes when absent), stores the snapshot in the Portfolio Store
// and broadcasts it on portfolio.risk, where DeltaHedger consumes it.
func (s *Service) updateRiskMetrics(ctx context.Context) error {
	totalValue, err := s.calculateTotalValue()
	if err != nil {
		return err
	}
	positions, err := s.store.AllPositions()
	if err != nil {
		return err
	}

	var positionValue, totalDelta, totalGamma, totalVega, totalTheta, totalRho float64

	for _, pos := range positions {
		positionValue += pos.Quantity * pos.AvgPrice

		if !domain.IsOptionSymbol(pos.Symbol) {
			totalDelta += pos.Quantity
			continue
		}

		greeks := pos.Greeks
		if greeks == nil {
			computed, err := s.calculatePositionGreeks(pos)
			if err != nil {
				s.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("failed to compute position greeks")
				continue
			}
			if computed == nil {
				continue
			}
			greeks = computed
			if err := s.store.UpdatePositionGreeks(pos.Symbol, *greeks); err != nil {
				s.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("failed to persist computed greeks")
			}
		}

		totalDelta += greeks.Delta * pos.Quantity
		totalGamma += greeks.Gamma * pos.Quantity
		totalVega += greeks.Vega * pos.Quantity
		totalTheta += greeks.Theta * pos.Quantity
		totalRho += greeks.Rho * pos.Quantity
	}

	var positionRatio *float64
	if totalValue > 0 {
		ratio := positionValue / totalValue
		positionRatio = &ratio
	}

	metrics := domain.PortfolioRisk{
		TotalDelta:    totalDelta,
		TotalGamma:    totalGamma,
		TotalVega:     totalVega,
		TotalTheta:    totalTheta,
		TotalRho:      totalRho,
		PositionRatio: positionRatio,
		TS:            time.Now().UTC(),
	}

	if err := s.store.UpdateRiskMetrics(metrics); err != nil {
		return err
	}

	if err := s.bus.Publish(domain.StreamPortfolioRisk, metrics); err != nil {
		return fmt.Errorf("publish portfolio risk: %w", err)
	}
	return nil
}

// calculatePositionGreeks prices an option position with the configured
// assumed volatility/risk-free rate and the last known spot for its
// underlying, falling back to the position's average price as spot when no
// last price is available — matching original_source's
// fall-back-to-avg-price behavior without a live exchange client.
func (s *Service) calculatePositionGreeks(pos domain.Position) (*domain.OptionGreeks, error) {
	underlyingBase, expiry, strike, optType, ok := domain.ParseOptionSymbol(pos.Symbol)
	if !ok {
		return nil, fmt.Errorf("cannot parse option symbol %q", pos.Symbol)
	}

	spot := pos.AvgPrice
	if s.prices != nil {
		if last, found := s.prices.LastPrice(underlyingBase + "/USDT"); found {
			spot = last
		}
	}

	timeToExpiry := time.Until(expiry).Hours() / 24 / 365
	if timeToExpiry < 0.001 {
		timeToExpiry = 0.001
	}

	greeks := blackscholes.Greeks(blackscholes.Inputs{
		Spot:         spot,
		Strike:       strike,
		TimeToExpiry: timeToExpiry,
		RiskFreeRate: s.cfg.RiskFreeRate,
		Volatility:   s.cfg.AssumedVolatility,
		Type:         string(optType),
	})

	return &domain.OptionGreeks{Delta: greeks.Delta, Gamma: greeks.Gamma, Theta: greeks.Theta, Vega: greeks.Vega, Rho: greeks.Rho}, nil
}
