package adapters

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/trading-core/internal/blackscholes"
	"github.com/aristath/trading-core/internal/bus"
	"github.com/aristath/trading-core/internal/domain"
	"github.com/aristath/trading-core/pkg/formulas"
)

// simulatedStrikeFactors and simulatedExpiries mirror options_adapter.py's
// hard-coded demo chain: five moneyness points across three expiries.
var simulatedStrikeFactors = []float64{0.9, 0.95, 1.0, 1.05, 1.10}

const assumedChainVolatility = 0.6

// OptionsAdapter simulates an options chain around the underlying's spot
// price, inverts implied volatility from the simulated price, computes
// Greeks, and publishes a VolatilitySurface. Grounded on
// options_adapter.py's OptionsChainAdapter/BlackScholesCalculator — no
// live options exchange is wired, so the simulated chain (same assumed
// 60% volatility the original uses) stands in for a real one.
type OptionsAdapter struct {
	exchange     ExchangeClient
	bus          *bus.Bus
	underlying   string
	pollInterval time.Duration
	riskFreeRate float64
	log          zerolog.Logger

	now func() time.Time
}

// OptionsAdapterConfig configures an OptionsAdapter.
type OptionsAdapterConfig struct {
	Underlying   string
	PollInterval time.Duration
	RiskFreeRate float64
}

func defaultedOptionsConfig(cfg OptionsAdapterConfig) OptionsAdapterConfig {
	if cfg.Underlying == "" {
		cfg.Underlying = "BTC/USDT"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.RiskFreeRate <= 0 {
		cfg.RiskFreeRate = 0.03
	}
	return cfg
}

// NewOptionsAdapter constructs an OptionsAdapter.
func NewOptionsAdapter(exchange ExchangeClient, b *bus.Bus, cfg OptionsAdapterConfig, log zerolog.Logger) *OptionsAdapter {
	cfg = defaultedOptionsConfig(cfg)
	return &OptionsAdapter{
		exchange:     exchange,
		bus:          b,
		underlying:   cfg.Underlying,
		pollInterval: cfg.PollInterval,
		riskFreeRate: cfg.RiskFreeRate,
		log:          log.With().Str("component", "options_adapter").Logger(),
		now:          time.Now,
	}
}

// Start polls the simulated chain on pollInterval until ctx is cancelled.
func (o *OptionsAdapter) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(o.pollInterval)
		defer ticker.Stop()
		for {
			if err := o.publishSurface(ctx); err != nil {
				o.log.Error().Err(err).Msg("failed to publish volatility surface")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	o.log.Info().Str("underlying", o.underlying).Msg("options adapter started")
}

func (o *OptionsAdapter) publishSurface(ctx context.Context) error {
	spot, err := o.exchange.FetchTicker(ctx, o.underlying)
	if err != nil {
		return fmt.Errorf("fetch spot: %w", err)
	}
	if spot.Last <= 0 {
		return nil
	}

	entries := o.buildChain(spot.Last)
	surface := o.buildSurface(entries, spot.Last)

	return o.bus.Publish(domain.StreamMarketVolSurface, surface)
}

var simulatedExpiries = []string{"2025-09-30", "2025-12-31", "2026-03-31"}

func (o *OptionsAdapter) buildChain(spot float64) []domain.OptionChainEntry {
	var entries []domain.OptionChainEntry
	for _, expiry := range simulatedExpiries {
		tte := o.timeToExpiry(expiry)
		for _, factor := range simulatedStrikeFactors {
			strike := spot * factor
			for _, optType := range []domain.OptionType{domain.OptionCall, domain.OptionPut} {
				price := blackscholes.Price(blackscholes.Inputs{
					Spot: spot, Strike: strike, TimeToExpiry: tte,
					RiskFreeRate: o.riskFreeRate, Volatility: assumedChainVolatility, Type: string(optType),
				})
				iv := blackscholes.ImpliedVolatility(blackscholes.Inputs{
					Spot: spot, Strike: strike, TimeToExpiry: tte,
					RiskFreeRate: o.riskFreeRate, Type: string(optType),
				}, price)
				greeks := blackscholes.Greeks(blackscholes.Inputs{
					Spot: spot, Strike: strike, TimeToExpiry: tte,
					RiskFreeRate: o.riskFreeRate, Volatility: iv, Type: string(optType),
				})

				entries = append(entries, domain.OptionChainEntry{
					Underlying:   o.underlying,
					Strike:       strike,
					Expiry:       expiry,
					Type:         optType,
					Bid:          price * 0.99,
					Ask:          price * 1.01,
					Last:         price,
					Volume:       100.0,
					OpenInterest: 500.0,
					IV:           iv,
					Greeks: &domain.OptionGreeks{
						Delta: greeks.Delta, Gamma: greeks.Gamma, Theta: greeks.Theta, Vega: greeks.Vega, Rho: greeks.Rho,
					},
				})
			}
		}
	}
	return entries
}

func (o *OptionsAdapter) timeToExpiry(expiry string) float64 {
	expiryDate, err := time.Parse("2006-01-02", expiry)
	if err != nil {
		return 0.25
	}
	days := expiryDate.Sub(o.now()).Hours() / 24
	tte := days / 365.0
	if tte < 0.001 {
		tte = 0.001
	}
	return tte
}

// buildSurface aggregates ATM implied vol (entries within 2% of spot),
// per-strike skew, and per-expiry term structure.
func (o *OptionsAdapter) buildSurface(entries []domain.OptionChainEntry, spot float64) domain.VolatilitySurface {
	var atmIVs []float64
	ivSkew := make(map[string]float64)
	termByExpiry := make(map[string][]float64)

	for _, e := range entries {
		if absFraction(e.Strike-spot)/spot < 0.02 {
			atmIVs = append(atmIVs, e.IV)
		}
		key := fmt.Sprintf("%.0f", e.Strike)
		if _, seen := ivSkew[key]; !seen {
			ivSkew[key] = e.IV
		}
		termByExpiry[e.Expiry] = append(termByExpiry[e.Expiry], e.IV)
	}

	atmIV := 0.5
	if len(atmIVs) > 0 {
		atmIV = formulas.Mean(atmIVs)
	}

	termStructure := make(map[string]float64, len(termByExpiry))
	for expiry, ivs := range termByExpiry {
		termStructure[expiry] = formulas.Mean(ivs)
	}

	return domain.VolatilitySurface{
		Underlying:    o.underlying,
		Entries:       entries,
		ATMIv:         atmIV,
		IVSkew:        ivSkew,
		TermStructure: termStructure,
		TS:            o.now().UTC(),
	}
}

func absFraction(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
