package strategy

import (
	"context"
	"time"

	"github.com/aristath/trading-core/internal/domain"
)

// GridStrategyConfig configures a GridStrategy instance.
type GridStrategyConfig struct {
	Symbol             string
	BasePrice          float64
	GridSize           float64 // percent, e.g. 2.0 == 2%
	FlipThresholdFactor float64
	MinTradeInterval   time.Duration
}

func defaultedGridConfig(cfg GridStrategyConfig) GridStrategyConfig {
	if cfg.Symbol == "" {
		cfg.Symbol = "BNB/USDT"
	}
	if cfg.GridSize <= 0 {
		cfg.GridSize = 2.0
	}
	if cfg.FlipThresholdFactor <= 0 {
		cfg.FlipThresholdFactor = 0.3
	}
	if cfg.MinTradeInterval <= 0 {
		cfg.MinTradeInterval = 30 * time.Second
	}
	return cfg
}

// GridStrategy is a mean-reversion grid trader: it watches price orbit a
// base price within a percentage band, arming on a band breach and firing
// once price flips back past a fraction of the band width. It publishes
// legacy StrategySignals rather than StrategyIntents, exercising the
// engine's coexisting signal path. Grounded on original_source's
// strategies/grid_strategy.py.
type GridStrategy struct {
	strategyID string
	cfg        GridStrategyConfig
	rc         *Context

	currentPrice    *float64
	highest, lowest *float64
	lastTradeTime   time.Time
	buyArmed        bool
	sellArmed       bool
}

// NewGridStrategy is a Factory constructing GridStrategy instances.
func NewGridStrategy(strategyID string, config map[string]any) Strategy {
	cfg := GridStrategyConfig{}
	if v, ok := config["symbol"].(string); ok {
		cfg.Symbol = v
	}
	if v, ok := config["basePrice"].(float64); ok {
		cfg.BasePrice = v
	}
	if v, ok := config["gridSize"].(float64); ok {
		cfg.GridSize = v
	}
	if v, ok := config["flipThresholdFactor"].(float64); ok {
		cfg.FlipThresholdFactor = v
	}
	return &GridStrategy{strategyID: strategyID, cfg: defaultedGridConfig(cfg)}
}

func (g *GridStrategy) SetContext(rc *Context) { g.rc = rc }
func (g *GridStrategy) Initialize(ctx context.Context) error { return nil }

func (g *GridStrategy) Capability() Capability {
	return Capability{
		StrategyID:      g.strategyID,
		StrategyName:    "GridStrategy",
		InstrumentTypes: []domain.InstrumentType{domain.InstrumentSpot},
		Symbols:         []string{g.cfg.Symbol},
		MaxLeverage:     1.0,
		MinCapital:      100.0,
	}
}

func (g *GridStrategy) Shutdown(ctx context.Context) error { return nil }

func (g *GridStrategy) upperBand() float64 {
	return g.cfg.BasePrice * (1 + g.cfg.GridSize/100)
}

func (g *GridStrategy) lowerBand() float64 {
	return g.cfg.BasePrice * (1 - g.cfg.GridSize/100)
}

func (g *GridStrategy) flipThreshold() float64 {
	return (g.cfg.GridSize / 100) * g.cfg.FlipThresholdFactor
}

func (g *GridStrategy) resetExtremes() {
	g.highest = nil
	g.lowest = nil
	g.buyArmed = false
	g.sellArmed = false
}

func (g *GridStrategy) OnTick(ctx context.Context, tick domain.MarketTick) (*Output, error) {
	if tick.Symbol != g.cfg.Symbol {
		return nil, nil
	}
	price := tick.Price
	g.currentPrice = &price

	if !g.lastTradeTime.IsZero() && time.Since(g.lastTradeTime) < g.cfg.MinTradeInterval {
		return nil, nil
	}

	if sig := g.checkSellSignal(price); sig != nil {
		return &Output{Signal: sig}, nil
	}
	if sig := g.checkBuySignal(price); sig != nil {
		return &Output{Signal: sig}, nil
	}
	return nil, nil
}

// checkBuySignal arms on a dip at or below the lower band and fires once
// price rebounds past the flip threshold off the dip's low. Tracked with
// its own buyArmed flag so a concurrent sell-side watch (checkSellSignal)
// can't clear this arm out from under it within the same tick.
func (g *GridStrategy) checkBuySignal(price float64) *domain.StrategySignal {
	lowerBand := g.lowerBand()

	if price <= lowerBand {
		g.buyArmed = true

		newLowest := price
		if g.lowest != nil && *g.lowest < price {
			newLowest = *g.lowest
		}
		g.lowest = &newLowest

		threshold := g.flipThreshold()
		if price >= newLowest*(1+threshold) {
			g.buyArmed = false
			g.lowest = nil
			p := price
			return &domain.StrategySignal{
				StrategyID:  g.strategyID,
				Type:        "buy",
				Symbol:      g.cfg.Symbol,
				Confidence:  1.0,
				TargetPrice: &p,
				Metadata: map[string]any{
					"gridSize":    g.cfg.GridSize,
					"basePrice":   g.cfg.BasePrice,
					"lowestPrice": newLowest,
				},
			}
		}
		return nil
	}

	if g.buyArmed {
		g.buyArmed = false
		g.lowest = nil
	}
	return nil
}

// checkSellSignal is checkBuySignal's mirror image for spikes at or above
// the upper band.
func (g *GridStrategy) checkSellSignal(price float64) *domain.StrategySignal {
	upperBand := g.upperBand()

	if price >= upperBand {
		g.sellArmed = true

		newHighest := price
		if g.highest != nil && *g.highest > price {
			newHighest = *g.highest
		}
		g.highest = &newHighest

		threshold := g.flipThreshold()
		if price <= newHighest*(1-threshold) {
			g.sellArmed = false
			g.highest = nil
			p := price
			return &domain.StrategySignal{
				StrategyID:  g.strategyID,
				Type:        "sell",
				Symbol:      g.cfg.Symbol,
				Confidence:  1.0,
				TargetPrice: &p,
				Metadata: map[string]any{
					"gridSize":     g.cfg.GridSize,
					"basePrice":    g.cfg.BasePrice,
					"highestPrice": newHighest,
				},
			}
		}
		return nil
	}

	if g.sellArmed {
		g.sellArmed = false
		g.highest = nil
	}
	return nil
}

func (g *GridStrategy) OnFill(ctx context.Context, fill domain.OrderFill) error {
	g.cfg.BasePrice = fill.Price
	g.lastTradeTime = time.Now()
	g.resetExtremes()
	return nil
}

func (g *GridStrategy) OnPositionUpdate(ctx context.Context, pos domain.PositionUpdate) error {
	return nil
}
