package strategy

import (
	"context"
	"time"

	"github.com/aristath/trading-core/internal/domain"
	"github.com/aristath/trading-core/pkg/formulas"
)

// MomentumConfig configures a MomentumStrategy instance.
type MomentumConfig struct {
	Symbol         string
	RSIPeriod      int
	Overbought     float64
	Oversold       float64
	BufferSize     int
	MinTradeInterval time.Duration
}

func defaultedMomentumConfig(cfg MomentumConfig) MomentumConfig {
	if cfg.Symbol == "" {
		cfg.Symbol = "ETH/USDT"
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = 14
	}
	if cfg.Overbought <= 0 {
		cfg.Overbought = 70
	}
	if cfg.Oversold <= 0 {
		cfg.Oversold = 30
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.RSIPeriod * 4
	}
	if cfg.MinTradeInterval <= 0 {
		cfg.MinTradeInterval = 60 * time.Second
	}
	return cfg
}

// MomentumStrategy is a supplemental plugin, not present in
// original_source: it keeps a rolling close-price window per tick and
// emits legacy buy/sell StrategySignals on RSI overbought/oversold
// crossings, reusing the same talib.Rsi wiring the teacher's
// pkg/formulas.CalculateRSI exposes for the scoring module.
type MomentumStrategy struct {
	strategyID string
	cfg        MomentumConfig
	rc         *Context

	closes        []float64
	lastSignalAt  time.Time
	lastRSI       *float64
}

// NewMomentumStrategy is a Factory constructing MomentumStrategy instances.
func NewMomentumStrategy(strategyID string, config map[string]any) Strategy {
	cfg := MomentumConfig{}
	if v, ok := config["symbol"].(string); ok {
		cfg.Symbol = v
	}
	if v, ok := config["rsiPeriod"].(float64); ok {
		cfg.RSIPeriod = int(v)
	}
	if v, ok := config["overbought"].(float64); ok {
		cfg.Overbought = v
	}
	if v, ok := config["oversold"].(float64); ok {
		cfg.Oversold = v
	}
	return &MomentumStrategy{strategyID: strategyID, cfg: defaultedMomentumConfig(cfg)}
}

func (m *MomentumStrategy) SetContext(rc *Context) { m.rc = rc }
func (m *MomentumStrategy) Initialize(ctx context.Context) error { return nil }

func (m *MomentumStrategy) Capability() Capability {
	return Capability{
		StrategyID:      m.strategyID,
		StrategyName:    "MomentumStrategy",
		InstrumentTypes: []domain.InstrumentType{domain.InstrumentSpot},
		Symbols:         []string{m.cfg.Symbol},
		MaxLeverage:     1.0,
		MinCapital:      100.0,
		Dependencies:    []string{"market_adapter"},
	}
}

func (m *MomentumStrategy) Shutdown(ctx context.Context) error { return nil }

func (m *MomentumStrategy) OnTick(ctx context.Context, tick domain.MarketTick) (*Output, error) {
	if tick.Symbol != m.cfg.Symbol {
		return nil, nil
	}

	m.closes = append(m.closes, tick.Price)
	if len(m.closes) > m.cfg.BufferSize {
		m.closes = m.closes[len(m.closes)-m.cfg.BufferSize:]
	}

	rsi := formulas.CalculateRSI(m.closes, m.cfg.RSIPeriod)
	if rsi == nil {
		return nil, nil
	}
	prevRSI := m.lastRSI
	m.lastRSI = rsi

	if !m.lastSignalAt.IsZero() && time.Since(m.lastSignalAt) < m.cfg.MinTradeInterval {
		return nil, nil
	}
	if prevRSI == nil {
		return nil, nil
	}

	price := tick.Price

	// Cross up through oversold: momentum turning, buy.
	if *prevRSI <= m.cfg.Oversold && *rsi > m.cfg.Oversold {
		m.lastSignalAt = time.Now()
		return &Output{Signal: &domain.StrategySignal{
			StrategyID:  m.strategyID,
			Type:        "buy",
			Symbol:      m.cfg.Symbol,
			Confidence:  rsiCrossConfidence(*rsi, m.cfg.Oversold),
			TargetPrice: &price,
			Metadata:    map[string]any{"rsi": *rsi, "rsiPeriod": m.cfg.RSIPeriod},
		}}, nil
	}

	// Cross down through overbought: momentum fading, sell.
	if *prevRSI >= m.cfg.Overbought && *rsi < m.cfg.Overbought {
		m.lastSignalAt = time.Now()
		return &Output{Signal: &domain.StrategySignal{
			StrategyID:  m.strategyID,
			Type:        "sell",
			Symbol:      m.cfg.Symbol,
			Confidence:  rsiCrossConfidence(m.cfg.Overbought, *rsi),
			TargetPrice: &price,
			Metadata:    map[string]any{"rsi": *rsi, "rsiPeriod": m.cfg.RSIPeriod},
		}}, nil
	}

	return nil, nil
}

// rsiCrossConfidence scales how far past a threshold the RSI crossed into
// a 0-1 confidence, saturating at a 10-point move.
func rsiCrossConfidence(a, b float64) float64 {
	delta := a - b
	if delta < 0 {
		delta = -delta
	}
	c := delta / 10
	if c > 1 {
		c = 1
	}
	return c
}
