package strategy

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/trading-core/internal/domain"
)

// pqMarketState aggregates everything PQVolTrader knows at decision time:
// the P/Q volatility spread and the macro/sentiment readout (its position
// is tracked separately). Grounded on original_source's pq_vol_trader.py
// MarketState.
type pqMarketState struct {
	pVol, qVol, pqSpread float64
	havePVol, haveQVol   bool

	macroRegime string
	regimeScore float64
	fomoScore   *float64
}

// PQVolTraderConfig configures a PQVolTrader instance.
type PQVolTraderConfig struct {
	Underlying       string
	VolThreshold     float64
	ForecastHorizon  string
	MaxPositionSize  float64
	IntentBaseSize   float64
	MaxFomoScore     float64
	SignalCooldown   time.Duration
}

func defaultedPQConfig(cfg PQVolTraderConfig) PQVolTraderConfig {
	if cfg.Underlying == "" {
		cfg.Underlying = "BTC/USDT"
	}
	if cfg.VolThreshold <= 0 {
		cfg.VolThreshold = 0.05
	}
	if cfg.ForecastHorizon == "" {
		cfg.ForecastHorizon = "24h"
	}
	if cfg.MaxPositionSize <= 0 {
		cfg.MaxPositionSize = 1.0
	}
	if cfg.IntentBaseSize <= 0 {
		cfg.IntentBaseSize = 0.1
	}
	if cfg.MaxFomoScore <= 0 {
		cfg.MaxFomoScore = 0.7
	}
	if cfg.SignalCooldown <= 0 {
		cfg.SignalCooldown = time.Hour
	}
	return cfg
}

// PQVolTrader trades the spread between market-implied volatility (P, from
// the options adapter's ATM IV) and model-forecast volatility (Q, from the
// forecast service): it buys straddles when Q outpaces P by more than the
// threshold and sells them when P outpaces Q, subject to a FOMO veto and a
// signal cooldown. Grounded on original_source's
// strategies/pq_vol_trader.py.
type PQVolTrader struct {
	strategyID string
	cfg        PQVolTraderConfig
	rc         *Context
	log        zerolog.Logger

	mu               sync.Mutex
	pVol, qVol       float64
	havePVol, haveQVol bool
	macroRegime      string
	regimeScore      float64
	fomoScore        *float64
	currentPosition  float64
	lastSignalTime   time.Time
}

// NewPQVolTrader is a Factory constructing PQVolTrader instances.
func NewPQVolTrader(strategyID string, config map[string]any) Strategy {
	cfg := PQVolTraderConfig{}
	if v, ok := config["underlying"].(string); ok {
		cfg.Underlying = v
	}
	if v, ok := config["volThreshold"].(float64); ok {
		cfg.VolThreshold = v
	}
	if v, ok := config["maxPositionSize"].(float64); ok {
		cfg.MaxPositionSize = v
	}
	if v, ok := config["intentBaseSize"].(float64); ok {
		cfg.IntentBaseSize = v
	}
	if v, ok := config["maxFomoScore"].(float64); ok {
		cfg.MaxFomoScore = v
	}
	return &PQVolTrader{strategyID: strategyID, cfg: defaultedPQConfig(cfg)}
}

func (p *PQVolTrader) SetContext(rc *Context) {
	p.rc = rc
	p.log = zerolog.Nop()
}

func (p *PQVolTrader) Initialize(ctx context.Context) error {
	return nil
}

func (p *PQVolTrader) Capability() Capability {
	return Capability{
		StrategyID:       p.strategyID,
		StrategyName:     "PQVolTrader",
		InstrumentTypes:  []domain.InstrumentType{domain.InstrumentOption},
		Symbols:          []string{p.cfg.Underlying},
		LeverageRequired: false,
		MaxLeverage:      1.0,
		MinCapital:       1000.0,
		Dependencies:     []string{"options_chain_adapter", "volatility_forecast_service"},
	}
}

func (p *PQVolTrader) Shutdown(ctx context.Context) error { return nil }

func (p *PQVolTrader) OnVolatilitySurface(ctx context.Context, vs domain.VolatilitySurface) (*Output, error) {
	if vs.Underlying != p.cfg.Underlying {
		return nil, nil
	}
	p.mu.Lock()
	p.pVol = vs.ATMIv
	p.havePVol = true
	haveBoth := p.haveQVol
	p.mu.Unlock()

	if haveBoth {
		return p.checkPQSpread()
	}
	return nil, nil
}

func (p *PQVolTrader) OnVolatilityForecast(ctx context.Context, vf domain.VolatilityForecast) (*Output, error) {
	if vf.Underlying != p.cfg.Underlying || vf.Horizon != p.cfg.ForecastHorizon {
		return nil, nil
	}
	p.mu.Lock()
	p.qVol = vf.PredictedVol
	p.haveQVol = true
	haveBoth := p.havePVol
	p.mu.Unlock()

	if haveBoth {
		return p.checkPQSpread()
	}
	return nil, nil
}

func (p *PQVolTrader) OnMacroState(ctx context.Context, ms domain.MacroState) (*Output, error) {
	p.mu.Lock()
	if ms.Regime != "" {
		p.macroRegime = string(ms.Regime)
	}
	if ms.RegimeScore != 0 {
		p.regimeScore = ms.RegimeScore
	}
	if ms.Fomo != nil {
		p.fomoScore = ms.Fomo
	}
	p.mu.Unlock()
	return nil, nil
}

func (p *PQVolTrader) OnFill(ctx context.Context, fill domain.OrderFill) error {
	p.mu.Lock()
	if fill.Side == domain.SideBuy {
		p.currentPosition += fill.Quantity
	} else {
		p.currentPosition -= fill.Quantity
	}
	p.mu.Unlock()
	return nil
}

func (p *PQVolTrader) OnPositionUpdate(ctx context.Context, pos domain.PositionUpdate) error {
	p.mu.Lock()
	p.currentPosition = pos.Quantity
	p.mu.Unlock()
	return nil
}

type pqDecision struct {
	intentType string
	direction  *domain.Side
	reason     string
	metadata   map[string]any
}

// decideIntent implements the three-tier rule: FOMO veto first, then the
// classic P/Q long-gamma/short-gamma branches, then hold.
func (p *PQVolTrader) decideIntent(state pqMarketState, position float64) pqDecision {
	if state.fomoScore != nil && *state.fomoScore > p.cfg.MaxFomoScore {
		return pqDecision{intentType: "hold", reason: "high_fomo_risk", metadata: map[string]any{"fomoScore": *state.fomoScore}}
	}

	if state.pqSpread > p.cfg.VolThreshold && position < p.cfg.MaxPositionSize {
		buy := domain.SideBuy
		return pqDecision{
			intentType: "increase_long_gamma",
			direction:  &buy,
			reason:     "market_underpricing_volatility",
			metadata:   map[string]any{"pqSpread": state.pqSpread, "macroRegime": state.macroRegime, "regimeScore": state.regimeScore},
		}
	}

	if state.pqSpread < -p.cfg.VolThreshold && position > -p.cfg.MaxPositionSize {
		sell := domain.SideSell
		return pqDecision{
			intentType: "increase_short_gamma",
			direction:  &sell,
			reason:     "market_overpricing_volatility",
			metadata:   map[string]any{"pqSpread": state.pqSpread, "macroRegime": state.macroRegime, "regimeScore": state.regimeScore},
		}
	}

	return pqDecision{intentType: "hold", reason: "threshold_not_met", metadata: map[string]any{"pqSpread": state.pqSpread}}
}

// checkPQSpread runs the cooldown gate, aggregates state, decides, sizes,
// and returns a straddle StrategyIntent (or nil if nothing to do).
func (p *PQVolTrader) checkPQSpread() (*Output, error) {
	p.mu.Lock()
	if !p.lastSignalTime.IsZero() && time.Since(p.lastSignalTime) < p.cfg.SignalCooldown {
		p.mu.Unlock()
		return nil, nil
	}
	if !p.havePVol || !p.haveQVol {
		p.mu.Unlock()
		return nil, nil
	}
	state := pqMarketState{
		pVol:        p.pVol,
		qVol:        p.qVol,
		pqSpread:    p.qVol - p.pVol,
		havePVol:    true,
		haveQVol:    true,
		macroRegime: p.macroRegime,
		regimeScore: p.regimeScore,
		fomoScore:   p.fomoScore,
	}
	position := p.currentPosition
	p.mu.Unlock()

	decision := p.decideIntent(state, position)
	if decision.direction == nil {
		return nil, nil
	}

	var available float64
	if *decision.direction == domain.SideBuy {
		available = math.Max(0, p.cfg.MaxPositionSize-position)
	} else {
		available = math.Max(0, p.cfg.MaxPositionSize+position)
	}
	quantity := math.Min(p.cfg.IntentBaseSize, available)
	if quantity <= 0 {
		return nil, nil
	}

	action := domain.ActionBuyStraddle
	if *decision.direction == domain.SideSell {
		action = domain.ActionSellStraddle
	}

	confidence := math.Min(math.Abs(state.pqSpread)/p.cfg.VolThreshold, 1.0)

	metadata := map[string]any{
		"strategyType": "pq_vol_trader",
		"pVol":         state.pVol,
		"qVol":         state.qVol,
		"pqSpread":     state.pqSpread,
		"macroRegime":  state.macroRegime,
		"regimeScore":  state.regimeScore,
		"quantity":     quantity,
	}
	if state.fomoScore != nil {
		metadata["fomoScore"] = *state.fomoScore
	}
	for k, v := range decision.metadata {
		metadata[k] = v
	}

	intent := domain.StrategyIntent{
		IntentID:   uuid.NewString(),
		StrategyID: p.strategyID,
		Symbol:     p.cfg.Underlying,
		IntentType: decision.intentType,
		Action:     action,
		Direction:  decision.direction,
		Quantity:   quantity,
		Confidence: confidence,
		Reason:     decision.reason,
		Metadata:   metadata,
		TS:         time.Now().UTC(),
	}

	p.mu.Lock()
	p.lastSignalTime = time.Now()
	p.mu.Unlock()

	return &Output{Intent: &intent}, nil
}

