package strategy

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/trading-core/internal/domain"
)

// DeltaHedgerConfig configures a DeltaHedger instance.
type DeltaHedgerConfig struct {
	Underlying      string
	HedgeInstrument string
	DeltaThreshold  float64
	RebalanceInterval time.Duration
}

func defaultedHedgerConfig(cfg DeltaHedgerConfig) DeltaHedgerConfig {
	if cfg.Underlying == "" {
		cfg.Underlying = "BTC/USDT"
	}
	if cfg.HedgeInstrument == "" {
		cfg.HedgeInstrument = "BTC/USDT:USDT"
	}
	if cfg.DeltaThreshold <= 0 {
		cfg.DeltaThreshold = 0.05
	}
	if cfg.RebalanceInterval <= 0 {
		cfg.RebalanceInterval = 60 * time.Second
	}
	return cfg
}

// DeltaHedger keeps the portfolio's aggregate option delta near zero by
// trading the opposite sign in a hedge instrument (typically a perpetual)
// whenever the broadcast PortfolioRisk's total delta exceeds a threshold —
// the core of gamma scalping: price up moves delta positive, the hedger
// sells into strength; price down moves delta negative, it buys into
// weakness. Grounded on original_source's strategies/delta_hedger.py.
type DeltaHedger struct {
	strategyID string
	cfg        DeltaHedgerConfig
	rc         *Context

	mu              sync.Mutex
	currentDelta    float64
	lastHedgeTime   time.Time
	hedgePosition   float64
}

// NewDeltaHedger is a Factory constructing DeltaHedger instances.
func NewDeltaHedger(strategyID string, config map[string]any) Strategy {
	cfg := DeltaHedgerConfig{}
	if v, ok := config["underlying"].(string); ok {
		cfg.Underlying = v
	}
	if v, ok := config["hedgeInstrument"].(string); ok {
		cfg.HedgeInstrument = v
	}
	if v, ok := config["deltaThreshold"].(float64); ok {
		cfg.DeltaThreshold = v
	}
	return &DeltaHedger{strategyID: strategyID, cfg: defaultedHedgerConfig(cfg)}
}

func (d *DeltaHedger) SetContext(rc *Context) { d.rc = rc }
func (d *DeltaHedger) Initialize(ctx context.Context) error { return nil }

func (d *DeltaHedger) Capability() Capability {
	return Capability{
		StrategyID:       d.strategyID,
		StrategyName:     "DeltaHedger",
		InstrumentTypes:  []domain.InstrumentType{domain.InstrumentPerpetual, domain.InstrumentFutures},
		Symbols:          []string{d.cfg.HedgeInstrument},
		LeverageRequired: true,
		MaxLeverage:      5.0,
		MinCapital:       100.0,
		Dependencies:     []string{"portfolio_store", "risk_service"},
	}
}

func (d *DeltaHedger) Shutdown(ctx context.Context) error { return nil }

// OnPortfolioRisk is this strategy's only driver: a broadcast delta update
// either falls within tolerance (no-op) or triggers a hedge intent sized
// to bring total delta back to zero, subject to a rebalance cooldown.
func (d *DeltaHedger) OnPortfolioRisk(ctx context.Context, pr domain.PortfolioRisk) (*Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.currentDelta = pr.TotalDelta

	if math.Abs(pr.TotalDelta) < d.cfg.DeltaThreshold {
		return nil, nil
	}
	if !d.lastHedgeTime.IsZero() && time.Since(d.lastHedgeTime) < d.cfg.RebalanceInterval {
		return nil, nil
	}

	hedgeQuantity := -pr.TotalDelta
	direction := domain.SideSell
	if hedgeQuantity > 0 {
		direction = domain.SideBuy
	}

	intent := domain.StrategyIntent{
		IntentID:   uuid.NewString(),
		StrategyID: d.strategyID,
		Symbol:     d.cfg.HedgeInstrument,
		IntentType: "delta_hedge",
		Action:     "delta_hedge",
		Direction:  &direction,
		Quantity:   math.Abs(hedgeQuantity),
		Confidence: 1.0,
		Reason:     "maintain_delta_neutral",
		Metadata: map[string]any{
			"strategyType":  "delta_hedger",
			"currentDelta":  pr.TotalDelta,
			"hedgeQuantity": math.Abs(hedgeQuantity),
		},
		TS: time.Now().UTC(),
	}

	d.lastHedgeTime = time.Now()
	return &Output{Intent: &intent}, nil
}

func (d *DeltaHedger) OnFill(ctx context.Context, fill domain.OrderFill) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fill.Side == domain.SideBuy {
		d.hedgePosition += fill.Quantity
	} else {
		d.hedgePosition -= fill.Quantity
	}
	return nil
}

func (d *DeltaHedger) OnPositionUpdate(ctx context.Context, pos domain.PositionUpdate) error {
	if pos.Symbol != d.cfg.HedgeInstrument {
		return nil
	}
	d.mu.Lock()
	d.hedgePosition = pos.Quantity
	d.mu.Unlock()
	return nil
}
