// Package strategy hosts the strategy plugin contract, the engine that
// owns plugin lifecycle and event fan-out, and the reference strategy
// plugins. Grounded on original_source's
// strategies/{base,engine,pq_vol_trader,grid_strategy,delta_hedger}.py.
package strategy

import (
	"context"

	"github.com/aristath/trading-core/internal/bus"
	"github.com/aristath/trading-core/internal/domain"
	"github.com/aristath/trading-core/internal/state"
)

// Capability is a strategy's registration-time metadata: what it trades,
// on what instruments, and under what constraints. Computed once at
// registration — the engine never reflects on a strategy per event.
type Capability struct {
	StrategyID       string
	StrategyName     string
	InstrumentTypes  []domain.InstrumentType
	Symbols          []string
	LeverageRequired bool
	MaxLeverage      float64
	MinCapital       float64
	Dependencies     []string
}

// Output is what a strategy handler may return: at most one of Intent or
// Signal, or neither.
type Output struct {
	Intent *domain.StrategyIntent
	Signal *domain.StrategySignal
}

// Context is the immutable handle strategies use to reach the bus and
// state store. Strategies never hold a back-reference to the engine —
// this is the only channel out, per spec.md §9's design note on cyclic
// references.
type Context struct {
	State *state.StrategyStore
	Bus   *bus.Bus
}

// GetPosition returns a strategy's own view of its position in symbol.
func (c *Context) GetPosition(strategyID, symbol string) (domain.PositionUpdate, bool, error) {
	return c.State.GetPosition(strategyID, symbol)
}

// GetBalance returns a strategy-scoped balance snapshot.
func (c *Context) GetBalance(strategyID string) (map[string]float64, error) {
	return c.State.GetBalance(strategyID)
}

// PublishSignal publishes a legacy StrategySignal directly to the bus.
func (c *Context) PublishSignal(signal domain.StrategySignal) error {
	return c.Bus.Publish(domain.StreamStrategySignal, signal)
}

// PublishIntent publishes a StrategyIntent directly to the bus, for
// strategies that produce intents outside of their OnTick return value
// (e.g. in response to a broadcast event).
func (c *Context) PublishIntent(intent domain.StrategyIntent) error {
	return c.Bus.Publish(domain.StreamStrategyIntent, intent)
}

// Strategy is the plugin contract every strategy implements.
type Strategy interface {
	// SetContext injects the immutable runtime handle. Called once,
	// before Initialize.
	SetContext(rc *Context)
	// Initialize performs one-shot setup.
	Initialize(ctx context.Context) error
	// Capability returns this strategy's registration metadata.
	Capability() Capability
	// Shutdown releases resources. Called before a strategyId is
	// reloaded and by UnloadStrategy.
	Shutdown(ctx context.Context) error
}

// Optional event handlers. A strategy implements whichever of these its
// logic needs; the engine computes which at registration time via type
// assertion, once, never per-event.

type TickHandler interface {
	OnTick(ctx context.Context, tick domain.MarketTick) (*Output, error)
}

type FillHandler interface {
	OnFill(ctx context.Context, fill domain.OrderFill) error
}

type PositionUpdateHandler interface {
	OnPositionUpdate(ctx context.Context, pos domain.PositionUpdate) error
}

type VolatilitySurfaceHandler interface {
	OnVolatilitySurface(ctx context.Context, vs domain.VolatilitySurface) (*Output, error)
}

type VolatilityForecastHandler interface {
	OnVolatilityForecast(ctx context.Context, vf domain.VolatilityForecast) (*Output, error)
}

type MacroStateHandler interface {
	OnMacroState(ctx context.Context, ms domain.MacroState) (*Output, error)
}

type PortfolioRiskHandler interface {
	OnPortfolioRisk(ctx context.Context, pr domain.PortfolioRisk) (*Output, error)
}

// Factory constructs a fresh strategy instance from its config blob.
type Factory func(strategyID string, config map[string]any) Strategy
