package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/trading-core/internal/alerting"
	"github.com/aristath/trading-core/internal/bus"
	"github.com/aristath/trading-core/internal/domain"
)

// RiskChecker is the Strategy Engine's view of the Risk Service, kept as
// an interface here so internal/strategy never imports internal/risk
// (which in turn never imports internal/strategy): the intent pipeline is
// the only coupling between the two components, and it flows one way.
type RiskChecker interface {
	CheckPreOrder(ctx context.Context, strategyID, symbol string, direction domain.Side, quantity, price float64) (approved bool, reason string, err error)
}

// registered bundles a live strategy instance with its precomputed
// capability map.
type registered struct {
	strategy Strategy
	cap      Capability

	tick           TickHandler
	fill           FillHandler
	positionUpdate PositionUpdateHandler
	volSurface     VolatilitySurfaceHandler
	volForecast    VolatilityForecastHandler
	macroState     MacroStateHandler
	portfolioRisk  PortfolioRiskHandler
}

// Engine owns the strategy plugin lifecycle, subscribes to every input
// stream, and drives the intent pipeline.
type Engine struct {
	log    zerolog.Logger
	bus    *bus.Bus
	risk   RiskChecker
	alerts *alerting.Manager
	rc     *Context

	group       string
	blockWindow time.Duration

	mu         sync.RWMutex
	strategies map[string]*registered
}

// Config configures an Engine.
type Config struct {
	Bus         *bus.Bus
	Risk        RiskChecker
	Alerts      *alerting.Manager
	RuntimeCtx  *Context
	Group       string // consumer group name, e.g. "engine"
	BlockWindow time.Duration
	Log         zerolog.Logger
}

// New creates an Engine.
func New(cfg Config) *Engine {
	block := cfg.BlockWindow
	if block <= 0 {
		block = 5 * time.Second
	}
	group := cfg.Group
	if group == "" {
		group = "engine"
	}
	return &Engine{
		log:         cfg.Log.With().Str("component", "strategy_engine").Logger(),
		bus:         cfg.Bus,
		risk:        cfg.Risk,
		alerts:      cfg.Alerts,
		rc:          cfg.RuntimeCtx,
		group:       group,
		blockWindow: block,
		strategies:  make(map[string]*registered),
	}
}

// LoadStrategy instantiates, contextualizes, and initializes a strategy,
// adding it to the live set. If strategyID is already loaded, the
// existing instance is shut down first.
func (e *Engine) LoadStrategy(ctx context.Context, strategyID string, factory Factory, config map[string]any) error {
	e.mu.Lock()
	if existing, ok := e.strategies[strategyID]; ok {
		delete(e.strategies, strategyID)
		e.mu.Unlock()
		if err := existing.strategy.Shutdown(ctx); err != nil {
			e.log.Warn().Err(err).Str("strategy_id", strategyID).Msg("error shutting down previous instance on reload")
		}
		e.mu.Lock()
	}
	e.mu.Unlock()

	s := factory(strategyID, config)
	s.SetContext(e.rc)
	if err := s.Initialize(ctx); err != nil {
		return fmt.Errorf("strategy %s: initialize: %w", strategyID, err)
	}

	reg := &registered{strategy: s, cap: s.Capability()}
	reg.tick, _ = s.(TickHandler)
	reg.fill, _ = s.(FillHandler)
	reg.positionUpdate, _ = s.(PositionUpdateHandler)
	reg.volSurface, _ = s.(VolatilitySurfaceHandler)
	reg.volForecast, _ = s.(VolatilityForecastHandler)
	reg.macroState, _ = s.(MacroStateHandler)
	reg.portfolioRisk, _ = s.(PortfolioRiskHandler)

	e.mu.Lock()
	e.strategies[strategyID] = reg
	e.mu.Unlock()

	e.log.Info().Str("strategy_id", strategyID).Str("strategy_name", reg.cap.StrategyName).Msg("strategy loaded")
	return nil
}

// UnloadStrategy shuts down and removes a live strategy.
func (e *Engine) UnloadStrategy(ctx context.Context, strategyID string) error {
	e.mu.Lock()
	reg, ok := e.strategies[strategyID]
	if ok {
		delete(e.strategies, strategyID)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return reg.strategy.Shutdown(ctx)
}

func (e *Engine) snapshot() map[string]*registered {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]*registered, len(e.strategies))
	for k, v := range e.strategies {
		out[k] = v
	}
	return out
}

// isolate runs fn and recovers from any panic, logging with strategyId
// context instead of letting it tear down the engine. This is the "log
// and continue" boundary spec.md §9 asks for at the top of each task
// loop — applied here at the per-dispatch granularity since dispatch,
// not the loop, is the failure unit.
func (e *Engine) isolate(strategyID string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("strategy_id", strategyID).Interface("panic", r).Msg("strategy panicked during dispatch")
			if e.alerts != nil {
				e.alerts.EmitError("strategy_engine", fmt.Errorf("panic: %v", r), map[string]any{"strategy_id": strategyID})
			}
		}
	}()
	if err := fn(); err != nil {
		e.log.Error().Err(err).Str("strategy_id", strategyID).Msg("strategy dispatch failed")
	}
}

// Start subscribes to every input stream and runs until ctx is cancelled.
func (e *Engine) Start(ctx context.Context, wg *sync.WaitGroup) {
	streams := []struct {
		name    string
		handler func(context.Context, bus.Delivery)
	}{
		{domain.StreamMarketTick, e.handleTick},
		{domain.StreamOrderFill, e.handleFill},
		{domain.StreamPositionUpdate, e.handlePositionUpdate},
		{domain.StreamStrategyIntent, e.handleIntent},
		{domain.StreamMarketVolSurface, e.handleVolSurface},
		{domain.StreamStrategyForecastVol, e.handleVolForecast},
		{domain.StreamPortfolioRisk, e.handlePortfolioRisk},
		{domain.StreamMarketMacroState, e.handleMacroState},
	}

	for _, s := range streams {
		wg.Add(1)
		go func(name string, handler func(context.Context, bus.Delivery)) {
			defer wg.Done()
			for d := range e.bus.Subscribe(ctx, name, e.group, e.blockWindow) {
				handler(ctx, d)
			}
		}(s.name, s.handler)
	}

	e.log.Info().Msg("strategy engine started")
}

func (e *Engine) handleTick(ctx context.Context, d bus.Delivery) {
	var tick domain.MarketTick
	if !e.bus.DecodeOrAck(d, &tick) {
		return
	}
	defer d.Ack()

	for id, reg := range e.snapshot() {
		if reg.tick == nil || !contains(reg.cap.Symbols, tick.Symbol) {
			continue
		}
		strategyID := id
		handler := reg.tick
		e.isolate(strategyID, func() error {
			out, err := handler.OnTick(ctx, tick)
			if err != nil {
				return err
			}
			e.handleOutput(ctx, strategyID, out)
			return nil
		})
	}
}

func (e *Engine) handleFill(ctx context.Context, d bus.Delivery) {
	var fill domain.OrderFill
	if !e.bus.DecodeOrAck(d, &fill) {
		return
	}
	defer d.Ack()

	reg, ok := e.snapshot()[fill.StrategyID]
	if !ok || reg.fill == nil {
		return
	}
	e.isolate(fill.StrategyID, func() error { return reg.fill.OnFill(ctx, fill) })
}

func (e *Engine) handlePositionUpdate(ctx context.Context, d bus.Delivery) {
	var pos domain.PositionUpdate
	if !e.bus.DecodeOrAck(d, &pos) {
		return
	}
	defer d.Ack()

	reg, ok := e.snapshot()[pos.StrategyID]
	if !ok || reg.positionUpdate == nil {
		return
	}
	e.isolate(pos.StrategyID, func() error { return reg.positionUpdate.OnPositionUpdate(ctx, pos) })
}

func (e *Engine) handleVolSurface(ctx context.Context, d bus.Delivery) {
	var vs domain.VolatilitySurface
	if !e.bus.DecodeOrAck(d, &vs) {
		return
	}
	defer d.Ack()

	for id, reg := range e.snapshot() {
		if reg.volSurface == nil {
			continue
		}
		strategyID := id
		handler := reg.volSurface
		e.isolate(strategyID, func() error {
			out, err := handler.OnVolatilitySurface(ctx, vs)
			if err != nil {
				return err
			}
			e.handleOutput(ctx, strategyID, out)
			return nil
		})
	}
}

func (e *Engine) handleVolForecast(ctx context.Context, d bus.Delivery) {
	var vf domain.VolatilityForecast
	if !e.bus.DecodeOrAck(d, &vf) {
		return
	}
	defer d.Ack()

	for id, reg := range e.snapshot() {
		if reg.volForecast == nil {
			continue
		}
		strategyID := id
		handler := reg.volForecast
		e.isolate(strategyID, func() error {
			out, err := handler.OnVolatilityForecast(ctx, vf)
			if err != nil {
				return err
			}
			e.handleOutput(ctx, strategyID, out)
			return nil
		})
	}
}

func (e *Engine) handleMacroState(ctx context.Context, d bus.Delivery) {
	var ms domain.MacroState
	if !e.bus.DecodeOrAck(d, &ms) {
		return
	}
	defer d.Ack()

	for id, reg := range e.snapshot() {
		if reg.macroState == nil {
			continue
		}
		strategyID := id
		handler := reg.macroState
		e.isolate(strategyID, func() error {
			out, err := handler.OnMacroState(ctx, ms)
			if err != nil {
				return err
			}
			e.handleOutput(ctx, strategyID, out)
			return nil
		})
	}
}

func (e *Engine) handlePortfolioRisk(ctx context.Context, d bus.Delivery) {
	var pr domain.PortfolioRisk
	if !e.bus.DecodeOrAck(d, &pr) {
		return
	}
	defer d.Ack()

	for id, reg := range e.snapshot() {
		if reg.portfolioRisk == nil {
			continue
		}
		strategyID := id
		handler := reg.portfolioRisk
		e.isolate(strategyID, func() error {
			out, err := handler.OnPortfolioRisk(ctx, pr)
			if err != nil {
				return err
			}
			e.handleOutput(ctx, strategyID, out)
			return nil
		})
	}
}

// handleIntent consumes intents published directly to the bus (as opposed
// to ones returned synchronously from a handler, which flow through
// handleOutput -> processIntent without a publish round-trip).
func (e *Engine) handleIntent(ctx context.Context, d bus.Delivery) {
	var intent domain.StrategyIntent
	if !e.bus.DecodeOrAck(d, &intent) {
		return
	}
	defer d.Ack()
	e.processIntent(ctx, intent)
}

func (e *Engine) handleOutput(ctx context.Context, strategyID string, out *Output) {
	if out == nil {
		return
	}
	if out.Intent != nil {
		intent := *out.Intent
		intent.StrategyID = strategyID
		e.processIntent(ctx, intent)
	}
	if out.Signal != nil {
		signal := *out.Signal
		signal.StrategyID = strategyID
		e.processLegacySignal(ctx, signal)
	}
}

func referencePrice(metadata map[string]any) float64 {
	if metadata == nil {
		return 0
	}
	if v, ok := metadata["reference_price"]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return 0
}

// processIntent is the central algorithm of spec.md §4.3: intents with no
// direction are discarded, the remainder runs the pre-order risk check,
// and approved intents are translated into either an ExecutionCommand
// (option actions) or a market OrderCommand.
func (e *Engine) processIntent(ctx context.Context, intent domain.StrategyIntent) {
	if intent.Direction == nil {
		e.log.Debug().Str("strategy_id", intent.StrategyID).Msg("intent has no direction, dropping")
		return
	}
	if intent.Quantity <= 0 {
		e.log.Debug().Str("strategy_id", intent.StrategyID).Msg("intent quantity is zero after clipping, dropping silently")
		return
	}
	if intent.IntentID == "" {
		intent.IntentID = uuid.NewString()
	}

	price := referencePrice(intent.Metadata)
	approved, reason, err := e.risk.CheckPreOrder(ctx, intent.StrategyID, intent.Symbol, *intent.Direction, intent.Quantity, price)
	if err != nil {
		e.log.Error().Err(err).Str("strategy_id", intent.StrategyID).Str("intent_id", intent.IntentID).Msg("risk check failed")
		return
	}
	if !approved {
		e.log.Warn().Str("strategy_id", intent.StrategyID).Str("intent_id", intent.IntentID).Str("reason", reason).Msg("intent vetoed by risk service")
		return
	}

	if domain.OptionActions[intent.Action] {
		cmd := domain.ExecutionCommand{
			IntentID:   intent.IntentID,
			ApprovedBy: "risk_service",
			StrategyID: intent.StrategyID,
			Symbol:     intent.Symbol,
			Action:     intent.Action,
			Quantity:   intent.Quantity,
			Metadata:   intent.Metadata,
			TS:         time.Now().UTC(),
		}
		if err := e.bus.Publish(domain.StreamExecutionCommand, cmd); err != nil {
			e.log.Error().Err(err).Msg("failed to publish execution command")
		}
		return
	}

	cmd := domain.OrderCommand{
		StrategyID: intent.StrategyID,
		Symbol:     intent.Symbol,
		Side:       *intent.Direction,
		OrderType:  domain.OrderTypeMarket,
		Quantity:   intent.Quantity,
		Command:    domain.OrderCreate,
		Metadata:   map[string]any{"intentId": intent.IntentID},
		TS:         time.Now().UTC(),
	}
	if err := e.bus.Publish(domain.StreamOrderCommand, cmd); err != nil {
		e.log.Error().Err(err).Msg("failed to publish order command")
	}
}

// processLegacySignal runs the same pre-order risk check as the intent
// path and, if approved, publishes a limit order at the signal's target
// price. Only buy/sell signal types are actionable; this path coexists
// with the intent path per spec.md §4.3.
func (e *Engine) processLegacySignal(ctx context.Context, signal domain.StrategySignal) {
	if signal.Type != "buy" && signal.Type != "sell" {
		return
	}
	direction := domain.SideBuy
	if signal.Type == "sell" {
		direction = domain.SideSell
	}

	quantity := 0.1
	if signal.Metadata != nil {
		if v, ok := signal.Metadata["quantity"].(float64); ok && v > 0 {
			quantity = v
		}
	}
	price := 0.0
	if signal.TargetPrice != nil {
		price = *signal.TargetPrice
	}

	approved, reason, err := e.risk.CheckPreOrder(ctx, signal.StrategyID, signal.Symbol, direction, quantity, price)
	if err != nil {
		e.log.Error().Err(err).Str("strategy_id", signal.StrategyID).Msg("risk check failed for legacy signal")
		return
	}
	if !approved {
		e.log.Warn().Str("strategy_id", signal.StrategyID).Str("reason", reason).Msg("legacy signal vetoed by risk service")
		return
	}

	priceCopy := price
	cmd := domain.OrderCommand{
		StrategyID: signal.StrategyID,
		Symbol:     signal.Symbol,
		Side:       direction,
		OrderType:  domain.OrderTypeLimit,
		Quantity:   quantity,
		Price:      &priceCopy,
		Command:    domain.OrderCreate,
		TS:         time.Now().UTC(),
	}
	if err := e.bus.Publish(domain.StreamOrderCommand, cmd); err != nil {
		e.log.Error().Err(err).Msg("failed to publish order command for legacy signal")
	}
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}
