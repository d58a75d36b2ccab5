// Package execution implements the Option Execution Service: the
// translation layer from strategy-language intents ("buy_straddle") to
// exchange-language per-leg orders. Grounded on
// original_source's execution/option_execution_service.py.
package execution

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/trading-core/internal/bus"
	"github.com/aristath/trading-core/internal/domain"
)

// Service consumes execution.command and market.vol_surface, translating
// approved option actions into concrete per-leg order.command events.
type Service struct {
	bus *bus.Bus
	log zerolog.Logger

	mu      sync.RWMutex
	surfaces map[string]domain.VolatilitySurface
}

// New constructs a Service.
func New(b *bus.Bus, log zerolog.Logger) *Service {
	return &Service{
		bus:      b,
		log:      log.With().Str("component", "execution_service").Logger(),
		surfaces: make(map[string]domain.VolatilitySurface),
	}
}

// Start begins consuming execution commands and vol-surface updates until
// ctx is cancelled.
func (s *Service) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(2)

	go func() {
		defer wg.Done()
		for d := range s.bus.Subscribe(ctx, domain.StreamExecutionCommand, "execution_service", 5*time.Second) {
			var cmd domain.ExecutionCommand
			if !s.bus.DecodeOrAck(d, &cmd) {
				continue
			}
			s.processCommand(cmd)
			d.Ack()
		}
	}()

	go func() {
		defer wg.Done()
		for d := range s.bus.Subscribe(ctx, domain.StreamMarketVolSurface, "execution_service", 5*time.Second) {
			var surface domain.VolatilitySurface
			if !s.bus.DecodeOrAck(d, &surface) {
				continue
			}
			s.mu.Lock()
			s.surfaces[surface.Underlying] = surface
			s.mu.Unlock()
			d.Ack()
		}
	}()

	s.log.Info().Msg("execution service started")
}

func (s *Service) processCommand(cmd domain.ExecutionCommand) {
	if cmd.Action == "" {
		return
	}

	switch cmd.Action {
	case domain.ActionBuyStraddle:
		s.executeStraddle(cmd, domain.SideBuy)
	case domain.ActionSellStraddle:
		s.executeStraddle(cmd, domain.SideSell)
	case domain.ActionBuyStrangle:
		s.executeStrangle(cmd, domain.SideBuy)
	case domain.ActionSellStrangle:
		s.executeStrangle(cmd, domain.SideSell)
	default:
		s.log.Debug().Str("action", cmd.Action).Msg("unrecognized execution action")
	}
}

// executeStraddle emits one limit order per ATM leg (call + put at the
// same strike and nearest expiry).
func (s *Service) executeStraddle(cmd domain.ExecutionCommand, side domain.Side) {
	s.mu.RLock()
	surface, ok := s.surfaces[cmd.Symbol]
	s.mu.RUnlock()
	if !ok {
		s.log.Warn().Str("underlying", cmd.Symbol).Msg("no vol surface cached, cannot execute straddle")
		return
	}

	legs := findATMOptions(surface)
	if len(legs) == 0 {
		s.log.Warn().Str("underlying", cmd.Symbol).Msg("no ATM options found")
		return
	}

	quantity := cmd.Quantity
	if quantity <= 0 {
		if v, ok := cmd.Metadata["quantity"].(float64); ok {
			quantity = v
		} else {
			quantity = 0.1
		}
	}

	for _, leg := range legs {
		symbol, ok := formatLegSymbol(leg)
		if !ok {
			s.log.Warn().Str("underlying", cmd.Symbol).Msg("cannot format option leg symbol")
			continue
		}

		price := leg.Last
		order := domain.OrderCommand{
			StrategyID: cmd.StrategyID,
			Symbol:     symbol,
			Side:       side,
			OrderType:  domain.OrderTypeLimit,
			Quantity:   quantity,
			Price:      &price,
			Command:    domain.OrderCreate,
			Metadata: map[string]any{
				"intentId":   cmd.IntentID,
				"optionType": string(leg.Type),
				"strike":     leg.Strike,
				"expiry":     leg.Expiry,
				"strategy":   "straddle",
			},
		}

		if err := s.bus.Publish(domain.StreamOrderCommand, order); err != nil {
			s.log.Error().Err(err).Str("symbol", symbol).Msg("failed to publish leg order")
			continue
		}
		s.log.Info().Str("side", string(side)).Str("symbol", symbol).Float64("strike", leg.Strike).Msg("published straddle leg")
	}
}

// executeStrangle is not yet implemented, matching original_source's own
// stub (_execute_strangle logs and returns).
func (s *Service) executeStrangle(cmd domain.ExecutionCommand, side domain.Side) {
	s.log.Info().Str("strategyId", cmd.StrategyID).Msg("strangle execution not yet implemented")
}

// findATMOptions picks the nearest expiry, then the median strike among
// that expiry's unique strikes, and returns every entry at that
// (expiry, strike) pair — i.e. the call and the put.
func findATMOptions(surface domain.VolatilitySurface) []domain.OptionChainEntry {
	if len(surface.Entries) == 0 {
		return nil
	}

	expirySet := make(map[string]bool)
	for _, e := range surface.Entries {
		expirySet[e.Expiry] = true
	}
	expiries := make([]string, 0, len(expirySet))
	for e := range expirySet {
		expiries = append(expiries, e)
	}
	sort.Strings(expiries)
	nearestExpiry := expiries[0]

	var nearest []domain.OptionChainEntry
	strikeSet := make(map[float64]bool)
	for _, e := range surface.Entries {
		if e.Expiry != nearestExpiry {
			continue
		}
		nearest = append(nearest, e)
		strikeSet[e.Strike] = true
	}

	strikes := make([]float64, 0, len(strikeSet))
	for k := range strikeSet {
		strikes = append(strikes, k)
	}
	sort.Float64s(strikes)
	if len(strikes) == 0 {
		return nil
	}
	atmStrike := strikes[len(strikes)/2]

	var atm []domain.OptionChainEntry
	for _, e := range nearest {
		if e.Strike == atmStrike {
			atm = append(atm, e)
		}
	}
	return atm
}

// formatLegSymbol converts an OptionChainEntry's string expiry
// ("YYYY-MM-DD") into the canonical contract symbol.
func formatLegSymbol(leg domain.OptionChainEntry) (string, bool) {
	expiry, err := time.Parse("2006-01-02", leg.Expiry)
	if err != nil {
		return "", false
	}
	return domain.FormatOptionSymbol(leg.Underlying, expiry, leg.Strike, leg.Type), true
}
