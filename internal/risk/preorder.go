package risk

import (
	"context"
	"fmt"
	"math"

	"github.com/aristath/trading-core/internal/alerting"
	"github.com/aristath/trading-core/internal/domain"
	"github.com/aristath/trading-core/pkg/formulas"
)

// CheckPreOrder implements the Pre-Order Veto: a sequential drawdown check,
// position-ratio check, and order-impact simulation, all of which must
// approve. It short-circuits on the first veto, matching
// risk_service.py's check_pre_order. Satisfies strategy.RiskChecker.
func (s *Service) CheckPreOrder(ctx context.Context, strategyID, symbol string, direction domain.Side, quantity, price float64) (bool, string, error) {
	totalValue, err := s.calculateTotalValue()
	if err != nil {
		return false, "", err
	}

	if approved, reason := s.checkDrawdown(totalValue); !approved {
		s.alerts.Emit(alerting.DrawdownVeto, "risk_service", map[string]any{
			"strategyId": strategyID, "symbol": symbol, "reason": reason,
		})
		return false, reason, nil
	}

	if approved, reason := s.checkPositionLimits(totalValue); !approved {
		s.alerts.Emit(alerting.PositionLimitVeto, "risk_service", map[string]any{
			"strategyId": strategyID, "symbol": symbol, "reason": reason,
		})
		return false, reason, nil
	}

	if approved, reason, err := s.simulateOrderImpact(totalValue, symbol, direction, quantity, price); err != nil {
		return false, "", err
	} else if !approved {
		s.alerts.Emit(alerting.ImpactVeto, "risk_service", map[string]any{
			"strategyId": strategyID, "symbol": symbol, "reason": reason,
		})
		return false, reason, nil
	}

	return true, "", nil
}

// checkDrawdown runs formulas.CalculateDrawdownMetrics over the recorded
// PnL history plus the in-memory peak and the current valuation, then
// vetoes once the resulting drawdown from peak exceeds MaxDrawdownPct.
func (s *Service) checkDrawdown(totalValue float64) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	series := []float64{s.peakValue}
	if history, err := s.store.PnlHistory(); err == nil {
		for _, sample := range history {
			series = append(series, sample.TotalValue)
		}
	}
	series = append(series, totalValue)

	metrics := formulas.CalculateDrawdownMetrics(series)
	if metrics.PeakValue > s.peakValue {
		s.peakValue = metrics.PeakValue
	}
	_ = s.store.RecordDrawdown(totalValue, metrics.PeakValue, metrics.CurrentDrawdown)

	if metrics.CurrentDrawdown > s.cfg.MaxDrawdownPct {
		return false, fmt.Sprintf("drawdown %.2f%% exceeds max %.2f%%", metrics.CurrentDrawdown*100, s.cfg.MaxDrawdownPct*100)
	}
	return true, ""
}

// checkPositionLimits vetoes if the aggregate position value, as a
// fraction of total portfolio value, falls outside
// [MinPositionRatio, MaxPositionRatio]. With zero total value the check is
// trivially approved (nothing to ratio against).
func (s *Service) checkPositionLimits(totalValue float64) (bool, string) {
	if totalValue <= 0 {
		return true, ""
	}

	positions, err := s.store.AllPositions()
	if err != nil {
		return true, ""
	}

	var positionValue float64
	for _, pos := range positions {
		positionValue += math.Abs(pos.Quantity * pos.AvgPrice)
	}
	ratio := positionValue / totalValue

	if ratio > s.cfg.MaxPositionRatio {
		return false, fmt.Sprintf("position ratio %.2f%% exceeds max %.2f%%", ratio*100, s.cfg.MaxPositionRatio*100)
	}
	if ratio < s.cfg.MinPositionRatio {
		return false, fmt.Sprintf("position ratio %.2f%% below min %.2f%%", ratio*100, s.cfg.MinPositionRatio*100)
	}
	return true, ""
}

// simulateOrderImpact checks the order against two forward-looking limits:
// the resulting single-name concentration, and the resulting gross
// leverage across the whole book.
func (s *Service) simulateOrderImpact(totalValue float64, symbol string, direction domain.Side, quantity, price float64) (bool, string, error) {
	if totalValue <= 0 {
		return true, "", nil
	}

	existing, _, err := s.store.GetPosition(symbol)
	if err != nil {
		return false, "", err
	}

	signedQty := quantity
	if direction == domain.SideSell {
		signedQty = -quantity
	}
	newQty := existing.Quantity + signedQty

	newPositionValue := math.Abs(newQty * price)
	positionPct := newPositionValue / totalValue
	if positionPct > s.cfg.MaxSinglePositionPct {
		return false, fmt.Sprintf("single-position concentration %.2f%% exceeds max %.2f%%", positionPct*100, s.cfg.MaxSinglePositionPct*100), nil
	}

	positions, err := s.store.AllPositions()
	if err != nil {
		return false, "", err
	}
	var currentGrossNotional float64
	for _, pos := range positions {
		currentGrossNotional += math.Abs(pos.Quantity * pos.AvgPrice)
	}
	orderNotional := math.Abs(quantity * price)
	newGrossNotional := currentGrossNotional + orderNotional

	newLeverage := newGrossNotional / totalValue
	if newLeverage > s.cfg.MaxGrossLeverage {
		return false, fmt.Sprintf("gross leverage %.2fx exceeds max %.2fx", newLeverage, s.cfg.MaxGrossLeverage), nil
	}

	return true, "", nil
}
