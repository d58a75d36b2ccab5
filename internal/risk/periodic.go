package risk

import (
	"context"
	"time"

	"github.com/aristath/trading-core/internal/alerting"
	"github.com/aristath/trading-core/internal/domain"
)

// PeriodicCheckJob is a scheduler.Job that re-runs the drawdown and
// position-ratio checks outside the order path and raises a RiskAlert when
// either is in breach, so operators learn about a deteriorating book even
// when no strategy happens to be trading. Grounded on
// risk_service.py's _periodic_risk_check.
type PeriodicCheckJob struct {
	svc *Service
}

// NewPeriodicCheckJob wraps svc as a schedulable job.
func NewPeriodicCheckJob(svc *Service) *PeriodicCheckJob { return &PeriodicCheckJob{svc: svc} }

func (j *PeriodicCheckJob) Name() string { return "periodic_risk_check" }

func (j *PeriodicCheckJob) Run() error {
	return j.svc.periodicCheck(context.Background())
}

func (s *Service) periodicCheck(ctx context.Context) error {
	totalValue, err := s.calculateTotalValue()
	if err != nil {
		return err
	}

	if approved, reason := s.checkDrawdown(totalValue); !approved {
		s.raiseAlert("global", "drawdown", reason, s.cfg.MaxDrawdownPct)
	}

	if approved, reason := s.checkPositionLimits(totalValue); !approved {
		s.raiseAlert("global", "position_limit", reason, s.cfg.MaxPositionRatio)
	}

	return s.updateRiskMetrics(ctx)
}

func (s *Service) raiseAlert(strategyID, alertType, message string, threshold float64) {
	alert := domain.RiskAlert{
		StrategyID:     strategyID,
		AlertType:      alertType,
		Severity:       domain.SeverityWarning,
		Message:        message,
		ThresholdValue: threshold,
		TS:             time.Now().UTC(),
	}
	if err := s.bus.Publish(domain.StreamRiskAlert, alert); err != nil {
		s.log.Error().Err(err).Msg("failed to publish risk alert")
		return
	}
	s.alerts.Emit(alerting.RiskAlertRaised, "risk_service", map[string]any{
		"alertType": alertType, "message": message,
	})
}
