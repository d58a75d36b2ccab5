// Package alerting provides structured, logged emission of risk-domain
// events. Adapted from the teacher's internal/events.Manager: same
// Emit/RawJSON-log shape, EventType vocabulary replaced with the trading
// core's own. This is separate from the bus — it is host-level
// observability, not inter-component messaging (the host's notification
// plumbing is out of scope per spec.md §1).
package alerting

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// EventType names a class of alerting event.
type EventType string

const (
	DrawdownVeto     EventType = "DRAWDOWN_VETO"
	PositionLimitVeto EventType = "POSITION_LIMIT_VETO"
	ImpactVeto       EventType = "IMPACT_VETO"
	FillProcessed    EventType = "FILL_PROCESSED"
	MacroBroadcast   EventType = "MACRO_BROADCAST"
	RiskAlertRaised  EventType = "RISK_ALERT_RAISED"
	StrategyPanic    EventType = "STRATEGY_PANIC"
)

// Event is a structured, loggable occurrence.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Component string         `json:"component"`
}

// Manager emits Events as structured log lines.
type Manager struct {
	log zerolog.Logger
}

// NewManager creates a Manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log.With().Str("service", "alerting").Logger()}
}

// Emit logs an Event at Info level with its JSON payload attached.
func (m *Manager) Emit(eventType EventType, component string, data map[string]any) {
	event := Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data, Component: component}
	eventJSON, _ := json.Marshal(event)
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("component", component).
		RawJSON("event", eventJSON).
		Msg("alerting event emitted")
}

// EmitError logs an error-carrying Event at Warn level.
func (m *Manager) EmitError(component string, err error, context map[string]any) {
	data := map[string]any{"error": err.Error(), "context": context}
	event := Event{Type: StrategyPanic, Timestamp: time.Now().UTC(), Data: data, Component: component}
	eventJSON, _ := json.Marshal(event)
	m.log.Warn().
		Str("event_type", string(StrategyPanic)).
		Str("component", component).
		RawJSON("event", eventJSON).
		Msg("alerting event emitted")
}
