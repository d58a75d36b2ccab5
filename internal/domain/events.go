// Package domain defines the event envelopes exchanged over the bus and the
// entities the Portfolio Store owns.
package domain

import "time"

// Side is the direction of an order or fill.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// IsValid reports whether s is a recognized side.
func (s Side) IsValid() bool {
	return s == SideBuy || s == SideSell
}

// InstrumentType enumerates the instrument kinds a strategy can trade.
type InstrumentType string

const (
	InstrumentSpot      InstrumentType = "spot"
	InstrumentPerpetual InstrumentType = "perpetual"
	InstrumentFutures   InstrumentType = "futures"
	InstrumentOption    InstrumentType = "option"
)

// OptionType is call or put.
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// OrderType is the execution style of an OrderCommand.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderAction is the verb carried by an OrderCommand.
type OrderAction string

const (
	OrderCreate OrderAction = "create"
	OrderCancel OrderAction = "cancel"
	OrderModify OrderAction = "modify"
)

// Severity classes a RiskAlert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Regime is the macro/sentiment classification label.
type Regime string

const (
	RegimeBull        Regime = "bull"
	RegimeBear        Regime = "bear"
	RegimePanic       Regime = "panic"
	RegimeHighVolBull Regime = "high_vol_bull"
	RegimeChop        Regime = "chop"
	RegimeUnknown     Regime = "unknown"
)

// Option action verbs a StrategyIntent may carry; these route through the
// Option Execution Service rather than directly to order.command.
const (
	ActionBuyStraddle  = "buy_straddle"
	ActionSellStraddle = "sell_straddle"
	ActionBuyStrangle  = "buy_strangle"
	ActionSellStrangle = "sell_strangle"
)

// OptionActions is the set the Strategy Engine tests intent.Action against.
var OptionActions = map[string]bool{
	ActionBuyStraddle:  true,
	ActionSellStraddle: true,
	ActionBuyStrangle:  true,
	ActionSellStrangle: true,
}

// MarketTick is a single price observation for a symbol.
type MarketTick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Volume float64   `json:"volume"`
	Bid    *float64  `json:"bid,omitempty"`
	Ask    *float64  `json:"ask,omitempty"`
	TS     time.Time `json:"ts"`
}

// OptionGreeks holds the standard sensitivities of an option's price.
type OptionGreeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
}

// OptionChainEntry is one quoted contract on an options chain.
type OptionChainEntry struct {
	Underlying   string        `json:"underlying"`
	Strike       float64       `json:"strike"`
	Expiry       string        `json:"expiry"` // YYYY-MM-DD
	Type         OptionType    `json:"type"`
	Bid          float64       `json:"bid"`
	Ask          float64       `json:"ask"`
	Last         float64       `json:"last"`
	Volume       float64       `json:"volume"`
	OpenInterest float64       `json:"openInterest"`
	IV           float64       `json:"iv"`
	Greeks       *OptionGreeks `json:"greeks,omitempty"`
}

// VolatilitySurface is the options adapter's periodic snapshot of an
// underlying's option chain plus derived IV statistics.
type VolatilitySurface struct {
	Underlying     string                    `json:"underlying"`
	Entries        []OptionChainEntry        `json:"entries"`
	ATMIv          float64                   `json:"atmIV"`
	IVSkew         map[string]float64        `json:"ivSkew"`
	TermStructure  map[string]float64        `json:"termStructure"`
	TS             time.Time                 `json:"ts"`
}

// VolatilityForecast is a model-predicted volatility for a horizon.
type VolatilityForecast struct {
	Underlying    string  `json:"underlying"`
	Horizon       string  `json:"horizon"`
	PredictedVol  float64 `json:"predictedVol"`
	Confidence    float64 `json:"confidence"`
	Model         string  `json:"model"`
}

// MacroState is the periodically broadcast regime classification.
type MacroState struct {
	Regime      Regime   `json:"regime"`
	RegimeScore float64  `json:"regimeScore"`
	Sentiment   *float64 `json:"sentiment,omitempty"`
	Fomo        *float64 `json:"fomo,omitempty"`
	TS          time.Time `json:"ts"`
}

// StrategySignal is the legacy output shape: a direct buy/sell/hold/close
// recommendation at a target price.
type StrategySignal struct {
	StrategyID string    `json:"strategyId"`
	Type       string    `json:"type"` // buy, sell, hold, close
	Symbol     string    `json:"symbol"`
	Confidence float64   `json:"confidence"`
	TargetPrice *float64 `json:"targetPrice,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	TS         time.Time `json:"ts"`
}

// StrategyIntent is the modern strategy output: a high-level desired action
// before risk approval.
type StrategyIntent struct {
	IntentID   string         `json:"intentId"`
	StrategyID string         `json:"strategyId"`
	Symbol     string         `json:"symbol"`
	IntentType string         `json:"intentType"`
	Action     string         `json:"action"`
	Direction  *Side          `json:"direction,omitempty"`
	Quantity   float64        `json:"quantity"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	TS         time.Time      `json:"ts"`
}

// ExecutionCommand is a risk-approved intent, ready for the Option
// Execution Service to translate into concrete per-leg orders.
type ExecutionCommand struct {
	IntentID   string         `json:"intentId"`
	ApprovedBy string         `json:"approvedBy"`
	StrategyID string         `json:"strategyId"`
	Symbol     string         `json:"symbol"`
	Action     string         `json:"action"`
	Quantity   float64        `json:"quantity"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	TS         time.Time      `json:"ts"`
}

// OrderCommand is a concrete, exchange-addressable order instruction.
type OrderCommand struct {
	StrategyID string         `json:"strategyId"`
	Symbol     string         `json:"symbol"`
	Side       Side           `json:"side"`
	OrderType  OrderType      `json:"orderType"`
	Quantity   float64        `json:"quantity"`
	Price      *float64       `json:"price,omitempty"`
	Command    OrderAction    `json:"command"`
	OrderID    string         `json:"orderId,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	TS         time.Time      `json:"ts"`
}

// OrderFill is a confirmed execution of (part of) an order.
type OrderFill struct {
	StrategyID string    `json:"strategyId"`
	OrderID    string    `json:"orderId"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Fee        float64   `json:"fee"`
	TS         time.Time `json:"ts"`
}

// PositionUpdate notifies strategies of a change to their own position.
type PositionUpdate struct {
	StrategyID string    `json:"strategyId"`
	Symbol     string    `json:"symbol"`
	Quantity   float64   `json:"quantity"`
	AvgPrice   float64   `json:"avgPrice"`
	TS         time.Time `json:"ts"`
}

// RiskAlert surfaces a semantic risk condition to operators.
type RiskAlert struct {
	StrategyID    string    `json:"strategyId"`
	AlertType     string    `json:"alertType"`
	Severity      Severity  `json:"severity"`
	Message       string    `json:"message"`
	CurrentValue  float64   `json:"currentValue"`
	ThresholdValue float64  `json:"thresholdValue"`
	TS            time.Time `json:"ts"`
}

// PortfolioRisk is the aggregated Greeks/exposure snapshot.
type PortfolioRisk struct {
	TotalDelta    float64  `json:"totalDelta"`
	TotalGamma    float64  `json:"totalGamma"`
	TotalVega     float64  `json:"totalVega"`
	TotalTheta    float64  `json:"totalTheta"`
	TotalRho      float64  `json:"totalRho"`
	PositionRatio *float64 `json:"positionRatio,omitempty"`
	Leverage      *float64 `json:"leverage,omitempty"`
	TS            time.Time `json:"ts"`
}

// Position is the Portfolio Store's record of one symbol's holdings.
type Position struct {
	Symbol        string        `json:"symbol"`
	Quantity      float64       `json:"quantity"`
	AvgPrice      float64       `json:"avgPrice"`
	UnrealizedPnl float64       `json:"unrealizedPnl"`
	StrategyID    string        `json:"strategyId,omitempty"`
	Greeks        *OptionGreeks `json:"greeks,omitempty"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// VolatilityForecastRequest is the payload POSTed to the forecast service.
// macroRegime is optional: spec.md §9 standardizes on the richer contract
// that carries it, while still accepting omission for backward
// compatibility with the narrower variant.
type VolatilityForecastRequest struct {
	SentimentScoreLag1 float64 `json:"sentiment_score_lag1"`
	VolatilityLag1     float64 `json:"volatility_lag1"`
	MacroRegime        *string `json:"macro_regime,omitempty"`
}

// VolatilityForecastResponse is what the forecast service returns.
type VolatilityForecastResponse struct {
	PredictedVolatility   float64 `json:"predicted_volatility"`
	RecommendedGridSize   float64 `json:"recommended_grid_size"`
	ConfidenceLevel       float64 `json:"confidence_level"`
	MacroRegime           string  `json:"macro_regime"`
	RegimeScore           float64 `json:"regime_score"`
}

// SentimentResponse is what the sentiment service returns.
type SentimentResponse struct {
	WeightedScore    float64 `json:"weighted_score"`
	OverallSentiment string  `json:"overall_sentiment"`
	TweetsAnalyzed   int     `json:"tweets_analyzed"`
}

// Ticker is what the exchange client's fetchTicker returns.
type Ticker struct {
	Last       float64 `json:"last"`
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
	BaseVolume float64 `json:"baseVolume"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Open       float64 `json:"open"`
	Close      float64 `json:"close"`
	Change     float64 `json:"change"`
	Percentage float64 `json:"percentage"`
}
