package domain

// Stream names, logical (unprefixed) — internal/bus applies the
// configured namespace prefix on top of these.
const (
	StreamMarketTick               = "market.tick"
	StreamMarketVolSurface         = "market.vol_surface"
	StreamMarketMacroState         = "market.macro_state"
	StreamStrategyForecastVol      = "strategy.forecast.volatility"
	StreamStrategySignal           = "strategy.signal"
	StreamStrategyIntent           = "strategy.intent"
	StreamExecutionCommand         = "execution.command"
	StreamOrderCommand             = "order.command"
	StreamOrderFill                = "order.fill"
	StreamPositionUpdate           = "position.update"
	StreamPortfolioRisk            = "portfolio.risk"
	StreamRiskAlert                = "risk.alert"
)
