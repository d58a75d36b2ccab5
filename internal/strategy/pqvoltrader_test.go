package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/trading-core/internal/domain"
)

func newTestPQVolTrader() *PQVolTrader {
	s := NewPQVolTrader("pq1", map[string]any{"underlying": "BTC/USDT"}).(*PQVolTrader)
	return s
}

func TestPQVolTraderBuysStraddleWhenQExceedsP(t *testing.T) {
	p := newTestPQVolTrader()

	out, err := p.OnVolatilitySurface(context.Background(), domain.VolatilitySurface{Underlying: "BTC/USDT", ATMIv: 0.30})
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = p.OnVolatilityForecast(context.Background(), domain.VolatilityForecast{Underlying: "BTC/USDT", Horizon: "24h", PredictedVol: 0.40})
	require.NoError(t, err)
	require.NotNil(t, out)
	require.NotNil(t, out.Intent)
	assert.Equal(t, domain.ActionBuyStraddle, out.Intent.Action)
	assert.Equal(t, domain.SideBuy, *out.Intent.Direction)
	assert.InDelta(t, 0.1, out.Intent.Quantity, 1e-9)
}

func TestPQVolTraderSellsStraddleWhenPExceedsQ(t *testing.T) {
	p := newTestPQVolTrader()
	_, _ = p.OnVolatilityForecast(context.Background(), domain.VolatilityForecast{Underlying: "BTC/USDT", Horizon: "24h", PredictedVol: 0.20})
	out, err := p.OnVolatilitySurface(context.Background(), domain.VolatilitySurface{Underlying: "BTC/USDT", ATMIv: 0.35})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, domain.ActionSellStraddle, out.Intent.Action)
	assert.Equal(t, domain.SideSell, *out.Intent.Direction)
}

func TestPQVolTraderHoldsBelowThreshold(t *testing.T) {
	p := newTestPQVolTrader()
	_, _ = p.OnVolatilityForecast(context.Background(), domain.VolatilityForecast{Underlying: "BTC/USDT", Horizon: "24h", PredictedVol: 0.31})
	out, err := p.OnVolatilitySurface(context.Background(), domain.VolatilitySurface{Underlying: "BTC/USDT", ATMIv: 0.30})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestPQVolTraderFomoVetoSuppressesIntent(t *testing.T) {
	p := newTestPQVolTrader()
	fomo := 0.9
	_, _ = p.OnMacroState(context.Background(), domain.MacroState{Fomo: &fomo})
	_, _ = p.OnVolatilityForecast(context.Background(), domain.VolatilityForecast{Underlying: "BTC/USDT", Horizon: "24h", PredictedVol: 0.40})
	out, err := p.OnVolatilitySurface(context.Background(), domain.VolatilitySurface{Underlying: "BTC/USDT", ATMIv: 0.30})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestPQVolTraderCooldownSuppressesRepeatSignal(t *testing.T) {
	p := newTestPQVolTrader()
	p.cfg.SignalCooldown = time.Hour

	_, _ = p.OnVolatilityForecast(context.Background(), domain.VolatilityForecast{Underlying: "BTC/USDT", Horizon: "24h", PredictedVol: 0.40})
	out, err := p.OnVolatilitySurface(context.Background(), domain.VolatilitySurface{Underlying: "BTC/USDT", ATMIv: 0.30})
	require.NoError(t, err)
	require.NotNil(t, out)

	out2, err := p.OnVolatilitySurface(context.Background(), domain.VolatilitySurface{Underlying: "BTC/USDT", ATMIv: 0.30})
	require.NoError(t, err)
	assert.Nil(t, out2, "second signal within cooldown window must be suppressed")
}

func TestPQVolTraderIgnoresOtherUnderlyings(t *testing.T) {
	p := newTestPQVolTrader()
	out, err := p.OnVolatilitySurface(context.Background(), domain.VolatilitySurface{Underlying: "ETH/USDT", ATMIv: 0.99})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestPQVolTraderFillUpdatesPosition(t *testing.T) {
	p := newTestPQVolTrader()
	require.NoError(t, p.OnFill(context.Background(), domain.OrderFill{Side: domain.SideBuy, Quantity: 0.3}))
	assert.InDelta(t, 0.3, p.currentPosition, 1e-9)
	require.NoError(t, p.OnFill(context.Background(), domain.OrderFill{Side: domain.SideSell, Quantity: 0.1}))
	assert.InDelta(t, 0.2, p.currentPosition, 1e-9)
}

func TestPQVolTraderCapability(t *testing.T) {
	p := newTestPQVolTrader()
	cap := p.Capability()
	assert.Equal(t, []string{"BTC/USDT"}, cap.Symbols)
	assert.Contains(t, cap.Dependencies, "volatility_forecast_service")
}
