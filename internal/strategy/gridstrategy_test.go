package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/trading-core/internal/domain"
)

func newTestGrid(basePrice float64) *GridStrategy {
	s := NewGridStrategy("grid1", map[string]any{"symbol": "BNB/USDT", "basePrice": basePrice, "gridSize": 2.0}).(*GridStrategy)
	return s
}

func TestGridBuySignalOnReboundFromLowerBand(t *testing.T) {
	g := newTestGrid(100.0)

	// Price dips well below the lower band (98), then rebounds past the flip
	// threshold while still inside the band, triggering the buy.
	out, err := g.OnTick(context.Background(), domain.MarketTick{Symbol: "BNB/USDT", Price: 97.0})
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = g.OnTick(context.Background(), domain.MarketTick{Symbol: "BNB/USDT", Price: 97.7})
	require.NoError(t, err)
	require.NotNil(t, out)
	require.NotNil(t, out.Signal)
	assert.Equal(t, "buy", out.Signal.Type)
}

func TestGridSellSignalOnPullbackFromUpperBand(t *testing.T) {
	g := newTestGrid(100.0)

	out, err := g.OnTick(context.Background(), domain.MarketTick{Symbol: "BNB/USDT", Price: 103.0})
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = g.OnTick(context.Background(), domain.MarketTick{Symbol: "BNB/USDT", Price: 102.3})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "sell", out.Signal.Type)
}

func TestGridIgnoresOtherSymbols(t *testing.T) {
	g := newTestGrid(100.0)
	out, err := g.OnTick(context.Background(), domain.MarketTick{Symbol: "ETH/USDT", Price: 1.0})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGridNoSignalWithinBand(t *testing.T) {
	g := newTestGrid(100.0)
	out, err := g.OnTick(context.Background(), domain.MarketTick{Symbol: "BNB/USDT", Price: 100.5})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGridFillResetsBasePriceAndExtremes(t *testing.T) {
	g := newTestGrid(100.0)
	_, _ = g.OnTick(context.Background(), domain.MarketTick{Symbol: "BNB/USDT", Price: 97.5})
	require.NoError(t, g.OnFill(context.Background(), domain.OrderFill{Side: domain.SideBuy, Price: 98.0, Quantity: 1}))
	assert.InDelta(t, 98.0, g.cfg.BasePrice, 1e-9)
	assert.Nil(t, g.lowest)
}
