package adapters

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/trading-core/internal/bus"
	"github.com/aristath/trading-core/internal/domain"
)

func TestBuildChainCoversAllStrikesAndExpiries(t *testing.T) {
	adapter := NewOptionsAdapter(nil, nil, OptionsAdapterConfig{Underlying: "BTC/USDT"}, zerolog.Nop())
	adapter.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }

	entries := adapter.buildChain(40000)
	assert.Len(t, entries, len(simulatedExpiries)*len(simulatedStrikeFactors)*2)

	for _, e := range entries {
		assert.Equal(t, "BTC/USDT", e.Underlying)
		require.NotNil(t, e.Greeks)
		assert.Greater(t, e.IV, 0.0)
		assert.Greater(t, e.Last, 0.0)
	}
}

func TestBuildSurfaceAggregatesATMIv(t *testing.T) {
	adapter := NewOptionsAdapter(nil, nil, OptionsAdapterConfig{Underlying: "BTC/USDT"}, zerolog.Nop())
	adapter.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }

	spot := 40000.0
	entries := adapter.buildChain(spot)
	surface := adapter.buildSurface(entries, spot)

	assert.Equal(t, "BTC/USDT", surface.Underlying)
	assert.InDelta(t, assumedChainVolatility, surface.ATMIv, 0.05)
	assert.NotEmpty(t, surface.IVSkew)
	assert.Len(t, surface.TermStructure, len(simulatedExpiries))
}

func TestTimeToExpiryFloorsAtMinimum(t *testing.T) {
	adapter := NewOptionsAdapter(nil, nil, OptionsAdapterConfig{}, zerolog.Nop())
	adapter.now = func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) }

	tte := adapter.timeToExpiry(simulatedExpiries[0])
	assert.Equal(t, 0.001, tte)
}

func TestPublishSurfacePublishesOnBus(t *testing.T) {
	exchange := newFakeExchange()
	exchange.setPrice("BTC/USDT", 40000)
	b := bus.New(bus.Config{Prefix: "test", Log: zerolog.Nop()})

	adapter := NewOptionsAdapter(exchange, b, OptionsAdapterConfig{Underlying: "BTC/USDT", PollInterval: 10 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	adapter.Start(ctx, &wg)

	require.Eventually(t, func() bool {
		return b.StreamLength(domain.StreamMarketVolSurface) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestPublishSurfaceSkipsOnZeroSpot(t *testing.T) {
	exchange := newFakeExchange()
	b := bus.New(bus.Config{Prefix: "test", Log: zerolog.Nop()})
	adapter := NewOptionsAdapter(exchange, b, OptionsAdapterConfig{Underlying: "BTC/USDT"}, zerolog.Nop())

	require.NoError(t, adapter.publishSurface(context.Background()))
	assert.Equal(t, 0, b.StreamLength(domain.StreamMarketVolSurface))
}
