package execution

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

func testSurface() domain.VolatilitySurface {
	return domain.VolatilitySurface{
		Underlying: "BTC/USDT",
		Entries: []domain.OptionChainEntry{
			{Underlying: "BTC/USDT", Strike: 38000, Expiry: "2025-01-31", Type: domain.OptionCall, Last: 2100},
			{Underlying: "BTC/USDT", Strike: 38000, Expiry: "2025-01-31", Type: domain.OptionPut, Last: 900},
			{Underlying: "BTC/USDT", Strike: 40000, Expiry: "2025-01-31", Type: domain.OptionCall, Last: 1000},
			{Underlying: "BTC/USDT", Strike: 40000, Expiry: "2025-01-31", Type: domain.OptionPut, Last: 1100},
			{Underlying: "BTC/USDT", Strike: 42000, Expiry: "2025-01-31", Type: domain.OptionCall, Last: 500},
			{Underlying: "BTC/USDT", Strike: 38000, Expiry: "2025-02-28", Type: domain.OptionCall, Last: 2500},
		},
	}
}

func TestFindATMOptionsPicksNearestExpiryAndMedianStrike(t *testing.T) {
	atm := findATMOptions(testSurface())
	require.Len(t, atm, 2)
	for _, o := range atm {
		assert.Equal(t, 40000.0, o.Strike)
		assert.Equal(t, "2025-01-31", o.Expiry)
	}
}

func TestFindATMOptionsEmptySurface(t *testing.T) {
	atm := findATMOptions(domain.VolatilitySurface{Underlying: "BTC/USDT"})
	assert.Nil(t, atm)
}

func TestFormatLegSymbol(t *testing.T) {
	symbol, ok := formatLegSymbol(domain.OptionChainEntry{Underlying: "BTC/USDT", Strike: 40000, Expiry: "2025-01-31", Type: domain.OptionCall})
	require.True(t, ok)
	assert.Equal(t, "BTC-20250131-40000-C", symbol)
}

func TestExecuteStraddlePublishesTwoLegOrders(t *testing.T) {
	b := bus.New(bus.Config{Prefix: "test", Log: zerolog.Nop()})
	svc := New(b, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	svc.Start(ctx, &wg)

	require.NoError(t, b.Publish(domain.StreamMarketVolSurface, testSurface()))

	require.Eventually(t, func() bool {
		svc.mu.RLock()
		defer svc.mu.RUnlock()
		_, ok := svc.surfaces["BTC/USDT"]
		return ok
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, b.Publish(domain.StreamExecutionCommand, domain.ExecutionCommand{
		IntentID: "intent-1", StrategyID: "s1", Symbol: "BTC/USDT", Action: domain.ActionBuyStraddle, Quantity: 0.1,
	}))

	require.Eventually(t, func() bool {
		return b.StreamLength(domain.StreamOrderCommand) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestExecuteStraddleSkipsWithoutCachedSurface(t *testing.T) {
	b := bus.New(bus.Config{Prefix: "test", Log: zerolog.Nop()})
	svc := New(b, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	svc.Start(ctx, &wg)

	require.NoError(t, b.Publish(domain.StreamExecutionCommand, domain.ExecutionCommand{
		StrategyID: "s1", Symbol: "ETH/USDT", Action: domain.ActionBuyStraddle, Quantity: 0.1,
	}))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, b.StreamLength(domain.StreamOrderCommand))
}
