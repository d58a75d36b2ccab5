package risk

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aristath/trading-core/internal/alerting"
	"github.com/aristath/trading-core/internal/bus"
	"github.com/aristath/trading-core/internal/domain"
	"github.com/aristath/trading-core/internal/proxypool"
	"github.com/aristath/trading-core/internal/state"
)

func testService(t *testing.T, sentiment *proxypool.Pool) (*Service, *bus.Bus, *state.PortfolioStore) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st, err := state.New(db, "test", zerolog.Nop())
	require.NoError(t, err)

	store := state.NewPortfolioStore(st)
	b := bus.New(bus.Config{Prefix: "test", Log: zerolog.Nop()})
	alerts := alerting.NewManager(zerolog.Nop())

	svc := New(Config{}, b, store, alerts, nil, sentiment, zerolog.Nop())
	return svc, b, store
}

func TestCheckPreOrderApprovesWithinLimits(t *testing.T) {
	svc, _, store := testService(t, nil)
	require.NoError(t, store.UpdateGlobalBalance("USDT", 8000))
	// A position covering a plausible fraction of the book keeps the
	// aggregate position ratio inside [0.10, 0.80].
	_, err := store.UpdatePosition("ETH/USDT", domain.SideBuy, 1, 2000, "s1")
	require.NoError(t, err)

	approved, reason, err := svc.CheckPreOrder(context.Background(), "s1", "BTC/USDT", domain.SideBuy, 0.01, 40000)
	require.NoError(t, err)
	assert.True(t, approved)
	assert.Empty(t, reason)
}

func TestCheckPreOrderVetoesOnDrawdown(t *testing.T) {
	svc, _, store := testService(t, nil)
	require.NoError(t, store.UpdateGlobalBalance("USDT", 10000))

	// Record a higher peak, then drop value below the drawdown threshold.
	require.NoError(t, store.RecordPnl(0, 0, 20000))
	svc.mu.Lock()
	svc.peakValue = 20000
	svc.mu.Unlock()

	approved, reason, err := svc.CheckPreOrder(context.Background(), "s1", "BTC/USDT", domain.SideBuy, 0.1, 40000)
	require.NoError(t, err)
	assert.False(t, approved)
	assert.Contains(t, reason, "50.00%")
}

// Peak 1000, drop to 790: a 21% drawdown against the default 20% limit.
func TestCheckPreOrderVetoesOnDrawdownReportsExactPercentage(t *testing.T) {
	svc, _, store := testService(t, nil)
	require.NoError(t, store.UpdateGlobalBalance("USDT", 1000))
	require.NoError(t, store.RecordPnl(0, 0, 1000))
	svc.mu.Lock()
	svc.peakValue = 1000
	svc.mu.Unlock()
	require.NoError(t, store.UpdateGlobalBalance("USDT", 790))

	approved, reason, err := svc.CheckPreOrder(context.Background(), "s1", "BTC/USDT", domain.SideBuy, 0.01, 40000)
	require.NoError(t, err)
	assert.False(t, approved)
	assert.Contains(t, reason, "21.00%")
}

func TestCheckPreOrderVetoesOnSingleNameConcentration(t *testing.T) {
	svc, _, store := testService(t, nil)
	require.NoError(t, store.UpdateGlobalBalance("USDT", 900))
	// A small existing position keeps the aggregate position ratio exactly
	// at the minimum (0.1) so the position-limits check passes and the
	// impact simulation is reached.
	_, err := store.UpdatePosition("ETH/USDT", domain.SideBuy, 0.05, 2000, "s1")
	require.NoError(t, err)

	approved, reason, err := svc.CheckPreOrder(context.Background(), "s1", "BTC/USDT", domain.SideBuy, 1.0, 40000)
	require.NoError(t, err)
	assert.False(t, approved)
	assert.Contains(t, reason, "4000.00%")
}

func TestSimulateOrderImpactVetoesOnGrossLeverage(t *testing.T) {
	svc, _, store := testService(t, nil)
	_, err := store.UpdatePosition("ETH/USDT", domain.SideBuy, 10, 2000, "s1")
	require.NoError(t, err)
	_, err = store.UpdatePosition("SOL/USDT", domain.SideBuy, 100, 150, "s1")
	require.NoError(t, err)

	// Exercise the impact simulation directly with a small total value, so
	// leverage can be pushed past its threshold without the single-name or
	// position-ratio checks (evaluated earlier in CheckPreOrder) interfering.
	approved, reason, err := svc.simulateOrderImpact(10000, "BTC/USDT", domain.SideBuy, 0.01, 40000)
	require.NoError(t, err)
	assert.False(t, approved)
	assert.Contains(t, reason, "3.54x")
}

func TestProcessFillUpdatesPositionAndPnl(t *testing.T) {
	svc, b, store := testService(t, nil)
	require.NoError(t, store.UpdateGlobalBalance("USDT", 10000))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	require.NoError(t, svc.Start(ctx, &wg))

	require.NoError(t, b.Publish(domain.StreamOrderFill, domain.OrderFill{
		StrategyID: "s1", OrderID: "o1", Symbol: "BTC/USDT", Side: domain.SideBuy, Quantity: 0.1, Price: 40000,
	}))

	require.Eventually(t, func() bool {
		pos, ok, err := store.GetPosition("BTC/USDT")
		return err == nil && ok && pos.Quantity == 0.1
	}, time.Second, 10*time.Millisecond)

	history, err := store.PnlHistory()
	require.NoError(t, err)
	assert.NotEmpty(t, history)
}

func TestInferMacroStatePanicRegime(t *testing.T) {
	vol, sent := 0.9, -0.9
	regime, score := inferMacroState(&vol, &sent)
	assert.Equal(t, "panic", regime)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestInferMacroStateBullRegime(t *testing.T) {
	vol, sent := 0.2, 0.5
	regime, score := inferMacroState(&vol, &sent)
	assert.Equal(t, "bull", regime)
	assert.InDelta(t, 0.6, score, 1e-9)
}

func TestInferMacroStateChopRegime(t *testing.T) {
	vol, sent := 0.1, 0.0
	regime, _ := inferMacroState(&vol, &sent)
	assert.Equal(t, "chop", regime)
}

func TestInferMacroStateDefaultsWhenMissing(t *testing.T) {
	regime, score := inferMacroState(nil, nil)
	assert.Equal(t, "chop", regime)
	assert.InDelta(t, 0.6, score, 1e-9)
}

func TestComputeFomoScoreNilWhenInputMissing(t *testing.T) {
	sent := 0.5
	assert.Nil(t, computeFomoScore(&sent, nil))
	assert.Nil(t, computeFomoScore(nil, nil))
}

func TestComputeFomoScoreBlendsInputs(t *testing.T) {
	sent, vol := 0.5, 0.25
	score := computeFomoScore(&sent, &vol)
	require.NotNil(t, score)
	assert.InDelta(t, 0.4, *score, 1e-9)
}

func TestBroadcastMacroStatePublishesEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"weighted_score": 0.5, "overall_sentiment": "bullish", "tweets_analyzed": 20}`))
	}))
	defer srv.Close()

	pool := proxypool.New(proxypool.Config{BaseURLs: []string{srv.URL}, Log: zerolog.Nop()})
	svc, b, store := testService(t, pool)
	require.NoError(t, store.RecordPnl(0, 0, 10000))
	require.NoError(t, store.RecordPnl(0, 0, 10500))

	ch := b.Subscribe(context.Background(), domain.StreamMarketMacroState, "test_consumer", 100*time.Millisecond)
	require.NoError(t, svc.broadcastMacroState(context.Background()))

	select {
	case d := <-ch:
		var state domain.MacroState
		require.True(t, b.DecodeOrAck(d, &state))
		require.NotNil(t, state.Sentiment)
		assert.InDelta(t, 0.5, *state.Sentiment, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("expected macro state to be published")
	}
}
