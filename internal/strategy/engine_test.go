package strategy

import (
	"context"
	"database/sql"
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
	"github.com/aristath/trading-core/internal/state"
)

type fakeRisk struct {
	approve bool
	reason  string
	calls   []string
}

func (f *fakeRisk) CheckPreOrder(ctx context.Context, strategyID, symbol string, direction domain.Side, quantity, price float64) (bool, string, error) {
	f.calls = append(f.calls, strategyID)
	return f.approve, f.reason, nil
}

type stubStrategy struct {
	id  string
	cap Capability
	rc  *Context

	onTick func(tick domain.MarketTick) (*Output, error)
}

func (s *stubStrategy) SetContext(rc *Context)           { s.rc = rc }
func (s *stubStrategy) Initialize(ctx context.Context) error { return nil }
func (s *stubStrategy) Capability() Capability           { return s.cap }
func (s *stubStrategy) Shutdown(ctx context.Context) error { return nil }

func (s *stubStrategy) OnTick(ctx context.Context, tick domain.MarketTick) (*Output, error) {
	if s.onTick != nil {
		return s.onTick(tick)
	}
	return nil, nil
}

func testEngine(t *testing.T, risk RiskChecker) (*Engine, *bus.Bus, *Context) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st, err := state.New(db, "test", zerolog.Nop())
	require.NoError(t, err)

	b := bus.New(bus.Config{Prefix: "test", Log: zerolog.Nop()})
	rc := &Context{State: state.NewStrategyStore(st), Bus: b}

	e := New(Config{
		Bus:         b,
		Risk:        risk,
		Alerts:      alerting.NewManager(zerolog.Nop()),
		RuntimeCtx:  rc,
		Group:       "engine",
		BlockWindow: 10 * time.Millisecond,
		Log:         zerolog.Nop(),
	})
	return e, b, rc
}

func TestTickFanOutBySymbolMembership(t *testing.T) {
	risk := &fakeRisk{approve: true}
	e, b, _ := testEngine(t, risk)

	var mu sync.Mutex
	var seen []string
	s := &stubStrategy{
		id:  "s1",
		cap: Capability{StrategyID: "s1", Symbols: []string{"BTC/USDT"}},
		onTick: func(tick domain.MarketTick) (*Output, error) {
			mu.Lock()
			seen = append(seen, tick.Symbol)
			mu.Unlock()
			return nil, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	require.NoError(t, e.LoadStrategy(ctx, "s1", func(string, map[string]any) Strategy { return s }, nil))
	e.Start(ctx, &wg)

	require.NoError(t, b.Publish(domain.StreamMarketTick, domain.MarketTick{Symbol: "BTC/USDT", Price: 100, TS: time.Now()}))
	require.NoError(t, b.Publish(domain.StreamMarketTick, domain.MarketTick{Symbol: "ETH/USDT", Price: 100, TS: time.Now()}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"BTC/USDT"}, seen)
	mu.Unlock()
}

func TestIntentWithNilDirectionDropped(t *testing.T) {
	risk := &fakeRisk{approve: true}
	e, _, _ := testEngine(t, risk)

	e.processIntent(context.Background(), domain.StrategyIntent{StrategyID: "s1", Symbol: "BTC/USDT", Quantity: 1})

	assert.Empty(t, risk.calls, "risk check must not run for a direction-less intent")
}

func TestVetoedIntentDoesNotPublishOrder(t *testing.T) {
	risk := &fakeRisk{approve: false, reason: "drawdown exceeded"}
	e, b, _ := testEngine(t, risk)

	dir := domain.SideBuy
	e.processIntent(context.Background(), domain.StrategyIntent{
		StrategyID: "s1", Symbol: "BTC/USDT", Direction: &dir, Quantity: 1, Action: "open",
	})

	assert.Equal(t, 0, b.StreamLength(domain.StreamOrderCommand))
}

func TestOptionActionPublishesExecutionCommand(t *testing.T) {
	risk := &fakeRisk{approve: true}
	e, b, _ := testEngine(t, risk)

	dir := domain.SideBuy
	e.processIntent(context.Background(), domain.StrategyIntent{
		StrategyID: "s1", Symbol: "BTC/USDT", Direction: &dir, Quantity: 0.1, Action: domain.ActionBuyStraddle,
	})

	assert.Equal(t, 1, b.StreamLength(domain.StreamExecutionCommand))
	assert.Equal(t, 0, b.StreamLength(domain.StreamOrderCommand))
}

func TestDirectActionPublishesOrderCommand(t *testing.T) {
	risk := &fakeRisk{approve: true}
	e, b, _ := testEngine(t, risk)

	dir := domain.SideSell
	e.processIntent(context.Background(), domain.StrategyIntent{
		StrategyID: "s1", Symbol: "BTC/USDT", Direction: &dir, Quantity: 1, Action: "close",
	})

	assert.Equal(t, 1, b.StreamLength(domain.StreamOrderCommand))
	assert.Equal(t, 0, b.StreamLength(domain.StreamExecutionCommand))
}

func TestLegacySignalHoldAndCloseAreNotActionable(t *testing.T) {
	risk := &fakeRisk{approve: true}
	e, b, _ := testEngine(t, risk)

	e.processLegacySignal(context.Background(), domain.StrategySignal{StrategyID: "s1", Symbol: "BTC/USDT", Type: "hold"})
	e.processLegacySignal(context.Background(), domain.StrategySignal{StrategyID: "s1", Symbol: "BTC/USDT", Type: "close"})
	assert.Equal(t, 0, b.StreamLength(domain.StreamOrderCommand))
	assert.Empty(t, risk.calls)
}

func TestLegacyBuySignalPublishesLimitOrder(t *testing.T) {
	risk := &fakeRisk{approve: true}
	e, b, _ := testEngine(t, risk)

	price := 42000.0
	e.processLegacySignal(context.Background(), domain.StrategySignal{StrategyID: "s1", Symbol: "BTC/USDT", Type: "buy", TargetPrice: &price})
	assert.Equal(t, 1, b.StreamLength(domain.StreamOrderCommand))
}

func TestPanicInHandlerDoesNotCrashDispatch(t *testing.T) {
	risk := &fakeRisk{approve: true}
	e, _, _ := testEngine(t, risk)

	assert.NotPanics(t, func() {
		e.isolate("s1", func() error { panic("boom") })
	})
}
