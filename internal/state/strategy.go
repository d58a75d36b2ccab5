package state

import (
	"time"

	"github.com/aristath/trading-core/internal/domain"
)

// StrategyStore is the per-strategy scratch State Store: strategy state
// blob, position/balance/order CRUD, and a bounded event log, stored under
// scope state:{strategy|position|balance|orders|events} with the
// strategyId as key. The store's prefix names only the in-process key
// locks; stored rows do not carry it. DefaultTTL names a 7-day retention
// window, but writes do not record it and nothing removes expired records.
type StrategyStore struct {
	store *Store
}

const (
	strategyStateScope = "state:strategy"
	positionScope       = "state:position"
	balanceScope        = "state:balance"
	ordersScope         = "state:orders"
	eventsScope         = "state:events"

	eventLogCap = 1000

	// DefaultTTL is the default retention window for per-strategy records.
	DefaultTTL = 7 * 24 * time.Hour
)

// NewStrategyStore wraps a Store for per-strategy scratch state.
func NewStrategyStore(store *Store) *StrategyStore {
	return &StrategyStore{store: store}
}

// SetStrategyState stores an arbitrary JSON-serializable state blob for a
// strategy.
func (s *StrategyStore) SetStrategyState(strategyID string, state any) error {
	return s.store.SetKV(strategyStateScope, strategyID, state)
}

// GetStrategyState decodes the stored blob into v; ok=false if absent.
func (s *StrategyStore) GetStrategyState(strategyID string, v any) (bool, error) {
	return s.store.GetKV(strategyStateScope, strategyID, v)
}

// positionKey composes the per-strategy position hash key.
func positionKey(strategyID string) string { return strategyID }

// SetPosition upserts a strategy's own view of its position in symbol.
func (s *StrategyStore) SetPosition(strategyID, symbol string, pos domain.PositionUpdate) error {
	return s.store.SetHashField(positionScope, positionKey(strategyID), symbol, pos)
}

// GetPosition returns a strategy's own view of its position in symbol.
func (s *StrategyStore) GetPosition(strategyID, symbol string) (domain.PositionUpdate, bool, error) {
	var pos domain.PositionUpdate
	ok, err := s.store.GetHashField(positionScope, positionKey(strategyID), symbol, &pos)
	return pos, ok, err
}

// SetBalance upserts a strategy-scoped balance snapshot.
func (s *StrategyStore) SetBalance(strategyID string, balances map[string]float64) error {
	return s.store.SetKV(balanceScope, strategyID, balances)
}

// GetBalance returns a strategy-scoped balance snapshot.
func (s *StrategyStore) GetBalance(strategyID string) (map[string]float64, error) {
	var balances map[string]float64
	ok, err := s.store.GetKV(balanceScope, strategyID, &balances)
	if err != nil || !ok {
		return map[string]float64{}, err
	}
	return balances, nil
}

// RecordOrder appends an order record to a strategy's order log.
func (s *StrategyStore) RecordOrder(strategyID string, order domain.OrderCommand) error {
	return s.store.AppendList(ordersScope, strategyID, order, 0)
}

// AppendEvent appends a log entry to a strategy's bounded event log (last
// 1000 events retained).
func (s *StrategyStore) AppendEvent(strategyID string, event any) error {
	return s.store.AppendList(eventsScope, strategyID, event, eventLogCap)
}
