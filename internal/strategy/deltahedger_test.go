package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/trading-core/internal/domain"
)

func newTestDeltaHedger() *DeltaHedger {
	return NewDeltaHedger("hedge1", map[string]any{"underlying": "BTC/USDT", "deltaThreshold": 0.05}).(*DeltaHedger)
}

func TestDeltaHedgerNoActionWithinThreshold(t *testing.T) {
	d := newTestDeltaHedger()
	out, err := d.OnPortfolioRisk(context.Background(), domain.PortfolioRisk{TotalDelta: 0.02})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestDeltaHedgerSellsWhenDeltaPositive(t *testing.T) {
	d := newTestDeltaHedger()
	out, err := d.OnPortfolioRisk(context.Background(), domain.PortfolioRisk{TotalDelta: 0.5})
	require.NoError(t, err)
	require.NotNil(t, out)
	require.NotNil(t, out.Intent)
	assert.Equal(t, domain.SideSell, *out.Intent.Direction)
	assert.InDelta(t, 0.5, out.Intent.Quantity, 1e-9)
}

func TestDeltaHedgerBuysWhenDeltaNegative(t *testing.T) {
	d := newTestDeltaHedger()
	out, err := d.OnPortfolioRisk(context.Background(), domain.PortfolioRisk{TotalDelta: -0.3})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, domain.SideBuy, *out.Intent.Direction)
	assert.InDelta(t, 0.3, out.Intent.Quantity, 1e-9)
}

func TestDeltaHedgerRebalanceCooldown(t *testing.T) {
	d := newTestDeltaHedger()
	d.cfg.RebalanceInterval = time.Hour

	out, err := d.OnPortfolioRisk(context.Background(), domain.PortfolioRisk{TotalDelta: 0.5})
	require.NoError(t, err)
	require.NotNil(t, out)

	out2, err := d.OnPortfolioRisk(context.Background(), domain.PortfolioRisk{TotalDelta: 0.6})
	require.NoError(t, err)
	assert.Nil(t, out2, "second hedge within cooldown must be suppressed")
}

func TestDeltaHedgerFillUpdatesHedgePosition(t *testing.T) {
	d := newTestDeltaHedger()
	require.NoError(t, d.OnFill(context.Background(), domain.OrderFill{Side: domain.SideSell, Quantity: 0.5}))
	assert.InDelta(t, -0.5, d.hedgePosition, 1e-9)
}
