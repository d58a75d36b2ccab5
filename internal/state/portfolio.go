package state

import (
	"encoding/json"
	"time"

	"github.com/aristath/trading-core/internal/domain"
)

// PortfolioStore is the sole writer of global position/balance/risk-metric
// records, persisted under the "portfolio" scope with keys
// {balance|positions|pnl_history|risk_metrics|drawdown}. The store's
// prefix names only the in-process key locks; stored rows do not carry it.
type PortfolioStore struct {
	store *Store

	pnlCap      int
	drawdownCap int
}

const (
	portfolioScope       = "portfolio"
	keyBalance           = "balance"
	keyPositionsHash     = "positions"
	keyPnlHistory        = "pnl_history"
	keyDrawdownHistory   = "drawdown"
	keyRiskMetrics       = "risk_metrics"

	defaultPnlCap      = 10000
	defaultDrawdownCap = 1000
)

// NewPortfolioStore wraps a Store with the global Portfolio Store's fixed
// scope and history caps.
func NewPortfolioStore(store *Store) *PortfolioStore {
	return &PortfolioStore{store: store, pnlCap: defaultPnlCap, drawdownCap: defaultDrawdownCap}
}

// UpdateGlobalBalance upserts one asset's free balance.
func (p *PortfolioStore) UpdateGlobalBalance(asset string, amount float64) error {
	return p.store.SetHashField(portfolioScope, keyBalance, asset, amount)
}

// GetGlobalBalance returns the free balances by asset.
func (p *PortfolioStore) GetGlobalBalance() (map[string]float64, error) {
	fields, err := p.store.AllHashFields(portfolioScope, keyBalance)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(fields))
	for asset, raw := range fields {
		var amount float64
		if err := unmarshalRaw(raw, &amount); err != nil {
			return nil, err
		}
		out[asset] = amount
	}
	return out, nil
}

// GetPosition returns the current Position for symbol, ok=false if none.
func (p *PortfolioStore) GetPosition(symbol string) (domain.Position, bool, error) {
	var pos domain.Position
	ok, err := p.store.GetHashField(portfolioScope, keyPositionsHash, symbol, &pos)
	return pos, ok, err
}

// AllPositions returns every retained position, including zero-quantity
// ones (the caller decides whether to treat them as closed).
func (p *PortfolioStore) AllPositions() ([]domain.Position, error) {
	fields, err := p.store.AllHashFields(portfolioScope, keyPositionsHash)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(fields))
	for _, raw := range fields {
		var pos domain.Position
		if err := unmarshalRaw(raw, &pos); err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}

// UpdatePosition applies a fill's effect on a symbol's position: on a buy,
// avgPrice becomes the quantity-weighted average of the existing and new
// lots; on a sell, avgPrice is unchanged. Quantity may go negative
// (shorts). This is the only way position quantity/avgPrice may change.
func (p *PortfolioStore) UpdatePosition(symbol string, side domain.Side, deltaQty, price float64, strategyID string) (domain.Position, error) {
	existing, _, err := p.GetPosition(symbol)
	if err != nil {
		return domain.Position{}, err
	}

	newQty := existing.Quantity
	newAvg := existing.AvgPrice

	signedDelta := deltaQty
	if side == domain.SideSell {
		signedDelta = -deltaQty
	}

	if side == domain.SideBuy {
		totalQty := existing.Quantity + deltaQty
		if totalQty != 0 {
			newAvg = (existing.Quantity*existing.AvgPrice + deltaQty*price) / totalQty
		} else {
			newAvg = price
		}
	}
	newQty = existing.Quantity + signedDelta

	pos := domain.Position{
		Symbol:        symbol,
		Quantity:      newQty,
		AvgPrice:      newAvg,
		UnrealizedPnl: existing.UnrealizedPnl,
		StrategyID:    strategyID,
		Greeks:        existing.Greeks,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := p.store.SetHashField(portfolioScope, keyPositionsHash, symbol, pos); err != nil {
		return domain.Position{}, err
	}
	return pos, nil
}

// UpdatePositionGreeks merges Greeks into an existing position record.
func (p *PortfolioStore) UpdatePositionGreeks(symbol string, greeks domain.OptionGreeks) error {
	pos, ok, err := p.GetPosition(symbol)
	if err != nil {
		return err
	}
	if !ok {
		pos = domain.Position{Symbol: symbol}
	}
	pos.Greeks = &greeks
	pos.UpdatedAt = time.Now().UTC()
	return p.store.SetHashField(portfolioScope, keyPositionsHash, symbol, pos)
}

// PnlSample is one entry in the PnL history list.
type PnlSample struct {
	Realized   float64   `json:"realized"`
	Unrealized float64   `json:"unrealized"`
	TotalValue float64   `json:"totalValue"`
	TS         time.Time `json:"ts"`
}

// RecordPnl appends a PnL sample, capped at 10000 entries (trim-oldest).
func (p *PortfolioStore) RecordPnl(realized, unrealized, totalValue float64) error {
	return p.store.AppendList(portfolioScope, keyPnlHistory, PnlSample{
		Realized: realized, Unrealized: unrealized, TotalValue: totalValue, TS: time.Now().UTC(),
	}, p.pnlCap)
}

// PnlHistory returns the retained PnL samples in chronological order.
func (p *PortfolioStore) PnlHistory() ([]PnlSample, error) {
	raws, err := p.store.ListAll(portfolioScope, keyPnlHistory)
	if err != nil {
		return nil, err
	}
	out := make([]PnlSample, 0, len(raws))
	for _, raw := range raws {
		var sample PnlSample
		if err := unmarshalRaw(raw, &sample); err != nil {
			return nil, err
		}
		out = append(out, sample)
	}
	return out, nil
}

// DrawdownSample is one entry in the drawdown history list.
type DrawdownSample struct {
	Current float64   `json:"current"`
	Peak    float64   `json:"peak"`
	Pct     float64   `json:"pct"`
	TS      time.Time `json:"ts"`
}

// RecordDrawdown appends a drawdown sample, capped at 1000 entries.
func (p *PortfolioStore) RecordDrawdown(current, peak, pct float64) error {
	return p.store.AppendList(portfolioScope, keyDrawdownHistory, DrawdownSample{
		Current: current, Peak: peak, Pct: pct, TS: time.Now().UTC(),
	}, p.drawdownCap)
}

// UpdateRiskMetrics stores the latest aggregated risk snapshot.
func (p *PortfolioStore) UpdateRiskMetrics(metrics domain.PortfolioRisk) error {
	return p.store.SetKV(portfolioScope, keyRiskMetrics, metrics)
}

// GetRiskMetrics returns the latest aggregated risk snapshot.
func (p *PortfolioStore) GetRiskMetrics() (domain.PortfolioRisk, bool, error) {
	var metrics domain.PortfolioRisk
	ok, err := p.store.GetKV(portfolioScope, keyRiskMetrics, &metrics)
	return metrics, ok, err
}

// GetPeakValue returns the maximum totalValue ever recorded in the PnL
// history, or 0 if empty.
func (p *PortfolioStore) GetPeakValue() (float64, error) {
	history, err := p.PnlHistory()
	if err != nil {
		return 0, err
	}
	peak := 0.0
	for _, s := range history {
		if s.TotalValue > peak {
			peak = s.TotalValue
		}
	}
	return peak, nil
}

func unmarshalRaw(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}
