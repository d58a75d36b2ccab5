package blackscholes

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPutCallParity(t *testing.T) {
	in := Inputs{Spot: 100, Strike: 105, TimeToExpiry: 0.5, RiskFreeRate: 0.03, Volatility: 0.6}
	call := in
	call.Type = "call"
	put := in
	put.Type = "put"

	c := Price(call)
	p := Price(put)
	rhs := in.Spot - in.Strike*math.Exp(-in.RiskFreeRate*in.TimeToExpiry)
	assert.InDelta(t, rhs, c-p, 1e-6)
}

func TestImpliedVolatilityRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		sigma float64
	}{
		{"low vol", 0.15},
		{"mid vol", 0.6},
		{"high vol", 1.8},
	}

	base := Inputs{Spot: 40000, Strike: 40000, TimeToExpiry: 0.25, RiskFreeRate: 0.03, Type: "call"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			in.Volatility = tt.sigma
			price := Price(in)
			recovered := ImpliedVolatility(in, price)
			assert.InDelta(t, tt.sigma, recovered, 1e-4)
		})
	}
}

func TestGreeksZeroAtOrPastExpiry(t *testing.T) {
	in := Inputs{Spot: 100, Strike: 100, TimeToExpiry: 0, RiskFreeRate: 0.03, Volatility: 0.5, Type: "call"}
	g := Greeks(in)
	assert.Equal(t, OptionGreeksResult{}, g)
	assert.Equal(t, 0.0, ImpliedVolatility(in, 5))
}

func TestGreeksCallPutDeltaBounds(t *testing.T) {
	in := Inputs{Spot: 100, Strike: 100, TimeToExpiry: 1, RiskFreeRate: 0.03, Volatility: 0.4}
	call := in
	call.Type = "call"
	put := in
	put.Type = "put"

	gc := Greeks(call)
	gp := Greeks(put)

	assert.True(t, gc.Delta >= 0 && gc.Delta <= 1)
	assert.True(t, gp.Delta >= -1 && gp.Delta <= 0)
	assert.True(t, gc.Gamma >= 0)
	assert.InDelta(t, gc.Gamma, gp.Gamma, 1e-9)
}
