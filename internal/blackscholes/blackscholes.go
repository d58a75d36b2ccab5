// Package blackscholes prices European options and their Greeks, and
// inverts implied volatility from an observed price via Newton's method.
// Grounded on the reference BlackScholesCalculator: standard log-moneyness
// price formulas, theta annualized to per-day, vega/rho scaled to
// per-1%-move quoting.
package blackscholes

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

var standardNormal = distuv.Normal{Mu: 0, Sigma: 1}

func normCDF(x float64) float64 {
	return standardNormal.CDF(x)
}

func normPDF(x float64) float64 {
	return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
}

// Inputs bundles the parameters shared by pricing, Greeks, and IV
// inversion.
type Inputs struct {
	Spot          float64
	Strike        float64
	TimeToExpiry  float64 // years, already floored by the caller
	RiskFreeRate  float64
	Volatility    float64
	Type          string // "call" or "put"
}

func d1d2(in Inputs) (d1, d2 float64) {
	sqrtT := math.Sqrt(in.TimeToExpiry)
	d1 = (math.Log(in.Spot/in.Strike) + (in.RiskFreeRate+0.5*in.Volatility*in.Volatility)*in.TimeToExpiry) / (in.Volatility * sqrtT)
	d2 = d1 - in.Volatility*sqrtT
	return
}

// Price returns the Black-Scholes theoretical price. TimeToExpiry<=0
// degenerates to intrinsic value.
func Price(in Inputs) float64 {
	if in.TimeToExpiry <= 0 {
		if in.Type == "put" {
			return math.Max(in.Strike-in.Spot, 0)
		}
		return math.Max(in.Spot-in.Strike, 0)
	}
	d1, d2 := d1d2(in)
	discK := in.Strike * math.Exp(-in.RiskFreeRate*in.TimeToExpiry)
	if in.Type == "put" {
		return discK*normCDF(-d2) - in.Spot*normCDF(-d1)
	}
	return in.Spot*normCDF(d1) - discK*normCDF(d2)
}

// Vega returns dPrice/dVolatility (unscaled, i.e. per unit vol, not per 1%).
func Vega(in Inputs) float64 {
	if in.TimeToExpiry <= 0 {
		return 0
	}
	d1, _ := d1d2(in)
	return in.Spot * normPDF(d1) * math.Sqrt(in.TimeToExpiry)
}

// Greeks computes delta, gamma, theta (per day), vega and rho (per 1%
// move) for the given inputs. TimeToExpiry<=0 yields all zeros per
// spec.md §8 boundary behavior.
func Greeks(in Inputs) OptionGreeksResult {
	if in.TimeToExpiry <= 0 {
		return OptionGreeksResult{}
	}

	d1, d2 := d1d2(in)
	sqrtT := math.Sqrt(in.TimeToExpiry)
	discK := in.Strike * math.Exp(-in.RiskFreeRate*in.TimeToExpiry)
	pdfD1 := normPDF(d1)

	var delta, theta, rho float64
	if in.Type == "put" {
		delta = -normCDF(-d1)
		theta = (-(in.Spot*pdfD1*in.Volatility)/(2*sqrtT) + in.RiskFreeRate*discK*normCDF(-d2)) / 365.0
		rho = -in.Strike * in.TimeToExpiry * math.Exp(-in.RiskFreeRate*in.TimeToExpiry) * normCDF(-d2) / 100.0
	} else {
		delta = normCDF(d1)
		theta = (-(in.Spot*pdfD1*in.Volatility)/(2*sqrtT) - in.RiskFreeRate*discK*normCDF(d2)) / 365.0
		rho = in.Strike * in.TimeToExpiry * math.Exp(-in.RiskFreeRate*in.TimeToExpiry) * normCDF(d2) / 100.0
	}

	gamma := pdfD1 / (in.Spot * in.Volatility * sqrtT)
	vega := in.Spot * pdfD1 * sqrtT / 100.0

	return OptionGreeksResult{
		Delta: delta,
		Gamma: gamma,
		Theta: theta,
		Vega:  vega,
		Rho:   rho,
	}
}

// OptionGreeksResult mirrors domain.OptionGreeks without importing it, so
// this package stays dependency-free of the event model.
type OptionGreeksResult struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
	Rho   float64
}

const (
	ivInitialGuess = 0.5
	ivMaxIter      = 100
	ivTolerance    = 1e-5
	ivMinVega      = 1e-10
	ivMinSigma     = 0.01
	ivMaxSigma     = 5.0
)

// ImpliedVolatility inverts the observed option price via Newton's method,
// starting at sigma=0.5, clamping to [0.01, 5.0], and aborting early if
// vega collapses below 1e-10.
func ImpliedVolatility(in Inputs, observedPrice float64) float64 {
	if in.TimeToExpiry <= 0 {
		return 0
	}

	sigma := ivInitialGuess
	for i := 0; i < ivMaxIter; i++ {
		trial := in
		trial.Volatility = sigma
		price := Price(trial)
		diff := price - observedPrice
		if math.Abs(diff) < ivTolerance {
			break
		}
		vega := Vega(trial)
		if vega < ivMinVega {
			break
		}
		sigma -= diff / vega
		if sigma < ivMinSigma {
			sigma = ivMinSigma
		}
		if sigma > ivMaxSigma {
			sigma = ivMaxSigma
		}
	}
	return sigma
}
