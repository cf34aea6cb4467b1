package marketdata

import (
	"math"
	"time"

	"github.com/stargazecap/optimus/internal/domain"
)

// Synthetic chain shape: strikes span this many sigmas either side of
// spot, quotes carry a fixed fractional spread around the model mid.
const (
	chainSigmaSpan  = 4.0
	chainHalfSpread = 0.02
	chainMinVol     = 0.05
)

// SyntheticChain prices a theoretical option chain from spot and vol with
// a zero-rate Black-Scholes model. The replay provider uses it so the
// whole decision loop runs against chains with realistic deltas, premiums
// and moneyness without a live feed.
func SyntheticChain(price, vol float64, dtes []int, strikeStep float64, asOf time.Time) domain.ChainSummary {
	if price <= 0 || strikeStep <= 0 {
		return domain.ChainSummary{}
	}
	if vol < chainMinVol {
		vol = chainMinVol
	}

	var chain domain.ChainSummary
	for _, dte := range dtes {
		if dte <= 0 {
			continue
		}
		T := float64(dte) / 365
		sigmaT := vol * math.Sqrt(T)

		span := chainSigmaSpan * sigmaT * price
		low := math.Floor((price-span)/strikeStep) * strikeStep
		high := math.Ceil((price+span)/strikeStep) * strikeStep

		slice := domain.ExpirySlice{
			Expiry: asOf.AddDate(0, 0, dte).Truncate(24 * time.Hour),
			DTE:    dte,
		}
		for k := low; k <= high; k += strikeStep {
			call, put := priceStrike(price, k, sigmaT)
			slice.Calls = append(slice.Calls, call)
			slice.Puts = append(slice.Puts, put)
		}
		chain.Expiries = append(chain.Expiries, slice)
	}
	return chain
}

// priceStrike returns the call and put quotes for one strike. Deltas are
// absolute on both sides.
func priceStrike(spot, strike, sigmaT float64) (domain.OptionQuote, domain.OptionQuote) {
	d1 := (math.Log(spot/strike) + 0.5*sigmaT*sigmaT) / sigmaT
	d2 := d1 - sigmaT

	callDelta := normCDF(d1)
	callMid := spot*normCDF(d1) - strike*normCDF(d2)
	putMid := strike*normCDF(-d2) - spot*normCDF(-d1)

	// Open interest peaks at the money and decays toward the wings.
	oi := 1_000 + int(30_000*callDelta*(1-callDelta))

	call := domain.OptionQuote{
		Strike:       strike,
		Delta:        callDelta,
		Bid:          callMid * (1 - chainHalfSpread),
		Ask:          callMid * (1 + chainHalfSpread),
		OpenInterest: oi,
	}
	put := domain.OptionQuote{
		Strike:       strike,
		Delta:        1 - callDelta,
		Bid:          putMid * (1 - chainHalfSpread),
		Ask:          putMid * (1 + chainHalfSpread),
		OpenInterest: oi,
	}
	return call, put
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}
