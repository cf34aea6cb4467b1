package marketdata

import (
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
)

// atrPeriod matches the cinar default ATR window.
const atrPeriod = 14

// ATR returns the latest average true range over the default 14-period
// window, or 0 when the series is too short.
func ATR(highs, lows, closes []float64) float64 {
	if len(closes) < atrPeriod+1 {
		return 0
	}
	atr := volatility.NewAtr[float64]()
	out := helper.ChanToSlice(atr.Compute(
		helper.SliceToChan(highs),
		helper.SliceToChan(lows),
		helper.SliceToChan(closes),
	))
	if len(out) == 0 {
		return 0
	}
	return out[len(out)-1]
}

// ADX returns the latest average directional index with Wilder smoothing.
// Returns 0 when the series cannot cover two full periods.
func ADX(highs, lows, closes []float64, period int) float64 {
	n := len(closes)
	if period <= 0 || n < 2*period+1 || len(highs) != n || len(lows) != n {
		return 0
	}

	var smTR, smPlus, smMinus float64
	var adx float64
	dxCount := 0

	for i := 1; i < n; i++ {
		tr := math.Max(highs[i]-lows[i], math.Max(
			math.Abs(highs[i]-closes[i-1]),
			math.Abs(lows[i]-closes[i-1]),
		))

		upMove := highs[i] - highs[i-1]
		downMove := lows[i-1] - lows[i]
		var plusDM, minusDM float64
		if upMove > downMove && upMove > 0 {
			plusDM = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM = downMove
		}

		if i <= period {
			smTR += tr
			smPlus += plusDM
			smMinus += minusDM
			if i < period {
				continue
			}
		} else {
			smTR = smTR - smTR/float64(period) + tr
			smPlus = smPlus - smPlus/float64(period) + plusDM
			smMinus = smMinus - smMinus/float64(period) + minusDM
		}

		if smTR == 0 {
			continue
		}
		diPlus := 100 * smPlus / smTR
		diMinus := 100 * smMinus / smTR
		sum := diPlus + diMinus
		if sum == 0 {
			continue
		}
		dx := 100 * math.Abs(diPlus-diMinus) / sum

		dxCount++
		if dxCount == 1 {
			adx = dx
		} else if dxCount <= period {
			adx = (adx*float64(dxCount-1) + dx) / float64(dxCount)
		} else {
			adx = (adx*float64(period-1) + dx) / float64(period)
		}
	}
	return adx
}

// RealizedVol returns the annualized standard deviation of log returns
// over the trailing window, or 0 when the series is too short.
func RealizedVol(closes []float64, window int) float64 {
	if window < 2 || len(closes) < window+1 {
		return 0
	}
	returns := make([]float64, 0, window)
	for i := len(closes) - window; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			return 0
		}
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance) * math.Sqrt(252)
}

// BandwidthSeries returns the Bollinger bandwidth (upper minus lower over
// middle) for every complete window in the closes series.
func BandwidthSeries(closes []float64, period int, stdDevs float64) []float64 {
	if period < 2 || len(closes) < period {
		return nil
	}
	sma := trend.NewSmaWithPeriod[float64](period)
	middles := helper.ChanToSlice(sma.Compute(helper.SliceToChan(closes)))

	out := make([]float64, 0, len(middles))
	for i, mid := range middles {
		window := closes[i : i+period]
		sd := stdDev(window, mid)
		if mid == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, 2*stdDevs*sd/mid)
	}
	return out
}

// PercentileRank returns where value sits in the series history, 0-100.
func PercentileRank(series []float64, value float64) float64 {
	if len(series) == 0 {
		return 0
	}
	below := 0
	for _, v := range series {
		if v <= value {
			below++
		}
	}
	return 100 * float64(below) / float64(len(series))
}

func stdDev(window []float64, mean float64) float64 {
	if len(window) < 2 {
		return 0
	}
	var variance float64
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(window)))
}
