package marketdata

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealizedVol_FlatSeriesIsZero(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 5000
	}
	assert.Equal(t, 0.0, RealizedVol(closes, 20))
}

func TestRealizedVol_AlternatingReturns(t *testing.T) {
	// +1%/-1% alternation: per-day sd = ln(1.01) x sqrt(20/19),
	// annualized x sqrt(252) = ~0.162.
	closes := []float64{100}
	for i := 0; i < 40; i++ {
		last := closes[len(closes)-1]
		if i%2 == 0 {
			closes = append(closes, last*1.01)
		} else {
			closes = append(closes, last/1.01)
		}
	}
	assert.InDelta(t, 0.162, RealizedVol(closes, 20), 0.01)
}

func TestRealizedVol_TooShort(t *testing.T) {
	assert.Equal(t, 0.0, RealizedVol([]float64{1, 2, 3}, 20))
}

func TestADX_FlatTapeReadsZero(t *testing.T) {
	n := 60
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		highs[i], lows[i], closes[i] = 5000, 5000, 5000
	}
	assert.Equal(t, 0.0, ADX(highs, lows, closes, 14))
}

func TestADX_SteadyTrendReadsHigh(t *testing.T) {
	n := 60
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		base := 5000 + float64(i)*10
		highs[i] = base + 5
		lows[i] = base - 5
		closes[i] = base
	}
	adx := ADX(highs, lows, closes, 14)
	assert.Greater(t, adx, 50.0)
	assert.LessOrEqual(t, adx, 100.0)
}

func TestADX_TooShort(t *testing.T) {
	short := []float64{1, 2, 3}
	assert.Equal(t, 0.0, ADX(short, short, short, 14))
}

func TestBandwidthSeries_FlatIsZero(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
	}
	bw := BandwidthSeries(closes, 20, 2.0)
	require.Len(t, bw, 11)
	for _, v := range bw {
		assert.Equal(t, 0.0, v)
	}
}

func TestBandwidthSeries_WidensWithDispersion(t *testing.T) {
	quiet := make([]float64, 0, 40)
	noisy := make([]float64, 0, 40)
	for i := 0; i < 40; i++ {
		wiggle := float64(i%2)*2 - 1 // -1, +1, -1...
		quiet = append(quiet, 100+wiggle*0.5)
		noisy = append(noisy, 100+wiggle*5)
	}
	bwQuiet := BandwidthSeries(quiet, 20, 2.0)
	bwNoisy := BandwidthSeries(noisy, 20, 2.0)
	require.NotEmpty(t, bwQuiet)
	require.NotEmpty(t, bwNoisy)
	assert.Greater(t, bwNoisy[len(bwNoisy)-1], bwQuiet[len(bwQuiet)-1])
}

func TestPercentileRank(t *testing.T) {
	series := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, 100.0, PercentileRank(series, 10))
	assert.Equal(t, 50.0, PercentileRank(series, 5))
	assert.Equal(t, 0.0, PercentileRank(series, 0.5))
	assert.Equal(t, 0.0, PercentileRank(nil, 5))
}

func TestATR_ReflectsRange(t *testing.T) {
	n := 30
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		highs[i] = 5020
		lows[i] = 4980
		closes[i] = 5000
	}
	// Every bar's true range is 40.
	assert.InDelta(t, 40.0, ATR(highs, lows, closes), 1.0)
}

func TestATR_TooShort(t *testing.T) {
	s := []float64{1, 2}
	assert.Equal(t, 0.0, ATR(s, s, s))
}

func TestStdDev(t *testing.T) {
	// Population sd of {2,4,4,4,5,5,7,9} around mean 5 is 2.
	window := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 2.0, stdDev(window, 5), 1e-9)
	assert.True(t, !math.IsNaN(stdDev(window, 5)))
}
