package marketdata

// Replay is a ports.MarketData provider that walks recorded candle
// history one day per cycle and synthesizes the option chain from it.
// Dry runs and the paper loop use it; a broker feed would implement the
// same port.

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/stargazecap/optimus/internal/domain"
)

// Candle is one daily bar, oldest-first in a series.
type Candle struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Indicator windows for the snapshot builder.
const (
	adxPeriod        = 14
	rvShortWindow    = 20
	rv30Window       = 30
	bandwidthPeriod  = 20
	bandwidthStdDevs = 2.0
	pctileLookback   = 252
)

// Chain geometry for the synthetic expiries.
var chainDTEs = []int{24, 31, 38, 45}

// ErrExhausted is returned once the replay has no candles left.
var ErrExhausted = errors.New("marketdata: replay exhausted")

// Replay implements ports.MarketData over per-symbol candle series. Each
// Snapshots call advances one day. The stress series (a VIX-style proxy,
// aligned with the candles) is optional: without it the stress proxy is
// derived from the widest short realized vol across symbols.
type Replay struct {
	mu     sync.Mutex
	series map[string][]Candle
	stress []float64
	cursor int
	length int
}

// NewReplay builds the provider. warmup is how many candles to consume
// before the first snapshot, so indicators start fully formed.
func NewReplay(series map[string][]Candle, stress []float64, warmup int) (*Replay, error) {
	if len(series) == 0 {
		return nil, errors.New("marketdata.NewReplay: no candle series")
	}
	length := -1
	for sym, candles := range series {
		if length < 0 || len(candles) < length {
			length = len(candles)
		}
		if len(candles) <= warmup {
			return nil, fmt.Errorf("marketdata.NewReplay: %s has %d candles, warmup needs more than %d", sym, len(candles), warmup)
		}
	}
	return &Replay{series: series, stress: stress, cursor: warmup, length: length}, nil
}

// Snapshots returns the snapshot set for the current day and advances the
// cursor. Returns ErrExhausted past the end of the shortest series.
func (r *Replay) Snapshots(_ context.Context) (map[string]domain.MarketSnapshot, float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cursor >= r.length {
		return nil, 0, ErrExhausted
	}

	out := make(map[string]domain.MarketSnapshot, len(r.series))
	var widestRV float64
	for sym, candles := range r.series {
		snap := buildSnapshot(sym, candles[:r.cursor+1])
		if snap.RealizedVol > widestRV {
			widestRV = snap.RealizedVol
		}
		out[sym] = snap
	}

	stress := widestRV * 100
	if r.cursor < len(r.stress) {
		stress = r.stress[r.cursor]
	}
	for sym, snap := range out {
		snap.Stress = stress
		out[sym] = snap
	}

	r.cursor++
	return out, stress, nil
}

// buildSnapshot derives every per-asset input the engine needs from the
// candle window ending at the current day.
func buildSnapshot(symbol string, candles []Candle) domain.MarketSnapshot {
	n := len(candles)
	last := candles[n-1]

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	rvShort := RealizedVol(closes, rvShortWindow)
	rv30 := RealizedVol(closes, rv30Window)

	// Bandwidth percentile over the trailing year of bandwidth readings.
	bandwidths := BandwidthSeries(closes, bandwidthPeriod, bandwidthStdDevs)
	var bwPct float64
	if len(bandwidths) > 0 {
		history := bandwidths
		if len(history) > pctileLookback {
			history = history[len(history)-pctileLookback:]
		}
		bwPct = PercentileRank(history, bandwidths[len(bandwidths)-1])
	}

	// IV rank proxy: where today's short vol sits in its own trailing
	// year. The engine treats IV rank as an input; this provider has no
	// options feed, so realized vol is the stand-in.
	ivRank := ivRankProxy(closes)

	chainVol := rv30
	if rvShort > chainVol {
		chainVol = rvShort
	}

	return domain.MarketSnapshot{
		Symbol:          symbol,
		Date:            last.Date,
		Price:           last.Close,
		SessionOpen:     last.Open,
		Closes:          closes,
		ATR:             ATR(highs, lows, closes),
		ADX:             ADX(highs, lows, closes, adxPeriod),
		BandwidthPctile: bwPct,
		RealizedVol:     rvShort,
		RealizedVol30:   rv30,
		IVRank:          ivRank,
		DailyVolume:     last.Volume,
		Chain:           SyntheticChain(last.Close, chainVol, chainDTEs, strikeStepFor(last.Close), last.Date),
	}
}

func ivRankProxy(closes []float64) float64 {
	current := RealizedVol(closes, rvShortWindow)
	if current == 0 {
		return 0
	}
	var history []float64
	start := len(closes) - pctileLookback
	if start < rvShortWindow+1 {
		start = rvShortWindow + 1
	}
	for i := start; i <= len(closes); i++ {
		if rv := RealizedVol(closes[:i], rvShortWindow); rv > 0 {
			history = append(history, rv)
		}
	}
	return PercentileRank(history, current)
}

// strikeStepFor picks a listing-like strike spacing for the price level.
func strikeStepFor(price float64) float64 {
	switch {
	case price >= 2000:
		return 25
	case price >= 500:
		return 5
	default:
		return 1
	}
}

// LoadCandlesCSV reads one symbol's daily bars from a CSV file with a
// header row: date,open,high,low,close,volume. Dates are 2006-01-02.
func LoadCandlesCSV(path string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("marketdata.LoadCandlesCSV: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("marketdata.LoadCandlesCSV: read %s: %w", path, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("marketdata.LoadCandlesCSV: %s has no data rows", path)
	}

	out := make([]Candle, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) < 6 {
			return nil, fmt.Errorf("marketdata.LoadCandlesCSV: %s row %d has %d fields, want 6", path, i+2, len(row))
		}
		date, err := time.Parse("2006-01-02", row[0])
		if err != nil {
			return nil, fmt.Errorf("marketdata.LoadCandlesCSV: %s row %d: %w", path, i+2, err)
		}
		vals := make([]float64, 5)
		for j := 1; j <= 5; j++ {
			v, err := strconv.ParseFloat(row[j], 64)
			if err != nil {
				return nil, fmt.Errorf("marketdata.LoadCandlesCSV: %s row %d col %d: %w", path, i+2, j+1, err)
			}
			vals[j-1] = v
		}
		out = append(out, Candle{
			Date: date, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4],
		})
	}
	return out, nil
}
