package marketdata

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCandles(n int) []Candle {
	out := make([]Candle, 0, n)
	price := 5000.0
	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		wiggle := float64(i%2)*2 - 1
		price += wiggle * 8
		out = append(out, Candle{
			Date:   start.AddDate(0, 0, i),
			Open:   price - 4,
			High:   price + 12,
			Low:    price - 12,
			Close:  price,
			Volume: 1_200_000,
		})
	}
	return out
}

func TestReplay_SnapshotsAdvance(t *testing.T) {
	r, err := NewReplay(map[string][]Candle{"SPX": testCandles(80)}, nil, 60)
	require.NoError(t, err)

	snaps, _, err := r.Snapshots(context.Background())
	require.NoError(t, err)
	first := snaps["SPX"]
	assert.Len(t, first.Closes, 61)

	snaps, _, err = r.Snapshots(context.Background())
	require.NoError(t, err)
	second := snaps["SPX"]
	assert.Len(t, second.Closes, 62)
	assert.Equal(t, first.Date.AddDate(0, 0, 1), second.Date)
}

func TestReplay_SnapshotFields(t *testing.T) {
	candles := testCandles(80)
	r, err := NewReplay(map[string][]Candle{"SPX": candles}, nil, 79)
	require.NoError(t, err)

	snaps, stress, err := r.Snapshots(context.Background())
	require.NoError(t, err)
	snap := snaps["SPX"]

	last := candles[79]
	assert.Equal(t, "SPX", snap.Symbol)
	assert.Equal(t, last.Close, snap.Price)
	assert.Equal(t, last.Open, snap.SessionOpen)
	assert.Equal(t, last.Volume, snap.DailyVolume)
	assert.Greater(t, snap.ATR, 0.0)
	assert.Greater(t, snap.RealizedVol, 0.0)
	assert.NotEmpty(t, snap.Chain.Expiries)
	assert.Equal(t, stress, snap.Stress)
}

func TestReplay_StressSeriesOverrides(t *testing.T) {
	stress := make([]float64, 80)
	for i := range stress {
		stress[i] = 42
	}
	r, err := NewReplay(map[string][]Candle{"SPX": testCandles(80)}, stress, 60)
	require.NoError(t, err)

	_, got, err := r.Snapshots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42.0, got)
}

func TestReplay_Exhaustion(t *testing.T) {
	r, err := NewReplay(map[string][]Candle{"SPX": testCandles(62)}, nil, 60)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, _, err = r.Snapshots(context.Background())
		require.NoError(t, err)
	}
	_, _, err = r.Snapshots(context.Background())
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestNewReplay_WarmupTooLong(t *testing.T) {
	_, err := NewReplay(map[string][]Candle{"SPX": testCandles(30)}, nil, 60)
	assert.Error(t, err)
}

func TestLoadCandlesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spx.csv")
	data := "date,open,high,low,close,volume\n" +
		"2026-01-05,5000,5040,4980,5020,1200000\n" +
		"2026-01-06,5020,5060,5010,5050,1300000\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	candles, err := LoadCandlesCSV(path)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), candles[0].Date)
	assert.Equal(t, 5020.0, candles[0].Close)
	assert.Equal(t, 1_300_000.0, candles[1].Volume)
}

func TestLoadCandlesCSV_BadRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	data := "date,open,high,low,close,volume\nnot-a-date,1,2,3,4,5\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	_, err := LoadCandlesCSV(path)
	assert.Error(t, err)
}
