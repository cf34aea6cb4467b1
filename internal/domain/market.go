package domain

import (
	"math"
	"time"
)

// OptionQuote is one strike's quote on one side of the chain. Delta is
// stored as an absolute value regardless of side.
type OptionQuote struct {
	Strike       float64
	Delta        float64
	Bid          float64
	Ask          float64
	OpenInterest int
}

// Mid returns the quote midpoint, 0 when the quote is empty or crossed.
func (q OptionQuote) Mid() float64 {
	if q.Bid <= 0 || q.Ask <= 0 || q.Ask < q.Bid {
		return 0
	}
	return (q.Bid + q.Ask) / 2
}

// SpreadPct returns the bid-ask spread as a fraction of the midpoint.
func (q OptionQuote) SpreadPct() float64 {
	mid := q.Mid()
	if mid <= 0 {
		return math.Inf(1)
	}
	return (q.Ask - q.Bid) / mid
}

// Liquidity floors applied to every strike the engine trades.
const (
	MaxSpreadPct    = 0.15
	MinOpenInterest = 500
	MinDailyVolume  = 50_000
)

// Liquid reports whether the quote clears the spread and open-interest
// floors, with the failing check named for the trace.
func (q OptionQuote) Liquid() (bool, string) {
	if q.Mid() <= 0 {
		return false, "no two-sided quote"
	}
	if pct := q.SpreadPct(); pct >= MaxSpreadPct {
		return false, "spread too wide"
	}
	if q.OpenInterest <= MinOpenInterest {
		return false, "open interest too low"
	}
	return true, ""
}

// ExpirySlice is one expiry's calls and puts, sorted by strike ascending.
type ExpirySlice struct {
	Expiry time.Time
	DTE    int
	Calls  []OptionQuote
	Puts   []OptionQuote
}

// ChainSummary is the per-asset option chain snapshot handed to the engine.
type ChainSummary struct {
	Expiries []ExpirySlice
}

// ExpiryInWindow picks the expiry inside [minDTE, maxDTE] closest to
// targetDTE. Returns nil when the window has no expiry.
func (c ChainSummary) ExpiryInWindow(minDTE, maxDTE, targetDTE int) *ExpirySlice {
	var best *ExpirySlice
	bestDist := math.MaxInt
	for i := range c.Expiries {
		e := &c.Expiries[i]
		if e.DTE < minDTE || e.DTE > maxDTE {
			continue
		}
		dist := e.DTE - targetDTE
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			best = e
			bestDist = dist
		}
	}
	return best
}

// NearestDelta returns the quote whose absolute delta is closest to target,
// nil when the side is empty.
func NearestDelta(quotes []OptionQuote, target float64) *OptionQuote {
	var best *OptionQuote
	bestDist := math.Inf(1)
	for i := range quotes {
		dist := math.Abs(quotes[i].Delta - target)
		if dist < bestDist {
			best = &quotes[i]
			bestDist = dist
		}
	}
	return best
}

// NearestStrike returns the quote whose strike is closest to target.
func NearestStrike(quotes []OptionQuote, target float64) *OptionQuote {
	var best *OptionQuote
	bestDist := math.Inf(1)
	for i := range quotes {
		dist := math.Abs(quotes[i].Strike - target)
		if dist < bestDist {
			best = &quotes[i]
			bestDist = dist
		}
	}
	return best
}

// MarketSnapshot is everything the engine knows about one underlying for
// one cycle. It is transient: built by the market-data adapter, consumed
// by the cycle, never stored.
type MarketSnapshot struct {
	Symbol      string
	Date        time.Time
	Price       float64
	SessionOpen float64   // session open, for the intraday catastrophic stop
	Closes      []float64 // daily closes, oldest first, long enough for the primary lookback

	ATR             float64 // ATR(14), points
	ADX             float64 // ADX(14), 0..100
	BandwidthPctile float64 // Bollinger bandwidth percentile over a trailing year, 0..100
	RealizedVol     float64 // short-window realized vol, annualized
	RealizedVol30   float64 // 30-day realized vol, annualized
	IVRank          float64 // 0..100, supplied by the data layer
	Stress          float64 // broad-market stress proxy shared across assets
	DailyVolume     float64 // underlying daily volume

	Chain ChainSummary
}

// IntradayMove returns the absolute move from the session open, in points.
func (s MarketSnapshot) IntradayMove() float64 {
	if s.SessionOpen <= 0 {
		return 0
	}
	return math.Abs(s.Price - s.SessionOpen)
}

// MarginUsage is the margin signal read from the margin source port.
type MarginUsage struct {
	Used      float64
	Available float64
	AsOf      time.Time
}

// BufferRatio returns available/used. Infinite when nothing is in use.
func (m MarginUsage) BufferRatio() float64 {
	if m.Used <= 0 {
		return math.Inf(1)
	}
	return m.Available / m.Used
}

// MaxUsageAge is how old a margin reading may be before the engine falls
// back to its own conservative estimate.
const MaxUsageAge = 15 * time.Minute

// Stale reports whether the reading is too old to act on.
func (m MarginUsage) Stale(now time.Time) bool {
	return m.AsOf.IsZero() || now.Sub(m.AsOf) > MaxUsageAge
}
