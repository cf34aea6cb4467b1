package domain

import "math"

// TrendAssessment is the trend gradient output for one asset and cycle.
// Score is in [-1, 1]; positive means upward pressure, so the put side is
// the tested side and the call side is favored.
type TrendAssessment struct {
	Score      float64
	CallDelta  float64 // short-call delta target after skew
	PutDelta   float64 // short-put delta target after skew
	Suppressed bool    // strong-trend cheap-vol suppression zone
}

// Skew and suppression constants shared by every asset.
const (
	SkewNeutralBand     = 0.3 // |score| at or below this keeps default deltas
	SuppressScoreFloor  = 0.9 // |score| above this with cheap vol suppresses entries
	SuppressIVRankFloor = 30.0
)

// OLSSlope returns the least-squares slope of values against their index
// 0..n-1, in value units per step. Returns 0 for fewer than two points.
func OLSSlope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}
	// x = 0..n-1, so sumX and sumXX have closed forms.
	sumX := n * (n - 1) / 2
	sumXX := n * (n - 1) * (2*n - 1) / 6
	var sumY, sumXY float64
	for i, v := range values {
		sumY += v
		sumXY += float64(i) * v
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// TrendScore computes the normalized trend gradient from a series of daily
// closes. The primary slope is normalized by price and by the asset's daily
// ATR expressed as a percent of price, then scaled and clipped to [-1, 1].
// When the primary and confirmation slopes disagree in sign the score is
// forced to zero so a single whipsaw day cannot skew strikes.
func TrendScore(closes []float64, price, atr float64, p AssetParameters) float64 {
	if len(closes) < p.TrendPrimaryLookback || price <= 0 || atr <= 0 {
		return 0
	}
	primary := OLSSlope(closes[len(closes)-p.TrendPrimaryLookback:])
	confirm := OLSSlope(closes[len(closes)-p.TrendConfirmLookback:])
	if primary*confirm < 0 {
		return 0
	}
	slopePct := primary / price * 100
	atrPct := atr / price * 100
	raw := slopePct / (atrPct * p.TrendScalingFactor)
	return math.Max(-1, math.Min(1, raw))
}

// DeltaTargets maps a trend score to the short-strike delta targets for
// both sides. Inside the neutral band both sides get the default. Beyond
// it the favored side interpolates toward MinShortDelta and the tested
// side toward MaxShortDelta, proportional to (|score|-0.3)/0.7, clamped to
// the configured band.
func DeltaTargets(score float64, p AssetParameters) (callDelta, putDelta float64) {
	abs := math.Abs(score)
	if abs <= SkewNeutralBand {
		return p.DefaultShortDelta, p.DefaultShortDelta
	}
	skew := (abs - SkewNeutralBand) / (1 - SkewNeutralBand)
	if skew > 1 {
		skew = 1
	}
	away := p.DefaultShortDelta - skew*(p.DefaultShortDelta-p.MinShortDelta)
	toward := p.DefaultShortDelta + skew*(p.MaxShortDelta-p.DefaultShortDelta)
	away = clampDelta(away, p)
	toward = clampDelta(toward, p)
	if score > 0 {
		// Up trend: calls are favored (skewed away), puts are tested.
		return away, toward
	}
	return toward, away
}

func clampDelta(d float64, p AssetParameters) float64 {
	return math.Max(p.MinShortDelta, math.Min(p.MaxShortDelta, d))
}

// EntrySuppressed reports the strong-trend suppression zone: near-maximal
// trend with cheap volatility is the worst premium-selling setup, so new
// entries are blocked while management of existing positions continues.
func EntrySuppressed(score, ivRank float64) bool {
	return math.Abs(score) > SuppressScoreFloor && ivRank < SuppressIVRankFloor
}

// AssessTrend runs the full trend pipeline for one snapshot.
func AssessTrend(snap MarketSnapshot, p AssetParameters) TrendAssessment {
	score := TrendScore(snap.Closes, snap.Price, snap.ATR, p)
	call, put := DeltaTargets(score, p)
	return TrendAssessment{
		Score:      score,
		CallDelta:  call,
		PutDelta:   put,
		Suppressed: EntrySuppressed(score, snap.IVRank),
	}
}
