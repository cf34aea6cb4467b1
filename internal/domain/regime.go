package domain

// Regime is the per-asset market regime driving entry permission.
type Regime int

const (
	RegimeRanging Regime = iota // sideways, the strategy's home regime
	RegimeLowVol                // compressed bandwidth, still sideways
	RegimeTrending
	RegimeHighVol
	RegimeCrisis
)

func (r Regime) String() string {
	switch r {
	case RegimeRanging:
		return "RANGING"
	case RegimeLowVol:
		return "LOW_VOL"
	case RegimeTrending:
		return "TRENDING"
	case RegimeHighVol:
		return "HIGH_VOL"
	case RegimeCrisis:
		return "CRISIS"
	default:
		return "UNKNOWN"
	}
}

// RegimeFromString is the inverse of String, used when restoring persisted
// state. Unknown strings map to RANGING.
func RegimeFromString(s string) Regime {
	switch s {
	case "LOW_VOL":
		return RegimeLowVol
	case "TRENDING":
		return RegimeTrending
	case "HIGH_VOL":
		return RegimeHighVol
	case "CRISIS":
		return RegimeCrisis
	default:
		return RegimeRanging
	}
}

// Tradable reports whether the regime permits new entries at all. Only
// the sideways regimes qualify: a trending tape is the directional
// sibling's territory, and the volatile regimes are too hostile to sell
// premium into.
func (r Regime) Tradable() bool {
	return r == RegimeRanging || r == RegimeLowVol
}

// RegimeThresholds configures the classifier. Shared across assets.
type RegimeThresholds struct {
	ADXTrending     float64 // ADX at or above this is a trending candidate
	BandwidthLow    float64 // bandwidth percentile below this is LOW_VOL
	BandwidthHigh   float64 // bandwidth percentile above this is HIGH_VOL
	RealizedVolHigh float64 // annualized short RV above this is HIGH_VOL
	StressCrisis    float64 // stress proxy at or above this is CRISIS, immediately

	ConfirmDays  int // consecutive daily candidates required to switch (2)
	RecoveryDays int // declining-RV days required for HIGH_VOL -> RANGING (5)

	// Trend-suppress sub-check, applied only to assets that carry it.
	SuppressADX       float64
	SuppressBandwidth float64
	SuppressScoreLow  float64
	SuppressScoreHigh float64
}

// ClassifyCandidate maps one snapshot to a raw regime candidate, with no
// hysteresis. Priority: crisis, high vol, trending, low vol, ranging.
func ClassifyCandidate(snap MarketSnapshot, th RegimeThresholds) Regime {
	switch {
	case snap.Stress >= th.StressCrisis:
		return RegimeCrisis
	case snap.RealizedVol >= th.RealizedVolHigh || snap.BandwidthPctile >= th.BandwidthHigh:
		return RegimeHighVol
	case snap.ADX >= th.ADXTrending:
		return RegimeTrending
	case snap.BandwidthPctile < th.BandwidthLow:
		return RegimeLowVol
	default:
		return RegimeRanging
	}
}

// RegimeState is the per-asset classifier state. Mutated only by Observe,
// which the engine calls exactly once per asset per daily cycle.
type RegimeState struct {
	Current      Regime
	Candidate    Regime
	ConfirmCount int

	DecliningRVDays int
	LastRealizedVol float64

	// HandoffActive is set for trend-suppress assets while the sub-check
	// blocks their tradability. Informational outside the gate chain.
	HandoffActive bool
}

// NewRegimeState starts an asset in RANGING with no pending candidate.
func NewRegimeState() *RegimeState {
	return &RegimeState{Current: RegimeRanging, Candidate: RegimeRanging}
}

// Observe feeds one daily snapshot through the classifier and applies the
// hysteresis rules. Returns the previous regime and whether it changed.
//
// Rules, in order:
//   - CRISIS is asserted the moment the stress proxy breaches; it clears
//     only through the normal two-day confirmation of a calmer candidate.
//   - Any other transition needs the same candidate on ConfirmDays
//     consecutive observations.
//   - HIGH_VOL -> RANGING additionally requires RecoveryDays consecutive
//     observations of declining realized vol. The one-way rule makes
//     recovery slower than escalation.
func (s *RegimeState) Observe(snap MarketSnapshot, th RegimeThresholds) (previous Regime, changed bool) {
	previous = s.Current

	if s.LastRealizedVol > 0 && snap.RealizedVol < s.LastRealizedVol {
		s.DecliningRVDays++
	} else {
		s.DecliningRVDays = 0
	}
	s.LastRealizedVol = snap.RealizedVol

	candidate := ClassifyCandidate(snap, th)

	if candidate == RegimeCrisis && s.Current != RegimeCrisis {
		s.Current = RegimeCrisis
		s.Candidate = RegimeCrisis
		s.ConfirmCount = 0
		return previous, true
	}

	if candidate == s.Current {
		s.Candidate = candidate
		s.ConfirmCount = 0
		return previous, false
	}

	if candidate == s.Candidate {
		s.ConfirmCount++
	} else {
		s.Candidate = candidate
		s.ConfirmCount = 1
	}

	if s.ConfirmCount < th.ConfirmDays {
		return previous, false
	}
	if s.Current == RegimeHighVol && candidate == RegimeRanging && s.DecliningRVDays < th.RecoveryDays {
		// Confirmed, but realized vol has not backed off long enough.
		return previous, false
	}

	s.Current = candidate
	s.ConfirmCount = 0
	return previous, true
}

// TrendSuppressed is the sub-check for the two handoff assets: a strong
// directional tape (high ADX, expanded bands) with the trend score inside
// the handoff band means the trend-following sibling strategy owns the
// underlying and premium selling stands down.
func TrendSuppressed(snap MarketSnapshot, score float64, th RegimeThresholds) bool {
	abs := score
	if abs < 0 {
		abs = -abs
	}
	return snap.ADX >= th.SuppressADX &&
		snap.BandwidthPctile >= th.SuppressBandwidth &&
		abs >= th.SuppressScoreLow && abs <= th.SuppressScoreHigh
}
