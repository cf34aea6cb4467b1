package domain

import "fmt"

// AssetParameters is the per-underlying configuration record. It is built
// once at startup from the validated config and never mutated afterwards;
// every calculator receives it by value.
type AssetParameters struct {
	Symbol     string
	PointValue float64 // dollars per index point per contract

	// Short-strike delta band. Default is the symmetric target, Min is the
	// most skewed-away target on the favored side, Max the most leaned-in
	// target on the tested side.
	DefaultShortDelta float64
	MinShortDelta     float64
	MaxShortDelta     float64

	WingWidth float64 // points between short strike and protective wing (tier-1)

	MinIVRank float64 // entry window, 0..100
	MaxIVRank float64

	MinDTE    int
	MaxDTE    int
	TargetDTE int

	ProfitTargetPct float64 // close when unrealized gain reaches this fraction of credit
	LossLimitPct    float64 // defined-risk: loss limit as fraction of max loss
	LossLimitMult   float64 // undefined-risk: loss limit as multiple of credit

	RollTriggerDelta float64 // short-leg delta that arms the roll
	MaxRolls         int
	RollSpacingDays  int

	MaxConcurrent  int
	StaggerMinDays int

	Tier2Eligible  bool
	Tier2MinIVRank float64
	Tier2MaxIVRank float64
	MaxNotionalPct float64 // undefined-risk notional cap as fraction of equity

	TrendPrimaryLookback int
	TrendConfirmLookback int
	TrendScalingFactor   float64

	// RegimeFilter names an optional per-asset tradability sub-check.
	// "trend_suppress" is the only recognized value.
	RegimeFilter string
}

// TrendSuppressFilter is the recognized RegimeFilter value.
const TrendSuppressFilter = "trend_suppress"

// HasTrendSuppress reports whether this asset carries the trend handoff
// sub-check on top of the shared regime gate.
func (p AssetParameters) HasTrendSuppress() bool {
	return p.RegimeFilter == TrendSuppressFilter
}

// Validate enforces the structural invariants the rest of the engine
// assumes. A violation here is fatal at startup, never at runtime.
func (p AssetParameters) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("domain.AssetParameters: empty symbol")
	}
	if p.PointValue <= 0 {
		return fmt.Errorf("domain.AssetParameters: %s: point value must be positive", p.Symbol)
	}
	if !(0 < p.MinShortDelta && p.MinShortDelta < p.DefaultShortDelta &&
		p.DefaultShortDelta < p.MaxShortDelta && p.MaxShortDelta < 1) {
		return fmt.Errorf("domain.AssetParameters: %s: delta band must satisfy 0 < min %.3f < default %.3f < max %.3f < 1",
			p.Symbol, p.MinShortDelta, p.DefaultShortDelta, p.MaxShortDelta)
	}
	if p.WingWidth <= 0 {
		return fmt.Errorf("domain.AssetParameters: %s: wing width must be positive", p.Symbol)
	}
	if !(0 <= p.MinIVRank && p.MinIVRank < p.MaxIVRank && p.MaxIVRank <= 100) {
		return fmt.Errorf("domain.AssetParameters: %s: IV rank window [%.1f, %.1f] out of range",
			p.Symbol, p.MinIVRank, p.MaxIVRank)
	}
	if !(0 < p.MinDTE && p.MinDTE <= p.TargetDTE && p.TargetDTE <= p.MaxDTE) {
		return fmt.Errorf("domain.AssetParameters: %s: DTE window must satisfy 0 < min %d <= target %d <= max %d",
			p.Symbol, p.MinDTE, p.TargetDTE, p.MaxDTE)
	}
	if p.ProfitTargetPct <= 0 || p.ProfitTargetPct >= 1 {
		return fmt.Errorf("domain.AssetParameters: %s: profit target %.2f must be in (0, 1)", p.Symbol, p.ProfitTargetPct)
	}
	if p.LossLimitPct <= 0 || p.LossLimitPct > 1 {
		return fmt.Errorf("domain.AssetParameters: %s: loss limit pct %.2f must be in (0, 1]", p.Symbol, p.LossLimitPct)
	}
	if p.LossLimitMult <= 0 {
		return fmt.Errorf("domain.AssetParameters: %s: loss limit multiple must be positive", p.Symbol)
	}
	if p.RollTriggerDelta <= p.MaxShortDelta || p.RollTriggerDelta >= 1 {
		return fmt.Errorf("domain.AssetParameters: %s: roll trigger %.2f must sit between max short delta and 1",
			p.Symbol, p.RollTriggerDelta)
	}
	if p.MaxRolls < 0 || p.RollSpacingDays < 0 {
		return fmt.Errorf("domain.AssetParameters: %s: roll cap and spacing cannot be negative", p.Symbol)
	}
	if p.MaxConcurrent <= 0 {
		return fmt.Errorf("domain.AssetParameters: %s: max concurrent must be positive", p.Symbol)
	}
	if p.StaggerMinDays < 0 {
		return fmt.Errorf("domain.AssetParameters: %s: stagger days cannot be negative", p.Symbol)
	}
	if p.Tier2Eligible {
		if !(0 <= p.Tier2MinIVRank && p.Tier2MinIVRank < p.Tier2MaxIVRank && p.Tier2MaxIVRank <= 100) {
			return fmt.Errorf("domain.AssetParameters: %s: tier-2 IV window [%.1f, %.1f] out of range",
				p.Symbol, p.Tier2MinIVRank, p.Tier2MaxIVRank)
		}
		if p.MaxNotionalPct <= 0 || p.MaxNotionalPct > 1 {
			return fmt.Errorf("domain.AssetParameters: %s: max notional pct %.3f must be in (0, 1]", p.Symbol, p.MaxNotionalPct)
		}
	}
	if p.TrendPrimaryLookback < 2 || p.TrendConfirmLookback < 2 {
		return fmt.Errorf("domain.AssetParameters: %s: trend lookbacks must be at least 2", p.Symbol)
	}
	if p.TrendConfirmLookback >= p.TrendPrimaryLookback {
		return fmt.Errorf("domain.AssetParameters: %s: confirm lookback %d must be shorter than primary %d",
			p.Symbol, p.TrendConfirmLookback, p.TrendPrimaryLookback)
	}
	if p.TrendScalingFactor <= 0 {
		return fmt.Errorf("domain.AssetParameters: %s: trend scaling factor must be positive", p.Symbol)
	}
	if p.RegimeFilter != "" && p.RegimeFilter != TrendSuppressFilter {
		return fmt.Errorf("domain.AssetParameters: %s: unknown regime filter %q", p.Symbol, p.RegimeFilter)
	}
	return nil
}
