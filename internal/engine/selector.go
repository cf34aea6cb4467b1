package engine

import (
	"fmt"

	"github.com/stargazecap/optimus/internal/domain"
)

// Tier-2 admission constants shared across assets. The stress band is
// moderate on both sides: above the ceiling the tape is too hostile for
// undefined risk, below the floor it is too calm to pay for it.
const (
	tier2StressMin    = 18.0
	tier2StressMax    = 25.0
	tier2MarginUseMax = 0.40 // current margin utilization ceiling
	tier2RVElevated   = 1.15 // short RV vs 30d ratio that counts as elevated
)

// SelectorInput is what the tier decision reads for one asset.
type SelectorInput struct {
	Params domain.AssetParameters
	IVRank float64
	Stress float64

	MarginUse  float64 // current used/available utilization, 0..1+
	CorrAlert  bool
	RVShort    float64
	RV30       float64
}

// SelectStructure decides tier-2 (strangle) versus tier-1 (iron condor).
// Tier-2 needs every condition to hold; the record lists each one that
// failed so every selection is explainable after the fact.
func SelectStructure(in SelectorInput) domain.SelectionRecord {
	var failed []string

	if !in.Params.Tier2Eligible {
		failed = append(failed, "asset not tier-2 eligible")
	}
	if in.IVRank < in.Params.Tier2MinIVRank || in.IVRank > in.Params.Tier2MaxIVRank {
		failed = append(failed, fmt.Sprintf("IV rank %.1f outside tier-2 window [%.0f, %.0f]",
			in.IVRank, in.Params.Tier2MinIVRank, in.Params.Tier2MaxIVRank))
	}
	if in.Stress < tier2StressMin || in.Stress >= tier2StressMax {
		failed = append(failed, fmt.Sprintf("stress %.1f outside moderate band [%.0f, %.0f)", in.Stress, tier2StressMin, tier2StressMax))
	}
	if in.MarginUse >= tier2MarginUseMax {
		failed = append(failed, fmt.Sprintf("margin utilization %.2f at or above %.2f", in.MarginUse, tier2MarginUseMax))
	}
	if in.CorrAlert {
		failed = append(failed, "correlation alert active")
	}
	if in.RV30 > 0 && in.RVShort/in.RV30 >= tier2RVElevated {
		failed = append(failed, fmt.Sprintf("short RV %.2f elevated vs 30d %.2f", in.RVShort, in.RV30))
	}

	if len(failed) == 0 {
		return domain.SelectionRecord{
			Tier:   domain.TierUndefinedRisk,
			Detail: "all tier-2 conditions met",
		}
	}
	return domain.SelectionRecord{
		Tier:             domain.TierDefinedRisk,
		FailedConditions: failed,
		Detail:           "defaulting to defined risk",
	}
}
