package domain

import (
	"fmt"
	"time"
)

// StructureCandidate is a fully resolved structure ready for sizing. All
// premiums are chain midpoints at evaluation time, per contract, points.
type StructureCandidate struct {
	Tier   Tier
	Expiry time.Time
	DTE    int
	Legs   []Leg

	Credit  float64 // net credit per contract, points
	MaxLoss float64 // per-contract dollars, 0 for undefined risk
}

// BuildIronCondor resolves a four-leg defined-risk structure: short call
// and short put at the delta targets, wings one width further out. The
// reject string names the first liquidity or chain failure; a non-empty
// reject means no candidate.
func BuildIronCondor(chain ChainSummary, p AssetParameters, callDelta, putDelta float64) (*StructureCandidate, string) {
	exp := chain.ExpiryInWindow(p.MinDTE, p.MaxDTE, p.TargetDTE)
	if exp == nil {
		return nil, fmt.Sprintf("no expiry in %d-%d DTE window", p.MinDTE, p.MaxDTE)
	}

	shortCall := NearestDelta(exp.Calls, callDelta)
	shortPut := NearestDelta(exp.Puts, putDelta)
	if shortCall == nil || shortPut == nil {
		return nil, "chain side empty"
	}
	for _, q := range []struct {
		side  string
		quote *OptionQuote
	}{{"short call", shortCall}, {"short put", shortPut}} {
		if ok, why := q.quote.Liquid(); !ok {
			return nil, q.side + " " + why
		}
	}

	longCall := NearestStrike(exp.Calls, shortCall.Strike+p.WingWidth)
	longPut := NearestStrike(exp.Puts, shortPut.Strike-p.WingWidth)
	if longCall == nil || longPut == nil {
		return nil, "no wing strikes available"
	}
	if longCall.Strike <= shortCall.Strike || longPut.Strike >= shortPut.Strike {
		return nil, "wings collapse onto short strikes"
	}
	for _, q := range []struct {
		side  string
		quote *OptionQuote
	}{{"long call", longCall}, {"long put", longPut}} {
		if ok, why := q.quote.Liquid(); !ok {
			return nil, q.side + " " + why
		}
	}

	credit := shortCall.Mid() + shortPut.Mid() - longCall.Mid() - longPut.Mid()
	if credit <= 0 {
		return nil, "structure yields no net credit"
	}

	// The realized wing widths may differ once snapped to listed strikes;
	// the wider side sets the worst case.
	callWidth := longCall.Strike - shortCall.Strike
	putWidth := shortPut.Strike - longPut.Strike
	width := callWidth
	if putWidth > width {
		width = putWidth
	}
	maxLoss := (width - credit) * p.PointValue
	if maxLoss <= 0 {
		return nil, "credit exceeds width"
	}

	return &StructureCandidate{
		Tier:   TierDefinedRisk,
		Expiry: exp.Expiry,
		DTE:    exp.DTE,
		Legs: []Leg{
			{Role: ShortCall, Strike: shortCall.Strike, Expiry: exp.Expiry, Quantity: -1, EntryPremium: shortCall.Mid(), CurrentDelta: shortCall.Delta},
			{Role: LongCall, Strike: longCall.Strike, Expiry: exp.Expiry, Quantity: 1, EntryPremium: longCall.Mid(), CurrentDelta: longCall.Delta},
			{Role: ShortPut, Strike: shortPut.Strike, Expiry: exp.Expiry, Quantity: -1, EntryPremium: shortPut.Mid(), CurrentDelta: shortPut.Delta},
			{Role: LongPut, Strike: longPut.Strike, Expiry: exp.Expiry, Quantity: 1, EntryPremium: longPut.Mid(), CurrentDelta: longPut.Delta},
		},
		Credit:  credit,
		MaxLoss: maxLoss,
	}, ""
}

// BuildStrangle resolves a two-leg undefined-risk structure at the delta
// targets.
func BuildStrangle(chain ChainSummary, p AssetParameters, callDelta, putDelta float64) (*StructureCandidate, string) {
	exp := chain.ExpiryInWindow(p.MinDTE, p.MaxDTE, p.TargetDTE)
	if exp == nil {
		return nil, fmt.Sprintf("no expiry in %d-%d DTE window", p.MinDTE, p.MaxDTE)
	}

	shortCall := NearestDelta(exp.Calls, callDelta)
	shortPut := NearestDelta(exp.Puts, putDelta)
	if shortCall == nil || shortPut == nil {
		return nil, "chain side empty"
	}
	if ok, why := shortCall.Liquid(); !ok {
		return nil, "short call " + why
	}
	if ok, why := shortPut.Liquid(); !ok {
		return nil, "short put " + why
	}
	if shortPut.Strike >= shortCall.Strike {
		return nil, "short strikes cross"
	}

	credit := shortCall.Mid() + shortPut.Mid()
	if credit <= 0 {
		return nil, "structure yields no net credit"
	}

	return &StructureCandidate{
		Tier:   TierUndefinedRisk,
		Expiry: exp.Expiry,
		DTE:    exp.DTE,
		Legs: []Leg{
			{Role: ShortCall, Strike: shortCall.Strike, Expiry: exp.Expiry, Quantity: -1, EntryPremium: shortCall.Mid(), CurrentDelta: shortCall.Delta},
			{Role: ShortPut, Strike: shortPut.Strike, Expiry: exp.Expiry, Quantity: -1, EntryPremium: shortPut.Mid(), CurrentDelta: shortPut.Delta},
		},
		Credit: credit,
	}, ""
}

// ChainViable is the cheap pre-check the gate chain runs before the
// selector spends time building: an expiry exists in the DTE window and
// both delta-target strikes are liquid.
func ChainViable(chain ChainSummary, p AssetParameters, callDelta, putDelta float64) (bool, string) {
	exp := chain.ExpiryInWindow(p.MinDTE, p.MaxDTE, p.TargetDTE)
	if exp == nil {
		return false, fmt.Sprintf("no expiry in %d-%d DTE window", p.MinDTE, p.MaxDTE)
	}
	shortCall := NearestDelta(exp.Calls, callDelta)
	shortPut := NearestDelta(exp.Puts, putDelta)
	if shortCall == nil || shortPut == nil {
		return false, "chain side empty"
	}
	if ok, why := shortCall.Liquid(); !ok {
		return false, "short call " + why
	}
	if ok, why := shortPut.Liquid(); !ok {
		return false, "short put " + why
	}
	return true, ""
}
