package engine

import (
	"fmt"
	"time"

	"github.com/stargazecap/optimus/internal/domain"
)

// GateInput is everything the entry gate chain reads for one asset. Built
// by the cycle from the snapshot and the state view, so the chain itself
// is a pure function.
type GateInput struct {
	Params domain.AssetParameters
	Snap   domain.MarketSnapshot
	Trend  domain.TrendAssessment
	Now    time.Time

	Regime          domain.Regime
	TrendSuppressed bool // per-asset handoff sub-check, pre-computed

	OpenOnAsset    int
	YoungestEntry  time.Time // zero when the asset has no open positions

	// Projected margin utilization (used/available) if this entry fills,
	// against the configured cap.
	ProjectedMarginUse float64
	MarginUseCap       float64

	LossMembers    int
	CorrAlertEnter int
}

// Gate names, in chain order.
const (
	GateRegime       = "regime"
	GateHandoff      = "trend_handoff"
	GateIVRank       = "iv_rank"
	GateChainHealth  = "chain_liquidity"
	GateMargin       = "projected_margin"
	GateConcurrent   = "max_concurrent"
	GateStagger      = "stagger"
	GateSuppression  = "trend_suppression"
	GateCorrelation  = "correlation"
)

// EvaluateGates runs the nine ordered entry gates, stopping at the first
// failure. The trace holds one record per gate actually evaluated; the
// first failing record's detail is the reason the asset sat out.
func EvaluateGates(in GateInput) domain.GateTrace {
	var trace domain.GateTrace

	add := func(rec domain.GateRecord) bool {
		trace = append(trace, rec)
		return rec.Passed
	}

	// 1. Regime permits entries at all.
	if !add(domain.GateRecord{
		Gate:   GateRegime,
		Passed: in.Regime.Tradable(),
		Detail: in.Regime.String(),
	}) {
		return trace
	}

	// 2. Trend handoff for the designated assets.
	handoffBlocked := in.Params.HasTrendSuppress() && in.TrendSuppressed
	rec := domain.GateRecord{Gate: GateHandoff, Passed: !handoffBlocked}
	if handoffBlocked {
		rec.Detail = "trend strategy owns the underlying"
	}
	if !add(rec) {
		return trace
	}

	// 3. IV rank inside the entry window.
	if !add(domain.GateRecord{
		Gate:      GateIVRank,
		Passed:    in.Snap.IVRank >= in.Params.MinIVRank && in.Snap.IVRank <= in.Params.MaxIVRank,
		Value:     in.Snap.IVRank,
		Threshold: in.Params.MinIVRank,
		Detail:    fmt.Sprintf("IV rank %.1f outside [%.0f, %.0f]", in.Snap.IVRank, in.Params.MinIVRank, in.Params.MaxIVRank),
	}) {
		return trace
	}

	// 4. Chain health: volume floor plus liquid strikes at the targets.
	volOK := in.Snap.DailyVolume > domain.MinDailyVolume
	chainOK, chainWhy := false, "daily volume too low"
	if volOK {
		chainOK, chainWhy = domain.ChainViable(in.Snap.Chain, in.Params, in.Trend.CallDelta, in.Trend.PutDelta)
	}
	if !add(domain.GateRecord{
		Gate:      GateChainHealth,
		Passed:    volOK && chainOK,
		Value:     in.Snap.DailyVolume,
		Threshold: domain.MinDailyVolume,
		Detail:    chainWhy,
	}) {
		return trace
	}

	// 5. Projected margin stays under the cap.
	if !add(domain.GateRecord{
		Gate:      GateMargin,
		Passed:    in.ProjectedMarginUse <= in.MarginUseCap,
		Value:     in.ProjectedMarginUse,
		Threshold: in.MarginUseCap,
		Detail:    fmt.Sprintf("projected margin use %.2f over cap %.2f", in.ProjectedMarginUse, in.MarginUseCap),
	}) {
		return trace
	}

	// 6. Per-asset concurrency.
	if !add(domain.GateRecord{
		Gate:      GateConcurrent,
		Passed:    in.OpenOnAsset < in.Params.MaxConcurrent,
		Value:     float64(in.OpenOnAsset),
		Threshold: float64(in.Params.MaxConcurrent),
		Detail:    fmt.Sprintf("%d positions already open", in.OpenOnAsset),
	}) {
		return trace
	}

	// 7. Stagger: the youngest position must be old enough.
	staggerOK := true
	age := 0
	if in.OpenOnAsset > 0 && !in.YoungestEntry.IsZero() {
		age = int(in.Now.Sub(in.YoungestEntry).Hours() / 24)
		staggerOK = age >= in.Params.StaggerMinDays
	}
	if !add(domain.GateRecord{
		Gate:      GateStagger,
		Passed:    staggerOK,
		Value:     float64(age),
		Threshold: float64(in.Params.StaggerMinDays),
		Detail:    fmt.Sprintf("youngest position is %d days old, need %d", age, in.Params.StaggerMinDays),
	}) {
		return trace
	}

	// 8. Strong-trend cheap-vol suppression zone.
	if !add(domain.GateRecord{
		Gate:   GateSuppression,
		Passed: !in.Trend.Suppressed,
		Value:  in.Trend.Score,
		Detail: fmt.Sprintf("score %.2f with IV rank %.1f", in.Trend.Score, in.Snap.IVRank),
	}) {
		return trace
	}

	// 9. Correlation guard.
	add(domain.GateRecord{
		Gate:      GateCorrelation,
		Passed:    in.LossMembers < in.CorrAlertEnter,
		Value:     float64(in.LossMembers),
		Threshold: float64(in.CorrAlertEnter),
		Detail:    fmt.Sprintf("%d assets in correlated loss", in.LossMembers),
	})
	return trace
}
