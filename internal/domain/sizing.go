package domain

import (
	"fmt"
	"math"
)

// Drawdown steps for the risk budget. The base risk percent is reduced
// once the portfolio is down 10% from peak and again at 20%.
const (
	DrawdownStep1    = 0.10
	DrawdownStep2    = 0.20
	RiskPctAtStep1   = 0.015
	RiskPctAtStep2   = 0.010
	ConvictionFloor  = 0.5
	ConvictionCeil   = 1.5
)

// DrawdownAdjustedRisk steps the base per-trade risk fraction down as the
// portfolio draws down from its peak.
func DrawdownAdjustedRisk(baseRiskPct, drawdown float64) float64 {
	switch {
	case drawdown >= DrawdownStep2:
		return math.Min(baseRiskPct, RiskPctAtStep2)
	case drawdown >= DrawdownStep1:
		return math.Min(baseRiskPct, RiskPctAtStep1)
	default:
		return baseRiskPct
	}
}

// ClampConviction bounds the conviction multiplier to [0.5, 1.5].
func ClampConviction(m float64) float64 {
	return math.Max(ConvictionFloor, math.Min(ConvictionCeil, m))
}

// ConvictionInputs are the factors folded into the conviction multiplier.
type ConvictionInputs struct {
	IVRank     float64 // 0..100
	TrendScore float64 // -1..1
	Bandwidth  float64 // bandwidth percentile, 0..100
	WinRate    float64 // running win rate over closed trades, 0..1
	Trades     int     // closed trades backing the win rate
}

// ConvictionScore builds a multiplier in [0.5, 1.5] around a neutral 1.0.
// Rich vol and a quiet tape raise it; stretched trend and a cold streak
// cut it. Each factor contributes at most ±0.15 so no single input can
// dominate the budget.
func ConvictionScore(in ConvictionInputs) float64 {
	m := 1.0

	// IV rank: 50 is neutral, every 10 points adds or removes 0.03.
	m += clamp((in.IVRank-50)/10*0.03, -0.15, 0.15)

	// Trend: flat tape is ideal for premium selling.
	m -= clamp(math.Abs(in.TrendScore)*0.15, 0, 0.15)

	// Bandwidth: deep compression (very low percentile) means thin premium.
	if in.Bandwidth < 20 {
		m -= 0.10
	}

	// Recent results, only once there is a sample worth reading.
	if in.Trades >= 10 {
		m += clamp((in.WinRate-0.6)*0.5, -0.15, 0.15)
	}

	return ClampConviction(m)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// RiskBudget combines equity, the drawdown-adjusted risk fraction and the
// conviction multiplier into the per-trade dollar budget.
func RiskBudget(equity, baseRiskPct, drawdown, conviction float64) float64 {
	if equity <= 0 {
		return 0
	}
	return equity * DrawdownAdjustedRisk(baseRiskPct, drawdown) * ClampConviction(conviction)
}

// SizeDefinedRisk returns floor(riskBudget / maxLossPerContract), where
// max loss per contract is (width - credit) x point value in dollars.
// Zero or negative inputs size to zero, which callers treat as skip.
func SizeDefinedRisk(riskBudget, maxLossPerContract float64) int {
	if riskBudget <= 0 || maxLossPerContract <= 0 {
		return 0
	}
	return int(riskBudget / maxLossPerContract)
}

// SizeUndefinedRisk sizes a strangle: notional-capped contracts, reduced
// until the credit-multiple loss limit fits inside the risk budget.
func SizeUndefinedRisk(equity, maxNotionalPct, price, pointValue, creditPoints, lossLimitMult, riskBudget float64) int {
	if equity <= 0 || price <= 0 || pointValue <= 0 || creditPoints <= 0 {
		return 0
	}
	contracts := int(equity * maxNotionalPct / (price * pointValue))
	if contracts <= 0 {
		return 0
	}
	// Worst accepted loss before the limit fires, per contract, dollars.
	perContractRisk := creditPoints * lossLimitMult * pointValue
	if perContractRisk <= 0 {
		return 0
	}
	if budgetCap := int(riskBudget / perContractRisk); budgetCap < contracts {
		contracts = budgetCap
	}
	if contracts < 0 {
		return 0
	}
	return contracts
}

// CapToExposure trims a contract count so the portfolio's aggregate
// max-loss exposure stays at or under the ceiling. Returns the adjusted
// count and whether the cap bit.
func CapToExposure(contracts int, perContractMaxLoss, currentExposure, ceiling float64) (int, bool) {
	if contracts <= 0 || perContractMaxLoss <= 0 {
		return contracts, false
	}
	headroom := ceiling - currentExposure
	if headroom <= 0 {
		return 0, true
	}
	allowed := int(headroom / perContractMaxLoss)
	if allowed >= contracts {
		return contracts, false
	}
	return allowed, true
}

// SizeEntry runs the full sizing pipeline for a structure candidate and
// returns the record the decision trace carries.
func SizeEntry(cand StructureCandidate, p AssetParameters, price, equity, baseRiskPct, drawdown, conviction, currentExposure, exposureCeiling float64) SizingRecord {
	riskPct := DrawdownAdjustedRisk(baseRiskPct, drawdown)
	budget := RiskBudget(equity, baseRiskPct, drawdown, conviction)

	var contracts int
	perContract := cand.MaxLoss
	if cand.Tier == TierDefinedRisk {
		contracts = SizeDefinedRisk(budget, cand.MaxLoss)
	} else {
		contracts = SizeUndefinedRisk(equity, p.MaxNotionalPct, price, p.PointValue, cand.Credit, p.LossLimitMult, budget)
		perContract = cand.Credit * p.LossLimitMult * p.PointValue
	}

	contracts, capped := CapToExposure(contracts, perContract, currentExposure, exposureCeiling)

	return SizingRecord{
		Contracts:          contracts,
		RiskBudget:         budget,
		RiskPct:            riskPct,
		Conviction:         ClampConviction(conviction),
		MaxLossPerContract: perContract,
		TotalMaxLoss:       float64(contracts) * perContract,
		ExposureCapped:     capped,
		Detail: fmt.Sprintf("equity %.0f x risk %.4f x conviction %.2f = %.0f budget / %.0f per contract = %d",
			equity, riskPct, ClampConviction(conviction), budget, perContract, contracts),
	}
}
