package domain

import "time"

// DecisionKind is the action a cycle decided on.
type DecisionKind int

const (
	DecisionEnter DecisionKind = iota
	DecisionClose
	DecisionRoll
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionEnter:
		return "ENTER"
	case DecisionClose:
		return "CLOSE"
	default:
		return "ROLL"
	}
}

// GateRecord is one entry-gate evaluation. A trace holds one record per
// gate actually evaluated; the chain stops at the first failure.
type GateRecord struct {
	Gate      string  `json:"gate"`
	Passed    bool    `json:"passed"`
	Value     float64 `json:"value,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Detail    string  `json:"detail,omitempty"`
}

// GateTrace is the ordered record of one asset's gate run.
type GateTrace []GateRecord

// Passed reports whether every evaluated gate passed.
func (t GateTrace) Passed() bool {
	for _, g := range t {
		if !g.Passed {
			return false
		}
	}
	return len(t) > 0
}

// FailureReason returns the first failing gate's detail, or "".
func (t GateTrace) FailureReason() string {
	for _, g := range t {
		if !g.Passed {
			if g.Detail != "" {
				return g.Gate + ": " + g.Detail
			}
			return g.Gate
		}
	}
	return ""
}

// SelectionRecord documents the tier decision for an entry.
type SelectionRecord struct {
	Tier             Tier     `json:"tier"`
	FailedConditions []string `json:"failed_conditions,omitempty"`
	Detail           string   `json:"detail,omitempty"`
}

// SizingRecord documents how the contract count was reached.
type SizingRecord struct {
	Contracts          int     `json:"contracts"`
	RiskBudget         float64 `json:"risk_budget"`
	RiskPct            float64 `json:"risk_pct"`
	Conviction         float64 `json:"conviction"`
	MaxLossPerContract float64 `json:"max_loss_per_contract"`
	TotalMaxLoss       float64 `json:"total_max_loss"`
	ExposureCapped     bool    `json:"exposure_capped,omitempty"`
	Detail             string  `json:"detail,omitempty"`
}

// DecisionTrace carries the full evaluation context to the executor and
// the store, so every order can be explained after the fact.
type DecisionTrace struct {
	Gates     GateTrace        `json:"gates,omitempty"`
	Selection *SelectionRecord `json:"selection,omitempty"`
	Sizing    *SizingRecord    `json:"sizing,omitempty"`
	Trend     *TrendAssessment `json:"trend,omitempty"`
}

// RollPlan describes the leg replacement of a roll decision. The engine
// resolves the concrete strike from the chain before execution.
type RollPlan struct {
	CloseRole   LegRole   `json:"close_role"`
	NewStrike   float64   `json:"new_strike"`
	NewExpiry   time.Time `json:"new_expiry"`
	DeltaTarget float64   `json:"delta_target"`
	CloseCost   float64   `json:"close_cost"`  // points paid to buy back the breached leg
	NewCredit   float64   `json:"new_credit"`  // points received for the replacement
}

// NetCredit is replacement credit minus buy-back cost, negative = debit.
func (r RollPlan) NetCredit() float64 {
	return r.NewCredit - r.CloseCost
}

// Decision is one final per-cycle action handed to the executor. Decisions
// are immutable once the cycle ends.
type Decision struct {
	Kind       DecisionKind
	Asset      string
	PositionID string // empty for entries until the fill is applied
	At         time.Time

	// Entry fields.
	Tier      Tier
	Legs      []Leg // resolved strikes and entry premiums at decision time
	Contracts int
	Credit    float64 // expected net credit per contract, points
	MaxLoss   float64 // per-contract dollars, defined risk only

	// Close fields.
	Reason ExitReason
	Detail string // lifecycle or governor explanation, persisted with the decision

	// Roll fields.
	Roll *RollPlan

	Trace DecisionTrace
}

// ExecutionResult is the executor's per-decision outcome.
type ExecutionResult struct {
	PositionID string
	Applied    bool
	FillCredit float64 // actual net credit/debit per contract, points
	Detail     string
}

// EventKind classifies notifier events.
type EventKind string

const (
	EventEntry          EventKind = "entry"
	EventExit           EventKind = "exit"
	EventRoll           EventKind = "roll"
	EventRegimeChange   EventKind = "regime_change"
	EventRiskState      EventKind = "risk_state"
	EventMarginAction   EventKind = "margin_action"
	EventCorrelation    EventKind = "correlation"
	EventReconciliation EventKind = "reconciliation"
	EventCycleSummary   EventKind = "cycle_summary"
)

// Event is a structured notification. Delivery failures are logged and
// swallowed; an event can never affect engine state.
type Event struct {
	Kind       EventKind
	At         time.Time
	Asset      string
	PositionID string
	Title      string
	Detail     string
	Severity   string // info | warn | critical

	// Optional payloads for the console dashboard.
	Positions []Position
	Stats     *TradeStats
}

// RiskSnapshot is the persisted portfolio risk state. Saved on every
// change so a restart resumes exactly where the last cycle left off.
type RiskSnapshot struct {
	State string

	Equity     float64
	PeakEquity float64

	DailyPnL   float64
	WeeklyPnL  float64
	MonthlyPnL float64

	DayAnchor   time.Time
	WeekAnchor  time.Time
	MonthAnchor time.Time

	ConsecutiveMaxLosses int
	CooldownUntil        time.Time

	LossMembers []string // assets in the correlation-alert membership

	Regimes map[string]string // symbol -> persisted regime name

	UpdatedAt time.Time
}

// Drawdown returns the current drawdown from peak as a positive fraction.
func (r RiskSnapshot) Drawdown() float64 {
	if r.PeakEquity <= 0 || r.Equity >= r.PeakEquity {
		return 0
	}
	return (r.PeakEquity - r.Equity) / r.PeakEquity
}
