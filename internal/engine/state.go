package engine

import (
	"sync"
	"time"

	"github.com/stargazecap/optimus/internal/domain"
)

// RiskState is the portfolio risk FSM state.
type RiskState int

const (
	RiskNormal RiskState = iota
	RiskDayHalt
	RiskWeekHalt
	RiskMonthHalt
	RiskCorrAlert
)

func (s RiskState) String() string {
	switch s {
	case RiskDayHalt:
		return "DAY_HALT"
	case RiskWeekHalt:
		return "WEEK_HALT"
	case RiskMonthHalt:
		return "MONTH_HALT"
	case RiskCorrAlert:
		return "CORR_ALERT"
	default:
		return "NORMAL"
	}
}

// RiskStateFromString restores a persisted state name.
func RiskStateFromString(s string) RiskState {
	switch s {
	case "DAY_HALT":
		return RiskDayHalt
	case "WEEK_HALT":
		return RiskWeekHalt
	case "MONTH_HALT":
		return RiskMonthHalt
	case "CORR_ALERT":
		return RiskCorrAlert
	default:
		return RiskNormal
	}
}

// BlocksEntries reports whether the state vetoes new entries.
func (s RiskState) BlocksEntries() bool { return s != RiskNormal }

// StateView is the read-only copy handed to the per-asset workers. Built
// once per cycle under the lock, then shared without synchronization.
type StateView struct {
	Risk       RiskState
	Equity     float64
	PeakEquity float64
	Drawdown   float64

	Exposure    float64 // aggregate max-loss dollars across open positions
	MarginRatio float64 // last known buffer ratio

	OpenByAsset     map[string]int
	YoungestByAsset map[string]time.Time // latest entry date per asset
	Regimes         map[string]domain.Regime
	LossMembers     int
	Stats           domain.TradeStats
}

// State is the single owner of all mutable portfolio aggregates. Every
// mutation goes through a command method under the mutex; workers only
// ever see StateView copies.
type State struct {
	mu sync.Mutex

	risk RiskState

	equity     float64
	peakEquity float64

	dailyPnL   float64
	weeklyPnL  float64
	monthlyPnL float64

	dayAnchor   time.Time
	weekAnchor  time.Time
	monthAnchor time.Time

	consecutiveMaxLosses int
	cooldownUntil        time.Time

	lossMembers map[string]bool
	regimes     map[string]*domain.RegimeState

	openByAsset     map[string]int
	youngestByAsset map[string]time.Time
	exposure        float64
	marginRatio     float64

	stats domain.TradeStats
}

// NewState starts from a fresh equity figure with every aggregate zeroed.
func NewState(equity float64, symbols []string, now time.Time) *State {
	s := &State{
		equity:          equity,
		peakEquity:      equity,
		dayAnchor:       dayStart(now),
		weekAnchor:      weekStart(now),
		monthAnchor:     monthStart(now),
		lossMembers:     make(map[string]bool),
		regimes:         make(map[string]*domain.RegimeState),
		openByAsset:     make(map[string]int),
		youngestByAsset: make(map[string]time.Time),
		marginRatio:     4.0,
	}
	for _, sym := range symbols {
		s.regimes[sym] = domain.NewRegimeState()
	}
	return s
}

// Restore overlays a persisted snapshot, keeping configured symbols.
func (s *State) Restore(snap domain.RiskSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.risk = RiskStateFromString(snap.State)
	if snap.Equity > 0 {
		s.equity = snap.Equity
	}
	if snap.PeakEquity > s.peakEquity {
		s.peakEquity = snap.PeakEquity
	}
	s.dailyPnL = snap.DailyPnL
	s.weeklyPnL = snap.WeeklyPnL
	s.monthlyPnL = snap.MonthlyPnL
	if !snap.DayAnchor.IsZero() {
		s.dayAnchor = snap.DayAnchor
	}
	if !snap.WeekAnchor.IsZero() {
		s.weekAnchor = snap.WeekAnchor
	}
	if !snap.MonthAnchor.IsZero() {
		s.monthAnchor = snap.MonthAnchor
	}
	s.consecutiveMaxLosses = snap.ConsecutiveMaxLosses
	s.cooldownUntil = snap.CooldownUntil
	for _, sym := range snap.LossMembers {
		s.lossMembers[sym] = true
	}
	for sym, name := range snap.Regimes {
		if rs, ok := s.regimes[sym]; ok {
			rs.Current = domain.RegimeFromString(name)
			rs.Candidate = rs.Current
		}
	}
}

// Snapshot returns the persistable risk state.
func (s *State) Snapshot() domain.RiskSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := make([]string, 0, len(s.lossMembers))
	for sym := range s.lossMembers {
		members = append(members, sym)
	}
	regimes := make(map[string]string, len(s.regimes))
	for sym, rs := range s.regimes {
		regimes[sym] = rs.Current.String()
	}
	return domain.RiskSnapshot{
		State:                s.risk.String(),
		Equity:               s.equity,
		PeakEquity:           s.peakEquity,
		DailyPnL:             s.dailyPnL,
		WeeklyPnL:            s.weeklyPnL,
		MonthlyPnL:           s.monthlyPnL,
		DayAnchor:            s.dayAnchor,
		WeekAnchor:           s.weekAnchor,
		MonthAnchor:          s.monthAnchor,
		ConsecutiveMaxLosses: s.consecutiveMaxLosses,
		CooldownUntil:        s.cooldownUntil,
		LossMembers:          members,
		Regimes:              regimes,
		UpdatedAt:            time.Now().UTC(),
	}
}

// View builds the read-only copy for this cycle's workers.
func (s *State) View() StateView {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := make(map[string]int, len(s.openByAsset))
	for k, v := range s.openByAsset {
		open[k] = v
	}
	young := make(map[string]time.Time, len(s.youngestByAsset))
	for k, v := range s.youngestByAsset {
		young[k] = v
	}
	regimes := make(map[string]domain.Regime, len(s.regimes))
	for sym, rs := range s.regimes {
		regimes[sym] = rs.Current
	}
	dd := 0.0
	if s.peakEquity > 0 && s.equity < s.peakEquity {
		dd = (s.peakEquity - s.equity) / s.peakEquity
	}
	return StateView{
		Risk:            s.risk,
		Equity:          s.equity,
		PeakEquity:      s.peakEquity,
		Drawdown:        dd,
		Exposure:        s.exposure,
		MarginRatio:     s.marginRatio,
		OpenByAsset:     open,
		YoungestByAsset: young,
		Regimes:         regimes,
		LossMembers:     len(s.lossMembers),
		Stats:           s.stats,
	}
}

// ObserveRegime runs the per-asset classifier. Called once per asset per
// daily cycle, always from the cycle goroutine.
func (s *State) ObserveRegime(symbol string, snap domain.MarketSnapshot, th domain.RegimeThresholds) (previous domain.Regime, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.regimes[symbol]
	if !ok {
		rs = domain.NewRegimeState()
		s.regimes[symbol] = rs
	}
	return rs.Observe(snap, th)
}

// SetHandoff flags the trend-suppress handoff on an asset's regime state.
func (s *State) SetHandoff(symbol string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs, ok := s.regimes[symbol]; ok {
		rs.HandoffActive = active
	}
}

// RecordEntry registers a filled entry: count, stagger clock, exposure.
func (s *State) RecordEntry(p domain.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openByAsset[p.Underlying]++
	if p.EntryDate.After(s.youngestByAsset[p.Underlying]) {
		s.youngestByAsset[p.Underlying] = p.EntryDate
	}
	s.exposure += positionExposure(p)
}

// RecordClose folds a closed trade into P&L, stats, the circuit breaker
// counter and the exposure aggregate.
func (s *State) RecordClose(p domain.Position, trade domain.ClosedTrade, cooldown time.Duration, breakerCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := s.openByAsset[p.Underlying]; n > 0 {
		s.openByAsset[p.Underlying] = n - 1
	}
	s.exposure -= positionExposure(p)
	if s.exposure < 0 {
		s.exposure = 0
	}

	s.dailyPnL += trade.RealizedPnL
	s.weeklyPnL += trade.RealizedPnL
	s.monthlyPnL += trade.RealizedPnL
	s.equity += trade.RealizedPnL
	if s.equity > s.peakEquity {
		s.peakEquity = s.equity
	}

	s.stats.Record(trade)

	if trade.MaxLossExit() {
		s.consecutiveMaxLosses++
		if breakerCount > 0 && s.consecutiveMaxLosses >= breakerCount {
			s.cooldownUntil = trade.ExitDate.Add(cooldown)
		}
	} else {
		s.consecutiveMaxLosses = 0
	}
}

// SetLossMembers replaces the correlation membership for this cycle.
func (s *State) SetLossMembers(symbols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lossMembers = make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		s.lossMembers[sym] = true
	}
}

// SetMarginRatio stores the buffer ratio read this cycle.
func (s *State) SetMarginRatio(r float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marginRatio = r
}

// SetEquity updates marked equity without touching period P&L.
func (s *State) SetEquity(equity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.equity = equity
	if equity > s.peakEquity {
		s.peakEquity = equity
	}
}

// RebuildBook resets position aggregates from the persisted open set,
// used at startup and after reconciliation.
func (s *State) RebuildBook(positions []domain.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openByAsset = make(map[string]int)
	s.youngestByAsset = make(map[string]time.Time)
	s.exposure = 0
	for _, p := range positions {
		if p.Status == domain.StatusOrphaned {
			continue
		}
		s.openByAsset[p.Underlying]++
		if p.EntryDate.After(s.youngestByAsset[p.Underlying]) {
			s.youngestByAsset[p.Underlying] = p.EntryDate
		}
		s.exposure += positionExposure(p)
	}
}

// CooldownActive reports whether the circuit breaker blocks entries now.
func (s *State) CooldownActive(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Before(s.cooldownUntil)
}

func (s *State) setRisk(r RiskState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.risk = r
}

// positionExposure is the dollars a position can lose at worst, the unit
// of the aggregate exposure ceiling. Undefined risk uses the loss-limit
// proxy baked into MaxLoss at decision time when present, else notional
// credit at a 2x multiple.
func positionExposure(p domain.Position) float64 {
	if p.MaxLoss > 0 {
		return p.TotalMaxLoss()
	}
	return p.CreditDollars() * 2
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func weekStart(t time.Time) time.Time {
	d := dayStart(t)
	// ISO week: back up to Monday.
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

func monthStart(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}
