package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/stargazecap/optimus/internal/domain"
	"github.com/stargazecap/optimus/internal/metrics"
	"github.com/stargazecap/optimus/internal/ports"
)

// Config holds the engine-level knobs; per-asset parameters live in the
// AssetParameters map.
type Config struct {
	InitialEquity float64
	BaseRiskPct   float64

	Thresholds domain.RegimeThresholds
	Limits     RiskLimits

	Workers           int
	DecisionRetention time.Duration
}

// CycleResult summarizes one full decision cycle for reporting.
type CycleResult struct {
	At time.Time

	Entered int
	Closed  int
	Rolled  int
	Vetoed  int

	RiskState  RiskState
	Margin     MarginDirective
	GateTraces map[string]domain.GateTrace

	Orphans   []string
	Untracked []string
	Warnings  []string

	Positions []domain.Position
	Equity    float64
}

// Engine runs the decision cycle: classify, gate, select, size, veto,
// execute, manage, persist. Collaborators sit behind ports; the engine
// itself never touches a network or a clock other than the one it is
// handed per cycle.
type Engine struct {
	cfg    Config
	params map[string]domain.AssetParameters

	market ports.MarketData
	margin ports.MarginSource
	exec   ports.Executor
	store  ports.StateStore
	notify ports.Notifier

	state *State
	gov   *RiskGovernor

	// Open book, keyed by position ID. Only the cycle goroutine mutates it.
	positions map[string]*domain.Position

	lastRegimeDay time.Time
}

// New wires the engine. Call Init before the first cycle.
func New(cfg Config, params map[string]domain.AssetParameters, market ports.MarketData, margin ports.MarginSource, exec ports.Executor, store ports.StateStore, notify ports.Notifier) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU() * 2
	}
	if cfg.DecisionRetention <= 0 {
		cfg.DecisionRetention = 90 * 24 * time.Hour
	}
	symbols := make([]string, 0, len(params))
	for sym := range params {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	state := NewState(cfg.InitialEquity, symbols, time.Now().UTC())
	return &Engine{
		cfg:       cfg,
		params:    params,
		market:    market,
		margin:    margin,
		exec:      exec,
		store:     store,
		notify:    notify,
		state:     state,
		gov:       NewRiskGovernor(state, cfg.Limits),
		positions: make(map[string]*domain.Position),
	}
}

// State exposes the aggregate owner, for wiring and tests.
func (e *Engine) State() *State { return e.state }

// Init restores persisted risk state and the open book.
func (e *Engine) Init(ctx context.Context) error {
	snap, ok, err := e.store.LoadRiskState(ctx)
	if err != nil {
		return fmt.Errorf("engine.Init: load risk state: %w", err)
	}
	if ok {
		e.state.Restore(snap)
		slog.Info("engine: restored risk state", "state", snap.State, "equity", snap.Equity)
	}

	open, err := e.store.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("engine.Init: load positions: %w", err)
	}
	for i := range open {
		p := open[i]
		e.positions[p.ID] = &p
	}
	e.state.RebuildBook(open)
	slog.Info("engine: book restored", "positions", len(open))
	return nil
}

// RunOnce executes one complete cycle: refresh → govern → manage →
// evaluate entries → size + veto → execute → persist → reconcile.
func (e *Engine) RunOnce(ctx context.Context) (*CycleResult, error) {
	now := time.Now().UTC()
	result := &CycleResult{At: now, GateTraces: make(map[string]domain.GateTrace)}

	// 1. Market refresh.
	snaps, stress, err := e.market.Snapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine.RunOnce: snapshots: %w", err)
	}
	slog.Info("engine: cycle start", "assets", len(snaps), "stress", fmt.Sprintf("%.1f", stress))

	// 2. Period rollover reverts expired halts before anything else reads
	// the FSM.
	for _, reverted := range e.gov.RollPeriods(now) {
		e.emit(ctx, domain.Event{
			Kind: domain.EventRiskState, At: now, Severity: "info",
			Title:  "risk state reverted",
			Detail: fmt.Sprintf("%s cleared at period start", reverted),
		})
	}

	// 3. Mark the open book against fresh chains.
	prices := make(map[string]float64, len(snaps))
	for sym, snap := range snaps {
		prices[sym] = snap.Price
	}
	openList := e.markPositions(snaps, now)

	// 4. Correlation membership feeds both the FSM and the entry gate.
	members := LossMembers(openList)
	e.state.SetLossMembers(members)

	// 5. Margin read, with the conservative fallback.
	usage, usageErr := e.margin.Usage(ctx)
	if usageErr != nil {
		slog.Warn("engine: margin source failed, using estimate", "err", usageErr)
	}
	view := e.state.View()
	ratio, estimated := ResolveMargin(usage, usageErr, now, openList, prices, view.Equity)
	e.state.SetMarginRatio(ratio)
	directive := EvaluateMargin(ratio, estimated)
	result.Margin = directive
	metrics.SetMarginBuffer(ratio)
	if directive.Severity() > 0 {
		e.emit(ctx, domain.Event{
			Kind: domain.EventMarginAction, At: now, Severity: "warn",
			Title:  "margin governor active",
			Detail: fmt.Sprintf("buffer %.2f (estimated=%v)", ratio, estimated),
		})
	}

	// 6. Risk FSM.
	riskState, changed := e.gov.Evaluate()
	result.RiskState = riskState
	metrics.SetRiskState(riskState.String())
	if changed {
		sev := "warn"
		if riskState == RiskNormal {
			sev = "info"
		}
		e.emit(ctx, domain.Event{
			Kind: domain.EventRiskState, At: now, Severity: sev,
			Title:  "risk state " + riskState.String(),
			Detail: fmt.Sprintf("equity %.0f, %d assets in correlated loss", view.Equity, len(members)),
		})
	}

	// 7. Daily regime observation, once per calendar day.
	if day := dayStart(now); day.After(e.lastRegimeDay) {
		e.observeRegimes(ctx, snaps, now)
		e.lastRegimeDay = day
	}

	// 8. Management pass: margin directives, month-halt sweep, lifecycle.
	decisions := e.manage(openList, snaps, directive, now)

	// 9. Entry pass, skipped entirely when entries are blocked upstream.
	view = e.state.View()
	if !directive.BlockEntries {
		cands := e.evaluateEntriesConcurrent(snaps, stress, view, now)
		for _, c := range cands {
			result.GateTraces[c.symbol] = c.trace
			if c.decision == nil {
				continue
			}
			ok, reason := e.sizeAndVeto(c, view, now)
			if !ok {
				result.Vetoed++
				metrics.IncVeto(reason)
				slog.Info("engine: entry vetoed", "asset", c.symbol, "reason", reason)
				continue
			}
			decisions = append(decisions, *c.decision)
		}
	}

	// 10. Persist decisions, then execute.
	for _, d := range decisions {
		if err := e.store.SaveDecision(ctx, d); err != nil {
			slog.Warn("engine: save decision", "err", err)
		}
		metrics.IncDecision(d.Kind.String())
	}
	results, err := e.exec.Execute(ctx, decisions)
	if err != nil {
		return nil, fmt.Errorf("engine.RunOnce: execute: %w", err)
	}

	// 11. Apply fills to the book and the aggregates.
	e.applyResults(ctx, decisions, results, snaps, now, result)

	// 12. Persist the risk snapshot after every mutation of the cycle.
	if err := e.store.SaveRiskState(ctx, e.state.Snapshot()); err != nil {
		slog.Warn("engine: save risk state", "err", err)
	}
	if err := e.store.PruneDecisions(ctx, now.Add(-e.cfg.DecisionRetention)); err != nil {
		slog.Warn("engine: prune decisions", "err", err)
	}

	// 13. Reconcile against the venue.
	orphans, untracked, err := e.Reconcile(ctx)
	if err != nil {
		slog.Warn("engine: reconcile", "err", err)
	}
	result.Orphans = orphans
	result.Untracked = untracked

	view = e.state.View()
	result.Equity = view.Equity
	result.Positions = e.openSorted()
	metrics.SetOpenPositions(len(result.Positions))
	metrics.SetEquity(view.Equity)

	stats := view.Stats
	e.emit(ctx, domain.Event{
		Kind: domain.EventCycleSummary, At: now, Severity: "info",
		Title:     "cycle complete",
		Detail:    fmt.Sprintf("entered %d closed %d rolled %d vetoed %d", result.Entered, result.Closed, result.Rolled, result.Vetoed),
		Positions: result.Positions,
		Stats:     &stats,
	})
	slog.Info("engine: cycle done",
		"entered", result.Entered, "closed", result.Closed,
		"rolled", result.Rolled, "vetoed", result.Vetoed,
		"risk", result.RiskState.String(), "buffer", fmt.Sprintf("%.2f", ratio))
	return result, nil
}

// markPositions refreshes deltas, close values and DTE from the cycle's
// chains. Returns the active list in deterministic ID order.
func (e *Engine) markPositions(snaps map[string]domain.MarketSnapshot, now time.Time) []domain.Position {
	for _, p := range e.positions {
		snap, ok := snaps[p.Underlying]
		if !ok {
			continue
		}
		value := 0.0
		quoted := 0
		minDTE := 1 << 20
		for i := range p.Legs {
			leg := &p.Legs[i]
			quotes := sideForLeg(snap.Chain, leg)
			if q := domain.NearestStrike(quotes, leg.Strike); q != nil && q.Mid() > 0 {
				leg.CurrentDelta = q.Delta
				quoted++
				if leg.Role.IsShort() {
					value += q.Mid()
				} else {
					value -= q.Mid()
				}
			}
			if dte := int(leg.Expiry.Sub(now).Hours() / 24); dte < minDTE {
				minDTE = dte
			}
		}
		// A partial sum misstates P&L and can trip the loss limit, so the
		// prior value stands until every leg has a live quote.
		if len(p.Legs) > 0 && quoted == len(p.Legs) {
			p.CurrentValue = value
		}
		if minDTE < 1<<20 {
			if minDTE < 0 {
				minDTE = 0
			}
			p.RemainingDTE = minDTE
		}
	}
	return e.openSorted()
}

func (e *Engine) openSorted() []domain.Position {
	out := make([]domain.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// observeRegimes runs the daily classification and the handoff sub-check.
func (e *Engine) observeRegimes(ctx context.Context, snaps map[string]domain.MarketSnapshot, now time.Time) {
	for _, sym := range e.sortedSymbols() {
		snap, ok := snaps[sym]
		if !ok {
			continue
		}
		prev, changed := e.state.ObserveRegime(sym, snap, e.cfg.Thresholds)
		if changed {
			cur := e.state.View().Regimes[sym]
			slog.Info("engine: regime change", "asset", sym, "from", prev.String(), "to", cur.String())
			e.emit(ctx, domain.Event{
				Kind: domain.EventRegimeChange, At: now, Asset: sym, Severity: "info",
				Title:  "regime " + cur.String(),
				Detail: fmt.Sprintf("%s -> %s", prev, cur),
			})
		}
		p := e.params[sym]
		if p.HasTrendSuppress() {
			score := domain.TrendScore(snap.Closes, snap.Price, snap.ATR, p)
			e.state.SetHandoff(sym, domain.TrendSuppressed(snap, score, e.cfg.Thresholds))
		}
	}
}

// manage builds the cycle's close and roll decisions in priority order:
// margin evacuation first, then the month-halt sweep, then the per-
// position lifecycle. A position gets at most one decision per cycle.
func (e *Engine) manage(open []domain.Position, snaps map[string]domain.MarketSnapshot, directive MarginDirective, now time.Time) []domain.Decision {
	var decisions []domain.Decision
	claimed := make(map[string]bool)

	closeDecision := func(p domain.Position, reason domain.ExitReason, detail string) {
		if claimed[p.ID] {
			return
		}
		claimed[p.ID] = true
		decisions = append(decisions, domain.Decision{
			Kind: domain.DecisionClose, Asset: p.Underlying, PositionID: p.ID,
			At: now, Reason: reason, Detail: detail,
		})
	}

	// Margin governor actions escalate monotonically.
	prices := make(map[string]float64, len(snaps))
	for sym, s := range snaps {
		prices[sym] = s.Price
	}
	switch {
	case directive.CloseEverything:
		for _, p := range open {
			if p.Status == domain.StatusActive {
				closeDecision(p, domain.ExitMarginGovernor, "margin evacuation")
			}
		}
	case directive.CloseAllUndefined:
		for _, p := range open {
			if p.Status == domain.StatusActive && p.Tier == domain.TierUndefinedRisk {
				closeDecision(p, domain.ExitMarginGovernor, "flatten undefined risk")
			}
		}
	case directive.CloseTopUndefined:
		if top := HighestMarginUndefined(open, prices); top != nil {
			closeDecision(*top, domain.ExitMarginGovernor, "reduce highest margin consumer")
		}
	}

	// Untracked venue positions carry no leg data to evaluate exits
	// against, so the conservative default is to flatten them.
	for _, p := range open {
		if p.Status == domain.StatusUntracked {
			closeDecision(p, domain.ExitUntracked, "venue position with no internal record")
		}
	}

	// MONTH_HALT sweep.
	for _, p := range e.gov.ForcedCloses(open) {
		closeDecision(p, domain.ExitRiskGovernor, "month halt wind-down")
	}

	// Per-position lifecycle.
	for _, p := range open {
		if claimed[p.ID] || p.Status != domain.StatusActive {
			continue
		}
		snap, ok := snaps[p.Underlying]
		if !ok {
			continue
		}
		act := EvaluateLifecycle(LifecycleInput{
			Pos: p, Snap: snap, Params: e.params[p.Underlying], Now: now,
			TimeStopDTE: e.cfg.Limits.TimeStopDTE,
			Tightened:   directive.TightenTargets,
		})
		switch act.Kind {
		case ActionClose:
			closeDecision(p, act.Reason, act.Detail)
		case ActionRoll:
			plan, closeReason, why := BuildRoll(p, snap, e.params[p.Underlying], act, now)
			if plan == nil {
				closeDecision(p, closeReason, why)
				continue
			}
			claimed[p.ID] = true
			decisions = append(decisions, domain.Decision{
				Kind: domain.DecisionRoll, Asset: p.Underlying, PositionID: p.ID,
				At: now, Roll: plan, Detail: act.Detail,
			})
		}
	}
	return decisions
}

// entryCandidate is one asset's entry evaluation output.
type entryCandidate struct {
	symbol    string
	trace     domain.GateTrace
	trend     domain.TrendAssessment
	selection domain.SelectionRecord
	structure *domain.StructureCandidate
	snap      domain.MarketSnapshot
	decision  *domain.Decision
}

// evaluateEntriesConcurrent fans the per-asset evaluation out over a
// worker pool and returns candidates in deterministic symbol order. The
// workers only read the shared view; all mutation happens afterwards on
// the cycle goroutine.
func (e *Engine) evaluateEntriesConcurrent(snaps map[string]domain.MarketSnapshot, stress float64, view StateView, now time.Time) []entryCandidate {
	symbols := e.sortedSymbols()
	workCh := make(chan string, len(symbols))
	resultCh := make(chan entryCandidate, len(symbols))

	workers := e.cfg.Workers
	if workers > len(symbols) {
		workers = len(symbols)
	}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range workCh {
				snap, ok := snaps[sym]
				if !ok {
					continue
				}
				resultCh <- e.evaluateEntry(sym, snap, stress, view, now)
			}
		}()
	}
	for _, sym := range symbols {
		workCh <- sym
	}
	close(workCh)
	wg.Wait()
	close(resultCh)

	bySymbol := make(map[string]entryCandidate, len(symbols))
	for c := range resultCh {
		bySymbol[c.symbol] = c
	}
	out := make([]entryCandidate, 0, len(bySymbol))
	for _, sym := range symbols {
		if c, ok := bySymbol[sym]; ok {
			out = append(out, c)
		}
	}
	return out
}

// evaluateEntry runs trend → gates → selector → structure for one asset.
// Pure with respect to shared state; everything it needs rides in.
func (e *Engine) evaluateEntry(sym string, snap domain.MarketSnapshot, stress float64, view StateView, now time.Time) entryCandidate {
	p := e.params[sym]
	trend := domain.AssessTrend(snap, p)

	suppressed := false
	if p.HasTrendSuppress() {
		suppressed = domain.TrendSuppressed(snap, trend.Score, e.cfg.Thresholds)
	}

	projected := projectedMarginUse(view, p)
	trace := EvaluateGates(GateInput{
		Params: p, Snap: snap, Trend: trend, Now: now,
		Regime:             view.Regimes[sym],
		TrendSuppressed:    suppressed,
		OpenOnAsset:        view.OpenByAsset[sym],
		YoungestEntry:      view.YoungestByAsset[sym],
		ProjectedMarginUse: projected,
		MarginUseCap:       e.cfg.Limits.MaxMarginUsePct,
		LossMembers:        view.LossMembers,
		CorrAlertEnter:     e.cfg.Limits.CorrAlertEnter,
	})
	cand := entryCandidate{symbol: sym, trace: trace, trend: trend, snap: snap}
	if !trace.Passed() {
		metrics.IncGateFailure(trace[len(trace)-1].Gate)
		return cand
	}

	marginUse := 0.0
	if view.MarginRatio > 0 {
		marginUse = 1 / (1 + view.MarginRatio) // used/(used+available)
	}
	cand.selection = SelectStructure(SelectorInput{
		Params: p, IVRank: snap.IVRank, Stress: stress,
		MarginUse: marginUse,
		CorrAlert: view.Risk == RiskCorrAlert,
		RVShort:   snap.RealizedVol, RV30: snap.RealizedVol30,
	})

	var structure *domain.StructureCandidate
	var reject string
	if cand.selection.Tier == domain.TierUndefinedRisk {
		structure, reject = domain.BuildStrangle(snap.Chain, p, trend.CallDelta, trend.PutDelta)
		if structure == nil {
			// Strangle unavailable: fall back to the condor rather than
			// sitting out.
			cand.selection.FailedConditions = append(cand.selection.FailedConditions, "strangle build: "+reject)
			cand.selection.Tier = domain.TierDefinedRisk
		}
	}
	if structure == nil {
		structure, reject = domain.BuildIronCondor(snap.Chain, p, trend.CallDelta, trend.PutDelta)
	}
	if structure == nil {
		slog.Info("engine: no structure", "asset", sym, "reason", reject)
		return cand
	}
	cand.structure = structure

	sel := cand.selection
	cand.decision = &domain.Decision{
		Kind: domain.DecisionEnter, Asset: sym, At: now,
		Tier: structure.Tier, Legs: structure.Legs,
		Credit: structure.Credit, MaxLoss: structure.MaxLoss,
		Trace: domain.DecisionTrace{
			Gates:     trace,
			Selection: &sel,
			Trend:     &trend,
		},
	}
	return cand
}

// sizeAndVeto completes an entry candidate serially: conviction, sizing,
// then the unconditional risk veto. Mutates the candidate's decision.
func (e *Engine) sizeAndVeto(c entryCandidate, view StateView, now time.Time) (bool, string) {
	p := e.params[c.symbol]
	conviction := domain.ConvictionScore(domain.ConvictionInputs{
		IVRank:     c.snap.IVRank,
		TrendScore: c.trend.Score,
		Bandwidth:  c.snap.BandwidthPctile,
		WinRate:    view.Stats.WinRate(),
		Trades:     view.Stats.Trades,
	})
	rec := domain.SizeEntry(*c.structure, p, c.snap.Price, view.Equity, e.cfg.BaseRiskPct,
		view.Drawdown, conviction, view.Exposure, e.cfg.Limits.ExposureCeilPct*view.Equity)
	c.decision.Contracts = rec.Contracts
	c.decision.Trace.Sizing = &rec

	if rec.Contracts <= 0 {
		return false, "sized_to_zero"
	}
	if ok, reason := e.gov.ApproveEntry(now, rec); !ok {
		return false, reason
	}
	return true, ""
}

// applyResults folds execution outcomes back into the book.
func (e *Engine) applyResults(ctx context.Context, decisions []domain.Decision, results []domain.ExecutionResult, snaps map[string]domain.MarketSnapshot, now time.Time, cycle *CycleResult) {
	for i, d := range decisions {
		if i >= len(results) {
			break
		}
		res := results[i]
		if !res.Applied {
			slog.Warn("engine: decision not applied", "kind", d.Kind.String(), "asset", d.Asset, "detail", res.Detail)
			cycle.Warnings = append(cycle.Warnings, fmt.Sprintf("%s %s: %s", d.Kind, d.Asset, res.Detail))
			continue
		}
		switch d.Kind {
		case domain.DecisionEnter:
			e.applyEntry(ctx, d, res, snaps[d.Asset], now)
			cycle.Entered++
		case domain.DecisionClose:
			e.applyClose(ctx, d, now)
			cycle.Closed++
			metrics.IncExit(string(d.Reason))
		case domain.DecisionRoll:
			e.applyRoll(ctx, d, now)
			cycle.Rolled++
			metrics.IncRoll()
		}
	}
}

func (e *Engine) applyEntry(ctx context.Context, d domain.Decision, res domain.ExecutionResult, snap domain.MarketSnapshot, now time.Time) {
	p := e.params[d.Asset]
	credit := d.Credit
	if res.FillCredit > 0 {
		credit = res.FillCredit
	}
	id := res.PositionID
	if id == "" {
		id = domain.NewPositionID()
	}
	var trendScore float64
	if d.Trace.Trend != nil {
		trendScore = d.Trace.Trend.Score
	}
	view := e.state.View()
	pos := &domain.Position{
		ID: id, Underlying: d.Asset, Tier: d.Tier,
		Legs: d.Legs, Contracts: d.Contracts,
		EntryCredit: credit, EntryDate: now, EntryPrice: snap.Price,
		EntryTrendScore: trendScore,
		EntryRegime:     view.Regimes[d.Asset],
		EntryIVRank:     snap.IVRank,
		PointValue:      p.PointValue,
		MaxLoss:         d.MaxLoss,
		Status:          domain.StatusActive,
		CurrentValue:    credit,
		RemainingDTE:    p.TargetDTE,
	}
	e.positions[id] = pos
	e.state.RecordEntry(*pos)
	if err := e.store.SavePosition(ctx, *pos); err != nil {
		slog.Warn("engine: save position", "id", id, "err", err)
	}
	e.emit(ctx, domain.Event{
		Kind: domain.EventEntry, At: now, Asset: d.Asset, PositionID: id, Severity: "info",
		Title:  fmt.Sprintf("entered %s %s", d.Asset, d.Tier),
		Detail: fmt.Sprintf("%d contracts, credit %.2f", d.Contracts, credit),
	})
}

func (e *Engine) applyClose(ctx context.Context, d domain.Decision, now time.Time) {
	p, ok := e.positions[d.PositionID]
	if !ok {
		return
	}
	trade := domain.ClosedTrade{
		PositionID: p.ID, Underlying: p.Underlying, Tier: p.Tier,
		Contracts: p.Contracts, EntryDate: p.EntryDate, ExitDate: now,
		EntryCredit: p.EntryCredit, ExitValue: p.CurrentValue,
		RealizedPnL: p.UnrealizedPnL(), Reason: d.Reason, RollCount: p.RollCount,
		EntryTrendScore: p.EntryTrendScore, EntryRegime: p.EntryRegime, EntryIVRank: p.EntryIVRank,
	}
	e.state.RecordClose(*p, trade, e.cfg.Limits.BreakerCooldown, e.cfg.Limits.BreakerCount)
	delete(e.positions, d.PositionID)
	if err := e.store.CloseTrade(ctx, p.ID, trade); err != nil {
		slog.Warn("engine: close trade", "id", p.ID, "err", err)
	}
	sev := "info"
	if trade.MaxLossExit() {
		sev = "warn"
	}
	e.emit(ctx, domain.Event{
		Kind: domain.EventExit, At: now, Asset: p.Underlying, PositionID: p.ID, Severity: sev,
		Title:  fmt.Sprintf("closed %s (%s)", p.Underlying, d.Reason),
		Detail: fmt.Sprintf("P&L %.0f after %d days", trade.RealizedPnL, p.Age(now)),
	})
}

func (e *Engine) applyRoll(ctx context.Context, d domain.Decision, now time.Time) {
	p, ok := e.positions[d.PositionID]
	if !ok || d.Roll == nil {
		return
	}
	leg := p.LegByRole(d.Roll.CloseRole)
	if leg == nil {
		return
	}
	leg.Strike = d.Roll.NewStrike
	leg.Expiry = d.Roll.NewExpiry
	leg.EntryPremium = d.Roll.NewCredit
	leg.CurrentDelta = d.Roll.DeltaTarget

	// The credit base moves with the roll so the profit target and loss
	// limits track what the position has actually collected.
	p.EntryCredit += d.Roll.NetCredit()
	p.RollCount++
	p.LastRollDate = now
	p.Status = domain.StatusActive

	if err := e.store.SavePosition(ctx, *p); err != nil {
		slog.Warn("engine: save rolled position", "id", p.ID, "err", err)
	}
	e.emit(ctx, domain.Event{
		Kind: domain.EventRoll, At: now, Asset: p.Underlying, PositionID: p.ID, Severity: "info",
		Title:  fmt.Sprintf("rolled %s %s", p.Underlying, d.Roll.CloseRole),
		Detail: fmt.Sprintf("new strike %.0f, net credit %.2f, roll %d/%d", d.Roll.NewStrike, d.Roll.NetCredit(), p.RollCount, e.params[p.Underlying].MaxRolls),
	})
}

// Reconcile compares the internal book with the venue's open list.
// Orphans (internal only) leave active management; untracked positions
// (external only) are adopted under conservative defaults and flattened
// by the next management pass. Neither is silently dropped.
func (e *Engine) Reconcile(ctx context.Context) (orphans, untracked []string, err error) {
	external, err := e.exec.OpenPositionIDs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("engine.Reconcile: list venue positions: %w", err)
	}
	ext := make(map[string]bool, len(external))
	for _, id := range external {
		ext[id] = true
	}

	for id, p := range e.positions {
		if !ext[id] && p.Status != domain.StatusOrphaned {
			p.Status = domain.StatusOrphaned
			orphans = append(orphans, id)
			if err := e.store.SavePosition(ctx, *p); err != nil {
				slog.Warn("engine: save orphan", "id", id, "err", err)
			}
		}
	}
	now := time.Now().UTC()
	for _, id := range external {
		if _, ok := e.positions[id]; ok {
			continue
		}
		untracked = append(untracked, id)
		// Adopt the position under conservative defaults: undefined-risk
		// tier, no known legs or credit. It joins the book so the next
		// cycle's management pass can flatten it.
		p := &domain.Position{
			ID:        id,
			Tier:      domain.TierUndefinedRisk,
			EntryDate: now,
			Status:    domain.StatusUntracked,
		}
		e.positions[id] = p
		if err := e.store.SavePosition(ctx, *p); err != nil {
			slog.Warn("engine: save untracked position", "id", id, "err", err)
		}
	}
	sort.Strings(orphans)
	sort.Strings(untracked)

	if len(orphans) > 0 || len(untracked) > 0 {
		e.state.RebuildBook(e.openSorted())
		e.emit(ctx, domain.Event{
			Kind: domain.EventReconciliation, At: now, Severity: "critical",
			Title:  "book mismatch",
			Detail: fmt.Sprintf("orphans %v, untracked %v", orphans, untracked),
		})
	}
	return orphans, untracked, nil
}

func (e *Engine) sortedSymbols() []string {
	out := make([]string, 0, len(e.params))
	for sym := range e.params {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// projectedMarginUse estimates utilization if one more structure fills:
// current use plus a conservative single-structure footprint against the
// equity base.
func projectedMarginUse(view StateView, p domain.AssetParameters) float64 {
	if view.Equity <= 0 {
		return 1
	}
	current := 0.0
	if view.MarginRatio > 0 {
		current = 1 / (1 + view.MarginRatio)
	}
	footprint := p.WingWidth * p.PointValue / view.Equity
	return current + footprint
}

// emit pushes one event, logging and swallowing delivery errors.
func (e *Engine) emit(ctx context.Context, ev domain.Event) {
	if e.notify == nil {
		return
	}
	if err := e.notify.Notify(ctx, ev); err != nil {
		slog.Warn("engine: notify failed", "kind", string(ev.Kind), "err", err)
	}
}
