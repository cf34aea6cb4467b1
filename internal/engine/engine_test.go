package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stargazecap/optimus/internal/domain"
)

// --- port fakes ---

type fakeMarket struct {
	snaps  map[string]domain.MarketSnapshot
	stress float64
}

func (f *fakeMarket) Snapshots(_ context.Context) (map[string]domain.MarketSnapshot, float64, error) {
	return f.snaps, f.stress, nil
}

type fakeMargin struct {
	usage domain.MarginUsage
	err   error
}

func (f *fakeMargin) Usage(_ context.Context) (domain.MarginUsage, error) {
	return f.usage, f.err
}

// fakeExecutor applies everything, minting venue IDs for entries and
// tracking its own open list like a real venue would.
type fakeExecutor struct {
	executed []domain.Decision
	open     map[string]bool
	seq      int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{open: make(map[string]bool)}
}

func (f *fakeExecutor) Execute(_ context.Context, decisions []domain.Decision) ([]domain.ExecutionResult, error) {
	f.executed = append(f.executed, decisions...)
	out := make([]domain.ExecutionResult, len(decisions))
	for i, d := range decisions {
		res := domain.ExecutionResult{Applied: true, FillCredit: d.Credit}
		switch d.Kind {
		case domain.DecisionEnter:
			f.seq++
			res.PositionID = fmt.Sprintf("venue-%d", f.seq)
			f.open[res.PositionID] = true
		case domain.DecisionClose:
			res.PositionID = d.PositionID
			delete(f.open, d.PositionID)
		case domain.DecisionRoll:
			res.PositionID = d.PositionID
		}
		out[i] = res
	}
	return out, nil
}

func (f *fakeExecutor) OpenPositionIDs(_ context.Context) ([]string, error) {
	out := make([]string, 0, len(f.open))
	for id := range f.open {
		out = append(out, id)
	}
	return out, nil
}

type fakeStore struct {
	positions map[string]domain.Position
	trades    []domain.ClosedTrade
	decisions []domain.Decision
	risk      *domain.RiskSnapshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{positions: make(map[string]domain.Position)}
}

func (f *fakeStore) SavePosition(_ context.Context, p domain.Position) error {
	f.positions[p.ID] = p
	return nil
}

func (f *fakeStore) OpenPositions(_ context.Context) ([]domain.Position, error) {
	out := make([]domain.Position, 0, len(f.positions))
	for _, p := range f.positions {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) CloseTrade(_ context.Context, id string, trade domain.ClosedTrade) error {
	delete(f.positions, id)
	f.trades = append(f.trades, trade)
	return nil
}

func (f *fakeStore) ClosedTrades(_ context.Context, limit int) ([]domain.ClosedTrade, error) {
	return f.trades, nil
}

func (f *fakeStore) SaveDecision(_ context.Context, d domain.Decision) error {
	f.decisions = append(f.decisions, d)
	return nil
}

func (f *fakeStore) SaveRiskState(_ context.Context, snap domain.RiskSnapshot) error {
	f.risk = &snap
	return nil
}

func (f *fakeStore) LoadRiskState(_ context.Context) (domain.RiskSnapshot, bool, error) {
	if f.risk == nil {
		return domain.RiskSnapshot{}, false, nil
	}
	return *f.risk, true, nil
}

func (f *fakeStore) PruneDecisions(_ context.Context, _ time.Time) error { return nil }
func (f *fakeStore) Close() error                                        { return nil }

type fakeNotifier struct {
	events []domain.Event
}

func (f *fakeNotifier) Notify(_ context.Context, ev domain.Event) error {
	f.events = append(f.events, ev)
	return nil
}

// --- fixtures ---

func entrySnapshot() domain.MarketSnapshot {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 5000
	}
	return domain.MarketSnapshot{
		Symbol: "SPX", Date: time.Now().UTC(),
		Price: 5000, SessionOpen: 4995, Closes: closes,
		ATR: 40, ADX: 18, BandwidthPctile: 50,
		RealizedVol: 0.14, RealizedVol30: 0.15,
		IVRank: 50, DailyVolume: 1_000_000,
		Chain: gateTestChain(45),
	}
}

func testEngineConfig() Config {
	return Config{
		InitialEquity: 500_000,
		BaseRiskPct:   0.02,
		Thresholds:    domain.RegimeThresholds{ADXTrending: 25, BandwidthLow: 15, BandwidthHigh: 85, RealizedVolHigh: 0.30, StressCrisis: 40, ConfirmDays: 2, RecoveryDays: 5, SuppressADX: 30, SuppressBandwidth: 60, SuppressScoreLow: 0.4, SuppressScoreHigh: 1.0},
		Limits:        testLimits(),
		Workers:       2,
	}
}

func newTestEngine(t *testing.T) (*Engine, *fakeExecutor, *fakeStore, *fakeNotifier) {
	t.Helper()
	market := &fakeMarket{snaps: map[string]domain.MarketSnapshot{"SPX": entrySnapshot()}, stress: 15}
	margin := &fakeMargin{usage: domain.MarginUsage{Used: 100_000, Available: 400_000, AsOf: time.Now()}}
	exec := newFakeExecutor()
	store := newFakeStore()
	notify := &fakeNotifier{}
	p := lifecycleParams()
	eng := New(testEngineConfig(), map[string]domain.AssetParameters{"SPX": p}, market, margin, exec, store, notify)
	return eng, exec, store, notify
}

// --- tests ---

func TestEngine_RunOnce_EntersPosition(t *testing.T) {
	eng, exec, store, notify := newTestEngine(t)
	require.NoError(t, eng.Init(context.Background()))

	result, err := eng.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Entered)
	assert.Equal(t, 0, result.Closed)
	require.Len(t, exec.executed, 1)

	d := exec.executed[0]
	assert.Equal(t, domain.DecisionEnter, d.Kind)
	assert.Equal(t, "SPX", d.Asset)
	// Flat tape, neutral conviction: $10k budget / $1,500 per contract = 6.
	assert.Equal(t, 6, d.Contracts)
	require.NotNil(t, d.Trace.Sizing)
	assert.Equal(t, 9_000.0, d.Trace.Sizing.TotalMaxLoss)
	assert.True(t, d.Trace.Gates.Passed())

	// Book, store and venue agree.
	require.Len(t, store.positions, 1)
	assert.Empty(t, result.Orphans)
	assert.Empty(t, result.Untracked)

	var sawEntry bool
	for _, ev := range notify.events {
		if ev.Kind == domain.EventEntry {
			sawEntry = true
		}
	}
	assert.True(t, sawEntry)
}

func TestEngine_RunOnce_DecisionsAreDeterministic(t *testing.T) {
	run := func() []domain.Decision {
		eng, exec, _, _ := newTestEngine(t)
		require.NoError(t, eng.Init(context.Background()))
		_, err := eng.RunOnce(context.Background())
		require.NoError(t, err)
		return exec.executed
	}
	a := run()
	b := run()
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Kind, b[i].Kind)
		assert.Equal(t, a[i].Asset, b[i].Asset)
		assert.Equal(t, a[i].Contracts, b[i].Contracts)
		assert.Equal(t, a[i].Credit, b[i].Credit)
		assert.Equal(t, a[i].Legs, b[i].Legs)
		assert.Equal(t, a[i].Trace.Gates, b[i].Trace.Gates)
	}
}

func TestEngine_RunOnce_VetoAfterSizingWhenHalted(t *testing.T) {
	eng, exec, _, _ := newTestEngine(t)
	require.NoError(t, eng.Init(context.Background()))

	// Breach the daily floor before the cycle: the FSM halts during the
	// cycle and the veto fires after sizing, before execution.
	eng.State().RecordClose(condorPosition(), domain.ClosedTrade{
		RealizedPnL: -15_000, Reason: domain.ExitTimeStop, ExitDate: time.Now(),
	}, time.Hour, 3)

	result, err := eng.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RiskDayHalt, result.RiskState)
	assert.Equal(t, 0, result.Entered)
	assert.Equal(t, 1, result.Vetoed)
	assert.Empty(t, exec.executed)
	// The gates still ran and passed: the block came later.
	assert.True(t, result.GateTraces["SPX"].Passed())
}

func TestEngine_RunOnce_ClosesAtProfitTarget(t *testing.T) {
	eng, exec, store, _ := newTestEngine(t)

	seeded := condorPosition()
	seeded.ID = "venue-seeded"
	seeded.EntryCredit = 50 // marked value 20: gain $1,500 >= 50% of $2,500
	require.NoError(t, store.SavePosition(context.Background(), seeded))
	require.NoError(t, eng.Init(context.Background()))
	exec.open[seeded.ID] = true

	result, err := eng.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Closed)
	require.Len(t, store.trades, 1)
	assert.Equal(t, domain.ExitProfitTarget, store.trades[0].Reason)
	assert.InDelta(t, 1_500.0, store.trades[0].RealizedPnL, 1e-6)

	// The persisted close decision keeps the lifecycle's explanation.
	var closeDec *domain.Decision
	for i := range store.decisions {
		if store.decisions[i].Kind == domain.DecisionClose {
			closeDec = &store.decisions[i]
		}
	}
	require.NotNil(t, closeDec)
	assert.Equal(t, domain.ExitProfitTarget, closeDec.Reason)
	assert.Contains(t, closeDec.Detail, "credit")
}

func TestEngine_MarkKeepsPriorValueOnPartialQuotes(t *testing.T) {
	eng, _, store, _ := newTestEngine(t)

	seeded := condorPosition()
	seeded.ID = "venue-partial"
	require.NoError(t, store.SavePosition(context.Background(), seeded))
	require.NoError(t, eng.Init(context.Background()))

	// Put quotes vanish: a calls-only sum would misstate the mark and
	// could trip the loss limit, so the prior value must stand.
	snap := entrySnapshot()
	snap.Chain.Expiries[0].Puts = nil
	open := eng.markPositions(map[string]domain.MarketSnapshot{"SPX": snap}, time.Now().UTC())

	require.Len(t, open, 1)
	assert.Equal(t, 20.0, open[0].CurrentValue)
}

func TestEngine_Reconcile_FlagsOrphans(t *testing.T) {
	eng, _, store, notify := newTestEngine(t)

	seeded := condorPosition()
	seeded.ID = "gone-at-venue"
	require.NoError(t, store.SavePosition(context.Background(), seeded))
	require.NoError(t, eng.Init(context.Background()))

	orphans, untracked, err := eng.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gone-at-venue"}, orphans)
	assert.Empty(t, untracked)

	// Orphans are flagged in the store and leave the managed aggregates.
	assert.Equal(t, domain.StatusOrphaned, store.positions["gone-at-venue"].Status)
	assert.Equal(t, 0.0, eng.State().View().Exposure)

	var sawRecon bool
	for _, ev := range notify.events {
		if ev.Kind == domain.EventReconciliation {
			sawRecon = true
		}
	}
	assert.True(t, sawRecon)
}

func TestEngine_Reconcile_FlagsUntracked(t *testing.T) {
	eng, exec, store, _ := newTestEngine(t)
	require.NoError(t, eng.Init(context.Background()))
	exec.open["mystery"] = true

	orphans, untracked, err := eng.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orphans)
	assert.Equal(t, []string{"mystery"}, untracked)

	// Adopted into the book and persisted under conservative defaults.
	require.Contains(t, store.positions, "mystery")
	assert.Equal(t, domain.StatusUntracked, store.positions["mystery"].Status)
	assert.Equal(t, domain.TierUndefinedRisk, store.positions["mystery"].Tier)
}

func TestEngine_UntrackedPositionFlattenedNextCycle(t *testing.T) {
	eng, exec, store, _ := newTestEngine(t)
	require.NoError(t, eng.Init(context.Background()))
	exec.open["mystery"] = true

	_, untracked, err := eng.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"mystery"}, untracked)

	// The next cycle closes what it cannot explain.
	result, err := eng.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Closed)
	require.NotEmpty(t, store.trades)
	assert.Equal(t, domain.ExitUntracked, store.trades[0].Reason)
	assert.NotContains(t, exec.open, "mystery")
	assert.NotContains(t, store.positions, "mystery")

	// Venue and book agree again afterwards.
	orphans, untracked, err := eng.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orphans)
	assert.Empty(t, untracked)
}
