package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stargazecap/optimus/internal/domain"
)

func TestState_SnapshotRestoreRoundTrip(t *testing.T) {
	now := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	s := NewState(500_000, []string{"SPX", "NDX"}, now)

	s.RecordClose(condorPosition(), domain.ClosedTrade{RealizedPnL: -2_000, Reason: domain.ExitLossLimit, ExitDate: now}, time.Hour, 3)
	s.SetLossMembers([]string{"NDX"})
	s.setRisk(RiskDayHalt)

	snap := s.Snapshot()
	assert.Equal(t, "DAY_HALT", snap.State)
	assert.Equal(t, 498_000.0, snap.Equity)
	assert.Equal(t, -2_000.0, snap.DailyPnL)
	assert.Equal(t, 1, snap.ConsecutiveMaxLosses)
	assert.Equal(t, []string{"NDX"}, snap.LossMembers)

	restored := NewState(500_000, []string{"SPX", "NDX"}, now)
	restored.Restore(snap)
	view := restored.View()
	assert.Equal(t, RiskDayHalt, view.Risk)
	assert.Equal(t, 498_000.0, view.Equity)
	assert.Equal(t, 1, view.LossMembers)
}

func TestState_EntryAndCloseKeepAggregatesConsistent(t *testing.T) {
	now := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	s := NewState(500_000, []string{"SPX"}, now)

	p := condorPosition()
	p.EntryDate = now
	s.RecordEntry(p)
	view := s.View()
	assert.Equal(t, 1, view.OpenByAsset["SPX"])
	assert.Equal(t, 1_500.0, view.Exposure)
	assert.Equal(t, now, view.YoungestByAsset["SPX"])

	s.RecordClose(p, domain.ClosedTrade{RealizedPnL: 500, Reason: domain.ExitProfitTarget, ExitDate: now}, time.Hour, 3)
	view = s.View()
	assert.Equal(t, 0, view.OpenByAsset["SPX"])
	assert.Equal(t, 0.0, view.Exposure)
	assert.Equal(t, 500_500.0, view.Equity)
	assert.Equal(t, 1, view.Stats.Wins)
}

func TestState_PeakEquityTracksDrawdown(t *testing.T) {
	now := time.Now()
	s := NewState(100_000, nil, now)
	s.RecordClose(condorPosition(), domain.ClosedTrade{RealizedPnL: 10_000, Reason: domain.ExitProfitTarget, ExitDate: now}, time.Hour, 3)
	s.RecordClose(condorPosition(), domain.ClosedTrade{RealizedPnL: -22_000, Reason: domain.ExitTimeStop, ExitDate: now}, time.Hour, 3)

	view := s.View()
	assert.Equal(t, 110_000.0, view.PeakEquity)
	assert.Equal(t, 88_000.0, view.Equity)
	assert.InDelta(t, 0.20, view.Drawdown, 1e-9)
}

func TestState_RebuildBookSkipsOrphans(t *testing.T) {
	s := NewState(100_000, []string{"SPX"}, time.Now())
	active := condorPosition()
	orphan := condorPosition()
	orphan.ID = "orph"
	orphan.Status = domain.StatusOrphaned

	s.RebuildBook([]domain.Position{active, orphan})
	view := s.View()
	assert.Equal(t, 1, view.OpenByAsset["SPX"])
	assert.Equal(t, 1_500.0, view.Exposure)
}

func TestState_ViewIsACopy(t *testing.T) {
	s := NewState(100_000, []string{"SPX"}, time.Now())
	view := s.View()
	view.OpenByAsset["SPX"] = 99
	assert.Equal(t, 0, s.View().OpenByAsset["SPX"])
}
