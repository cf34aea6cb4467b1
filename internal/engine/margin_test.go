package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stargazecap/optimus/internal/domain"
)

func TestEvaluateMargin_Healthy(t *testing.T) {
	d := EvaluateMargin(3.0, false)
	assert.Equal(t, 0, d.Severity())
	assert.False(t, d.BlockEntries)
}

func TestEvaluateMargin_TiersAreMonotonic(t *testing.T) {
	// Every lower buffer carries all flags of the tiers above it.
	tighten := EvaluateMargin(1.9, false)
	assert.True(t, tighten.TightenTargets)
	assert.True(t, tighten.BlockEntries)
	assert.False(t, tighten.CloseTopUndefined)

	reduce := EvaluateMargin(1.4, false)
	assert.True(t, reduce.TightenTargets)
	assert.True(t, reduce.CloseTopUndefined)
	assert.False(t, reduce.CloseAllUndefined)

	flatten := EvaluateMargin(1.1, false)
	assert.True(t, flatten.CloseTopUndefined)
	assert.True(t, flatten.CloseAllUndefined)
	assert.False(t, flatten.CloseEverything)

	evacuate := EvaluateMargin(1.0, false)
	assert.True(t, evacuate.CloseAllUndefined)
	assert.True(t, evacuate.CloseEverything)
}

func TestEvaluateMargin_Boundaries(t *testing.T) {
	// Exactly at a tier boundary stays on the calmer side.
	assert.Equal(t, 0, EvaluateMargin(2.0, false).Severity())
	assert.False(t, EvaluateMargin(1.5, false).CloseTopUndefined)
	assert.False(t, EvaluateMargin(1.2, false).CloseAllUndefined)
	assert.False(t, EvaluateMargin(1.05, false).CloseEverything)
}

func TestEscalate_KeepsWorse(t *testing.T) {
	mild := EvaluateMargin(1.9, false)
	severe := EvaluateMargin(1.0, false)
	assert.Equal(t, severe, Escalate(mild, severe))
	assert.Equal(t, severe, Escalate(severe, mild))
}

func TestConservativeMarginRatio_EmptyBook(t *testing.T) {
	assert.True(t, math.IsInf(ConservativeMarginRatio(nil, nil, 500_000), 1))
}

func TestConservativeMarginRatio_Haircut(t *testing.T) {
	p := condorPosition() // max loss $1,500 x 1 contract
	ratio := ConservativeMarginRatio([]domain.Position{p}, map[string]float64{"SPX": 5000}, 500_000)
	// used 1500, available 498500, raw ratio 332.3, haircut x0.75.
	assert.InDelta(t, 498_500.0/1500*0.75, ratio, 0.01)
}

func TestConservativeMarginRatio_UndefinedUsesNotional(t *testing.T) {
	p := condorPosition()
	p.Tier = domain.TierUndefinedRisk
	p.MaxLoss = 0
	ratio := ConservativeMarginRatio([]domain.Position{p}, map[string]float64{"SPX": 5000}, 500_000)
	// used = 5000 x 50 x 1 x 0.20 = 50,000; available 450,000.
	assert.InDelta(t, 450_000.0/50_000*0.75, ratio, 0.01)
}

func TestResolveMargin_FreshReadingWins(t *testing.T) {
	now := time.Now()
	usage := domain.MarginUsage{Used: 100_000, Available: 250_000, AsOf: now.Add(-time.Minute)}
	ratio, estimated := ResolveMargin(usage, nil, now, nil, nil, 500_000)
	assert.False(t, estimated)
	assert.InDelta(t, 2.5, ratio, 1e-9)
}

func TestResolveMargin_StaleFallsBack(t *testing.T) {
	now := time.Now()
	usage := domain.MarginUsage{Used: 100_000, Available: 250_000, AsOf: now.Add(-time.Hour)}
	_, estimated := ResolveMargin(usage, nil, now, []domain.Position{condorPosition()}, map[string]float64{"SPX": 5000}, 500_000)
	assert.True(t, estimated)
}

func TestResolveMargin_ErrorFallsBack(t *testing.T) {
	now := time.Now()
	usage := domain.MarginUsage{Used: 100_000, Available: 250_000, AsOf: now}
	_, estimated := ResolveMargin(usage, errors.New("venue down"), now, nil, nil, 500_000)
	assert.True(t, estimated)
}

func TestHighestMarginUndefined(t *testing.T) {
	small := condorPosition()
	small.ID = "small"
	small.Tier = domain.TierUndefinedRisk
	small.Contracts = 1

	big := condorPosition()
	big.ID = "big"
	big.Tier = domain.TierUndefinedRisk
	big.Contracts = 3

	defined := condorPosition()
	defined.ID = "defined"

	top := HighestMarginUndefined([]domain.Position{small, defined, big}, map[string]float64{"SPX": 5000})
	require.NotNil(t, top)
	assert.Equal(t, "big", top.ID)
}
