package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stargazecap/optimus/config"
)

const minimalYAML = `
engine:
  initial_equity: 500000
assets:
  - symbol: SPX
    point_value: 50
    default_short_delta: 0.16
    min_short_delta: 0.10
    max_short_delta: 0.22
    wing_width: 50
    min_iv_rank: 25
    max_iv_rank: 75
    min_dte: 30
    max_dte: 50
    target_dte: 40
    profit_target_pct: 0.5
    loss_limit_pct: 1.0
    loss_limit_mult: 2.0
    roll_trigger_delta: 0.30
    max_rolls: 2
    roll_spacing_days: 5
    max_concurrent: 2
    stagger_min_days: 7
    trend_primary_lookback: 20
    trend_confirm_lookback: 5
    trend_scaling_factor: 2.5
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsFillIn(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 300, cfg.Engine.IntervalSeconds)
	assert.Equal(t, 0.02, cfg.Engine.BaseRiskPct)
	assert.Equal(t, 0.02, cfg.Risk.DailyLossPct)
	assert.Equal(t, 0.08, cfg.Risk.MonthlyLossPct)
	assert.Equal(t, 21, cfg.Risk.TimeStopDTE)
	assert.Equal(t, 2, cfg.Regime.ConfirmDays)
	assert.Equal(t, "optimus.db", cfg.Storage.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_AssetParams(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	params := cfg.AssetParams()
	require.Contains(t, params, "SPX")
	p := params["SPX"]
	assert.Equal(t, 50.0, p.PointValue)
	assert.Equal(t, 0.16, p.DefaultShortDelta)
	assert.Equal(t, 40, p.TargetDTE)
	assert.False(t, p.HasTrendSuppress())
	require.NoError(t, p.Validate())
}

func TestLoad_RejectsBadDeltaBand(t *testing.T) {
	broken := strings.Replace(minimalYAML, "min_short_delta: 0.10", "min_short_delta: 0.20", 1)
	_, err := config.Load(writeConfig(t, broken))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delta band")
}

func TestLoad_RejectsDuplicateAssets(t *testing.T) {
	dup := minimalYAML + `
  - symbol: SPX
    point_value: 50
    default_short_delta: 0.16
    min_short_delta: 0.10
    max_short_delta: 0.22
    wing_width: 50
    min_iv_rank: 25
    max_iv_rank: 75
    min_dte: 30
    max_dte: 50
    target_dte: 40
    profit_target_pct: 0.5
    loss_limit_pct: 1.0
    loss_limit_mult: 2.0
    roll_trigger_delta: 0.30
    max_rolls: 2
    roll_spacing_days: 5
    max_concurrent: 2
    stagger_min_days: 7
    trend_primary_lookback: 20
    trend_confirm_lookback: 5
    trend_scaling_factor: 2.5
`
	_, err := config.Load(writeConfig(t, dup))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate asset")
}

func TestLoad_RejectsLossFloorOrdering(t *testing.T) {
	broken := writeConfig(t, minimalYAML+`
risk:
  daily_loss_pct: 0.05
  weekly_loss_pct: 0.04
  monthly_loss_pct: 0.08
`)
	_, err := config.Load(broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loss floors")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("OPTIMUS_DB", ":memory:")

	cfg, err := config.Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":memory:", cfg.Storage.DSN)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

