package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/stargazecap/optimus/internal/domain"
)

// Config is the full engine configuration.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Risk     RiskConfig     `yaml:"risk"`
	Regime   RegimeConfig   `yaml:"regime"`
	Assets   []AssetConfig  `yaml:"assets"`
	Data     DataConfig     `yaml:"data"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
	Telegram TelegramConfig `yaml:"telegram"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// EngineConfig controls the cycle loop and sizing baseline.
type EngineConfig struct {
	IntervalSeconds       int     `yaml:"interval_seconds"`
	InitialEquity         float64 `yaml:"initial_equity"`
	BaseRiskPct           float64 `yaml:"base_risk_pct"`
	Workers               int     `yaml:"workers"`
	DecisionRetentionDays int     `yaml:"decision_retention_days"`
}

// RiskConfig configures the portfolio risk governor.
type RiskConfig struct {
	DailyLossPct        float64 `yaml:"daily_loss_pct"`
	WeeklyLossPct       float64 `yaml:"weekly_loss_pct"`
	MonthlyLossPct      float64 `yaml:"monthly_loss_pct"`
	CorrAlertEnter      int     `yaml:"corr_alert_enter"`
	CorrAlertExit       int     `yaml:"corr_alert_exit"`
	BreakerCount        int     `yaml:"circuit_breaker_count"`
	BreakerCooldownDays int     `yaml:"circuit_breaker_cooldown_days"`
	TimeStopDTE         int     `yaml:"time_stop_dte"`
	ExposureCeilPct     float64 `yaml:"exposure_ceiling_pct"`
	MaxMarginUsePct     float64 `yaml:"max_margin_use_pct"`
}

// RegimeConfig holds the classifier thresholds shared by every asset.
type RegimeConfig struct {
	ADXTrending     float64 `yaml:"adx_trending"`
	BandwidthLow    float64 `yaml:"bandwidth_low"`
	BandwidthHigh   float64 `yaml:"bandwidth_high"`
	RealizedVolHigh float64 `yaml:"realized_vol_high"`
	StressCrisis    float64 `yaml:"stress_crisis"`
	ConfirmDays     int     `yaml:"confirm_days"`
	RecoveryDays    int     `yaml:"recovery_days"`

	SuppressADX       float64 `yaml:"suppress_adx"`
	SuppressBandwidth float64 `yaml:"suppress_bandwidth"`
	SuppressScoreLow  float64 `yaml:"suppress_score_low"`
	SuppressScoreHigh float64 `yaml:"suppress_score_high"`
}

// AssetConfig is one underlying's tradable parameters.
type AssetConfig struct {
	Symbol     string  `yaml:"symbol"`
	PointValue float64 `yaml:"point_value"`

	DefaultShortDelta float64 `yaml:"default_short_delta"`
	MinShortDelta     float64 `yaml:"min_short_delta"`
	MaxShortDelta     float64 `yaml:"max_short_delta"`

	WingWidth float64 `yaml:"wing_width"`

	MinIVRank float64 `yaml:"min_iv_rank"`
	MaxIVRank float64 `yaml:"max_iv_rank"`

	MinDTE    int `yaml:"min_dte"`
	MaxDTE    int `yaml:"max_dte"`
	TargetDTE int `yaml:"target_dte"`

	ProfitTargetPct float64 `yaml:"profit_target_pct"`
	LossLimitPct    float64 `yaml:"loss_limit_pct"`
	LossLimitMult   float64 `yaml:"loss_limit_mult"`

	RollTriggerDelta float64 `yaml:"roll_trigger_delta"`
	MaxRolls         int     `yaml:"max_rolls"`
	RollSpacingDays  int     `yaml:"roll_spacing_days"`

	MaxConcurrent  int `yaml:"max_concurrent"`
	StaggerMinDays int `yaml:"stagger_min_days"`

	Tier2Eligible  bool    `yaml:"tier2_eligible"`
	Tier2MinIVRank float64 `yaml:"tier2_min_iv_rank"`
	Tier2MaxIVRank float64 `yaml:"tier2_max_iv_rank"`
	MaxNotionalPct float64 `yaml:"max_notional_pct"`

	TrendPrimaryLookback int     `yaml:"trend_primary_lookback"`
	TrendConfirmLookback int     `yaml:"trend_confirm_lookback"`
	TrendScalingFactor   float64 `yaml:"trend_scaling_factor"`

	RegimeFilter string `yaml:"regime_filter"`
}

// DataConfig locates the replay candle data.
type DataConfig struct {
	CandleDir  string `yaml:"candle_dir"`  // one <SYMBOL>.csv per asset
	StressFile string `yaml:"stress_file"` // optional VIX-style proxy CSV
	WarmupDays int    `yaml:"warmup_days"`
}

// StorageConfig controls where state is persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// LogConfig controls log format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// TelegramConfig enables the Telegram alert channel. The token always
// comes from the environment, never the YAML file.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	ChatID  string `yaml:"chat_id"`
	Token   string `yaml:"-"`
}

// MetricsConfig enables the prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads the YAML file and the .env file if present, applies env
// overrides and defaults, and validates. A validation error is fatal to
// the caller before the engine starts.
func Load(path string) (*Config, error) {
	// Load .env if present (missing file is fine)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CycleInterval returns the engine loop interval as a time.Duration.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Engine.IntervalSeconds) * time.Second
}

// BreakerCooldown returns the circuit-breaker cooldown as a duration.
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Risk.BreakerCooldownDays) * 24 * time.Hour
}

// DecisionRetention returns the decision-log retention as a duration.
func (c *Config) DecisionRetention() time.Duration {
	return time.Duration(c.Engine.DecisionRetentionDays) * 24 * time.Hour
}

// AssetParams converts the asset list into the immutable per-symbol
// parameter map the engine consumes.
func (c *Config) AssetParams() map[string]domain.AssetParameters {
	out := make(map[string]domain.AssetParameters, len(c.Assets))
	for _, a := range c.Assets {
		out[a.Symbol] = domain.AssetParameters{
			Symbol:               a.Symbol,
			PointValue:           a.PointValue,
			DefaultShortDelta:    a.DefaultShortDelta,
			MinShortDelta:        a.MinShortDelta,
			MaxShortDelta:        a.MaxShortDelta,
			WingWidth:            a.WingWidth,
			MinIVRank:            a.MinIVRank,
			MaxIVRank:            a.MaxIVRank,
			MinDTE:               a.MinDTE,
			MaxDTE:               a.MaxDTE,
			TargetDTE:            a.TargetDTE,
			ProfitTargetPct:      a.ProfitTargetPct,
			LossLimitPct:         a.LossLimitPct,
			LossLimitMult:        a.LossLimitMult,
			RollTriggerDelta:     a.RollTriggerDelta,
			MaxRolls:             a.MaxRolls,
			RollSpacingDays:      a.RollSpacingDays,
			MaxConcurrent:        a.MaxConcurrent,
			StaggerMinDays:       a.StaggerMinDays,
			Tier2Eligible:        a.Tier2Eligible,
			Tier2MinIVRank:       a.Tier2MinIVRank,
			Tier2MaxIVRank:       a.Tier2MaxIVRank,
			MaxNotionalPct:       a.MaxNotionalPct,
			TrendPrimaryLookback: a.TrendPrimaryLookback,
			TrendConfirmLookback: a.TrendConfirmLookback,
			TrendScalingFactor:   a.TrendScalingFactor,
			RegimeFilter:         a.RegimeFilter,
		}
	}
	return out
}

// Thresholds converts the regime section into the domain value.
func (c *Config) Thresholds() domain.RegimeThresholds {
	r := c.Regime
	return domain.RegimeThresholds{
		ADXTrending:       r.ADXTrending,
		BandwidthLow:      r.BandwidthLow,
		BandwidthHigh:     r.BandwidthHigh,
		RealizedVolHigh:   r.RealizedVolHigh,
		StressCrisis:      r.StressCrisis,
		ConfirmDays:       r.ConfirmDays,
		RecoveryDays:      r.RecoveryDays,
		SuppressADX:       r.SuppressADX,
		SuppressBandwidth: r.SuppressBandwidth,
		SuppressScoreLow:  r.SuppressScoreLow,
		SuppressScoreHigh: r.SuppressScoreHigh,
	}
}

// Validate rejects configurations the engine cannot run safely with.
func (c *Config) Validate() error {
	if c.Engine.InitialEquity <= 0 {
		return fmt.Errorf("config.Validate: initial equity must be positive")
	}
	if c.Engine.BaseRiskPct <= 0 || c.Engine.BaseRiskPct > 0.10 {
		return fmt.Errorf("config.Validate: base risk pct %.3f must be in (0, 0.10]", c.Engine.BaseRiskPct)
	}
	if !(0 < c.Risk.DailyLossPct && c.Risk.DailyLossPct < c.Risk.WeeklyLossPct && c.Risk.WeeklyLossPct < c.Risk.MonthlyLossPct) {
		return fmt.Errorf("config.Validate: loss floors must satisfy 0 < daily %.3f < weekly %.3f < monthly %.3f",
			c.Risk.DailyLossPct, c.Risk.WeeklyLossPct, c.Risk.MonthlyLossPct)
	}
	if c.Risk.CorrAlertExit >= c.Risk.CorrAlertEnter {
		return fmt.Errorf("config.Validate: corr alert exit %d must be below enter %d", c.Risk.CorrAlertExit, c.Risk.CorrAlertEnter)
	}
	if c.Risk.TimeStopDTE <= 0 {
		return fmt.Errorf("config.Validate: time stop DTE must be positive")
	}
	if len(c.Assets) == 0 {
		return fmt.Errorf("config.Validate: no assets configured")
	}
	seen := make(map[string]bool, len(c.Assets))
	for _, a := range c.Assets {
		if seen[a.Symbol] {
			return fmt.Errorf("config.Validate: duplicate asset %q", a.Symbol)
		}
		seen[a.Symbol] = true
	}
	for sym, params := range c.AssetParams() {
		if err := params.Validate(); err != nil {
			return fmt.Errorf("config.Validate: asset %s: %w", sym, err)
		}
	}
	if c.Telegram.Enabled {
		if c.Telegram.Token == "" {
			return fmt.Errorf("config.Validate: telegram enabled but TELEGRAM_TOKEN not set")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("config.Validate: telegram enabled but chat_id empty")
		}
	}
	return nil
}

// applyEnvOverrides lets the environment override selected keys.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("OPTIMUS_DB"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
}

// setDefaults fills every optional knob with a sane value.
func setDefaults(cfg *Config) {
	if cfg.Engine.IntervalSeconds <= 0 {
		cfg.Engine.IntervalSeconds = 300
	}
	if cfg.Engine.BaseRiskPct <= 0 {
		cfg.Engine.BaseRiskPct = 0.02
	}
	if cfg.Engine.DecisionRetentionDays <= 0 {
		cfg.Engine.DecisionRetentionDays = 90
	}
	if cfg.Risk.DailyLossPct <= 0 {
		cfg.Risk.DailyLossPct = 0.02
	}
	if cfg.Risk.WeeklyLossPct <= 0 {
		cfg.Risk.WeeklyLossPct = 0.04
	}
	if cfg.Risk.MonthlyLossPct <= 0 {
		cfg.Risk.MonthlyLossPct = 0.08
	}
	if cfg.Risk.CorrAlertEnter <= 0 {
		cfg.Risk.CorrAlertEnter = 3
	}
	if cfg.Risk.CorrAlertExit <= 0 {
		cfg.Risk.CorrAlertExit = 2
	}
	if cfg.Risk.BreakerCount <= 0 {
		cfg.Risk.BreakerCount = 3
	}
	if cfg.Risk.BreakerCooldownDays <= 0 {
		cfg.Risk.BreakerCooldownDays = 5
	}
	if cfg.Risk.TimeStopDTE <= 0 {
		cfg.Risk.TimeStopDTE = 21
	}
	if cfg.Risk.ExposureCeilPct <= 0 {
		cfg.Risk.ExposureCeilPct = 0.20
	}
	if cfg.Risk.MaxMarginUsePct <= 0 {
		cfg.Risk.MaxMarginUsePct = 0.60
	}
	if cfg.Regime.ADXTrending <= 0 {
		cfg.Regime.ADXTrending = 25
	}
	if cfg.Regime.BandwidthLow <= 0 {
		cfg.Regime.BandwidthLow = 15
	}
	if cfg.Regime.BandwidthHigh <= 0 {
		cfg.Regime.BandwidthHigh = 85
	}
	if cfg.Regime.RealizedVolHigh <= 0 {
		cfg.Regime.RealizedVolHigh = 0.30
	}
	if cfg.Regime.StressCrisis <= 0 {
		cfg.Regime.StressCrisis = 40
	}
	if cfg.Regime.ConfirmDays <= 0 {
		cfg.Regime.ConfirmDays = 2
	}
	if cfg.Regime.RecoveryDays <= 0 {
		cfg.Regime.RecoveryDays = 5
	}
	if cfg.Regime.SuppressADX <= 0 {
		cfg.Regime.SuppressADX = 30
	}
	if cfg.Regime.SuppressBandwidth <= 0 {
		cfg.Regime.SuppressBandwidth = 60
	}
	if cfg.Regime.SuppressScoreLow <= 0 {
		cfg.Regime.SuppressScoreLow = 0.4
	}
	if cfg.Regime.SuppressScoreHigh <= 0 {
		cfg.Regime.SuppressScoreHigh = 1.0
	}
	if cfg.Data.WarmupDays <= 0 {
		cfg.Data.WarmupDays = 60
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "optimus.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
}
