package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every recognized risk-engine option. Instances are passed
// explicitly into constructors; there is no shared package-level state.
type Config struct {
	AccountRiskPct             float64 `json:"account_risk_pct"`
	MinRiskReward              float64 `json:"min_risk_reward_ratio"`
	DefaultStopPct             float64 `json:"default_stop_pct"`
	TrailingEnabled            bool    `json:"trailing_enabled"`
	TrailingBreakevenThreshold float64 `json:"trailing_breakeven_threshold"`
	PullbackLookback           int     `json:"pullback_lookback_candles"`
	ATREnabled                 bool    `json:"atr_enabled"`
	ATRPeriod                  int     `json:"atr_period"`
	ATRMultiplier              float64 `json:"atr_multiplier"`
	ATRRecalcThreshold         float64 `json:"atr_recalc_threshold"`

	AuditLogPath string        `json:"audit_log_path"`
	MaxBarAge    time.Duration `json:"-"`
	MaxBarAgeMin int           `json:"max_bar_age_minutes"`

	// Strategies holds optional per-strategy overrides, keyed by strategy
	// name. Overrides are validated with the same rules as the base fields.
	Strategies map[string]Overrides `json:"strategies,omitempty"`
}

// Overrides is a partial Config; nil fields leave the base value in place.
type Overrides struct {
	AccountRiskPct             *float64 `json:"account_risk_pct,omitempty"`
	MinRiskReward              *float64 `json:"min_risk_reward_ratio,omitempty"`
	DefaultStopPct             *float64 `json:"default_stop_pct,omitempty"`
	TrailingEnabled            *bool    `json:"trailing_enabled,omitempty"`
	TrailingBreakevenThreshold *float64 `json:"trailing_breakeven_threshold,omitempty"`
	PullbackLookback           *int     `json:"pullback_lookback_candles,omitempty"`
	ATREnabled                 *bool    `json:"atr_enabled,omitempty"`
	ATRPeriod                  *int     `json:"atr_period,omitempty"`
	ATRMultiplier              *float64 `json:"atr_multiplier,omitempty"`
	ATRRecalcThreshold         *float64 `json:"atr_recalc_threshold,omitempty"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		AccountRiskPct:             1.0,
		MinRiskReward:              2.0,
		DefaultStopPct:             2.0,
		TrailingEnabled:            true,
		TrailingBreakevenThreshold: 0.5,
		PullbackLookback:           20,
		ATREnabled:                 false,
		ATRPeriod:                  14,
		ATRMultiplier:              2.0,
		ATRRecalcThreshold:         0.2,
		AuditLogPath:               "risk-management.jsonl",
		MaxBarAge:                  15 * time.Minute,
		MaxBarAgeMin:               15,
	}
}

// Validate checks every field against its documented range. The first
// violation is returned with the offending value and the bound.
func (c *Config) Validate() error {
	if c.AccountRiskPct <= 0 || c.AccountRiskPct > 100 {
		return fmt.Errorf("account_risk_pct must be in (0, 100], got: %.4f", c.AccountRiskPct)
	}
	if c.MinRiskReward < 1.0 {
		return fmt.Errorf("min_risk_reward_ratio must be at least 1.0, got: %.4f", c.MinRiskReward)
	}
	if c.DefaultStopPct <= 0 || c.DefaultStopPct > 100 {
		return fmt.Errorf("default_stop_pct must be in (0, 100], got: %.4f", c.DefaultStopPct)
	}
	if c.TrailingBreakevenThreshold <= 0 || c.TrailingBreakevenThreshold > 1.0 {
		return fmt.Errorf("trailing_breakeven_threshold must be in (0, 1], got: %.4f", c.TrailingBreakevenThreshold)
	}
	if c.PullbackLookback <= 0 {
		return fmt.Errorf("pullback_lookback_candles must be positive, got: %d", c.PullbackLookback)
	}
	if c.ATRPeriod <= 0 {
		return fmt.Errorf("atr_period must be positive, got: %d", c.ATRPeriod)
	}
	if c.ATRMultiplier <= 0 {
		return fmt.Errorf("atr_multiplier must be positive, got: %.4f", c.ATRMultiplier)
	}
	if c.ATRRecalcThreshold <= 0 || c.ATRRecalcThreshold > 1.0 {
		return fmt.Errorf("atr_recalc_threshold must be in (0, 1], got: %.4f", c.ATRRecalcThreshold)
	}
	for name, ov := range c.Strategies {
		merged := c.apply(ov)
		merged.Strategies = nil
		if err := merged.Validate(); err != nil {
			return fmt.Errorf("strategy %q: %w", name, err)
		}
	}
	return nil
}

// ForStrategy returns a copy of the config with the named strategy's
// overrides applied. Unknown names return the base config unchanged.
func (c *Config) ForStrategy(name string) *Config {
	ov, ok := c.Strategies[name]
	if !ok {
		return c
	}
	merged := c.apply(ov)
	return &merged
}

func (c *Config) apply(ov Overrides) Config {
	merged := *c
	if ov.AccountRiskPct != nil {
		merged.AccountRiskPct = *ov.AccountRiskPct
	}
	if ov.MinRiskReward != nil {
		merged.MinRiskReward = *ov.MinRiskReward
	}
	if ov.DefaultStopPct != nil {
		merged.DefaultStopPct = *ov.DefaultStopPct
	}
	if ov.TrailingEnabled != nil {
		merged.TrailingEnabled = *ov.TrailingEnabled
	}
	if ov.TrailingBreakevenThreshold != nil {
		merged.TrailingBreakevenThreshold = *ov.TrailingBreakevenThreshold
	}
	if ov.PullbackLookback != nil {
		merged.PullbackLookback = *ov.PullbackLookback
	}
	if ov.ATREnabled != nil {
		merged.ATREnabled = *ov.ATREnabled
	}
	if ov.ATRPeriod != nil {
		merged.ATRPeriod = *ov.ATRPeriod
	}
	if ov.ATRMultiplier != nil {
		merged.ATRMultiplier = *ov.ATRMultiplier
	}
	if ov.ATRRecalcThreshold != nil {
		merged.ATRRecalcThreshold = *ov.ATRRecalcThreshold
	}
	return merged
}

// LoadFile reads a JSON config file on top of the defaults and validates it.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if cfg.MaxBarAgeMin > 0 {
		cfg.MaxBarAge = time.Duration(cfg.MaxBarAgeMin) * time.Minute
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies RISK_* environment variables on top of the defaults.
func LoadFromEnv() (*Config, error) {
	cfg := Default()

	if v := os.Getenv("RISK_ACCOUNT_RISK_PCT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid RISK_ACCOUNT_RISK_PCT %q: %w", v, err)
		}
		cfg.AccountRiskPct = f
	}
	if v := os.Getenv("RISK_MIN_RISK_REWARD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid RISK_MIN_RISK_REWARD %q: %w", v, err)
		}
		cfg.MinRiskReward = f
	}
	if v := os.Getenv("RISK_DEFAULT_STOP_PCT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid RISK_DEFAULT_STOP_PCT %q: %w", v, err)
		}
		cfg.DefaultStopPct = f
	}
	if v := os.Getenv("RISK_TRAILING_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RISK_TRAILING_ENABLED %q: %w", v, err)
		}
		cfg.TrailingEnabled = b
	}
	if v := os.Getenv("RISK_TRAILING_BREAKEVEN_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid RISK_TRAILING_BREAKEVEN_THRESHOLD %q: %w", v, err)
		}
		cfg.TrailingBreakevenThreshold = f
	}
	if v := os.Getenv("RISK_PULLBACK_LOOKBACK"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RISK_PULLBACK_LOOKBACK %q: %w", v, err)
		}
		cfg.PullbackLookback = n
	}
	if v := os.Getenv("RISK_ATR_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RISK_ATR_ENABLED %q: %w", v, err)
		}
		cfg.ATREnabled = b
	}
	if v := os.Getenv("RISK_ATR_PERIOD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RISK_ATR_PERIOD %q: %w", v, err)
		}
		cfg.ATRPeriod = n
	}
	if v := os.Getenv("RISK_ATR_MULTIPLIER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid RISK_ATR_MULTIPLIER %q: %w", v, err)
		}
		cfg.ATRMultiplier = f
	}
	if v := os.Getenv("RISK_ATR_RECALC_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid RISK_ATR_RECALC_THRESHOLD %q: %w", v, err)
		}
		cfg.ATRRecalcThreshold = f
	}
	if v := os.Getenv("RISK_MAX_BAR_AGE_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RISK_MAX_BAR_AGE_MINUTES %q: %w", v, err)
		}
		cfg.MaxBarAgeMin = n
		cfg.MaxBarAge = time.Duration(n) * time.Minute
	}
	if v := os.Getenv("RISK_AUDIT_LOG_PATH"); v != "" {
		cfg.AuditLogPath = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
