package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/risk"
)

// Environment variables that override file settings.
const (
	EnvDBPath              = "INTRADAY_DB_PATH"
	EnvLogLevel            = "INTRADAY_LOG_LEVEL"
	EnvMetricsAddr         = "INTRADAY_METRICS_ADDR"
	EnvConfidenceThreshold = "INTRADAY_CONFIDENCE_THRESHOLD"
	EnvExplorationRate     = "INTRADAY_EXPLORATION_RATE"
)

// Config represents the complete engine configuration
type Config struct {
	Risk        RiskConfig         `json:"risk" yaml:"risk"`
	Filter      FilterConfig       `json:"filter" yaml:"filter"`
	Sizing      SizingConfig       `json:"sizing" yaml:"sizing"`
	Store       StoreConfig        `json:"store" yaml:"store"`
	Log         LogConfig          `json:"log" yaml:"log"`
	Metrics     MetricsConfig      `json:"metrics" yaml:"metrics"`
	Instruments []InstrumentConfig `json:"instruments,omitempty" yaml:"instruments,omitempty"`
}

// RiskConfig holds the daily governor limit and the exit ladder
type RiskConfig struct {
	BaseLossLimit        float64      `json:"base_loss_limit" yaml:"base_loss_limit"`
	ProfitProtectionMinR float64      `json:"profit_protection_min_r" yaml:"profit_protection_min_r"`
	ProfitDrawdownPct    float64      `json:"profit_drawdown_pct" yaml:"profit_drawdown_pct"`
	Ladder               []RungConfig `json:"ladder,omitempty" yaml:"ladder,omitempty"`
}

type RungConfig struct {
	TriggerR float64 `json:"trigger_r" yaml:"trigger_r"`
	Fraction float64 `json:"fraction,omitempty" yaml:"fraction,omitempty"`
	Kind     string  `json:"kind" yaml:"kind"` // partial, trailing, drawdown_protection
	Drawdown float64 `json:"drawdown,omitempty" yaml:"drawdown,omitempty"`
	OffsetR  float64 `json:"offset_r,omitempty" yaml:"offset_r,omitempty"`
}

// FilterConfig tunes signal admission
type FilterConfig struct {
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	ExplorationRate     float64 `json:"exploration_rate" yaml:"exploration_rate"`
	Seed                int64   `json:"seed" yaml:"seed"` // 0 seeds from the clock
	Window              int     `json:"window,omitempty" yaml:"window,omitempty"`
}

// SizingConfig is used for signals that arrive without a size
type SizingConfig struct {
	RiskAmount float64 `json:"risk_amount" yaml:"risk_amount"`
}

// StoreConfig selects the experience store
type StoreConfig struct {
	Type    string `json:"type" yaml:"type"` // "memory", "sqlite" or "csv"
	DBPath  string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	CSVPath string `json:"csv_path,omitempty" yaml:"csv_path,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "console" or "json"
}

// MetricsConfig enables the Prometheus endpoint when Addr is set
type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// InstrumentConfig adds or overrides instrument metadata
type InstrumentConfig struct {
	Name          string  `json:"name" yaml:"name"`
	PointValue    float64 `json:"point_value" yaml:"point_value"`
	TickSize      float64 `json:"tick_size,omitempty" yaml:"tick_size,omitempty"`
	UnitPrecision int     `json:"unit_precision,omitempty" yaml:"unit_precision,omitempty"`
	MinimumUnits  float64 `json:"minimum_units,omitempty" yaml:"minimum_units,omitempty"`
}

// Load reads envFile (if present) into the environment, loads path, applies
// environment overrides and validates the result.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = parseFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a file (YAML, falling back to JSON)
func LoadFromFile(path string) (*Config, error) {
	cfg, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func parseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	// Default's ladder would otherwise be merged with the file's
	cfg.Risk.Ladder = nil

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (YAML for .yaml/.yml, JSON otherwise)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides file settings from INTRADAY_* variables.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvDBPath); ok {
		c.Store.DBPath = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv(EnvMetricsAddr); ok {
		c.Metrics.Addr = v
	}
	if err := envFloat(EnvConfidenceThreshold, &c.Filter.ConfidenceThreshold); err != nil {
		return err
	}
	return envFloat(EnvExplorationRate, &c.Filter.ExplorationRate)
}

func envFloat(key string, dst *float64) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not a number", risk.ErrInvalidConfig, key, v)
	}
	*dst = f
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := c.Policy(); err != nil {
		return err
	}
	if c.Filter.ConfidenceThreshold < 0 || c.Filter.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: filter.confidence_threshold must be between 0 and 1", risk.ErrInvalidConfig)
	}
	if c.Filter.ExplorationRate < 0 || c.Filter.ExplorationRate > 1 {
		return fmt.Errorf("%w: filter.exploration_rate must be between 0 and 1", risk.ErrInvalidConfig)
	}
	if c.Filter.Window < 0 {
		return fmt.Errorf("%w: filter.window must not be negative", risk.ErrInvalidConfig)
	}
	if c.Sizing.RiskAmount < 0 {
		return fmt.Errorf("%w: sizing.risk_amount must not be negative", risk.ErrInvalidConfig)
	}

	switch c.Store.Type {
	case "memory":
	case "sqlite":
		if c.Store.DBPath == "" {
			return fmt.Errorf("%w: store db_path required for SQLite type", risk.ErrInvalidConfig)
		}
	case "csv":
		if c.Store.CSVPath == "" {
			return fmt.Errorf("%w: store csv_path required for CSV type", risk.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: store.type must be 'memory', 'sqlite' or 'csv'", risk.ErrInvalidConfig)
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("%w: log.format must be 'console' or 'json'", risk.ErrInvalidConfig)
	}

	for _, in := range c.Instruments {
		if in.Name == "" {
			return fmt.Errorf("%w: instrument name is required", risk.ErrInvalidConfig)
		}
		if in.PointValue <= 0 {
			return fmt.Errorf("%w: instrument %s: point_value must be positive", risk.ErrInvalidConfig, in.Name)
		}
	}
	return nil
}

// Policy converts the risk section. An empty ladder means the default
// ladder for the configured minimum R.
func (c *Config) Policy() (risk.Policy, error) {
	p := risk.Policy{
		BaseLossLimit:        c.Risk.BaseLossLimit,
		ProfitProtectionMinR: c.Risk.ProfitProtectionMinR,
		ProfitDrawdownPct:    c.Risk.ProfitDrawdownPct,
	}
	if len(c.Risk.Ladder) == 0 {
		p.Ladder = risk.DefaultLadder(p.ProfitProtectionMinR, p.ProfitDrawdownPct)
	}
	for _, r := range c.Risk.Ladder {
		p.Ladder = append(p.Ladder, risk.Rung{
			TriggerR: r.TriggerR,
			Fraction: r.Fraction,
			Kind:     risk.RungKind(r.Kind),
			Drawdown: r.Drawdown,
			OffsetR:  r.OffsetR,
		})
	}
	if err := p.Validate(); err != nil {
		return risk.Policy{}, err
	}
	return p, nil
}

// RegisterInstruments installs the configured instrument metadata.
func (c *Config) RegisterInstruments() error {
	for _, in := range c.Instruments {
		err := market.Register(market.InstrumentMeta{
			Name:          in.Name,
			PointValue:    in.PointValue,
			TickSize:      in.TickSize,
			UnitPrecision: in.UnitPrecision,
			MinimumUnits:  in.MinimumUnits,
		})
		if err != nil {
			return fmt.Errorf("%w: %v", risk.ErrInvalidConfig, err)
		}
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	p := risk.DefaultPolicy()

	ladder := make([]RungConfig, 0, len(p.Ladder))
	for _, r := range p.Ladder {
		ladder = append(ladder, RungConfig{
			TriggerR: r.TriggerR,
			Fraction: r.Fraction,
			Kind:     string(r.Kind),
		})
	}

	return &Config{
		Risk: RiskConfig{
			BaseLossLimit:        p.BaseLossLimit,
			ProfitProtectionMinR: p.ProfitProtectionMinR,
			ProfitDrawdownPct:    p.ProfitDrawdownPct,
			Ladder:               ladder,
		},
		Filter: FilterConfig{
			ConfidenceThreshold: 0.7,
			ExplorationRate:     0.05,
		},
		Sizing: SizingConfig{
			RiskAmount: 250,
		},
		Store: StoreConfig{
			Type:   "sqlite",
			DBPath: "./experience.sqlite",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
