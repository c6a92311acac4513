// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Exchange describes venue connectivity parameters.
type Exchange struct {
	Name        string   `yaml:"name"`
	WSURL       string   `yaml:"ws_url"`
	Instruments []string `yaml:"instruments"`
	Testnet     bool     `yaml:"testnet"`
	// StaleAfterMs is how long the primary feed may be silent before book
	// reads fail over to the fallback source.
	StaleAfterMs int `yaml:"stale_after_ms"`
	// Credentials come from the environment, never from the YAML file.
	AccountAddress string `yaml:"-"`
	SecretKey      string `yaml:"-"`
}

// OperationWeights lists the ledger cost per outbound operation kind.
type OperationWeights struct {
	Order  float64 `yaml:"order"`
	Cancel float64 `yaml:"cancel"`
	Book   float64 `yaml:"book"`
	Meta   float64 `yaml:"meta"`
	Fees   float64 `yaml:"fees"`
}

// RateLimit configures the dual admission-control ledgers.
type RateLimit struct {
	PrimaryPerMin  float64          `yaml:"primary_per_min"`
	FallbackPerMin float64          `yaml:"fallback_per_min"`
	Weights        OperationWeights `yaml:"weights"`
	// SoftLimit is the utilization above which the loop starts skipping
	// non-critical calls.
	SoftLimit float64 `yaml:"soft_limit"`
}

// FusionWeights mirrors flow.Weights for YAML loading.
type FusionWeights struct {
	BookImbalance float64 `yaml:"book_imbalance"`
	NetPressure   float64 `yaml:"net_pressure"`
	Short         float64 `yaml:"short"`
	Medium        float64 `yaml:"medium"`
	Long          float64 `yaml:"long"`
}

// Flow groups the signal-fusion tunables.
type Flow struct {
	ShortWindowSecs      int           `yaml:"short_window_secs"`
	MediumWindowSecs     int           `yaml:"medium_window_secs"`
	LongWindowSecs       int           `yaml:"long_window_secs"`
	Weights              FusionWeights `yaml:"weights"`
	BiasThreshold        float64       `yaml:"bias_threshold"`
	ConfidenceSaturation float64       `yaml:"confidence_saturation"`
	CacheTTLSecs         int           `yaml:"cache_ttl_secs"`
	HalfLifeSecs         int           `yaml:"half_life_secs"`
	OneSidedRatio        float64       `yaml:"one_sided_ratio"`
	SwitchCooldownTicks  int           `yaml:"switch_cooldown_ticks"`
}

// DynamicSpread configures the percentile-based minimum spread.
type DynamicSpread struct {
	Enabled        bool    `yaml:"enabled"`
	Percentile     float64 `yaml:"percentile"`
	HistorySize    int     `yaml:"history_size"`
	RecomputeTicks int     `yaml:"recompute_ticks"`
}

// Quote groups the quoting and sizing tunables.
type Quote struct {
	// StartingEquityUSD seeds the margin budget; realized PnL accrues on
	// top of it as the session runs.
	StartingEquityUSD   float64       `yaml:"starting_equity_usd"`
	MinSpreadBps        float64       `yaml:"min_spread_bps"`
	Dynamic             DynamicSpread `yaml:"dynamic_spread"`
	SizeNotionalUSD     float64       `yaml:"size_notional_usd"`
	MaxCoinNotionalUSD  float64       `yaml:"max_coin_notional_usd"`
	MaxTotalNotionalUSD float64       `yaml:"max_total_notional_usd"`
	Leverage            float64       `yaml:"leverage"`
	MarginFraction      float64       `yaml:"margin_fraction"`
	MinReplaceMs        int           `yaml:"min_replace_ms"`
	MinTickMove         float64       `yaml:"min_tick_move"`
}

// Risk groups bailout and take-profit thresholds.
type Risk struct {
	UnderwaterBps    float64 `yaml:"underwater_bps"`
	PartialBps       float64 `yaml:"partial_bps"`
	PartialAfterSecs int     `yaml:"partial_after_secs"`
	PartialFraction  float64 `yaml:"partial_fraction"`
	FullBps          float64 `yaml:"full_bps"`
	FullAfterSecs    int     `yaml:"full_after_secs"`
	TakeProfitBps    float64 `yaml:"take_profit_bps"`
	TakeProfitUSD    float64 `yaml:"take_profit_usd"`
	Enhanced         bool    `yaml:"enhanced_take_profit"`
}

// Engine groups control-loop settings.
type Engine struct {
	TickMs int `yaml:"tick_ms"`
	// ErrorLimit consecutive processing errors sideline an instrument for
	// ErrorCooldownSecs before it is retried.
	ErrorLimit        int `yaml:"error_limit"`
	ErrorCooldownSecs int `yaml:"error_cooldown_secs"`
}

// Overrides holds flat per-instrument parameter overrides keyed by
// instrument then parameter name.
type Overrides map[string]map[string]float64

// Config collects every configuration leaf for marshaling from YAML.
type Config struct {
	App       App       `yaml:"app"`
	Exchange  Exchange  `yaml:"exchange"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Flow      Flow      `yaml:"flow"`
	Quote     Quote     `yaml:"quote"`
	Risk      Risk      `yaml:"risk"`
	Engine    Engine    `yaml:"engine"`
	Overrides Overrides `yaml:"overrides"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnv overlays credentials from the environment. Call after godotenv
// has loaded any .env file.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("HL_ACCOUNT_ADDRESS"); v != "" {
		c.Exchange.AccountAddress = v
	}
	if v := os.Getenv("HL_SECRET_KEY"); v != "" {
		c.Exchange.SecretKey = v
	}
}

// Resolve returns the effective value of a per-instrument parameter.
// Precedence is fixed: instrument override, then the global value, then the
// built-in default (used when the global is unset, i.e. zero).
func (o Overrides) Resolve(instrument, key string, global, def float64) float64 {
	if m, ok := o[instrument]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if global != 0 {
		return global
	}
	return def
}

// Tick returns the control-loop cadence with its default applied.
func (e Engine) Tick() time.Duration {
	if e.TickMs <= 0 {
		return 300 * time.Millisecond
	}
	return time.Duration(e.TickMs) * time.Millisecond
}

// StaleAfter returns the primary-feed staleness threshold.
func (e Exchange) StaleAfter() time.Duration {
	if e.StaleAfterMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(e.StaleAfterMs) * time.Millisecond
}
