package marketmaker

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Price sources understood by NewPriceFetcherFromConfig
const (
	SourceBinance    = "binance"
	SourceRandomWalk = "random"
)

// Config holds all configuration for the market maker service
type Config struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Price source settings
	PriceSource    string `mapstructure:"price_source" yaml:"price_source"`
	ExternalSymbol string `mapstructure:"external_symbol" yaml:"external_symbol"` // e.g., "BTCUSDT"
	PriceSourceURL string `mapstructure:"price_source_url" yaml:"price_source_url"`

	// Random walk source
	StartPrice      float64 `mapstructure:"start_price" yaml:"start_price"`
	WalkStepPercent float64 `mapstructure:"walk_step_percent" yaml:"walk_step_percent"`
	WalkSeed        uint64  `mapstructure:"walk_seed" yaml:"walk_seed"`

	// Market making parameters
	NumLevels         int           `mapstructure:"num_levels" yaml:"num_levels"`
	BaseSpreadPercent float64       `mapstructure:"base_spread_percent" yaml:"base_spread_percent"`
	PriceStepPercent  float64       `mapstructure:"price_step_percent" yaml:"price_step_percent"`
	OrderSize         int64         `mapstructure:"order_size" yaml:"order_size"`
	UpdateInterval    time.Duration `mapstructure:"update_interval" yaml:"update_interval"`

	// HTTP client settings
	HTTPTimeout time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// SetDefaults registers the market maker defaults on v, every key prefixed
// with prefix (for example "marketmaker.")
func SetDefaults(v *viper.Viper, prefix string) {
	v.SetDefault(prefix+"enabled", false)
	v.SetDefault(prefix+"price_source", SourceRandomWalk)
	v.SetDefault(prefix+"external_symbol", "BTCUSDT")
	v.SetDefault(prefix+"price_source_url", "https://api.binance.com")
	v.SetDefault(prefix+"start_price", 100.0)
	v.SetDefault(prefix+"walk_step_percent", 0.05)
	v.SetDefault(prefix+"walk_seed", 0)
	v.SetDefault(prefix+"num_levels", 3)
	v.SetDefault(prefix+"base_spread_percent", 0.1)
	v.SetDefault(prefix+"price_step_percent", 0.05)
	v.SetDefault(prefix+"order_size", 10)
	v.SetDefault(prefix+"update_interval", 10*time.Second)
	v.SetDefault(prefix+"http_timeout", 5*time.Second)
	v.SetDefault(prefix+"max_retries", 3)
}

// LoadConfig loads configuration from TICKBOOK_MM_* environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()
	SetDefaults(v, "")

	v.SetEnvPrefix("TICKBOOK_MM")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode market maker config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks the fields the market maker depends on
func (cfg *Config) Validate() error {
	switch cfg.PriceSource {
	case SourceBinance:
		if cfg.ExternalSymbol == "" {
			return fmt.Errorf("external_symbol must not be empty")
		}
		if cfg.PriceSourceURL == "" {
			return fmt.Errorf("price_source_url must not be empty")
		}
		if cfg.MaxRetries <= 0 {
			return fmt.Errorf("max_retries must be positive")
		}
	case SourceRandomWalk:
		if cfg.StartPrice <= 0 {
			return fmt.Errorf("start_price must be positive")
		}
		if cfg.WalkStepPercent < 0 {
			return fmt.Errorf("walk_step_percent must not be negative")
		}
	default:
		return fmt.Errorf("unknown price_source %q", cfg.PriceSource)
	}
	if cfg.NumLevels <= 0 {
		return fmt.Errorf("num_levels must be positive")
	}
	if cfg.BaseSpreadPercent <= 0 {
		return fmt.Errorf("base_spread_percent must be positive")
	}
	if cfg.PriceStepPercent <= 0 {
		return fmt.Errorf("price_step_percent must be positive")
	}
	if cfg.OrderSize <= 0 {
		return fmt.Errorf("order_size must be positive")
	}
	if cfg.UpdateInterval <= 0 {
		return fmt.Errorf("update_interval must be positive")
	}
	return nil
}
