package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erain9/tickbook/pkg/core"
	"github.com/erain9/tickbook/pkg/marketmaker"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Kafka drivers
const (
	DriverKafkaGo = "kafka-go"
	DriverSarama  = "sarama"
	DriverNone    = "none"
)

// EnvPrefix prefixes every environment override, e.g. TICKBOOK_BOOK_TICK_SIZE
const EnvPrefix = "TICKBOOK"

// Config represents the application configuration
type Config struct {
	Server struct {
		HTTPAddr  string `mapstructure:"http_addr" yaml:"http_addr"`
		LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
		LogFormat string `mapstructure:"log_format" yaml:"log_format"`
		Paranoid  bool   `mapstructure:"paranoid" yaml:"paranoid"`
	} `mapstructure:"server" yaml:"server"`

	Book struct {
		Name          string `mapstructure:"name" yaml:"name"`
		PriceMin      string `mapstructure:"price_min" yaml:"price_min"`
		PriceMax      string `mapstructure:"price_max" yaml:"price_max"`
		TickSize      string `mapstructure:"tick_size" yaml:"tick_size"`
		QueueSize     int    `mapstructure:"queue_size" yaml:"queue_size"`
		PublishBuffer int    `mapstructure:"publish_buffer" yaml:"publish_buffer"`
	} `mapstructure:"book" yaml:"book"`

	Kafka struct {
		Driver  string        `mapstructure:"driver" yaml:"driver"`
		Brokers []string      `mapstructure:"brokers" yaml:"brokers"`
		Topic   string        `mapstructure:"topic" yaml:"topic"`
		Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	} `mapstructure:"kafka" yaml:"kafka"`

	Redis struct {
		Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
		Addr     string `mapstructure:"addr" yaml:"addr"`
		Password string `mapstructure:"password" yaml:"password"`
		DB       int    `mapstructure:"db" yaml:"db"`
		Prefix   string `mapstructure:"prefix" yaml:"prefix"`
	} `mapstructure:"redis" yaml:"redis"`

	Otel struct {
		Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
		Endpoint       string `mapstructure:"endpoint" yaml:"endpoint"`
		ServiceVersion string `mapstructure:"service_version" yaml:"service_version"`
	} `mapstructure:"otel" yaml:"otel"`

	MarketMaker marketmaker.Config `mapstructure:"marketmaker" yaml:"marketmaker"`

	// PrintConfig asks the caller to dump the effective config and exit
	PrintConfig bool `mapstructure:"-" yaml:"-"`
	// File is the config file that was read, if any
	File string `mapstructure:"-" yaml:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "pretty")
	v.SetDefault("server.paranoid", false)

	v.SetDefault("book.name", "DEFAULT")
	v.SetDefault("book.price_min", "0")
	v.SetDefault("book.price_max", "1000")
	v.SetDefault("book.tick_size", "0.01")
	v.SetDefault("book.queue_size", 1024)
	v.SetDefault("book.publish_buffer", 4096)

	v.SetDefault("kafka.driver", DriverNone)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "tickbook-done")
	v.SetDefault("kafka.timeout", 10*time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "tickbook")

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.endpoint", "localhost:4317")
	v.SetDefault("otel.service_version", "0.1.0")

	marketmaker.SetDefaults(v, "marketmaker.")
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "Path to config file (YAML)")
	fs.Bool("print-config", false, "Print the effective configuration and exit")
	fs.String("http-addr", ":8080", "The HTTP status server address")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.String("log-format", "pretty", "Log format: json, pretty")
	fs.Bool("paranoid", false, "Check book invariants after every mutation")
	fs.String("book", "DEFAULT", "Name of the order book")
	fs.String("kafka-driver", DriverNone, "Done message publisher: kafka-go, sarama or none")
	fs.Bool("market-maker", false, "Run the built-in market maker")
	return fs
}

var flagKeys = map[string]string{
	"http-addr":    "server.http_addr",
	"log-level":    "server.log_level",
	"log-format":   "server.log_format",
	"paranoid":     "server.paranoid",
	"book":         "book.name",
	"kafka-driver": "kafka.driver",
	"market-maker": "marketmaker.enabled",
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// (--config), TICKBOOK_* environment variables and command line flags, in
// increasing order of precedence
func LoadConfig(args []string) (*Config, error) {
	fs := newFlagSet("tickbook")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for flagName, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flagName, err)
		}
	}

	file, _ := fs.GetString("config")
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = file
	cfg.PrintConfig, _ = fs.GetBool("print-config")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Grid parses the book's price grid
func (c *Config) Grid() (core.PriceGrid, error) {
	return core.ParsePriceGrid(c.Book.PriceMin, c.Book.PriceMax, c.Book.TickSize)
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	var errs []error
	if c.Book.Name == "" {
		errs = append(errs, errors.New("book.name must not be empty"))
	}
	if _, err := c.Grid(); err != nil {
		errs = append(errs, err)
	}
	switch c.Kafka.Driver {
	case DriverNone:
	case DriverKafkaGo, DriverSarama:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers must not be empty"))
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, errors.New("kafka.topic must not be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown kafka.driver %q", c.Kafka.Driver))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr must not be empty"))
	}
	if c.MarketMaker.Enabled {
		if err := c.MarketMaker.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("marketmaker: %w", err))
		}
	}
	return errors.Join(errs...)
}

// YAML renders the effective configuration
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
