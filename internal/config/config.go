package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ari/llm-ledger/internal/pricing"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Archive string        `mapstructure:"archive"`
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
	Pricing PricingConfig `mapstructure:"pricing"`

	v    *viper.Viper
	path string
}

// LoggingConfig controls the slog handler
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds the dashboard HTTP server parameters
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// OpenAIConfig configures the OpenAI-compatible client used by `ask`
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// PricingConfig is the ordered prefix table plus the fallback rate
type PricingConfig struct {
	Fallback *RateConfig  `mapstructure:"fallback"`
	Rates    []RateConfig `mapstructure:"rates"`
}

// RateConfig is one pricing entry, in USD per 1K tokens
type RateConfig struct {
	Prefix          string  `mapstructure:"prefix"`
	PromptPer1K     float64 `mapstructure:"prompt_per_1k"`
	CompletionPer1K float64 `mapstructure:"completion_per_1k"`
}

const envPrefix = "LLM_LEDGER"

// LoadConfig loads configuration from the specified path or default location.
// A missing file is not an error; defaults and environment variables apply.
func LoadConfig(configPath string) (*Config, error) {
	// .env values become environment variables; existing ones win
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	viperInstance := viper.New()
	setDefaults(viperInstance)

	viperInstance.SetEnvPrefix(envPrefix)
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperInstance.AutomaticEnv()

	path := configPath
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		// Default: ~/.llm-ledger/config.toml
		path = filepath.Join(homeDir, ".llm-ledger", "config.toml")
	}

	viperInstance.SetConfigFile(path)
	if err := viperInstance.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		path = ""
	}

	cfg, err := decode(viperInstance)
	if err != nil {
		return nil, err
	}
	cfg.path = path
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("archive", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("server.addr", ":8090")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if _, err := cfg.PricingTable(); err != nil {
		return nil, fmt.Errorf("invalid pricing config: %w", err)
	}
	cfg.v = v
	return &cfg, nil
}

// Path returns the config file that was read, or "" when running on defaults
func (c *Config) Path() string {
	return c.path
}

// PricingTable builds the pricing table, using the built-in rates and
// fallback for whatever is not configured
func (c *Config) PricingTable() (pricing.Table, error) {
	table := pricing.DefaultTable()

	if len(c.Pricing.Rates) > 0 {
		table.Rates = make([]pricing.Rate, 0, len(c.Pricing.Rates))
		for _, r := range c.Pricing.Rates {
			table.Rates = append(table.Rates, pricing.Rate{
				Prefix:          r.Prefix,
				PromptPer1K:     r.PromptPer1K,
				CompletionPer1K: r.CompletionPer1K,
			})
		}
	}
	if c.Pricing.Fallback != nil {
		table.Fallback = pricing.Rate{
			PromptPer1K:     c.Pricing.Fallback.PromptPer1K,
			CompletionPer1K: c.Pricing.Fallback.CompletionPer1K,
		}
	}

	if err := table.Validate(); err != nil {
		return pricing.Table{}, err
	}
	return table, nil
}

// GetArchivePath returns the archive path with a leading ~ expanded
func (c *Config) GetArchivePath() string {
	if strings.HasPrefix(c.Archive, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, c.Archive[2:])
		}
	}
	return c.Archive
}

// OnChange watches the config file and calls fn with the reloaded config.
// Reloads that fail to decode are passed to onErr and otherwise ignored.
func (c *Config) OnChange(fn func(*Config), onErr func(error)) error {
	if c.path == "" || c.v == nil {
		return fmt.Errorf("no config file to watch")
	}

	c.v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		next, err := decode(c.v)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		next.path = c.path
		fn(next)
	})
	c.v.WatchConfig()
	return nil
}
