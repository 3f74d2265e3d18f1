package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Backend   BackendConfig   `mapstructure:"backend"`
	Health    HealthConfig    `mapstructure:"health"`
	Citation  CitationConfig  `mapstructure:"citation"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	DevServer DevServerConfig `mapstructure:"devserver"`

	// Ticker is the initially selected analysis subject.
	Ticker string `mapstructure:"ticker" validate:"required"`

	// Tickers is the built-in catalog used when the backend catalog is unreachable.
	Tickers []TickerConfig `mapstructure:"tickers" validate:"min=1,dive"`
}

// BackendConfig holds the generation backend connection settings
type BackendConfig struct {
	URL     string        `mapstructure:"url" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HealthConfig holds health probe settings
type HealthConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// CitationConfig holds cross-highlighting settings
type CitationConfig struct {
	HighlightDuration time.Duration `mapstructure:"highlight_duration"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	LogFile  string `mapstructure:"log_file"`
	Preserve bool   `mapstructure:"preserve"`
	Level    string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
}

// MetricsConfig holds the optional prometheus listener address
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DevServerConfig holds settings for the local development backend
type DevServerConfig struct {
	Addr       string        `mapstructure:"addr"`
	TopK       int           `mapstructure:"top_k" validate:"gte=1"`
	TokenDelay time.Duration `mapstructure:"token_delay"`

	// Embedder selects the retrieval embedding provider: "hash" needs no
	// model, "ollama" calls an Ollama server.
	Embedder   string `mapstructure:"embedder" validate:"oneof=hash ollama"`
	EmbedModel string `mapstructure:"embed_model"`
	OllamaURL  string `mapstructure:"ollama_url" validate:"omitempty,url"`

	// PersistDir keeps the vector index on disk between runs when set.
	PersistDir string `mapstructure:"persist_dir"`
}

// TickerConfig describes one entry of the fallback catalog
type TickerConfig struct {
	Ticker      string `mapstructure:"ticker" validate:"required"`
	CompanyName string `mapstructure:"company_name"`
}

var cfg *Config

// Get returns the global config instance
func Get() *Config {
	if cfg == nil {
		panic("config not initialized")
	}
	return cfg
}

// IsLoaded reports whether Load has completed successfully
func IsLoaded() bool {
	return cfg != nil
}

// Load loads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome == "" {
			xdgConfigHome = filepath.Join(home, ".config")
		}

		viper.AddConfigPath("./.finsight")
		viper.AddConfigPath(filepath.Join(xdgConfigHome, "finsight"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("settings")
	}

	viper.SetEnvPrefix("FINSIGHT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing settings file is fine, defaults apply. A broken one is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	loaded := &Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	processDurations(loaded)
	loaded.Ticker = strings.ToUpper(strings.TrimSpace(loaded.Ticker))

	if err := Validate(loaded); err != nil {
		return nil, err
	}

	cfg = loaded
	return cfg, nil
}

// Validate checks struct constraints on a loaded configuration
func Validate(c *Config) error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// setDefaults sets all default configuration values
func setDefaults() {
	viper.SetDefault("backend.url", "http://localhost:8000/api")
	viper.SetDefault("backend.timeout", "30s")

	viper.SetDefault("health.interval", "30s")
	viper.SetDefault("health.timeout", "5s")

	viper.SetDefault("citation.highlight_duration", "2s")

	viper.SetDefault("logging.log_file", "./.finsight/system.log")
	viper.SetDefault("logging.preserve", false)
	viper.SetDefault("logging.level", "info")

	viper.SetDefault("metrics.addr", "")

	viper.SetDefault("devserver.addr", "127.0.0.1:8000")
	viper.SetDefault("devserver.top_k", 5)
	viper.SetDefault("devserver.token_delay", "15ms")
	viper.SetDefault("devserver.embedder", "hash")
	viper.SetDefault("devserver.embed_model", "nomic-embed-text")
	viper.SetDefault("devserver.ollama_url", "")
	viper.SetDefault("devserver.persist_dir", "")

	viper.SetDefault("ticker", "AAPL")
	viper.SetDefault("tickers", []map[string]any{
		{"ticker": "AAPL", "company_name": "Apple Inc."},
		{"ticker": "MSFT", "company_name": "Microsoft Corporation"},
		{"ticker": "GOOGL", "company_name": "Alphabet Inc."},
	})
}

// processDurations fills zero durations left by an explicit empty value
func processDurations(c *Config) {
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = 30 * time.Second
	}
	if c.Health.Interval <= 0 {
		c.Health.Interval = 30 * time.Second
	}
	if c.Health.Timeout <= 0 {
		c.Health.Timeout = 5 * time.Second
	}
	if c.Citation.HighlightDuration <= 0 {
		c.Citation.HighlightDuration = 2 * time.Second
	}
}

// GetConfigFileUsed returns the settings file viper read, if any
func GetConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// BaseSettingsDir returns the directory holding the active settings file
func BaseSettingsDir() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return filepath.Dir(used)
	}
	return "./.finsight"
}

// BuildSettingsPath joins target onto the settings directory
func BuildSettingsPath(target string) string {
	return filepath.Join(BaseSettingsDir(), target)
}
