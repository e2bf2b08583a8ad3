// ABOUTME: Configuration loading and parsing for the support console
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete support-console configuration.
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Ask      AskConfig      `yaml:"ask"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BackendConfig locates the support-assistant backend.
type BackendConfig struct {
	// BaseURL is the REST API root, e.g. https://support.example.com/api
	BaseURL string `yaml:"base_url"`
	// StreamURL is the investigate-mode WebSocket endpoint,
	// e.g. wss://support.example.com/api/run_live
	StreamURL string `yaml:"stream_url"`
	// AuthToken is the bearer token for both surfaces. Usually injected
	// via ${SUPPORT_TOKEN}.
	AuthToken string `yaml:"auth_token"`
}

// AskConfig tunes ask-mode queries and the simulated answer reveal.
type AskConfig struct {
	MaxResults  int      `yaml:"max_results"`
	DataSources []string `yaml:"data_sources"`

	WordDelay time.Duration `yaml:"-"`
	Timeout   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	WordDelayRaw string `yaml:"word_delay"`
	TimeoutRaw   string `yaml:"timeout"`
}

// DatabaseConfig holds the local history database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Ask.MaxResults == 0 {
		c.Ask.MaxResults = 5
	}
	if len(c.Ask.DataSources) == 0 {
		c.Ask.DataSources = []string{"all"}
	}
	if c.Ask.WordDelay == 0 {
		c.Ask.WordDelay = 30 * time.Millisecond
	}
	if c.Ask.Timeout == 0 {
		c.Ask.Timeout = 90 * time.Second
	}
	if c.Database.Path == "" {
		c.Database.Path = "support-console.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.StreamURL == "" {
		return fmt.Errorf("backend.stream_url is required")
	}
	if c.Ask.MaxResults < 1 || c.Ask.MaxResults > 50 {
		return fmt.Errorf("ask.max_results must be between 1 and 50")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Ask.WordDelayRaw != "" {
		cfg.Ask.WordDelay, err = time.ParseDuration(cfg.Ask.WordDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing word_delay %q: %w", cfg.Ask.WordDelayRaw, err)
		}
	}

	if cfg.Ask.TimeoutRaw != "" {
		cfg.Ask.Timeout, err = time.ParseDuration(cfg.Ask.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing timeout %q: %w", cfg.Ask.TimeoutRaw, err)
		}
	}

	return nil
}
