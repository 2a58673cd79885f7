// ABOUTME: Configuration loading and parsing for the loom client library.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete client configuration.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Streams   StreamsConfig   `yaml:"streams"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// GatewayConfig holds the endpoints of the gateway this client talks to.
type GatewayConfig struct {
	// CommandURL is the websocket endpoint for outbound commands.
	CommandURL string `yaml:"command_url"`
	// EventURL is the websocket endpoint for inbound event pushes.
	EventURL string `yaml:"event_url"`
	// HTTPBase is the base URL for the content streaming endpoints.
	HTTPBase string `yaml:"http_base"`
}

// ReconnectConfig holds the reconnect policy shared by both channels.
type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"-"`
	MaxDelay    time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	BaseDelayRaw string `yaml:"base_delay"`
	MaxDelayRaw  string `yaml:"max_delay"`
}

// StreamsConfig holds content-stream limits and delivery tuning.
type StreamsConfig struct {
	MaxConcurrent    int           `yaml:"max_concurrent"`
	FlushThreshold   int           `yaml:"flush_threshold"`
	MemoryLimitBytes int           `yaml:"memory_limit_bytes"`
	FlushDebounce    time.Duration `yaml:"-"`
	MinDeliveryGap   time.Duration `yaml:"-"`
	SweepInterval    time.Duration `yaml:"-"`
	IdleTimeout      time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	FlushDebounceRaw  string `yaml:"flush_debounce"`
	MinDeliveryGapRaw string `yaml:"min_delivery_gap"`
	SweepIntervalRaw  string `yaml:"sweep_interval"`
	IdleTimeoutRaw    string `yaml:"idle_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when fields are unset.
const (
	DefaultMaxAttempts    = 5
	DefaultBaseDelay      = 1 * time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultMaxConcurrent  = 5
	DefaultFlushThreshold = 100
	DefaultMemoryLimit    = 1 << 20 // 1 MiB per stream
	DefaultFlushDebounce  = 50 * time.Millisecond
	DefaultMinDeliveryGap = 50 * time.Millisecond
	DefaultSweepInterval  = 5 * time.Second
	DefaultIdleTimeout    = 10 * time.Second
	DefaultStatusInterval = 1 * time.Second
)

// Default returns a Config with every tunable at its default value.
// Gateway endpoints have no default and must be set before Validate.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment
// variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Gateway.CommandURL == "" {
		return fmt.Errorf("gateway.command_url is required")
	}
	if c.Gateway.EventURL == "" {
		return fmt.Errorf("gateway.event_url is required")
	}
	if c.Gateway.HTTPBase == "" {
		return fmt.Errorf("gateway.http_base is required")
	}
	if c.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("reconnect.max_attempts must be at least 1")
	}
	if c.Streams.MaxConcurrent < 1 {
		return fmt.Errorf("streams.max_concurrent must be at least 1")
	}
	if c.Streams.MemoryLimitBytes < 1 {
		return fmt.Errorf("streams.memory_limit_bytes must be positive")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultMaxAttempts
	}
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = DefaultBaseDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultMaxDelay
	}
	if c.Streams.MaxConcurrent == 0 {
		c.Streams.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.Streams.FlushThreshold == 0 {
		c.Streams.FlushThreshold = DefaultFlushThreshold
	}
	if c.Streams.MemoryLimitBytes == 0 {
		c.Streams.MemoryLimitBytes = DefaultMemoryLimit
	}
	if c.Streams.FlushDebounce == 0 {
		c.Streams.FlushDebounce = DefaultFlushDebounce
	}
	if c.Streams.MinDeliveryGap == 0 {
		c.Streams.MinDeliveryGap = DefaultMinDeliveryGap
	}
	if c.Streams.SweepInterval == 0 {
		c.Streams.SweepInterval = DefaultSweepInterval
	}
	if c.Streams.IdleTimeout == 0 {
		c.Streams.IdleTimeout = DefaultIdleTimeout
	}
}

// parseDurations converts the raw duration strings into time.Duration values.
func (c *Config) parseDurations() error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{c.Reconnect.BaseDelayRaw, &c.Reconnect.BaseDelay, "reconnect.base_delay"},
		{c.Reconnect.MaxDelayRaw, &c.Reconnect.MaxDelay, "reconnect.max_delay"},
		{c.Streams.FlushDebounceRaw, &c.Streams.FlushDebounce, "streams.flush_debounce"},
		{c.Streams.MinDeliveryGapRaw, &c.Streams.MinDeliveryGap, "streams.min_delivery_gap"},
		{c.Streams.SweepIntervalRaw, &c.Streams.SweepInterval, "streams.sweep_interval"},
		{c.Streams.IdleTimeoutRaw, &c.Streams.IdleTimeout, "streams.idle_timeout"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
