package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/dshills/recode/internal/logging"
)

// Config is the complete recode configuration.
type Config struct {
	Logging   LoggingConfig           `toml:"logging" yaml:"logging"`
	Loop      LoopConfig              `toml:"loop" yaml:"loop"`
	Buffered  BufferedConfig          `toml:"buffered" yaml:"buffered"`
	Client    ClientConfig            `toml:"client" yaml:"client"`
	Modules   map[string]ModuleConfig `toml:"modules" yaml:"modules"`
	Scripts   ScriptsConfig           `toml:"scripts" yaml:"scripts"`
	Telemetry TelemetryConfig         `toml:"telemetry" yaml:"telemetry"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level" env:"RECODE_LOG_LEVEL"`
	Format string `toml:"format" yaml:"format" env:"RECODE_LOG_FORMAT"`
}

// LoopConfig configures the mutation thread.
type LoopConfig struct {
	// QueueWarnDepth logs a warning when this many items are queued.
	QueueWarnDepth int `toml:"queue_warn_depth" yaml:"queue_warn_depth" env:"RECODE_LOOP_QUEUE_WARN_DEPTH"`
}

// BufferedConfig holds defaults for buffered events.
type BufferedConfig struct {
	StableIntervalMs int `toml:"stable_interval_ms" yaml:"stable_interval_ms" env:"RECODE_BUFFERED_STABLE_INTERVAL_MS"`
	CacheDurationMs  int `toml:"cache_duration_ms" yaml:"cache_duration_ms" env:"RECODE_BUFFERED_CACHE_DURATION_MS"`
}

// StableInterval is the target time between background refreshes.
func (b BufferedConfig) StableInterval() time.Duration {
	return time.Duration(b.StableIntervalMs) * time.Millisecond
}

// CacheDuration is how long an unread entry stays cached.
func (b BufferedConfig) CacheDuration() time.Duration {
	return time.Duration(b.CacheDurationMs) * time.Millisecond
}

// ClientConfig describes the simulated client.
type ClientConfig struct {
	TickIntervalMs int    `toml:"tick_interval_ms" yaml:"tick_interval_ms" env:"RECODE_CLIENT_TICK_INTERVAL_MS"`
	Username       string `toml:"username" yaml:"username" env:"RECODE_CLIENT_USERNAME"`
	Node           string `toml:"node" yaml:"node" env:"RECODE_CLIENT_NODE"`
}

// TickInterval is the time between client ticks.
func (c ClientConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// ModuleConfig configures one named module.
type ModuleConfig struct {
	Enabled bool     `toml:"enabled" yaml:"enabled"`
	Depends []string `toml:"depends" yaml:"depends"`
}

// ScriptsConfig lists Lua scripts to load.
type ScriptsConfig struct {
	Paths     []string `toml:"paths" yaml:"paths" env:"RECODE_SCRIPT_PATHS" envSeparator:":"`
	TimeoutMs int      `toml:"timeout_ms" yaml:"timeout_ms" env:"RECODE_SCRIPT_TIMEOUT_MS"`
}

// Timeout bounds a single script call.
func (s ScriptsConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// TelemetryConfig configures OpenTelemetry tracing. Tracing is off unless
// Enabled is set and Endpoint is non-empty.
type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled" yaml:"enabled" env:"RECODE_OTEL_ENABLED"`
	Endpoint    string `toml:"endpoint" yaml:"endpoint" env:"RECODE_OTEL_ENDPOINT"`
	ServiceName string `toml:"service_name" yaml:"service_name" env:"RECODE_OTEL_SERVICE_NAME"`
}

// BuiltinModules are always registered. They may be named as dependencies
// without a modules entry of their own.
var BuiltinModules = []string{"state", "chat", "scripts"}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  logging.LevelInfo,
			Format: logging.FormatText,
		},
		Loop: LoopConfig{
			QueueWarnDepth: 1024,
		},
		Buffered: BufferedConfig{
			StableIntervalMs: 1000,
			CacheDurationMs:  1000,
		},
		Client: ClientConfig{
			TickIntervalMs: 50,
			Username:       "Player",
			Node:           "node1",
		},
		Modules: map[string]ModuleConfig{},
		Scripts: ScriptsConfig{
			TimeoutMs: 50,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "recode",
		},
	}
}

// Load builds a Config from defaults, the file at path and the
// environment, then validates it. An empty path or a missing file leaves
// the defaults in place.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseEnv applies RECODE_* environment overrides to target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c *Config) decodeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, c)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return &ParseError{Path: path, Err: err}
	}
	return nil
}

// Validate reports every invalid setting, joined.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if !logging.ValidLevel(c.Logging.Level) {
		invalid("logging.level %q", c.Logging.Level)
	}
	if f := strings.ToLower(c.Logging.Format); f != logging.FormatText && f != logging.FormatJSON {
		invalid("logging.format %q", c.Logging.Format)
	}
	if c.Loop.QueueWarnDepth < 0 {
		invalid("loop.queue_warn_depth must not be negative")
	}
	if c.Buffered.StableIntervalMs <= 0 {
		invalid("buffered.stable_interval_ms must be positive")
	}
	if c.Buffered.CacheDurationMs <= 0 {
		invalid("buffered.cache_duration_ms must be positive")
	}
	if c.Client.TickIntervalMs <= 0 {
		invalid("client.tick_interval_ms must be positive")
	}
	if c.Scripts.TimeoutMs < 0 {
		invalid("scripts.timeout_ms must not be negative")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		invalid("telemetry.endpoint is required when telemetry is enabled")
	}

	for _, name := range c.ModuleNames() {
		for _, dep := range c.Modules[name].Depends {
			if dep == name {
				invalid("module %s depends on itself", name)
				continue
			}
			if _, ok := c.Modules[dep]; !ok && !slices.Contains(BuiltinModules, dep) {
				invalid("module %s depends on unknown module %s", name, dep)
			}
		}
	}

	return errors.Join(errs...)
}

// ModuleNames returns the configured module names, sorted.
func (c *Config) ModuleNames() []string {
	names := make([]string, 0, len(c.Modules))
	for name := range c.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoggerConfig converts the logging section for logging.New.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
	}
}
