package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dshills/pulse/internal/event/topic"
	"github.com/dshills/pulse/internal/logging"
	"github.com/dshills/pulse/internal/telemetry"
)

// Config is the complete runtime configuration.
type Config struct {
	Log       LogConfig       `toml:"log" yaml:"log" envPrefix:"LOG_"`
	Dispatch  DispatchConfig  `toml:"dispatch" yaml:"dispatch" envPrefix:"DISPATCH_"`
	Scheduler SchedulerConfig `toml:"scheduler" yaml:"scheduler" envPrefix:"SCHEDULER_"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Bridge    BridgeConfig    `toml:"bridge" yaml:"bridge" envPrefix:"BRIDGE_"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `toml:"level" yaml:"level" env:"LEVEL"`
	Format     string `toml:"format" yaml:"format" env:"FORMAT"`
	File       string `toml:"file" yaml:"file,omitempty" env:"FILE"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days" env:"MAX_AGE_DAYS"`
}

// DispatchConfig configures the event bus.
type DispatchConfig struct {
	// QueueCapacity bounds pending events. Zero means unbounded.
	QueueCapacity int `toml:"queue_capacity" yaml:"queue_capacity" env:"QUEUE_CAPACITY"`

	// HandlerTimeout bounds a single handler call. Zero disables the bound.
	HandlerTimeout Duration `toml:"handler_timeout" yaml:"handler_timeout" env:"HANDLER_TIMEOUT"`

	// RatePerSecond throttles dispatch. Zero disables throttling.
	RatePerSecond float64 `toml:"rate_per_second" yaml:"rate_per_second" env:"RATE_PER_SECOND"`
	RateBurst     int     `toml:"rate_burst" yaml:"rate_burst" env:"RATE_BURST"`
}

// SchedulerConfig configures the sharded task scheduler.
type SchedulerConfig struct {
	Shards          int      `toml:"shards" yaml:"shards" env:"SHARDS"`
	TaskTimeout     Duration `toml:"task_timeout" yaml:"task_timeout" env:"TASK_TIMEOUT"`
	RemoveOnFailure bool     `toml:"remove_on_failure" yaml:"remove_on_failure" env:"REMOVE_ON_FAILURE"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool     `toml:"enabled" yaml:"enabled" env:"ENABLED"`
	Endpoint       string   `toml:"endpoint" yaml:"endpoint,omitempty" env:"ENDPOINT"`
	Insecure       bool     `toml:"insecure" yaml:"insecure" env:"INSECURE"`
	ServiceName    string   `toml:"service_name" yaml:"service_name" env:"SERVICE_NAME"`
	ExportInterval Duration `toml:"export_interval" yaml:"export_interval" env:"EXPORT_INTERVAL"`
}

// BridgeConfig configures the Redis event bridge.
type BridgeConfig struct {
	Enabled  bool     `toml:"enabled" yaml:"enabled" env:"ENABLED"`
	Addr     string   `toml:"addr" yaml:"addr" env:"ADDR"`
	Password string   `toml:"password" yaml:"password,omitempty" env:"PASSWORD"`
	DB       int      `toml:"db" yaml:"db" env:"DB"`
	Channels []string `toml:"channels" yaml:"channels" env:"CHANNELS" envSeparator:","`

	// Prefix is prepended to the topic of exported events to form the
	// outbound channel name.
	Prefix string `toml:"prefix" yaml:"prefix" env:"PREFIX"`

	// Export holds topic patterns; only matching events are published.
	// Empty exports every Exportable event.
	Export []string `toml:"export" yaml:"export" env:"EXPORT" envSeparator:","`

	// ExportBuffer bounds the exports waiting to be published. Exports
	// beyond it are dropped and counted.
	ExportBuffer int `toml:"export_buffer" yaml:"export_buffer" env:"EXPORT_BUFFER"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:      "info",
			Format:     string(logging.FormatText),
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Dispatch: DispatchConfig{
			QueueCapacity: 0,
			RateBurst:     1,
		},
		Scheduler: SchedulerConfig{
			Shards: 4,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "pulse",
			ExportInterval: Duration(15 * time.Second),
		},
		Bridge: BridgeConfig{
			Addr:         "localhost:6379",
			Prefix:       "pulse.",
			ExportBuffer: 256,
		},
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs ValidationErrors

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, &ValidationError{Path: "log.level", Value: c.Log.Level, Message: "must be debug, info, warn or error"})
	}
	switch logging.Format(strings.ToLower(c.Log.Format)) {
	case logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, &ValidationError{Path: "log.format", Value: c.Log.Format, Message: "must be text or json"})
	}
	if c.Dispatch.QueueCapacity < 0 {
		errs = append(errs, &ValidationError{Path: "dispatch.queue_capacity", Value: c.Dispatch.QueueCapacity, Message: "must not be negative"})
	}
	if c.Dispatch.HandlerTimeout < 0 {
		errs = append(errs, &ValidationError{Path: "dispatch.handler_timeout", Value: c.Dispatch.HandlerTimeout, Message: "must not be negative"})
	}
	if c.Dispatch.RatePerSecond < 0 {
		errs = append(errs, &ValidationError{Path: "dispatch.rate_per_second", Value: c.Dispatch.RatePerSecond, Message: "must not be negative"})
	}
	if c.Dispatch.RatePerSecond > 0 && c.Dispatch.RateBurst < 1 {
		errs = append(errs, &ValidationError{Path: "dispatch.rate_burst", Value: c.Dispatch.RateBurst, Message: "must be at least 1 when a rate is set"})
	}
	if c.Scheduler.Shards < 1 {
		errs = append(errs, &ValidationError{Path: "scheduler.shards", Value: c.Scheduler.Shards, Message: "must be at least 1"})
	}
	if c.Scheduler.TaskTimeout < 0 {
		errs = append(errs, &ValidationError{Path: "scheduler.task_timeout", Value: c.Scheduler.TaskTimeout, Message: "must not be negative"})
	}
	if c.Telemetry.Enabled && c.Telemetry.ExportInterval <= 0 {
		errs = append(errs, &ValidationError{Path: "telemetry.export_interval", Value: c.Telemetry.ExportInterval, Message: "must be positive"})
	}
	if c.Bridge.Enabled {
		if c.Bridge.Addr == "" {
			errs = append(errs, &ValidationError{Path: "bridge.addr", Message: "is required when the bridge is enabled"})
		}
		if len(c.Bridge.Channels) == 0 {
			errs = append(errs, &ValidationError{Path: "bridge.channels", Message: "needs at least one channel when the bridge is enabled"})
		}
	}
	if c.Bridge.ExportBuffer < 0 {
		errs = append(errs, &ValidationError{Path: "bridge.export_buffer", Value: c.Bridge.ExportBuffer, Message: "must not be negative"})
	}
	if _, err := topic.NewFilter(c.Bridge.Export...); err != nil {
		errs = append(errs, &ValidationError{Path: "bridge.export", Value: c.Bridge.Export, Message: err.Error()})
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ExportFilter compiles bridge.export. Validate has already checked it.
func (c Config) ExportFilter() *topic.Filter {
	f, err := topic.NewFilter(c.Bridge.Export...)
	if err != nil {
		return nil
	}
	return f
}

// Logging converts the log section into a logging.Config.
func (c Config) Logging() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Format = logging.Format(strings.ToLower(c.Log.Format))
	lc.File = c.Log.File
	lc.MaxSizeMB = c.Log.MaxSizeMB
	lc.MaxBackups = c.Log.MaxBackups
	lc.MaxAgeDays = c.Log.MaxAgeDays
	return lc
}

// TelemetryFor converts the telemetry section into a telemetry.Config
// stamped with the given service version.
func (c Config) TelemetryFor(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		Endpoint:       c.Telemetry.Endpoint,
		Insecure:       c.Telemetry.Insecure,
		ServiceName:    c.Telemetry.ServiceName,
		ServiceVersion: version,
		ExportInterval: c.Telemetry.ExportInterval.Std(),
	}
}

// Duration is a time.Duration that reads and writes as "1m30s" in every
// configuration format.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String formats d like time.Duration.
func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Redacted returns a copy of c with secrets masked, for display.
func (c Config) Redacted() Config {
	if c.Bridge.Password != "" {
		c.Bridge.Password = "********"
	}
	c.Bridge.Channels = slices.Clone(c.Bridge.Channels)
	c.Bridge.Export = slices.Clone(c.Bridge.Export)
	return c
}
