// Package config provides the configuration schema, loader, and hot-reload
// watcher for the voxtimer service.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader]; environment variables prefixed
// with VOXTIMER_ override file values.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Detection DetectionConfig `yaml:"detection"`
	Timers    TimersConfig    `yaml:"timers"`
	Events    EventsConfig    `yaml:"events"`
	Journal   JournalConfig   `yaml:"journal"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP API (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr" env:"VOXTIMER_LISTEN_ADDR"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level" env:"VOXTIMER_LOG_LEVEL"`

	// MCPPath is the URL path of the MCP endpoint. Empty disables it.
	MCPPath string `yaml:"mcp_path" env:"VOXTIMER_MCP_PATH"`

	// AllowedOrigins lists host patterns accepted for cross-origin websocket
	// connections.
	AllowedOrigins []string `yaml:"allowed_origins" env:"VOXTIMER_ALLOWED_ORIGINS" envSeparator:","`
}

// DetectionConfig tunes command detection. Hot-reloadable.
type DetectionConfig struct {
	// Timeout bounds how long the coordinator waits for detectors.
	Timeout time.Duration `yaml:"timeout" env:"VOXTIMER_DETECTION_TIMEOUT"`

	// MinConfidence is the lowest confidence a match may have.
	MinConfidence float64 `yaml:"min_confidence" env:"VOXTIMER_DETECTION_MIN_CONFIDENCE"`

	// FuzzyThreshold is the similarity a misheard verb needs. 0 disables
	// fuzzy matching.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" env:"VOXTIMER_DETECTION_FUZZY_THRESHOLD"`

	// Disabled lists command kinds (start, pause, resume, stop, reset) whose
	// detectors are switched off.
	Disabled []string `yaml:"disabled" env:"VOXTIMER_DETECTION_DISABLED" envSeparator:","`

	// Synonyms adds trigger phrases per command kind.
	Synonyms map[string][]string `yaml:"synonyms"`
}

// TimersConfig tunes the orchestrator.
type TimersConfig struct {
	// TickInterval is the countdown granularity.
	TickInterval time.Duration `yaml:"tick_interval" env:"VOXTIMER_TICK_INTERVAL"`

	// DefaultDuration is used for "start a timer" without a duration.
	DefaultDuration time.Duration `yaml:"default_duration" env:"VOXTIMER_DEFAULT_DURATION"`

	// CompletedTTL removes completed and stopped timers after this long. 0
	// keeps them until they are deleted.
	CompletedTTL time.Duration `yaml:"completed_ttl" env:"VOXTIMER_COMPLETED_TTL"`

	// ResetPolicy decides what an untargeted "reset" affects: single, all or
	// new. Hot-reloadable.
	ResetPolicy string `yaml:"reset_policy" env:"VOXTIMER_RESET_POLICY"`
}

// EventsConfig tunes the event bus.
type EventsConfig struct {
	// QueueSize is the per-subscriber buffer. Overflow drops the oldest event.
	QueueSize int `yaml:"queue_size" env:"VOXTIMER_EVENTS_QUEUE_SIZE"`

	// Replay is how many recent events a new subscriber receives first.
	Replay int `yaml:"replay" env:"VOXTIMER_EVENTS_REPLAY"`
}

// JournalConfig selects the audit trail sinks. Both are optional.
type JournalConfig struct {
	// File is a JSON-lines file that receives every timer event.
	File string `yaml:"file" env:"VOXTIMER_JOURNAL_FILE"`

	// PostgresDSN enables the PostgreSQL sink.
	PostgresDSN string `yaml:"postgres_dsn" env:"VOXTIMER_JOURNAL_POSTGRES_DSN"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// ServiceName is reported as the service.name resource attribute.
	ServiceName string `yaml:"service_name" env:"VOXTIMER_SERVICE_NAME"`
}

// Defaults returns a configuration with every field set to its default.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
			MCPPath:    "/mcp",
		},
		Detection: DetectionConfig{
			Timeout:        50 * time.Millisecond,
			MinConfidence:  0.4,
			FuzzyThreshold: 0.85,
		},
		Timers: TimersConfig{
			TickInterval:    250 * time.Millisecond,
			DefaultDuration: 5 * time.Minute,
			CompletedTTL:    10 * time.Minute,
			ResetPolicy:     "single",
		},
		Events: EventsConfig{
			QueueSize: 64,
			Replay:    0,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "voxtimer",
		},
	}
}
