package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxtimer/internal/command"
	"github.com/MrWong99/voxtimer/internal/orchestrator"
)

// LoadDotEnv loads environment variables from the given .env files (".env"
// when none are given). Missing files are ignored; variables already set in
// the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. An empty path yields the defaults with environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromReader(strings.NewReader(""))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Defaults], applies
// environment overrides and validates the result. Unknown keys are an error.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if p := cfg.Server.MCPPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("server.mcp_path %q must start with /", p))
	}

	// Detection
	d := cfg.Detection
	if d.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("detection.timeout must be positive, got %s", d.Timeout))
	}
	if d.MinConfidence <= 0 || d.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("detection.min_confidence %.2f is out of range (0, 1]", d.MinConfidence))
	}
	if d.FuzzyThreshold < 0 || d.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("detection.fuzzy_threshold %.2f is out of range [0, 1]", d.FuzzyThreshold))
	}
	for i, name := range d.Disabled {
		if _, err := command.ParseKind(name); err != nil {
			errs = append(errs, fmt.Errorf("detection.disabled[%d]: %w", i, err))
		}
	}
	if len(d.Disabled) > 0 && len(d.Disabled) >= len(command.Kinds()) {
		errs = append(errs, errors.New("detection.disabled switches off every detector"))
	}
	for kind, phrases := range d.Synonyms {
		if _, err := command.ParseKind(kind); err != nil {
			errs = append(errs, fmt.Errorf("detection.synonyms: %w", err))
			continue
		}
		for i, p := range phrases {
			if strings.TrimSpace(p) == "" {
				errs = append(errs, fmt.Errorf("detection.synonyms.%s[%d] is empty", kind, i))
			}
		}
	}

	// Timers
	t := cfg.Timers
	if t.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("timers.tick_interval must be positive, got %s", t.TickInterval))
	}
	if t.DefaultDuration <= 0 {
		errs = append(errs, fmt.Errorf("timers.default_duration must be positive, got %s", t.DefaultDuration))
	}
	if t.CompletedTTL < 0 {
		errs = append(errs, fmt.Errorf("timers.completed_ttl must not be negative, got %s", t.CompletedTTL))
	}
	if _, err := orchestrator.ParseResetPolicy(t.ResetPolicy); err != nil {
		errs = append(errs, fmt.Errorf("timers.reset_policy: %w", err))
	}

	// Events
	if cfg.Events.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("events.queue_size must be positive, got %d", cfg.Events.QueueSize))
	}
	if cfg.Events.Replay < 0 {
		errs = append(errs, fmt.Errorf("events.replay must not be negative, got %d", cfg.Events.Replay))
	}

	return errors.Join(errs...)
}
