package config

import (
	"maps"
	"slices"
)

// ConfigDiff describes what changed between two configs. Hot-reloadable
// changes are reported individually; everything else is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ResetPolicyChanged bool
	NewResetPolicy     string

	// DetectionChanged is true when any detection setting changed. The
	// detectors are rebuilt from the new config.
	DetectionChanged bool

	// RestartRequired lists the settings that changed but only take effect
	// after a restart, e.g. "server.listen_addr".
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ResetPolicyChanged && !d.DetectionChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Timers.ResetPolicy != new.Timers.ResetPolicy {
		d.ResetPolicyChanged = true
		d.NewResetPolicy = new.Timers.ResetPolicy
	}
	d.DetectionChanged = !detectionEqual(old.Detection, new.Detection)

	restart := func(field string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, field)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.mcp_path", old.Server.MCPPath != new.Server.MCPPath)
	restart("server.allowed_origins", !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins))
	restart("timers.tick_interval", old.Timers.TickInterval != new.Timers.TickInterval)
	restart("timers.default_duration", old.Timers.DefaultDuration != new.Timers.DefaultDuration)
	restart("timers.completed_ttl", old.Timers.CompletedTTL != new.Timers.CompletedTTL)
	restart("events", old.Events != new.Events)
	restart("journal", old.Journal != new.Journal)
	restart("telemetry", old.Telemetry != new.Telemetry)

	return d
}

func detectionEqual(a, b DetectionConfig) bool {
	if a.Timeout != b.Timeout || a.MinConfidence != b.MinConfidence || a.FuzzyThreshold != b.FuzzyThreshold {
		return false
	}
	if !slices.Equal(a.Disabled, b.Disabled) {
		return false
	}
	return maps.EqualFunc(a.Synonyms, b.Synonyms, func(x, y []string) bool { return slices.Equal(x, y) })
}
