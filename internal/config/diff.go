package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; the others are
// reported in RestartRequired so the caller can warn about them.
type ConfigDiff struct {
	DetectionChanged bool
	NewDetection     DetectionConfig

	LogLevelChanged bool
	NewLogLevel     LogLevel

	CommandsChanged bool // phrases or match thresholds changed

	// RestartRequired lists top-level sections whose changes only take
	// effect after a restart (e.g., "providers", "server.listen_addr").
	RestartRequired []string
}

// Empty reports whether the diff carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.DetectionChanged && !d.LogLevelChanged && !d.CommandsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Detection parameters are plain values; struct equality is exact.
	if old.Detection != new.Detection {
		d.DetectionChanged = true
		d.NewDetection = new.Detection
	}

	// Commands
	if old.Commands.PhoneticThreshold != new.Commands.PhoneticThreshold ||
		old.Commands.FuzzyThreshold != new.Commands.FuzzyThreshold ||
		!slices.Equal(old.Commands.Phrases, new.Commands.Phrases) {
		d.CommandsChanged = true
	}

	// Everything below needs a restart. The wake detector reads its base
	// threshold once at construction.
	if old.Detection.WakeBaseThreshold != new.Detection.WakeBaseThreshold {
		d.RestartRequired = append(d.RestartRequired, "detection.wake_base_threshold")
	}
	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if !reflect.DeepEqual(old.Submit, new.Submit) {
		d.RestartRequired = append(d.RestartRequired, "submit")
	}
	if old.Trigger != new.Trigger {
		d.RestartRequired = append(d.RestartRequired, "trigger")
	}
	if old.Archive != new.Archive {
		d.RestartRequired = append(d.RestartRequired, "archive")
	}
	if old.Recovery != new.Recovery {
		d.RestartRequired = append(d.RestartRequired, "recovery")
	}

	return d
}
