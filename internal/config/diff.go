package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: the log level and
// the similarity threshold. A threshold change is applied to running
// sessions and takes effect from their next chunk; everything else requires
// a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdChanged bool
	NewThreshold     float64
}

// Empty reports whether the diff carries no hot-reloadable changes.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ThresholdChanged
}

// Diff compares old and new configs and returns what changed.
// Thresholds are compared after default resolution, so rewriting an explicit
// 0.75 as an absent key is not a change.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Recognition.Threshold() != new.Recognition.Threshold() {
		d.ThresholdChanged = true
		d.NewThreshold = new.Recognition.Threshold()
	}

	return d
}
