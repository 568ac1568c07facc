package config

import (
	"slices"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; RestartRequired
// reports whether anything else changed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdChanged bool
	NewThreshold     float64

	SuppressionChanged bool
	NewSuppression     time.Duration

	IncludeOtherChanged bool
	NewIncludeOther     bool

	// RestartRequired is true when a field outside the hot-reloadable set
	// changed, such as the audio source, model or framing parameters.
	// RestartSections names the top-level sections those fields live in.
	RestartRequired bool
	RestartSections []string
}

// Changed reports whether any hot-reloadable field changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ThresholdChanged || d.SuppressionChanged || d.IncludeOtherChanged
}

// Fields lists the YAML keys of the hot-reloadable fields that changed.
func (d ConfigDiff) Fields() []string {
	var f []string
	if d.LogLevelChanged {
		f = append(f, "server.log_level")
	}
	if d.ThresholdChanged {
		f = append(f, "detection.score_threshold")
	}
	if d.SuppressionChanged {
		f = append(f, "detection.suppression")
	}
	if d.IncludeOtherChanged {
		f = append(f, "detection.include_other_label")
	}
	return f
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Detection.ScoreThreshold != new.Detection.ScoreThreshold {
		d.ThresholdChanged = true
		d.NewThreshold = new.Detection.ScoreThreshold
	}
	if old.Detection.Suppression != new.Detection.Suppression {
		d.SuppressionChanged = true
		d.NewSuppression = new.Detection.Suppression
	}
	if old.Detection.IncludeOtherLabel != new.Detection.IncludeOtherLabel {
		d.IncludeOtherChanged = true
		d.NewIncludeOther = new.Detection.IncludeOtherLabel
	}

	d.RestartSections = restartSections(old, new)
	d.RestartRequired = len(d.RestartSections) > 0
	return d
}

// restartSections names the top-level sections whose untracked fields
// differ between old and new.
func restartSections(old, new *Config) []string {
	var sections []string
	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		sections = append(sections, "server")
	}
	if old.Audio.Name != new.Audio.Name || !optionsEqual(old.Audio.Options, new.Audio.Options) {
		sections = append(sections, "audio")
	}
	if !modelEqual(old.Model, new.Model) {
		sections = append(sections, "model")
	}
	of, nf := old.Features, new.Features
	mfccChanged := of.MFCCEnabled() != nf.MFCCEnabled()
	of.MFCC, nf.MFCC = nil, nil
	if mfccChanged || of != nf {
		sections = append(sections, "features")
	}
	od, nd := old.Detection, new.Detection
	if !slices.Equal(od.CommandLabels, nd.CommandLabels) ||
		od.SmoothingWindow != nd.SmoothingWindow ||
		od.MinSamples != nd.MinSamples ||
		od.MinElapsedFraction != nd.MinElapsedFraction ||
		od.DriftToleranceHops != nd.DriftToleranceHops {
		sections = append(sections, "detection")
	}
	if old.Storage != new.Storage {
		sections = append(sections, "storage")
	}
	if old.Telemetry != new.Telemetry {
		sections = append(sections, "telemetry")
	}
	return sections
}

func modelEqual(a, b ModelConfig) bool {
	if a.Name != b.Name || a.Path != b.Path || a.CircuitBreaker != b.CircuitBreaker ||
		!optionsEqual(a.Options, b.Options) || len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if !modelEqual(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}

// optionsEqual compares option maps as decoded from YAML: scalars, nested
// maps and sequences.
func optionsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !scalarEqual(av, bv) {
			return false
		}
	}
	return true
}

func scalarEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		return ok && optionsEqual(av, bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !scalarEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
