package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/hearken/internal/detector"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"audio": {"pcm", "discord"},
	"model": {"onnx"},
}

// ConfusableThreshold is the Jaro-Winkler similarity at or above which two
// command labels with a shared Double Metaphone code are reported as easy
// to confuse.
const ConfusableThreshold = 0.85

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
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

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	f := &cfg.Features
	if f.SampleRate == 0 {
		f.SampleRate = DefaultSampleRate
	}
	if f.WindowLength == 0 {
		f.WindowLength = DefaultWindowLength
	}
	if f.HopLength == 0 {
		f.HopLength = DefaultHopLength
	}
	if f.MelCount == 0 {
		f.MelCount = DefaultMelCount
	}
	if f.Duration == 0 {
		f.Duration = DefaultDuration
	}
	if f.RetainEvict == 0 {
		f.RetainEvict = DefaultRetainEvict
	}
	if f.BufferCapacity == 0 {
		f.BufferCapacity = max(DefaultBufferCapacity, 2*f.WindowLength)
	}

	d := &cfg.Detection
	if d.ScoreThreshold == 0 {
		d.ScoreThreshold = DefaultScoreThreshold
	}
	if d.Suppression == 0 {
		d.Suppression = DefaultSuppression
	}
	if d.SmoothingWindow == 0 {
		d.SmoothingWindow = f.Duration
	}
	if d.MinSamples == 0 {
		d.MinSamples = DefaultMinSamples
	}
	if d.MinElapsedFraction == 0 {
		d.MinElapsedFraction = DefaultMinElapsedFraction
	}
	if d.DriftToleranceHops == 0 {
		d.DriftToleranceHops = DefaultDriftToleranceHops
	}

	if cfg.Storage.FingerprintDimensions == 0 {
		cfg.Storage.FingerprintDimensions = f.MelCount
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	if cfg.Audio.Name == "" {
		errs = append(errs, errors.New("audio.name is required"))
	}
	validateProviderName("audio", cfg.Audio.Name)
	errs = append(errs, validateModel("model", cfg.Model)...)
	for i, fb := range cfg.Model.Fallbacks {
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("model.fallbacks[%d].fallbacks must be empty", i))
		}
		errs = append(errs, validateModel(fmt.Sprintf("model.fallbacks[%d]", i), fb)...)
	}
	cb := cfg.Model.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("model.circuit_breaker values must not be negative"))
	}

	// Features
	f := cfg.Features
	if f.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("features.sample_rate must be positive, got %d", f.SampleRate))
	}
	if f.WindowLength <= 0 {
		errs = append(errs, fmt.Errorf("features.window_length must be positive, got %d", f.WindowLength))
	}
	if f.HopLength <= 0 {
		errs = append(errs, fmt.Errorf("features.hop_length must be positive, got %d", f.HopLength))
	} else if f.HopLength > f.WindowLength {
		errs = append(errs, fmt.Errorf("features.hop_length %d exceeds window_length %d", f.HopLength, f.WindowLength))
	}
	if f.MelCount <= 0 {
		errs = append(errs, fmt.Errorf("features.mel_count must be positive, got %d", f.MelCount))
	}
	if f.Duration <= 0 {
		errs = append(errs, fmt.Errorf("features.duration must be positive, got %s", f.Duration))
	} else if f.SampleRate > 0 && f.Duration.Seconds()*float64(f.SampleRate) < float64(f.WindowLength) {
		errs = append(errs, fmt.Errorf("features.duration %s is shorter than one window", f.Duration))
	}
	if f.RetainEvict < 0 {
		errs = append(errs, fmt.Errorf("features.retain_evict must not be negative, got %d", f.RetainEvict))
	}
	if f.BufferCapacity > 0 && f.BufferCapacity < f.WindowLength {
		errs = append(errs, fmt.Errorf("features.buffer_capacity %d is smaller than window_length %d", f.BufferCapacity, f.WindowLength))
	}
	if f.MinFreq < 0 || f.MaxFreq < 0 {
		errs = append(errs, errors.New("features.min_freq and max_freq must not be negative"))
	} else if f.MaxFreq > 0 && f.MinFreq >= f.MaxFreq {
		errs = append(errs, fmt.Errorf("features.min_freq %.0f must be below max_freq %.0f", f.MinFreq, f.MaxFreq))
	}

	// Detection
	d := cfg.Detection
	if d.ScoreThreshold <= 0 || d.ScoreThreshold > 1 {
		errs = append(errs, fmt.Errorf("detection.score_threshold %.2f is out of range (0, 1]", d.ScoreThreshold))
	}
	if d.Suppression < 0 {
		errs = append(errs, fmt.Errorf("detection.suppression must not be negative, got %s", d.Suppression))
	}
	if d.SmoothingWindow < 0 {
		errs = append(errs, fmt.Errorf("detection.smoothing_window must not be negative, got %s", d.SmoothingWindow))
	}
	if d.MinSamples < 1 {
		errs = append(errs, fmt.Errorf("detection.min_samples must be at least 1, got %d", d.MinSamples))
	}
	if d.MinElapsedFraction < 0 || d.MinElapsedFraction > 1 {
		errs = append(errs, fmt.Errorf("detection.min_elapsed_fraction %.2f is out of range [0, 1]", d.MinElapsedFraction))
	}
	if d.DriftToleranceHops < 1 {
		errs = append(errs, fmt.Errorf("detection.drift_tolerance_hops must be at least 1, got %d", d.DriftToleranceHops))
	}
	errs = append(errs, validateLabels(d.CommandLabels)...)

	// Storage
	if cfg.Storage.PostgresDSN != "" && cfg.Storage.FingerprintDimensions != f.MelCount {
		errs = append(errs, fmt.Errorf("storage.fingerprint_dimensions %d must match features.mel_count %d",
			cfg.Storage.FingerprintDimensions, f.MelCount))
	}

	if len(errs) == 0 {
		warnConfusable(d.CommandLabels)
	}
	return errors.Join(errs...)
}

func validateModel(prefix string, m ModelConfig) []error {
	var errs []error
	if m.Name == "" {
		errs = append(errs, fmt.Errorf("%s.name is required", prefix))
	}
	if m.Path == "" {
		errs = append(errs, fmt.Errorf("%s.path is required", prefix))
	}
	validateProviderName("model", m.Name)
	return errs
}

func validateLabels(labels []string) []error {
	if len(labels) == 0 {
		return []error{errors.New("detection.command_labels must not be empty")}
	}
	var errs []error
	seen := make(map[string]int, len(labels))
	for i, l := range labels {
		prefix := fmt.Sprintf("detection.command_labels[%d]", i)
		switch {
		case strings.TrimSpace(l) == "":
			errs = append(errs, fmt.Errorf("%s is empty", prefix))
			continue
		case l == detector.SilenceLabel || l == detector.UnknownLabel:
			errs = append(errs, fmt.Errorf("%s %q is reserved", prefix, l))
		}
		if prev, ok := seen[l]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of command_labels[%d]", prefix, l, prev))
			continue
		}
		seen[l] = i
	}
	return errs
}

// ConfusablePairs returns every pair of labels that sound alike: they share
// a Double Metaphone code and their Jaro-Winkler similarity is at least
// [ConfusableThreshold].
func ConfusablePairs(labels []string) [][2]string {
	codes := make([][2]string, len(labels))
	for i, l := range labels {
		p, s := matchr.DoubleMetaphone(strings.ToLower(l))
		codes[i] = [2]string{p, s}
	}

	var pairs [][2]string
	for i := range labels {
		for j := i + 1; j < len(labels); j++ {
			if !codesShared(codes[i], codes[j]) {
				continue
			}
			a, b := strings.ToLower(labels[i]), strings.ToLower(labels[j])
			if matchr.JaroWinkler(a, b, false) >= ConfusableThreshold {
				pairs = append(pairs, [2]string{labels[i], labels[j]})
			}
		}
	}
	return pairs
}

func codesShared(a, b [2]string) bool {
	for _, x := range a {
		if x == "" {
			continue
		}
		if x == b[0] || x == b[1] {
			return true
		}
	}
	return false
}

func warnConfusable(labels []string) {
	for _, p := range ConfusablePairs(labels) {
		slog.Warn("config: command labels sound alike; the classifier may confuse them",
			"a", p[0],
			"b", p[1],
		)
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("config: unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
