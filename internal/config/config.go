// Package config provides the configuration schema, loader, and provider registry
// for the hearken command recognizer.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the hearken server.
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

// Level maps l to the slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [ApplyDefaults] to zero-valued fields.
const (
	DefaultListenAddr         = ":8080"
	DefaultSampleRate         = 16000
	DefaultWindowLength       = 480
	DefaultHopLength          = 160
	DefaultMelCount           = 40
	DefaultDuration           = time.Second
	DefaultRetainEvict        = 15
	DefaultBufferCapacity     = 2048
	DefaultScoreThreshold     = 0.7
	DefaultSuppression        = 500 * time.Millisecond
	DefaultMinSamples         = 3
	DefaultMinElapsedFraction = 0.25
	DefaultDriftToleranceHops = 2
	DefaultFingerprintDims    = DefaultMelCount
	DefaultServiceName        = "hearken"
)

// Config is the root configuration structure for hearken.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     ProviderEntry   `yaml:"audio"`
	Model     ModelConfig     `yaml:"model"`
	Features  FeaturesConfig  `yaml:"features"`
	Detection DetectionConfig `yaml:"detection"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the hearken server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists host patterns of browser clients permitted to open
	// the /events WebSocket from another origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "pcm", "discord").
	Name string `yaml:"name"`

	// Options holds provider-specific configuration values. Values may be
	// strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// ModelConfig selects the keyword classifier.
type ModelConfig struct {
	// Name selects the registered classifier implementation (e.g., "onnx").
	Name string `yaml:"name"`

	// Path is the model file location.
	Path string `yaml:"path"`

	// Options holds classifier-specific values such as input_name,
	// output_name, layout or library_path.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when the primary classifier fails or its
	// circuit breaker is open.
	Fallbacks []ModelConfig `yaml:"fallbacks"`

	// CircuitBreaker tunes the breaker wrapped around each classifier.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig mirrors the resilience breaker settings. Zero values
// select the breaker's own defaults.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// FeaturesConfig controls framing and the spectral transform.
type FeaturesConfig struct {
	// SampleRate is the analysis rate in Hz. Capture audio is resampled to it.
	SampleRate int `yaml:"sample_rate"`

	// WindowLength and HopLength are in samples.
	WindowLength int `yaml:"window_length"`
	HopLength    int `yaml:"hop_length"`

	// MelCount is the number of mel bands per frame.
	MelCount int `yaml:"mel_count"`

	// MFCC selects cepstral coefficients instead of log-mel energies. Nil
	// means true.
	MFCC *bool `yaml:"mfcc"`

	// Duration is the span of audio in one spectrogram.
	Duration time.Duration `yaml:"duration"`

	// RetainEvict is how many of the oldest frames are dropped after each
	// ready spectrogram.
	RetainEvict int `yaml:"retain_evict"`

	// BufferCapacity is the sample ring size.
	BufferCapacity int `yaml:"buffer_capacity"`

	// MinFreq and MaxFreq bound the mel filterbank in Hz. Zero selects the
	// transform's defaults.
	MinFreq float64 `yaml:"min_freq"`
	MaxFreq float64 `yaml:"max_freq"`
}

// MFCCEnabled reports the effective MFCC setting.
func (f FeaturesConfig) MFCCEnabled() bool {
	return f.MFCC == nil || *f.MFCC
}

// HopInterval is the wall-clock time between hop ticks.
func (f FeaturesConfig) HopInterval() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.HopLength) * time.Second / time.Duration(f.SampleRate)
}

// DetectionConfig tunes the decision engine.
type DetectionConfig struct {
	// ScoreThreshold is the minimum smoothed score for a decision, in (0, 1].
	ScoreThreshold float64 `yaml:"score_threshold"`

	// CommandLabels lists the classifier's command labels in output order.
	// The silence and unknown labels are appended internally.
	CommandLabels []string `yaml:"command_labels"`

	// IncludeOtherLabel publishes decisions for non-command labels.
	IncludeOtherLabel bool `yaml:"include_other_label"`

	// Suppression is the minimum time between two emitted decisions.
	Suppression time.Duration `yaml:"suppression"`

	// SmoothingWindow is the trailing span of predictions averaged per
	// decision. Zero selects the feature duration.
	SmoothingWindow time.Duration `yaml:"smoothing_window"`

	MinSamples         int     `yaml:"min_samples"`
	MinElapsedFraction float64 `yaml:"min_elapsed_fraction"`

	// DriftToleranceHops is how many hops a tick may lag its schedule
	// before a drift warning is logged.
	DriftToleranceHops int `yaml:"drift_tolerance_hops"`
}

// StorageConfig configures the optional detection log.
type StorageConfig struct {
	// PostgresDSN enables the detection log when set.
	PostgresDSN string `yaml:"postgres_dsn"`

	// FingerprintDimensions is the vector size stored per detection. It must
	// match the feature frame dimension. Zero selects features.mel_count.
	FingerprintDimensions int `yaml:"fingerprint_dimensions"`
}

// TelemetryConfig configures the OpenTelemetry resource.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
}
