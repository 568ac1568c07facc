package config_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/MrWong99/hearken/internal/config"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("minimal config: %v", err)
	}
	return cfg
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"log level", func(c *config.Config) { c.Server.LogLevel = "verbose" }, "log_level"},
		{"missing audio", func(c *config.Config) { c.Audio.Name = "" }, "audio.name"},
		{"missing model path", func(c *config.Config) { c.Model.Path = "" }, "model.path"},
		{"fallback without name", func(c *config.Config) {
			c.Model.Fallbacks = []config.ModelConfig{{Path: "/m.onnx"}}
		}, "model.fallbacks[0].name"},
		{"nested fallback", func(c *config.Config) {
			c.Model.Fallbacks = []config.ModelConfig{{
				Name: "onnx", Path: "/m.onnx",
				Fallbacks: []config.ModelConfig{{Name: "onnx", Path: "/n.onnx"}},
			}}
		}, "fallbacks[0].fallbacks"},
		{"negative breaker", func(c *config.Config) { c.Model.CircuitBreaker.MaxFailures = -1 }, "circuit_breaker"},
		{"hop exceeds window", func(c *config.Config) { c.Features.HopLength = 500 }, "exceeds window_length"},
		{"negative sample rate", func(c *config.Config) { c.Features.SampleRate = -1 }, "sample_rate"},
		{"duration below window", func(c *config.Config) { c.Features.WindowLength = 32000; c.Features.BufferCapacity = 64000 }, "shorter than one window"},
		{"negative retain", func(c *config.Config) { c.Features.RetainEvict = -1 }, "retain_evict"},
		{"small buffer", func(c *config.Config) { c.Features.BufferCapacity = 100 }, "buffer_capacity"},
		{"freq order", func(c *config.Config) { c.Features.MinFreq = 4000; c.Features.MaxFreq = 20 }, "min_freq"},
		{"threshold zero", func(c *config.Config) { c.Detection.ScoreThreshold = 0 }, "score_threshold"},
		{"threshold above one", func(c *config.Config) { c.Detection.ScoreThreshold = 1.5 }, "score_threshold"},
		{"negative suppression", func(c *config.Config) { c.Detection.Suppression = -1 }, "suppression"},
		{"min samples", func(c *config.Config) { c.Detection.MinSamples = 0 }, "min_samples"},
		{"elapsed fraction", func(c *config.Config) { c.Detection.MinElapsedFraction = 2 }, "min_elapsed_fraction"},
		{"drift tolerance", func(c *config.Config) { c.Detection.DriftToleranceHops = 0 }, "drift_tolerance_hops"},
		{"no labels", func(c *config.Config) { c.Detection.CommandLabels = nil }, "must not be empty"},
		{"blank label", func(c *config.Config) { c.Detection.CommandLabels = []string{"go", " "} }, "command_labels[1] is empty"},
		{"reserved label", func(c *config.Config) { c.Detection.CommandLabels = []string{"_silence_"} }, "reserved"},
		{"duplicate label", func(c *config.Config) { c.Detection.CommandLabels = []string{"go", "stop", "go"} }, "duplicate"},
		{"fingerprint dims", func(c *config.Config) {
			c.Storage.PostgresDSN = "postgres://localhost/hearken"
			c.Storage.FingerprintDimensions = 13
		}, "fingerprint_dimensions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_JoinsAllProblems(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
features:
  hop_length: 900
detection:
  score_threshold: 2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "hop_length", "score_threshold", "audio.name", "command_labels"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_StorageWithoutDSNIgnoresDims(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Storage.FingerprintDimensions = 13
	if err := config.Validate(cfg); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestConfusablePairs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		labels []string
		want   [][2]string
	}{
		{"distinct", []string{"yes", "no", "up", "down"}, nil},
		{"homophones", []string{"four", "for", "stop"}, [][2]string{{"four", "for"}}},
		{"case insensitive", []string{"Four", "for"}, [][2]string{{"Four", "for"}}},
		{"shared code but dissimilar", []string{"go", "cow"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := config.ConfusablePairs(tt.labels)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("pair %d: got %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

// Not parallel: swaps the default logger.
func TestValidate_WarnsOnConfusableLabels(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := validConfig(t)
	buf.Reset()
	cfg.Detection.CommandLabels = []string{"four", "for", "stop"}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("confusable labels must not fail validation: %v", err)
	}
	if !strings.Contains(buf.String(), "sound alike") {
		t.Errorf("expected confusable warning, got log %q", buf.String())
	}
}

// Not parallel: swaps the default logger.
func TestValidate_WarnsOnUnknownProvider(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := validConfig(t)
	buf.Reset()
	cfg.Audio.Name = "alsa"
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("unknown provider names must not fail validation: %v", err)
	}
	if !strings.Contains(buf.String(), "unknown provider name") {
		t.Errorf("expected unknown provider warning, got log %q", buf.String())
	}
}
