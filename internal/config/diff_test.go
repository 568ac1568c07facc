package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/hearken/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("expected no hot-reloadable changes, got %+v", d)
	}
	if d.RestartRequired {
		t.Error("expected RestartRequired=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := validConfig(t)
	new := validConfig(t)
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.RestartRequired {
		t.Error("log level change must not require a restart")
	}
}

func TestDiff_DetectionTunables(t *testing.T) {
	t.Parallel()
	old := validConfig(t)
	new := validConfig(t)
	new.Detection.ScoreThreshold = 0.9
	new.Detection.Suppression = 2 * time.Second
	new.Detection.IncludeOtherLabel = true

	d := config.Diff(old, new)
	if !d.ThresholdChanged || d.NewThreshold != 0.9 {
		t.Errorf("threshold: got changed=%v new=%.2f", d.ThresholdChanged, d.NewThreshold)
	}
	if !d.SuppressionChanged || d.NewSuppression != 2*time.Second {
		t.Errorf("suppression: got changed=%v new=%s", d.SuppressionChanged, d.NewSuppression)
	}
	if !d.IncludeOtherChanged || !d.NewIncludeOther {
		t.Errorf("include_other: got changed=%v new=%v", d.IncludeOtherChanged, d.NewIncludeOther)
	}
	if !d.Changed() {
		t.Error("Changed() should report true")
	}
	if d.RestartRequired {
		t.Error("detection tunables must not require a restart")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	off := false
	tests := []struct {
		name    string
		section string
		mutate  func(*config.Config)
	}{
		{"listen addr", "server", func(c *config.Config) { c.Server.ListenAddr = ":9999" }},
		{"origins", "server", func(c *config.Config) { c.Server.AllowedOrigins = []string{"x.example"} }},
		{"audio provider", "audio", func(c *config.Config) { c.Audio.Name = "discord" }},
		{"audio option", "audio", func(c *config.Config) { c.Audio.Options = map[string]any{"path": "/dev/stdin"} }},
		{"model path", "model", func(c *config.Config) { c.Model.Path = "/other.onnx" }},
		{"model fallback", "model", func(c *config.Config) {
			c.Model.Fallbacks = []config.ModelConfig{{Name: "onnx", Path: "/small.onnx"}}
		}},
		{"breaker", "model", func(c *config.Config) { c.Model.CircuitBreaker.MaxFailures = 9 }},
		{"hop length", "features", func(c *config.Config) { c.Features.HopLength = 80 }},
		{"mfcc", "features", func(c *config.Config) { c.Features.MFCC = &off }},
		{"labels", "detection", func(c *config.Config) { c.Detection.CommandLabels = []string{"up", "down", "left"} }},
		{"min samples", "detection", func(c *config.Config) { c.Detection.MinSamples = 5 }},
		{"storage", "storage", func(c *config.Config) { c.Storage.PostgresDSN = "postgres://db/hearken" }},
		{"telemetry", "telemetry", func(c *config.Config) { c.Telemetry.ServiceName = "other" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := validConfig(t)
			new := validConfig(t)
			tt.mutate(new)
			d := config.Diff(old, new)
			if !d.RestartRequired {
				t.Error("expected RestartRequired=true")
			}
			if len(d.RestartSections) != 1 || d.RestartSections[0] != tt.section {
				t.Errorf("RestartSections = %v, want [%s]", d.RestartSections, tt.section)
			}
			if d.Changed() {
				t.Errorf("expected no hot-reloadable changes, got %+v", d)
			}
		})
	}
}

func TestDiff_ExplicitMFCCTrueMatchesDefault(t *testing.T) {
	t.Parallel()
	on := true
	old := validConfig(t)
	new := validConfig(t)
	new.Features.MFCC = &on

	if d := config.Diff(old, new); d.RestartRequired {
		t.Error("explicit mfcc: true equals the default and must not require a restart")
	}
}

func TestDiff_NestedOptions(t *testing.T) {
	t.Parallel()
	old := validConfig(t)
	new := validConfig(t)
	old.Audio.Options = map[string]any{"pace": map[string]any{"realtime": true}, "ids": []any{"a", "b"}}
	new.Audio.Options = map[string]any{"pace": map[string]any{"realtime": true}, "ids": []any{"a", "b"}}

	if d := config.Diff(old, new); d.RestartRequired {
		t.Error("equal nested options must not require a restart")
	}

	new.Audio.Options["ids"] = []any{"a", "c"}
	if d := config.Diff(old, new); !d.RestartRequired {
		t.Error("changed nested option should require a restart")
	}
}

func TestDiff_Fields(t *testing.T) {
	t.Parallel()
	old := validConfig(t)
	new := validConfig(t)
	new.Server.LogLevel = config.LogDebug
	new.Detection.Suppression = 3 * time.Second
	new.Features.HopLength = 80
	new.Storage.PostgresDSN = "postgres://db/hearken"

	d := config.Diff(old, new)
	want := []string{"server.log_level", "detection.suppression"}
	if !slices.Equal(d.Fields(), want) {
		t.Errorf("Fields() = %v, want %v", d.Fields(), want)
	}
	if !slices.Equal(d.RestartSections, []string{"features", "storage"}) {
		t.Errorf("RestartSections = %v, want [features storage]", d.RestartSections)
	}
	if got := config.Diff(old, validConfig(t)).Fields(); got != nil {
		t.Errorf("Fields() of identical configs = %v, want nil", got)
	}
}
