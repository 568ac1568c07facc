package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/hearken/internal/clock"
	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/detector"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/resilience"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
)

// BuildProviders instantiates the capture source and the classifier chain
// named in cfg. The primary model and every fallback are created through reg
// and wrapped in a [resilience.ClassifierFallback] whose breakers report
// transitions on m. A nil clk selects the wall clock.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics, clk clock.Clock) (*Providers, error) {
	src, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("app: create audio source %q: %w", cfg.Audio.Name, err)
	}
	slog.Info("app: provider created", "kind", "audio", "name", cfg.Audio.Name)

	numLabels := len(detector.Labels(cfg.Detection.CommandLabels))
	models := append([]config.ModelConfig{cfg.Model}, cfg.Model.Fallbacks...)

	var created []classifier.Classifier
	closeCreated := func() {
		for _, c := range created {
			_ = c.Close()
		}
	}
	for _, mc := range models {
		c, err := reg.CreateClassifier(mc, numLabels)
		if err != nil {
			closeCreated()
			return nil, fmt.Errorf("app: create classifier %q (%s): %w", mc.Name, mc.Path, err)
		}
		created = append(created, c)
		slog.Info("app: provider created", "kind", "model", "name", mc.Name, "path", mc.Path)
	}

	cb := cfg.Model.CircuitBreaker
	fb := resilience.NewClassifierFallback(created[0], breakerName(0, cfg.Model), resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cb.MaxFailures,
			ResetTimeout: cb.ResetTimeout,
			HalfOpenMax:  cb.HalfOpenMax,
			Clock:        clk,
			OnStateChange: func(name string, from, to resilience.State) {
				if m != nil {
					m.RecordBreakerTransition(context.Background(), name, to.String())
				}
				slog.Warn("app: classifier breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
			},
		},
	})
	for i, c := range created[1:] {
		fb.AddFallback(breakerName(i+1, cfg.Model.Fallbacks[i]), c)
	}

	return &Providers{Audio: src, Classifier: fb}, nil
}

// breakerName identifies model i of the chain in logs and metrics.
func breakerName(i int, m config.ModelConfig) string {
	return fmt.Sprintf("%s[%d]", m.Name, i)
}
