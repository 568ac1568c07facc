package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/hearken/pkg/feature"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
)

// ClassifierFallback implements [classifier.Classifier] with a circuit breaker
// per model and automatic failover. With a single entry it is a plain
// circuit-breaker guard.
type ClassifierFallback struct {
	group *FallbackGroup[classifier.Classifier]
}

// Compile-time interface assertion.
var _ classifier.Classifier = (*ClassifierFallback)(nil)

// NewClassifierFallback creates a [ClassifierFallback] with primary as the
// preferred model.
func NewClassifierFallback(primary classifier.Classifier, primaryName string, cfg FallbackConfig) *ClassifierFallback {
	return &ClassifierFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional model. Its score vector must use the
// same label order as the primary.
func (f *ClassifierFallback) AddFallback(name string, c classifier.Classifier) {
	f.group.AddFallback(name, c)
}

// Infer scores frames with the first healthy model.
func (f *ClassifierFallback) Infer(ctx context.Context, frames []feature.Frame) ([]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(c classifier.Classifier) ([]float32, error) {
		return c.Infer(ctx, frames)
	})
}

// Close closes every model and joins their errors.
func (f *ClassifierFallback) Close() error {
	var errs []error
	f.group.Each(func(_ string, c classifier.Classifier) {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// BreakerStates reports the state of each model's breaker, keyed by name.
func (f *ClassifierFallback) BreakerStates() map[string]State {
	out := make(map[string]State)
	for _, name := range f.group.Names() {
		out[name] = f.group.Breaker(name).State()
	}
	return out
}
