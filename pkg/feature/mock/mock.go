// Package mock provides a configurable [feature.Transform] for unit tests.
package mock

import (
	"sync"

	"github.com/MrWong99/hearken/pkg/feature"
)

// Ensure Transform implements feature.Transform at compile time.
var _ feature.Transform = (*Transform)(nil)

// Transform is a mock [feature.Transform]. By default it returns a frame of
// Dimension values, each set to the window's last sample, so tests can tell
// which samples a frame was computed from.
type Transform struct {
	mu sync.Mutex

	// Dimension is returned by Dim. Zero means 1.
	Dimension int

	// Err, if non-nil, is returned by Transform.
	Err error

	// FailOn, if set, is consulted per call (1-based); a non-nil return is
	// used as the error for that call.
	FailOn func(call int) error

	// Windows records a copy of every window passed to Transform.
	Windows [][]float32

	// CallCount records how many times Transform was called.
	CallCount int
}

// Transform implements [feature.Transform].
func (t *Transform) Transform(window []float32) (feature.Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCount++
	t.Windows = append(t.Windows, append([]float32(nil), window...))
	if t.Err != nil {
		return nil, t.Err
	}
	if t.FailOn != nil {
		if err := t.FailOn(t.CallCount); err != nil {
			return nil, err
		}
	}
	frame := make(feature.Frame, t.dim())
	if len(window) > 0 {
		for i := range frame {
			frame[i] = window[len(window)-1]
		}
	}
	return frame, nil
}

// Dim implements [feature.Transform].
func (t *Transform) Dim() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dim()
}

func (t *Transform) dim() int {
	return max(t.Dimension, 1)
}

// Calls returns the number of Transform calls so far.
func (t *Transform) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CallCount
}
