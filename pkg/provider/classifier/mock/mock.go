// Package mock provides a test double for [classifier.Classifier].
//
// Scores are served from a queue so that tests can script a sequence of
// predictions:
//
//	c := &mock.Classifier{Scores: [][]float32{{0.9, 0.05, 0.05}, {0.1, 0.8, 0.1}}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hearken/pkg/feature"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
)

// Ensure Classifier implements classifier.Classifier at compile time.
var _ classifier.Classifier = (*Classifier)(nil)

// InferCall records a single invocation of Classifier.Infer.
type InferCall struct {
	// Frames is a deep copy of the spectrogram passed to Infer.
	Frames []feature.Frame
}

// Classifier is a mock implementation of classifier.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Scores is consumed front to back, one entry per Infer call. When only
	// one entry remains it is returned repeatedly.
	Scores [][]float32

	// InferErr, if non-nil, is returned by Infer.
	InferErr error

	// Hook, if set, runs inside Infer before scores are returned; it lets
	// tests block or observe concurrency. A non-nil return is used as the
	// error.
	Hook func(ctx context.Context) error

	// InferCalls records every call to Infer.
	InferCalls []InferCall

	// CloseCount records how many times Close was called.
	CloseCount int
}

// Infer implements [classifier.Classifier].
func (c *Classifier) Infer(ctx context.Context, frames []feature.Frame) ([]float32, error) {
	c.mu.Lock()
	cp := make([]feature.Frame, len(frames))
	for i, f := range frames {
		cp[i] = append(feature.Frame(nil), f...)
	}
	c.InferCalls = append(c.InferCalls, InferCall{Frames: cp})
	hook := c.Hook
	c.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.InferErr != nil {
		return nil, c.InferErr
	}
	if len(c.Scores) == 0 {
		return nil, nil
	}
	next := c.Scores[0]
	if len(c.Scores) > 1 {
		c.Scores = c.Scores[1:]
	}
	return append([]float32(nil), next...), nil
}

// Close implements [classifier.Classifier].
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCount++
	return nil
}

// Calls returns the number of Infer calls so far.
func (c *Classifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.InferCalls)
}

// Reset clears all recorded calls.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.InferCalls = nil
	c.CloseCount = 0
}
