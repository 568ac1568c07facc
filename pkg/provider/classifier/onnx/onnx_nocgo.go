//go:build !cgo

package onnx

import (
	"context"
	"fmt"

	"github.com/MrWong99/hearken/pkg/feature"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
)

// Ensure Classifier implements classifier.Classifier at compile time.
var _ classifier.Classifier = (*Classifier)(nil)

// Classifier is the stub used in builds without cgo. It cannot be
// constructed.
type Classifier struct{}

// New validates cfg and then returns [ErrUnavailable].
func New(cfg Config) (*Classifier, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}
	return nil, ErrUnavailable
}

// Infer implements [classifier.Classifier].
func (*Classifier) Infer(context.Context, []feature.Frame) ([]float32, error) {
	return nil, ErrUnavailable
}

// Close implements [classifier.Classifier].
func (*Classifier) Close() error { return nil }
