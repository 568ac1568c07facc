//go:build cgo

package onnx

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/hearken/pkg/feature"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
	ort "github.com/yalue/onnxruntime_go"
)

// Ensure Classifier implements classifier.Classifier at compile time.
var _ classifier.Classifier = (*Classifier)(nil)

// envMu guards the process-wide ONNX Runtime environment.
var envMu sync.Mutex

// Classifier runs a keyword-spotting model through ONNX Runtime.
//
// Classifier is safe for concurrent use.
type Classifier struct {
	cfg     Config
	session *ort.DynamicAdvancedSession

	closeOnce sync.Once
	closeErr  error
}

// New initialises the ONNX Runtime environment (once per process) and loads
// the model at cfg.ModelPath.
func New(cfg Config) (*Classifier, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}

	envMu.Lock()
	if !ort.IsInitialized() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			envMu.Unlock()
			return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
		}
	}
	envMu.Unlock()

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		nil, // default session options
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}
	return &Classifier{cfg: cfg, session: session}, nil
}

// Infer implements [classifier.Classifier]. ONNX Runtime calls cannot be
// interrupted; ctx is checked before the run starts.
func (c *Classifier) Infer(ctx context.Context, frames []feature.Frame) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("onnx: infer: %w", err)
	}
	data, dim := feature.Flatten(frames)
	if len(data) == 0 {
		return nil, fmt.Errorf("onnx: infer: empty spectrogram")
	}

	input, err := ort.NewTensor(ort.NewShape(inputShape(c.cfg.Layout, len(frames), dim)...), data)
	if err != nil {
		return nil, fmt.Errorf("onnx: create input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(c.cfg.NumLabels)))
	if err != nil {
		return nil, fmt.Errorf("onnx: create output tensor: %w", err)
	}
	defer output.Destroy()

	if err := c.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("onnx: run: %w", err)
	}
	return append([]float32(nil), output.GetData()...), nil
}

// Close implements [classifier.Classifier]. The process-wide runtime
// environment stays initialised for other sessions.
func (c *Classifier) Close() error {
	c.closeOnce.Do(func() {
		if err := c.session.Destroy(); err != nil {
			c.closeErr = fmt.Errorf("onnx: destroy session: %w", err)
		}
	})
	return c.closeErr
}
