// Package onnx provides a [classifier.Classifier] backed by ONNX Runtime via
// github.com/yalue/onnxruntime_go.
//
// The spectrogram is flattened row-major (time-major, then feature) and fed
// to a single float32 input; a single float32 output holding one score per
// label is read back. The ONNX Runtime shared library must be installed;
// builds without cgo compile a stub whose constructor returns
// [ErrUnavailable].
//
// Example usage:
//
//	c, err := onnx.New(onnx.Config{ModelPath: "speech_commands.onnx", NumLabels: 20})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//	scores, err := c.Infer(ctx, frames)
package onnx

import (
	"errors"
	"fmt"
	"os"
	"runtime"
)

// ErrUnavailable is returned by [New] in builds without ONNX Runtime support.
var ErrUnavailable = errors.New("onnx: ONNX Runtime support not compiled in (build with cgo)")

// Input layouts for the spectrogram tensor. T is the frame count, D the
// frame dimension.
const (
	LayoutNTDC = "ntdc" // [1, T, D, 1]
	LayoutTDC  = "tdc"  // [T, D, 1]
	LayoutNTD  = "ntd"  // [1, T, D]
)

// Config holds the model parameters.
type Config struct {
	// ModelPath is the path to the .onnx file. Required.
	ModelPath string

	// LibraryPath overrides the ONNX Runtime shared library location. Empty
	// selects a per-OS default.
	LibraryPath string

	// InputName and OutputName are the graph tensor names. Defaults:
	// "input" and "output".
	InputName  string
	OutputName string

	// Layout selects the input tensor shape. Default [LayoutNTDC].
	Layout string

	// NumLabels is the length of the score vector. Required.
	NumLabels int
}

func (c *Config) applyDefaults() {
	if c.InputName == "" {
		c.InputName = "input"
	}
	if c.OutputName == "" {
		c.OutputName = "output"
	}
	if c.Layout == "" {
		c.Layout = LayoutNTDC
	}
	if c.LibraryPath == "" {
		c.LibraryPath = defaultLibraryPath()
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.ModelPath == "" {
		errs = append(errs, errors.New("model_path is required"))
	} else if _, err := os.Stat(c.ModelPath); err != nil {
		errs = append(errs, fmt.Errorf("model_path: %w", err))
	}
	if c.NumLabels <= 0 {
		errs = append(errs, fmt.Errorf("num_labels must be positive, got %d", c.NumLabels))
	}
	switch c.Layout {
	case LayoutNTDC, LayoutTDC, LayoutNTD:
	default:
		errs = append(errs, fmt.Errorf("unknown layout %q", c.Layout))
	}
	return errors.Join(errs...)
}

// inputShape returns the tensor shape for times frames of dim values.
func inputShape(layout string, times, dim int) []int64 {
	t, d := int64(times), int64(dim)
	switch layout {
	case LayoutTDC:
		return []int64{t, d, 1}
	case LayoutNTD:
		return []int64{1, t, d}
	default:
		return []int64{1, t, d, 1}
	}
}

func defaultLibraryPath() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "linux":
		return "/usr/lib/libonnxruntime.so"
	case "windows":
		return "onnxruntime.dll"
	}
	return ""
}
