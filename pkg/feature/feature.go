// Package feature defines the spectral transform contract used by the
// windower: one window of analysis-rate samples in, one feature frame out.
//
// Implementations live in sub-packages (feature/mel). This package lives
// under pkg/ so that alternative front-ends can be plugged in without
// touching the recognizer.
package feature

// Frame is one column of the spectrogram: mel energies or cepstral
// coefficients. Frames are never mutated after the transform returns them.
type Frame []float32

// Transform converts a window of samples into a [Frame].
//
// Implementations must be safe for concurrent use and must return frames of
// exactly Dim() values.
type Transform interface {
	// Transform computes the frame for window. The slice is only valid for
	// the duration of the call.
	Transform(window []float32) (Frame, error)

	// Dim is the fixed number of values in every returned Frame.
	Dim() int
}

// Flatten copies frames, oldest first, into a single row-major slice of
// len(frames)*dim values. It returns the slice and the per-frame dimension.
// Frames shorter than the first one are zero-padded.
func Flatten(frames []Frame) ([]float32, int) {
	if len(frames) == 0 {
		return nil, 0
	}
	dim := len(frames[0])
	out := make([]float32, len(frames)*dim)
	for i, f := range frames {
		copy(out[i*dim:(i+1)*dim], f)
	}
	return out, dim
}
