// Package classifier defines the Classifier interface for keyword-spotting
// model backends.
//
// A classifier maps a spectrogram (the most recent frames produced by the
// windower, oldest first) to one score per label. Scores are expected to be
// probabilities in [0, 1] ordered exactly like the label list the detector
// was configured with: command labels first, then the non-command labels.
//
// Implementations must be safe for concurrent use.
package classifier

import (
	"context"

	"github.com/MrWong99/hearken/pkg/feature"
)

// Classifier is the abstraction over any trained keyword-spotting model.
type Classifier interface {
	// Infer scores the spectrogram. frames must not be modified and must not
	// be retained after Infer returns. The returned slice belongs to the
	// caller.
	Infer(ctx context.Context, frames []feature.Frame) ([]float32, error)

	// Close releases model resources. Calling Close more than once is safe.
	Close() error
}
