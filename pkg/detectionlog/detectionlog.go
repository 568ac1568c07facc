// Package detectionlog defines the persistent record of emitted detections.
//
// Every published decision can be stored as an [Entry] together with a
// fingerprint of the spectrogram that triggered it: the per-band mean over
// all frames. Fingerprints make it possible to look up past detections whose
// audio looked similar, which helps when tuning thresholds or hunting false
// positives.
//
// The [Store] interface is public so that alternative backends can be
// supplied. Every implementation must be safe for concurrent use.
package detectionlog

import (
	"context"
	"time"

	"github.com/MrWong99/hearken/pkg/feature"
)

// Entry is one stored detection.
type Entry struct {
	// ID is the event ID assigned when the decision was published.
	ID string

	// Kind is "command", "silence" or "other".
	Kind string

	Label string
	Score float32

	// Source names the capture source the audio came from.
	Source string

	// DetectedAt is when the detector made the decision.
	DetectedAt time.Time

	// Fingerprint is the per-band mean of the triggering spectrogram. It may
	// be nil.
	Fingerprint []float32
}

// Filter narrows [Store.Recent]. All non-zero fields are applied as AND
// conditions.
type Filter struct {
	// Label restricts results to one label.
	Label string

	// Kind restricts results to one decision kind.
	Kind string

	// After filters entries detected after this instant (exclusive).
	After time.Time

	// Before filters entries detected before this instant (exclusive).
	Before time.Time
}

// Match is a [Store.Similar] result.
type Match struct {
	Entry

	// Distance is the cosine distance between the query and the entry's
	// fingerprint. Lower means more similar.
	Distance float64
}

// Store persists detections.
type Store interface {
	// Record stores e. Recording an ID that already exists is a no-op.
	Record(ctx context.Context, e Entry) error

	// Recent returns up to limit entries matching f, newest first. A limit
	// <= 0 lets the implementation apply its own default.
	Recent(ctx context.Context, limit int, f Filter) ([]Entry, error)

	// Similar returns the topK entries whose fingerprints are closest to
	// fingerprint, most similar first. Entries without a fingerprint are
	// never returned.
	Similar(ctx context.Context, fingerprint []float32, topK int) ([]Match, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
}

// Fingerprint returns the per-band mean of frames. Frames whose length
// differs from the first frame are skipped. It returns nil for an empty
// snapshot.
func Fingerprint(frames []feature.Frame) []float32 {
	if len(frames) == 0 || len(frames[0]) == 0 {
		return nil
	}
	dim := len(frames[0])
	sum := make([]float64, dim)
	n := 0
	for _, f := range frames {
		if len(f) != dim {
			continue
		}
		for i, v := range f {
			sum[i] += float64(v)
		}
		n++
	}
	out := make([]float32, dim)
	for i, s := range sum {
		out[i] = float32(s / float64(n))
	}
	return out
}
