// Package windower turns an irregular stream of audio chunks into a bounded
// spectrogram on a fixed hop cadence.
//
// Ingested chunks are downmixed and resampled to the analysis rate and
// written into a ring of recent samples. Every [Windower.Tick] reads the
// newest WindowLength samples, runs the feature transform and appends the
// frame to the spectrogram. When the spectrogram reaches FrameHistoryLength
// frames, Tick returns a snapshot (the "ready" signal) and evicts the oldest
// RetainEvict frames, so consecutive snapshots overlap.
package windower

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/hearken/internal/ringbuf"
	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/feature"
)

// Defaults used when the corresponding Config field is zero.
const (
	DefaultRetainEvict       = 15
	DefaultMinBufferCapacity = 2048
)

// TransformError reports that the feature transform failed for one tick.
// The spectrogram is left unchanged.
type TransformError struct {
	Err error
}

// Error implements error.
func (e *TransformError) Error() string {
	return fmt.Sprintf("windower: transform: %v", e.Err)
}

// Unwrap returns the transform's error.
func (e *TransformError) Unwrap() error { return e.Err }

// Config holds the windowing parameters. See [New] for defaults and
// validation rules.
type Config struct {
	// SampleRate is the analysis rate in Hz. Chunks at other rates are
	// resampled on ingestion.
	SampleRate int

	// WindowLength is the number of samples per analysis window.
	WindowLength int

	// HopLength is the number of samples between consecutive windows. It must
	// not exceed WindowLength.
	HopLength int

	// FrameHistoryLength is the spectrogram length that triggers a ready
	// signal. Zero derives it from Duration.
	FrameHistoryLength int

	// Duration is the span of audio covered by one full spectrogram.
	Duration time.Duration

	// RetainEvict is the number of oldest frames evicted after each ready
	// signal. Zero selects DefaultRetainEvict, clamped to FrameHistoryLength.
	RetainEvict int

	// BufferCapacity is the sample ring capacity. Zero selects
	// max(2*WindowLength, DefaultMinBufferCapacity).
	BufferCapacity int
}

// FramesFor returns how many hops of hopLength fit a window of windowLength
// in duration at sampleRate: floor((duration*sampleRate - window)/hop) + 1.
func FramesFor(duration time.Duration, sampleRate, windowLength, hopLength int) int {
	if hopLength <= 0 {
		return 0
	}
	total := int(math.Round(duration.Seconds() * float64(sampleRate)))
	if total < windowLength {
		return 0
	}
	return (total-windowLength)/hopLength + 1
}

// normalize applies defaults and validates c, returning all problems joined.
func (c Config) normalize() (Config, error) {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", c.SampleRate))
	}
	if c.WindowLength <= 0 {
		errs = append(errs, fmt.Errorf("window length must be positive, got %d", c.WindowLength))
	}
	if c.HopLength <= 0 {
		errs = append(errs, fmt.Errorf("hop length must be positive, got %d", c.HopLength))
	} else if c.HopLength > c.WindowLength {
		errs = append(errs, fmt.Errorf("hop length %d exceeds window length %d", c.HopLength, c.WindowLength))
	}
	if err := errors.Join(errs...); err != nil {
		return c, err
	}

	derived := 0
	if c.Duration > 0 {
		derived = FramesFor(c.Duration, c.SampleRate, c.WindowLength, c.HopLength)
	}
	switch {
	case c.FrameHistoryLength == 0 && derived == 0:
		errs = append(errs, errors.New("either frame history length or a duration of at least one window is required"))
	case c.FrameHistoryLength == 0:
		c.FrameHistoryLength = derived
	case c.FrameHistoryLength < 0:
		errs = append(errs, fmt.Errorf("frame history length must be positive, got %d", c.FrameHistoryLength))
	case derived != 0 && (c.FrameHistoryLength < derived-1 || c.FrameHistoryLength > derived+1):
		errs = append(errs, fmt.Errorf("frame history length %d disagrees with duration %s (%d frames)",
			c.FrameHistoryLength, c.Duration, derived))
	}

	if c.RetainEvict == 0 {
		c.RetainEvict = min(DefaultRetainEvict, max(c.FrameHistoryLength, 1))
	}
	if c.FrameHistoryLength > 0 && (c.RetainEvict < 1 || c.RetainEvict > c.FrameHistoryLength) {
		errs = append(errs, fmt.Errorf("retain/evict %d out of range [1, %d]", c.RetainEvict, c.FrameHistoryLength))
	}

	if c.BufferCapacity == 0 {
		c.BufferCapacity = max(2*c.WindowLength, DefaultMinBufferCapacity)
	}
	if c.BufferCapacity < c.WindowLength {
		errs = append(errs, fmt.Errorf("buffer capacity %d smaller than window length %d", c.BufferCapacity, c.WindowLength))
	}
	return c, errors.Join(errs...)
}

// Stats is a point-in-time view of the windower counters.
type Stats struct {
	// SamplesIngested counts analysis-rate samples written since creation or
	// the last Reset.
	SamplesIngested uint64

	// FramesProduced counts successful transforms.
	FramesProduced uint64

	// ReadyCount counts ready signals.
	ReadyCount uint64

	// SkippedTicks counts ticks that found fewer than WindowLength samples.
	SkippedTicks uint64

	// TransformErrors counts failed transforms.
	TransformErrors uint64

	// SpectrogramLength is the current number of frames held.
	SpectrogramLength int
}

// Windower buffers samples and produces spectrogram snapshots.
//
// Windower is safe for concurrent use; Ingest and Tick are serialised by an
// internal mutex.
type Windower struct {
	cfg       Config
	transform feature.Transform

	mu      sync.Mutex
	conv    audio.Converter
	samples *ringbuf.Ring[float32]
	spectro *ringbuf.Ring[feature.Frame]
	window  []float32
	stats   Stats
}

// New validates cfg, applies defaults and returns a Windower feeding t.
func New(cfg Config, t feature.Transform) (*Windower, error) {
	if t == nil {
		return nil, errors.New("windower: transform is required")
	}
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, fmt.Errorf("windower: %w", err)
	}
	return &Windower{
		cfg:       cfg,
		transform: t,
		conv:      audio.Converter{TargetRate: cfg.SampleRate},
		samples:   ringbuf.New[float32](cfg.BufferCapacity),
		spectro:   ringbuf.New[feature.Frame](cfg.FrameHistoryLength),
		window:    make([]float32, cfg.WindowLength),
	}, nil
}

// Config returns the effective configuration after defaults.
func (w *Windower) Config() Config { return w.cfg }

// HopInterval is the wall-clock time between ticks.
func (w *Windower) HopInterval() time.Duration {
	return time.Duration(w.cfg.HopLength) * time.Second / time.Duration(w.cfg.SampleRate)
}

// Ingest converts chunk to the analysis format and appends it to the sample
// ring, overwriting the oldest samples when full. Empty chunks are ignored.
func (w *Windower) Ingest(chunk audio.SampleChunk) {
	if len(chunk.Samples) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	mono := w.conv.Convert(chunk)
	w.samples.Write(mono.Samples)
	w.stats.SamplesIngested += uint64(len(mono.Samples))
}

// Tick produces one frame from the newest WindowLength samples.
//
// It returns (nil, nil) when fewer than WindowLength samples have been
// ingested or when the spectrogram is not yet full. When the spectrogram
// reaches FrameHistoryLength it returns the frames oldest first and then
// evicts the oldest RetainEvict. The returned slice is owned by the caller.
// A transform failure returns a *[TransformError].
func (w *Windower) Tick(ctx context.Context) ([]feature.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("windower: tick: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.samples.Len() < w.cfg.WindowLength {
		w.stats.SkippedTicks++
		slog.Debug("windower: not primed, skipping tick",
			"have", w.samples.Len(), "need", w.cfg.WindowLength)
		return nil, nil
	}

	w.samples.Tail(w.window)
	frame, err := w.transform.Transform(w.window)
	if err != nil {
		w.stats.TransformErrors++
		return nil, &TransformError{Err: err}
	}
	w.spectro.Push(frame)
	w.stats.FramesProduced++

	if w.spectro.Len() < w.cfg.FrameHistoryLength {
		return nil, nil
	}
	snapshot := w.spectro.Snapshot()
	w.spectro.DropFront(w.cfg.RetainEvict)
	w.stats.ReadyCount++
	return snapshot, nil
}

// Stats returns the current counters.
func (w *Windower) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.SpectrogramLength = w.spectro.Len()
	return s
}

// Reset discards buffered samples, the spectrogram, resampler state and all
// counters.
func (w *Windower) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples.Reset()
	w.spectro.Reset()
	w.conv.Reset()
	w.stats = Stats{}
}
