// Package detector turns noisy per-spectrogram classifier scores into
// discrete, rate-limited detection decisions.
//
// Every ready spectrogram is scored by the classifier and appended to a
// trailing prediction history. Predictions older than the smoothing window
// are pruned, the rest are averaged per label and the best label is
// considered for emission. A label is emitted when its average exceeds the
// threshold, differs from the last emitted label and the suppression
// interval has elapsed since the last emission. Emitting the silence label
// lifts suppression for whatever comes next.
package detector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/hearken/internal/clock"
	"github.com/MrWong99/hearken/internal/ringbuf"
	"github.com/MrWong99/hearken/pkg/feature"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
)

// Built-in non-command labels, always appended after the command labels.
const (
	SilenceLabel = "_silence_"
	UnknownLabel = "_unknown_"
)

// Defaults used when the corresponding Config field is zero.
const (
	DefaultThreshold          = 0.7
	DefaultSuppression        = 500 * time.Millisecond
	DefaultSmoothingWindow    = time.Second
	DefaultMinSamples         = 3
	DefaultMinElapsedFraction = 0.25
)

// initialHistory is the starting prediction ring capacity; the ring grows
// when a smoothing window holds more predictions.
const initialHistory = 16

// ErrScoreShape reports a score vector whose length differs from the label
// count.
var ErrScoreShape = errors.New("detector: score vector length does not match labels")

// ErrNonFiniteScore reports a score vector holding NaN or an infinity.
var ErrNonFiniteScore = errors.New("detector: score vector contains non-finite values")

// InferenceError reports that scoring a spectrogram failed. Err is the
// classifier's error or wraps [ErrScoreShape] or [ErrNonFiniteScore].
type InferenceError struct {
	Err error
}

// Error implements error.
func (e *InferenceError) Error() string {
	return fmt.Sprintf("detector: inference: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *InferenceError) Unwrap() error { return e.Err }

// Labels returns the full label list for the given command labels: the
// commands followed by [SilenceLabel] and [UnknownLabel].
func Labels(commands []string) []string {
	out := make([]string, 0, len(commands)+2)
	out = append(out, commands...)
	return append(out, SilenceLabel, UnknownLabel)
}

// ─── Decisions ──────────────────────────────────────────────────────────────

// Kind classifies a [Decision].
type Kind int

const (
	// KindNone means nothing was emitted.
	KindNone Kind = iota

	// KindCommand is a detected command label.
	KindCommand

	// KindSilence is an emitted silence label.
	KindSilence

	// KindOther is an emitted non-command label other than silence. It
	// updates bookkeeping but is not a command.
	KindOther
)

// String returns the lower-case name of k.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindCommand:
		return "command"
	case KindSilence:
		return "silence"
	case KindOther:
		return "other"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Decision is the outcome of one ready signal.
type Decision struct {
	Kind Kind

	// Label and Score are the emitted label and its smoothed score. Both are
	// zero for KindNone.
	Label string
	Score float32

	// Time is when the decision was made.
	Time time.Time

	// Predictions is the number of predictions that were averaged.
	Predictions int
}

// Emitted reports whether d carries an event.
func (d Decision) Emitted() bool { return d.Kind != KindNone }

// State is the detector bookkeeping.
type State struct {
	// LastLabel is the most recently emitted label; empty before the first
	// emission.
	LastLabel string

	// LastTime is when LastLabel was emitted; zero before the first emission.
	LastTime time.Time

	// HistoryLen is the number of predictions currently held.
	HistoryLen int
}

// ─── Engine ─────────────────────────────────────────────────────────────────

// Config holds the decision parameters. See [New] for defaults.
type Config struct {
	// Labels is the full label list, ordered like the classifier's scores.
	// Use [Labels] to build it from command labels.
	Labels []string

	// SilenceLabel is the label that lifts suppression. Default
	// [SilenceLabel].
	SilenceLabel string

	// NonCommands lists labels that are not commands. Default
	// {SilenceLabel, UnknownLabel}.
	NonCommands []string

	// Threshold is the minimum smoothed score, in (0, 1].
	Threshold float64

	// Suppression is the minimum time between emissions.
	Suppression time.Duration

	// SmoothingWindow is the trailing span of predictions averaged per
	// decision.
	SmoothingWindow time.Duration

	// MinSamples is the minimum number of predictions required to decide.
	MinSamples int

	// MinElapsedFraction is the fraction of SmoothingWindow the history must
	// span before deciding.
	MinElapsedFraction float64
}

type prediction struct {
	at     time.Time
	scores []float32
}

// Engine is the decision state machine.
//
// Engine is safe for concurrent use. OnReady calls are serialised; at most
// one inference runs at a time.
type Engine struct {
	cfg        Config
	classifier classifier.Classifier
	clock      clock.Clock
	nonCommand map[string]bool

	inferMu sync.Mutex

	mu          sync.Mutex
	threshold   float64
	suppression time.Duration
	history     *ringbuf.Ring[prediction]
	sums        []float64
	lastLabel   string
	lastTime    time.Time
	fired       bool
}

// Option configures an [Engine].
type Option func(*Engine)

// WithClock replaces the wall clock used for prediction timestamps.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New validates cfg and returns an Engine scoring with c.
//
// Zero values select defaults for SilenceLabel, NonCommands, Threshold,
// SmoothingWindow and MinSamples. Suppression and MinElapsedFraction are
// used as given, so zero disables them.
func New(cfg Config, c classifier.Classifier, opts ...Option) (*Engine, error) {
	if c == nil {
		return nil, errors.New("detector: classifier is required")
	}
	if cfg.SilenceLabel == "" {
		cfg.SilenceLabel = SilenceLabel
	}
	if cfg.NonCommands == nil {
		cfg.NonCommands = []string{SilenceLabel, UnknownLabel}
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.SmoothingWindow == 0 {
		cfg.SmoothingWindow = DefaultSmoothingWindow
	}
	if cfg.MinSamples == 0 {
		cfg.MinSamples = DefaultMinSamples
	}

	var errs []error
	if len(cfg.Labels) == 0 {
		errs = append(errs, errors.New("labels must not be empty"))
	}
	if !slices.Contains(cfg.Labels, cfg.SilenceLabel) {
		errs = append(errs, fmt.Errorf("silence label %q is not among the labels", cfg.SilenceLabel))
	}
	seen := make(map[string]bool, len(cfg.Labels))
	for _, l := range cfg.Labels {
		if seen[l] {
			errs = append(errs, fmt.Errorf("duplicate label %q", l))
		}
		seen[l] = true
	}
	if err := validThreshold(cfg.Threshold); err != nil {
		errs = append(errs, err)
	}
	if cfg.Suppression < 0 {
		errs = append(errs, fmt.Errorf("suppression must not be negative, got %s", cfg.Suppression))
	}
	if cfg.SmoothingWindow < 0 {
		errs = append(errs, fmt.Errorf("smoothing window must be positive, got %s", cfg.SmoothingWindow))
	}
	if cfg.MinSamples < 0 {
		errs = append(errs, fmt.Errorf("min samples must not be negative, got %d", cfg.MinSamples))
	}
	if cfg.MinElapsedFraction < 0 || cfg.MinElapsedFraction > 1 {
		errs = append(errs, fmt.Errorf("min elapsed fraction must be in [0, 1], got %g", cfg.MinElapsedFraction))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}

	e := &Engine{
		cfg:         cfg,
		classifier:  c,
		clock:       clock.Real{},
		nonCommand:  make(map[string]bool, len(cfg.NonCommands)),
		threshold:   cfg.Threshold,
		suppression: cfg.Suppression,
		history:     ringbuf.New[prediction](initialHistory),
		sums:        make([]float64, len(cfg.Labels)),
	}
	for _, l := range cfg.NonCommands {
		e.nonCommand[l] = true
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func validThreshold(t float64) error {
	if t <= 0 || t > 1 {
		return fmt.Errorf("threshold must be in (0, 1], got %g", t)
	}
	return nil
}

// Labels returns a copy of the full label list.
func (e *Engine) Labels() []string { return slices.Clone(e.cfg.Labels) }

// Commands returns the labels that are commands, in label order.
func (e *Engine) Commands() []string {
	out := make([]string, 0, len(e.cfg.Labels))
	for _, l := range e.cfg.Labels {
		if !e.nonCommand[l] {
			out = append(out, l)
		}
	}
	return out
}

// OnReady scores snapshot and runs one decision cycle. Classifier failures,
// wrong-length score vectors and non-finite scores return an
// *[InferenceError] and leave the history untouched.
func (e *Engine) OnReady(ctx context.Context, snapshot []feature.Frame) (Decision, error) {
	e.inferMu.Lock()
	defer e.inferMu.Unlock()

	scores, err := e.classifier.Infer(ctx, snapshot)
	if err != nil {
		return Decision{}, &InferenceError{Err: err}
	}
	if len(scores) != len(e.cfg.Labels) {
		return Decision{}, &InferenceError{
			Err: fmt.Errorf("%w: got %d scores for %d labels", ErrScoreShape, len(scores), len(e.cfg.Labels)),
		}
	}
	for i, s := range scores {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return Decision{}, &InferenceError{
				Err: fmt.Errorf("%w: %q scored %v", ErrNonFiniteScore, e.cfg.Labels[i], s),
			}
		}
	}
	return e.decide(e.clock.Now(), scores), nil
}

// decide appends a prediction taken at now and applies the emission rule.
func (e *Engine) decide(now time.Time, scores []float32) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Keep the history time-ordered even if the clock steps backwards.
	if last, ok := e.history.Back(); ok && now.Before(last.at) {
		now = last.at
	}
	if e.history.Full() {
		e.history.Grow(2 * e.history.Cap())
	}
	e.history.Push(prediction{at: now, scores: scores})

	limit := now.Add(-e.cfg.SmoothingWindow)
	for {
		first, _ := e.history.Front()
		if !first.at.Before(limit) {
			break
		}
		e.history.DropFront(1)
	}

	count := e.history.Len()
	first, _ := e.history.Front()
	minElapsed := time.Duration(e.cfg.MinElapsedFraction * float64(e.cfg.SmoothingWindow))
	if count < e.cfg.MinSamples || now.Sub(first.at) < minElapsed {
		return Decision{Kind: KindNone, Time: now, Predictions: count}
	}

	clear(e.sums)
	for i := range count {
		for j, s := range e.history.At(i).scores {
			e.sums[j] += float64(s)
		}
	}
	top := 0
	for j := 1; j < len(e.sums); j++ {
		if e.sums[j] > e.sums[top] {
			top = j
		}
	}
	avg := e.sums[top] / float64(count)
	label := e.cfg.Labels[top]

	sinceLast := time.Duration(1<<63 - 1)
	if e.fired && e.lastLabel != e.cfg.SilenceLabel {
		sinceLast = now.Sub(e.lastTime)
	}
	if !(avg > e.threshold) || label == e.lastLabel || sinceLast <= e.suppression {
		return Decision{Kind: KindNone, Time: now, Predictions: count}
	}

	e.lastLabel = label
	e.lastTime = now
	e.fired = true

	kind := KindCommand
	switch {
	case label == e.cfg.SilenceLabel:
		kind = KindSilence
	case e.nonCommand[label]:
		kind = KindOther
	}
	return Decision{Kind: kind, Label: label, Score: float32(avg), Time: now, Predictions: count}
}

// SetThreshold replaces the emission threshold.
func (e *Engine) SetThreshold(t float64) error {
	if err := validThreshold(t); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.threshold = t
	return nil
}

// SetSuppression replaces the suppression interval.
func (e *Engine) SetSuppression(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("detector: suppression must not be negative, got %s", d)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.suppression = d
	return nil
}

// Threshold returns the current emission threshold.
func (e *Engine) Threshold() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threshold
}

// Suppression returns the current suppression interval.
func (e *Engine) Suppression() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suppression
}

// State returns the current bookkeeping.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{LastLabel: e.lastLabel, LastTime: e.lastTime, HistoryLen: e.history.Len()}
}

// Reset clears the prediction history and the last-emission bookkeeping.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history.Reset()
	e.lastLabel = ""
	e.lastTime = time.Time{}
	e.fired = false
}
