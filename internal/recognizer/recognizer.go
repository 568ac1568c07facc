// Package recognizer runs the live command recognition loop.
//
// A running [Recognizer] owns three goroutines:
//
//   - ingest reads chunks from the capture stream into the windower.
//   - tick fires every hop interval, produces one spectral frame and hands
//     ready spectrograms to the decision worker.
//   - decide runs the detector on the latest ready spectrogram. At most one
//     decision is in flight; a newer spectrogram replaces a queued one.
//
// The capture stream is scoped to the run: it is released on Stop, on any
// startup failure and when the device goes away.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hearken/internal/clock"
	"github.com/MrWong99/hearken/internal/detector"
	"github.com/MrWong99/hearken/internal/eventstream"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/resilience"
	"github.com/MrWong99/hearken/internal/windower"
	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/feature"
)

// DefaultDriftTolerance is the lag, in hops, beyond which a tick counts as
// drifted.
const DefaultDriftTolerance = 2

var (
	// ErrRunning is returned by Start when the recognizer is already running.
	ErrRunning = errors.New("recognizer: already running")

	// ErrStreamEnded reports that the capture stream closed while the
	// recognizer was running.
	ErrStreamEnded = errors.New("recognizer: capture stream ended")
)

// Publisher fans emitted decisions out to consumers.
// [*eventstream.Broker] satisfies it.
type Publisher interface {
	Publish(d detector.Decision) (eventstream.Event, bool)
}

// PublishHook observes every published event together with the spectrogram
// that produced it. It runs on the decision worker and must not block.
type PublishHook func(ev eventstream.Event, snapshot []feature.Frame)

// Ticker starts a ticker with period d and returns its channel and a stop
// function.
type Ticker func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Option configures a [Recognizer].
type Option func(*Recognizer)

// WithPublisher sets where emitted decisions go.
func WithPublisher(p Publisher) Option {
	return func(r *Recognizer) { r.pub = p }
}

// WithPublishHook registers a hook called after every successful publish.
func WithPublishHook(h PublishHook) Option {
	return func(r *Recognizer) { r.onPublish = h }
}

// WithMetrics records tick, frame and inference metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recognizer) { r.metrics = m }
}

// WithClock sets the clock used for drift detection and the last tick time.
func WithClock(c clock.Clock) Option {
	return func(r *Recognizer) { r.clock = c }
}

// WithTicker replaces the hop ticker. Tests use it to drive ticks by hand.
func WithTicker(t Ticker) Option {
	return func(r *Recognizer) { r.newTicker = t }
}

// WithDriftTolerance sets the lag, in hops, beyond which a tick counts as
// drifted. Values < 1 are ignored.
func WithDriftTolerance(hops int) Option {
	return func(r *Recognizer) {
		if hops > 0 {
			r.driftTolerance = hops
		}
	}
}

// Recognizer connects a capture source to the windower and the detector.
// All methods are safe for concurrent use.
type Recognizer struct {
	source  audio.Source
	win     *windower.Windower
	det     *detector.Engine
	pub     Publisher
	metrics *observe.Metrics
	clock   clock.Clock

	onPublish      PublishHook
	newTicker      Ticker
	driftTolerance int

	mu      sync.Mutex
	cur     *run
	lastErr error

	lastTick   atomic.Int64 // unix nanos, 0 before the first tick
	dropped    atomic.Uint64
	driftTicks atomic.Uint64
	emitted    atomic.Uint64
}

// run is one Start..Stop lifetime.
type run struct {
	cancel context.CancelFunc
	stream audio.Stream
	done   chan struct{}
}

// New returns a stopped Recognizer.
func New(source audio.Source, win *windower.Windower, det *detector.Engine, opts ...Option) (*Recognizer, error) {
	var errs []error
	if source == nil {
		errs = append(errs, errors.New("recognizer: capture source is required"))
	}
	if win == nil {
		errs = append(errs, errors.New("recognizer: windower is required"))
	}
	if det == nil {
		errs = append(errs, errors.New("recognizer: detector is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	r := &Recognizer{
		source:         source,
		win:            win,
		det:            det,
		clock:          clock.Real{},
		newTicker:      realTicker,
		driftTolerance: DefaultDriftTolerance,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r, nil
}

// Start acquires the capture stream and starts the recognition loop. ctx
// governs acquisition only; the loop runs until [Recognizer.Stop] or until
// the capture stream ends. Acquisition failures are returned as they come
// from the source, so errors.As with *[audio.CaptureError] works.
func (r *Recognizer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != nil && !closed(r.cur.done) {
		return ErrRunning
	}

	stream, err := r.source.Open(ctx)
	if err != nil {
		return fmt.Errorf("recognizer: start: %w", err)
	}
	if err := ctx.Err(); err != nil {
		if cerr := stream.Close(); cerr != nil {
			slog.Warn("recognizer: release capture stream", "err", cerr)
		}
		return fmt.Errorf("recognizer: start: %w", err)
	}

	r.win.Reset()
	r.det.Reset()
	r.lastTick.Store(0)
	r.lastErr = nil

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cur := &run{cancel: cancel, stream: stream, done: make(chan struct{})}
	r.cur = cur

	g, gctx := errgroup.WithContext(runCtx)
	ready := make(chan []feature.Frame, 1)
	g.Go(func() error { return r.ingest(gctx, stream) })
	g.Go(func() error { return r.tickLoop(gctx, ready) })
	g.Go(func() error { return r.decide(gctx, ready) })

	go func() {
		err := g.Wait()
		cancel()
		if cerr := stream.Close(); cerr != nil {
			slog.Warn("recognizer: release capture stream", "err", cerr)
		}
		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()
		close(cur.done)
		if err != nil {
			slog.Error("recognizer: stopped", "err", err)
		}
	}()

	slog.Info("recognizer: started",
		"hop", r.win.HopInterval(),
		"labels", r.det.Labels(),
	)
	return nil
}

// Stop stops ticking, releases the capture stream and waits for all
// goroutines to exit. It is idempotent and returns nil when the recognizer
// is not running. The error of a run that ended on its own (for example
// [ErrStreamEnded]) is reported by [Recognizer.Err], not by Stop.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	cur := r.cur
	r.cur = nil
	r.mu.Unlock()
	if cur == nil {
		return nil
	}

	cur.cancel()
	err := cur.stream.Close()
	<-cur.done
	if err != nil {
		return fmt.Errorf("recognizer: stop: %w", err)
	}
	slog.Info("recognizer: stopped")
	return nil
}

// Running reports whether the recognition loop is active.
func (r *Recognizer) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur != nil && !closed(r.cur.done)
}

// Done returns a channel that is closed when the current run ends. It
// returns a closed channel when the recognizer is not running.
func (r *Recognizer) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.cur.done
}

// Err returns the error that ended the most recent run, or nil.
func (r *Recognizer) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Labels returns the full label list in classifier order.
func (r *Recognizer) Labels() []string { return r.det.Labels() }

// Commands returns the command labels.
func (r *Recognizer) Commands() []string { return r.det.Commands() }

// HopInterval is the tick period.
func (r *Recognizer) HopInterval() time.Duration { return r.win.HopInterval() }

// LastTick returns when the tick loop last fired; zero before the first tick
// of the current run.
func (r *Recognizer) LastTick() time.Time {
	ns := r.lastTick.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Stats is a snapshot of the recognizer counters.
type Stats struct {
	Windower windower.Stats

	// DecisionsDropped counts ready spectrograms replaced before the
	// decision worker picked them up.
	DecisionsDropped uint64

	// DriftTicks counts ticks that fired more than the drift tolerance late.
	DriftTicks uint64

	// Emitted counts decisions that carried an event.
	Emitted uint64
}

// Stats returns the current counters.
func (r *Recognizer) Stats() Stats {
	return Stats{
		Windower:         r.win.Stats(),
		DecisionsDropped: r.dropped.Load(),
		DriftTicks:       r.driftTicks.Load(),
		Emitted:          r.emitted.Load(),
	}
}

// ─── goroutines ─────────────────────────────────────────────────────────────

func (r *Recognizer) ingest(ctx context.Context, stream audio.Stream) error {
	chunks := stream.Chunks()
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-chunks:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				slog.Warn("recognizer: capture stream closed by device")
				return ErrStreamEnded
			}
			r.win.Ingest(c)
		}
	}
}

func (r *Recognizer) tickLoop(ctx context.Context, ready chan []feature.Frame) error {
	hop := r.win.HopInterval()
	ticks, stop := r.newTicker(hop)
	defer stop()

	tolerance := time.Duration(r.driftTolerance) * hop
	start := r.clock.Now()
	prev := r.win.Stats()
	var n int64
	drifting, failing := false, false

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
		}
		n++
		now := r.clock.Now()
		r.lastTick.Store(now.UnixNano())

		// The schedule is never re-anchored: once behind, the lag stays
		// visible until the loop catches up.
		lag := max(now.Sub(start.Add(time.Duration(n)*hop)), 0)
		drifted := lag > tolerance
		r.metrics.RecordTick(ctx, lag, drifted)
		if drifted {
			r.driftTicks.Add(1)
			if !drifting {
				slog.Warn("recognizer: tick loop behind schedule",
					"lag", lag, "tolerance", tolerance, "tick", n)
			}
		} else if drifting {
			slog.Info("recognizer: tick loop back on schedule", "tick", n)
		}
		drifting = drifted

		snapshot, err := r.win.Tick(ctx)
		cur := r.win.Stats()
		r.recordWindowing(ctx, prev, cur)
		prev = cur

		var te *windower.TransformError
		switch {
		case errors.As(err, &te):
			if !failing {
				slog.Warn("recognizer: transform failed", "err", err)
			} else {
				slog.Debug("recognizer: transform failed", "err", err)
			}
			failing = true
			continue
		case err != nil:
			// Tick only fails otherwise when ctx is done.
			return nil
		}
		if failing {
			slog.Info("recognizer: transform recovered")
			failing = false
		}
		if snapshot != nil {
			r.offer(ctx, ready, snapshot)
		}
	}
}

// offer hands snapshot to the decision worker, replacing a queued one.
func (r *Recognizer) offer(ctx context.Context, ready chan []feature.Frame, snapshot []feature.Frame) {
	for {
		select {
		case ready <- snapshot:
			return
		default:
		}
		select {
		case <-ready:
			r.dropped.Add(1)
			r.metrics.DecisionsDropped.Add(ctx, 1)
		default:
		}
	}
}

func (r *Recognizer) recordWindowing(ctx context.Context, prev, cur windower.Stats) {
	if d := cur.FramesProduced - prev.FramesProduced; d > 0 {
		r.metrics.FramesProduced.Add(ctx, int64(d))
	}
	if d := cur.SkippedTicks - prev.SkippedTicks; d > 0 {
		r.metrics.TicksSkipped.Add(ctx, int64(d))
	}
	if d := cur.ReadyCount - prev.ReadyCount; d > 0 {
		r.metrics.ReadySignals.Add(ctx, int64(d))
	}
	if d := cur.TransformErrors - prev.TransformErrors; d > 0 {
		r.metrics.TransformErrors.Add(ctx, int64(d))
	}
}

func (r *Recognizer) decide(ctx context.Context, ready <-chan []feature.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snapshot := <-ready:
			r.decideOne(ctx, snapshot)
		}
	}
}

func (r *Recognizer) decideOne(ctx context.Context, snapshot []feature.Frame) {
	ctx, span := observe.StartDecision(ctx, len(snapshot))

	start := time.Now()
	d, err := r.det.OnReady(ctx, snapshot)
	r.metrics.RecordInference(ctx, time.Since(start), inferenceReason(err), err)
	observe.EndDecision(span, d.Kind.String(), d.Label, float64(d.Score), err)
	if err != nil {
		if ctx.Err() == nil {
			observe.Logger(ctx).Warn("recognizer: decision failed", "err", err)
		}
		return
	}
	if !d.Emitted() {
		return
	}

	r.emitted.Add(1)
	r.metrics.RecordDetection(ctx, d.Label, d.Kind.String())
	observe.Logger(ctx).Info("recognizer: detected",
		"kind", d.Kind.String(),
		"label", d.Label,
		"score", d.Score,
		"predictions", d.Predictions,
	)

	if r.pub == nil {
		return
	}
	ev, ok := r.pub.Publish(d)
	if ok && r.onPublish != nil {
		r.onPublish(ev, snapshot)
	}
}

// inferenceReason classifies a decision error for the metric attribute.
func inferenceReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, detector.ErrScoreShape):
		return "shape"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "classifier"
	}
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
