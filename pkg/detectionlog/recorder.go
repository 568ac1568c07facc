package detectionlog

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Recorder defaults.
const (
	DefaultQueueSize    = 64
	DefaultWriteTimeout = 2 * time.Second
)

// Recorder writes entries to a [Store] on a background goroutine so that
// the caller never waits on the database. When the queue is full, entries
// are dropped and counted.
type Recorder struct {
	store   Store
	queue   chan Entry
	timeout time.Duration

	written atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithQueueSize sets how many entries may wait for the writer.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan Entry, n)
		}
	}
}

// WithWriteTimeout bounds each [Store.Record] call.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRecorder returns a Recorder writing to store. Call [Recorder.Run] to
// start the writer.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:   store,
		queue:   make(chan Entry, DefaultQueueSize),
		timeout: DefaultWriteTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Submit queues e without blocking. It reports false when the queue is full.
func (r *Recorder) Submit(e Entry) bool {
	select {
	case r.queue <- e:
		return true
	default:
		r.dropped.Add(1)
		slog.Warn("detectionlog: queue full, dropping entry", "id", e.ID, "label", e.Label)
		return false
	}
}

// Run writes queued entries until ctx is cancelled, then flushes whatever is
// still queued and returns nil. Run must not be called more than once at a
// time.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case e := <-r.queue:
			r.write(ctx, e)
		case <-ctx.Done():
			r.flush()
			return nil
		}
	}
}

// flush drains the queue with a fresh context so that entries accepted
// before shutdown still reach the store.
func (r *Recorder) flush() {
	for {
		select {
		case e := <-r.queue:
			r.write(context.Background(), e)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, e Entry) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.store.Record(wctx, e); err != nil {
		r.failed.Add(1)
		slog.Warn("detectionlog: record failed", "id", e.ID, "label", e.Label, "err", err)
		return
	}
	r.written.Add(1)
}

// RecorderStats are the running totals of a [Recorder].
type RecorderStats struct {
	Written uint64
	Failed  uint64
	Dropped uint64
}

// Stats returns the running totals.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Written: r.written.Load(),
		Failed:  r.failed.Load(),
		Dropped: r.dropped.Load(),
	}
}
