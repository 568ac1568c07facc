// Package mock provides an in-memory test double for [detectionlog.Store].
//
// The mock records every method call and keeps recorded entries in memory so
// that Recent and Similar behave plausibly. It is safe for concurrent use.
package mock

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sync"

	"github.com/MrWong99/hearken/pkg/detectionlog"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable test double for [detectionlog.Store].
type Store struct {
	mu      sync.Mutex
	calls   []Call
	entries []detectionlog.Entry

	// RecordErr is returned by [Store.Record] when non-nil; the entry is not
	// stored.
	RecordErr error

	// RecentErr is returned by [Store.Recent] when non-nil.
	RecentErr error

	// SimilarErr is returned by [Store.Similar] when non-nil.
	SimilarErr error

	// PingErr is returned by [Store.Ping] when non-nil.
	PingErr error

	// OnRecord, if set, is called with each successfully stored entry.
	OnRecord func(detectionlog.Entry)
}

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Entries returns a copy of the stored entries in insertion order.
func (m *Store) Entries() []detectionlog.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries)
}

// Record implements [detectionlog.Store].
func (m *Store) Record(_ context.Context, e detectionlog.Entry) error {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Method: "Record", Args: []any{e}})
	if m.RecordErr != nil {
		err := m.RecordErr
		m.mu.Unlock()
		return err
	}
	if slices.ContainsFunc(m.entries, func(x detectionlog.Entry) bool { return x.ID == e.ID }) {
		m.mu.Unlock()
		return nil
	}
	e.Fingerprint = slices.Clone(e.Fingerprint)
	m.entries = append(m.entries, e)
	hook := m.OnRecord
	m.mu.Unlock()
	if hook != nil {
		hook(e)
	}
	return nil
}

// Recent implements [detectionlog.Store].
func (m *Store) Recent(_ context.Context, limit int, f detectionlog.Filter) ([]detectionlog.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Recent", Args: []any{limit, f}})
	if m.RecentErr != nil {
		return nil, m.RecentErr
	}
	out := []detectionlog.Entry{}
	for _, e := range m.entries {
		if f.Label != "" && e.Label != f.Label {
			continue
		}
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		if !f.After.IsZero() && !e.DetectedAt.After(f.After) {
			continue
		}
		if !f.Before.IsZero() && !e.DetectedAt.Before(f.Before) {
			continue
		}
		out = append(out, e)
	}
	slices.SortStableFunc(out, func(a, b detectionlog.Entry) int {
		return b.DetectedAt.Compare(a.DetectedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Similar implements [detectionlog.Store] using cosine distance.
func (m *Store) Similar(_ context.Context, fingerprint []float32, topK int) ([]detectionlog.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Similar", Args: []any{slices.Clone(fingerprint), topK}})
	if m.SimilarErr != nil {
		return nil, m.SimilarErr
	}
	out := []detectionlog.Match{}
	for _, e := range m.entries {
		if len(e.Fingerprint) != len(fingerprint) || len(fingerprint) == 0 {
			continue
		}
		out = append(out, detectionlog.Match{Entry: e, Distance: cosineDistance(fingerprint, e.Fingerprint)})
	}
	slices.SortStableFunc(out, func(a, b detectionlog.Match) int { return cmp.Compare(a.Distance, b.Distance) })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// Ping implements [detectionlog.Store].
func (m *Store) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Ping"})
	return m.PingErr
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

var _ detectionlog.Store = (*Store)(nil)
