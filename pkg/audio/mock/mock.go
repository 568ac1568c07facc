// Package mock provides in-memory mock implementations of [audio.Source] and
// [audio.Stream] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(16)
//	src := &mock.Source{Stream: stream}
//	got, err := src.Open(ctx)
//	stream.Push(audio.SampleChunk{SampleRate: 16000, Samples: samples})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hearken/pkg/audio"
)

// ─── Stream ──────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Tests feed it with Push
// and end it with Close (or End to simulate device loss).
type Stream struct {
	mu     sync.Mutex
	ch     chan audio.SampleChunk
	closed bool

	// CloseError is returned by the first call to [Stream.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Dropped counts chunks that did not fit into the channel buffer.
	Dropped int
}

// NewStream returns a Stream whose Chunks channel has the given buffer size.
func NewStream(buffer int) *Stream {
	return &Stream{ch: make(chan audio.SampleChunk, buffer)}
}

// Chunks implements [audio.Stream].
func (s *Stream) Chunks() <-chan audio.SampleChunk {
	return s.ch
}

// Push delivers chunk without blocking. It reports false when the stream is
// closed or the buffer is full.
func (s *Stream) Push(chunk audio.SampleChunk) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- chunk:
		return true
	default:
		s.Dropped++
		return false
	}
}

// End closes the Chunks channel as if the device disappeared. It does not
// count as a call to Close.
func (s *Stream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	return s.CloseError
}

// Closed reports whether the stream has been closed or ended.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Source ──────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Stream is returned by Open. If nil, Open returns a fresh NewStream(64).
	Stream *Stream

	// OpenError, if non-nil, is returned by Open.
	OpenError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int
}

// Open implements [audio.Source].
func (s *Source) Open(_ context.Context) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountOpen++
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	if s.Stream == nil {
		s.Stream = NewStream(64)
	}
	return s.Stream, nil
}

var (
	_ audio.Source = (*Source)(nil)
	_ audio.Stream = (*Stream)(nil)
)
