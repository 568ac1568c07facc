// Package audio defines the capture-side abstractions and sample plumbing
// for hearken.
//
// The two primary abstractions are:
//
//   - [Source] acquires a capture device and returns a [Stream].
//   - [Stream] is an open capture session delivering [SampleChunk] values until
//     it is closed.
//
// Implementations live in adapter packages (audio/pcm, audio/discord). The
// interfaces are intentionally narrow so that the recognizer stays decoupled
// from device details.
//
// This package lives under pkg/ because external code (third-party capture
// adapters) is expected to implement [Source] and [Stream].
package audio

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnavailable reports that the capture device does not exist or
	// could not be opened.
	ErrDeviceUnavailable = errors.New("audio: capture device unavailable")

	// ErrPermissionDenied reports that the process is not allowed to read
	// from the capture device.
	ErrPermissionDenied = errors.New("audio: capture permission denied")
)

// CaptureError is returned by [Source.Open] when the capture device cannot be
// acquired. Kind is one of [ErrDeviceUnavailable] or [ErrPermissionDenied];
// errors.Is matches both Kind and the underlying cause.
type CaptureError struct {
	Source string
	Kind   error
	Err    error
}

// Error implements error.
func (e *CaptureError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Source, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *CaptureError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Stream is an open capture session.
//
// Chunks is closed by the implementation when the stream ends, either
// because Close was called or because the device went away.
// Implementations must be safe for concurrent use.
type Stream interface {
	// Chunks returns the channel delivering captured audio. Implementations
	// must never block the device callback on a slow reader; when the channel
	// is full, chunks are dropped.
	Chunks() <-chan SampleChunk

	// Close releases the capture device. It is safe to call Close more than
	// once; subsequent calls are no-ops and return nil.
	Close() error
}

// Source is the entry point for a capture backend.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Open acquires the capture device and returns a running [Stream]. The
	// supplied ctx governs acquisition only; once returned, the Stream lives
	// until Close is called.
	//
	// Acquisition failures are returned as *[CaptureError]. On error no
	// resources are left held.
	Open(ctx context.Context) (Stream, error)
}
