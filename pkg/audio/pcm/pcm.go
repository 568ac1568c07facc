// Package pcm provides an [audio.Source] that reads raw little-endian int16
// PCM from a file, a named pipe or stdin. It is the capture backend for
// offline evaluation and for piping audio from external recorders, e.g.
//
//	arecord -f S16_LE -r 16000 -c 1 -t raw | hearken -config hearken.yaml
package pcm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/hearken/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Source = (*Source)(nil)
	_ audio.Stream = (*stream)(nil)
)

const (
	defaultSampleRate  = 16000
	defaultChannels    = 1
	defaultChunkFrames = 320 // 20 ms at 16 kHz
	defaultBuffer      = 64
)

// Source opens a PCM byte stream on every call to Open.
type Source struct {
	name        string
	open        func() (io.ReadCloser, error)
	sampleRate  int
	channels    int
	chunkFrames int
	buffer      int
	realtime    bool
}

// Option configures a [Source].
type Option func(*Source)

// WithFormat sets the sample rate and channel count of the raw stream.
func WithFormat(sampleRate, channels int) Option {
	return func(s *Source) {
		if sampleRate > 0 {
			s.sampleRate = sampleRate
		}
		if channels > 0 {
			s.channels = channels
		}
	}
}

// WithChunkFrames sets how many per-channel sample frames each chunk carries.
func WithChunkFrames(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.chunkFrames = n
		}
	}
}

// WithRealtime paces delivery to the stream's sample rate. Use it for
// pre-recorded files; live pipes are already paced by the producer.
func WithRealtime(enabled bool) Option {
	return func(s *Source) { s.realtime = enabled }
}

// WithBuffer sets the capacity of the chunk channel.
func WithBuffer(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// New returns a Source that calls open to obtain the byte stream. name is
// used in errors and logs.
func New(name string, open func() (io.ReadCloser, error), opts ...Option) *Source {
	s := &Source{
		name:        name,
		open:        open,
		sampleRate:  defaultSampleRate,
		channels:    defaultChannels,
		chunkFrames: defaultChunkFrames,
		buffer:      defaultBuffer,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewFile returns a Source reading the file at path.
func NewFile(path string, opts ...Option) *Source {
	return New(path, func() (io.ReadCloser, error) { return os.Open(path) }, opts...)
}

// NewStdin returns a Source reading the process's standard input. Close on
// the resulting stream does not close stdin.
func NewStdin(opts ...Option) *Source {
	return New("stdin", func() (io.ReadCloser, error) { return io.NopCloser(os.Stdin), nil }, opts...)
}

// Open implements [audio.Source].
func (s *Source) Open(ctx context.Context) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pcm: open: %w", err)
	}
	rc, err := s.open()
	if err != nil {
		return nil, &audio.CaptureError{Source: "pcm: open " + s.name, Kind: classify(err), Err: err}
	}

	st := &stream{
		name:   s.name,
		rc:     rc,
		chunks: make(chan audio.SampleChunk, s.buffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go st.readLoop(s.sampleRate, s.channels, s.chunkFrames, s.realtime)
	return st, nil
}

// classify maps an open error to a capture error kind.
func classify(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return audio.ErrPermissionDenied
	}
	return audio.ErrDeviceUnavailable
}

// stream reads fixed-size blocks until EOF or Close.
type stream struct {
	name   string
	rc     io.ReadCloser
	chunks chan audio.SampleChunk

	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

// Chunks implements [audio.Stream].
func (s *stream) Chunks() <-chan audio.SampleChunk {
	return s.chunks
}

// Close implements [audio.Stream]. A read blocked on a pipe that never
// delivers is abandoned rather than awaited.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.rc.Close()
		select {
		case <-s.exited:
		case <-time.After(time.Second):
			slog.Warn("pcm: reader did not stop in time", "source", s.name)
		}
	})
	return err
}

func (s *stream) readLoop(sampleRate, channels, chunkFrames int, realtime bool) {
	defer close(s.exited)
	defer close(s.chunks)

	buf := make([]byte, chunkFrames*channels*2)
	period := time.Duration(chunkFrames) * time.Second / time.Duration(sampleRate)

	var ticker *time.Ticker
	if realtime {
		ticker = time.NewTicker(period)
		defer ticker.Stop()
	}

	for {
		n, err := io.ReadFull(s.rc, buf)
		// Keep whole sample frames only.
		n -= n % (channels * 2)
		if n > 0 {
			chunk := audio.SampleChunk{
				SampleRate: sampleRate,
				Channels:   channels,
				Samples:    audio.DecodePCM16(buf[:n]),
			}
			select {
			case s.chunks <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			select {
			case <-s.done:
			default:
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					slog.Warn("pcm: read failed", "source", s.name, "error", err)
				} else {
					slog.Info("pcm: end of stream", "source", s.name)
				}
			}
			return
		}
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-s.done:
				return
			}
		}
	}
}
