package discord

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

// Opus silence frame: 0xF8 0xFF 0xFE (3 bytes).
var silenceOpus = []byte{0xF8, 0xFF, 0xFE}

// newTestStream creates a stream suitable for unit testing without a real
// Discord voice connection.
func newTestStream(t *testing.T, userID string) *stream {
	t.Helper()
	return newTickedTestStream(t, userID, nil)
}

// newTickedTestStream is newTestStream with the mix period driven by tick.
func newTickedTestStream(t *testing.T, userID string, tick <-chan time.Time) *stream {
	t.Helper()
	vc := &discordgo.VoiceConnection{
		OpusRecv: make(chan *discordgo.Packet, 16),
	}
	s := &stream{
		vc:           vc,
		userID:       userID,
		chunks:       make(chan audio.SampleChunk, 16),
		tick:         tick,
		ssrcUser:     make(map[uint32]string),
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		disconnectVC: func() error { return nil },
	}
	go s.recvLoop()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// ─── Source tests ────────────────────────────────────────────────────────────

func TestNew(t *testing.T) {
	t.Parallel()

	sess := &discordgo.Session{}
	s := New(sess, "guild-123", "chan-1", WithUserID("u1"), WithBuffer(8))
	if s.session != sess {
		t.Error("session not stored correctly")
	}
	if s.guildID != "guild-123" || s.channelID != "chan-1" {
		t.Errorf("ids = %q/%q, want guild-123/chan-1", s.guildID, s.channelID)
	}
	if s.userID != "u1" {
		t.Errorf("userID = %q, want u1", s.userID)
	}
	if s.buffer != 8 {
		t.Errorf("buffer = %d, want 8", s.buffer)
	}
	if s.join == nil {
		t.Error("join should default to the session's ChannelVoiceJoin")
	}
}

func TestOpen_JoinFailureIsCaptureError(t *testing.T) {
	t.Parallel()

	s := New(nil, "g", "c")
	s.join = func(string, string, bool, bool) (*discordgo.VoiceConnection, error) {
		return nil, errors.New("timeout waiting for voice")
	}

	_, err := s.Open(context.Background())
	var ce *audio.CaptureError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *audio.CaptureError, got %T: %v", err, err)
	}
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestOpen_ForbiddenIsPermissionDenied(t *testing.T) {
	t.Parallel()

	s := New(nil, "g", "c")
	s.join = func(string, string, bool, bool) (*discordgo.VoiceConnection, error) {
		return nil, &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	}

	_, err := s.Open(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestOpen_NoSession(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "g", "c").Open(context.Background())
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestOpen_CancelledContext(t *testing.T) {
	t.Parallel()

	s := New(nil, "g", "c")
	s.join = func(string, string, bool, bool) (*discordgo.VoiceConnection, error) {
		t.Error("join must not be called with a cancelled context")
		return nil, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Open(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// ─── stream tests ────────────────────────────────────────────────────────────

func TestStream_DecodesPackets(t *testing.T) {
	t.Parallel()

	s := newTestStream(t, "")
	s.vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: silenceOpus}

	select {
	case chunk := <-s.Chunks():
		if chunk.SampleRate != opusSampleRate {
			t.Errorf("SampleRate = %d, want %d", chunk.SampleRate, opusSampleRate)
		}
		if chunk.Channels != opusChannels {
			t.Errorf("Channels = %d, want %d", chunk.Channels, opusChannels)
		}
		if len(chunk.Samples) == 0 {
			t.Error("chunk samples are empty")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chunk")
	}
}

func TestStream_UserFilter(t *testing.T) {
	t.Parallel()

	s := newTestStream(t, "alice")
	s.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "bob", SSRC: 200})
	s.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "alice", SSRC: 100})

	s.vc.OpusRecv <- &discordgo.Packet{SSRC: 200, Opus: silenceOpus}
	s.vc.OpusRecv <- &discordgo.Packet{SSRC: 300, Opus: silenceOpus}
	s.vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: silenceOpus}

	select {
	case <-s.Chunks():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for alice's chunk")
	}

	select {
	case <-s.Chunks():
		t.Error("only alice's packet should be forwarded")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStream_MixesConcurrentSpeakers(t *testing.T) {
	t.Parallel()

	tick := make(chan time.Time)
	s := newTickedTestStream(t, "", tick)

	// Two speakers talking over the same 20 ms.
	s.vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: silenceOpus}
	s.vc.OpusRecv <- &discordgo.Packet{SSRC: 200, Opus: silenceOpus}

	deadline := time.Now().Add(time.Second)
	for len(s.vc.OpusRecv) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for packets to be received")
		}
		time.Sleep(time.Millisecond)
	}
	// The loop finishes the packet in hand before it can take the tick.
	tick <- time.Now()

	var first audio.SampleChunk
	select {
	case first = <-s.Chunks():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for mixed chunk")
	}
	if first.SampleRate != 48000 || first.Channels != 2 {
		t.Errorf("format = %d Hz/%d ch, want 48000/2", first.SampleRate, first.Channels)
	}

	tick <- time.Now()
	select {
	case c := <-s.Chunks():
		t.Errorf("two overlapping packets produced a second chunk (%d samples)", len(c.Samples))
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStream_ReceiveClosedEndsStream(t *testing.T) {
	t.Parallel()

	s := newTestStream(t, "")
	close(s.vc.OpusRecv)

	select {
	case _, ok := <-s.Chunks():
		if ok {
			t.Error("expected closed chunk channel")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chunk channel to close")
	}
}

func TestStream_CloseIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStream(t, "")
	for i := range 3 {
		if err := s.Close(); err != nil {
			t.Fatalf("Close[%d]: unexpected error: %v", i, err)
		}
	}
	if _, ok := <-s.Chunks(); ok {
		t.Error("chunk channel should be closed after Close")
	}
}

// TestStream_ConcurrentClose exercises Close from multiple goroutines to
// verify thread safety (run with -race).
func TestStream_ConcurrentClose(t *testing.T) {
	t.Parallel()

	s := newTestStream(t, "")
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			_ = s.Close()
		})
	}
	wg.Wait()
}
