package discord

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Stream = (*stream)(nil)

// stream wraps a discordgo.VoiceConnection and adapts it to [audio.Stream].
// It decodes incoming Opus packets per SSRC, optionally filtered to a single
// user, and mixes concurrent speakers into one real-time chunk every 20 ms.
//
// stream is safe for concurrent use.
type stream struct {
	vc     *discordgo.VoiceConnection
	userID string

	chunks chan audio.SampleChunk

	// tick paces the mixer. Nil selects a 20 ms ticker; tests inject one.
	tick <-chan time.Time

	ssrcMu   sync.RWMutex
	ssrcUser map[uint32]string // SSRC -> userID, learned from speaking updates

	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	// disconnectVC is called during Close to tear down the voice connection.
	// Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newStream starts the receive loop for an already-joined voice channel.
func newStream(vc *discordgo.VoiceConnection, userID string, buffer int) *stream {
	s := &stream{
		vc:           vc,
		userID:       userID,
		chunks:       make(chan audio.SampleChunk, buffer),
		ssrcUser:     make(map[uint32]string),
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}
	go s.recvLoop()
	return s
}

// Chunks implements [audio.Stream].
func (s *stream) Chunks() <-chan audio.SampleChunk {
	return s.chunks
}

// Close leaves the voice channel and stops the receive loop. It is safe to
// call more than once; subsequent calls return nil.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.disconnectVC != nil {
			err = s.disconnectVC()
		}
		<-s.loopDone
	})
	return err
}

// recvLoop reads Opus packets from the voice connection, decodes them into
// the speaker mix and delivers one mixed chunk per tick. It owns the chunks
// channel and closes it on exit.
func (s *stream) recvLoop() {
	defer close(s.loopDone)
	defer close(s.chunks)

	// Each SSRC gets its own decoder to maintain state across frames.
	decoders := make(map[uint32]*opusDecoder)
	mix := newSpeakerMix()

	tick := s.tick
	if tick == nil {
		t := time.NewTicker(opusFrameSizeMs * time.Millisecond)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-s.done:
			return
		case <-tick:
			samples, speakers := mix.next()
			if speakers == 0 {
				continue
			}
			chunk := audio.SampleChunk{
				SampleRate: opusSampleRate,
				Channels:   opusChannels,
				Samples:    samples,
			}
			select {
			case s.chunks <- chunk:
			default:
				// Channel full: drop the chunk rather than block.
			}
		case pkt, ok := <-s.vc.OpusRecv:
			if !ok {
				slog.Warn("discord: voice receive channel closed")
				return
			}
			if pkt == nil || !s.accept(pkt.SSRC) {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "error", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			samples, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "error", err)
				continue
			}
			mix.add(pkt.SSRC, samples)
		}
	}
}

// accept reports whether packets from ssrc should be forwarded.
func (s *stream) accept(ssrc uint32) bool {
	if s.userID == "" {
		return true
	}
	s.ssrcMu.RLock()
	defer s.ssrcMu.RUnlock()
	return s.ssrcUser[ssrc] == s.userID
}

// handleSpeakingUpdate learns the SSRC to user mapping from Discord speaking
// notifications.
func (s *stream) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	s.ssrcMu.Lock()
	s.ssrcUser[uint32(vs.SSRC)] = vs.UserID
	s.ssrcMu.Unlock()
}
