// Package discord provides an [audio.Source] backed by a Discord voice
// channel via the bwmarrin/discordgo library. It bridges Discord's Opus-based
// voice transport with hearken's float32 [audio.SampleChunk] pipeline.
//
// The source requires an active *discordgo.Session (owned by the caller), a
// guild ID and a voice channel ID. Each call to [Source.Open] joins the
// channel muted and returns a stream of decoded 48 kHz stereo chunks. With
// [WithUserID] the stream carries only that member's voice; otherwise every
// speaker's packets are forwarded, which suits single-speaker channels.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)

const defaultChunkBuffer = 64

// Source implements [audio.Source] using a discordgo voice connection.
//
// Source is safe for concurrent use.
type Source struct {
	session   *discordgo.Session
	guildID   string
	channelID string
	userID    string
	buffer    int

	// join performs the voice join. Defaults to session.ChannelVoiceJoin;
	// overridden in tests.
	join func(guildID, channelID string, mute, deaf bool) (*discordgo.VoiceConnection, error)
}

// Option configures a [Source].
type Option func(*Source)

// WithUserID restricts capture to the given Discord user.
func WithUserID(id string) Option {
	return func(s *Source) { s.userID = id }
}

// WithBuffer sets the capacity of the chunk channel. Values < 1 are ignored.
func WithBuffer(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// New creates a Source for the given session, guild and voice channel.
func New(session *discordgo.Session, guildID, channelID string, opts ...Option) *Source {
	s := &Source{
		session:   session,
		guildID:   guildID,
		channelID: channelID,
		buffer:    defaultChunkBuffer,
	}
	if session != nil {
		s.join = session.ChannelVoiceJoin
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open joins the voice channel and returns an active [audio.Stream]. The
// supplied ctx governs the join phase only.
func (s *Source) Open(ctx context.Context) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: open: %w", err)
	}
	if s.join == nil {
		return nil, &audio.CaptureError{Source: "discord", Kind: audio.ErrDeviceUnavailable, Err: errors.New("no session")}
	}
	if err := s.checkPermission(); err != nil {
		return nil, err
	}

	// mute=true: capture only, never transmit. deaf=false: we must receive.
	vc, err := s.join(s.guildID, s.channelID, true, false)
	if err != nil {
		return nil, &audio.CaptureError{
			Source: fmt.Sprintf("discord: join voice channel %q", s.channelID),
			Kind:   classify(err),
			Err:    err,
		}
	}

	st := newStream(vc, s.userID, s.buffer)
	vc.AddHandler(st.handleSpeakingUpdate)
	return st, nil
}

// checkPermission consults the session state cache, when present, for the
// voice connect permission. Missing state is not an error; Discord will
// reject the join itself.
func (s *Source) checkPermission() error {
	if s.session == nil || s.session.State == nil || s.session.State.User == nil {
		return nil
	}
	perms, err := s.session.State.UserChannelPermissions(s.session.State.User.ID, s.channelID)
	if err != nil {
		return nil
	}
	if perms&discordgo.PermissionVoiceConnect == 0 {
		return &audio.CaptureError{
			Source: fmt.Sprintf("discord: channel %q", s.channelID),
			Kind:   audio.ErrPermissionDenied,
		}
	}
	return nil
}

// classify maps a join error to a capture error kind.
func classify(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusForbidden, http.StatusUnauthorized:
			return audio.ErrPermissionDenied
		}
	}
	return audio.ErrDeviceUnavailable
}
