package audio

import "time"

// AudioFrame is a block of raw little-endian int16 PCM as delivered by a
// transport (Discord voice, a PCM pipe). Sources decode AudioFrames into
// [SampleChunk] values before handing them to the windower.
type AudioFrame struct {
	// PCM audio data, interleaved when Channels > 1.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for Discord Opus, 16000 for analysis).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// SampleChunk is an ordered run of amplitude samples in [-1, 1] at a known
// rate. Chunks arrive at irregular intervals and any size >= 1. Consumers
// must not retain Samples beyond the call that delivers the chunk.
type SampleChunk struct {
	// SampleRate in Hz of Samples.
	SampleRate int

	// Channels is the interleave factor of Samples. Zero is treated as mono.
	Channels int

	// Samples holds interleaved float32 amplitudes.
	Samples []float32
}

// Frames returns the number of per-channel sample frames in the chunk.
func (c SampleChunk) Frames() int {
	ch := max(c.Channels, 1)
	return len(c.Samples) / ch
}
