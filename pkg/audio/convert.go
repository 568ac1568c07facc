package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Converter turns arbitrary [SampleChunk] values into mono chunks at
// TargetRate. It keeps interpolation state between calls so that a stream
// chopped into chunks of any size resamples to the same sample count as the
// unchopped stream. It logs a warning on the first format mismatch.
//
// Create one per stream; not designed for shared use across goroutines.
type Converter struct {
	TargetRate int

	warnedMismatch sync.Once

	srcRate int     // rate the interpolation state belongs to
	pos     float64 // next output position in source-sample units
	prev    float32 // last sample of the previous chunk
	hasPrev bool
}

// Convert returns chunk as mono at TargetRate. If the chunk already matches,
// it is returned unchanged (zero allocation). Conversion order: downmix
// first, then resample, so only one channel is interpolated.
func (c *Converter) Convert(chunk SampleChunk) SampleChunk {
	channels := max(chunk.Channels, 1)
	if chunk.SampleRate == c.TargetRate && channels == 1 {
		return SampleChunk{SampleRate: c.TargetRate, Channels: 1, Samples: chunk.Samples}
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(chunk.SampleRate, channels),
			"to", formatString(c.TargetRate, 1),
		)
	})

	mono := chunk.Samples
	if channels > 1 {
		mono = Downmix(mono, channels)
	}
	return SampleChunk{
		SampleRate: c.TargetRate,
		Channels:   1,
		Samples:    c.resample(mono, chunk.SampleRate),
	}
}

// Reset discards interpolation state. Call it when the source stream restarts.
func (c *Converter) Reset() {
	c.srcRate = 0
	c.pos = 0
	c.prev = 0
	c.hasPrev = false
}

// resample linearly interpolates in from srcRate to c.TargetRate, carrying
// the fractional read position and the last input sample across calls.
func (c *Converter) resample(in []float32, srcRate int) []float32 {
	if srcRate <= 0 || c.TargetRate <= 0 || srcRate == c.TargetRate {
		return in
	}
	if srcRate != c.srcRate {
		c.Reset()
		c.srcRate = srcRate
	}
	if len(in) == 0 {
		return nil
	}

	// x is the virtual sequence [prev?, in...]; index 0 is prev when hasPrev.
	offset := 0
	if c.hasPrev {
		offset = 1
	}
	n := len(in) + offset
	at := func(i int) float32 {
		if i < offset {
			return c.prev
		}
		return in[i-offset]
	}

	step := float64(srcRate) / float64(c.TargetRate)
	last := float64(n - 1)
	out := make([]float32, 0, int(float64(len(in))/step)+2)
	for c.pos <= last {
		i := int(c.pos)
		frac := float32(c.pos - float64(i))
		s0 := at(i)
		s1 := s0
		if i+1 < n {
			s1 = at(i + 1)
		}
		out = append(out, s0*(1-frac)+s1*frac)
		c.pos += step
	}

	// The last input sample becomes index 0 of the next virtual sequence.
	c.pos -= last
	c.prev = in[len(in)-1]
	c.hasPrev = true
	return out
}

// Downmix averages interleaved channels into a mono slice.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	inv := 1 / float32(channels)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum * inv
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate with linear
// interpolation, without carrying state. Use a [Converter] for streams.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	c := Converter{TargetRate: dstRate}
	return c.resample(samples, srcRate)
}

// DecodePCM16 converts little-endian int16 PCM into float32 samples in
// [-1, 1). A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768
	}
	return out
}

// ChunkFromFrame decodes an int16 [AudioFrame] into a [SampleChunk]. It
// reports false for frames with an odd byte count, which cannot be int16 PCM.
func ChunkFromFrame(frame AudioFrame) (SampleChunk, bool) {
	if len(frame.Data)%2 != 0 {
		return SampleChunk{}, false
	}
	return SampleChunk{
		SampleRate: frame.SampleRate,
		Channels:   frame.Channels,
		Samples:    DecodePCM16(frame.Data),
	}, true
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
