package discord

import (
	"testing"
)

func frame(v float32, n int) []float32 {
	f := make([]float32, n)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestSpeakerMix_Empty(t *testing.T) {
	t.Parallel()

	m := newSpeakerMix()
	if out, n := m.next(); out != nil || n != 0 {
		t.Errorf("next() = %v, %d; want nil, 0", out, n)
	}
}

func TestSpeakerMix_SingleSpeakerPassesThrough(t *testing.T) {
	t.Parallel()

	m := newSpeakerMix()
	in := []float32{0.1, -0.2, 0.3, -0.4}
	m.add(7, in)

	out, n := m.next()
	if n != 1 {
		t.Fatalf("speakers = %d, want 1", n)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	out[0] = 9
	if in[0] != 0.1 {
		t.Error("next must not alias the queued frame")
	}
}

func TestSpeakerMix_SumsOverlappingFrames(t *testing.T) {
	t.Parallel()

	m := newSpeakerMix()
	m.add(1, frame(0.25, 4))
	m.add(2, frame(0.5, 4))
	m.add(1, frame(0.125, 4))

	out, n := m.next()
	if n != 2 {
		t.Fatalf("speakers = %d, want 2", n)
	}
	for i, v := range out {
		if v != 0.75 {
			t.Errorf("out[%d] = %v, want 0.75", i, v)
		}
	}

	// Speaker 1 still has a frame queued; speaker 2 is done.
	out, n = m.next()
	if n != 1 || out[0] != 0.125 {
		t.Errorf("second next() = %v, %d; want 0.125, 1", out, n)
	}
	if _, n = m.next(); n != 0 {
		t.Errorf("third next() mixed %d speakers, want 0", n)
	}
	if len(m.queues) != 0 || len(m.order) != 0 {
		t.Errorf("drained mix still tracks %d queues, %d ssrcs", len(m.queues), len(m.order))
	}
}

func TestSpeakerMix_Clamps(t *testing.T) {
	t.Parallel()

	m := newSpeakerMix()
	m.add(1, []float32{0.8, -0.8})
	m.add(2, []float32{0.8, -0.8})

	out, _ := m.next()
	if out[0] != 1 || out[1] != -1 {
		t.Errorf("out = %v, want [1 -1]", out)
	}
}

func TestSpeakerMix_UnevenFrameLengths(t *testing.T) {
	t.Parallel()

	m := newSpeakerMix()
	m.add(1, frame(0.1, 2))
	m.add(2, frame(0.2, 4))

	out, _ := m.next()
	if len(out) != 4 {
		t.Fatalf("len = %d, want 4", len(out))
	}
	if out[3] != 0.2 {
		t.Errorf("out[3] = %v, want 0.2", out[3])
	}
}

func TestSpeakerMix_BoundsBacklog(t *testing.T) {
	t.Parallel()

	m := newSpeakerMix()
	for i := range maxQueuedFrames + 3 {
		m.add(1, []float32{float32(i)})
	}
	if got := len(m.queues[1]); got != maxQueuedFrames {
		t.Fatalf("queued = %d, want %d", got, maxQueuedFrames)
	}
	// The oldest frames were dropped.
	out, _ := m.next()
	if out[0] != 3 {
		t.Errorf("head = %v, want 3", out[0])
	}
}
