package discord

// maxQueuedFrames bounds each speaker's backlog (100 ms). Older frames are
// dropped so a jittery speaker cannot push the mix behind real time.
const maxQueuedFrames = 5

// speakerMix aligns decoded frames from several speakers onto one timeline.
// Frames are queued per SSRC; every mix period the head frame of each
// speaker is summed into a single output frame, so the stream advances at
// real time no matter how many people talk at once.
//
// speakerMix is owned by the receive loop and not safe for concurrent use.
type speakerMix struct {
	queues map[uint32][][]float32
	order  []uint32 // SSRCs in first-seen order, for a stable sum
}

func newSpeakerMix() *speakerMix {
	return &speakerMix{queues: make(map[uint32][][]float32)}
}

// add queues one decoded frame for ssrc.
func (m *speakerMix) add(ssrc uint32, frame []float32) {
	q, ok := m.queues[ssrc]
	if !ok {
		m.order = append(m.order, ssrc)
	}
	if len(q) >= maxQueuedFrames {
		q = q[1:]
	}
	m.queues[ssrc] = append(q, frame)
}

// next pops the head frame of every speaker with queued audio and returns
// their clamped sum along with the number of speakers mixed. It returns
// nil, 0 when nobody has audio queued.
func (m *speakerMix) next() ([]float32, int) {
	var out []float32
	mixed := 0
	kept := m.order[:0]
	for _, ssrc := range m.order {
		q := m.queues[ssrc]
		if len(q) == 0 {
			delete(m.queues, ssrc)
			continue
		}
		kept = append(kept, ssrc)
		head := q[0]
		m.queues[ssrc] = q[1:]
		mixed++
		if out == nil {
			out = append([]float32(nil), head...)
			continue
		}
		if len(head) > len(out) {
			out = append(out, make([]float32, len(head)-len(out))...)
		}
		for i, v := range head {
			out[i] += v
		}
	}
	m.order = kept
	if mixed > 1 {
		for i, v := range out {
			out[i] = min(max(v, -1), 1)
		}
	}
	return out, mixed
}
