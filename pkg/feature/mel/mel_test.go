package mel_test

import (
	"math"
	"strings"
	"testing"

	"github.com/MrWong99/hearken/pkg/feature/mel"
)

func defaultConfig(mfcc bool) mel.Config {
	return mel.Config{SampleRate: 16000, WindowLength: 480, MelCount: 40, MFCC: mfcc}
}

func sine(n int, hz float64, rate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*hz*float64(i)/float64(rate)))
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := mel.New(mel.Config{SampleRate: 0, WindowLength: -1, MelCount: 0})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"sample_rate", "window_length", "mel_count"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}

	if _, err := mel.New(mel.Config{SampleRate: 16000, WindowLength: 480, MelCount: 40, MinFreq: 5000, MaxFreq: 4000}); err == nil {
		t.Error("expected error for inverted frequency range")
	}
}

func TestNextPow2(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want int }{{0, 1}, {1, 1}, {2, 2}, {3, 4}, {480, 512}, {512, 512}, {513, 1024}}
	for _, tt := range tests {
		if got := mel.NextPow2(tt.in); got != tt.want {
			t.Errorf("NextPow2(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestTransform_Dim(t *testing.T) {
	t.Parallel()

	tr, err := mel.New(defaultConfig(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tr.Dim() != 40 {
		t.Errorf("Dim() = %d, want 40", tr.Dim())
	}
	if tr.FFTSize() != 512 {
		t.Errorf("FFTSize() = %d, want 512", tr.FFTSize())
	}
	frame, err := tr.Transform(make([]float32, 480))
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(frame) != 40 {
		t.Errorf("len(frame) = %d, want 40", len(frame))
	}
}

func TestTransform_WrongLength(t *testing.T) {
	t.Parallel()

	tr, _ := mel.New(defaultConfig(false))
	if _, err := tr.Transform(make([]float32, 100)); err == nil {
		t.Error("expected error for short window")
	}
}

func TestTransform_NonFinite(t *testing.T) {
	t.Parallel()

	tr, _ := mel.New(defaultConfig(false))
	w := make([]float32, 480)
	w[7] = float32(math.NaN())
	if _, err := tr.Transform(w); err == nil {
		t.Error("expected error for NaN sample")
	}
}

func TestTransform_ToneLandsInItsBand(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(false)
	tr, _ := mel.New(cfg)
	frame, err := tr.Transform(sine(480, 1000, 16000))
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}

	top := 0
	for i, v := range frame {
		if v > frame[top] {
			top = i
		}
	}

	lo, hi := mel.HzToMel(mel.DefaultMinFreq), mel.HzToMel(mel.DefaultMaxFreq)
	step := (hi - lo) / float64(cfg.MelCount+1)
	left := mel.MelToHz(lo + step*float64(top))
	right := mel.MelToHz(lo + step*float64(top+2))
	if 1000 < left || 1000 > right {
		t.Errorf("peak band %d spans [%.0f, %.0f] Hz, want it to contain 1000 Hz", top, left, right)
	}
}

func TestTransform_SilenceMFCC(t *testing.T) {
	t.Parallel()

	tr, _ := mel.New(defaultConfig(true))
	frame, err := tr.Transform(make([]float32, 480))
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	// Constant log energies put everything into c0.
	if frame[0] >= 0 {
		t.Errorf("c0 = %f, want negative for silence", frame[0])
	}
	for k := 1; k < len(frame); k++ {
		if math.Abs(float64(frame[k])) > 1e-3 {
			t.Errorf("c%d = %f, want ~0 for silence", k, frame[k])
		}
	}
}

func TestFilterbank_Shape(t *testing.T) {
	t.Parallel()

	bank := mel.Filterbank(257, 40, 20, 4000, 16000)
	if len(bank) != 40 {
		t.Fatalf("rows = %d, want 40", len(bank))
	}
	for m, row := range bank {
		if len(row) != 257 {
			t.Fatalf("row %d has %d bins, want 257", m, len(row))
		}
		var sum float64
		for _, w := range row {
			if w < 0 || w > 1 {
				t.Fatalf("row %d has weight %f outside [0, 1]", m, w)
			}
			sum += w
		}
		if sum == 0 {
			t.Errorf("row %d is empty", m)
		}
	}
}

func TestHzMelRoundTrip(t *testing.T) {
	t.Parallel()

	for _, hz := range []float64{20, 440, 1000, 4000} {
		if got := mel.MelToHz(mel.HzToMel(hz)); math.Abs(got-hz) > 1e-6 {
			t.Errorf("round trip %f -> %f", hz, got)
		}
	}
}
