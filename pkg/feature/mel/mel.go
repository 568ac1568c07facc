// Package mel provides a log-mel and MFCC [feature.Transform] built on the
// gonum FFT.
//
// Each window is Hann-weighted, zero-padded to the next power of two and
// transformed to a magnitude spectrum. A triangular mel filterbank (default
// 20–4000 Hz) reduces the spectrum to MelCount log energies; with MFCC
// enabled the log energies are further decorrelated with a DCT-II, giving
// MelCount cepstral coefficients.
//
// Example usage:
//
//	t, err := mel.New(mel.Config{SampleRate: 16000, WindowLength: 480, MelCount: 40, MFCC: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	frame, err := t.Transform(window)
package mel

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"github.com/MrWong99/hearken/pkg/feature"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// Ensure Transform implements feature.Transform at compile time.
var _ feature.Transform = (*Transform)(nil)

// Default filterbank edges in Hz.
const (
	DefaultMinFreq = 20.0
	DefaultMaxFreq = 4000.0
)

// logFloor keeps log energies finite for silent windows.
const logFloor = 1e-10

// Config holds the transform parameters.
type Config struct {
	// SampleRate of the analysed samples in Hz.
	SampleRate int

	// WindowLength is the exact number of samples per window.
	WindowLength int

	// MelCount is the number of mel bands and thus the frame dimension.
	MelCount int

	// MFCC switches the output from log-mel energies to cepstral coefficients.
	MFCC bool

	// MinFreq and MaxFreq bound the filterbank. Zero selects the defaults;
	// MaxFreq is clamped to the Nyquist frequency.
	MinFreq float64
	MaxFreq float64
}

// Transform is a log-mel / MFCC feature extractor.
//
// Transform is safe for concurrent use; calls are serialised because the
// FFT work buffers are shared.
type Transform struct {
	cfg  Config
	nfft int

	window []float64   // Hann coefficients, len WindowLength
	bank   [][]float64 // MelCount rows of nfft/2+1 weights
	dct    [][]float64 // MelCount x MelCount DCT-II basis, nil without MFCC

	mu     sync.Mutex
	fft    *fourier.FFT
	buf    []float64
	coeffs []complex128
	mags   []float64
	energy []float64
}

// New validates cfg and precomputes the window, filterbank and DCT basis.
func New(cfg Config) (*Transform, error) {
	if cfg.MinFreq == 0 {
		cfg.MinFreq = DefaultMinFreq
	}
	if cfg.MaxFreq == 0 {
		cfg.MaxFreq = DefaultMaxFreq
	}

	var errs []error
	if cfg.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", cfg.SampleRate))
	}
	if cfg.WindowLength <= 0 {
		errs = append(errs, fmt.Errorf("window_length must be positive, got %d", cfg.WindowLength))
	}
	if cfg.MelCount <= 0 {
		errs = append(errs, fmt.Errorf("mel_count must be positive, got %d", cfg.MelCount))
	}
	if cfg.MinFreq < 0 || cfg.MinFreq >= cfg.MaxFreq {
		errs = append(errs, fmt.Errorf("frequency range [%g, %g] is empty", cfg.MinFreq, cfg.MaxFreq))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("mel: %w", err)
	}
	if nyquist := float64(cfg.SampleRate) / 2; cfg.MaxFreq > nyquist {
		cfg.MaxFreq = nyquist
	}

	nfft := NextPow2(cfg.WindowLength)
	bins := nfft/2 + 1
	t := &Transform{
		cfg:    cfg,
		nfft:   nfft,
		window: hann(cfg.WindowLength),
		bank:   Filterbank(bins, cfg.MelCount, cfg.MinFreq, cfg.MaxFreq, cfg.SampleRate),
		fft:    fourier.NewFFT(nfft),
		buf:    make([]float64, nfft),
		coeffs: make([]complex128, bins),
		mags:   make([]float64, bins),
		energy: make([]float64, cfg.MelCount),
	}
	if cfg.MFCC {
		t.dct = dctBasis(cfg.MelCount)
	}
	return t, nil
}

// Dim implements [feature.Transform].
func (t *Transform) Dim() int { return t.cfg.MelCount }

// FFTSize returns the zero-padded FFT length.
func (t *Transform) FFTSize() int { return t.nfft }

// Transform implements [feature.Transform].
func (t *Transform) Transform(window []float32) (feature.Frame, error) {
	if len(window) != t.cfg.WindowLength {
		return nil, fmt.Errorf("mel: window has %d samples, want %d", len(window), t.cfg.WindowLength)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for i, s := range window {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("mel: non-finite sample at index %d", i)
		}
		t.buf[i] = v * t.window[i]
	}
	clear(t.buf[len(window):])

	t.fft.Coefficients(t.coeffs, t.buf)
	for k, c := range t.coeffs {
		t.mags[k] = cmplx.Abs(c)
	}
	for m, row := range t.bank {
		t.energy[m] = math.Log(floats.Dot(row, t.mags) + logFloor)
	}

	out := make(feature.Frame, t.cfg.MelCount)
	if t.dct == nil {
		for m, e := range t.energy {
			out[m] = float32(e)
		}
		return out, nil
	}
	for k, basis := range t.dct {
		out[k] = float32(floats.Dot(basis, t.energy))
	}
	return out, nil
}

// NextPow2 returns the smallest power of two >= n (1 for n <= 1).
func NextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func hann(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// dctBasis returns the orthonormal DCT-II basis of size n.
func dctBasis(n int) [][]float64 {
	basis := make([][]float64, n)
	scale0 := math.Sqrt(1 / float64(n))
	scale := math.Sqrt(2 / float64(n))
	for k := range basis {
		row := make([]float64, n)
		s := scale
		if k == 0 {
			s = scale0
		}
		for i := range row {
			row[i] = s * math.Cos(math.Pi/float64(n)*(float64(i)+0.5)*float64(k))
		}
		basis[k] = row
	}
	return basis
}
