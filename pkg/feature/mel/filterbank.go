package mel

import "math"

// HzToMel converts a frequency in Hz to the mel scale (HTK formula).
func HzToMel(hz float64) float64 {
	return 1127 * math.Log(1+hz/700)
}

// MelToHz converts a mel-scale value back to Hz.
func MelToHz(mel float64) float64 {
	return 700 * (math.Exp(mel/1127) - 1)
}

// Filterbank builds melCount triangular filters over bins magnitude bins
// spanning 0 Hz to sampleRate/2. Centres are evenly spaced in mel between
// minFreq and maxFreq; each row peaks at 1 on its centre bin frequency.
func Filterbank(bins, melCount int, minFreq, maxFreq float64, sampleRate int) [][]float64 {
	lo, hi := HzToMel(minFreq), HzToMel(maxFreq)
	edges := make([]float64, melCount+2)
	for i := range edges {
		edges[i] = MelToHz(lo + (hi-lo)*float64(i)/float64(melCount+1))
	}

	binHz := float64(sampleRate) / 2 / float64(max(bins-1, 1))
	bank := make([][]float64, melCount)
	for m := range bank {
		left, centre, right := edges[m], edges[m+1], edges[m+2]
		row := make([]float64, bins)
		for k := range row {
			f := float64(k) * binHz
			switch {
			case f > left && f <= centre:
				row[k] = (f - left) / (centre - left)
			case f > centre && f < right:
				row[k] = (right - f) / (right - centre)
			}
		}
		bank[m] = row
	}
	return bank
}
