package engine

// PeakFinderConfig carries the one per-channel tunable the peak-detection
// pipeline needs: the amplitude gate criterion kappa.
type PeakFinderConfig struct {
	Kappa float64
}

// sgFirstDerivativeKernel is the 7-tap Savitzky-Golay first-derivative
// kernel, unscaled; dividing by sgKernelNorm and the sample spacing gives
// the derivative estimate at the kernel's center tap.
var sgFirstDerivativeKernel = [7]float64{-3, -2, -1, 0, 1, 2, 3}

const sgKernelNorm = 10.0

// emphasisHalfWidth is the emphasis filter's half-window k.
const emphasisHalfWidth = 10

// deadZoneMultiplier is the number of detection windows skipped after
// accepting a peak, so a single cavity resonance isn't double-counted.
const deadZoneMultiplier = 10

// FindPeaks turns one scan's photodiode trace into a set of sub-sample
// peak times: baseline removal, emphasis filter, Savitzky-Golay first
// derivative, zero-crossing detection gated by amplitude, sub-sample
// line-fit refinement, and a dead zone after each accepted peak.
//
// sampleTimesMs must be the same length as trace and strictly increasing.
func FindPeaks(trace []float64, sampleTimesMs []float64, cfg PeakFinderConfig) []Peak {
	n := len(trace)
	if n < 4*emphasisHalfWidth || len(sampleTimesMs) != n {
		return nil
	}

	y := removeBaseline(trace)
	y = applyEmphasisFilter(y)

	dx := sampleTimesMs[1] - sampleTimesMs[0]
	d := firstDerivative(y, dx)

	w := n / 200
	if w < 1 {
		w = 1
	}
	start := int(0.2 * float64(n))
	end := n - w
	if start < 4 {
		start = 4
	}
	peakMax := maxOf(y)

	var peaks []Peak
	for i := start; i < end; i++ {
		// d is positive while y rises, so it falls through zero at a
		// local maximum of y.
		if !(d[i-1] > 0 && d[i] < 0) {
			continue
		}
		lo, hi := i-w, i+w
		if lo < 0 {
			lo = 0
		}
		if hi > n {
			hi = n
		}
		if maxOf(y[lo:hi]) <= cfg.Kappa*peakMax {
			continue
		}
		t, amp, ok := refinePeak(d, sampleTimesMs, i, w, y)
		if !ok {
			continue
		}
		peaks = append(peaks, Peak{TimeMs: t, Amplitude: amp})
		i += deadZoneMultiplier * w
	}
	return peaks
}

// removeBaseline subtracts the mean of the last 80% of samples; the
// first 20% are known to carry piezo inrush noise and are excluded from
// the mean (though still present, shifted, in the output).
func removeBaseline(trace []float64) []float64 {
	n := len(trace)
	discard := int(0.2 * float64(n))
	var sum float64
	for _, v := range trace[discard:] {
		sum += v
	}
	mean := sum / float64(n-discard)

	out := make([]float64, n)
	for i, v := range trace {
		out[i] = v - mean
	}
	return out
}

// applyEmphasisFilter replaces y[i] with y[i]^2 - y[i-k]*y[i+k] for every
// index with a full window on both sides; samples near either edge pass
// through unchanged. Reads the pre-filter values throughout, so a later
// replacement never sees an already-replaced sample.
func applyEmphasisFilter(y []float64) []float64 {
	n := len(y)
	k := emphasisHalfWidth
	out := make([]float64, n)
	copy(out, y)
	for i := k; i < n-k; i++ {
		out[i] = y[i]*y[i] - y[i-k]*y[i+k]
	}
	return out
}

// firstDerivative convolves y with the 7-tap Savitzky-Golay
// first-derivative kernel, scaled by 1/dxMs. Samples within 3 of either
// edge (where the kernel doesn't fully overlap the trace) are left zero;
// the zero-crossing scan never looks there.
func firstDerivative(y []float64, dxMs float64) []float64 {
	n := len(y)
	d := make([]float64, n)
	if dxMs == 0 {
		return d
	}
	for i := 3; i < n-3; i++ {
		var sum float64
		for j, coeff := range sgFirstDerivativeKernel {
			sum += coeff * y[i-3+j]
		}
		d[i] = (sum / sgKernelNorm) / dxMs
	}
	return d
}

// refinePeak least-squares-fits the derivative window around i against
// the sample-time grid and returns the line's x-intercept, the
// sub-sample-refined peak time.
func refinePeak(d, tMs []float64, i, w int, y []float64) (timeMs, amplitude float64, ok bool) {
	n := len(d)
	lo, hi := i-w, i+w+1
	if lo < 0 || hi > n {
		return 0, 0, false
	}
	xs, ys := tMs[lo:hi], d[lo:hi]

	var sumX, sumY, sumXY, sumXX float64
	m := float64(len(xs))
	for j := range xs {
		sumX += xs[j]
		sumY += ys[j]
		sumXY += xs[j] * ys[j]
		sumXX += xs[j] * xs[j]
	}
	denom := m*sumXX - sumX*sumX
	if denom == 0 {
		return 0, 0, false
	}
	a := (m*sumXY - sumX*sumY) / denom
	if a == 0 {
		return 0, 0, false
	}
	b := (sumY - a*sumX) / m
	return -b / a, y[i], true
}

func maxOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := xs[0]
	for _, v := range xs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
