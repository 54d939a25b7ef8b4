// Package engine implements the closed-loop control pipeline of a
// transfer-cavity laser-frequency stabilization system: the scan/acquire
// cycle, peak extraction, R-parameter geometry, PI feedback, lock-quality
// monitoring, and the sweep state machines layered over it.
package engine

import (
	"math"

	"github.com/ograsdijk/tclockd/internal/ioport"
)

// Channel is the analog channel numbering the engine uses: channel 0 is
// always the master photodiode; channel k (k >= 1) is slave k's
// photodiode.
type Channel = ioport.Channel

// ringSize is the length of the bounded MHz error history kept per channel.
const ringSize = 100

// errorRing is a fixed-capacity circular buffer of the last ringSize MHz
// error samples, with an RMS query over a trailing window.
type errorRing struct {
	buf   [ringSize]float64
	count int // number of samples ever pushed, saturating at ringSize
	next  int // index the next push will write to
}

func (r *errorRing) push(v float64) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % ringSize
	if r.count < ringSize {
		r.count++
	}
}

func (r *errorRing) reset() {
	*r = errorRing{}
}

// rms returns the RMS of the last min(window, count) pushed samples.
func (r *errorRing) rms(window int) float64 {
	n := r.count
	if window < n {
		n = window
	}
	if n == 0 {
		return 0
	}
	var sumSq float64
	idx := r.next
	for i := 0; i < n; i++ {
		idx = (idx - 1 + ringSize) % ringSize
		sumSq += r.buf[idx] * r.buf[idx]
	}
	return math.Sqrt(sumSq / float64(n))
}

// Peak is one sub-sample-refined extremum found by PeakFinder.
type Peak struct {
	TimeMs    float64
	Amplitude float64
}

// MasterState holds the most recently accepted pair of master peaks and
// the scalar error derived from them.
type MasterState struct {
	PeakTimes    [2]float64 // sorted, t1 < t2
	Interval     float64    // t2 - t1, ms
	ErrorMs      float64
	ErrorMsPrev  float64
	HasPeaks     bool
}

// SlaveState holds one slave's R-parameter tracking state.
type SlaveState struct {
	R            float64
	ErrorPrev    float64
	Error        float64
	PeakTimePrev float64
	PeakTime     float64
	Sector       int
	LockCount    int
	RejectCount  int
	HasPeak      bool
}

// LockConfig carries the per-degree-of-freedom tuning constants for one
// controlled channel (master cavity offset, or one slave's DC voltage).
type LockConfig struct {
	Kp, Ki          float64
	RMSThreshold    float64 // MHz, "locked" criterion
	RMSWindow       int     // samples
	PeakCriterion   float64 // kappa
}

// LockPoints holds the user-facing setpoints: the master's target time
// within the scan window, and each slave's target R.
type LockPoints struct {
	MasterMs     float64
	SlaveRTarget map[int]float64
}

// GeometryConstants are the frequencies and FSR needed to translate peak
// timings into MHz detunings.
type GeometryConstants struct {
	CavityFSRGHz  float64
	MasterFreqGHz float64
	SlaveFreqGHz  map[int]float64
}

// SlaveFSR returns F_s(k): the cavity FSR scaled to slave k's wavelength.
func (g GeometryConstants) SlaveFSR(slave int) float64 {
	fs := g.SlaveFreqGHz[slave]
	return g.CavityFSRGHz * fs / g.MasterFreqGHz
}

// EngineSnapshot is an immutable, point-in-time copy of the state a UI,
// telemetry drain, or operator console might want to read. LockEngine
// produces one per iteration; nothing downstream ever receives a live
// reference into engine-owned state.
type EngineSnapshot struct {
	Iteration    int64
	Master       MasterState
	MasterLocked bool
	Slaves       map[int]SlaveState
	SlaveLocked  map[int]bool
	ScanOffset   float64
	ScanHz       float64 // 10-sample moving average of the realized scan rate
}
