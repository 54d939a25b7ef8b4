package engine

import "math"

// ComputeR returns the R-parameter for a slave peak at ts given sorted
// master peaks t1 < t2: R = (t1-ts)/(t1-t2). R = 0.5 is zero detuning.
func ComputeR(t1, t2, ts float64) float64 {
	return (t1 - ts) / (t1 - t2)
}

// DetuningMHz converts an R-parameter to a detuning in MHz relative to
// the master, given the slave-scaled FSR slaveFSRGHz (F_s).
func DetuningMHz(r, slaveFSRGHz float64) float64 {
	return -(r - 0.5) * slaveFSRGHz * 1000
}

// AbsoluteFrequencyMHz folds a sector count back into an absolute
// detuning: sector full-FSR wraps plus the within-sector detuning.
func AbsoluteFrequencyMHz(sector int, cavityFSRGHz, detuningMHz float64) float64 {
	return float64(sector)*cavityFSRGHz*1000 + detuningMHz
}

// ResolveSetpoint translates a user-requested detuning (in MHz, signed,
// unrestricted range) into a sector count and an R_target: detunings
// larger in magnitude than half the FSR are folded into a sector count so
// arbitrary detunings are representable.
func ResolveSetpoint(detuningMHz, cavityFSRGHz, slaveFSRGHz float64) (sector int, rTarget float64) {
	halfFSR := cavityFSRGHz * 500
	fullFSR := cavityFSRGHz * 1000

	d := detuningMHz
	if math.Abs(d) > halfFSR && fullFSR > 0 {
		n := math.Ceil((math.Abs(d) - halfFSR) / fullFSR)
		if d < 0 {
			n = -n
		}
		sector = int(n)
		d -= float64(sector) * fullFSR
	}

	rTarget = 0.5 - d/(slaveFSRGHz*1000)
	return sector, rTarget
}
