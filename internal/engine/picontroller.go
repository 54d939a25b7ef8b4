package engine

// Fixed scaling constants calibrating order-1 user gains to the unit
// systems in play (ms for the time step, MHz/R for the error).
const (
	piAlpha = 0.05
	piBeta  = 10000.0
)

// PIController is a velocity-form PI loop: each update nudges the output
// by a term proportional to the change in error plus a term proportional
// to the error itself, rather than integrating an absolute accumulator.
// One instance controls one degree of freedom (the cavity offset, or one
// slave's DC voltage).
type PIController struct {
	Kp, Ki float64

	output    float64
	ePrev     float64
	lastDelta float64

	bounded  bool
	min, max float64
}

// NewPIController returns an unbounded controller.
func NewPIController(kp, ki float64) *PIController {
	return &PIController{Kp: kp, Ki: ki}
}

// NewBoundedPIController returns a controller whose output is clamped to
// [min, max] after every update.
func NewBoundedPIController(kp, ki, min, max float64) *PIController {
	return &PIController{Kp: kp, Ki: ki, bounded: true, min: min, max: max}
}

// Update advances the controller by one iteration given the current
// error e (in MHz or R units, matching the degree of freedom) and the
// iteration interval deltaMs, returning the new output.
func (p *PIController) Update(e, deltaMs float64) float64 {
	delta := piAlpha*p.Kp*(e-p.ePrev) + p.Ki*e*deltaMs/piBeta
	u := p.output + delta
	if p.bounded {
		if u < p.min {
			u = p.min
		}
		if u > p.max {
			u = p.max
		}
	}
	p.lastDelta = u - p.output
	p.output = u
	p.ePrev = e
	return u
}

// Output returns the controller's current output without advancing it.
func (p *PIController) Output() float64 { return p.output }

// LastDelta returns the change applied to the output by the most recent
// Update call (after clamping). A degree of freedom driven through an
// additive actuator (ScanClock.MoveOffset) applies this increment rather
// than Output's absolute value; one driven through an absolute set
// (AnalogIO.WriteDC) uses Output directly.
func (p *PIController) LastDelta() float64 { return p.lastDelta }

// Reset zeroes the controller's output and error memory, as happens when
// its owning lock is disengaged.
func (p *PIController) Reset() {
	p.output = 0
	p.ePrev = 0
	p.lastDelta = 0
}
