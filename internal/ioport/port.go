// Package ioport defines the AnalogIO capability the control loop drives: a
// synchronized ramp-output/sample-input board abstraction. The core never
// talks to a DAQ board directly; it only ever sees this interface, injected
// by whatever composes the engine (a real board driver, or the simulated
// adapter in this package).
package ioport

import (
	"context"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Channel identifies one analog line on the board. Channel 0 is always the
// master photodiode input by convention of the engine that consumes this
// port; output channels are named independently of input channels.
type Channel int

// AnalogIO is the synchronized ramp-output/sample-input capability a DAQ
// board or simulator exposes. Only the control-loop task may call it;
// implementations do not need to be safe for concurrent use by multiple
// goroutines.
type AnalogIO interface {
	// ConfigureTiming arranges the input read clock to be slaved to the
	// output ramp clock, for a scan of sampleCount samples over duration.
	// Failure here is fatal for the whole run, not just one iteration.
	ConfigureTiming(ctx context.Context, sampleCount int, duration time.Duration) error

	// WriteRamp drives one output channel with exactly sampleCount samples,
	// starting the synchronized acquisition. The buffer length must equal
	// the sampleCount passed to the most recent ConfigureTiming call.
	WriteRamp(ctx context.Context, channel Channel, samples []physic.ElectricPotential) error

	// WriteDC sets a constant voltage on each of the given channels.
	WriteDC(ctx context.Context, channels []Channel, volts []physic.ElectricPotential) error

	// ReadSynchronized blocks until sampleCount samples are available on
	// every requested channel, time-aligned to the ramp written by
	// WriteRamp: result[c][i] corresponds to output sample i.
	ReadSynchronized(ctx context.Context, channels []Channel, sampleCount int) ([][]physic.ElectricPotential, error)

	// ReadDC returns the mean of sampleCount samples per channel, for
	// low-bandwidth monitoring (e.g. laser power).
	ReadDC(ctx context.Context, channels []Channel, sampleCount int) ([]physic.ElectricPotential, error)

	// Close releases any resources held by the board connection. The
	// control loop calls this once, on shutdown, after its last iteration.
	Close() error
}
