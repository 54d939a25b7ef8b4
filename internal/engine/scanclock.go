package engine

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
)

// ScanConfig is the ramp/timing configuration for one scan: a linear
// ramp of Samples points spanning [Offset, Offset+Amplitude] volts, over
// a window of Duration, clamped to [MinVolts, MaxVolts].
//
// Invariant: MinVolts <= Offset <= Offset+Amplitude <= MaxVolts.
type ScanConfig struct {
	MinVolts, MaxVolts physic.ElectricPotential
	Offset, Amplitude  physic.ElectricPotential
	Samples            int
	Duration           time.Duration
}

// ScanClock owns the ramp voltage grid and the companion sample-time grid
// derived from a ScanConfig, and re-derives both whenever the
// configuration changes.
type ScanClock struct {
	cfg   ScanConfig
	volts []physic.ElectricPotential
	times []time.Duration // nominal time of sample i, 0..Duration
}

// NewScanClock builds a ScanClock from cfg, clamping it into bounds as
// Reconfigure does.
func NewScanClock(cfg ScanConfig) (*ScanClock, error) {
	c := &ScanClock{}
	if err := c.Reconfigure(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

func clampConfig(cfg ScanConfig) ScanConfig {
	if cfg.Offset < cfg.MinVolts {
		cfg.Offset = cfg.MinVolts
	}
	if cfg.Offset > cfg.MaxVolts {
		cfg.Offset = cfg.MaxVolts
	}
	if cfg.Offset+cfg.Amplitude > cfg.MaxVolts {
		cfg.Amplitude = cfg.MaxVolts - cfg.Offset
	}
	if cfg.Amplitude < 0 {
		cfg.Amplitude = 0
	}
	return cfg
}

// Reconfigure rebuilds the ramp and time grids from cfg, clamping offset
// and amplitude into [MinVolts, MaxVolts]: offset is clamped first, then
// amplitude shrinks if offset+amplitude would exceed the upper bound.
func (c *ScanClock) Reconfigure(cfg ScanConfig) error {
	if cfg.Samples < 2 {
		return fmt.Errorf("engine: scan requires at least 2 samples, got %d", cfg.Samples)
	}
	if cfg.MinVolts > cfg.MaxVolts {
		return fmt.Errorf("engine: scan MinVolts %v exceeds MaxVolts %v", cfg.MinVolts, cfg.MaxVolts)
	}

	cfg = clampConfig(cfg)

	n := cfg.Samples
	volts := make([]physic.ElectricPotential, n)
	times := make([]time.Duration, n)
	for i := 0; i < n; i++ {
		frac := float64(i) / float64(n-1)
		volts[i] = cfg.Offset + physic.ElectricPotential(frac*float64(cfg.Amplitude))
		times[i] = time.Duration(frac * float64(cfg.Duration))
	}

	c.cfg = cfg
	c.volts = volts
	c.times = times
	return nil
}

// MoveOffset shifts the ramp's offset by delta volts, preserving
// amplitude, then re-clamps into bounds.
func (c *ScanClock) MoveOffset(delta physic.ElectricPotential) error {
	cfg := c.cfg
	cfg.Offset += delta
	return c.Reconfigure(cfg)
}

// Config returns the clock's current, already-clamped configuration.
func (c *ScanClock) Config() ScanConfig { return c.cfg }

// Volts returns the ramp's voltage grid, sample 0..Samples-1.
func (c *ScanClock) Volts() []physic.ElectricPotential { return c.volts }

// Times returns the nominal time of each sample, 0..Duration.
func (c *ScanClock) Times() []time.Duration { return c.times }

// SampleDeltaMs returns the time between adjacent samples, in
// milliseconds (delta-x for the PeakFinder derivative kernel).
func (c *ScanClock) SampleDeltaMs() float64 {
	if len(c.times) < 2 {
		return 0
	}
	return float64(c.times[1]-c.times[0]) / float64(time.Millisecond)
}
