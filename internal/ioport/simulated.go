package ioport

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"
)

// SimulatedPeak describes one synthetic Lorentzian transmission peak placed
// on a simulated photodiode trace.
type SimulatedPeak struct {
	TimeMs    float64 // position within the scan window
	WidthMs   float64 // Lorentzian half-width at half-maximum
	Amplitude physic.ElectricPotential
}

// SimulatedConfig describes the fixed scene a Simulated board renders: the
// master channel always carries exactly two peaks (the engine requires
// that for a valid frame); every other channel carries zero or one peak.
type SimulatedConfig struct {
	MasterPeaks  [2]SimulatedPeak
	SlavePeaks   map[Channel]SimulatedPeak // channel -> its one peak; absent = no peak this scan
	NoiseStdDev  physic.ElectricPotential
	Baseline     physic.ElectricPotential
	Rand         *rand.Rand
}

// Simulated is an in-process AnalogIO adapter that synthesizes photodiode
// traces instead of driving real hardware, so the engine and its tests can
// run without a board attached.
//
// It reproduces the scene-generation approach of the vendor simulation
// harness it stands in for: a sum of Lorentzian peaks plus Gaussian noise,
// sampled on the same grid the ramp output would occupy.
type Simulated struct {
	mu sync.Mutex

	cfg SimulatedConfig

	sampleCount int
	duration    time.Duration
	configured  bool
}

// NewSimulated constructs a simulated board rendering the given scene.
func NewSimulated(cfg SimulatedConfig) *Simulated {
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(1))
	}
	return &Simulated{cfg: cfg}
}

// SetScene replaces the peak scene rendered by subsequent reads, letting a
// test or a sweep-sequence harness move the simulated slave peak between
// scans without rebuilding the adapter.
func (s *Simulated) SetScene(cfg SimulatedConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Rand == nil {
		cfg.Rand = s.cfg.Rand
	}
	s.cfg = cfg
}

func (s *Simulated) ConfigureTiming(_ context.Context, sampleCount int, duration time.Duration) error {
	if sampleCount < 2 {
		return fmt.Errorf("ioport: sample count %d too small to configure timing", sampleCount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sampleCount = sampleCount
	s.duration = duration
	s.configured = true
	return nil
}

func (s *Simulated) WriteRamp(_ context.Context, _ Channel, samples []physic.ElectricPotential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.configured {
		return fmt.Errorf("ioport: WriteRamp before ConfigureTiming")
	}
	if len(samples) != s.sampleCount {
		return fmt.Errorf("ioport: ramp buffer has %d samples, want %d", len(samples), s.sampleCount)
	}
	return nil
}

func (s *Simulated) WriteDC(_ context.Context, channels []Channel, volts []physic.ElectricPotential) error {
	if len(channels) != len(volts) {
		return fmt.Errorf("ioport: %d channels but %d values", len(channels), len(volts))
	}
	return nil
}

// lorentzian evaluates a unit-height Lorentzian of half-width w centered at x0.
func lorentzian(x, x0, w float64) float64 {
	return (w * w) / ((x-x0)*(x-x0) + w*w)
}

func (s *Simulated) traceFor(channel Channel, n int, tMs []float64) []physic.ElectricPotential {
	out := make([]physic.ElectricPotential, n)
	baseline := float64(s.cfg.Baseline)
	noiseStd := float64(s.cfg.NoiseStdDev)

	var peaks []SimulatedPeak
	if channel == 0 {
		peaks = s.cfg.MasterPeaks[:]
	} else if p, ok := s.cfg.SlavePeaks[channel]; ok {
		peaks = []SimulatedPeak{p}
	}

	for i := 0; i < n; i++ {
		v := baseline
		for _, p := range peaks {
			v += float64(p.Amplitude) * lorentzian(tMs[i], p.TimeMs, p.WidthMs)
		}
		if noiseStd > 0 {
			v += s.cfg.Rand.NormFloat64() * noiseStd
		}
		out[i] = physic.ElectricPotential(v)
	}
	return out
}

func (s *Simulated) ReadSynchronized(_ context.Context, channels []Channel, sampleCount int) ([][]physic.ElectricPotential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.configured {
		return nil, fmt.Errorf("ioport: ReadSynchronized before ConfigureTiming")
	}
	if sampleCount != s.sampleCount {
		return nil, fmt.Errorf("ioport: requested %d samples, configured for %d", sampleCount, s.sampleCount)
	}

	durationMs := float64(s.duration.Milliseconds())
	tMs := make([]float64, sampleCount)
	for i := 0; i < sampleCount; i++ {
		tMs[i] = float64(i) * durationMs / float64(sampleCount-1)
	}

	traces := make([][]physic.ElectricPotential, len(channels))
	for ci, ch := range channels {
		traces[ci] = s.traceFor(ch, sampleCount, tMs)
	}
	return traces, nil
}

func (s *Simulated) ReadDC(_ context.Context, channels []Channel, sampleCount int) ([]physic.ElectricPotential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]physic.ElectricPotential, len(channels))
	for i, ch := range channels {
		_ = ch
		v := float64(s.cfg.Baseline)
		for k := 0; k < sampleCount; k++ {
			v += s.cfg.Rand.NormFloat64() * float64(s.cfg.NoiseStdDev) / math.Sqrt(float64(sampleCount))
		}
		out[i] = physic.ElectricPotential(v)
	}
	return out, nil
}

func (s *Simulated) Close() error {
	return nil
}
