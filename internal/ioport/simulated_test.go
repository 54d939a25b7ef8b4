package ioport

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"periph.io/x/conn/v3/physic"
)

func Test_Simulated_ConfigureTiming_rejects_too_few_samples(t *testing.T) {
	s := NewSimulated(SimulatedConfig{})
	err := s.ConfigureTiming(context.Background(), 1, time.Millisecond)
	assert.Error(t, err)
}

func Test_Simulated_WriteRamp_requires_configured_timing_and_matching_length(t *testing.T) {
	s := NewSimulated(SimulatedConfig{})
	err := s.WriteRamp(context.Background(), 0, make([]physic.ElectricPotential, 10))
	assert.Error(t, err, "before ConfigureTiming")

	require.NoError(t, s.ConfigureTiming(context.Background(), 10, 10*time.Millisecond))
	assert.Error(t, s.WriteRamp(context.Background(), 0, make([]physic.ElectricPotential, 5)))
	assert.NoError(t, s.WriteRamp(context.Background(), 0, make([]physic.ElectricPotential, 10)))
}

func Test_Simulated_WriteDC_requires_matching_lengths(t *testing.T) {
	s := NewSimulated(SimulatedConfig{})
	err := s.WriteDC(context.Background(), []Channel{0, 1}, []physic.ElectricPotential{physic.Volt})
	assert.Error(t, err)
	assert.NoError(t, s.WriteDC(context.Background(), []Channel{0, 1}, []physic.ElectricPotential{physic.Volt, physic.Volt}))
}

func Test_Simulated_ReadSynchronized_requires_configured_timing_and_matching_sample_count(t *testing.T) {
	s := NewSimulated(SimulatedConfig{})
	_, err := s.ReadSynchronized(context.Background(), []Channel{0}, 100)
	assert.Error(t, err)

	require.NoError(t, s.ConfigureTiming(context.Background(), 100, 10*time.Millisecond))
	_, err = s.ReadSynchronized(context.Background(), []Channel{0}, 50)
	assert.Error(t, err)
}

func Test_Simulated_ReadSynchronized_master_channel_has_two_lorentzian_peaks(t *testing.T) {
	const n = 2000
	s := NewSimulated(SimulatedConfig{
		MasterPeaks: [2]SimulatedPeak{
			{TimeMs: 3.0, WidthMs: 0.05, Amplitude: physic.Volt},
			{TimeMs: 7.0, WidthMs: 0.05, Amplitude: physic.Volt},
		},
	})
	require.NoError(t, s.ConfigureTiming(context.Background(), n, 10*time.Millisecond))

	traces, err := s.ReadSynchronized(context.Background(), []Channel{0}, n)
	require.NoError(t, err)
	require.Len(t, traces, 1)

	master := traces[0]
	require.Len(t, master, n)

	durationMs := 10.0
	peakIdx := func(targetMs float64) int {
		return int(math.Round(targetMs / durationMs * float64(n-1)))
	}
	i1, i2 := peakIdx(3.0), peakIdx(7.0)

	// At a Lorentzian's center the amplitude is exactly the peak height;
	// a point far from both centers should read far lower.
	assert.InDelta(t, float64(physic.Volt), float64(master[i1]), float64(physic.Volt)*0.05)
	assert.InDelta(t, float64(physic.Volt), float64(master[i2]), float64(physic.Volt)*0.05)

	iFar := peakIdx(5.0)
	assert.Less(t, float64(master[iFar]), float64(physic.Volt)*0.5)
}

func Test_Simulated_ReadSynchronized_slave_channel_carries_its_configured_peak(t *testing.T) {
	const n = 2000
	s := NewSimulated(SimulatedConfig{
		MasterPeaks: [2]SimulatedPeak{
			{TimeMs: 3.0, WidthMs: 0.05, Amplitude: physic.Volt},
			{TimeMs: 7.0, WidthMs: 0.05, Amplitude: physic.Volt},
		},
		SlavePeaks: map[Channel]SimulatedPeak{
			1: {TimeMs: 5.0, WidthMs: 0.05, Amplitude: physic.Volt},
		},
	})
	require.NoError(t, s.ConfigureTiming(context.Background(), n, 10*time.Millisecond))

	traces, err := s.ReadSynchronized(context.Background(), []Channel{0, 1, 2}, n)
	require.NoError(t, err)
	require.Len(t, traces, 3)

	// Channel 2 has no configured slave peak: a flat (zero-baseline, no
	// noise) trace.
	for _, v := range traces[2] {
		assert.Equal(t, physic.ElectricPotential(0), v)
	}

	iMid := int(math.Round(5.0 / 10.0 * float64(n-1)))
	assert.InDelta(t, float64(physic.Volt), float64(traces[1][iMid]), float64(physic.Volt)*0.05)
}

func Test_Simulated_ReadSynchronized_noise_perturbs_a_flat_baseline(t *testing.T) {
	const n = 500
	s := NewSimulated(SimulatedConfig{
		Baseline:    physic.ElectricPotential(2 * float64(physic.Volt)),
		NoiseStdDev: physic.ElectricPotential(0.1 * float64(physic.Volt)),
	})
	require.NoError(t, s.ConfigureTiming(context.Background(), n, time.Millisecond))

	traces, err := s.ReadSynchronized(context.Background(), []Channel{5}, n)
	require.NoError(t, err)

	var sawAboveBaseline, sawBelowBaseline bool
	baseline := 2 * float64(physic.Volt)
	for _, v := range traces[0] {
		if float64(v) > baseline {
			sawAboveBaseline = true
		}
		if float64(v) < baseline {
			sawBelowBaseline = true
		}
	}
	assert.True(t, sawAboveBaseline)
	assert.True(t, sawBelowBaseline)
}

func Test_Simulated_SetScene_replaces_the_rendered_peaks(t *testing.T) {
	const n = 1000
	s := NewSimulated(SimulatedConfig{
		SlavePeaks: map[Channel]SimulatedPeak{1: {TimeMs: 2.0, WidthMs: 0.05, Amplitude: physic.Volt}},
	})
	require.NoError(t, s.ConfigureTiming(context.Background(), n, 10*time.Millisecond))

	s.SetScene(SimulatedConfig{
		SlavePeaks: map[Channel]SimulatedPeak{1: {TimeMs: 8.0, WidthMs: 0.05, Amplitude: physic.Volt}},
	})

	traces, err := s.ReadSynchronized(context.Background(), []Channel{1}, n)
	require.NoError(t, err)

	iOld := int(math.Round(2.0 / 10.0 * float64(n-1)))
	iNew := int(math.Round(8.0 / 10.0 * float64(n-1)))
	assert.Less(t, float64(traces[0][iOld]), float64(physic.Volt)*0.5, "old peak position should no longer carry the peak")
	assert.InDelta(t, float64(physic.Volt), float64(traces[0][iNew]), float64(physic.Volt)*0.05)
}

func Test_Simulated_ReadDC_returns_one_value_per_channel(t *testing.T) {
	s := NewSimulated(SimulatedConfig{Baseline: physic.Volt})
	require.NoError(t, s.ConfigureTiming(context.Background(), 10, time.Millisecond))

	out, err := s.ReadDC(context.Background(), []Channel{0, 1, 2}, 8)
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

func Test_Simulated_Close_is_a_no_op(t *testing.T) {
	s := NewSimulated(SimulatedConfig{})
	assert.NoError(t, s.Close())
}
