package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"periph.io/x/conn/v3/physic"
)

func Test_NewScanClock_rejects_degenerate_configs(t *testing.T) {
	_, err := NewScanClock(ScanConfig{Samples: 1, MinVolts: 0, MaxVolts: physic.Volt, Duration: time.Second})
	assert.Error(t, err)

	_, err = NewScanClock(ScanConfig{Samples: 10, MinVolts: physic.Volt, MaxVolts: 0, Duration: time.Second})
	assert.Error(t, err)
}

func Test_ScanClock_clamps_offset_into_bounds(t *testing.T) {
	c, err := NewScanClock(ScanConfig{
		MinVolts: 0, MaxVolts: 5 * physic.Volt,
		Offset: -1 * physic.Volt, Amplitude: physic.Volt,
		Samples: 10, Duration: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, physic.ElectricPotential(0), c.Config().Offset)
}

func Test_ScanClock_shrinks_amplitude_when_offset_plus_amplitude_exceeds_max(t *testing.T) {
	c, err := NewScanClock(ScanConfig{
		MinVolts: 0, MaxVolts: 5 * physic.Volt,
		Offset: 4 * physic.Volt, Amplitude: 3 * physic.Volt,
		Samples: 10, Duration: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, physic.ElectricPotential(4*physic.Volt), c.Config().Offset)
	assert.Equal(t, physic.ElectricPotential(physic.Volt), c.Config().Amplitude)
}

func Test_ScanClock_MoveOffset_is_additive_and_reclamps(t *testing.T) {
	c, err := NewScanClock(ScanConfig{
		MinVolts: 0, MaxVolts: 5 * physic.Volt,
		Offset: physic.Volt, Amplitude: physic.Volt,
		Samples: 10, Duration: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, c.MoveOffset(2*physic.Volt))
	assert.Equal(t, physic.ElectricPotential(3*physic.Volt), c.Config().Offset)

	// Push it far past the upper bound; offset clamps to MaxVolts and
	// amplitude shrinks to zero rather than going negative.
	require.NoError(t, c.MoveOffset(100*physic.Volt))
	assert.Equal(t, physic.ElectricPotential(5*physic.Volt), c.Config().Offset)
	assert.Equal(t, physic.ElectricPotential(0), c.Config().Amplitude)
}

func Test_ScanClock_volts_and_times_are_monotonic_and_span_the_window(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 500).Draw(t, "samples")
		durMs := rapid.IntRange(1, 1000).Draw(t, "durationMs")

		c, err := NewScanClock(ScanConfig{
			MinVolts: 0, MaxVolts: 10 * physic.Volt,
			Offset: physic.Volt, Amplitude: 2 * physic.Volt,
			Samples: n, Duration: time.Duration(durMs) * time.Millisecond,
		})
		require.NoError(t, err)

		volts := c.Volts()
		times := c.Times()
		require.Len(t, volts, n)
		require.Len(t, times, n)

		for i := 1; i < n; i++ {
			assert.GreaterOrEqual(t, times[i], times[i-1])
			assert.GreaterOrEqual(t, volts[i], volts[i-1])
		}
		assert.Equal(t, time.Duration(0), times[0])
		assert.Equal(t, c.Config().Offset, volts[0])
	})
}
