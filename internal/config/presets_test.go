package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePresets = `
- name: slave1-wide
  slave: 1
  mode: discrete
  start_mhz: -50
  stop_mhz: 50
  step_mhz: 5
  dwell_s: 2
- name: slave2-ramp
  slave: 2
  mode: continuous
  start_mhz: -20
  stop_mhz: 20
  speed_mhz_per_sec: 1.5
`

func Test_LoadSweepPresets_reads_every_preset(t *testing.T) {
	presets, err := LoadSweepPresets(strings.NewReader(samplePresets))
	require.NoError(t, err)
	require.Len(t, presets, 2)

	assert.Equal(t, "slave1-wide", presets[0].Name)
	assert.Equal(t, 1, presets[0].Slave)
	assert.Equal(t, "discrete", presets[0].Mode)
	assert.Equal(t, -50.0, presets[0].StartMHz)
	assert.Equal(t, 5.0, presets[0].StepMHz)
	assert.Equal(t, 2.0, presets[0].DwellSeconds)

	assert.Equal(t, "slave2-ramp", presets[1].Name)
	assert.Equal(t, "continuous", presets[1].Mode)
	assert.Equal(t, 1.5, presets[1].SpeedMHzPerSec)
}

func Test_LoadSweepPresets_rejects_missing_name(t *testing.T) {
	_, err := LoadSweepPresets(strings.NewReader(`
- name: ""
  slave: 1
  mode: discrete
  start_mhz: 0
  stop_mhz: 1
`))
	assert.Error(t, err)
}

func Test_LoadSweepPresets_rejects_unrecognized_mode(t *testing.T) {
	_, err := LoadSweepPresets(strings.NewReader(`
- name: bad
  slave: 1
  mode: sawtooth
  start_mhz: 0
  stop_mhz: 1
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized mode")
}

func Test_LoadSweepPresetsFile_reports_a_clear_error_on_missing_file(t *testing.T) {
	_, err := LoadSweepPresetsFile("/no/such/path/presets.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "presets.yaml")
}

func Test_FindPreset_hit_and_miss(t *testing.T) {
	presets, err := LoadSweepPresets(strings.NewReader(samplePresets))
	require.NoError(t, err)

	found, ok := FindPreset(presets, "slave2-ramp")
	require.True(t, ok)
	assert.Equal(t, 2, found.Slave)

	_, ok = FindPreset(presets, "does-not-exist")
	assert.False(t, ok)
}
