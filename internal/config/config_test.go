package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ograsdijk/tclockd/internal/engine"
	"github.com/ograsdijk/tclockd/internal/ioport"
)

const sampleConfig = `
# a comment line, and a blank line below

[DAQ]
DeviceName Dev1

[WAVEMETER]
IP 10.0.0.5
Port 7171
Laser1 master
Laser2 slave1

[CAVITY]
RMS 20
LockThreshold 0.5
PeakCriterion 0.1
ScanTime 10
ScanSamples 2000
ScanOffset 2.0
ScanAmplitude 3.0
PGain 0.1
IGain 0.01
FSR 1500
Wavelength 1064.0
Lockpoint 3.0
MinVoltage 0
MaxVoltage 5
InputChannel 0
OutputChannel 9

[LASER1]
LockpointMHz 0
Wavelength 1064.0
PeakCriterion 0.1
LockThreshold 0.5
PGain 0.1
IGain 0.01
MinVoltage 0
MaxVoltage 5
SetVoltage 2.5
InputChannel 1
OutputChannel 2
PowerChannel 3
ThisKeyDoesNotExist 42
`

func Test_Parse_reads_every_recognized_section(t *testing.T) {
	cfg, warnings, err := Parse(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "ThisKeyDoesNotExist")

	assert.Equal(t, "Dev1", cfg.DAQ.DeviceName)
	assert.Equal(t, "10.0.0.5", cfg.Wavemeter.IP)
	assert.Equal(t, 7171, cfg.Wavemeter.Port)
	assert.Equal(t, 20, cfg.Cavity.RMS)
	assert.Equal(t, 2000, cfg.Cavity.ScanSamples)
	assert.Equal(t, 1500.0, cfg.Cavity.FSRMHz)

	require.Contains(t, cfg.Lasers, 1)
	assert.Equal(t, 1064.0, cfg.Lasers[1].WavelengthNm)
	assert.Equal(t, 3, cfg.Lasers[1].PowerChannel)
	assert.False(t, cfg.Lasers[1].HasLockpointR)
}

func Test_Parse_rejects_unrecognized_section(t *testing.T) {
	_, _, err := Parse(strings.NewReader("[NOTASECTION]\nFoo bar\n"))
	require.Error(t, err)
	var cfgErr *engine.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func Test_Parse_rejects_malformed_numeric_value(t *testing.T) {
	_, _, err := Parse(strings.NewReader("[CAVITY]\nScanSamples not-a-number\n"))
	require.Error(t, err)
	var cfgErr *engine.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func Test_Parse_warns_on_key_outside_any_section(t *testing.T) {
	_, warnings, err := Parse(strings.NewReader("Foo bar\n[DAQ]\nDeviceName Dev1\n"))
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "outside of any section")
}

func Test_Parse_LockpointR_sets_HasLockpointR(t *testing.T) {
	cfg, _, err := Parse(strings.NewReader("[LASER2]\nLockpointR 0.75\nWavelength 1064\nInputChannel 1\nOutputChannel 2\nPowerChannel 3\n"))
	require.NoError(t, err)
	require.Contains(t, cfg.Lasers, 2)
	assert.True(t, cfg.Lasers[2].HasLockpointR)
	assert.Equal(t, 0.75, cfg.Lasers[2].LockpointR)
}

func Test_ToEngineConfig_converts_wavelength_to_frequency_and_passes_through_ramp_channel(t *testing.T) {
	cfg, _, err := Parse(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	engineCfg, rampChannel, err := cfg.ToEngineConfig()
	require.NoError(t, err)

	assert.Equal(t, ioport.Channel(9), rampChannel)
	assert.InDelta(t, speedOfLightNmGHz/1064.0, engineCfg.Geometry.MasterFreqGHz, 1e-6)
	assert.InDelta(t, 1.5, engineCfg.Geometry.CavityFSRGHz, 1e-9)
	assert.Equal(t, 2000, engineCfg.Scan.Samples)
	assert.Equal(t, 3.0, engineCfg.LockPoints.MasterMs)

	require.Len(t, engineCfg.Slaves, 1)
	assert.Equal(t, 1, engineCfg.Slaves[0].Index)
	// LockpointMHz 0 with no explicit LockpointR resolves to R = 0.5.
	assert.InDelta(t, 0.5, engineCfg.LockPoints.SlaveRTarget[1], 1e-9)
}

func Test_ToEngineConfig_rejects_too_few_scan_samples(t *testing.T) {
	cfg, _, err := Parse(strings.NewReader("[CAVITY]\nScanSamples 1\nWavelength 1064\n"))
	require.NoError(t, err)
	_, _, err = cfg.ToEngineConfig()
	assert.Error(t, err)
}

func Test_ToEngineConfig_rejects_nonpositive_wavelength(t *testing.T) {
	cfg, _, err := Parse(strings.NewReader("[CAVITY]\nScanSamples 10\nWavelength 0\n"))
	require.NoError(t, err)
	_, _, err = cfg.ToEngineConfig()
	assert.Error(t, err)
}

func Test_ToEngineConfig_rejects_nonpositive_laser_wavelength(t *testing.T) {
	cfg, _, err := Parse(strings.NewReader(
		"[CAVITY]\nScanSamples 10\nWavelength 1064\n[LASER1]\nWavelength 0\n"))
	require.NoError(t, err)
	_, _, err = cfg.ToEngineConfig()
	assert.Error(t, err)
}

func Test_ToEngineConfig_explicit_LockpointR_overrides_LockpointMHz(t *testing.T) {
	cfg, _, err := Parse(strings.NewReader(
		"[CAVITY]\nScanSamples 10\nWavelength 1064\nFSR 1500\n[LASER1]\nWavelength 1064\nLockpointR 0.8\nLockpointMHz 999\n"))
	require.NoError(t, err)
	engineCfg, _, err := cfg.ToEngineConfig()
	require.NoError(t, err)
	assert.InDelta(t, 0.8, engineCfg.LockPoints.SlaveRTarget[1], 1e-9)
}
