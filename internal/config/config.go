// Package config reads the keyed-section configuration file format
// (sections DAQ, WAVEMETER, CAVITY, LASER1, LASER2) describing the cavity
// scan and the master/slave locks: a line-oriented bufio.Scanner,
// case-insensitive keyword matching, and line-numbered warnings for
// unrecognized keys rather than hard failures.
package config

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/ograsdijk/tclockd/internal/engine"
	"github.com/ograsdijk/tclockd/internal/ioport"
)

// speedOfLightNmGHz is c expressed so that GHz = speedOfLightNmGHz / nm,
// used to turn a configured wavelength into f_m / f_s(k).
const speedOfLightNmGHz = 2.99792458e8

// DAQSection holds the DAQ section's recognized keys.
type DAQSection struct {
	DeviceName string
}

// WavemeterSection holds the WAVEMETER section's recognized keys.
type WavemeterSection struct {
	IP     string
	Port   int
	Laser1 string
	Laser2 string
}

// CavitySection holds the CAVITY section's recognized keys.
type CavitySection struct {
	RMS           int
	LockThreshold float64
	PeakCriterion float64
	ScanTimeMs    float64
	ScanSamples   int
	ScanOffsetV   float64
	ScanAmplitude float64
	PGain         float64
	IGain         float64
	FSRMHz        float64
	WavelengthNm  float64
	LockpointMs   float64
	MinVoltage    float64
	MaxVoltage    float64
	InputChannel  int
	OutputChannel int
}

// LaserSection holds one LASERk section's recognized keys.
type LaserSection struct {
	LockpointR    float64
	HasLockpointR bool
	LockpointMHz  float64
	WavelengthNm  float64
	PeakCriterion float64
	LockThreshold float64
	PGain         float64
	IGain         float64
	MinVoltage    float64
	MaxVoltage    float64
	SetVoltage    float64
	InputChannel  int
	OutputChannel int
	PowerChannel  int
}

// Config is the parsed, still-raw configuration file. Call ToEngineConfig
// to build the types internal/engine actually consumes.
type Config struct {
	DAQ       DAQSection
	Wavemeter WavemeterSection
	Cavity    CavitySection
	Lasers    map[int]LaserSection
}

var knownSections = map[string]bool{
	"DAQ":       true,
	"WAVEMETER": true,
	"CAVITY":    true,
	"LASER1":    true,
	"LASER2":    true,
}

// Parse reads a configuration file from r, returning the parsed config,
// a list of line-numbered warnings for unrecognized keys, and an error
// only for a hard failure: an unrecognized section name, or a malformed
// value for a recognized key.
func Parse(r io.Reader) (*Config, []string, error) {
	cfg := &Config{Lasers: make(map[int]LaserSection)}
	var warnings []string

	var section string
	var laser LaserSection
	var laserIdx int
	var laserOpen bool

	flushLaser := func() {
		if laserOpen {
			cfg.Lasers[laserIdx] = laser
		}
	}

	line := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, ";") {
			continue
		}

		if strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]") {
			name := strings.ToUpper(strings.TrimSpace(text[1 : len(text)-1]))
			if !knownSections[name] {
				return nil, warnings, &engine.ConfigurationError{Reason: fmt.Sprintf("line %d: unrecognized section [%s]", line, name)}
			}
			if laserOpen {
				flushLaser()
			}
			section = name
			if strings.HasPrefix(section, "LASER") {
				idx, _ := strconv.Atoi(strings.TrimPrefix(section, "LASER"))
				laserIdx = idx
				laser = LaserSection{}
				laserOpen = true
			} else {
				laserOpen = false
			}
			continue
		}

		fields := strings.Fields(text)
		if len(fields) < 2 {
			warnings = append(warnings, fmt.Sprintf("line %d: expected \"Key value\", got %q", line, text))
			continue
		}
		key, value := fields[0], strings.Join(fields[1:], " ")

		var warn string
		var err error
		switch section {
		case "DAQ":
			warn, err = setDAQ(&cfg.DAQ, key, value, line)
		case "WAVEMETER":
			warn, err = setWavemeter(&cfg.Wavemeter, key, value, line)
		case "CAVITY":
			warn, err = setCavity(&cfg.Cavity, key, value, line)
		default:
			if laserOpen {
				warn, err = setLaser(&laser, key, value, line)
			} else {
				warn = fmt.Sprintf("line %d: key %q outside of any section", line, key)
			}
		}
		if err != nil {
			return nil, warnings, err
		}
		if warn != "" {
			warnings = append(warnings, warn)
		}
	}
	if laserOpen {
		flushLaser()
	}
	if err := scanner.Err(); err != nil {
		return nil, warnings, fmt.Errorf("config: reading: %w", err)
	}
	return cfg, warnings, nil
}

func setDAQ(s *DAQSection, key, value string, line int) (string, error) {
	switch {
	case strings.EqualFold(key, "DeviceName"):
		s.DeviceName = value
	default:
		return fmt.Sprintf("line %d: unrecognized DAQ key %q", line, key), nil
	}
	return "", nil
}

func setWavemeter(s *WavemeterSection, key, value string, line int) (string, error) {
	switch {
	case strings.EqualFold(key, "IP"):
		s.IP = value
	case strings.EqualFold(key, "Port"):
		n, err := strconv.Atoi(value)
		if err != nil {
			return "", &engine.ConfigurationError{Reason: fmt.Sprintf("line %d: WAVEMETER Port: %v", line, err)}
		}
		s.Port = n
	case strings.EqualFold(key, "Laser1"):
		s.Laser1 = value
	case strings.EqualFold(key, "Laser2"):
		s.Laser2 = value
	default:
		return fmt.Sprintf("line %d: unrecognized WAVEMETER key %q", line, key), nil
	}
	return "", nil
}

func setCavity(s *CavitySection, key, value string, line int) (string, error) {
	var f float64
	var i int
	var err error

	switch {
	case strings.EqualFold(key, "RMS"):
		i, err = strconv.Atoi(value)
		s.RMS = i
	case strings.EqualFold(key, "LockThreshold"):
		f, err = strconv.ParseFloat(value, 64)
		s.LockThreshold = f
	case strings.EqualFold(key, "PeakCriterion"):
		f, err = strconv.ParseFloat(value, 64)
		s.PeakCriterion = f
	case strings.EqualFold(key, "ScanTime"):
		f, err = strconv.ParseFloat(value, 64)
		s.ScanTimeMs = f
	case strings.EqualFold(key, "ScanSamples"):
		i, err = strconv.Atoi(value)
		s.ScanSamples = i
	case strings.EqualFold(key, "ScanOffset"):
		f, err = strconv.ParseFloat(value, 64)
		s.ScanOffsetV = f
	case strings.EqualFold(key, "ScanAmplitude"):
		f, err = strconv.ParseFloat(value, 64)
		s.ScanAmplitude = f
	case strings.EqualFold(key, "PGain"):
		f, err = strconv.ParseFloat(value, 64)
		s.PGain = f
	case strings.EqualFold(key, "IGain"):
		f, err = strconv.ParseFloat(value, 64)
		s.IGain = f
	case strings.EqualFold(key, "FSR"):
		f, err = strconv.ParseFloat(value, 64)
		s.FSRMHz = f
	case strings.EqualFold(key, "Wavelength"):
		f, err = strconv.ParseFloat(value, 64)
		s.WavelengthNm = f
	case strings.EqualFold(key, "Lockpoint"):
		f, err = strconv.ParseFloat(value, 64)
		s.LockpointMs = f
	case strings.EqualFold(key, "MinVoltage"):
		f, err = strconv.ParseFloat(value, 64)
		s.MinVoltage = f
	case strings.EqualFold(key, "MaxVoltage"):
		f, err = strconv.ParseFloat(value, 64)
		s.MaxVoltage = f
	case strings.EqualFold(key, "InputChannel"):
		i, err = strconv.Atoi(value)
		s.InputChannel = i
	case strings.EqualFold(key, "OutputChannel"):
		i, err = strconv.Atoi(value)
		s.OutputChannel = i
	default:
		return fmt.Sprintf("line %d: unrecognized CAVITY key %q", line, key), nil
	}
	if err != nil {
		return "", &engine.ConfigurationError{Reason: fmt.Sprintf("line %d: CAVITY %s: %v", line, key, err)}
	}
	return "", nil
}

func setLaser(s *LaserSection, key, value string, line int) (string, error) {
	var f float64
	var i int
	var err error

	switch {
	case strings.EqualFold(key, "LockpointR"):
		f, err = strconv.ParseFloat(value, 64)
		s.LockpointR, s.HasLockpointR = f, true
	case strings.EqualFold(key, "LockpointMHz"):
		f, err = strconv.ParseFloat(value, 64)
		s.LockpointMHz = f
	case strings.EqualFold(key, "Wavelength"):
		f, err = strconv.ParseFloat(value, 64)
		s.WavelengthNm = f
	case strings.EqualFold(key, "PeakCriterion"):
		f, err = strconv.ParseFloat(value, 64)
		s.PeakCriterion = f
	case strings.EqualFold(key, "LockThreshold"):
		f, err = strconv.ParseFloat(value, 64)
		s.LockThreshold = f
	case strings.EqualFold(key, "PGain"):
		f, err = strconv.ParseFloat(value, 64)
		s.PGain = f
	case strings.EqualFold(key, "IGain"):
		f, err = strconv.ParseFloat(value, 64)
		s.IGain = f
	case strings.EqualFold(key, "MinVoltage"):
		f, err = strconv.ParseFloat(value, 64)
		s.MinVoltage = f
	case strings.EqualFold(key, "MaxVoltage"):
		f, err = strconv.ParseFloat(value, 64)
		s.MaxVoltage = f
	case strings.EqualFold(key, "SetVoltage"):
		f, err = strconv.ParseFloat(value, 64)
		s.SetVoltage = f
	case strings.EqualFold(key, "InputChannel"):
		i, err = strconv.Atoi(value)
		s.InputChannel = i
	case strings.EqualFold(key, "OutputChannel"):
		i, err = strconv.Atoi(value)
		s.OutputChannel = i
	case strings.EqualFold(key, "PowerChannel"):
		i, err = strconv.Atoi(value)
		s.PowerChannel = i
	default:
		return fmt.Sprintf("line %d: unrecognized LASER key %q", line, key), nil
	}
	if err != nil {
		return "", &engine.ConfigurationError{Reason: fmt.Sprintf("line %d: LASER %s: %v", line, key, err)}
	}
	return "", nil
}

// ToEngineConfig builds the engine.EngineConfig the lock engine consumes
// from the parsed file, converting wavelengths to frequencies and
// FSR/time units from file units (MHz, ms, V) to the engine's internal
// units (GHz, ms, V — ms is shared, named here for clarity). It also
// returns the cavity's ramp output channel (CAVITY.OutputChannel), a
// detail NewLockEngine needs but EngineConfig itself has no field for.
func (c *Config) ToEngineConfig() (engine.EngineConfig, ioport.Channel, error) {
	if c.Cavity.ScanSamples < 2 {
		return engine.EngineConfig{}, 0, &engine.ConfigurationError{Reason: "CAVITY.ScanSamples must be >= 2"}
	}
	if c.Cavity.WavelengthNm <= 0 {
		return engine.EngineConfig{}, 0, &engine.ConfigurationError{Reason: "CAVITY.Wavelength must be positive"}
	}

	masterFreqGHz := speedOfLightNmGHz / c.Cavity.WavelengthNm
	cavityFSRGHz := c.Cavity.FSRMHz / 1000

	slaveFreq := make(map[int]float64, len(c.Lasers))
	for k, laser := range c.Lasers {
		if laser.WavelengthNm <= 0 {
			return engine.EngineConfig{}, 0, &engine.ConfigurationError{Reason: fmt.Sprintf("LASER%d.Wavelength must be positive", k)}
		}
		slaveFreq[k] = speedOfLightNmGHz / laser.WavelengthNm
	}

	geometry := engine.GeometryConstants{
		CavityFSRGHz:  cavityFSRGHz,
		MasterFreqGHz: masterFreqGHz,
		SlaveFreqGHz:  slaveFreq,
	}

	scan := engine.ScanConfig{
		MinVolts:  voltsOf(c.Cavity.MinVoltage),
		MaxVolts:  voltsOf(c.Cavity.MaxVoltage),
		Offset:    voltsOf(c.Cavity.ScanOffsetV),
		Amplitude: voltsOf(c.Cavity.ScanAmplitude),
		Samples:   c.Cavity.ScanSamples,
		Duration:  msToDuration(c.Cavity.ScanTimeMs),
	}

	master := engine.MasterConfig{
		InputChannel: ioport.Channel(c.Cavity.InputChannel),
		Lock: engine.LockConfig{
			Kp:            c.Cavity.PGain,
			Ki:            c.Cavity.IGain,
			RMSThreshold:  c.Cavity.LockThreshold,
			RMSWindow:     c.Cavity.RMS,
			PeakCriterion: c.Cavity.PeakCriterion,
		},
	}

	indices := make([]int, 0, len(c.Lasers))
	for k := range c.Lasers {
		indices = append(indices, k)
	}
	sort.Ints(indices)

	rTargets := make(map[int]float64, len(c.Lasers))
	slaves := make([]engine.SlaveConfig, 0, len(c.Lasers))
	for _, k := range indices {
		laser := c.Lasers[k]
		fs := geometry.SlaveFSR(k)
		rTarget := laser.LockpointR
		if !laser.HasLockpointR {
			_, rTarget = engine.ResolveSetpoint(laser.LockpointMHz, cavityFSRGHz, fs)
		}
		rTargets[k] = rTarget

		slaves = append(slaves, engine.SlaveConfig{
			Index:         k,
			InputChannel:  ioport.Channel(laser.InputChannel),
			OutputChannel: ioport.Channel(laser.OutputChannel),
			PowerChannel:  ioport.Channel(laser.PowerChannel),
			Lock: engine.LockConfig{
				Kp:            laser.PGain,
				Ki:            laser.IGain,
				RMSThreshold:  laser.LockThreshold,
				RMSWindow:     c.Cavity.RMS,
				PeakCriterion: laser.PeakCriterion,
			},
			MinVolts: voltsOf(laser.MinVoltage),
			MaxVolts: voltsOf(laser.MaxVoltage),
		})
	}

	return engine.EngineConfig{
		Scan:     scan,
		Geometry: geometry,
		Master:   master,
		Slaves:   slaves,
		LockPoints: engine.LockPoints{
			MasterMs:     c.Cavity.LockpointMs,
			SlaveRTarget: rTargets,
		},
	}, ioport.Channel(c.Cavity.OutputChannel), nil
}

func voltsOf(v float64) physic.ElectricPotential {
	return physic.ElectricPotential(v * float64(physic.Volt))
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
