package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// SweepPreset is one named, reusable sweep recipe, so an operator can
// invoke a recurring sweep by name instead of retyping its start/stop/step
// or speed every session.
type SweepPreset struct {
	Name           string  `yaml:"name"`
	Slave          int     `yaml:"slave"`
	Mode           string  `yaml:"mode"` // "discrete" or "continuous"
	StartMHz       float64 `yaml:"start_mhz"`
	StopMHz        float64 `yaml:"stop_mhz"`
	StepMHz        float64 `yaml:"step_mhz,omitempty"`
	DwellSeconds   float64 `yaml:"dwell_s,omitempty"`
	SpeedMHzPerSec float64 `yaml:"speed_mhz_per_sec,omitempty"`
}

// LoadSweepPresets decodes a YAML document listing named sweep presets.
func LoadSweepPresets(r io.Reader) ([]SweepPreset, error) {
	var presets []SweepPreset
	if err := yaml.NewDecoder(r).Decode(&presets); err != nil {
		return nil, fmt.Errorf("config: decode sweep presets: %w", err)
	}
	for _, p := range presets {
		if p.Name == "" {
			return nil, fmt.Errorf("config: sweep preset missing a name")
		}
		if p.Mode != "discrete" && p.Mode != "continuous" {
			return nil, fmt.Errorf("config: sweep preset %q has unrecognized mode %q", p.Name, p.Mode)
		}
	}
	return presets, nil
}

// LoadSweepPresetsFile opens path and decodes it as a sweep preset list.
func LoadSweepPresetsFile(path string) ([]SweepPreset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open sweep presets %q: %w", path, err)
	}
	defer f.Close()
	return LoadSweepPresets(f)
}

// FindPreset returns the named preset, or false if no preset by that name was
// loaded.
func FindPreset(presets []SweepPreset, name string) (SweepPreset, bool) {
	for _, p := range presets {
		if p.Name == name {
			return p, true
		}
	}
	return SweepPreset{}, false
}
