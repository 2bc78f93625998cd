// SPDX-License-Identifier: MIT

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultDir is the system location searched after the working directory.
const DefaultDir = "/var/lib/sprinkler"

const (
	ConfigFile   = "config.json"
	HardwareFile = "hardware.json"
	EventDBFile  = "events.db"
)

// Resolve returns the first existing path for name, checking the working
// directory before DefaultDir. When neither exists the DefaultDir path is
// returned so a fresh install writes there.
func Resolve(name string) string {
	local := "./" + name
	if _, err := os.Stat(local); err == nil {
		return local
	}
	system := filepath.Join(DefaultDir, name)
	if _, err := os.Stat(system); err == nil {
		return system
	}
	return system
}

// Load reads and validates the user configuration document.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validate %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadHardware reads the hardware description. A missing file yields the
// null driver so the daemon still comes up in simulation.
func LoadHardware(path string) (*HardwareConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &HardwareConfig{Driver: "none"}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var hw HardwareConfig
	if err := json.Unmarshal(raw, &hw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &hw, nil
}
