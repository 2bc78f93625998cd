// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"time"
)

// Validate checks cross references and vector sizes. A config that fails
// validation is never installed; the holder keeps the last good one.
func Validate(cfg *Config) error {
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
		}
	}

	for i, z := range cfg.Zones {
		if z.Name == "" {
			return fmt.Errorf("zone %d: missing name", i)
		}
		if z.Master != nil {
			m := *z.Master
			if m < 0 || m >= len(cfg.Zones) {
				return fmt.Errorf("zone %d (%s): master %d out of range", i, z.Name, m)
			}
			if m == i {
				return fmt.Errorf("zone %d (%s): is its own master", i, z.Name)
			}
		}
		switch z.On {
		case "", "HIGH", "LOW":
		default:
			return fmt.Errorf("zone %d (%s): level must be HIGH or LOW", i, z.Name)
		}
		if z.Pulse < 0 || z.Pause < 0 {
			return fmt.Errorf("zone %d (%s): negative pulse or pause", i, z.Name)
		}
	}

	names := make(map[string]struct{}, len(cfg.Programs))
	for i, p := range cfg.Programs {
		if p.Name == "" {
			return fmt.Errorf("program %d: missing name", i)
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("program %q: duplicate name", p.Name)
		}
		names[p.Name] = struct{}{}
		if err := validateProgram(&p, len(cfg.Zones)); err != nil {
			return fmt.Errorf("program %q: %w", p.Name, err)
		}
	}

	for _, s := range cfg.Seasons {
		if len(s.Monthly) != 0 && len(s.Monthly) != 12 {
			return fmt.Errorf("season %q: monthly vector needs 12 entries", s.Name)
		}
		if len(s.Weekly) > 53 {
			return fmt.Errorf("season %q: weekly vector exceeds 53 entries", s.Name)
		}
	}
	for _, a := range cfg.Adjust {
		if len(a.Monthly) != 0 && len(a.Monthly) != 12 {
			return fmt.Errorf("adjust %q: monthly vector needs 12 entries", a.Name)
		}
		if len(a.Weekly) > 53 {
			return fmt.Errorf("adjust %q: weekly vector exceeds 53 entries", a.Name)
		}
	}

	return nil
}

func validateProgram(p *Program, zones int) error {
	if _, err := ParseStart(p.Start); err != nil {
		return err
	}
	switch p.Repeat {
	case RepeatNone, RepeatDaily:
	case RepeatWeekly:
		if len(p.Days) != 7 {
			return fmt.Errorf("weekly repeat needs 7 day flags, got %d", len(p.Days))
		}
	case "":
		return fmt.Errorf("missing repeat mode")
	default:
		return fmt.Errorf("unknown repeat mode %q", p.Repeat)
	}
	if p.Date != "" {
		if _, err := ParseDate(p.Date); err != nil {
			return err
		}
	}
	if p.Until != "" {
		if _, err := ParseDate(p.Until); err != nil {
			return err
		}
	}
	for _, pz := range p.Zones {
		if pz.Zone < 0 || pz.Zone >= zones {
			return fmt.Errorf("zone index %d out of range", pz.Zone)
		}
		if pz.Seconds < 0 {
			return fmt.Errorf("zone %d: negative seconds", pz.Zone)
		}
	}
	return nil
}

// ParseStart parses an HH:MM start time into hour and minute.
func ParseStart(s string) (hm [2]int, err error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return hm, fmt.Errorf("start %q: want HH:MM", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return hm, fmt.Errorf("start %q: out of range", s)
	}
	return [2]int{h, m}, nil
}

// ParseDate parses a YYYYMMDD date string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse("20060102", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: want YYYYMMDD", s)
	}
	return t, nil
}
