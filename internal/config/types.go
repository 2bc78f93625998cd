// SPDX-License-Identifier: MIT

// Package config defines the controller's configuration document, the
// loader with its fixed search path, validation, and the hot-reload holder.
package config

import (
	"time"
)

// Repeat modes a program can declare.
const (
	RepeatNone   = "none"
	RepeatDaily  = "daily"
	RepeatWeekly = "weekly"
)

// Config is the single JSON document driving the controller.
type Config struct {
	On         bool   `json:"on"`
	Production bool   `json:"production"`
	RainDelay  bool   `json:"raindelay"`
	Timezone   string `json:"timezone,omitempty"`
	Location   string `json:"location,omitempty"`
	ZipCode    string `json:"zipcode,omitempty"`

	Zones     []Zone       `json:"zones"`
	Programs  []Program    `json:"programs"`
	Calendars []Calendar   `json:"calendars,omitempty"`
	Seasons   []Season     `json:"seasons,omitempty"`
	Adjust    []Adjustment `json:"adjust,omitempty"`

	Weather       WeatherConfig       `json:"weather,omitempty"`
	WateringIndex WateringIndexConfig `json:"wateringindex,omitempty"`

	Event     EventConfig     `json:"event,omitempty"`
	WebServer WebServerConfig `json:"webserver,omitempty"`
	UDP       UDPConfig       `json:"udp,omitempty"`
}

// Zone is one valve channel. Master references the zone index that supplies
// pressure for this branch; Manual excludes the zone from program runs.
type Zone struct {
	Name   string `json:"name"`
	Pin    string `json:"pin,omitempty"`
	On     string `json:"on,omitempty"` // "HIGH" or "LOW", default HIGH
	Adjust string `json:"adjust,omitempty"`
	Pulse  int    `json:"pulse,omitempty"`
	Pause  int    `json:"pause,omitempty"`
	Master *int   `json:"master,omitempty"`
	Manual bool   `json:"manual,omitempty"`
}

// ProgramZone pairs a zone index with its configured runtime in seconds.
type ProgramZone struct {
	Zone    int `json:"zone"`
	Seconds int `json:"seconds"`
}

// ProgramOptions carries launch modifiers.
type ProgramOptions struct {
	// Append queues the program behind the current queue instead of
	// replacing it.
	Append bool `json:"append,omitempty"`
}

// Program is a named watering plan, either user-authored or synthesised from
// a calendar event. Imported programs additionally carry Exceptions
// (replacement one-shots) and Exclusions (occurrence moments to skip).
type Program struct {
	Name     string         `json:"name"`
	Active   bool           `json:"active"`
	Start    string         `json:"start"`  // HH:MM local
	Repeat   string         `json:"repeat"` // none, daily, weekly
	Interval int            `json:"interval,omitempty"`
	Days     []bool         `json:"days,omitempty"` // weekly, Sun=0
	Date     string         `json:"date,omitempty"` // YYYYMMDD anchor
	Until    string         `json:"until,omitempty"`
	Season   string         `json:"season,omitempty"`
	Options  ProgramOptions `json:"options,omitempty"`
	Zones    []ProgramZone  `json:"zones"`

	Exceptions []Program   `json:"-"`
	Exclusions []time.Time `json:"-"`
}

// Calendar names one external iCalendar source.
type Calendar struct {
	Name     string `json:"name"`
	Format   string `json:"format"`
	Source   string `json:"source"`
	Season   string `json:"season,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Season gates programs by month or ISO week. Exactly one vector is set.
type Season struct {
	Name    string `json:"name"`
	Monthly []bool `json:"monthly,omitempty"` // 12 entries
	Weekly  []bool `json:"weekly,omitempty"`  // up to 53 entries
}

// Adjustment is a named table of runtime percentages by month or ISO week.
type Adjustment struct {
	Name    string `json:"name"`
	Monthly []int  `json:"monthly,omitempty"`
	Weekly  []int  `json:"weekly,omitempty"`
}

// WeatherConfig configures the weather provider and its runtime adjustment.
type WeatherConfig struct {
	Enable      bool                `json:"enable"`
	Key         string              `json:"key,omitempty"`
	Station     string              `json:"station,omitempty"`
	RainTrigger float64             `json:"raintrigger,omitempty"` // inches
	Refresh     []string            `json:"refresh,omitempty"`     // "HH" or "HH:MM"
	Adjust      WeatherAdjustConfig `json:"adjust,omitempty"`
}

// WeatherAdjustConfig holds the adjustment formula parameters.
type WeatherAdjustConfig struct {
	Enable      bool `json:"enable"`
	Min         int  `json:"min,omitempty"`
	Max         int  `json:"max,omitempty"`
	Temperature int  `json:"temperature,omitempty"` // base temp, F
	Humidity    int  `json:"humidity,omitempty"`    // base humidity, percent
	Sensitivity int  `json:"sensitivity,omitempty"` // percent
}

// WateringIndexConfig configures the watering-index provider.
type WateringIndexConfig struct {
	Enable   bool          `json:"enable"`
	Provider string        `json:"provider,omitempty"` // waterdex, mwdsocal
	Refresh  []string      `json:"refresh,omitempty"`
	Adjust   MinMaxPercent `json:"adjust,omitempty"`
}

// MinMaxPercent clamps an adjustment percentage.
type MinMaxPercent struct {
	Min int `json:"min,omitempty"`
	Max int `json:"max,omitempty"`
}

// EventConfig controls the event sink.
type EventConfig struct {
	Syslog  bool `json:"syslog,omitempty"`
	Cleanup int  `json:"cleanup,omitempty"` // retention, days
}

// WebServerConfig configures the HTTP control surface.
type WebServerConfig struct {
	Port int `json:"port"`
}

// UDPConfig configures the discovery responder. Port defaults to the
// webserver port when zero.
type UDPConfig struct {
	Port int `json:"port,omitempty"`
}

// HardwareConfig is the separate hardware.json document describing the
// output driver. Pin numbers are board-level GPIO identifiers.
type HardwareConfig struct {
	Driver string `json:"driver"` // shiftreg, relay, none
	Zones  int    `json:"zones,omitempty"`

	// Shift-register pins.
	Data  int `json:"data,omitempty"`
	Clock int `json:"clock,omitempty"`
	Latch int `json:"latch,omitempty"`

	// Input pins and active edge for interrupts.
	Rain   int    `json:"rain,omitempty"`
	Button int    `json:"button,omitempty"`
	Edge   string `json:"edge,omitempty"` // falling (default) or rising
}

// TimeLocation resolves the configured timezone. An empty or invalid value
// falls back to the host's local zone.
func (c *Config) TimeLocation() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// DiscoveryPort returns the UDP discovery port, defaulting to the
// webserver port.
func (c *Config) DiscoveryPort() int {
	if c.UDP.Port != 0 {
		return c.UDP.Port
	}
	return c.WebServer.Port
}
