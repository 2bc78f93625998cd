// SPDX-License-Identifier: MIT

// Package adjust implements the two external runtime adjusters: the weather
// provider and the watering-index provider. Both poll on an armed-slot
// schedule and scale zone runtimes by an integer percentage.
package adjust

import (
	"strconv"
	"strings"
	"time"
)

// fallbackInterval applies when no refresh slots are configured.
const fallbackInterval = 6 * time.Hour

// stampedeDelay postpones the first fetch after a re-configure that found
// data already cached.
const stampedeDelay = 10 * time.Minute

// Slot is one hour-aligned refresh opportunity. Armed is data, not control
// flow: a slot fires once per hour and re-arms when the hour moves on.
type Slot struct {
	Hour   int
	Minute int
	Armed  bool
}

// ParseSlots converts "HH" or "HH:MM" strings into armed slots. Malformed
// entries are dropped.
func ParseSlots(specs []string) []Slot {
	slots := make([]Slot, 0, len(specs))
	for _, spec := range specs {
		hh, mm, ok := splitHourMinute(spec)
		if !ok {
			continue
		}
		slots = append(slots, Slot{Hour: hh, Minute: mm, Armed: true})
	}
	return slots
}

func splitHourMinute(spec string) (int, int, bool) {
	parts := strings.SplitN(strings.TrimSpace(spec), ":", 2)
	hh, err := strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 23 {
		return 0, 0, false
	}
	mm := 0
	if len(parts) == 2 {
		mm, err = strconv.Atoi(parts[1])
		if err != nil || mm < 0 || mm > 59 {
			return 0, 0, false
		}
	}
	return hh, mm, true
}

// schedule decides when a heartbeat call should actually fetch.
type schedule struct {
	slots     []Slot
	lastFetch time.Time
	forceAt   time.Time
}

// due reports whether a fetch should happen now, updating the armed flags.
func (s *schedule) due(now time.Time) bool {
	if !s.forceAt.IsZero() {
		if now.Before(s.forceAt) {
			return false
		}
		s.forceAt = time.Time{}
		return true
	}

	if len(s.slots) == 0 {
		return s.lastFetch.IsZero() || now.Sub(s.lastFetch) >= fallbackInterval
	}

	fire := false
	for i := range s.slots {
		slot := &s.slots[i]
		if now.Hour() != slot.Hour {
			slot.Armed = true
			continue
		}
		if slot.Armed && now.Minute() >= slot.Minute {
			slot.Armed = false
			fire = true
		}
	}
	return fire
}

// scale applies an integer percentage with half-up rounding.
func scale(seconds, percent int) int {
	return (seconds*percent + 50) / 100
}

// clampScale scales seconds by raw percent, bounded by the min/max
// percentages. A zero max means unbounded above (treated as 200).
func clampScale(seconds, raw, min, max int) int {
	if max <= 0 {
		max = 200
	}
	v := scale(seconds, raw)
	if lo := scale(seconds, min); v < lo {
		return lo
	}
	if hi := scale(seconds, max); v > hi {
		return hi
	}
	return v
}
