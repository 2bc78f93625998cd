// SPDX-License-Identifier: MIT

package adjust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
}

func TestParseSlots(t *testing.T) {
	slots := ParseSlots([]string{"6", "18:30", "bogus", "25", "7:61"})
	assert.Equal(t, []Slot{
		{Hour: 6, Minute: 0, Armed: true},
		{Hour: 18, Minute: 30, Armed: true},
	}, slots)
}

func TestSlotFiresOncePerHour(t *testing.T) {
	s := schedule{slots: ParseSlots([]string{"6:15"})}

	assert.False(t, s.due(at(6, 10)), "before the slot minute")
	assert.True(t, s.due(at(6, 20)), "armed and past the minute")
	assert.False(t, s.due(at(6, 30)), "disarmed for the rest of the hour")

	// The hour moving on re-arms the slot.
	assert.False(t, s.due(at(7, 0)))
	assert.True(t, s.due(at(6, 16).Add(24*time.Hour)))
}

func TestNoSlotsFallsBackToSixHours(t *testing.T) {
	s := schedule{}
	now := at(6, 0)

	assert.True(t, s.due(now), "first heartbeat fetches")
	s.lastFetch = now
	assert.False(t, s.due(now.Add(3*time.Hour)))
	assert.True(t, s.due(now.Add(6*time.Hour)))
}

func TestForcedFetchOverridesSlots(t *testing.T) {
	s := schedule{slots: ParseSlots([]string{"6"})}
	s.forceAt = at(6, 10)

	assert.False(t, s.due(at(6, 5)), "slot suppressed while a forced fetch is pending")
	assert.True(t, s.due(at(6, 10)))
	assert.True(t, s.forceAt.IsZero(), "force is one-shot")
}

func TestScaleRoundsHalfUp(t *testing.T) {
	assert.Equal(t, 30, scale(60, 50))
	assert.Equal(t, 1, scale(1, 50))  // (50+50)/100
	assert.Equal(t, 0, scale(1, 40))  // (40+50)/100
	assert.Equal(t, 90, scale(60, 150))
}

func TestClampScaleBounds(t *testing.T) {
	assert.Equal(t, 30, clampScale(60, 50, 0, 200))
	assert.Equal(t, 18, clampScale(60, 10, 30, 200), "clamped up to min")
	assert.Equal(t, 72, clampScale(60, 300, 0, 120), "clamped down to max")
	assert.Equal(t, 120, clampScale(60, 400, 0, 0), "zero max treated as 200")
}
