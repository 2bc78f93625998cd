// SPDX-License-Identifier: MIT

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waterwise/sprinklerd/internal/config"
	"github.com/waterwise/sprinklerd/internal/events"
)

func weeklyTuesdayConfig() *config.Config {
	return &config.Config{
		On:    true,
		Zones: []config.Zone{{Name: "Lawn"}},
		Programs: []config.Program{{
			Name:   "W",
			Active: true,
			Start:  "06:00",
			Repeat: config.RepeatWeekly,
			Days:   []bool{false, false, true, false, false, false, false},
			Zones:  []config.ProgramZone{{Zone: 0, Seconds: 60}},
		}},
	}
}

func TestWeeklyProgramFiresOnItsDay(t *testing.T) {
	te := newTestEngine(t, weeklyTuesdayConfig(), tuesday)

	te.Tick(te.clk.Now())
	require.Equal(t, 1, te.mock.On())

	te.clk.Advance(65 * time.Second)
	assert.Equal(t, 0, te.mock.On())

	recs := te.chronological()
	require.Equal(t, []events.Action{
		events.ActionStart, // program W
		events.ActionStart, // zone 0
		events.ActionEnd,   // zone 0
		events.ActionEnd,   // program W
		events.ActionIdle,
	}, actionSeq(recs))
	assert.Equal(t, "W", *recs[0].Program)
	assert.Equal(t, 0, *recs[1].Zone)
	assert.Equal(t, 60, *recs[1].Seconds)
}

func TestWeeklyProgramSkipsOtherDays(t *testing.T) {
	wednesday := tuesday.Add(24 * time.Hour)
	te := newTestEngine(t, weeklyTuesdayConfig(), wednesday)

	te.Tick(te.clk.Now())
	assert.Equal(t, 0, te.mock.On())
	assert.Empty(t, te.sink.Find(events.Filter{Action: events.ActionStart}))
}

func TestDailyIntervalSkipping(t *testing.T) {
	cfg := &config.Config{
		On:    true,
		Zones: []config.Zone{{Name: "Lawn"}},
		Programs: []config.Program{{
			Name:     "D",
			Active:   true,
			Start:    "06:00",
			Repeat:   config.RepeatDaily,
			Interval: 2,
			Date:     "20260309",
			Zones:    []config.ProgramZone{{Zone: 0, Seconds: 30}},
		}},
	}
	te := newTestEngine(t, cfg, tuesday) // 2026-03-10, one day after the anchor

	te.Tick(te.clk.Now())
	assert.Equal(t, 0, te.mock.On(), "delta 1 is off the interval")

	te.clk.Advance(24 * time.Hour)
	te.Tick(te.clk.Now())
	assert.Equal(t, 1, te.mock.On(), "delta 2 fires")
}

func TestMinuteEvaluatedOnce(t *testing.T) {
	te := newTestEngine(t, weeklyTuesdayConfig(), tuesday)

	te.Tick(te.clk.Now())
	te.clk.Advance(10 * time.Second)
	te.Tick(te.clk.Now())
	te.clk.Advance(10 * time.Second)
	te.Tick(te.clk.Now())

	starts := 0
	for _, rec := range te.sink.Find(events.Filter{Action: events.ActionStart}) {
		if rec.Program != nil {
			starts++
		}
	}
	assert.Equal(t, 1, starts)
}

func TestOffShortCircuitsScheduler(t *testing.T) {
	cfg := weeklyTuesdayConfig()
	cfg.On = false
	te := newTestEngine(t, cfg, tuesday)

	te.Tick(te.clk.Now())
	assert.Equal(t, 0, te.mock.On())
	assert.Empty(t, te.sink.Find(events.Filter{}))
}

func TestRainHoldBlocksLaunches(t *testing.T) {
	cfg := weeklyTuesdayConfig()
	cfg.RainDelay = true
	te := newTestEngine(t, cfg, tuesday)

	te.mock.RainState = true
	te.Tick(te.clk.Now())

	assert.Equal(t, 0, te.mock.On())
	assert.Empty(t, te.sink.Find(events.Filter{Action: events.ActionStart}))
	assert.Equal(t, ModeRainHold, te.Status().Mode)
}

func TestSeasonGatesByMonth(t *testing.T) {
	cfg := weeklyTuesdayConfig()
	monthly := make([]bool, 12)
	cfg.Seasons = []config.Season{{Name: "summer", Monthly: monthly}} // March off
	cfg.Programs[0].Season = "summer"
	te := newTestEngine(t, cfg, tuesday)

	te.Tick(te.clk.Now())
	assert.Equal(t, 0, te.mock.On())

	monthly[int(time.March)-1] = true
	te2 := newTestEngine(t, cfg, tuesday)
	te2.Tick(te2.clk.Now())
	assert.Equal(t, 1, te2.mock.On())
}

func TestExclusionSuppressesOccurrence(t *testing.T) {
	cfg := weeklyTuesdayConfig()
	cfg.Programs[0].Exclusions = []time.Time{tuesday}
	te := newTestEngine(t, cfg, tuesday)

	te.Tick(te.clk.Now())
	assert.Equal(t, 0, te.mock.On())

	// The following Tuesday is not excluded.
	te.clk.Advance(7 * 24 * time.Hour)
	te.Tick(te.clk.Now())
	assert.Equal(t, 1, te.mock.On())
}

func TestDateAnchorPersisted(t *testing.T) {
	cfg := weeklyTuesdayConfig()
	te := newTestEngine(t, cfg, tuesday)

	te.Tick(te.clk.Now())
	assert.Equal(t, "20260310", te.holder.Get().Programs[0].Date)
}

func TestOneShotDeactivates(t *testing.T) {
	cfg := oneZoneConfig(30)
	te := newTestEngine(t, cfg, tuesday)

	te.Tick(te.clk.Now())
	require.Equal(t, 1, te.mock.On())
	assert.False(t, te.holder.Get().Programs[0].Active)

	// Same start time next day: the program stays quiet.
	te.clk.Advance(35 * time.Second)
	te.clk.Advance(24 * time.Hour)
	te.Tick(te.clk.Now())
	assert.Equal(t, 0, te.mock.On())
}

func TestExceptionRunsInsteadOfMainRule(t *testing.T) {
	cfg := weeklyTuesdayConfig()
	cfg.Programs[0].Exclusions = []time.Time{tuesday}
	cfg.Programs[0].Exceptions = []config.Program{{
		Name:   "W",
		Active: true,
		Start:  "07:00",
		Repeat: config.RepeatNone,
		Date:   "20260310",
		Zones:  []config.ProgramZone{{Zone: 0, Seconds: 30}},
	}}
	te := newTestEngine(t, cfg, tuesday)

	te.Tick(te.clk.Now())
	assert.Equal(t, 0, te.mock.On(), "06:00 occurrence suppressed")

	te.clk.Advance(time.Hour)
	te.Tick(te.clk.Now())
	require.Equal(t, 1, te.mock.On(), "07:00 replacement runs")

	starts := te.sink.Find(events.Filter{Action: events.ActionStart, Zone: events.Int(0)})
	require.Len(t, starts, 1)
	assert.Equal(t, 30, *starts[0].Seconds)
}

func TestUntilBoundsProgram(t *testing.T) {
	cfg := weeklyTuesdayConfig()
	cfg.Programs[0].Until = "20260301"
	te := newTestEngine(t, cfg, tuesday)

	te.Tick(te.clk.Now())
	assert.Equal(t, 0, te.mock.On())
}
