// SPDX-License-Identifier: MIT

package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waterwise/sprinklerd/internal/adjust"
	"github.com/waterwise/sprinklerd/internal/calendar"
	"github.com/waterwise/sprinklerd/internal/config"
	"github.com/waterwise/sprinklerd/internal/events"
	"github.com/waterwise/sprinklerd/internal/hardware"
)

// tuesday is the reference instant most tests start at: 2026-03-10 is a
// Tuesday.
var tuesday = time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

type testEngine struct {
	*Engine
	mock *hardware.Mock
	clk  *fakeClock
	sink *events.Sink
}

func newTestEngine(t *testing.T, cfg *config.Config, start time.Time) *testEngine {
	t.Helper()
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	dir := t.TempDir()
	holder := config.NewHolder(cfg, filepath.Join(dir, "config.json"))
	clk := newFakeClock(start)
	mock := hardware.NewMock(len(cfg.Zones))
	mock.SetNow(clk.Now)
	sink, err := events.NewSink(filepath.Join(dir, "events.db"), cfg.Event)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	eng := New(holder, &config.HardwareConfig{Driver: "mock"}, mock, sink,
		calendar.NewImporter(), adjust.NewWeather(), adjust.NewWateringIndex(), clk)
	return &testEngine{Engine: eng, mock: mock, clk: clk, sink: sink}
}

// chronological returns every recorded event oldest first.
func (te *testEngine) chronological() []events.Record {
	recs := te.sink.Find(events.Filter{})
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs
}

func actionSeq(recs []events.Record) []events.Action {
	out := make([]events.Action, len(recs))
	for i, r := range recs {
		out[i] = r.Action
	}
	return out
}

func oneZoneConfig(seconds int) *config.Config {
	return &config.Config{
		On:    true,
		Zones: []config.Zone{{Name: "Lawn"}, {Name: "Beds"}},
		Programs: []config.Program{{
			Name:   "A",
			Active: true,
			Start:  "06:00",
			Repeat: config.RepeatNone,
			Zones:  []config.ProgramZone{{Zone: 0, Seconds: seconds}},
		}},
	}
}

func TestRainDelayDoesNotAbortRun(t *testing.T) {
	cfg := oneZoneConfig(120)
	cfg.RainDelay = true
	te := newTestEngine(t, cfg, tuesday)

	require.NoError(t, te.StartProgram("0"))
	require.Equal(t, 1, te.mock.On())

	te.clk.Advance(30 * time.Second)
	te.mock.RainState = true
	te.clk.Advance(30 * time.Second) // 06:01
	te.Tick(te.clk.Now())

	assert.Equal(t, 1, te.mock.On(), "in-flight run survives the hold")

	te.clk.Advance(60 * time.Second) // run completes at 06:02
	assert.Equal(t, 0, te.mock.On())

	te.clk.Advance(5 * time.Second)
	snap := te.Status()
	assert.Equal(t, ModeRainHold, snap.Mode)
	assert.Greater(t, snap.RainRemaining, 86000)

	starts := 0
	for _, rec := range te.sink.Find(events.Filter{Action: events.ActionStart}) {
		if rec.Program != nil {
			starts++
		}
	}
	assert.Equal(t, 1, starts, "no new program launched under the hold")
}

func TestManualOverrideCancelsProgram(t *testing.T) {
	te := newTestEngine(t, oneZoneConfig(60), tuesday)

	require.NoError(t, te.StartProgram("0"))
	te.clk.Advance(15 * time.Second)
	require.Equal(t, 45, te.Status().Running.Remaining)

	require.NoError(t, te.ZoneOnManual(1, 10))

	cancels := te.sink.Find(events.Filter{Action: events.ActionCancel})
	require.Len(t, cancels, 1)
	assert.Equal(t, 0, *cancels[0].Zone)
	assert.Equal(t, 15, *cancels[0].Runtime)
	assert.Equal(t, "A", *cancels[0].Parent)

	assert.True(t, te.mock.States[1])
	te.clk.Advance(13 * time.Second) // 10 s run + 2 s settle

	assert.Empty(t, te.sink.Find(events.Filter{Action: events.ActionEnd, Program: "A"}),
		"cancelled program gets no END")
	assert.Equal(t, ModeIdle, te.Status().Mode)
}

func TestModes(t *testing.T) {
	cfg := oneZoneConfig(30)
	cfg.On = false
	te := newTestEngine(t, cfg, tuesday)
	assert.Equal(t, ModeOff, te.Status().Mode)

	require.NoError(t, te.SetOn(true))
	assert.Equal(t, ModeIdle, te.Status().Mode)

	require.NoError(t, te.ZoneOnManual(0, 30))
	assert.Equal(t, ModeRunning, te.Status().Mode)
	te.clk.Advance(35 * time.Second)
	assert.Equal(t, ModeIdle, te.Status().Mode)

	require.NoError(t, te.SetRainDelay(true))
	te.ExtendRainDelay()
	assert.Equal(t, ModeRainHold, te.Status().Mode)

	require.NoError(t, te.SetRainDelay(false))
	assert.Equal(t, ModeIdle, te.Status().Mode, "disabling rain delay clears the hold")
}

func TestRainInterruptArmsDelay(t *testing.T) {
	cfg := oneZoneConfig(30)
	cfg.RainDelay = true
	te := newTestEngine(t, cfg, tuesday)

	te.mock.FireRain(false)
	assert.Equal(t, ModeRainHold, te.Status().Mode)
}

func TestButtonWalkThrough(t *testing.T) {
	te := newTestEngine(t, oneZoneConfig(30), tuesday)

	te.ButtonPress()
	te.clk.Advance(2 * time.Second)
	assert.True(t, te.mock.States[0])
	require.NotNil(t, te.Status().Running)
	assert.Equal(t, buttonRunSeconds, te.Status().Running.Seconds)

	te.clk.Advance(time.Duration(buttonRunSeconds) * time.Second)
	assert.Equal(t, 0, te.mock.On())
}

func TestButtonWrapsWithoutStart(t *testing.T) {
	te := newTestEngine(t, oneZoneConfig(30), tuesday)

	// Past the last of the two zones: the cursor wraps, nothing starts.
	te.ButtonPress()
	te.ButtonPress()
	te.ButtonPress()
	te.clk.Advance(3 * time.Second)
	assert.Equal(t, 0, te.mock.On())
	assert.Empty(t, te.mock.Transitions)
}

func TestStartProgramUnknownID(t *testing.T) {
	te := newTestEngine(t, oneZoneConfig(30), tuesday)

	assert.ErrorIs(t, te.StartProgram("7"), ErrUnknownProgram)
	assert.ErrorIs(t, te.StartProgram("C0"), ErrUnknownProgram)
	assert.ErrorIs(t, te.StartProgram("bogus"), ErrUnknownProgram)
	assert.Equal(t, 0, te.mock.On())
}

func TestZoneOnManualValidation(t *testing.T) {
	te := newTestEngine(t, oneZoneConfig(30), tuesday)

	assert.ErrorIs(t, te.ZoneOnManual(9, 10), ErrInvalidZone)
	assert.Error(t, te.ZoneOnManual(0, 0))
	assert.Equal(t, 0, te.mock.On())
}

func TestControlTogglesRecordEvents(t *testing.T) {
	te := newTestEngine(t, oneZoneConfig(30), tuesday)

	require.NoError(t, te.SetOn(false))
	te.SetWeather(true)
	te.SetWateringIndex(false)

	offs := te.sink.Find(events.Filter{Action: events.ActionOff})
	require.Len(t, offs, 2)
	ons := te.sink.Find(events.Filter{Action: events.ActionOn})
	require.Len(t, ons, 1)
	assert.Equal(t, "weather", *ons[0].Source)
}
