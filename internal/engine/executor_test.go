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

func pulsedConfig(seconds, pulse, pause int) *config.Config {
	return &config.Config{
		On:    true,
		Zones: []config.Zone{{Name: "Lawn", Pulse: pulse, Pause: pause}},
		Programs: []config.Program{{
			Name:   "P",
			Active: true,
			Start:  "06:00",
			Repeat: config.RepeatNone,
			Zones:  []config.ProgramZone{{Zone: 0, Seconds: seconds}},
		}},
	}
}

// snapshotQueue copies the running item and the pending queue under the
// engine lock.
func (te *testEngine) snapshotQueue() (*runItem, []runItem) {
	te.mu.Lock()
	defer te.mu.Unlock()
	var cur *runItem
	if te.running != nil {
		item := te.running.item
		cur = &item
	}
	return cur, append([]runItem(nil), te.queue...)
}

func TestPulseSplitWithPause(t *testing.T) {
	te := newTestEngine(t, pulsedConfig(50, 20, 10), tuesday)
	require.NoError(t, te.StartProgram("0"))

	cur, queue := te.snapshotQueue()
	require.NotNil(t, cur)
	assert.Equal(t, runItem{zone: 0, seconds: 20, parent: "P", ratio: 100}, *cur)
	require.Len(t, queue, 3)
	assert.Equal(t, runItem{zone: 0, seconds: 20, parent: "P", ratio: 100}, queue[0])
	assert.Equal(t, runItem{zone: pauseZone, seconds: 10, parent: "P"}, queue[1])
	assert.Equal(t, runItem{zone: 0, seconds: 10, parent: "P", ratio: 100}, queue[2])
}

func TestPulseSplitKeepsFifteenSecondTail(t *testing.T) {
	te := newTestEngine(t, pulsedConfig(55, 20, 10), tuesday)
	require.NoError(t, te.StartProgram("0"))

	_, queue := te.snapshotQueue()
	require.Len(t, queue, 3)
	assert.Equal(t, 20, queue[0].seconds)
	assert.Equal(t, pauseZone, queue[1].zone)
	assert.Equal(t, 15, queue[2].seconds)
}

func TestPulseSplitDropsShortTail(t *testing.T) {
	te := newTestEngine(t, pulsedConfig(45, 20, 0), tuesday)
	require.NoError(t, te.StartProgram("0"))

	cur, queue := te.snapshotQueue()
	require.NotNil(t, cur)
	assert.Equal(t, 20, cur.seconds)
	require.Len(t, queue, 1)
	assert.Equal(t, 20, queue[0].seconds, "5 s fragment dropped")
}

func TestPulseTimeline(t *testing.T) {
	te := newTestEngine(t, pulsedConfig(50, 20, 10), tuesday)
	require.NoError(t, te.StartProgram("0"))
	te.clk.Advance(70 * time.Second)

	// 20 s pulse, 2 s settle, 20 s pulse, 2 s settle, 10 s pause, 10 s tail.
	want := []struct {
		on     bool
		offset time.Duration
	}{
		{true, 0},
		{false, 20 * time.Second},
		{true, 22 * time.Second},
		{false, 42 * time.Second},
		{true, 54 * time.Second},
		{false, 64 * time.Second},
	}
	require.Len(t, te.mock.Transitions, len(want))
	for i, w := range want {
		assert.Equal(t, 0, te.mock.Transitions[i].Zone)
		assert.Equal(t, w.on, te.mock.Transitions[i].On, "transition %d", i)
		assert.Equal(t, tuesday.Add(w.offset), te.mock.Transitions[i].At, "transition %d", i)
	}
}

func TestMasterBracketsBranchZone(t *testing.T) {
	cfg := &config.Config{
		On: true,
		Zones: []config.Zone{
			{Name: "Master"},
			{Name: "Front", Master: intPtr(0)},
		},
	}
	te := newTestEngine(t, cfg, tuesday)

	require.NoError(t, te.ZoneOnManual(1, 30))
	te.clk.Advance(30 * time.Second)

	want := []struct {
		zone int
		on   bool
	}{
		{1, true},  // branch opens first
		{0, true},  // then the master pressurises
		{0, false}, // master closes first
		{1, false}, // branch last
	}
	require.Len(t, te.mock.Transitions, len(want))
	for i, w := range want {
		assert.Equal(t, w.zone, te.mock.Transitions[i].Zone, "transition %d", i)
		assert.Equal(t, w.on, te.mock.Transitions[i].On, "transition %d", i)
	}
}

func TestSingleZoneEnergisedInvariant(t *testing.T) {
	cfg := &config.Config{
		On:    true,
		Zones: []config.Zone{{Name: "A"}, {Name: "B"}},
		Programs: []config.Program{{
			Name:   "Both",
			Active: true,
			Start:  "06:00",
			Repeat: config.RepeatNone,
			Zones:  []config.ProgramZone{{Zone: 0, Seconds: 30}, {Zone: 1, Seconds: 30}},
		}},
	}
	te := newTestEngine(t, cfg, tuesday)
	require.NoError(t, te.StartProgram("0"))

	for i := 0; i < 70; i++ {
		te.clk.Advance(time.Second)
		assert.LessOrEqual(t, te.mock.On(), 1)
	}
	assert.Equal(t, 0, te.mock.On())
}

func TestKillQueueIdempotent(t *testing.T) {
	te := newTestEngine(t, oneZoneConfig(60), tuesday)
	require.NoError(t, te.StartProgram("0"))
	te.clk.Advance(5 * time.Second)

	te.AllOff()
	te.AllOff()

	assert.Equal(t, 0, te.mock.On())
	assert.Len(t, te.sink.Find(events.Filter{Action: events.ActionCancel}), 1)
}

func TestManualZoneSkipped(t *testing.T) {
	cfg := &config.Config{
		On:    true,
		Zones: []config.Zone{{Name: "Drip", Manual: true}, {Name: "Lawn"}},
		Programs: []config.Program{{
			Name:   "P",
			Active: true,
			Start:  "06:00",
			Repeat: config.RepeatNone,
			Zones:  []config.ProgramZone{{Zone: 0, Seconds: 30}, {Zone: 1, Seconds: 30}},
		}},
	}
	te := newTestEngine(t, cfg, tuesday)
	require.NoError(t, te.StartProgram("0"))

	skips := te.sink.Find(events.Filter{Action: events.ActionSkip})
	require.Len(t, skips, 1)
	assert.Equal(t, 0, *skips[0].Zone)

	assert.False(t, te.mock.States[0])
	assert.True(t, te.mock.States[1])

	// Direct activation ignores the manual flag.
	require.NoError(t, te.ZoneOnManual(0, 10))
	assert.True(t, te.mock.States[0])
}

func TestAdjustmentProfileScalesRuntime(t *testing.T) {
	monthly := make([]int, 12)
	for i := range monthly {
		monthly[i] = 50
	}
	cfg := oneZoneConfig(60)
	cfg.Adjust = []config.Adjustment{{Name: "default", Monthly: monthly}}
	te := newTestEngine(t, cfg, tuesday)

	require.NoError(t, te.StartProgram("0"))

	starts := te.sink.Find(events.Filter{Action: events.ActionStart, Zone: events.Int(0)})
	require.Len(t, starts, 1)
	assert.Equal(t, 30, *starts[0].Seconds)
	assert.Equal(t, "default (monthly)", *starts[0].Source)
	assert.Equal(t, 50, *starts[0].Ratio)
}

func TestAppendQueuesBehindCurrentRun(t *testing.T) {
	cfg := oneZoneConfig(60)
	cfg.Programs = append(cfg.Programs, config.Program{
		Name:    "B",
		Active:  true,
		Start:   "07:00",
		Repeat:  config.RepeatNone,
		Options: config.ProgramOptions{Append: true},
		Zones:   []config.ProgramZone{{Zone: 1, Seconds: 20}},
	})
	te := newTestEngine(t, cfg, tuesday)

	require.NoError(t, te.StartProgram("0"))
	require.NoError(t, te.StartProgram("1"))

	assert.Empty(t, te.sink.Find(events.Filter{Action: events.ActionCancel}))
	cur, queue := te.snapshotQueue()
	require.NotNil(t, cur)
	assert.Equal(t, 0, cur.zone)
	require.Len(t, queue, 1)
	assert.Equal(t, 1, queue[0].zone)
	assert.Equal(t, "B", queue[0].parent)
}

func TestEndProgramBetweenParents(t *testing.T) {
	te := newTestEngine(t, oneZoneConfig(10), tuesday)
	require.NoError(t, te.StartProgram("0"))
	te.clk.Advance(15 * time.Second)

	recs := te.chronological()
	assert.Equal(t, []events.Action{
		events.ActionStart, // program A
		events.ActionStart, // zone 0
		events.ActionEnd,   // zone 0
		events.ActionEnd,   // program A
		events.ActionIdle,
	}, actionSeq(recs))
}

func TestActivateKeepsRunInFlight(t *testing.T) {
	te := newTestEngine(t, oneZoneConfig(30), tuesday)
	require.NoError(t, te.StartProgram("0"))

	te.Activate(te.holder.Get())

	assert.Equal(t, 1, te.mock.On())
	te.clk.Advance(35 * time.Second)
	assert.Equal(t, 0, te.mock.On())
}
