// SPDX-License-Identifier: MIT

package hardware

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waterwise/sprinklerd/internal/config"
	xlog "github.com/waterwise/sprinklerd/internal/log"
)

// fakeGPIO points the sysfs root at a temp dir with pre-created lines.
func fakeGPIO(t *testing.T, pins ...int) string {
	t.Helper()
	root := t.TempDir()
	old := gpioRoot
	gpioRoot = root
	t.Cleanup(func() { gpioRoot = old })
	for _, n := range pins {
		dir := filepath.Join(root, "gpio"+strconv.Itoa(n))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "value"), []byte("0"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "direction"), []byte("out"), 0o644))
	}
	return root
}

func readValue(t *testing.T, root string, pin int) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(root, "gpio"+strconv.Itoa(pin), "value"))
	require.NoError(t, err)
	return string(raw)
}

func TestFactoryFallsBackToNull(t *testing.T) {
	d := New(&config.HardwareConfig{Driver: "hologram"})
	assert.Equal(t, "none", d.Info().ID)

	d = New(nil)
	assert.Equal(t, "none", d.Info().ID)
	assert.False(t, d.RainSensor())
	assert.False(t, d.Button())
}

func TestRelayWritesActiveLevels(t *testing.T) {
	root := fakeGPIO(t, 17, 27)

	r := newRelay()
	r.Configure(&config.HardwareConfig{Driver: "relay"}, []config.Zone{
		{Name: "Lawn", Pin: "17"},
		{Name: "Beds", Pin: "27", On: "LOW"},
	})

	r.SetZone(0, true)
	r.SetZone(1, true)
	r.Apply()

	assert.Equal(t, "1", readValue(t, root, 17))
	assert.Equal(t, "0", readValue(t, root, 27), "active-low zone drives 0 when on")

	r.SetZone(1, false)
	assert.Equal(t, "1", readValue(t, root, 27))

	// Out-of-range and unmapped indices are ignored, never panic.
	r.SetZone(9, true)
	r.SetZone(-1, true)
}

func TestPinRetriesUntilWritable(t *testing.T) {
	root := t.TempDir()
	old := gpioRoot
	gpioRoot = root
	t.Cleanup(func() { gpioRoot = old })

	p := newPin(5, true, xlog.WithComponent("test"))
	p.write(true) // no such line yet; write parks and retries

	dir := filepath.Join(root, "gpio5")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "value"), []byte("0"), 0o644))

	assert.Eventually(t, func() bool {
		return p.read()
	}, 2*time.Second, 50*time.Millisecond, "parked write should land once the pin appears")
}

func TestShiftRegStagesUntilApply(t *testing.T) {
	root := fakeGPIO(t, 1, 2, 3)

	s := newShiftReg()
	s.Configure(&config.HardwareConfig{Driver: "shiftreg", Data: 1, Clock: 2, Latch: 3, Zones: 4}, nil)

	s.SetZone(2, true)
	// Nothing hits the latch before Apply.
	assert.Equal(t, "0", readValue(t, root, 3))

	s.Apply()
	assert.Equal(t, "1", readValue(t, root, 3), "latch pulsed high after transfer")
}

func TestMockRecordsTransitions(t *testing.T) {
	m := NewMock(3)
	m.SetZone(1, true)
	m.SetZone(1, false)
	m.Apply()

	require.Len(t, m.Transitions, 2)
	assert.Equal(t, 1, m.Transitions[0].Zone)
	assert.True(t, m.Transitions[0].On)
	assert.Equal(t, 1, m.Applies)
	assert.Equal(t, 0, m.On())

	fired := false
	m.RainInterrupt(func(iv Interrupt) { fired = !iv.Output })
	m.FireRain(false)
	assert.True(t, fired)
}
