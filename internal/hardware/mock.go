// SPDX-License-Identifier: MIT

package hardware

import (
	"sync"
	"time"

	"github.com/waterwise/sprinklerd/internal/config"
)

// Transition is one recorded output change, for assertions in tests.
type Transition struct {
	Zone int
	On   bool
	At   time.Time
}

// Mock records every output transition and lets tests script the inputs
// and fire interrupts by hand.
type Mock struct {
	mu sync.Mutex

	States      []bool
	Transitions []Transition
	Applies     int

	RainState   bool
	ButtonState bool

	rainCb   func(Interrupt)
	buttonCb func(Interrupt)

	now func() time.Time
}

// NewMock returns a mock driver with n zones.
func NewMock(n int) *Mock {
	return &Mock{States: make([]bool, n), now: time.Now}
}

// SetNow installs a clock for transition timestamps.
func (m *Mock) SetNow(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Mock) Info() Capabilities {
	return Capabilities{ID: "mock", Title: "Recording mock", AddZones: true}
}

func (m *Mock) Configure(_ *config.HardwareConfig, zones []config.Zone) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(zones) > len(m.States) {
		m.States = append(m.States, make([]bool, len(zones)-len(m.States))...)
	}
}

func (m *Mock) SetZone(index int, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.States) {
		return
	}
	m.States[index] = on
	m.Transitions = append(m.Transitions, Transition{Zone: index, On: on, At: m.now()})
}

func (m *Mock) Apply() {
	m.mu.Lock()
	m.Applies++
	m.mu.Unlock()
}

func (m *Mock) RainSensor() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RainState
}

func (m *Mock) Button() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ButtonState
}

func (m *Mock) RainInterrupt(cb func(Interrupt)) {
	m.mu.Lock()
	m.rainCb = cb
	m.mu.Unlock()
}

func (m *Mock) ButtonInterrupt(cb func(Interrupt)) {
	m.mu.Lock()
	m.buttonCb = cb
	m.mu.Unlock()
}

// FireRain invokes the registered rain callback, as the edge poller would.
func (m *Mock) FireRain(output bool) {
	m.mu.Lock()
	cb := m.rainCb
	m.mu.Unlock()
	if cb != nil {
		cb(Interrupt{Output: output})
	}
}

// FireButton invokes the registered button callback.
func (m *Mock) FireButton(output bool) {
	m.mu.Lock()
	cb := m.buttonCb
	m.mu.Unlock()
	if cb != nil {
		cb(Interrupt{Output: output})
	}
}

// On reports how many zones are currently energised.
func (m *Mock) On() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.States {
		if s {
			n++
		}
	}
	return n
}
