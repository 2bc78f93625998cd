// SPDX-License-Identifier: MIT

package hardware

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/waterwise/sprinklerd/internal/config"
	xlog "github.com/waterwise/sprinklerd/internal/log"
)

// Relay drives one GPIO pin per zone. Writes take effect immediately, so
// Apply is a no-op.
type Relay struct {
	mu     sync.Mutex
	logger zerolog.Logger

	zones      []*pin
	activeLow  []bool
	rain       *pin
	button     *pin
	edge       string
	stopInputs chan struct{}

	rainCb   func(Interrupt)
	buttonCb func(Interrupt)
}

func newRelay() *Relay {
	return &Relay{logger: xlog.WithComponent("hardware.relay")}
}

func (r *Relay) Info() Capabilities {
	return Capabilities{ID: "relay", Title: "Per-pin relay board", AddZones: true, PinZones: true}
}

// Configure rebuilds the pin table from the zone list. Re-entrant: input
// pollers from a previous configuration are stopped first.
func (r *Relay) Configure(hw *config.HardwareConfig, zones []config.Zone) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopInputs != nil {
		close(r.stopInputs)
		r.stopInputs = nil
	}

	r.zones = make([]*pin, len(zones))
	r.activeLow = make([]bool, len(zones))
	for i, z := range zones {
		if z.Pin == "" {
			continue
		}
		num, err := strconv.Atoi(z.Pin)
		if err != nil {
			r.logger.Warn().Str("event", "hardware.bad_pin").Str("zone", z.Name).Str("pin", z.Pin).Msg("pin is not a GPIO number, zone unmapped")
			continue
		}
		r.zones[i] = newPin(num, true, r.logger)
		r.activeLow[i] = z.On == "LOW"
	}

	r.edge = hw.Edge
	r.rain = nil
	r.button = nil
	if hw.Rain > 0 {
		r.rain = newPin(hw.Rain, false, r.logger)
	}
	if hw.Button > 0 {
		r.button = newPin(hw.Button, false, r.logger)
	}
	r.startInputsLocked()
}

func (r *Relay) startInputsLocked() {
	if r.rain == nil && r.button == nil {
		return
	}
	stop := make(chan struct{})
	r.stopInputs = stop
	if r.rain != nil {
		go watchEdge(r.rain, r.edge, 100*time.Millisecond, stop, func(iv Interrupt) {
			r.mu.Lock()
			cb := r.rainCb
			r.mu.Unlock()
			if cb != nil {
				cb(iv)
			}
		})
	}
	if r.button != nil {
		go watchEdge(r.button, r.edge, 100*time.Millisecond, stop, func(iv Interrupt) {
			r.mu.Lock()
			cb := r.buttonCb
			r.mu.Unlock()
			if cb != nil {
				cb(iv)
			}
		})
	}
}

func (r *Relay) SetZone(index int, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.zones) || r.zones[index] == nil {
		return
	}
	level := on
	if r.activeLow[index] {
		level = !on
	}
	r.zones[index].write(level)
}

func (r *Relay) Apply() {}

func (r *Relay) RainSensor() bool {
	r.mu.Lock()
	p := r.rain
	r.mu.Unlock()
	if p == nil {
		return false
	}
	return p.read()
}

func (r *Relay) Button() bool {
	r.mu.Lock()
	p := r.button
	r.mu.Unlock()
	if p == nil {
		return false
	}
	return p.read()
}

func (r *Relay) RainInterrupt(cb func(Interrupt)) {
	r.mu.Lock()
	r.rainCb = cb
	r.mu.Unlock()
}

func (r *Relay) ButtonInterrupt(cb func(Interrupt)) {
	r.mu.Lock()
	r.buttonCb = cb
	r.mu.Unlock()
}
