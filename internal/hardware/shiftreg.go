// SPDX-License-Identifier: MIT

package hardware

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/waterwise/sprinklerd/internal/config"
	xlog "github.com/waterwise/sprinklerd/internal/log"
)

// ShiftReg drives a serial-in shift register bank. SetZone only stages a
// bit; Apply latches the whole bank in one transfer, which is the atomic
// commit the engine relies on.
type ShiftReg struct {
	mu     sync.Mutex
	logger zerolog.Logger

	data  *pin
	clock *pin
	latch *pin
	bits  []bool

	rain       *pin
	button     *pin
	edge       string
	stopInputs chan struct{}
	rainCb     func(Interrupt)
	buttonCb   func(Interrupt)
}

func newShiftReg() *ShiftReg {
	return &ShiftReg{logger: xlog.WithComponent("hardware.shiftreg")}
}

func (s *ShiftReg) Info() Capabilities {
	return Capabilities{ID: "shiftreg", Title: "Shift-register bank", AddZones: false, MaxZones: len(s.bits)}
}

func (s *ShiftReg) Configure(hw *config.HardwareConfig, zones []config.Zone) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopInputs != nil {
		close(s.stopInputs)
		s.stopInputs = nil
	}

	size := hw.Zones
	if size < len(zones) {
		size = len(zones)
	}
	s.bits = make([]bool, size)
	s.data = newPin(hw.Data, true, s.logger)
	s.clock = newPin(hw.Clock, true, s.logger)
	s.latch = newPin(hw.Latch, true, s.logger)

	s.edge = hw.Edge
	s.rain = nil
	s.button = nil
	if hw.Rain > 0 {
		s.rain = newPin(hw.Rain, false, s.logger)
	}
	if hw.Button > 0 {
		s.button = newPin(hw.Button, false, s.logger)
	}
	s.startInputsLocked()
}

func (s *ShiftReg) startInputsLocked() {
	if s.rain == nil && s.button == nil {
		return
	}
	stop := make(chan struct{})
	s.stopInputs = stop
	if s.rain != nil {
		go watchEdge(s.rain, s.edge, 100*time.Millisecond, stop, func(iv Interrupt) {
			s.mu.Lock()
			cb := s.rainCb
			s.mu.Unlock()
			if cb != nil {
				cb(iv)
			}
		})
	}
	if s.button != nil {
		go watchEdge(s.button, s.edge, 100*time.Millisecond, stop, func(iv Interrupt) {
			s.mu.Lock()
			cb := s.buttonCb
			s.mu.Unlock()
			if cb != nil {
				cb(iv)
			}
		})
	}
}

func (s *ShiftReg) SetZone(index int, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.bits) {
		return
	}
	s.bits[index] = on
}

// Apply shifts the staged bank out MSB first and pulses the latch.
func (s *ShiftReg) Apply() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return
	}
	s.latch.write(false)
	for i := len(s.bits) - 1; i >= 0; i-- {
		s.clock.write(false)
		s.data.write(s.bits[i])
		s.clock.write(true)
	}
	s.latch.write(true)
}

func (s *ShiftReg) RainSensor() bool {
	s.mu.Lock()
	p := s.rain
	s.mu.Unlock()
	if p == nil {
		return false
	}
	return p.read()
}

func (s *ShiftReg) Button() bool {
	s.mu.Lock()
	p := s.button
	s.mu.Unlock()
	if p == nil {
		return false
	}
	return p.read()
}

func (s *ShiftReg) RainInterrupt(cb func(Interrupt)) {
	s.mu.Lock()
	s.rainCb = cb
	s.mu.Unlock()
}

func (s *ShiftReg) ButtonInterrupt(cb func(Interrupt)) {
	s.mu.Lock()
	s.buttonCb = cb
	s.mu.Unlock()
}
