// SPDX-License-Identifier: MIT

// Package hardware defines the output-driver contract the engine programs
// against, plus the built-in drivers (null, per-pin relay, shift register).
//
// SetZone and Apply are best-effort and never surface errors: a driver that
// cannot reach its pins yet stores the intended state and retries in the
// background until the write lands.
package hardware

import (
	"github.com/waterwise/sprinklerd/internal/config"
	xlog "github.com/waterwise/sprinklerd/internal/log"
)

// Capabilities describes what a driver can do.
type Capabilities struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	AddZones bool   `json:"add_zones"` // zones can be added freely
	PinZones bool   `json:"pin_zones"` // zones carry explicit pin assignments
	MaxZones int    `json:"max_zones,omitempty"`
}

// Interrupt is delivered to registered edge callbacks.
type Interrupt struct {
	Output bool `json:"output"`
}

// Driver energises zones and exposes the two physical inputs.
type Driver interface {
	Info() Capabilities
	// Configure is re-entrant; it is called on every config activation.
	Configure(hw *config.HardwareConfig, zones []config.Zone)
	SetZone(index int, on bool)
	// Apply commits pending bank state. Per-pin drivers treat it as a no-op;
	// shift-register drivers transfer the whole bank atomically.
	Apply()
	RainSensor() bool
	Button() bool
	RainInterrupt(cb func(Interrupt))
	ButtonInterrupt(cb func(Interrupt))
}

// New constructs the driver named in the hardware config. Unknown names
// fall back to the null driver so the daemon always comes up.
func New(hw *config.HardwareConfig) Driver {
	logger := xlog.WithComponent("hardware")
	if hw == nil {
		hw = &config.HardwareConfig{Driver: "none"}
	}
	switch hw.Driver {
	case "relay":
		return newRelay()
	case "shiftreg":
		return newShiftReg()
	case "", "none":
		return NewNull()
	default:
		logger.Warn().Str("event", "hardware.unknown_driver").Str("driver", hw.Driver).Msg("unknown driver, using null")
		return NewNull()
	}
}
