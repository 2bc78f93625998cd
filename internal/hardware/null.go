// SPDX-License-Identifier: MIT

package hardware

import "github.com/waterwise/sprinklerd/internal/config"

// Null discards all writes and reports both inputs as constantly false.
// It backs simulation mode (production=false) and missing hardware.json.
type Null struct{}

// NewNull returns the null driver.
func NewNull() *Null { return &Null{} }

func (*Null) Info() Capabilities {
	return Capabilities{ID: "none", Title: "Simulated outputs", AddZones: true}
}

func (*Null) Configure(*config.HardwareConfig, []config.Zone) {}
func (*Null) SetZone(int, bool)                               {}
func (*Null) Apply()                                          {}
func (*Null) RainSensor() bool                                { return false }
func (*Null) Button() bool                                    { return false }
func (*Null) RainInterrupt(func(Interrupt))                   {}
func (*Null) ButtonInterrupt(func(Interrupt))                 {}
