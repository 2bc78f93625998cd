// SPDX-License-Identifier: MIT

package engine

import (
	"github.com/waterwise/sprinklerd/internal/config"
)

// ZoneIndex answers the per-zone questions the executor needs. It is
// rebuilt on every config activation.
type ZoneIndex struct {
	zones []config.Zone
}

// NewZoneIndex builds an index over the configured zones.
func NewZoneIndex(zones []config.Zone) ZoneIndex {
	return ZoneIndex{zones: zones}
}

// Len returns the number of zones.
func (ix ZoneIndex) Len() int { return len(ix.zones) }

// Valid reports whether i addresses a configured zone.
func (ix ZoneIndex) Valid(i int) bool { return i >= 0 && i < len(ix.zones) }

// Zone returns the configuration of zone i. Callers must check Valid first.
func (ix ZoneIndex) Zone(i int) config.Zone { return ix.zones[i] }

// Master returns the master zone for i, if one is configured. A master
// reference outside the zone list or pointing at i itself is ignored.
func (ix ZoneIndex) Master(i int) (int, bool) {
	m := ix.zones[i].Master
	if m == nil || *m == i || !ix.Valid(*m) {
		return 0, false
	}
	return *m, true
}

// Manual reports whether program runs must skip zone i.
func (ix ZoneIndex) Manual(i int) bool { return ix.zones[i].Manual }
