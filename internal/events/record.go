// SPDX-License-Identifier: MIT

// Package events stores the controller's immutable event log. Records are
// totally ordered by (timestamp, sequence): the sequence restarts at 1
// whenever the wall-clock second advances.
package events

import (
	"fmt"
	"strings"
	"time"
)

// Action enumerates the recordable event kinds.
type Action string

const (
	ActionStartup Action = "STARTUP"
	ActionOn      Action = "ON"
	ActionOff     Action = "OFF"
	ActionStart   Action = "START"
	ActionEnd     Action = "END"
	ActionCancel  Action = "CANCEL"
	ActionSkip    Action = "SKIP"
	ActionUpdate  Action = "UPDATE"
	ActionIdle    Action = "IDLE"
)

// Record is one event. All fields besides Timestamp, Sequence and Action
// are optional and nil when absent.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Sequence  int       `json:"sequence"`
	Action    Action    `json:"action"`

	Zone        *int     `json:"zone,omitempty"`
	Program     *string  `json:"program,omitempty"`
	Parent      *string  `json:"parent,omitempty"`
	Seconds     *int     `json:"seconds,omitempty"`
	Runtime     *int     `json:"runtime,omitempty"`
	Adjustment  *int     `json:"adjustment,omitempty"`
	Source      *string  `json:"source,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Rain        *float64 `json:"rain,omitempty"`
	Ratio       *int     `json:"ratio,omitempty"`
}

// Int returns a pointer to v, for filling optional record fields.
func Int(v int) *int { return &v }

// Str returns a pointer to v, for filling optional record fields.
func Str(v string) *string { return &v }

// Line renders the record in the single-line form used for syslog fanout:
// "<action> [zone N] [program P] [(parent)]".
func (r Record) Line() string {
	var b strings.Builder
	b.WriteString(string(r.Action))
	if r.Zone != nil {
		fmt.Fprintf(&b, " zone %d", *r.Zone)
	}
	if r.Program != nil {
		fmt.Fprintf(&b, " program %s", *r.Program)
	}
	if r.Parent != nil {
		fmt.Fprintf(&b, " (program %s)", *r.Parent)
	}
	return b.String()
}

// Filter selects records in Find. Zero values match everything.
type Filter struct {
	Action  Action
	Zone    *int
	Program string
	Since   time.Time
	Until   time.Time
	Limit   int
}
