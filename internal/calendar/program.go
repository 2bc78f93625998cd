// SPDX-License-Identifier: MIT

package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/waterwise/sprinklerd/internal/config"
)

// parseDescription reads the event body DSL: space- or comma-separated
// tokens, each either the bare word "append" or "<zone name>[=|:]<minutes>".
// An unknown zone name rejects the whole event.
func parseDescription(desc string, zones []config.Zone) ([]config.ProgramZone, config.ProgramOptions, error) {
	var out []config.ProgramZone
	var opts config.ProgramOptions

	tokens := strings.FieldsFunc(desc, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\n' || r == '\t'
	})
	for _, tok := range tokens {
		if strings.EqualFold(tok, "append") {
			opts.Append = true
			continue
		}
		sep := strings.LastIndexAny(tok, "=:")
		if sep <= 0 {
			return nil, opts, fmt.Errorf("calendar: token %q is not name=minutes", tok)
		}
		name := tok[:sep]
		minutes, err := strconv.Atoi(tok[sep+1:])
		if err != nil {
			return nil, opts, fmt.Errorf("calendar: token %q: bad minutes", tok)
		}

		idx := -1
		for i, z := range zones {
			if strings.EqualFold(z.Name, name) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, opts, fmt.Errorf("calendar: unknown zone %q", name)
		}
		// The DSL speaks minutes; programs store seconds.
		out = append(out, config.ProgramZone{Zone: idx, Seconds: minutes * 60})
	}

	if len(out) == 0 {
		return nil, opts, fmt.Errorf("calendar: no zones in description")
	}
	return out, opts, nil
}

// buildProgram synthesises a Program from a main event, or nil when the
// event is filtered out (all-day, wrong location, expired). A malformed
// description returns an error so the caller can log the rejection.
func buildProgram(ev *vevent, cal config.Calendar, zones []config.Zone, location string, now time.Time) (*config.Program, error) {
	if ev.allDay || ev.start.IsZero() {
		return nil, nil
	}
	if location != "" && ev.location != "" && !strings.EqualFold(ev.location, location) {
		return nil, nil
	}

	if ev.rrule == nil {
		if ev.start.Before(now.Add(-time.Minute)) {
			return nil, nil
		}
	} else if !ev.rrule.until.IsZero() && ev.rrule.until.Before(now) {
		return nil, nil
	}

	progZones, opts, err := parseDescription(ev.description, zones)
	if err != nil {
		return nil, err
	}

	prog := &config.Program{
		Name:    ev.summary + "@" + cal.Name,
		Active:  true,
		Start:   ev.start.Format("15:04"),
		Date:    ev.start.Format("20060102"),
		Repeat:  config.RepeatNone,
		Season:  cal.Season,
		Options: opts,
		Zones:   progZones,
	}

	if r := ev.rrule; r != nil {
		switch r.freq {
		case "DAILY":
			prog.Repeat = config.RepeatDaily
			prog.Interval = r.interval
		case "WEEKLY":
			prog.Repeat = config.RepeatWeekly
			prog.Days = append([]bool(nil), r.days[:]...)
		default:
			return nil, fmt.Errorf("calendar: unsupported frequency %q", r.freq)
		}
		if !r.until.IsZero() {
			prog.Until = r.until.Format("20060102")
		}
	}

	// Replacement occurrences become one-shot exception programs; their
	// replaced moments are excluded from the recurring run.
	for recurTime, up := range ev.exceptions {
		future := up.start.After(now) || recurTime.After(now)
		if !future {
			continue
		}
		desc := up.description
		if desc == "" {
			desc = ev.description
		}
		excZones, excOpts, err := parseDescription(desc, zones)
		if err != nil {
			return nil, err
		}
		exc := config.Program{
			Name:    prog.Name,
			Active:  true,
			Start:   up.start.Format("15:04"),
			Date:    up.start.Format("20060102"),
			Repeat:  config.RepeatNone,
			Options: excOpts,
			Zones:   excZones,
		}
		prog.Exceptions = append(prog.Exceptions, exc)
		prog.Exclusions = append(prog.Exclusions, recurTime)
	}

	prog.Exclusions = append(prog.Exclusions, ev.exdates...)

	return prog, nil
}
