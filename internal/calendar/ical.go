// SPDX-License-Identifier: MIT

// Package calendar fetches external iCalendar feeds and synthesises
// programs from their events.
package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// property is one unfolded content line.
type property struct {
	name   string
	params map[string]string
	value  string
}

// vevent is the parsed form of one VEVENT block.
type vevent struct {
	uid          string
	summary      string
	description  string
	location     string
	start        time.Time
	allDay       bool
	sequence     int
	recurrenceID time.Time // zero for main events
	hasRecurID   bool
	rrule        *rrule
	exdates      []time.Time

	// exceptions maps the replaced occurrence moment to the update event,
	// populated after all blocks are read. Higher SEQUENCE wins.
	exceptions map[time.Time]*vevent
}

// rrule is the supported recurrence subset.
type rrule struct {
	freq     string // DAILY or WEEKLY
	interval int
	until    time.Time
	days     [7]bool // Sun=0, for WEEKLY
}

// unfold strips RFC 5545 §3.1 line continuations (CRLF followed by
// whitespace). Bare LF feeds are tolerated.
func unfold(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n ", "")
	raw = strings.ReplaceAll(raw, "\r\n\t", "")
	raw = strings.ReplaceAll(raw, "\n ", "")
	raw = strings.ReplaceAll(raw, "\n\t", "")
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	return strings.Split(raw, "\n")
}

// parseProperty splits "NAME;PARAM=V;PARAM=V:value". The name/value colon
// is the first one outside double quotes.
func parseProperty(line string) (property, bool) {
	inQuotes := false
	sep := -1
	for i, r := range line {
		switch r {
		case '"':
			inQuotes = !inQuotes
		case ':':
			if !inQuotes {
				sep = i
			}
		}
		if sep >= 0 {
			break
		}
	}
	if sep < 0 {
		return property{}, false
	}

	head := line[:sep]
	parts := strings.Split(head, ";")
	p := property{
		name:   strings.ToUpper(strings.TrimSpace(parts[0])),
		params: map[string]string{},
		value:  line[sep+1:],
	}
	for _, kv := range parts[1:] {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(kv[:eq]))
		p.params[key] = strings.Trim(kv[eq+1:], `"`)
	}
	return p, true
}

// parseCalendar reads all VEVENT blocks. defaultLoc is the controller's
// timezone; the calendar's own VTIMEZONE / X-WR-TIMEZONE overrides it for
// times that carry no zone of their own. All times come back in defaultLoc.
func parseCalendar(raw string, defaultLoc *time.Location) ([]*vevent, error) {
	lines := unfold(raw)

	calLoc := defaultLoc
	var events []*vevent
	var cur *vevent
	inTimezone := false

	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		prop, ok := parseProperty(line)
		if !ok {
			continue
		}

		switch prop.name {
		case "BEGIN":
			switch strings.ToUpper(prop.value) {
			case "VEVENT":
				cur = &vevent{sequence: -1}
			case "VTIMEZONE":
				inTimezone = true
			}
			continue
		case "END":
			switch strings.ToUpper(prop.value) {
			case "VEVENT":
				if cur != nil {
					events = append(events, cur)
					cur = nil
				}
			case "VTIMEZONE":
				inTimezone = false
			}
			continue
		}

		if cur == nil {
			// Calendar-level properties.
			switch prop.name {
			case "X-WR-TIMEZONE":
				if loc, err := time.LoadLocation(prop.value); err == nil {
					calLoc = loc
				}
			case "TZID":
				if inTimezone {
					if loc, err := time.LoadLocation(prop.value); err == nil {
						calLoc = loc
					}
				}
			}
			continue
		}

		switch prop.name {
		case "UID":
			cur.uid = prop.value
		case "SUMMARY":
			cur.summary = unescapeText(prop.value)
		case "DESCRIPTION":
			cur.description = unescapeText(prop.value)
		case "LOCATION":
			cur.location = unescapeText(prop.value)
		case "SEQUENCE":
			if n, err := strconv.Atoi(prop.value); err == nil {
				cur.sequence = n
			}
		case "DTSTART":
			if prop.params["VALUE"] == "DATE" {
				cur.allDay = true
				continue
			}
			t, err := parseDateTime(prop, calLoc, defaultLoc)
			if err == nil {
				cur.start = t
			}
		case "RECURRENCE-ID":
			t, err := parseDateTime(prop, calLoc, defaultLoc)
			if err == nil {
				cur.recurrenceID = t
				cur.hasRecurID = true
			}
		case "RRULE":
			cur.rrule = parseRRule(prop.value, calLoc, defaultLoc)
		case "EXDATE":
			for _, v := range strings.Split(prop.value, ",") {
				single := property{name: "EXDATE", params: prop.params, value: v}
				if t, err := parseDateTime(single, calLoc, defaultLoc); err == nil {
					cur.exdates = append(cur.exdates, t)
				}
			}
		}
	}

	return attachExceptions(events), nil
}

// attachExceptions folds update events (same UID plus RECURRENCE-ID) into
// their main event, later SEQUENCE winning.
func attachExceptions(events []*vevent) []*vevent {
	mains := make(map[string]*vevent)
	var order []*vevent
	var updates []*vevent

	for _, ev := range events {
		if ev.hasRecurID {
			updates = append(updates, ev)
			continue
		}
		if _, dup := mains[ev.uid]; dup {
			continue
		}
		mains[ev.uid] = ev
		order = append(order, ev)
	}

	for _, up := range updates {
		main, ok := mains[up.uid]
		if !ok {
			continue
		}
		if main.exceptions == nil {
			main.exceptions = make(map[time.Time]*vevent)
		}
		key := up.recurrenceID
		if prev, exists := main.exceptions[key]; exists && prev.sequence >= up.sequence {
			continue
		}
		main.exceptions[key] = up
	}

	return order
}

// parseDateTime handles the three time forms: trailing Z (UTC), a TZID
// parameter, or a floating time in the calendar's zone. The result is
// converted to the controller's zone.
func parseDateTime(p property, calLoc, defaultLoc *time.Location) (time.Time, error) {
	v := strings.TrimSpace(p.value)
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		if err != nil {
			return time.Time{}, err
		}
		return t.In(defaultLoc), nil
	}

	loc := calLoc
	if tzid, ok := p.params["TZID"]; ok {
		if parsed, err := time.LoadLocation(tzid); err == nil {
			loc = parsed
		}
	}
	t, err := time.ParseInLocation("20060102T150405", v, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("calendar: bad time %q: %w", v, err)
	}
	return t.In(defaultLoc), nil
}

var byDayIndex = map[string]int{
	"SU": 0, "MO": 1, "TU": 2, "WE": 3, "TH": 4, "FR": 5, "SA": 6,
}

// parseRRule reads the FREQ/INTERVAL/UNTIL/BYDAY subset. Unsupported
// frequencies yield a rule with an empty freq, which rejects the event.
func parseRRule(v string, calLoc, defaultLoc *time.Location) *rrule {
	r := &rrule{interval: 1}
	for _, part := range strings.Split(v, ";") {
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		key := strings.ToUpper(part[:eq])
		val := part[eq+1:]
		switch key {
		case "FREQ":
			r.freq = strings.ToUpper(val)
		case "INTERVAL":
			if n, err := strconv.Atoi(val); err == nil && n > 0 {
				r.interval = n
			}
		case "UNTIL":
			p := property{name: "UNTIL", params: map[string]string{}, value: val}
			if t, err := parseDateTime(p, calLoc, defaultLoc); err == nil {
				r.until = t
			} else if d, derr := time.ParseInLocation("20060102", val, calLoc); derr == nil {
				r.until = d.In(defaultLoc)
			}
		case "BYDAY":
			for _, day := range strings.Split(val, ",") {
				if idx, ok := byDayIndex[strings.ToUpper(strings.TrimSpace(day))]; ok {
					r.days[idx] = true
				}
			}
		}
	}
	return r
}

// unescapeText reverses RFC 5545 §3.3.11 text escaping.
func unescapeText(s string) string {
	replacer := strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)
	return replacer.Replace(s)
}
