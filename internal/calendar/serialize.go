// SPDX-License-Identifier: MIT

package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/waterwise/sprinklerd/internal/config"
)

var rruleDayNames = [7]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// Serialize renders programs as an iCalendar document the importer parses
// back to the same active program set. Program names are expected in the
// imported "summary@calendar" form; the summary part is emitted.
func Serialize(programs []config.Program, zones []config.Zone, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\n")
	b.WriteString("VERSION:2.0\r\n")
	b.WriteString("PRODID:-//sprinklerd//calendar//EN\r\n")
	fmt.Fprintf(&b, "X-WR-TIMEZONE:%s\r\n", loc.String())

	for i, prog := range programs {
		summary := prog.Name
		if at := strings.LastIndexByte(summary, '@'); at > 0 {
			summary = summary[:at]
		}

		start := prog.Date
		if start == "" {
			start = time.Now().In(loc).Format("20060102")
		}
		hhmm := strings.Replace(prog.Start, ":", "", 1)

		b.WriteString("BEGIN:VEVENT\r\n")
		fmt.Fprintf(&b, "UID:%d@sprinklerd\r\n", i)
		fmt.Fprintf(&b, "SUMMARY:%s\r\n", summary)
		fmt.Fprintf(&b, "DTSTART:%sT%s00\r\n", start, hhmm)

		switch prog.Repeat {
		case config.RepeatDaily:
			interval := prog.Interval
			if interval <= 0 {
				interval = 1
			}
			fmt.Fprintf(&b, "RRULE:FREQ=DAILY;INTERVAL=%d", interval)
			if prog.Until != "" {
				fmt.Fprintf(&b, ";UNTIL=%sT235959", prog.Until)
			}
			b.WriteString("\r\n")
		case config.RepeatWeekly:
			var days []string
			for d, on := range prog.Days {
				if on {
					days = append(days, rruleDayNames[d])
				}
			}
			fmt.Fprintf(&b, "RRULE:FREQ=WEEKLY;BYDAY=%s", strings.Join(days, ","))
			if prog.Until != "" {
				fmt.Fprintf(&b, ";UNTIL=%sT235959", prog.Until)
			}
			b.WriteString("\r\n")
		}

		var tokens []string
		for _, pz := range prog.Zones {
			if pz.Zone < 0 || pz.Zone >= len(zones) {
				continue
			}
			tokens = append(tokens, fmt.Sprintf("%s=%d", zones[pz.Zone].Name, pz.Seconds/60))
		}
		if prog.Options.Append {
			tokens = append(tokens, "append")
		}
		fmt.Fprintf(&b, "DESCRIPTION:%s\r\n", strings.Join(tokens, " "))
		b.WriteString("END:VEVENT\r\n")
	}

	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}
