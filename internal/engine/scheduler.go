// SPDX-License-Identifier: MIT

package engine

import (
	"time"

	"github.com/waterwise/sprinklerd/internal/config"
	"github.com/waterwise/sprinklerd/internal/metrics"
)

// Tick is the 10-second scheduler heartbeat. Each wall-clock minute is
// evaluated at most once; when the controller is off the scheduler
// short-circuits entirely.
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg := e.holder.Get()
	if !cfg.On {
		return
	}
	now = now.In(cfg.TimeLocation())

	key := now.Format("2006-01-02 15:04")
	if key == e.lastMinute {
		return
	}
	e.lastMinute = key

	if cfg.RainDelay {
		if e.driver.RainSensor() || e.weather.RainSensor() {
			e.rain.extend(now.Add(rainDelayInterval))
		}
		if e.rain.active(now) {
			metrics.RainDelayActive.Set(1)
			metrics.ProgramSkipTotal.WithLabelValues("raindelay").Inc()
			return
		}
		metrics.RainDelayActive.Set(0)
	}

	e.evalListLocked(cfg, cfg.Programs, listUser, now)
	e.evalListLocked(cfg, e.importer.Programs(), listCalendar, now)
}

const (
	listUser     = "user"
	listCalendar = "calendar"
)

func (e *Engine) evalListLocked(cfg *config.Config, progs []config.Program, list string, now time.Time) {
	for i := range progs {
		prog := progs[i]
		if !prog.Active {
			continue
		}
		if prog.Season != "" && !seasonAllows(cfg, prog.Season, now) {
			metrics.ProgramSkipTotal.WithLabelValues("season").Inc()
			continue
		}

		// Replacement occurrences take precedence over the recurring
		// rule; they are ephemeral and never written back.
		fired := false
		for _, exc := range prog.Exceptions {
			if due, _, _ := dueNow(&exc, now); due {
				e.programOnLocked(exc, list, now)
				fired = true
				break
			}
		}
		if fired {
			continue
		}

		due, anchor, deactivate := dueNow(&prog, now)
		if anchor != "" || deactivate {
			e.writeBack(list, i, prog.Name, anchor, deactivate)
		}
		if due {
			e.programOnLocked(prog, list, now)
		}
	}
}

// writeBack persists a date anchor or a one-shot deactivation. User
// programs go through the config holder; imported ones stay with the
// importer so the next calendar merge keeps them inactive.
func (e *Engine) writeBack(list string, idx int, name, anchor string, deactivate bool) {
	if list == listCalendar {
		if anchor != "" {
			e.importer.SetDate(name, anchor)
		}
		if deactivate {
			e.importer.MarkRan(name)
		}
		return
	}
	if err := e.holder.Mutate(func(c *config.Config) {
		if idx >= len(c.Programs) || c.Programs[idx].Name != name {
			return
		}
		if anchor != "" {
			c.Programs[idx].Date = anchor
		}
		if deactivate {
			c.Programs[idx].Active = false
		}
	}); err != nil {
		e.logger.Warn().Err(err).Str("event", "scheduler.writeback_failed").Str("program", name).Msg("could not persist program state")
	}
}

// seasonAllows checks the named season's month or ISO-week bit. An unknown
// season name does not gate the program.
func seasonAllows(cfg *config.Config, name string, now time.Time) bool {
	for _, s := range cfg.Seasons {
		if s.Name != name {
			continue
		}
		if len(s.Weekly) > 0 {
			_, wk := now.ISOWeek()
			if idx := wk - 1; idx >= 0 && idx < len(s.Weekly) {
				return s.Weekly[idx]
			}
			return true
		}
		if len(s.Monthly) > 0 {
			if idx := int(now.Month()) - 1; idx < len(s.Monthly) {
				return s.Monthly[idx]
			}
		}
		return true
	}
	return true
}

// dueNow decides whether a program fires at this minute. It returns the
// date anchor to persist when the program had none, and whether a one-shot
// program must be deactivated regardless of firing.
func dueNow(p *config.Program, now time.Time) (fire bool, anchor string, deactivate bool) {
	if now.Format("15:04") != p.Start {
		return false, "", false
	}
	loc := now.Location()

	if p.Until != "" {
		until, err := config.ParseDate(p.Until)
		if err == nil {
			end := time.Date(until.Year(), until.Month(), until.Day(), 23, 59, 59, 0, loc)
			if now.After(end) {
				return false, "", false
			}
		}
	}

	for _, excl := range p.Exclusions {
		d := now.Sub(excl)
		if d < 0 {
			d = -d
		}
		if d < time.Minute {
			return false, "", false
		}
	}

	delta := 0
	if p.Date == "" {
		anchor = now.Format("20060102")
	} else {
		date, err := config.ParseDate(p.Date)
		if err != nil {
			anchor = now.Format("20060102")
		} else {
			delta = daysBetween(date, now)
			if delta < 0 {
				return false, anchor, false
			}
		}
	}

	switch p.Repeat {
	case config.RepeatWeekly:
		dow := int(now.Weekday())
		return len(p.Days) == 7 && p.Days[dow], anchor, false
	case config.RepeatDaily:
		interval := p.Interval
		if interval <= 0 {
			interval = 1
		}
		return delta%interval == 0, anchor, false
	default:
		// One-shot: never considered again, fired or not.
		return delta == 0, anchor, true
	}
}

// daysBetween counts whole calendar days from a to b, ignoring the time of
// day so DST transitions do not skew the count.
func daysBetween(a, b time.Time) int {
	au := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bu := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bu.Sub(au) / (24 * time.Hour))
}
