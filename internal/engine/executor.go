// SPDX-License-Identifier: MIT

package engine

import (
	"strconv"
	"time"

	"github.com/waterwise/sprinklerd/internal/config"
	"github.com/waterwise/sprinklerd/internal/events"
	"github.com/waterwise/sprinklerd/internal/metrics"
)

const (
	// pauseZone marks a sleep item between pulses.
	pauseZone = -1

	// settleDelay separates two physical runs so the supply line
	// depressurises before the next valve opens.
	settleDelay = 2 * time.Second

	// tailDropSeconds is the threshold under which a trailing pulse
	// fragment is discarded as not worth opening the valve for.
	tailDropSeconds = 15
)

type runItem struct {
	zone    int // pauseZone for sleeps
	seconds int
	parent  string // empty for manual runs
	source  string // adjustment source tag, empty when unadjusted
	ratio   int    // adjusted·100/raw, 0 when unadjusted
}

type runningState struct {
	item      runItem
	remaining int
	startedAt time.Time
}

// scalePercent applies an integer percentage with half-up rounding.
func scalePercent(seconds, percent int) int {
	return (seconds*percent + 50) / 100
}

// adjustedSeconds resolves the adjustment source for one zone in priority
// order: named profile, watering index, weather, raw.
func (e *Engine) adjustedSeconds(cfg *config.Config, zc config.Zone, raw int, now time.Time) (int, string, int) {
	name := zc.Adjust
	if name == "" {
		name = "default"
	}
	for _, a := range cfg.Adjust {
		if a.Name != name {
			continue
		}
		if len(a.Weekly) > 0 {
			_, wk := now.ISOWeek()
			if idx := wk - 1; idx >= 0 && idx < len(a.Weekly) {
				ratio := a.Weekly[idx]
				return scalePercent(raw, ratio), name + " (weekly)", ratio
			}
		}
		if len(a.Monthly) > 0 {
			if idx := int(now.Month()) - 1; idx < len(a.Monthly) {
				ratio := a.Monthly[idx]
				return scalePercent(raw, ratio), name + " (monthly)", ratio
			}
		}
	}
	if e.index.Enabled() {
		return e.index.Adjust(raw), e.index.Source(), e.index.Adjustment()
	}
	if e.weather.Enabled() {
		return e.weather.Adjust(raw), e.weather.Source(), e.weather.Adjustment()
	}
	return raw, "", 0
}

// zonePlan is one zone's remaining budget during pulsed emission.
type zonePlan struct {
	zone      int
	remaining int
	pulse     int
	pause     int
	source    string
	ratio     int
}

// programOnLocked expands a program into the run queue and starts it.
// Unless the program asks to append, the current queue is cancelled first.
func (e *Engine) programOnLocked(prog config.Program, origin string, now time.Time) {
	if !prog.Options.Append {
		e.killLocked()
	}
	cfg := e.holder.Get()

	var plans []zonePlan
	for _, pz := range prog.Zones {
		if !e.zones.Valid(pz.Zone) {
			e.logger.Error().
				Str("event", "executor.invalid_zone").
				Str("program", prog.Name).
				Int("zone", pz.Zone).
				Msg("program references unknown zone")
			continue
		}
		zc := e.zones.Zone(pz.Zone)
		if e.zones.Manual(pz.Zone) {
			e.sink.Record(events.Record{
				Action:  events.ActionSkip,
				Zone:    events.Int(pz.Zone),
				Program: events.Str(prog.Name),
			})
			metrics.ProgramSkipTotal.WithLabelValues("manual_zone").Inc()
			continue
		}

		raw := pz.Seconds
		adjusted, source, _ := e.adjustedSeconds(cfg, zc, raw, now)
		ratio := 0
		if raw > 0 {
			ratio = adjusted * 100 / raw
		}
		pulse := zc.Pulse
		if pulse <= 0 {
			pulse = adjusted
		}
		plans = append(plans, zonePlan{
			zone:      pz.Zone,
			remaining: adjusted,
			pulse:     pulse,
			pause:     zc.Pause,
			source:    source,
			ratio:     ratio,
		})
	}

	rec := events.Record{Action: events.ActionStart, Program: events.Str(prog.Name)}
	if e.index.Enabled() {
		rec.Source = events.Str(e.index.Source())
		rec.Adjustment = events.Int(e.index.Adjustment())
	} else if e.weather.Enabled() {
		st := e.weather.Status()
		rec.Source = events.Str(e.weather.Source())
		rec.Adjustment = events.Int(st.Adjustment)
		rec.Temperature = st.Temperature
		rec.Humidity = st.Humidity
		rec.Rain = st.Rain
	}
	e.sink.Record(rec)
	metrics.ProgramStartTotal.WithLabelValues(origin).Inc()

	e.emitPulses(prog.Name, plans)
	metrics.QueueDepth.Set(float64(len(e.queue)))
	e.processLocked(now)
}

// emitPulses walks the plans round-robin, one pulse per zone per round. A
// single group-level pause precedes the final partial round; trailing
// fragments too short to matter are dropped.
func (e *Engine) emitPulses(parent string, plans []zonePlan) {
	for {
		for i := range plans {
			p := &plans[i]
			if p.remaining <= 0 {
				continue
			}
			n := p.remaining
			if n > p.pulse {
				n = p.pulse
			}
			e.queue = append(e.queue, runItem{
				zone:    p.zone,
				seconds: n,
				parent:  parent,
				source:  p.source,
				ratio:   p.ratio,
			})
			p.remaining -= n
			if p.remaining > 0 && p.remaining < p.pulse && p.remaining+p.pause < tailDropSeconds {
				p.remaining = 0
			}
		}

		active := false
		finalRound := true
		maxPause := 0
		for _, p := range plans {
			if p.remaining <= 0 {
				continue
			}
			active = true
			if p.pause > maxPause {
				maxPause = p.pause
			}
			if p.remaining >= p.pulse {
				finalRound = false
			}
		}
		if !active {
			return
		}
		if finalRound && maxPause >= 1 {
			e.queue = append(e.queue, runItem{zone: pauseZone, seconds: maxPause, parent: parent})
		}
	}
}

// processLocked pops the queue head and starts it. Invalid items are
// dropped; a pause item arms a single timer with no hardware action.
func (e *Engine) processLocked(now time.Time) {
	if e.running != nil || e.settling {
		return
	}
	for len(e.queue) > 0 {
		item := e.queue[0]
		e.queue = e.queue[1:]
		metrics.QueueDepth.Set(float64(len(e.queue)))

		if item.seconds <= 0 {
			continue
		}
		if item.zone == pauseZone {
			e.running = &runningState{item: item, remaining: item.seconds, startedAt: now}
			e.runTimer = e.clock.AfterFunc(time.Duration(item.seconds)*time.Second, e.onRunDone)
			return
		}
		if !e.zones.Valid(item.zone) {
			e.logger.Error().
				Str("event", "executor.invalid_zone").
				Int("zone", item.zone).
				Msg("dropping run item for unknown zone")
			continue
		}

		rec := events.Record{
			Action:  events.ActionStart,
			Zone:    events.Int(item.zone),
			Seconds: events.Int(item.seconds),
		}
		if item.parent != "" {
			rec.Parent = events.Str(item.parent)
		}
		if item.source != "" {
			rec.Source = events.Str(item.source)
			rec.Ratio = events.Int(item.ratio)
		}
		e.sink.Record(rec)

		// Branch valve first, master after, so the main line is never
		// pressurised against a closed branch.
		e.driver.SetZone(item.zone, true)
		e.driver.Apply()
		if m, ok := e.zones.Master(item.zone); ok {
			e.driver.SetZone(m, true)
			e.driver.Apply()
		}

		metrics.ZoneOnTotal.WithLabelValues(strconv.Itoa(item.zone)).Inc()
		metrics.RunSecondsTotal.WithLabelValues(strconv.Itoa(item.zone)).Add(float64(item.seconds))

		e.running = &runningState{item: item, remaining: item.seconds, startedAt: now}
		e.tickTimer = e.clock.AfterFunc(time.Second, e.onTick)
		e.runTimer = e.clock.AfterFunc(time.Duration(item.seconds)*time.Second, e.onRunDone)
		return
	}
}

func (e *Engine) onTick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running == nil {
		return
	}
	if e.running.remaining > 0 {
		e.running.remaining--
	}
	if e.running.remaining > 0 {
		e.tickTimer = e.clock.AfterFunc(time.Second, e.onTick)
	}
}

func (e *Engine) onRunDone() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running == nil {
		return
	}
	now := e.clock.Now()
	item := e.running.item
	e.running = nil
	stopTimer(&e.tickTimer)

	if item.zone != pauseZone {
		// Master closes first, branch after: reverse of energisation.
		if m, ok := e.zones.Master(item.zone); ok {
			e.driver.SetZone(m, false)
			e.driver.Apply()
		}
		e.driver.SetZone(item.zone, false)
		e.driver.Apply()

		e.sink.Record(events.Record{
			Action:  events.ActionEnd,
			Zone:    events.Int(item.zone),
			Seconds: events.Int(item.seconds),
		})
	}

	if item.parent != "" && (len(e.queue) == 0 || e.queue[0].parent != item.parent) {
		e.sink.Record(events.Record{Action: events.ActionEnd, Program: events.Str(item.parent)})
	}
	if len(e.queue) == 0 {
		e.sink.Record(events.Record{Action: events.ActionIdle})
	}

	if item.zone == pauseZone {
		e.processLocked(now)
		return
	}
	e.settling = true
	e.settleTimer = e.clock.AfterFunc(settleDelay, e.onSettle)
}

func (e *Engine) onSettle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settling = false
	e.processLocked(e.clock.Now())
}

// killLocked cancels the queue and the in-flight run and de-energises all
// zones. Safe to call when nothing is running.
func (e *Engine) killLocked() {
	if e.running == nil && len(e.queue) == 0 && !e.settling {
		return
	}
	stopTimer(&e.tickTimer)
	stopTimer(&e.runTimer)
	stopTimer(&e.settleTimer)
	e.settling = false

	if r := e.running; r != nil && r.item.zone != pauseZone {
		rec := events.Record{
			Action:  events.ActionCancel,
			Zone:    events.Int(r.item.zone),
			Seconds: events.Int(r.item.seconds),
			Runtime: events.Int(r.item.seconds - r.remaining),
		}
		if r.item.parent != "" {
			rec.Parent = events.Str(r.item.parent)
		}
		e.sink.Record(rec)
	}
	e.running = nil
	e.queue = nil

	for i := 0; i < e.zones.Len(); i++ {
		e.driver.SetZone(i, false)
	}
	e.driver.Apply()
	metrics.QueueDepth.Set(0)
}

func stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
