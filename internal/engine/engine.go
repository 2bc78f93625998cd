// SPDX-License-Identifier: MIT

// Package engine ties the scheduler, the run queue executor, rain-delay
// state and the manual controller together behind one mutex. All mutable
// controller state hangs off an Engine value; timers fire back into it
// through the Clock abstraction.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/waterwise/sprinklerd/internal/adjust"
	"github.com/waterwise/sprinklerd/internal/calendar"
	"github.com/waterwise/sprinklerd/internal/config"
	"github.com/waterwise/sprinklerd/internal/events"
	"github.com/waterwise/sprinklerd/internal/hardware"
	xlog "github.com/waterwise/sprinklerd/internal/log"
	"github.com/waterwise/sprinklerd/internal/metrics"
)

const (
	schedulerInterval = 10 * time.Second
	refreshInterval   = time.Minute
)

// ErrUnknownProgram is returned by StartProgram for ids that resolve to no
// configured or imported program.
var ErrUnknownProgram = errors.New("engine: unknown program id")

// ErrInvalidZone is returned for manual activation of an out-of-range zone.
var ErrInvalidZone = errors.New("engine: invalid zone index")

// Mode is the coarse controller state reported over the API.
type Mode string

const (
	ModeOff      Mode = "off"
	ModeIdle     Mode = "idle"
	ModeRainHold Mode = "rainhold"
	ModeRunning  Mode = "running"
)

// RunningInfo describes the in-flight run item.
type RunningInfo struct {
	Zone      *int      `json:"zone,omitempty"`
	Pause     bool      `json:"pause,omitempty"`
	Parent    string    `json:"parent,omitempty"`
	Seconds   int       `json:"seconds"`
	Remaining int       `json:"remaining"`
	StartedAt time.Time `json:"startedAt"`
}

// Snapshot is the status document served by the API.
type Snapshot struct {
	Mode          Mode                 `json:"mode"`
	On            bool                 `json:"on"`
	RainDelay     bool                 `json:"raindelay"`
	RainRemaining int                  `json:"rainRemaining"` // seconds
	QueueDepth    int                  `json:"queueDepth"`
	Running       *RunningInfo         `json:"running,omitempty"`
	Weather       adjust.WeatherStatus `json:"weather"`
	WateringIndex adjust.IndexStatus   `json:"wateringindex"`
	Calendars     []calendar.Status    `json:"calendars,omitempty"`
}

// Engine is the controller core. One mutex serialises scheduler ticks,
// executor timers, hardware edge callbacks and control operations.
type Engine struct {
	mu     sync.Mutex
	logger zerolog.Logger
	clock  Clock

	holder   *config.Holder
	hwCfg    *config.HardwareConfig
	driver   hardware.Driver
	sink     *events.Sink
	importer *calendar.Importer
	weather  *adjust.Weather
	index    *adjust.WateringIndex

	zones ZoneIndex

	// Scheduler state.
	lastMinute string
	rain       rainDelay

	// Executor state.
	queue       []runItem
	running     *runningState
	settling    bool
	tickTimer   Timer
	runTimer    Timer
	settleTimer Timer

	// Manual controller state.
	buttonCursor int
	buttonTimer  Timer

	// Refresh bookkeeping for UPDATE events.
	lastWeatherStamp time.Time
	lastIndexStamp   time.Time
}

// New wires the engine. The clock may be nil for the system clock.
func New(holder *config.Holder, hwCfg *config.HardwareConfig, driver hardware.Driver,
	sink *events.Sink, importer *calendar.Importer,
	weather *adjust.Weather, index *adjust.WateringIndex, clock Clock) *Engine {

	if clock == nil {
		clock = SystemClock
	}
	e := &Engine{
		logger:       xlog.WithComponent("engine"),
		clock:        clock,
		holder:       holder,
		hwCfg:        hwCfg,
		driver:       driver,
		sink:         sink,
		importer:     importer,
		weather:      weather,
		index:        index,
		buttonCursor: -1,
	}
	e.Activate(holder.Get())

	driver.RainInterrupt(func(hardware.Interrupt) { e.rainEdge() })
	driver.ButtonInterrupt(func(hardware.Interrupt) { e.ButtonPress() })
	return e
}

// Activate re-seats every component on a new config snapshot. The current
// queue and in-flight run are deliberately left alone.
func (e *Engine) Activate(cfg *config.Config) {
	now := e.clock.Now()
	e.driver.Configure(e.hwCfg, cfg.Zones)
	e.importer.Configure(cfg)
	e.weather.Configure(cfg.Weather, cfg.ZipCode, now)
	e.index.Configure(cfg.WateringIndex, cfg.ZipCode, now)

	e.mu.Lock()
	e.zones = NewZoneIndex(cfg.Zones)
	e.mu.Unlock()

	e.logger.Info().
		Str("event", "engine.activated").
		Int("zones", len(cfg.Zones)).
		Int("programs", len(cfg.Programs)).
		Msg("configuration activated")
}

// Run drives the scheduler and refresh loops until the context ends. The
// STARTUP record is the first event of the process lifetime.
func (e *Engine) Run(ctx context.Context) error {
	e.sink.Record(events.Record{Action: events.ActionStartup})

	cfgCh := make(chan *config.Config, 1)
	e.holder.RegisterListener(cfgCh)

	sched := time.NewTicker(schedulerInterval)
	defer sched.Stop()
	refresh := time.NewTicker(refreshInterval)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			e.AllOff()
			return nil
		case cfg := <-cfgCh:
			e.Activate(cfg)
		case <-sched.C:
			e.Tick(e.clock.Now())
		case <-refresh.C:
			e.refresh(ctx, e.clock.Now())
		}
	}
}

// refresh is the 60-second heartbeat. Each refresher self-throttles; a
// successful weather/index fetch after the first is surfaced as UPDATE.
func (e *Engine) refresh(ctx context.Context, now time.Time) {
	e.importer.Refresh(ctx, now)
	e.weather.Refresh(ctx, now)
	e.index.Refresh(ctx, now)

	e.mu.Lock()
	defer e.mu.Unlock()

	if u := e.weather.Updated(); !u.IsZero() {
		if e.lastWeatherStamp.IsZero() {
			e.lastWeatherStamp = u
		} else if u.After(e.lastWeatherStamp) {
			e.lastWeatherStamp = u
			st := e.weather.Status()
			rec := events.Record{
				Action:     events.ActionUpdate,
				Source:     events.Str(e.weather.Source()),
				Adjustment: events.Int(st.Adjustment),
			}
			rec.Temperature = st.Temperature
			rec.Humidity = st.Humidity
			rec.Rain = st.Rain
			e.sink.Record(rec)
		}
	}
	if u := e.index.Updated(); !u.IsZero() {
		if e.lastIndexStamp.IsZero() {
			e.lastIndexStamp = u
		} else if u.After(e.lastIndexStamp) {
			e.lastIndexStamp = u
			e.sink.Record(events.Record{
				Action:     events.ActionUpdate,
				Source:     events.Str(e.index.Source()),
				Adjustment: events.Int(e.index.Adjustment()),
			})
		}
	}
}

// ForceRefresh triggers an immediate refresh pass, bypassing the calendar
// hour throttle. Weather and index still follow their armed slots.
func (e *Engine) ForceRefresh(ctx context.Context) {
	now := e.clock.Now()
	e.importer.ForceRefresh(ctx, now)
	e.weather.Refresh(ctx, now)
	e.index.Refresh(ctx, now)
}

func (e *Engine) rainEdge() {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg := e.holder.Get()
	if !cfg.RainDelay {
		return
	}
	now := e.clock.Now()
	e.rain.extend(now.Add(rainDelayInterval))
	metrics.RainDelayActive.Set(1)
	e.logger.Info().Str("event", "engine.rain_edge").Time("deadline", e.rain.deadline).Msg("rain detected, delay armed")
}

// SetOn flips the controller master switch. Off stops the scheduler only;
// an in-flight run keeps going and manual activation still works.
func (e *Engine) SetOn(on bool) error {
	if err := e.holder.Mutate(func(c *config.Config) { c.On = on }); err != nil {
		return err
	}
	action := events.ActionOn
	if !on {
		action = events.ActionOff
	}
	e.sink.Record(events.Record{Action: action, Source: events.Str("system")})
	return nil
}

// SetRainDelay toggles rain-delay handling. Disabling also clears any
// armed deadline.
func (e *Engine) SetRainDelay(on bool) error {
	if err := e.holder.Mutate(func(c *config.Config) { c.RainDelay = on }); err != nil {
		return err
	}
	e.mu.Lock()
	if !on {
		e.rain.clear()
		metrics.RainDelayActive.Set(0)
	}
	e.mu.Unlock()
	action := events.ActionOn
	if !on {
		action = events.ActionOff
	}
	e.sink.Record(events.Record{Action: action, Source: events.Str("raindelay")})
	return nil
}

// ExtendRainDelay arms or extends the suppression deadline by the standard
// interval. The deadline never moves backwards.
func (e *Engine) ExtendRainDelay() {
	e.mu.Lock()
	now := e.clock.Now()
	e.rain.extend(now.Add(rainDelayInterval))
	deadline := e.rain.deadline
	e.mu.Unlock()
	metrics.RainDelayActive.Set(1)
	e.logger.Info().Str("event", "engine.raindelay_extended").Time("deadline", deadline).Msg("rain delay extended")
}

// SetWeather toggles the weather adjuster.
func (e *Engine) SetWeather(on bool) {
	e.weather.SetEnabled(on)
	action := events.ActionOn
	if !on {
		action = events.ActionOff
	}
	e.sink.Record(events.Record{Action: action, Source: events.Str("weather")})
}

// SetWateringIndex toggles the watering-index adjuster.
func (e *Engine) SetWateringIndex(on bool) {
	e.index.SetEnabled(on)
	action := events.ActionOn
	if !on {
		action = events.ActionOff
	}
	e.sink.Record(events.Record{Action: action, Source: events.Str("wateringindex")})
}

// StartProgram launches a program by API id: C<idx> for calendar programs,
// L<idx> or a bare integer for the user list.
func (e *Engine) StartProgram(id string) error {
	cfg := e.holder.Get()
	var prog config.Program

	switch {
	case strings.HasPrefix(id, "C"):
		idx, err := strconv.Atoi(id[1:])
		if err != nil {
			return fmt.Errorf("%w: %q", ErrUnknownProgram, id)
		}
		progs := e.importer.Programs()
		if idx < 0 || idx >= len(progs) {
			return fmt.Errorf("%w: %q", ErrUnknownProgram, id)
		}
		prog = progs[idx]
	default:
		idx, err := strconv.Atoi(strings.TrimPrefix(id, "L"))
		if err != nil || idx < 0 || idx >= len(cfg.Programs) {
			return fmt.Errorf("%w: %q", ErrUnknownProgram, id)
		}
		prog = cfg.Programs[idx]
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.programOnLocked(prog, "manual", e.clock.Now())
	return nil
}

// ZoneOnManual cancels whatever is running and runs one zone directly.
// The zone's manual flag does not apply here.
func (e *Engine) ZoneOnManual(zone, seconds int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.zones.Valid(zone) {
		return fmt.Errorf("%w: %d", ErrInvalidZone, zone)
	}
	if seconds <= 0 {
		return fmt.Errorf("engine: invalid duration %d", seconds)
	}
	now := e.clock.Now()
	e.killLocked()
	e.queue = append(e.queue, runItem{zone: zone, seconds: seconds})
	metrics.QueueDepth.Set(float64(len(e.queue)))
	e.processLocked(now)
	return nil
}

// AllOff cancels the queue and de-energises every zone. Idempotent.
func (e *Engine) AllOff() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killLocked()
}

// History queries the event log.
func (e *Engine) History(f events.Filter) []events.Record {
	return e.sink.Find(f)
}

// Status reports the current controller state.
func (e *Engine) Status() Snapshot {
	cfg := e.holder.Get()
	weather := e.weather.Status()
	index := e.index.Status()
	calendars := e.importer.Statuses()

	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()

	snap := Snapshot{
		On:            cfg.On,
		RainDelay:     cfg.RainDelay,
		QueueDepth:    len(e.queue),
		Weather:       weather,
		WateringIndex: index,
		Calendars:     calendars,
	}
	if cfg.RainDelay {
		snap.RainRemaining = int(e.rain.remaining(now) / time.Second)
	}
	if r := e.running; r != nil {
		info := &RunningInfo{
			Parent:    r.item.parent,
			Seconds:   r.item.seconds,
			Remaining: r.remaining,
			StartedAt: r.startedAt,
		}
		if r.item.zone == pauseZone {
			info.Pause = true
		} else {
			info.Zone = events.Int(r.item.zone)
		}
		snap.Running = info
	}

	switch {
	case !cfg.On:
		snap.Mode = ModeOff
	case e.running != nil || len(e.queue) > 0 || e.settling:
		snap.Mode = ModeRunning
	case cfg.RainDelay && e.rain.active(now):
		snap.Mode = ModeRainHold
	default:
		snap.Mode = ModeIdle
	}
	return snap
}
