// SPDX-License-Identifier: MIT

package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/waterwise/sprinklerd/internal/config"
	xlog "github.com/waterwise/sprinklerd/internal/log"
	"github.com/waterwise/sprinklerd/internal/metrics"
)

// Status describes one configured calendar source.
type Status struct {
	Name    string    `json:"name"`
	OK      bool      `json:"ok"`
	Updated time.Time `json:"updated,omitempty"`
}

type calState struct {
	cfg      config.Calendar
	disabled bool
	ok       bool
	updated  time.Time
}

type imported struct {
	calendar string
	prog     config.Program
}

// Importer keeps the merged list of calendar programs current. Sources are
// fetched strictly one at a time so a response is never ambiguous about
// which request it answers.
type Importer struct {
	mu     sync.Mutex
	logger zerolog.Logger
	client *http.Client

	loc      *time.Location
	location string
	zones    []config.Zone

	calendars []*calState
	programs  []imported
	lastHour  string
}

// NewImporter returns an unconfigured importer.
func NewImporter() *Importer {
	return &Importer{
		logger: xlog.WithComponent("calendar"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Configure rebuilds the calendar list. Entries with an unsupported format
// or source scheme are marked disabled; programs whose parent calendar left
// the configuration are pruned.
func (imp *Importer) Configure(cfg *config.Config) {
	imp.mu.Lock()
	defer imp.mu.Unlock()

	imp.loc = cfg.TimeLocation()
	imp.location = cfg.Location
	imp.zones = cfg.Zones

	known := make(map[string]struct{}, len(cfg.Calendars))
	imp.calendars = imp.calendars[:0]
	for _, c := range cfg.Calendars {
		known[c.Name] = struct{}{}
		st := &calState{cfg: c, disabled: c.Disabled}
		if !st.disabled && !supported(c) {
			imp.logger.Warn().
				Str("event", "calendar.unsupported").
				Str("calendar", c.Name).
				Str("format", c.Format).
				Str("source", c.Source).
				Msg("calendar disabled: unsupported format or scheme")
			st.disabled = true
		}
		imp.calendars = append(imp.calendars, st)
	}

	kept := imp.programs[:0]
	for _, p := range imp.programs {
		if _, ok := known[p.calendar]; ok {
			kept = append(kept, p)
		}
	}
	imp.programs = kept
}

func supported(c config.Calendar) bool {
	if !strings.EqualFold(c.Format, "iCalendar") && !strings.EqualFold(c.Format, "ical") {
		return false
	}
	switch {
	case strings.HasPrefix(c.Source, "file:"),
		strings.HasPrefix(c.Source, "http://"),
		strings.HasPrefix(c.Source, "https://"):
		return true
	}
	return false
}

// Refresh is the heartbeat call. It fetches at most once per wall-clock
// hour, and only in the last five minutes of it, so imported programs are
// in place before the typical on-the-hour start times.
func (imp *Importer) Refresh(ctx context.Context, now time.Time) {
	imp.mu.Lock()
	if now.Minute() < 55 {
		imp.mu.Unlock()
		return
	}
	hour := now.Format("2006010215")
	if hour == imp.lastHour {
		imp.mu.Unlock()
		return
	}
	imp.lastHour = hour
	states := append([]*calState(nil), imp.calendars...)
	imp.mu.Unlock()

	// One outstanding request at a time across the whole set.
	for _, st := range states {
		if st.disabled {
			continue
		}
		imp.refreshOne(ctx, st, now)
	}
}

// ForceRefresh bypasses the hourly throttle; used by the control surface.
func (imp *Importer) ForceRefresh(ctx context.Context, now time.Time) {
	imp.mu.Lock()
	states := append([]*calState(nil), imp.calendars...)
	imp.mu.Unlock()
	for _, st := range states {
		if st.disabled {
			continue
		}
		imp.refreshOne(ctx, st, now)
	}
}

func (imp *Importer) refreshOne(ctx context.Context, st *calState, now time.Time) {
	raw, err := imp.fetch(ctx, st.cfg.Source)
	if err != nil {
		imp.mu.Lock()
		st.ok = false
		imp.mu.Unlock()
		metrics.RefreshFailureTotal.WithLabelValues("calendar").Inc()
		imp.logger.Warn().Err(err).Str("event", "calendar.fetch_failed").Str("calendar", st.cfg.Name).Msg("keeping previous programs")
		return
	}

	imp.mu.Lock()
	loc := imp.loc
	location := imp.location
	zones := imp.zones
	imp.mu.Unlock()
	if loc == nil {
		loc = time.Local
	}

	events, err := parseCalendar(raw, loc)
	if err != nil {
		imp.mu.Lock()
		st.ok = false
		imp.mu.Unlock()
		metrics.RefreshFailureTotal.WithLabelValues("calendar").Inc()
		imp.logger.Warn().Err(err).Str("event", "calendar.parse_failed").Str("calendar", st.cfg.Name).Msg("keeping previous programs")
		return
	}

	var fresh []config.Program
	for _, ev := range events {
		prog, err := buildProgram(ev, st.cfg, zones, location, now.In(loc))
		if err != nil {
			imp.logger.Warn().
				Err(err).
				Str("event", "calendar.event_rejected").
				Str("calendar", st.cfg.Name).
				Str("summary", ev.summary).
				Msg("event rejected")
			continue
		}
		if prog != nil {
			fresh = append(fresh, *prog)
		}
	}

	imp.mu.Lock()
	imp.merge(st.cfg.Name, fresh)
	st.ok = true
	st.updated = now
	imp.mu.Unlock()

	imp.logger.Info().
		Str("event", "calendar.refreshed").
		Str("calendar", st.cfg.Name).
		Int("programs", len(fresh)).
		Msg("calendar refreshed")
}

// merge replaces this calendar's programs with the fresh parse. A program
// that was already inactive (a one-shot that ran) stays inactive when the
// same event is still in the feed. Names are unique across the merged list.
func (imp *Importer) merge(calName string, fresh []config.Program) {
	inactive := make(map[string]struct{})
	taken := make(map[string]struct{})
	kept := imp.programs[:0]
	for _, p := range imp.programs {
		if p.calendar != calName {
			kept = append(kept, p)
			taken[p.prog.Name] = struct{}{}
			continue
		}
		if !p.prog.Active {
			inactive[p.prog.Name] = struct{}{}
		}
	}
	imp.programs = kept

	for _, prog := range fresh {
		if _, dup := taken[prog.Name]; dup {
			imp.logger.Warn().Str("event", "calendar.duplicate_program").Str("program", prog.Name).Msg("duplicate program name, dropped")
			continue
		}
		taken[prog.Name] = struct{}{}
		if _, was := inactive[prog.Name]; was {
			prog.Active = false
		}
		imp.programs = append(imp.programs, imported{calendar: calName, prog: prog})
	}
}

func (imp *Importer) fetch(ctx context.Context, source string) (string, error) {
	if strings.HasPrefix(source, "file:") {
		path := strings.TrimPrefix(source, "file://")
		path = strings.TrimPrefix(path, "file:")
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("calendar: read %s: %w", path, err)
		}
		return string(raw), nil
	}

	u, err := url.Parse(source)
	if err != nil {
		return "", fmt.Errorf("calendar: source %q: %w", source, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := imp.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("calendar: %s: status %d", source, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Programs returns the currently active imported programs, in stable order.
func (imp *Importer) Programs() []config.Program {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	out := make([]config.Program, 0, len(imp.programs))
	for _, p := range imp.programs {
		if p.prog.Active {
			out = append(out, p.prog)
		}
	}
	return out
}

// MarkRan deactivates a one-shot imported program after it fired.
func (imp *Importer) MarkRan(name string) {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	for i := range imp.programs {
		if imp.programs[i].prog.Name == name {
			imp.programs[i].prog.Active = false
			return
		}
	}
}

// SetDate anchors an imported program's date on first match.
func (imp *Importer) SetDate(name, date string) {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	for i := range imp.programs {
		if imp.programs[i].prog.Name == name {
			imp.programs[i].prog.Date = date
			return
		}
	}
}

// Statuses reports per-calendar health.
func (imp *Importer) Statuses() []Status {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	out := make([]Status, 0, len(imp.calendars))
	for _, st := range imp.calendars {
		out = append(out, Status{Name: st.cfg.Name, OK: st.ok && !st.disabled, Updated: st.updated})
	}
	return out
}
