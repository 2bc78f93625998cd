// SPDX-License-Identifier: MIT

package events

import (
	"database/sql"
	"fmt"
	"log/syslog"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/waterwise/sprinklerd/internal/config"
	xlog "github.com/waterwise/sprinklerd/internal/log"
	"github.com/waterwise/sprinklerd/internal/metrics"
	"github.com/waterwise/sprinklerd/internal/persistence/sqlite"
)

const schemaVersion = 1

// ringSize bounds the in-memory copy of recent records. The ring is the
// fallback when the database is unavailable, so appends always succeed.
const ringSize = 512

// Sink appends records and answers history queries. Inserts are serialised
// so the (timestamp, sequence) invariant stays monotone.
type Sink struct {
	mu     sync.Mutex
	db     *sql.DB
	logger zerolog.Logger
	sys    *syslog.Writer

	cleanupDays int
	lastStamp   int64 // unix seconds of the most recent record
	lastSeq     int

	ring []Record

	now func() time.Time
}

// NewSink opens (and migrates) the event database. A database that cannot
// be opened is logged and the sink runs memory-only.
func NewSink(dbPath string, cfg config.EventConfig) (*Sink, error) {
	s := &Sink{
		logger:      xlog.WithComponent("events"),
		cleanupDays: cfg.Cleanup,
		now:         time.Now,
	}

	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		s.logger.Error().Err(err).Str("event", "events.db_open_failed").Str("path", dbPath).Msg("running with in-memory event log only")
	} else {
		s.db = db
		if err := s.migrate(); err != nil {
			s.logger.Error().Err(err).Str("event", "events.migrate_failed").Msg("running with in-memory event log only")
			_ = db.Close()
			s.db = nil
		} else {
			s.seedSequence()
		}
	}

	if cfg.Syslog {
		w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_USER, "sprinkler")
		if err != nil {
			s.logger.Warn().Err(err).Str("event", "events.syslog_unavailable").Msg("syslog fanout disabled")
		} else {
			s.sys = w
		}
	}

	return s, nil
}

func (s *Sink) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS events (
		timestamp   INTEGER NOT NULL,
		sequence    INTEGER NOT NULL,
		action      TEXT    NOT NULL,
		zone        INTEGER,
		program     TEXT,
		parent      TEXT,
		seconds     INTEGER,
		runtime     INTEGER,
		adjustment  INTEGER,
		source      TEXT,
		temperature REAL,
		humidity    REAL,
		rain        REAL,
		ratio       INTEGER,
		PRIMARY KEY (timestamp, sequence)
	);
	CREATE INDEX IF NOT EXISTS idx_events_action ON events(action);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// seedSequence restores the ordering state from the last persisted record so
// a restart within the same second keeps the sequence monotone.
func (s *Sink) seedSequence() {
	row := s.db.QueryRow("SELECT timestamp, sequence FROM events ORDER BY timestamp DESC, sequence DESC LIMIT 1")
	var ts int64
	var seq int
	if err := row.Scan(&ts, &seq); err == nil {
		s.lastStamp = ts
		s.lastSeq = seq
	}
}

// Record stamps and appends rec, returning the stored form. Persistence
// errors are logged; the in-memory append still counts.
func (s *Sink) Record(rec Record) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := s.now().Truncate(time.Second)
	unix := stamp.Unix()
	if unix > s.lastStamp {
		s.lastSeq = 1
	} else {
		s.lastSeq++
	}
	s.lastStamp = unix
	rec.Timestamp = stamp
	rec.Sequence = s.lastSeq
	metrics.EventsRecordedTotal.WithLabelValues(string(rec.Action)).Inc()

	s.ring = append(s.ring, rec)
	if len(s.ring) > ringSize {
		s.ring = s.ring[len(s.ring)-ringSize:]
	}

	if s.db != nil {
		_, err := s.db.Exec(`INSERT INTO events
			(timestamp, sequence, action, zone, program, parent, seconds, runtime, adjustment, source, temperature, humidity, rain, ratio)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			unix, rec.Sequence, string(rec.Action),
			rec.Zone, rec.Program, rec.Parent, rec.Seconds, rec.Runtime,
			rec.Adjustment, rec.Source, rec.Temperature, rec.Humidity, rec.Rain, rec.Ratio)
		if err != nil {
			s.logger.Error().Err(err).Str("event", "events.insert_failed").Str("action", string(rec.Action)).Msg("event not persisted")
		} else if s.cleanupDays > 0 && rec.Sequence == 1 {
			s.purgeLocked(unix)
		}
	}

	if s.sys != nil {
		if err := s.sys.Info(rec.Line()); err != nil {
			s.logger.Warn().Err(err).Str("event", "events.syslog_failed").Msg("syslog write failed")
		}
	}

	return rec
}

func (s *Sink) purgeLocked(nowUnix int64) {
	cutoff := nowUnix - int64(s.cleanupDays)*86400
	if _, err := s.db.Exec("DELETE FROM events WHERE timestamp < ?", cutoff); err != nil {
		s.logger.Warn().Err(err).Str("event", "events.cleanup_failed").Msg("retention purge failed")
	}
}

// Find returns records matching f, newest first. When the database is
// unavailable the in-memory ring answers instead.
func (s *Sink) Find(f Filter) []Record {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()

	if db == nil {
		return s.findRing(f)
	}

	query := "SELECT timestamp, sequence, action, zone, program, parent, seconds, runtime, adjustment, source, temperature, humidity, rain, ratio FROM events WHERE 1=1"
	args := make([]any, 0, 6)
	if f.Action != "" {
		query += " AND action = ?"
		args = append(args, string(f.Action))
	}
	if f.Zone != nil {
		query += " AND zone = ?"
		args = append(args, *f.Zone)
	}
	if f.Program != "" {
		query += " AND program = ?"
		args = append(args, f.Program)
	}
	if !f.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, f.Since.Unix())
	}
	if !f.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, f.Until.Unix())
	}
	query += " ORDER BY timestamp DESC, sequence DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		s.logger.Error().Err(err).Str("event", "events.query_failed").Msg("falling back to in-memory ring")
		return s.findRing(f)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var rec Record
		var unix int64
		if err := rows.Scan(&unix, &rec.Sequence, &rec.Action,
			&rec.Zone, &rec.Program, &rec.Parent, &rec.Seconds, &rec.Runtime,
			&rec.Adjustment, &rec.Source, &rec.Temperature, &rec.Humidity, &rec.Rain, &rec.Ratio); err != nil {
			s.logger.Error().Err(err).Str("event", "events.scan_failed").Msg("dropping row")
			continue
		}
		rec.Timestamp = time.Unix(unix, 0)
		out = append(out, rec)
	}
	return out
}

func (s *Sink) findRing(f Filter) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for i := len(s.ring) - 1; i >= 0; i-- {
		rec := s.ring[i]
		if f.Action != "" && rec.Action != f.Action {
			continue
		}
		if f.Zone != nil && (rec.Zone == nil || *rec.Zone != *f.Zone) {
			continue
		}
		if f.Program != "" && (rec.Program == nil || *rec.Program != f.Program) {
			continue
		}
		if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && rec.Timestamp.After(f.Until) {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Close flushes and closes the sink's resources.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sys != nil {
		_ = s.sys.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
