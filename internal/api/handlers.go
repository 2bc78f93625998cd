// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/waterwise/sprinklerd/internal/config"
	"github.com/waterwise/sprinklerd/internal/engine"
	"github.com/waterwise/sprinklerd/internal/events"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := events.Filter{
		Action:  events.Action(q.Get("action")),
		Program: q.Get("program"),
	}
	if v := q.Get("zone"); v != "" {
		zone, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "zone must be an integer")
			return
		}
		f.Zone = &zone
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = limit
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		f.Since = since
	}
	recs := s.engine.History(f)
	if recs == nil {
		recs = []events.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// toggle adapts the engine's control setters to handlers.
func (s *Server) toggle(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := fn(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.engine.ForceRefresh(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleProgramOn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.StartProgram(id); err != nil {
		if errors.Is(err, engine.ErrUnknownProgram) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleZoneOn(w http.ResponseWriter, r *http.Request) {
	zone, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "zone index must be an integer")
		return
	}
	seconds, err := strconv.Atoi(r.URL.Query().Get("seconds"))
	if err != nil || seconds <= 0 {
		writeError(w, http.StatusBadRequest, "seconds must be a positive integer")
		return
	}
	if err := s.engine.ZoneOnManual(zone, seconds); err != nil {
		if errors.Is(err, engine.ErrInvalidZone) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAllOff(w http.ResponseWriter, _ *http.Request) {
	s.engine.AllOff()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.holder.Get())
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var incoming config.Config
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config document: "+err.Error())
		return
	}
	if err := config.Validate(&incoming); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.holder.Mutate(func(c *config.Config) { *c = incoming }); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.engine.Activate(s.holder.Get())
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
