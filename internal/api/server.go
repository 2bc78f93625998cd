// SPDX-License-Identifier: MIT

// Package api is the HTTP control surface: status, history, control
// toggles, program and zone activation, and the configuration document.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/waterwise/sprinklerd/internal/config"
	"github.com/waterwise/sprinklerd/internal/engine"
	xlog "github.com/waterwise/sprinklerd/internal/log"
)

// rate limit for control endpoints, per client IP.
const (
	rateLimit  = 60
	rateWindow = time.Minute
)

// Server exposes the engine over HTTP.
type Server struct {
	engine  *engine.Engine
	holder  *config.Holder
	logger  zerolog.Logger
	version string
}

// NewServer wires the control surface.
func NewServer(eng *engine.Engine, holder *config.Holder, version string) *Server {
	return &Server{
		engine:  eng,
		holder:  holder,
		logger:  xlog.WithComponent("api"),
		version: version,
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.Limit(rateLimit, rateWindow, httprate.WithKeyFuncs(httprate.KeyByIP)))

		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
		r.Get("/config", s.handleGetConfig)
		r.Put("/config", s.handlePutConfig)

		r.Post("/on", s.toggle(func() error { return s.engine.SetOn(true) }))
		r.Post("/off", s.toggle(func() error { return s.engine.SetOn(false) }))
		r.Post("/raindelay/on", s.toggle(func() error { return s.engine.SetRainDelay(true) }))
		r.Post("/raindelay/off", s.toggle(func() error { return s.engine.SetRainDelay(false) }))
		r.Post("/raindelay/extend", s.toggle(func() error { s.engine.ExtendRainDelay(); return nil }))
		r.Post("/weather/on", s.toggle(func() error { s.engine.SetWeather(true); return nil }))
		r.Post("/weather/off", s.toggle(func() error { s.engine.SetWeather(false); return nil }))
		r.Post("/wateringindex/on", s.toggle(func() error { s.engine.SetWateringIndex(true); return nil }))
		r.Post("/wateringindex/off", s.toggle(func() error { s.engine.SetWateringIndex(false); return nil }))

		r.Post("/refresh", s.handleRefresh)
		r.Post("/program/{id}/on", s.handleProgramOn)
		r.Post("/zone/{index}/on", s.handleZoneOn)
		r.Post("/off/all", s.handleAllOff)
	})

	return r
}
