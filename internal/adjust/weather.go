// SPDX-License-Identifier: MIT

package adjust

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/waterwise/sprinklerd/internal/config"
	xlog "github.com/waterwise/sprinklerd/internal/log"
	"github.com/waterwise/sprinklerd/internal/metrics"
)

// SourceWeather tags adjustments coming from the weather provider.
const SourceWeather = "WEATHER"

// Conditions is the provider payload the adjuster keeps.
type Conditions struct {
	Temperature float64 `json:"temperature"` // F
	Humidity    float64 `json:"humidity"`    // percent
	Rain        float64 `json:"rain"`        // inches today
}

// WeatherStatus is the read-only snapshot served over the API.
type WeatherStatus struct {
	Enabled     bool      `json:"enabled"`
	Updated     time.Time `json:"updated,omitempty"`
	Adjustment  int       `json:"adjustment"`
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	Rain        *float64  `json:"rain,omitempty"`
}

// Weather polls a conditions endpoint and derives a watering percentage
// from temperature, humidity and rainfall.
type Weather struct {
	mu     sync.Mutex
	logger zerolog.Logger

	cfg     config.WeatherConfig
	zipcode string
	enabled bool
	sched   schedule

	data    *Conditions
	updated time.Time

	client  *http.Client
	baseURL string
}

// NewWeather returns an unconfigured weather adjuster.
func NewWeather() *Weather {
	return &Weather{
		logger:  xlog.WithComponent("weather"),
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: "http://api.wunderground.com",
	}
}

// Configure installs cfg. Re-configuring with data already cached pushes
// the next fetch out to avoid stampeding the provider on config churn.
func (w *Weather) Configure(cfg config.WeatherConfig, zipcode string, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cfg = cfg
	w.zipcode = zipcode
	w.enabled = cfg.Enable
	w.sched = schedule{slots: ParseSlots(cfg.Refresh)}
	if w.data != nil {
		w.sched.forceAt = now.Add(stampedeDelay)
	}
}

// Enabled reports whether the adjuster participates in runtime adjustment.
func (w *Weather) Enabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled && w.cfg.Adjust.Enable
}

// SetEnabled toggles the provider from the control surface.
func (w *Weather) SetEnabled(on bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enabled = on
}

// Source returns the adjustment source tag.
func (w *Weather) Source() string { return SourceWeather }

// Updated returns the timestamp of the last successful fetch.
func (w *Weather) Updated() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.updated
}

// Refresh is the heartbeat call: it fetches only when a slot is due.
func (w *Weather) Refresh(ctx context.Context, now time.Time) {
	w.mu.Lock()
	if !w.enabled || w.cfg.Key == "" {
		w.mu.Unlock()
		return
	}
	if !w.sched.due(now) {
		w.mu.Unlock()
		return
	}
	w.sched.lastFetch = now
	cfg := w.cfg
	zipcode := w.zipcode
	w.mu.Unlock()

	cond, err := w.fetch(ctx, cfg, zipcode)
	if err != nil {
		metrics.RefreshFailureTotal.WithLabelValues("weather").Inc()
		w.logger.Warn().Err(err).Str("event", "weather.fetch_failed").Msg("keeping previous conditions")
		return
	}

	w.mu.Lock()
	w.data = cond
	w.updated = now
	w.mu.Unlock()

	w.logger.Info().
		Str("event", "weather.updated").
		Float64("temperature", cond.Temperature).
		Float64("humidity", cond.Humidity).
		Float64("rain", cond.Rain).
		Msg("conditions refreshed")
}

// conditionsPayload mirrors the relevant slice of the provider response.
type conditionsPayload struct {
	CurrentObservation struct {
		TempF            float64 `json:"temp_f"`
		RelativeHumidity string  `json:"relative_humidity"`
		PrecipTodayIn    string  `json:"precip_today_in"`
	} `json:"current_observation"`
}

func (w *Weather) fetch(ctx context.Context, cfg config.WeatherConfig, zipcode string) (*Conditions, error) {
	query := cfg.Station
	if query == "" {
		query = zipcode
	}
	url := fmt.Sprintf("%s/api/%s/conditions/q/%s.json", w.baseURL, cfg.Key, query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var payload conditionsPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("weather: parse: %w", err)
	}

	obs := payload.CurrentObservation
	humidity, _ := strconv.ParseFloat(strings.TrimSuffix(obs.RelativeHumidity, "%"), 64)
	rain, _ := strconv.ParseFloat(obs.PrecipTodayIn, 64)
	return &Conditions{Temperature: obs.TempF, Humidity: humidity, Rain: rain}, nil
}

// Adjustment derives the watering percentage from current conditions:
// humidity below base and temperature above base push it up, rain pushes
// it down hard. 100 when no data is available.
func (w *Weather) Adjustment() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.data == nil {
		return 100
	}
	cfg := w.cfg.Adjust
	delta := float64(cfg.Humidity) - w.data.Humidity +
		4*(w.data.Temperature-float64(cfg.Temperature)) -
		200*w.data.Rain
	delta = delta * float64(cfg.Sensitivity) / 100
	v := 100 + int(delta)
	if v < 0 {
		return 0
	}
	return v
}

// Adjust scales seconds by the current adjustment, clamped to the
// configured min/max percentages.
func (w *Weather) Adjust(seconds int) int {
	raw := w.Adjustment()
	w.mu.Lock()
	defer w.mu.Unlock()
	return clampScale(seconds, raw, w.cfg.Adjust.Min, w.cfg.Adjust.Max)
}

// RainSensor reports whether today's rainfall reached the configured
// trigger. False with no data or no trigger.
func (w *Weather) RainSensor() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.data == nil || w.cfg.RainTrigger <= 0 {
		return false
	}
	return w.cfg.RainTrigger <= w.data.Rain
}

// Status returns the API snapshot.
func (w *Weather) Status() WeatherStatus {
	adjustment := w.Adjustment()
	w.mu.Lock()
	defer w.mu.Unlock()
	st := WeatherStatus{
		Enabled:    w.enabled,
		Updated:    w.updated,
		Adjustment: adjustment,
	}
	if w.data != nil {
		st.Temperature = &w.data.Temperature
		st.Humidity = &w.data.Humidity
		st.Rain = &w.data.Rain
	}
	return st
}
