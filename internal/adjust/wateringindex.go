// SPDX-License-Identifier: MIT

package adjust

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/waterwise/sprinklerd/internal/config"
	xlog "github.com/waterwise/sprinklerd/internal/log"
	"github.com/waterwise/sprinklerd/internal/metrics"
)

// Known watering-index providers.
const (
	ProviderWaterdex = "waterdex"
	ProviderMWD      = "mwdsocal"
)

// IndexStatus is the read-only snapshot served over the API.
type IndexStatus struct {
	Enabled    bool      `json:"enabled"`
	Provider   string    `json:"provider,omitempty"`
	Updated    time.Time `json:"updated,omitempty"`
	Adjustment int       `json:"adjustment"`
}

// WateringIndex polls a published evapotranspiration index and uses the
// percentage directly as the runtime adjustment. Unlike the weather
// adjuster it has no rain sensor.
type WateringIndex struct {
	mu     sync.Mutex
	logger zerolog.Logger

	cfg     config.WateringIndexConfig
	zipcode string
	enabled bool
	sched   schedule

	index   *int
	updated time.Time

	client  *http.Client
	baseURL string // overrides the provider endpoint when set (tests)
}

// NewWateringIndex returns an unconfigured index adjuster.
func NewWateringIndex() *WateringIndex {
	return &WateringIndex{
		logger: xlog.WithComponent("wateringindex"),
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Configure installs cfg, with the same anti-stampede behaviour as the
// weather adjuster.
func (wi *WateringIndex) Configure(cfg config.WateringIndexConfig, zipcode string, now time.Time) {
	wi.mu.Lock()
	defer wi.mu.Unlock()

	wi.cfg = cfg
	wi.zipcode = zipcode
	wi.enabled = cfg.Enable
	wi.sched = schedule{slots: ParseSlots(cfg.Refresh)}
	if wi.index != nil {
		wi.sched.forceAt = now.Add(stampedeDelay)
	}
}

// Enabled reports whether the index participates in runtime adjustment.
func (wi *WateringIndex) Enabled() bool {
	wi.mu.Lock()
	defer wi.mu.Unlock()
	return wi.enabled
}

// SetEnabled toggles the provider from the control surface.
func (wi *WateringIndex) SetEnabled(on bool) {
	wi.mu.Lock()
	defer wi.mu.Unlock()
	wi.enabled = on
}

// Source returns the adjustment source tag, e.g. "WATERDEX".
func (wi *WateringIndex) Source() string {
	wi.mu.Lock()
	defer wi.mu.Unlock()
	switch wi.cfg.Provider {
	case ProviderMWD:
		return "MWDSOCAL"
	default:
		return "WATERDEX"
	}
}

// Updated returns the timestamp of the last successful fetch.
func (wi *WateringIndex) Updated() time.Time {
	wi.mu.Lock()
	defer wi.mu.Unlock()
	return wi.updated
}

// Refresh is the heartbeat call: it fetches only when a slot is due.
func (wi *WateringIndex) Refresh(ctx context.Context, now time.Time) {
	wi.mu.Lock()
	if !wi.enabled {
		wi.mu.Unlock()
		return
	}
	if !wi.sched.due(now) {
		wi.mu.Unlock()
		return
	}
	wi.sched.lastFetch = now
	provider := wi.cfg.Provider
	zipcode := wi.zipcode
	base := wi.baseURL
	wi.mu.Unlock()

	idx, err := fetchIndex(ctx, wi.client, provider, zipcode, base)
	if err != nil {
		metrics.RefreshFailureTotal.WithLabelValues("wateringindex").Inc()
		wi.logger.Warn().Err(err).Str("event", "wateringindex.fetch_failed").Str("provider", provider).Msg("keeping previous index")
		return
	}

	wi.mu.Lock()
	wi.index = &idx
	wi.updated = now
	wi.mu.Unlock()

	wi.logger.Info().Str("event", "wateringindex.updated").Int("index", idx).Msg("index refreshed")
}

var percentPattern = regexp.MustCompile(`(\d{1,3})\s*%`)

func fetchIndex(ctx context.Context, client *http.Client, provider, zipcode, base string) (int, error) {
	var url string
	scrape := false
	switch provider {
	case ProviderMWD:
		if base == "" {
			base = "https://www.bewaterwise.com"
		}
		url = base + "/watering-index"
		scrape = true
	default:
		if base == "" {
			base = "http://api.waterdex.com"
		}
		url = fmt.Sprintf("%s/v1/index?zip=%s", base, zipcode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("wateringindex: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, err
	}

	if scrape {
		m := percentPattern.FindSubmatch(body)
		if m == nil {
			return 0, fmt.Errorf("wateringindex: no percentage in page")
		}
		return strconv.Atoi(string(m[1]))
	}

	var payload struct {
		Index int `json:"index"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("wateringindex: parse: %w", err)
	}
	return payload.Index, nil
}

// Adjustment returns the published percentage, or 100 when unavailable.
func (wi *WateringIndex) Adjustment() int {
	wi.mu.Lock()
	defer wi.mu.Unlock()
	if wi.index == nil {
		return 100
	}
	return *wi.index
}

// Adjust scales seconds by the current index, clamped to min/max.
func (wi *WateringIndex) Adjust(seconds int) int {
	raw := wi.Adjustment()
	wi.mu.Lock()
	defer wi.mu.Unlock()
	return clampScale(seconds, raw, wi.cfg.Adjust.Min, wi.cfg.Adjust.Max)
}

// Status returns the API snapshot.
func (wi *WateringIndex) Status() IndexStatus {
	adjustment := wi.Adjustment()
	wi.mu.Lock()
	defer wi.mu.Unlock()
	return IndexStatus{
		Enabled:    wi.enabled,
		Provider:   wi.cfg.Provider,
		Updated:    wi.updated,
		Adjustment: adjustment,
	}
}
