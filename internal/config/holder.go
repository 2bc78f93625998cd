// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	xlog "github.com/waterwise/sprinklerd/internal/log"
)

// Holder guards the current configuration and supports atomic reloads.
// A reload that fails to parse or validate keeps the previous config.
type Holder struct {
	mu      sync.RWMutex
	current *Config
	path    string
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	listenerMu sync.RWMutex
	listeners  []chan<- *Config
}

// NewHolder creates a holder seeded with an already-validated config.
func NewHolder(initial *Config, path string) *Holder {
	return &Holder{
		current: initial,
		path:    path,
		logger:  xlog.WithComponent("config"),
	}
}

// Get returns the current configuration.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload re-reads the config file and swaps it in if valid.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str("event", "config.reload_start").Str("path", h.path).Msg("reloading configuration")

	cfg, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Str("event", "config.reload_failed").Msg("keeping previous configuration")
		return err
	}

	h.mu.Lock()
	h.current = cfg
	h.mu.Unlock()

	h.notify(cfg)
	h.logger.Info().Str("event", "config.reload_success").Msg("configuration reloaded")
	return nil
}

// Mutate applies fn to a copy of the current config under the write lock,
// installs the result and persists it to disk. Used for write-through state
// such as program date anchors, one-shot deactivation and the on/raindelay
// toggles.
func (h *Holder) Mutate(fn func(*Config)) error {
	h.mu.Lock()
	next := *h.current
	next.Programs = append([]Program(nil), h.current.Programs...)
	fn(&next)
	h.current = &next
	h.mu.Unlock()

	h.notify(&next)
	return h.Persist()
}

// Persist writes the current config atomically.
func (h *Holder) Persist() error {
	h.mu.RLock()
	cfg := h.current
	h.mu.RUnlock()

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := renameio.WriteFile(h.path, append(raw, '\n'), 0o644); err != nil {
		h.logger.Error().Err(err).Str("event", "config.persist_failed").Str("path", h.path).Msg("failed to persist configuration")
		return err
	}
	return nil
}

// StartWatcher watches the config file and reloads on change. Best-effort:
// the daemon runs fine without it.
func (h *Holder) StartWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	if err := watcher.Add(h.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config: watch %s: %w", h.path, err)
	}
	h.watcher = watcher

	h.logger.Info().Str("event", "config.watcher_started").Str("path", h.path).Msg("watching config file")
	go h.watchLoop(ctx)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context) {
	// Debounce so editors that write in several syscalls trigger one reload.
	var debounce *time.Timer
	const settle = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = h.watcher.Close()
			return
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(settle, func() {
					if err := h.Reload(ctx); err != nil {
						h.logger.Warn().Err(err).Str("event", "config.auto_reload_failed").Msg("automatic reload failed")
					}
				})
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Str("event", "config.watcher_error").Msg("config watcher error")
		}
	}
}

// RegisterListener registers a channel notified with the new config after
// every successful swap. Sends are non-blocking.
func (h *Holder) RegisterListener(ch chan<- *Config) {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notify(cfg *Config) {
	h.listenerMu.RLock()
	defer h.listenerMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().Str("event", "config.listener_skip").Msg("listener channel full, skipped")
		}
	}
}
