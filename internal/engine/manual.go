// SPDX-License-Identifier: MIT

package engine

import "time"

const (
	// buttonSettle is how long presses accumulate before acting, so a
	// user can click through to the zone they want.
	buttonSettle = 2 * time.Second

	// buttonRunSeconds is the fixed duration of a button-started run.
	buttonRunSeconds = 900
)

// ButtonPress advances the walk-through cursor by one zone. After the
// settle window the selected zone starts; stepping past the last zone
// wraps the cursor and starts nothing.
func (e *Engine) ButtonPress() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.buttonCursor++
	if e.buttonCursor >= e.zones.Len() {
		e.buttonCursor = -1
	}
	if e.buttonTimer != nil {
		e.buttonTimer.Stop()
	}
	e.buttonTimer = e.clock.AfterFunc(buttonSettle, e.onButtonSettle)
}

func (e *Engine) onButtonSettle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buttonTimer = nil

	cursor := e.buttonCursor
	if cursor < 0 || !e.zones.Valid(cursor) {
		return
	}
	now := e.clock.Now()
	e.killLocked()
	e.queue = append(e.queue, runItem{zone: cursor, seconds: buttonRunSeconds})
	e.processLocked(now)

	e.logger.Info().
		Str("event", "manual.button_start").
		Int("zone", cursor).
		Int("seconds", buttonRunSeconds).
		Msg("button run started")
}
