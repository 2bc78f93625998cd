// SPDX-License-Identifier: MIT

package engine

import "time"

// rainDelayInterval is one minute short of a day, so a sensor that stays wet
// re-arms on the next scheduler minute instead of drifting forward.
const rainDelayInterval = 86340000 * time.Millisecond

// rainDelay is the suppression deadline. It only ever moves forward; a
// second detection while already holding extends the hold.
type rainDelay struct {
	deadline time.Time
}

func (r *rainDelay) extend(until time.Time) {
	if until.After(r.deadline) {
		r.deadline = until
	}
}

func (r *rainDelay) clear() {
	r.deadline = time.Time{}
}

func (r *rainDelay) active(now time.Time) bool {
	return r.deadline.After(now)
}

// remaining returns the time left on the hold, zero once passed.
func (r *rainDelay) remaining(now time.Time) time.Duration {
	if !r.active(now) {
		return 0
	}
	return r.deadline.Sub(now)
}
