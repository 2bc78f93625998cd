// SPDX-License-Identifier: MIT

package engine

import "time"

// Timer is the cancellable handle AfterFunc returns.
type Timer interface {
	Stop() bool
}

// Clock abstracts time for the engine so tests can drive the executor and
// scheduler deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// SystemClock is the wall-clock implementation used outside tests.
var SystemClock Clock = systemClock{}
