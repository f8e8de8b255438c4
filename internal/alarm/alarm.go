// Package alarm provides a re-armable one-shot timer.
package alarm

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Alarm runs a callback once after a delay. Arming again cancels the
// previous unfired callback. A cancelled callback never runs, even if its
// timer had already expired and the callback was waiting for the lock.
type Alarm struct {
	clock  clock.Clock
	locker sync.Locker

	mu    sync.Mutex
	timer *clock.Timer
	gen   uint64
}

type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

// New creates an alarm driven by c. When locker is non-nil, callbacks run
// while holding it, and Arm/Cancel callers holding the same lock get a
// strict guarantee that a cancelled callback is never observed.
func New(c clock.Clock, locker sync.Locker) *Alarm {
	if c == nil {
		c = clock.New()
	}
	if locker == nil {
		locker = noopLocker{}
	}
	return &Alarm{clock: c, locker: locker}
}

// Arm schedules fn after d, cancelling any pending callback.
func (a *Alarm) Arm(d time.Duration, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	gen := a.gen
	a.timer = a.clock.AfterFunc(d, func() {
		a.locker.Lock()
		defer a.locker.Unlock()
		if !a.consume(gen) {
			return
		}
		fn()
	})
}

// Cancel stops the pending callback. It reports whether one was pending.
func (a *Alarm) Cancel() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer == nil {
		return false
	}
	a.timer.Stop()
	a.timer = nil
	a.gen++
	return true
}

// Pending reports whether a callback is armed and has not fired.
func (a *Alarm) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timer != nil
}

// consume marks the alarm fired if gen is still current.
func (a *Alarm) consume(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen {
		return false
	}
	a.timer = nil
	return true
}
