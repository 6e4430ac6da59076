// Package timer provides a restartable one-shot timer used for debounce
// lifecycles. Arming supersedes any previous arm, and Cancel guarantees the
// callback never fires afterwards, so callers do not need the ad hoc
// stop-and-drain dance around time.AfterFunc.
package timer

import (
	"sync"
	"time"
)

// Debounce is a cancellable, re-armable one-shot timer. The zero value is
// ready to use. Safe for concurrent use.
type Debounce struct {
	mu  sync.Mutex
	t   *time.Timer
	seq uint64
}

// Arm schedules fn to run after d, replacing any pending schedule.
func (db *Debounce) Arm(d time.Duration, fn func()) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.seq++
	seq := db.seq
	if db.t != nil {
		db.t.Stop()
	}
	db.t = time.AfterFunc(d, func() {
		db.mu.Lock()
		live := db.seq == seq
		db.mu.Unlock()
		if live {
			fn()
		}
	})
}

// Cancel discards any pending schedule. The callback of a cancelled arm
// never runs, even if its underlying timer already fired.
func (db *Debounce) Cancel() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.seq++
	if db.t != nil {
		db.t.Stop()
		db.t = nil
	}
}
