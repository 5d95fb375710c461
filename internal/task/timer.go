package task

import (
	"sync"
	"time"
)

var timerPool sync.Pool

// getTimer returns a timer for the given duration d from the pool.
//
// Return back the timer to the pool with putTimer.
func getTimer(d time.Duration) *time.Timer {
	if v := timerPool.Get(); v != nil {
		t, _ := v.(*time.Timer)
		if t.Reset(d) {
			// the timer was still active, drop a pending tick
			select {
			case <-t.C:
			default:
			}
		}

		return t
	}

	return time.NewTimer(d)
}

// putTimer returns t to the pool. t cannot be accessed afterwards.
func putTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	timerPool.Put(t)
}
