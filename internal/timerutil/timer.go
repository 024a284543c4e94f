// Package timerutil adapts the teacher's enabled/disabled/orphaned
// timer state machine (protocol/transport/tcp/timer.go) to signal a
// plain channel instead of an unsafe-pointer waker, for use by the
// receiver's delayed-ACK deadline (internal/delayedack). The receiver's
// application drainer and the sender's RTO and persist checks do not
// use it.
package timerutil

import "time"

type state int

const (
	disabled state = iota
	enabled
	orphaned
)

// Timer fires on C when it expires. Unlike a bare time.Timer, Disable
// followed by Enable never delivers a stale fire from the disabled
// period: a fire that arrives while orphaned is silently absorbed by
// Fired.
type Timer struct {
	C chan struct{}

	st            state
	target        time.Time
	runtimeTarget time.Time
	t             *time.Timer
}

// New creates a disabled Timer. Callers must call Enable before it
// will ever send on C.
func New() *Timer {
	c := make(chan struct{}, 1)
	tm := &Timer{C: c}
	tm.t = time.AfterFunc(time.Hour, func() {
		select {
		case c <- struct{}{}:
		default:
		}
	})
	tm.t.Stop()
	return tm
}

// Stop releases the underlying runtime timer. Call once the Timer is
// no longer needed.
func (tm *Timer) Stop() {
	tm.t.Stop()
}

// Enable (re)arms the timer to fire after d.
func (tm *Timer) Enable(d time.Duration) {
	tm.target = time.Now().Add(d)
	if tm.st == disabled || tm.target.Before(tm.runtimeTarget) {
		tm.runtimeTarget = tm.target
		tm.t.Reset(d)
	}
	tm.st = enabled
}

// Disable leaves the timer orphaned if it was armed, so that a fire
// already in flight is absorbed by Fired rather than mistaken for a
// fresh expiration.
func (tm *Timer) Disable() {
	if tm.st != disabled {
		tm.st = orphaned
	}
}

// Enabled reports whether the timer is currently armed.
func (tm *Timer) Enabled() bool {
	return tm.st == enabled
}

// Fired must be called whenever a receive on C occurs. It returns
// true if this is a legitimate expiration and false if it is a
// spurious wake left over from a disabled timer, in which case the
// caller must take no action.
func (tm *Timer) Fired() bool {
	if tm.st == orphaned {
		tm.st = disabled
		return false
	}
	now := time.Now()
	if now.Before(tm.target) {
		tm.runtimeTarget = tm.target
		tm.t.Reset(tm.target.Sub(now))
		return false
	}
	tm.st = disabled
	return true
}
