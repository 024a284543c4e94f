// Package delayedack implements the §4.4 "every-other-segment or
// timeout" delayed-ACK policy as an explicit two-state machine
// (idle/pending), following the protocol's design-notes preference
// for a poll-able event-loop step over a bare background callback.
// The deadline itself reuses internal/timerutil, adapted from the
// teacher's enabled/disabled/orphaned timer.
package delayedack

import (
	"time"

	"github.com/qxcheng/relxfer/internal/timerutil"
)

// Scheduler tracks whether a cumulative ACK is owed immediately or may
// be coalesced with the next in-order delivery. It is not
// goroutine-safe; the receiver engine serializes access under its
// state mutex.
type Scheduler struct {
	delay time.Duration
	timer *timerutil.Timer
	pending bool
}

// New returns an idle Scheduler with the given coalescing deadline
// (spec default 200ms).
func New(delay time.Duration) *Scheduler {
	return &Scheduler{delay: delay, timer: timerutil.New()}
}

// Deadlines fires on this channel when a pending ACK's deadline
// expires. Callers must call Expired after every receive to
// distinguish a real expiration from a stale wake.
func (s *Scheduler) Deadlines() <-chan struct{} {
	return s.timer.C
}

// Stop releases the underlying runtime timer.
func (s *Scheduler) Stop() {
	s.timer.Stop()
}

// OnInOrderDelivery is called for every in-order segment delivery. It
// reports whether the cumulative ACK must be emitted immediately
// (coalescing this delivery with an already-pending one); false means
// the caller should do nothing further and let the deadline or the
// next delivery emit it.
func (s *Scheduler) OnInOrderDelivery() (emitNow bool) {
	if s.pending {
		s.timer.Disable()
		s.pending = false
		return true
	}
	s.timer.Enable(s.delay)
	s.pending = true
	return false
}

// Expired must be called whenever a value is received from
// Deadlines(). It returns true exactly when the pending ACK's deadline
// has genuinely elapsed (as opposed to a stale wake from an already
// satisfied deadline), and on true transitions back to idle.
func (s *Scheduler) Expired() bool {
	if !s.timer.Fired() {
		return false
	}
	s.pending = false
	return true
}

// Satisfy is called on every out-of-order arrival, duplicate, PROBE,
// buffer-full discard, and END: these all emit an immediate ACK of
// their own, which satisfies any outstanding delayed-ACK deadline
// without requiring a separate emission for it.
func (s *Scheduler) Satisfy() {
	if s.pending {
		s.timer.Disable()
		s.pending = false
	}
}

// Pending reports whether a delayed ACK is currently owed.
func (s *Scheduler) Pending() bool {
	return s.pending
}
