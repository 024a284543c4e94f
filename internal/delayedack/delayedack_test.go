package delayedack

import (
	"testing"
	"time"
)

func TestSecondInOrderDeliveryEmitsImmediately(t *testing.T) {
	s := New(50 * time.Millisecond)
	defer s.Stop()

	if emit := s.OnInOrderDelivery(); emit {
		t.Fatal("first delivery should arm the timer, not emit")
	}
	if !s.Pending() {
		t.Fatal("expected a pending ack after first delivery")
	}
	if emit := s.OnInOrderDelivery(); !emit {
		t.Fatal("second delivery while pending should coalesce and emit now")
	}
	if s.Pending() {
		t.Fatal("coalesced emission should clear pending state")
	}
}

func TestDeadlineFiresWhenUnsatisfied(t *testing.T) {
	s := New(10 * time.Millisecond)
	defer s.Stop()

	s.OnInOrderDelivery()
	select {
	case <-s.Deadlines():
	case <-time.After(200 * time.Millisecond):
		t.Fatal("deadline never fired")
	}
	if !s.Expired() {
		t.Fatal("expected Expired() to report a genuine expiration")
	}
	if s.Pending() {
		t.Fatal("expired deadline should leave scheduler idle")
	}
}

func TestSatisfyLeavesStaleWakeAbsorbed(t *testing.T) {
	s := New(20 * time.Millisecond)
	defer s.Stop()

	s.OnInOrderDelivery()
	s.Satisfy()
	if s.Pending() {
		t.Fatal("Satisfy should clear pending state")
	}

	// The underlying runtime timer was already armed and still fires;
	// Expired() must recognize it as stale rather than a real deadline.
	select {
	case <-s.Deadlines():
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected the orphaned timer's stale wake")
	}
	if s.Expired() {
		t.Fatal("a wake following Satisfy must not be reported as a genuine expiration")
	}
}
