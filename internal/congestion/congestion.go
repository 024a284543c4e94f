// Package congestion implements the Tahoe and Reno congestion-control
// state machines of §4.9: slow start, congestion avoidance, fast
// retransmit on the third duplicate ACK, and (Reno only) fast recovery
// with window inflation. It is grounded on the teacher's
// protocol/transport/tcp/reno.go (updateSlowStart,
// updateCongestionAvoidance, reduceSlowStartThreshold,
// HandleNDupAcks, HandleRTOExpired), generalized here to cover both
// algorithms and the exact cumulative/duplicate-ACK bookkeeping §4.9
// spells out (the teacher's version assumes SACK and gvisor's
// internal segment tracking, neither of which apply here).
package congestion

import "github.com/qxcheng/relxfer/config"

// MaxWindow is the default upper clamp on cwnd, in segments, used when
// a caller doesn't have a configured value at hand (tests, mostly).
const MaxWindow = 128

// Controller is a single sender's congestion state. It is not
// goroutine-safe; the sender engine owns it exclusively from its
// single cooperative loop.
type Controller struct {
	algo      config.Algorithm
	maxWindow int

	cwnd     int
	ssthresh int

	dupAckCount    int
	inFastRecovery bool
	recoveryPoint  uint32
}

// New returns a Controller starting in slow start with cwnd=1,
// ssthresh=maxWindow (an unconstrained slow start until the first
// loss event, per convention). maxWindow is config.Config.MaxWindow.
func New(algo config.Algorithm, maxWindow int) *Controller {
	return &Controller{
		algo:      algo,
		maxWindow: maxWindow,
		cwnd:      1,
		ssthresh:  maxWindow,
	}
}

// Cwnd returns the current congestion window, in segments.
func (c *Controller) Cwnd() int { return c.cwnd }

// Ssthresh returns the current slow-start threshold, in segments.
func (c *Controller) Ssthresh() int { return c.ssthresh }

// InFastRecovery reports whether the controller is currently in Reno
// fast recovery. Always false under Tahoe.
func (c *Controller) InFastRecovery() bool { return c.inFastRecovery }

// DupAckCount returns the number of consecutive duplicate ACKs
// observed for the current cumulative ACK value.
func (c *Controller) DupAckCount() int { return c.dupAckCount }

// OnNewAck is called when a cumulative ACK advances last_byte_acked.
// ack is the new cumulative ACK value; newlyAcked is the number of
// segments it covers that were not covered before.
func (c *Controller) OnNewAck(ack uint32, newlyAcked int) {
	c.dupAckCount = 0

	if c.inFastRecovery {
		if ack >= c.recoveryPoint {
			c.inFastRecovery = false
			c.cwnd = c.ssthresh
		} else if c.algo == config.Reno {
			// Partial-ACK inflation: still recovering, but this ACK
			// covered at least one more lost segment's worth of data.
			c.cwnd += newlyAcked
		}
	} else if c.cwnd < c.ssthresh {
		c.cwnd += newlyAcked // slow start
	} else {
		inc := (newlyAcked * newlyAcked) / c.cwnd // congestion avoidance
		if inc < 1 {
			inc = 1
		}
		c.cwnd += inc
	}

	if c.cwnd > c.maxWindow {
		c.cwnd = c.maxWindow
	}
}

// OnDuplicateAck is called when ack == last_byte_acked and ack > 0.
// lastByteAcked is that repeated ACK value, needed to set the Reno
// recovery point. segmentInFlight reports whether lastByteAcked+1 is
// still in the sender's unacked table; on the third consecutive
// duplicate, the congestion-window collapse only fires when it is
// (there's nothing to fast-retransmit otherwise, matching the
// original reference's unAckPktMap.containsKey guard). It returns true
// exactly when a fast retransmit must fire.
func (c *Controller) OnDuplicateAck(lastByteAcked uint32, segmentInFlight bool) (fastRetransmit bool) {
	c.dupAckCount++

	if c.dupAckCount == 3 {
		c.dupAckCount = 0
		if !segmentInFlight {
			return false
		}
		c.ssthresh = halve(c.cwnd)
		switch c.algo {
		case config.Tahoe:
			c.cwnd = 1
			c.inFastRecovery = false
		case config.Reno:
			c.cwnd = c.ssthresh + 3
			c.recoveryPoint = lastByteAcked
			c.inFastRecovery = true
		}
		return true
	}

	if c.inFastRecovery && c.algo == config.Reno {
		c.cwnd++ // window inflation per further duplicate ACK
	}
	return false
}

// OnTimeout applies the shared timeout congestion response: halve
// ssthresh, collapse cwnd to 1, and leave fast recovery. The caller is
// responsible for retransmitting the oldest unacked segment without
// feeding its RTT sample to the estimator (Karn's rule).
func (c *Controller) OnTimeout() {
	c.ssthresh = halve(c.cwnd)
	c.cwnd = 1
	c.inFastRecovery = false
}

// EffectiveWindow returns min(cwnd, rwnd in segments), the maximum
// number of segments that may be in flight.
func (c *Controller) EffectiveWindow(rwndSegments int) int {
	if rwndSegments < c.cwnd {
		return rwndSegments
	}
	return c.cwnd
}

func halve(cwnd int) int {
	s := cwnd / 2
	if s < 2 {
		s = 2
	}
	return s
}
