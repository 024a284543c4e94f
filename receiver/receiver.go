// Package receiver implements the receiver engine of §4.5: in-order
// delivery with an out-of-order reorder buffer, cumulative ACK
// generation with delayed-ACK coalescing, receiver-window computation
// bounded by an application-read buffer, and persist-probe handling.
// The per-frame decision tree is grounded on the teacher's
// receiver.handleRcvdSegment (protocol/transport/tcp/rcv.go),
// generalized from TCP's byte-offset sequence space and SACK
// accounting to this protocol's chunk-indexed sequence numbers and
// delayed-ACK policy.
package receiver

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/qxcheng/relxfer/config"
	"github.com/qxcheng/relxfer/internal/bytebuf"
	"github.com/qxcheng/relxfer/internal/delayedack"
	"github.com/qxcheng/relxfer/internal/frame"
	"github.com/qxcheng/relxfer/internal/loss"
	"github.com/qxcheng/relxfer/internal/reorder"
)

// ErrChannelClosed mirrors sender.ErrChannelClosed for the receive
// side: the byte channel broke before an END was seen.
var ErrChannelClosed = errors.New("receiver: channel closed")

// DeliverySink is the receiver's external output: an ordered sequence
// of byte payloads with no duplicates and no gaps, per spec §6.
type DeliverySink interface {
	Deliver(payload []byte) error
}

// Stats accumulates the counters the original implementation reports
// at the end of a transfer (SPEC_FULL §12).
type Stats struct {
	DataLosses         int
	AckLosses          int
	DuplicateAcksSent  int
	OutOfOrderArrivals int
	BufferFullDiscards int
	SegmentsDelivered  int
}

// Engine runs one inbound transfer to completion. Construct one Engine
// per connection.
type Engine struct {
	cfg *config.Config
	log *zap.Logger

	mu sync.Mutex

	expectedSeq uint32
	lastAckSent uint32
	rcvdBytes   int
	readBytes   int

	reorder *reorder.Buffer
	delivery bytebuf.Buffer
	dack     *delayedack.Scheduler

	dataLoss *loss.Simulator
	ackLoss  *loss.Simulator

	sink DeliverySink
	conn io.ReadWriter

	done  chan struct{}
	stats Stats
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger attaches a structured logger; the default is a no-op
// logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New returns an Engine ready to Run over cfg. seed seeds the two loss
// simulators (data-ingress and ACK-egress independently, per §4.6); 0
// seeds from the current time.
func New(cfg *config.Config, seed int64, opts ...Option) *Engine {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	e := &Engine{
		cfg:         cfg,
		log:         zap.NewNop(),
		expectedSeq: 1,
		reorder:     reorder.New(cfg.ChunkSize),
		dack:        delayedack.New(time.Duration(cfg.DelayedAck) * time.Millisecond),
		dataLoss:    loss.New(cfg.PDataLoss, rand.NewSource(seed)),
		ackLoss:     loss.New(cfg.PAckLoss, rand.NewSource(seed+1)),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stats returns a snapshot of the transfer's counters. Safe to call
// only after Run returns.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Run ingests frames from conn, delivering bytes to sink in order,
// until END is seen, the channel breaks, or ctx is canceled.
func (e *Engine) Run(ctx context.Context, conn io.ReadWriter, sink DeliverySink) error {
	e.conn = conn
	e.sink = sink
	defer e.dack.Stop()

	segCh := make(chan frame.Segment, 64)
	readErrCh := make(chan error, 1)
	go e.readSegments(conn, segCh, readErrCh)

	drainTicker := time.NewTicker(time.Duration(e.cfg.AppDrainInterval) * time.Millisecond)
	defer drainTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			for e.pendingDeliveryBytes() > 0 {
				e.drainToSink()
			}
			return nil
		case err := <-readErrCh:
			return errors.Wrap(ErrChannelClosed, err.Error())
		case s := <-segCh:
			if err := e.handleSegment(s); err != nil {
				return err
			}
		case <-drainTicker.C:
			e.drainToSink()
		case <-e.dack.Deadlines():
			e.flushDelayedAck()
		}
	}
}

func (e *Engine) readSegments(conn io.Reader, out chan<- frame.Segment, errCh chan<- error) {
	for {
		s, err := frame.DecodeSegment(conn)
		if err != nil {
			errCh <- err
			return
		}
		out <- s
	}
}

// handleSegment implements §4.5's per-frame decision tree, in order.
func (e *Engine) handleSegment(s frame.Segment) error {
	if s.Role != frame.Probe && len(s.Payload) == 0 {
		// END: zero-length, non-probe segment. Bypasses the loss
		// simulator, since the sender sends END once and only waits a
		// bounded final-ACK window for its acknowledgment.
		e.mu.Lock()
		e.dack.Satisfy()
		ack, rwnd := s.Seq, e.currentRwnd()
		e.mu.Unlock()
		e.writeAck(ack, rwnd, true)
		close(e.done)
		return nil
	}

	if s.Role == frame.Probe {
		e.mu.Lock()
		e.dack.Satisfy()
		ack, rwnd := e.lastAckSent, e.currentRwnd()
		e.mu.Unlock()
		e.writeAck(ack, rwnd, false)
		return nil
	}

	if e.dataLoss.Drop() {
		e.mu.Lock()
		e.stats.DataLosses++
		e.mu.Unlock()
		e.log.Debug("simulated data loss", zap.Uint32("seq", s.Seq))
		return nil
	}

	e.mu.Lock()

	if s.Seq < e.expectedSeq {
		e.stats.DuplicateAcksSent++
		e.dack.Satisfy()
		ack, rwnd := e.lastAckSent, e.currentRwnd()
		e.mu.Unlock()
		e.writeAck(ack, rwnd, false)
		return nil
	}

	rwnd := e.currentRwnd()
	if rwnd == 0 {
		e.stats.BufferFullDiscards++
		e.dack.Satisfy()
		ack := e.lastAckSent
		e.mu.Unlock()
		e.writeAck(ack, rwnd, false)
		return nil
	}

	if s.Seq == e.expectedSeq {
		e.deliverLocked(s.Payload)
		e.expectedSeq++

		drained, newExpected := e.reorder.Drain(e.expectedSeq)
		for _, p := range drained {
			e.deliverLocked(p)
		}
		e.expectedSeq = newExpected
		e.lastAckSent = e.expectedSeq - 1
		ack := e.lastAckSent

		emitNow := e.dack.OnInOrderDelivery()
		curRwnd := e.currentRwnd()
		e.mu.Unlock()
		if emitNow {
			e.writeAck(ack, curRwnd, false)
		}
		return nil
	}

	// s.Seq > expectedSeq: out of order.
	e.stats.OutOfOrderArrivals++
	if !e.reorder.Contains(s.Seq) && e.cfg.ChunkSize <= rwnd {
		e.reorder.Insert(s.Seq, s.Payload)
	} else {
		e.stats.BufferFullDiscards++
	}
	e.dack.Satisfy()
	ack := e.lastAckSent
	curRwnd := e.currentRwnd()
	e.mu.Unlock()
	e.writeAck(ack, curRwnd, false)
	return nil
}

// deliverLocked appends payload to the delivery buffer (not directly
// to the sink: the application-drain cadence of §4.7 models the
// sink's actual consumption rate). Caller holds e.mu.
func (e *Engine) deliverLocked(payload []byte) {
	e.delivery.Write(payload)
	e.rcvdBytes += len(payload)
	e.stats.SegmentsDelivered++
}

// currentRwnd implements §4.7: rwnd = max(0, RCV_BUFFER - used -
// reorder_bytes). Caller holds e.mu.
func (e *Engine) currentRwnd() int {
	used := e.rcvdBytes - e.readBytes
	free := e.cfg.RcvBuffer - used - e.reorder.ByteSize()
	if free < 0 {
		return 0
	}
	return free
}

func (e *Engine) flushDelayedAck() {
	if !e.dack.Expired() {
		return
	}
	e.mu.Lock()
	ack, rwnd := e.lastAckSent, e.currentRwnd()
	e.mu.Unlock()
	e.writeAck(ack, rwnd, false)
}

// pendingDeliveryBytes reports how many delivered-but-undrained bytes
// remain, used to flush the tail of the buffer once END has closed the
// engine and no further drain ticks will occur.
func (e *Engine) pendingDeliveryBytes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.delivery.Len()
}

// drainToSink models the application reading from the receive buffer
// at APP_DRAIN cadence (§4.7), which is what actually frees window
// space rather than arrival itself.
func (e *Engine) drainToSink() {
	e.mu.Lock()
	n := e.cfg.AppDrainSize
	if n > e.delivery.Len() {
		n = e.delivery.Len()
	}
	var chunk []byte
	if n > 0 {
		chunk = append([]byte(nil), e.delivery.Bytes()[:n]...)
		e.delivery.TrimFront(n)
		e.readBytes += n
	}
	e.mu.Unlock()

	if len(chunk) > 0 {
		if err := e.sink.Deliver(chunk); err != nil {
			e.log.Warn("delivery sink error", zap.Error(err))
		}
	}
}

// writeAck applies the ACK-egress loss simulator (unless bypass, used
// only for the final END ack) and writes the frame.
func (e *Engine) writeAck(ack uint32, rwnd int, bypassLoss bool) {
	if !bypassLoss && e.ackLoss.Drop() {
		e.mu.Lock()
		e.stats.AckLosses++
		e.mu.Unlock()
		e.log.Debug("simulated ack loss", zap.Uint32("ack", ack))
		return
	}
	if err := frame.EncodeAck(e.conn, frame.Ack{Ack: ack, Rwnd: uint32(rwnd)}); err != nil {
		e.log.Warn("write ack failed", zap.Error(err))
	}
}
