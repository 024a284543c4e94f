// Package sender implements the sender engine of §4.8: window-bounded
// transmission, retransmit-set management, persist mode, ACK handling,
// and RTO-driven retransmission, delegating congestion-window
// management to internal/congestion. The engine's single cooperative
// loop is grounded on the teacher's endpoint-loop style
// (protocol/transport/tcp/protocol.go), generalized from a
// netstack-registered transport protocol down to a single connection
// reading and writing frames on a plain byte stream.
package sender

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/qxcheng/relxfer/config"
	"github.com/qxcheng/relxfer/internal/congestion"
	"github.com/qxcheng/relxfer/internal/frame"
	"github.com/qxcheng/relxfer/internal/rtt"
)

// ErrChannelClosed is returned when the underlying byte channel is
// broken before the transfer completes.
var ErrChannelClosed = errors.New("sender: channel closed")

// ErrTransferAborted covers the unrecoverable retransmission-loop
// extension point of §7; the baseline engine never returns it itself
// (there is no hard retry cap), but callers wrapping Run with a
// deadline can translate a context cancellation into it if they want
// to surface a harder failure than plain cancellation.
var ErrTransferAborted = errors.New("sender: transfer aborted")

// ChunkSource is the sender's external input: a finite, 1-indexed,
// ordered sequence of payloads plus a count, matching spec §6. Seq 0
// is never used; seq 1 is the first chunk.
type ChunkSource interface {
	Total() uint32
	Chunk(seq uint32) (payload []byte, ok bool)
}

// Stats accumulates the counters the original reference implementation
// prints at the end of a transfer (SPEC_FULL §12); the engine itself
// never prints anything.
type Stats struct {
	SegmentsSent    int
	Retransmissions int
	FastRetransmits int
	Timeouts        int
	ProbesSent      int
	DuplicateAcks   int
}

// Engine runs one outbound transfer to completion. It is not safe for
// concurrent use; callers construct one Engine per transfer.
type Engine struct {
	cfg     *config.Config
	log     *zap.Logger
	nowFunc func() time.Time

	cc      *congestion.Controller
	rttEst  *rtt.Estimator
	conn    io.ReadWriter

	nextSeq       uint32
	lastByteSent  uint32
	lastByteAcked uint32

	rwndBytes   uint32
	persistMode bool
	lastProbe   time.Time
	lastTimeout time.Time

	retransmitQueue []uint32

	unacked *unackedTable
	stats   Stats
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger attaches a structured logger; the default is a no-op
// logger so library use stays silent.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// withClock overrides the engine's notion of "now", for deterministic
// tests; unexported since only this package's tests need it.
func withClock(f func() time.Time) Option {
	return func(e *Engine) { e.nowFunc = f }
}

// New returns an Engine ready to Run a transfer under cfg.
func New(cfg *config.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		log:       zap.NewNop(),
		nowFunc:   time.Now,
		cc:        congestion.New(cfg.Algorithm, cfg.MaxWindow),
		rttEst:    rtt.New(time.Duration(cfg.RTOMin) * time.Millisecond),
		nextSeq:   1,
		rwndBytes: uint32(cfg.RcvBuffer),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stats returns a snapshot of the transfer's counters. Safe to call
// only after Run returns.
func (e *Engine) Stats() Stats {
	return e.stats
}

// Run drives the transfer of every chunk in source over conn to
// completion, returning once the final END has been acknowledged (or
// the final-ACK wait elapses) or ctx is canceled.
func (e *Engine) Run(ctx context.Context, conn io.ReadWriter, source ChunkSource) error {
	e.conn = conn
	e.unacked = newUnackedTable()
	total := source.Total()

	ackCh := make(chan frame.Ack, 64)
	readErrCh := make(chan error, 1)
	go e.readAcks(conn, ackCh, readErrCh)

	pacing := time.NewTicker(time.Duration(e.cfg.PacingInterval) * time.Millisecond)
	defer pacing.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErrCh:
			return errors.Wrap(ErrChannelClosed, err.Error())
		case <-pacing.C:
			e.drainAcks(ackCh)
			e.flushRetransmits()
			e.checkTimeout()
			e.checkPersist()
			if err := e.transmit(source, total); err != nil {
				return err
			}
			if e.lastByteAcked >= total && e.nextSeq > total {
				return e.finish(ctx, ackCh, readErrCh, total)
			}
		}
	}
}

// finish sends END and waits up to FinalAckWait for its ACK, polling
// every 10ms per §4.8.
func (e *Engine) finish(ctx context.Context, ackCh <-chan frame.Ack, readErrCh <-chan error, total uint32) error {
	if err := frame.EncodeSegment(e.conn, frame.Segment{Seq: e.nextSeq, Role: frame.End}); err != nil {
		return errors.Wrap(ErrChannelClosed, err.Error())
	}
	e.log.Debug("sent end", zap.Uint32("seq", e.nextSeq))

	deadline := time.After(time.Duration(e.cfg.FinalAckWait) * time.Millisecond)
	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErrCh:
			return errors.Wrap(ErrChannelClosed, err.Error())
		case a := <-ackCh:
			if a.Ack >= e.nextSeq {
				return nil
			}
		case <-deadline:
			return nil
		case <-poll.C:
		}
	}
}

func (e *Engine) readAcks(conn io.Reader, out chan<- frame.Ack, errCh chan<- error) {
	for {
		a, err := frame.DecodeAck(conn)
		if err != nil {
			errCh <- err
			return
		}
		out <- a
	}
}

func (e *Engine) drainAcks(ackCh <-chan frame.Ack) {
	for {
		select {
		case a := <-ackCh:
			e.onAck(a)
		default:
			return
		}
	}
}

func (e *Engine) effectiveWindow() int {
	rwndSegments := int(e.rwndBytes) / e.cfg.ChunkSize
	return e.cc.EffectiveWindow(rwndSegments)
}

func (e *Engine) transmit(source ChunkSource, total uint32) error {
	for e.nextSeq <= total &&
		int(e.lastByteSent-e.lastByteAcked) < e.effectiveWindow() &&
		!e.persistMode {
		payload, ok := source.Chunk(e.nextSeq)
		if !ok {
			break
		}
		if err := frame.EncodeSegment(e.conn, frame.Segment{Seq: e.nextSeq, Role: frame.Data, Payload: payload}); err != nil {
			return errors.Wrap(ErrChannelClosed, err.Error())
		}
		now := e.nowFunc()
		e.unacked.put(e.nextSeq, payload, now, false)
		e.lastByteSent = e.nextSeq
		e.stats.SegmentsSent++
		e.log.Debug("sent data segment", zap.Uint32("seq", e.nextSeq))
		e.nextSeq++
	}
	return nil
}

func (e *Engine) checkPersist() {
	if !e.persistMode {
		return
	}
	now := e.nowFunc()
	if !e.lastProbe.IsZero() && now.Sub(e.lastProbe) < time.Duration(e.cfg.PersistInterval)*time.Millisecond {
		return
	}
	// PROBE is sent at next_seq but must never occupy a slot in
	// unacked: it carries no real chunk, so the real segment that will
	// eventually be sent at next_seq is not double-counted.
	if err := frame.EncodeSegment(e.conn, frame.Segment{Seq: e.nextSeq, Role: frame.Probe, Payload: []byte{0}}); err != nil {
		return
	}
	e.lastProbe = now
	e.stats.ProbesSent++
	e.log.Debug("sent persist probe", zap.Uint32("seq", e.nextSeq))
}

func (e *Engine) checkTimeout() {
	now := e.nowFunc()
	interval := time.Duration(e.cfg.TimeoutCheck) * time.Millisecond
	if !e.lastTimeout.IsZero() && now.Sub(e.lastTimeout) < interval {
		return
	}
	e.lastTimeout = now

	seq, entry, ok := e.unacked.oldest()
	if !ok {
		return
	}
	if now.Sub(entry.sendTime) < e.rttEst.RTO() {
		return
	}

	e.log.Info("retransmit timeout", zap.Uint32("seq", seq), zap.Duration("rto", e.rttEst.RTO()))
	if err := frame.EncodeSegment(e.conn, frame.Segment{Seq: seq, Role: frame.Data, Payload: entry.payload}); err != nil {
		return
	}
	e.unacked.put(seq, entry.payload, now, true)
	e.stats.Retransmissions++
	e.stats.Timeouts++
	e.cc.OnTimeout()
}

// onAck applies §4.9's common ACK-handling state transitions. It never
// touches the wire itself; a fast retransmit it decides on is queued
// and sent by flushRetransmits on the same pacing tick, after ACK
// ingestion finishes.
func (e *Engine) onAck(a frame.Ack) {
	e.rwndBytes = a.Rwnd
	if e.persistMode && a.Rwnd > 0 {
		e.persistMode = false
	}

	if a.Ack > e.lastByteAcked {
		newlyAcked := int(a.Ack - e.lastByteAcked)
		e.lastByteAcked = a.Ack

		if entry, ok := e.unacked.get(a.Ack); ok && !entry.retransmitted {
			e.rttEst.Update(e.nowFunc().Sub(entry.sendTime))
		}
		e.unacked.removeUpTo(a.Ack)
		e.cc.OnNewAck(a.Ack, newlyAcked)
	} else if a.Ack == e.lastByteAcked && a.Ack > 0 {
		e.stats.DuplicateAcks++
		_, inFlight := e.unacked.get(a.Ack + 1)
		if e.cc.OnDuplicateAck(e.lastByteAcked, inFlight) {
			e.stats.FastRetransmits++
			e.retransmitQueue = append(e.retransmitQueue, a.Ack+1)
		}
	}

	if a.Rwnd == 0 {
		e.persistMode = true
	}
}

func (e *Engine) flushRetransmits() {
	for _, seq := range e.retransmitQueue {
		entry, ok := e.unacked.get(seq)
		if !ok {
			continue
		}
		e.log.Info("fast retransmit", zap.Uint32("seq", seq))
		if err := frame.EncodeSegment(e.conn, frame.Segment{Seq: seq, Role: frame.Data, Payload: entry.payload}); err != nil {
			continue
		}
		e.unacked.put(seq, entry.payload, e.nowFunc(), true)
		e.stats.Retransmissions++
	}
	e.retransmitQueue = e.retransmitQueue[:0]
}
