package receiver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/qxcheng/relxfer/config"
	"github.com/qxcheng/relxfer/internal/chunker"
	"github.com/qxcheng/relxfer/internal/frame"
)

func testConfig() *config.Config {
	c := config.Default()
	c.ChunkSize = 4
	c.RcvBuffer = 16 // 4 segments' worth, small enough to exercise flow control
	c.PDataLoss = 0
	c.PAckLoss = 0
	c.AppDrainInterval = 5
	c.AppDrainSize = 1024
	c.DelayedAck = 20
	return c
}

func newTestEngine(t *testing.T, cfg *config.Config) (*Engine, chan frame.Ack) {
	e := New(cfg, 1)
	server, client := net.Pipe()
	e.conn = client
	t.Cleanup(func() { server.Close(); client.Close() })

	acks := make(chan frame.Ack, 64)
	go func() {
		for {
			a, err := frame.DecodeAck(server)
			if err != nil {
				return
			}
			acks <- a
		}
	}()
	return e, acks
}

func recvAck(t *testing.T, acks chan frame.Ack) frame.Ack {
	select {
	case a := <-acks:
		return a
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ack")
		return frame.Ack{}
	}
}

// flushPendingAck stands in for Run's select loop when a test drives
// handleSegment directly: if an in-order delivery armed the delayed-ACK
// timer, it waits for that deadline and emits the owed ACK.
func flushPendingAck(t *testing.T, e *Engine) {
	if !e.dack.Pending() {
		return
	}
	select {
	case <-e.dack.Deadlines():
		e.flushDelayedAck()
	case <-time.After(time.Second):
		t.Fatal("delayed-ack deadline never fired")
	}
}

func TestInOrderDeliveryAdvancesExpectedSeq(t *testing.T) {
	e, acks := newTestEngine(t, testConfig())
	if err := e.handleSegment(frame.Segment{Seq: 1, Role: frame.Data, Payload: []byte("abcd")}); err != nil {
		t.Fatalf("handleSegment: %v", err)
	}
	flushPendingAck(t, e)
	a := recvAck(t, acks)
	if a.Ack != 1 {
		t.Errorf("ack = %d, want 1", a.Ack)
	}
	if e.expectedSeq != 2 {
		t.Errorf("expectedSeq = %d, want 2", e.expectedSeq)
	}
	if e.stats.SegmentsDelivered != 1 {
		t.Errorf("SegmentsDelivered = %d, want 1", e.stats.SegmentsDelivered)
	}
}

func TestOutOfOrderReassembly(t *testing.T) {
	e, acks := newTestEngine(t, testConfig())

	send := func(seq uint32, payload string) frame.Ack {
		if err := e.handleSegment(frame.Segment{Seq: seq, Role: frame.Data, Payload: []byte(payload)}); err != nil {
			t.Fatalf("handleSegment(%d): %v", seq, err)
		}
		flushPendingAck(t, e)
		return recvAck(t, acks)
	}

	if a := send(1, "a"); a.Ack != 1 {
		t.Errorf("ack after seq 1 = %d, want 1", a.Ack)
	}
	if a := send(3, "c"); a.Ack != 1 {
		t.Errorf("ack after out-of-order seq 3 = %d, want 1 (unchanged)", a.Ack)
	}
	if a := send(2, "b"); a.Ack != 3 {
		t.Errorf("ack after seq 2 fills the gap = %d, want 3 (drains 2 and 3)", a.Ack)
	}
	if a := send(4, "d"); a.Ack != 4 {
		t.Errorf("ack after seq 4 = %d, want 4", a.Ack)
	}

	if e.delivery.Len() != 4 {
		t.Fatalf("delivery buffer len = %d, want 4", e.delivery.Len())
	}
	if string(e.delivery.Bytes()) != "abcd" {
		t.Errorf("delivered bytes = %q, want %q (in order despite arrival order)", e.delivery.Bytes(), "abcd")
	}
}

func TestDuplicateBelowExpectedIsAckedNotDelivered(t *testing.T) {
	e, acks := newTestEngine(t, testConfig())
	if err := e.handleSegment(frame.Segment{Seq: 1, Role: frame.Data, Payload: []byte("a")}); err != nil {
		t.Fatal(err)
	}
	flushPendingAck(t, e)
	recvAck(t, acks)

	if err := e.handleSegment(frame.Segment{Seq: 1, Role: frame.Data, Payload: []byte("a")}); err != nil {
		t.Fatal(err)
	}
	a := recvAck(t, acks)
	if a.Ack != 1 {
		t.Errorf("duplicate ack = %d, want 1 (unchanged)", a.Ack)
	}
	if e.stats.SegmentsDelivered != 1 {
		t.Errorf("SegmentsDelivered = %d, want 1 (duplicate must not redeliver)", e.stats.SegmentsDelivered)
	}
	if e.stats.DuplicateAcksSent != 1 {
		t.Errorf("DuplicateAcksSent = %d, want 1", e.stats.DuplicateAcksSent)
	}
}

func TestProbeAcksWithoutAdvancing(t *testing.T) {
	e, acks := newTestEngine(t, testConfig())
	if err := e.handleSegment(frame.Segment{Seq: 1, Role: frame.Data, Payload: []byte("a")}); err != nil {
		t.Fatal(err)
	}
	flushPendingAck(t, e)
	recvAck(t, acks)

	if err := e.handleSegment(frame.Segment{Seq: 9, Role: frame.Probe, Payload: []byte{0}}); err != nil {
		t.Fatal(err)
	}
	a := recvAck(t, acks)
	if a.Ack != 1 {
		t.Errorf("probe ack = %d, want 1 (unchanged by probe)", a.Ack)
	}
	if e.expectedSeq != 2 {
		t.Errorf("expectedSeq = %d, want unchanged at 2", e.expectedSeq)
	}
}

func TestZeroWindowDiscardsAndReportsZeroRwnd(t *testing.T) {
	cfg := testConfig()
	cfg.RcvBuffer = 4 // exactly one chunk's worth
	e, acks := newTestEngine(t, cfg)

	if err := e.handleSegment(frame.Segment{Seq: 1, Role: frame.Data, Payload: []byte("abcd")}); err != nil {
		t.Fatal(err)
	}
	flushPendingAck(t, e)
	a := recvAck(t, acks)
	if a.Rwnd != 0 {
		t.Fatalf("rwnd after filling the buffer = %d, want 0", a.Rwnd)
	}

	if err := e.handleSegment(frame.Segment{Seq: 2, Role: frame.Data, Payload: []byte("efgh")}); err != nil {
		t.Fatal(err)
	}
	a2 := recvAck(t, acks)
	if a2.Ack != 1 {
		t.Errorf("ack while window is zero = %d, want 1 (unchanged)", a2.Ack)
	}
	if e.stats.BufferFullDiscards != 1 {
		t.Errorf("BufferFullDiscards = %d, want 1", e.stats.BufferFullDiscards)
	}
}

func TestEndClosesEngineAndBypassesAckLoss(t *testing.T) {
	cfg := testConfig()
	cfg.PAckLoss = 1 // would drop every ack except the bypassed END ack
	e, acks := newTestEngine(t, cfg)

	if err := e.handleSegment(frame.Segment{Seq: 1, Role: frame.Data, Payload: nil}); err != nil {
		t.Fatal(err)
	}
	a := recvAck(t, acks)
	if a.Ack != 1 {
		t.Errorf("end ack = %d, want 1", a.Ack)
	}
	select {
	case <-e.done:
	default:
		t.Error("expected done channel to be closed on END")
	}
}

func TestRunDeliversFullTransferInOrder(t *testing.T) {
	cfg := testConfig()
	cfg.AppDrainSize = 2 // force multiple drain cycles
	e := New(cfg, 1)

	server, client := net.Pipe()
	defer server.Close()

	sink := &chunker.MemorySink{}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- e.Run(ctx, client, sink) }()

	want := "the quick brown fox jumps over"
	src := chunker.NewMemorySource([]byte(want), cfg.ChunkSize)
	for seq := uint32(1); seq <= src.Total(); seq++ {
		payload, _ := src.Chunk(seq)
		if err := frame.EncodeSegment(server, frame.Segment{Seq: seq, Role: frame.Data, Payload: payload}); err != nil {
			t.Fatalf("send chunk %d: %v", seq, err)
		}
		if _, err := frame.DecodeAck(server); err != nil {
			t.Fatalf("read ack for chunk %d: %v", seq, err)
		}
	}
	if err := frame.EncodeSegment(server, frame.Segment{Seq: src.Total() + 1, Role: frame.Data, Payload: nil}); err != nil {
		t.Fatalf("send end: %v", err)
	}
	if _, err := frame.DecodeAck(server); err != nil {
		t.Fatalf("read end ack: %v", err)
	}

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not complete after END was acknowledged")
	}

	// The drainer runs on its own ticker; give the last cycle(s) time to
	// flush the tail of the delivery buffer into the sink.
	deadline := time.Now().Add(time.Second)
	for len(sink.Bytes()) < len(want) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if string(sink.Bytes()) != want {
		t.Errorf("delivered = %q, want %q", sink.Bytes(), want)
	}
}
