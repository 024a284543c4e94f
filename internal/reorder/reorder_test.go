package reorder

import (
	"bytes"
	"testing"
)

func TestInsertAndDrainConsecutiveRun(t *testing.T) {
	b := New(4)
	b.Insert(3, []byte("cc"))
	b.Insert(2, []byte("bb"))
	b.Insert(5, []byte("ee"))

	drained, newExpected := b.Drain(2)
	if newExpected != 4 {
		t.Fatalf("newExpected = %d, want 4", newExpected)
	}
	want := [][]byte{[]byte("bb"), []byte("cc")}
	if len(drained) != len(want) {
		t.Fatalf("drained %d segments, want %d", len(drained), len(want))
	}
	for i := range want {
		if !bytes.Equal(drained[i], want[i]) {
			t.Errorf("drained[%d] = %q, want %q", i, drained[i], want[i])
		}
	}
	if !b.Contains(5) {
		t.Error("seq 5 should remain buffered, gap at 4 not filled")
	}
}

func TestDrainNoRunLeavesBufferUntouched(t *testing.T) {
	b := New(4)
	b.Insert(5, []byte("ee"))
	drained, newExpected := b.Drain(2)
	if len(drained) != 0 {
		t.Errorf("expected nothing drained, got %d", len(drained))
	}
	if newExpected != 2 {
		t.Errorf("newExpected = %d, want unchanged 2", newExpected)
	}
}

func TestInsertDuplicateIgnored(t *testing.T) {
	b := New(4)
	b.Insert(3, []byte("first"))
	b.Insert(3, []byte("second"))
	if b.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", b.Len())
	}
	drained, _ := b.Drain(3)
	if string(drained[0]) != "first" {
		t.Errorf("duplicate insert overwrote original payload: got %q", drained[0])
	}
}

func TestByteSizeTracksSegmentCount(t *testing.T) {
	b := New(10)
	b.Insert(2, []byte("x"))
	b.Insert(3, []byte("y"))
	if got := b.ByteSize(); got != 20 {
		t.Errorf("ByteSize() = %d, want 20", got)
	}
}

func TestMinOnEmptyBuffer(t *testing.T) {
	b := New(4)
	if _, ok := b.Min(); ok {
		t.Error("Min() on empty buffer should report ok=false")
	}
}
