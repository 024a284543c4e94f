// Package reorder implements the receiver's sparse out-of-order
// segment store: §4.3's "insert only if admitted by capacity, drain
// consecutive segments from expected_seq" buffer. The teacher's
// pendingRcvdSegments (protocol/transport/tcp/rcv.go) is a
// container/heap of *segment values ordered by sequence number for
// exactly this purpose; this package keeps that ordered-by-seq shape
// but swaps the heap for a github.com/google/btree.BTree, per the
// ordered-map recommendation in the protocol's design notes, and
// drops the SACK/segment-object machinery the teacher's version
// carries that has no counterpart here.
package reorder

import "github.com/google/btree"

type seqItem uint32

func (a seqItem) Less(than btree.Item) bool {
	return a < than.(seqItem)
}

// Buffer holds segments with seq > expected_seq, pending in-order
// delivery. It is not goroutine-safe; callers serialize access (the
// receiver engine holds its state mutex around all Buffer calls).
type Buffer struct {
	tree      *btree.BTree
	payloads  map[uint32][]byte
	chunkSize int
}

// New returns an empty Buffer. chunkSize is used to convert a segment
// count into the byte accounting §4.7 folds into the advertised rwnd.
func New(chunkSize int) *Buffer {
	return &Buffer{
		tree:      btree.New(8),
		payloads:  make(map[uint32][]byte),
		chunkSize: chunkSize,
	}
}

// Len returns the number of buffered out-of-order segments.
func (b *Buffer) Len() int {
	return len(b.payloads)
}

// ByteSize returns the buffered segment count converted to bytes, the
// quantity §4.7 subtracts from the advertised receive window.
func (b *Buffer) ByteSize() int {
	return len(b.payloads) * b.chunkSize
}

// Contains reports whether seq is already buffered (a duplicate
// out-of-order arrival).
func (b *Buffer) Contains(seq uint32) bool {
	_, ok := b.payloads[seq]
	return ok
}

// Insert adds seq/payload to the buffer. Callers must check byte
// capacity themselves (§4.3: admitted only if size*chunk_size is below
// advertised receive capacity) before calling Insert.
func (b *Buffer) Insert(seq uint32, payload []byte) {
	if _, exists := b.payloads[seq]; exists {
		return
	}
	cp := append([]byte(nil), payload...)
	b.payloads[seq] = cp
	b.tree.ReplaceOrInsert(seqItem(seq))
}

// Drain removes and returns, in ascending order, every segment whose
// sequence number forms an unbroken run starting at expected. It
// returns the new expected_seq (one past the last drained segment, or
// unchanged if nothing was consecutive).
func (b *Buffer) Drain(expected uint32) ([][]byte, uint32) {
	var out [][]byte
	for {
		payload, ok := b.payloads[expected]
		if !ok {
			break
		}
		out = append(out, payload)
		delete(b.payloads, expected)
		b.tree.Delete(seqItem(expected))
		expected++
	}
	return out, expected
}

// Min returns the lowest buffered sequence number, for diagnostics and
// tests; ok is false when the buffer is empty.
func (b *Buffer) Min() (seq uint32, ok bool) {
	item := b.tree.Min()
	if item == nil {
		return 0, false
	}
	return uint32(item.(seqItem)), true
}
