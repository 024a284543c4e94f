package sender

import (
	"time"

	"github.com/google/btree"
)

type seqItem uint32

func (a seqItem) Less(than btree.Item) bool {
	return a < than.(seqItem)
}

// unackedEntry records a segment currently in flight: its payload (so
// it can be retransmitted byte-for-byte), when it was last
// transmitted, and whether it has ever been retransmitted (Karn's
// rule: a retransmitted segment's eventual ACK must not feed the RTT
// estimator).
type unackedEntry struct {
	payload       []byte
	sendTime      time.Time
	retransmitted bool
}

// unackedTable is the sender's seq -> in-flight-segment map, ordered
// by sequence number via a btree so "find the oldest unacked segment"
// (§4.8 step 3, §9's design note recommending an ordered structure
// over a linear scan) is an O(log n) Min() rather than an O(n) walk.
type unackedTable struct {
	tree    *btree.BTree
	entries map[uint32]*unackedEntry
}

func newUnackedTable() *unackedTable {
	return &unackedTable{
		tree:    btree.New(8),
		entries: make(map[uint32]*unackedEntry),
	}
}

func (t *unackedTable) put(seq uint32, payload []byte, now time.Time, retransmit bool) {
	e, exists := t.entries[seq]
	if !exists {
		e = &unackedEntry{payload: payload}
		t.entries[seq] = e
		t.tree.ReplaceOrInsert(seqItem(seq))
	}
	e.sendTime = now
	if retransmit {
		e.retransmitted = true
	}
}

func (t *unackedTable) get(seq uint32) (*unackedEntry, bool) {
	e, ok := t.entries[seq]
	return e, ok
}

// removeUpTo deletes every entry with seq <= ack, the cumulative-ACK
// cleanup of §4.9.
func (t *unackedTable) removeUpTo(ack uint32) {
	for {
		item := t.tree.Min()
		if item == nil {
			return
		}
		seq := uint32(item.(seqItem))
		if seq > ack {
			return
		}
		t.tree.Delete(item)
		delete(t.entries, seq)
	}
}

// oldest returns the lowest-sequence in-flight entry, i.e. the one
// §4.8's timeout scan must check first.
func (t *unackedTable) oldest() (seq uint32, e *unackedEntry, ok bool) {
	item := t.tree.Min()
	if item == nil {
		return 0, nil, false
	}
	seq = uint32(item.(seqItem))
	return seq, t.entries[seq], true
}

func (t *unackedTable) len() int {
	return len(t.entries)
}
