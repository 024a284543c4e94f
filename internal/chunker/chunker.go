// Package chunker is the file I/O adapter of §4's component table: it
// splits sender input into fixed-size chunks and assembles receiver
// output back into bytes. It implements sender.ChunkSource and
// receiver.DeliverySink structurally, without importing either
// package, keeping the core engines decoupled from any concrete file
// representation per spec §1's scope (file I/O is an external
// collaborator). Grounded on the teacher's pkg/buffer.View slicing
// style, simplified since no scatter-gather is needed here.
package chunker

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// ErrFileUnavailable covers I/O failures reading the chunk source or
// writing to the delivery sink.
var ErrFileUnavailable = errors.New("chunker: file unavailable")

// MemorySource is a sender.ChunkSource over an in-memory byte slice,
// split eagerly into chunkSize-sized pieces. Sequence numbers are
// 1-indexed, matching the protocol's next_seq starting at 1.
type MemorySource struct {
	chunks [][]byte
}

// NewMemorySource splits data into chunks of at most chunkSize bytes.
func NewMemorySource(data []byte, chunkSize int) *MemorySource {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	var chunks [][]byte
	for len(data) > 0 {
		n := chunkSize
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return &MemorySource{chunks: chunks}
}

// NewFileSource reads the whole file at path and splits it. The
// protocol has no framing for files larger than memory permits; this
// mirrors the teacher's own in-memory chunk handling.
func NewFileSource(path string, chunkSize int) (*MemorySource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrFileUnavailable, "read %s: %s", path, err)
	}
	return NewMemorySource(data, chunkSize), nil
}

// Total returns the number of chunks, i.e. the highest valid sequence
// number.
func (s *MemorySource) Total() uint32 {
	return uint32(len(s.chunks))
}

// Chunk returns the payload for the given 1-indexed sequence number.
func (s *MemorySource) Chunk(seq uint32) ([]byte, bool) {
	if seq < 1 || seq > uint32(len(s.chunks)) {
		return nil, false
	}
	return s.chunks[seq-1], true
}

// WriterSink is a receiver.DeliverySink that writes delivered chunks,
// in order, straight through to an io.Writer.
type WriterSink struct {
	w io.Writer
}

// NewWriterSink wraps w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Deliver writes payload to the underlying writer.
func (s *WriterSink) Deliver(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	if _, err := s.w.Write(payload); err != nil {
		return errors.Wrapf(ErrFileUnavailable, "write delivered chunk: %s", err)
	}
	return nil
}

// MemorySink is a receiver.DeliverySink that accumulates delivered
// bytes in memory, used by tests and by any caller that wants the
// whole file before persisting it.
type MemorySink struct {
	buf []byte
}

// Deliver appends payload to the sink's buffer.
func (s *MemorySink) Deliver(payload []byte) error {
	s.buf = append(s.buf, payload...)
	return nil
}

// Bytes returns everything delivered so far.
func (s *MemorySink) Bytes() []byte {
	return s.buf
}
