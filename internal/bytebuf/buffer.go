// Package bytebuf adapts the teacher's pkg/buffer.View — a byte slice
// with TrimFront/CapLength helpers — into a growable delivery buffer.
// The receiver's scatter-gather VectorisedView has no counterpart here
// since this protocol never needs to clone or vectorize views across
// route objects; a single contiguous byte slice with front-trimming is
// sufficient for the application-read buffer and the flow-control
// accounting built on top of it.
package bytebuf

// Buffer is a FIFO byte queue: Write appends, TrimFront discards bytes
// already delivered to the application.
type Buffer struct {
	b []byte
}

// Write appends p to the buffer.
func (v *Buffer) Write(p []byte) {
	v.b = append(v.b, p...)
}

// TrimFront removes the first n bytes. n must be <= Len().
func (v *Buffer) TrimFront(n int) {
	v.b = v.b[n:]
}

// Len returns the number of buffered, undelivered bytes.
func (v *Buffer) Len() int {
	return len(v.b)
}

// Bytes returns the buffered bytes, not a copy; callers must not
// retain it past the next mutation.
func (v *Buffer) Bytes() []byte {
	return v.b
}

// Read copies up to len(p) buffered bytes into p, trims them from the
// front, and returns the count copied.
func (v *Buffer) Read(p []byte) int {
	n := copy(p, v.b)
	v.TrimFront(n)
	return n
}
