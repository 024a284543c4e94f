// Package frame implements the stateless wire codec for the protocol's
// two frame shapes: data-bearing segments (DATA/PROBE/END) and ACKs.
// It is grounded on the field-by-field header parsing style of the
// teacher's protocol/header package, simplified to the flat layout
// spec'd for this protocol instead of a TCP option list.
package frame

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ErrMalformedFrame is returned by Decode* on truncated input or a
// length field inconsistent with what was actually read.
var ErrMalformedFrame = errors.New("frame: malformed frame")

// Role distinguishes the three segment shapes. PROBE and END share the
// DATA layout; only Probe is marked on the wire (the is_probe byte), so
// a decoded END arrives as Data with an empty payload.
type Role uint8

const (
	Data Role = iota
	Probe
	End
)

// Segment is a DATA, PROBE, or END frame: seq (i32) | length (i32) |
// is_probe (u8) | payload[length]. END is a Data-shaped frame with a
// zero-length payload; the wire format carries no separate END tag, so
// the receiving side recognizes END by its empty payload alone (see
// DecodeSegment).
type Segment struct {
	Seq     uint32
	Role    Role
	Payload []byte
}

// Ack is the (ack, rwnd) pair: ack (i32) | rwnd (i32).
type Ack struct {
	Ack  uint32
	Rwnd uint32
}

// EncodeSegment writes s to w in the wire layout. Role is encoded via
// the is_probe byte for Probe; End is encoded identically to Data with
// an empty payload, since the wire format has no dedicated END tag —
// callers on the decode side treat any zero-length non-probe segment
// as END, whatever its seq (see receiver.Engine).
func EncodeSegment(w io.Writer, s Segment) error {
	var hdr [9]byte
	binary.BigEndian.PutUint32(hdr[0:4], s.Seq)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(s.Payload)))
	if s.Role == Probe {
		hdr[8] = 1
	}
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "frame: write segment header")
	}
	if len(s.Payload) > 0 {
		if _, err := w.Write(s.Payload); err != nil {
			return errors.Wrap(err, "frame: write segment payload")
		}
	}
	return nil
}

// DecodeSegment reads one segment frame from r. It never returns
// Role == End: it returns Role == Data or Role == Probe based on the
// is_probe flag actually on the wire, and an END frame decodes as a
// Data segment with an empty payload.
func DecodeSegment(r io.Reader) (Segment, error) {
	var hdr [9]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Segment{}, errors.Wrap(ErrMalformedFrame, err.Error())
		}
		return Segment{}, errors.Wrap(err, "frame: read segment header")
	}
	seq := binary.BigEndian.Uint32(hdr[0:4])
	length := binary.BigEndian.Uint32(hdr[4:8])
	isProbe := hdr[8] != 0

	if length > maxFrameLength {
		return Segment{}, errors.Wrapf(ErrMalformedFrame, "length %d exceeds maximum", length)
	}

	var payload []byte
	if length > 0 {
		payload = make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return Segment{}, errors.Wrap(ErrMalformedFrame, "truncated payload")
		}
	}

	role := Data
	if isProbe {
		role = Probe
		if length != 1 {
			return Segment{}, errors.Wrapf(ErrMalformedFrame, "probe length %d, want 1", length)
		}
	}

	return Segment{Seq: seq, Role: role, Payload: payload}, nil
}

// EncodeAck writes a to w: ack (i32) | rwnd (i32).
func EncodeAck(w io.Writer, a Ack) error {
	var b [8]byte
	binary.BigEndian.PutUint32(b[0:4], a.Ack)
	binary.BigEndian.PutUint32(b[4:8], a.Rwnd)
	if _, err := w.Write(b[:]); err != nil {
		return errors.Wrap(err, "frame: write ack")
	}
	return nil
}

// DecodeAck reads one ACK frame from r.
func DecodeAck(r io.Reader) (Ack, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Ack{}, errors.Wrap(ErrMalformedFrame, err.Error())
		}
		return Ack{}, errors.Wrap(err, "frame: read ack")
	}
	return Ack{
		Ack:  binary.BigEndian.Uint32(b[0:4]),
		Rwnd: binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

// maxFrameLength guards against a corrupt or adversarial length field
// forcing an unbounded allocation; it is generous relative to the
// protocol's 5120-byte chunk size.
const maxFrameLength = 1 << 20
