// Package handshake implements the trivial length-prefixed UTF-8
// string exchange of spec §6: the receiver sends a prompt, the sender
// replies with the filename, the receiver replies with a ready
// string. It is opaque to the core engines and may be swapped for any
// agreed handshake without touching sender or receiver.
package handshake

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const maxStringLength = 1 << 16

// WriteString writes a length-prefixed (u32 big-endian length, then
// UTF-8 bytes) string to w.
func WriteString(w io.Writer, s string) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "handshake: write length")
	}
	if _, err := io.WriteString(w, s); err != nil {
		return errors.Wrap(err, "handshake: write string")
	}
	return nil
}

// ReadString reads a length-prefixed string written by WriteString.
func ReadString(r io.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", errors.Wrap(err, "handshake: read length")
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxStringLength {
		return "", errors.Errorf("handshake: string length %d exceeds maximum", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", errors.Wrap(err, "handshake: read string")
	}
	return string(buf), nil
}

// ReceiverGreet performs the receiver's side: send prompt, read the
// filename the sender replies with, then send ready.
func ReceiverGreet(rw io.ReadWriter, prompt, ready string) (filename string, err error) {
	if err := WriteString(rw, prompt); err != nil {
		return "", err
	}
	filename, err = ReadString(rw)
	if err != nil {
		return "", err
	}
	if err := WriteString(rw, ready); err != nil {
		return "", err
	}
	return filename, nil
}

// SenderGreet performs the sender's side: read the receiver's prompt,
// reply with filename, then wait for ready.
func SenderGreet(rw io.ReadWriter, filename string) error {
	if _, err := ReadString(rw); err != nil {
		return err
	}
	if err := WriteString(rw, filename); err != nil {
		return err
	}
	if _, err := ReadString(rw); err != nil {
		return err
	}
	return nil
}
