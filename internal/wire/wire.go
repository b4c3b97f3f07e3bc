// Package wire implements the length-prefixed binary codec the
// handshake rides on: opaque blobs framed as a variable-width unsigned
// length followed by the raw bytes, plus the handful of fixed-layout
// primitives (UTF-8 strings, raw unprefixed blocks) the protocol needs.
//
// The length prefix uses the 7-bit continuation scheme: each byte
// carries 7 payload bits in its low bits; the high bit set means "more
// bytes follow"; groups are ordered least-significant-first. This is
// the layout the wire format fixes for every embedded length. It is the
// same byte layout as encoding/binary's unsigned varint (not its zigzag
// signed Varint); it is written here against a plain io.Reader, whereas
// binary.ReadUvarint needs an io.ByteReader.
package wire

import (
	"errors"
	"fmt"
	"io"
)

// ErrBlobTooLarge is returned when a decoded length prefix exceeds the
// caller-supplied maximum, guarding against a malicious or corrupt
// peer claiming an absurd blob size.
var ErrBlobTooLarge = errors.New("wire: blob exceeds maximum size")

// WriteUvarint writes v using the 7-bit continuation scheme.
func WriteUvarint(w io.Writer, v uint64) error {
	var buf [10]byte
	n := 0
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf[n] = b
		n++
		if v == 0 {
			break
		}
	}
	_, err := w.Write(buf[:n])
	if err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	return nil
}

// ReadUvarint reads a 7-bit continuation length prefix.
func ReadUvarint(r io.Reader) (uint64, error) {
	var result uint64
	var shift uint
	var b [1]byte
	for {
		if shift >= 70 {
			return 0, fmt.Errorf("wire: length prefix too long")
		}
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, fmt.Errorf("wire: read length prefix: %w", err)
		}
		result |= uint64(b[0]&0x7f) << shift
		if b[0]&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// WriteBlob writes b as a length-prefixed blob: LP(len(b)) || b.
func WriteBlob(w io.Writer, b []byte) error {
	if err := WriteUvarint(w, uint64(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("wire: write blob: %w", err)
	}
	return nil
}

// ReadBlob reads a length-prefixed blob, rejecting lengths above maxSize.
func ReadBlob(r io.Reader, maxSize int) ([]byte, error) {
	n, err := ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(maxSize) {
		return nil, ErrBlobTooLarge
	}
	b := make([]byte, n)
	if n == 0 {
		return b, nil
	}
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("wire: read blob: %w", err)
	}
	return b, nil
}

// WriteString writes s as a length-prefixed UTF-8 string.
func WriteString(w io.Writer, s string) error {
	return WriteBlob(w, []byte(s))
}

// ReadString reads a length-prefixed UTF-8 string.
func ReadString(r io.Reader, maxSize int) (string, error) {
	b, err := ReadBlob(r, maxSize)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteRaw writes b with no length prefix at all — used for the fixed-size
// challenge, whose length both sides already agree on.
func WriteRaw(w io.Writer, b []byte) error {
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("wire: write raw: %w", err)
	}
	return nil
}

// ReadRaw reads exactly n raw, unprefixed bytes.
func ReadRaw(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("wire: read raw: %w", err)
	}
	return b, nil
}
