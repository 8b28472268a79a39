package state

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Minimal canonical-CBOR array/byte-string framing, mirroring
// pkg/types/cborutil.go. Kept local (rather than exported from pkg/types)
// since addrMap's on-disk shape is an internal implementation detail of
// this package's HAMT stand-in, not part of the chain wire format.

func writeHeaderLocal(w io.Writer, major byte, length uint64) {
	var scratch [9]byte
	head := major << 5
	switch {
	case length < 24:
		scratch[0] = head | byte(length)
		_, _ = w.Write(scratch[:1])
	case length <= 0xff:
		scratch[0] = head | 24
		scratch[1] = byte(length)
		_, _ = w.Write(scratch[:2])
	case length <= 0xffff:
		scratch[0] = head | 25
		binary.BigEndian.PutUint16(scratch[1:], uint16(length))
		_, _ = w.Write(scratch[:3])
	default:
		scratch[0] = head | 26
		binary.BigEndian.PutUint32(scratch[1:], uint32(length))
		_, _ = w.Write(scratch[:5])
	}
}

func readHeaderLocal(r io.Reader) (byte, uint64, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, 0, err
	}
	major := b[0] >> 5
	info := b[0] & 0x1f
	switch {
	case info < 24:
		return major, uint64(info), nil
	case info == 24:
		var s [1]byte
		if _, err := io.ReadFull(r, s[:]); err != nil {
			return 0, 0, err
		}
		return major, uint64(s[0]), nil
	case info == 25:
		var s [2]byte
		if _, err := io.ReadFull(r, s[:]); err != nil {
			return 0, 0, err
		}
		return major, uint64(binary.BigEndian.Uint16(s[:])), nil
	case info == 26:
		var s [4]byte
		if _, err := io.ReadFull(r, s[:]); err != nil {
			return 0, 0, err
		}
		return major, uint64(binary.BigEndian.Uint32(s[:])), nil
	default:
		return 0, 0, fmt.Errorf("invalid local cbor length encoding: info=%d", info)
	}
}

func writeHeaderPublic(w io.Writer, major byte, length uint64) { writeHeaderLocal(w, major, length) }

func readHeaderPublic(r io.Reader) (byte, uint64, error) { return readHeaderLocal(r) }

func readHeaderExpectArray(r io.Reader, want int) error {
	major, n, err := readHeaderLocal(r)
	if err != nil {
		return err
	}
	if major != 4 {
		return fmt.Errorf("expected cbor array, got major type %d", major)
	}
	if int(n) != want {
		return fmt.Errorf("expected array of length %d, got %d", want, n)
	}
	return nil
}

func writeBytesPublic(w io.Writer, b []byte) {
	writeHeaderLocal(w, 2, uint64(len(b)))
	_, _ = w.Write(b)
}

func readBytesPublic(r io.Reader) ([]byte, error) {
	major, n, err := readHeaderLocal(r)
	if err != nil {
		return nil, err
	}
	if major != 2 {
		return nil, fmt.Errorf("expected cbor byte string, got major type %d", major)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readHeaderUintPublic(r io.Reader) (uint64, error) {
	major, n, err := readHeaderLocal(r)
	if err != nil {
		return 0, err
	}
	if major != 0 {
		return 0, fmt.Errorf("expected cbor uint, got major type %d", major)
	}
	return n, nil
}
