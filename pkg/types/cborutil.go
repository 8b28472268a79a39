package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"
)

// Canonical-CBOR major types (RFC 7049 §2.1). Every on-chain structure in
// this package encodes itself as a fixed-length CBOR array (a "tuple") of
// its fields in declaration order, matching the convention the whole
// Filecoin cbor-gen-generated corpus uses: deterministic framing with no
// free-form maps, so two encoders never disagree on byte layout.
const (
	majUnsignedInt byte = 0
	majByteString  byte = 2
	majArray       byte = 4
)

// writeHeader writes a canonical CBOR major-type/length header.
func writeHeader(w io.Writer, major byte, length uint64) error {
	var scratch [9]byte
	head := major << 5
	switch {
	case length < 24:
		scratch[0] = head | byte(length)
		_, err := w.Write(scratch[:1])
		return err
	case length <= 0xff:
		scratch[0] = head | 24
		scratch[1] = byte(length)
		_, err := w.Write(scratch[:2])
		return err
	case length <= 0xffff:
		scratch[0] = head | 25
		binary.BigEndian.PutUint16(scratch[1:], uint16(length))
		_, err := w.Write(scratch[:3])
		return err
	case length <= 0xffffffff:
		scratch[0] = head | 26
		binary.BigEndian.PutUint32(scratch[1:], uint32(length))
		_, err := w.Write(scratch[:5])
		return err
	default:
		scratch[0] = head | 27
		binary.BigEndian.PutUint64(scratch[1:], length)
		_, err := w.Write(scratch[:9])
		return err
	}
}

// readHeader reads a canonical CBOR major-type/length header.
func readHeader(r io.Reader) (byte, uint64, error) {
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
	case info == 27:
		var s [8]byte
		if _, err := io.ReadFull(r, s[:]); err != nil {
			return 0, 0, err
		}
		return major, binary.BigEndian.Uint64(s[:]), nil
	default:
		return 0, 0, fmt.Errorf("invalid cbor length encoding: info=%d", info)
	}
}

func writeArrayHeader(w io.Writer, n int) error { return writeHeader(w, majArray, uint64(n)) }

func readArrayHeader(r io.Reader, want int) error {
	major, n, err := readHeader(r)
	if err != nil {
		return err
	}
	if major != majArray {
		return fmt.Errorf("expected cbor array, got major type %d", major)
	}
	if int(n) != want {
		return fmt.Errorf("expected array of length %d, got %d", want, n)
	}
	return nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeHeader(w, majByteString, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	major, n, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if major != majByteString {
		return nil, fmt.Errorf("expected cbor byte string, got major type %d", major)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeUint(w io.Writer, v uint64) error { return writeHeader(w, majUnsignedInt, v) }

func readUint(r io.Reader) (uint64, error) {
	major, n, err := readHeader(r)
	if err != nil {
		return 0, err
	}
	if major != majUnsignedInt {
		return 0, fmt.Errorf("expected cbor uint, got major type %d", major)
	}
	return n, nil
}

// writeCid delegates to cbg.CborCid, the standard tagged-CID encoding
// used throughout the cbor-gen-generated Filecoin corpus. An undefined
// CID is written as CBOR null, the way cbor-gen encodes an absent CID.
func writeCid(w io.Writer, c cid.Cid) error {
	if !c.Defined() {
		_, err := w.Write(cbg.CborNull)
		return err
	}
	return cbg.CborCid(c).MarshalCBOR(w)
}

// readCid reads a tagged CID, or CBOR null as cid.Undef.
func readCid(r io.Reader) (cid.Cid, error) {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return cid.Undef, err
	}
	if first[0] == cbg.CborNull[0] {
		return cid.Undef, nil
	}
	var c cbg.CborCid
	if err := c.UnmarshalCBOR(io.MultiReader(bytes.NewReader(first[:]), r)); err != nil {
		return cid.Undef, err
	}
	return cid.Cid(c), nil
}
