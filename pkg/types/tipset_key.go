package types

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ipfs/go-cid"
)

// TipSetKey is an immutable, ordered collection of CIDs forming a unique
// key for a tipset (spec.md §3). Two keys with the same CIDs in a
// different order are not equal. The internal representation is a
// concatenation of the CIDs' own self-describing bytes, exactly as
// venus's pkg/types/tipset_key.go represents it, so the value is cheap
// to compare and usable as a map key.
type TipSetKey struct {
	value string
}

// EmptyTSK is the zero TipSetKey, used as a sentinel meaning "resolve to
// the chain's current heaviest tipset" (spec.md §4.5 step 1).
var EmptyTSK = TipSetKey{}

// NewTipSetKey builds a key from CIDs already in canonical (ticket) order.
func NewTipSetKey(cids ...cid.Cid) TipSetKey {
	return TipSetKey{value: string(encodeKey(cids))}
}

func encodeKey(cids []cid.Cid) []byte {
	buf := new(bytes.Buffer)
	for _, c := range cids {
		buf.Write(c.Bytes())
	}
	return buf.Bytes()
}

func decodeKey(b []byte) ([]cid.Cid, error) {
	var cids []cid.Cid
	for len(b) > 0 {
		n, c, err := cid.CidFromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("decoding tipset key: %w", err)
		}
		cids = append(cids, c)
		b = b[n:]
	}
	return cids, nil
}

// Cids returns the CIDs comprising this key, in canonical order.
func (k TipSetKey) Cids() []cid.Cid {
	if k.value == "" {
		return nil
	}
	cids, err := decodeKey([]byte(k.value))
	if err != nil {
		panic("invalid tipset key: " + err.Error())
	}
	return cids
}

// IsEmpty reports whether this is the empty (heaviest-tipset-sentinel) key.
func (k TipSetKey) IsEmpty() bool { return k.value == "" }

// Equals reports whether two keys hold the same CIDs in the same order.
func (k TipSetKey) Equals(o TipSetKey) bool { return k.value == o.value }

func (k TipSetKey) String() string {
	b := strings.Builder{}
	b.WriteString("{")
	cids := k.Cids()
	for i, c := range cids {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(c.String())
	}
	b.WriteString("}")
	return b.String()
}

// TipsetHash is a deterministic hash of a TipSetKey, used to validate
// that a decoded tipset's block order matches what was expected
// (spec.md §4.2, Tipset::create(expected_hash, ...)).
type TipsetHash [32]byte

// Hash computes the TipsetHash of this key: sha256 of the concatenated
// CID bytes, in key order.
func (k TipSetKey) Hash() TipsetHash {
	return sha256Sum([]byte(k.value))
}

func (k TipSetKey) MarshalCBOR(w io.Writer) error {
	cids := k.Cids()
	if err := writeArrayHeader(w, len(cids)); err != nil {
		return err
	}
	for _, c := range cids {
		if err := writeCid(w, c); err != nil {
			return err
		}
	}
	return nil
}

func (k *TipSetKey) UnmarshalCBOR(r io.Reader) error {
	major, n, err := readHeader(r)
	if err != nil {
		return err
	}
	if major != majArray {
		return fmt.Errorf("expected cbor array for tipset key, got major type %d", major)
	}
	cids := make([]cid.Cid, n)
	for i := range cids {
		c, err := readCid(r)
		if err != nil {
			return err
		}
		cids[i] = c
	}
	*k = NewTipSetKey(cids...)
	return nil
}
