package types

import (
	"bytes"
	"fmt"
	"io"

	"github.com/filecoin-project/go-address"
	fbig "github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/ipfs/go-cid"
)

// UnsignedMessage is a chain message before signing.
type UnsignedMessage struct {
	Version uint64
	To      address.Address
	From    address.Address
	Nonce   uint64
	Value   fbig.Int
	Method  uint64
	Params  []byte

	cachedCid cid.Cid
}

func (m *UnsignedMessage) MarshalCBOR(w io.Writer) error {
	if err := writeArrayHeader(w, 7); err != nil {
		return err
	}
	if err := writeUint(w, m.Version); err != nil {
		return err
	}
	if err := writeBytes(w, m.To.Bytes()); err != nil {
		return err
	}
	if err := writeBytes(w, m.From.Bytes()); err != nil {
		return err
	}
	if err := writeUint(w, m.Nonce); err != nil {
		return err
	}
	if err := m.Value.MarshalCBOR(w); err != nil {
		return err
	}
	if err := writeUint(w, m.Method); err != nil {
		return err
	}
	return writeBytes(w, m.Params)
}

func (m *UnsignedMessage) UnmarshalCBOR(r io.Reader) error {
	if err := readArrayHeader(r, 7); err != nil {
		return err
	}
	var err error
	if m.Version, err = readUint(r); err != nil {
		return err
	}
	toB, err := readBytes(r)
	if err != nil {
		return err
	}
	if m.To, err = address.NewFromBytes(toB); err != nil {
		return fmt.Errorf("decoding message.to: %w", err)
	}
	fromB, err := readBytes(r)
	if err != nil {
		return err
	}
	if m.From, err = address.NewFromBytes(fromB); err != nil {
		return fmt.Errorf("decoding message.from: %w", err)
	}
	if m.Nonce, err = readUint(r); err != nil {
		return err
	}
	if err := m.Value.UnmarshalCBOR(r); err != nil {
		return err
	}
	if m.Method, err = readUint(r); err != nil {
		return err
	}
	if m.Params, err = readBytes(r); err != nil {
		return err
	}
	return nil
}

// Cid returns the content ID of the unsigned message.
func (m *UnsignedMessage) Cid() cid.Cid {
	if m.cachedCid != cid.Undef {
		return m.cachedCid
	}
	buf := new(bytes.Buffer)
	if err := m.MarshalCBOR(buf); err != nil {
		panic(err)
	}
	c, err := cid.V1Builder{Codec: cid.DagCBOR, MhType: mhSha256}.Sum(buf.Bytes())
	if err != nil {
		panic(err)
	}
	m.cachedCid = c
	return c
}

// SignedMessage pairs an UnsignedMessage with a signature over its CBOR
// encoding. For SECP256K1-signed messages, ChainGetParentMessages returns
// only the unsigned inner Message field (spec.md §4.6).
type SignedMessage struct {
	Message   UnsignedMessage
	Signature crypto.Signature
}

func (sm *SignedMessage) MarshalCBOR(w io.Writer) error {
	if err := writeArrayHeader(w, 2); err != nil {
		return err
	}
	if err := sm.Message.MarshalCBOR(w); err != nil {
		return err
	}
	return sm.Signature.MarshalCBOR(w)
}

func (sm *SignedMessage) UnmarshalCBOR(r io.Reader) error {
	if err := readArrayHeader(r, 2); err != nil {
		return err
	}
	if err := sm.Message.UnmarshalCBOR(r); err != nil {
		return err
	}
	return sm.Signature.UnmarshalCBOR(r)
}

// Cid returns the content ID of the signed message envelope.
func (sm *SignedMessage) Cid() cid.Cid {
	buf := new(bytes.Buffer)
	if err := sm.MarshalCBOR(buf); err != nil {
		panic(err)
	}
	c, err := cid.V1Builder{Codec: cid.DagCBOR, MhType: mhSha256}.Sum(buf.Bytes())
	if err != nil {
		panic(err)
	}
	return c
}

// MsgMeta is a pair of content-addressed CID arrays: the BLS-signed and
// SECP256K1-signed messages of a block, per spec.md §3.
type MsgMeta struct {
	BLSMessages  []cid.Cid
	SECPMessages []cid.Cid
}

func (mm *MsgMeta) MarshalCBOR(w io.Writer) error {
	if err := writeArrayHeader(w, 2); err != nil {
		return err
	}
	if err := writeCidArray(w, mm.BLSMessages); err != nil {
		return err
	}
	return writeCidArray(w, mm.SECPMessages)
}

func (mm *MsgMeta) UnmarshalCBOR(r io.Reader) error {
	if err := readArrayHeader(r, 2); err != nil {
		return err
	}
	var err error
	if mm.BLSMessages, err = readCidArray(r); err != nil {
		return err
	}
	if mm.SECPMessages, err = readCidArray(r); err != nil {
		return err
	}
	return nil
}

func writeCidArray(w io.Writer, cids []cid.Cid) error {
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

func readCidArray(r io.Reader) ([]cid.Cid, error) {
	major, n, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if major != majArray {
		return nil, fmt.Errorf("expected cbor array, got major type %d", major)
	}
	out := make([]cid.Cid, n)
	for i := range out {
		if out[i], err = readCid(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}
