package types

import (
	"bytes"
	"errors"
	"io"

	fbig "github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
)

// Actor is the quadruple {code_cid, head_cid, nonce, balance} of spec.md
// §3, stored in the state tree's HAMT keyed by address.
type Actor struct {
	Code    cid.Cid
	Head    cid.Cid
	Nonce   uint64
	Balance fbig.Int
}

func (a *Actor) MarshalCBOR(w io.Writer) error {
	if err := writeArrayHeader(w, 4); err != nil {
		return err
	}
	if err := writeCid(w, a.Code); err != nil {
		return err
	}
	if err := writeCid(w, a.Head); err != nil {
		return err
	}
	if err := writeUint(w, a.Nonce); err != nil {
		return err
	}
	return a.Balance.MarshalCBOR(w)
}

func (a *Actor) UnmarshalCBOR(r io.Reader) error {
	if err := readArrayHeader(r, 4); err != nil {
		return err
	}
	var err error
	if a.Code, err = readCid(r); err != nil {
		return err
	}
	if a.Head, err = readCid(r); err != nil {
		return err
	}
	if a.Nonce, err = readUint(r); err != nil {
		return err
	}
	return a.Balance.UnmarshalCBOR(r)
}

// MessageReceipt is the result of applying one message during
// interpretation.
type MessageReceipt struct {
	ExitCode uint64
	Return   []byte
	GasUsed  int64
}

func (r *MessageReceipt) MarshalCBOR(w io.Writer) error {
	if err := writeArrayHeader(w, 3); err != nil {
		return err
	}
	if err := writeUint(w, r.ExitCode); err != nil {
		return err
	}
	if err := writeBytes(w, r.Return); err != nil {
		return err
	}
	return writeUint(w, uint64(r.GasUsed))
}

func (r *MessageReceipt) UnmarshalCBOR(rd io.Reader) error {
	if err := readArrayHeader(rd, 3); err != nil {
		return err
	}
	var err error
	if r.ExitCode, err = readUint(rd); err != nil {
		return err
	}
	if r.Return, err = readBytes(rd); err != nil {
		return err
	}
	gasUsed, err := readUint(rd)
	if err != nil {
		return err
	}
	r.GasUsed = int64(gasUsed)
	return nil
}

// DecodeReceipts decodes a receipts-root payload back into its ordered
// list of receipts. Each receipt self-frames with its own CBOR array
// header, so the list is read by repeatedly unmarshaling until the
// buffer is exhausted (the same concatenation interpreter.storeReceipts
// writes).
func DecodeReceipts(raw []byte) ([]*MessageReceipt, error) {
	r := bytes.NewReader(raw)
	var out []*MessageReceipt
	for r.Len() > 0 {
		var rec MessageReceipt
		if err := rec.UnmarshalCBOR(r); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, nil
}
