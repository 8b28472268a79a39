// Package types implements the tipset data model (C2 of SPEC_FULL.md):
// BlockHeader, MsgMeta, Tipset/TipSetKey, and Actor, along with their
// canonical-CBOR encodings for content addressing.
//
// Grounded on venus's pkg/types/block.go and pkg/types/tipset_key.go.
package types

import (
	"bytes"
	"fmt"
	"io"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	fbig "github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/ipfs/go-cid"
)

// Ticket is the per-block randomness sortition value that determines
// tipset block order (spec.md §3, "Ticket").
type Ticket struct {
	VRFProof []byte
}

// Compare implements the total order over tickets used to sort blocks
// within a tipset: ascending byte-lexicographic comparison of the VRF
// proof.
func (t Ticket) Compare(o Ticket) int {
	return bytes.Compare(t.VRFProof, o.VRFProof)
}

func (t Ticket) MarshalCBOR(w io.Writer) error { return writeBytes(w, t.VRFProof) }

func (t *Ticket) UnmarshalCBOR(r io.Reader) error {
	b, err := readBytes(r)
	if err != nil {
		return err
	}
	t.VRFProof = b
	return nil
}

// BeaconEntry is a single randomness entry produced by the beaconizer
// collaborator for a given round.
type BeaconEntry struct {
	Round uint64
	Data  []byte
}

// BlockHeader is the minimal block header of spec.md §3.
type BlockHeader struct {
	Miner address.Address

	// Ticket is optional only for the genesis block (spec.md §9).
	Ticket *Ticket

	Parents TipSetKey

	ParentWeight fbig.Int

	Height abi.ChainEpoch

	ParentStateRoot cid.Cid

	ParentMessageReceipts cid.Cid

	// Messages is the CID of this block's MsgMeta record.
	Messages cid.Cid

	Timestamp uint64

	BlockSig *crypto.Signature

	cachedCid   cid.Cid
	cachedBytes []byte
}

// Cid returns the content ID of this header, computed by hashing its
// canonical-CBOR encoding. The result is cached: BlockHeader values are
// treated as immutable once constructed (spec.md §3, "Ownership &
// lifecycle").
func (b *BlockHeader) Cid() cid.Cid {
	if b.cachedCid != cid.Undef {
		return b.cachedCid
	}
	buf := new(bytes.Buffer)
	if err := b.MarshalCBOR(buf); err != nil {
		panic(err)
	}
	b.cachedBytes = buf.Bytes()
	c, err := cid.V1Builder{Codec: cid.DagCBOR, MhType: mhSha256}.Sum(b.cachedBytes)
	if err != nil {
		panic(err)
	}
	b.cachedCid = c
	return b.cachedCid
}

const mhSha256 = 0x12 // multicodec sha2-256, matching cid.V1Builder's default hash

func (b *BlockHeader) MarshalCBOR(w io.Writer) error {
	if err := writeArrayHeader(w, 9); err != nil {
		return err
	}
	if err := writeBytes(w, b.Miner.Bytes()); err != nil {
		return err
	}
	if b.Ticket == nil {
		if err := writeBytes(w, nil); err != nil {
			return err
		}
	} else {
		if err := b.Ticket.MarshalCBOR(w); err != nil {
			return err
		}
	}
	if err := b.Parents.MarshalCBOR(w); err != nil {
		return err
	}
	if err := b.ParentWeight.MarshalCBOR(w); err != nil {
		return err
	}
	if err := writeUint(w, uint64(b.Height)); err != nil {
		return err
	}
	if err := writeCid(w, b.ParentStateRoot); err != nil {
		return err
	}
	if err := writeCid(w, b.ParentMessageReceipts); err != nil {
		return err
	}
	if err := writeCid(w, b.Messages); err != nil {
		return err
	}
	if err := writeUint(w, b.Timestamp); err != nil {
		return err
	}
	return nil
}

func (b *BlockHeader) UnmarshalCBOR(r io.Reader) error {
	if err := readArrayHeader(r, 9); err != nil {
		return err
	}
	minerBytes, err := readBytes(r)
	if err != nil {
		return err
	}
	miner, err := address.NewFromBytes(minerBytes)
	if err != nil {
		return fmt.Errorf("decoding miner address: %w", err)
	}
	b.Miner = miner

	var tk Ticket
	if err := tk.UnmarshalCBOR(r); err != nil {
		return err
	}
	if len(tk.VRFProof) > 0 {
		b.Ticket = &tk
	} else {
		b.Ticket = nil
	}

	if err := b.Parents.UnmarshalCBOR(r); err != nil {
		return err
	}
	if err := b.ParentWeight.UnmarshalCBOR(r); err != nil {
		return err
	}
	h, err := readUint(r)
	if err != nil {
		return err
	}
	b.Height = abi.ChainEpoch(h)

	if b.ParentStateRoot, err = readCid(r); err != nil {
		return err
	}
	if b.ParentMessageReceipts, err = readCid(r); err != nil {
		return err
	}
	if b.Messages, err = readCid(r); err != nil {
		return err
	}
	if b.Timestamp, err = readUint(r); err != nil {
		return err
	}
	return nil
}

// DecodeBlock decodes raw canonical-CBOR bytes into a BlockHeader.
func DecodeBlock(raw []byte) (*BlockHeader, error) {
	var out BlockHeader
	if err := out.UnmarshalCBOR(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return &out, nil
}
