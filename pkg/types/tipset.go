package types

import (
	"bytes"
	"context"
	"fmt"
	"io"

	fbig "github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"

	"github.com/filecoin-project/fuhon/pkg/apierrors"
)

// TipsetCreator accumulates BlockHeaders incrementally, enforcing the
// invariants of spec.md §3–§4.2: equal height, equal parent set, pairwise
// distinct tickets, kept sorted ascending by ticket.
//
// Grounded on venus's pkg/types tipset-building helpers, generalized to a
// standalone accumulator per SPEC_FULL.md §4.2.
type TipsetCreator struct {
	cids []cid.Cid
	blks []*BlockHeader
}

// NewTipsetCreator returns an empty creator; an empty creator accepts any
// header.
func NewTipsetCreator() *TipsetCreator { return &TipsetCreator{} }

// CanExpand reports whether hdr may be added to the accumulator.
func (c *TipsetCreator) CanExpand(hdr *BlockHeader) error {
	if len(c.blks) == 0 {
		if hdr.Ticket == nil {
			// Only the very first (genesis) block in the whole chain may
			// omit a ticket; a creator with no other context cannot
			// distinguish that case from a malformed header, so it is
			// accepted here and the caller (Tipset::create) is
			// responsible for enforcing "single-block tipset" for the
			// genesis case (spec.md §9).
			return nil
		}
		return nil
	}
	first := c.blks[0]
	if hdr.Height != first.Height {
		return apierrors.NewTipsetError(apierrors.MismatchingHeights)
	}
	if !hdr.Parents.Equals(first.Parents) {
		return apierrors.NewTipsetError(apierrors.MismatchingParents)
	}
	if hdr.Ticket == nil {
		return apierrors.NewTipsetError(apierrors.TicketHasNoValue)
	}
	for _, existing := range c.blks {
		if existing.Ticket != nil && existing.Ticket.Compare(*hdr.Ticket) == 0 {
			return apierrors.NewTipsetError(apierrors.TicketsCollision)
		}
	}
	return nil
}

// Expand inserts hdr (whose CID is c), keeping blks sorted strictly
// ascending by ticket. The caller must have already called CanExpand and
// received a nil error; Expand panics otherwise, since spec.md §4.2
// states this as a caller obligation the creator asserts.
func (c *TipsetCreator) Expand(cidOf cid.Cid, hdr *BlockHeader) {
	if err := c.CanExpand(hdr); err != nil {
		panic(fmt.Sprintf("TipsetCreator.Expand: precondition violated: %s", err))
	}
	idx := len(c.blks)
	for i, existing := range c.blks {
		if hdr.Ticket != nil && existing.Ticket != nil && hdr.Ticket.Compare(*existing.Ticket) < 0 {
			idx = i
			break
		}
	}
	c.blks = append(c.blks, nil)
	copy(c.blks[idx+1:], c.blks[idx:])
	c.blks[idx] = hdr

	c.cids = append(c.cids, cid.Undef)
	copy(c.cids[idx+1:], c.cids[idx:])
	c.cids[idx] = cidOf
}

// Get finalizes the accumulator into a Tipset. With clear=false the
// creator's internal state is preserved and may keep accumulating.
func (c *TipsetCreator) Get(clear bool) (*Tipset, error) {
	if len(c.blks) == 0 {
		return nil, apierrors.NewTipsetError(apierrors.NoBlocks)
	}
	blks := make([]*BlockHeader, len(c.blks))
	copy(blks, c.blks)
	cids := make([]cid.Cid, len(c.cids))
	copy(cids, c.cids)
	ts := &Tipset{blks: blks, key: NewTipSetKey(cids...)}
	if clear {
		c.blks = nil
		c.cids = nil
	}
	return ts, nil
}

// Tipset is an ordered, non-empty sequence of BlockHeaders sharing the
// same height and parent set, sorted ascending by ticket (spec.md §3).
type Tipset struct {
	blks []*BlockHeader
	key  TipSetKey
}

// Create builds a Tipset from headers via a TipsetCreator, enforcing all
// ordering invariants along the way.
func Create(headers []*BlockHeader) (*Tipset, error) {
	if len(headers) == 0 {
		return nil, apierrors.NewTipsetError(apierrors.NoBlocks)
	}
	if len(headers) > 1 {
		for _, h := range headers {
			if h.Ticket == nil {
				return nil, apierrors.NewTipsetError(apierrors.TicketHasNoValue)
			}
		}
	}
	c := NewTipsetCreator()
	for _, h := range headers {
		if err := c.CanExpand(h); err != nil {
			return nil, err
		}
		c.Expand(h.Cid(), h)
	}
	return c.Get(true)
}

// CreateWithExpectedHash is Create, plus a check that the resulting key
// hashes to expectedHash (spec.md §4.2, "Tipset::create(expected_hash, ...)").
func CreateWithExpectedHash(expectedHash TipsetHash, headers []*BlockHeader) (*Tipset, error) {
	ts, err := Create(headers)
	if err != nil {
		return nil, err
	}
	if ts.key.Hash() != expectedHash {
		return nil, apierrors.NewTipsetError(apierrors.BlockOrderFailure)
	}
	return ts, nil
}

// Load fetches each of cids as a BlockHeader and calls Create. If the
// supplied order does not match ticket order, Load returns
// BlockOrderFailure rather than silently reordering (spec.md §4.2).
func Load(ctx context.Context, store interface {
	Get(ctx context.Context, c cid.Cid) ([]byte, error)
}, cids []cid.Cid) (*Tipset, error) {
	headers := make([]*BlockHeader, len(cids))
	for i, c := range cids {
		raw, err := store.Get(ctx, c)
		if err != nil {
			return nil, err
		}
		hdr, err := DecodeBlock(raw)
		if err != nil {
			return nil, err
		}
		headers[i] = hdr
	}
	ts, err := Create(headers)
	if err != nil {
		return nil, err
	}
	given := NewTipSetKey(cids...)
	if !ts.key.Equals(given) {
		return nil, apierrors.NewTipsetError(apierrors.BlockOrderFailure)
	}
	return ts, nil
}

// Blocks returns the tipset's headers in canonical (ticket) order.
func (t *Tipset) Blocks() []*BlockHeader { return t.blks }

// Key returns the TipSetKey of this tipset.
func (t *Tipset) Key() TipSetKey { return t.key }

// MinTicketBlock is the canonical representative for fields shared by
// all sibling blocks (spec.md §3).
func (t *Tipset) MinTicketBlock() *BlockHeader { return t.blks[0] }

// Parents returns the (shared) parent key of every block in the tipset.
func (t *Tipset) Parents() TipSetKey { return t.blks[0].Parents }

// ParentStateRoot returns the min-ticket block's parent state root.
func (t *Tipset) ParentStateRoot() cid.Cid { return t.blks[0].ParentStateRoot }

// ParentWeight returns the min-ticket block's parent weight.
func (t *Tipset) ParentWeight() fbig.Int { return t.blks[0].ParentWeight }

// ParentMessageReceipts returns the min-ticket block's parent receipts CID.
func (t *Tipset) ParentMessageReceipts() cid.Cid { return t.blks[0].ParentMessageReceipts }

// Height returns the tipset's (shared) epoch.
func (t *Tipset) Height() int64 { return int64(t.blks[0].Height) }

// MinTimestamp returns the minimum of the constituent blocks' timestamps.
func (t *Tipset) MinTimestamp() uint64 {
	min := t.blks[0].Timestamp
	for _, b := range t.blks[1:] {
		if b.Timestamp < min {
			min = b.Timestamp
		}
	}
	return min
}

// Contains reports whether c is one of this tipset's block CIDs.
func (t *Tipset) Contains(c cid.Cid) bool {
	for _, k := range t.key.Cids() {
		if k.Equals(c) {
			return true
		}
	}
	return false
}

// LoadParent loads this tipset's parent tipset from store.
func (t *Tipset) LoadParent(ctx context.Context, store interface {
	Get(ctx context.Context, c cid.Cid) ([]byte, error)
}) (*Tipset, error) {
	return Load(ctx, store, t.Parents().Cids())
}

// Equals reports whether two tipsets have the same key.
func (t *Tipset) Equals(o *Tipset) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.key.Equals(o.key)
}

func (t *Tipset) String() string { return t.key.String() }

// --- serialization (spec.md §4.2 "Serialization") ---
//
// A tipset encodes as the 3-tuple (cids, blks, height); used only for
// in-process serialization, never written to the content-addressed
// store.

func (t *Tipset) MarshalCBOR(w io.Writer) error {
	buf, ok := w.(*bytes.Buffer)
	if !ok {
		buf = new(bytes.Buffer)
	}
	if err := writeArrayHeader(buf, 3); err != nil {
		return err
	}
	cids := t.key.Cids()
	if err := writeCidArray(buf, cids); err != nil {
		return err
	}
	if err := writeArrayHeader(buf, len(t.blks)); err != nil {
		return err
	}
	for _, b := range t.blks {
		if err := b.MarshalCBOR(buf); err != nil {
			return err
		}
	}
	if err := writeUint(buf, uint64(t.Height())); err != nil {
		return err
	}
	if w != buf {
		_, err := w.Write(buf.Bytes())
		return err
	}
	return nil
}

// UnmarshalTipset decodes the 3-tuple form and rebuilds the tipset via
// Create, validating the recomputed key against the encoded cids
// (spec.md §4.2 "Serialization").
func UnmarshalTipset(r *bytes.Reader) (*Tipset, error) {
	if err := readArrayHeader(r, 3); err != nil {
		return nil, err
	}
	cids, err := readCidArray(r)
	if err != nil {
		return nil, err
	}
	major, n, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if major != majArray {
		return nil, fmt.Errorf("expected cbor array for tipset blocks, got major type %d", major)
	}
	blks := make([]*BlockHeader, n)
	for i := range blks {
		var b BlockHeader
		if err := b.UnmarshalCBOR(r); err != nil {
			return nil, err
		}
		blks[i] = &b
	}
	height, err := readUint(r)
	if err != nil {
		return nil, err
	}
	if len(blks) == 0 {
		if height != 0 {
			return nil, apierrors.NewTipsetError(apierrors.MismatchingHeights)
		}
		return &Tipset{}, nil
	}
	ts, err := Create(blks)
	if err != nil {
		return nil, err
	}
	if !ts.key.Equals(NewTipSetKey(cids...)) {
		return nil, apierrors.NewTipsetError(apierrors.BlockOrderFailure)
	}
	return ts, nil
}
