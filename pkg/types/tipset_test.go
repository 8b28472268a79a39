package types

import (
	"bytes"
	"context"
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	fbig "github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/fuhon/pkg/apierrors"
)

func testMiner(t *testing.T, id uint64) address.Address {
	a, err := address.NewIDAddress(id)
	require.NoError(t, err)
	return a
}

func testHeader(t *testing.T, height int64, parents TipSetKey, ticket []byte) *BlockHeader {
	return &BlockHeader{
		Miner:           testMiner(t, 101),
		Ticket:          &Ticket{VRFProof: ticket},
		Parents:         parents,
		ParentWeight:    fbig.Zero(),
		Height:          abi.ChainEpoch(height),
		ParentStateRoot: cid.Undef,
		Messages:        cid.Undef,
		Timestamp:       uint64(height),
	}
}

// S1: three single-block tipsets of increasing height, created and
// inspected, agree on height and parent/child relationships.
func TestTipsetOrderingAscendingHeight(t *testing.T) {
	gen := testHeader(t, 0, EmptyTSK, []byte{0x00})
	ts0, err := Create([]*BlockHeader{gen})
	require.NoError(t, err)

	h1 := testHeader(t, 1, ts0.Key(), []byte{0x01})
	ts1, err := Create([]*BlockHeader{h1})
	require.NoError(t, err)

	h2 := testHeader(t, 2, ts1.Key(), []byte{0x02})
	ts2, err := Create([]*BlockHeader{h2})
	require.NoError(t, err)

	assert.Equal(t, int64(0), ts0.Height())
	assert.Equal(t, int64(1), ts1.Height())
	assert.Equal(t, int64(2), ts2.Height())
	assert.True(t, ts1.Parents().Equals(ts0.Key()))
	assert.True(t, ts2.Parents().Equals(ts1.Key()))
}

// S2: two blocks sharing height, parents, and ticket cannot form a
// tipset; TicketsCollision is reported.
func TestTipsetRejectsDuplicateTickets(t *testing.T) {
	h1 := testHeader(t, 5, EmptyTSK, []byte{0xaa})
	h2 := testHeader(t, 5, EmptyTSK, []byte{0xaa})

	_, err := Create([]*BlockHeader{h1, h2})
	require.Error(t, err)
	assert.True(t, apierrors.IsTipsetError(err, apierrors.TicketsCollision))
}

// S3: blocks at mismatched heights cannot form a tipset.
func TestTipsetRejectsMismatchedHeights(t *testing.T) {
	h1 := testHeader(t, 5, EmptyTSK, []byte{0x01})
	h2 := testHeader(t, 6, EmptyTSK, []byte{0x02})

	_, err := Create([]*BlockHeader{h1, h2})
	require.Error(t, err)
	assert.True(t, apierrors.IsTipsetError(err, apierrors.MismatchingHeights))
}

// S4: loading block CIDs in an order that does not match ticket order
// is reported as BlockOrderFailure rather than silently reordered.
func TestLoadRejectsWrongTicketOrder(t *testing.T) {
	h1 := testHeader(t, 7, EmptyTSK, []byte{0x02}) // higher ticket
	h2 := testHeader(t, 7, EmptyTSK, []byte{0x01}) // lower ticket, sorts first

	store := newFakeBlockStore()
	c1 := store.put(t, h1)
	c2 := store.put(t, h2)

	// Correct (ticket-ascending) order loads fine.
	ts, err := Load(context.Background(), store, []cid.Cid{c2, c1})
	require.NoError(t, err)
	assert.Equal(t, int64(7), ts.Height())

	// Supplying them in the wrong order is a BlockOrderFailure, not a
	// silent reorder.
	_, err = Load(context.Background(), store, []cid.Cid{c1, c2})
	require.Error(t, err)
	assert.True(t, apierrors.IsTipsetError(err, apierrors.BlockOrderFailure))
}

// Invariant 2: a tipset's CBOR round-trips through Marshal/Unmarshal.
func TestTipsetSerializationRoundTrip(t *testing.T) {
	h := testHeader(t, 3, EmptyTSK, []byte{0x09})
	ts, err := Create([]*BlockHeader{h})
	require.NoError(t, err)

	buf := new(bytes.Buffer)
	require.NoError(t, ts.MarshalCBOR(buf))

	got, err := UnmarshalTipset(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.True(t, ts.Equals(got))
	assert.Equal(t, ts.Height(), got.Height())
}

// --- tiny in-memory block store used only by this test file ---

type fakeBlockStore struct {
	blocks map[cid.Cid][]byte
}

func newFakeBlockStore() *fakeBlockStore {
	return &fakeBlockStore{blocks: map[cid.Cid][]byte{}}
}

func (s *fakeBlockStore) put(t *testing.T, hdr *BlockHeader) cid.Cid {
	buf := new(bytes.Buffer)
	require.NoError(t, hdr.MarshalCBOR(buf))
	c := hdr.Cid()
	s.blocks[c] = buf.Bytes()
	return c
}

func (s *fakeBlockStore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	b, ok := s.blocks[c]
	if !ok {
		return nil, apierrors.ErrNotFound
	}
	return b, nil
}
