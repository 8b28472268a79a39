package chainstore

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
	"github.com/filecoin-project/fuhon/pkg/types"
)

type fakeBlockStore struct {
	blocks map[cid.Cid][]byte
}

func newFakeBlockStore() *fakeBlockStore {
	return &fakeBlockStore{blocks: map[cid.Cid][]byte{}}
}

func (s *fakeBlockStore) put(t *testing.T, hdr *types.BlockHeader) cid.Cid {
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

func miner(t *testing.T) address.Address {
	a, err := address.NewIDAddress(101)
	require.NoError(t, err)
	return a
}

// buildChain constructs a single-block-per-tipset chain at the given
// heights (each the parent of the next), mirroring scenario S5's
// "[10,7,5,2]" shape, and stores every header.
func buildChain(t *testing.T, store *fakeBlockStore, heights []int64) []*types.Tipset {
	var out []*types.Tipset
	parents := types.EmptyTSK
	for i, h := range heights {
		hdr := &types.BlockHeader{
			Miner:           miner(t),
			Ticket:          &types.Ticket{VRFProof: []byte{byte(i + 1)}},
			Parents:         parents,
			ParentWeight:    fbig.Zero(),
			Height:          abi.ChainEpoch(h),
			ParentStateRoot: cid.Undef,
			Messages:        cid.Undef,
			Timestamp:       uint64(h),
		}
		ts, err := types.Create([]*types.BlockHeader{hdr})
		require.NoError(t, err)
		store.put(t, hdr)
		out = append(out, ts)
		parents = ts.Key()
	}
	return out
}

// S5 (spec.md §8): ChainGetTipSetByHeight's walk rounds up to the last
// tipset with height >= target: requesting height 6 on a [10,7,5,2]
// chain returns the height-7 tipset.
func TestLookbackByHeightRoundsUpToLastAtOrAboveTarget(t *testing.T) {
	store := newFakeBlockStore()
	chain := buildChain(t, store, []int64{2, 5, 7, 10})
	head := chain[len(chain)-1] // height 10

	s := New(chain[0])
	got, err := s.LookbackByHeight(context.Background(), store, head, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Height())
}

// The Winning PoSt lookback walk (spec.md §4.5) rounds the opposite
// direction: it wants the first tipset with height <= target, not the
// last one >= target. On the same [10,7,5,2] chain, a target of 6 must
// land on height 5, not height 7 — the two walks must not be conflated.
func TestWalkToHeightAtMostRoundsDownToFirstAtOrBelowTarget(t *testing.T) {
	store := newFakeBlockStore()
	chain := buildChain(t, store, []int64{2, 5, 7, 10})
	head := chain[len(chain)-1] // height 10

	s := New(chain[0])
	got, err := s.WalkToHeightAtMost(context.Background(), store, head, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Height())
}

// When the target already matches an existing tipset's height exactly,
// both walks agree and land on it.
func TestWalkToHeightAtMostExactMatch(t *testing.T) {
	store := newFakeBlockStore()
	chain := buildChain(t, store, []int64{2, 5, 7, 10})
	head := chain[len(chain)-1]

	s := New(chain[0])
	got, err := s.WalkToHeightAtMost(context.Background(), store, head, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Height())
}

// Walking below the lowest recorded height stops at genesis rather than
// erroring, since there is nothing lower to descend to.
func TestWalkToHeightAtMostStopsAtGenesis(t *testing.T) {
	store := newFakeBlockStore()
	chain := buildChain(t, store, []int64{2, 5, 7, 10})
	head := chain[len(chain)-1]

	s := New(chain[0])
	got, err := s.WalkToHeightAtMost(context.Background(), store, head, -5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Height())
}

// S5: requesting a height above the chain's head is a TodoError per
// spec.md §8.
func TestLookbackByHeightAboveHeadIsTodoError(t *testing.T) {
	store := newFakeBlockStore()
	chain := buildChain(t, store, []int64{2, 5, 7, 10})
	head := chain[len(chain)-1]

	s := New(chain[0])
	_, err := s.LookbackByHeight(context.Background(), store, head, 11)
	assert.ErrorIs(t, err, apierrors.ErrTodo)
}
