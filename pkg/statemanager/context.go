// Package statemanager implements the TipsetContext resolver (C5 of
// SPEC_FULL.md), the component spec.md §1 calls "the heart of the
// read-side API": given a tipset key, produce a state tree rooted at
// either the tipset's own parent state root or, when the caller asks
// for interpretation, the state root that results from replaying the
// tipset's own messages.
//
// Grounded on venus's chain.TipSetState / chain.GetLookbackTipSetForRound
// (app/submodule/chain and pkg/chain).
package statemanager

import (
	"context"
	"fmt"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/ipfs/go-cid"

	"github.com/filecoin-project/fuhon/pkg/apierrors"
	"github.com/filecoin-project/fuhon/pkg/chainstore"
	"github.com/filecoin-project/fuhon/pkg/interpreter"
	"github.com/filecoin-project/fuhon/pkg/ipld"
	"github.com/filecoin-project/fuhon/pkg/state"
	"github.com/filecoin-project/fuhon/pkg/types"
)

// WinningPoStLookback is the number of epochs back from a mining round
// that the Winning PoSt sector set and power table are drawn from
// (spec.md §4.5, "lookback offset L = 10").
const WinningPoStLookback = abi.ChainEpoch(10)

// TipsetContext bundles a tipset with the state tree that applies to
// it, plus a flag recording whether that tree came from replaying the
// tipset's own messages or only from its parent state root.
type TipsetContext struct {
	Tipset      *types.Tipset
	State       *state.Tree
	Interpreted bool
}

// Manager resolves tipset keys to TipsetContexts and lookback tipsets.
type Manager struct {
	store  ipld.Store
	chain  *chainstore.Store
	interp *interpreter.Interpreter
}

// New builds a Manager over the given blockstore, chain store, and
// interpreter.
func New(store ipld.Store, chain *chainstore.Store, interp *interpreter.Interpreter) *Manager {
	return &Manager{store: store, chain: chain, interp: interp}
}

// TipsetContext resolves key to its tipset and a state tree view. When
// interpret is false the state tree is rooted at the tipset's recorded
// parent state root (spec.md §4.5 step 2: "no execution needed"). When
// interpret is true, the tipset's own messages are replayed first and
// the resulting post-state root is used instead (step 3); an error from
// the replay is returned to the caller unchanged.
//
// Idempotence: calling TipsetContext twice with the same (key,
// interpret) returns state trees rooted at the same cid, since replay
// is deterministic and memoized by the interpreter (spec.md §8,
// invariant 5).
func (m *Manager) TipsetContext(ctx context.Context, key types.TipSetKey, interpret bool) (*TipsetContext, error) {
	ts, err := m.resolve(ctx, key)
	if err != nil {
		return nil, err
	}

	if !interpret {
		return &TipsetContext{
			Tipset:      ts,
			State:       state.NewTree(m.store, ts.ParentStateRoot()),
			Interpreted: false,
		}, nil
	}

	res, err := m.interp.Interpret(ctx, ts)
	if err != nil {
		return nil, err
	}
	return &TipsetContext{
		Tipset:      ts,
		State:       state.NewTree(m.store, res.StateRoot),
		Interpreted: true,
	}, nil
}

// resolve looks the tipset up in the chain store first, falling back
// to loading it fresh from the blockstore by its block CIDs (spec.md
// §4.5 step 1).
func (m *Manager) resolve(ctx context.Context, key types.TipSetKey) (*types.Tipset, error) {
	if key.IsEmpty() {
		return m.chain.HeaviestTipset(), nil
	}
	if ts, err := m.chain.GetTipSet(key); err == nil {
		return ts, nil
	}
	ts, err := types.Load(ctx, m.store, key.Cids())
	if err != nil {
		return nil, fmt.Errorf("%w: resolving tipset %s: %s", apierrors.ErrTipsetResolution, key, err)
	}
	m.chain.PutTipset(ts)
	return ts, nil
}

// LookbackTipSetForRound returns the interpreted context of the
// ancestor of head whose height is <= round-WinningPoStLookback, per
// spec.md §4.5 ("walk parents while tipset.height > lookback; return
// the first tipset whose height <= lookback, interpreted").
//
// Short-circuit edge case (SPEC_FULL.md invariant 9): when head's own
// height is already at or below the lookback target, head itself is
// returned, interpreted, without walking parents. When round is less
// than WinningPoStLookback the target would be negative;
// LookbackTipSetForRound floors it at 0, so the walk ends at genesis.
func (m *Manager) LookbackTipSetForRound(ctx context.Context, head *types.Tipset, round abi.ChainEpoch) (*TipsetContext, error) {
	target := round - WinningPoStLookback
	if target < 0 {
		target = 0
	}
	lookback, err := m.chain.WalkToHeightAtMost(ctx, m.store, head, int64(target))
	if err != nil {
		return nil, err
	}
	return m.TipsetContext(ctx, lookback.Key(), true)
}

// GetTipSetByHeight walks parent links from head down to the last
// tipset at or above height (spec.md §4.6, ChainGetTipSetByHeight).
func (m *Manager) GetTipSetByHeight(ctx context.Context, head *types.Tipset, height abi.ChainEpoch) (*types.Tipset, error) {
	return m.chain.LookbackByHeight(ctx, m.store, head, int64(height))
}

// StateTreeAt is a convenience used by read-only API handlers that
// already have a resolved state root in hand (e.g. from a cached
// TipsetContext) and want a fresh view without re-resolving the
// tipset.
func StateTreeAt(store ipld.Store, root cid.Cid) *state.Tree {
	return state.NewTree(store, root)
}
