// Package genesis builds the network's genesis tipset: an empty state
// tree seeded with the init/power/market singleton actors plus any
// preallocated accounts, and a single, ticket-less block header at
// height zero (spec.md §9, "genesis may omit its ticket").
//
// Grounded on venus's gengen tool, trimmed to this module's own actor
// set and state-tree representation.
package genesis

import (
	"context"

	"github.com/filecoin-project/go-address"
	fbig "github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"

	"github.com/filecoin-project/fuhon/pkg/ipld"
	"github.com/filecoin-project/fuhon/pkg/state"
	"github.com/filecoin-project/fuhon/pkg/types"
)

// Alloc is a preallocated account balance installed at genesis.
type Alloc struct {
	Addr    address.Address
	Balance fbig.Int
}

// Build writes init/power/market actor state plus any preallocated
// accounts into an empty state tree, flushes it, and wraps a single
// genesis block header referencing the resulting root in a one-block
// tipset. Actor code CIDs are left undefined: nothing in this module
// dispatches on them except the caller-supplied predicate of
// StateListMiners, which genesis actors never match.
func Build(ctx context.Context, store ipld.Store, networkName string, allocs []Alloc) (*types.Tipset, error) {
	tree := state.NewTree(store, cid.Undef)

	initHead, err := (&state.InitState{NetworkName: networkName, AddressMap: map[string]address.Address{}, NextID: 100}).Store(ctx, store)
	if err != nil {
		return nil, err
	}
	if err := tree.Put(ctx, state.InitActorAddr, types.Actor{Head: initHead, Balance: fbig.Zero()}); err != nil {
		return nil, err
	}

	powerHead, err := (&state.PowerState{
		Claims:               map[address.Address]state.Claim{},
		TotalRawBytePower:    fbig.Zero(),
		TotalQualityAdjPower: fbig.Zero(),
	}).Store(ctx, store)
	if err != nil {
		return nil, err
	}
	if err := tree.Put(ctx, state.PowerActorAddr, types.Actor{Head: powerHead, Balance: fbig.Zero()}); err != nil {
		return nil, err
	}

	marketHead, err := (&state.MarketState{
		Proposals:   map[state.DealID]state.DealProposal{},
		States:      map[state.DealID]state.DealState{},
		EscrowTable: map[address.Address]fbig.Int{},
		LockedTable: map[address.Address]fbig.Int{},
	}).Store(ctx, store)
	if err != nil {
		return nil, err
	}
	if err := tree.Put(ctx, state.MarketActorAddr, types.Actor{Head: marketHead, Balance: fbig.Zero()}); err != nil {
		return nil, err
	}

	for _, a := range allocs {
		acct := &state.AccountState{PubKeyAddr: a.Addr}
		head, err := acct.Store(ctx, store)
		if err != nil {
			return nil, err
		}
		if err := tree.Put(ctx, a.Addr, types.Actor{Head: head, Balance: a.Balance}); err != nil {
			return nil, err
		}
	}

	root, err := tree.Flush(ctx)
	if err != nil {
		return nil, err
	}

	emptyMeta := &types.MsgMeta{}
	metaCid, err := store.PutCbor(ctx, emptyMeta)
	if err != nil {
		return nil, err
	}

	hdr := &types.BlockHeader{
		Miner:                 state.InitActorAddr,
		Ticket:                nil,
		Parents:               types.EmptyTSK,
		ParentWeight:          fbig.Zero(),
		Height:                0,
		ParentStateRoot:       root,
		ParentMessageReceipts: metaCid,
		Messages:              metaCid,
		Timestamp:             0,
	}
	if _, err := store.PutCbor(ctx, hdr); err != nil {
		return nil, err
	}
	return types.Create([]*types.BlockHeader{hdr})
}
