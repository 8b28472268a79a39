// Package api is the top-level façade (C6 of SPEC_FULL.md): it
// composes the Chain, Mining, Mpool, Wallet, State, and Sync
// submodules behind one struct, the shape a JSON-RPC server (see
// cmd/fuhond) hangs its method table off of.
//
// Grounded on venus's app/node.Node, which composes submodules the
// same way and exposes them through app/submodule/apiface.
package api

import (
	"context"

	"github.com/filecoin-project/go-address"

	"github.com/filecoin-project/fuhon/app/submodule/chain"
	"github.com/filecoin-project/fuhon/app/submodule/mining"
	"github.com/filecoin-project/fuhon/app/submodule/mpool"
	"github.com/filecoin-project/fuhon/app/submodule/state"
	"github.com/filecoin-project/fuhon/app/submodule/sync"
	"github.com/filecoin-project/fuhon/app/submodule/wallet"
	"github.com/filecoin-project/fuhon/pkg/apierrors"
	"github.com/filecoin-project/fuhon/pkg/consensus"
	"github.com/filecoin-project/fuhon/pkg/types"
)

// Version is the value Version() returns; a fixed, observed constant
// per spec.md §6.
type Version struct {
	Name       string `json:"name"`
	Semver     uint32 `json:"semver"`
	BlockDelay uint64 `json:"blockDelay"`
}

// AuthToken is the opaque bearer token AuthNew mints.
type AuthToken []byte

// Facade composes every submodule the JSON-RPC server exposes.
type Facade struct {
	Chain   *chain.ChainSubmodule
	Mining  *mining.MiningSubmodule
	Mpool   *mpool.MpoolSubmodule
	Wallet  *wallet.WalletSubmodule
	State   *state.StateSubmodule
	Sync    *sync.SyncSubmodule
}

// Version returns the façade's fixed identity (spec.md §6: name
// "fuhon", semver 0x000300, block_delay 5).
func (f *Facade) Version() Version {
	return Version{Name: "fuhon", Semver: 0x000300, BlockDelay: 5}
}

// AuthNew mints a bearer token. Persistent key material and full
// authorization design are explicit non-goals (spec.md §1); this
// returns the same fixed token on every call, and no token is
// generated, stored, or checked anywhere in the façade.
func (f *Facade) AuthNew(ctx context.Context) (AuthToken, error) {
	return AuthToken("fuhon-dev-token"), nil
}

// SyncSubmitBlockAndPromote runs SyncSubmitBlock then promotes the
// submitted block's singleton tipset to head if it outweighs the
// current one, closing the loop the spec leaves between "hand the
// header to the chain store" (§4.6) and the chain store's own
// heaviest-tipset pointer (§3, "ChainStore").
func (f *Facade) SyncSubmitBlockAndPromote(ctx context.Context, blk *sync.SubmittedBlock) error {
	if err := f.Sync.SyncSubmitBlock(ctx, blk); err != nil {
		return err
	}
	key := types.NewTipSetKey(blk.Header.Cid())
	ts, err := f.Chain.ChainGetTipSet(ctx, key)
	if err != nil {
		return err
	}
	head := f.Chain.ChainHead()
	headWeight, err := f.Chain.Weight(ctx, head)
	if err != nil {
		return err
	}
	tsWeight, err := f.Chain.Weight(ctx, ts)
	if err != nil {
		return err
	}
	if consensus.Greater(tsWeight, ts, headWeight, head) {
		return f.Chain.Chain.SetHead(ctx, ts)
	}
	return nil
}

// --- stub endpoints (spec.md §9, "Stub endpoints") ---

// ClientImport is out of core scope; the retrieval-market data path is
// a named-only collaborator (spec.md §1).
func (f *Facade) ClientImport(ctx context.Context, path string) error {
	return apierrors.ErrTodo
}

// PaychAllocateLane is out of core scope (spec.md §1, "payment channels").
func (f *Facade) PaychAllocateLane(ctx context.Context, ch address.Address) (uint64, error) {
	return 0, apierrors.ErrTodo
}

// NetAddrsListen is out of core scope (spec.md §1, "peer discovery").
func (f *Facade) NetAddrsListen(ctx context.Context) ([]string, error) {
	return nil, apierrors.ErrTodo
}
