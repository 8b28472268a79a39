package state

import (
	"context"
	"fmt"

	"github.com/filecoin-project/go-address"
	"github.com/ipfs/go-cid"

	"github.com/filecoin-project/fuhon/pkg/apierrors"
	"github.com/filecoin-project/fuhon/pkg/ipld"
	"github.com/filecoin-project/fuhon/pkg/types"
)

// Tree is a read handle (ipld, state_root): not persistent, cheap to
// clone since both fields are small (spec.md §3, "StateTree view").
type Tree struct {
	store ipld.Store
	root  cid.Cid
	m     *addrMap
}

// NewTree opens a read view of the state tree rooted at root.
func NewTree(store ipld.Store, root cid.Cid) *Tree {
	return &Tree{store: store, root: root, m: newAddrMap(store, root)}
}

// GetStore returns the underlying content-addressed store.
func (t *Tree) GetStore() ipld.Store { return t.store }

// Root returns the state root this view is rooted at.
func (t *Tree) Root() cid.Cid { return t.root }

// Get traverses the actor map and returns the actor at addr. addr must
// already be in ID form; use LookupID first for key-form addresses.
func (t *Tree) Get(ctx context.Context, addr address.Address) (*types.Actor, error) {
	a, ok, err := t.m.Get(ctx, addrKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: actor %s", apierrors.ErrNotFound, addr)
	}
	return a, nil
}

// Put installs or replaces the actor at addr. Mutation only happens
// through the interpreter in ordinary operation (spec.md §3); exposed
// here so genesis bootstrapping (pkg/genesis) can build state trees
// without depending on this package's unexported fields.
func (t *Tree) Put(ctx context.Context, addr address.Address, a types.Actor) error {
	return t.m.Put(ctx, addrKey(addr), a)
}

// Visit calls fn for every (address bytes, actor) pair.
func (t *Tree) Visit(ctx context.Context, fn func(key []byte, a *types.Actor) bool) error {
	return t.m.Visit(ctx, fn)
}

// Flush forces any pending mutations through and returns the new root.
func (t *Tree) Flush(ctx context.Context) (cid.Cid, error) {
	c, err := t.m.Flush(ctx)
	if err != nil {
		return cid.Undef, err
	}
	t.root = c
	return c, nil
}

// LookupID resolves addr to its ID-address form: identity if addr is
// already ID-form, else a lookup through the init actor's address map
// (spec.md §4.3). Idempotent: LookupID(LookupID(a)) == LookupID(a).
func (t *Tree) LookupID(ctx context.Context, addr address.Address) (address.Address, error) {
	if addr.Protocol() == address.ID {
		return addr, nil
	}
	init, err := t.InitState(ctx)
	if err != nil {
		return address.Undef, err
	}
	id, ok := init.AddressMap[addr.String()]
	if !ok {
		return address.Undef, fmt.Errorf("%w: no id mapping for %s", apierrors.ErrNotFound, addr)
	}
	return id, nil
}

// InitState returns the network's init actor state.
func (t *Tree) InitState(ctx context.Context) (*InitState, error) {
	return State[InitState](ctx, t, InitActorAddr)
}

// PowerState returns the storage power actor state.
func (t *Tree) PowerState(ctx context.Context) (*PowerState, error) {
	return State[PowerState](ctx, t, PowerActorAddr)
}

// MarketState returns the storage market actor state.
func (t *Tree) MarketState(ctx context.Context) (*MarketState, error) {
	return State[MarketState](ctx, t, MarketActorAddr)
}

// MinerState resolves addr to ID form and returns its miner actor state.
func (t *Tree) MinerState(ctx context.Context, addr address.Address) (*MinerState, error) {
	id, err := t.LookupID(ctx, addr)
	if err != nil {
		return nil, err
	}
	return State[MinerState](ctx, t, id)
}

// AccountKey returns the public-key address recorded in the account
// actor at the given ID address (spec.md §4.5, "account_key").
func (t *Tree) AccountKey(ctx context.Context, idAddr address.Address) (address.Address, error) {
	acct, err := State[AccountState](ctx, t, idAddr)
	if err != nil {
		return address.Undef, err
	}
	return acct.PubKeyAddr, nil
}

// State fetches the actor at addr, then decodes its head as the actor
// state type given by the type parameter T. This is state.get(address) followed
// by fetch-and-decode of actor.head, per spec.md §4.3.
func State[T any, PT interface {
	*T
	UnmarshalActorState(ctx context.Context, store ipld.Store, head cid.Cid) error
}](ctx context.Context, t *Tree, addr address.Address) (*T, error) {
	act, err := t.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	var out T
	if err := PT(&out).UnmarshalActorState(ctx, t.store, act.Head); err != nil {
		return nil, err
	}
	return &out, nil
}
