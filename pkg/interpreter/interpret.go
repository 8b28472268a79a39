// Package interpreter is the opaque replay façade (C4 of SPEC_FULL.md):
// interpret(ipld, tipset) -> {state_root, receipts_root}. The concrete
// actor/VM execution is out of scope per spec.md §1 ("The VM actor
// implementations themselves ... treated as a pure function"); this
// package provides the seam plus the memoizing cache the design notes
// call for (spec.md §9, "Interpreter purity").
package interpreter

import (
	"bytes"
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/ipfs/go-cid"

	"github.com/filecoin-project/fuhon/pkg/ipld"
	"github.com/filecoin-project/fuhon/pkg/types"
)

// Result is the outcome of interpreting one tipset.
type Result struct {
	StateRoot    cid.Cid
	ReceiptsRoot cid.Cid
}

// StateTransition is the opaque (state_root, message) -> (new_state_root,
// receipt) function spec.md §1 declares out of scope. Interpret drives
// one call per message across a tipset's blocks in block-then-message
// order; the transition itself is supplied by the embedding node.
type StateTransition func(ctx context.Context, store ipld.Store, stateRoot cid.Cid, msg *types.UnsignedMessage) (cid.Cid, *types.MessageReceipt, error)

// Interpreter replays a tipset's messages against its parent state root.
type Interpreter struct {
	store       ipld.Store
	apply       StateTransition
	cache       *lru.Cache
	loadMsgMeta func(ctx context.Context, store ipld.Store, c cid.Cid) (*types.MsgMeta, error)
}

const defaultCacheSize = 256

// New builds an Interpreter backed by store, applying messages with
// apply. Results are memoized by tipset key since interpretation is a
// deterministic, idempotent function of its inputs (spec.md §4.4).
func New(store ipld.Store, apply StateTransition) *Interpreter {
	c, err := lru.New(defaultCacheSize)
	if err != nil {
		panic(err)
	}
	return &Interpreter{store: store, apply: apply, cache: c, loadMsgMeta: loadMsgMeta}
}

// Interpret returns the post-tipset state root and receipts root,
// applying every BLS then SECP message of every block in the tipset's
// canonical order, in turn.
func (in *Interpreter) Interpret(ctx context.Context, ts *types.Tipset) (Result, error) {
	key := ts.Key().Hash()
	if v, ok := in.cache.Get(key); ok {
		return v.(Result), nil
	}

	root := ts.ParentStateRoot()
	var receipts []*types.MessageReceipt
	for _, blk := range ts.Blocks() {
		meta, err := in.loadMsgMeta(ctx, in.store, blk.Messages)
		if err != nil {
			return Result{}, fmt.Errorf("loading msg meta for block %s: %w", blk.Cid(), err)
		}
		for _, mc := range append(append([]cid.Cid{}, meta.BLSMessages...), meta.SECPMessages...) {
			msg, err := loadUnsignedMessage(ctx, in.store, mc)
			if err != nil {
				return Result{}, err
			}
			newRoot, receipt, err := in.apply(ctx, in.store, root, msg)
			if err != nil {
				return Result{}, err
			}
			root = newRoot
			receipts = append(receipts, receipt)
		}
	}

	receiptsRoot, err := storeReceipts(ctx, in.store, receipts)
	if err != nil {
		return Result{}, err
	}

	res := Result{StateRoot: root, ReceiptsRoot: receiptsRoot}
	in.cache.Add(key, res)
	return res, nil
}

func loadMsgMeta(ctx context.Context, store ipld.Store, c cid.Cid) (*types.MsgMeta, error) {
	var mm types.MsgMeta
	if err := store.GetCbor(ctx, c, &mm); err != nil {
		return nil, err
	}
	return &mm, nil
}

func loadUnsignedMessage(ctx context.Context, store ipld.Store, c cid.Cid) (*types.UnsignedMessage, error) {
	raw, err := store.Get(ctx, c)
	if err != nil {
		return nil, err
	}
	// A message CID may reference either a bare UnsignedMessage (BLS) or
	// a SignedMessage envelope (SECP256K1); try the unsigned form first
	// since it is the more common case in a block's BLS array.
	var um types.UnsignedMessage
	if err := um.UnmarshalCBOR(bytes.NewReader(raw)); err == nil {
		return &um, nil
	}
	var sm types.SignedMessage
	if err := sm.UnmarshalCBOR(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("decoding message %s: %w", c, err)
	}
	return &sm.Message, nil
}

func storeReceipts(ctx context.Context, store ipld.Store, receipts []*types.MessageReceipt) (cid.Cid, error) {
	if len(receipts) == 0 {
		return cid.Undef, nil
	}
	buf := new(bytes.Buffer)
	for _, r := range receipts {
		if err := r.MarshalCBOR(buf); err != nil {
			return cid.Undef, err
		}
	}
	return store.Put(ctx, buf.Bytes())
}
