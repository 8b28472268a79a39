// Package msgwaiter is the message-inclusion-receipt watcher collaborator
// named in spec.md §1: given a message CID, find the tipset that
// included it and the receipt the interpreter produced for it,
// blocking until the chain store reports a new head if necessary.
//
// Grounded on venus's pkg/chain MessageWaiter / StateWaitMsg support.
package msgwaiter

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/filecoin-project/fuhon/pkg/apierrors"
	"github.com/filecoin-project/fuhon/pkg/chainstore"
	"github.com/filecoin-project/fuhon/pkg/interpreter"
	"github.com/filecoin-project/fuhon/pkg/ipld"
	"github.com/filecoin-project/fuhon/pkg/types"
)

// Found is the result of a successful wait: the tipset the message was
// included in, that tipset's height, and the interpreter-produced
// receipt.
type Found struct {
	Tipset  *types.Tipset
	Height  int64
	Receipt *types.MessageReceipt
}

// Waiter resolves a message CID to its inclusion receipt.
type Waiter struct {
	store ipld.Store
	chain *chainstore.Store
	interp *interpreter.Interpreter
}

// New builds a Waiter over the given store, chain store, and interpreter.
func New(store ipld.Store, chain *chainstore.Store, interp *interpreter.Interpreter) *Waiter {
	return &Waiter{store: store, chain: chain, interp: interp}
}

// Wait blocks until msgCid is found in a tipset at or below the current
// head, returning its inclusion receipt. ctx cancellation stops the
// wait; a chain that never includes the message blocks until ctx is
// done, matching the open-ended nature of StateWaitMsg (spec.md §9,
// "StateWaitMsg ... scope").
func (w *Waiter) Wait(ctx context.Context, msgCid cid.Cid) (*Found, error) {
	if f, ok, err := w.scan(ctx, msgCid, w.chain.HeaviestTipset()); err != nil {
		return nil, err
	} else if ok {
		return f, nil
	}

	sub := w.chain.Notify()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-sub.C():
			if !ok {
				return nil, fmt.Errorf("%w: chain notify closed before message was seen", apierrors.ErrTodo)
			}
			f, ok, err := w.scan(ctx, msgCid, ev.Val)
			if err != nil {
				return nil, err
			}
			if ok {
				return f, nil
			}
		}
	}
}

// scan walks back from ts looking for msgCid among each tipset's
// flattened BLS-then-SECP message list, stopping at genesis.
func (w *Waiter) scan(ctx context.Context, msgCid cid.Cid, ts *types.Tipset) (*Found, bool, error) {
	cur := ts
	for {
		offset := 0
		for _, blk := range cur.Blocks() {
			var mm types.MsgMeta
			if err := w.store.GetCbor(ctx, blk.Messages, &mm); err != nil {
				return nil, false, err
			}
			idx := indexOf(msgCid, mm.BLSMessages, mm.SECPMessages)
			if idx < 0 {
				offset += len(mm.BLSMessages) + len(mm.SECPMessages)
				continue
			}
			idx += offset
			res, err := w.interp.Interpret(ctx, cur)
			if err != nil {
				return nil, false, err
			}
			receipts, err := loadReceipts(ctx, w.store, res.ReceiptsRoot)
			if err != nil {
				return nil, false, err
			}
			if idx >= len(receipts) {
				return nil, false, fmt.Errorf("%w: receipt index %d out of range", apierrors.ErrDecode, idx)
			}
			return &Found{Tipset: cur, Height: cur.Height(), Receipt: receipts[idx]}, true, nil
		}
		if cur.Parents().IsEmpty() {
			return nil, false, nil
		}
		parent, err := cur.LoadParent(ctx, w.store)
		if err != nil {
			return nil, false, err
		}
		cur = parent
	}
}

func indexOf(target cid.Cid, bls, secp []cid.Cid) int {
	i := 0
	for _, c := range bls {
		if c.Equals(target) {
			return i
		}
		i++
	}
	for _, c := range secp {
		if c.Equals(target) {
			return i
		}
		i++
	}
	return -1
}

func loadReceipts(ctx context.Context, store ipld.Store, root cid.Cid) ([]*types.MessageReceipt, error) {
	if !root.Defined() {
		return nil, nil
	}
	raw, err := store.Get(ctx, root)
	if err != nil {
		return nil, err
	}
	return types.DecodeReceipts(raw)
}
