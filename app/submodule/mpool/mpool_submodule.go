// Package mpool implements the Mpool* handlers of the API façade
// (spec.md §4.6): pushing a signed message onto the pool with a
// freshly assigned nonce, listing pending messages, and subscribing to
// newly-added messages.
//
// Grounded on venus's app/submodule/mpool (MessagePoolAPI.MpoolPushMessage).
package mpool

import (
	"context"

	"github.com/filecoin-project/go-address"

	"github.com/filecoin-project/fuhon/pkg/chanpipe"
	"github.com/filecoin-project/fuhon/pkg/keystore"
	"github.com/filecoin-project/fuhon/pkg/messagepool"
	"github.com/filecoin-project/fuhon/pkg/statemanager"
	"github.com/filecoin-project/fuhon/pkg/types"
)

// MpoolSubmodule composes the collaborators the Mpool* handlers need.
type MpoolSubmodule struct {
	SM   *statemanager.Manager
	Pool *messagepool.Pool
	Keys *keystore.KeyStore
}

// MpoolPushMessage resolves the heaviest tipset's context, rewrites an
// ID-form sender to its key-form via account_key, assigns the next
// nonce, signs, and enqueues the message (spec.md §4.6, scenario S7).
func (m *MpoolSubmodule) MpoolPushMessage(ctx context.Context, msg *types.UnsignedMessage) (*types.SignedMessage, error) {
	tc, err := m.SM.TipsetContext(ctx, types.EmptyTSK, false)
	if err != nil {
		return nil, err
	}

	from := msg.From
	if from.Protocol() == address.ID {
		from, err = tc.State.AccountKey(ctx, from)
		if err != nil {
			return nil, err
		}
	}
	msg.From = from

	nonce, err := m.Pool.NextNonce(ctx, from)
	if err != nil {
		return nil, err
	}
	msg.Nonce = nonce

	sig, err := m.Keys.Sign(ctx, from, msg.Cid().Bytes())
	if err != nil {
		return nil, err
	}
	sm := &types.SignedMessage{Message: *msg, Signature: *sig}

	if err := m.Pool.Add(ctx, sm); err != nil {
		return nil, err
	}
	return sm, nil
}

// MpoolPending returns every pending message. key is accepted for
// signature parity with the façade surface but ignored: this
// implementation tracks a single pending set rather than one indexed
// by tipset, matching the spec's "TodoError ... not modeled" stance on
// finer-grained mempool views.
func (m *MpoolSubmodule) MpoolPending(ctx context.Context, key types.TipSetKey) []*types.SignedMessage {
	return m.Pool.Pending()
}

// MpoolSub returns a channel of newly-added pending messages.
func (m *MpoolSubmodule) MpoolSub() *chanpipe.Channel[*types.SignedMessage] {
	return m.Pool.Sub()
}
