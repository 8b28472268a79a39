// Package wallet implements the Wallet* handlers of the API façade
// (spec.md §6): balance lookup, key presence, signing, and signature
// verification, backed by the key store collaborator.
//
// Grounded on venus's app/submodule/wallet (WalletAPI).
package wallet

import (
	"context"

	"github.com/filecoin-project/go-address"
	fbig "github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/crypto"

	"github.com/filecoin-project/fuhon/pkg/apierrors"
	"github.com/filecoin-project/fuhon/pkg/keystore"
	"github.com/filecoin-project/fuhon/pkg/statemanager"
	"github.com/filecoin-project/fuhon/pkg/types"
)

// WalletSubmodule composes the collaborators the Wallet* handlers need.
type WalletSubmodule struct {
	SM   *statemanager.Manager
	Keys *keystore.KeyStore
}

// WalletBalance reads addr's balance from the heaviest tipset's state.
func (w *WalletSubmodule) WalletBalance(ctx context.Context, addr address.Address) (fbig.Int, error) {
	tc, err := w.SM.TipsetContext(ctx, types.EmptyTSK, false)
	if err != nil {
		return fbig.Zero(), err
	}
	id, err := tc.State.LookupID(ctx, addr)
	if err != nil {
		return fbig.Zero(), err
	}
	actor, err := tc.State.Get(ctx, id)
	if err != nil {
		return fbig.Zero(), err
	}
	return actor.Balance, nil
}

// WalletHas reports whether the key store holds a signing key for addr.
func (w *WalletSubmodule) WalletHas(ctx context.Context, addr address.Address) bool {
	return w.Keys.Has(addr)
}

// WalletSign signs data with addr's key.
func (w *WalletSubmodule) WalletSign(ctx context.Context, addr address.Address, data []byte) (*crypto.Signature, error) {
	return w.Keys.Sign(ctx, addr, data)
}

// WalletVerify reports whether sig is a valid signature over data by addr.
func (w *WalletSubmodule) WalletVerify(ctx context.Context, addr address.Address, data []byte, sig *crypto.Signature) bool {
	return w.Keys.Verify(addr, data, sig)
}

// WalletDefaultAddress is an explicit stub: default-address selection
// is a client-side policy decision outside the core (spec.md §6, §9
// "Stub endpoints").
func (w *WalletSubmodule) WalletDefaultAddress(ctx context.Context) (address.Address, error) {
	return address.Undef, apierrors.ErrTodo
}
