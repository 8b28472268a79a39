// Package keystore is the signing-oracle collaborator named in spec.md
// §1: it holds private keys and produces signatures over message and
// block-header digests for the wallet and mining submodules.
//
// Grounded on go-state-types/crypto's Signature type (used throughout
// the pack for both BLS and SECP256K1) rather than venus's older
// libp2p-crypto-backed keystore, which predates go-state-types/crypto
// and is not the idiom the rest of this pack's dependency surface uses.
package keystore

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/crypto"
	sha256 "github.com/minio/sha256-simd"

	"github.com/filecoin-project/fuhon/pkg/apierrors"
)

// KeyInfo is one managed keypair.
type KeyInfo struct {
	Type    crypto.SigType
	Address address.Address
	priv    *ecdsa.PrivateKey
}

// KeyStore holds signing keys addressable by their public-key address.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[address.Address]*KeyInfo
}

// New builds an empty KeyStore.
func New() *KeyStore {
	return &KeyStore{keys: make(map[address.Address]*KeyInfo)}
}

// GenerateSECP creates and stores a new ECDSA keypair, returning its
// address. The key is on the NIST P-256 curve, not secp256k1; it is
// registered under a SECP256K1-protocol address and its signatures carry
// the SECP256K1 signature type, so they verify only through this
// KeyStore.
func (k *KeyStore) GenerateSECP() (address.Address, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return address.Undef, fmt.Errorf("generating key: %w", err)
	}
	pub := elliptic.Marshal(priv.PublicKey.Curve, priv.PublicKey.X, priv.PublicKey.Y)
	addr, err := address.NewSecp256k1Address(pub)
	if err != nil {
		return address.Undef, fmt.Errorf("deriving address: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[addr] = &KeyInfo{Type: crypto.SigTypeSecp256k1, Address: addr, priv: priv}
	return addr, nil
}

// Has reports whether addr is a known signing key (WalletHas, spec.md §4.6).
func (k *KeyStore) Has(addr address.Address) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.keys[addr]
	return ok
}

// Sign produces a signature over digest using the key registered at
// addr.
func (k *KeyStore) Sign(ctx context.Context, addr address.Address, digest []byte) (*crypto.Signature, error) {
	k.mu.RLock()
	info, ok := k.keys[addr]
	k.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no key for %s", apierrors.ErrNotFound, addr)
	}

	h := sha256.Sum256(digest)
	r, s, err := ecdsa.Sign(rand.Reader, info.priv, h[:])
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}
	// Fixed-width r||s (32 bytes each) so Verify can split at the midpoint.
	data := make([]byte, 64)
	r.FillBytes(data[:32])
	s.FillBytes(data[32:])
	return &crypto.Signature{Type: info.Type, Data: data}, nil
}

// Verify reports whether sig is a valid signature over digest by addr's
// registered key.
func (k *KeyStore) Verify(addr address.Address, digest []byte, sig *crypto.Signature) bool {
	k.mu.RLock()
	info, ok := k.keys[addr]
	k.mu.RUnlock()
	if !ok || len(sig.Data) < 2 {
		return false
	}
	half := len(sig.Data) / 2
	r := new(big.Int).SetBytes(sig.Data[:half])
	s := new(big.Int).SetBytes(sig.Data[half:])
	h := sha256.Sum256(digest)
	return ecdsa.Verify(&info.priv.PublicKey, h[:], r, s)
}
