package state

import (
	"bytes"
	"context"
	"fmt"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	sabuiltin "github.com/filecoin-project/specs-actors/v7/actors/builtin"
	"github.com/filecoin-project/specs-actors/v7/actors/builtin/account"
	initactor "github.com/filecoin-project/specs-actors/v7/actors/builtin/init"
	"github.com/filecoin-project/specs-actors/v7/actors/builtin/power"
	specsadt "github.com/filecoin-project/specs-actors/v7/actors/util/adt"
	"github.com/filecoin-project/specs-actors/v7/actors/util/smoothing"
	"github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"

	"github.com/filecoin-project/fuhon/pkg/apierrors"
	"github.com/filecoin-project/fuhon/pkg/ipld"
)

// Well-known singleton actor addresses, matching the numbering
// specs-actors/actors/builtin assigns (spec.md §3, "Actor states of
// interest ... given its known singleton address").
var (
	InitActorAddr   = mustID(1)
	RewardActorAddr = mustID(2)
	PowerActorAddr  = mustID(4)
	MarketActorAddr = mustID(5)
)

func mustID(n uint64) address.Address {
	a, err := address.NewIDAddress(n)
	if err != nil {
		panic(err)
	}
	return a
}

// fetchAndDecode is the common "fetch head CID, decode tuple CBOR" path
// every builtin actor state shares.
func fetchAndDecode(ctx context.Context, store ipld.Store, head cid.Cid, decode func(r *bytes.Reader) error) error {
	raw, err := store.Get(ctx, head)
	if err != nil {
		return err
	}
	if err := decode(bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("%w: %s", apierrors.ErrDecode, err)
	}
	return nil
}

// adtStore wraps a Store's underlying cbor.IpldStore as the adt.Store
// specs-actors' HAMT/AMT helpers (Map, Array, BalanceTable) expect.
func adtStore(ctx context.Context, store ipld.Store) specsadt.Store {
	return specsadt.WrapStore(ctx, store.CborStore())
}

// --- Init actor state ---

// InitState holds the network name and the key-address -> ID-address map
// (spec.md §3: "init (network name, address mappings)"). The wire
// representation is specs-actors v7's init.State; the address map is its
// HAMT, materialized here into a flat Go map since nothing in this
// module needs lazy traversal of it.
type InitState struct {
	NetworkName string
	AddressMap  map[string]address.Address
	NextID      uint64
}

func (s *InitState) UnmarshalActorState(ctx context.Context, store ipld.Store, head cid.Cid) error {
	return fetchAndDecode(ctx, store, head, func(r *bytes.Reader) error {
		var raw initactor.State
		if err := raw.UnmarshalCBOR(r); err != nil {
			return err
		}
		s.NetworkName = raw.NetworkName
		s.NextID = uint64(raw.NextID)

		m, err := specsadt.AsMap(adtStore(ctx, store), raw.AddressMap, sabuiltin.DefaultHamtBitwidth)
		if err != nil {
			return err
		}
		s.AddressMap = make(map[string]address.Address)
		var id cbg.CborInt
		return m.ForEach(&id, func(key string) error {
			keyAddr, err := address.NewFromBytes([]byte(key))
			if err != nil {
				return err
			}
			idAddr, err := address.NewIDAddress(uint64(id))
			if err != nil {
				return err
			}
			s.AddressMap[keyAddr.String()] = idAddr
			return nil
		})
	})
}

// Store builds a specs-actors v7 init.State over a fresh HAMT holding
// the address map, encodes it, and stores it. Used by genesis
// bootstrapping and tests.
func (s *InitState) Store(ctx context.Context, store ipld.Store) (cid.Cid, error) {
	adtS := adtStore(ctx, store)
	m, err := specsadt.MakeEmptyMap(adtS, sabuiltin.DefaultHamtBitwidth)
	if err != nil {
		return cid.Undef, err
	}
	for k, v := range s.AddressMap {
		keyAddr, err := address.NewFromString(k)
		if err != nil {
			return cid.Undef, err
		}
		actorID, err := address.IDFromAddress(v)
		if err != nil {
			return cid.Undef, err
		}
		id := cbg.CborInt(actorID)
		if err := m.Put(abi.AddrKey(keyAddr), &id); err != nil {
			return cid.Undef, err
		}
	}
	root, err := m.Root()
	if err != nil {
		return cid.Undef, err
	}
	raw := initactor.State{
		AddressMap:  root,
		NextID:      abi.ActorID(s.NextID),
		NetworkName: s.NetworkName,
	}
	buf := new(bytes.Buffer)
	if err := raw.MarshalCBOR(buf); err != nil {
		return cid.Undef, err
	}
	return store.Put(ctx, buf.Bytes())
}

// --- Power actor state ---

// Claim is a single miner's contribution to network power.
type Claim struct {
	RawBytePower    abi.StoragePower
	QualityAdjPower abi.StoragePower
}

// PowerState holds per-miner power claims and network totals (spec.md
// §3: "storage power (claims by miner, totals)"). The wire
// representation is specs-actors v7's power.State; this module only
// tracks the totals and per-miner claims it actually reads, so the
// remaining fields (cron queue, proof validation batch, smoothed
// estimate) round-trip as empty/zero placeholders.
type PowerState struct {
	Claims               map[address.Address]Claim
	TotalRawBytePower    abi.StoragePower
	TotalQualityAdjPower abi.StoragePower
}

func (s *PowerState) UnmarshalActorState(ctx context.Context, store ipld.Store, head cid.Cid) error {
	return fetchAndDecode(ctx, store, head, func(r *bytes.Reader) error {
		var raw power.State
		if err := raw.UnmarshalCBOR(r); err != nil {
			return err
		}
		s.TotalRawBytePower = raw.TotalRawBytePower
		s.TotalQualityAdjPower = raw.TotalQualityAdjPower

		claims, err := specsadt.AsMap(adtStore(ctx, store), raw.Claims, sabuiltin.DefaultHamtBitwidth)
		if err != nil {
			return err
		}
		s.Claims = make(map[address.Address]Claim)
		var claim power.Claim
		return claims.ForEach(&claim, func(key string) error {
			a, err := address.NewFromBytes([]byte(key))
			if err != nil {
				return err
			}
			s.Claims[a] = Claim{RawBytePower: claim.RawBytePower, QualityAdjPower: claim.QualityAdjPower}
			return nil
		})
	})
}

// Store builds a specs-actors v7 power.State over a fresh HAMT holding
// the claims, encodes it, and stores it.
func (s *PowerState) Store(ctx context.Context, store ipld.Store) (cid.Cid, error) {
	adtS := adtStore(ctx, store)
	m, err := specsadt.MakeEmptyMap(adtS, sabuiltin.DefaultHamtBitwidth)
	if err != nil {
		return cid.Undef, err
	}
	for a, c := range s.Claims {
		claim := power.Claim{RawBytePower: c.RawBytePower, QualityAdjPower: c.QualityAdjPower}
		if err := m.Put(abi.AddrKey(a), &claim); err != nil {
			return cid.Undef, err
		}
	}
	claimsRoot, err := m.Root()
	if err != nil {
		return cid.Undef, err
	}
	cronQueue, err := specsadt.MakeEmptyMap(adtS, sabuiltin.DefaultHamtBitwidth)
	if err != nil {
		return cid.Undef, err
	}
	cronQueueRoot, err := cronQueue.Root()
	if err != nil {
		return cid.Undef, err
	}
	raw := power.State{
		TotalRawBytePower:         s.TotalRawBytePower,
		TotalBytesCommitted:       abi.NewStoragePower(0),
		TotalQualityAdjPower:      s.TotalQualityAdjPower,
		TotalQABytesCommitted:     abi.NewStoragePower(0),
		TotalPledgeCollateral:     abi.NewTokenAmount(0),
		ThisEpochRawBytePower:     s.TotalRawBytePower,
		ThisEpochQualityAdjPower:  s.TotalQualityAdjPower,
		ThisEpochPledgeCollateral: abi.NewTokenAmount(0),
		ThisEpochQAPowerSmoothed:  smoothing.NewEstimate(abi.NewStoragePower(0), abi.NewStoragePower(0)),
		CronEventQueue:            cronQueueRoot,
		Claims:                    claimsRoot,
	}
	buf := new(bytes.Buffer)
	if err := raw.MarshalCBOR(buf); err != nil {
		return cid.Undef, err
	}
	return store.Put(ctx, buf.Bytes())
}

// --- Account actor state ---

// AccountState is the public-key form of an ID address (spec.md §3:
// "account (public-key form of an ID address)"). The wire
// representation is specs-actors v7's account.State.
type AccountState struct {
	PubKeyAddr address.Address
}

func (s *AccountState) UnmarshalActorState(ctx context.Context, store ipld.Store, head cid.Cid) error {
	return fetchAndDecode(ctx, store, head, func(r *bytes.Reader) error {
		var raw account.State
		if err := raw.UnmarshalCBOR(r); err != nil {
			return err
		}
		s.PubKeyAddr = raw.Address
		return nil
	})
}

// Store encodes and stores the account state.
func (s *AccountState) Store(ctx context.Context, store ipld.Store) (cid.Cid, error) {
	raw := account.State{Address: s.PubKeyAddr}
	buf := new(bytes.Buffer)
	if err := raw.MarshalCBOR(buf); err != nil {
		return cid.Undef, err
	}
	return store.Put(ctx, buf.Bytes())
}
