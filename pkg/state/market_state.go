package state

import (
	"bytes"
	"context"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	fbig "github.com/filecoin-project/go-state-types/big"
	sabuiltin "github.com/filecoin-project/specs-actors/v7/actors/builtin"
	"github.com/filecoin-project/specs-actors/v7/actors/builtin/market"
	specsadt "github.com/filecoin-project/specs-actors/v7/actors/util/adt"
	"github.com/ipfs/go-cid"

	"github.com/filecoin-project/fuhon/pkg/ipld"
)

// DealID identifies a storage deal.
type DealID uint64

// DealProposal is the negotiated terms of a storage deal (the subset of
// specs-actors' market.DealProposal this module reads).
type DealProposal struct {
	PieceCID     cid.Cid
	PieceSize    abi.PaddedPieceSize
	Client       address.Address
	Provider     address.Address
	StartEpoch   abi.ChainEpoch
	EndEpoch     abi.ChainEpoch
	StoragePrice fbig.Int
}

// DealState is the on-chain lifecycle state of a deal.
type DealState struct {
	SectorStartEpoch abi.ChainEpoch
	LastUpdatedEpoch abi.ChainEpoch
	SlashEpoch       abi.ChainEpoch
}

// MarketState holds proposals, states, and the escrow/locked balance
// tables (spec.md §3: "storage market (proposals, states, escrow table,
// locked table)"). The wire representation is specs-actors v7's
// market.State: Proposals/States are its AMTs, EscrowTable/LockedTable
// its balance tables. PendingProposals and DealOpsByEpoch round-trip as
// empty placeholders since nothing in this module reads them.
type MarketState struct {
	Proposals   map[DealID]DealProposal
	States      map[DealID]DealState
	EscrowTable map[address.Address]fbig.Int
	LockedTable map[address.Address]fbig.Int
}

func (s *MarketState) UnmarshalActorState(ctx context.Context, store ipld.Store, head cid.Cid) error {
	return fetchAndDecode(ctx, store, head, func(r *bytes.Reader) error {
		var raw market.State
		if err := raw.UnmarshalCBOR(r); err != nil {
			return err
		}
		adtS := adtStore(ctx, store)

		proposals, err := specsadt.AsArray(adtS, raw.Proposals, market.ProposalsAmtBitwidth)
		if err != nil {
			return err
		}
		s.Proposals = make(map[DealID]DealProposal)
		var prop market.DealProposal
		if err := proposals.ForEach(&prop, func(i int64) error {
			s.Proposals[DealID(i)] = DealProposal{
				PieceCID:     prop.PieceCID,
				PieceSize:    prop.PieceSize,
				Client:       prop.Client,
				Provider:     prop.Provider,
				StartEpoch:   prop.StartEpoch,
				EndEpoch:     prop.EndEpoch,
				StoragePrice: prop.StoragePricePerEpoch,
			}
			return nil
		}); err != nil {
			return err
		}

		states, err := specsadt.AsArray(adtS, raw.States, market.StatesAmtBitwidth)
		if err != nil {
			return err
		}
		s.States = make(map[DealID]DealState)
		var dealState market.DealState
		if err := states.ForEach(&dealState, func(i int64) error {
			s.States[DealID(i)] = DealState{
				SectorStartEpoch: dealState.SectorStartEpoch,
				LastUpdatedEpoch: dealState.LastUpdatedEpoch,
				SlashEpoch:       dealState.SlashEpoch,
			}
			return nil
		}); err != nil {
			return err
		}

		escrow, err := readBalanceTable(adtS, raw.EscrowTable)
		if err != nil {
			return err
		}
		s.EscrowTable = escrow

		locked, err := readBalanceTable(adtS, raw.LockedTable)
		if err != nil {
			return err
		}
		s.LockedTable = locked
		return nil
	})
}

func readBalanceTable(adtS specsadt.Store, root cid.Cid) (map[address.Address]fbig.Int, error) {
	bt, err := specsadt.AsBalanceTable(adtS, root)
	if err != nil {
		return nil, err
	}
	out := make(map[address.Address]fbig.Int)
	var v abi.TokenAmount
	if err := (*specsadt.Map)(bt).ForEach(&v, func(key string) error {
		a, err := address.NewFromBytes([]byte(key))
		if err != nil {
			return err
		}
		out[a] = v
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func writeBalanceTable(adtS specsadt.Store, m map[address.Address]fbig.Int) (cid.Cid, error) {
	root, err := specsadt.MakeEmptyMap(adtS, sabuiltin.DefaultHamtBitwidth)
	if err != nil {
		return cid.Undef, err
	}
	emptyRoot, err := root.Root()
	if err != nil {
		return cid.Undef, err
	}
	bt, err := specsadt.AsBalanceTable(adtS, emptyRoot)
	if err != nil {
		return cid.Undef, err
	}
	for a, v := range m {
		amt := v
		if err := (*specsadt.Map)(bt).Put(abi.AddrKey(a), &amt); err != nil {
			return cid.Undef, err
		}
	}
	return bt.Root()
}

// Store encodes and stores the market state.
func (s *MarketState) Store(ctx context.Context, store ipld.Store) (cid.Cid, error) {
	adtS := adtStore(ctx, store)

	proposals, err := specsadt.MakeEmptyArray(adtS, market.ProposalsAmtBitwidth)
	if err != nil {
		return cid.Undef, err
	}
	for id, p := range s.Proposals {
		prop := market.DealProposal{
			PieceCID:             p.PieceCID,
			PieceSize:            p.PieceSize,
			Client:               p.Client,
			Provider:             p.Provider,
			StartEpoch:           p.StartEpoch,
			EndEpoch:             p.EndEpoch,
			StoragePricePerEpoch: p.StoragePrice,
			ProviderCollateral:   fbig.Zero(),
			ClientCollateral:     fbig.Zero(),
		}
		if err := proposals.Set(uint64(id), &prop); err != nil {
			return cid.Undef, err
		}
	}
	proposalsRoot, err := proposals.Root()
	if err != nil {
		return cid.Undef, err
	}

	states, err := specsadt.MakeEmptyArray(adtS, market.StatesAmtBitwidth)
	if err != nil {
		return cid.Undef, err
	}
	for id, st := range s.States {
		dealState := market.DealState{
			SectorStartEpoch: st.SectorStartEpoch,
			LastUpdatedEpoch: st.LastUpdatedEpoch,
			SlashEpoch:       st.SlashEpoch,
		}
		if err := states.Set(uint64(id), &dealState); err != nil {
			return cid.Undef, err
		}
	}
	statesRoot, err := states.Root()
	if err != nil {
		return cid.Undef, err
	}

	escrowRoot, err := writeBalanceTable(adtS, s.EscrowTable)
	if err != nil {
		return cid.Undef, err
	}
	lockedRoot, err := writeBalanceTable(adtS, s.LockedTable)
	if err != nil {
		return cid.Undef, err
	}

	pendingProposals, err := specsadt.MakeEmptyMap(adtS, sabuiltin.DefaultHamtBitwidth)
	if err != nil {
		return cid.Undef, err
	}
	pendingProposalsRoot, err := pendingProposals.Root()
	if err != nil {
		return cid.Undef, err
	}
	dealOps, err := specsadt.MakeEmptyMap(adtS, sabuiltin.DefaultHamtBitwidth)
	if err != nil {
		return cid.Undef, err
	}
	dealOpsRoot, err := dealOps.Root()
	if err != nil {
		return cid.Undef, err
	}

	raw := market.State{
		Proposals:                     proposalsRoot,
		States:                        statesRoot,
		PendingProposals:              pendingProposalsRoot,
		EscrowTable:                   escrowRoot,
		LockedTable:                   lockedRoot,
		DealOpsByEpoch:                dealOpsRoot,
		TotalClientLockedCollateral:   fbig.Zero(),
		TotalProviderLockedCollateral: fbig.Zero(),
		TotalClientStorageFee:         fbig.Zero(),
	}
	buf := new(bytes.Buffer)
	if err := raw.MarshalCBOR(buf); err != nil {
		return cid.Undef, err
	}
	return store.Put(ctx, buf.Bytes())
}
