// Package state implements the State* handlers of the API façade
// (spec.md §4.6, §6): actor and receipt lookups, market/miner/power
// queries, StateCall's VM-exit normalization, and StateWaitMsg.
//
// Named "state" for parity with venus's app/submodule/chain
// (StateAPI); the underlying typed-actor-state package it composes is
// pkg/state.
package state

import (
	"context"
	"fmt"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	fbig "github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"

	"github.com/filecoin-project/fuhon/pkg/apierrors"
	"github.com/filecoin-project/fuhon/pkg/ipld"
	"github.com/filecoin-project/fuhon/pkg/msgwaiter"
	pkgstate "github.com/filecoin-project/fuhon/pkg/state"
	"github.com/filecoin-project/fuhon/pkg/statemanager"
	"github.com/filecoin-project/fuhon/pkg/types"
)

// Invoker is the out-of-scope VM entry point StateCall drives (spec.md
// §1: "the VM actor implementations themselves ... a pure function").
// Its error may carry an *apierrors.VMExitError, which StateCall
// catches and folds into a receipt instead of propagating.
type Invoker func(ctx context.Context, store ipld.Store, tipset *types.Tipset, msg *types.UnsignedMessage) (*types.MessageReceipt, error)

// InvocResult is StateCall's result.
type InvocResult struct {
	Receipt *types.MessageReceipt
}

// MsgWait is StateWaitMsg's result.
type MsgWait struct {
	Receipt *types.MessageReceipt
	Tipset  *types.Tipset
}

// StateSubmodule composes the collaborators the State* handlers need.
type StateSubmodule struct {
	SM      *statemanager.Manager
	Waiter  *msgwaiter.Waiter
	Invoke  Invoker
	Network string
}

func (s *StateSubmodule) ctx(ctxIn context.Context, key types.TipSetKey, interpret bool) (*statemanager.TipsetContext, error) {
	return s.SM.TipsetContext(ctxIn, key, interpret)
}

// StateAccountKey returns the public-key address of an ID address.
func (s *StateSubmodule) StateAccountKey(ctx context.Context, idAddr address.Address, key types.TipSetKey) (address.Address, error) {
	tc, err := s.ctx(ctx, key, false)
	if err != nil {
		return address.Undef, err
	}
	return tc.State.AccountKey(ctx, idAddr)
}

// StateCall resolves an uninterpreted context and applies message
// implicitly, without balance or nonce checks (spec.md §4.6). A
// VM-exit-code error is normalized into a non-empty receipt rather
// than propagated; any other error propagates unchanged.
func (s *StateSubmodule) StateCall(ctx context.Context, msg *types.UnsignedMessage, key types.TipSetKey) (*InvocResult, error) {
	tc, err := s.ctx(ctx, key, false)
	if err != nil {
		return nil, err
	}
	receipt, err := s.Invoke(ctx, tc.State.GetStore(), tc.Tipset, msg)
	if err == nil {
		return &InvocResult{Receipt: receipt}, nil
	}
	if code, ok := apierrors.AsVMExit(err); ok {
		return &InvocResult{Receipt: &types.MessageReceipt{
			ExitCode: uint64(apierrors.NormalizeExitCode(uint64(code))),
			Return:   nil,
			GasUsed:  0,
		}}, nil
	}
	return nil, err
}

// StateGetActor returns addr's actor record.
func (s *StateSubmodule) StateGetActor(ctx context.Context, addr address.Address, key types.TipSetKey) (*types.Actor, error) {
	tc, err := s.ctx(ctx, key, false)
	if err != nil {
		return nil, err
	}
	id, err := tc.State.LookupID(ctx, addr)
	if err != nil {
		return nil, err
	}
	return tc.State.Get(ctx, id)
}

// StateGetReceipt returns the receipt msgCid was given on inclusion.
func (s *StateSubmodule) StateGetReceipt(ctx context.Context, msgCid cid.Cid, key types.TipSetKey) (*types.MessageReceipt, error) {
	found, err := s.Waiter.Wait(ctx, msgCid)
	if err != nil {
		return nil, err
	}
	return found.Receipt, nil
}

// StateListActors visits every actor in key's state tree.
func (s *StateSubmodule) StateListActors(ctx context.Context, key types.TipSetKey) ([]*types.Actor, error) {
	tc, err := s.ctx(ctx, key, false)
	if err != nil {
		return nil, err
	}
	var out []*types.Actor
	err = tc.State.Visit(ctx, func(_ []byte, a *types.Actor) bool {
		out = append(out, a)
		return true
	})
	return out, err
}

// StateListMessages returns every message in key's tipset, flattened
// in block-then-BLS-then-SECP order.
func (s *StateSubmodule) StateListMessages(ctx context.Context, key types.TipSetKey) ([]*types.UnsignedMessage, error) {
	tc, err := s.ctx(ctx, key, false)
	if err != nil {
		return nil, err
	}
	var out []*types.UnsignedMessage
	for _, blk := range tc.Tipset.Blocks() {
		var mm types.MsgMeta
		if err := tc.State.GetStore().GetCbor(ctx, blk.Messages, &mm); err != nil {
			return nil, err
		}
		for _, mc := range mm.BLSMessages {
			var um types.UnsignedMessage
			if err := tc.State.GetStore().GetCbor(ctx, mc, &um); err != nil {
				return nil, err
			}
			out = append(out, &um)
		}
		for _, mc := range mm.SECPMessages {
			var sm types.SignedMessage
			if err := tc.State.GetStore().GetCbor(ctx, mc, &sm); err != nil {
				return nil, err
			}
			out = append(out, &sm.Message)
		}
	}
	return out, nil
}

// StateListMiners lists every actor whose code matches a miner code
// CID; miner-vs-non-miner distinction is left to the injected
// codeIsMiner predicate since actor code CIDs are a specs-actors
// versioning detail out of this package's scope.
func (s *StateSubmodule) StateListMiners(ctx context.Context, key types.TipSetKey, codeIsMiner func(cid.Cid) bool) ([]address.Address, error) {
	tc, err := s.ctx(ctx, key, false)
	if err != nil {
		return nil, err
	}
	var out []address.Address
	err = tc.State.Visit(ctx, func(k []byte, a *types.Actor) bool {
		if codeIsMiner(a.Code) {
			if addr, aerr := address.NewFromBytes(k); aerr == nil {
				out = append(out, addr)
			}
		}
		return true
	})
	return out, err
}

// StateLookupID resolves addr to its ID-address form.
func (s *StateSubmodule) StateLookupID(ctx context.Context, addr address.Address, key types.TipSetKey) (address.Address, error) {
	tc, err := s.ctx(ctx, key, false)
	if err != nil {
		return address.Undef, err
	}
	return tc.State.LookupID(ctx, addr)
}

// StateMarketBalance returns addr's escrow and locked balances.
func (s *StateSubmodule) StateMarketBalance(ctx context.Context, addr address.Address, key types.TipSetKey) (escrow, locked fbig.Int, err error) {
	tc, terr := s.ctx(ctx, key, false)
	if terr != nil {
		return fbig.Zero(), fbig.Zero(), terr
	}
	market, merr := tc.State.MarketState(ctx)
	if merr != nil {
		return fbig.Zero(), fbig.Zero(), merr
	}
	return market.EscrowTable[addr], market.LockedTable[addr], nil
}

// StateMarketDeals returns every deal proposal and its state.
func (s *StateSubmodule) StateMarketDeals(ctx context.Context, key types.TipSetKey) (map[pkgstate.DealID]pkgstate.DealProposal, map[pkgstate.DealID]pkgstate.DealState, error) {
	tc, err := s.ctx(ctx, key, false)
	if err != nil {
		return nil, nil, err
	}
	market, err := tc.State.MarketState(ctx)
	if err != nil {
		return nil, nil, err
	}
	return market.Proposals, market.States, nil
}

// StateMarketStorageDeal returns one deal's proposal and state.
func (s *StateSubmodule) StateMarketStorageDeal(ctx context.Context, id pkgstate.DealID, key types.TipSetKey) (*pkgstate.DealProposal, *pkgstate.DealState, error) {
	tc, err := s.ctx(ctx, key, false)
	if err != nil {
		return nil, nil, err
	}
	market, err := tc.State.MarketState(ctx)
	if err != nil {
		return nil, nil, err
	}
	prop, ok := market.Proposals[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: deal %d", apierrors.ErrNotFound, id)
	}
	st := market.States[id]
	return &prop, &st, nil
}

// StateMinerDeadlines returns a miner's proving deadlines.
func (s *StateSubmodule) StateMinerDeadlines(ctx context.Context, miner address.Address, key types.TipSetKey) ([]pkgstate.Deadline, error) {
	m, err := s.minerState(ctx, miner, key)
	if err != nil {
		return nil, err
	}
	return m.Deadlines, nil
}

// StateMinerFaults returns a miner's declared faulty sectors.
func (s *StateSubmodule) StateMinerFaults(ctx context.Context, miner address.Address, key types.TipSetKey) ([]abi.SectorNumber, error) {
	m, err := s.minerState(ctx, miner, key)
	if err != nil {
		return nil, err
	}
	return m.Faults, nil
}

// StateMinerInfo returns a miner's owner/worker/sector-size record.
func (s *StateSubmodule) StateMinerInfo(ctx context.Context, miner address.Address, key types.TipSetKey) (*pkgstate.MinerInfo, error) {
	m, err := s.minerState(ctx, miner, key)
	if err != nil {
		return nil, err
	}
	return &m.Info, nil
}

// StateMinerPower returns a miner's power claim and the network total.
func (s *StateSubmodule) StateMinerPower(ctx context.Context, miner address.Address, key types.TipSetKey) (claim pkgstate.Claim, total abi.StoragePower, err error) {
	tc, terr := s.ctx(ctx, key, false)
	if terr != nil {
		return pkgstate.Claim{}, fbig.Zero(), terr
	}
	pst, perr := tc.State.PowerState(ctx)
	if perr != nil {
		return pkgstate.Claim{}, fbig.Zero(), perr
	}
	return pst.Claims[miner], pst.TotalQualityAdjPower, nil
}

// StateMinerProvingDeadline returns the index of the deadline currently
// open for proving, computed from the tipset height the way venus
// derives it: height modulo the number of declared deadlines.
func (s *StateSubmodule) StateMinerProvingDeadline(ctx context.Context, miner address.Address, key types.TipSetKey) (uint64, error) {
	tc, err := s.ctx(ctx, key, false)
	if err != nil {
		return 0, err
	}
	m, err := tc.State.MinerState(ctx, miner)
	if err != nil {
		return 0, err
	}
	if len(m.Deadlines) == 0 {
		return 0, fmt.Errorf("%w: miner %s has no deadlines", apierrors.ErrNotFound, miner)
	}
	return uint64(tc.Tipset.Height()) % uint64(len(m.Deadlines)), nil
}

// StateMinerProvingSet returns the sectors currently eligible for a
// Winning PoSt challenge: the miner's whole proving set. The challenged
// subset is selected from it in app/submodule/mining.
func (s *StateSubmodule) StateMinerProvingSet(ctx context.Context, miner address.Address, key types.TipSetKey) ([]abi.SectorNumber, error) {
	m, err := s.minerState(ctx, miner, key)
	if err != nil {
		return nil, err
	}
	return m.ProvingSet, nil
}

// StateMinerSectors returns a miner's committed sectors, optionally
// filtered to (or excluding, if filterOut) the given sector-number set.
func (s *StateSubmodule) StateMinerSectors(ctx context.Context, miner address.Address, filter map[abi.SectorNumber]bool, filterOut bool, key types.TipSetKey) ([]pkgstate.SectorOnChainInfo, error) {
	m, err := s.minerState(ctx, miner, key)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		return m.Sectors, nil
	}
	var out []pkgstate.SectorOnChainInfo
	for _, sec := range m.Sectors {
		if filter[sec.SectorNumber] != filterOut {
			out = append(out, sec)
		}
	}
	return out, nil
}

// StateMinerSectorSize returns a miner's declared sector size.
func (s *StateSubmodule) StateMinerSectorSize(ctx context.Context, miner address.Address, key types.TipSetKey) (abi.SectorSize, error) {
	m, err := s.minerState(ctx, miner, key)
	if err != nil {
		return 0, err
	}
	return m.Info.SectorSize, nil
}

// StateMinerWorker returns a miner's worker address.
func (s *StateSubmodule) StateMinerWorker(ctx context.Context, miner address.Address, key types.TipSetKey) (address.Address, error) {
	m, err := s.minerState(ctx, miner, key)
	if err != nil {
		return address.Undef, err
	}
	return m.Info.Worker, nil
}

// StateNetworkName returns the network's configured name.
func (s *StateSubmodule) StateNetworkName(ctx context.Context) string {
	return s.Network
}

// StateReadState returns actor's raw state and its head CID.
func (s *StateSubmodule) StateReadState(ctx context.Context, addr address.Address, key types.TipSetKey) (cid.Cid, []byte, error) {
	tc, err := s.ctx(ctx, key, false)
	if err != nil {
		return cid.Undef, nil, err
	}
	id, err := tc.State.LookupID(ctx, addr)
	if err != nil {
		return cid.Undef, nil, err
	}
	actor, err := tc.State.Get(ctx, id)
	if err != nil {
		return cid.Undef, nil, err
	}
	raw, err := tc.State.GetStore().Get(ctx, actor.Head)
	if err != nil {
		return cid.Undef, nil, err
	}
	return actor.Head, raw, nil
}

// StateWaitMsg blocks for msgCid's inclusion receipt (spec.md §4.6).
func (s *StateSubmodule) StateWaitMsg(ctx context.Context, msgCid cid.Cid) (*MsgWait, error) {
	found, err := s.Waiter.Wait(ctx, msgCid)
	if err != nil {
		return nil, err
	}
	return &MsgWait{Receipt: found.Receipt, Tipset: found.Tipset}, nil
}

func (s *StateSubmodule) minerState(ctx context.Context, miner address.Address, key types.TipSetKey) (*pkgstate.MinerState, error) {
	tc, err := s.ctx(ctx, key, false)
	if err != nil {
		return nil, err
	}
	return tc.State.MinerState(ctx, miner)
}
