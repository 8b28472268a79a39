package state

import (
	"bytes"
	"context"
	"fmt"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/ipfs/go-cid"

	"github.com/filecoin-project/fuhon/pkg/ipld"
)

// Unlike the other builtin actor states in this package, miner state
// stays on the hand-rolled tuple below instead of specs-actors v7's
// miner.State: that type's sectors/pre-commits/faults/proving set are
// each their own AMT or Bitfield keyed off a per-deadline/partition
// schema, and VM actor internals are out of scope here (spec.md §1,
// "the VM actor implementations themselves ... treated as a pure
// function"). addrmap.go already sets the precedent of a flat
// collection standing in for a full HAMT for the same reason.

// MinerInfo is the non-sector part of a miner actor's state (spec.md §3:
// "miner (worker, sector size, ...)").
type MinerInfo struct {
	Owner      address.Address
	Worker     address.Address
	SectorSize abi.SectorSize
}

// SectorOnChainInfo is a single committed sector.
type SectorOnChainInfo struct {
	SectorNumber abi.SectorNumber
	SealedCID    cid.Cid
	Expiration   abi.ChainEpoch
}

// Deadline groups the sector numbers due for PoSt in one window.
type Deadline struct {
	Index          uint64
	ProvingSectors []abi.SectorNumber
}

// MinerState holds the fields spec.md §3 names for miner actors: worker,
// sector size, sectors, fault set, deadlines, proving set.
type MinerState struct {
	Info      MinerInfo
	Sectors   []SectorOnChainInfo
	Faults    []abi.SectorNumber
	Deadlines []Deadline

	// ProvingSet is the flattened set of sector numbers a Winning PoSt
	// challenge may be drawn from — the union of all deadlines' proving
	// sectors minus Faults, precomputed here the way venus precomputes
	// per-partition proving sets.
	ProvingSet []abi.SectorNumber
}

// Sector looks up a committed sector by number.
func (s *MinerState) Sector(n abi.SectorNumber) (*SectorOnChainInfo, bool) {
	for i := range s.Sectors {
		if s.Sectors[i].SectorNumber == n {
			return &s.Sectors[i], true
		}
	}
	return nil, false
}

func (s *MinerState) UnmarshalActorState(ctx context.Context, store ipld.Store, head cid.Cid) error {
	return fetchAndDecode(ctx, store, head, func(r *bytes.Reader) error {
		if err := readHeaderExpectArray(r, 4); err != nil {
			return err
		}
		if err := readHeaderExpectArray(r, 3); err != nil {
			return err
		}
		ownerB, err := readBytesPublic(r)
		if err != nil {
			return err
		}
		if s.Info.Owner, err = address.NewFromBytes(ownerB); err != nil {
			return err
		}
		workerB, err := readBytesPublic(r)
		if err != nil {
			return err
		}
		if s.Info.Worker, err = address.NewFromBytes(workerB); err != nil {
			return err
		}
		sectorSize, err := readHeaderUintPublic(r)
		if err != nil {
			return err
		}
		s.Info.SectorSize = abi.SectorSize(sectorSize)

		major, n, err := readHeaderPublic(r)
		if err != nil {
			return err
		}
		if major != 4 {
			return fmt.Errorf("expected array of sectors")
		}
		s.Sectors = make([]SectorOnChainInfo, n)
		for i := range s.Sectors {
			if err := readHeaderExpectArray(r, 3); err != nil {
				return err
			}
			num, err := readHeaderUintPublic(r)
			if err != nil {
				return err
			}
			s.Sectors[i].SectorNumber = abi.SectorNumber(num)
			sealedB, err := readBytesPublic(r)
			if err != nil {
				return err
			}
			_, s.Sectors[i].SealedCID, err = cid.CidFromBytes(sealedB)
			if err != nil {
				return err
			}
			exp, err := readHeaderUintPublic(r)
			if err != nil {
				return err
			}
			s.Sectors[i].Expiration = abi.ChainEpoch(exp)
		}

		s.Faults, err = readSectorNumberArray(r)
		if err != nil {
			return err
		}

		major, n, err = readHeaderPublic(r)
		if err != nil {
			return err
		}
		if major != 4 {
			return fmt.Errorf("expected array of deadlines")
		}
		s.Deadlines = make([]Deadline, n)
		for i := range s.Deadlines {
			if err := readHeaderExpectArray(r, 2); err != nil {
				return err
			}
			idx, err := readHeaderUintPublic(r)
			if err != nil {
				return err
			}
			s.Deadlines[i].Index = idx
			s.Deadlines[i].ProvingSectors, err = readSectorNumberArray(r)
			if err != nil {
				return err
			}
		}

		s.recomputeProvingSet()
		return nil
	})
}

func (s *MinerState) recomputeProvingSet() {
	faulty := make(map[abi.SectorNumber]bool, len(s.Faults))
	for _, f := range s.Faults {
		faulty[f] = true
	}
	seen := make(map[abi.SectorNumber]bool)
	var out []abi.SectorNumber
	for _, dl := range s.Deadlines {
		for _, sn := range dl.ProvingSectors {
			if faulty[sn] || seen[sn] {
				continue
			}
			seen[sn] = true
			out = append(out, sn)
		}
	}
	s.ProvingSet = out
}

func readSectorNumberArray(r *bytes.Reader) ([]abi.SectorNumber, error) {
	major, n, err := readHeaderPublic(r)
	if err != nil {
		return nil, err
	}
	if major != 4 {
		return nil, fmt.Errorf("expected array of sector numbers")
	}
	out := make([]abi.SectorNumber, n)
	for i := range out {
		v, err := readHeaderUintPublic(r)
		if err != nil {
			return nil, err
		}
		out[i] = abi.SectorNumber(v)
	}
	return out, nil
}

func writeSectorNumberArray(w *bytes.Buffer, ns []abi.SectorNumber) {
	writeHeaderPublic(w, 4, uint64(len(ns)))
	for _, n := range ns {
		writeHeaderPublic(w, 0, uint64(n))
	}
}

// Store encodes and stores the miner state.
func (s *MinerState) Store(ctx context.Context, store ipld.Store) (cid.Cid, error) {
	buf := new(bytes.Buffer)
	writeHeaderPublic(buf, 4, 4)

	writeHeaderPublic(buf, 4, 3)
	writeBytesPublic(buf, s.Info.Owner.Bytes())
	writeBytesPublic(buf, s.Info.Worker.Bytes())
	writeHeaderPublic(buf, 0, uint64(s.Info.SectorSize))

	writeHeaderPublic(buf, 4, uint64(len(s.Sectors)))
	for _, sec := range s.Sectors {
		writeHeaderPublic(buf, 4, 3)
		writeHeaderPublic(buf, 0, uint64(sec.SectorNumber))
		writeBytesPublic(buf, sec.SealedCID.Bytes())
		writeHeaderPublic(buf, 0, uint64(sec.Expiration))
	}

	writeSectorNumberArray(buf, s.Faults)

	writeHeaderPublic(buf, 4, uint64(len(s.Deadlines)))
	for _, dl := range s.Deadlines {
		writeHeaderPublic(buf, 4, 2)
		writeHeaderPublic(buf, 0, dl.Index)
		writeSectorNumberArray(buf, dl.ProvingSectors)
	}

	return store.Put(ctx, buf.Bytes())
}
