// Package beacon is the randomness-source collaborator named in spec.md
// §1: it supplies the BeaconEntry values a block cites for drand-style
// chain randomness, and answers "what is the latest beacon entry at or
// before round X" queries the lookback procedure needs.
//
// Grounded on venus's pkg/beacon (drand round schedule, entries-for-block).
package beacon

import (
	"context"
	"fmt"
	"sync"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/fuhon/pkg/apierrors"
	"github.com/filecoin-project/fuhon/pkg/types"
)

// roundsPerEpoch is the number of beacon rounds per chain epoch; a
// block may need zero, one, or (after a long beacon outage) several
// entries to catch its clock up, mirroring venus's BeaconEntriesForBlock.
const roundsPerEpoch = 1

// Source supplies beacon entries. A production node backs this with a
// drand HTTP/gRPC client; the daemon in cmd/fuhond uses its fixed,
// deterministic fixedBeacon.
type Source interface {
	Entry(ctx context.Context, round uint64) (*types.BeaconEntry, error)
	MaxRound(ctx context.Context, epoch abi.ChainEpoch) uint64
}

// Beaconizer resolves beacon entries for mining and validation.
type Beaconizer struct {
	mu     sync.RWMutex
	source Source
	seen   map[uint64]*types.BeaconEntry
}

// New wraps a Source with a small cache of previously fetched rounds.
func New(source Source) *Beaconizer {
	return &Beaconizer{source: source, seen: make(map[uint64]*types.BeaconEntry)}
}

// EntriesForBlock returns the beacon entries a block at epoch should
// cite given its parent's highest-known round: every round after the
// parent's round up to and including the round due at epoch, in ascending
// order (spec.md §4.6's randomness plumbing; mirrors
// BeaconEntriesForBlock's "catch up the missed rounds" behavior).
func (b *Beaconizer) EntriesForBlock(ctx context.Context, epoch abi.ChainEpoch, parentRound uint64) ([]*types.BeaconEntry, error) {
	due := b.source.MaxRound(ctx, epoch)
	if due <= parentRound {
		return nil, nil
	}
	var out []*types.BeaconEntry
	for round := parentRound + 1; round <= due; round++ {
		e, err := b.entry(ctx, round)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// LatestAtOrBefore returns the beacon entry for the highest round due
// at or before epoch, used by MinerGetBaseInfo for the previous beacon
// entry as of its context tipset, and by ChainGetRandomness (spec.md §4.6).
func (b *Beaconizer) LatestAtOrBefore(ctx context.Context, epoch abi.ChainEpoch) (*types.BeaconEntry, error) {
	round := b.source.MaxRound(ctx, epoch)
	return b.entry(ctx, round)
}

func (b *Beaconizer) entry(ctx context.Context, round uint64) (*types.BeaconEntry, error) {
	b.mu.RLock()
	if e, ok := b.seen[round]; ok {
		b.mu.RUnlock()
		return e, nil
	}
	b.mu.RUnlock()

	e, err := b.source.Entry(ctx, round)
	if err != nil {
		return nil, fmt.Errorf("%w: beacon round %d: %s", apierrors.ErrNotFound, round, err)
	}
	b.mu.Lock()
	b.seen[round] = e
	b.mu.Unlock()
	return e, nil
}
