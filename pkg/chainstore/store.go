// Package chainstore is the heaviest-chain tracker collaborator named in
// spec.md §1: it holds the current head tipset, accepts new tipsets, and
// fans out head-change notifications over chanpipe channels.
//
// Grounded on venus's pkg/chain/store.go (Store.SetHead / HeadEvents).
package chainstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/filecoin-project/fuhon/pkg/apierrors"
	"github.com/filecoin-project/fuhon/pkg/chanpipe"
	"github.com/filecoin-project/fuhon/pkg/types"
)

var log = logging.Logger("chainstore")

// ChangeType distinguishes head-change kinds, mirroring the
// revert/apply pair a real reorg-aware chain store emits.
type ChangeType int

const (
	Apply ChangeType = iota
	Revert
)

// HeadChange is one event of the ChainNotify() subscription stream
// (spec.md §4.6).
type HeadChange struct {
	Type ChangeType
	Val  *types.Tipset
}

// Store tracks the heaviest known tipset and fans out head changes.
// Weight comparison itself lives in pkg/consensus; callers decide head
// adoption there and call SetHead once they have.
type Store struct {
	mu      sync.RWMutex
	heavy   *types.Tipset
	byKey   map[string]*types.Tipset
	subs    []*chanpipe.Channel[HeadChange]
	subsMu  sync.Mutex
}

// New builds a Store with genesis as its initial (and initially
// heaviest) tipset.
func New(genesis *types.Tipset) *Store {
	s := &Store{byKey: make(map[string]*types.Tipset)}
	s.byKey[genesis.Key().String()] = genesis
	s.heavy = genesis
	return s
}

// PutTipset records ts so it can later be resolved by key, independent
// of whether it becomes the new head.
func (s *Store) PutTipset(ts *types.Tipset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[ts.Key().String()] = ts
}

// GetTipSet resolves a key to a previously-recorded tipset.
func (s *Store) GetTipSet(key types.TipSetKey) (*types.Tipset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.byKey[key.String()]
	if !ok {
		return nil, fmt.Errorf("%w: tipset %s", apierrors.ErrNotFound, key)
	}
	return ts, nil
}

// HeaviestTipset returns the current chain head.
func (s *Store) HeaviestTipset() *types.Tipset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heavy
}

// SetHead installs ts as the new head and notifies subscribers. Weight
// comparison itself is a named-only collaborator per spec.md §1; callers
// are expected to have already decided ts is heavier before calling.
func (s *Store) SetHead(ctx context.Context, ts *types.Tipset) error {
	s.mu.Lock()
	prev := s.heavy
	s.heavy = ts
	s.byKey[ts.Key().String()] = ts
	s.mu.Unlock()

	s.notify(HeadChange{Type: Apply, Val: ts})
	log.Infow("head changed", "from", prev.Key(), "to", ts.Key())
	return nil
}

// Notify subscribes to head-change events. Consumer-driven cancellation:
// closing the returned channel unregisters it at the next notify.
func (s *Store) Notify() *chanpipe.Channel[HeadChange] {
	ch := chanpipe.New[HeadChange](32)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

func (s *Store) notify(ev HeadChange) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	live := s.subs[:0]
	for _, ch := range s.subs {
		if ch.Closed() {
			continue
		}
		if ch.Write(ev) {
			live = append(live, ch)
		}
		// Write returning false means the consumer has fallen behind or
		// dropped the channel; either way the subscription disconnects
		// (spec.md §4.7 back-pressure).
	}
	s.subs = live
}

// LookbackByHeight walks parent links from ts until it finds the last
// tipset whose height is >= target, per ChainGetTipSetByHeight's
// documented walk (spec.md §4.6). It requires a loader to fetch parents
// not already cached locally.
func (s *Store) LookbackByHeight(ctx context.Context, store interface {
	Get(ctx context.Context, c cid.Cid) ([]byte, error)
}, ts *types.Tipset, target int64) (*types.Tipset, error) {
	if ts.Height() < target {
		return nil, apierrors.ErrTodo
	}
	cur := ts
	for {
		parents := cur.Parents()
		if parents.IsEmpty() {
			return cur, nil
		}
		parent, err := types.Load(ctx, store, parents.Cids())
		if err != nil {
			return nil, err
		}
		if parent.Height() < target {
			return cur, nil
		}
		cur = parent
	}
}

// WalkToHeightAtMost walks parent links from ts while its height
// strictly exceeds target, returning the first tipset whose height is
// at or below target (spec.md §4.5, the Winning PoSt lookback walk:
// "walk parents while tipset.height > lookback; return the first
// tipset whose height <= lookback"). This is the mirror of
// LookbackByHeight, which floors at or above its target instead of at
// or below — the two walks serve different callers and must not be
// conflated.
func (s *Store) WalkToHeightAtMost(ctx context.Context, store interface {
	Get(ctx context.Context, c cid.Cid) ([]byte, error)
}, ts *types.Tipset, target int64) (*types.Tipset, error) {
	cur := ts
	for cur.Height() > target {
		parents := cur.Parents()
		if parents.IsEmpty() {
			return cur, nil
		}
		parent, err := types.Load(ctx, store, parents.Cids())
		if err != nil {
			return nil, err
		}
		cur = parent
	}
	return cur, nil
}
