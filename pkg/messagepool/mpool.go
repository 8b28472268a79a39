// Package messagepool is the pending-message collaborator named in
// spec.md §1: it tracks unconfirmed messages keyed by sender, assigns
// monotonically increasing nonces, and exposes the pending set the
// mining component packs into new blocks.
//
// Grounded on venus's pkg/messagepool (MessagePool.Add / nextNonce).
package messagepool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/filecoin-project/go-address"

	"github.com/filecoin-project/fuhon/pkg/apierrors"
	"github.com/filecoin-project/fuhon/pkg/chanpipe"
	"github.com/filecoin-project/fuhon/pkg/types"
)

// NonceSource resolves the next expected on-chain nonce for an actor,
// typically backed by statemanager.Manager + pkg/state's account lookup
// over the current head's state tree.
type NonceSource func(ctx context.Context, actor address.Address) (uint64, error)

// Pool holds signed messages awaiting inclusion in a block, one queue
// per sender address sorted by nonce (spec.md §1, "message-pool
// interaction").
type Pool struct {
	mu      sync.Mutex
	bySender map[address.Address]map[uint64]*types.SignedMessage
	nonce   NonceSource
	subs    []*chanpipe.Channel[*types.SignedMessage]
}

// New builds an empty Pool. nonce supplies the actor's current on-chain
// nonce so Add can compute the next usable one.
func New(nonce NonceSource) *Pool {
	return &Pool{
		bySender: make(map[address.Address]map[uint64]*types.SignedMessage),
		nonce:    nonce,
	}
}

// NextNonce returns the nonce the next message from actor should use:
// one past the highest nonce already queued for actor, or the on-chain
// nonce if the queue is empty (spec.md §8, invariant 6: nonces strictly
// increase per sender).
func (p *Pool) NextNonce(ctx context.Context, actor address.Address) (uint64, error) {
	base, err := p.nonce(ctx, actor)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.bySender[actor]
	if !ok || len(q) == 0 {
		return base, nil
	}
	max := base
	for n := range q {
		if n+1 > max {
			max = n + 1
		}
	}
	return max, nil
}

// Add enqueues a fully-signed message. It rejects a message whose nonce
// is already occupied by any pending message from the same sender
// (an identical resubmission included), preventing silent overwrite of
// a queued message (spec.md §8,
// scenario S7).
func (p *Pool) Add(ctx context.Context, sm *types.SignedMessage) error {
	from := sm.Message.From
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.bySender[from]
	if !ok {
		q = make(map[uint64]*types.SignedMessage)
		p.bySender[from] = q
	}
	if existing, ok := q[sm.Message.Nonce]; ok && existing.Message.Nonce == sm.Message.Nonce {
		return fmt.Errorf("%w: nonce %d already pending for %s", apierrors.ErrInvalidArgument, sm.Message.Nonce, from)
	}
	q[sm.Message.Nonce] = sm

	p.notify(sm)
	return nil
}

// Pending returns every queued message across all senders, ordered by
// sender then nonce for determinism.
func (p *Pool) Pending() []*types.SignedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	senders := make([]address.Address, 0, len(p.bySender))
	for a := range p.bySender {
		senders = append(senders, a)
	}
	sort.Slice(senders, func(i, j int) bool { return senders[i].String() < senders[j].String() })

	var out []*types.SignedMessage
	for _, a := range senders {
		q := p.bySender[a]
		nonces := make([]uint64, 0, len(q))
		for n := range q {
			nonces = append(nonces, n)
		}
		sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
		for _, n := range nonces {
			out = append(out, q[n])
		}
	}
	return out
}

// Remove drops sender's message at nonce, called once it has been
// included on-chain.
func (p *Pool) Remove(sender address.Address, nonce uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if q, ok := p.bySender[sender]; ok {
		delete(q, nonce)
	}
}

// Sub subscribes to newly-added messages (MpoolSub of spec.md §4.6).
func (p *Pool) Sub() *chanpipe.Channel[*types.SignedMessage] {
	ch := chanpipe.New[*types.SignedMessage](64)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()
	return ch
}

func (p *Pool) notify(sm *types.SignedMessage) {
	live := p.subs[:0]
	for _, ch := range p.subs {
		if ch.Closed() {
			continue
		}
		if ch.Write(sm) {
			live = append(live, ch)
		}
	}
	p.subs = live
}
