// Package sync implements SyncSubmitBlock (spec.md §4.6): validate a
// submitted block's message-meta consistency and hand it to the chain
// store.
//
// Grounded on venus's app/submodule/syncer (SyncerAPI.SyncSubmitBlock).
package sync

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/filecoin-project/fuhon/pkg/apierrors"
	"github.com/filecoin-project/fuhon/pkg/chainstore"
	"github.com/filecoin-project/fuhon/pkg/ipld"
	"github.com/filecoin-project/fuhon/pkg/types"
)

// SubmittedBlock is a header plus the messages it claims to reference,
// as received off the wire before its MsgMeta record has been
// reconstructed and stored.
type SubmittedBlock struct {
	Header       *types.BlockHeader
	BLSMessages  []*types.UnsignedMessage
	SECPMessages []*types.SignedMessage
}

// SyncSubmodule composes the collaborators SyncSubmitBlock needs.
type SyncSubmodule struct {
	Store ipld.Store
	Chain *chainstore.Store
}

// SyncSubmitBlock reconstructs the block's MsgMeta from its referenced
// messages, verifies it matches the header's declared messages CID,
// and hands the header to the chain store (spec.md §4.6).
func (s *SyncSubmodule) SyncSubmitBlock(ctx context.Context, blk *SubmittedBlock) error {
	blsCids := make([]cid.Cid, len(blk.BLSMessages))
	for i, m := range blk.BLSMessages {
		c, err := s.Store.PutCbor(ctx, m)
		if err != nil {
			return err
		}
		blsCids[i] = c
	}
	secpCids := make([]cid.Cid, len(blk.SECPMessages))
	for i, m := range blk.SECPMessages {
		c, err := s.Store.PutCbor(ctx, m)
		if err != nil {
			return err
		}
		secpCids[i] = c
	}

	meta := &types.MsgMeta{BLSMessages: blsCids, SECPMessages: secpCids}
	metaCid, err := s.Store.PutCbor(ctx, meta)
	if err != nil {
		return err
	}
	if !metaCid.Equals(blk.Header.Messages) {
		return fmt.Errorf("%w: block declares messages %s but reconstructed meta hashes to %s",
			apierrors.ErrTodo, blk.Header.Messages, metaCid)
	}

	if _, err := s.Store.PutCbor(ctx, blk.Header); err != nil {
		return err
	}
	ts, err := types.Create([]*types.BlockHeader{blk.Header})
	if err != nil {
		return err
	}
	s.Chain.PutTipset(ts)
	return nil
}
