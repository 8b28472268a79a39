// Package ipld provides the content-addressed store (C1 of SPEC_FULL.md):
// an immutable mapping CID -> bytes with a typed CBOR codec layer on top.
//
// Grounded on venus's pkg/repo blockstore wiring and pkg/chain/store.go's
// use of an ARC cache in front of the datastore.
package ipld

import (
	"context"
	"sync"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	badger "github.com/ipfs/go-ds-badger2"
	cbor "github.com/ipfs/go-ipld-cbor"
	logging "github.com/ipfs/go-log/v2"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	cbg "github.com/whyrusleeping/cbor-gen"

	"github.com/filecoin-project/fuhon/pkg/apierrors"
)

var log = logging.Logger("ipld")

// cacheSize bounds the in-memory ARC cache sitting in front of the
// datastore-backed blockstore, the same role venus's lru.ARCCache plays
// in pkg/chain/store.go.
const cacheSize = 8192

// Store is the content-addressed store contract used throughout the core:
// raw get/put, and typed CBOR encode/decode on top (put_cbor/get_cbor of
// SPEC_FULL.md §4.1).
type Store interface {
	// Get fetches the raw bytes stored under c.
	Get(ctx context.Context, c cid.Cid) ([]byte, error)
	// Put stores data and returns the CID derived from hashing it.
	Put(ctx context.Context, data []byte) (cid.Cid, error)
	// GetCbor decodes the canonical-CBOR payload at c into out.
	GetCbor(ctx context.Context, c cid.Cid, out cbg.CBORUnmarshaler) error
	// PutCbor canonical-CBOR encodes v and stores it.
	PutCbor(ctx context.Context, v cbg.CBORMarshaler) (cid.Cid, error)
	// CborStore exposes the underlying cbor.IpldStore for collections
	// (HAMT, AMT) that want to attach a store handle and load lazily.
	CborStore() cbor.IpldStore
}

// BlockStore is a Store backed by an ipfs blockstore (itself backed by a
// go-datastore, e.g. badger2), with an ARC cache in front of repeat reads.
type BlockStore struct {
	bs    blockstore.Blockstore
	cbor  cbor.IpldStore
	cache *lru.ARCCache

	mu sync.Mutex
}

// NewBadgerStore opens (or creates) a badger2-backed blockstore rooted at
// path, mirroring venus's on-disk repo layout.
func NewBadgerStore(path string) (*BlockStore, error) {
	ds, err := badger.NewDatastore(path, &badger.DefaultOptions)
	if err != nil {
		return nil, errors.Wrap(err, "opening badger datastore")
	}
	return NewBlockStore(blockstore.NewBlockstore(ds)), nil
}

// NewMemoryStore builds an in-memory store backed by a map datastore;
// nothing is written to disk.
func NewMemoryStore() *BlockStore {
	return NewBlockStore(blockstore.NewBlockstore(datastore.NewMapDatastore()))
}

// NewBlockStore wraps an already-constructed blockstore.
func NewBlockStore(bs blockstore.Blockstore) *BlockStore {
	cache, err := lru.NewARC(cacheSize)
	if err != nil {
		// cacheSize is a positive compile-time constant; NewARC only
		// fails on a non-positive size.
		panic(err)
	}
	s := &BlockStore{bs: bs, cache: cache}
	s.cbor = cbor.NewCborStore(&blockAdapter{s})
	return s
}

// Get fetches the raw bytes stored under c.
func (s *BlockStore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	if v, ok := s.cache.Get(c); ok {
		return v.([]byte), nil
	}
	blk, err := s.bs.Get(c)
	if err != nil {
		return nil, errors.Wrapf(apierrors.ErrNotFound, "cid %s: %s", c, err)
	}
	data := blk.RawData()
	s.cache.Add(c, data)
	return data, nil
}

// Put stores data and returns the CID derived from hashing it. Put is
// idempotent: storing the same bytes twice yields the same CID and does
// not error.
func (s *BlockStore) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	blk := blocks.NewBlock(data)
	if err := s.bs.Put(blk); err != nil {
		return cid.Undef, errors.Wrap(err, "writing block")
	}
	s.cache.Add(blk.Cid(), data)
	return blk.Cid(), nil
}

// GetCbor decodes the canonical-CBOR payload at c into out.
func (s *BlockStore) GetCbor(ctx context.Context, c cid.Cid, out cbg.CBORUnmarshaler) error {
	if err := s.cbor.Get(ctx, c, out); err != nil {
		return errors.Wrapf(apierrors.ErrDecode, "cid %s: %s", c, err)
	}
	return nil
}

// PutCbor canonical-CBOR encodes v and stores it.
func (s *BlockStore) PutCbor(ctx context.Context, v cbg.CBORMarshaler) (cid.Cid, error) {
	return s.cbor.Put(ctx, v)
}

// CborStore exposes the underlying cbor.IpldStore for collections that
// want to attach a store handle and load lazily (HAMT, AMT).
func (s *BlockStore) CborStore() cbor.IpldStore {
	return s.cbor
}

// blockAdapter satisfies the minimal blockstore contract cbor.NewCborStore
// needs, routed back through the cache.
type blockAdapter struct{ *BlockStore }

func (a *blockAdapter) Get(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	data, err := a.BlockStore.Get(ctx, c)
	if err != nil {
		return nil, err
	}
	return blocks.NewBlockWithCid(data, c)
}

func (a *blockAdapter) Put(ctx context.Context, b blocks.Block) error {
	_, err := a.BlockStore.Put(ctx, b.RawData())
	return err
}
