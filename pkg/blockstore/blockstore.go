// Package blockstore defines the polymorphic block storage capability
// described in spec §4.4/§9 ("Dynamic dispatch over block stores"): a single
// interface implemented by at least a file-tree backend and a LevelDB
// backend, modeled as a capability interface rather than an inheritance
// hierarchy, grounded on the teacher's preference for small interfaces over
// type hierarchies throughout pkg/transport and pkg/security.
package blockstore

import (
	"context"

	"github.com/beenet-project/storagenode/pkg/block"
	"github.com/beenet-project/storagenode/pkg/cid"
	"github.com/beenet-project/storagenode/pkg/merkle"
)

// Kind selects which class of CIDs ListBlocks enumerates.
type Kind int

const (
	KindManifest Kind = iota
	KindAll
)

// Store is the capability every block storage backend implements. All
// operations may suspend on I/O, per spec §4.4.
type Store interface {
	Put(ctx context.Context, b block.Block) error
	Get(ctx context.Context, c cid.CID) (block.Block, error)
	GetByIndex(ctx context.Context, treeCID cid.CID, index int) (block.Block, error)
	GetProof(ctx context.Context, treeCID cid.CID, index int) (*merkle.Proof, error)
	// IndexedCID returns the CID stored at (treeCID, index) without
	// requiring the block bytes to be present locally, so a caller (e.g.
	// fetchBatched) can ask the network for exactly that CID on a local
	// miss.
	IndexedCID(ctx context.Context, treeCID cid.CID, index int) (cid.CID, error)
	Has(ctx context.Context, c cid.CID) (bool, error)
	Delete(ctx context.Context, c cid.CID) error
	DeleteByIndex(ctx context.Context, treeCID cid.CID, index int) error
	ListBlocks(ctx context.Context, kind Kind) (<-chan cid.CID, error)

	// PutCidAndProof records the (treeCID, index) -> (cid, proof) secondary
	// index used by GetByIndex/DeleteByIndex, per spec §4.4.
	PutCidAndProof(ctx context.Context, treeCID cid.CID, index int, c cid.CID, proof *merkle.Proof) error

	// EnsureExpiry updates TTL metadata for a block addressed by
	// (treeCID, index); expiryUnixMillis is the new expiry time.
	EnsureExpiry(ctx context.Context, treeCID cid.CID, index int, expiryUnixMillis int64) error

	TotalBlocks(ctx context.Context) (uint64, error)
	QuotaMaxBytes() uint64
	QuotaUsedBytes(ctx context.Context) (uint64, error)
	QuotaReservedBytes(ctx context.Context) uint64

	Close() error
}
