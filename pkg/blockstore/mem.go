package blockstore

import (
	"context"
	"sync"

	"github.com/beenet-project/storagenode/pkg/block"
	"github.com/beenet-project/storagenode/pkg/cid"
	"github.com/beenet-project/storagenode/pkg/errs"
	"github.com/beenet-project/storagenode/pkg/merkle"
)

type indexEntry struct {
	cid   cid.CID
	proof *merkle.Proof
}

// MemStore is an in-memory Store, used for tests and as the reference
// implementation the on-disk backends are checked against. It does not
// survive process restarts.
type MemStore struct {
	mu       sync.Mutex
	blocks   map[string]block.Block
	index    map[string]indexEntry
	expiry   map[string]int64
	quotaMax uint64
	used     uint64
}

// NewMemStore creates an empty MemStore with the given quota, in bytes. A
// quotaMax of 0 means unlimited.
func NewMemStore(quotaMax uint64) *MemStore {
	return &MemStore{
		blocks:   make(map[string]block.Block),
		index:    make(map[string]indexEntry),
		expiry:   make(map[string]int64),
		quotaMax: quotaMax,
	}
}

func cidKey(c cid.CID) string {
	return c.String()
}

func indexKey(treeCID cid.CID, index int) string {
	return treeCID.String() + "#" + itoa(index)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func (s *MemStore) Put(ctx context.Context, b block.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cidKey(b.CID)
	if _, exists := s.blocks[key]; exists {
		return nil // idempotent, spec §8 property 9
	}
	if s.quotaMax > 0 && s.used+uint64(b.Size()) > s.quotaMax {
		return errs.New(errs.QuotaExceeded, "blockstore: quota would be exceeded")
	}
	s.blocks[key] = b
	s.used += uint64(b.Size())
	return nil
}

func (s *MemStore) Get(ctx context.Context, c cid.CID) (block.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blocks[cidKey(c)]
	if !ok {
		return block.Block{}, errs.New(errs.NotFound, "blockstore: block not found")
	}
	return b, nil
}

func (s *MemStore) GetByIndex(ctx context.Context, treeCID cid.CID, index int) (block.Block, error) {
	s.mu.Lock()
	entry, ok := s.index[indexKey(treeCID, index)]
	s.mu.Unlock()
	if !ok {
		return block.Block{}, errs.New(errs.NotFound, "blockstore: no indexed block at this position")
	}
	return s.Get(ctx, entry.cid)
}

func (s *MemStore) IndexedCID(ctx context.Context, treeCID cid.CID, index int) (cid.CID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.index[indexKey(treeCID, index)]
	if !ok {
		return cid.CID{}, errs.New(errs.NotFound, "blockstore: no indexed cid at this position")
	}
	return entry.cid, nil
}

func (s *MemStore) GetProof(ctx context.Context, treeCID cid.CID, index int) (*merkle.Proof, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.index[indexKey(treeCID, index)]
	if !ok {
		return nil, errs.New(errs.NotFound, "blockstore: no proof at this position")
	}
	return entry.proof, nil
}

func (s *MemStore) Has(ctx context.Context, c cid.CID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blocks[cidKey(c)]
	return ok, nil
}

func (s *MemStore) Delete(ctx context.Context, c cid.CID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cidKey(c)
	b, ok := s.blocks[key]
	if !ok {
		return nil // delete-of-absent is OK, spec §8 property 10
	}
	delete(s.blocks, key)
	s.used -= uint64(b.Size())
	return nil
}

func (s *MemStore) DeleteByIndex(ctx context.Context, treeCID cid.CID, index int) error {
	s.mu.Lock()
	key := indexKey(treeCID, index)
	entry, ok := s.index[key]
	if ok {
		delete(s.index, key)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Delete(ctx, entry.cid)
}

func (s *MemStore) ListBlocks(ctx context.Context, kind Kind) (<-chan cid.CID, error) {
	s.mu.Lock()
	snapshot := make([]cid.CID, 0, len(s.blocks))
	for _, b := range s.blocks {
		if kind == KindManifest && !b.CID.IsManifest() {
			continue
		}
		snapshot = append(snapshot, b.CID)
	}
	s.mu.Unlock()

	out := make(chan cid.CID, len(snapshot))
	for _, c := range snapshot {
		out <- c
	}
	close(out)
	return out, nil
}

func (s *MemStore) PutCidAndProof(ctx context.Context, treeCID cid.CID, index int, c cid.CID, proof *merkle.Proof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[indexKey(treeCID, index)] = indexEntry{cid: c, proof: proof}
	return nil
}

func (s *MemStore) EnsureExpiry(ctx context.Context, treeCID cid.CID, index int, expiryUnixMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiry[indexKey(treeCID, index)] = expiryUnixMillis
	return nil
}

func (s *MemStore) TotalBlocks(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.blocks)), nil
}

func (s *MemStore) QuotaMaxBytes() uint64 {
	return s.quotaMax
}

func (s *MemStore) QuotaUsedBytes(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used, nil
}

func (s *MemStore) QuotaReservedBytes(ctx context.Context) uint64 {
	return 0
}

func (s *MemStore) Close() error {
	return nil
}
