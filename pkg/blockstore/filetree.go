package blockstore

import (
	"context"
	"encoding/base32"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/beenet-project/storagenode/pkg/block"
	"github.com/beenet-project/storagenode/pkg/cid"
	"github.com/beenet-project/storagenode/pkg/errs"
	"github.com/beenet-project/storagenode/pkg/merkle"
)

// FileTreeStore persists each block as a file under a sharded directory
// tree, and keeps its secondary index/quota bookkeeping in a single metadata
// file, rewritten atomically on every mutation. Grounded on
// pkg/identity.SaveToFile/LoadFromFile's pattern of os.MkdirAll(0700) +
// os.WriteFile(0600) + encoding/json for small durable state.
type FileTreeStore struct {
	root     string
	metaPath string
	quotaMax uint64

	mu    sync.Mutex
	meta  fileTreeMeta
}

type fileTreeMeta struct {
	Used    uint64                    `json:"used"`
	Index   map[string]fileIndexEntry `json:"index"`
	Expiry  map[string]int64          `json:"expiry"`
	Present map[string]bool           `json:"present"`
	IsManifest map[string]bool        `json:"isManifest"`
}

type fileIndexEntry struct {
	CID   string `json:"cid"`
	Proof []byte `json:"proof"`
}

var pathEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// OpenFileTreeStore opens (creating if absent) a file-tree block store
// rooted at dir. The directory is created with owner-only permissions per
// spec §6; an existing directory with looser permissions aborts.
func OpenFileTreeStore(dir string, quotaMax uint64) (*FileTreeStore, error) {
	if info, err := os.Stat(dir); err == nil {
		if info.Mode().Perm()&0077 != 0 {
			return nil, errs.New(errs.IoFailure, "blockstore: data directory has insecure permissions")
		}
	} else if os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, errs.Wrap(errs.IoFailure, "blockstore: create data directory", err)
		}
	} else {
		return nil, errs.Wrap(errs.IoFailure, "blockstore: stat data directory", err)
	}

	s := &FileTreeStore{
		root:     dir,
		metaPath: filepath.Join(dir, "meta.json"),
		quotaMax: quotaMax,
		meta: fileTreeMeta{
			Index:      make(map[string]fileIndexEntry),
			Expiry:     make(map[string]int64),
			Present:    make(map[string]bool),
			IsManifest: make(map[string]bool),
		},
	}

	if data, err := os.ReadFile(s.metaPath); err == nil {
		if err := json.Unmarshal(data, &s.meta); err != nil {
			return nil, errs.Wrap(errs.IoFailure, "blockstore: decode metadata", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, errs.Wrap(errs.IoFailure, "blockstore: read metadata", err)
	}

	return s, nil
}

func (s *FileTreeStore) blockPath(c cid.CID) string {
	name := pathEncoding.EncodeToString(c.Bytes())
	shard := name
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(s.root, "blocks", shard, name+".blk")
}

// saveMeta must be called with s.mu held.
func (s *FileTreeStore) saveMeta() error {
	data, err := json.Marshal(&s.meta)
	if err != nil {
		return errs.Wrap(errs.Internal, "blockstore: marshal metadata", err)
	}
	tmp := s.metaPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return errs.Wrap(errs.IoFailure, "blockstore: write metadata", err)
	}
	if err := os.Rename(tmp, s.metaPath); err != nil {
		return errs.Wrap(errs.IoFailure, "blockstore: rename metadata", err)
	}
	return nil
}

func (s *FileTreeStore) Put(ctx context.Context, b block.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cidKey(b.CID)
	if s.meta.Present[key] {
		return nil
	}
	if s.quotaMax > 0 && s.meta.Used+uint64(b.Size()) > s.quotaMax {
		return errs.New(errs.QuotaExceeded, "blockstore: quota would be exceeded")
	}

	path := s.blockPath(b.CID)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errs.Wrap(errs.IoFailure, "blockstore: create shard directory", err)
	}
	if err := os.WriteFile(path, b.Bytes, 0600); err != nil {
		return errs.Wrap(errs.IoFailure, "blockstore: write block", err)
	}

	s.meta.Present[key] = true
	s.meta.Used += uint64(b.Size())
	if b.CID.IsManifest() {
		s.meta.IsManifest[key] = true
	}
	return s.saveMeta()
}

func (s *FileTreeStore) Get(ctx context.Context, c cid.CID) (block.Block, error) {
	s.mu.Lock()
	present := s.meta.Present[cidKey(c)]
	s.mu.Unlock()
	if !present {
		return block.Block{}, errs.New(errs.NotFound, "blockstore: block not found")
	}

	data, err := os.ReadFile(s.blockPath(c))
	if err != nil {
		if os.IsNotExist(err) {
			return block.Block{}, errs.New(errs.NotFound, "blockstore: block not found")
		}
		return block.Block{}, errs.Wrap(errs.IoFailure, "blockstore: read block", err)
	}
	return block.NewTrusted(c, data), nil
}

func (s *FileTreeStore) GetByIndex(ctx context.Context, treeCID cid.CID, index int) (block.Block, error) {
	s.mu.Lock()
	entry, ok := s.meta.Index[indexKey(treeCID, index)]
	s.mu.Unlock()
	if !ok {
		return block.Block{}, errs.New(errs.NotFound, "blockstore: no indexed block at this position")
	}
	c, err := cid.Parse(entry.CID)
	if err != nil {
		return block.Block{}, errs.Wrap(errs.Internal, "blockstore: decode indexed cid", err)
	}
	return s.Get(ctx, c)
}

func (s *FileTreeStore) IndexedCID(ctx context.Context, treeCID cid.CID, index int) (cid.CID, error) {
	s.mu.Lock()
	entry, ok := s.meta.Index[indexKey(treeCID, index)]
	s.mu.Unlock()
	if !ok {
		return cid.CID{}, errs.New(errs.NotFound, "blockstore: no indexed cid at this position")
	}
	return cid.Parse(entry.CID)
}

func (s *FileTreeStore) GetProof(ctx context.Context, treeCID cid.CID, index int) (*merkle.Proof, error) {
	s.mu.Lock()
	entry, ok := s.meta.Index[indexKey(treeCID, index)]
	s.mu.Unlock()
	if !ok {
		return nil, errs.New(errs.NotFound, "blockstore: no proof at this position")
	}
	return merkle.DecodeProof(entry.Proof)
}

func (s *FileTreeStore) Has(ctx context.Context, c cid.CID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.Present[cidKey(c)], nil
}

func (s *FileTreeStore) Delete(ctx context.Context, c cid.CID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cidKey(c)
	if !s.meta.Present[key] {
		return nil
	}

	path := s.blockPath(c)
	size, err := fileSize(path)
	if err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.IoFailure, "blockstore: stat block before delete", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.IoFailure, "blockstore: remove block", err)
	}

	delete(s.meta.Present, key)
	delete(s.meta.IsManifest, key)
	if s.meta.Used >= uint64(size) {
		s.meta.Used -= uint64(size)
	}
	return s.saveMeta()
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *FileTreeStore) DeleteByIndex(ctx context.Context, treeCID cid.CID, index int) error {
	s.mu.Lock()
	key := indexKey(treeCID, index)
	entry, ok := s.meta.Index[key]
	if ok {
		delete(s.meta.Index, key)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	c, err := cid.Parse(entry.CID)
	if err != nil {
		return errs.Wrap(errs.Internal, "blockstore: decode indexed cid", err)
	}
	return s.Delete(ctx, c)
}

func (s *FileTreeStore) ListBlocks(ctx context.Context, kind Kind) (<-chan cid.CID, error) {
	s.mu.Lock()
	var snapshot []string
	if kind == KindManifest {
		for k := range s.meta.IsManifest {
			snapshot = append(snapshot, k)
		}
	} else {
		for k := range s.meta.Present {
			snapshot = append(snapshot, k)
		}
	}
	s.mu.Unlock()

	out := make(chan cid.CID, len(snapshot))
	for _, k := range snapshot {
		c, err := cid.Parse(k)
		if err != nil {
			continue
		}
		out <- c
	}
	close(out)
	return out, nil
}

func (s *FileTreeStore) PutCidAndProof(ctx context.Context, treeCID cid.CID, index int, c cid.CID, proof *merkle.Proof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta.Index[indexKey(treeCID, index)] = fileIndexEntry{CID: c.String(), Proof: merkle.EncodeProof(proof)}
	return s.saveMeta()
}

func (s *FileTreeStore) EnsureExpiry(ctx context.Context, treeCID cid.CID, index int, expiryUnixMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta.Expiry[indexKey(treeCID, index)] = expiryUnixMillis
	return s.saveMeta()
}

func (s *FileTreeStore) TotalBlocks(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.meta.Present)), nil
}

func (s *FileTreeStore) QuotaMaxBytes() uint64 {
	return s.quotaMax
}

func (s *FileTreeStore) QuotaUsedBytes(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.Used, nil
}

func (s *FileTreeStore) QuotaReservedBytes(ctx context.Context) uint64 {
	return 0
}

func (s *FileTreeStore) Close() error {
	return nil
}
