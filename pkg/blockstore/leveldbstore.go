package blockstore

import (
	"context"
	"encoding/binary"

	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	ldbutil "github.com/syndtr/goleveldb/leveldb/util"

	"github.com/beenet-project/storagenode/pkg/block"
	"github.com/beenet-project/storagenode/pkg/cid"
	"github.com/beenet-project/storagenode/pkg/errs"
	"github.com/beenet-project/storagenode/pkg/merkle"
)

// key space prefixes within the LevelDB backend.
const (
	prefixBlock    = "b:"
	prefixManifest = "m:"
	prefixIndex    = "i:"
	prefixExpiry   = "e:"
	usedBytesKey   = "used"
)

// LevelDBStore is a block store backed by goleveldb, the embedded key-value
// store ethereum-go-ethereum uses for its chain database. Unlike
// FileTreeStore's one-file-per-block layout, LevelDBStore keeps everything
// in LevelDB's own LSM tree, trading directory-entry overhead for a single
// compacted store.
type LevelDBStore struct {
	db       *leveldb.DB
	quotaMax uint64
}

// OpenLevelDBStore opens (creating if absent) a LevelDB-backed block store
// at dir.
func OpenLevelDBStore(dir string, quotaMax uint64) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, errs.Wrap(errs.IoFailure, "blockstore: open leveldb", err)
	}
	return &LevelDBStore{db: db, quotaMax: quotaMax}, nil
}

func (s *LevelDBStore) usedBytes() (uint64, error) {
	v, err := s.db.Get([]byte(usedBytesKey), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return 0, nil
		}
		return 0, errs.Wrap(errs.IoFailure, "blockstore: read used-bytes counter", err)
	}
	return binary.BigEndian.Uint64(v), nil
}

func (s *LevelDBStore) Put(ctx context.Context, b block.Block) error {
	key := []byte(prefixBlock + cidKey(b.CID))
	if _, err := s.db.Get(key, nil); err == nil {
		return nil // idempotent
	} else if !errors.Is(err, leveldb.ErrNotFound) {
		return errs.Wrap(errs.IoFailure, "blockstore: check existing block", err)
	}

	used, err := s.usedBytes()
	if err != nil {
		return err
	}
	if s.quotaMax > 0 && used+uint64(b.Size()) > s.quotaMax {
		return errs.New(errs.QuotaExceeded, "blockstore: quota would be exceeded")
	}

	batch := new(leveldb.Batch)
	batch.Put(key, b.Bytes)
	if b.CID.IsManifest() {
		batch.Put([]byte(prefixManifest+cidKey(b.CID)), []byte{1})
	}
	var usedBuf [8]byte
	binary.BigEndian.PutUint64(usedBuf[:], used+uint64(b.Size()))
	batch.Put([]byte(usedBytesKey), usedBuf[:])

	if err := s.db.Write(batch, nil); err != nil {
		return errs.Wrap(errs.IoFailure, "blockstore: write block batch", err)
	}
	return nil
}

func (s *LevelDBStore) Get(ctx context.Context, c cid.CID) (block.Block, error) {
	data, err := s.db.Get([]byte(prefixBlock+cidKey(c)), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return block.Block{}, errs.New(errs.NotFound, "blockstore: block not found")
		}
		return block.Block{}, errs.Wrap(errs.IoFailure, "blockstore: read block", err)
	}
	return block.NewTrusted(c, append([]byte(nil), data...)), nil
}

func (s *LevelDBStore) GetByIndex(ctx context.Context, treeCID cid.CID, index int) (block.Block, error) {
	raw, err := s.db.Get([]byte(prefixIndex+indexKey(treeCID, index)), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return block.Block{}, errs.New(errs.NotFound, "blockstore: no indexed block at this position")
		}
		return block.Block{}, errs.Wrap(errs.IoFailure, "blockstore: read index entry", err)
	}
	entry, err := decodeIndexRecord(raw)
	if err != nil {
		return block.Block{}, err
	}
	return s.Get(ctx, entry.cid)
}

func (s *LevelDBStore) IndexedCID(ctx context.Context, treeCID cid.CID, index int) (cid.CID, error) {
	raw, err := s.db.Get([]byte(prefixIndex+indexKey(treeCID, index)), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return cid.CID{}, errs.New(errs.NotFound, "blockstore: no indexed cid at this position")
		}
		return cid.CID{}, errs.Wrap(errs.IoFailure, "blockstore: read index entry", err)
	}
	entry, err := decodeIndexRecord(raw)
	if err != nil {
		return cid.CID{}, err
	}
	return entry.cid, nil
}

func (s *LevelDBStore) GetProof(ctx context.Context, treeCID cid.CID, index int) (*merkle.Proof, error) {
	raw, err := s.db.Get([]byte(prefixIndex+indexKey(treeCID, index)), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, errs.New(errs.NotFound, "blockstore: no proof at this position")
		}
		return nil, errs.Wrap(errs.IoFailure, "blockstore: read index entry", err)
	}
	entry, err := decodeIndexRecord(raw)
	if err != nil {
		return nil, err
	}
	return entry.proof, nil
}

func (s *LevelDBStore) Has(ctx context.Context, c cid.CID) (bool, error) {
	ok, err := s.db.Has([]byte(prefixBlock+cidKey(c)), nil)
	if err != nil {
		return false, errs.Wrap(errs.IoFailure, "blockstore: has block", err)
	}
	return ok, nil
}

func (s *LevelDBStore) Delete(ctx context.Context, c cid.CID) error {
	key := []byte(prefixBlock + cidKey(c))
	data, err := s.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil
		}
		return errs.Wrap(errs.IoFailure, "blockstore: read block before delete", err)
	}

	used, err := s.usedBytes()
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Delete(key)
	batch.Delete([]byte(prefixManifest + cidKey(c)))
	newUsed := used
	if newUsed >= uint64(len(data)) {
		newUsed -= uint64(len(data))
	}
	var usedBuf [8]byte
	binary.BigEndian.PutUint64(usedBuf[:], newUsed)
	batch.Put([]byte(usedBytesKey), usedBuf[:])

	if err := s.db.Write(batch, nil); err != nil {
		return errs.Wrap(errs.IoFailure, "blockstore: delete block batch", err)
	}
	return nil
}

func (s *LevelDBStore) DeleteByIndex(ctx context.Context, treeCID cid.CID, index int) error {
	key := []byte(prefixIndex + indexKey(treeCID, index))
	raw, err := s.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil
		}
		return errs.Wrap(errs.IoFailure, "blockstore: read index entry before delete", err)
	}
	entry, err := decodeIndexRecord(raw)
	if err != nil {
		return err
	}
	if err := s.db.Delete(key, nil); err != nil {
		return errs.Wrap(errs.IoFailure, "blockstore: delete index entry", err)
	}
	return s.Delete(ctx, entry.cid)
}

func (s *LevelDBStore) ListBlocks(ctx context.Context, kind Kind) (<-chan cid.CID, error) {
	prefix := prefixBlock
	if kind == KindManifest {
		prefix = prefixManifest
	}

	var snapshot []string
	iter := s.db.NewIterator(ldbutil.BytesPrefix([]byte(prefix)), nil)
	for iter.Next() {
		snapshot = append(snapshot, string(iter.Key()[len(prefix):]))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, errs.Wrap(errs.IoFailure, "blockstore: iterate blocks", err)
	}

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

func encodeIndexRecord(c cid.CID, proof *merkle.Proof) []byte {
	cidBytes := []byte(c.String())
	proofBytes := merkle.EncodeProof(proof)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(cidBytes)))
	out := append([]byte(nil), lenBuf[:]...)
	out = append(out, cidBytes...)
	out = append(out, proofBytes...)
	return out
}

type decodedIndexRecord struct {
	cid   cid.CID
	proof *merkle.Proof
}

func decodeIndexRecord(data []byte) (decodedIndexRecord, error) {
	if len(data) < 4 {
		return decodedIndexRecord{}, errs.New(errs.Internal, "blockstore: truncated index record")
	}
	n := binary.BigEndian.Uint32(data[0:4])
	data = data[4:]
	if uint32(len(data)) < n {
		return decodedIndexRecord{}, errs.New(errs.Internal, "blockstore: truncated index cid")
	}
	c, err := cid.Parse(string(data[:n]))
	if err != nil {
		return decodedIndexRecord{}, errs.Wrap(errs.Internal, "blockstore: decode index cid", err)
	}
	proof, err := merkle.DecodeProof(data[n:])
	if err != nil {
		return decodedIndexRecord{}, err
	}
	return decodedIndexRecord{cid: c, proof: proof}, nil
}

func (s *LevelDBStore) PutCidAndProof(ctx context.Context, treeCID cid.CID, index int, c cid.CID, proof *merkle.Proof) error {
	key := []byte(prefixIndex + indexKey(treeCID, index))
	if err := s.db.Put(key, encodeIndexRecord(c, proof), nil); err != nil {
		return errs.Wrap(errs.IoFailure, "blockstore: write index entry", err)
	}
	return nil
}

func (s *LevelDBStore) EnsureExpiry(ctx context.Context, treeCID cid.CID, index int, expiryUnixMillis int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(expiryUnixMillis))
	key := []byte(prefixExpiry + indexKey(treeCID, index))
	if err := s.db.Put(key, buf[:], nil); err != nil {
		return errs.Wrap(errs.IoFailure, "blockstore: write expiry", err)
	}
	return nil
}

func (s *LevelDBStore) TotalBlocks(ctx context.Context) (uint64, error) {
	var total uint64
	iter := s.db.NewIterator(ldbutil.BytesPrefix([]byte(prefixBlock)), nil)
	for iter.Next() {
		total++
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return 0, errs.Wrap(errs.IoFailure, "blockstore: count blocks", err)
	}
	return total, nil
}

func (s *LevelDBStore) QuotaMaxBytes() uint64 {
	return s.quotaMax
}

func (s *LevelDBStore) QuotaUsedBytes(ctx context.Context) (uint64, error) {
	return s.usedBytes()
}

func (s *LevelDBStore) QuotaReservedBytes(ctx context.Context) uint64 {
	return 0
}

func (s *LevelDBStore) Close() error {
	if err := s.db.Close(); err != nil {
		return errs.Wrap(errs.IoFailure, "blockstore: close leveldb", err)
	}
	return nil
}
