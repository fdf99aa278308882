package blockstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/beenet-project/storagenode/pkg/block"
	"github.com/beenet-project/storagenode/pkg/cid"
	"github.com/beenet-project/storagenode/pkg/hash"
	"github.com/beenet-project/storagenode/pkg/merkle"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	fileStore, err := OpenFileTreeStore(filepath.Join(dir, "filetree"), 0)
	if err != nil {
		t.Fatalf("OpenFileTreeStore: %v", err)
	}
	t.Cleanup(func() { fileStore.Close() })

	ldbStore, err := OpenLevelDBStore(filepath.Join(dir, "leveldb"), 0)
	if err != nil {
		t.Fatalf("OpenLevelDBStore: %v", err)
	}
	t.Cleanup(func() { ldbStore.Close() })

	return map[string]Store{
		"mem":      NewMemStore(0),
		"filetree": fileStore,
		"leveldb":  ldbStore,
	}
}

func TestPutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			b, err := block.New([]byte("hello"), cid.BlockCodec, hash.SHA256)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if err := store.Put(ctx, b); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := store.Put(ctx, b); err != nil {
				t.Fatalf("second Put: %v", err)
			}

			total, err := store.TotalBlocks(ctx)
			if err != nil {
				t.Fatalf("TotalBlocks: %v", err)
			}
			if total != 1 {
				t.Fatalf("TotalBlocks = %d, want 1", total)
			}

			used, err := store.QuotaUsedBytes(ctx)
			if err != nil {
				t.Fatalf("QuotaUsedBytes: %v", err)
			}
			if used != uint64(b.Size()) {
				t.Fatalf("QuotaUsedBytes = %d, want %d", used, b.Size())
			}
		})
	}
}

func TestDeleteOfAbsentIsOK(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			unknown, err := cid.FromBlock(cid.BlockCodec, hash.SHA256, []byte("never stored"))
			if err != nil {
				t.Fatalf("FromBlock: %v", err)
			}
			if err := store.Delete(ctx, unknown); err != nil {
				t.Fatalf("Delete of absent CID returned error: %v", err)
			}
		})
	}
}

func TestGetNotFound(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			unknown, err := cid.FromBlock(cid.BlockCodec, hash.SHA256, []byte("never stored"))
			if err != nil {
				t.Fatalf("FromBlock: %v", err)
			}
			if _, err := store.Get(ctx, unknown); err == nil {
				t.Fatal("expected NotFound error")
			}
		})
	}
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			b, err := block.New([]byte("round trip payload"), cid.BlockCodec, hash.SHA256)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if err := store.Put(ctx, b); err != nil {
				t.Fatalf("Put: %v", err)
			}

			got, err := store.Get(ctx, b.CID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got.Bytes) != string(b.Bytes) {
				t.Fatalf("Get returned %q, want %q", got.Bytes, b.Bytes)
			}

			has, err := store.Has(ctx, b.CID)
			if err != nil || !has {
				t.Fatalf("Has = %v, %v; want true, nil", has, err)
			}

			if err := store.Delete(ctx, b.CID); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if has, _ := store.Has(ctx, b.CID); has {
				t.Fatal("block still present after Delete")
			}
		})
	}
}

func TestSecondaryIndexByPosition(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			treeCID, err := cid.FromBlock(cid.DatasetRootCodec, hash.SHA256, []byte("tree"))
			if err != nil {
				t.Fatalf("FromBlock: %v", err)
			}
			b, err := block.New([]byte("leaf 0"), cid.BlockCodec, hash.SHA256)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if err := store.Put(ctx, b); err != nil {
				t.Fatalf("Put: %v", err)
			}

			proof := &merkle.Proof{LeafIndex: 0, LeafCount: 1, Codec: hash.SHA256, Siblings: nil}
			if err := store.PutCidAndProof(ctx, treeCID, 0, b.CID, proof); err != nil {
				t.Fatalf("PutCidAndProof: %v", err)
			}

			got, err := store.GetByIndex(ctx, treeCID, 0)
			if err != nil {
				t.Fatalf("GetByIndex: %v", err)
			}
			if !got.CID.Equal(b.CID) {
				t.Fatalf("GetByIndex returned wrong block")
			}

			gotProof, err := store.GetProof(ctx, treeCID, 0)
			if err != nil {
				t.Fatalf("GetProof: %v", err)
			}
			if gotProof.LeafCount != 1 {
				t.Fatalf("GetProof LeafCount = %d, want 1", gotProof.LeafCount)
			}
		})
	}
}

func TestQuotaExceeded(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(4)
	b, err := block.New([]byte("too big"), cid.BlockCodec, hash.SHA256)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.Put(ctx, b); err == nil {
		t.Fatal("expected QuotaExceeded error")
	}
}

func TestListBlocksFiltersByKind(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			regular, err := block.New([]byte("regular"), cid.BlockCodec, hash.SHA256)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			manifestBlock, err := block.New([]byte("manifest bytes"), cid.ManifestCodec, hash.SHA256)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if err := store.Put(ctx, regular); err != nil {
				t.Fatalf("Put regular: %v", err)
			}
			if err := store.Put(ctx, manifestBlock); err != nil {
				t.Fatalf("Put manifest: %v", err)
			}

			ch, err := store.ListBlocks(ctx, KindManifest)
			if err != nil {
				t.Fatalf("ListBlocks: %v", err)
			}
			var got []cid.CID
			for c := range ch {
				got = append(got, c)
			}
			if len(got) != 1 || !got[0].Equal(manifestBlock.CID) {
				t.Fatalf("ListBlocks(KindManifest) = %v, want only the manifest CID", got)
			}
		})
	}
}
