// Package node implements the storage node engine: the single-threaded
// cooperative orchestrator tying together chunking, block storage, and
// Merkle tree construction into store/retrieve/delete operations, per spec
// §4.6/§5. Grounded on the teacher's pattern (seen in pkg/control) of a
// thin engine type holding handles to its collaborators, constructed once
// and passed explicit contexts on every call rather than holding global
// state.
package node

import (
	"context"
	"io"
	"math"
	"runtime"
	"time"

	"github.com/beenet-project/storagenode/pkg/block"
	"github.com/beenet-project/storagenode/pkg/blockstore"
	"github.com/beenet-project/storagenode/pkg/chunker"
	"github.com/beenet-project/storagenode/pkg/cid"
	"github.com/beenet-project/storagenode/pkg/constants"
	"github.com/beenet-project/storagenode/pkg/errs"
	"github.com/beenet-project/storagenode/pkg/hash"
	"github.com/beenet-project/storagenode/pkg/logx"
	"github.com/beenet-project/storagenode/pkg/manifest"
	"github.com/beenet-project/storagenode/pkg/merkle"
)

// BlockFetcher reaches into the P2P network for a block this node does not
// hold locally. nil means the engine is local-only.
type BlockFetcher interface {
	FetchBlock(ctx context.Context, c cid.CID) (block.Block, error)
}

// Engine is the storage node's core: it owns a handle to the block store and
// (optionally) a network fetcher, per spec §9's one-directional-handle
// design for the engine/block-store/network triangle.
type Engine struct {
	store     blockstore.Store
	fetcher   BlockFetcher
	log       *logx.Logger
	hashCodec hash.Codec
	pool      *merkle.WorkerPool
}

// Options configures an Engine.
type Options struct {
	HashCodec hash.Codec // defaults to hash.SHA256
	Fetcher   BlockFetcher
	Logger    *logx.Logger
	Pool      *merkle.WorkerPool // defaults to a pool sized per constants.MaxWorkerPoolSize
}

// New constructs an Engine over store.
func New(store blockstore.Store, opts Options) *Engine {
	if opts.HashCodec == 0 {
		opts.HashCodec = hash.SHA256
	}
	if opts.Logger == nil {
		opts.Logger = logx.New(logx.Info)
	}
	if opts.Pool == nil {
		opts.Pool = merkle.NewWorkerPool(merkle.DefaultPoolSize())
	}
	return &Engine{
		store:     store,
		fetcher:   opts.Fetcher,
		log:       opts.Logger,
		hashCodec: opts.HashCodec,
		pool:      opts.Pool,
	}
}

// OnBlockStored is invoked with a chunk's bytes as soon as it is written
// during Store.
type OnBlockStored func(chunkBytes []byte)

// Store chunks stream into blockSize pieces, writes each as a block,
// builds a Merkle tree over their CIDs, and returns the resulting manifest
// CID, per spec §4.6.
func (e *Engine) Store(ctx context.Context, stream io.ReadCloser, filename, mimetype string, blockSize int, onBlockStored OnBlockStored) (cid.CID, error) {
	defer stream.Close()

	ck, err := chunker.New(stream, blockSize)
	if err != nil {
		return cid.CID{}, err
	}

	var leafHashes []hash.Hash
	var leafCIDs []cid.CID

	for {
		chunk, err := ck.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return cid.CID{}, err
		}

		c, err := cid.FromBlock(cid.BlockCodec, e.hashCodec, chunk)
		if err != nil {
			return cid.CID{}, errs.Wrap(errs.Internal, "node: compute leaf cid", err)
		}
		b := block.NewTrusted(c, chunk)
		if err := e.store.Put(ctx, b); err != nil {
			return cid.CID{}, err
		}
		leafCIDs = append(leafCIDs, c)
		leafHashes = append(leafHashes, c.Hash)

		if onBlockStored != nil {
			onBlockStored(chunk)
		}
	}

	if len(leafHashes) == 0 {
		// An empty dataset still produces one (empty) leaf, so a
		// zero-byte upload round-trips through retrieve.
		c, err := cid.FromBlock(cid.BlockCodec, e.hashCodec, nil)
		if err != nil {
			return cid.CID{}, errs.Wrap(errs.Internal, "node: compute empty leaf cid", err)
		}
		b := block.NewTrusted(c, nil)
		if err := e.store.Put(ctx, b); err != nil {
			return cid.CID{}, err
		}
		leafCIDs = append(leafCIDs, c)
		leafHashes = append(leafHashes, c.Hash)
	}

	tree, err := merkle.Build(leafHashes, e.hashCodec)
	if err != nil {
		return cid.CID{}, err
	}

	treeCID := cid.New(cid.CurrentVersion, cid.DatasetRootCodec, tree.Root())

	for i, leafCID := range leafCIDs {
		proof, err := merkle.GetProof(tree, i)
		if err != nil {
			return cid.CID{}, err
		}
		if err := e.store.PutCidAndProof(ctx, treeCID, i, leafCID, proof); err != nil {
			return cid.CID{}, err
		}
	}

	m := manifest.Manifest{
		TreeCID:     treeCID,
		DatasetSize: ck.Offset(),
		BlockSize:   uint32(blockSize),
		Codec:       cid.BlockCodec,
		HashCodec:   e.hashCodec,
		CIDVersion:  cid.CurrentVersion,
		Filename:    filename,
		Mimetype:    mimetype,
	}
	encoded := manifest.Encode(m)
	manifestCID, err := manifest.AsBlockCID(encoded, e.hashCodec)
	if err != nil {
		return cid.CID{}, errs.Wrap(errs.Internal, "node: compute manifest cid", err)
	}
	manifestBlock := block.NewTrusted(manifestCID, encoded)
	if err := e.store.Put(ctx, manifestBlock); err != nil {
		return cid.CID{}, err
	}

	return manifestCID, nil
}

// FetchManifest fetches and decodes the manifest at cid. Rejects non-manifest
// CIDs with NotAManifest, per spec §4.6.
func (e *Engine) FetchManifest(ctx context.Context, c cid.CID) (manifest.Manifest, error) {
	if !c.IsManifest() {
		return manifest.Manifest{}, errs.New(errs.NotAManifest, "node: cid does not address a manifest")
	}
	b, err := e.fetchBlock(ctx, c)
	if err != nil {
		return manifest.Manifest{}, err
	}
	return manifest.Decode(b.Bytes)
}

// fetchBlock tries the local store first, falling back to the network
// fetcher (if configured) on a local miss.
func (e *Engine) fetchBlock(ctx context.Context, c cid.CID) (block.Block, error) {
	b, err := e.store.Get(ctx, c)
	if err == nil {
		return b, nil
	}
	if errs.KindOf(err) != errs.NotFound || e.fetcher == nil {
		return block.Block{}, err
	}
	return e.fetcher.FetchBlock(ctx, c)
}

// fetchIndexed fetches the block at (treeCID, index), falling back to the
// network fetcher by resolving the index to its CID when the local store
// misses.
func (e *Engine) fetchIndexed(ctx context.Context, treeCID cid.CID, index uint64) (block.Block, error) {
	b, err := e.store.GetByIndex(ctx, treeCID, int(index))
	if err == nil {
		return b, nil
	}
	if errs.KindOf(err) != errs.NotFound || e.fetcher == nil {
		return block.Block{}, err
	}
	leafCID, cidErr := e.store.IndexedCID(ctx, treeCID, int(index))
	if cidErr != nil {
		return block.Block{}, err
	}
	return e.fetcher.FetchBlock(ctx, leafCID)
}

// HasLocalBlock is a predicate over the local block store only, per spec
// §4.6 ("no network").
func (e *Engine) HasLocalBlock(ctx context.Context, c cid.CID) (bool, error) {
	return e.store.Has(ctx, c)
}

// RetrieveStream is a lazy byte stream over a dataset (or a single block),
// delivering bytes in index order per spec §5.
type RetrieveStream struct {
	engine      *Engine
	manifest    *manifest.Manifest
	blocksLeft  uint64
	nextIndex   uint64
	datasetSize uint64
	delivered   uint64
	single      *block.Block
	treeCID     cid.CID
	ctx         context.Context
}

// Retrieve returns a lazy byte stream for cid. If cid is not a manifest CID,
// the stream yields that single block's bytes. Otherwise it streams the
// dataset's blocks in order, truncating the final block so the total equals
// datasetSize, and, when local is false, kicks off a background
// fetchBatched warm-up.
func (e *Engine) Retrieve(ctx context.Context, c cid.CID, local bool) (*RetrieveStream, error) {
	if !c.IsManifest() {
		b, err := e.fetchBlock(ctx, c)
		if err != nil {
			return nil, err
		}
		return &RetrieveStream{engine: e, single: &b, ctx: ctx}, nil
	}

	m, err := e.FetchManifest(ctx, c)
	if err != nil {
		return nil, err
	}

	if !local {
		go func() {
			bgCtx := context.Background()
			if _, err := e.FetchBatched(bgCtx, &m, FetchBatchedOptions{FetchLocal: false}); err != nil {
				e.log.Debugf("background fetchBatched warm-up for %s: %v", m.TreeCID, err)
			}
		}()
	}

	return &RetrieveStream{
		engine:      e,
		manifest:    &m,
		blocksLeft:  m.BlocksCount(),
		datasetSize: m.DatasetSize,
		treeCID:     m.TreeCID,
		ctx:         ctx,
	}, nil
}

// Read implements io.Reader by yielding block bytes in index order. Returns
// io.EOF once the declared datasetSize has been delivered.
func (s *RetrieveStream) Read(p []byte) (int, error) {
	if s.single != nil {
		if len(s.single.Bytes) == 0 {
			return 0, io.EOF
		}
		n := copy(p, s.single.Bytes)
		s.single.Bytes = s.single.Bytes[n:]
		if len(s.single.Bytes) == 0 {
			return n, io.EOF
		}
		return n, nil
	}

	if s.delivered >= s.datasetSize {
		return 0, io.EOF
	}
	if s.nextIndex >= s.blocksLeft {
		return 0, io.EOF
	}

	b, err := s.engine.store.GetByIndex(s.ctx, s.treeCID, int(s.nextIndex))
	if err != nil {
		return 0, err
	}
	s.nextIndex++

	data := b.Bytes
	remaining := s.datasetSize - s.delivered
	if uint64(len(data)) > remaining {
		data = data[:remaining]
	}

	n := copy(p, data)
	s.delivered += uint64(n)
	return n, nil
}

// FetchBatchedOptions configures FetchBatched.
type FetchBatchedOptions struct {
	BatchSize  int // default constants.DefaultBatchSize
	OnBatch    func(blocks []block.Block) error
	FetchLocal bool
}

// FetchBatched implements the sliding-window prefetch described in spec
// §4.6. It maintains up to BatchSize requests in flight, refilling the
// window once completedInWindow crosses the 0.75 threshold, and flushing
// OnBatch whenever the accumulated buffer reaches
// min(batchSize, MaxOnBatchBlocks).
func (e *Engine) FetchBatched(ctx context.Context, m *manifest.Manifest, opts FetchBatchedOptions) (int, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = constants.DefaultBatchSize
	}
	refillThreshold := int(math.Ceil(float64(batchSize) * constants.RefillThresholdRatio))
	if refillThreshold < 1 {
		refillThreshold = 1
	}
	onBatchMax := batchSize
	if onBatchMax > constants.MaxOnBatchBlocks {
		onBatchMax = constants.MaxOnBatchBlocks
	}

	total := m.BlocksCount()

	type result struct {
		index int
		block block.Block
		err   error
	}

	results := make(chan result, batchSize)
	inFlight := 0
	nextToIssue := uint64(0)
	failed := 0
	succeeded := 0
	completedInWindow := 0
	var onBatchErr error
	onBatchBuf := make([]block.Block, 0, onBatchMax)

	// issueAt finds the next index at or after `index` worth issuing a
	// request for (skipping already-local indices when FetchLocal is
	// false, per the open-question resolution in spec §9: the refill
	// always issues up to refillSize *issued* requests, counting only
	// indices that pass the FetchLocal filter), dispatches it on its own
	// goroutine, and returns the index to resume scanning from next time.
	issueAt := func(index uint64) (uint64, bool) {
		for index < total {
			if !opts.FetchLocal {
				if leafCID, err := e.store.IndexedCID(ctx, m.TreeCID, int(index)); err == nil {
					if has, hasErr := e.store.Has(ctx, leafCID); hasErr == nil && has {
						index++
						continue
					}
				}
			}
			idx := index
			inFlight++
			go func() {
				b, err := e.fetchIndexed(ctx, m.TreeCID, idx)
				results <- result{index: int(idx), block: b, err: err}
			}()
			return index + 1, true
		}
		return index, false
	}

	for nextToIssue < total && inFlight < batchSize {
		var issued bool
		nextToIssue, issued = issueAt(nextToIssue)
		if !issued {
			break
		}
	}

	for inFlight > 0 {
		r := <-results
		inFlight--
		completedInWindow++

		if r.err != nil {
			failed++
		} else {
			succeeded++
			if opts.OnBatch != nil && onBatchErr == nil {
				onBatchBuf = append(onBatchBuf, r.block)
				if len(onBatchBuf) >= onBatchMax {
					if err := opts.OnBatch(onBatchBuf); err != nil {
						onBatchErr = err
					}
					onBatchBuf = onBatchBuf[:0]
				}
			}
		}

		if completedInWindow >= refillThreshold && nextToIssue < total {
			refillSize := refillThreshold
			if refillSize < 1 {
				refillSize = 1
			}
			issuedCount := 0
			for issuedCount < refillSize && nextToIssue < total && inFlight < batchSize {
				var issued bool
				nextToIssue, issued = issueAt(nextToIssue)
				if !issued {
					break
				}
				issuedCount++
			}
			completedInWindow = 0
		}
	}

	if opts.OnBatch != nil && onBatchErr == nil && len(onBatchBuf) > 0 {
		if err := opts.OnBatch(onBatchBuf); err != nil {
			onBatchErr = err
		}
	}

	if onBatchErr != nil {
		return failed, onBatchErr
	}
	if failed > 0 {
		return failed, errs.New(errs.NetworkFailure, failedBlocksMessage(failed))
	}
	return succeeded, nil
}

func failedBlocksMessage(failed int) string {
	return "fetchBatched: " + itoa(failed) + " block(s) failed"
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

// Delete removes a block or, for a manifest CID, every block of the dataset
// plus the manifest itself, yielding to the scheduler periodically so a
// large delete does not starve other tasks, per spec §4.6.
func (e *Engine) Delete(ctx context.Context, c cid.CID) error {
	if !c.IsManifest() {
		return e.store.Delete(ctx, c)
	}

	present, err := e.store.Has(ctx, c)
	if err != nil {
		return err
	}
	if !present {
		return nil
	}

	m, err := e.FetchManifest(ctx, c)
	if err != nil {
		return err
	}

	var firstErr error
	lastYield := time.Now()
	for i := uint64(0); i < m.BlocksCount(); i++ {
		if err := e.store.DeleteByIndex(ctx, m.TreeCID, int(i)); err != nil && firstErr == nil {
			firstErr = err
		}

		if time.Since(lastYield) >= constants.DeleteYieldInterval {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			runtime.Gosched()
			lastYield = time.Now()
		}
	}

	if err := e.store.Delete(ctx, c); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// IterateManifests enumerates every manifest in the block store, decoding
// each and invoking callback synchronously.
func (e *Engine) IterateManifests(ctx context.Context, callback func(c cid.CID, m manifest.Manifest) error) error {
	ch, err := e.store.ListBlocks(ctx, blockstore.KindManifest)
	if err != nil {
		return err
	}
	for c := range ch {
		b, err := e.store.Get(ctx, c)
		if err != nil {
			continue
		}
		m, err := manifest.Decode(b.Bytes)
		if err != nil {
			continue
		}
		if err := callback(c, m); err != nil {
			return err
		}
	}
	return nil
}
