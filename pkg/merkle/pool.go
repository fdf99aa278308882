package merkle

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/beenet-project/storagenode/pkg/hash"
)

// DefaultPoolSize is the number of concurrent Merkle build jobs a WorkerPool
// runs by default: min(NumCPU, 16), per spec §5.
func DefaultPoolSize() int {
	n := runtime.NumCPU()
	if n > 16 {
		n = 16
	}
	if n < 1 {
		n = 1
	}
	return n
}

// WorkerPool bounds how many Merkle tree builds may run concurrently, so a
// burst of large uploads can't starve the node's other CPU-bound work.
// Backed by a weighted semaphore rather than a fixed goroutine+channel pool:
// acquiring a slot is the entire scheduling policy, and semaphore.Weighted's
// context-aware Acquire lets a caller's build be queued without spinning up
// bookkeeping goroutines per job.
type WorkerPool struct {
	sem *semaphore.Weighted
}

// NewWorkerPool creates a pool that allows up to size concurrent builds.
func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{sem: semaphore.NewWeighted(int64(size))}
}

type buildResult struct {
	tree *Tree
	err  error
}

// BuildAsync queues a tree build on the pool and returns a channel that
// receives exactly one result. Per spec §4.2/§5, once a build has been
// admitted to the pool it runs to completion: ctx only gates queueing (the
// wait for a free slot), never the build itself, so a caller cannot cancel
// CPU work another goroutine already started.
func (p *WorkerPool) BuildAsync(ctx context.Context, leaves []hash.Hash, codec hash.Codec) <-chan buildResult {
	out := make(chan buildResult, 1)

	go func() {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			out <- buildResult{err: err}
			return
		}
		defer p.sem.Release(1)

		// Not selecting on ctx.Done() here is deliberate: the build is
		// already running and non-cancellable.
		tree, err := Build(leaves, codec)
		out <- buildResult{tree: tree, err: err}
	}()

	return out
}

// Await blocks for BuildAsync's result, ignoring cancellation: per spec §5 a
// Merkle build, once started, cannot be aborted, so Await has no context
// parameter and always returns the eventual outcome.
func Await(ch <-chan buildResult) (*Tree, error) {
	r := <-ch
	return r.tree, r.err
}
