// Package merkle builds a flattened, layer-by-layer Merkle tree over leaf
// hashes and produces/verifies inclusion proofs, per spec §4.2. The node
// buffer is the tree's exclusive resource for its lifetime (spec §3
// Ownership): FromNodes is the only way another owner hands a buffer back in.
package merkle

import (
	"fmt"

	"github.com/beenet-project/storagenode/pkg/errs"
	"github.com/beenet-project/storagenode/pkg/hash"
)

// Tree is a contiguous, layer-by-layer buffer of hashes: levels[0] holds the
// leaves, each subsequent level holds ceil(prev/2) nodes, down to a single
// root at the top.
type Tree struct {
	codec     hash.Codec
	leafCount int
	levels    []int // length of each layer
	offsets   []int // starting index of each layer within nodes
	nodes     []hash.Hash
}

// levelSizes computes nodesPerLevel(N) per spec §4.2: [1,1] for N==1,
// otherwise [N, ceil(N/2), ceil(N/4), ..., 1].
func levelSizes(n int) []int {
	if n <= 1 {
		return []int{1, 1}
	}
	sizes := []int{n}
	cur := n
	for cur > 1 {
		cur = (cur + 1) / 2
		sizes = append(sizes, cur)
	}
	return sizes
}

func offsetsFor(sizes []int) []int {
	offsets := make([]int, len(sizes))
	sum := 0
	for i, s := range sizes {
		offsets[i] = sum
		sum += s
	}
	return offsets
}

// Build constructs a tree over leaves synchronously. Fails only if leaves is
// empty (spec §4.1 InvalidArgument: "empty leaf set").
func Build(leaves []hash.Hash, codec hash.Codec) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, errs.New(errs.InvalidArgument, "merkle: cannot build a tree over zero leaves")
	}

	sizes := levelSizes(len(leaves))
	offsets := offsetsFor(sizes)
	total := offsets[len(offsets)-1] + sizes[len(sizes)-1]

	nodes := make([]hash.Hash, total)
	copy(nodes[offsets[0]:offsets[0]+sizes[0]], leaves)
	// levelSizes(1) reports layer 0 as size 1 but a single-leaf call above
	// only copied 1 leaf into a size-1 layer 0; for N==1 layer0 length is 1
	// and the extra synthetic layer 1 is computed by the loop below.
	if len(leaves) > sizes[0] {
		return nil, errs.New(errs.Internal, "merkle: leaf count does not match layer 0 size")
	}

	zero := hash.Zero(codec)

	for level := 0; level < len(sizes)-1; level++ {
		levelLen := sizes[level]
		levelStart := offsets[level]
		nextStart := offsets[level+1]
		out := 0
		for i := 0; i < levelLen; i += 2 {
			a := nodes[levelStart+i]
			if i+1 < levelLen {
				b := nodes[levelStart+i+1]
				key := KeyNone
				if level == 0 {
					key = KeyBottomLayer
				}
				c, err := hash.Compress(codec, a, b, byte(key))
				if err != nil {
					return nil, errs.Wrap(errs.Internal, "merkle: compress pair", err)
				}
				nodes[nextStart+out] = c
			} else {
				key := KeyOdd
				if level == 0 {
					key = KeyOddAndBottomLayer
				}
				c, err := hash.Compress(codec, a, zero, byte(key))
				if err != nil {
					return nil, errs.Wrap(errs.Internal, "merkle: compress odd node", err)
				}
				nodes[nextStart+out] = c
			}
			out++
		}
	}

	return &Tree{
		codec:     codec,
		leafCount: len(leaves),
		levels:    sizes,
		offsets:   offsets,
		nodes:     nodes,
	}, nil
}

// FromNodes reconstructs a Tree wrapping an already-built flattened node
// buffer, used to rehydrate a tree (e.g. loaded from a block store) without
// recomputing it. Validates the buffer's length matches the expected layer
// layout for leafCount, per spec testable property 8.
func FromNodes(nodes []hash.Hash, leafCount int, codec hash.Codec) (*Tree, error) {
	if leafCount <= 0 {
		return nil, errs.New(errs.InvalidArgument, "merkle: leafCount must be positive")
	}
	sizes := levelSizes(leafCount)
	offsets := offsetsFor(sizes)
	total := offsets[len(offsets)-1] + sizes[len(sizes)-1]
	if len(nodes) != total {
		return nil, errs.New(errs.InvalidArgument,
			fmt.Sprintf("merkle: node buffer has %d entries, expected %d for %d leaves", len(nodes), total, leafCount))
	}
	return &Tree{codec: codec, leafCount: leafCount, levels: sizes, offsets: offsets, nodes: nodes}, nil
}

// Root returns the single top-layer entry.
func (t *Tree) Root() hash.Hash {
	return t.nodes[len(t.nodes)-1]
}

// Nodes returns the tree's flattened node buffer. The caller must not mutate
// it: the Tree owns this slice for its lifetime.
func (t *Tree) Nodes() []hash.Hash {
	return t.nodes
}

// LeafCount returns the number of leaves the tree was built over.
func (t *Tree) LeafCount() int {
	return t.leafCount
}

// Codec returns the hash codec backing this tree's compression function.
func (t *Tree) Codec() hash.Codec {
	return t.codec
}

// Leaf returns the leaf hash at index i.
func (t *Tree) Leaf(i int) (hash.Hash, error) {
	if i < 0 || i >= t.leafCount {
		return hash.Hash{}, errs.New(errs.InvalidArgument, "merkle: leaf index out of range")
	}
	return t.nodes[t.offsets[0]+i], nil
}
