package merkle

import (
	"github.com/beenet-project/storagenode/pkg/errs"
	"github.com/beenet-project/storagenode/pkg/hash"
)

// Proof is an inclusion proof for one leaf: the sibling hash needed at each
// level to recompute the root, bottom to top. No direction bits are stored —
// both "which side am I on" and "is this level's sibling the zero node" are
// derived arithmetically from LeafIndex/LeafCount during verification, per
// spec §4.2.
type Proof struct {
	LeafIndex int
	LeafCount int
	Codec     hash.Codec
	Siblings  []hash.Hash
}

// GetProof builds the inclusion proof for leaf i of t.
func GetProof(t *Tree, i int) (*Proof, error) {
	if i < 0 || i >= t.leafCount {
		return nil, errs.New(errs.InvalidArgument, "merkle: leaf index out of range")
	}

	zero := hash.Zero(t.codec)
	siblings := make([]hash.Hash, 0, len(t.levels)-1)

	idx := i
	for level := 0; level < len(t.levels)-1; level++ {
		m := t.levels[level]
		levelStart := t.offsets[level]

		var sib hash.Hash
		sibIdx := idx ^ 1
		if sibIdx < m {
			sib = t.nodes[levelStart+sibIdx]
		} else {
			sib = zero
		}
		siblings = append(siblings, sib)
		idx = idx / 2
	}

	return &Proof{
		LeafIndex: i,
		LeafCount: t.leafCount,
		Codec:     t.codec,
		Siblings:  siblings,
	}, nil
}

// Verify recomputes the root from leaf using p's siblings and checks it
// against root. Direction and oddness at each level are derived solely from
// LeafIndex/LeafCount/level, matching how GetProof walked the tree, so no
// stored direction bits are needed.
func Verify(p *Proof, leaf hash.Hash, root hash.Hash) bool {
	if p.LeafCount <= 0 {
		return false
	}

	cur := leaf
	idx := p.LeafIndex
	m := p.LeafCount

	for level, sib := range p.Siblings {
		isOdd := idx == m-1 && m%2 == 1
		isLeft := idx%2 == 0

		var key Key
		if isOdd {
			if level == 0 {
				key = KeyOddAndBottomLayer
			} else {
				key = KeyOdd
			}
		} else {
			if level == 0 {
				key = KeyBottomLayer
			} else {
				key = KeyNone
			}
		}

		var next hash.Hash
		var err error
		if isLeft {
			next, err = hash.Compress(p.Codec, cur, sib, byte(key))
		} else {
			next, err = hash.Compress(p.Codec, sib, cur, byte(key))
		}
		if err != nil {
			return false
		}
		cur = next

		idx = idx / 2
		m = (m + 1) / 2
	}

	return cur.Equal(root)
}
