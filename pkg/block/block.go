// Package block implements the immutable (CID, bytes) pair described in
// spec §3/§4.1, grounded on pkg/content.Chunk's CID+Data shape but adding the
// "trusted" fast path a producer uses right after it just computed the hash.
package block

import (
	"github.com/beenet-project/storagenode/pkg/cid"
	"github.com/beenet-project/storagenode/pkg/errs"
	"github.com/beenet-project/storagenode/pkg/hash"
)

// Block is an immutable (CID, bytes) pair. The invariant CID.Hash ==
// hash(CID.Hash.Codec, Bytes) holds for every Block that leaves this package,
// unless the producer explicitly vouches for it via NewTrusted.
type Block struct {
	CID   cid.CID
	Bytes []byte
}

// New computes a fresh CID over data using dataCodec/hashCodec and returns
// the resulting Block. There is nothing to verify, since the CID is derived
// from the data; it fails (with Internal) only when hashCodec is unknown.
func New(data []byte, dataCodec cid.DataCodec, hashCodec hash.Codec) (Block, error) {
	c, err := cid.FromBlock(dataCodec, hashCodec, data)
	if err != nil {
		return Block{}, errs.Wrap(errs.Internal, "compute block CID", err)
	}
	return Block{CID: c, Bytes: data}, nil
}

// NewVerified constructs a Block from an existing CID and bytes, recomputing
// the hash and rejecting a mismatch with InvalidBlock, per spec §4.1 and
// testable property 3.
func NewVerified(c cid.CID, data []byte) (Block, error) {
	want, err := hash.Sum(c.Hash.Codec, data)
	if err != nil {
		return Block{}, errs.Wrap(errs.Internal, "recompute block hash", err)
	}
	if !want.Equal(c.Hash) {
		return Block{}, errs.New(errs.InvalidBlock, "block bytes do not hash to claimed CID")
	}
	return Block{CID: c, Bytes: data}, nil
}

// NewTrusted constructs a Block from a CID and bytes without recomputing the
// hash, for producers (the chunker, the Merkle layer) that just derived the
// CID from these exact bytes and would otherwise pay to verify their own
// output.
func NewTrusted(c cid.CID, data []byte) Block {
	return Block{CID: c, Bytes: data}
}

// Size returns the length of the block's payload.
func (b Block) Size() int {
	return len(b.Bytes)
}
