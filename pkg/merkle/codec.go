package merkle

import (
	"encoding/binary"

	"github.com/beenet-project/storagenode/pkg/errs"
	"github.com/beenet-project/storagenode/pkg/hash"
)

// EncodeProof serializes a Proof for persistence in a block store's
// secondary index, so it survives process restarts alongside the blocks it
// proves membership for.
func EncodeProof(p *Proof) []byte {
	buf := make([]byte, 0, 16+len(p.Siblings)*36)

	var header [12]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(p.LeafIndex))
	binary.BigEndian.PutUint32(header[4:8], uint32(p.LeafCount))
	binary.BigEndian.PutUint32(header[8:12], uint32(p.Codec))
	buf = append(buf, header[:]...)

	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(p.Siblings)))
	buf = append(buf, count[:]...)

	for _, sib := range p.Siblings {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(sib.Digest)))
		buf = append(buf, l[:]...)
		buf = append(buf, sib.Digest...)
	}
	return buf
}

// DecodeProof parses a proof serialized by EncodeProof.
func DecodeProof(data []byte) (*Proof, error) {
	if len(data) < 16 {
		return nil, errs.New(errs.MalformedManifest, "merkle: truncated proof header")
	}
	leafIndex := int(binary.BigEndian.Uint32(data[0:4]))
	leafCount := int(binary.BigEndian.Uint32(data[4:8]))
	codec := hash.Codec(binary.BigEndian.Uint32(data[8:12]))
	count := int(binary.BigEndian.Uint32(data[12:16]))
	data = data[16:]

	siblings := make([]hash.Hash, 0, count)
	for i := 0; i < count; i++ {
		if len(data) < 4 {
			return nil, errs.New(errs.MalformedManifest, "merkle: truncated proof sibling length")
		}
		l := int(binary.BigEndian.Uint32(data[0:4]))
		data = data[4:]
		if len(data) < l {
			return nil, errs.New(errs.MalformedManifest, "merkle: truncated proof sibling digest")
		}
		siblings = append(siblings, hash.Hash{Codec: codec, Digest: append([]byte(nil), data[:l]...)})
		data = data[l:]
	}

	return &Proof{
		LeafIndex: leafIndex,
		LeafCount: leafCount,
		Codec:     codec,
		Siblings:  siblings,
	}, nil
}
