// Package hash implements the self-describing digests used throughout the
// storage node: a (codec, digest-bytes) pair, per spec §3. Two codecs are
// first-class: SHA-256 for block/manifest content addressing, and Poseidon2
// over the BN254 scalar field for Merkle constructions meant to interoperate
// with zero-knowledge circuits.
//
// The Poseidon2 codec is backed by gnark-crypto's bn254 field arithmetic and
// its Poseidon2 permutation, the same construction ZK toolchains in this
// space use for in-circuit Merkle hashing.
package hash

import (
	"crypto/sha256"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"
)

// Codec identifies the hash algorithm backing a digest.
type Codec uint32

const (
	// SHA256 is the default codec: 32-byte digests, used for block and
	// manifest content addressing.
	SHA256 Codec = 1
	// Poseidon2 is the algebraic codec used for ZK-friendly Merkle trees.
	Poseidon2 Codec = 2
)

func (c Codec) String() string {
	switch c {
	case SHA256:
		return "sha256"
	case Poseidon2:
		return "poseidon2"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(c))
	}
}

// Size returns the digest length in bytes for the codec.
func (c Codec) Size() int {
	switch c {
	case SHA256:
		return 32
	case Poseidon2:
		return 32
	default:
		return 0
	}
}

// ParseCodec resolves the short wire name back to a Codec.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "sha256":
		return SHA256, nil
	case "poseidon2":
		return Poseidon2, nil
	default:
		return 0, fmt.Errorf("hash: unknown codec %q", name)
	}
}

// Hash is a self-describing digest: the codec plus the raw digest bytes.
type Hash struct {
	Codec  Codec
	Digest []byte
}

// Sum hashes data with the given codec. Fails only if the codec is unknown,
// per spec §4.1.
func Sum(codec Codec, data []byte) (Hash, error) {
	switch codec {
	case SHA256:
		sum := sha256.Sum256(data)
		return Hash{Codec: SHA256, Digest: sum[:]}, nil
	case Poseidon2:
		return Hash{Codec: Poseidon2, Digest: poseidon2Sum(data)}, nil
	default:
		return Hash{}, fmt.Errorf("hash: unsupported codec %d", codec)
	}
}

// Equal compares two hashes for equality by codec and digest.
func (h Hash) Equal(o Hash) bool {
	if h.Codec != o.Codec || len(h.Digest) != len(o.Digest) {
		return false
	}
	for i := range h.Digest {
		if h.Digest[i] != o.Digest[i] {
			return false
		}
	}
	return true
}

func (h Hash) IsZero() bool {
	return h.Codec == 0 && len(h.Digest) == 0
}

// Bytes returns a defensive copy of the digest.
func (h Hash) Bytes() []byte {
	out := make([]byte, len(h.Digest))
	copy(out, h.Digest)
	return out
}

// poseidon2HasherFactory builds a fresh Merkle-Damgard Poseidon2 sponge over
// the BN254 scalar field for each call, mirroring how gnark-crypto users
// drive the permutation for variable-length input.
var poseidon2HasherFactory = poseidon2.NewMerkleDamgardHasher

// feBytes reduces an arbitrary byte block into the field and returns its
// canonical 32-byte big-endian encoding, the unit Poseidon2 absorbs.
func feBytes(block []byte) []byte {
	var e fr.Element
	e.SetBytes(block)
	b := e.Bytes()
	return b[:]
}

// poseidon2Sum absorbs data in 32-byte field-element blocks (each reduced
// modulo the BN254 scalar field) through a Poseidon2 Merkle-Damgard sponge,
// then squeezes a 32-byte digest. The trailing length block distinguishes
// inputs that would otherwise differ only by padding.
func poseidon2Sum(data []byte) []byte {
	h := poseidon2HasherFactory()
	const blockSize = 32
	total := len(data)
	for len(data) > 0 {
		n := blockSize
		if n > len(data) {
			n = len(data)
		}
		h.Write(feBytes(data[:n]))
		data = data[n:]
	}
	var lenBlock [32]byte
	lenBlock[28] = byte(total >> 24)
	lenBlock[29] = byte(total >> 16)
	lenBlock[30] = byte(total >> 8)
	lenBlock[31] = byte(total)
	h.Write(feBytes(lenBlock[:]))
	return h.Sum(nil)
}

// poseidon2Compress folds two digests (plus a domain tag) into one through
// the same Poseidon2 sponge, the two-to-one compression function the Merkle
// layer drives directly.
func poseidon2Compress(left, right []byte, tag byte) []byte {
	h := poseidon2HasherFactory()
	h.Write(feBytes(left))
	h.Write(feBytes(right))
	h.Write(feBytes([]byte{tag}))
	return h.Sum(nil)
}

// Compress is the two-to-one compression primitive described in spec §3/§4.2.
// Codec selects which underlying digest/permutation backs it; tag carries the
// layer Key (None/BottomLayer/Odd/OddAndBottomLayer) as a small integer.
// SHA-256 concatenation has no use for the key and ignores it, as spec §3
// permits; Poseidon2 folds it in as a domain separator.
func Compress(codec Codec, left, right Hash, tag byte) (Hash, error) {
	switch codec {
	case SHA256:
		h := sha256.New()
		h.Write(left.Digest)
		h.Write(right.Digest)
		return Hash{Codec: SHA256, Digest: h.Sum(nil)}, nil
	case Poseidon2:
		return Hash{Codec: Poseidon2, Digest: poseidon2Compress(left.Digest, right.Digest, tag)}, nil
	default:
		return Hash{}, fmt.Errorf("hash: unsupported codec %d", codec)
	}
}

// Zero returns the all-zero digest used as the designated "zero" right
// sibling for odd nodes during tree construction (spec §3).
func Zero(codec Codec) Hash {
	return Hash{Codec: codec, Digest: make([]byte, codec.Size())}
}
