package merkle

import (
	"testing"

	"github.com/beenet-project/storagenode/pkg/hash"
)

func TestProofEncodeDecodeRoundTrip(t *testing.T) {
	leaves := leavesOf(11, hash.Poseidon2)
	tree, err := Build(leaves, hash.Poseidon2)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	proof, err := GetProof(tree, 9)
	if err != nil {
		t.Fatalf("GetProof: %v", err)
	}

	decoded, err := DecodeProof(EncodeProof(proof))
	if err != nil {
		t.Fatalf("DecodeProof: %v", err)
	}
	if !Verify(decoded, leaves[9], tree.Root()) {
		t.Fatal("decoded proof failed to verify")
	}
}
