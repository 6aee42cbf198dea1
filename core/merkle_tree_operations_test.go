package core

import "testing"

func merkleLeaves(n int) [][]byte {
	leaves := make([][]byte, n)
	for i := range leaves {
		leaves[i] = []byte{byte(i), 'l', 'e', 'a', 'f'}
	}
	return leaves
}

func TestBuildMerkleTreeSingleLeaf(t *testing.T) {
	tree, err := BuildMerkleTree(merkleLeaves(1))
	if err != nil {
		t.Fatalf("BuildMerkleTree: %v", err)
	}
	if len(tree) != 1 || len(tree[0]) != 1 {
		t.Fatalf("expected a single-level tree for one leaf, got %d levels", len(tree))
	}
}

func TestBuildMerkleTreeRejectsEmpty(t *testing.T) {
	if _, err := BuildMerkleTree(nil); err == nil {
		t.Fatalf("expected error for zero leaves")
	}
}

func TestMerkleProofVerifiesForEveryLeaf(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 8} {
		leaves := merkleLeaves(n)
		for i := 0; i < n; i++ {
			proof, root, err := MerkleProof(leaves, uint32(i))
			if err != nil {
				t.Fatalf("MerkleProof(n=%d, i=%d): %v", n, i, err)
			}
			if !VerifyMerklePath(root, leaves[i], proof, uint32(i)) {
				t.Fatalf("expected proof to verify for n=%d leaf %d", n, i)
			}
		}
	}
}

func TestMerkleProofFailsForWrongLeaf(t *testing.T) {
	leaves := merkleLeaves(4)
	proof, root, err := MerkleProof(leaves, 1)
	if err != nil {
		t.Fatalf("MerkleProof: %v", err)
	}
	if VerifyMerklePath(root, []byte("not the leaf"), proof, 1) {
		t.Fatalf("expected verification to fail for a substituted leaf")
	}
	if VerifyMerklePath(root, leaves[1], proof, 2) {
		t.Fatalf("expected verification to fail for a wrong index")
	}
}

func TestMerkleProofIndexOutOfRange(t *testing.T) {
	if _, _, err := MerkleProof(merkleLeaves(2), 5); err == nil {
		t.Fatalf("expected error for out-of-range index")
	}
}

func TestMerkleRootIsDeterministic(t *testing.T) {
	a, err := BuildMerkleTree(merkleLeaves(6))
	if err != nil {
		t.Fatalf("BuildMerkleTree: %v", err)
	}
	b, err := BuildMerkleTree(merkleLeaves(6))
	if err != nil {
		t.Fatalf("BuildMerkleTree: %v", err)
	}
	if a[len(a)-1][0] != b[len(b)-1][0] {
		t.Fatalf("expected identical roots for identical leaves")
	}
}
