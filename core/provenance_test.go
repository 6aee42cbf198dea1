package core

import "testing"

func h(s string) Hash { return ContentHash([]byte(s)) }

func TestProvenanceGraphAddEdgeRejectsMissingParent(t *testing.T) {
	g := NewProvenanceGraph()
	child := h("child")
	parent := h("parent")
	if err := g.AddEdge(child, []Hash{parent}); err != ErrMissingParent {
		t.Fatalf("expected ErrMissingParent, got %v", err)
	}
}

func TestProvenanceGraphAddEdgeRejectsSelfCycle(t *testing.T) {
	g := NewProvenanceGraph()
	node := h("self")
	if err := g.AddEdge(node, []Hash{node}); err != ErrCycleDetected {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestProvenanceGraphAddEdgeRejectsIndirectCycle(t *testing.T) {
	g := NewProvenanceGraph()
	a, b, c := h("a"), h("b"), h("c")
	g.AddLeaf(a)
	if err := g.AddEdge(b, []Hash{a}); err != nil {
		t.Fatalf("AddEdge(b<-a): %v", err)
	}
	if err := g.AddEdge(c, []Hash{b}); err != nil {
		t.Fatalf("AddEdge(c<-b): %v", err)
	}
	// a already exists as a leaf; attempting a <- c would close a cycle.
	if err := g.AddEdge(a, []Hash{c}); err != ErrCycleDetected {
		t.Fatalf("expected ErrCycleDetected closing the loop, got %v", err)
	}
}

func TestProvenanceGraphComputeRootsSingleLeaf(t *testing.T) {
	g := NewProvenanceGraph()
	leaf := h("leaf")
	g.AddLeaf(leaf)

	lookup := func(hash Hash) (PeerID, Visibility, bool) {
		return PeerID{}, Shared, true
	}
	roots := g.ComputeRoots(leaf, lookup)
	if len(roots) != 1 {
		t.Fatalf("expected 1 root, got %d", len(roots))
	}
	if roots[0].Hash != leaf || roots[0].Weight != 1 {
		t.Fatalf("unexpected root entry: %+v", roots[0])
	}
}

func TestProvenanceGraphComputeRootsAccumulatesWeightOnDiamond(t *testing.T) {
	g := NewProvenanceGraph()
	root := h("root")
	left := h("left")
	right := h("right")
	derived := h("derived")

	g.AddLeaf(root)
	if err := g.AddEdge(left, []Hash{root}); err != nil {
		t.Fatalf("AddEdge(left): %v", err)
	}
	if err := g.AddEdge(right, []Hash{root}); err != nil {
		t.Fatalf("AddEdge(right): %v", err)
	}
	if err := g.AddEdge(derived, []Hash{left, right}); err != nil {
		t.Fatalf("AddEdge(derived): %v", err)
	}

	lookup := func(hash Hash) (PeerID, Visibility, bool) {
		return PeerID{}, Shared, true
	}
	roots := g.ComputeRoots(derived, lookup)
	if len(roots) != 1 {
		t.Fatalf("expected 1 distinct root (diamond converges on root), got %d: %+v", len(roots), roots)
	}
	if roots[0].Hash != root || roots[0].Weight != 2 {
		t.Fatalf("expected root weight 2 (two paths through diamond), got %+v", roots[0])
	}
}

func TestProvenanceGraphComputeRootsMemoizedUntilInvalidated(t *testing.T) {
	g := NewProvenanceGraph()
	leaf := h("memo-leaf")
	g.AddLeaf(leaf)
	calls := 0
	lookup := func(hash Hash) (PeerID, Visibility, bool) {
		calls++
		return PeerID{}, Shared, true
	}
	g.ComputeRoots(leaf, lookup)
	g.ComputeRoots(leaf, lookup)
	if calls != 1 {
		t.Fatalf("expected lookup invoked once due to memoization, got %d", calls)
	}
}

func TestProvenanceGraphDirectParentsAndDepth(t *testing.T) {
	g := NewProvenanceGraph()
	root := h("dp-root")
	mid := h("dp-mid")
	leaf := h("dp-leaf")

	g.AddLeaf(root)
	if err := g.AddEdge(mid, []Hash{root}); err != nil {
		t.Fatalf("AddEdge(mid): %v", err)
	}
	if err := g.AddEdge(leaf, []Hash{mid}); err != nil {
		t.Fatalf("AddEdge(leaf): %v", err)
	}

	parents := g.DirectParents(leaf)
	if len(parents) != 1 || parents[0] != mid {
		t.Fatalf("expected direct parent %v, got %v", mid, parents)
	}
	if d := g.Depth(leaf); d != 2 {
		t.Fatalf("expected depth 2, got %d", d)
	}
}
