package core

// provenance.go – the Provenance Graph (§4.4): tracks derivation edges
// between artifacts and flattens them into a weighted root_L0L1 set used
// by the Distribution Engine, via an owning-mutex + in-memory-cache shape
// matching the rest of this package's single-writer actors.

import (
	"sync"
)

type provenanceEdge struct {
	parents []Hash
}

// ProvenanceGraph is the single-writer actor owning the derivation DAG. It
// never stores content bytes itself — only the edges and the cached
// flattened root set per node, keyed by content hash.
type ProvenanceGraph struct {
	mu       sync.RWMutex
	edges    map[Hash]provenanceEdge
	rootsMu  sync.Mutex
	rootsFor map[Hash][]RootEntry // memoized compute_roots(hash)
}

func NewProvenanceGraph() *ProvenanceGraph {
	return &ProvenanceGraph{
		edges:    make(map[Hash]provenanceEdge),
		rootsFor: make(map[Hash][]RootEntry),
	}
}

// AddEdge records that child derives from parents. All parents must already
// be known to the graph (either as an L0 leaf registered via AddLeaf, or as
// a prior AddEdge target) — otherwise ErrMissingParent is returned. Cycles
// are rejected by walking the proposed parents' own ancestry for child.
func (g *ProvenanceGraph) AddEdge(child Hash, parents []Hash) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, p := range parents {
		if p == child {
			return ErrCycleDetected
		}
		if _, ok := g.edges[p]; !ok {
			return ErrMissingParent
		}
	}
	for _, p := range parents {
		if g.reaches(p, child, make(map[Hash]bool)) {
			return ErrCycleDetected
		}
	}

	g.edges[child] = provenanceEdge{parents: append([]Hash(nil), parents...)}
	g.invalidate(child)
	return nil
}

// AddLeaf registers an L0 artifact with no parents of its own.
func (g *ProvenanceGraph) AddLeaf(hash Hash) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.edges[hash]; !ok {
		g.edges[hash] = provenanceEdge{}
	}
}

// reaches reports whether, starting from node, a walk over recorded
// ancestry edges can reach target. Used only to detect an about-to-be-added
// edge closing a cycle; visited guards against already-cyclic (corrupt)
// state causing infinite recursion.
func (g *ProvenanceGraph) reaches(node, target Hash, visited map[Hash]bool) bool {
	if node == target {
		return true
	}
	if visited[node] {
		return false
	}
	visited[node] = true
	for _, p := range g.edges[node].parents {
		if g.reaches(p, target, visited) {
			return true
		}
	}
	return false
}

func (g *ProvenanceGraph) invalidate(hash Hash) {
	g.rootsMu.Lock()
	delete(g.rootsFor, hash)
	g.rootsMu.Unlock()
}

// ownerVisLookup resolves (owner, visibility) for a hash — supplied by the
// caller (ordinarily the ContentStore) since the graph itself does not hold
// manifests.
type ownerVisLookup func(Hash) (owner PeerID, vis Visibility, ok bool)

// ComputeRoots flattens the full ancestry of hash into the weighted
// root_L0L1 set defined by §4.4: every leaf (content with no recorded
// parents) is a root, weighted by the number of distinct paths from hash
// down to it. Results are memoized until the next AddEdge touching hash.
func (g *ProvenanceGraph) ComputeRoots(hash Hash, lookup ownerVisLookup) []RootEntry {
	g.rootsMu.Lock()
	if cached, ok := g.rootsFor[hash]; ok {
		g.rootsMu.Unlock()
		return cached
	}
	g.rootsMu.Unlock()

	g.mu.RLock()
	weights := make(map[Hash]uint64)
	g.accumulate(hash, 1, weights, make(map[Hash]int))
	g.mu.RUnlock()

	out := make([]RootEntry, 0, len(weights))
	for h, w := range weights {
		owner, vis, ok := lookup(h)
		if !ok {
			continue
		}
		out = append(out, RootEntry{Hash: h, Owner: owner, Visibility: vis, Weight: w})
	}

	g.rootsMu.Lock()
	g.rootsFor[hash] = out
	g.rootsMu.Unlock()
	return out
}

// accumulate walks the DAG from node, adding weight to every leaf reached.
// depth guards against pathological fan-in graphs deep enough to blow the
// call stack; it is not a correctness bound, just a safety valve.
func (g *ProvenanceGraph) accumulate(node Hash, weight uint64, acc map[Hash]uint64, depth map[Hash]int) {
	const maxDepth = 4096
	if depth[node] > maxDepth {
		return
	}
	depth[node]++

	edge := g.edges[node]
	if len(edge.parents) == 0 {
		acc[node] += weight
		return
	}
	for _, p := range edge.parents {
		g.accumulate(p, weight, acc, depth)
	}
}

// Depth returns the longest parent chain below hash, used to populate
// Provenance.Depth on a manifest.
func (g *ProvenanceGraph) Depth(hash Hash) uint32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.depth(hash, make(map[Hash]bool))
}

func (g *ProvenanceGraph) depth(node Hash, visited map[Hash]bool) uint32 {
	if visited[node] {
		return 0
	}
	visited[node] = true
	edge := g.edges[node]
	if len(edge.parents) == 0 {
		return 0
	}
	var max uint32
	for _, p := range edge.parents {
		if d := g.depth(p, visited); d > max {
			max = d
		}
	}
	return max + 1
}

// DirectParents returns the immediate derived_from set recorded for hash.
func (g *ProvenanceGraph) DirectParents(hash Hash) []Hash {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Hash(nil), g.edges[hash].parents...)
}
