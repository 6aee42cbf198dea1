package core

// manifest.go – the Manifest Manager (§4.5): publish/update/derive
// operations and the Visibility state machine layered on top of
// ContentStore and ProvenanceGraph, each operation following a
// "validate, persist, broadcast" shape.

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ManifestManager is the entry point publish/update/derive callers use; it
// owns no state of its own beyond references to the store, graph and
// discovery index it coordinates.
type ManifestManager struct {
	store *ContentStore
	graph *ProvenanceGraph
	cache *RemoteCache // proof-of-query source for Derive; may be nil
	disc  Discovery    // announced to on Shared transitions; may be nil
	log   *zap.SugaredLogger
}

func NewManifestManager(store *ContentStore, graph *ProvenanceGraph, cache *RemoteCache, disc Discovery, lg *zap.SugaredLogger) *ManifestManager {
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	return &ManifestManager{store: store, graph: graph, cache: cache, disc: disc, log: lg}
}

// announce/withdraw/announceUpdate gossip visibility transitions best
// effort: a failed broadcast never rolls back the local state change, it
// only means peers learn of it later (or on the next announcement).
func (m *ManifestManager) announce(hash Hash) {
	if m.disc == nil {
		return
	}
	if err := m.disc.Announce(context.Background(), hash); err != nil {
		m.log.Warnw("manifest: discovery announce failed", "hash", hash.Short(), "err", err)
	}
}

func (m *ManifestManager) withdraw(hash Hash) {
	if m.disc == nil {
		return
	}
	if err := m.disc.Withdraw(context.Background(), hash); err != nil {
		m.log.Warnw("manifest: discovery withdraw failed", "hash", hash.Short(), "err", err)
	}
}

func (m *ManifestManager) announceUpdate(versionRoot Hash, newVersion uint64) {
	if m.disc == nil {
		return
	}
	if err := m.disc.AnnounceUpdate(context.Background(), versionRoot, newVersion); err != nil {
		m.log.Warnw("manifest: discovery update announce failed", "root", versionRoot.Short(), "err", err)
	}
}

// PublishL0 registers a new leaf artifact with no derivation parents.
func (m *ManifestManager) PublishL0(owner PeerID, data []byte, meta Metadata, econ Economics, vis Visibility) (Manifest, error) {
	hash := ContentHash(data)
	now := time.Now().UTC()
	man := Manifest{
		Hash:        hash,
		ContentType: ContentL0,
		Owner:       owner,
		Version:     Version{Number: 1, Root: hash, Timestamp: now},
		Visibility:  vis,
		Metadata:    meta,
		Economics:   econ,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	man.Provenance = Provenance{RootL0L1: []RootEntry{{Hash: hash, Owner: owner, Visibility: vis, Weight: 1}}}

	if err := m.store.Put(man, data); err != nil {
		return Manifest{}, err
	}
	m.graph.AddLeaf(hash)
	m.store.RecordVersion(hash, man.Version)
	if vis == Shared {
		m.announce(hash)
	}
	m.log.Infow("manifest: published L0", "hash", hash.Short(), "owner", owner.Short())
	return man, nil
}

// Derive registers a new L1/L3 artifact built from one or more existing
// parents, computing its flattened root_L0L1 set from the provenance graph.
func (m *ManifestManager) Derive(owner PeerID, data []byte, meta Metadata, econ Economics, vis Visibility, contentType ContentType, parents []Hash) (Manifest, error) {
	if contentType == ContentL0 {
		return Manifest{}, ErrMissingParent
	}

	// Proof of query: every source must either be stored locally (owned or
	// externally referenced) or sit in the remote cache from a completed
	// paid query. A source from the cache enters the local graph as a leaf,
	// since its own ancestry is not known to this node.
	for _, src := range parents {
		if _, err := m.store.GetManifest(src); err == nil {
			continue
		}
		if m.cache != nil {
			if _, ok := m.cache.Get(src); ok {
				m.graph.AddLeaf(src)
				continue
			}
		}
		return Manifest{}, ErrInvalidProvenance
	}

	hash := ContentHash(data)
	if err := m.graph.AddEdge(hash, parents); err != nil {
		return Manifest{}, err
	}

	roots := m.graph.ComputeRoots(hash, m.ownerVisLookup)
	now := time.Now().UTC()
	man := Manifest{
		Hash:        hash,
		ContentType: contentType,
		Owner:       owner,
		Version:     Version{Number: 1, Root: hash, Timestamp: now},
		Visibility:  vis,
		Metadata:    meta,
		Economics:   econ,
		Provenance: Provenance{
			RootL0L1:    roots,
			DerivedFrom: append([]Hash(nil), parents...),
			Depth:       m.graph.Depth(hash),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Put(man, data); err != nil {
		return Manifest{}, err
	}
	m.store.RecordVersion(hash, man.Version)
	if vis == Shared {
		m.announce(hash)
	}
	m.log.Infow("manifest: derived artifact published", "hash", hash.Short(), "parents", len(parents), "roots", len(roots))
	return man, nil
}

// ReferenceExternal registers a manifest for content whose bytes live
// outside the local store (an L2 external reference per §4.3/§9 — L2 is
// out of wire scope, so only its manifest metadata is tracked locally).
func (m *ManifestManager) ReferenceExternal(owner PeerID, hash Hash, meta Metadata, econ Economics, vis Visibility) (Manifest, error) {
	now := time.Now().UTC()
	man := Manifest{
		Hash:        hash,
		ContentType: ContentL0,
		Owner:       owner,
		Version:     Version{Number: 1, Root: hash, Timestamp: now},
		Visibility:  vis,
		Metadata:    meta,
		Economics:   econ,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	man.Provenance = Provenance{RootL0L1: []RootEntry{{Hash: hash, Owner: owner, Visibility: vis, Weight: 1}}}
	// External references are stored with no byte body; the store record
	// exists purely to carry the manifest.
	if err := m.store.PutManifestOnly(man); err != nil {
		return Manifest{}, err
	}
	m.graph.AddLeaf(hash)
	return man, nil
}

// Update publishes a new version of an existing artifact, linking Previous
// back to the prior version's hash.
func (m *ManifestManager) Update(hash Hash, requester PeerID, newData []byte, meta Metadata) (Manifest, error) {
	existing, err := m.store.Get(hash)
	if err != nil {
		return Manifest{}, err
	}
	if existing.Manifest.Owner != requester {
		return Manifest{}, ErrAccessDenied
	}
	newHash := ContentHash(newData)
	now := time.Now().UTC()
	newVersion := Version{
		Number:    existing.Manifest.Version.Number + 1,
		Previous:  &hash,
		Root:      existing.Manifest.Version.Root,
		Timestamp: now,
	}
	man := existing.Manifest
	man.Hash = newHash
	man.Version = newVersion
	man.Metadata = meta
	man.UpdatedAt = now

	if err := m.store.Put(man, newData); err != nil {
		return Manifest{}, err
	}
	if man.ContentType != ContentL0 {
		m.graph.AddEdge(newHash, man.Provenance.DerivedFrom)
	} else {
		m.graph.AddLeaf(newHash)
	}
	m.store.RecordVersion(newVersion.Root, newVersion)
	if man.Visibility == Shared {
		m.announceUpdate(newVersion.Root, newVersion.Number)
	}
	return man, nil
}

// SetVisibility drives the Visibility state machine (§4.5). Private,
// Unlisted and Shared are cheap relabels; transitioning to Deleted is
// terminal and irreversible.
func (m *ManifestManager) SetVisibility(hash Hash, requester PeerID, vis Visibility) error {
	sc, err := m.store.Get(hash)
	if err != nil {
		return err
	}
	if sc.Manifest.Owner != requester {
		return ErrAccessDenied
	}
	if sc.Manifest.Visibility == Deleted {
		return ErrNotFound
	}
	prev := sc.Manifest.Visibility
	sc.Manifest.Visibility = vis
	sc.Manifest.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateManifest(hash, sc.Manifest); err != nil {
		return err
	}
	// Only the Shared state is discoverable: entering it announces the
	// artifact, leaving it (unpublish or delete) retracts the record.
	if prev != Shared && vis == Shared {
		m.announce(hash)
	} else if prev == Shared && vis != Shared {
		m.withdraw(hash)
	}
	return nil
}

func (m *ManifestManager) ownerVisLookup(hash Hash) (PeerID, Visibility, bool) {
	man, err := m.store.GetManifest(hash)
	if err == nil {
		return man.Owner, man.Visibility, true
	}
	// A root reached through a remotely-queried source carries the serving
	// peer as its owner: that is who the distribution engine must credit.
	if m.cache != nil {
		if art, ok := m.cache.Get(hash); ok {
			return art.SourcePeer, Shared, true
		}
	}
	return PeerID{}, 0, false
}
