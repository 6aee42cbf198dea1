package core

// store.go – the Content Store (§4.3): local artifact storage keyed by
// ContentHash, plus an LRU-bounded cache of remote content fetched through
// the Query pipeline that evicts the least-recently-used entry once past
// its capacity. ContentStore keeps artifact bytes in memory unencrypted;
// EncryptAtRest/DecryptAtRest below are standalone helpers that the store
// itself does not apply.

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

//---------------------------------------------------------------------
// ContentStore
//---------------------------------------------------------------------

// ContentStore holds locally-owned and locally-cached artifacts. A single
// instance is owned per node; all access goes through its mutex, the same
// single-writer-actor shape used by AccessController and ChannelEngine.
type ContentStore struct {
	mu      sync.RWMutex
	items   map[Hash]*StoredContent
	byOwner map[PeerID][]Hash
	history map[Hash][]Version // version chain keyed by the root version's hash
	log     *log.Logger
}

func NewContentStore(lg *log.Logger) *ContentStore {
	if lg == nil {
		lg = log.New()
	}
	return &ContentStore{
		items:   make(map[Hash]*StoredContent),
		byOwner: make(map[PeerID][]Hash),
		history: make(map[Hash][]Version),
		log:     lg,
	}
}

// Put stores a new artifact. The manifest's Hash field must equal
// ContentHash(bytes); callers compute it via core.ContentHash before
// calling Put.
func (s *ContentStore) Put(m Manifest, data []byte) error {
	if m.Hash != ContentHash(data) {
		return ErrInvalidHash
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[m.Hash]; exists {
		return ErrAlreadyExists
	}
	s.items[m.Hash] = &StoredContent{Manifest: m, Bytes: append([]byte(nil), data...)}
	s.byOwner[m.Owner] = append(s.byOwner[m.Owner], m.Hash)
	s.log.WithFields(log.Fields{
		"hash":  m.Hash.Short(),
		"owner": m.Owner.Short(),
		"type":  m.ContentType.String(),
	}).Info("store: artifact published")
	return nil
}

// PutManifestOnly records a manifest with no byte body — used for external
// references (§4.5), whose content lives on another node and is never
// hash-checked locally.
func (s *ContentStore) PutManifestOnly(m Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[m.Hash]; exists {
		return ErrAlreadyExists
	}
	s.items[m.Hash] = &StoredContent{Manifest: m}
	s.byOwner[m.Owner] = append(s.byOwner[m.Owner], m.Hash)
	s.log.WithFields(log.Fields{
		"hash":  m.Hash.Short(),
		"owner": m.Owner.Short(),
	}).Info("store: external reference recorded")
	return nil
}

// Get returns the artifact bytes and manifest for hash.
func (s *ContentStore) Get(hash Hash) (*StoredContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.items[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sc
	cp.Bytes = append([]byte(nil), sc.Bytes...)
	return &cp, nil
}

// GetManifest returns only the manifest, without paying the cost of copying
// the artifact bytes — used by the Preview stage of the Query pipeline.
func (s *ContentStore) GetManifest(hash Hash) (Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.items[hash]
	if !ok {
		return Manifest{}, ErrNotFound
	}
	return sc.Manifest, nil
}

// UpdateManifest replaces the manifest for an existing artifact (visibility
// changes, metadata edits, new version link) without touching its bytes.
func (s *ContentStore) UpdateManifest(hash Hash, m Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.items[hash]
	if !ok {
		return ErrNotFound
	}
	sc.Manifest = m
	return nil
}

func (s *ContentStore) Delete(hash Hash, requester PeerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.items[hash]
	if !ok {
		return ErrNotFound
	}
	if sc.Manifest.Owner != requester {
		return ErrAccessDenied
	}
	sc.Manifest.Visibility = Deleted
	return nil
}

// ListByOwner returns every hash an owner has published, newest first.
func (s *ContentStore) ListByOwner(owner PeerID) []Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hashes := s.byOwner[owner]
	out := make([]Hash, len(hashes))
	for i, h := range hashes {
		out[len(hashes)-1-i] = h
	}
	return out
}

// RecordVersion appends a new Version onto the chain rooted at root.
func (s *ContentStore) RecordVersion(root Hash, v Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[root] = append(s.history[root], v)
}

func (s *ContentStore) ListVersions(root Hash) []Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Version, len(s.history[root]))
	copy(out, s.history[root])
	return out
}

//---------------------------------------------------------------------
// At-rest encryption for locally-held bytes (optional, supplement #2)
//---------------------------------------------------------------------

// EncryptAtRest seals data with AES-GCM under key: "encrypt before
// persisting, decrypt on read". GCM also authenticates the ciphertext, since
// store bytes feed directly into ContentHash verification on read-back.
func EncryptAtRest(data, key []byte) ([]byte, error) {
	return sealAESGCM(data, key)
}

func DecryptAtRest(data, key []byte) ([]byte, error) {
	return openAESGCM(data, key)
}

//---------------------------------------------------------------------
// Remote content cache — LRU bounded
//---------------------------------------------------------------------

type cacheEntry struct {
	hash     Hash
	artifact CachedArtifact
	size     int
}

// RemoteCache bounds the set of artifacts fetched from peers via Deliver by
// total byte size, evicting the least-recently-used entry first. Recency is
// tracked in a slice that every Get (and every Put that replaces an entry)
// scans, so an access costs time linear in the number of cached entries.
type RemoteCache struct {
	mu      sync.Mutex
	maxSize int
	curSize int
	order   []Hash // least-recently-used at index 0
	entries map[Hash]*cacheEntry
}

func NewRemoteCache(maxSize int) *RemoteCache {
	return &RemoteCache{
		maxSize: maxSize,
		entries: make(map[Hash]*cacheEntry),
	}
}

func (c *RemoteCache) Put(hash Hash, data []byte, source PeerID, receipt []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[hash]; ok {
		c.curSize -= old.size
		c.removeFromOrder(hash)
	}

	e := &cacheEntry{
		hash: hash,
		artifact: CachedArtifact{
			Bytes:      append([]byte(nil), data...),
			SourcePeer: source,
			QueriedAt:  time.Now().UTC(),
			Receipt:    receipt,
		},
		size: len(data),
	}
	c.entries[hash] = e
	c.order = append(c.order, hash)
	c.curSize += e.size

	for c.curSize > c.maxSize && len(c.order) > 0 {
		evict := c.order[0]
		c.order = c.order[1:]
		if ev, ok := c.entries[evict]; ok {
			c.curSize -= ev.size
			delete(c.entries, evict)
		}
	}
}

func (c *RemoteCache) Get(hash Hash) (CachedArtifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	if !ok {
		return CachedArtifact{}, false
	}
	c.removeFromOrder(hash)
	c.order = append(c.order, hash)
	return e.artifact, true
}

func (c *RemoteCache) removeFromOrder(hash Hash) {
	for i, h := range c.order {
		if h == hash {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *RemoteCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
