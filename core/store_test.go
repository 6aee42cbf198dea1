package core

import (
	"bytes"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func TestContentStorePutRejectsHashMismatch(t *testing.T) {
	store := NewContentStore(log.StandardLogger())
	man := Manifest{Hash: ContentHash([]byte("claimed")), Owner: testPeerID(1)}
	if err := store.Put(man, []byte("actual bytes")); err != ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestContentStorePutRejectsDuplicate(t *testing.T) {
	store := NewContentStore(log.StandardLogger())
	data := []byte("once only")
	man := Manifest{Hash: ContentHash(data), Owner: testPeerID(1)}
	if err := store.Put(man, data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(man, data); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestContentStoreGetReturnsCopy(t *testing.T) {
	store := NewContentStore(log.StandardLogger())
	data := []byte("mutable?")
	man := Manifest{Hash: ContentHash(data), Owner: testPeerID(1)}
	if err := store.Put(man, data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	sc, err := store.Get(man.Hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	sc.Bytes[0] = 'X'
	again, _ := store.Get(man.Hash)
	if !bytes.Equal(again.Bytes, data) {
		t.Fatalf("expected stored bytes untouched by caller mutation")
	}
}

func TestContentStoreDeleteRequiresOwner(t *testing.T) {
	store := NewContentStore(log.StandardLogger())
	owner, stranger := testPeerID(1), testPeerID(2)
	data := []byte("owned artifact")
	man := Manifest{Hash: ContentHash(data), Owner: owner}
	if err := store.Put(man, data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete(man.Hash, stranger); err != ErrAccessDenied {
		t.Fatalf("expected ErrAccessDenied for non-owner delete, got %v", err)
	}
	if err := store.Delete(man.Hash, owner); err != nil {
		t.Fatalf("Delete by owner: %v", err)
	}
	got, err := store.GetManifest(man.Hash)
	if err != nil {
		t.Fatalf("GetManifest after delete: %v", err)
	}
	if got.Visibility != Deleted {
		t.Fatalf("expected visibility Deleted after local delete, got %v", got.Visibility)
	}
}

func TestContentStoreListByOwnerNewestFirst(t *testing.T) {
	store := NewContentStore(log.StandardLogger())
	owner := testPeerID(7)
	first := []byte("first artifact")
	second := []byte("second artifact")
	if err := store.Put(Manifest{Hash: ContentHash(first), Owner: owner}, first); err != nil {
		t.Fatalf("Put first: %v", err)
	}
	if err := store.Put(Manifest{Hash: ContentHash(second), Owner: owner}, second); err != nil {
		t.Fatalf("Put second: %v", err)
	}
	hashes := store.ListByOwner(owner)
	if len(hashes) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(hashes))
	}
	if hashes[0] != ContentHash(second) || hashes[1] != ContentHash(first) {
		t.Fatalf("expected newest-first ordering, got %v", hashes)
	}
	if got := store.ListByOwner(testPeerID(8)); len(got) != 0 {
		t.Fatalf("expected empty list for unknown owner, got %v", got)
	}
}

func TestContentStoreVersionLogIsAppendOnly(t *testing.T) {
	store := NewContentStore(log.StandardLogger())
	root := ContentHash([]byte("version root"))
	v1 := Version{Number: 1, Root: root, Timestamp: time.Now()}
	prev := root
	v2 := Version{Number: 2, Previous: &prev, Root: root, Timestamp: time.Now()}
	store.RecordVersion(root, v1)
	store.RecordVersion(root, v2)

	versions := store.ListVersions(root)
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	if versions[0].Number != 1 || versions[1].Number != 2 {
		t.Fatalf("expected versions in record order, got %+v", versions)
	}
}

func TestEncryptDecryptAtRestRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	copy(key, "0123456789abcdef0123456789abcdef")
	plain := []byte("bytes at rest")
	sealed, err := EncryptAtRest(plain, key)
	if err != nil {
		t.Fatalf("EncryptAtRest: %v", err)
	}
	if bytes.Contains(sealed, plain) {
		t.Fatalf("expected ciphertext to not contain plaintext")
	}
	opened, err := DecryptAtRest(sealed, key)
	if err != nil {
		t.Fatalf("DecryptAtRest: %v", err)
	}
	if !bytes.Equal(opened, plain) {
		t.Fatalf("round trip mismatch: got %q", opened)
	}

	sealed[len(sealed)-1] ^= 0xff
	if _, err := DecryptAtRest(sealed, key); err == nil {
		t.Fatalf("expected authentication failure on tampered ciphertext")
	}
}

func TestRemoteCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewRemoteCache(10)
	h1 := ContentHash([]byte("one"))
	h2 := ContentHash([]byte("two"))
	h3 := ContentHash([]byte("three"))

	c.Put(h1, []byte("aaaa"), testPeerID(1), nil)
	c.Put(h2, []byte("bbbb"), testPeerID(1), nil)
	// Touch h1 so h2 becomes the eviction candidate.
	if _, ok := c.Get(h1); !ok {
		t.Fatalf("expected h1 cached")
	}
	c.Put(h3, []byte("cccc"), testPeerID(1), nil)

	if _, ok := c.Get(h2); ok {
		t.Fatalf("expected h2 evicted as least recently used")
	}
	if _, ok := c.Get(h1); !ok {
		t.Fatalf("expected h1 retained after recent use")
	}
	if _, ok := c.Get(h3); !ok {
		t.Fatalf("expected h3 retained as newest entry")
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries after eviction, got %d", c.Len())
	}
}

func TestRemoteCacheReplacingEntryAdjustsSize(t *testing.T) {
	c := NewRemoteCache(8)
	h := ContentHash([]byte("replace"))
	c.Put(h, []byte("12345678"), testPeerID(1), nil)
	c.Put(h, []byte("1234"), testPeerID(2), nil)
	art, ok := c.Get(h)
	if !ok {
		t.Fatalf("expected entry present after replacement")
	}
	if string(art.Bytes) != "1234" || art.SourcePeer != testPeerID(2) {
		t.Fatalf("expected replaced entry, got %q from %v", art.Bytes, art.SourcePeer)
	}
	if c.Len() != 1 {
		t.Fatalf("expected a single entry, got %d", c.Len())
	}
}
