package core

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func newTestStoreWithManifest(t *testing.T, owner PeerID, vis Visibility) (*ContentStore, Hash) {
	t.Helper()
	store := NewContentStore(log.StandardLogger())
	data := []byte("artifact bytes")
	hash := ContentHash(data)
	man := Manifest{
		Hash:       hash,
		Owner:      owner,
		Visibility: vis,
	}
	if err := store.Put(man, data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	return store, hash
}

func TestAccessControllerOwnerAlwaysAllowed(t *testing.T) {
	owner := testPeerID(1)
	store, hash := newTestStoreWithManifest(t, owner, Private)
	ac := NewAccessController(store, 0, 0)
	if err := ac.CheckAccess(hash, owner, 0); err != nil {
		t.Fatalf("expected owner access, got %v", err)
	}
}

func TestAccessControllerPrivateDeniesUnlistedRequester(t *testing.T) {
	owner, stranger := testPeerID(1), testPeerID(2)
	store, hash := newTestStoreWithManifest(t, owner, Private)
	ac := NewAccessController(store, 0, 0)
	if err := ac.CheckAccess(hash, stranger, 0); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for non-disclosure, got %v", err)
	}
}

func TestAccessControllerGrantThenAllowsPrivateRequester(t *testing.T) {
	owner, grantee := testPeerID(1), testPeerID(2)
	store, hash := newTestStoreWithManifest(t, owner, Private)
	ac := NewAccessController(store, 0, 0)

	if err := ac.Grant(hash, owner, grantee); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := ac.CheckAccess(hash, grantee, 0); err != nil {
		t.Fatalf("expected grantee access after Grant, got %v", err)
	}
}

func TestAccessControllerRevokeFallsBackToDenylist(t *testing.T) {
	owner, stranger := testPeerID(1), testPeerID(2)
	store, hash := newTestStoreWithManifest(t, owner, Shared)
	ac := NewAccessController(store, 0, 0)

	if err := ac.CheckAccess(hash, stranger, 0); err != nil {
		t.Fatalf("expected Shared content open by default, got %v", err)
	}
	if err := ac.Revoke(hash, owner, stranger); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := ac.CheckAccess(hash, stranger, 0); err != ErrAccessDenied {
		t.Fatalf("expected ErrAccessDenied after revoke, got %v", err)
	}
}

func TestAccessControllerSharedIgnoresAllowlist(t *testing.T) {
	owner, allowed, other := testPeerID(1), testPeerID(2), testPeerID(3)
	store, hash := newTestStoreWithManifest(t, owner, Shared)
	ac := NewAccessController(store, 0, 0)

	if err := ac.Grant(hash, owner, allowed); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := ac.CheckAccess(hash, other, 0); err != nil {
		t.Fatalf("expected Shared content to admit a non-allowlisted peer, got %v", err)
	}
}

func TestAccessControllerBondFloor(t *testing.T) {
	owner, requester := testPeerID(1), testPeerID(2)
	store, hash := newTestStoreWithManifest(t, owner, Shared)
	man, _ := store.GetManifest(hash)
	man.Access.BondMin = 100
	if err := store.UpdateManifest(hash, man); err != nil {
		t.Fatalf("UpdateManifest: %v", err)
	}
	ac := NewAccessController(store, 0, 0)

	if err := ac.CheckAccess(hash, requester, 50); err != ErrBondTooLow {
		t.Fatalf("expected ErrBondTooLow, got %v", err)
	}
	if err := ac.CheckAccess(hash, requester, 100); err != nil {
		t.Fatalf("expected sufficient bond to pass, got %v", err)
	}
}

func TestAccessControllerRateLimiting(t *testing.T) {
	store := NewContentStore(log.StandardLogger())
	ac := NewAccessController(store, 1, 1) // 1 token, refilled 1/sec
	requester := testPeerID(5)

	if !ac.Allow(requester) {
		t.Fatalf("expected first query to be allowed (burst token available)")
	}
	if ac.Allow(requester) {
		t.Fatalf("expected second immediate query to be rate limited")
	}
}

func TestAccessControllerUnlimitedRateWhenZero(t *testing.T) {
	store := NewContentStore(log.StandardLogger())
	ac := NewAccessController(store, 0, 0)
	requester := testPeerID(6)
	for i := 0; i < 5; i++ {
		if !ac.Allow(requester) {
			t.Fatalf("expected unlimited access when rateLimit is 0")
		}
	}
}
