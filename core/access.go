package core

// access.go – the Access Controller (§4.6): visibility enforcement,
// allow/deny lists, bond floors and per-peer rate limiting, keyed off each
// artifact's own manifest.Access field rather than a global role store,
// since visibility and grants are a property of the artifact, not a
// globally granted role.

import (
	"sync"
	"time"
)

// rateBucket is a simple token bucket: one instance per peer, refilled at
// a fixed rate and drained one token per query.
type rateBucket struct {
	tokens   float64
	lastFill time.Time
}

// AccessController enforces §4.6 on every Preview/Pay/Deliver call. A
// single instance is shared by the Query pipeline and the CLI's manual
// grant/revoke commands.
type AccessController struct {
	mu        sync.Mutex
	store     *ContentStore
	rate      map[PeerID]*rateBucket
	rateLimit float64 // tokens per second
	burst     float64
}

func NewAccessController(store *ContentStore, ratePerSecond, burst float64) *AccessController {
	return &AccessController{
		store:     store,
		rate:      make(map[PeerID]*rateBucket),
		rateLimit: ratePerSecond,
		burst:     burst,
	}
}

// CheckAccess enforces visibility + allow/deny + bond for requester against
// hash. It deliberately returns ErrNotFound rather than ErrAccessDenied for
// any case where disclosing denial would leak the existence of Private
// content, per §4.6's non-disclosure rule.
func (ac *AccessController) CheckAccess(hash Hash, requester PeerID, bond uint64) error {
	man, err := ac.store.GetManifest(hash)
	if err != nil {
		return ErrNotFound
	}
	if man.Visibility == Deleted {
		return ErrNotFound
	}
	if man.Owner == requester {
		return nil // owners always have access to their own artifact
	}

	switch man.Visibility {
	case Private:
		if !containsPeer(man.Access.Allowlist, requester) {
			return ErrNotFound
		}
	case Unlisted:
		if containsPeer(man.Access.Denylist, requester) {
			return ErrAccessDenied
		}
		if len(man.Access.Allowlist) > 0 && !containsPeer(man.Access.Allowlist, requester) {
			return ErrAccessDenied
		}
	case Shared:
		// Allowlist is ignored for Shared: anyone may query unless denylisted.
		if containsPeer(man.Access.Denylist, requester) {
			return ErrAccessDenied
		}
	default:
		return ErrAccessDenied
	}

	if man.Access.BondMin > 0 && bond < man.Access.BondMin {
		return ErrBondTooLow
	}
	return nil
}

// Allow reports whether requester may issue another query right now,
// consuming a token if so. Call once per Preview/Pay attempt.
func (ac *AccessController) Allow(requester PeerID) bool {
	if ac.rateLimit <= 0 {
		return true
	}
	ac.mu.Lock()
	defer ac.mu.Unlock()

	now := time.Now()
	b, ok := ac.rate[requester]
	if !ok {
		b = &rateBucket{tokens: ac.burst, lastFill: now}
		ac.rate[requester] = b
	}
	elapsed := now.Sub(b.lastFill).Seconds()
	b.tokens += elapsed * ac.rateLimit
	if b.tokens > ac.burst {
		b.tokens = ac.burst
	}
	b.lastFill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func containsPeer(list []PeerID, p PeerID) bool {
	for _, x := range list {
		if x == p {
			return true
		}
	}
	return false
}

// Grant adds peer to hash's allowlist. It returns ErrAccessDenied unless
// owner is the manifest's Owner.
func (ac *AccessController) Grant(hash Hash, owner, peer PeerID) error {
	man, err := ac.store.GetManifest(hash)
	if err != nil {
		return err
	}
	if man.Owner != owner {
		return ErrAccessDenied
	}
	if containsPeer(man.Access.Allowlist, peer) {
		return nil
	}
	man.Access.Allowlist = append(man.Access.Allowlist, peer)
	return ac.store.UpdateManifest(hash, man)
}

// Revoke removes peer from hash's allowlist, or adds it to the denylist if
// it was never explicitly allowed (defence in depth against Shared content
// an owner wants to keep out a specific peer's hands).
func (ac *AccessController) Revoke(hash Hash, owner, peer PeerID) error {
	man, err := ac.store.GetManifest(hash)
	if err != nil {
		return err
	}
	if man.Owner != owner {
		return ErrAccessDenied
	}
	found := false
	filtered := man.Access.Allowlist[:0]
	for _, p := range man.Access.Allowlist {
		if p == peer {
			found = true
			continue
		}
		filtered = append(filtered, p)
	}
	man.Access.Allowlist = filtered
	if !found && !containsPeer(man.Access.Denylist, peer) {
		man.Access.Denylist = append(man.Access.Denylist, peer)
	}
	return ac.store.UpdateManifest(hash, man)
}
