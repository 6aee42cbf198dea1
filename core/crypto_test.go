package core

import (
	"bytes"
	"testing"
	"time"
)

func TestContentHashIsDeterministicAndLengthSeparated(t *testing.T) {
	if ContentHash([]byte("abc")) != ContentHash([]byte("abc")) {
		t.Fatalf("expected identical input to hash identically")
	}
	if ContentHash([]byte("abc")) == ContentHash([]byte("abcd")) {
		t.Fatalf("expected distinct input to hash distinctly")
	}
	// The length prefix keeps a prefix and its extension from colliding even
	// under adversarial concatenation tricks.
	if ContentHash([]byte{}) == ContentHash([]byte{0}) {
		t.Fatalf("expected empty input and single zero byte to differ")
	}
}

func TestHashDomainsAreSeparated(t *testing.T) {
	data := []byte("same bytes, different domain")
	c, m, s := ContentHash(data), MessageHash(data), ChannelStateHash(data)
	if c == m || m == s || c == s {
		t.Fatalf("expected domain-tagged hash families to never collide on equal input")
	}
}

func TestIdentitySignVerify(t *testing.T) {
	id, _, err := NewRandomIdentity()
	if err != nil {
		t.Fatalf("NewRandomIdentity: %v", err)
	}
	h := MessageHash([]byte("sign me"))
	sig := id.Sign(h)
	if !Verify(id.PublicKey(), h, sig) {
		t.Fatalf("expected signature to verify under the signer's public key")
	}
	other := MessageHash([]byte("different message"))
	if Verify(id.PublicKey(), other, sig) {
		t.Fatalf("expected signature to fail against a different hash")
	}
	if Verify([]byte("short"), h, sig) {
		t.Fatalf("expected malformed public key to fail verification")
	}
}

func TestIdentityFromMnemonicIsDeterministic(t *testing.T) {
	id, mnemonic, err := NewRandomIdentity()
	if err != nil {
		t.Fatalf("NewRandomIdentity: %v", err)
	}
	recovered, err := IdentityFromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("IdentityFromMnemonic: %v", err)
	}
	if recovered.PeerID() != id.PeerID() {
		t.Fatalf("expected recovery to reproduce peer id %v, got %v", id.PeerID(), recovered.PeerID())
	}
	if !bytes.Equal(recovered.PublicKey(), id.PublicKey()) {
		t.Fatalf("expected recovery to reproduce the public key")
	}
}

func TestIdentityFromMnemonicRejectsBadChecksum(t *testing.T) {
	if _, err := IdentityFromMnemonic("legal winner thank year wave sausage worth useful legal winner thank thank", ""); err == nil {
		t.Fatalf("expected invalid mnemonic to be rejected")
	}
}

func TestSealOpenIdentityRoundTrip(t *testing.T) {
	id, _, err := NewRandomIdentity()
	if err != nil {
		t.Fatalf("NewRandomIdentity: %v", err)
	}
	sealed, err := SealIdentity(id, "correct horse")
	if err != nil {
		t.Fatalf("SealIdentity: %v", err)
	}
	opened, err := OpenIdentity(sealed, "correct horse")
	if err != nil {
		t.Fatalf("OpenIdentity: %v", err)
	}
	if opened.PeerID() != id.PeerID() {
		t.Fatalf("expected unsealed identity to match, got %v", opened.PeerID())
	}
}

func TestOpenIdentityWrongPassphrase(t *testing.T) {
	id, _, err := NewRandomIdentity()
	if err != nil {
		t.Fatalf("NewRandomIdentity: %v", err)
	}
	sealed, err := SealIdentity(id, "right")
	if err != nil {
		t.Fatalf("SealIdentity: %v", err)
	}
	if _, err := OpenIdentity(sealed, "wrong"); err != ErrKeystoreLocked {
		t.Fatalf("expected ErrKeystoreLocked for wrong passphrase, got %v", err)
	}
	if _, err := OpenIdentity([]byte("way too short"), "right"); err != ErrKeystoreLocked {
		t.Fatalf("expected ErrKeystoreLocked for truncated keystore, got %v", err)
	}
}

func TestReplayGuardRejectsDuplicateNonceAndSkew(t *testing.T) {
	g := NewReplayGuard(5 * time.Minute)
	p := testPeerID(1)
	now := time.Now()

	if err := g.Check(p, 1, now); err != nil {
		t.Fatalf("first nonce: %v", err)
	}
	if err := g.Check(p, 1, now); err != ErrReplay {
		t.Fatalf("expected ErrReplay for repeated nonce, got %v", err)
	}
	if err := g.Check(p, 2, now); err != nil {
		t.Fatalf("fresh nonce for same peer: %v", err)
	}
	if err := g.Check(testPeerID(2), 1, now); err != nil {
		t.Fatalf("same nonce from different peer should pass: %v", err)
	}
	if err := g.Check(p, 3, now.Add(-10*time.Minute)); err != ErrClockSkew {
		t.Fatalf("expected ErrClockSkew for stale timestamp, got %v", err)
	}
	if err := g.Check(p, 4, now.Add(10*time.Minute)); err != ErrClockSkew {
		t.Fatalf("expected ErrClockSkew for future timestamp, got %v", err)
	}
}
