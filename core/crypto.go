package core

// crypto.go – node identity, domain-separated hashing and the at-rest
// keystore. A single node identity is derived from a BIP-39 mnemonic via
// a SLIP-0010-style hardened-only HMAC-SHA512 step (no multi-account
// wallet surface, since a node has exactly one keypair), and PeerID is a
// pure SHA-256 domain-tagged hash of the public key.

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"
)

//---------------------------------------------------------------------
// Domain separation tags (§4.1)
//---------------------------------------------------------------------

const (
	tagContentHash      byte = 0x00
	tagMessageHash      byte = 0x01
	tagChannelStateHash byte = 0x02
)

// ContentHash domain-separates content-addressing digests from every other
// hash family in the system so that a content blob can never collide with a
// signed message or a channel state under the same 32-byte value. The
// length prefix ensures two distinct byte strings where one is a prefix of
// the other never collide under naive concatenation.
func ContentHash(data []byte) Hash {
	h := sha256.New()
	h.Write([]byte{tagContentHash})
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(data)))
	h.Write(length[:])
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// MessageHash is the digest signed over a wire Payment/Envelope body.
func MessageHash(data []byte) Hash {
	h := sha256.New()
	h.Write([]byte{tagMessageHash})
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// ChannelStateHash is the digest signed over a ChannelSnapshot.
func ChannelStateHash(data []byte) Hash {
	h := sha256.New()
	h.Write([]byte{tagChannelStateHash})
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// peerIDFromPubKey derives a PeerID as the first 20 bytes of
// SHA-256(0x00 || pubkey) — a single SHA-256 pass, with no RIPEMD-160 step.
func peerIDFromPubKey(pub ed25519.PublicKey) PeerID {
	h := sha256.New()
	h.Write([]byte{tagContentHash})
	h.Write(pub)
	sum := h.Sum(nil)
	var out PeerID
	copy(out[:], sum[:20])
	return out
}

//---------------------------------------------------------------------
// Identity
//---------------------------------------------------------------------

const masterHMACKey = "ed25519 seed" // SLIP-0010 master-key string

// Identity holds a node's long-lived Ed25519 keypair in memory. Private key
// material must never be logged or persisted unencrypted; use SealIdentity
// for that.
type Identity struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	id   PeerID
}

func (id *Identity) PeerID() PeerID           { return id.id }
func (id *Identity) PublicKey() ed25519.PublicKey { return id.pub }

// Sign produces a raw Ed25519 signature over an already domain-tagged hash.
func (id *Identity) Sign(h Hash) []byte {
	return ed25519.Sign(id.priv, h[:])
}

// Verify checks sig against pub over a domain-tagged hash.
func Verify(pub ed25519.PublicKey, h Hash, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, h[:], sig)
}

// NewRandomIdentity generates a fresh identity from 256 bits of entropy and
// returns its BIP-39 recovery mnemonic. Callers are responsible for storing
// the mnemonic (or the sealed keystore from SealIdentity) and wiping it
// afterwards.
func NewRandomIdentity() (*Identity, string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return nil, "", fmt.Errorf("crypto: entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", fmt.Errorf("crypto: mnemonic: %w", err)
	}
	seed := bip39.NewSeed(mnemonic, "")
	id, err := identityFromSeed(seed)
	if err != nil {
		return nil, "", err
	}
	return id, mnemonic, nil
}

// IdentityFromMnemonic recovers an Identity from an existing BIP-39 phrase.
func IdentityFromMnemonic(mnemonic, passphrase string) (*Identity, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("crypto: invalid mnemonic checksum")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	return identityFromSeed(seed)
}

func identityFromSeed(seed []byte) (*Identity, error) {
	if len(seed) < 16 {
		return nil, errors.New("crypto: seed too short")
	}
	I := hmacSHA512([]byte(masterHMACKey), seed)
	masterKey := I[:32]

	// Single hardened derivation step (m/0') — Nodalync identities are not
	// multi-account wallets, so one level is sufficient to separate the
	// signing key from the raw master key.
	const hardenedOffset uint32 = 0x80000000
	data := make([]byte, 1+32+4)
	copy(data[1:], masterKey)
	binary.BigEndian.PutUint32(data[33:], hardenedOffset)
	childI := hmacSHA512(I[32:], data)

	priv := ed25519.NewKeyFromSeed(childI[:32])
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{priv: priv, pub: pub, id: peerIDFromPubKey(pub)}, nil
}

func hmacSHA512(key, data []byte) []byte {
	h := hmac.New(sha512.New, key)
	h.Write(data)
	return h.Sum(nil)
}

//---------------------------------------------------------------------
// Replay / clock-skew guard for signed wire messages (§4.1, §7)
//---------------------------------------------------------------------

// ReplayGuard rejects messages whose timestamp has drifted too far from
// local time, or whose nonce has already been consumed for a given peer.
// One guard instance is owned per inbound connection / channel.
type ReplayGuard struct {
	maxSkew time.Duration
	seen    map[PeerID]map[uint64]struct{}
}

func NewReplayGuard(maxSkew time.Duration) *ReplayGuard {
	return &ReplayGuard{maxSkew: maxSkew, seen: make(map[PeerID]map[uint64]struct{})}
}

func (g *ReplayGuard) Check(peer PeerID, nonce uint64, ts time.Time) error {
	if d := time.Since(ts); d > g.maxSkew || d < -g.maxSkew {
		return ErrClockSkew
	}
	perPeer, ok := g.seen[peer]
	if !ok {
		perPeer = make(map[uint64]struct{})
		g.seen[peer] = perPeer
	}
	if _, dup := perPeer[nonce]; dup {
		return ErrReplay
	}
	perPeer[nonce] = struct{}{}
	return nil
}

//---------------------------------------------------------------------
// Keystore — encrypted-at-rest identity persistence (§6)
//---------------------------------------------------------------------

// SealIdentity encrypts an Identity's 32-byte Ed25519 seed with a key
// derived from passphrase via HKDF-SHA256, using AES-GCM. The sealed record
// is what the CLI writes to the node's data directory, so an identity
// never sits on disk in plaintext.
func SealIdentity(id *Identity, passphrase string) ([]byte, error) {
	seed := id.priv.Seed()
	key, salt, err := deriveKeyMaterial(passphrase, nil)
	if err != nil {
		return nil, err
	}
	ct, err := sealAESGCM(seed, key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(salt)+len(ct))
	out = append(out, salt...)
	out = append(out, ct...)
	return out, nil
}

// sealAESGCM encrypts data under a raw 32-byte key, prefixing the random
// nonce onto the ciphertext. Shared by the identity keystore and by
// store.go's at-rest content encryption.
func sealAESGCM(data, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(crand.Reader, nonce); err != nil {
		return nil, err
	}
	ct := gcm.Seal(nil, nonce, data, nil)
	return append(nonce, ct...), nil
}

func openAESGCM(sealed, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	ns := gcm.NonceSize()
	if len(sealed) < ns {
		return nil, ErrKeystoreLocked
	}
	nonce, ct := sealed[:ns], sealed[ns:]
	return gcm.Open(nil, nonce, ct, nil)
}

// OpenIdentity reverses SealIdentity. Returns ErrKeystoreLocked if the
// passphrase is wrong (AEAD authentication failure).
func OpenIdentity(sealed []byte, passphrase string) (*Identity, error) {
	const saltLen = 16
	if len(sealed) < saltLen+12 {
		return nil, ErrKeystoreLocked
	}
	salt := sealed[:saltLen]
	rest := sealed[saltLen:]

	key, _, err := deriveKeyMaterial(passphrase, salt)
	if err != nil {
		return nil, err
	}
	seed, err := openAESGCM(rest, key)
	if err != nil {
		return nil, ErrKeystoreLocked
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{priv: priv, pub: pub, id: peerIDFromPubKey(pub)}, nil
}

func deriveKeyMaterial(passphrase string, salt []byte) (key, usedSalt []byte, err error) {
	if salt == nil {
		salt = make([]byte, 16)
		if _, err := io.ReadFull(crand.Reader, salt); err != nil {
			return nil, nil, err
		}
	}
	kdf := hkdf.New(sha256.New, []byte(passphrase), salt, []byte("nodalync-keystore"))
	key = make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, nil, err
	}
	return key, salt, nil
}
