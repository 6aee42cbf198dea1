package core

// types.go – centralised struct and type declarations shared across the
// engine. Kept as a single file to avoid import cycles between the
// component files below: every component in this package refers back to
// these types.

import (
	"encoding/hex"
	"fmt"
	"time"
)

//---------------------------------------------------------------------
// Identifiers
//---------------------------------------------------------------------

// PeerID is the 20-byte identifier derived from a node's Ed25519 public key
// (first 20 bytes of SHA-256(0x00||pubkey)), per §4.1.
type PeerID [20]byte

func (p PeerID) Hex() string { return "0x" + hex.EncodeToString(p[:]) }

func (p PeerID) Short() string {
	full := hex.EncodeToString(p[:])
	if len(full) <= 8 {
		return full
	}
	return fmt.Sprintf("%s..%s", full[:4], full[len(full)-4:])
}

func (p PeerID) String() string { return p.Hex() }

// Hash is a 32-byte SHA-256 digest, content-addressing artifacts and
// identifying payments, batches and channels.
type Hash [32]byte

func (h Hash) Hex() string  { return hex.EncodeToString(h[:]) }
func (h Hash) String() string { return h.Hex() }

func (h Hash) Short() string {
	full := h.Hex()
	return fmt.Sprintf("%s..%s", full[:6], full[len(full)-6:])
}

func (h Hash) IsZero() bool { return h == Hash{} }

// NodeID is the transport-level string identifier (libp2p peer id) of a
// connected host, distinct from the protocol-level PeerID above — a given
// PeerID may dial in from different transport addresses over its lifetime.
type NodeID string

//---------------------------------------------------------------------
// Content classification (§3, GLOSSARY)
//---------------------------------------------------------------------

// ContentType classifies an artifact along the provenance hierarchy.
type ContentType uint8

const (
	ContentL0 ContentType = iota // raw source bytes
	ContentL1                    // atomic facts extracted from a single L0
	ContentL3                    // emergent insight derived from L0/L1/L3 sources
)

func (c ContentType) String() string {
	switch c {
	case ContentL0:
		return "L0"
	case ContentL1:
		return "L1"
	case ContentL3:
		return "L3"
	default:
		return "unknown"
	}
}

// Visibility is the artifact's publication state (§4.5 state machine).
type Visibility uint8

const (
	Private Visibility = iota
	Unlisted
	Shared
	Deleted
)

func (v Visibility) String() string {
	switch v {
	case Private:
		return "private"
	case Unlisted:
		return "unlisted"
	case Shared:
		return "shared"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

//---------------------------------------------------------------------
// Version (§3)
//---------------------------------------------------------------------

type Version struct {
	Number    uint64    `json:"number"`
	Previous  *Hash     `json:"previous,omitempty"`
	Root      Hash      `json:"root"`
	Timestamp time.Time `json:"timestamp"`
}

//---------------------------------------------------------------------
// Provenance (§3)
//---------------------------------------------------------------------

// RootEntry is one weighted L0/L1 ancestor contribution.
type RootEntry struct {
	Hash       Hash       `json:"hash"`
	Owner      PeerID     `json:"owner"`
	Visibility Visibility `json:"visibility"`
	Weight     uint64     `json:"weight"`
}

type Provenance struct {
	RootL0L1    []RootEntry `json:"root_l0l1"`
	DerivedFrom []Hash      `json:"derived_from"`
	Depth       uint32      `json:"depth"`
}

//---------------------------------------------------------------------
// Metadata / economics (§3)
//---------------------------------------------------------------------

type Metadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type Economics struct {
	Price        uint64 `json:"price"`         // smallest token unit
	TotalQueries uint64 `json:"total_queries"`
	TotalEarned  uint64 `json:"total_earned"`
}

type AccessControl struct {
	Allowlist []PeerID `json:"allowlist,omitempty"`
	Denylist  []PeerID `json:"denylist,omitempty"`
	BondMin   uint64   `json:"bond_min"`
}

//---------------------------------------------------------------------
// Manifest / Artifact (§3)
//---------------------------------------------------------------------

type Manifest struct {
	Hash          Hash          `json:"hash"`
	ContentType   ContentType   `json:"content_type"`
	Owner         PeerID        `json:"owner"`
	Version       Version       `json:"version"`
	Visibility    Visibility    `json:"visibility"`
	Access        AccessControl `json:"access"`
	Metadata      Metadata      `json:"metadata"`
	Economics     Economics     `json:"economics"`
	Provenance    Provenance    `json:"provenance"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// StoredContent is the content-store record for one artifact.
type StoredContent struct {
	Manifest  Manifest    `json:"manifest"`
	Bytes     []byte      `json:"-"` // never marshalled into the manifest index
	L1Summary *L1Summary  `json:"l1_summary,omitempty"`
}

// L1Summary is produced (optionally, once) by the external EntityExtractor.
type L1Summary struct {
	Facts     []string  `json:"facts"`
	Generated time.Time `json:"generated"`
}

//---------------------------------------------------------------------
// Cached artifact (§3) — presence is the "has been queried" predicate
//---------------------------------------------------------------------

type CachedArtifact struct {
	Bytes      []byte    `json:"-"`
	SourcePeer PeerID    `json:"source_peer"`
	QueriedAt  time.Time `json:"queried_at"`
	Receipt    []byte    `json:"receipt"`
}

//---------------------------------------------------------------------
// Payments & channels (§3)
//---------------------------------------------------------------------

type ChannelState uint8

const (
	ChannelNone ChannelState = iota
	ChannelOpening
	ChannelOpen
	ChannelClosing
	ChannelClosed
	ChannelDisputed
	ChannelFailed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelNone:
		return "none"
	case ChannelOpening:
		return "opening"
	case ChannelOpen:
		return "open"
	case ChannelClosing:
		return "closing"
	case ChannelClosed:
		return "closed"
	case ChannelDisputed:
		return "disputed"
	case ChannelFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Payment is a single signed micropayment applied to a channel.
type Payment struct {
	ID               Hash      `json:"id"`
	Amount           uint64    `json:"amount"`
	Recipient        PeerID    `json:"recipient"`
	QueryHash        Hash      `json:"query_hash"`
	ProvenanceSnap   Provenance `json:"provenance_snapshot"`
	Timestamp        time.Time `json:"timestamp"`
	Nonce            uint64    `json:"nonce"`
	Signature        []byte    `json:"signature"`
	Settled          bool      `json:"settled"`
}

// Channel is the bilateral off-chain accounting relationship, owned
// single-writer by the ChannelEngine (core/channel.go).
type Channel struct {
	Self            PeerID       `json:"self"`
	Counterparty    PeerID       `json:"counterparty"`
	State           ChannelState `json:"state"`
	MyBalance       uint64       `json:"my_balance"`
	TheirBalance    uint64       `json:"their_balance"`
	Nonce           uint64       `json:"nonce"`
	LastUpdate      time.Time    `json:"last_update"`
	PendingPayments []Payment    `json:"pending_payments"`
	DisputeStarted  time.Time    `json:"dispute_started,omitempty"`
	DisputeState    *ChannelSnapshot `json:"dispute_state,omitempty"`
}

// ChannelSnapshot is the signed state exchanged at open/update/dispute time.
type ChannelSnapshot struct {
	Counterparty PeerID       `json:"counterparty"`
	MyBalance    uint64       `json:"my_balance"`
	TheirBalance uint64       `json:"their_balance"`
	Nonce        uint64       `json:"nonce"`
	SigSelf      []byte       `json:"sig_self"`
	SigPeer      []byte       `json:"sig_peer"`
}

//---------------------------------------------------------------------
// Distribution / Settlement (§3)
//---------------------------------------------------------------------

// DistributionCredit is one share owed to a recipient from a single payment.
type DistributionCredit struct {
	Recipient       PeerID `json:"recipient"`
	Amount          uint64 `json:"amount"`
	ArtifactHash    Hash   `json:"artifact_hash"`
	PaymentID       Hash   `json:"payment_id"`
}

// SettlementEntry aggregates credits for one recipient inside a batch.
type SettlementEntry struct {
	Recipient                PeerID `json:"recipient"`
	Amount                   uint64 `json:"amount"`
	ContributingPaymentIDs   []Hash `json:"contributing_payment_ids"`
	ContributingArtifactHashes []Hash `json:"contributing_artifact_hashes"`
}

// SettlementBatch is a deterministic aggregation anchored to the external ledger.
type SettlementBatch struct {
	BatchID         Hash              `json:"batch_id"`
	MerkleRoot      Hash              `json:"merkle_root_of_entries"`
	Entries         []SettlementEntry `json:"entries"`
	CreatedAt       time.Time         `json:"created_at"`
	Confirmed       bool              `json:"confirmed"`
	TxID            string            `json:"tx_id,omitempty"`
	Block           uint64            `json:"block,omitempty"`
	ConfirmedAt     time.Time         `json:"confirmed_at,omitempty"`
	Attempts        uint32            `json:"attempts"`
	NextRetryAt     time.Time         `json:"next_retry_at,omitempty"`
}

//---------------------------------------------------------------------
// Peer / network structs (transport layer)
//---------------------------------------------------------------------

type Peer struct {
	ID      NodeID
	Addr    string
	Latency time.Duration
}

type Message struct {
	From  NodeID
	Topic string
	Data  []byte
}

type NetworkMessage struct {
	Topic     string `json:"topic"`
	Content   []byte `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

type InboundMsg struct {
	PeerID  string `json:"peer_id"`
	Payload []byte `json:"payload"`
	Topic   string `json:"topic"`
	Ts      int64  `json:"ts"`
}

type PeerInfo struct {
	ID      PeerID  `json:"id"`
	Addr    string  `json:"addr"`
	RTT     float64 `json:"rtt_ms"`
	Updated int64   `json:"updated_unix"`
}

// Config bootstraps a Node (§6 persisted/listen configuration).
type Config struct {
	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string
}
