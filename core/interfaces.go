package core

// interfaces.go – the four externally-consumed interfaces from §6:
// Transport, Discovery, AnchorLedger (the anchoring chain, distinct from the
// local core.Ledger state engine in ledger.go) and EntityExtractor. The
// core package is written against these, never against a concrete
// implementation directly, so a test can supply an in-memory fake and the
// daemon can wire the libp2p-backed defaults in core/network.go and
// core/discovery.go.

import "context"

// Transport sends and receives wire envelopes between peers. The default
// implementation (core/network.go's Node) carries them over libp2p
// streams.
type Transport interface {
	Send(ctx context.Context, peer PeerID, envelope []byte) error
	Subscribe(topic string) (<-chan InboundMsg, error)
	Publish(ctx context.Context, topic string, payload []byte) error
	Self() PeerID
}

// Discovery resolves a content hash (or a peer identifier) to candidate
// peer addresses. The default implementation (core/discovery.go) layers a
// Kademlia-style lookup table over pubsub announce/search topics.
type Discovery interface {
	Announce(ctx context.Context, hash Hash) error
	AnnounceUpdate(ctx context.Context, versionRoot Hash, newVersion uint64) error
	Withdraw(ctx context.Context, hash Hash) error
	Search(ctx context.Context, hash Hash) ([]PeerID, error)
	Lookup(ctx context.Context, peer PeerID) (addr string, ok bool)
}

// AnchorLedger is the external settlement chain the Settlement Batcher
// submits batches to. It is intentionally minimal — Nodalync does not ship
// a concrete ledger/consensus implementation of its own.
type AnchorLedger interface {
	SubmitBatch(ctx context.Context, batch SettlementBatch) (txID string, err error)
	Confirmations(ctx context.Context, txID string) (confirmed bool, block uint64, err error)
}

// EntityExtractor optionally produces an L1Summary for a stored L0
// artifact. Nodalync ships no NLP/entity-extraction logic of its own; any
// concrete extractor is injected by the caller.
type EntityExtractor interface {
	Extract(ctx context.Context, data []byte) (L1Summary, error)
}
