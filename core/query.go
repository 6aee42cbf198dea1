package core

// query.go – the Query pipeline (§4.8): Preview (free manifest lookup) →
// Pay (signed payment against a frozen provenance snapshot) → Deliver
// (bytes + signed receipt), each step in a "look up, check access,
// transfer, record" shape.

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// QueryPipeline wires the Content Store, Access Controller, Channel
// Manager and Distribution Engine together into the three-stage flow a
// querying peer drives.
type QueryPipeline struct {
	store  *ContentStore
	access *AccessController
	chans  *ChannelEngine
	dist   *DistributionEngine
	cache  *RemoteCache
	id     *Identity
	log    *zap.SugaredLogger
}

func NewQueryPipeline(store *ContentStore, access *AccessController, chans *ChannelEngine, dist *DistributionEngine, cache *RemoteCache, id *Identity, lg *zap.SugaredLogger) *QueryPipeline {
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	return &QueryPipeline{store: store, access: access, chans: chans, dist: dist, cache: cache, id: id, log: lg}
}

// PreviewResult is what Preview returns: enough for a requester to decide
// whether to pay, without revealing the artifact's bytes.
type PreviewResult struct {
	Manifest Manifest
}

// Preview is free and unauthenticated beyond the visibility/allow-deny
// check: it never charges a channel and never returns bytes.
func (q *QueryPipeline) Preview(ctx context.Context, hash Hash, requester PeerID) (PreviewResult, error) {
	if err := q.access.CheckAccess(hash, requester, 0); err != nil {
		return PreviewResult{}, err
	}
	man, err := q.store.GetManifest(hash)
	if err != nil {
		return PreviewResult{}, err
	}
	return PreviewResult{Manifest: man}, nil
}

// Pay builds and signs a Payment against hash's current provenance
// snapshot, applies it to the channel with counterparty, and returns the
// signed Payment the requester then presents to Deliver. The provenance
// snapshot is frozen at this point — Deliver re-checks it has not gone
// stale (§4.8's anti-staleness rule) before releasing bytes.
func (q *QueryPipeline) Pay(ctx context.Context, hash Hash, counterparty PeerID, nonce uint64) (Payment, error) {
	man, err := q.store.GetManifest(hash)
	if err != nil {
		return Payment{}, err
	}
	if !q.access.Allow(q.id.PeerID()) {
		return Payment{}, ErrRateLimited
	}

	p := Payment{
		Amount:         man.Economics.Price,
		Recipient:      man.Owner,
		QueryHash:      hash,
		ProvenanceSnap: man.Provenance,
		Timestamp:      time.Now().UTC(),
		Nonce:          nonce,
	}
	p.ID = MessageHash(paymentBody(p, q.id.PeerID()))
	p.Signature = q.id.Sign(p.ID)

	if err := q.chans.ApplyPayment(counterparty, p, true); err != nil {
		return Payment{}, err
	}
	q.log.Infow("query: payment applied", "artifact", hash.Short(), "amount", p.Amount, "payment", p.ID.Short())
	return p, nil
}

// Deliver validates a previously issued Payment (payer signature, amount ≥
// price, recipient == owner, and a frozen provenance snapshot equal to the
// queried artifact's *current* provenance, per §4.8) and returns the
// artifact bytes plus a signed receipt binding payment and content hash
// together. It does not check the payment's nonce.
func (q *QueryPipeline) Deliver(ctx context.Context, p Payment, payerPub []byte) ([]byte, []byte, error) {
	payer := peerIDFromPubKey(payerPub)
	if !Verify(payerPub, MessageHash(paymentBody(p, payer)), p.Signature) {
		return nil, nil, ErrBadSignature
	}

	man, err := q.store.GetManifest(p.QueryHash)
	if err != nil {
		return nil, nil, err
	}
	if p.Amount < man.Economics.Price {
		return nil, nil, ErrPaymentInvalid
	}
	if p.Recipient != man.Owner {
		return nil, nil, ErrPaymentInvalid
	}
	if !provenanceEqual(man.Provenance, p.ProvenanceSnap) {
		return nil, nil, ErrProvenanceMismatch
	}

	sc, err := q.store.Get(p.QueryHash)
	if err != nil {
		return nil, nil, err
	}

	rEnc := NewEncoder()
	rEnc.PutBytes(p.ID[:])
	rEnc.PutBytes(p.QueryHash[:])
	receipt := q.id.Sign(MessageHash(rEnc.Bytes()))

	q.log.Infow("query: delivered", "artifact", p.QueryHash.Short(), "payment", p.ID.Short())
	return sc.Bytes, receipt, nil
}

// paymentBody is the canonical byte string a Payment's ID and signature are
// computed over, rendered through the deterministic codec. The payer
// identifies the channel the payment debits, so two payers issuing
// otherwise identical payments can never collide on a payment id.
func paymentBody(p Payment, payer PeerID) []byte {
	enc := NewEncoder()
	enc.PutBytes(payer[:])
	enc.PutUint(p.Nonce)
	enc.PutUint(p.Amount)
	enc.PutBytes(p.Recipient[:])
	enc.PutBytes(p.QueryHash[:])
	return enc.Bytes()
}

// Accept is the querying side of Deliver: it verifies the returned bytes
// hash to the paid-for content hash and records the artifact in the remote
// cache, whose presence is what later entitles this node to derive from
// hash (§4.5's proof-of-query rule).
func (q *QueryPipeline) Accept(hash Hash, data []byte, source PeerID, receipt []byte) error {
	if ContentHash(data) != hash {
		return ErrInvalidHash
	}
	if q.cache != nil {
		q.cache.Put(hash, data, source, receipt)
	}
	return nil
}

func provenanceEqual(a, b Provenance) bool {
	if a.Depth != b.Depth || len(a.RootL0L1) != len(b.RootL0L1) || len(a.DerivedFrom) != len(b.DerivedFrom) {
		return false
	}
	for i := range a.RootL0L1 {
		if a.RootL0L1[i] != b.RootL0L1[i] {
			return false
		}
	}
	for i := range a.DerivedFrom {
		if a.DerivedFrom[i] != b.DerivedFrom[i] {
			return false
		}
	}
	return true
}
