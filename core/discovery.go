package core

// discovery.go – the Discovery Adapter (§4.11): layers a Kademlia-style
// hash->peer routing table over the Transport's pubsub announce/search
// topics. The local routing table uses NodeID-keyed distance buckets
// (kademlia.go); an in-memory provider index maps each hash to the set of
// peers currently announcing it.
//
// §4.11's invariant — a search response lists only Shared artifacts, and
// publishing Private/Unlisted content never produces a Discovery record —
// is enforced at the Announce call site (core/manifest.go's SetVisibility
// only triggers re-announcement when the new visibility is Shared) rather
// than by filtering at search time, so a node never even learns of a peer
// announcing non-Shared content.

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const (
	announceTopic = "nodalync/discovery/announce"
	searchTopic   = "nodalync/discovery/search"
)

// providerRecord is what travels on the announce topic and gets cached by
// every peer that overhears it.
type providerRecord struct {
	Hash    Hash   `json:"hash"`
	Peer    PeerID `json:"peer"`
	Addr    string `json:"addr"`
	Update  bool   `json:"update"`  // true for announce_update (new version root)
	Removed bool   `json:"removed"` // true when the peer withdraws the record
	Version uint64 `json:"version,omitempty"`
	At      int64  `json:"at"`
}

type searchRequest struct {
	RequestHash Hash   `json:"request_hash"`
	RequestID   uint64 `json:"request_id"`
	Query       string `json:"query,omitempty"`
}

type searchResponse struct {
	RequestID uint64           `json:"request_id"`
	Hash      Hash             `json:"hash"`
	Providers []providerRecord `json:"providers"`
}

// DiscoveryAdapter implements Discovery over a Transport: Announce/
// AnnounceUpdate gossip provider records on a shared topic; every node
// overhearing one indexes it locally in a Kademlia routing table keyed by
// content hash, so Search/Lookup are usually answered from local state
// without a network round-trip.
type DiscoveryAdapter struct {
	transport Transport
	kad       *Kademlia

	mu        sync.RWMutex
	providers map[Hash]map[PeerID]providerRecord
	addrs     map[PeerID]string

	reqMu   sync.Mutex
	nextReq uint64
	waiters map[uint64]chan []providerRecord
}

// NewDiscoveryAdapter constructs an adapter bound to transport. self seeds
// the local Kademlia table's own distance-zero point.
func NewDiscoveryAdapter(transport Transport, self NodeID) *DiscoveryAdapter {
	return &DiscoveryAdapter{
		transport: transport,
		kad:       NewKademlia(self),
		providers: make(map[Hash]map[PeerID]providerRecord),
		addrs:     make(map[PeerID]string),
		waiters:   make(map[uint64]chan []providerRecord),
	}
}

// Listen subscribes to the announce and search topics and must be called
// once before Announce/Search/Lookup are useful beyond purely local state.
// It runs until ctx is cancelled.
func (d *DiscoveryAdapter) Listen(ctx context.Context) error {
	announced, err := d.transport.Subscribe(announceTopic)
	if err != nil {
		return err
	}
	go d.consumeAnnouncements(announced)

	requests, err := d.transport.Subscribe(searchTopic + "/request")
	if err != nil {
		return err
	}
	go d.answerSearches(ctx, requests)

	responses, err := d.transport.Subscribe(searchTopic + "/response")
	if err != nil {
		return err
	}
	go d.consumeSearchResponses(responses)

	return nil
}

func (d *DiscoveryAdapter) consumeAnnouncements(ch <-chan InboundMsg) {
	for msg := range ch {
		var rec providerRecord
		if err := json.Unmarshal(msg.Payload, &rec); err != nil {
			continue
		}
		d.index(rec)
	}
}

func (d *DiscoveryAdapter) answerSearches(ctx context.Context, ch <-chan InboundMsg) {
	for msg := range ch {
		var req searchRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			continue
		}
		d.mu.RLock()
		provs := make([]providerRecord, 0, len(d.providers[req.RequestHash]))
		for _, p := range d.providers[req.RequestHash] {
			provs = append(provs, p)
		}
		d.mu.RUnlock()
		if len(provs) == 0 {
			continue
		}
		resp := searchResponse{RequestID: req.RequestID, Hash: req.RequestHash, Providers: provs}
		body, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		_ = d.transport.Publish(ctx, searchTopic+"/response", body)
	}
}

func (d *DiscoveryAdapter) consumeSearchResponses(ch <-chan InboundMsg) {
	for msg := range ch {
		var resp searchResponse
		if err := json.Unmarshal(msg.Payload, &resp); err != nil {
			continue
		}
		for _, p := range resp.Providers {
			d.index(p)
		}
		d.reqMu.Lock()
		w, ok := d.waiters[resp.RequestID]
		d.reqMu.Unlock()
		if ok {
			select {
			case w <- resp.Providers:
			default:
			}
		}
	}
}

func (d *DiscoveryAdapter) index(rec providerRecord) {
	d.mu.Lock()
	if rec.Removed {
		if provs := d.providers[rec.Hash]; provs != nil {
			delete(provs, rec.Peer)
			if len(provs) == 0 {
				delete(d.providers, rec.Hash)
			}
		}
		d.mu.Unlock()
		return
	}
	if d.providers[rec.Hash] == nil {
		d.providers[rec.Hash] = make(map[PeerID]providerRecord)
	}
	d.providers[rec.Hash][rec.Peer] = rec
	d.addrs[rec.Peer] = rec.Addr
	d.mu.Unlock()
	d.kad.AddPeer(NodeID(rec.Peer.Hex()))
	d.kad.Store(rec.Hash.Hex(), []byte(rec.Addr))
}

// Announce publishes this node as a provider of hash. Callers (manifest.go's
// SetVisibility) must only invoke this for artifacts whose Visibility is
// Shared — Announce itself does not re-check visibility, since by the time a
// hash reaches here the caller has already decided it is publishable.
func (d *DiscoveryAdapter) Announce(ctx context.Context, hash Hash) error {
	return d.publish(ctx, providerRecord{Hash: hash, Peer: d.transport.Self(), At: time.Now().Unix()})
}

// AnnounceUpdate re-announces hash's current version root, used when a
// Shared artifact is updated (§4.5's Update operation) so existing
// subscribers learn of the new version without a full Search.
func (d *DiscoveryAdapter) AnnounceUpdate(ctx context.Context, versionRoot Hash, newVersion uint64) error {
	return d.publish(ctx, providerRecord{
		Hash: versionRoot, Peer: d.transport.Self(), Update: true,
		Version: newVersion, At: time.Now().Unix(),
	})
}

// Withdraw retracts this node's provider record for hash, gossiped the
// same way an announcement travels. Issued when a Shared artifact leaves
// the Shared state (unpublish, delete).
func (d *DiscoveryAdapter) Withdraw(ctx context.Context, hash Hash) error {
	return d.publish(ctx, providerRecord{Hash: hash, Peer: d.transport.Self(), Removed: true, At: time.Now().Unix()})
}

func (d *DiscoveryAdapter) publish(ctx context.Context, rec providerRecord) error {
	d.index(rec)
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return d.transport.Publish(ctx, announceTopic, body)
}

// Search returns known providers of hash, consulting local state first and
// falling back to a network round-trip (bounded by ctx) when nothing is
// cached locally.
func (d *DiscoveryAdapter) Search(ctx context.Context, hash Hash) ([]PeerID, error) {
	d.mu.RLock()
	local := d.providers[hash]
	d.mu.RUnlock()
	if len(local) > 0 {
		out := make([]PeerID, 0, len(local))
		for p := range local {
			out = append(out, p)
		}
		return out, nil
	}

	d.reqMu.Lock()
	d.nextReq++
	reqID := d.nextReq
	waiter := make(chan []providerRecord, 1)
	d.waiters[reqID] = waiter
	d.reqMu.Unlock()
	defer func() {
		d.reqMu.Lock()
		delete(d.waiters, reqID)
		d.reqMu.Unlock()
	}()

	body, err := json.Marshal(searchRequest{RequestHash: hash, RequestID: reqID})
	if err != nil {
		return nil, err
	}
	if err := d.transport.Publish(ctx, searchTopic+"/request", body); err != nil {
		return nil, err
	}

	select {
	case provs := <-waiter:
		out := make([]PeerID, 0, len(provs))
		for _, p := range provs {
			out = append(out, p.Peer)
		}
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Lookup resolves peer's last-known network address from provider records
// seen so far.
func (d *DiscoveryAdapter) Lookup(ctx context.Context, peer PeerID) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addr, ok := d.addrs[peer]
	return addr, ok
}

var _ Discovery = (*DiscoveryAdapter)(nil)
