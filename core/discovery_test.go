package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeTransport is an in-memory Transport: Publish on a topic fans out to
// every channel returned by a prior Subscribe to that topic, letting
// DiscoveryAdapter tests exercise the announce/search gossip flow without
// a real libp2p host.
type fakeTransport struct {
	mu     sync.Mutex
	self   PeerID
	topics map[string][]chan InboundMsg
}

func newFakeTransport(self PeerID) *fakeTransport {
	return &fakeTransport{self: self, topics: make(map[string][]chan InboundMsg)}
}

func (f *fakeTransport) Self() PeerID { return f.self }

func (f *fakeTransport) Subscribe(topic string) (<-chan InboundMsg, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan InboundMsg, 16)
	f.topics[topic] = append(f.topics[topic], ch)
	return ch, nil
}

func (f *fakeTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	subs := append([]chan InboundMsg(nil), f.topics[topic]...)
	f.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- InboundMsg{Topic: topic, Payload: payload, PeerID: f.self.Hex()}:
		default:
		}
	}
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, peer PeerID, envelope []byte) error {
	return nil
}

func TestDiscoveryAdapterAnnounceIndexesLocally(t *testing.T) {
	self := testPeerID(1)
	tr := newFakeTransport(self)
	d := NewDiscoveryAdapter(tr, NodeID(self.Hex()))

	artifact := ContentHash([]byte("announced-artifact"))
	if err := d.Announce(context.Background(), artifact); err != nil {
		t.Fatalf("Announce: %v", err)
	}

	providers, err := d.Search(context.Background(), artifact)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(providers) != 1 || providers[0] != self {
		t.Fatalf("expected local index to contain self as provider, got %v", providers)
	}
}

func TestDiscoveryAdapterSearchRoundTripsOverTransport(t *testing.T) {
	seeker := testPeerID(2)
	provider := testPeerID(3)

	seekerTr := newFakeTransport(seeker)
	providerTr := newFakeTransport(provider)

	// Bridge the two fake transports: publishing on one forwards to the
	// other's subscribers, imitating a shared pubsub mesh.
	bridge := func(a, b *fakeTransport, topic string) {
		ch, _ := a.Subscribe(topic)
		go func() {
			for msg := range ch {
				_ = b.Publish(context.Background(), topic, msg.Payload)
			}
		}()
	}

	seekerAdapter := NewDiscoveryAdapter(seekerTr, NodeID(seeker.Hex()))
	providerAdapter := NewDiscoveryAdapter(providerTr, NodeID(provider.Hex()))

	bridge(seekerTr, providerTr, "nodalync/discovery/search/request")
	bridge(providerTr, seekerTr, "nodalync/discovery/search/response")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := providerAdapter.Listen(ctx); err != nil {
		t.Fatalf("provider Listen: %v", err)
	}
	if err := seekerAdapter.Listen(ctx); err != nil {
		t.Fatalf("seeker Listen: %v", err)
	}

	artifact := ContentHash([]byte("shared-artifact"))
	if err := providerAdapter.Announce(ctx, artifact); err != nil {
		t.Fatalf("Announce: %v", err)
	}

	providers, err := seekerAdapter.Search(ctx, artifact)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(providers) != 1 || providers[0] != provider {
		t.Fatalf("expected search to resolve provider %v, got %v", provider, providers)
	}
}

func TestDiscoveryAdapterWithdrawRemovesProviderRecord(t *testing.T) {
	self := testPeerID(5)
	tr := newFakeTransport(self)
	d := NewDiscoveryAdapter(tr, NodeID(self.Hex()))

	artifact := ContentHash([]byte("withdrawn-artifact"))
	if err := d.Announce(context.Background(), artifact); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if err := d.Withdraw(context.Background(), artifact); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if providers, _ := d.Search(ctx, artifact); len(providers) != 0 {
		t.Fatalf("expected no providers after withdrawal, got %v", providers)
	}
}

func TestDiscoveryAdapterLookupUnknownPeer(t *testing.T) {
	self := testPeerID(4)
	tr := newFakeTransport(self)
	d := NewDiscoveryAdapter(tr, NodeID(self.Hex()))

	if _, ok := d.Lookup(context.Background(), testPeerID(99)); ok {
		t.Fatalf("expected Lookup to report unknown for a peer never announced")
	}
}
