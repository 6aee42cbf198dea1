package core

// network.go – the default libp2p-backed Transport (§6): a Node joins
// gossipsub topics, dials bootstrap/mDNS-discovered peers, and exposes
// Send/Subscribe/Publish/Self so the rest of the core package never
// touches libp2p directly. Peer bookkeeping carries both a transport-level
// NodeID and the domain PeerID together, since Nodalync addresses content
// and channels by PeerID rather than raw network identity alone.

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	host "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// nodalyncProtocol is the libp2p stream protocol Send writes direct,
// non-pubsub envelopes on (payments, receipts, provenance lookups).
const nodalyncProtocol = protocol.ID("/nodalync/1.0.0")

// Node is the concrete Transport: one libp2p host, one gossipsub router, and
// the bookkeeping needed to satisfy the Transport interface in interfaces.go.
type Node struct {
	host      host.Host
	pubsub    *pubsub.PubSub
	self      PeerID
	topics    map[string]*pubsub.Topic
	subs      map[string]*pubsub.Subscription
	topicLock sync.RWMutex
	subLock   sync.RWMutex
	peerLock  sync.RWMutex
	peers     map[NodeID]*Peer
	nat       *NATManager
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       Config
}

// NewNode creates and bootstraps a Nodalync P2P node. self is this node's
// PeerID (derived from its Identity), used to answer Transport.Self() and to
// tag inbound stream handlers.
func NewNode(cfg Config, self PeerID) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	// create libp2p host
	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create host: %w", err)
	}

	// setup pubsub
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}

	n := &Node{
		host:   h,
		pubsub: ps,
		self:   self,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		peers:  make(map[NodeID]*Peer),
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
	}
	h.SetStreamHandler(nodalyncProtocol, n.handleStream)

	natMgr, err := NewNATManager()
	if err == nil {
		if port, err := parsePort(cfg.ListenAddr); err == nil {
			if err := natMgr.Map(port); err != nil {
				logrus.Warnf("NAT map failed: %v", err)
			}
		}
		n.nat = natMgr
	} else {
		logrus.Warnf("NAT discovery failed: %v", err)
	}

	// bootstrap peers
	if err := n.DialSeed(cfg.BootstrapPeers); err != nil {
		logrus.Warnf("DialSeed warning: %v", err)
	}

	// mDNS discovery (this automatically registers n as a notifee)
	mdns.NewMdnsService(h, cfg.DiscoveryTag, n)

	return n, nil
}

// Ensure Node implements mdns.Notifee
var _ mdns.Notifee = (*Node)(nil)

// HandlePeerFound implements mdns.Notifee: connect to discovered peer.
// It ignores self-connections and avoids duplicating existing peers.
func (n *Node) HandlePeerFound(info peer.AddrInfo) {
	// Ignore discovery of our own host
	if info.ID == n.host.ID() {
		return
	}

	// Skip if we already know this peer
	n.peerLock.RLock()
	_, exists := n.peers[NodeID(info.ID.String())]
	n.peerLock.RUnlock()
	if exists {
		return
	}

	if err := n.host.Connect(n.ctx, info); err != nil {
		logrus.Warnf("Failed to connect to discovered peer %s: %v", info.ID.String(), err)
		return
	}

	n.peerLock.Lock()
	n.peers[NodeID(info.ID.String())] = &Peer{ID: NodeID(info.ID.String()), Addr: info.String()}
	n.peerLock.Unlock()
	logrus.Infof("Connected to peer %s via mDNS", info.ID.String())
}

// DialSeed connects to a list of bootstrap peers.
func (n *Node) DialSeed(seeds []string) error {
	var errs []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid addr %s: %v", addr, err))
			continue
		}
		if err := n.host.Connect(n.ctx, *pi); err != nil {
			errs = append(errs, fmt.Sprintf("connect %s: %v", addr, err))
			continue
		}
		n.peerLock.Lock()
		n.peers[NodeID(pi.ID.String())] = &Peer{ID: NodeID(pi.ID.String()), Addr: addr}
		n.peerLock.Unlock()
		logrus.Infof("Bootstrapped to %s", addr)
	}
	if len(errs) > 0 {
		return fmt.Errorf("dial errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Self implements Transport: this node's own PeerID.
func (n *Node) Self() PeerID { return n.self }

// Publish implements Transport: gossips payload to every peer subscribed to
// topic (used for content Announce/Search broadcasts — see discovery.go).
func (n *Node) Publish(ctx context.Context, topic string, payload []byte) error {
	n.topicLock.Lock()
	t, ok := n.topics[topic]
	if !ok {
		var err error
		t, err = n.pubsub.Join(topic)
		if err != nil {
			n.topicLock.Unlock()
			return fmt.Errorf("join topic %s: %w", topic, err)
		}
		n.topics[topic] = t
	}
	n.topicLock.Unlock()
	if err := t.Publish(ctx, payload); err != nil {
		return fmt.Errorf("publish topic %s: %w", topic, err)
	}
	return nil
}

// Subscribe implements Transport: joins topic and streams every message
// published to it as an InboundMsg, until the Node's context is cancelled.
func (n *Node) Subscribe(topic string) (<-chan InboundMsg, error) {
	n.subLock.Lock()
	sub, ok := n.subs[topic]
	if !ok {
		t, err := n.pubsub.Join(topic)
		if err != nil {
			n.subLock.Unlock()
			return nil, fmt.Errorf("join topic %s: %w", topic, err)
		}
		n.topicLock.Lock()
		n.topics[topic] = t
		n.topicLock.Unlock()
		sub, err = t.Subscribe()
		if err != nil {
			n.subLock.Unlock()
			return nil, fmt.Errorf("subscribe topic %s: %w", topic, err)
		}
		n.subs[topic] = sub
	}
	n.subLock.Unlock()
	out := make(chan InboundMsg)
	go func() {
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				logrus.Warnf("subscription next error: %v", err)
				close(out)
				return
			}
			out <- InboundMsg{PeerID: msg.GetFrom().String(), Payload: msg.Data, Topic: topic, Ts: time.Now().UnixMilli()}
		}
	}()
	return out, nil
}

// Send implements Transport: opens a direct libp2p stream to peer and writes
// envelope, used for the one-to-one wire.go messages (payments, receipts,
// provenance responses) rather than gossip.
func (n *Node) Send(ctx context.Context, target PeerID, envelope []byte) error {
	n.peerLock.RLock()
	var addr string
	for _, p := range n.peers {
		if NodeID(target.Hex()) == p.ID {
			addr = p.Addr
			break
		}
	}
	n.peerLock.RUnlock()
	if addr == "" {
		return fmt.Errorf("network: no known address for peer %s", target.Short())
	}
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("network: bad peer address %s: %w", addr, err)
	}
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	s, err := n.host.NewStream(sctx, pi.ID, nodalyncProtocol)
	if err != nil {
		return fmt.Errorf("network: open stream to %s: %w", target.Short(), err)
	}
	defer s.Close()
	_, err = s.Write(envelope)
	return err
}

// inboundStreams buffers direct (non-pubsub) envelopes received via
// handleStream for InboundDirect to drain.
var (
	inboundMu   sync.Mutex
	inboundChs  = make(map[*Node]chan InboundMsg)
)

// handleStream is the libp2p stream handler registered for nodalyncProtocol;
// it reads one envelope per stream and forwards it to InboundDirect's channel.
func (n *Node) handleStream(s network.Stream) {
	defer s.Close()
	data, err := io.ReadAll(s)
	if err != nil {
		logrus.Warnf("network: stream read from %s: %v", s.Conn().RemotePeer(), err)
		return
	}
	inboundMu.Lock()
	ch := inboundChs[n]
	inboundMu.Unlock()
	if ch == nil {
		return
	}
	msg := InboundMsg{PeerID: s.Conn().RemotePeer().String(), Payload: data, Topic: "", Ts: time.Now().UnixMilli()}
	select {
	case ch <- msg:
	default:
		logrus.Warnf("network: dropped direct message from %s, receiver not draining", msg.PeerID)
	}
}

// InboundDirect returns the channel of direct (non-pubsub) envelopes sent to
// this node via Send, registering it on first call.
func (n *Node) InboundDirect() <-chan InboundMsg {
	inboundMu.Lock()
	defer inboundMu.Unlock()
	ch, ok := inboundChs[n]
	if !ok {
		ch = make(chan InboundMsg, 64)
		inboundChs[n] = ch
	}
	return ch
}

// ListenAndServe blocks until context cancellation (serve as long-lived process).
func (n *Node) ListenAndServe() {
	<-n.ctx.Done()
	logrus.Info("Network node shutting down")
}

// Close tears down the node, closing host and context.
func (n *Node) Close() error {
	n.cancel()
	if n.nat != nil {
		_ = n.nat.Unmap()
	}
	return n.host.Close()
}

// Peers returns the current peer list.
func (n *Node) Peers() []*Peer {
	n.peerLock.RLock()
	defer n.peerLock.RUnlock()
	list := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		list = append(list, p)
	}
	return list
}

// Dialer opens outbound TCP peer connections.
type Dialer struct {
	Timeout   time.Duration // connection timeout
	KeepAlive time.Duration // TCP keepalive duration
}

// NewDialer creates a new network dialer with given settings.
func NewDialer(timeout, keepAlive time.Duration) *Dialer {
	return &Dialer{
		Timeout:   timeout,
		KeepAlive: keepAlive,
	}
}

// Dial connects to a remote address and returns a net.Conn.
// Supports TCP connections for now. Extend for WebSocket/gRPC as needed.
func (d *Dialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   d.Timeout,
		KeepAlive: d.KeepAlive,
	}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dialer: failed to connect to %s: %w", address, err)
	}
	return conn, nil
}
