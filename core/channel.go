package core

// channel.go – the Payment Channel Manager (§4.7): bilateral off-chain
// accounting with Ed25519-signed state updates, a 24h dispute/challenge
// period, and a monotonic nonce. ChannelEngine owns a StateRW-backed
// key/value store keyed by chKey, and follows an Open/InitiateClose/
// Challenge/Finalize flow, settling balances directly rather than through
// an escrowed on-chain token account.

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const ChallengePeriod = 24 * time.Hour

// ChannelEngine is the single-writer actor owning every channel this node
// participates in, keyed by counterparty PeerID (a node holds at most one
// channel per counterparty, matching §4.7).
type ChannelEngine struct {
	mu   sync.RWMutex
	self PeerID
	id   *Identity
	led  StateRW
	log  *log.Logger
	dist *DistributionEngine // may be nil until wired by the daemon
}

func NewChannelEngine(self PeerID, id *Identity, led StateRW, dist *DistributionEngine) *ChannelEngine {
	return &ChannelEngine{self: self, id: id, led: led, log: log.New(), dist: dist}
}

func chKey(self, peer PeerID) []byte {
	return append([]byte("chan:"+self.Hex()+":"), peer[:]...)
}

// Open creates a new channel with counterparty, depositing myDeposit/
// theirDeposit into the initial balances. Nonce starts at zero.
func (e *ChannelEngine) Open(counterparty PeerID, myDeposit, theirDeposit uint64) (*Channel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ok, _ := e.led.HasState(chKey(e.self, counterparty)); ok {
		return nil, ErrChannelExists
	}

	ch := &Channel{
		Self:         e.self,
		Counterparty: counterparty,
		State:        ChannelOpen,
		MyBalance:    myDeposit,
		TheirBalance: theirDeposit,
		Nonce:        0,
		LastUpdate:   time.Now().UTC(),
	}
	if err := e.persist(ch); err != nil {
		return nil, err
	}
	e.log.WithFields(log.Fields{"peer": counterparty.Short(), "my": myDeposit, "their": theirDeposit}).Info("channel: opened")
	return ch, nil
}

// snapshotBody is the canonical byte string a ChannelSnapshot signature is
// computed over, rendered through the deterministic codec so both channel
// sides derive identical bytes for identical state.
func snapshotBody(counterparty PeerID, myBalance, theirBalance, nonce uint64) []byte {
	enc := NewEncoder()
	enc.PutBytes(counterparty[:])
	enc.PutUint(myBalance)
	enc.PutUint(theirBalance)
	enc.PutUint(nonce)
	return enc.Bytes()
}

// SignSnapshot produces this node's signature over a channel state,
// domain-separated via ChannelStateHash.
func (e *ChannelEngine) SignSnapshot(snap ChannelSnapshot) []byte {
	return e.id.Sign(ChannelStateHash(snapshotBody(snap.Counterparty, snap.MyBalance, snap.TheirBalance, snap.Nonce)))
}

// verifyCounterpartySig checks peerPub's signature over the (peer's-view)
// channel state: from the counterparty's perspective my/their balances are
// swapped relative to our own Channel record.
func verifyCounterpartySig(peerPub []byte, counterparty, self PeerID, theirBalance, myBalance, nonce uint64, sig []byte) error {
	if !Verify(peerPub, ChannelStateHash(snapshotBody(self, theirBalance, myBalance, nonce)), sig) {
		return ErrBadSignature
	}
	return nil
}

// ApplyPayment moves the payer's full amount out of the paying side, but
// credits the payee's channel balance with only the synthesis fee (the
// owner share). The remaining root pool never lives in the channel: the
// payee forwards the payment to the Distribution Engine, which accounts
// the full amount as per-recipient credits for settlement. The nonce
// supplied must be strictly greater than the channel's current nonce.
func (e *ChannelEngine) ApplyPayment(counterparty PeerID, p Payment, iAmPayer bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch, err := e.get(counterparty)
	if err != nil {
		return err
	}
	if ch.State != ChannelOpen {
		return ErrChannelNotOpen
	}
	if p.Nonce <= ch.Nonce {
		return ErrStaleNonce
	}

	ownerShare := p.Amount * DefaultSynthesisFeeBP / 10000
	if e.dist != nil {
		ownerShare = e.dist.SynthesisFee(p.Amount)
	}
	if iAmPayer {
		if ch.MyBalance < p.Amount {
			return ErrInsufficientFunds
		}
		ch.MyBalance -= p.Amount
		ch.TheirBalance += ownerShare
	} else {
		if ch.TheirBalance < p.Amount {
			return ErrInsufficientFunds
		}
		ch.TheirBalance -= p.Amount
		ch.MyBalance += ownerShare
	}
	ch.Nonce = p.Nonce
	ch.LastUpdate = time.Now().UTC()
	ch.PendingPayments = append(ch.PendingPayments, p)

	if err := e.persist(&ch); err != nil {
		return err
	}

	if !iAmPayer && e.dist != nil {
		e.dist.CreditFromPayment(p)
	}
	return nil
}

// MarkSettled flags every pending payment whose id appears in ids as
// Settled and removes it from its channel's pending queue, returning the
// settled payments. Called by the Settlement Batcher once a batch carrying
// those payments is confirmed on the anchor ledger.
func (e *ChannelEngine) MarkSettled(ids []Hash) ([]Payment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	want := make(map[Hash]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	var chans []Channel
	err := e.led.Snapshot(func() error {
		it := e.led.PrefixIterator([]byte("chan:" + e.self.Hex() + ":"))
		for it.Next() {
			var c Channel
			if err := json.Unmarshal(it.Value(), &c); err == nil {
				chans = append(chans, c)
			}
		}
		return it.Error()
	})
	if err != nil {
		return nil, err
	}

	var settled []Payment
	for i := range chans {
		kept := make([]Payment, 0, len(chans[i].PendingPayments))
		changed := false
		for _, p := range chans[i].PendingPayments {
			if _, ok := want[p.ID]; ok {
				p.Settled = true
				settled = append(settled, p)
				changed = true
				continue
			}
			kept = append(kept, p)
		}
		if changed {
			chans[i].PendingPayments = kept
			if err := e.persist(&chans[i]); err != nil {
				return settled, err
			}
		}
	}
	return settled, nil
}

// InitiateClose starts the dispute/challenge window on the latest known
// state: stamp the close time, persist the pending snapshot, and require a higher-or-equal nonce than the
// current channel record.
func (e *ChannelEngine) InitiateClose(counterparty PeerID, snap ChannelSnapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch, err := e.get(counterparty)
	if err != nil {
		return err
	}
	if ch.State == ChannelDisputed || ch.State == ChannelClosing {
		return fmt.Errorf("nodalync: channel already closing")
	}
	if snap.Nonce < ch.Nonce {
		return ErrStaleNonce
	}
	ch.State = ChannelClosing
	ch.DisputeStarted = time.Now().UTC()
	ch.DisputeState = &snap
	return e.persist(&ch)
}

// Challenge submits a higher-nonce signed state during the dispute window,
// per §4.7's "highest-nonce-signed-state wins" resolution rule.
func (e *ChannelEngine) Challenge(counterparty PeerID, snap ChannelSnapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch, err := e.get(counterparty)
	if err != nil {
		return err
	}
	if ch.State != ChannelClosing {
		return ErrNoDisputeActive
	}
	if time.Since(ch.DisputeStarted) > ChallengePeriod {
		return fmt.Errorf("nodalync: challenge period has elapsed")
	}
	if ch.DisputeState != nil && snap.Nonce <= ch.DisputeState.Nonce {
		return ErrStaleNonce
	}
	ch.State = ChannelDisputed
	ch.DisputeState = &snap
	return e.persist(&ch)
}

// Finalize settles the channel once the challenge period has elapsed. The
// channel's final balances become the ones in the last accepted dispute
// snapshot. If no snapshot is recorded, the channel's current balances
// stand: opening deposits are not kept separately and are not restored.
func (e *ChannelEngine) Finalize(counterparty PeerID) (Channel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch, err := e.get(counterparty)
	if err != nil {
		return Channel{}, err
	}
	if ch.State != ChannelClosing && ch.State != ChannelDisputed {
		return Channel{}, fmt.Errorf("nodalync: channel is not in closing state")
	}
	if time.Since(ch.DisputeStarted) < ChallengePeriod {
		return Channel{}, ErrDisputePeriod
	}

	if ch.DisputeState != nil {
		ch.MyBalance = ch.DisputeState.MyBalance
		ch.TheirBalance = ch.DisputeState.TheirBalance
		ch.Nonce = ch.DisputeState.Nonce
	}
	ch.State = ChannelClosed
	if err := e.persist(&ch); err != nil {
		return Channel{}, err
	}
	return ch, nil
}

// CancelClose aborts a pending close while still within the challenge
// period and no counter-dispute has been lodged, returning the channel to
// Open.
func (e *ChannelEngine) CancelClose(counterparty PeerID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, err := e.get(counterparty)
	if err != nil {
		return err
	}
	if ch.State != ChannelClosing {
		return fmt.Errorf("nodalync: channel is not closing")
	}
	if time.Since(ch.DisputeStarted) > ChallengePeriod {
		return fmt.Errorf("nodalync: challenge period has elapsed")
	}
	ch.State = ChannelOpen
	ch.DisputeState = nil
	return e.persist(&ch)
}

func (e *ChannelEngine) Get(counterparty PeerID) (Channel, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.get(counterparty)
}

// List enumerates every channel this node holds via a Snapshot-wrapped
// PrefixIterator scan.
func (e *ChannelEngine) List() ([]Channel, error) {
	var chans []Channel
	err := e.led.Snapshot(func() error {
		prefix := []byte("chan:" + e.self.Hex() + ":")
		it := e.led.PrefixIterator(prefix)
		for it.Next() {
			var c Channel
			if err := json.Unmarshal(it.Value(), &c); err == nil {
				chans = append(chans, c)
			}
		}
		return it.Error()
	})
	return chans, err
}

func (e *ChannelEngine) get(counterparty PeerID) (Channel, error) {
	raw, err := e.led.GetState(chKey(e.self, counterparty))
	if err != nil {
		return Channel{}, ErrChannelNotFound
	}
	var c Channel
	if err := json.Unmarshal(raw, &c); err != nil {
		return Channel{}, err
	}
	return c, nil
}

func (e *ChannelEngine) persist(ch *Channel) error {
	raw, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	return e.led.SetState(chKey(e.self, ch.Counterparty), raw)
}
