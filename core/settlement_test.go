package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeAnchor is an in-memory AnchorLedger whose submission behavior is
// scripted per test.
type fakeAnchor struct {
	failSubmits int
	submits     int
	confirmed   map[string]bool
}

func newFakeAnchor() *fakeAnchor {
	return &fakeAnchor{confirmed: make(map[string]bool)}
}

func (f *fakeAnchor) SubmitBatch(ctx context.Context, batch SettlementBatch) (string, error) {
	f.submits++
	if f.failSubmits > 0 {
		f.failSubmits--
		return "", errors.New("anchor unavailable")
	}
	txID := "tx-" + batch.BatchID.Short()
	return txID, nil
}

func (f *fakeAnchor) Confirmations(ctx context.Context, txID string) (bool, uint64, error) {
	return f.confirmed[txID], 42, nil
}

func newTestBatcher(t *testing.T, anchor AnchorLedger) (*SettlementBatcher, *DistributionEngine) {
	t.Helper()
	dist := NewDistributionEngine(0, nil)
	led := newTestLedger(t)
	return NewSettlementBatcher(dist, anchor, led, nil, 3, time.Hour, nil), dist
}

func queueCredits(dist *DistributionEngine, recipients ...PeerID) {
	for i, r := range recipients {
		p := Payment{
			ID:             ContentHash([]byte{byte(i), 'p'}),
			Amount:         100,
			Recipient:      r,
			QueryHash:      ContentHash([]byte{byte(i), 'a'}),
			ProvenanceSnap: Provenance{RootL0L1: []RootEntry{{Owner: r, Weight: 1}}},
		}
		dist.CreditFromPayment(p)
	}
}

func TestBatcherFlushAggregatesPerRecipient(t *testing.T) {
	b, dist := newTestBatcher(t, newFakeAnchor())
	alice := testPeerID(1)
	queueCredits(dist, alice, alice, testPeerID(2))

	batch, ok, err := b.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !ok {
		t.Fatalf("expected a batch to be cut")
	}
	if len(batch.Entries) != 2 {
		t.Fatalf("expected 2 aggregated entries, got %d", len(batch.Entries))
	}
	var total uint64
	for _, e := range batch.Entries {
		total += e.Amount
		if e.Recipient == alice {
			if e.Amount != 200 || len(e.ContributingPaymentIDs) != 2 {
				t.Fatalf("expected alice's two credits summed, got %+v", e)
			}
		}
	}
	if total != 300 {
		t.Fatalf("expected batch total 300, got %d", total)
	}
	if batch.MerkleRoot.IsZero() || batch.BatchID.IsZero() {
		t.Fatalf("expected merkle root and batch id to be populated")
	}
	// Entries are sorted by recipient for determinism.
	for i := 1; i < len(batch.Entries); i++ {
		if batch.Entries[i-1].Recipient.Hex() > batch.Entries[i].Recipient.Hex() {
			t.Fatalf("entries not sorted by recipient: %+v", batch.Entries)
		}
	}
}

func TestBatcherFlushEmptyQueueIsNoop(t *testing.T) {
	b, _ := newTestBatcher(t, newFakeAnchor())
	if _, ok, err := b.Flush(); err != nil || ok {
		t.Fatalf("expected no batch from an empty queue, got ok=%v err=%v", ok, err)
	}
}

func TestBatcherShouldFlushOnThreshold(t *testing.T) {
	b, dist := newTestBatcher(t, newFakeAnchor())
	if b.ShouldFlush() {
		t.Fatalf("expected no flush pressure with an empty queue")
	}
	queueCredits(dist, testPeerID(1), testPeerID(2), testPeerID(3))
	if !b.ShouldFlush() {
		t.Fatalf("expected flush pressure at the credit threshold")
	}
}

func TestBatcherSubmitFailureSchedulesRetry(t *testing.T) {
	anchor := newFakeAnchor()
	anchor.failSubmits = 1
	b, dist := newTestBatcher(t, anchor)
	queueCredits(dist, testPeerID(1))

	batch, _, err := b.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := b.Submit(context.Background(), batch); err == nil {
		t.Fatalf("expected first submit to fail")
	}
	// The retry is backoff-delayed, so it is not due immediately.
	due, err := b.DueForRetry()
	if err != nil {
		t.Fatalf("DueForRetry: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected no batch due inside its backoff window, got %d", len(due))
	}

	// Second submit succeeds and records the tx id.
	retry := batch
	retry.Attempts = 1
	if err := b.Submit(context.Background(), retry); err != nil {
		t.Fatalf("retry Submit: %v", err)
	}
	if anchor.submits != 2 {
		t.Fatalf("expected 2 submit attempts, got %d", anchor.submits)
	}
}

func TestBatcherReconcileIsIdempotent(t *testing.T) {
	anchor := newFakeAnchor()
	b, dist := newTestBatcher(t, anchor)
	queueCredits(dist, testPeerID(1))

	batch, _, err := b.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := b.Submit(context.Background(), batch); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Not yet confirmed on the anchor chain: Reconcile is a no-op.
	if err := b.Reconcile(context.Background(), batch.BatchID); err != nil {
		t.Fatalf("Reconcile (unconfirmed): %v", err)
	}

	anchor.confirmed["tx-"+batch.BatchID.Short()] = true
	if err := b.Reconcile(context.Background(), batch.BatchID); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	stored, err := b.load(batch.BatchID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !stored.Confirmed || stored.Block != 42 {
		t.Fatalf("expected confirmed batch at block 42, got %+v", stored)
	}
	firstConfirmedAt := stored.ConfirmedAt

	// A second confirmation for the same batch id changes nothing.
	if err := b.Reconcile(context.Background(), batch.BatchID); err != nil {
		t.Fatalf("Reconcile (repeat): %v", err)
	}
	again, _ := b.load(batch.BatchID)
	if !again.ConfirmedAt.Equal(firstConfirmedAt) {
		t.Fatalf("expected repeated confirmation to be a no-op")
	}

	// Resubmitting a confirmed batch is refused.
	if err := b.Submit(context.Background(), batch); err != ErrAlreadyConfirmed {
		t.Fatalf("expected ErrAlreadyConfirmed, got %v", err)
	}
}

func TestBatcherConfirmationSettlesChannelPayments(t *testing.T) {
	anchor := newFakeAnchor()
	dist := NewDistributionEngine(0, nil)
	led := newTestLedger(t)

	id, _, err := NewRandomIdentity()
	if err != nil {
		t.Fatalf("NewRandomIdentity: %v", err)
	}
	chans := NewChannelEngine(id.PeerID(), id, led, dist)
	b := NewSettlementBatcher(dist, anchor, led, chans, 1, time.Hour, nil)

	// A payee-side payment lands in the channel's pending queue and the
	// distribution engine's credit queue.
	counterparty := testPeerID(3)
	if _, err := chans.Open(counterparty, 0, 5000); err != nil {
		t.Fatalf("Open: %v", err)
	}
	p := Payment{
		ID:             ContentHash([]byte("to-settle")),
		Amount:         1000,
		Recipient:      id.PeerID(),
		QueryHash:      ContentHash([]byte("settled-artifact")),
		Nonce:          1,
		ProvenanceSnap: Provenance{RootL0L1: []RootEntry{{Owner: id.PeerID(), Weight: 1}}},
	}
	if err := chans.ApplyPayment(counterparty, p, false); err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}

	batch, ok, err := b.Flush()
	if err != nil || !ok {
		t.Fatalf("Flush: ok=%v err=%v", ok, err)
	}
	if err := b.Submit(context.Background(), batch); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	anchor.confirmed["tx-"+batch.BatchID.Short()] = true
	if err := b.Reconcile(context.Background(), batch.BatchID); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	ch, err := chans.Get(counterparty)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(ch.PendingPayments) != 0 {
		t.Fatalf("expected confirmed batch to drain the pending queue, got %+v", ch.PendingPayments)
	}
}

func TestBatcherReconcileUnknownBatch(t *testing.T) {
	b, _ := newTestBatcher(t, newFakeAnchor())
	if err := b.Reconcile(context.Background(), ContentHash([]byte("ghost"))); err != ErrBatchNotFound {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	d1, d2 := backoff(1), backoff(2)
	if d2 < d1 {
		t.Fatalf("expected backoff to grow with attempts: %v then %v", d1, d2)
	}
	if d := backoff(30); d > maxRetryDelay+maxRetryDelay/4 {
		t.Fatalf("expected backoff capped near %v, got %v", maxRetryDelay, d)
	}
}
