package core

// settlement.go – the Settlement Batcher (§4.10): accumulates
// DistributionCredits, aggregates them per recipient into a deterministic,
// Merkle-rooted SettlementBatch, submits it to the external AnchorLedger,
// and reconciles confirmations idempotently by batch_id with jittered
// exponential backoff on failure. Batches accumulate WAL-backed, the same
// way the Ledger accumulates state, and the Merkle root reuses
// merkle_tree_operations.go.

import (
	"context"
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func encodeBatch(b SettlementBatch) ([]byte, error) { return json.Marshal(b) }
func decodeBatch(raw []byte, out *SettlementBatch) error { return json.Unmarshal(raw, out) }

var (
	batchesSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nodalync_settlement_batches_submitted_total",
		Help: "Total settlement batches submitted to the anchor ledger.",
	})
	batchesConfirmed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nodalync_settlement_batches_confirmed_total",
		Help: "Total settlement batches confirmed by the anchor ledger.",
	})
	batchRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nodalync_settlement_batch_retries_total",
		Help: "Total retry attempts across all settlement batches.",
	})
)

func init() {
	prometheus.MustRegister(batchesSubmitted, batchesConfirmed, batchRetries)
}

const (
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 10 * time.Minute
)

// SettlementBatcher owns the DistributionEngine's output queue and the set
// of in-flight batches awaiting confirmation.
type SettlementBatcher struct {
	mu        sync.Mutex
	dist      *DistributionEngine
	anchor    AnchorLedger
	led       StateRW
	chans     *ChannelEngine // pending payments are marked Settled here on confirmation; may be nil
	threshold int            // flush once this many credits are pending
	interval  time.Duration  // or flush after this much wall time
	lastFlush time.Time
	log       *zap.SugaredLogger
}

func NewSettlementBatcher(dist *DistributionEngine, anchor AnchorLedger, led StateRW, chans *ChannelEngine, threshold int, interval time.Duration, lg *zap.SugaredLogger) *SettlementBatcher {
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	return &SettlementBatcher{
		dist: dist, anchor: anchor, led: led, chans: chans,
		threshold: threshold, interval: interval,
		lastFlush: time.Now(), log: lg,
	}
}

func batchKey(id Hash) []byte { return append([]byte("batch:"), id[:]...) }

// ShouldFlush reports whether enough credits or enough time has
// accumulated to cut a new batch.
func (b *SettlementBatcher) ShouldFlush() bool {
	if b.dist.PendingCount() >= b.threshold && b.threshold > 0 {
		return true
	}
	return b.interval > 0 && time.Since(b.lastFlush) >= b.interval
}

// Flush aggregates pending credits into a SettlementBatch, computes its
// deterministic Merkle root, persists it, and returns it for submission.
// Returns (SettlementBatch{}, false, nil) when there is nothing to flush.
func (b *SettlementBatcher) Flush() (SettlementBatch, bool, error) {
	credits := b.dist.Drain()
	if len(credits) == 0 {
		return SettlementBatch{}, false, nil
	}

	agg := make(map[PeerID]*SettlementEntry)
	order := make([]PeerID, 0)
	for _, c := range credits {
		e, ok := agg[c.Recipient]
		if !ok {
			e = &SettlementEntry{Recipient: c.Recipient}
			agg[c.Recipient] = e
			order = append(order, c.Recipient)
		}
		e.Amount += c.Amount
		e.ContributingPaymentIDs = append(e.ContributingPaymentIDs, c.PaymentID)
		e.ContributingArtifactHashes = append(e.ContributingArtifactHashes, c.ArtifactHash)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Hex() < order[j].Hex() })

	entries := make([]SettlementEntry, 0, len(order))
	leaves := make([][]byte, 0, len(order))
	for _, peer := range order {
		e := *agg[peer]
		entries = append(entries, e)
		leaves = append(leaves, entryLeafBytes(e))
	}

	tree, err := BuildMerkleTree(leaves)
	if err != nil {
		return SettlementBatch{}, false, err
	}
	var root Hash
	copy(root[:], tree[len(tree)-1][0][:])

	// batch_id is a pure function of the aggregated entries and the emission
	// instant, so two nodes holding the same credits and flushing at the
	// same time derive the same id.
	createdAt := time.Now().UTC()
	idEnc := NewEncoder()
	idEnc.PutBytes(root[:])
	idEnc.PutInt(createdAt.UnixNano())
	batchID := MessageHash(idEnc.Bytes())

	batch := SettlementBatch{
		BatchID:    batchID,
		MerkleRoot: root,
		Entries:    entries,
		CreatedAt:  createdAt,
	}

	b.mu.Lock()
	b.lastFlush = time.Now()
	b.mu.Unlock()

	if err := b.persist(batch); err != nil {
		return SettlementBatch{}, false, err
	}
	b.log.Infow("settlement: batch cut", "batch", batch.BatchID.Short(), "entries", len(entries), "root", root.Short())
	return batch, true, nil
}

func entryLeafBytes(e SettlementEntry) []byte {
	enc := NewEncoder()
	enc.PutBytes(e.Recipient[:])
	enc.PutUint(e.Amount)
	enc.PutArrayHeader(len(e.ContributingPaymentIDs))
	for _, id := range e.ContributingPaymentIDs {
		enc.PutBytes(id[:])
	}
	return enc.Bytes()
}

// Submit sends batch to the anchor ledger, recording attempts/backoff on
// failure. Safe to call repeatedly; AnchorLedger.SubmitBatch is expected to
// be idempotent per batch_id on the remote side, and Submit itself never
// resubmits a batch already marked Confirmed.
func (b *SettlementBatcher) Submit(ctx context.Context, batch SettlementBatch) error {
	current, err := b.load(batch.BatchID)
	if err == nil && current.Confirmed {
		return ErrAlreadyConfirmed
	}

	txID, err := b.anchor.SubmitBatch(ctx, batch)
	batch.Attempts++
	if err != nil {
		batchRetries.Inc()
		batch.NextRetryAt = time.Now().Add(backoff(batch.Attempts))
		_ = b.persist(batch)
		return err
	}
	batch.TxID = txID
	batchesSubmitted.Inc()
	return b.persist(batch)
}

// Reconcile polls the anchor ledger for confirmation and marks the batch
// Confirmed exactly once; repeat calls after confirmation are no-ops,
// giving idempotent-by-batch_id reconciliation.
func (b *SettlementBatcher) Reconcile(ctx context.Context, batchID Hash) error {
	batch, err := b.load(batchID)
	if err != nil {
		return err
	}
	if batch.Confirmed {
		return nil
	}
	confirmed, block, err := b.anchor.Confirmations(ctx, batch.TxID)
	if err != nil {
		return err
	}
	if !confirmed {
		return nil
	}
	batch.Confirmed = true
	batch.Block = block
	batch.ConfirmedAt = time.Now().UTC()
	batchesConfirmed.Inc()
	if err := b.persist(batch); err != nil {
		return err
	}

	// A confirmed batch settles its contributing payments: they are marked
	// Settled and leave every channel's pending queue.
	if b.chans != nil {
		var ids []Hash
		for _, e := range batch.Entries {
			ids = append(ids, e.ContributingPaymentIDs...)
		}
		settled, err := b.chans.MarkSettled(ids)
		if err != nil {
			return err
		}
		b.log.Infow("settlement: batch confirmed", "batch", batch.BatchID.Short(), "block", block, "payments_settled", len(settled))
	}
	return nil
}

// DueForRetry lists batches whose NextRetryAt has elapsed and are not yet
// confirmed — the daemon's settlement loop polls this.
func (b *SettlementBatcher) DueForRetry() ([]SettlementBatch, error) {
	var due []SettlementBatch
	err := b.led.Snapshot(func() error {
		it := b.led.PrefixIterator([]byte("batch:"))
		now := time.Now()
		for it.Next() {
			var batch SettlementBatch
			if err := decodeBatch(it.Value(), &batch); err != nil {
				continue
			}
			if !batch.Confirmed && !batch.NextRetryAt.After(now) {
				due = append(due, batch)
			}
		}
		return it.Error()
	})
	return due, err
}

func (b *SettlementBatcher) persist(batch SettlementBatch) error {
	raw, err := encodeBatch(batch)
	if err != nil {
		return err
	}
	return b.led.SetState(batchKey(batch.BatchID), raw)
}

func (b *SettlementBatcher) load(id Hash) (SettlementBatch, error) {
	raw, err := b.led.GetState(batchKey(id))
	if err != nil {
		return SettlementBatch{}, ErrBatchNotFound
	}
	var batch SettlementBatch
	if err := decodeBatch(raw, &batch); err != nil {
		return SettlementBatch{}, err
	}
	return batch, nil
}

// backoff computes a jittered exponential delay: the base delay doubles per
// attempt and is capped at maxRetryDelay, then up to 25% jitter is added.
func backoff(attempt uint32) time.Duration {
	d := baseRetryDelay * time.Duration(1<<uint(minInt(attempt, 10)))
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 4))
	return d + jitter
}

func minInt(a uint32, b int) int {
	if int(a) < b {
		return int(a)
	}
	return b
}
