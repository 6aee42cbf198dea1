package core

// distribution.go – the Distribution Engine (§4.9): splits each settled
// payment between the artifact's immediate owner (the synthesis fee) and
// its frozen root_L0L1 contributors (the root pool), using floor division
// with the remainder recaptured by the owner rather than lost to rounding.
//
// §4.9 requires exact conservation (sum of credits == price), shown by its
// own worked example: price=10000, synthesis fee 5%=500, roots
// {A:2, C:1, B:2} (B is also the artifact owner) over a 9500 root pool
// gives per_weight=floor(9500/5)=1900 → A=3800, C=1900, B=3800+500=4300,
// summing back to 10000 exactly because the split happens to divide evenly
// here; SplitPayment below still recaptures any remainder into the owner's
// credit so the invariant holds in the general case too. The fee and
// remainder always land on the artifact's actual owner, never on whichever
// root happens to sort first.

import (
	"sync"

	"go.uber.org/zap"
)

// DefaultSynthesisFeeBP is 5% expressed in basis points (of 10000).
const DefaultSynthesisFeeBP = 500

// DistributionEngine turns settled Payments into per-recipient credits,
// queued for the Settlement Batcher to aggregate and anchor.
type DistributionEngine struct {
	mu          sync.Mutex
	feeBP       uint64
	pending     []DistributionCredit
	log         *zap.SugaredLogger
}

func NewDistributionEngine(feeBP uint64, lg *zap.SugaredLogger) *DistributionEngine {
	if feeBP == 0 {
		feeBP = DefaultSynthesisFeeBP
	}
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	return &DistributionEngine{feeBP: feeBP, log: lg}
}

// CreditFromPayment computes the synthesis-fee/root-pool split for a
// settled payment and queues the resulting credits for the next settlement
// batch. p.Recipient is the artifact's immediate owner at query time (set
// by core/query.go's Pay from the manifest's Owner field).
func (d *DistributionEngine) CreditFromPayment(p Payment) []DistributionCredit {
	credits := d.SplitPayment(p.Amount, p.Recipient, p.QueryHash, p.ID, p.ProvenanceSnap)

	d.mu.Lock()
	d.pending = append(d.pending, credits...)
	d.mu.Unlock()

	d.log.Infow("distribution: payment split", "payment", p.ID.Short(), "amount", p.Amount, "recipients", len(credits))
	return credits
}

// SynthesisFee returns the owner share of a payment of the given amount —
// the only slice of a payment that is credited to the payee's channel
// balance directly; everything else flows through the credit queue.
func (d *DistributionEngine) SynthesisFee(amount uint64) uint64 {
	return amount * d.feeBP / 10000
}

// SplitPayment implements §4.9's exact math: synthesis_fee =
// floor(price*feeBP/10000), credited to artifactOwner regardless of whether
// it also appears as a root_L0L1 contributor.
func (d *DistributionEngine) SplitPayment(price uint64, artifactOwner PeerID, artifactHash, paymentID Hash, prov Provenance) []DistributionCredit {
	return splitPaymentFor(price, artifactOwner, artifactHash, paymentID, prov, d.feeBP)
}

// splitPaymentFor splits price into a root pool divided by weight across
// prov.RootL0L1, folding the synthesis fee and any flooring remainder into
// artifactOwner's credit — creating one for artifactOwner if it is not
// already a root contributor.
func splitPaymentFor(price uint64, artifactOwner PeerID, artifactHash, paymentID Hash, prov Provenance, feeBP uint64) []DistributionCredit {
	if price == 0 || len(prov.RootL0L1) == 0 {
		return nil
	}

	synthesisFee := price * feeBP / 10000
	rootPool := price - synthesisFee

	var totalWeight uint64
	for _, r := range prov.RootL0L1 {
		totalWeight += r.Weight
	}
	if totalWeight == 0 {
		return nil
	}

	perWeight := rootPool / totalWeight
	distributed := perWeight * totalWeight
	remainder := rootPool - distributed

	amounts := make(map[PeerID]uint64, len(prov.RootL0L1)+1)
	order := make([]PeerID, 0, len(prov.RootL0L1)+1)
	for _, r := range prov.RootL0L1 {
		if _, seen := amounts[r.Owner]; !seen {
			order = append(order, r.Owner)
		}
		amounts[r.Owner] += r.Weight * perWeight
	}

	if _, seen := amounts[artifactOwner]; !seen {
		order = append(order, artifactOwner)
	}
	amounts[artifactOwner] += synthesisFee + remainder

	credits := make([]DistributionCredit, 0, len(order))
	for _, peer := range order {
		credits = append(credits, DistributionCredit{
			Recipient:    peer,
			Amount:       amounts[peer],
			ArtifactHash: artifactHash,
			PaymentID:    paymentID,
		})
	}
	return credits
}

// Drain returns and clears every credit accumulated since the last Drain
// call, handing them to the Settlement Batcher.
func (d *DistributionEngine) Drain() []DistributionCredit {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.pending
	d.pending = nil
	return out
}

func (d *DistributionEngine) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
