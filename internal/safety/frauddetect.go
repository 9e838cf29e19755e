package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/chainbridge-x/engine/internal/bigutil"
	"github.com/chainbridge-x/engine/internal/model"
	"github.com/chainbridge-x/engine/internal/store"
)

// FraudSweepShortWindow is the lookback window used for the suspicious-activity
// heuristic ("more than 5 transfers from one principal within W_short" -
// spec §4.2).
const (
	FraudSweepShortWindow   = 10 * time.Minute
	FraudSweepSuspiciousMax = 5
)

// RunFraudSweep scans recent activity for three fraud patterns of spec §7:
// invalid_state_transition, suspicious_transaction and large_transaction.
// It does not check for double_spend_attempt; that incident is raised by
// transfer ingestion when the Store rejects an already-seen source_tx_hash.
// Nothing in the engine calls RunFraudSweep on a schedule; it runs only
// when a caller invokes it, and it stays out of the admission path since
// it needs cross-transfer context the synchronous Admit call does not have.
func (c *Controller) RunFraudSweep(ctx context.Context, largeTxThreshold string) error {
	if err := c.detectInvalidStateTransitions(ctx); err != nil {
		return err
	}
	if err := c.detectSuspiciousActivity(ctx); err != nil {
		return err
	}
	if largeTxThreshold != "" && largeTxThreshold != "0" {
		if err := c.detectLargeTransactions(ctx, largeTxThreshold); err != nil {
			return err
		}
	}
	return nil
}

// detectInvalidStateTransitions replays the append-only transition
// journal and flags any edge that model.IsValidTransition rejects -
// spec §9 Open Question 3 resolves this by reading the real journal
// rather than trusting an in-memory cache that could itself have missed
// a concurrent write.
func (c *Controller) detectInvalidStateTransitions(ctx context.Context) error {
	since := time.Now().Add(-FraudSweepShortWindow).UnixMilli()
	entries, err := c.st.ReadAllTransitionJournal(ctx, since, 0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !model.IsValidTransition(e.From, e.To) {
			if err := c.RaiseIncident(ctx, model.IncidentInvalidStateTransition,
				fmt.Sprintf("illegal transition %s -> %s", e.From, e.To), "fraud-sweep",
				map[string]interface{}{"transfer_id": e.TransferID, "from": e.From, "to": e.To}); err != nil {
				return err
			}
		}
	}
	return nil
}

// detectSuspiciousActivity flags two patterns of spec §4.2/§7
// suspicious_transaction within FraudSweepShortWindow: a principal issuing
// more than FraudSweepSuspiciousMax transfers, or a back-and-forth pair (a
// deposit A -> B matched by a withdrawal B -> A between the same two
// addresses). Principals are compared normalized (lowercased/trimmed), the
// same way safety.Admit compares them, so mixed-case senders can't evade
// either check.
func (c *Controller) detectSuspiciousActivity(ctx context.Context) error {
	transfers, err := c.st.ListTransfers(ctx, store.TransferFilter{})
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-FraudSweepShortWindow)
	counts := make(map[string]int)
	deposits := make(map[[2]string]bool)
	withdrawals := make(map[[2]string]bool)
	for _, t := range transfers {
		if t.CreatedAt.Before(cutoff) {
			continue
		}
		src := normPrincipal(t.SourceAddress)
		dst := normPrincipal(t.TargetAddress)
		counts[src]++
		if t.Direction == model.DirectionDeposit {
			deposits[[2]string{src, dst}] = true
		} else {
			withdrawals[[2]string{src, dst}] = true
		}
	}
	for principal, n := range counts {
		if n > FraudSweepSuspiciousMax {
			if err := c.RaiseIncident(ctx, model.IncidentSuspiciousTransaction,
				fmt.Sprintf("%d transfers within %s", n, FraudSweepShortWindow), "fraud-sweep",
				map[string]interface{}{"principal": principal, "count": n}); err != nil {
				return err
			}
		}
	}
	for pair := range deposits {
		reverse := [2]string{pair[1], pair[0]}
		if withdrawals[reverse] {
			if err := c.RaiseIncident(ctx, model.IncidentSuspiciousTransaction,
				"back-and-forth transfer pair within window", "fraud-sweep",
				map[string]interface{}{"principal_a": pair[0], "principal_b": pair[1]}); err != nil {
				return err
			}
		}
	}
	return nil
}

// detectLargeTransactions flags transfers of any status created within
// FraudSweepShortWindow whose value exceeds threshold. This is a warn-only signal (spec §7 large_transaction), it
// never blocks admission by itself.
func (c *Controller) detectLargeTransactions(ctx context.Context, threshold string) error {
	transfers, err := c.st.ListTransfers(ctx, store.TransferFilter{})
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-FraudSweepShortWindow)
	for _, t := range transfers {
		if t.CreatedAt.Before(cutoff) {
			continue
		}
		if bigutil.Cmp(t.Value, threshold) > 0 {
			if err := c.RaiseIncident(ctx, model.IncidentLargeTransaction,
				"value exceeds large-transaction threshold", "fraud-sweep",
				map[string]interface{}{"transfer_id": t.ID, "value": t.Value}); err != nil {
				return err
			}
		}
	}
	return nil
}
