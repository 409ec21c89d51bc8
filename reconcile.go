package entgate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/entgate/entgate/hook"
	"github.com/entgate/entgate/id"
	"github.com/entgate/entgate/provider"
)

// ErrNoProvider is returned by Scan when the engine was built without a
// provider query client.
var ErrNoProvider = errors.New("entgate: no provider client configured")

// ScanReport summarizes one reconciliation sweep.
type ScanReport struct {
	Checked       int `json:"checked"`
	DriftDetected int `json:"drift_detected"`
	Repaired      int `json:"repaired"`
	Failed        int `json:"failed"`
}

// Scan sweeps every account holding a provider subscription reference,
// compares local status against the provider's authoritative answer, and
// repairs drift through the same mutation path webhooks use. A failure on
// one account never aborts the sweep; it is counted and the sweep moves
// on. Only the provider wins a disagreement.
func (e *Engine) Scan(ctx context.Context) (*ScanReport, error) {
	if e.provider == nil {
		return nil, ErrNoProvider
	}

	accounts, err := e.store.ListSubscribedAccounts(ctx)
	if err != nil {
		return nil, err
	}

	var checked, drift, repaired, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.scanConcurrency)

	for _, a := range accounts {
		g.Go(func() error {
			checked.Add(1)

			didDrift, didRepair, err := e.reconcileAccount(gctx, a.ID, a.ProviderSubscriptionID)
			if err != nil {
				failed.Add(1)
				e.logger.Warn("reconcile failed",
					"account_id", a.ID.String(),
					"subscription_id", a.ProviderSubscriptionID,
					"error", err,
				)
				return nil
			}
			if didDrift {
				drift.Add(1)
			}
			if didRepair {
				repaired.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &ScanReport{
		Checked:       int(checked.Load()),
		DriftDetected: int(drift.Load()),
		Repaired:      int(repaired.Load()),
		Failed:        int(failed.Load()),
	}

	e.logger.Info("reconciliation sweep finished",
		"checked", report.Checked,
		"drift_detected", report.DriftDetected,
		"repaired", report.Repaired,
		"failed", report.Failed,
	)

	return report, nil
}

// reconcileAccount checks one account against the provider and repairs a
// status mismatch. The repair is a synthetic subscription.updated event
// flowing through applyEvent, so it is idempotent, recorded, and audited
// exactly like a live webhook.
func (e *Engine) reconcileAccount(ctx context.Context, accountID id.AccountID, subscriptionID string) (drift, repaired bool, err error) {
	qctx, cancel := context.WithTimeout(ctx, e.scanTimeout)
	defer cancel()

	sub, err := e.provider.GetSubscription(qctx, subscriptionID)
	if errors.Is(err, provider.ErrSubscriptionNotFound) {
		return false, false, fmt.Errorf("%w: subscription %s gone upstream", ErrProviderDrift, subscriptionID)
	}
	if err != nil {
		return false, false, err
	}

	want, ok := provider.MapStatus(sub.Status)
	if !ok {
		return false, false, fmt.Errorf("%w: unmappable provider status %q", ErrProviderDrift, sub.Status)
	}

	// Reload under the sweep, not from the listing snapshot.
	a, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return false, false, err
	}
	if a.Status == want {
		return false, false, nil
	}

	before := a.Status
	e.logger.Warn("provider drift detected",
		"account_id", a.ID.String(),
		"local_status", string(before),
		"provider_status", string(want),
	)

	// Status-only repair: the synthetic notification carries no price, so
	// plan linkage and quota grants are never touched from a sweep.
	n := &provider.Notification{
		EventID:        "recon_" + uuid.NewString(),
		TransactionID:  "recon_" + uuid.NewString(),
		Type:           provider.EventSubscriptionUpdated,
		SubscriptionID: sub.ID,
		Status:         sub.Status,
	}
	ev := &provider.Event{
		ID:            id.NewProviderEventID(),
		EventID:       n.EventID,
		TransactionID: n.TransactionID,
		Type:          n.Type,
		Source:        provider.SourceReconciler,
		Status:        provider.EventReceived,
		ReceivedAt:    e.now().UTC(),
	}

	res, err := e.applyEvent(ctx, ev, a, n)
	if err != nil {
		return true, false, err
	}
	if res.Status != provider.EventApplied {
		return true, false, fmt.Errorf("%w: repair not applied (status %s)", ErrProviderDrift, res.Status)
	}

	e.hooks.EmitDriftRepaired(ctx, hook.DriftEvent{
		AccountID: a.ID,
		Before:    before,
		After:     want,
	})

	return true, true, nil
}
