package entgate

import (
	"context"
	"time"

	"github.com/entgate/entgate/account"
	"github.com/entgate/entgate/hook"
	"github.com/entgate/entgate/id"
	"github.com/entgate/entgate/plan"
)

// Machine-readable decision reasons, stable across releases.
const (
	ReasonUnlimited   = "unlimited"
	ReasonPurchased   = "purchased_credit"
	ReasonFreeTier    = "free_tier"
	ReasonTrialWindow = "trial_window"
	ReasonPeriodQuota = "period_allowance"
	ReasonExhausted   = "quota_exhausted"
)

// Decision is the outcome of one entitlement evaluation.
type Decision struct {
	Allowed   bool              `json:"allowed"`
	Bucket    account.Bucket    `json:"bucket"`
	Remaining account.Remaining `json:"remaining"`
	Reason    string            `json:"reason"`

	// ShouldUpgrade signals the caller to surface an upgrade prompt: the
	// account is out of quota and holds no provider subscription.
	ShouldUpgrade bool `json:"should_upgrade"`
}

// Evaluate answers whether the account may perform one billable request
// right now, and which bucket would fund it. Any due period rollover is
// applied first; the decision itself writes nothing.
func (e *Engine) Evaluate(ctx context.Context, accountID id.AccountID) (*Decision, error) {
	a, p, _, err := e.loadCurrent(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	bucket, reason := decide(a, p, now)
	d := &Decision{
		Allowed:   bucket != account.BucketNone,
		Bucket:    bucket,
		Remaining: remainingFor(a, p, now),
		Reason:    reason,
	}
	if !d.Allowed {
		d.ShouldUpgrade = !a.Subscribed()
	}

	e.hooks.EmitDecision(ctx, hook.DecisionEvent{
		AccountID: a.ID,
		Allowed:   d.Allowed,
		Bucket:    bucket,
		Reason:    reason,
	})
	if !d.Allowed {
		e.hooks.EmitQuotaExhausted(ctx, a.ID, d.Remaining)
	}

	e.logger.Debug("entitlement evaluated",
		"account_id", a.ID.String(),
		"allowed", d.Allowed,
		"bucket", string(bucket),
		"reason", reason,
	)

	return d, nil
}

// Require is the gate form of Evaluate for call sites that want an error
// instead of a branch: nil when the request may proceed, ErrQuotaExhausted
// when every bucket is empty. The Decision is returned in both cases so
// denial handlers can still surface Reason and ShouldUpgrade.
func (e *Engine) Require(ctx context.Context, accountID id.AccountID) (*Decision, error) {
	d, err := e.Evaluate(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return d, ErrQuotaExhausted
	}
	return d, nil
}

// decide picks the funding bucket. The order is fixed: unlimited,
// purchased, free, trial, period. Purchased credits are honored
// regardless of subscription status; the period allowance requires a
// usable subscription.
func decide(a *account.Account, p *plan.Plan, now time.Time) (account.Bucket, string) {
	switch {
	case a.Unlimited:
		return account.BucketUnlimited, ReasonUnlimited
	case a.PurchasedRemaining() > 0:
		return account.BucketPurchased, ReasonPurchased
	case a.FreeRemaining() > 0:
		return account.BucketFree, ReasonFreeTier
	case a.InTrial(now, p.TrialDays):
		return account.BucketTrial, ReasonTrialWindow
	case periodUsable(a.Status) && a.PeriodRemaining() > 0:
		return account.BucketPeriod, ReasonPeriodQuota
	}
	return account.BucketNone, ReasonExhausted
}

// periodUsable reports whether the subscription status still entitles the
// account to its recurring allowance.
func periodUsable(s account.Status) bool {
	return s == account.StatusActive || s == account.StatusTrialing
}

func remainingFor(a *account.Account, p *plan.Plan, now time.Time) account.Remaining {
	r := account.Remaining{
		Purchased: a.PurchasedRemaining(),
		Free:      a.FreeRemaining(),
		Period:    a.PeriodRemaining(),
	}
	if a.TrialStartedAt != nil && p.TrialDays > 0 {
		end := a.TrialStartedAt.AddDate(0, 0, p.TrialDays)
		if left := end.Sub(now); left > 0 {
			r.TrialDaysLeft = int((left + 24*time.Hour - time.Nanosecond) / (24 * time.Hour))
		}
	}
	return r
}
