// Package account defines the per-tenant billing account: quota counters,
// subscription state, and the monetary running balance.
package account

import (
	"time"

	"github.com/entgate/entgate/id"
	"github.com/entgate/entgate/types"
)

// Status is the subscription lifecycle status of an account. Transitions
// are driven only by the usage committer (quota side effects) and by the
// webhook ingestor / reconciliation scanner (provider-driven transitions).
type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusPaused   Status = "paused"
	StatusCanceled Status = "canceled"
)

// Bucket identifies the quota source a request is charged against.
// Evaluation order is a product decision and is fixed:
// unlimited, purchased, free, trial, period.
type Bucket string

const (
	// BucketUnlimited tags accounts exempt from quota. They still flow
	// through Evaluate/Commit and emit usage events so access stays
	// observable and auditable.
	BucketUnlimited Bucket = "unlimited"
	// BucketPurchased draws from one-time purchased credits. Honored
	// regardless of subscription status: already paid for, never
	// forfeited by a later subscription change.
	BucketPurchased Bucket = "purchased"
	// BucketFree draws from the free-request allowance. Resets only on
	// plan change, never on period rollover.
	BucketFree Bucket = "free"
	// BucketTrial allows a request inside the trial window without
	// charging a counter. Time-bound, not count-bound.
	BucketTrial Bucket = "trial"
	// BucketPeriod draws from the recurring period allowance.
	BucketPeriod Bucket = "period"
	// BucketNone marks a denied request.
	BucketNone Bucket = "none"
)

// Account is a tenant's billing account. Counter fields come in
// consumed/granted pairs; consumed must never exceed granted. Mutations
// that would violate this are rejected, never clamped.
type Account struct {
	types.Entity
	ID    id.AccountID `json:"id"`
	OrgID string       `json:"org_id"`

	PlanID id.PlanID `json:"plan_id"`
	Status Status    `json:"status"`

	// Provider references. Subscription and customer IDs come from the
	// payment provider and key webhook/reconciliation lookups.
	ProviderCustomerID     string `json:"provider_customer_id,omitempty"`
	ProviderSubscriptionID string `json:"provider_subscription_id,omitempty"`

	// Unlimited accounts bypass quota but not instrumentation.
	Unlimited bool `json:"unlimited"`

	// Purchased credits: cumulative, never reset.
	PurchasedGranted  int64 `json:"purchased_granted"`
	PurchasedConsumed int64 `json:"purchased_consumed"`

	// Free-tier requests: reset only on plan change.
	FreeGranted  int64 `json:"free_granted"`
	FreeConsumed int64 `json:"free_consumed"`

	// Trial window anchor. Compared against plan.TrialDays.
	TrialStartedAt *time.Time `json:"trial_started_at,omitempty"`

	// Recurring period bucket: PeriodConsumed resets exactly once per
	// elapsed interval, PeriodStart advances along fixed boundaries.
	PeriodStart     time.Time `json:"period_start"`
	PeriodAllowance int64     `json:"period_allowance"`
	PeriodConsumed  int64     `json:"period_consumed"`

	// Monetary state, informational only: never consulted by the
	// entitlement decision.
	Balance    types.Money `json:"balance"`
	TotalSpent types.Money `json:"total_spent"`

	// Version is the optimistic concurrency token. Every committed
	// counter mutation increments it.
	Version int64 `json:"version"`
}

// Remaining is the per-bucket balance snapshot returned by Evaluate and
// Commit.
type Remaining struct {
	Purchased     int64 `json:"purchased"`
	Free          int64 `json:"free"`
	Period        int64 `json:"period"`
	TrialDaysLeft int   `json:"trial_days_left"`
}

// PurchasedRemaining returns unconsumed purchased credits.
func (a *Account) PurchasedRemaining() int64 {
	return a.PurchasedGranted - a.PurchasedConsumed
}

// FreeRemaining returns unconsumed free-tier requests.
func (a *Account) FreeRemaining() int64 {
	return a.FreeGranted - a.FreeConsumed
}

// PeriodRemaining returns unconsumed period allowance.
func (a *Account) PeriodRemaining() int64 {
	return a.PeriodAllowance - a.PeriodConsumed
}

// InTrial reports whether now falls inside the account's trial window for
// a plan granting trialDays.
func (a *Account) InTrial(now time.Time, trialDays int) bool {
	if trialDays <= 0 || a.TrialStartedAt == nil {
		return false
	}
	return now.Before(a.TrialStartedAt.AddDate(0, 0, trialDays))
}

// Subscribed reports whether the account holds an external subscription
// reference (and so is subject to reconciliation).
func (a *Account) Subscribed() bool {
	return a.ProviderSubscriptionID != ""
}

// CountersValid reports whether every consumed counter is within its
// grant. Stores reject writes for which this does not hold.
func (a *Account) CountersValid() bool {
	return a.PurchasedConsumed >= 0 && a.PurchasedConsumed <= a.PurchasedGranted &&
		a.FreeConsumed >= 0 && a.FreeConsumed <= a.FreeGranted &&
		a.PeriodConsumed >= 0 && a.PeriodConsumed <= a.PeriodAllowance
}

// ListOpts filters account listings.
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
