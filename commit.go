package entgate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/entgate/entgate/account"
	"github.com/entgate/entgate/id"
	"github.com/entgate/entgate/usage"
)

// Receipt is returned by a successful Commit: which bucket was charged
// and what is left afterward.
type Receipt struct {
	Bucket           account.Bucket    `json:"bucket"`
	Remaining        account.Remaining `json:"remaining"`
	CorrelationID    string            `json:"correlation_id"`
	PeriodRolledOver bool              `json:"period_rolled_over"`
}

// Commit durably charges one request against the account, re-deriving
// the winning bucket from fresh state. The counter write and the usage
// event land in one transaction behind a version check; on a lost race
// the commit retries once against reloaded state and then fails closed
// with ErrStateChanged. Capacity that was visible at Evaluate time but
// is gone now is also ErrStateChanged, never a silent over-consumption.
func (e *Engine) Commit(ctx context.Context, accountID id.AccountID, correlationID string) (*Receipt, error) {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	for attempt := 0; attempt < 2; attempt++ {
		a, err := e.store.GetAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}
		p, err := e.store.GetPlan(ctx, a.PlanID)
		if err != nil {
			return nil, err
		}

		now := e.now().UTC()
		rolled := advancePeriod(a, p, now)

		bucket, _ := decide(a, p, now)
		if bucket == account.BucketNone {
			e.hooks.EmitQuotaExhausted(ctx, a.ID, remainingFor(a, p, now))
			return nil, ErrStateChanged
		}

		if err := charge(a, bucket); err != nil {
			return nil, err
		}

		ev := &usage.Event{
			ID:            id.NewUsageEventID(),
			AccountID:     a.ID,
			Bucket:        bucket,
			Quantity:      1,
			CorrelationID: correlationID,
			Timestamp:     now,
		}

		a.Touch()
		err = e.store.UpdateAccountCAS(ctx, a, ev)
		if err == nil {
			e.hooks.EmitUsageCommitted(ctx, ev)
			e.logger.Debug("usage committed",
				"account_id", a.ID.String(),
				"bucket", string(bucket),
				"correlation_id", correlationID,
			)
			return &Receipt{
				Bucket:           bucket,
				Remaining:        remainingFor(a, p, now),
				CorrelationID:    correlationID,
				PeriodRolledOver: rolled,
			}, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}

		e.logger.Debug("commit lost version race",
			"account_id", accountID.String(),
			"attempt", attempt+1,
		)
	}

	return nil, ErrStateChanged
}

// charge debits one request from the winning bucket. Unlimited and trial
// carry no counter; the write still lands so the version bumps and the
// usage event is recorded.
func charge(a *account.Account, bucket account.Bucket) error {
	switch bucket {
	case account.BucketUnlimited, account.BucketTrial:
	case account.BucketPurchased:
		a.PurchasedConsumed++
	case account.BucketFree:
		a.FreeConsumed++
	case account.BucketPeriod:
		a.PeriodConsumed++
	default:
		return ErrInvalidInput
	}

	if !a.CountersValid() {
		return ErrCounterInvariant
	}
	return nil
}

// ──────────────────────────────────────────────────
// Usage Queries
// ──────────────────────────────────────────────────

// Usage returns the raw usage events for an account.
func (e *Engine) Usage(ctx context.Context, accountID id.AccountID, opts usage.QueryOpts) ([]*usage.Event, error) {
	return e.store.QueryUsage(ctx, accountID, opts)
}

// UsageSummary aggregates committed usage per bucket over [from, to).
func (e *Engine) UsageSummary(ctx context.Context, accountID id.AccountID, from, to time.Time) (*usage.Summary, error) {
	return e.store.SummarizeUsage(ctx, accountID, from, to)
}

// PurgeUsage deletes usage events older than before. Counters are
// unaffected; this is a retention operation only.
func (e *Engine) PurgeUsage(ctx context.Context, before time.Time) (int64, error) {
	return e.store.PurgeUsage(ctx, before)
}
