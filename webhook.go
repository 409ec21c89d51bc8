package entgate

import (
	"context"
	"errors"
	"fmt"

	"github.com/entgate/entgate/account"
	"github.com/entgate/entgate/id"
	"github.com/entgate/entgate/provider"
	"github.com/entgate/entgate/types"
)

// IngestResult reports how one webhook delivery was processed. A non-nil
// result with a nil error means the delivery was handled and must not be
// retried by the provider, whatever the terminal status.
type IngestResult struct {
	Status        provider.EventStatus `json:"status"`
	EventID       string               `json:"event_id"`
	TransactionID string               `json:"transaction_id"`
	AccountID     id.AccountID         `json:"account_id,omitempty"`
}

// Ingest processes one raw webhook delivery: verify the signature, parse,
// dedupe on transaction ID, map the event to a ledger mutation, and apply
// it atomically with its idempotency record. Signature and freshness
// failures return an error before anything is parsed or written; every
// other outcome is recorded as an event row and returned as a result.
func (e *Engine) Ingest(ctx context.Context, rawBody []byte, signatureHeader string) (*IngestResult, error) {
	now := e.now().UTC()

	// Verification against an empty key would let anyone forge a passing
	// signature. No secret means no webhook surface at all.
	if len(e.webhookSecret) == 0 {
		e.logger.Warn("webhook rejected", "error", "no webhook secret configured")
		return nil, fmt.Errorf("%w: no webhook secret configured", ErrSignatureInvalid)
	}

	if err := provider.VerifySignature(e.webhookSecret, signatureHeader, rawBody, now, e.webhookTolerance); err != nil {
		e.logger.Warn("webhook rejected", "error", err)
		return nil, err
	}

	n, err := provider.ParseNotification(rawBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	ev := &provider.Event{
		ID:            id.NewProviderEventID(),
		EventID:       n.EventID,
		TransactionID: n.TransactionID,
		Type:          n.Type,
		Source:        provider.SourceWebhook,
		RawPayload:    rawBody,
		SignatureOK:   true,
		Status:        provider.EventReceived,
		ReceivedAt:    now,
	}

	if !n.Type.Known() {
		ev.Status = provider.EventFailed
		ev.Error = fmt.Sprintf("unknown event type %q", n.Type)
		if rerr := e.store.RecordProviderEvent(ctx, ev); rerr != nil {
			return nil, rerr
		}
		e.logger.Warn("webhook event type unknown", "type", string(n.Type), "event_id", n.EventID)
		return e.result(ev), nil
	}

	// Fast-path duplicate check. The uniqueness constraint inside
	// ApplyProviderEvent closes the race this read leaves open.
	prior, err := e.store.GetProviderEventByTransaction(ctx, n.TransactionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if prior != nil && prior.Status == provider.EventApplied {
		ev.Status = provider.EventSkippedDuplicate
		ev.AccountID = prior.AccountID
		if rerr := e.store.RecordProviderEvent(ctx, ev); rerr != nil {
			return nil, rerr
		}
		e.logger.Debug("webhook replay skipped", "transaction_id", n.TransactionID)
		return e.result(ev), nil
	}

	a, err := e.lookupAccount(ctx, n)
	if errors.Is(err, ErrAccountNotFound) {
		ev.Status = provider.EventFailed
		ev.Error = "account not found"
		if rerr := e.store.RecordProviderEvent(ctx, ev); rerr != nil {
			return nil, rerr
		}
		e.logger.Warn("webhook matched no account, held for review",
			"event_id", n.EventID,
			"subscription_id", n.SubscriptionID,
			"customer_id", n.CustomerID,
		)
		return e.result(ev), nil
	}
	if err != nil {
		return nil, err
	}

	return e.applyEvent(ctx, ev, a, n)
}

// applyEvent runs the mapped mutation and persists it together with the
// event row. Shared by the webhook ingestor and the reconciliation
// scanner so repairs take the exact same path as live deliveries.
// The account write is version-checked: an apply racing a concurrent
// Commit reloads fresh state, re-maps, and retries once rather than
// overwriting the commit's counters with its stale snapshot.
func (e *Engine) applyEvent(ctx context.Context, ev *provider.Event, a *account.Account, n *provider.Notification) (*IngestResult, error) {
	ev.AccountID = a.ID

	for attempt := 0; attempt < 2; attempt++ {
		before := a.Status

		if err := e.applyNotification(ctx, a, n); err != nil {
			ev.Status = provider.EventFailed
			ev.Error = err.Error()
			if rerr := e.store.RecordProviderEvent(ctx, ev); rerr != nil {
				return nil, rerr
			}
			e.logger.Error("provider event mapping failed",
				"event_id", ev.EventID,
				"type", string(ev.Type),
				"error", err,
			)
			return e.result(ev), nil
		}

		if !a.CountersValid() {
			return nil, ErrCounterInvariant
		}

		ev.Status = provider.EventApplied
		a.Touch()
		err := e.store.ApplyProviderEvent(ctx, ev, a)
		if err == nil {
			e.hooks.EmitEventApplied(ctx, ev)
			e.logger.Info("provider event applied",
				"event_id", ev.EventID,
				"transaction_id", ev.TransactionID,
				"type", string(ev.Type),
				"source", string(ev.Source),
				"account_id", a.ID.String(),
				"status_before", string(before),
				"status_after", string(a.Status),
			)
			return e.result(ev), nil
		}
		if errors.Is(err, ErrDuplicateEvent) {
			ev.Status = provider.EventSkippedDuplicate
			ev.Error = ""
			if rerr := e.store.RecordProviderEvent(ctx, ev); rerr != nil {
				return nil, rerr
			}
			e.logger.Debug("webhook replay lost apply race", "transaction_id", ev.TransactionID)
			return e.result(ev), nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}

		a, err = e.store.GetAccount(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		e.logger.Debug("provider event apply lost version race",
			"event_id", ev.EventID,
			"attempt", attempt+1,
		)
	}

	return nil, ErrStateChanged
}

func (e *Engine) result(ev *provider.Event) *IngestResult {
	return &IngestResult{
		Status:        ev.Status,
		EventID:       ev.EventID,
		TransactionID: ev.TransactionID,
		AccountID:     ev.AccountID,
	}
}

// lookupAccount resolves the account a notification belongs to, by
// subscription reference first, then by customer reference.
func (e *Engine) lookupAccount(ctx context.Context, n *provider.Notification) (*account.Account, error) {
	if n.SubscriptionID != "" {
		a, err := e.store.GetAccountByProviderSubscription(ctx, n.SubscriptionID)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
	}
	if n.CustomerID != "" {
		return e.store.GetAccountByProviderCustomer(ctx, n.CustomerID)
	}
	return nil, ErrAccountNotFound
}

// applyNotification mutates the in-memory account per the event type. The
// caller persists. Counter fields are only ever increased here (credit
// grants); consumption happens exclusively through Commit.
func (e *Engine) applyNotification(ctx context.Context, a *account.Account, n *provider.Notification) error {
	switch n.Type {
	case provider.EventSubscriptionActivated, provider.EventSubscriptionUpdated:
		status := account.StatusActive
		if n.Status != "" {
			mapped, ok := provider.MapStatus(n.Status)
			if !ok {
				return fmt.Errorf("%w: provider status %q", ErrUnknownEvent, n.Status)
			}
			status = mapped
		}
		a.Status = status
		if n.SubscriptionID != "" {
			a.ProviderSubscriptionID = n.SubscriptionID
		}
		if n.CustomerID != "" {
			a.ProviderCustomerID = n.CustomerID
		}
		if n.PriceID != "" {
			return e.relinkPlan(ctx, a, n.PriceID)
		}
		return nil

	case provider.EventSubscriptionCanceled:
		// Purchased credits stay consumable after cancellation; only the
		// recurring allowance is gated off by the status.
		a.Status = account.StatusCanceled
		return nil

	case provider.EventSubscriptionPaused:
		a.Status = account.StatusPaused
		return nil

	case provider.EventSubscriptionResumed:
		a.Status = account.StatusActive
		return nil

	case provider.EventTransactionCompleted:
		return e.applyTransactionCompleted(ctx, a, n)

	case provider.EventTransactionFailed:
		// Money never moved, so nothing is granted. Past-due signaling
		// arrives separately via subscription.updated.
		e.logger.Warn("provider transaction failed",
			"account_id", a.ID.String(),
			"transaction_id", n.TransactionID,
		)
		return nil
	}

	return fmt.Errorf("%w: %s", ErrUnknownEvent, n.Type)
}

// relinkPlan switches the account to the recurring plan selling the given
// provider price. Free and period buckets reset iff the plan actually
// changed; an unmapped price is logged and left alone.
func (e *Engine) relinkPlan(ctx context.Context, a *account.Account, priceID string) error {
	p, err := e.store.GetPlanByProviderPrice(ctx, priceID)
	if errors.Is(err, ErrPlanNotFound) {
		e.logger.Warn("no plan for provider price",
			"price_id", priceID,
			"account_id", a.ID.String(),
		)
		return nil
	}
	if err != nil {
		return err
	}
	if p.ID == a.PlanID || !p.IsRecurring() {
		return nil
	}

	e.attachPlan(a, p)
	return nil
}

// applyTransactionCompleted books the payment and, for one-time credit
// plans, grants purchased credits. Subscription reference fields are
// never written from a transaction event.
func (e *Engine) applyTransactionCompleted(ctx context.Context, a *account.Account, n *provider.Notification) error {
	addMoney(&a.TotalSpent, n.Amount)

	if n.PriceID == "" {
		return nil
	}
	p, err := e.store.GetPlanByProviderPrice(ctx, n.PriceID)
	if errors.Is(err, ErrPlanNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if p.IsRecurring() {
		// Renewal payment: monetary bookkeeping only, the period rollover
		// is driven by time, not by payment events.
		return nil
	}

	a.PurchasedGranted += p.CreditSize
	addMoney(&a.Balance, n.Amount)

	e.logger.Info("purchased credits granted",
		"account_id", a.ID.String(),
		"plan", p.Slug,
		"credits", p.CreditSize,
	)
	return nil
}

// addMoney accumulates amt into dst, tolerating an unset destination and
// refusing cross-currency arithmetic rather than corrupting totals.
func addMoney(dst *types.Money, amt types.Money) {
	if amt.IsZero() {
		return
	}
	if dst.IsZero() {
		*dst = amt
		return
	}
	if dst.Currency != amt.Currency {
		return
	}
	*dst = dst.Add(amt)
}
