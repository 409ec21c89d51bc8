// Package provider models the payment provider boundary: inbound webhook
// notifications, their idempotency records, and the outbound query client
// used by reconciliation.
//
// Provider payloads are normalized into Notification at this boundary so
// nothing downstream ever branches on provider wire shape.
package provider

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/entgate/entgate/account"
	"github.com/entgate/entgate/id"
	"github.com/entgate/entgate/types"
)

// EventType is a provider notification type.
type EventType string

const (
	EventSubscriptionActivated EventType = "subscription.activated"
	EventSubscriptionUpdated   EventType = "subscription.updated"
	EventSubscriptionCanceled  EventType = "subscription.canceled"
	EventSubscriptionPaused    EventType = "subscription.paused"
	EventSubscriptionResumed   EventType = "subscription.resumed"
	EventTransactionCompleted  EventType = "transaction.completed"
	EventTransactionFailed     EventType = "transaction.failed"
)

// Known reports whether the event type maps to a local mutation.
func (t EventType) Known() bool {
	switch t {
	case EventSubscriptionActivated, EventSubscriptionUpdated,
		EventSubscriptionCanceled, EventSubscriptionPaused,
		EventSubscriptionResumed, EventTransactionCompleted,
		EventTransactionFailed:
		return true
	}
	return false
}

// EventStatus is the processing status of a recorded provider event.
type EventStatus string

const (
	EventReceived         EventStatus = "received"
	EventApplied          EventStatus = "applied"
	EventSkippedDuplicate EventStatus = "skipped-duplicate"
	EventFailed           EventStatus = "failed"
)

// Source records which path produced an event record.
type Source string

const (
	SourceWebhook    Source = "webhook"
	SourceReconciler Source = "reconciler"
)

// Event is one row per externally generated notification. At most one row
// per provider transaction ID may be marked applied; that uniqueness
// constraint is the idempotency guard.
type Event struct {
	ID id.ProviderEventID `json:"id"`
	// EventID is the provider's per-event identifier. Distinct from
	// TransactionID: one transaction can emit several event types.
	EventID       string         `json:"event_id"`
	TransactionID string         `json:"transaction_id"`
	Type          EventType      `json:"type"`
	Source        Source         `json:"source"`
	RawPayload    []byte         `json:"raw_payload,omitempty"`
	SignatureOK   bool           `json:"signature_ok"`
	Status        EventStatus    `json:"status"`
	AccountID     id.AccountID   `json:"account_id,omitempty"` // Nil when no account matched
	Bucket        account.Bucket `json:"-"`
	Error         string         `json:"error,omitempty"`
	ReceivedAt    time.Time      `json:"received_at"`
}

// Notification is the single internal shape every provider payload is
// normalized into.
type Notification struct {
	EventID        string      `json:"event_id"`
	TransactionID  string      `json:"transaction_id"`
	Type           EventType   `json:"type"`
	OccurredAt     time.Time   `json:"occurred_at"`
	SubscriptionID string      `json:"subscription_id"`
	CustomerID     string      `json:"customer_id"`
	PriceID        string      `json:"price_id"`
	Status         string      `json:"status"`
	Amount         types.Money `json:"amount"`
}

// wirePayload is the provider's webhook body. Amounts arrive as strings
// or numbers depending on the provider SDK version; json.Number absorbs
// both.
type wirePayload struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       struct {
		ID             string      `json:"id"`
		TransactionID  string      `json:"transaction_id"`
		SubscriptionID string      `json:"subscription_id"`
		CustomerID     string      `json:"customer_id"`
		PriceID        string      `json:"price_id"`
		Status         string      `json:"status"`
		Amount         json.Number `json:"amount"`
		CurrencyCode   string      `json:"currency_code"`
	} `json:"data"`
}

// ParseNotification normalizes a raw webhook body.
func ParseNotification(raw []byte) (*Notification, error) {
	var w wirePayload
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("provider: decode payload: %w", err)
	}
	if w.EventID == "" {
		return nil, fmt.Errorf("provider: payload missing event_id")
	}

	n := &Notification{
		EventID:        w.EventID,
		Type:           EventType(w.EventType),
		OccurredAt:     w.OccurredAt,
		SubscriptionID: w.Data.SubscriptionID,
		CustomerID:     w.Data.CustomerID,
		PriceID:        w.Data.PriceID,
		Status:         w.Data.Status,
	}

	// Subscription events carry the subscription ID as the object ID;
	// transaction events carry the transaction ID there. Lifecycle events
	// have no transaction of their own, so the provider event ID is their
	// replay key: redeliveries dedupe, distinct lifecycle events apply.
	switch {
	case w.Data.TransactionID != "":
		n.TransactionID = w.Data.TransactionID
	case isSubscriptionEvent(n.Type):
		n.TransactionID = w.EventID
	default:
		n.TransactionID = w.Data.ID
	}
	if n.SubscriptionID == "" && isSubscriptionEvent(n.Type) {
		n.SubscriptionID = w.Data.ID
	}
	if n.TransactionID == "" {
		return nil, fmt.Errorf("provider: payload missing transaction id")
	}

	if s := w.Data.Amount.String(); s != "" {
		amt, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("provider: parse amount %q: %w", s, err)
		}
		n.Amount = types.Money{Amount: amt, Currency: currencyOrDefault(w.Data.CurrencyCode)}
	}

	return n, nil
}

func isSubscriptionEvent(t EventType) bool {
	switch t {
	case EventSubscriptionActivated, EventSubscriptionUpdated,
		EventSubscriptionCanceled, EventSubscriptionPaused,
		EventSubscriptionResumed:
		return true
	}
	return false
}

func currencyOrDefault(code string) string {
	if code == "" {
		return "usd"
	}
	return code
}

// MapStatus translates a provider subscription status into the local
// account status. The second return value is false for unknown statuses.
// Used identically by the webhook ingestor and the reconciliation
// scanner so the two paths cannot diverge.
func MapStatus(providerStatus string) (account.Status, bool) {
	switch providerStatus {
	case "active":
		return account.StatusActive, true
	case "trialing":
		return account.StatusTrialing, true
	case "past_due":
		return account.StatusPastDue, true
	case "paused":
		return account.StatusPaused, true
	case "canceled", "cancelled":
		return account.StatusCanceled, true
	default:
		return "", false
	}
}

// ListOpts filters provider event listings (operator review of failed
// and unmatched events).
type ListOpts struct {
	Status EventStatus
	Limit  int
	Offset int
}
