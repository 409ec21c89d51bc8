package provider

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

var sigNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestVerifySignature(t *testing.T) {
	secret := []byte("whsec_test")
	body := []byte(`{"event_id":"evt_1"}`)

	tests := []struct {
		name    string
		header  func() string
		body    []byte
		wantErr error
	}{
		{
			name:   "valid",
			header: func() string { return Sign(secret, sigNow, body) },
			body:   body,
		},
		{
			name:    "tampered body",
			header:  func() string { return Sign(secret, sigNow, body) },
			body:    []byte(`{"event_id":"evt_2"}`),
			wantErr: ErrSignatureInvalid,
		},
		{
			name:    "wrong secret",
			header:  func() string { return Sign([]byte("whsec_other"), sigNow, body) },
			body:    body,
			wantErr: ErrSignatureInvalid,
		},
		{
			name: "tampered timestamp fails authenticity not freshness",
			header: func() string {
				// Take a stale-but-valid signature and bump the claimed
				// timestamp into the window.
				old := sigNow.Add(-time.Hour)
				mac := Sign(secret, old, body)
				return fmt.Sprintf("ts=%d;%s", sigNow.Unix(), mac[len(fmt.Sprintf("ts=%d;", old.Unix())):])
			},
			body:    body,
			wantErr: ErrSignatureInvalid,
		},
		{
			name:    "too old",
			header:  func() string { return Sign(secret, sigNow.Add(-6*time.Minute), body) },
			body:    body,
			wantErr: ErrEventStale,
		},
		{
			name:    "too far in the future",
			header:  func() string { return Sign(secret, sigNow.Add(6*time.Minute), body) },
			body:    body,
			wantErr: ErrEventStale,
		},
		{
			name:   "clock skew inside tolerance",
			header: func() string { return Sign(secret, sigNow.Add(-4*time.Minute), body) },
			body:   body,
		},
		{
			name:    "empty header",
			header:  func() string { return "" },
			body:    body,
			wantErr: ErrSignatureInvalid,
		},
		{
			name:    "garbage header",
			header:  func() string { return "ts=abc;h1=zz" },
			body:    body,
			wantErr: ErrSignatureInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(secret, tt.header(), tt.body, sigNow, DefaultTolerance)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("VerifySignature() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseNotificationTransactionKey(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantTxn string
		wantSub string
	}{
		{
			name:    "transaction event keys on the object id",
			payload: `{"event_id":"evt_1","event_type":"transaction.completed","data":{"id":"txn_9","customer_id":"ctm_1"}}`,
			wantTxn: "txn_9",
		},
		{
			name:    "explicit transaction_id wins",
			payload: `{"event_id":"evt_1","event_type":"transaction.completed","data":{"id":"txn_9","transaction_id":"txn_real"}}`,
			wantTxn: "txn_real",
		},
		{
			name:    "subscription event keys on the event id",
			payload: `{"event_id":"evt_7","event_type":"subscription.canceled","data":{"id":"sub_1"}}`,
			wantTxn: "evt_7",
			wantSub: "sub_1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := ParseNotification([]byte(tt.payload))
			if err != nil {
				t.Fatalf("ParseNotification() error = %v", err)
			}
			if n.TransactionID != tt.wantTxn {
				t.Errorf("TransactionID = %q, want %q", n.TransactionID, tt.wantTxn)
			}
			if n.SubscriptionID != tt.wantSub {
				t.Errorf("SubscriptionID = %q, want %q", n.SubscriptionID, tt.wantSub)
			}
		})
	}
}

func TestParseNotificationAmountShapes(t *testing.T) {
	// Amounts arrive as numbers or strings depending on SDK version.
	for _, payload := range []string{
		`{"event_id":"e","event_type":"transaction.completed","data":{"id":"txn_1","amount":500,"currency_code":"usd"}}`,
		`{"event_id":"e","event_type":"transaction.completed","data":{"id":"txn_1","amount":"500","currency_code":"usd"}}`,
	} {
		n, err := ParseNotification([]byte(payload))
		if err != nil {
			t.Fatalf("ParseNotification(%s) error = %v", payload, err)
		}
		if n.Amount.Amount != 500 {
			t.Errorf("Amount = %d, want 500", n.Amount.Amount)
		}
	}
}

func TestMapStatusUnknown(t *testing.T) {
	if _, ok := MapStatus("suspended"); ok {
		t.Error("MapStatus accepted an unknown provider status")
	}
}
