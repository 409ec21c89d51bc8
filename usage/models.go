// Package usage defines the append-only consumption log. One event is
// recorded per committed consumption decision, so "why was this denied"
// can be answered from the log without re-deriving counter state.
package usage

import (
	"time"

	"github.com/entgate/entgate/account"
	"github.com/entgate/entgate/id"
)

// Event is one committed consumption decision.
type Event struct {
	ID        id.UsageEventID `json:"id"`
	AccountID id.AccountID    `json:"account_id"`
	Bucket    account.Bucket  `json:"bucket"`
	Quantity  int64           `json:"quantity"`
	// CorrelationID ties the event back to the originating request.
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// Summary aggregates consumption over a window.
type Summary struct {
	AccountID id.AccountID             `json:"account_id"`
	From      time.Time                `json:"from"`
	To        time.Time                `json:"to"`
	Requests  int64                    `json:"requests"`
	ByBucket  map[account.Bucket]int64 `json:"by_bucket"`
}

// QueryOpts filters usage listings.
type QueryOpts struct {
	Bucket account.Bucket
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}
