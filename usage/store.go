package usage

import (
	"context"
	"time"

	"github.com/entgate/entgate/id"
)

// Store is the persistence contract for the usage log. Events are only
// ever appended, and only inside the same transaction as the counter
// mutation they record (see store.Store.UpdateAccountCAS).
type Store interface {
	Query(ctx context.Context, accountID id.AccountID, opts QueryOpts) ([]*Event, error)
	Summarize(ctx context.Context, accountID id.AccountID, from, to time.Time) (*Summary, error)
	Purge(ctx context.Context, before time.Time) (int64, error)
}
