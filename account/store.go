package account

import (
	"context"

	"github.com/entgate/entgate/id"
)

// Store is the persistence contract for accounts.
type Store interface {
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, accountID id.AccountID) (*Account, error)
	GetByOrg(ctx context.Context, orgID string) (*Account, error)
	GetByProviderSubscription(ctx context.Context, providerSubscriptionID string) (*Account, error)
	GetByProviderCustomer(ctx context.Context, providerCustomerID string) (*Account, error)
	List(ctx context.Context, opts ListOpts) ([]*Account, error)
	// ListSubscribed returns accounts holding an external subscription
	// reference, for the reconciliation sweep.
	ListSubscribed(ctx context.Context) ([]*Account, error)
	Update(ctx context.Context, a *Account) error
}
