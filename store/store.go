// Package store declares the unified storage contract for entgate.
package store

import (
	"context"
	"time"

	"github.com/entgate/entgate/account"
	"github.com/entgate/entgate/id"
	"github.com/entgate/entgate/plan"
	"github.com/entgate/entgate/provider"
	"github.com/entgate/entgate/usage"
)

// Store is the unified storage interface for all entgate entities.
// Instead of embedding the sub-interfaces, all methods are declared
// explicitly to avoid naming conflicts.
//
// Two methods carry the engine's transactional guarantees:
//
//   - UpdateAccountCAS: counter write + usage append in one transaction,
//     guarded by an optimistic version check on the account row. The only
//     write path Commit uses.
//   - ApplyProviderEvent: ledger mutation + idempotency-guard row in one
//     transaction, guarded by a uniqueness constraint on applied
//     transaction IDs. The only write path Ingest and Scan use.
type Store interface {
	// Account methods
	CreateAccount(ctx context.Context, a *account.Account) error
	GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error)
	GetAccountByOrg(ctx context.Context, orgID string) (*account.Account, error)
	GetAccountByProviderSubscription(ctx context.Context, providerSubscriptionID string) (*account.Account, error)
	GetAccountByProviderCustomer(ctx context.Context, providerCustomerID string) (*account.Account, error)
	ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error)
	ListSubscribedAccounts(ctx context.Context) ([]*account.Account, error)
	// UpdateAccount persists account state without a version check.
	// Reserved for provisioning and plan-change paths that hold no
	// counter race; counter mutations must go through UpdateAccountCAS.
	UpdateAccount(ctx context.Context, a *account.Account) error
	// UpdateAccountCAS persists a counter mutation and appends the usage
	// event atomically, iff the stored row version equals a.Version.
	// On success the stored (and in-memory) version is incremented.
	// Returns ErrVersionConflict when the row moved underneath.
	UpdateAccountCAS(ctx context.Context, a *account.Account, ev *usage.Event) error

	// Plan methods
	CreatePlan(ctx context.Context, p *plan.Plan) error
	GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error)
	GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error)
	GetPlanByProviderPrice(ctx context.Context, providerPriceID string) (*plan.Plan, error)
	GetDefaultPlan(ctx context.Context) (*plan.Plan, error)
	ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error)
	UpdatePlan(ctx context.Context, p *plan.Plan) error
	// SetDefaultPlan atomically moves the default flag to planID,
	// clearing it elsewhere, preserving the at-most-one-default invariant.
	SetDefaultPlan(ctx context.Context, planID id.PlanID) error
	ArchivePlan(ctx context.Context, planID id.PlanID) error

	// Usage methods
	QueryUsage(ctx context.Context, accountID id.AccountID, opts usage.QueryOpts) ([]*usage.Event, error)
	SummarizeUsage(ctx context.Context, accountID id.AccountID, from, to time.Time) (*usage.Summary, error)
	PurgeUsage(ctx context.Context, before time.Time) (int64, error)

	// Provider event methods
	GetProviderEventByTransaction(ctx context.Context, transactionID string) (*provider.Event, error)
	// RecordProviderEvent persists a non-applied event row
	// (received / skipped-duplicate / failed).
	RecordProviderEvent(ctx context.Context, ev *provider.Event) error
	// ApplyProviderEvent marks ev applied and persists the account
	// mutation in one transaction, iff the stored row version equals
	// a.Version (same optimistic guard as UpdateAccountCAS, so an apply
	// can never overwrite a concurrent counter commit). Returns
	// ErrDuplicateEvent if another applied row already exists for
	// ev.TransactionID and ErrVersionConflict on a lost race; in either
	// case neither the row nor the account is written.
	ApplyProviderEvent(ctx context.Context, ev *provider.Event, a *account.Account) error
	ListProviderEvents(ctx context.Context, opts provider.ListOpts) ([]*provider.Event, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
