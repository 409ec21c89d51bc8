// Package hook provides lifecycle hooks for entgate. Hooks observe
// entitlement decisions, committed usage, applied provider events, and
// drift repairs without being able to alter them.
package hook

import (
	"context"

	"github.com/entgate/entgate/account"
	"github.com/entgate/entgate/id"
	"github.com/entgate/entgate/provider"
	"github.com/entgate/entgate/usage"
)

// Hook is the base interface that all hooks must implement.
type Hook interface {
	Name() string
}

// DecisionEvent describes one entitlement evaluation.
type DecisionEvent struct {
	AccountID id.AccountID
	Allowed   bool
	Bucket    account.Bucket
	Reason    string
}

// DriftEvent describes one reconciliation repair.
type DriftEvent struct {
	AccountID id.AccountID
	Before    account.Status
	After     account.Status
}

// OnDecision is called after every entitlement evaluation.
type OnDecision interface {
	Hook
	OnDecision(ctx context.Context, ev DecisionEvent) error
}

// OnUsageCommitted is called after a consumption is durably committed.
type OnUsageCommitted interface {
	Hook
	OnUsageCommitted(ctx context.Context, ev *usage.Event) error
}

// OnQuotaExhausted is called when every bucket is empty at evaluation time.
type OnQuotaExhausted interface {
	Hook
	OnQuotaExhausted(ctx context.Context, accountID id.AccountID, remaining account.Remaining) error
}

// OnEventApplied is called after a provider event mutates the ledger.
type OnEventApplied interface {
	Hook
	OnEventApplied(ctx context.Context, ev *provider.Event) error
}

// OnDriftRepaired is called when the reconciliation scanner corrects a
// local/provider status mismatch.
type OnDriftRepaired interface {
	Hook
	OnDriftRepaired(ctx context.Context, ev DriftEvent) error
}
