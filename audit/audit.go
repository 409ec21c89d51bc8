// Package audit ships a hook that writes every ledger-affecting action to
// a structured log, so denials, commits, provider mutations, and drift
// repairs stay reconstructable from the log stream alone.
package audit

import (
	"context"
	"log/slog"

	"github.com/entgate/entgate/account"
	"github.com/entgate/entgate/hook"
	"github.com/entgate/entgate/id"
	"github.com/entgate/entgate/provider"
	"github.com/entgate/entgate/usage"
)

// Log is a hook.Hook that records ledger activity via slog.
type Log struct {
	logger *slog.Logger
}

// New creates an audit log hook.
func New(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Name implements hook.Hook.
func (l *Log) Name() string { return "audit-log" }

// OnDecision records every evaluation, allowed or not.
func (l *Log) OnDecision(_ context.Context, ev hook.DecisionEvent) error {
	l.logger.Info("audit: entitlement decision",
		"account_id", ev.AccountID.String(),
		"allowed", ev.Allowed,
		"bucket", string(ev.Bucket),
		"reason", ev.Reason,
	)
	return nil
}

// OnUsageCommitted records durable consumption.
func (l *Log) OnUsageCommitted(_ context.Context, ev *usage.Event) error {
	l.logger.Info("audit: usage committed",
		"account_id", ev.AccountID.String(),
		"bucket", string(ev.Bucket),
		"correlation_id", ev.CorrelationID,
	)
	return nil
}

// OnQuotaExhausted records hard denials with the final balances.
func (l *Log) OnQuotaExhausted(_ context.Context, accountID id.AccountID, remaining account.Remaining) error {
	l.logger.Warn("audit: quota exhausted",
		"account_id", accountID.String(),
		"purchased_remaining", remaining.Purchased,
		"free_remaining", remaining.Free,
		"period_remaining", remaining.Period,
	)
	return nil
}

// OnEventApplied records provider-driven ledger mutations.
func (l *Log) OnEventApplied(_ context.Context, ev *provider.Event) error {
	l.logger.Info("audit: provider event applied",
		"event_id", ev.EventID,
		"transaction_id", ev.TransactionID,
		"type", string(ev.Type),
		"source", string(ev.Source),
		"account_id", ev.AccountID.String(),
	)
	return nil
}

// OnDriftRepaired records reconciliation repairs with before/after state.
func (l *Log) OnDriftRepaired(_ context.Context, ev hook.DriftEvent) error {
	l.logger.Info("audit: drift repaired",
		"account_id", ev.AccountID.String(),
		"before", string(ev.Before),
		"after", string(ev.After),
	)
	return nil
}

var (
	_ hook.OnDecision       = (*Log)(nil)
	_ hook.OnUsageCommitted = (*Log)(nil)
	_ hook.OnQuotaExhausted = (*Log)(nil)
	_ hook.OnEventApplied   = (*Log)(nil)
	_ hook.OnDriftRepaired  = (*Log)(nil)
)
