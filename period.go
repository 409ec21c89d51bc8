package entgate

import (
	"context"
	"errors"
	"time"

	"github.com/entgate/entgate/account"
	"github.com/entgate/entgate/id"
	"github.com/entgate/entgate/plan"
)

// advancePeriod walks PeriodStart forward along the plan's fixed interval
// boundaries until the next boundary lies in the future, resetting the
// period counter if at least one boundary elapsed. A long-idle account
// crosses all missed boundaries in one step and still resets only once.
// Free and purchased counters are never touched here.
func advancePeriod(a *account.Account, p *plan.Plan, now time.Time) bool {
	if !p.IsRecurring() || a.PeriodStart.IsZero() {
		return false
	}

	next := p.NextBoundary(a.PeriodStart)
	if !next.After(a.PeriodStart) {
		// Misconfigured interval; never roll rather than loop.
		return false
	}
	if next.After(now) {
		return false
	}
	for !next.After(now) {
		a.PeriodStart = next
		next = p.NextBoundary(a.PeriodStart)
	}
	a.PeriodConsumed = 0

	return true
}

// loadCurrent returns the account and its plan with any due period
// rollover applied and persisted. The rollover write goes through the
// version check, so two callers racing on the same boundary produce
// exactly one reset: the loser reloads and sees the rollover already
// done.
func (e *Engine) loadCurrent(ctx context.Context, accountID id.AccountID) (*account.Account, *plan.Plan, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		a, err := e.store.GetAccount(ctx, accountID)
		if err != nil {
			return nil, nil, false, err
		}
		p, err := e.store.GetPlan(ctx, a.PlanID)
		if err != nil {
			return nil, nil, false, err
		}

		if !advancePeriod(a, p, e.now().UTC()) {
			return a, p, false, nil
		}

		a.Touch()
		err = e.store.UpdateAccountCAS(ctx, a, nil)
		if err == nil {
			e.logger.Info("period rolled over",
				"account_id", a.ID.String(),
				"period_start", a.PeriodStart,
				"allowance", a.PeriodAllowance,
			)
			return a, p, true, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, nil, false, err
		}
	}

	return nil, nil, false, ErrStateChanged
}

// RefreshPeriod forces a rollover check outside the evaluate/commit path,
// for operator tooling and scheduled sweeps. Reports whether a rollover
// was applied by this call.
func (e *Engine) RefreshPeriod(ctx context.Context, accountID id.AccountID) (bool, error) {
	_, _, rolled, err := e.loadCurrent(ctx, accountID)
	return rolled, err
}
