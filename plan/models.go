// Package plan defines the quota policy attached to accounts: free-request
// allowances, trial windows, recurring period allowances, and one-time
// credit grants.
package plan

import (
	"time"

	"github.com/entgate/entgate/id"
	"github.com/entgate/entgate/types"
)

// Type distinguishes recurring subscription plans from one-time credit
// purchases. The two are independent: holding purchased credits never
// implies a subscription and vice versa.
type Type string

const (
	TypeRecurring Type = "recurring"
	TypeOneTime   Type = "one_time"
)

// Interval is the recurring billing cadence.
type Interval string

const (
	IntervalDaily   Interval = "daily"
	IntervalWeekly  Interval = "weekly"
	IntervalMonthly Interval = "monthly"
	IntervalYearly  Interval = "yearly"
)

// Status of a plan.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDraft    Status = "draft"
)

// Plan describes a quota policy.
//
// For recurring plans, PeriodAllowance requests may be consumed per
// Interval. For one-time plans, CreditSize purchased credits are granted
// per completed transaction. FreeRequests and TrialDays apply to both.
// At most one plan carries the Default flag; it is assigned to accounts
// provisioned without an explicit plan.
type Plan struct {
	types.Entity
	ID              id.PlanID         `json:"id"`
	Name            string            `json:"name"`
	Slug            string            `json:"slug"`
	Description     string            `json:"description"`
	Type            Type              `json:"type"`
	Status          Status            `json:"status"`
	Interval        Interval          `json:"interval"`
	PeriodAllowance int64             `json:"period_allowance"`
	FreeRequests    int64             `json:"free_requests"`
	TrialDays       int               `json:"trial_days"`
	CreditSize      int64             `json:"credit_size"`
	Price           types.Money       `json:"price"`
	Default         bool              `json:"default"`
	ProviderPriceID string            `json:"provider_price_id,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// IsRecurring reports whether the plan bills on a recurring interval.
func (p *Plan) IsRecurring() bool { return p.Type == TypeRecurring }

// HasTrial reports whether the plan grants a time-bound trial window.
func (p *Plan) HasTrial() bool { return p.TrialDays > 0 }

// NextBoundary returns the end of the billing interval that starts at
// start. Daily and weekly intervals advance by fixed day counts; monthly
// and yearly advance by calendar so period boundaries stay aligned to a
// fixed cadence rather than drifting with each reset.
func (p *Plan) NextBoundary(start time.Time) time.Time {
	switch p.Interval {
	case IntervalDaily:
		return start.AddDate(0, 0, 1)
	case IntervalWeekly:
		return start.AddDate(0, 0, 7)
	case IntervalMonthly:
		return start.AddDate(0, 1, 0)
	case IntervalYearly:
		return start.AddDate(1, 0, 0)
	default:
		return start
	}
}

// ListOpts filters plan listings.
type ListOpts struct {
	Status Status
	Type   Type
	Limit  int
	Offset int
}
