package entgate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entgate/entgate"
	"github.com/entgate/entgate/plan"
)

func TestPeriodRollsOverExactlyOnce(t *testing.T) {
	e, st, clock := newTestEngine(t)
	p := seedPlan(t, e, func(p *plan.Plan) { p.Interval = plan.IntervalDaily })
	a := seedAccount(t, e, p)

	a.PeriodConsumed = 40
	a.FreeConsumed = 3
	saveAccount(t, st, a)

	// Land exactly on the boundary: rollover must fire, and only once
	// even when Evaluate runs twice at the same instant.
	clock.Advance(24 * time.Hour)

	rolled, err := e.RefreshPeriod(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, rolled)

	rolled, err = e.RefreshPeriod(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, rolled)

	got, err := e.GetAccount(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Zero(t, got.PeriodConsumed)
	assert.Equal(t, baseTime.Add(24*time.Hour), got.PeriodStart)
}

func TestPeriodRolloverNeverResetsOtherBuckets(t *testing.T) {
	e, st, clock := newTestEngine(t)
	p := seedPlan(t, e, func(p *plan.Plan) { p.Interval = plan.IntervalDaily })
	a := seedAccount(t, e, p)

	a.PurchasedGranted, a.PurchasedConsumed = 10, 4
	a.FreeConsumed = 2
	a.PeriodConsumed = 99
	saveAccount(t, st, a)

	clock.Advance(25 * time.Hour)

	_, err := e.Evaluate(context.Background(), a.ID)
	require.NoError(t, err)

	got, err := e.GetAccount(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Zero(t, got.PeriodConsumed)
	assert.Equal(t, int64(4), got.PurchasedConsumed, "purchased survives rollover")
	assert.Equal(t, int64(2), got.FreeConsumed, "free survives rollover")
}

func TestPeriodLongIdleCrossesAllBoundaries(t *testing.T) {
	e, st, clock := newTestEngine(t)
	p := seedPlan(t, e, func(p *plan.Plan) { p.Interval = plan.IntervalDaily })
	a := seedAccount(t, e, p)

	a.PeriodConsumed = 70
	saveAccount(t, st, a)

	// Ten missed boundaries collapse into a single reset; PeriodStart
	// lands on the most recent boundary, not on "now".
	clock.Advance(10*24*time.Hour + 3*time.Hour)

	rolled, err := e.RefreshPeriod(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, rolled)

	got, err := e.GetAccount(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Zero(t, got.PeriodConsumed)
	assert.Equal(t, baseTime.Add(10*24*time.Hour), got.PeriodStart)
}

func TestPeriodMonthlyBoundariesStayCalendarAligned(t *testing.T) {
	e, st, clock := newTestEngine(t)
	p := seedPlan(t, e) // monthly
	a := seedAccount(t, e, p)

	a.PeriodConsumed = 10
	saveAccount(t, st, a)

	clock.Set(baseTime.AddDate(0, 1, 0))

	rolled, err := e.RefreshPeriod(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, rolled)

	got, err := e.GetAccount(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, baseTime.AddDate(0, 1, 0), got.PeriodStart)
}

func TestPeriodOneTimePlanNeverRolls(t *testing.T) {
	e, st, clock := newTestEngine(t)
	p := seedPlan(t, e, func(p *plan.Plan) {
		p.Type = plan.TypeOneTime
		p.Interval = ""
		p.PeriodAllowance = 0
		p.CreditSize = 50
		p.Slug = "credits-50"
		p.Default = true
	})
	a := seedAccount(t, e, p)

	a.PurchasedGranted = 50
	saveAccount(t, st, a)

	clock.Advance(90 * 24 * time.Hour)

	rolled, err := e.RefreshPeriod(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, rolled)

	d, err := e.Evaluate(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, entgate.BucketPurchased, d.Bucket)
}
