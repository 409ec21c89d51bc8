package entgate_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entgate/entgate"
	"github.com/entgate/entgate/plan"
	"github.com/entgate/entgate/usage"
)

func TestCommitChargesWinningBucket(t *testing.T) {
	e, st, _ := newTestEngine(t)
	p := seedPlan(t, e)
	a := seedAccount(t, e, p)

	a.PurchasedGranted = 1
	saveAccount(t, st, a)

	ctx := context.Background()

	// purchased, then free x3, then period.
	wantOrder := []entgate.Bucket{
		entgate.BucketPurchased,
		entgate.BucketFree, entgate.BucketFree, entgate.BucketFree,
		entgate.BucketPeriod,
	}
	for i, want := range wantOrder {
		r, err := e.Commit(ctx, a.ID, "")
		require.NoError(t, err, "commit %d", i)
		assert.Equal(t, want, r.Bucket, "commit %d", i)
		assert.NotEmpty(t, r.CorrelationID)
	}

	got, err := e.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.PurchasedConsumed)
	assert.Equal(t, int64(3), got.FreeConsumed)
	assert.Equal(t, int64(1), got.PeriodConsumed)
}

func TestCommitRecordsUsageEvent(t *testing.T) {
	e, _, _ := newTestEngine(t)
	p := seedPlan(t, e)
	a := seedAccount(t, e, p)

	ctx := context.Background()
	r, err := e.Commit(ctx, a.ID, "req_42")
	require.NoError(t, err)
	assert.Equal(t, "req_42", r.CorrelationID)

	events, err := e.Usage(ctx, a.ID, usage.QueryOpts{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, r.Bucket, events[0].Bucket)
	assert.Equal(t, "req_42", events[0].CorrelationID)
	assert.Equal(t, int64(1), events[0].Quantity)
}

func TestCommitExhaustedFailsClosed(t *testing.T) {
	e, st, _ := newTestEngine(t)
	p := seedPlan(t, e, func(p *plan.Plan) { p.PeriodAllowance = 0 })
	a := seedAccount(t, e, p)

	a.FreeConsumed = 3
	saveAccount(t, st, a)

	_, err := e.Commit(context.Background(), a.ID, "")
	assert.ErrorIs(t, err, entgate.ErrStateChanged)

	got, err := e.GetAccount(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.FreeConsumed, "no counter moved on a failed commit")
}

// One remaining unit, many racing commits: exactly one may win.
func TestCommitConcurrentAtMostOneWinner(t *testing.T) {
	e, st, _ := newTestEngine(t)
	p := seedPlan(t, e, func(p *plan.Plan) { p.PeriodAllowance = 0; p.FreeRequests = 0 })
	a := seedAccount(t, e, p)

	a.PurchasedGranted = 1
	saveAccount(t, st, a)

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.Commit(context.Background(), a.ID, "")
		}()
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, entgate.ErrStateChanged)
	}
	assert.Equal(t, 1, wins)

	got, err := e.GetAccount(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.PurchasedConsumed, "never over-consumed")
}

func TestCommitUnlimitedStillWritesLedger(t *testing.T) {
	e, st, _ := newTestEngine(t)
	p := seedPlan(t, e)
	a := seedAccount(t, e, p)

	a.Unlimited = true
	saveAccount(t, st, a)

	ctx := context.Background()
	r, err := e.Commit(ctx, a.ID, "")
	require.NoError(t, err)
	assert.Equal(t, entgate.BucketUnlimited, r.Bucket)

	events, err := e.Usage(ctx, a.ID, usage.QueryOpts{})
	require.NoError(t, err)
	require.Len(t, events, 1, "unlimited access is still recorded")
	assert.Equal(t, entgate.BucketUnlimited, events[0].Bucket)

	got, err := e.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, got.FreeConsumed)
	assert.Zero(t, got.PeriodConsumed)
}

func TestCommitAppliesDueRollover(t *testing.T) {
	e, st, clock := newTestEngine(t)
	p := seedPlan(t, e, func(p *plan.Plan) { p.Interval = plan.IntervalDaily; p.FreeRequests = 0 })
	a := seedAccount(t, e, p)

	a.PeriodConsumed = 100
	saveAccount(t, st, a)

	clock.Advance(24 * time.Hour)

	r, err := e.Commit(context.Background(), a.ID, "")
	require.NoError(t, err)
	assert.True(t, r.PeriodRolledOver)
	assert.Equal(t, entgate.BucketPeriod, r.Bucket)
	assert.Equal(t, int64(99), r.Remaining.Period)
}

func TestUsageSummary(t *testing.T) {
	e, st, clock := newTestEngine(t)
	p := seedPlan(t, e)
	a := seedAccount(t, e, p)

	a.PurchasedGranted = 2
	saveAccount(t, st, a)

	ctx := context.Background()
	for range 4 {
		_, err := e.Commit(ctx, a.ID, "")
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	sum, err := e.UsageSummary(ctx, a.ID, baseTime, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(4), sum.Requests)
	assert.Equal(t, int64(2), sum.ByBucket[entgate.BucketPurchased])
	assert.Equal(t, int64(2), sum.ByBucket[entgate.BucketFree])
}
