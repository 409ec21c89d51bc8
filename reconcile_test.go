package entgate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entgate/entgate"
	"github.com/entgate/entgate/account"
	"github.com/entgate/entgate/provider"
)

// fakeProvider serves canned subscription state keyed by subscription ID.
type fakeProvider struct {
	subs map[string]*provider.Subscription
	errs map[string]error
}

func (f *fakeProvider) GetSubscription(_ context.Context, id string) (*provider.Subscription, error) {
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	if sub, ok := f.subs[id]; ok {
		return sub, nil
	}
	return nil, provider.ErrSubscriptionNotFound
}

func TestScanWithoutProvider(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.Scan(context.Background())
	assert.ErrorIs(t, err, entgate.ErrNoProvider)
}

func TestScanRepairsDrift(t *testing.T) {
	fp := &fakeProvider{subs: map[string]*provider.Subscription{
		"sub_ok":      {ID: "sub_ok", Status: "active"},
		"sub_drifted": {ID: "sub_drifted", Status: "canceled"},
	}}

	e, st, _ := newTestEngine(t, entgate.WithProvider(fp))
	p := seedPlan(t, e)

	ctx := context.Background()

	healthy, err := e.ProvisionAccount(ctx, "org_healthy", p.ID)
	require.NoError(t, err)
	healthy.ProviderSubscriptionID = "sub_ok"
	saveAccount(t, st, healthy)

	drifted, err := e.ProvisionAccount(ctx, "org_drifted", p.ID)
	require.NoError(t, err)
	drifted.ProviderSubscriptionID = "sub_drifted"
	saveAccount(t, st, drifted)

	report, err := e.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.DriftDetected)
	assert.Equal(t, 1, report.Repaired)
	assert.Zero(t, report.Failed)

	got, err := e.GetAccount(ctx, drifted.ID)
	require.NoError(t, err)
	assert.Equal(t, account.StatusCanceled, got.Status, "provider wins the disagreement")

	// The repair went through the same recorded path webhooks use.
	events, err := st.ListProviderEvents(ctx, provider.ListOpts{Status: provider.EventApplied})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, provider.SourceReconciler, events[0].Source)
	assert.Equal(t, drifted.ID, events[0].AccountID)
}

func TestScanRepairTouchesOnlyStatus(t *testing.T) {
	fp := &fakeProvider{subs: map[string]*provider.Subscription{
		"sub_1": {ID: "sub_1", Status: "paused", PriceID: "pri_other"},
	}}

	e, st, _ := newTestEngine(t, entgate.WithProvider(fp))
	p := seedPlan(t, e)

	ctx := context.Background()
	a, err := e.ProvisionAccount(ctx, "org_1", p.ID)
	require.NoError(t, err)
	a.ProviderSubscriptionID = "sub_1"
	a.PurchasedGranted, a.PurchasedConsumed = 10, 4
	a.FreeConsumed = 2
	saveAccount(t, st, a)

	_, err = e.Scan(ctx)
	require.NoError(t, err)

	got, err := e.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, account.StatusPaused, got.Status)
	assert.Equal(t, p.ID, got.PlanID, "sweep repairs never relink plans")
	assert.Equal(t, int64(4), got.PurchasedConsumed)
	assert.Equal(t, int64(2), got.FreeConsumed)
}

func TestScanOneFailureDoesNotAbortSweep(t *testing.T) {
	fp := &fakeProvider{
		subs: map[string]*provider.Subscription{
			"sub_good": {ID: "sub_good", Status: "canceled"},
		},
		errs: map[string]error{
			"sub_bad": errors.New("upstream 500"),
		},
	}

	e, st, _ := newTestEngine(t, entgate.WithProvider(fp))
	p := seedPlan(t, e)

	ctx := context.Background()

	bad, err := e.ProvisionAccount(ctx, "org_bad", p.ID)
	require.NoError(t, err)
	bad.ProviderSubscriptionID = "sub_bad"
	saveAccount(t, st, bad)

	good, err := e.ProvisionAccount(ctx, "org_good", p.ID)
	require.NoError(t, err)
	good.ProviderSubscriptionID = "sub_good"
	saveAccount(t, st, good)

	report, err := e.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Repaired, "the healthy account was still repaired")

	got, err := e.GetAccount(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, account.StatusCanceled, got.Status)
}

func TestScanGoneSubscriptionCountsAsFailed(t *testing.T) {
	fp := &fakeProvider{subs: map[string]*provider.Subscription{}}

	e, st, _ := newTestEngine(t, entgate.WithProvider(fp))
	p := seedPlan(t, e)

	ctx := context.Background()
	a, err := e.ProvisionAccount(ctx, "org_gone", p.ID)
	require.NoError(t, err)
	a.ProviderSubscriptionID = "sub_gone"
	saveAccount(t, st, a)

	report, err := e.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Repaired)

	got, err := e.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, account.StatusActive, got.Status, "never auto-canceled on a missing upstream record")
}
