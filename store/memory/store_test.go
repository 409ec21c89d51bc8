package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/entgate/entgate"
	"github.com/entgate/entgate/account"
	"github.com/entgate/entgate/id"
	"github.com/entgate/entgate/plan"
	"github.com/entgate/entgate/provider"
	"github.com/entgate/entgate/usage"
)

func newAccount() *account.Account {
	return &account.Account{
		ID:          id.NewAccountID(),
		OrgID:       "org_" + id.NewAccountID().String(),
		Status:      account.StatusActive,
		FreeGranted: 3,
	}
}

func seedStore(t *testing.T) (*Store, *account.Account) {
	t.Helper()

	s := New()
	a := newAccount()
	if err := s.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	return s, a
}

func TestUpdateAccountCASVersionConflict(t *testing.T) {
	s, a := seedStore(t)
	ctx := context.Background()

	first, _ := s.GetAccount(ctx, a.ID)
	second, _ := s.GetAccount(ctx, a.ID)

	first.FreeConsumed = 1
	if err := s.UpdateAccountCAS(ctx, first, nil); err != nil {
		t.Fatalf("first CAS error = %v", err)
	}
	if first.Version != a.Version+1 {
		t.Errorf("winner version = %d, want %d", first.Version, a.Version+1)
	}

	// The second copy still carries the old version token.
	second.FreeConsumed = 2
	if err := s.UpdateAccountCAS(ctx, second, nil); !errors.Is(err, entgate.ErrVersionConflict) {
		t.Fatalf("stale CAS error = %v, want ErrVersionConflict", err)
	}

	got, _ := s.GetAccount(ctx, a.ID)
	if got.FreeConsumed != 1 {
		t.Errorf("FreeConsumed = %d, the losing write leaked through", got.FreeConsumed)
	}
}

func TestUpdateAccountCASWritesUsageAtomically(t *testing.T) {
	s, a := seedStore(t)
	ctx := context.Background()

	cur, _ := s.GetAccount(ctx, a.ID)
	cur.FreeConsumed = 4 // exceeds FreeGranted
	ev := &usage.Event{ID: id.NewUsageEventID(), AccountID: a.ID, Bucket: account.BucketFree, Quantity: 1}

	if err := s.UpdateAccountCAS(ctx, cur, ev); !errors.Is(err, entgate.ErrCounterInvariant) {
		t.Fatalf("CAS error = %v, want ErrCounterInvariant", err)
	}

	events, _ := s.QueryUsage(ctx, a.ID, usage.QueryOpts{})
	if len(events) != 0 {
		t.Errorf("usage written alongside a rejected counter update: %d events", len(events))
	}
}

func TestUpdateAccountCASUnknownAccount(t *testing.T) {
	s := New()
	a := newAccount()

	if err := s.UpdateAccountCAS(context.Background(), a, nil); !errors.Is(err, entgate.ErrAccountNotFound) {
		t.Fatalf("CAS error = %v, want ErrAccountNotFound", err)
	}
}

func TestApplyProviderEventDuplicateLeavesAccountUntouched(t *testing.T) {
	s, a := seedStore(t)
	ctx := context.Background()

	apply := func() error {
		cur, _ := s.GetAccount(ctx, a.ID)
		cur.PurchasedGranted += 50
		ev := &provider.Event{
			ID:            id.NewProviderEventID(),
			EventID:       "evt_1",
			TransactionID: "txn_1",
			Type:          provider.EventTransactionCompleted,
			Source:        provider.SourceWebhook,
			Status:        provider.EventApplied,
			AccountID:     a.ID,
			ReceivedAt:    time.Now(),
		}
		return s.ApplyProviderEvent(ctx, ev, cur)
	}

	if err := apply(); err != nil {
		t.Fatalf("first apply error = %v", err)
	}
	if err := apply(); !errors.Is(err, entgate.ErrDuplicateEvent) {
		t.Fatalf("second apply error = %v, want ErrDuplicateEvent", err)
	}

	got, _ := s.GetAccount(ctx, a.ID)
	if got.PurchasedGranted != 50 {
		t.Errorf("PurchasedGranted = %d, want 50 (granted once)", got.PurchasedGranted)
	}
}

func TestApplyProviderEventStaleVersionRejected(t *testing.T) {
	s, a := seedStore(t)
	ctx := context.Background()

	stale, _ := s.GetAccount(ctx, a.ID)

	// A concurrent counter write moves the row under the stale snapshot.
	cur, _ := s.GetAccount(ctx, a.ID)
	cur.FreeConsumed = 1
	if err := s.UpdateAccountCAS(ctx, cur, nil); err != nil {
		t.Fatalf("CAS error = %v", err)
	}

	stale.Status = account.StatusPaused
	ev := &provider.Event{
		ID:            id.NewProviderEventID(),
		EventID:       "evt_1",
		TransactionID: "txn_stale",
		Status:        provider.EventApplied,
		AccountID:     a.ID,
	}
	if err := s.ApplyProviderEvent(ctx, ev, stale); !errors.Is(err, entgate.ErrVersionConflict) {
		t.Fatalf("ApplyProviderEvent() error = %v, want ErrVersionConflict", err)
	}

	got, _ := s.GetAccount(ctx, a.ID)
	if got.FreeConsumed != 1 {
		t.Errorf("FreeConsumed = %d, the stale apply overwrote a newer write", got.FreeConsumed)
	}
	if got.Status != account.StatusActive {
		t.Errorf("Status = %q, the stale apply leaked through", got.Status)
	}
	if _, err := s.GetProviderEventByTransaction(ctx, "txn_stale"); !errors.Is(err, entgate.ErrNotFound) {
		t.Errorf("event row recorded despite the rejected apply")
	}
}

func TestRecordProviderEventRejectsApplied(t *testing.T) {
	s := New()

	ev := &provider.Event{
		ID:            id.NewProviderEventID(),
		TransactionID: "txn_1",
		Status:        provider.EventApplied,
	}
	if err := s.RecordProviderEvent(context.Background(), ev); !errors.Is(err, entgate.ErrInvalidInput) {
		t.Fatalf("RecordProviderEvent() error = %v, want ErrInvalidInput", err)
	}
}

func TestGetProviderEventByTransactionPrefersApplied(t *testing.T) {
	s, a := seedStore(t)
	ctx := context.Background()

	failed := &provider.Event{
		ID:            id.NewProviderEventID(),
		TransactionID: "txn_1",
		Status:        provider.EventFailed,
	}
	if err := s.RecordProviderEvent(ctx, failed); err != nil {
		t.Fatalf("RecordProviderEvent() error = %v", err)
	}

	cur, _ := s.GetAccount(ctx, a.ID)
	applied := &provider.Event{
		ID:            id.NewProviderEventID(),
		TransactionID: "txn_1",
		Status:        provider.EventApplied,
		AccountID:     a.ID,
	}
	if err := s.ApplyProviderEvent(ctx, applied, cur); err != nil {
		t.Fatalf("ApplyProviderEvent() error = %v", err)
	}

	got, err := s.GetProviderEventByTransaction(ctx, "txn_1")
	if err != nil {
		t.Fatalf("GetProviderEventByTransaction() error = %v", err)
	}
	if got.Status != provider.EventApplied {
		t.Errorf("Status = %q, want applied row preferred", got.Status)
	}

	if _, err := s.GetProviderEventByTransaction(ctx, "txn_other"); !errors.Is(err, entgate.ErrNotFound) {
		t.Errorf("unknown transaction error = %v, want ErrNotFound", err)
	}
}

func TestCreatePlanSecondDefaultRejected(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := &plan.Plan{ID: id.NewPlanID(), Name: "A", Slug: "a", Status: plan.StatusActive, Default: true}
	if err := s.CreatePlan(ctx, first); err != nil {
		t.Fatalf("CreatePlan() error = %v", err)
	}

	second := &plan.Plan{ID: id.NewPlanID(), Name: "B", Slug: "b", Status: plan.StatusActive, Default: true}
	if err := s.CreatePlan(ctx, second); !errors.Is(err, entgate.ErrDefaultPlanExists) {
		t.Fatalf("CreatePlan() error = %v, want ErrDefaultPlanExists", err)
	}
}

func TestSetDefaultPlanSwaps(t *testing.T) {
	s := New()
	ctx := context.Background()

	a := &plan.Plan{ID: id.NewPlanID(), Name: "A", Slug: "a", Status: plan.StatusActive, Default: true}
	b := &plan.Plan{ID: id.NewPlanID(), Name: "B", Slug: "b", Status: plan.StatusActive}
	for _, p := range []*plan.Plan{a, b} {
		if err := s.CreatePlan(ctx, p); err != nil {
			t.Fatalf("CreatePlan(%s) error = %v", p.Slug, err)
		}
	}

	if err := s.SetDefaultPlan(ctx, b.ID); err != nil {
		t.Fatalf("SetDefaultPlan() error = %v", err)
	}

	def, err := s.GetDefaultPlan(ctx)
	if err != nil {
		t.Fatalf("GetDefaultPlan() error = %v", err)
	}
	if def.ID != b.ID {
		t.Errorf("default plan = %s, want %s", def.ID, b.ID)
	}
}

func TestArchivedPlanIsNeverDefault(t *testing.T) {
	s := New()
	ctx := context.Background()

	p := &plan.Plan{ID: id.NewPlanID(), Name: "A", Slug: "a", Status: plan.StatusActive, Default: true}
	if err := s.CreatePlan(ctx, p); err != nil {
		t.Fatalf("CreatePlan() error = %v", err)
	}
	if err := s.ArchivePlan(ctx, p.ID); err != nil {
		t.Fatalf("ArchivePlan() error = %v", err)
	}

	if _, err := s.GetDefaultPlan(ctx); !errors.Is(err, entgate.ErrNoDefaultPlan) {
		t.Errorf("GetDefaultPlan() error = %v, want ErrNoDefaultPlan", err)
	}
	if err := s.SetDefaultPlan(ctx, p.ID); !errors.Is(err, entgate.ErrPlanArchived) {
		t.Errorf("SetDefaultPlan() error = %v, want ErrPlanArchived", err)
	}
}

func TestReadsReturnIsolatedCopies(t *testing.T) {
	s, a := seedStore(t)
	ctx := context.Background()

	got, _ := s.GetAccount(ctx, a.ID)
	got.FreeConsumed = 99

	again, _ := s.GetAccount(ctx, a.ID)
	if again.FreeConsumed != 0 {
		t.Errorf("mutating a loaded account leaked into the store")
	}
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	s, a := seedStore(t)
	ctx := context.Background()

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, entgate.ErrStoreClosed) {
		t.Errorf("Ping() after close error = %v, want ErrStoreClosed", err)
	}
	if err := s.UpdateAccountCAS(ctx, a, nil); !errors.Is(err, entgate.ErrStoreClosed) {
		t.Errorf("CAS after close error = %v, want ErrStoreClosed", err)
	}
}
