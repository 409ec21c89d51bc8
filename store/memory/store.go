// Package memory provides an in-memory store, for tests and for
// embedding entgate without external infrastructure.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/entgate/entgate"
	"github.com/entgate/entgate/account"
	"github.com/entgate/entgate/id"
	"github.com/entgate/entgate/plan"
	"github.com/entgate/entgate/provider"
	"github.com/entgate/entgate/usage"
)

// Store keeps everything in maps behind one mutex. Rows are copied on
// both read and write so callers mutating a loaded account can never
// bypass the version check.
type Store struct {
	mu sync.RWMutex

	accounts map[string]*account.Account
	plans    map[string]*plan.Plan

	usageEvents []usage.Event

	providerEvents []provider.Event
	// appliedTxn mirrors the partial unique index the SQL backends carry:
	// at most one applied event per provider transaction ID.
	appliedTxn map[string]struct{}

	closed bool
}

func New() *Store {
	return &Store{
		accounts:   make(map[string]*account.Account),
		plans:      make(map[string]*plan.Plan),
		appliedTxn: make(map[string]struct{}),
	}
}

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

func (s *Store) CreateAccount(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return entgate.ErrStoreClosed
	}

	if _, exists := s.accounts[a.ID.String()]; exists {
		return entgate.ErrAccountExists
	}
	for _, existing := range s.accounts {
		if existing.OrgID == a.OrgID {
			return entgate.ErrAccountExists
		}
	}
	if !a.CountersValid() {
		return entgate.ErrCounterInvariant
	}

	s.accounts[a.ID.String()] = cloneAccount(a)
	return nil
}

func (s *Store) GetAccount(_ context.Context, accountID id.AccountID) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.accounts[accountID.String()]; ok {
		return cloneAccount(a), nil
	}
	return nil, entgate.ErrAccountNotFound
}

func (s *Store) GetAccountByOrg(_ context.Context, orgID string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.OrgID == orgID {
			return cloneAccount(a), nil
		}
	}
	return nil, entgate.ErrAccountNotFound
}

func (s *Store) GetAccountByProviderSubscription(_ context.Context, providerSubscriptionID string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if providerSubscriptionID == "" {
		return nil, entgate.ErrAccountNotFound
	}
	for _, a := range s.accounts {
		if a.ProviderSubscriptionID == providerSubscriptionID {
			return cloneAccount(a), nil
		}
	}
	return nil, entgate.ErrAccountNotFound
}

func (s *Store) GetAccountByProviderCustomer(_ context.Context, providerCustomerID string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if providerCustomerID == "" {
		return nil, entgate.ErrAccountNotFound
	}
	for _, a := range s.accounts {
		if a.ProviderCustomerID == providerCustomerID {
			return cloneAccount(a), nil
		}
	}
	return nil, entgate.ErrAccountNotFound
}

func (s *Store) ListAccounts(_ context.Context, opts account.ListOpts) ([]*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*account.Account, 0)
	for _, a := range s.accounts {
		if opts.Status == "" || a.Status == opts.Status {
			result = append(result, cloneAccount(a))
		}
	}
	return window(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListSubscribedAccounts(_ context.Context) ([]*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*account.Account, 0)
	for _, a := range s.accounts {
		if a.ProviderSubscriptionID != "" {
			result = append(result, cloneAccount(a))
		}
	}
	return result, nil
}

func (s *Store) UpdateAccount(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return entgate.ErrStoreClosed
	}

	cur, exists := s.accounts[a.ID.String()]
	if !exists {
		return entgate.ErrAccountNotFound
	}
	if !a.CountersValid() {
		return entgate.ErrCounterInvariant
	}

	a.Version = cur.Version + 1
	s.accounts[a.ID.String()] = cloneAccount(a)
	return nil
}

func (s *Store) UpdateAccountCAS(_ context.Context, a *account.Account, ev *usage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return entgate.ErrStoreClosed
	}

	cur, exists := s.accounts[a.ID.String()]
	if !exists {
		return entgate.ErrAccountNotFound
	}
	if cur.Version != a.Version {
		return entgate.ErrVersionConflict
	}
	if !a.CountersValid() {
		return entgate.ErrCounterInvariant
	}

	a.Version++
	s.accounts[a.ID.String()] = cloneAccount(a)
	if ev != nil {
		s.usageEvents = append(s.usageEvents, *ev)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Plans
// ──────────────────────────────────────────────────

func (s *Store) CreatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return entgate.ErrStoreClosed
	}

	if _, exists := s.plans[p.ID.String()]; exists {
		return entgate.ErrAlreadyExists
	}
	for _, existing := range s.plans {
		if existing.Slug == p.Slug {
			return entgate.ErrAlreadyExists
		}
		if p.Default && existing.Default {
			return entgate.ErrDefaultPlanExists
		}
	}

	s.plans[p.ID.String()] = clonePlan(p)
	return nil
}

func (s *Store) GetPlan(_ context.Context, planID id.PlanID) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.plans[planID.String()]; ok {
		return clonePlan(p), nil
	}
	return nil, entgate.ErrPlanNotFound
}

func (s *Store) GetPlanBySlug(_ context.Context, slug string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.Slug == slug {
			return clonePlan(p), nil
		}
	}
	return nil, entgate.ErrPlanNotFound
}

func (s *Store) GetPlanByProviderPrice(_ context.Context, providerPriceID string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if providerPriceID == "" {
		return nil, entgate.ErrPlanNotFound
	}
	for _, p := range s.plans {
		if p.ProviderPriceID == providerPriceID {
			return clonePlan(p), nil
		}
	}
	return nil, entgate.ErrPlanNotFound
}

func (s *Store) GetDefaultPlan(_ context.Context) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.Default && p.Status == plan.StatusActive {
			return clonePlan(p), nil
		}
	}
	return nil, entgate.ErrNoDefaultPlan
}

func (s *Store) ListPlans(_ context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Plan, 0)
	for _, p := range s.plans {
		if opts.Status != "" && p.Status != opts.Status {
			continue
		}
		if opts.Type != "" && p.Type != opts.Type {
			continue
		}
		result = append(result, clonePlan(p))
	}
	return window(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; !exists {
		return entgate.ErrPlanNotFound
	}
	s.plans[p.ID.String()] = clonePlan(p)
	return nil
}

func (s *Store) SetDefaultPlan(_ context.Context, planID id.PlanID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, exists := s.plans[planID.String()]
	if !exists {
		return entgate.ErrPlanNotFound
	}
	if target.Status == plan.StatusArchived {
		return entgate.ErrPlanArchived
	}

	for _, p := range s.plans {
		p.Default = false
	}
	target.Default = true
	return nil
}

func (s *Store) ArchivePlan(_ context.Context, planID id.PlanID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, exists := s.plans[planID.String()]; exists {
		p.Status = plan.StatusArchived
		p.Default = false
		return nil
	}
	return entgate.ErrPlanNotFound
}

// ──────────────────────────────────────────────────
// Usage
// ──────────────────────────────────────────────────

func (s *Store) QueryUsage(_ context.Context, accountID id.AccountID, opts usage.QueryOpts) ([]*usage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*usage.Event, 0)
	for i := range s.usageEvents {
		e := s.usageEvents[i]
		if e.AccountID != accountID {
			continue
		}
		if opts.Bucket != "" && e.Bucket != opts.Bucket {
			continue
		}
		if !opts.From.IsZero() && e.Timestamp.Before(opts.From) {
			continue
		}
		if !opts.To.IsZero() && !e.Timestamp.Before(opts.To) {
			continue
		}
		result = append(result, &e)
	}
	return window(result, opts.Offset, opts.Limit), nil
}

func (s *Store) SummarizeUsage(_ context.Context, accountID id.AccountID, from, to time.Time) (*usage.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := &usage.Summary{
		AccountID: accountID,
		From:      from,
		To:        to,
		ByBucket:  make(map[account.Bucket]int64),
	}
	for i := range s.usageEvents {
		e := &s.usageEvents[i]
		if e.AccountID != accountID {
			continue
		}
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !e.Timestamp.Before(to) {
			continue
		}
		sum.Requests += e.Quantity
		sum.ByBucket[e.Bucket] += e.Quantity
	}
	return sum, nil
}

func (s *Store) PurgeUsage(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	kept := make([]usage.Event, 0, len(s.usageEvents))
	for _, e := range s.usageEvents {
		if e.Timestamp.Before(before) {
			count++
		} else {
			kept = append(kept, e)
		}
	}
	s.usageEvents = kept
	return count, nil
}

// ──────────────────────────────────────────────────
// Provider events
// ──────────────────────────────────────────────────

func (s *Store) GetProviderEventByTransaction(_ context.Context, transactionID string) (*provider.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Prefer the applied row; fall back to the most recent.
	var latest *provider.Event
	for i := range s.providerEvents {
		e := &s.providerEvents[i]
		if e.TransactionID != transactionID {
			continue
		}
		if e.Status == provider.EventApplied {
			cp := *e
			return &cp, nil
		}
		latest = e
	}
	if latest == nil {
		return nil, entgate.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) RecordProviderEvent(_ context.Context, ev *provider.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return entgate.ErrStoreClosed
	}

	if ev.Status == provider.EventApplied {
		// Applied rows must go through ApplyProviderEvent so the account
		// mutation and the guard land together.
		return entgate.ErrInvalidInput
	}
	s.providerEvents = append(s.providerEvents, *ev)
	return nil
}

func (s *Store) ApplyProviderEvent(_ context.Context, ev *provider.Event, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return entgate.ErrStoreClosed
	}

	if ev.TransactionID == "" {
		return entgate.ErrInvalidInput
	}
	if _, dup := s.appliedTxn[ev.TransactionID]; dup {
		return entgate.ErrDuplicateEvent
	}
	cur, exists := s.accounts[a.ID.String()]
	if !exists {
		return entgate.ErrAccountNotFound
	}
	if cur.Version != a.Version {
		// Same guard as UpdateAccountCAS: an apply built on a stale
		// snapshot must never overwrite a concurrent commit's counters.
		return entgate.ErrVersionConflict
	}
	if !a.CountersValid() {
		return entgate.ErrCounterInvariant
	}

	a.Version++
	s.accounts[a.ID.String()] = cloneAccount(a)
	s.providerEvents = append(s.providerEvents, *ev)
	s.appliedTxn[ev.TransactionID] = struct{}{}
	return nil
}

func (s *Store) ListProviderEvents(_ context.Context, opts provider.ListOpts) ([]*provider.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*provider.Event, 0)
	for i := range s.providerEvents {
		e := s.providerEvents[i]
		if opts.Status != "" && e.Status != opts.Status {
			continue
		}
		result = append(result, &e)
	}
	return window(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Store management
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return entgate.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Helper functions
func cloneAccount(a *account.Account) *account.Account {
	cp := *a
	if a.TrialStartedAt != nil {
		t := *a.TrialStartedAt
		cp.TrialStartedAt = &t
	}
	return &cp
}

func clonePlan(p *plan.Plan) *plan.Plan {
	cp := *p
	if p.Metadata != nil {
		cp.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func window[T any](items []T, offset, limit int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit == 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
