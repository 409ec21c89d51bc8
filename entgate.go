package entgate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/entgate/entgate/account"
	"github.com/entgate/entgate/hook"
	"github.com/entgate/entgate/id"
	"github.com/entgate/entgate/plan"
	"github.com/entgate/entgate/provider"
	"github.com/entgate/entgate/store"
	"github.com/entgate/entgate/types"
)

// Engine is the entitlement and usage-accounting core.
type Engine struct {
	store    store.Store
	provider provider.Client
	hooks    *hook.Registry
	logger   *slog.Logger

	// now is injectable for deterministic tests.
	now func() time.Time

	// Webhook verification
	webhookSecret    []byte
	webhookTolerance time.Duration

	// Reconciliation sweep
	scanConcurrency int
	scanTimeout     time.Duration
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:            s,
		hooks:            hook.NewRegistry(),
		logger:           slog.Default(),
		now:              time.Now,
		webhookTolerance: provider.DefaultTolerance,
		scanConcurrency:  4,
		scanTimeout:      15 * time.Second,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.hooks.WithLogger(logger)
	}
}

// WithHook registers a lifecycle hook.
func WithHook(h hook.Hook) Option {
	return func(e *Engine) {
		_ = e.hooks.Register(h) //nolint:errcheck // best-effort hook registration during init
	}
}

// WithProvider sets the provider query client used by the reconciliation
// scanner.
func WithProvider(c provider.Client) Option {
	return func(e *Engine) {
		e.provider = c
	}
}

// WithWebhookSecret sets the shared secret for webhook signature
// verification.
func WithWebhookSecret(secret []byte) Option {
	return func(e *Engine) {
		e.webhookSecret = secret
	}
}

// WithWebhookTolerance sets the freshness window for signed webhook
// timestamps.
func WithWebhookTolerance(tolerance time.Duration) Option {
	return func(e *Engine) {
		e.webhookTolerance = tolerance
	}
}

// WithClock overrides the time source. Tests use this to pin rollover
// and trial boundaries.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithScanConcurrency bounds how many accounts the reconciliation sweep
// inspects in parallel.
func WithScanConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.scanConcurrency = n
		}
	}
}

// WithScanTimeout bounds each per-account provider query during a sweep.
func WithScanTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.scanTimeout = d
		}
	}
}

// Start migrates the store and prepares the engine for traffic.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.logger.Info("entgate started",
		"webhook_tolerance", e.webhookTolerance,
		"scan_concurrency", e.scanConcurrency,
		"hooks", e.hooks.Count(),
	)

	return nil
}

// Stop shuts down the engine.
func (e *Engine) Stop() error {
	return e.store.Close()
}

// Ping reports store health.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// ──────────────────────────────────────────────────
// Account Provisioning
// ──────────────────────────────────────────────────

// ProvisionAccount creates the billing account for an organization,
// attaching the given plan, or the default plan when planID is nil.
// Idempotent: an already-provisioned org gets its existing account back.
func (e *Engine) ProvisionAccount(ctx context.Context, orgID string, planID id.PlanID) (*account.Account, error) {
	if orgID == "" {
		return nil, ErrInvalidInput
	}

	if existing, err := e.store.GetAccountByOrg(ctx, orgID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	var p *plan.Plan
	var err error
	if planID.IsNil() {
		p, err = e.store.GetDefaultPlan(ctx)
	} else {
		p, err = e.store.GetPlan(ctx, planID)
	}
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	a := &account.Account{
		Entity:          types.NewEntity(),
		ID:              id.NewAccountID(),
		OrgID:           orgID,
		PlanID:          p.ID,
		Status:          account.StatusActive,
		FreeGranted:     p.FreeRequests,
		PeriodStart:     now,
		PeriodAllowance: p.PeriodAllowance,
		Balance:         types.Zero(p.Price.Currency),
		TotalSpent:      types.Zero(p.Price.Currency),
	}
	if p.HasTrial() {
		a.Status = account.StatusTrialing
		a.TrialStartedAt = &now
	}

	if err := e.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}

	e.logger.Info("account provisioned",
		"account_id", a.ID.String(),
		"org_id", orgID,
		"plan", p.Slug,
	)

	return a, nil
}

// GetAccount retrieves an account by ID.
func (e *Engine) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return e.store.GetAccount(ctx, accountID)
}

// GetAccountByOrg retrieves the account owned by an organization.
func (e *Engine) GetAccountByOrg(ctx context.Context, orgID string) (*account.Account, error) {
	return e.store.GetAccountByOrg(ctx, orgID)
}

// Subscribe attaches a plan to an account locally (operator path; the
// provider-driven path arrives via webhooks). Plan change resets the
// free bucket and the recurring period; purchased credits are untouched.
func (e *Engine) Subscribe(ctx context.Context, accountID id.AccountID, planID id.PlanID) (*account.Account, error) {
	p, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if p.Status == plan.StatusArchived {
		return nil, ErrPlanArchived
	}

	var updated *account.Account
	err = e.mutateAccount(ctx, accountID, func(a *account.Account) error {
		e.attachPlan(a, p)
		a.Status = account.StatusActive
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// CancelSubscription marks the account canceled locally. Purchased
// credits remain consumable afterward.
func (e *Engine) CancelSubscription(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	var updated *account.Account
	err := e.mutateAccount(ctx, accountID, func(a *account.Account) error {
		a.Status = account.StatusCanceled
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// attachPlan rewires an account's quota grants to a new plan. Free and
// period buckets reset on plan change; the purchased bucket never does.
func (e *Engine) attachPlan(a *account.Account, p *plan.Plan) {
	a.PlanID = p.ID
	a.FreeGranted = p.FreeRequests
	a.FreeConsumed = 0
	a.PeriodAllowance = p.PeriodAllowance
	a.PeriodConsumed = 0
	a.PeriodStart = e.now().UTC()
	if p.HasTrial() && a.TrialStartedAt == nil {
		now := e.now().UTC()
		a.TrialStartedAt = &now
	}
}

// mutateAccount applies fn to a freshly loaded account and persists it
// with a version check, retrying once on a lost race. Counter-charging
// writes use Commit instead; this is for status/plan mutations.
func (e *Engine) mutateAccount(ctx context.Context, accountID id.AccountID, fn func(*account.Account) error) error {
	for attempt := 0; attempt < 2; attempt++ {
		a, err := e.store.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
		if !a.CountersValid() {
			return ErrCounterInvariant
		}

		a.Touch()
		err = e.store.UpdateAccountCAS(ctx, a, nil)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
	}

	return ErrStateChanged
}

// ──────────────────────────────────────────────────
// Plan Management
// ──────────────────────────────────────────────────

// CreatePlan creates a new quota plan.
func (e *Engine) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if p.ID.IsNil() {
		p.ID = id.NewPlanID()
	}
	p.Entity = types.NewEntity()
	if p.Status == "" {
		p.Status = plan.StatusActive
	}

	return e.store.CreatePlan(ctx, p)
}

// GetPlan retrieves a plan by ID.
func (e *Engine) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	return e.store.GetPlan(ctx, planID)
}

// GetPlanBySlug retrieves a plan by slug.
func (e *Engine) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	return e.store.GetPlanBySlug(ctx, slug)
}

// ListPlans lists plans.
func (e *Engine) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	return e.store.ListPlans(ctx, opts)
}

// SetDefaultPlan atomically moves the default flag to planID.
func (e *Engine) SetDefaultPlan(ctx context.Context, planID id.PlanID) error {
	return e.store.SetDefaultPlan(ctx, planID)
}

// ArchivePlan archives a plan so it can no longer be attached.
func (e *Engine) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	return e.store.ArchivePlan(ctx, planID)
}
