package entgate_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/entgate/entgate"
	"github.com/entgate/entgate/account"
	"github.com/entgate/entgate/plan"
	"github.com/entgate/entgate/store/memory"
	"github.com/entgate/entgate/types"
)

var testSecret = []byte("whsec_test")

// baseTime is the pinned wall clock every test starts from.
var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// fakeClock is a mutable time source for pinning rollover and trial
// boundaries.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: baseTime} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newTestEngine(t *testing.T, opts ...entgate.Option) (*entgate.Engine, *memory.Store, *fakeClock) {
	t.Helper()

	st := memory.New()
	clock := newFakeClock()
	base := []entgate.Option{
		entgate.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		entgate.WithClock(clock.Now),
		entgate.WithWebhookSecret(testSecret),
	}
	e := entgate.New(st, append(base, opts...)...)
	require.NoError(t, e.Start(context.Background()))

	return e, st, clock
}

// seedPlan creates the default recurring plan tests attach accounts to:
// 3 free requests, 100 requests per month, no trial.
func seedPlan(t *testing.T, e *entgate.Engine, mutate ...func(*plan.Plan)) *plan.Plan {
	t.Helper()

	p := &plan.Plan{
		Name:            "Starter",
		Slug:            "starter",
		Type:            plan.TypeRecurring,
		Interval:        plan.IntervalMonthly,
		PeriodAllowance: 100,
		FreeRequests:    3,
		Price:           types.USD(900),
		Default:         true,
		ProviderPriceID: "pri_starter",
	}
	for _, fn := range mutate {
		fn(p)
	}
	require.NoError(t, e.CreatePlan(context.Background(), p))

	return p
}

func seedAccount(t *testing.T, e *entgate.Engine, p *plan.Plan) *account.Account {
	t.Helper()

	a, err := e.ProvisionAccount(context.Background(), "org_"+t.Name(), p.ID)
	require.NoError(t, err)
	return a
}

// saveAccount persists direct counter edits made by a test.
func saveAccount(t *testing.T, st *memory.Store, a *account.Account) {
	t.Helper()
	require.NoError(t, st.UpdateAccountCAS(context.Background(), a, nil))
}
