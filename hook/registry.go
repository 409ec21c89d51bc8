package hook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/entgate/entgate/account"
	"github.com/entgate/entgate/id"
	"github.com/entgate/entgate/provider"
	"github.com/entgate/entgate/usage"
)

// Registry manages registered hooks and dispatches events to them.
// Interface membership is cached at registration so dispatch does no
// type switching on the hot path.
type Registry struct {
	mu     sync.RWMutex
	hooks  []Hook
	logger *slog.Logger

	onDecision       []OnDecision
	onUsageCommitted []OnUsageCommitted
	onQuotaExhausted []OnQuotaExhausted
	onEventApplied   []OnEventApplied
	onDriftRepaired  []OnDriftRepaired
}

// NewRegistry creates a new hook registry.
func NewRegistry() *Registry {
	return &Registry{logger: slog.Default()}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a hook to the registry and caches its interfaces.
func (r *Registry) Register(h Hook) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.hooks {
		if existing.Name() == h.Name() {
			return fmt.Errorf("hook: duplicate registration: %s", h.Name())
		}
	}

	r.hooks = append(r.hooks, h)

	if v, ok := h.(OnDecision); ok {
		r.onDecision = append(r.onDecision, v)
	}
	if v, ok := h.(OnUsageCommitted); ok {
		r.onUsageCommitted = append(r.onUsageCommitted, v)
	}
	if v, ok := h.(OnQuotaExhausted); ok {
		r.onQuotaExhausted = append(r.onQuotaExhausted, v)
	}
	if v, ok := h.(OnEventApplied); ok {
		r.onEventApplied = append(r.onEventApplied, v)
	}
	if v, ok := h.(OnDriftRepaired); ok {
		r.onDriftRepaired = append(r.onDriftRepaired, v)
	}

	r.logger.Info("hook registered", "name", h.Name())
	return nil
}

// Count returns the number of registered hooks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks)
}

// EmitDecision dispatches a decision event.
func (r *Registry) EmitDecision(ctx context.Context, ev DecisionEvent) {
	r.mu.RLock()
	hooks := r.onDecision
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error {
			return h.OnDecision(ctx, ev)
		}); err != nil {
			r.logger.Warn("hook OnDecision failed", "hook", h.Name(), "error", err)
		}
	}
}

// EmitUsageCommitted dispatches a committed usage event.
func (r *Registry) EmitUsageCommitted(ctx context.Context, ev *usage.Event) {
	r.mu.RLock()
	hooks := r.onUsageCommitted
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error {
			return h.OnUsageCommitted(ctx, ev)
		}); err != nil {
			r.logger.Warn("hook OnUsageCommitted failed", "hook", h.Name(), "error", err)
		}
	}
}

// EmitQuotaExhausted dispatches a quota exhausted event.
func (r *Registry) EmitQuotaExhausted(ctx context.Context, accountID id.AccountID, remaining account.Remaining) {
	r.mu.RLock()
	hooks := r.onQuotaExhausted
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error {
			return h.OnQuotaExhausted(ctx, accountID, remaining)
		}); err != nil {
			r.logger.Warn("hook OnQuotaExhausted failed", "hook", h.Name(), "error", err)
		}
	}
}

// EmitEventApplied dispatches an applied provider event.
func (r *Registry) EmitEventApplied(ctx context.Context, ev *provider.Event) {
	r.mu.RLock()
	hooks := r.onEventApplied
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error {
			return h.OnEventApplied(ctx, ev)
		}); err != nil {
			r.logger.Warn("hook OnEventApplied failed", "hook", h.Name(), "error", err)
		}
	}
}

// EmitDriftRepaired dispatches a drift repair event.
func (r *Registry) EmitDriftRepaired(ctx context.Context, ev DriftEvent) {
	r.mu.RLock()
	hooks := r.onDriftRepaired
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error {
			return h.OnDriftRepaired(ctx, ev)
		}); err != nil {
			r.logger.Warn("hook OnDriftRepaired failed", "hook", h.Name(), "error", err)
		}
	}
}

// callWithTimeout calls a hook function with a timeout.
// Hooks must never block the entitlement pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, hookName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("hook timeout: %s", hookName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
