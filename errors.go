package entgate

import (
	"errors"
	"fmt"

	"github.com/entgate/entgate/provider"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("entgate: not found")
	ErrAlreadyExists = errors.New("entgate: already exists")
	ErrInvalidInput  = errors.New("entgate: invalid input")

	// Account errors
	ErrAccountNotFound = errors.New("entgate: account not found")
	ErrAccountExists   = errors.New("entgate: account already exists")
	// ErrVersionConflict is a lost optimistic-concurrency race on an
	// account row. Retried once inside Commit; surfaced as
	// ErrStateChanged if the retry conflicts too.
	ErrVersionConflict = errors.New("entgate: account version conflict")
	// ErrCounterInvariant is a rejected mutation that would push a
	// consumed counter past its grant. Never clamped silently.
	ErrCounterInvariant = errors.New("entgate: consumed counter would exceed grant")

	// Plan errors
	ErrPlanNotFound      = errors.New("entgate: plan not found")
	ErrPlanArchived      = errors.New("entgate: plan is archived")
	ErrDefaultPlanExists = errors.New("entgate: another plan is already the default")
	ErrNoDefaultPlan     = errors.New("entgate: no default plan configured")

	// Entitlement errors
	// ErrQuotaExhausted is the normal deny: every bucket is empty.
	// Returned by Require; user-facing, callers should surface an
	// upgrade prompt.
	ErrQuotaExhausted = errors.New("entgate: quota exhausted")
	// ErrStateChanged is a check-then-commit race: counter state moved
	// between Evaluate and Commit (or between Commit retries). Distinct
	// from a normal deny so callers retry the whole sequence instead of
	// assuming the unit was free.
	ErrStateChanged = errors.New("entgate: account state changed, re-evaluate")

	// Provider event errors
	// ErrDuplicateEvent is an already-applied provider transaction.
	// Expected under at-least-once delivery; not a failure.
	ErrDuplicateEvent = errors.New("entgate: provider transaction already applied")
	ErrUnknownEvent   = errors.New("entgate: unknown provider event type")
	// ErrProviderDrift marks a reconciliation mismatch that could not be
	// repaired automatically and needs operator attention.
	ErrProviderDrift = errors.New("entgate: local state drifted from provider")

	// Security rejections, re-exported from the provider boundary so
	// callers can classify without importing both packages.
	ErrSignatureInvalid = provider.ErrSignatureInvalid
	ErrEventStale       = provider.ErrEventStale

	// Store errors
	ErrStoreClosed       = errors.New("entgate: store is closed")
	ErrTransactionFailed = errors.New("entgate: transaction failed")
	ErrMigrationFailed   = errors.New("entgate: migration failed")
)

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrNoDefaultPlan)
}

// IsQuotaError returns true for normal quota denials, recovered locally
// by showing an upgrade prompt.
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrQuotaExhausted)
}

// IsRetryable returns true if the caller should retry the whole
// check-then-commit sequence.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStateChanged) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrTransactionFailed)
}

// IsSecurityError returns true for webhook authenticity or freshness
// rejections. Never auto-retried; logged for operator attention.
func IsSecurityError(err error) bool {
	return errors.Is(err, ErrSignatureInvalid) ||
		errors.Is(err, ErrEventStale)
}

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("entgate: validation failed for %s: %s", e.Field, e.Message)
}
