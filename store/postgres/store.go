// Package postgres implements the entgate store on PostgreSQL via
// database/sql and the pgx stdlib adapter.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/entgate/entgate"
	"github.com/entgate/entgate/account"
	"github.com/entgate/entgate/id"
	"github.com/entgate/entgate/plan"
	"github.com/entgate/entgate/provider"
	entgatestore "github.com/entgate/entgate/store"
	"github.com/entgate/entgate/usage"
)

// compile-time interface check
var _ entgatestore.Store = (*Store)(nil)

// Store implements store.Store on a PostgreSQL database.
type Store struct {
	db *sql.DB
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to the database at dsn.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("entgate/postgres: dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("entgate/postgres: open: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying database handle for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", entgate.ErrMigrationFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", entgate.ErrMigrationFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", entgate.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Accounts ====================

const accountColumns = `id, org_id, plan_id, status,
	provider_customer_id, provider_subscription_id, unlimited,
	purchased_granted, purchased_consumed, free_granted, free_consumed,
	trial_started_at, period_start, period_allowance, period_consumed,
	balance_amount, balance_currency, total_spent_amount, total_spent_currency,
	version, created_at, updated_at`

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		        $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		accountArgs(a)...)
	if err != nil {
		return mapPgErr(err, entgate.ErrAccountExists)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	return scanAccount(row)
}

func (s *Store) GetAccountByOrg(ctx context.Context, orgID string) (*account.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE org_id = $1`, orgID)
	return scanAccount(row)
}

func (s *Store) GetAccountByProviderSubscription(ctx context.Context, providerSubscriptionID string) (*account.Account, error) {
	if providerSubscriptionID == "" {
		return nil, entgate.ErrAccountNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE provider_subscription_id = $1`,
		providerSubscriptionID)
	return scanAccount(row)
}

func (s *Store) GetAccountByProviderCustomer(ctx context.Context, providerCustomerID string) (*account.Account, error) {
	if providerCustomerID == "" {
		return nil, entgate.ErrAccountNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE provider_customer_id = $1`,
		providerCustomerID)
	return scanAccount(row)
}

func (s *Store) ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts`
	args := []any{}
	if opts.Status != "" {
		q += ` WHERE status = $1`
		args = append(args, string(opts.Status))
	}
	q += ` ORDER BY created_at ASC` + limitClause(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAccounts(rows)
}

func (s *Store) ListSubscribedAccounts(ctx context.Context) ([]*account.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE provider_subscription_id != '' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAccounts(rows)
}

const accountUpdateSet = `org_id = $1, plan_id = $2, status = $3,
	provider_customer_id = $4, provider_subscription_id = $5, unlimited = $6,
	purchased_granted = $7, purchased_consumed = $8, free_granted = $9, free_consumed = $10,
	trial_started_at = $11, period_start = $12, period_allowance = $13, period_consumed = $14,
	balance_amount = $15, balance_currency = $16, total_spent_amount = $17, total_spent_currency = $18,
	version = version + 1, updated_at = $19`

func (s *Store) UpdateAccount(ctx context.Context, a *account.Account) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET `+accountUpdateSet+` WHERE id = $20`,
		append(accountUpdateArgs(a), a.ID)...)
	if err != nil {
		return mapPgErr(err, entgate.ErrAccountExists)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return entgate.ErrAccountNotFound
	}
	return nil
}

func (s *Store) UpdateAccountCAS(ctx context.Context, a *account.Account, ev *usage.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", entgate.ErrTransactionFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET `+accountUpdateSet+` WHERE id = $20 AND version = $21`,
		append(accountUpdateArgs(a), a.ID, a.Version)...)
	if err != nil {
		return mapPgErr(err, entgate.ErrAccountExists)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing row from a lost race.
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM accounts WHERE id = $1`, a.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return entgate.ErrAccountNotFound
		}
		return entgate.ErrVersionConflict
	}

	if ev != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO usage_events (id, account_id, bucket, quantity, correlation_id, ts)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			ev.ID, ev.AccountID, string(ev.Bucket), ev.Quantity, ev.CorrelationID, ev.Timestamp,
		); err != nil {
			return fmt.Errorf("%w: %v", entgate.ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", entgate.ErrTransactionFailed, err)
	}
	a.Version++
	return nil
}

// ==================== Plans ====================

const planColumns = `id, name, slug, description, type, status, billing_interval,
	period_allowance, free_requests, trial_days, credit_size,
	price_amount, price_currency, is_default, provider_price_id, metadata,
	created_at, updated_at`

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	meta, err := json.Marshal(orEmptyMeta(p.Metadata))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (`+planColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18)`,
		p.ID, p.Name, p.Slug, p.Description, string(p.Type), string(p.Status),
		string(p.Interval), p.PeriodAllowance, p.FreeRequests, p.TrialDays,
		p.CreditSize, p.Price.Amount, p.Price.Currency, p.Default,
		p.ProviderPriceID, meta, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) && strings.Contains(err.Error(), "idx_plans_default") {
			return entgate.ErrDefaultPlanExists
		}
		return mapPgErr(err, entgate.ErrAlreadyExists)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = $1`, planID)
	return scanPlan(row)
}

func (s *Store) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE slug = $1`, slug)
	return scanPlan(row)
}

func (s *Store) GetPlanByProviderPrice(ctx context.Context, providerPriceID string) (*plan.Plan, error) {
	if providerPriceID == "" {
		return nil, entgate.ErrPlanNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE provider_price_id = $1`, providerPriceID)
	return scanPlan(row)
}

func (s *Store) GetDefaultPlan(ctx context.Context) (*plan.Plan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE is_default AND status = $1`,
		string(plan.StatusActive))
	p, err := scanPlan(row)
	if errors.Is(err, entgate.ErrPlanNotFound) {
		return nil, entgate.ErrNoDefaultPlan
	}
	return p, err
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	q := `SELECT ` + planColumns + ` FROM plans`
	var conds []string
	var args []any
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		conds = append(conds, fmt.Sprintf(`status = $%d`, len(args)))
	}
	if opts.Type != "" {
		args = append(args, string(opts.Type))
		conds = append(conds, fmt.Sprintf(`type = $%d`, len(args)))
	}
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	q += ` ORDER BY created_at ASC` + limitClause(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*plan.Plan, 0)
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	meta, err := json.Marshal(orEmptyMeta(p.Metadata))
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE plans SET name = $1, slug = $2, description = $3, type = $4, status = $5,
			billing_interval = $6, period_allowance = $7, free_requests = $8, trial_days = $9,
			credit_size = $10, price_amount = $11, price_currency = $12, is_default = $13,
			provider_price_id = $14, metadata = $15, updated_at = $16
		WHERE id = $17`,
		p.Name, p.Slug, p.Description, string(p.Type), string(p.Status),
		string(p.Interval), p.PeriodAllowance, p.FreeRequests, p.TrialDays,
		p.CreditSize, p.Price.Amount, p.Price.Currency, p.Default,
		p.ProviderPriceID, meta, p.UpdatedAt, p.ID)
	if err != nil {
		return mapPgErr(err, entgate.ErrAlreadyExists)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return entgate.ErrPlanNotFound
	}
	return nil
}

func (s *Store) SetDefaultPlan(ctx context.Context, planID id.PlanID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", entgate.ErrTransactionFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM plans WHERE id = $1`, planID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return entgate.ErrPlanNotFound
	}
	if err != nil {
		return err
	}
	if plan.Status(status) == plan.StatusArchived {
		return entgate.ErrPlanArchived
	}

	if _, err := tx.ExecContext(ctx, `UPDATE plans SET is_default = FALSE WHERE is_default`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE plans SET is_default = TRUE WHERE id = $1`, planID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE plans SET status = $1, is_default = FALSE WHERE id = $2`,
		string(plan.StatusArchived), planID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return entgate.ErrPlanNotFound
	}
	return nil
}

// ==================== Usage ====================

func (s *Store) QueryUsage(ctx context.Context, accountID id.AccountID, opts usage.QueryOpts) ([]*usage.Event, error) {
	q := `SELECT id, account_id, bucket, quantity, correlation_id, ts
		FROM usage_events WHERE account_id = $1`
	args := []any{accountID}
	if opts.Bucket != "" {
		args = append(args, string(opts.Bucket))
		q += fmt.Sprintf(` AND bucket = $%d`, len(args))
	}
	if !opts.From.IsZero() {
		args = append(args, opts.From)
		q += fmt.Sprintf(` AND ts >= $%d`, len(args))
	}
	if !opts.To.IsZero() {
		args = append(args, opts.To)
		q += fmt.Sprintf(` AND ts < $%d`, len(args))
	}
	q += ` ORDER BY ts ASC` + limitClause(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*usage.Event, 0)
	for rows.Next() {
		var e usage.Event
		var bucket string
		if err := rows.Scan(&e.ID, &e.AccountID, &bucket, &e.Quantity, &e.CorrelationID, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Bucket = account.Bucket(bucket)
		e.Timestamp = e.Timestamp.UTC()
		result = append(result, &e)
	}
	return result, rows.Err()
}

func (s *Store) SummarizeUsage(ctx context.Context, accountID id.AccountID, from, to time.Time) (*usage.Summary, error) {
	q := `SELECT bucket, COALESCE(SUM(quantity), 0)
		FROM usage_events WHERE account_id = $1`
	args := []any{accountID}
	if !from.IsZero() {
		args = append(args, from)
		q += fmt.Sprintf(` AND ts >= $%d`, len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		q += fmt.Sprintf(` AND ts < $%d`, len(args))
	}
	q += ` GROUP BY bucket`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sum := &usage.Summary{
		AccountID: accountID,
		From:      from,
		To:        to,
		ByBucket:  make(map[account.Bucket]int64),
	}
	for rows.Next() {
		var bucket string
		var total int64
		if err := rows.Scan(&bucket, &total); err != nil {
			return nil, err
		}
		sum.ByBucket[account.Bucket(bucket)] = total
		sum.Requests += total
	}
	return sum, rows.Err()
}

func (s *Store) PurgeUsage(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM usage_events WHERE ts < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ==================== Provider events ====================

const providerEventColumns = `id, event_id, transaction_id, type, source,
	raw_payload, signature_ok, status, account_id, bucket, error, received_at`

func (s *Store) GetProviderEventByTransaction(ctx context.Context, transactionID string) (*provider.Event, error) {
	// Applied rows win; otherwise the most recent record.
	row := s.db.QueryRowContext(ctx, `
		SELECT `+providerEventColumns+` FROM provider_events
		WHERE transaction_id = $1
		ORDER BY (status = 'applied') DESC, received_at DESC
		LIMIT 1`, transactionID)
	return scanProviderEvent(row)
}

func (s *Store) RecordProviderEvent(ctx context.Context, ev *provider.Event) error {
	if ev.Status == provider.EventApplied {
		return entgate.ErrInvalidInput
	}
	return s.insertProviderEvent(ctx, s.db, ev)
}

func (s *Store) ApplyProviderEvent(ctx context.Context, ev *provider.Event, a *account.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", entgate.ErrTransactionFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck

	// The partial unique index turns a replay into a constraint violation
	// that rolls back the whole transaction, account mutation included.
	if err := s.insertProviderEvent(ctx, tx, ev); err != nil {
		return err
	}

	// Version-checked like UpdateAccountCAS: an apply built on a stale
	// snapshot must not overwrite a concurrent commit's counters.
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET `+accountUpdateSet+` WHERE id = $20 AND version = $21`,
		append(accountUpdateArgs(a), a.ID, a.Version)...)
	if err != nil {
		return mapPgErr(err, entgate.ErrAccountExists)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM accounts WHERE id = $1`, a.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return entgate.ErrAccountNotFound
		}
		return entgate.ErrVersionConflict
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", entgate.ErrTransactionFailed, err)
	}
	a.Version++
	return nil
}

func (s *Store) ListProviderEvents(ctx context.Context, opts provider.ListOpts) ([]*provider.Event, error) {
	q := `SELECT ` + providerEventColumns + ` FROM provider_events`
	var args []any
	if opts.Status != "" {
		q += ` WHERE status = $1`
		args = append(args, string(opts.Status))
	}
	q += ` ORDER BY received_at ASC` + limitClause(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*provider.Event, 0)
	for rows.Next() {
		ev, err := scanProviderEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertProviderEvent(ctx context.Context, db execer, ev *provider.Event) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO provider_events (`+providerEventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		ev.ID, ev.EventID, ev.TransactionID, string(ev.Type), string(ev.Source),
		ev.RawPayload, ev.SignatureOK, string(ev.Status),
		ev.AccountID, string(ev.Bucket), ev.Error, ev.ReceivedAt)
	if err != nil {
		return mapPgErr(err, entgate.ErrDuplicateEvent)
	}
	return nil
}

// ==================== Row scanning ====================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*account.Account, error) {
	var a account.Account
	var status string
	var trialAt, periodStart sql.NullTime

	err := row.Scan(
		&a.ID, &a.OrgID, &a.PlanID, &status,
		&a.ProviderCustomerID, &a.ProviderSubscriptionID, &a.Unlimited,
		&a.PurchasedGranted, &a.PurchasedConsumed, &a.FreeGranted, &a.FreeConsumed,
		&trialAt, &periodStart, &a.PeriodAllowance, &a.PeriodConsumed,
		&a.Balance.Amount, &a.Balance.Currency, &a.TotalSpent.Amount, &a.TotalSpent.Currency,
		&a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entgate.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	a.Status = account.Status(status)
	if trialAt.Valid {
		t := trialAt.Time.UTC()
		a.TrialStartedAt = &t
	}
	if periodStart.Valid {
		a.PeriodStart = periodStart.Time.UTC()
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func collectAccounts(rows *sql.Rows) ([]*account.Account, error) {
	result := make([]*account.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func scanPlan(row rowScanner) (*plan.Plan, error) {
	var p plan.Plan
	var typ, status, interval string
	var meta []byte

	err := row.Scan(
		&p.ID, &p.Name, &p.Slug, &p.Description, &typ, &status, &interval,
		&p.PeriodAllowance, &p.FreeRequests, &p.TrialDays, &p.CreditSize,
		&p.Price.Amount, &p.Price.Currency, &p.Default, &p.ProviderPriceID,
		&meta, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entgate.ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Type = plan.Type(typ)
	p.Status = plan.Status(status)
	p.Interval = plan.Interval(interval)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	if len(meta) > 0 && string(meta) != "{}" {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, fmt.Errorf("entgate/postgres: decode plan metadata: %w", err)
		}
	}
	return &p, nil
}

func scanProviderEvent(row rowScanner) (*provider.Event, error) {
	var ev provider.Event
	var typ, source, status, bucket string

	err := row.Scan(
		&ev.ID, &ev.EventID, &ev.TransactionID, &typ, &source,
		&ev.RawPayload, &ev.SignatureOK, &status, &ev.AccountID, &bucket,
		&ev.Error, &ev.ReceivedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entgate.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	ev.Type = provider.EventType(typ)
	ev.Source = provider.Source(source)
	ev.Status = provider.EventStatus(status)
	ev.Bucket = account.Bucket(bucket)
	ev.ReceivedAt = ev.ReceivedAt.UTC()
	return &ev, nil
}

// ==================== Helpers ====================

func accountArgs(a *account.Account) []any {
	return []any{
		a.ID, a.OrgID, a.PlanID, string(a.Status),
		a.ProviderCustomerID, a.ProviderSubscriptionID, a.Unlimited,
		a.PurchasedGranted, a.PurchasedConsumed, a.FreeGranted, a.FreeConsumed,
		a.TrialStartedAt, nullableTime(a.PeriodStart), a.PeriodAllowance, a.PeriodConsumed,
		a.Balance.Amount, a.Balance.Currency, a.TotalSpent.Amount, a.TotalSpent.Currency,
		a.Version, a.CreatedAt, a.UpdatedAt,
	}
}

func accountUpdateArgs(a *account.Account) []any {
	return []any{
		a.OrgID, a.PlanID, string(a.Status),
		a.ProviderCustomerID, a.ProviderSubscriptionID, a.Unlimited,
		a.PurchasedGranted, a.PurchasedConsumed, a.FreeGranted, a.FreeConsumed,
		a.TrialStartedAt, nullableTime(a.PeriodStart), a.PeriodAllowance, a.PeriodConsumed,
		a.Balance.Amount, a.Balance.Currency, a.TotalSpent.Amount, a.TotalSpent.Currency,
		a.UpdatedAt,
	}
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func limitClause(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}

func orEmptyMeta(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// mapPgErr classifies constraint violations: unique violations become
// uniqueErr, CHECK violations become the counter invariant error.
func mapPgErr(err error, uniqueErr error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return uniqueErr
		case "23514":
			return entgate.ErrCounterInvariant
		}
	}
	return err
}
