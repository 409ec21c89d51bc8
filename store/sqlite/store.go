// Package sqlite implements the entgate store on SQLite via database/sql
// and the modernc.org/sqlite driver (no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

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

// Store implements store.Store on a SQLite database.
type Store struct {
	db *sql.DB
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (or creates) the SQLite database at path. WAL mode and a
// busy timeout keep the single writer from failing under concurrent
// commits.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("entgate/sqlite: path is required")
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("entgate/sqlite: open %s: %w", path, err)
	}
	// SQLite permits one writer; a bigger pool only manufactures
	// SQLITE_BUSY.
	db.SetMaxOpenConns(1)

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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		accountArgs(a)...)
	if err != nil {
		return mapSQLiteErr(err, entgate.ErrAccountExists)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, accountID)
	return scanAccount(row)
}

func (s *Store) GetAccountByOrg(ctx context.Context, orgID string) (*account.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE org_id = ?`, orgID)
	return scanAccount(row)
}

func (s *Store) GetAccountByProviderSubscription(ctx context.Context, providerSubscriptionID string) (*account.Account, error) {
	if providerSubscriptionID == "" {
		return nil, entgate.ErrAccountNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE provider_subscription_id = ?`,
		providerSubscriptionID)
	return scanAccount(row)
}

func (s *Store) GetAccountByProviderCustomer(ctx context.Context, providerCustomerID string) (*account.Account, error) {
	if providerCustomerID == "" {
		return nil, entgate.ErrAccountNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE provider_customer_id = ?`,
		providerCustomerID)
	return scanAccount(row)
}

func (s *Store) ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts`
	args := []any{}
	if opts.Status != "" {
		q += ` WHERE status = ?`
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

const accountUpdateSet = `org_id = ?, plan_id = ?, status = ?,
	provider_customer_id = ?, provider_subscription_id = ?, unlimited = ?,
	purchased_granted = ?, purchased_consumed = ?, free_granted = ?, free_consumed = ?,
	trial_started_at = ?, period_start = ?, period_allowance = ?, period_consumed = ?,
	balance_amount = ?, balance_currency = ?, total_spent_amount = ?, total_spent_currency = ?,
	version = version + 1, updated_at = ?`

func (s *Store) UpdateAccount(ctx context.Context, a *account.Account) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET `+accountUpdateSet+` WHERE id = ?`,
		append(accountUpdateArgs(a), a.ID)...)
	if err != nil {
		return mapSQLiteErr(err, entgate.ErrAccountExists)
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
		`UPDATE accounts SET `+accountUpdateSet+` WHERE id = ? AND version = ?`,
		append(accountUpdateArgs(a), a.ID, a.Version)...)
	if err != nil {
		return mapSQLiteErr(err, entgate.ErrAccountExists)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing row from a lost race.
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM accounts WHERE id = ?`, a.ID).Scan(&exists); err != nil {
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
			VALUES (?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.AccountID, string(ev.Bucket), ev.Quantity, ev.CorrelationID, unixNano(ev.Timestamp),
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Slug, p.Description, string(p.Type), string(p.Status),
		string(p.Interval), p.PeriodAllowance, p.FreeRequests, p.TrialDays,
		p.CreditSize, p.Price.Amount, p.Price.Currency, boolToInt(p.Default),
		p.ProviderPriceID, string(meta), unixNano(p.CreatedAt), unixNano(p.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) && strings.Contains(err.Error(), "is_default") {
			return entgate.ErrDefaultPlanExists
		}
		return mapSQLiteErr(err, entgate.ErrAlreadyExists)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = ?`, planID)
	return scanPlan(row)
}

func (s *Store) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE slug = ?`, slug)
	return scanPlan(row)
}

func (s *Store) GetPlanByProviderPrice(ctx context.Context, providerPriceID string) (*plan.Plan, error) {
	if providerPriceID == "" {
		return nil, entgate.ErrPlanNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE provider_price_id = ?`, providerPriceID)
	return scanPlan(row)
}

func (s *Store) GetDefaultPlan(ctx context.Context) (*plan.Plan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE is_default = 1 AND status = ?`,
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
		conds = append(conds, `status = ?`)
		args = append(args, string(opts.Status))
	}
	if opts.Type != "" {
		conds = append(conds, `type = ?`)
		args = append(args, string(opts.Type))
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
		UPDATE plans SET name = ?, slug = ?, description = ?, type = ?, status = ?,
			billing_interval = ?, period_allowance = ?, free_requests = ?, trial_days = ?,
			credit_size = ?, price_amount = ?, price_currency = ?, is_default = ?,
			provider_price_id = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Slug, p.Description, string(p.Type), string(p.Status),
		string(p.Interval), p.PeriodAllowance, p.FreeRequests, p.TrialDays,
		p.CreditSize, p.Price.Amount, p.Price.Currency, boolToInt(p.Default),
		p.ProviderPriceID, string(meta), unixNano(p.UpdatedAt), p.ID)
	if err != nil {
		return mapSQLiteErr(err, entgate.ErrAlreadyExists)
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
	err = tx.QueryRowContext(ctx, `SELECT status FROM plans WHERE id = ?`, planID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return entgate.ErrPlanNotFound
	}
	if err != nil {
		return err
	}
	if plan.Status(status) == plan.StatusArchived {
		return entgate.ErrPlanArchived
	}

	if _, err := tx.ExecContext(ctx, `UPDATE plans SET is_default = 0 WHERE is_default = 1`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE plans SET is_default = 1 WHERE id = ?`, planID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE plans SET status = ?, is_default = 0 WHERE id = ?`,
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
		FROM usage_events WHERE account_id = ?`
	args := []any{accountID}
	if opts.Bucket != "" {
		q += ` AND bucket = ?`
		args = append(args, string(opts.Bucket))
	}
	if !opts.From.IsZero() {
		q += ` AND ts >= ?`
		args = append(args, unixNano(opts.From))
	}
	if !opts.To.IsZero() {
		q += ` AND ts < ?`
		args = append(args, unixNano(opts.To))
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
		var ts int64
		if err := rows.Scan(&e.ID, &e.AccountID, &bucket, &e.Quantity, &e.CorrelationID, &ts); err != nil {
			return nil, err
		}
		e.Bucket = account.Bucket(bucket)
		e.Timestamp = fromUnixNano(ts)
		result = append(result, &e)
	}
	return result, rows.Err()
}

func (s *Store) SummarizeUsage(ctx context.Context, accountID id.AccountID, from, to time.Time) (*usage.Summary, error) {
	q := `SELECT bucket, COALESCE(SUM(quantity), 0)
		FROM usage_events WHERE account_id = ?`
	args := []any{accountID}
	if !from.IsZero() {
		q += ` AND ts >= ?`
		args = append(args, unixNano(from))
	}
	if !to.IsZero() {
		q += ` AND ts < ?`
		args = append(args, unixNano(to))
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
		`DELETE FROM usage_events WHERE ts < ?`, unixNano(before))
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
		WHERE transaction_id = ?
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
		`UPDATE accounts SET `+accountUpdateSet+` WHERE id = ? AND version = ?`,
		append(accountUpdateArgs(a), a.ID, a.Version)...)
	if err != nil {
		return mapSQLiteErr(err, entgate.ErrAccountExists)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM accounts WHERE id = ?`, a.ID).Scan(&exists); err != nil {
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
		q += ` WHERE status = ?`
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.EventID, ev.TransactionID, string(ev.Type), string(ev.Source),
		ev.RawPayload, boolToInt(ev.SignatureOK), string(ev.Status),
		ev.AccountID, string(ev.Bucket), ev.Error, unixNano(ev.ReceivedAt))
	if err != nil {
		return mapSQLiteErr(err, entgate.ErrDuplicateEvent)
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
	var unlimited int
	var trialAt sql.NullInt64
	var periodStart, createdAt, updatedAt int64

	err := row.Scan(
		&a.ID, &a.OrgID, &a.PlanID, &status,
		&a.ProviderCustomerID, &a.ProviderSubscriptionID, &unlimited,
		&a.PurchasedGranted, &a.PurchasedConsumed, &a.FreeGranted, &a.FreeConsumed,
		&trialAt, &periodStart, &a.PeriodAllowance, &a.PeriodConsumed,
		&a.Balance.Amount, &a.Balance.Currency, &a.TotalSpent.Amount, &a.TotalSpent.Currency,
		&a.Version, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entgate.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	a.Status = account.Status(status)
	a.Unlimited = unlimited != 0
	if trialAt.Valid {
		t := fromUnixNano(trialAt.Int64)
		a.TrialStartedAt = &t
	}
	a.PeriodStart = fromUnixNano(periodStart)
	a.CreatedAt = fromUnixNano(createdAt)
	a.UpdatedAt = fromUnixNano(updatedAt)
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
	var typ, status, interval, meta string
	var isDefault int
	var createdAt, updatedAt int64

	err := row.Scan(
		&p.ID, &p.Name, &p.Slug, &p.Description, &typ, &status, &interval,
		&p.PeriodAllowance, &p.FreeRequests, &p.TrialDays, &p.CreditSize,
		&p.Price.Amount, &p.Price.Currency, &isDefault, &p.ProviderPriceID,
		&meta, &createdAt, &updatedAt,
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
	p.Default = isDefault != 0
	p.CreatedAt = fromUnixNano(createdAt)
	p.UpdatedAt = fromUnixNano(updatedAt)
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &p.Metadata); err != nil {
			return nil, fmt.Errorf("entgate/sqlite: decode plan metadata: %w", err)
		}
	}
	return &p, nil
}

func scanProviderEvent(row rowScanner) (*provider.Event, error) {
	var ev provider.Event
	var typ, source, status, bucket string
	var sigOK int
	var receivedAt int64

	err := row.Scan(
		&ev.ID, &ev.EventID, &ev.TransactionID, &typ, &source,
		&ev.RawPayload, &sigOK, &status, &ev.AccountID, &bucket,
		&ev.Error, &receivedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entgate.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	ev.Type = provider.EventType(typ)
	ev.Source = provider.Source(source)
	ev.SignatureOK = sigOK != 0
	ev.Status = provider.EventStatus(status)
	ev.Bucket = account.Bucket(bucket)
	ev.ReceivedAt = fromUnixNano(receivedAt)
	return &ev, nil
}

// ==================== Helpers ====================

func accountArgs(a *account.Account) []any {
	return []any{
		a.ID, a.OrgID, a.PlanID, string(a.Status),
		a.ProviderCustomerID, a.ProviderSubscriptionID, boolToInt(a.Unlimited),
		a.PurchasedGranted, a.PurchasedConsumed, a.FreeGranted, a.FreeConsumed,
		trialArg(a.TrialStartedAt), unixNano(a.PeriodStart), a.PeriodAllowance, a.PeriodConsumed,
		a.Balance.Amount, a.Balance.Currency, a.TotalSpent.Amount, a.TotalSpent.Currency,
		a.Version, unixNano(a.CreatedAt), unixNano(a.UpdatedAt),
	}
}

func accountUpdateArgs(a *account.Account) []any {
	return []any{
		a.OrgID, a.PlanID, string(a.Status),
		a.ProviderCustomerID, a.ProviderSubscriptionID, boolToInt(a.Unlimited),
		a.PurchasedGranted, a.PurchasedConsumed, a.FreeGranted, a.FreeConsumed,
		trialArg(a.TrialStartedAt), unixNano(a.PeriodStart), a.PeriodAllowance, a.PeriodConsumed,
		a.Balance.Amount, a.Balance.Currency, a.TotalSpent.Amount, a.TotalSpent.Currency,
		unixNano(a.UpdatedAt),
	}
}

func trialArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return unixNano(*t)
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func limitClause(limit, offset int) string {
	if limit <= 0 && offset <= 0 {
		return ""
	}
	if limit <= 0 {
		// SQLite requires LIMIT when OFFSET is used.
		limit = -1
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}

func orEmptyMeta(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// mapSQLiteErr classifies constraint violations: unique violations become
// uniqueErr, CHECK violations become the counter invariant error.
func mapSQLiteErr(err error, uniqueErr error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return uniqueErr
	}
	if strings.Contains(err.Error(), "CHECK constraint failed") {
		return entgate.ErrCounterInvariant
	}
	return err
}
