package sqlite

// Schema statements, applied in order inside one transaction. All are
// idempotent so Migrate can run on every start.
//
// Timestamps are stored as unix nanoseconds. Counter invariants are
// enforced twice: CHECK constraints here and CountersValid in the engine,
// so neither a store bug nor an engine bug can persist an over-consumed
// grant. The partial unique index on applied provider events is the
// idempotency guard: at most one applied row per provider transaction.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id                       TEXT PRIMARY KEY,
		org_id                   TEXT NOT NULL UNIQUE,
		plan_id                  TEXT NOT NULL,
		status                   TEXT NOT NULL,
		provider_customer_id     TEXT NOT NULL DEFAULT '',
		provider_subscription_id TEXT NOT NULL DEFAULT '',
		unlimited                INTEGER NOT NULL DEFAULT 0,
		purchased_granted        INTEGER NOT NULL DEFAULT 0,
		purchased_consumed       INTEGER NOT NULL DEFAULT 0,
		free_granted             INTEGER NOT NULL DEFAULT 0,
		free_consumed            INTEGER NOT NULL DEFAULT 0,
		trial_started_at         INTEGER,
		period_start             INTEGER NOT NULL DEFAULT 0,
		period_allowance         INTEGER NOT NULL DEFAULT 0,
		period_consumed          INTEGER NOT NULL DEFAULT 0,
		balance_amount           INTEGER NOT NULL DEFAULT 0,
		balance_currency         TEXT NOT NULL DEFAULT '',
		total_spent_amount       INTEGER NOT NULL DEFAULT 0,
		total_spent_currency     TEXT NOT NULL DEFAULT '',
		version                  INTEGER NOT NULL DEFAULT 0,
		created_at               INTEGER NOT NULL,
		updated_at               INTEGER NOT NULL,
		CHECK (purchased_consumed >= 0 AND purchased_consumed <= purchased_granted),
		CHECK (free_consumed >= 0 AND free_consumed <= free_granted),
		CHECK (period_consumed >= 0 AND period_consumed <= period_allowance)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_accounts_provider_subscription
		ON accounts (provider_subscription_id)
		WHERE provider_subscription_id != ''`,

	`CREATE INDEX IF NOT EXISTS idx_accounts_provider_customer
		ON accounts (provider_customer_id)
		WHERE provider_customer_id != ''`,

	`CREATE TABLE IF NOT EXISTS plans (
		id                TEXT PRIMARY KEY,
		name              TEXT NOT NULL,
		slug              TEXT NOT NULL UNIQUE,
		description       TEXT NOT NULL DEFAULT '',
		type              TEXT NOT NULL,
		status            TEXT NOT NULL,
		billing_interval  TEXT NOT NULL DEFAULT '',
		period_allowance  INTEGER NOT NULL DEFAULT 0,
		free_requests     INTEGER NOT NULL DEFAULT 0,
		trial_days        INTEGER NOT NULL DEFAULT 0,
		credit_size       INTEGER NOT NULL DEFAULT 0,
		price_amount      INTEGER NOT NULL DEFAULT 0,
		price_currency    TEXT NOT NULL DEFAULT '',
		is_default        INTEGER NOT NULL DEFAULT 0,
		provider_price_id TEXT NOT NULL DEFAULT '',
		metadata          TEXT NOT NULL DEFAULT '{}',
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL
	)`,

	// At most one default plan, enforced by the database.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_plans_default
		ON plans (is_default)
		WHERE is_default = 1`,

	`CREATE INDEX IF NOT EXISTS idx_plans_provider_price
		ON plans (provider_price_id)
		WHERE provider_price_id != ''`,

	`CREATE TABLE IF NOT EXISTS usage_events (
		id             TEXT PRIMARY KEY,
		account_id     TEXT NOT NULL,
		bucket         TEXT NOT NULL,
		quantity       INTEGER NOT NULL DEFAULT 1,
		correlation_id TEXT NOT NULL DEFAULT '',
		ts             INTEGER NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_usage_events_account_ts
		ON usage_events (account_id, ts)`,

	`CREATE TABLE IF NOT EXISTS provider_events (
		id             TEXT PRIMARY KEY,
		event_id       TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		type           TEXT NOT NULL,
		source         TEXT NOT NULL,
		raw_payload    BLOB,
		signature_ok   INTEGER NOT NULL DEFAULT 0,
		status         TEXT NOT NULL,
		account_id     TEXT,
		bucket         TEXT NOT NULL DEFAULT '',
		error          TEXT NOT NULL DEFAULT '',
		received_at    INTEGER NOT NULL
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS idx_provider_events_applied
		ON provider_events (transaction_id)
		WHERE status = 'applied'`,

	`CREATE INDEX IF NOT EXISTS idx_provider_events_transaction
		ON provider_events (transaction_id)`,
}
