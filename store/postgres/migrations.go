package postgres

// Schema statements, applied in order inside one transaction. All are
// idempotent so Migrate can run on every start.
//
// The partial unique index on applied provider events is the idempotency
// guard: at most one applied row per provider transaction. Counter
// invariants are enforced by CHECK constraints in addition to the
// engine-side validation.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id                       TEXT PRIMARY KEY,
		org_id                   TEXT NOT NULL UNIQUE,
		plan_id                  TEXT NOT NULL,
		status                   TEXT NOT NULL,
		provider_customer_id     TEXT NOT NULL DEFAULT '',
		provider_subscription_id TEXT NOT NULL DEFAULT '',
		unlimited                BOOLEAN NOT NULL DEFAULT FALSE,
		purchased_granted        BIGINT NOT NULL DEFAULT 0,
		purchased_consumed       BIGINT NOT NULL DEFAULT 0,
		free_granted             BIGINT NOT NULL DEFAULT 0,
		free_consumed            BIGINT NOT NULL DEFAULT 0,
		trial_started_at         TIMESTAMPTZ,
		period_start             TIMESTAMPTZ,
		period_allowance         BIGINT NOT NULL DEFAULT 0,
		period_consumed          BIGINT NOT NULL DEFAULT 0,
		balance_amount           BIGINT NOT NULL DEFAULT 0,
		balance_currency         TEXT NOT NULL DEFAULT '',
		total_spent_amount       BIGINT NOT NULL DEFAULT 0,
		total_spent_currency     TEXT NOT NULL DEFAULT '',
		version                  BIGINT NOT NULL DEFAULT 0,
		created_at               TIMESTAMPTZ NOT NULL,
		updated_at               TIMESTAMPTZ NOT NULL,
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
		period_allowance  BIGINT NOT NULL DEFAULT 0,
		free_requests     BIGINT NOT NULL DEFAULT 0,
		trial_days        INTEGER NOT NULL DEFAULT 0,
		credit_size       BIGINT NOT NULL DEFAULT 0,
		price_amount      BIGINT NOT NULL DEFAULT 0,
		price_currency    TEXT NOT NULL DEFAULT '',
		is_default        BOOLEAN NOT NULL DEFAULT FALSE,
		provider_price_id TEXT NOT NULL DEFAULT '',
		metadata          JSONB NOT NULL DEFAULT '{}',
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,

	// At most one default plan, enforced by the database.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_plans_default
		ON plans (is_default)
		WHERE is_default`,

	`CREATE INDEX IF NOT EXISTS idx_plans_provider_price
		ON plans (provider_price_id)
		WHERE provider_price_id != ''`,

	`CREATE TABLE IF NOT EXISTS usage_events (
		id             TEXT PRIMARY KEY,
		account_id     TEXT NOT NULL,
		bucket         TEXT NOT NULL,
		quantity       BIGINT NOT NULL DEFAULT 1,
		correlation_id TEXT NOT NULL DEFAULT '',
		ts             TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_usage_events_account_ts
		ON usage_events (account_id, ts)`,

	`CREATE TABLE IF NOT EXISTS provider_events (
		id             TEXT PRIMARY KEY,
		event_id       TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		type           TEXT NOT NULL,
		source         TEXT NOT NULL,
		raw_payload    BYTEA,
		signature_ok   BOOLEAN NOT NULL DEFAULT FALSE,
		status         TEXT NOT NULL,
		account_id     TEXT,
		bucket         TEXT NOT NULL DEFAULT '',
		error          TEXT NOT NULL DEFAULT '',
		received_at    TIMESTAMPTZ NOT NULL
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS idx_provider_events_applied
		ON provider_events (transaction_id)
		WHERE status = 'applied'`,

	`CREATE INDEX IF NOT EXISTS idx_provider_events_transaction
		ON provider_events (transaction_id)`,
}
