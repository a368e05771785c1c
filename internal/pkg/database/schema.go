package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema is applied at startup. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id         UUID PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'blocked')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS wallets (
	account_id UUID PRIMARY KEY REFERENCES accounts(id),
	balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id          UUID PRIMARY KEY,
	account_id  UUID NOT NULL REFERENCES accounts(id),
	kind        TEXT NOT NULL CHECK (kind IN ('topup', 'purchase', 'refund', 'adjustment')),
	amount      BIGINT NOT NULL CHECK (amount <> 0),
	reference   TEXT,
	description TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_created
	ON ledger_entries (account_id, created_at DESC);

CREATE UNIQUE INDEX IF NOT EXISTS uq_ledger_entries_idempotent_ref
	ON ledger_entries (account_id, kind, reference)
	WHERE reference IS NOT NULL AND kind IN ('topup', 'refund', 'adjustment');

CREATE TABLE IF NOT EXISTS orders (
	id            UUID PRIMARY KEY,
	account_id    UUID NOT NULL REFERENCES accounts(id),
	service       TEXT NOT NULL,
	country       TEXT NOT NULL,
	carrier       TEXT NOT NULL DEFAULT '',
	base_price    NUMERIC(18, 6) NOT NULL,
	base_currency TEXT NOT NULL,
	price         BIGINT NOT NULL CHECK (price > 0),
	status        TEXT NOT NULL DEFAULT 'pending',
	phone         TEXT,
	failure_code  TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_orders_account_created
	ON orders (account_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_orders_pending_created
	ON orders (created_at) WHERE status = 'pending';

CREATE INDEX IF NOT EXISTS idx_orders_closed_updated
	ON orders (updated_at) WHERE status IN ('cancelled', 'failed');

CREATE TABLE IF NOT EXISTS activations (
	id               UUID PRIMARY KEY,
	order_id         UUID NOT NULL UNIQUE REFERENCES orders(id),
	account_id       UUID NOT NULL REFERENCES accounts(id),
	phone            TEXT NOT NULL,
	service          TEXT NOT NULL,
	country          TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'waiting',
	code             TEXT,
	vendor_rental_id TEXT NOT NULL,
	retry_count      INT NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	finished_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_activations_waiting_created
	ON activations (created_at) WHERE status = 'waiting';

CREATE TABLE IF NOT EXISTS topup_requests (
	id            UUID PRIMARY KEY,
	account_id    UUID NOT NULL REFERENCES accounts(id),
	amount        BIGINT NOT NULL DEFAULT 0,
	currency      TEXT NOT NULL DEFAULT '',
	method        TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	slip_ref      TEXT UNIQUE,
	slip_date     TIMESTAMPTZ,
	image_key     TEXT,
	raw_response  JSONB,
	failure_code  TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_topup_requests_pending
	ON topup_requests (created_at) WHERE status = 'pending';
`

// EnsureSchema creates tables and indexes that do not exist yet.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
