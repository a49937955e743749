package store

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	device_id   TEXT PRIMARY KEY,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	id          BIGSERIAL PRIMARY KEY,
	subject     TEXT NOT NULL,
	token       TEXT NOT NULL UNIQUE,
	expires_at  TIMESTAMPTZ NOT NULL,
	revoked     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS users (
	id             UUID PRIMARY KEY,
	name           TEXT NOT NULL UNIQUE,
	email          TEXT NOT NULL,
	password_hash  TEXT NOT NULL,
	otp_secret     TEXT NOT NULL,
	last_otp_step  BIGINT NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

ALTER TABLE users ADD COLUMN IF NOT EXISTS last_otp_step BIGINT NOT NULL DEFAULT 0;

CREATE TABLE IF NOT EXISTS pending_logins (
	user_id     UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	attempts    INT NOT NULL DEFAULT 0,
	expires_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS attendance_records (
	id            UUID PRIMARY KEY,
	name          TEXT NOT NULL,
	recorded_at   BIGINT NOT NULL CHECK (recorded_at >= 0),
	digest        CHAR(64) NOT NULL,
	source        TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	ledger_index  BIGINT,
	ledger_tx     CHAR(64),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_attendance_records_name ON attendance_records(name, recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_attendance_records_ledger ON attendance_records(ledger_index);
CREATE INDEX IF NOT EXISTS idx_attendance_records_created ON attendance_records(created_at DESC);
`

// Migrate creates the tables the services need. It is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if d == nil || d.Client == nil {
		return fmt.Errorf("migrate: no database")
	}
	if _, err := d.Client.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
