package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied at startup. Statements are idempotent so repeated
// boots and multiple replicas racing on startup are harmless.
//
// Two constraints back up the engine's invariants at the storage layer:
//   - chk_committed_within_capacity keeps committed under capacity even
//     if a bug bypasses the row-locked reserve path;
//   - uq_subscriptions_live allows at most one pending-or-approved
//     subscription per (offering, subscriber), excluding the anonymous
//     sentinel so repeat anonymous contributions always pass.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS offerings (
		id                 UUID PRIMARY KEY,
		kind               TEXT NOT NULL,
		name               TEXT NOT NULL,
		description        TEXT NOT NULL DEFAULT '',
		capacity           BIGINT,
		committed          BIGINT NOT NULL DEFAULT 0,
		requires_approval  BOOLEAN NOT NULL DEFAULT FALSE,
		active             BOOLEAN NOT NULL DEFAULT TRUE,
		created_at         TIMESTAMPTZ NOT NULL,
		CONSTRAINT chk_committed_non_negative CHECK (committed >= 0),
		CONSTRAINT chk_committed_within_capacity
			CHECK (capacity IS NULL OR committed <= capacity)
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id             UUID PRIMARY KEY,
		offering_id    UUID NOT NULL REFERENCES offerings (id),
		subscriber_id  TEXT NOT NULL,
		amount         BIGINT NOT NULL CHECK (amount > 0),
		status         TEXT NOT NULL,
		notes          TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL,
		decided_at     TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_subscriptions_live
		ON subscriptions (offering_id, subscriber_id)
		WHERE status IN ('pending', 'approved') AND subscriber_id <> 'anonymous'`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_offering
		ON subscriptions (offering_id, created_at)`,
}

// Migrate creates the tables and indexes the engine relies on.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
