package sqlstore

import (
	"context"
	"fmt"
)

// schema is applied in order by Migrate. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		monthly_price_cents BIGINT NOT NULL,
		annual_price_cents BIGINT NOT NULL,
		loyalty_multiplier DOUBLE PRECISION NOT NULL DEFAULT 1,
		months_offered_on_annual INTEGER NOT NULL DEFAULT 0,
		display_order INTEGER NOT NULL DEFAULT 0,
		visibility TEXT NOT NULL DEFAULT 'public',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		deprecated BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		billing_address TEXT NOT NULL,
		shipping_address TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		term TEXT NOT NULL,
		status TEXT NOT NULL,
		current_period_start TIMESTAMP NOT NULL,
		current_period_end TIMESTAMP NOT NULL,
		applied_multiplier DOUBLE PRECISION NOT NULL DEFAULT 1,
		auto_renew BOOLEAN NOT NULL,
		pending_plan_id TEXT,
		pending_change_at TIMESTAMP,
		canceled_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS subscriptions_one_active_per_user
		ON subscriptions (user_id) WHERE status = 'active'`,
	`CREATE INDEX IF NOT EXISTS subscriptions_billable
		ON subscriptions (status, auto_renew)`,
	`CREATE INDEX IF NOT EXISTS subscriptions_period_end
		ON subscriptions (status, current_period_end)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		subscription_id TEXT,
		order_type TEXT NOT NULL,
		status TEXT NOT NULL,
		total_cents BIGINT NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pending_orders (
		subscription_id TEXT NOT NULL,
		due_date TEXT NOT NULL,
		user_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		plan_name TEXT NOT NULL,
		amount_cents BIGINT NOT NULL,
		term TEXT NOT NULL,
		status TEXT NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (subscription_id, due_date)
	)`,
	`CREATE INDEX IF NOT EXISTS pending_orders_due_date ON pending_orders (due_date)`,
	`CREATE TABLE IF NOT EXISTS plan_changes (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		subscription_id TEXT NOT NULL,
		from_plan_id TEXT NOT NULL,
		from_plan_name TEXT NOT NULL,
		to_plan_id TEXT NOT NULL,
		to_plan_name TEXT NOT NULL,
		change_type TEXT NOT NULL,
		changed_at TIMESTAMP NOT NULL,
		effective_at TIMESTAMP NOT NULL,
		previous_price_cents BIGINT NOT NULL,
		new_price_cents BIGINT NOT NULL,
		term TEXT NOT NULL,
		price_basis TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS plan_changes_user ON plan_changes (user_id)`,
}

// Migrate creates the tables and indexes
func (d *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
