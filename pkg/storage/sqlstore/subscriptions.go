package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/subbill/pkg/plans"
	"github.com/platinummonkey/subbill/pkg/subscriptions"
)

const subscriptionColumns = `id, user_id, plan_id, term, status, current_period_start, current_period_end,
	applied_multiplier, auto_renew, pending_plan_id, pending_change_at, canceled_at, created_at, updated_at`

// SubscriptionStore implements subscriptions.Store
type SubscriptionStore struct {
	db  *DB
	now func() time.Time
}

// NewSubscriptionStore creates a SubscriptionStore
func NewSubscriptionStore(db *DB) *SubscriptionStore {
	return &SubscriptionStore{db: db, now: time.Now}
}

func scanSubscription(row interface{ Scan(...any) error }) (*subscriptions.Subscription, error) {
	var s subscriptions.Subscription
	var term, status string
	var pendingPlan sql.NullString
	var pendingAt, canceledAt sql.NullTime

	err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &term, &status, &s.CurrentPeriodStart, &s.CurrentPeriodEnd,
		&s.AppliedMultiplier, &s.AutoRenew, &pendingPlan, &pendingAt, &canceledAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}

	s.Term = plans.Term(term)
	s.Status = subscriptions.Status(status)
	s.PendingPlanID = pendingPlan.String
	s.PendingChangeAt = timePtr(pendingAt)
	s.CanceledAt = timePtr(canceledAt)
	s.CurrentPeriodStart = s.CurrentPeriodStart.UTC()
	s.CurrentPeriodEnd = s.CurrentPeriodEnd.UTC()
	return &s, nil
}

func (s *SubscriptionStore) query(ctx context.Context, op, where string, args ...any) ([]*subscriptions.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY id`

	rows, err := s.db.db.QueryContext(ctx, s.db.rebind(query), args...)
	if err != nil {
		return nil, s.db.observe(op, fmt.Errorf("failed to query subscriptions: %w", err))
	}
	defer rows.Close()

	list := []*subscriptions.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, s.db.observe(op, fmt.Errorf("failed to scan subscription: %w", err))
		}
		list = append(list, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, s.db.observe(op, fmt.Errorf("failed to iterate subscriptions: %w", err))
	}
	s.db.observe(op, nil)
	return list, nil
}

// Get implements subscriptions.Store.Get
func (s *SubscriptionStore) Get(ctx context.Context, id string) (*subscriptions.Subscription, error) {
	list, err := s.query(ctx, "get_subscription", "id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: %s", subscriptions.ErrNotFound, id)
	}
	return list[0], nil
}

// GetActiveForUser implements subscriptions.Store.GetActiveForUser
func (s *SubscriptionStore) GetActiveForUser(ctx context.Context, userID string) (*subscriptions.Subscription, error) {
	list, err := s.query(ctx, "get_active_subscription", "user_id = ? AND status = ?", userID, string(subscriptions.StatusActive))
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// FindActiveAutoRenewing implements subscriptions.Store.FindActiveAutoRenewing
func (s *SubscriptionStore) FindActiveAutoRenewing(ctx context.Context) ([]*subscriptions.Subscription, error) {
	return s.query(ctx, "find_billable", "status = ? AND auto_renew = ?", string(subscriptions.StatusActive), true)
}

// FindActiveEndingBy implements subscriptions.Store.FindActiveEndingBy
func (s *SubscriptionStore) FindActiveEndingBy(ctx context.Context, t time.Time) ([]*subscriptions.Subscription, error) {
	return s.query(ctx, "find_ending", "status = ? AND current_period_end <= ?", string(subscriptions.StatusActive), t.UTC())
}

// List implements subscriptions.Store.List
func (s *SubscriptionStore) List(ctx context.Context, filter subscriptions.Filter) ([]*subscriptions.Subscription, error) {
	var conds []string
	var args []any
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.PlanID != "" {
		conds = append(conds, "plan_id = ?")
		args = append(args, filter.PlanID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	return s.query(ctx, "list_subscriptions", strings.Join(conds, " AND "), args...)
}

// CountActiveForPlan implements subscriptions.Store.CountActiveForPlan
func (s *SubscriptionStore) CountActiveForPlan(ctx context.Context, planID string) (int, error) {
	query := s.db.rebind(`SELECT COUNT(*) FROM subscriptions WHERE status = ? AND (plan_id = ? OR pending_plan_id = ?)`)

	var n int
	err := s.db.db.QueryRowContext(ctx, query, string(subscriptions.StatusActive), planID, planID).Scan(&n)
	if err != nil {
		return 0, s.db.observe("count_plan_subscriptions", fmt.Errorf("failed to count subscriptions: %w", err))
	}
	s.db.observe("count_plan_subscriptions", nil)
	return n, nil
}

// Create implements subscriptions.Store.Create
func (s *SubscriptionStore) Create(ctx context.Context, sub *subscriptions.Subscription) error {
	if sub.Status == "" {
		sub.Status = subscriptions.StatusActive
	}
	if err := sub.Validate(); err != nil {
		return err
	}

	now := s.now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		err := tx.QueryRowContext(ctx, s.db.rebind(`SELECT COUNT(*) FROM subscriptions WHERE id = ?`), sub.ID).Scan(&n)
		if err != nil {
			return fmt.Errorf("failed to check subscription id: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("%w: duplicate id %s", subscriptions.ErrInvalidSubscription, sub.ID)
		}

		if sub.IsActive() {
			err := tx.QueryRowContext(ctx,
				s.db.rebind(`SELECT COUNT(*) FROM subscriptions WHERE user_id = ? AND status = ?`),
				sub.UserID, string(subscriptions.StatusActive)).Scan(&n)
			if err != nil {
				return fmt.Errorf("failed to check active subscription: %w", err)
			}
			if n > 0 {
				return fmt.Errorf("%w: user %s", subscriptions.ErrActiveExists, sub.UserID)
			}
		}

		query := s.db.rebind(`
			INSERT INTO subscriptions (` + subscriptionColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		_, err = tx.ExecContext(ctx, query,
			sub.ID, sub.UserID, sub.PlanID, string(sub.Term), string(sub.Status),
			sub.CurrentPeriodStart.UTC(), sub.CurrentPeriodEnd.UTC(), sub.AppliedMultiplier, sub.AutoRenew,
			nullString(sub.PendingPlanID), nullTime(sub.PendingChangeAt), nullTime(sub.CanceledAt),
			sub.CreatedAt.UTC(), sub.UpdatedAt)
		if isUniqueViolation(err) {
			// lost a race with a concurrent Create for the same user
			return fmt.Errorf("%w: user %s", subscriptions.ErrActiveExists, sub.UserID)
		}
		if err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}
		return nil
	})

	if errors.Is(err, subscriptions.ErrActiveExists) || errors.Is(err, subscriptions.ErrInvalidSubscription) {
		s.db.observe("create_subscription", nil)
		return err
	}
	return s.db.observe("create_subscription", err)
}

// SchedulePlanChange implements subscriptions.Store.SchedulePlanChange
func (s *SubscriptionStore) SchedulePlanChange(ctx context.Context, id, planID string, effectiveAt time.Time) error {
	return s.mutateActive(ctx, "schedule_plan_change", id,
		"pending_plan_id = ?, pending_change_at = ?", planID, effectiveAt.UTC())
}

// ClearPlanChange implements subscriptions.Store.ClearPlanChange
func (s *SubscriptionStore) ClearPlanChange(ctx context.Context, id string) error {
	return s.mutateActive(ctx, "clear_plan_change", id, "pending_plan_id = NULL, pending_change_at = NULL")
}

// Renew implements subscriptions.Store.Renew
func (s *SubscriptionStore) Renew(ctx context.Context, id, planID string, periodStart, periodEnd time.Time) error {
	return s.mutateActive(ctx, "renew_subscription", id,
		"plan_id = ?, current_period_start = ?, current_period_end = ?, pending_plan_id = NULL, pending_change_at = NULL",
		planID, periodStart.UTC(), periodEnd.UTC())
}

// Cancel implements subscriptions.Store.Cancel
func (s *SubscriptionStore) Cancel(ctx context.Context, id string, at time.Time) error {
	return s.mutateActive(ctx, "cancel_subscription", id,
		"status = ?, auto_renew = ?, canceled_at = ?", string(subscriptions.StatusCanceled), false, at.UTC())
}

// SetAutoRenew implements subscriptions.Store.SetAutoRenew
func (s *SubscriptionStore) SetAutoRenew(ctx context.Context, id string, autoRenew bool) error {
	return s.mutateActive(ctx, "set_auto_renew", id, "auto_renew = ?", autoRenew)
}

// mutateActive updates an active subscription, distinguishing missing
// from canceled when no row matches
func (s *SubscriptionStore) mutateActive(ctx context.Context, op, id, set string, args ...any) error {
	query := s.db.rebind(`UPDATE subscriptions SET ` + set + `, updated_at = ? WHERE id = ? AND status = ?`)
	args = append(args, s.now().UTC(), id, string(subscriptions.StatusActive))

	res, err := s.db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return s.db.observe(op, fmt.Errorf("failed to update subscription: %w", err))
	}
	s.db.observe(op, nil)

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", subscriptions.ErrNotActive, id)
}
