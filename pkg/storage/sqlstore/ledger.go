package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/subbill/pkg/ledger"
	"github.com/platinummonkey/subbill/pkg/plans"
)

const pendingColumns = `subscription_id, due_date, user_id, plan_id, plan_name, amount_cents, term,
	status, order_id, error, created_at, updated_at`

// PendingLedger implements ledger.PendingStore
type PendingLedger struct {
	db  *DB
	now func() time.Time
}

// NewPendingLedger creates a PendingLedger
func NewPendingLedger(db *DB) *PendingLedger {
	return &PendingLedger{db: db, now: time.Now}
}

func scanPending(row interface{ Scan(...any) error }) (*ledger.PendingOrder, error) {
	var p ledger.PendingOrder
	var due, term, status string
	err := row.Scan(&p.SubscriptionID, &due, &p.UserID, &p.PlanID, &p.PlanName, &p.AmountCents, &term,
		&status, &p.OrderID, &p.Error, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.DueDate, err = ledger.ParseDate(due)
	if err != nil {
		return nil, fmt.Errorf("invalid due date %q: %w", due, err)
	}
	p.Term = plans.Term(term)
	p.Status = ledger.PendingStatus(status)
	return &p, nil
}

// Get implements ledger.PendingStore.Get
func (l *PendingLedger) Get(ctx context.Context, subscriptionID string, dueDate time.Time) (*ledger.PendingOrder, error) {
	query := l.db.rebind(`SELECT ` + pendingColumns + ` FROM pending_orders WHERE subscription_id = ? AND due_date = ?`)

	p, err := scanPending(l.db.db.QueryRowContext(ctx, query, subscriptionID, ledger.DateKey(dueDate)))
	if errors.Is(err, sql.ErrNoRows) {
		l.db.observe("get_pending_order", nil)
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, l.db.observe("get_pending_order", fmt.Errorf("failed to get pending order: %w", err))
	}
	l.db.observe("get_pending_order", nil)
	return p, nil
}

// Save implements ledger.PendingStore.Save. A generated record is never replaced.
func (l *PendingLedger) Save(ctx context.Context, order *ledger.PendingOrder) error {
	if order.SubscriptionID == "" || order.DueDate.IsZero() {
		return ledger.ErrInvalidRecord
	}
	switch order.Status {
	case ledger.PendingStatusPending, ledger.PendingStatusGenerated, ledger.PendingStatusFailed:
	default:
		return ledger.ErrInvalidRecord
	}

	now := l.now().UTC()
	created := order.CreatedAt
	if created.IsZero() {
		created = now
	}

	query := l.db.rebind(`
		INSERT INTO pending_orders (` + pendingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (subscription_id, due_date) DO UPDATE SET
			user_id = excluded.user_id,
			plan_id = excluded.plan_id,
			plan_name = excluded.plan_name,
			amount_cents = excluded.amount_cents,
			term = excluded.term,
			status = excluded.status,
			order_id = excluded.order_id,
			error = excluded.error,
			updated_at = excluded.updated_at
		WHERE pending_orders.status <> 'generated'
	`)

	key := order.Key()
	res, err := l.db.db.ExecContext(ctx, query,
		key.SubscriptionID, key.DueDate, order.UserID, order.PlanID, order.PlanName, order.AmountCents,
		string(order.Term), string(order.Status), order.OrderID, order.Error, created.UTC(), now)
	if err != nil {
		return l.db.observe("save_pending_order", fmt.Errorf("failed to save pending order: %w", err))
	}
	l.db.observe("save_pending_order", nil)

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ledger.ErrAlreadyGenerated, key.SubscriptionID, key.DueDate)
	}

	order.UpdatedAt = now
	if order.CreatedAt.IsZero() {
		order.CreatedAt = created
	}
	return nil
}

// ListByDueDate implements ledger.PendingStore.ListByDueDate
func (l *PendingLedger) ListByDueDate(ctx context.Context, dueDate time.Time) ([]*ledger.PendingOrder, error) {
	return l.list(ctx, "list_pending_by_due", "WHERE due_date = ?", ledger.DateKey(dueDate))
}

// List implements ledger.PendingStore.List
func (l *PendingLedger) List(ctx context.Context) ([]*ledger.PendingOrder, error) {
	return l.list(ctx, "list_pending", "")
}

func (l *PendingLedger) list(ctx context.Context, op, where string, args ...any) ([]*ledger.PendingOrder, error) {
	query := l.db.rebind(`SELECT ` + pendingColumns + ` FROM pending_orders ` + where + ` ORDER BY due_date, subscription_id`)

	rows, err := l.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, l.db.observe(op, fmt.Errorf("failed to list pending orders: %w", err))
	}
	defer rows.Close()

	list := []*ledger.PendingOrder{}
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, l.db.observe(op, fmt.Errorf("failed to scan pending order: %w", err))
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, l.db.observe(op, fmt.Errorf("failed to iterate pending orders: %w", err))
	}
	l.db.observe(op, nil)
	return list, nil
}

const planChangeColumns = `id, user_id, subscription_id, from_plan_id, from_plan_name, to_plan_id, to_plan_name,
	change_type, changed_at, effective_at, previous_price_cents, new_price_cents, term, price_basis`

// HistoryLedger implements ledger.HistoryStore
type HistoryLedger struct {
	db *DB
}

// NewHistoryLedger creates a HistoryLedger
func NewHistoryLedger(db *DB) *HistoryLedger {
	return &HistoryLedger{db: db}
}

// Append implements ledger.HistoryStore.Append
func (h *HistoryLedger) Append(ctx context.Context, change *ledger.PlanChange) error {
	if change.ID == "" {
		return fmt.Errorf("%w: plan change id is required", ledger.ErrInvalidRecord)
	}

	query := h.db.rebind(`
		INSERT INTO plan_changes (` + planChangeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := h.db.db.ExecContext(ctx, query,
		change.ID, change.UserID, change.SubscriptionID, change.FromPlanID, change.FromPlanName,
		change.ToPlanID, change.ToPlanName, string(change.ChangeType), change.ChangedAt.UTC(),
		change.EffectiveAt.UTC(), change.PreviousPriceCents, change.NewPriceCents,
		string(change.Term), string(change.PriceBasis))
	if isUniqueViolation(err) {
		h.db.observe("append_plan_change", nil)
		return fmt.Errorf("%w: duplicate plan change id %s", ledger.ErrInvalidRecord, change.ID)
	}
	if err != nil {
		return h.db.observe("append_plan_change", fmt.Errorf("failed to append plan change: %w", err))
	}
	h.db.observe("append_plan_change", nil)
	return nil
}

// List implements ledger.HistoryStore.List
func (h *HistoryLedger) List(ctx context.Context) ([]*ledger.PlanChange, error) {
	return h.list(ctx, "list_plan_changes", "")
}

// ListForUser implements ledger.HistoryStore.ListForUser
func (h *HistoryLedger) ListForUser(ctx context.Context, userID string) ([]*ledger.PlanChange, error) {
	return h.list(ctx, "list_user_plan_changes", "WHERE user_id = ?", userID)
}

func (h *HistoryLedger) list(ctx context.Context, op, where string, args ...any) ([]*ledger.PlanChange, error) {
	query := h.db.rebind(`SELECT ` + planChangeColumns + ` FROM plan_changes ` + where + ` ORDER BY changed_at, id`)

	rows, err := h.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, h.db.observe(op, fmt.Errorf("failed to list plan changes: %w", err))
	}
	defer rows.Close()

	list := []*ledger.PlanChange{}
	for rows.Next() {
		var c ledger.PlanChange
		var changeType, term, basis string
		err := rows.Scan(&c.ID, &c.UserID, &c.SubscriptionID, &c.FromPlanID, &c.FromPlanName,
			&c.ToPlanID, &c.ToPlanName, &changeType, &c.ChangedAt, &c.EffectiveAt,
			&c.PreviousPriceCents, &c.NewPriceCents, &term, &basis)
		if err != nil {
			return nil, h.db.observe(op, fmt.Errorf("failed to scan plan change: %w", err))
		}
		c.ChangeType = ledger.ChangeType(changeType)
		c.Term = plans.Term(term)
		c.PriceBasis = ledger.PriceBasis(basis)
		list = append(list, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, h.db.observe(op, fmt.Errorf("failed to iterate plan changes: %w", err))
	}
	h.db.observe(op, nil)
	return list, nil
}
