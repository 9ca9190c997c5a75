package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/subbill/pkg/plans"
)

const planColumns = `id, name, monthly_price_cents, annual_price_cents, loyalty_multiplier,
	months_offered_on_annual, display_order, visibility, is_active, deprecated, created_at, updated_at`

// PlanStore implements plans.Store
type PlanStore struct {
	db  *DB
	now func() time.Time
}

// NewPlanStore creates a PlanStore
func NewPlanStore(db *DB) *PlanStore {
	return &PlanStore{db: db, now: time.Now}
}

func scanPlan(row interface{ Scan(...any) error }) (*plans.Plan, error) {
	var p plans.Plan
	var visibility string
	err := row.Scan(&p.ID, &p.Name, &p.MonthlyPriceCents, &p.AnnualPriceCents, &p.LoyaltyMultiplier,
		&p.MonthsOfferedOnAnnual, &p.DisplayOrder, &visibility, &p.IsActive, &p.Deprecated,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Visibility = plans.Visibility(visibility)
	return &p, nil
}

// GetPlanByID implements plans.Catalog.GetPlanByID
func (s *PlanStore) GetPlanByID(ctx context.Context, id string) (*plans.Plan, error) {
	query := s.db.rebind(`SELECT ` + planColumns + ` FROM plans WHERE id = ?`)

	p, err := scanPlan(s.db.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		s.db.observe("get_plan", nil)
		return nil, fmt.Errorf("%w: %s", plans.ErrPlanNotFound, id)
	}
	if err != nil {
		return nil, s.db.observe("get_plan", fmt.Errorf("failed to get plan: %w", err))
	}
	s.db.observe("get_plan", nil)
	return p, nil
}

// GetAllPlans implements plans.Catalog.GetAllPlans
func (s *PlanStore) GetAllPlans(ctx context.Context) ([]*plans.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans ORDER BY display_order, id`

	rows, err := s.db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, s.db.observe("list_plans", fmt.Errorf("failed to list plans: %w", err))
	}
	defer rows.Close()

	list := []*plans.Plan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, s.db.observe("list_plans", fmt.Errorf("failed to scan plan: %w", err))
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, s.db.observe("list_plans", fmt.Errorf("failed to iterate plans: %w", err))
	}
	s.db.observe("list_plans", nil)
	return list, nil
}

// SavePlan implements plans.Store.SavePlan
func (s *PlanStore) SavePlan(ctx context.Context, plan *plans.Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	if plan.Visibility == "" {
		plan.Visibility = plans.VisibilityPublic
	}

	now := s.now().UTC()
	created := plan.CreatedAt
	if created.IsZero() {
		created = now
	}

	query := s.db.rebind(`
		INSERT INTO plans (` + planColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			monthly_price_cents = excluded.monthly_price_cents,
			annual_price_cents = excluded.annual_price_cents,
			loyalty_multiplier = excluded.loyalty_multiplier,
			months_offered_on_annual = excluded.months_offered_on_annual,
			display_order = excluded.display_order,
			visibility = excluded.visibility,
			is_active = excluded.is_active,
			deprecated = plans.deprecated OR excluded.deprecated,
			updated_at = excluded.updated_at
		RETURNING deprecated
	`)

	// Deprecation is one-way: a re-save never clears it
	var deprecated bool
	err := s.db.db.QueryRowContext(ctx, query,
		plan.ID, plan.Name, plan.MonthlyPriceCents, plan.AnnualPriceCents, plan.LoyaltyMultiplier,
		plan.MonthsOfferedOnAnnual, plan.DisplayOrder, string(plan.Visibility), plan.IsActive, plan.Deprecated,
		created.UTC(), now).Scan(&deprecated)
	if err != nil {
		return s.db.observe("save_plan", fmt.Errorf("failed to save plan: %w", err))
	}
	s.db.observe("save_plan", nil)

	plan.Deprecated = deprecated
	plan.UpdatedAt = now
	return nil
}

// DeprecatePlan implements plans.Store.DeprecatePlan
func (s *PlanStore) DeprecatePlan(ctx context.Context, id string) error {
	query := s.db.rebind(`UPDATE plans SET deprecated = ?, updated_at = ? WHERE id = ?`)

	res, err := s.db.db.ExecContext(ctx, query, true, s.now().UTC(), id)
	if err != nil {
		return s.db.observe("deprecate_plan", fmt.Errorf("failed to deprecate plan: %w", err))
	}
	s.db.observe("deprecate_plan", nil)

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", plans.ErrPlanNotFound, id)
	}
	return nil
}
