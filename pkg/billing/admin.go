package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/subbill/pkg/observability"
	"github.com/platinummonkey/subbill/pkg/plans"
	"github.com/platinummonkey/subbill/pkg/subscriptions"
)

// PlanAdmin edits the catalog while protecting prices that active
// subscriptions depend on
type PlanAdmin struct {
	store  plans.Store
	subs   subscriptions.Store
	logger *observability.Logger
}

// NewPlanAdmin creates a PlanAdmin
func NewPlanAdmin(store plans.Store, subs subscriptions.Store, logger *observability.Logger) *PlanAdmin {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &PlanAdmin{store: store, subs: subs, logger: logger}
}

// SavePlan creates a plan or updates an existing one. Price edits are rejected
// with ErrPlanInUse while any active subscription is on or moving to the plan.
func (a *PlanAdmin) SavePlan(ctx context.Context, plan *plans.Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}

	existing, err := a.store.GetPlanByID(ctx, plan.ID)
	switch {
	case errors.Is(err, plans.ErrPlanNotFound):
	case err != nil:
		return fmt.Errorf("failed to load plan: %w", err)
	case !existing.SamePricing(plan):
		n, err := a.subs.CountActiveForPlan(ctx, plan.ID)
		if err != nil {
			return fmt.Errorf("failed to count subscriptions for plan: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("%w: %s has %d active subscriptions", ErrPlanInUse, plan.ID, n)
		}
	}

	if err := a.store.SavePlan(ctx, plan); err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}

	a.logger.WithField("plan_id", plan.ID).Info("plan saved")
	return nil
}

// UpdatePlan updates an existing plan; ErrPlanNotFound if it does not exist
func (a *PlanAdmin) UpdatePlan(ctx context.Context, id string, plan *plans.Plan) error {
	if plan.ID == "" {
		plan.ID = id
	}
	if plan.ID != id {
		return fmt.Errorf("%w: id %s does not match %s", plans.ErrInvalidPlan, plan.ID, id)
	}
	if _, err := a.store.GetPlanByID(ctx, id); err != nil {
		return err
	}
	return a.SavePlan(ctx, plan)
}

// DeprecatePlan hides a plan from new subscriptions and plan changes
func (a *PlanAdmin) DeprecatePlan(ctx context.Context, id string) error {
	if err := a.store.DeprecatePlan(ctx, id); err != nil {
		return err
	}
	a.logger.WithField("plan_id", id).Info("plan deprecated")
	return nil
}
