package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/subbill/pkg/ledger"
	"github.com/platinummonkey/subbill/pkg/observability"
	"github.com/platinummonkey/subbill/pkg/plans"
	"github.com/platinummonkey/subbill/pkg/subscriptions"
)

// ClassifyChange compares the prices of two plans.
// Equal prices classify as a downgrade.
func ClassifyChange(currentPriceCents, newPriceCents int64) ledger.ChangeType {
	if newPriceCents > currentPriceCents {
		return ledger.ChangeTypeUpgrade
	}
	return ledger.ChangeTypeDowngrade
}

// AuditPrice returns the price of plan written to a plan-change record.
// Classification always uses the term-matched price; only the recorded
// prices follow basis.
func AuditPrice(plan *plans.Plan, term plans.Term, basis ledger.PriceBasis) int64 {
	if basis == ledger.PriceBasisMonthly {
		return plan.MonthlyPriceCents
	}
	return plan.PriceForTerm(term)
}

// PlanChanger schedules plan changes for the end of the current period
type PlanChanger struct {
	subs     subscriptions.Store
	catalog  plans.Catalog
	recorder *PlanChangeRecorder
	basis    ledger.PriceBasis
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewPlanChanger creates a PlanChanger. An invalid basis falls back to PriceBasisTerm.
func NewPlanChanger(subs subscriptions.Store, catalog plans.Catalog, recorder *PlanChangeRecorder, basis ledger.PriceBasis, logger *observability.Logger, metrics *observability.Metrics) *PlanChanger {
	if !basis.Valid() {
		basis = ledger.PriceBasisTerm
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &PlanChanger{
		subs:     subs,
		catalog:  catalog,
		recorder: recorder,
		basis:    basis,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// ChangePlan moves a user's active subscription to newPlanID at the end of the
// current period. The subscription's plan is untouched until renewal; the
// audit record is written now. A failed audit write restores the previously
// scheduled change.
func (c *PlanChanger) ChangePlan(ctx context.Context, userID, newPlanID string) (*ledger.PlanChange, error) {
	sub, err := c.subs.GetActiveForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if sub == nil {
		return nil, fmt.Errorf("%w: user %s", ErrNoActiveSubscription, userID)
	}
	if sub.PlanID == newPlanID {
		return nil, fmt.Errorf("%w: %s", ErrSamePlan, newPlanID)
	}
	if sub.PendingPlanID == newPlanID {
		return nil, fmt.Errorf("%w: %s", ErrChangeAlreadyScheduled, newPlanID)
	}

	current, err := c.catalog.GetPlanByID(ctx, sub.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load current plan: %w", err)
	}
	target, err := c.catalog.GetPlanByID(ctx, newPlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load target plan: %w", err)
	}
	if !target.Available() {
		return nil, fmt.Errorf("%w: %s", ErrPlanUnavailable, newPlanID)
	}

	changeType := ClassifyChange(current.PriceForTerm(sub.Term), target.PriceForTerm(sub.Term))

	if err := c.subs.SchedulePlanChange(ctx, sub.ID, target.ID, sub.CurrentPeriodEnd); err != nil {
		return nil, fmt.Errorf("failed to schedule plan change: %w", err)
	}

	record, err := c.recorder.RecordPlanChange(ctx, &ledger.PlanChange{
		UserID:             userID,
		SubscriptionID:     sub.ID,
		FromPlanID:         current.ID,
		FromPlanName:       current.Name,
		ToPlanID:           target.ID,
		ToPlanName:         target.Name,
		ChangeType:         changeType,
		ChangedAt:          c.now(),
		EffectiveAt:        sub.CurrentPeriodEnd,
		PreviousPriceCents: AuditPrice(current, sub.Term, c.basis),
		NewPriceCents:      AuditPrice(target, sub.Term, c.basis),
		Term:               sub.Term,
		PriceBasis:         c.basis,
	})
	if err != nil {
		logger := c.logger.WithError(err).WithField("subscription_id", sub.ID)
		if rbErr := c.restoreSchedule(ctx, sub); rbErr != nil {
			logger.WithField("rollback_error", rbErr.Error()).Error("plan change audit failed and schedule could not be restored")
			return nil, errors.Join(err, rbErr)
		}
		logger.Warn("plan change audit failed, schedule restored")
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.PlanChangesTotal.WithLabelValues(string(changeType)).Inc()
	}

	return record, nil
}

// restoreSchedule puts back the pending change sub carried before ChangePlan
func (c *PlanChanger) restoreSchedule(ctx context.Context, sub *subscriptions.Subscription) error {
	if !sub.HasPendingChange() {
		return c.subs.ClearPlanChange(ctx, sub.ID)
	}
	at := sub.CurrentPeriodEnd
	if sub.PendingChangeAt != nil {
		at = *sub.PendingChangeAt
	}
	return c.subs.SchedulePlanChange(ctx, sub.ID, sub.PendingPlanID, at)
}
