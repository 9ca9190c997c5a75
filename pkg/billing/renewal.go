package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/subbill/pkg/observability"
	"github.com/platinummonkey/subbill/pkg/plans"
	"github.com/platinummonkey/subbill/pkg/subscriptions"
)

// RenewalResult summarizes a renewal pass
type RenewalResult struct {
	Renewed            int       `json:"renewed"`
	PlanChangesApplied int       `json:"plan_changes_applied"`
	Canceled           int       `json:"canceled"`
	Failed             int       `json:"failed"`
	Failures           []Failure `json:"failures,omitempty"`
}

// Renewer rolls subscriptions whose period has ended into the next period
type Renewer struct {
	subs    subscriptions.Store
	catalog plans.Catalog
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewRenewer creates a Renewer
func NewRenewer(subs subscriptions.Store, catalog plans.Catalog, logger *observability.Logger, metrics *observability.Metrics) *Renewer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Renewer{
		subs:    subs,
		catalog: catalog,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// RenewDue renews every active subscription whose period ended at or before
// now, applying scheduled plan changes. Subscriptions without auto-renew are
// canceled at their period end.
func (r *Renewer) RenewDue(ctx context.Context) (*RenewalResult, error) {
	now := r.now()
	due, err := r.subs.FindActiveEndingBy(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions due for renewal: %w", err)
	}

	result := &RenewalResult{}
	for _, sub := range due {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("renewal interrupted: %w", err)
		}

		logger := r.logger.WithFields(map[string]interface{}{
			"subscription_id": sub.ID,
			"user_id":         sub.UserID,
		})

		if !sub.AutoRenew {
			if err := r.subs.Cancel(ctx, sub.ID, sub.CurrentPeriodEnd); err != nil {
				r.fail(logger, result, sub, fmt.Sprintf("cancel failed: %v", err))
				continue
			}
			result.Canceled++
			r.record("canceled")
			logger.Info("subscription ended without renewal")
			continue
		}

		planID := sub.PlanID
		applied := false
		if sub.HasPendingChange() && (sub.PendingChangeAt == nil || !sub.PendingChangeAt.After(now)) {
			if _, err := r.catalog.GetPlanByID(ctx, sub.PendingPlanID); err != nil {
				r.fail(logger, result, sub, fmt.Sprintf("pending plan %s: %v", sub.PendingPlanID, err))
				continue
			}
			planID = sub.PendingPlanID
			applied = true
		}

		start := sub.CurrentPeriodEnd
		end := subscriptions.NextPeriodEnd(sub.Term, start)
		for !end.After(now) {
			start = end
			end = subscriptions.NextPeriodEnd(sub.Term, start)
		}

		if err := r.subs.Renew(ctx, sub.ID, planID, start, end); err != nil {
			r.fail(logger, result, sub, fmt.Sprintf("renew failed: %v", err))
			continue
		}

		result.Renewed++
		r.record("renewed")
		if applied {
			result.PlanChangesApplied++
			logger.WithFields(map[string]interface{}{
				"from_plan": sub.PlanID,
				"to_plan":   planID,
			}).Info("scheduled plan change applied")
		}
	}

	r.logger.WithFields(map[string]interface{}{
		"renewed":  result.Renewed,
		"canceled": result.Canceled,
		"failed":   result.Failed,
	}).Info("renewal pass finished")

	return result, nil
}

func (r *Renewer) fail(logger *observability.Logger, result *RenewalResult, sub *subscriptions.Subscription, reason string) {
	result.Failed++
	result.Failures = append(result.Failures, Failure{SubscriptionID: sub.ID, UserID: sub.UserID, Reason: reason})
	r.record("failed")
	logger.WithField("reason", reason).Warn("subscription renewal failed")
}

func (r *Renewer) record(outcome string) {
	if r.metrics != nil {
		r.metrics.RenewalsTotal.WithLabelValues(outcome).Inc()
	}
}
