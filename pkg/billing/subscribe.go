package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/subbill/pkg/observability"
	"github.com/platinummonkey/subbill/pkg/plans"
	"github.com/platinummonkey/subbill/pkg/subscriptions"
	"github.com/platinummonkey/subbill/pkg/users"
)

// SubscribeRequest describes a new subscription
type SubscribeRequest struct {
	ID        string     `json:"id,omitempty"`
	UserID    string     `json:"user_id"`
	PlanID    string     `json:"plan_id"`
	Term      plans.Term `json:"term"`
	AutoRenew bool       `json:"auto_renew"`
}

// SubscriptionManager opens and closes subscriptions
type SubscriptionManager struct {
	subs    subscriptions.Store
	catalog plans.Catalog
	users   users.Directory
	logger  *observability.Logger
	now     func() time.Time
}

// NewSubscriptionManager creates a SubscriptionManager
func NewSubscriptionManager(subs subscriptions.Store, catalog plans.Catalog, directory users.Directory, logger *observability.Logger) *SubscriptionManager {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &SubscriptionManager{
		subs:    subs,
		catalog: catalog,
		users:   directory,
		logger:  logger,
		now:     time.Now,
	}
}

// Subscribe starts a subscription whose first period begins now. The plan's
// loyalty multiplier is captured on the subscription.
func (m *SubscriptionManager) Subscribe(ctx context.Context, req SubscribeRequest) (*subscriptions.Subscription, error) {
	if req.Term == "" {
		req.Term = plans.TermMonthly
	}
	if !req.Term.Valid() {
		return nil, fmt.Errorf("%w: unknown term %q", subscriptions.ErrInvalidSubscription, req.Term)
	}

	user, err := m.users.GetUserByID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, req.UserID)
	}

	plan, err := m.catalog.GetPlanByID(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.Available() {
		return nil, fmt.Errorf("%w: %s", ErrPlanUnavailable, plan.ID)
	}

	id := req.ID
	if id == "" {
		id = "sub-" + uuid.NewString()
	}
	multiplier := plan.LoyaltyMultiplier
	if multiplier == 0 {
		multiplier = 1
	}

	start := m.now().UTC()
	sub := &subscriptions.Subscription{
		ID:                 id,
		UserID:             req.UserID,
		PlanID:             plan.ID,
		Term:               req.Term,
		Status:             subscriptions.StatusActive,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   subscriptions.NextPeriodEnd(req.Term, start),
		AppliedMultiplier:  multiplier,
		AutoRenew:          req.AutoRenew,
	}
	if err := m.subs.Create(ctx, sub); err != nil {
		return nil, err
	}

	m.logger.WithFields(map[string]interface{}{
		"subscription_id": sub.ID,
		"user_id":         sub.UserID,
		"plan_id":         sub.PlanID,
		"term":            sub.Term,
	}).Info("subscription created")
	return sub, nil
}

// Cancel ends a subscription immediately. Canceled subscriptions are kept.
func (m *SubscriptionManager) Cancel(ctx context.Context, id string) error {
	if err := m.subs.Cancel(ctx, id, m.now().UTC()); err != nil {
		return err
	}
	m.logger.WithField("subscription_id", id).Info("subscription canceled")
	return nil
}

// SetAutoRenew toggles whether the subscription is billed and renewed
func (m *SubscriptionManager) SetAutoRenew(ctx context.Context, id string, autoRenew bool) error {
	return m.subs.SetAutoRenew(ctx, id, autoRenew)
}
