package subscriptions

import (
	"context"
	"time"
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	UserID string
	PlanID string
	Status Status
}

// Matches reports whether s satisfies the filter
func (f Filter) Matches(s *Subscription) bool {
	if f.UserID != "" && s.UserID != f.UserID {
		return false
	}
	if f.PlanID != "" && s.PlanID != f.PlanID {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	return true
}

// Store persists subscriptions
type Store interface {
	// Get returns ErrNotFound for unknown IDs
	Get(ctx context.Context, id string) (*Subscription, error)
	// GetActiveForUser returns nil, nil when the user has no active subscription
	GetActiveForUser(ctx context.Context, userID string) (*Subscription, error)
	// FindActiveAutoRenewing returns every active subscription with AutoRenew set
	FindActiveAutoRenewing(ctx context.Context) ([]*Subscription, error)
	// FindActiveEndingBy returns active subscriptions whose period ends at or before t
	FindActiveEndingBy(ctx context.Context, t time.Time) ([]*Subscription, error)
	// List returns subscriptions matching the filter ordered by ID
	List(ctx context.Context, filter Filter) ([]*Subscription, error)
	// CountActiveForPlan counts active subscriptions on or moving to planID
	CountActiveForPlan(ctx context.Context, planID string) (int, error)

	// Create stores a new subscription; ErrActiveExists if the user already has one
	Create(ctx context.Context, sub *Subscription) error
	// SchedulePlanChange defers a plan switch until effectiveAt
	SchedulePlanChange(ctx context.Context, id, planID string, effectiveAt time.Time) error
	// ClearPlanChange drops any scheduled plan switch
	ClearPlanChange(ctx context.Context, id string) error
	// Renew moves the subscription to a new period, switching to planID
	Renew(ctx context.Context, id, planID string, periodStart, periodEnd time.Time) error
	// Cancel marks the subscription canceled
	Cancel(ctx context.Context, id string, at time.Time) error
	// SetAutoRenew toggles auto-renewal
	SetAutoRenew(ctx context.Context, id string, autoRenew bool) error
}
