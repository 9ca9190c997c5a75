// Package subscriptions stores user subscriptions to catalog plans.
//
// A user has at most one active subscription. Subscriptions are never
// deleted; canceling sets Status to canceled. Plan changes requested
// mid-period are held in PendingPlanID until the period ends.
package subscriptions

import (
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/subbill/pkg/plans"
)

var (
	// ErrNotFound is returned when a subscription ID is unknown
	ErrNotFound = errors.New("subscription not found")
	// ErrActiveExists is returned when creating a second active subscription for a user
	ErrActiveExists = errors.New("user already has an active subscription")
	// ErrNotActive is returned when mutating a canceled subscription
	ErrNotActive = errors.New("subscription is not active")
	// ErrInvalidSubscription is returned when a subscription fails validation
	ErrInvalidSubscription = errors.New("invalid subscription")
)

// Status represents the status of a subscription
type Status string

const (
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
)

// Subscription represents a user's subscription to a plan
type Subscription struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	PlanID             string     `json:"plan_id"`
	Term               plans.Term `json:"term"`
	Status             Status     `json:"status"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	AppliedMultiplier  float64    `json:"applied_multiplier"`
	AutoRenew          bool       `json:"auto_renew"`
	PendingPlanID      string     `json:"pending_plan_id,omitempty"`
	PendingChangeAt    *time.Time `json:"pending_change_at,omitempty"`
	CanceledAt         *time.Time `json:"canceled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsActive reports whether the subscription is active
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// Billable reports whether the subscription takes part in monthly generation
func (s *Subscription) Billable() bool {
	return s.Status == StatusActive && s.AutoRenew
}

// HasPendingChange reports whether a deferred plan change is scheduled
func (s *Subscription) HasPendingChange() bool {
	return s.PendingPlanID != ""
}

// Validate checks structural completeness
func (s *Subscription) Validate() error {
	switch {
	case s.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidSubscription)
	case s.UserID == "":
		return fmt.Errorf("%w: user id is required", ErrInvalidSubscription)
	case s.PlanID == "":
		return fmt.Errorf("%w: plan id is required", ErrInvalidSubscription)
	case !s.Term.Valid():
		return fmt.Errorf("%w: term must be monthly or annual", ErrInvalidSubscription)
	case !s.CurrentPeriodEnd.After(s.CurrentPeriodStart):
		return fmt.Errorf("%w: period end must be after period start", ErrInvalidSubscription)
	}
	return nil
}

// Clone returns a deep copy
func (s *Subscription) Clone() *Subscription {
	c := *s
	if s.PendingChangeAt != nil {
		t := *s.PendingChangeAt
		c.PendingChangeAt = &t
	}
	if s.CanceledAt != nil {
		t := *s.CanceledAt
		c.CanceledAt = &t
	}
	return &c
}

// NextPeriodEnd returns the end of the period following one that ends at end
func NextPeriodEnd(term plans.Term, end time.Time) time.Time {
	if term == plans.TermAnnual {
		return end.AddDate(1, 0, 0)
	}
	return end.AddDate(0, 1, 0)
}
