package billing

import "errors"

var (
	// ErrGenerationInProgress is returned when another run holds the cycle lock
	ErrGenerationInProgress = errors.New("order generation already in progress for cycle")
	// ErrLeaseLost is returned when a run's cycle lock expired or was taken over mid-run
	ErrLeaseLost = errors.New("generation lock lost")
	// ErrNoActiveSubscription is returned when a user has no active subscription
	ErrNoActiveSubscription = errors.New("user has no active subscription")
	// ErrSamePlan is returned when changing to the plan already subscribed
	ErrSamePlan = errors.New("subscription is already on this plan")
	// ErrChangeAlreadyScheduled is returned when the same change is already pending
	ErrChangeAlreadyScheduled = errors.New("plan change already scheduled")
	// ErrPlanUnavailable is returned when the target plan is deprecated or inactive
	ErrPlanUnavailable = errors.New("plan is not available")
	// ErrPlanInUse is returned when editing prices of a plan with active subscribers
	ErrPlanInUse = errors.New("plan pricing is referenced by active subscriptions")
	// ErrUserNotFound is returned when subscribing an unknown user
	ErrUserNotFound = errors.New("user not found")
	// ErrIncompleteChange is returned when a plan change record is missing fields
	ErrIncompleteChange = errors.New("incomplete plan change")
)
