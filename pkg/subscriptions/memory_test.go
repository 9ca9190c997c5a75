package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/platinummonkey/subbill/pkg/plans"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var periodStart = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

func newSub(id, userID, planID string, autoRenew bool) *Subscription {
	return &Subscription{
		ID:                 id,
		UserID:             userID,
		PlanID:             planID,
		Term:               plans.TermMonthly,
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodStart.AddDate(0, 1, 0),
		AppliedMultiplier:  1,
		AutoRenew:          autoRenew,
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newSub("s1", "u1", "pro", true)))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.False(t, got.CreatedAt.IsZero())

	active, err := store.GetActiveForUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "s1", active.ID)

	none, err := store.GetActiveForUser(ctx, "u2")
	assert.NoError(t, err)
	assert.Nil(t, none)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_OneActivePerUser(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newSub("s1", "u1", "pro", true)))
	err := store.Create(ctx, newSub("s2", "u1", "basic", true))
	assert.ErrorIs(t, err, ErrActiveExists)

	require.NoError(t, store.Cancel(ctx, "s1", periodStart))
	assert.NoError(t, store.Create(ctx, newSub("s2", "u1", "basic", true)))

	// Canceled subscriptions are kept
	all, err := store.List(ctx, Filter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryStore_CreateValidation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	bad := newSub("s1", "u1", "pro", true)
	bad.Term = "weekly"
	assert.ErrorIs(t, store.Create(ctx, bad), ErrInvalidSubscription)

	bad = newSub("s1", "u1", "pro", true)
	bad.CurrentPeriodEnd = bad.CurrentPeriodStart
	assert.ErrorIs(t, store.Create(ctx, bad), ErrInvalidSubscription)

	require.NoError(t, store.Create(ctx, newSub("s1", "u1", "pro", true)))
	assert.ErrorIs(t, store.Create(ctx, newSub("s1", "u9", "pro", true)), ErrInvalidSubscription)
}

func TestMemoryStore_FindActiveAutoRenewing(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newSub("s2", "u2", "pro", true)))
	require.NoError(t, store.Create(ctx, newSub("s1", "u1", "pro", true)))
	require.NoError(t, store.Create(ctx, newSub("s3", "u3", "pro", false)))
	require.NoError(t, store.Create(ctx, newSub("s4", "u4", "pro", true)))
	require.NoError(t, store.Cancel(ctx, "s4", periodStart))

	subs, err := store.FindActiveAutoRenewing(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "s1", subs[0].ID)
	assert.Equal(t, "s2", subs[1].ID)
}

func TestMemoryStore_FindActiveEndingBy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	short := newSub("s1", "u1", "pro", true)
	long := newSub("s2", "u2", "pro", true)
	long.Term = plans.TermAnnual
	long.CurrentPeriodEnd = periodStart.AddDate(1, 0, 0)
	require.NoError(t, store.Create(ctx, short))
	require.NoError(t, store.Create(ctx, long))

	due, err := store.FindActiveEndingBy(ctx, short.CurrentPeriodEnd)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "s1", due[0].ID)
}

func TestMemoryStore_SchedulePlanChangeAndRenew(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub := newSub("s1", "u1", "basic", true)
	require.NoError(t, store.Create(ctx, sub))
	require.NoError(t, store.SchedulePlanChange(ctx, "s1", "pro", sub.CurrentPeriodEnd))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "basic", got.PlanID)
	assert.Equal(t, "pro", got.PendingPlanID)
	require.NotNil(t, got.PendingChangeAt)
	assert.True(t, got.PendingChangeAt.Equal(sub.CurrentPeriodEnd))

	n, err := store.CountActiveForPlan(ctx, "pro")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	nextEnd := NextPeriodEnd(plans.TermMonthly, sub.CurrentPeriodEnd)
	require.NoError(t, store.Renew(ctx, "s1", "pro", sub.CurrentPeriodEnd, nextEnd))

	got, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "pro", got.PlanID)
	assert.Empty(t, got.PendingPlanID)
	assert.Nil(t, got.PendingChangeAt)
	assert.True(t, got.CurrentPeriodEnd.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)))
}

func TestMemoryStore_ClearPlanChange(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub := newSub("s1", "u1", "basic", true)
	require.NoError(t, store.Create(ctx, sub))
	require.NoError(t, store.SchedulePlanChange(ctx, "s1", "pro", sub.CurrentPeriodEnd))
	require.NoError(t, store.ClearPlanChange(ctx, "s1"))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, got.HasPendingChange())
	assert.Nil(t, got.PendingChangeAt)

	n, err := store.CountActiveForPlan(ctx, "pro")
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.ErrorIs(t, store.ClearPlanChange(ctx, "missing"), ErrNotFound)
}

func TestMemoryStore_MutationsRequireActive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newSub("s1", "u1", "pro", true)))
	require.NoError(t, store.Cancel(ctx, "s1", periodStart))

	assert.ErrorIs(t, store.SetAutoRenew(ctx, "s1", true), ErrNotActive)
	assert.ErrorIs(t, store.Cancel(ctx, "s1", periodStart), ErrNotActive)
	assert.ErrorIs(t, store.SetAutoRenew(ctx, "nope", true), ErrNotFound)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, got.Status)
	assert.False(t, got.AutoRenew)
	require.NotNil(t, got.CanceledAt)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newSub("s1", "u1", "pro", true)))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	got.PlanID = "hacked"

	again, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "pro", again.PlanID)
}

func TestNextPeriodEnd(t *testing.T) {
	end := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), NextPeriodEnd(plans.TermMonthly, end))
	assert.Equal(t, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), NextPeriodEnd(plans.TermAnnual, end))
}
