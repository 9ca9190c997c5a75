package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/platinummonkey/subbill/pkg/ledger"
	"github.com/platinummonkey/subbill/pkg/orders"
	"github.com/platinummonkey/subbill/pkg/plans"
	"github.com/platinummonkey/subbill/pkg/subscriptions"
	"github.com/platinummonkey/subbill/pkg/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	febStart = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	marStart = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	aprStart = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
)

func testSubscription(id, userID, planID string) *subscriptions.Subscription {
	return &subscriptions.Subscription{
		ID:                 id,
		UserID:             userID,
		PlanID:             planID,
		Term:               plans.TermMonthly,
		CurrentPeriodStart: febStart,
		CurrentPeriodEnd:   marStart,
		AppliedMultiplier:  1,
		AutoRenew:          true,
	}
}

// runStoreSuite exercises every store against a migrated database.
// newDB must return an empty, migrated database for each call.
func runStoreSuite(t *testing.T, newDB func(t *testing.T) *DB) {
	ctx := context.Background()

	t.Run("plans", func(t *testing.T) {
		store := NewPlanStore(newDB(t))

		_, err := store.GetPlanByID(ctx, "pro")
		assert.ErrorIs(t, err, plans.ErrPlanNotFound)

		pro := &plans.Plan{ID: "pro", Name: "Pro", MonthlyPriceCents: 1999, AnnualPriceCents: 19990,
			LoyaltyMultiplier: 1, DisplayOrder: 2, IsActive: true}
		basic := &plans.Plan{ID: "basic", Name: "Basic", MonthlyPriceCents: 999, AnnualPriceCents: 9990,
			LoyaltyMultiplier: 1, DisplayOrder: 1, IsActive: true, Visibility: plans.VisibilityHidden}
		require.NoError(t, store.SavePlan(ctx, pro))
		require.NoError(t, store.SavePlan(ctx, basic))

		got, err := store.GetPlanByID(ctx, "pro")
		require.NoError(t, err)
		assert.Equal(t, "Pro", got.Name)
		assert.Equal(t, int64(19990), got.AnnualPriceCents)
		assert.Equal(t, plans.VisibilityPublic, got.Visibility)
		assert.True(t, got.IsActive)

		all, err := store.GetAllPlans(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "basic", all[0].ID)
		assert.Equal(t, plans.VisibilityHidden, all[0].Visibility)

		pro.MonthlyPriceCents = 2499
		require.NoError(t, store.SavePlan(ctx, pro))
		got, err = store.GetPlanByID(ctx, "pro")
		require.NoError(t, err)
		assert.Equal(t, int64(2499), got.MonthlyPriceCents)

		require.NoError(t, store.DeprecatePlan(ctx, "pro"))
		got, err = store.GetPlanByID(ctx, "pro")
		require.NoError(t, err)
		assert.True(t, got.Deprecated)
		assert.False(t, got.Available())

		// A re-save without the flag keeps the plan deprecated
		pro.Deprecated = false
		pro.Name = "Pro 2"
		require.NoError(t, store.SavePlan(ctx, pro))
		assert.True(t, pro.Deprecated)
		got, err = store.GetPlanByID(ctx, "pro")
		require.NoError(t, err)
		assert.True(t, got.Deprecated)
		assert.Equal(t, "Pro 2", got.Name)

		assert.ErrorIs(t, store.DeprecatePlan(ctx, "missing"), plans.ErrPlanNotFound)
		assert.ErrorIs(t, store.SavePlan(ctx, &plans.Plan{ID: "x"}), plans.ErrInvalidPlan)
	})

	t.Run("users", func(t *testing.T) {
		store := NewUserStore(newDB(t))

		u, err := store.GetUserByID(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, u)

		user := &users.User{
			ID:             "u1",
			Name:           "Ada",
			Email:          "ada@example.com",
			BillingAddress: users.Address{Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"},
		}
		require.NoError(t, store.SaveUser(ctx, user))

		u, err = store.GetUserByID(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, u)
		assert.Equal(t, *user, *u)

		user.Email = "ada@example.org"
		require.NoError(t, store.SaveUser(ctx, user))
		u, err = store.GetUserByID(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "ada@example.org", u.Email)

		assert.ErrorIs(t, store.SaveUser(ctx, &users.User{}), users.ErrInvalidUser)
	})

	t.Run("orders", func(t *testing.T) {
		store := NewOrderStore(newDB(t))

		_, err := store.Get(ctx, "SUB-s1-2025-03")
		assert.ErrorIs(t, err, orders.ErrNotFound)

		order := &orders.Order{
			ID:     "SUB-s1-2025-03",
			UserID: "u1",
			Items: []orders.LineItem{{
				SKU: "plan-pro-monthly", Description: "Pro subscription (monthly) for March 2025",
				Quantity: 1, UnitPriceCents: 1999, TotalCents: 1999,
			}},
			SubtotalCents:  1999,
			TotalCents:     1999,
			Status:         orders.StatusPending,
			Payment:        orders.Payment{Method: "subscription_auto_renew", Status: "pending"},
			OrderType:      orders.TypeSubscription,
			SubscriptionID: "s1",
			CreatedAt:      febStart,
		}
		require.NoError(t, store.Create(ctx, order))
		assert.ErrorIs(t, store.Create(ctx, order), orders.ErrDuplicateOrder)

		got, err := store.Get(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, order.Items, got.Items)
		assert.Equal(t, "s1", got.SubscriptionID)
		assert.True(t, got.CreatedAt.Equal(febStart))

		standard := &orders.Order{ID: "ORD-1", UserID: "u2", Status: orders.StatusPaid,
			OrderType: orders.TypeStandard, CreatedAt: marStart}
		require.NoError(t, store.Create(ctx, standard))

		all, err := store.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, order.ID, all[0].ID)
		assert.Equal(t, "ORD-1", all[1].ID)
	})

	t.Run("subscriptions", func(t *testing.T) {
		store := NewSubscriptionStore(newDB(t))

		_, err := store.Get(ctx, "s1")
		assert.ErrorIs(t, err, subscriptions.ErrNotFound)

		none, err := store.GetActiveForUser(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, none)

		require.NoError(t, store.Create(ctx, testSubscription("s1", "u1", "basic")))
		err = store.Create(ctx, testSubscription("s2", "u1", "pro"))
		assert.ErrorIs(t, err, subscriptions.ErrActiveExists)
		err = store.Create(ctx, testSubscription("s1", "u9", "pro"))
		assert.ErrorIs(t, err, subscriptions.ErrInvalidSubscription)

		manual := testSubscription("s3", "u3", "pro")
		manual.AutoRenew = false
		manual.CurrentPeriodEnd = aprStart
		require.NoError(t, store.Create(ctx, manual))

		active, err := store.GetActiveForUser(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, "s1", active.ID)
		assert.Equal(t, subscriptions.StatusActive, active.Status)
		assert.True(t, active.CurrentPeriodEnd.Equal(marStart))
		assert.False(t, active.HasPendingChange())

		billable, err := store.FindActiveAutoRenewing(ctx)
		require.NoError(t, err)
		require.Len(t, billable, 1)
		assert.Equal(t, "s1", billable[0].ID)

		ending, err := store.FindActiveEndingBy(ctx, marStart)
		require.NoError(t, err)
		require.Len(t, ending, 1)
		assert.Equal(t, "s1", ending[0].ID)

		require.NoError(t, store.SchedulePlanChange(ctx, "s1", "pro", marStart))
		got, err := store.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "pro", got.PendingPlanID)
		require.NotNil(t, got.PendingChangeAt)
		assert.True(t, got.PendingChangeAt.Equal(marStart))

		require.NoError(t, store.ClearPlanChange(ctx, "s1"))
		got, err = store.Get(ctx, "s1")
		require.NoError(t, err)
		assert.False(t, got.HasPendingChange())
		assert.Nil(t, got.PendingChangeAt)
		require.NoError(t, store.SchedulePlanChange(ctx, "s1", "pro", marStart))

		n, err := store.CountActiveForPlan(ctx, "pro")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		require.NoError(t, store.Renew(ctx, "s1", "pro", marStart, aprStart))
		got, err = store.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "pro", got.PlanID)
		assert.True(t, got.CurrentPeriodStart.Equal(marStart))
		assert.True(t, got.CurrentPeriodEnd.Equal(aprStart))
		assert.False(t, got.HasPendingChange())
		assert.Nil(t, got.PendingChangeAt)

		listed, err := store.List(ctx, subscriptions.Filter{PlanID: "pro"})
		require.NoError(t, err)
		require.Len(t, listed, 2)
		assert.Equal(t, "s1", listed[0].ID)
		assert.Equal(t, "s3", listed[1].ID)

		require.NoError(t, store.SetAutoRenew(ctx, "s1", false))
		require.NoError(t, store.Cancel(ctx, "s1", marStart))
		got, err = store.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, subscriptions.StatusCanceled, got.Status)
		require.NotNil(t, got.CanceledAt)
		assert.True(t, got.CanceledAt.Equal(marStart))

		assert.ErrorIs(t, store.Cancel(ctx, "s1", marStart), subscriptions.ErrNotActive)
		assert.ErrorIs(t, store.SetAutoRenew(ctx, "missing", true), subscriptions.ErrNotFound)

		// a canceled subscription frees the user for a new one
		require.NoError(t, store.Create(ctx, testSubscription("s4", "u1", "basic")))
		canceled, err := store.List(ctx, subscriptions.Filter{UserID: "u1", Status: subscriptions.StatusCanceled})
		require.NoError(t, err)
		require.Len(t, canceled, 1)
		assert.Equal(t, "s1", canceled[0].ID)
	})

	t.Run("pending ledger", func(t *testing.T) {
		store := NewPendingLedger(newDB(t))

		_, err := store.Get(ctx, "s1", marStart)
		assert.ErrorIs(t, err, ledger.ErrNotFound)

		record := func(subID string, due time.Time, status ledger.PendingStatus) *ledger.PendingOrder {
			return &ledger.PendingOrder{SubscriptionID: subID, UserID: "u-" + subID, PlanID: "pro",
				PlanName: "Pro", AmountCents: 1999, Term: plans.TermMonthly, DueDate: due, Status: status}
		}

		failed := record("s2", marStart, ledger.PendingStatusFailed)
		failed.Error = "user not found"
		require.NoError(t, store.Save(ctx, failed))

		retried := record("s2", marStart, ledger.PendingStatusGenerated)
		retried.OrderID = "SUB-s2-2025-03"
		require.NoError(t, store.Save(ctx, retried))

		got, err := store.Get(ctx, "s2", marStart)
		require.NoError(t, err)
		assert.Equal(t, ledger.PendingStatusGenerated, got.Status)
		assert.Equal(t, "SUB-s2-2025-03", got.OrderID)
		assert.Empty(t, got.Error)
		assert.True(t, got.DueDate.Equal(marStart))

		again := record("s2", marStart, ledger.PendingStatusFailed)
		assert.ErrorIs(t, store.Save(ctx, again), ledger.ErrAlreadyGenerated)

		require.NoError(t, store.Save(ctx, record("s1", marStart, ledger.PendingStatusGenerated)))
		require.NoError(t, store.Save(ctx, record("s1", aprStart, ledger.PendingStatusPending)))

		march, err := store.ListByDueDate(ctx, marStart)
		require.NoError(t, err)
		require.Len(t, march, 2)
		assert.Equal(t, "s1", march[0].SubscriptionID)
		assert.Equal(t, "s2", march[1].SubscriptionID)

		all, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.True(t, all[2].DueDate.Equal(aprStart))

		assert.ErrorIs(t, store.Save(ctx, &ledger.PendingOrder{Status: ledger.PendingStatusPending}), ledger.ErrInvalidRecord)
	})

	t.Run("plan history", func(t *testing.T) {
		store := NewHistoryLedger(newDB(t))

		empty, err := store.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, empty)

		change := func(id, userID string, at time.Time) *ledger.PlanChange {
			return &ledger.PlanChange{ID: id, UserID: userID, SubscriptionID: "s-" + userID,
				FromPlanID: "basic", FromPlanName: "Basic", ToPlanID: "pro", ToPlanName: "Pro",
				ChangeType: ledger.ChangeTypeUpgrade, ChangedAt: at, EffectiveAt: at,
				PreviousPriceCents: 999, NewPriceCents: 1999, Term: plans.TermMonthly,
				PriceBasis: ledger.PriceBasisTerm}
		}

		require.NoError(t, store.Append(ctx, change("chg-u1-2", "u1", marStart)))
		require.NoError(t, store.Append(ctx, change("chg-u1-1", "u1", febStart)))
		require.NoError(t, store.Append(ctx, change("chg-u2-1", "u2", febStart)))
		assert.ErrorIs(t, store.Append(ctx, change("chg-u2-1", "u2", febStart)), ledger.ErrInvalidRecord)
		assert.ErrorIs(t, store.Append(ctx, change("", "u2", febStart)), ledger.ErrInvalidRecord)

		all, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "chg-u1-1", all[0].ID)
		assert.Equal(t, "chg-u2-1", all[1].ID)
		assert.Equal(t, "chg-u1-2", all[2].ID)
		assert.Equal(t, ledger.PriceBasisTerm, all[0].PriceBasis)

		mine, err := store.ListForUser(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.True(t, mine[1].ChangedAt.Equal(marStart))
	})
}
