package billing

import (
	"context"
	"testing"
	"time"

	"github.com/platinummonkey/subbill/pkg/ledger"
	"github.com/platinummonkey/subbill/pkg/lock"
	"github.com/platinummonkey/subbill/pkg/orders"
	"github.com/platinummonkey/subbill/pkg/plans"
	"github.com/platinummonkey/subbill/pkg/subscriptions"
	"github.com/platinummonkey/subbill/pkg/users"
	"github.com/stretchr/testify/require"
)

var (
	fixedNow = time.Date(2025, 2, 15, 10, 30, 0, 0, time.UTC)
	marchDue = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
)

func clock() time.Time { return fixedNow }

func catalogPlans() []*plans.Plan {
	return []*plans.Plan{
		{ID: "basic", Name: "Basic", MonthlyPriceCents: 999, AnnualPriceCents: 9990, LoyaltyMultiplier: 1, DisplayOrder: 1, Visibility: plans.VisibilityPublic, IsActive: true},
		{ID: "pro", Name: "Pro", MonthlyPriceCents: 1999, AnnualPriceCents: 19990, LoyaltyMultiplier: 1, DisplayOrder: 2, Visibility: plans.VisibilityPublic, IsActive: true},
		{ID: "lite", Name: "Lite", MonthlyPriceCents: 499, AnnualPriceCents: 4990, LoyaltyMultiplier: 1, DisplayOrder: 0, Visibility: plans.VisibilityPublic, IsActive: true},
		{ID: "basic-plus", Name: "Basic Plus", MonthlyPriceCents: 999, AnnualPriceCents: 8990, LoyaltyMultiplier: 1, DisplayOrder: 3, Visibility: plans.VisibilityPublic, IsActive: true},
		{ID: "legacy", Name: "Legacy", MonthlyPriceCents: 1499, AnnualPriceCents: 14990, LoyaltyMultiplier: 1, DisplayOrder: 9, Visibility: plans.VisibilityHidden, IsActive: true, Deprecated: true},
	}
}

type harness struct {
	plans   *plans.MemoryStore
	subs    *subscriptions.MemoryStore
	users   *users.MemoryDirectory
	sink    *orders.MemorySink
	ledger  *ledger.MemoryLedger
	locker  *lock.MemoryLocker
	history ledger.HistoryStore
}

func newHarness(t testing.TB) *harness {
	t.Helper()
	l := ledger.NewMemoryLedger()
	return &harness{
		plans:   plans.NewMemoryStore(catalogPlans()...),
		subs:    subscriptions.NewMemoryStore(),
		users:   users.NewMemoryDirectory(),
		sink:    orders.NewMemorySink(),
		ledger:  l,
		locker:  lock.NewMemoryLocker(),
		history: l.History(),
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Subscriptions: h.subs,
		Plans:         h.plans,
		Users:         h.users,
		Orders:        h.sink,
		Ledger:        h.ledger,
		Locker:        h.locker,
	}
}

func (h *harness) generator(opts ...GeneratorOption) *Generator {
	return NewGenerator(h.deps(), append([]GeneratorOption{WithClock(clock)}, opts...)...)
}

// addSubscriber creates a user and an active subscription for them
func (h *harness) addSubscriber(t testing.TB, subID, userID, planID string, term plans.Term, autoRenew bool) *subscriptions.Subscription {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, h.users.SaveUser(ctx, &users.User{
		ID:    userID,
		Name:  "User " + userID,
		Email: userID + "@example.com",
		BillingAddress: users.Address{
			Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US",
		},
	}))

	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	sub := &subscriptions.Subscription{
		ID:                 subID,
		UserID:             userID,
		PlanID:             planID,
		Term:               term,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   subscriptions.NextPeriodEnd(term, start),
		AppliedMultiplier:  1,
		AutoRenew:          autoRenew,
	}
	require.NoError(t, h.subs.Create(ctx, sub))
	return sub
}
