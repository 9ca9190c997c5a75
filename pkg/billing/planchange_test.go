package billing

import (
	"context"
	"testing"

	"github.com/platinummonkey/subbill/pkg/ledger"
	"github.com/platinummonkey/subbill/pkg/observability"
	"github.com/platinummonkey/subbill/pkg/plans"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyChange(t *testing.T) {
	tests := []struct {
		name    string
		current int64
		next    int64
		want    ledger.ChangeType
	}{
		{"higher price is upgrade", 999, 1999, ledger.ChangeTypeUpgrade},
		{"lower price is downgrade", 999, 499, ledger.ChangeTypeDowngrade},
		{"equal price is downgrade", 999, 999, ledger.ChangeTypeDowngrade},
		{"one cent more is upgrade", 999, 1000, ledger.ChangeTypeUpgrade},
		{"free to paid is upgrade", 0, 1, ledger.ChangeTypeUpgrade},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyChange(tt.current, tt.next))
		})
	}
}

func newChanger(h *harness, basis ledger.PriceBasis, metrics *observability.Metrics) *PlanChanger {
	recorder := NewPlanChangeRecorder(h.history, nil)
	c := NewPlanChanger(h.subs, h.plans, recorder, basis, nil, metrics)
	c.now = clock
	return c
}

func TestChangePlan_SchedulesForPeriodEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sub := h.addSubscriber(t, "s1", "u1", "basic", plans.TermMonthly, true)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	record, err := newChanger(h, ledger.PriceBasisTerm, metrics).ChangePlan(ctx, "u1", "pro")
	require.NoError(t, err)

	assert.Equal(t, ledger.ChangeTypeUpgrade, record.ChangeType)
	assert.Equal(t, "basic", record.FromPlanID)
	assert.Equal(t, "Pro", record.ToPlanName)
	assert.Equal(t, int64(999), record.PreviousPriceCents)
	assert.Equal(t, int64(1999), record.NewPriceCents)
	assert.True(t, record.EffectiveAt.Equal(sub.CurrentPeriodEnd))
	assert.True(t, record.ChangedAt.Equal(fixedNow))
	assert.Equal(t, ledger.PriceBasisTerm, record.PriceBasis)

	// The plan itself is untouched until renewal
	got, err := h.subs.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "basic", got.PlanID)
	assert.Equal(t, "pro", got.PendingPlanID)
	require.NotNil(t, got.PendingChangeAt)
	assert.True(t, got.PendingChangeAt.Equal(sub.CurrentPeriodEnd))

	history, err := h.history.ListForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, record.ID, history[0].ID)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PlanChangesTotal.WithLabelValues("upgrade")))
}

func TestChangePlan_Classification(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   ledger.ChangeType
	}{
		{"cheaper target", "lite", ledger.ChangeTypeDowngrade},
		{"same monthly price", "basic-plus", ledger.ChangeTypeDowngrade},
		{"pricier target", "pro", ledger.ChangeTypeUpgrade},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.addSubscriber(t, "s1", "u1", "basic", plans.TermMonthly, true)

			record, err := newChanger(h, ledger.PriceBasisTerm, nil).ChangePlan(context.Background(), "u1", tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, record.ChangeType)
		})
	}
}

func TestChangePlan_PriceBasis(t *testing.T) {
	// basic -> basic-plus: equal monthly price, cheaper annual price
	t.Run("term basis uses annual prices for annual subscribers", func(t *testing.T) {
		h := newHarness(t)
		h.addSubscriber(t, "s1", "u1", "basic", plans.TermAnnual, true)

		record, err := newChanger(h, ledger.PriceBasisTerm, nil).ChangePlan(context.Background(), "u1", "basic-plus")
		require.NoError(t, err)
		assert.Equal(t, int64(9990), record.PreviousPriceCents)
		assert.Equal(t, int64(8990), record.NewPriceCents)
		assert.Equal(t, ledger.ChangeTypeDowngrade, record.ChangeType)
		assert.Equal(t, plans.TermAnnual, record.Term)
	})

	t.Run("monthly basis ignores term", func(t *testing.T) {
		h := newHarness(t)
		h.addSubscriber(t, "s1", "u1", "basic", plans.TermAnnual, true)

		record, err := newChanger(h, ledger.PriceBasisMonthly, nil).ChangePlan(context.Background(), "u1", "pro")
		require.NoError(t, err)
		assert.Equal(t, int64(999), record.PreviousPriceCents)
		assert.Equal(t, int64(1999), record.NewPriceCents)
		assert.Equal(t, ledger.PriceBasisMonthly, record.PriceBasis)
	})

	t.Run("monthly basis still classifies on term prices", func(t *testing.T) {
		// flex is cheaper per month but dearer per year than basic
		h := newHarness(t)
		require.NoError(t, h.plans.SavePlan(context.Background(), &plans.Plan{
			ID: "flex", Name: "Flex", MonthlyPriceCents: 900, AnnualPriceCents: 12000,
			LoyaltyMultiplier: 1, DisplayOrder: 4, Visibility: plans.VisibilityPublic, IsActive: true,
		}))
		h.addSubscriber(t, "s1", "u1", "basic", plans.TermAnnual, true)

		record, err := newChanger(h, ledger.PriceBasisMonthly, nil).ChangePlan(context.Background(), "u1", "flex")
		require.NoError(t, err)
		assert.Equal(t, ledger.ChangeTypeUpgrade, record.ChangeType)
		assert.Equal(t, int64(999), record.PreviousPriceCents)
		assert.Equal(t, int64(900), record.NewPriceCents)
	})

	t.Run("invalid basis defaults to term", func(t *testing.T) {
		h := newHarness(t)
		h.addSubscriber(t, "s1", "u1", "basic", plans.TermAnnual, true)

		record, err := newChanger(h, "weird", nil).ChangePlan(context.Background(), "u1", "pro")
		require.NoError(t, err)
		assert.Equal(t, int64(19990), record.NewPriceCents)
		assert.Equal(t, ledger.PriceBasisTerm, record.PriceBasis)
	})
}

func TestChangePlan_Errors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addSubscriber(t, "s1", "u1", "basic", plans.TermMonthly, true)
	changer := newChanger(h, ledger.PriceBasisTerm, nil)

	_, err := changer.ChangePlan(ctx, "nobody", "pro")
	assert.ErrorIs(t, err, ErrNoActiveSubscription)

	_, err = changer.ChangePlan(ctx, "u1", "basic")
	assert.ErrorIs(t, err, ErrSamePlan)

	_, err = changer.ChangePlan(ctx, "u1", "enterprise")
	assert.ErrorIs(t, err, plans.ErrPlanNotFound)

	_, err = changer.ChangePlan(ctx, "u1", "legacy")
	assert.ErrorIs(t, err, ErrPlanUnavailable)

	_, err = changer.ChangePlan(ctx, "u1", "pro")
	require.NoError(t, err)
	_, err = changer.ChangePlan(ctx, "u1", "pro")
	assert.ErrorIs(t, err, ErrChangeAlreadyScheduled)

	// Nothing beyond the one successful change was written
	history, _ := h.history.List(ctx)
	assert.Len(t, history, 1)
}

func TestChangePlan_ReplacesPendingChange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addSubscriber(t, "s1", "u1", "basic", plans.TermMonthly, true)
	changer := newChanger(h, ledger.PriceBasisTerm, nil)

	_, err := changer.ChangePlan(ctx, "u1", "pro")
	require.NoError(t, err)
	record, err := changer.ChangePlan(ctx, "u1", "lite")
	require.NoError(t, err)
	assert.Equal(t, ledger.ChangeTypeDowngrade, record.ChangeType)

	got, _ := h.subs.Get(ctx, "s1")
	assert.Equal(t, "lite", got.PendingPlanID)

	history, _ := h.history.ListForUser(ctx, "u1")
	assert.Len(t, history, 2)
}

func TestChangePlan_AuditFailureRestoresSchedule(t *testing.T) {
	ctx := context.Background()

	t.Run("no prior change", func(t *testing.T) {
		h := newHarness(t)
		h.addSubscriber(t, "s1", "u1", "basic", plans.TermMonthly, true)
		changer := NewPlanChanger(h.subs, h.plans, NewPlanChangeRecorder(brokenHistory{}, nil), ledger.PriceBasisTerm, nil, nil)

		_, err := changer.ChangePlan(ctx, "u1", "pro")
		assert.ErrorContains(t, err, "read-only filesystem")

		got, err := h.subs.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Empty(t, got.PendingPlanID)
		assert.Nil(t, got.PendingChangeAt)

		// A retry against a working ledger is not blocked
		record, err := newChanger(h, ledger.PriceBasisTerm, nil).ChangePlan(ctx, "u1", "pro")
		require.NoError(t, err)
		assert.Equal(t, "pro", record.ToPlanID)
	})

	t.Run("prior change kept", func(t *testing.T) {
		h := newHarness(t)
		sub := h.addSubscriber(t, "s1", "u1", "basic", plans.TermMonthly, true)
		_, err := newChanger(h, ledger.PriceBasisTerm, nil).ChangePlan(ctx, "u1", "lite")
		require.NoError(t, err)

		changer := NewPlanChanger(h.subs, h.plans, NewPlanChangeRecorder(brokenHistory{}, nil), ledger.PriceBasisTerm, nil, nil)
		_, err = changer.ChangePlan(ctx, "u1", "pro")
		require.Error(t, err)

		got, err := h.subs.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "lite", got.PendingPlanID)
		require.NotNil(t, got.PendingChangeAt)
		assert.True(t, got.PendingChangeAt.Equal(sub.CurrentPeriodEnd))
	})
}
