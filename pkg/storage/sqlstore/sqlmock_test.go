package sqlstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/platinummonkey/subbill/pkg/ledger"
	"github.com/platinummonkey/subbill/pkg/observability"
	"github.com/platinummonkey/subbill/pkg/orders"
	"github.com/platinummonkey/subbill/pkg/plans"
	"github.com/platinummonkey/subbill/pkg/subscriptions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock, *observability.Metrics) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return New(sqlDB, DialectPostgres).WithMetrics(metrics), mock, metrics
}

func TestPendingLedger_SaveGeneratedConflict(t *testing.T) {
	db, mock, _ := newMockDB(t)
	store := NewPendingLedger(db)

	mock.ExpectExec(regexp.QuoteMeta("WHERE pending_orders.status <> 'generated'")).
		WithArgs("s1", "2025-03-01", "u1", "pro", "Pro", int64(1999), "monthly", "failed", "", "boom",
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Save(context.Background(), &ledger.PendingOrder{
		SubscriptionID: "s1", UserID: "u1", PlanID: "pro", PlanName: "Pro", AmountCents: 1999,
		Term: plans.TermMonthly, DueDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Status: ledger.PendingStatusFailed, Error: "boom",
	})
	assert.ErrorIs(t, err, ledger.ErrAlreadyGenerated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingLedger_GetQueryError(t *testing.T) {
	db, mock, metrics := newMockDB(t)
	store := NewPendingLedger(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM pending_orders WHERE subscription_id = $1 AND due_date = $2")).
		WithArgs("s1", "2025-03-01").
		WillReturnError(errors.New("connection reset"))

	_, err := store.Get(context.Background(), "s1", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ledger.ErrNotFound)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StorageErrorsTotal.WithLabelValues("get_pending_order", "postgres")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionStore_CreateUniqueViolation(t *testing.T) {
	db, mock, _ := newMockDB(t)
	store := NewSubscriptionStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM subscriptions WHERE id = $1")).
		WithArgs("s2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM subscriptions WHERE user_id = $1 AND status = $2")).
		WithArgs("u1", "active").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO subscriptions").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err := store.Create(context.Background(), testSubscription("s2", "u1", "pro"))
	assert.ErrorIs(t, err, subscriptions.ErrActiveExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionStore_MutateDistinguishesMissing(t *testing.T) {
	db, mock, _ := newMockDB(t)
	store := NewSubscriptionStore(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscriptions SET auto_renew = $1, updated_at = $2 WHERE id = $3 AND status = $4")).
		WithArgs(false, sqlmock.AnyArg(), "s1", "active").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE id = $1")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := store.SetAutoRenew(context.Background(), "s1", false)
	assert.ErrorIs(t, err, subscriptions.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStore_DuplicateFromPostgres(t *testing.T) {
	db, mock, _ := newMockDB(t)
	store := NewOrderStore(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.Create(context.Background(), &orders.Order{ID: "SUB-s1-2025-03", UserID: "u1"})
	assert.ErrorIs(t, err, orders.ErrDuplicateOrder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("other")))
	assert.False(t, isUniqueViolation(nil))
}
