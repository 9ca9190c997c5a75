package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/subbill/pkg/ledger"
	"github.com/platinummonkey/subbill/pkg/lock"
	"github.com/platinummonkey/subbill/pkg/observability"
	"github.com/platinummonkey/subbill/pkg/orders"
	"github.com/platinummonkey/subbill/pkg/plans"
	"github.com/platinummonkey/subbill/pkg/subscriptions"
	"github.com/platinummonkey/subbill/pkg/users"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/platinummonkey/subbill/pkg/billing"

// DefaultLockTTL bounds how long a crashed run can block its cycle. A live
// run extends its lease whenever half the TTL has passed.
const DefaultLockTTL = 30 * time.Minute

// Deps are the stores the generator reads and writes
type Deps struct {
	Subscriptions subscriptions.Store
	Plans         plans.Catalog
	Users         users.Directory
	Orders        orders.Sink
	Ledger        ledger.PendingStore
	Locker        lock.Locker
}

// ReportSink receives the result of every completed run
type ReportSink interface {
	ArchiveRun(ctx context.Context, result *GenerationResult) error
}

// Failure describes one subscription that could not be billed
type Failure struct {
	SubscriptionID string `json:"subscription_id"`
	UserID         string `json:"user_id,omitempty"`
	Reason         string `json:"reason"`
}

// GenerationResult summarizes a generation run
type GenerationResult struct {
	Success    int             `json:"success"`
	Failed     int             `json:"failed"`
	Skipped    int             `json:"skipped"`
	DueDate    time.Time       `json:"due_date"`
	Orders     []*orders.Order `json:"orders"`
	Failures   []Failure       `json:"failures,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Outcome classifies the run for metrics
func (r *GenerationResult) Outcome() string {
	switch {
	case r.Failed == 0:
		return "success"
	case r.Success > 0:
		return "partial"
	default:
		return "failed"
	}
}

// Generator creates the monthly subscription orders
type Generator struct {
	deps    Deps
	logger  *observability.Logger
	metrics *observability.Metrics
	reports ReportSink
	tracer  trace.Tracer
	now     func() time.Time
	lockTTL time.Duration
}

// GeneratorOption configures a Generator
type GeneratorOption func(*Generator)

// WithLogger sets the generator's logger
func WithLogger(logger *observability.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = logger }
}

// WithMetrics records run metrics
func WithMetrics(metrics *observability.Metrics) GeneratorOption {
	return func(g *Generator) { g.metrics = metrics }
}

// WithReportSink archives each run's result
func WithReportSink(sink ReportSink) GeneratorOption {
	return func(g *Generator) { g.reports = sink }
}

// WithClock overrides the wall clock
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// WithLockTTL overrides DefaultLockTTL
func WithLockTTL(ttl time.Duration) GeneratorOption {
	return func(g *Generator) { g.lockTTL = ttl }
}

// NewGenerator creates a Generator
func NewGenerator(deps Deps, opts ...GeneratorOption) *Generator {
	g := &Generator{
		deps:    deps,
		logger:  observability.NopLogger(),
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
		lockTTL: DefaultLockTTL,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.deps.Locker == nil {
		g.deps.Locker = lock.NewMemoryLocker()
	}
	return g
}

// GenerateMonthlyOrders bills every active auto-renewing subscription for the
// next cycle. Per-subscription problems are reported in the result; an error
// is returned only when the run could not proceed.
func (g *Generator) GenerateMonthlyOrders(ctx context.Context) (*GenerationResult, error) {
	start := g.now()
	dueDate := NextBillingCycle(start)
	dueKey := ledger.DateKey(dueDate)

	ctx, span := g.tracer.Start(ctx, "billing.GenerateMonthlyOrders",
		trace.WithAttributes(attribute.String("billing.due_date", dueKey)))
	defer span.End()

	logger := observability.LoggerWithTraceContext(ctx, g.logger).WithField("due_date", dueKey)
	if actor := observability.GetActor(ctx); actor != "" {
		logger = logger.WithField("actor", actor)
	}

	lease, err := g.deps.Locker.Acquire(ctx, LockKey(dueDate), g.lockTTL)
	if errors.Is(err, lock.ErrLocked) {
		g.recordRun("rejected")
		logger.Warn("order generation already running for cycle")
		span.SetStatus(codes.Error, "in progress")
		return nil, ErrGenerationInProgress
	}
	if err != nil {
		g.recordRun("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock")
		return nil, fmt.Errorf("failed to acquire generation lock: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.WithError(err).Warn("failed to release generation lock")
		}
	}()

	subs, err := g.deps.Subscriptions.FindActiveAutoRenewing(ctx)
	if err != nil {
		g.recordRun("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "list subscriptions")
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}

	logger.WithField("subscriptions", len(subs)).Info("starting monthly order generation")

	result := &GenerationResult{
		DueDate:   dueDate,
		Orders:    []*orders.Order{},
		StartedAt: start,
	}

	renewedAt := start
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			result.FinishedAt = g.now()
			g.recordRun("error")
			logger.WithError(err).Warn("order generation interrupted")
			return result, fmt.Errorf("order generation interrupted: %w", err)
		}
		if now := g.now(); g.lockTTL > 0 && now.Sub(renewedAt) >= g.lockTTL/2 {
			if err := g.extendLease(ctx, lease); err != nil {
				result.FinishedAt = now
				g.recordRun("error")
				span.RecordError(err)
				span.SetStatus(codes.Error, "lock")
				logger.WithError(err).Error("order generation stopped, cycle lock lost")
				return result, err
			}
			renewedAt = now
		}
		if err := g.processSubscription(ctx, logger, sub, dueDate, result); err != nil {
			result.FinishedAt = g.now()
			g.recordRun("error")
			span.RecordError(err)
			span.SetStatus(codes.Error, "ledger")
			return result, err
		}
	}

	result.FinishedAt = g.now()
	span.SetAttributes(
		attribute.Int("billing.success", result.Success),
		attribute.Int("billing.failed", result.Failed),
		attribute.Int("billing.skipped", result.Skipped),
	)

	if g.metrics != nil {
		g.metrics.GenerationDuration.Observe(result.FinishedAt.Sub(start).Seconds())
		g.metrics.LastGenerationTimestamp.Set(float64(result.FinishedAt.Unix()))
	}
	g.recordRun(result.Outcome())

	entry := logger.WithFields(map[string]interface{}{
		"success": result.Success,
		"failed":  result.Failed,
		"skipped": result.Skipped,
	})
	if result.Failed > 0 {
		entry.Warn("monthly order generation finished with failures")
	} else {
		entry.Info("monthly order generation finished")
	}

	if g.reports != nil {
		if err := g.reports.ArchiveRun(ctx, result); err != nil {
			logger.WithError(err).Error("failed to archive generation report")
		}
	}

	return result, nil
}

func (g *Generator) extendLease(ctx context.Context, lease *lock.Lease) error {
	err := lease.Extend(ctx, g.lockTTL)
	if errors.Is(err, lock.ErrNotHeld) {
		return fmt.Errorf("%w: %s", ErrLeaseLost, lease.Key)
	}
	if err != nil {
		return fmt.Errorf("failed to extend generation lock: %w", err)
	}
	return nil
}

// processSubscription bills one subscription, recording the outcome in result.
// The returned error is systemic and aborts the run.
func (g *Generator) processSubscription(ctx context.Context, logger *observability.Logger, sub *subscriptions.Subscription, dueDate time.Time, result *GenerationResult) error {
	logger = logger.WithFields(map[string]interface{}{
		"subscription_id": sub.ID,
		"user_id":         sub.UserID,
	})

	existing, err := g.deps.Ledger.Get(ctx, sub.ID, dueDate)
	switch {
	case err == nil && existing.Generated():
		result.Skipped++
		g.recordOrder("skipped")
		return nil
	case err != nil && !errors.Is(err, ledger.ErrNotFound):
		return fmt.Errorf("failed to read pending order ledger: %w", err)
	}

	record := &ledger.PendingOrder{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		PlanID:         sub.PlanID,
		Term:           sub.Term,
		DueDate:        dueDate,
		Status:         ledger.PendingStatusPending,
	}

	plan, err := g.deps.Plans.GetPlanByID(ctx, sub.PlanID)
	if err != nil {
		g.fail(ctx, logger, result, record, fmt.Sprintf("plan %s not found: %v", sub.PlanID, err))
		return nil
	}
	record.PlanName = plan.Name
	record.AmountCents = plan.PriceForTerm(sub.Term)

	user, err := g.deps.Users.GetUserByID(ctx, sub.UserID)
	if err != nil {
		g.fail(ctx, logger, result, record, fmt.Sprintf("user lookup failed: %v", err))
		return nil
	}
	if user == nil {
		g.fail(ctx, logger, result, record, fmt.Sprintf("user %s not found", sub.UserID))
		return nil
	}

	order := buildOrder(sub, plan, user, dueDate, g.now())
	record.OrderID = order.ID

	// A previous run may have created the order but failed to record it
	if _, err := g.deps.Orders.Get(ctx, order.ID); err == nil {
		record.Status = ledger.PendingStatusGenerated
		if err := g.deps.Ledger.Save(ctx, record); err != nil {
			g.fail(ctx, logger, result, record, fmt.Sprintf("failed to reconcile ledger: %v", err))
			return nil
		}
		logger.WithField("order_id", order.ID).Info("order already present in sink, ledger reconciled")
		result.Skipped++
		g.recordOrder("skipped")
		return nil
	}

	if err := g.deps.Orders.Create(ctx, order); err != nil {
		g.fail(ctx, logger, result, record, fmt.Sprintf("order creation failed: %v", err))
		return nil
	}

	record.Status = ledger.PendingStatusGenerated
	if err := g.deps.Ledger.Save(ctx, record); err != nil {
		g.fail(ctx, logger, result, record, fmt.Sprintf("order %s created but ledger write failed: %v", order.ID, err))
		return nil
	}

	result.Success++
	result.Orders = append(result.Orders, order)
	g.recordOrder("generated")
	logger.WithFields(map[string]interface{}{
		"order_id":     order.ID,
		"amount_cents": order.TotalCents,
	}).Debug("subscription order generated")
	return nil
}

func (g *Generator) fail(ctx context.Context, logger *observability.Logger, result *GenerationResult, record *ledger.PendingOrder, reason string) {
	result.Failed++
	result.Failures = append(result.Failures, Failure{
		SubscriptionID: record.SubscriptionID,
		UserID:         record.UserID,
		Reason:         reason,
	})
	g.recordOrder("failed")
	logger.WithField("reason", reason).Warn("subscription order failed")

	record.Status = ledger.PendingStatusFailed
	record.Error = reason
	if err := g.deps.Ledger.Save(ctx, record); err != nil {
		logger.WithError(err).Error("failed to record failed pending order")
	}
}

func buildOrder(sub *subscriptions.Subscription, plan *plans.Plan, user *users.User, dueDate, now time.Time) *orders.Order {
	amount := plan.PriceForTerm(sub.Term)
	return &orders.Order{
		ID:     OrderID(sub.ID, dueDate),
		UserID: sub.UserID,
		Items: []orders.LineItem{{
			SKU:            fmt.Sprintf("plan-%s-%s", plan.ID, sub.Term),
			Description:    fmt.Sprintf("%s subscription (%s) for %s", plan.Name, sub.Term, dueDate.Format("January 2006")),
			Quantity:       1,
			UnitPriceCents: amount,
			TotalCents:     amount,
		}},
		SubtotalCents:  amount,
		TotalCents:     amount,
		Status:         orders.StatusPending,
		Customer:       orders.CustomerFromUser(user),
		Payment:        orders.Payment{Method: "subscription_auto_renew", Status: "pending"},
		OrderType:      orders.TypeSubscription,
		SubscriptionID: sub.ID,
		CreatedAt:      now,
	}
}

// GetPendingOrdersForNextMonth returns ledger entries for the next cycle.
// Read failures are logged and produce an empty list.
func (g *Generator) GetPendingOrdersForNextMonth(ctx context.Context) ([]*ledger.PendingOrder, error) {
	dueDate := NextBillingCycle(g.now())
	list, err := g.deps.Ledger.ListByDueDate(ctx, dueDate)
	if err != nil {
		g.logger.WithError(err).WithField("due_date", ledger.DateKey(dueDate)).Error("failed to read pending order ledger")
		return []*ledger.PendingOrder{}, nil
	}
	if list == nil {
		list = []*ledger.PendingOrder{}
	}
	return list, nil
}

func (g *Generator) recordRun(outcome string) {
	if g.metrics != nil {
		g.metrics.GenerationRunsTotal.WithLabelValues(outcome).Inc()
	}
}

func (g *Generator) recordOrder(result string) {
	if g.metrics != nil {
		g.metrics.SubscriptionOrdersTotal.WithLabelValues(result).Inc()
	}
}
