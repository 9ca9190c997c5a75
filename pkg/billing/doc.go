// Package billing generates monthly subscription orders and manages plan changes.
//
// # Overview
//
// Generator produces exactly one order per active auto-renewing subscription
// for the next billing cycle (the first day of the next calendar month, UTC).
// Repeated runs are safe: the pending-order ledger records a generated entry
// per (subscription, due date) and those subscriptions are skipped. Failed
// attempts are retried on the next run.
//
// Only one run per cycle executes at a time. A concurrent run receives
// ErrGenerationInProgress.
//
// PlanChanger schedules upgrades and downgrades for the end of the current
// period and writes an audit record through PlanChangeRecorder immediately.
// Renewer rolls subscriptions into their next period and applies scheduled
// plan changes.
//
// # Usage Example
//
//	gen := billing.NewGenerator(billing.Deps{
//		Subscriptions: subStore,
//		Plans:         catalog,
//		Users:         directory,
//		Orders:        sink,
//		Ledger:        pending,
//		Locker:        lock.NewMemoryLocker(),
//	}, billing.WithLogger(logger))
//
//	result, err := gen.GenerateMonthlyOrders(ctx)
//	if errors.Is(err, billing.ErrGenerationInProgress) {
//		// another run owns this cycle
//	}
//	fmt.Printf("generated=%d failed=%d skipped=%d\n", result.Success, result.Failed, result.Skipped)
//
// # Amounts
//
// Monthly subscriptions are billed the plan's monthly price. Annual
// subscriptions are billed the full annual price as one line item.
// All amounts are integer cents.
//
// # Related Packages
//
//   - pkg/ledger: Pending-order and plan-history records
//   - pkg/lock: Per-cycle generation lock
//   - pkg/archive: Run report archival
package billing
