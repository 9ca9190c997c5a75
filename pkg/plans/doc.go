// Package plans provides the subscription plan catalog.
//
// # Overview
//
// Plans carry per-term pricing (monthly and annual), a loyalty multiplier and
// display metadata. Plans are never deleted; retiring a plan marks it deprecated.
//
// # Pricing
//
// All prices are integer cents:
//
//	plan := &plans.Plan{ID: "basic", MonthlyPriceCents: 1999, AnnualPriceCents: 19999}
//	plan.PriceForTerm(plans.TermAnnual) // 19999
//
// # Seeding
//
// A catalog can be seeded from a YAML file and kept in sync while it changes:
//
//	seeded, err := plans.LoadFile("plans.yaml")
//	err = plans.Seed(ctx, store, seeded)
//
//	watcher, err := plans.NewWatcher("plans.yaml", store, logger)
//	go watcher.Run(ctx)
//
// # Caching
//
// CachedCatalog puts an expiring LRU in front of any Store:
//
//	catalog := plans.NewCachedCatalog(store, 256, time.Minute)
//
// # Related Packages
//
//   - pkg/subscriptions: Subscriptions reference plans by ID
//   - pkg/billing: Resolves plans when generating orders
package plans
