// Package app assembles the billing services from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/subbill/pkg/api"
	"github.com/platinummonkey/subbill/pkg/archive"
	"github.com/platinummonkey/subbill/pkg/billing"
	"github.com/platinummonkey/subbill/pkg/config"
	"github.com/platinummonkey/subbill/pkg/ledger"
	"github.com/platinummonkey/subbill/pkg/lock"
	"github.com/platinummonkey/subbill/pkg/middleware"
	"github.com/platinummonkey/subbill/pkg/observability"
	"github.com/platinummonkey/subbill/pkg/plans"
	"github.com/platinummonkey/subbill/pkg/storage/sqlstore"
)

// App holds the wired services and the resources backing them
type App struct {
	Services api.Services
	DB       *sqlstore.DB
	Redis    *redis.Client
	Catalog  *plans.CachedCatalog
	Watcher  *plans.Watcher
	// Limiter is nil when rate limiting is disabled
	Limiter middleware.Limiter

	logger  *observability.Logger
	closers []func() error
}

// New opens storage, seeds the plan catalog and builds every service.
// metrics may be nil.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (a *App, err error) {
	a = &App{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	db, err := sqlstore.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	db.WithMetrics(metrics)
	a.DB = db
	a.closers = append(a.closers, db.Close)

	if err := db.Migrate(ctx); err != nil {
		return nil, err
	}
	logger.WithField("driver", string(db.Dialect())).Info("storage ready")

	pending, history, err := a.openLedger(cfg.Ledger, db)
	if err != nil {
		return nil, err
	}

	locker, err := a.openLocker(ctx, cfg.Lock)
	if err != nil {
		return nil, err
	}

	planStore := sqlstore.NewPlanStore(db)
	subs := sqlstore.NewSubscriptionStore(db)
	userStore := sqlstore.NewUserStore(db)
	orderStore := sqlstore.NewOrderStore(db)

	a.Catalog = plans.NewCachedCatalog(planStore, cfg.Plans.CacheSize, cfg.Plans.CacheTTL)
	admin := billing.NewPlanAdmin(a.Catalog, subs, logger)

	if cfg.Plans.SeedFile != "" {
		seeded, err := plans.LoadFile(cfg.Plans.SeedFile)
		if err != nil {
			return nil, err
		}
		if err := plans.Seed(ctx, admin, seeded); err != nil {
			return nil, err
		}
		logger.WithFields(map[string]interface{}{
			"file":  cfg.Plans.SeedFile,
			"plans": len(seeded),
		}).Info("plan catalog seeded")

		if cfg.Plans.Watch {
			w, err := plans.NewWatcher(cfg.Plans.SeedFile, admin, logger)
			if err != nil {
				return nil, err
			}
			a.Watcher = w
		}
	}

	if cfg.Server.RateLimit.Enabled {
		a.Limiter = a.newLimiter(cfg.Server.RateLimit, cfg.Lock.Prefix)
	}

	opts := []billing.GeneratorOption{
		billing.WithLogger(logger),
		billing.WithMetrics(metrics),
		billing.WithLockTTL(cfg.Lock.TTL),
	}
	if cfg.Archive.Enabled {
		archiver, err := openArchiver(ctx, cfg.Archive)
		if err != nil {
			return nil, err
		}
		opts = append(opts, billing.WithReportSink(archiver))
		logger.WithField("bucket", cfg.Archive.S3.Bucket).Info("run archive enabled")
	}

	recorder := billing.NewPlanChangeRecorder(history, logger)
	a.Services = api.Services{
		Generator: billing.NewGenerator(billing.Deps{
			Subscriptions: subs,
			Plans:         a.Catalog,
			Users:         userStore,
			Orders:        orderStore,
			Ledger:        pending,
			Locker:        locker,
		}, opts...),
		Recorder:      recorder,
		Changer:       billing.NewPlanChanger(subs, a.Catalog, recorder, cfg.Billing.PriceBasis, logger, metrics),
		Renewer:       billing.NewRenewer(subs, a.Catalog, logger, metrics),
		PlanAdmin:     admin,
		Subscriber:    billing.NewSubscriptionManager(subs, a.Catalog, userStore, logger),
		Catalog:       a.Catalog,
		Subscriptions: subs,
		Users:         userStore,
		Orders:        orderStore,
	}

	return a, nil
}

func (a *App) openLedger(cfg config.LedgerConfig, db *sqlstore.DB) (ledger.PendingStore, ledger.HistoryStore, error) {
	if cfg.Backend != config.LedgerBackendFile {
		return sqlstore.NewPendingLedger(db), sqlstore.NewHistoryLedger(db), nil
	}

	fl, err := ledger.OpenFileLog(ledger.FileLogConfig{Dir: cfg.Dir, CompactRatio: cfg.CompactRatio})
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, fl.Close)
	a.logger.WithField("dir", cfg.Dir).Info("file ledger opened")
	return fl, fl.History(), nil
}

func (a *App) openLocker(ctx context.Context, cfg config.LockConfig) (lock.Locker, error) {
	if cfg.Backend != config.LockBackendRedis {
		return lock.NewMemoryLocker(), nil
	}

	client, err := lock.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	a.Redis = client
	a.closers = append(a.closers, client.Close)
	return lock.NewRedisLocker(client, cfg.Prefix), nil
}

// newLimiter shares limits through Redis when the lock already uses it
func (a *App) newLimiter(cfg config.RateLimitConfig, prefix string) middleware.Limiter {
	rl := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Requests,
		WindowDuration:    cfg.Window,
		BurstSize:         cfg.Burst,
	}
	if a.Redis != nil {
		return middleware.NewRedisLimiter(a.Redis, rl, prefix+"ratelimit")
	}
	return middleware.NewMemoryLimiter(rl)
}

// ServerOptions returns the API options implied by the configuration
func (a *App) ServerOptions() []api.ServerOption {
	if a.Limiter == nil {
		return nil
	}
	return []api.ServerOption{api.WithMiddleware(middleware.RateLimit(a.Limiter, middleware.ClientIP))}
}

func openArchiver(ctx context.Context, cfg config.ArchiveConfig) (*archive.S3Archiver, error) {
	client, err := archive.NewS3Client(ctx, cfg.S3)
	if err != nil {
		return nil, err
	}
	archiver := archive.NewS3Archiver(client, cfg.S3.Bucket, cfg.S3.Prefix)
	if err := archiver.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare archive bucket: %w", err)
	}
	return archiver, nil
}

// RunBackground runs the plan watcher, purging the catalog cache after each
// reload, and rate limiter cleanup until ctx is cancelled. It returns
// immediately when neither is configured.
func (a *App) RunBackground(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if a.Watcher != nil {
		g.Go(func() error {
			return a.Watcher.Run(ctx)
		})
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-a.Watcher.Reloaded():
					a.Catalog.Purge()
				}
			}
		})
	}
	if ml, ok := a.Limiter.(*middleware.MemoryLimiter); ok {
		g.Go(func() error {
			return ml.RunCleanup(ctx)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// HealthChecker reports on the database and, when configured, Redis
func (a *App) HealthChecker(version string) *observability.HealthChecker {
	checker := observability.NewHealthChecker(a.DB.SQL(), a.Redis)
	checker.SetVersion(version)
	return checker
}

// Close releases every opened resource in reverse order
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
