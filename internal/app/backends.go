package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-mfg/internal/catalog"
	"github.com/odyssey-erp/odyssey-mfg/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-mfg/internal/platform/db"
	"github.com/odyssey-erp/odyssey-mfg/internal/platform/docstore"
	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
	"github.com/odyssey-erp/odyssey-mfg/internal/workorders"
)

const (
	idempotencyRetention = 24 * time.Hour
	lockWait             = 3 * time.Second
)

// Backends bundles the storage clients shared by the API server and the worker.
// Redis is nil when unreachable; callers then fall back to in-process helpers.
type Backends struct {
	Store   docstore.Store
	Counter docstore.Counter
	Redis   *redis.Client

	closers []func()
}

// OpenBackends connects the document store selected by DOCSTORE_DRIVER and,
// when reachable, redis.
func OpenBackends(ctx context.Context, cfg *Config, logger *slog.Logger) (*Backends, error) {
	b := &Backends{}

	switch cfg.DocstoreDriver {
	case DriverMemory:
		mem := docstore.NewMemory(
			docstore.WithUniqueField(workorders.Collection, "workOrderNumber"),
			docstore.WithUniqueField(catalog.Collection, "operationCode"),
		)
		b.Store, b.Counter = mem, mem
		logger.Warn("using in-memory document store; data is lost on restart")
	default:
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		pg := docstore.NewPostgres(pool,
			docstore.WithUniqueIndex(workorders.Collection, "workOrderNumber"),
			docstore.WithUniqueIndex(catalog.Collection, "operationCode"),
		)
		if err := pg.Migrate(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("migrate document store: %w", err)
		}
		b.Store, b.Counter = pg, pg
	}

	client, err := cache.New(ctx, cfg.RedisAddr, "", 0)
	if err != nil {
		logger.Warn("redis unavailable, using in-process locks and no dashboard cache", slog.Any("error", err))
		return b, nil
	}
	b.Redis = client
	b.closers = append(b.closers, func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	})
	if cfg.DocstoreDriver == DriverMemory {
		b.Counter = cache.NewCounter(client, "odyssey:counter:", 0)
	}
	return b, nil
}

// Close releases every opened client in reverse order.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// NewWorkOrderService assembles the work-order service on top of b.
func NewWorkOrderService(cfg *Config, logger *slog.Logger, b *Backends, opts ...workorders.Option) *workorders.Service {
	repo := workorders.NewRepository(b.Store)
	numbers := workorders.NewNumberGenerator(b.Counter, repo.CountCreatedBetween, cfg.Location())

	var locker shared.Locker = shared.NewLocalLocker()
	var idem shared.IdempotencyStore = shared.NewMemoryIdempotency()
	if b.Redis != nil {
		locker = shared.NewRedisLocker(b.Redis, cfg.WorkOrderLockTTL, lockWait)
		idem = shared.NewRedisIdempotency(b.Redis, idempotencyRetention)
	}

	base := []workorders.Option{
		workorders.WithLogger(logger),
		workorders.WithIdempotency(idem),
		workorders.WithDashboardCache(cache.NewVersioned(b.Redis, "workorders", cfg.DashboardCacheTTL)),
	}
	return workorders.NewService(repo, numbers, locker, workorders.ServiceConfig{MaxRetries: cfg.WorkOrderMaxRetries}, append(base, opts...)...)
}
