// Package app assembles the lifecycle controller from configuration. The
// server and worker binaries share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/campaign-lifecycle/internal/config"
	"github.com/unclebandit/campaign-lifecycle/internal/controller"
	"github.com/unclebandit/campaign-lifecycle/internal/db"
	"github.com/unclebandit/campaign-lifecycle/internal/events"
	"github.com/unclebandit/campaign-lifecycle/internal/handler"
	"github.com/unclebandit/campaign-lifecycle/internal/lifecycle"
	"github.com/unclebandit/campaign-lifecycle/internal/lock"
	"github.com/unclebandit/campaign-lifecycle/internal/metrics"
	"github.com/unclebandit/campaign-lifecycle/internal/repository"
	"github.com/unclebandit/campaign-lifecycle/internal/scheduler"
	"github.com/unclebandit/campaign-lifecycle/internal/service"
	"github.com/unclebandit/campaign-lifecycle/internal/social"
)

// lockLease bounds how long a Redis campaign lock survives a crashed holder.
const lockLease = 2 * time.Minute

type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	DB      *sql.DB
	Metrics *metrics.Metrics

	// LockDB pins one connection per held campaign lock. It is separate
	// from DB so lock holders can always get a connection for their work.
	LockDB *sql.DB

	Bus       events.Bus
	Memory    *events.MemoryBus
	AMQP      *events.AMQPBus
	Scheduler *scheduler.Scheduler

	Campaigns *service.CampaignService
	Worker    *service.EventWorker

	redis *redis.Client
}

// New connects every collaborator named by cfg. Close releases them.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.Default()}

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.DB = conn

	locker, err := a.locker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	switch cfg.EventBus {
	case config.BusAMQP:
		bus, err := events.NewAMQPBus(events.AMQPConfig{
			URL:      cfg.AMQPURL,
			Exchange: cfg.AMQPExchange,
			Queue:    cfg.AMQPQueue,
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.AMQP, a.Bus = bus, bus
	default:
		a.Memory = events.NewMemoryBus(events.WithLogger(logger))
		a.Bus = a.Memory
	}

	sched, err := scheduler.New(scheduler.NewPostgresStore(conn),
		scheduler.WithInstanceID(cfg.InstanceID),
		scheduler.WithWorkers(cfg.WorkerCount),
		scheduler.WithBatchSize(cfg.SchedulerBatchSize),
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(a.Metrics),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	a.Scheduler = sched

	campaignRepo := &repository.CampaignRepository{DB: conn}
	auditRepo := &repository.AuditLogRepository{DB: conn}
	deps := service.Deps{
		CampaignRepo:   campaignRepo,
		EngagementRepo: &repository.EngagementRepository{DB: conn},
		AuditRepo:      auditRepo,
		Bus:            a.Bus,
		Locker:         locker,
		Metrics:        a.Metrics,
		Logger:         logger,
	}

	sandbox := social.NewSandbox(logger)
	budget := cfg.Budget()
	workflow := &service.PublishWorkflow{
		Deps:      deps,
		Publisher: sandbox,
		Contract:  sandbox,
		Notifier:  social.NopNotifier{},
		Templates: service.DefaultTemplates(),
		Budget:    &budget,
	}
	expiry := &service.ExpiryHandler{Deps: deps, Contract: sandbox, Notifier: social.NopNotifier{}}

	a.Campaigns = &service.CampaignService{
		Deps:     deps,
		Analyzer: lifecycle.NewAnalyzer(auditRepo, logger),
		Workflow: workflow,
		Settlement: &service.SettlementCoordinator{
			Deps:          deps,
			Scheduler:     sched,
			ClaimDuration: cfg.ClaimDuration,
		},
	}
	a.Worker = &service.EventWorker{Deps: deps, Workflow: workflow, Expiry: expiry}
	sched.Register(events.NameExpiration, a.Worker.JobHandler())
	if a.Memory != nil {
		a.Memory.Subscribe(a.Worker)
	}
	return a, nil
}

func (a *App) locker(ctx context.Context) (lock.Locker, error) {
	switch a.Config.LockDriver {
	case config.LockMemory:
		return lock.NewKeyedMutex(), nil
	case config.LockRedis:
		a.redis = redis.NewClient(&redis.Options{Addr: a.Config.RedisAddr, Password: a.Config.RedisPassword})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		return lock.NewRedisLocker(a.redis, lockLease, a.Logger), nil
	default:
		conn, err := db.Open(ctx, a.Config.DatabaseURL, db.WithMaxOpenConns(a.Config.LockPoolSize))
		if err != nil {
			return nil, fmt.Errorf("lock pool: %w", err)
		}
		a.LockDB = conn
		return lock.NewPostgresLocker(conn, a.Logger), nil
	}
}

// Router builds the operator HTTP API.
func (a *App) Router() http.Handler {
	return handler.NewRouter(
		&controller.CampaignController{CampaignService: a.Campaigns, Logger: a.Logger},
		&handler.RateBudgetHandler{
			Budget:    a.Config.Budget(),
			Campaigns: a.Campaigns.CampaignRepo,
			Metrics:   a.Metrics,
		},
		promhttp.Handler(),
	)
}

// ConsumeEvents blocks delivering broker events to the worker. With the
// in-memory bus events are delivered inside Publish, so it only waits for
// ctx.
func (a *App) ConsumeEvents(ctx context.Context) error {
	if a.AMQP == nil {
		<-ctx.Done()
		a.Memory.Wait()
		return ctx.Err()
	}
	return a.AMQP.Consume(ctx, a.Worker)
}

func (a *App) Close() {
	var errs []error
	if a.AMQP != nil {
		errs = append(errs, a.AMQP.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.LockDB != nil {
		errs = append(errs, a.LockDB.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("closing resources", "err", err)
	}
}
