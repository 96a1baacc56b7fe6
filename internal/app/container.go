package app

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/acme/pharmacy-outreach/internal/api/handlers"
	"github.com/acme/pharmacy-outreach/internal/config"
	"github.com/acme/pharmacy-outreach/internal/infra/db"
	"github.com/acme/pharmacy-outreach/internal/infra/redis"
	"github.com/acme/pharmacy-outreach/internal/metrics"
	"github.com/acme/pharmacy-outreach/internal/queue"
	"github.com/acme/pharmacy-outreach/internal/repository"
	pgrepo "github.com/acme/pharmacy-outreach/internal/repository/postgres"
	scyllarepo "github.com/acme/pharmacy-outreach/internal/repository/scylla"
	"github.com/acme/pharmacy-outreach/internal/scheduler"
	callsvc "github.com/acme/pharmacy-outreach/internal/service/call"
	"github.com/acme/pharmacy-outreach/internal/service/concurrency"
	schedulesvc "github.com/acme/pharmacy-outreach/internal/service/schedule"
	"github.com/acme/pharmacy-outreach/internal/telephony"
	telephonyMock "github.com/acme/pharmacy-outreach/internal/telephony/mock"
	"github.com/acme/pharmacy-outreach/internal/telephony/vapi"
	"github.com/acme/pharmacy-outreach/internal/webhook"
	statusworker "github.com/acme/pharmacy-outreach/internal/worker/status"
	"github.com/acme/pharmacy-outreach/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *metrics.Metrics

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	mockGateway *telephonyMock.Gateway

	// lazily initialised components
	components struct {
		once         sync.Once
		err          error
		repositories *repositories
		services     *services
		publishers   *publishers
		locks        *locks
	}
}

type repositories struct {
	Patients  repository.PatientRepository
	Calls     repository.CallStore
	Logs      repository.CallLogStore
	Journal   repository.WebhookJournal
	Schedules repository.ScheduleRepository
	Stats     repository.CallStatisticsRepository
}

type services struct {
	Call     *callsvc.Service
	Schedule *schedulesvc.Service
	Webhooks *webhook.Dispatcher
	Verifier *webhook.Verifier
}

type publishers struct {
	Status *queue.StatusPublisher
}

type locks struct {
	Scheduler *concurrency.Lock
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres, cfg.App.Name)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Metrics:  metrics.New(),
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}

	return container, nil
}

func (c *Container) initComponents() error {
	c.components.once.Do(func() {
		sqlDB := c.Postgres.DB()
		session := c.Scylla.Session()

		repos := &repositories{
			Patients:  pgrepo.NewPatientRepository(sqlDB),
			Calls:     pgrepo.NewCallRepository(sqlDB),
			Logs:      scyllarepo.NewCallLogStore(session),
			Journal:   scyllarepo.NewWebhookJournal(session, c.Config.Scylla.JournalTTL),
			Schedules: pgrepo.NewScheduleRepository(sqlDB),
			Stats:     pgrepo.NewCallStatisticsRepository(sqlDB),
		}

		pubs := &publishers{
			Status: queue.NewStatusPublisher(c.Kafka, c.Config.Kafka.StatusTopic),
		}

		gateway, err := c.newGateway()
		if err != nil {
			c.components.err = err
			return
		}

		location, err := c.Config.Scheduler.Location()
		if err != nil {
			c.components.err = fmt.Errorf("scheduler location: %w", err)
			return
		}

		svcs := &services{}
		svcs.Call = callsvc.NewService(callsvc.Dependencies{
			Patients:  repos.Patients,
			Calls:     repos.Calls,
			Logs:      repos.Logs,
			Stats:     repos.Stats,
			Gateway:   gateway,
			Publisher: pubs.Status,
			Metrics:   c.Metrics,
			Logger:    c.Logger.Named("call").Logger,
		}, callsvc.Config{
			DispatchTimeout: c.Config.CallBridge.RequestTimeout,
			DefaultRegion:   c.Config.App.DefaultRegion,
		})
		svcs.Schedule = schedulesvc.NewService(
			repos.Schedules,
			repos.Patients,
			repos.Calls,
			svcs.Call,
			c.Logger.Named("schedule").Logger,
			schedulesvc.Config{Location: location},
		)
		svcs.Call.SetOutcomeRecorder(svcs.Schedule)
		svcs.Webhooks = webhook.NewDispatcher(svcs.Call, repos.Journal, c.Metrics, c.Logger.Named("webhook").Logger)
		if c.mockGateway != nil {
			webhooks := svcs.Webhooks
			c.mockGateway.SetSink(func(ctx context.Context, raw []byte) error {
				_, err := webhooks.Dispatch(ctx, raw, true)
				return err
			})
		}
		svcs.Verifier = webhook.NewVerifier(c.Config.Webhook, c.Config.IsProduction(), c.Logger.Named("webhook").Logger)

		lks := &locks{}
		if c.Config.Scheduler.LockEnabled {
			lks.Scheduler = concurrency.NewLock(c.Redis.Inner(), c.Config.Scheduler.LockKeyPrefix, c.Config.Scheduler.LockTTL)
		}

		c.components.repositories = repos
		c.components.publishers = pubs
		c.components.services = svcs
		c.components.locks = lks
	})
	return c.components.err
}

func (c *Container) newGateway() (telephony.Gateway, error) {
	switch c.Config.CallBridge.ProviderName {
	case "mock":
		c.mockGateway = telephonyMock.NewGateway(c.Config.CallBridge, c.Logger.Named("mockgateway").Logger)
		return c.mockGateway, nil
	default:
		client, err := vapi.NewClient(c.Config.CallBridge, c.Logger.Named("vapi").Logger)
		if err != nil {
			return nil, fmt.Errorf("bootstrap call bridge: %w", err)
		}
		return client, nil
	}
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() (*repositories, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	return c.components.repositories, nil
}

// Services exposes initialized services.
func (c *Container) Services() (*services, error) {
	if err := c.initComponents(); err != nil {
		return nil, err
	}
	return c.components.services, nil
}

// HandlerSet builds HTTP handlers with dependencies.
func (c *Container) HandlerSet() (*handlers.HandlerSet, error) {
	svcs, err := c.Services()
	if err != nil {
		return nil, err
	}

	deps := handlers.Dependencies{
		Calls:     svcs.Call,
		Schedules: svcs.Schedule,
		Webhooks:  svcs.Webhooks,
		Verifier:  svcs.Verifier,
		Checks: map[string]handlers.HealthCheck{
			"postgres": func(ctx context.Context) error { return c.Postgres.DB().PingContext(ctx) },
			"redis":    func(ctx context.Context) error { return c.Redis.Inner().Ping(ctx).Err() },
			"scylla": func(ctx context.Context) error {
				return c.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
			},
		},
		Logger: c.Logger.Named("http").Logger,
	}
	if c.Config.Metrics.Enabled {
		deps.Metrics = c.Metrics
		deps.MetricsPath = c.Config.Metrics.Path
	}
	return handlers.NewHandlerSet(deps), nil
}

// Scheduler builds the campaign tick loop, guarded by the redis lock when enabled.
func (c *Container) Scheduler() (*scheduler.Scheduler, error) {
	svcs, err := c.Services()
	if err != nil {
		return nil, err
	}

	var lock scheduler.Locker
	if l := c.components.locks.Scheduler; l != nil {
		lock = l
	}
	return scheduler.New(svcs.Schedule, lock, c.Logger.Named("scheduler").Logger, c.Metrics, c.Config.Scheduler, nil), nil
}

// StatusWorker builds the statistics consumer and the reader it drains.
// The caller closes the returned reader.
func (c *Container) StatusWorker() (*statusworker.Worker, io.Closer, error) {
	repos, err := c.Repositories()
	if err != nil {
		return nil, nil, err
	}
	reader := c.Kafka.NewReader(c.Config.Kafka.StatusTopic, c.Config.Kafka.ConsumerGroupID+"-stats")
	return statusworker.New(reader, repos.Stats, c.Logger.Named("statusworker").Logger), reader, nil
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.mockGateway != nil {
		_ = c.mockGateway.Close()
	}
	if p := c.components.publishers; p != nil && p.Status != nil {
		if err := p.Status.Close(); err != nil {
			errs = append(errs, fmt.Errorf("status publisher close: %w", err))
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	partitions := c.Config.Kafka.Partitions
	if partitions <= 0 {
		partitions = 12
	}
	replication := c.Config.Kafka.Replication
	if replication <= 0 {
		replication = 1
	}
	return c.Kafka.EnsureTopics(ctx, []string{c.Config.Kafka.StatusTopic}, partitions, replication)
}
