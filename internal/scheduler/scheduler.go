// Package scheduler runs the periodic campaign tick.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/pharmacy-outreach/internal/config"
	"github.com/acme/pharmacy-outreach/internal/domain"
	"github.com/acme/pharmacy-outreach/internal/metrics"
	"github.com/acme/pharmacy-outreach/internal/service/concurrency"
	"github.com/acme/pharmacy-outreach/internal/service/schedule"
)

const lockName = "tick"

var errPanic = errors.New("scheduler: campaign dispatch panicked")

// Campaigns is the campaign side the scheduler drives.
type Campaigns interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduledCall, error)
	DispatchAttempt(ctx context.Context, id uuid.UUID) (schedule.DispatchResult, error)
}

// Locker keeps scheduler replicas from ticking at the same time. The lease
// is renewed before each campaign so a slow batch keeps it.
type Locker interface {
	Acquire(ctx context.Context, name string) (*concurrency.Lease, error)
	Extend(ctx context.Context, lease *concurrency.Lease) (bool, error)
	Release(ctx context.Context, lease *concurrency.Lease) error
}

// Report summarizes one tick.
type Report struct {
	Overlapped bool
	Locked     bool
	LeaseLost  bool
	Due        int
	Results    map[schedule.DispatchResult]int
	Errors     int
}

// Scheduler periodically advances due campaigns.
type Scheduler struct {
	campaigns Campaigns
	lock      Locker
	logger    *zap.Logger
	metrics   *metrics.Metrics

	interval  time.Duration
	batchSize int
	now       func() time.Time

	ticking atomic.Bool
}

// New constructs a scheduler. lock may be nil for a single replica.
func New(campaigns Campaigns, lock Locker, logger *zap.Logger, m *metrics.Metrics, cfg config.SchedulerConfig, now func() time.Time) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = time.Minute
	}
	batch := cfg.MaxBatchSize
	if batch <= 0 {
		batch = 10
	}
	return &Scheduler{
		campaigns: campaigns,
		lock:      lock,
		logger:    logger,
		metrics:   m,
		interval:  interval,
		batchSize: batch,
		now:       now,
	}
}

// Run executes the scheduling loop until cancelled. Ticks run on their own
// goroutine so a slow batch makes the next timer fire observe the guard and
// skip instead of queueing behind it. Run waits for the in-flight tick
// before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runTick(ctx)
		}()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler tick failed", zap.Error(err))
	}
}

// Tick advances up to the batch size of due campaigns, oldest due first.
// A tick that starts while another is running returns immediately.
func (s *Scheduler) Tick(ctx context.Context) (Report, error) {
	report := Report{Results: make(map[schedule.DispatchResult]int)}
	if !s.ticking.CompareAndSwap(false, true) {
		report.Overlapped = true
		s.metrics.SchedulerTick("overlapped")
		s.logger.Debug("scheduler: previous tick still running, skipping")
		return report, nil
	}
	defer s.ticking.Store(false)

	tracer := otel.Tracer("outreach.scheduler")
	sctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	var lease *concurrency.Lease
	if s.lock != nil {
		var err error
		lease, err = s.lock.Acquire(sctx, lockName)
		if err != nil {
			span.RecordError(err)
			s.metrics.SchedulerTick("error")
			return report, err
		}
		if lease == nil {
			report.Locked = true
			span.SetAttributes(attribute.Bool("lock.held_elsewhere", true))
			s.metrics.SchedulerTick("locked")
			return report, nil
		}
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(sctx), lease); err != nil {
				s.logger.Warn("scheduler: release lock", zap.Error(err))
			}
		}()
	}

	now := s.now().UTC()
	due, err := s.campaigns.ListDue(sctx, now, s.batchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list due campaigns")
		s.metrics.SchedulerTick("error")
		return report, err
	}
	report.Due = len(due)
	span.SetAttributes(attribute.Int("campaign.due", len(due)))

	for _, sc := range due {
		if sctx.Err() != nil {
			break
		}
		if lease != nil && !s.renew(sctx, lease) {
			report.LeaseLost = true
			span.SetAttributes(attribute.Bool("lock.lost", true))
			break
		}
		result, err := s.advance(sctx, tracer, sc)
		if err != nil {
			report.Errors++
			s.metrics.CampaignResult("error")
			continue
		}
		report.Results[result]++
		s.metrics.CampaignResult(string(result))
	}

	s.metrics.SchedulerTick("ran")
	if report.Due > 0 {
		s.logger.Info("scheduler: tick finished",
			zap.Int("due", report.Due),
			zap.Int("dispatched", report.Results[schedule.DispatchResultDispatched]),
			zap.Int("deferred", report.Results[schedule.DispatchResultDeferred]),
			zap.Int("errors", report.Errors),
		)
	}
	return report, nil
}

// renew extends the tick lease. A lost lease means another replica may be
// ticking, so the rest of the batch is left to it.
func (s *Scheduler) renew(ctx context.Context, lease *concurrency.Lease) bool {
	ok, err := s.lock.Extend(ctx, lease)
	if err != nil {
		s.logger.Warn("scheduler: extend lock", zap.Error(err))
		return false
	}
	if !ok {
		s.logger.Warn("scheduler: lock lease lost, stopping batch")
	}
	return ok
}

// advance isolates one campaign: its failure is logged and does not stop
// the rest of the batch.
func (s *Scheduler) advance(ctx context.Context, tracer trace.Tracer, sc *domain.ScheduledCall) (result schedule.DispatchResult, err error) {
	cctx, span := tracer.Start(ctx, "scheduler.campaign", trace.WithAttributes(
		attribute.String("scheduled_call.id", sc.ID.String()),
		attribute.Int("attempts_made", sc.AttemptsMade),
		attribute.Int("max_attempts", sc.MaxAttempts),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler: campaign dispatch panicked",
				zap.String("scheduled_call_id", sc.ID.String()),
				zap.Any("panic", r),
			)
			span.SetStatus(codes.Error, "panic")
			err = errPanic
		}
	}()

	result, err = s.campaigns.DispatchAttempt(cctx, sc.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch attempt")
		s.logger.Error("scheduler: dispatch attempt",
			zap.String("scheduled_call_id", sc.ID.String()),
			zap.Error(err),
		)
		return "", err
	}
	span.SetAttributes(attribute.String("result", string(result)))
	return result, nil
}
