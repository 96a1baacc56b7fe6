package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/acme/pharmacy-outreach/internal/config"
	"github.com/acme/pharmacy-outreach/internal/domain"
	"github.com/acme/pharmacy-outreach/internal/metrics"
	"github.com/acme/pharmacy-outreach/internal/repository/memory"
	"github.com/acme/pharmacy-outreach/internal/service/concurrency"
	"github.com/acme/pharmacy-outreach/internal/service/schedule"
)

type fakeCampaigns struct {
	repo *memory.Schedules

	mu       sync.Mutex
	order    []uuid.UUID
	failFor  map[uuid.UUID]error
	panicFor uuid.UUID
	block    chan struct{}
	entered  chan struct{}
	onCall   func()
}

func (f *fakeCampaigns) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduledCall, error) {
	return f.repo.ListDue(ctx, now, limit)
}

func (f *fakeCampaigns) DispatchAttempt(_ context.Context, id uuid.UUID) (schedule.DispatchResult, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.order = append(f.order, id)
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall()
	}
	if id == f.panicFor {
		panic("boom")
	}
	if err := f.failFor[id]; err != nil {
		return "", err
	}
	return schedule.DispatchResultDispatched, nil
}

var tickTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, repo *memory.Schedules, offsets ...time.Duration) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, 0, len(offsets))
	for _, off := range offsets {
		next := tickTime.Add(off)
		sc := &domain.ScheduledCall{
			ID:            uuid.New(),
			PatientID:     uuid.New(),
			StartAt:       next,
			MaxAttempts:   3,
			NextAttemptAt: &next,
			Status:        domain.ScheduleStatusScheduled,
		}
		if err := repo.Create(context.Background(), sc); err != nil {
			t.Fatalf("seed: %v", err)
		}
		ids = append(ids, sc.ID)
	}
	return ids
}

func newScheduler(campaigns Campaigns, lock Locker, batch int) *Scheduler {
	return New(campaigns, lock, nil, metrics.New(), config.SchedulerConfig{MaxBatchSize: batch, TickInterval: time.Minute},
		func() time.Time { return tickTime })
}

func TestTickProcessesDueCampaignsOldestFirst(t *testing.T) {
	repo := memory.NewSchedules()
	ids := seed(t, repo, -time.Minute, -time.Hour, -10*time.Minute, time.Hour)
	campaigns := &fakeCampaigns{repo: repo}

	report, err := newScheduler(campaigns, nil, 10).Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.Due != 3 {
		t.Fatalf("expected 3 due campaigns, got %d", report.Due)
	}
	want := []uuid.UUID{ids[1], ids[2], ids[0]}
	for i, id := range want {
		if campaigns.order[i] != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, campaigns.order[i])
		}
	}
}

func TestTickRespectsBatchSize(t *testing.T) {
	repo := memory.NewSchedules()
	ids := seed(t, repo, -5*time.Minute, -4*time.Minute, -3*time.Minute, -2*time.Minute)
	campaigns := &fakeCampaigns{repo: repo}

	report, err := newScheduler(campaigns, nil, 2).Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.Due != 2 || len(campaigns.order) != 2 {
		t.Fatalf("expected 2 campaigns advanced, got %d", len(campaigns.order))
	}
	if campaigns.order[0] != ids[0] || campaigns.order[1] != ids[1] {
		t.Fatalf("unexpected order %v", campaigns.order)
	}
}

func TestTickIsolatesCampaignFailures(t *testing.T) {
	repo := memory.NewSchedules()
	ids := seed(t, repo, -3*time.Minute, -2*time.Minute, -time.Minute)
	campaigns := &fakeCampaigns{
		repo:     repo,
		failFor:  map[uuid.UUID]error{ids[0]: errors.New("db down")},
		panicFor: ids[1],
	}

	report, err := newScheduler(campaigns, nil, 10).Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.Errors != 2 {
		t.Fatalf("expected 2 errors, got %d", report.Errors)
	}
	if report.Results[schedule.DispatchResultDispatched] != 1 {
		t.Fatalf("expected the last campaign to be dispatched, got %+v", report.Results)
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	repo := memory.NewSchedules()
	seed(t, repo, -time.Minute)
	campaigns := &fakeCampaigns{
		repo:    repo,
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	s := newScheduler(campaigns, nil, 10)

	done := make(chan Report)
	go func() {
		report, _ := s.Tick(context.Background())
		done <- report
	}()
	<-campaigns.entered

	second, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if !second.Overlapped {
		t.Fatalf("expected overlapping tick to be skipped")
	}

	close(campaigns.block)
	first := <-done
	if first.Overlapped || first.Due != 1 {
		t.Fatalf("unexpected first report %+v", first)
	}
	if len(campaigns.order) != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", len(campaigns.order))
	}
}

func TestTickSkipsWhenLockHeldElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	lock := concurrency.NewLock(client, "test:scheduler", time.Minute)

	other, err := lock.Acquire(context.Background(), lockName)
	if err != nil || other == nil {
		t.Fatalf("acquire: %v", err)
	}

	repo := memory.NewSchedules()
	seed(t, repo, -time.Minute)
	campaigns := &fakeCampaigns{repo: repo}
	s := newScheduler(campaigns, lock, 10)

	report, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !report.Locked || len(campaigns.order) != 0 {
		t.Fatalf("expected tick to yield to lock holder, got %+v", report)
	}

	if err := lock.Release(context.Background(), other); err != nil {
		t.Fatalf("release: %v", err)
	}
	report, err = s.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.Due != 1 {
		t.Fatalf("expected campaign to run once lock is free, got %+v", report)
	}
	if mr.Exists("test:scheduler:" + lockName) {
		t.Fatalf("expected lock to be released after tick")
	}
}

func TestTickRenewsLeaseAcrossSlowBatch(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	lock := concurrency.NewLock(client, "test:scheduler", time.Minute)

	repo := memory.NewSchedules()
	seed(t, repo, -3*time.Minute, -2*time.Minute, -time.Minute)
	campaigns := &fakeCampaigns{repo: repo, onCall: func() { mr.FastForward(50 * time.Second) }}

	report, err := newScheduler(campaigns, lock, 10).Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.LeaseLost {
		t.Fatalf("expected lease to be renewed, got %+v", report)
	}
	if len(campaigns.order) != 3 {
		t.Fatalf("expected all 3 campaigns advanced, got %d", len(campaigns.order))
	}
}

func TestTickStopsBatchWhenLeaseLost(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	lock := concurrency.NewLock(client, "test:scheduler", time.Minute)

	repo := memory.NewSchedules()
	seed(t, repo, -3*time.Minute, -2*time.Minute, -time.Minute)
	campaigns := &fakeCampaigns{repo: repo, onCall: func() {
		// another replica took over after the lease expired
		mr.Set("test:scheduler:"+lockName, "other-replica")
	}}

	report, err := newScheduler(campaigns, lock, 10).Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !report.LeaseLost {
		t.Fatalf("expected lost lease to be reported, got %+v", report)
	}
	if len(campaigns.order) != 1 {
		t.Fatalf("expected batch to stop after first campaign, got %d", len(campaigns.order))
	}
	if v, _ := mr.Get("test:scheduler:" + lockName); v != "other-replica" {
		t.Fatalf("expected other replica's lease to survive release, got %q", v)
	}
}
