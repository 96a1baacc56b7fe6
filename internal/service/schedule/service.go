// Package schedule manages retrying call campaigns and advances them one
// attempt at a time.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/pharmacy-outreach/internal/domain"
	"github.com/acme/pharmacy-outreach/internal/repository"
	apperrors "github.com/acme/pharmacy-outreach/pkg/errors"
)

const (
	maxUpdateRetries = 3
	defaultListLimit = 20
	maxListLimit     = 100
)

// CallDispatcher places the call for one campaign attempt and fails a call
// whose attempt lost the race to be recorded.
type CallDispatcher interface {
	CreateAndDispatch(ctx context.Context, patientID uuid.UUID, scheduledCallID *uuid.UUID) (*domain.Call, error)
	Abandon(ctx context.Context, id uuid.UUID, reason string) (*domain.Call, error)
}

// Config tunes campaign scheduling.
type Config struct {
	// Location applies allowed hours for patients without their own time zone.
	Location *time.Location
	Now      func() time.Time
}

// Service orchestrates campaign lifecycle operations.
type Service struct {
	repo       repository.ScheduleRepository
	patients   repository.PatientRepository
	calls      repository.CallStore
	dispatcher CallDispatcher
	logger     *zap.Logger

	location *time.Location
	now      func() time.Time
}

// NewService constructs a campaign service.
func NewService(
	repo repository.ScheduleRepository,
	patients repository.PatientRepository,
	calls repository.CallStore,
	dispatcher CallDispatcher,
	logger *zap.Logger,
	cfg Config,
) *Service {
	s := &Service{
		repo:       repo,
		patients:   patients,
		calls:      calls,
		dispatcher: dispatcher,
		logger:     logger,
		location:   cfg.Location,
		now:        cfg.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.location == nil {
		s.location = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreateInput captures campaign creation parameters. Zero retry settings
// select the defaults.
type CreateInput struct {
	PatientID            uuid.UUID
	StartAt              time.Time
	RetryIntervalMinutes int
	MaxAttempts          int
	VoicemailTemplate    string
}

// Create provisions a SCHEDULED campaign whose first attempt is due at StartAt.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.ScheduledCall, error) {
	if err := normalizeCreateInput(&in); err != nil {
		return nil, err
	}

	if _, err := s.patients.Get(ctx, in.PatientID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: patient %s", apperrors.ErrNotFound, in.PatientID)
		}
		return nil, fmt.Errorf("schedule service: load patient: %w", err)
	}

	now := s.clock()
	start := in.StartAt.UTC()
	sc := &domain.ScheduledCall{
		ID:                   uuid.New(),
		PatientID:            in.PatientID,
		StartAt:              start,
		RetryIntervalMinutes: in.RetryIntervalMinutes,
		MaxAttempts:          in.MaxAttempts,
		NextAttemptAt:        &start,
		Status:               domain.ScheduleStatusScheduled,
		VoicemailTemplate:    in.VoicemailTemplate,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.Create(ctx, sc); err != nil {
		return nil, fmt.Errorf("schedule service: create: %w", err)
	}
	return sc, nil
}

func normalizeCreateInput(in *CreateInput) error {
	if in.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patientId is required", apperrors.ErrValidation)
	}
	if in.StartAt.IsZero() {
		return fmt.Errorf("%w: startAt is required", apperrors.ErrValidation)
	}

	if in.RetryIntervalMinutes == 0 {
		in.RetryIntervalMinutes = domain.DefaultRetryIntervalMinutes
	}
	if in.RetryIntervalMinutes < domain.MinRetryIntervalMinutes || in.RetryIntervalMinutes > domain.MaxRetryIntervalMinutes {
		return fmt.Errorf("%w: retryIntervalMinutes must be between %d and %d",
			apperrors.ErrValidation, domain.MinRetryIntervalMinutes, domain.MaxRetryIntervalMinutes)
	}

	if in.MaxAttempts == 0 {
		in.MaxAttempts = domain.DefaultMaxAttempts
	}
	if in.MaxAttempts < domain.MinMaxAttempts || in.MaxAttempts > domain.MaxMaxAttempts {
		return fmt.Errorf("%w: maxAttempts must be between %d and %d",
			apperrors.ErrValidation, domain.MinMaxAttempts, domain.MaxMaxAttempts)
	}
	return nil
}

// Details is a campaign with its attempts in order.
type Details struct {
	Schedule *domain.ScheduledCall
	Attempts []domain.CallAttempt
}

// Get returns a campaign and its attempts.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Details, error) {
	sc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	attempts, err := s.repo.ListAttempts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("schedule service: list attempts: %w", err)
	}
	return &Details{Schedule: sc, Attempts: attempts}, nil
}

// ListInput filters campaign listings.
type ListInput struct {
	PatientID *uuid.UUID
	Status    domain.ScheduleStatus
	Limit     int
	Offset    int
}

// List returns campaigns newest first.
func (s *Service) List(ctx context.Context, in ListInput) ([]*domain.ScheduledCall, error) {
	limit := in.Limit
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return s.repo.List(ctx, repository.ScheduleFilter{
		PatientID: in.PatientID,
		Status:    in.Status,
		Limit:     limit,
		Offset:    in.Offset,
	})
}

// ListDue returns campaigns whose next attempt is due, oldest first.
func (s *Service) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduledCall, error) {
	return s.repo.ListDue(ctx, now, limit)
}

// Cancel stops a campaign. Cancelling twice is a no-op; other finished
// campaigns cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*domain.ScheduledCall, error) {
	return s.mutate(ctx, id, func(sc *domain.ScheduledCall) (bool, error) {
		switch {
		case sc.Status == domain.ScheduleStatusCancelled:
			return false, nil
		case sc.Status.IsTerminal():
			return false, fmt.Errorf("%w: campaign is already %s", apperrors.ErrConflict, sc.Status)
		}
		sc.Status = domain.ScheduleStatusCancelled
		sc.NextAttemptAt = nil
		return true, nil
	})
}

// mutate applies fn to a fresh copy of the campaign and writes it with the
// version guard, reloading on conflict. fn returns false to skip the write.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(*domain.ScheduledCall) (bool, error)) (*domain.ScheduledCall, error) {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		sc, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		write, err := fn(sc)
		if err != nil || !write {
			return sc, err
		}
		sc.UpdatedAt = s.clock()

		err = s.repo.Update(ctx, sc)
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("schedule service: update: %w", err)
		}
		return sc, nil
	}
	return nil, fmt.Errorf("schedule service: campaign %s: %w", id, repository.ErrConflict)
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}
