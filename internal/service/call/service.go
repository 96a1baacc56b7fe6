// Package call owns the lifecycle of individual outbound calls: creation,
// dispatch, webhook-driven transitions and administrative overrides.
package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/pharmacy-outreach/internal/domain"
	"github.com/acme/pharmacy-outreach/internal/metrics"
	"github.com/acme/pharmacy-outreach/internal/queue"
	"github.com/acme/pharmacy-outreach/internal/repository"
	"github.com/acme/pharmacy-outreach/internal/service/common"
	"github.com/acme/pharmacy-outreach/internal/telephony"
	apperrors "github.com/acme/pharmacy-outreach/pkg/errors"
	"github.com/acme/pharmacy-outreach/pkg/phone"
)

// Transition sources reported in status events and metrics.
const (
	SourceCreate    = "create"
	SourceDispatch  = "dispatch"
	SourceWebhook   = "webhook"
	SourceOverride  = "override"
	SourceCancel    = "cancel"
	SourceScheduler = "scheduler"
)

const (
	defaultDispatchTimeout = 10 * time.Second
	maxTransitionRetries   = 3
	defaultListLimit       = 20
	maxListLimit           = 100
)

// StatusPublisher announces call status changes.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, msg queue.StatusMessage) error
}

// OutcomeRecorder is told about calls that reached a terminal status.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, call *domain.Call) error
}

// Dependencies groups the collaborators of the service.
type Dependencies struct {
	Patients  repository.PatientRepository
	Calls     repository.CallStore
	Logs      repository.CallLogStore
	Stats     repository.CallStatisticsRepository
	Gateway   telephony.Gateway
	Publisher StatusPublisher
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Config tunes dispatch behaviour.
type Config struct {
	DispatchTimeout time.Duration
	DefaultRegion   string
	Now             func() time.Time
}

// Service coordinates call lifecycle operations.
type Service struct {
	patients  repository.PatientRepository
	calls     repository.CallStore
	logs      repository.CallLogStore
	stats     repository.CallStatisticsRepository
	gateway   telephony.Gateway
	publisher StatusPublisher
	outcomes  OutcomeRecorder
	metrics   *metrics.Metrics
	logger    *zap.Logger

	dispatchTimeout time.Duration
	region          string
	now             func() time.Time
}

// NewService builds the call lifecycle service.
func NewService(deps Dependencies, cfg Config) *Service {
	s := &Service{
		patients:        deps.Patients,
		calls:           deps.Calls,
		logs:            deps.Logs,
		stats:           deps.Stats,
		gateway:         deps.Gateway,
		publisher:       deps.Publisher,
		metrics:         deps.Metrics,
		logger:          deps.Logger,
		dispatchTimeout: cfg.DispatchTimeout,
		region:          cfg.DefaultRegion,
		now:             cfg.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.dispatchTimeout <= 0 {
		s.dispatchTimeout = defaultDispatchTimeout
	}
	if s.region == "" {
		s.region = phone.DefaultRegion
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SetOutcomeRecorder wires the campaign side after construction, since the
// campaign service itself depends on this service for dispatch.
func (s *Service) SetOutcomeRecorder(r OutcomeRecorder) {
	s.outcomes = r
}

// CreateAndDispatch creates a PENDING call for the patient and dispatches it
// synchronously. A dispatch failure or timeout leaves the call FAILED; it is
// reported through the returned call, not as an error.
func (s *Service) CreateAndDispatch(ctx context.Context, patientID uuid.UUID, scheduledCallID *uuid.UUID) (*domain.Call, error) {
	patient, err := s.patients.Get(ctx, patientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: patient %s", apperrors.ErrNotFound, patientID)
		}
		return nil, fmt.Errorf("call service: load patient: %w", err)
	}

	now := s.clock()
	call := &domain.Call{
		ID:              uuid.New(),
		PatientID:       patient.ID,
		Status:          domain.CallStatusPending,
		ScheduledCallID: scheduledCallID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.calls.CreateCall(ctx, call); err != nil {
		return nil, fmt.Errorf("call service: persist call: %w", err)
	}
	s.metrics.Transition("", string(call.Status), SourceCreate)
	s.publish(ctx, call, "", SourceCreate)

	initiated := map[string]any{
		"patientName":  patient.Name,
		"patientPhone": patient.Phone,
	}
	if scheduledCallID != nil {
		initiated["scheduledCallId"] = scheduledCallID.String()
	}
	s.appendLog(ctx, call.ID, domain.LogCallInitiated, initiated)

	destination, err := phone.Normalize(patient.Phone, s.region)
	if err != nil {
		return s.failDispatch(ctx, call, err)
	}

	dctx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	started := time.Now()
	dispatch, err := s.gateway.InitiateCall(dctx, telephony.Request{
		CallID:      call.ID,
		Destination: destination,
		PatientID:   patient.ID,
		PatientName: patient.Name,
	})
	cancel()
	if err != nil {
		s.metrics.ObserveDispatch("error", time.Since(started).Seconds())
		return s.failDispatch(ctx, call, err)
	}
	s.metrics.ObserveDispatch("ok", time.Since(started).Seconds())

	return s.recordDispatch(ctx, call, dispatch)
}

func (s *Service) recordDispatch(ctx context.Context, call *domain.Call, dispatch telephony.Dispatch) (*domain.Call, error) {
	if dispatch.ProviderCallID != "" {
		if err := s.calls.SetProviderCallID(ctx, call.ID, dispatch.ProviderCallID); err != nil {
			if !errors.Is(err, repository.ErrConflict) {
				return nil, fmt.Errorf("call service: store provider id: %w", err)
			}
			s.logger.Warn("provider call id already bound",
				zap.String("call_id", call.ID.String()),
				zap.String("provider_call_id", dispatch.ProviderCallID),
			)
		}
	}

	s.appendLog(ctx, call.ID, domain.LogProviderDispatched, map[string]any{
		"providerCallId": dispatch.ProviderCallID,
		"status":         dispatch.Status,
	})

	updated, _, err := s.apply(ctx, call, change{event: domain.CallEventDispatched, source: SourceDispatch})
	if err != nil && !errors.Is(err, domain.ErrCallTerminal) {
		return nil, err
	}
	return s.calls.GetCall(ctx, updated.ID)
}

// failDispatch moves the call straight to FAILED. The write is detached from
// ctx so that a cancelled request cannot leave the call pending.
func (s *Service) failDispatch(ctx context.Context, call *domain.Call, cause error) (*domain.Call, error) {
	ctx = context.WithoutCancel(ctx)
	message := cause.Error()

	s.logger.Warn("call dispatch failed",
		zap.String("call_id", call.ID.String()),
		zap.Error(cause),
	)
	s.appendLog(ctx, call.ID, domain.LogDispatchError, map[string]any{"message": message})

	now := s.clock()
	updated, changed, err := s.apply(ctx, call, change{
		event:       domain.CallEventDispatchFailed,
		source:      SourceDispatch,
		data:        map[string]any{"error": message},
		completedAt: &now,
	})
	if err != nil && !errors.Is(err, domain.ErrCallTerminal) {
		return nil, err
	}
	if changed {
		s.appendLog(ctx, call.ID, domain.LogCallEnded, map[string]any{"reason": "failed"})
	}
	return updated, nil
}

// CallDetails is a call with one page of its log.
type CallDetails struct {
	Call          *domain.Call
	Logs          []domain.CallLog
	NextPageToken string
}

// GetCall retrieves a call with a page of its log entries.
func (s *Service) GetCall(ctx context.Context, id uuid.UUID, logLimit int, pageToken string) (*CallDetails, error) {
	call, err := s.calls.GetCall(ctx, id)
	if err != nil {
		return nil, err
	}

	state, err := common.DecodePageToken(pageToken)
	if err != nil {
		return nil, err
	}
	if logLimit <= 0 || logLimit > maxListLimit {
		logLimit = maxListLimit
	}
	entries, next, err := s.logs.List(ctx, id, logLimit, state)
	if err != nil {
		return nil, fmt.Errorf("call service: list logs: %w", err)
	}
	return &CallDetails{Call: call, Logs: entries, NextPageToken: common.EncodePageToken(next)}, nil
}

// ListCallsInput filters call listings.
type ListCallsInput struct {
	PatientID *uuid.UUID
	Status    domain.CallStatus
	Limit     int
	Offset    int
}

// ListCalls returns calls newest first.
func (s *Service) ListCalls(ctx context.Context, in ListCallsInput) ([]domain.Call, error) {
	if in.Status != "" && !in.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", apperrors.ErrValidation, in.Status)
	}
	if in.Offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", apperrors.ErrValidation)
	}
	limit := in.Limit
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return s.calls.ListCalls(ctx, repository.CallFilter{
		PatientID: in.PatientID,
		Status:    in.Status,
		Limit:     limit,
		Offset:    in.Offset,
	})
}

// DailyStats returns the counters for the UTC day containing day.
func (s *Service) DailyStats(ctx context.Context, day time.Time) (*domain.CallStats, error) {
	bucket := repository.BucketDay(day)
	stats, err := s.stats.Get(ctx, bucket)
	if errors.Is(err, repository.ErrNotFound) {
		return &domain.CallStats{Day: bucket}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("call service: load stats: %w", err)
	}
	return stats, nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}
