package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/pharmacy-outreach/internal/domain"
	"github.com/acme/pharmacy-outreach/internal/queue"
	"github.com/acme/pharmacy-outreach/internal/repository"
)

// change describes one state machine input plus the fields written when it
// moves the call.
type change struct {
	event          domain.CallEvent
	source         string
	providerCallID string
	summary        *string
	data           map[string]any
	completedAt    *time.Time
}

// apply runs the event through the state machine and persists the result
// with a status guard. On a lost race the call is reloaded and the event
// re-evaluated against the fresh status, so a second terminal event turns
// into ErrCallTerminal instead of overwriting the first.
//
// The returned bool reports whether this invocation changed the status.
func (s *Service) apply(ctx context.Context, call *domain.Call, c change) (*domain.Call, bool, error) {
	current := call
	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		next, err := domain.NextCallStatus(current.Status, c.event)
		if err != nil {
			return current, false, err
		}
		if next == current.Status {
			return current, false, nil
		}

		t := repository.CallTransition{
			CallID:         current.ID,
			From:           current.Status,
			To:             next,
			ProviderCallID: c.providerCallID,
			Summary:        c.summary,
			StructuredData: c.data,
			UpdatedAt:      s.clock(),
		}
		if next.IsTerminal() {
			completed := s.clock()
			if c.completedAt != nil {
				completed = *c.completedAt
			}
			t.CompletedAt = &completed
		}

		err = s.calls.ApplyTransition(ctx, t)
		if errors.Is(err, repository.ErrConflict) {
			fresh, gerr := s.calls.GetCall(ctx, current.ID)
			if gerr != nil {
				return current, false, fmt.Errorf("call service: reload after conflict: %w", gerr)
			}
			current = fresh
			continue
		}
		if err != nil {
			return current, false, fmt.Errorf("call service: apply %s: %w", c.event, err)
		}

		updated := *current
		updated.Status = next
		updated.UpdatedAt = t.UpdatedAt
		if updated.ProviderCallID == "" {
			updated.ProviderCallID = c.providerCallID
		}
		if c.summary != nil {
			updated.Summary = *c.summary
		}
		if c.data != nil {
			updated.StructuredData = c.data
		}
		if t.CompletedAt != nil {
			updated.CompletedAt = t.CompletedAt
		}

		s.afterTransition(ctx, &updated, current.Status, c.source)
		return &updated, true, nil
	}
	return current, false, fmt.Errorf("call service: %s on %s: %w", c.event, current.ID, repository.ErrConflict)
}

func (s *Service) afterTransition(ctx context.Context, call *domain.Call, previous domain.CallStatus, source string) {
	s.metrics.Transition(string(previous), string(call.Status), source)
	s.publish(ctx, call, previous, source)

	if !call.Status.IsTerminal() || call.ScheduledCallID == nil || s.outcomes == nil {
		return
	}
	if err := s.outcomes.RecordOutcome(ctx, call); err != nil {
		s.logger.Error("record campaign outcome",
			zap.String("call_id", call.ID.String()),
			zap.String("scheduled_call_id", call.ScheduledCallID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) publish(ctx context.Context, call *domain.Call, previous domain.CallStatus, source string) {
	if s.publisher == nil {
		return
	}
	msg := queue.StatusMessage{
		CallID:          call.ID,
		PatientID:       call.PatientID,
		ScheduledCallID: call.ScheduledCallID,
		Status:          string(call.Status),
		PreviousStatus:  string(previous),
		Source:          source,
		CallCreatedAt:   call.CreatedAt,
		OccurredAt:      s.clock(),
	}
	if err := s.publisher.PublishStatus(ctx, msg); err != nil {
		s.metrics.StatusPublishFailed()
		s.logger.Warn("publish call status",
			zap.String("call_id", call.ID.String()),
			zap.String("status", msg.Status),
			zap.Error(err),
		)
	}
}

// appendLog never fails the caller. A failed append is reported and
// narrated once with LOG_APPEND_FAILED.
func (s *Service) appendLog(ctx context.Context, callID uuid.UUID, eventType string, data map[string]any) {
	entry := domain.CallLog{
		ID:        uuid.New(),
		CallID:    callID,
		EventType: eventType,
		Data:      data,
		Timestamp: s.clock(),
	}
	err := s.logs.Append(ctx, entry)
	if err == nil {
		return
	}

	s.metrics.LogAppendFailed()
	s.logger.Error("append call log",
		zap.String("call_id", callID.String()),
		zap.String("event_type", eventType),
		zap.Error(err),
	)
	if eventType == domain.LogAppendFailed {
		return
	}

	marker := domain.CallLog{
		ID:        uuid.New(),
		CallID:    callID,
		EventType: domain.LogAppendFailed,
		Data:      map[string]any{"eventType": eventType, "error": err.Error()},
		Timestamp: s.clock(),
	}
	if merr := s.logs.Append(ctx, marker); merr != nil {
		s.logger.Error("append call log failure marker",
			zap.String("call_id", callID.String()),
			zap.Error(merr),
		)
	}
}
