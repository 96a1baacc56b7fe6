package call

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/acme/pharmacy-outreach/internal/domain"
	apperrors "github.com/acme/pharmacy-outreach/pkg/errors"
)

// UpdateStatusInput is an operator-requested terminal status.
type UpdateStatusInput struct {
	Status         domain.CallStatus
	Summary        *string
	StructuredData map[string]any
	ProviderCallID string
}

// UpdateStatus forces a non-terminal call into a terminal status. Finished
// calls are immutable: the attempt is narrated and rejected with ErrConflict.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, in UpdateStatusInput) (*domain.Call, error) {
	if !in.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", apperrors.ErrValidation, in.Status)
	}
	event, err := domain.ForceEvent(in.Status)
	if err != nil {
		return nil, fmt.Errorf("%w: status must be completed, failed or cancelled", apperrors.ErrValidation)
	}

	call, err := s.calls.GetCall(ctx, id)
	if err != nil {
		return nil, err
	}
	if call.Status.IsTerminal() {
		return nil, s.rejectOverride(ctx, call, in.Status)
	}

	previous := call.Status
	updated, _, err := s.apply(ctx, call, change{
		event:          event,
		source:         SourceOverride,
		providerCallID: in.ProviderCallID,
		summary:        in.Summary,
		data:           in.StructuredData,
	})
	if errors.Is(err, domain.ErrCallTerminal) {
		return nil, s.rejectOverride(ctx, updated, in.Status)
	}
	if err != nil {
		return nil, err
	}

	entry := map[string]any{
		"oldStatus": string(previous),
		"newStatus": string(updated.Status),
	}
	if in.Summary != nil {
		entry["summary"] = *in.Summary
	}
	if in.StructuredData != nil {
		entry["structuredData"] = in.StructuredData
	}
	s.appendLog(ctx, updated.ID, domain.LogStatusUpdated, entry)
	return updated, nil
}

func (s *Service) rejectOverride(ctx context.Context, call *domain.Call, requested domain.CallStatus) error {
	s.appendLog(ctx, call.ID, domain.LogStatusOverrideRejected, map[string]any{
		"currentStatus":   string(call.Status),
		"requestedStatus": string(requested),
	})
	return fmt.Errorf("%w: call is already %s", apperrors.ErrConflict, call.Status)
}

// Cancel stops a call that the provider has not picked up yet.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*domain.Call, error) {
	call, err := s.calls.GetCall(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, _, err := s.apply(ctx, call, change{event: domain.CallEventCancel, source: SourceCancel})
	if errors.Is(err, domain.ErrCallTerminal) || errors.Is(err, domain.ErrInvalidTransition) {
		return nil, fmt.Errorf("%w: call is %s and can no longer be cancelled", apperrors.ErrConflict, updated.Status)
	}
	if err != nil {
		return nil, err
	}

	s.appendLog(ctx, updated.ID, domain.LogCallCancelled, map[string]any{"previousStatus": string(call.Status)})
	return updated, nil
}

// Abandon fails a live call that no campaign attempt owns. An already
// finished call is returned unchanged.
func (s *Service) Abandon(ctx context.Context, id uuid.UUID, reason string) (*domain.Call, error) {
	call, err := s.calls.GetCall(ctx, id)
	if err != nil {
		return nil, err
	}
	if call.Status.IsTerminal() {
		return call, nil
	}

	previous := call.Status
	updated, changed, err := s.apply(ctx, call, change{
		event:  domain.CallEventForceFailed,
		source: SourceScheduler,
		data:   map[string]any{"error": reason},
	})
	if errors.Is(err, domain.ErrCallTerminal) {
		return updated, nil
	}
	if err != nil {
		return nil, err
	}
	if changed {
		s.appendLog(ctx, updated.ID, domain.LogAttemptSuperseded, map[string]any{
			"previousStatus": string(previous),
			"reason":         reason,
		})
	}
	return updated, nil
}
