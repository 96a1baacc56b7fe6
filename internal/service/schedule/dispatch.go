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
)

// DispatchResult describes what one scheduling pass did to a campaign.
type DispatchResult string

const (
	DispatchResultDispatched DispatchResult = "dispatched"
	DispatchResultDeferred   DispatchResult = "deferred"
	DispatchResultExhausted  DispatchResult = "exhausted"
	DispatchResultSkipped    DispatchResult = "skipped"
	// DispatchResultSuperseded means another pass advanced the campaign
	// while this one was dialing; its call is abandoned.
	DispatchResultSuperseded DispatchResult = "superseded"
)

// DispatchAttempt advances a due campaign by one step: it fails an exhausted
// campaign, defers one that is outside the patient's allowed hours, or places
// the next call and records the attempt.
func (s *Service) DispatchAttempt(ctx context.Context, id uuid.UUID) (DispatchResult, error) {
	now := s.clock()

	sc, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("schedule service: load campaign: %w", err)
	}
	if sc.Status.IsTerminal() || sc.NextAttemptAt == nil || sc.NextAttemptAt.After(now) {
		return DispatchResultSkipped, nil
	}

	if sc.Exhausted() {
		sc.Status = domain.ScheduleStatusFailed
		sc.NextAttemptAt = nil
		sc.UpdatedAt = now
		if err := s.repo.Update(ctx, sc); err != nil {
			return "", fmt.Errorf("schedule service: fail exhausted campaign: %w", err)
		}
		return DispatchResultExhausted, nil
	}

	patient, err := s.patients.Get(ctx, sc.PatientID)
	if err != nil {
		return "", fmt.Errorf("schedule service: load patient: %w", err)
	}

	if window, ok := patient.CallPreferences.Window(); ok {
		local := now.In(s.patientLocation(patient))
		if !window.Contains(local.Hour()) {
			next := NextWindowStart(local, window).UTC()
			sc.NextAttemptAt = &next
			sc.UpdatedAt = now
			if err := s.repo.Update(ctx, sc); err != nil {
				return "", fmt.Errorf("schedule service: defer campaign: %w", err)
			}
			return DispatchResultDeferred, nil
		}
	}

	call, err := s.dispatcher.CreateAndDispatch(ctx, sc.PatientID, &sc.ID)
	if err != nil {
		return "", fmt.Errorf("schedule service: dispatch call: %w", err)
	}

	recorded, err := s.recordAttempt(ctx, sc, call.ID, now)
	if err != nil {
		return "", err
	}
	if !recorded {
		s.logger.Warn("campaign advanced concurrently, abandoning call",
			zap.String("scheduled_call_id", sc.ID.String()),
			zap.String("call_id", call.ID.String()),
		)
		if _, err := s.dispatcher.Abandon(ctx, call.ID, "campaign attempt superseded"); err != nil {
			return DispatchResultSuperseded, fmt.Errorf("schedule service: abandon superseded call: %w", err)
		}
		return DispatchResultSuperseded, nil
	}

	// The call may already be finished: dispatch failures are terminal at
	// once, and a fast webhook can beat the attempt row.
	latest, err := s.calls.GetCall(ctx, call.ID)
	if err != nil {
		s.logger.Warn("reload dispatched call", zap.String("call_id", call.ID.String()), zap.Error(err))
		return DispatchResultDispatched, nil
	}
	if latest.Status.IsTerminal() {
		if err := s.RecordOutcome(ctx, latest); err != nil {
			return DispatchResultDispatched, err
		}
	}
	return DispatchResultDispatched, nil
}

// recordAttempt writes the attempt row and advances the campaign. After a
// version conflict it reloads and retries only while the campaign is still
// due, live and within budget; otherwise it reports false and writes nothing.
func (s *Service) recordAttempt(ctx context.Context, sc *domain.ScheduledCall, callID uuid.UUID, now time.Time) (bool, error) {
	for i := 0; ; i++ {
		attempt := &domain.CallAttempt{
			ID:              uuid.New(),
			ScheduledCallID: sc.ID,
			AttemptNumber:   sc.AttemptsMade + 1,
			CallID:          callID,
			Outcome:         domain.AttemptOutcomeInProgress,
			CreatedAt:       now,
		}

		base := now
		if sc.StartAt.After(base) {
			base = sc.StartAt
		}
		next := base.Add(sc.RetryInterval())
		sc.AttemptsMade = attempt.AttemptNumber
		sc.UpdatedAt = now
		sc.Status = domain.ScheduleStatusRunning
		sc.NextAttemptAt = &next

		err := s.repo.RecordAttempt(ctx, sc, attempt)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, repository.ErrConflict) || i+1 >= maxUpdateRetries {
			return false, fmt.Errorf("schedule service: record attempt: %w", err)
		}

		fresh, gerr := s.repo.Get(ctx, sc.ID)
		if gerr != nil {
			return false, fmt.Errorf("schedule service: reload campaign: %w", gerr)
		}
		if !stillDue(fresh, now) {
			*sc = *fresh
			return false, nil
		}
		*sc = *fresh
	}
}

func stillDue(sc *domain.ScheduledCall, now time.Time) bool {
	if sc.Status.IsTerminal() || sc.Exhausted() {
		return false
	}
	return sc.NextAttemptAt != nil && !sc.NextAttemptAt.After(now)
}

// RecordOutcome applies a finished call to its campaign attempt. It is
// idempotent: only the first report for an attempt changes anything.
func (s *Service) RecordOutcome(ctx context.Context, call *domain.Call) error {
	if call.ScheduledCallID == nil {
		return nil
	}
	outcome, ok := domain.OutcomeForCall(call.Status)
	if !ok {
		return nil
	}

	attempt, err := s.repo.FindAttemptByCallID(ctx, call.ID)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Debug("no attempt for call yet", zap.String("call_id", call.ID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("schedule service: find attempt: %w", err)
	}

	endedAt := s.clock()
	if call.CompletedAt != nil {
		endedAt = *call.CompletedAt
	}
	changed, err := s.repo.ResolveAttempt(ctx, attempt.ID, outcome, endedAt)
	if err != nil {
		return fmt.Errorf("schedule service: resolve attempt: %w", err)
	}
	if !changed {
		return nil
	}

	_, err = s.mutate(ctx, attempt.ScheduledCallID, func(sc *domain.ScheduledCall) (bool, error) {
		if sc.Status.IsTerminal() {
			return false, nil
		}
		switch {
		case outcome == domain.AttemptOutcomeAnswered:
			sc.Status = domain.ScheduleStatusCompleted
			sc.NextAttemptAt = nil
		case sc.Exhausted():
			sc.Status = domain.ScheduleStatusFailed
			sc.NextAttemptAt = nil
		default:
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("campaign attempt finished",
		zap.String("scheduled_call_id", attempt.ScheduledCallID.String()),
		zap.Int("attempt", attempt.AttemptNumber),
		zap.String("outcome", string(outcome)),
	)
	return nil
}

func (s *Service) patientLocation(p *domain.Patient) *time.Location {
	if p.CallPreferences.TimeZone != "" {
		if loc, err := time.LoadLocation(p.CallPreferences.TimeZone); err == nil {
			return loc
		}
		s.logger.Warn("invalid patient time zone",
			zap.String("patient_id", p.ID.String()),
			zap.String("time_zone", p.CallPreferences.TimeZone),
		)
	}
	return s.location
}

// NextWindowStart returns the next time at or after local when the window
// opens: today at window.Start if that is still ahead, else tomorrow.
func NextWindowStart(local time.Time, window domain.AllowedHours) time.Time {
	start := time.Date(local.Year(), local.Month(), local.Day(), window.Start, 0, 0, 0, local.Location())
	if !start.After(local) {
		start = start.AddDate(0, 0, 1)
	}
	return start
}
