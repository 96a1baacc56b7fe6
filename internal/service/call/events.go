package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/pharmacy-outreach/internal/domain"
	"github.com/acme/pharmacy-outreach/internal/repository"
	"github.com/acme/pharmacy-outreach/pkg/phone"
)

// Function names the voice assistant may invoke.
const (
	FunctionConfirmDelivery  = "confirmDelivery"
	FunctionUpdateMedication = "updateMedication"
)

// failureMarkers flag an ended call as failed when found in its status or
// reason text.
var failureMarkers = []string{"fail", "cancel", "error", "busy", "no-answer", "no_answer", "unanswered"}

// Result reports what an event did to its call.
type Result string

const (
	ResultApplied   Result = "applied"
	ResultLogged    Result = "logged"
	ResultIgnored   Result = "ignored"
	ResultUnmatched Result = "unmatched"
)

// HandleProgress applies call-started, queued, ringing and answered events.
// The first one moves a PENDING call to IN_PROGRESS; repeats are only logged.
func (s *Service) HandleProgress(ctx context.Context, ev domain.ProgressEvent) (Result, error) {
	call, err := s.correlate(ctx, ev.Key(), domain.ProviderEventProgress)
	if err != nil || call == nil {
		return ResultUnmatched, err
	}

	if call.Status.IsTerminal() {
		s.ignore(ctx, call, ev.Event, "call already "+string(call.Status))
		return ResultIgnored, nil
	}

	updated, changed, err := s.apply(ctx, call, change{
		event:          domain.CallEventProgress,
		source:         SourceWebhook,
		providerCallID: ev.ProviderCallID,
	})
	if errors.Is(err, domain.ErrCallTerminal) {
		s.ignore(ctx, updated, ev.Event, "call already "+string(updated.Status))
		return ResultIgnored, nil
	}
	if err != nil {
		return "", err
	}

	eventType := domain.LogCallProgress
	if ev.Event == "call-started" {
		eventType = domain.LogCallStarted
	}
	s.appendLog(ctx, updated.ID, eventType, compact(map[string]any{
		"event":          ev.Event,
		"providerCallId": ev.ProviderCallID,
		"phoneNumber":    ev.PhoneNumber,
		"status":         ev.Status,
	}))

	if changed {
		return ResultApplied, nil
	}
	return ResultLogged, nil
}

// HandleEnded applies the terminal transition for a call-ended event. The
// event may arrive before any progress event. Repeats against a finished
// call are narrated as EVENT_IGNORED and change nothing.
func (s *Service) HandleEnded(ctx context.Context, ev domain.EndedEvent) (Result, error) {
	call, err := s.correlate(ctx, ev.Key(), domain.ProviderEventEnded)
	if err != nil || call == nil {
		return ResultUnmatched, err
	}

	if call.Status.IsTerminal() {
		s.ignore(ctx, call, ev.Event, "call already "+string(call.Status))
		return ResultIgnored, nil
	}

	failed := EndedFailed(ev)
	event := domain.CallEventEndedOK
	result := "completed"
	summary := ev.Summary
	if failed {
		event = domain.CallEventEndedFailed
		result = "failed"
		if summary == "" {
			summary = "Call failed"
		}
	} else if summary == "" {
		summary = "Call completed"
	}

	completedAt := s.clock()
	if ev.DurationSeconds > 0 && ev.DurationSeconds <= domain.MaxCallDuration.Seconds() {
		completedAt = call.CreatedAt.Add(time.Duration(ev.DurationSeconds * float64(time.Second))).UTC()
	}

	data := compact(map[string]any{
		"transcript":  ev.Transcript,
		"reason":      ev.Reason,
		"status":      ev.Status,
		"error":       ev.Error,
		"hangupBy":    ev.HangupBy,
		"completedAt": completedAt.Format(time.RFC3339Nano),
	})
	data["duration"] = ev.DurationSeconds

	updated, changed, err := s.apply(ctx, call, change{
		event:          event,
		source:         SourceWebhook,
		providerCallID: ev.ProviderCallID,
		summary:        &summary,
		data:           data,
		completedAt:    &completedAt,
	})
	if errors.Is(err, domain.ErrCallTerminal) || (err == nil && !changed) {
		s.ignore(ctx, updated, ev.Event, "call already "+string(updated.Status))
		return ResultIgnored, nil
	}
	if err != nil {
		return "", err
	}

	s.appendLog(ctx, updated.ID, domain.LogCallEnded, compact(map[string]any{
		"providerCallId": ev.ProviderCallID,
		"summary":        ev.Summary,
		"transcript":     ev.Transcript,
		"duration":       ev.DurationSeconds,
		"reason":         ev.Reason,
		"error":          ev.Error,
		"hangupBy":       ev.HangupBy,
		"result":         result,
	}))
	return ResultApplied, nil
}

// RecordTranscript appends an interim transcript fragment to the call log.
func (s *Service) RecordTranscript(ctx context.Context, ev domain.TranscriptEvent) (Result, error) {
	call, err := s.correlate(ctx, ev.Key(), domain.ProviderEventTranscript)
	if err != nil || call == nil {
		return ResultUnmatched, err
	}

	timestamp := ev.Timestamp
	if timestamp == "" {
		timestamp = s.clock().Format(time.RFC3339Nano)
	}
	s.appendLog(ctx, call.ID, domain.LogTranscript, compact(map[string]any{
		"providerCallId": ev.ProviderCallID,
		"transcript":     ev.Transcript,
		"speaker":        ev.Speaker,
		"timestamp":      timestamp,
	}))
	return ResultLogged, nil
}

// RecordFunctionCall logs an assistant tool invocation. Delivery
// confirmations and medication updates get their own entries.
func (s *Service) RecordFunctionCall(ctx context.Context, ev domain.FunctionCallEvent) (Result, error) {
	call, err := s.correlate(ctx, ev.Key(), domain.ProviderEventFunctionCall)
	if err != nil || call == nil {
		return ResultUnmatched, err
	}

	s.appendLog(ctx, call.ID, domain.LogFunctionCall, compact(map[string]any{
		"providerCallId": ev.ProviderCallID,
		"functionName":   ev.FunctionName,
		"parameters":     ev.Parameters,
	}))

	params := ev.Parameters
	switch ev.FunctionName {
	case FunctionConfirmDelivery:
		s.appendLog(ctx, call.ID, domain.LogDeliveryConfirmation, map[string]any{
			"confirmed":    params["confirmed"],
			"deliveryTime": params["deliveryTime"],
			"notes":        params["notes"],
		})
	case FunctionUpdateMedication:
		s.appendLog(ctx, call.ID, domain.LogMedicationUpdate, map[string]any{
			"medicationChanges": params["medicationChanges"],
			"patientResponse":   params["patientResponse"],
		})
	default:
		s.logger.Debug("unhandled function call",
			zap.String("call_id", call.ID.String()),
			zap.String("function", ev.FunctionName),
		)
	}
	return ResultLogged, nil
}

// EndedFailed classifies a call-ended event. Any explicit failure signal
// wins; silence means the call completed.
func EndedFailed(ev domain.EndedEvent) bool {
	if ev.Success != nil && !*ev.Success {
		return true
	}
	if strings.TrimSpace(ev.Error) != "" {
		return true
	}
	text := strings.ToLower(ev.Status + " " + ev.Reason)
	for _, marker := range failureMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// correlate finds the call an event refers to. The provider call id is
// authoritative. Without a match on it the newest active call of the patient
// (by metadata id, then by phone number) is used, and the provider id is
// bound to it. A fallback candidate already bound to a different provider
// id is not a match. A nil call with nil error means no match.
func (s *Service) correlate(ctx context.Context, key domain.Correlation, kind domain.ProviderEventKind) (*domain.Call, error) {
	if key.ProviderCallID != "" {
		call, err := s.calls.FindByProviderCallID(ctx, key.ProviderCallID)
		if err == nil {
			return call, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("call service: find by provider id: %w", err)
		}
	}

	call, err := s.fallbackCandidate(ctx, key)
	if err != nil {
		return nil, err
	}
	if call == nil {
		s.miss(kind, key, "no matching call")
		return nil, nil
	}

	if key.ProviderCallID == "" {
		return call, nil
	}
	if call.ProviderCallID != "" && call.ProviderCallID != key.ProviderCallID {
		s.miss(kind, key, "active call bound to another provider id")
		return nil, nil
	}
	if call.ProviderCallID == "" {
		if err := s.calls.SetProviderCallID(ctx, call.ID, key.ProviderCallID); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				s.miss(kind, key, "provider id bound concurrently")
				return nil, nil
			}
			return nil, fmt.Errorf("call service: bind provider id: %w", err)
		}
		call.ProviderCallID = key.ProviderCallID
	}
	return call, nil
}

func (s *Service) fallbackCandidate(ctx context.Context, key domain.Correlation) (*domain.Call, error) {
	var patientID uuid.UUID
	if key.PatientID != "" {
		if id, err := uuid.Parse(key.PatientID); err == nil {
			patientID = id
		}
	}
	if patientID == uuid.Nil && key.PhoneNumber != "" {
		patient, err := s.patients.FindByPhone(ctx, phone.Canonical(key.PhoneNumber, s.region))
		switch {
		case err == nil:
			patientID = patient.ID
		case !errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("call service: find patient by phone: %w", err)
		}
	}
	if patientID == uuid.Nil {
		return nil, nil
	}

	call, err := s.calls.FindActiveByPatient(ctx, patientID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("call service: find active call: %w", err)
	}
	return call, nil
}

func (s *Service) miss(kind domain.ProviderEventKind, key domain.Correlation, reason string) {
	s.metrics.CorrelationMiss(string(kind))
	s.logger.Info("webhook event not correlated",
		zap.String("kind", string(kind)),
		zap.String("provider_call_id", key.ProviderCallID),
		zap.String("patient_id", key.PatientID),
		zap.String("reason", reason),
	)
}

func (s *Service) ignore(ctx context.Context, call *domain.Call, event, reason string) {
	s.appendLog(ctx, call.ID, domain.LogEventIgnored, map[string]any{
		"event":  event,
		"status": string(call.Status),
		"reason": reason,
	})
}

// compact drops empty strings, zero numbers and nil values.
func compact(m map[string]any) map[string]any {
	for k, v := range m {
		switch val := v.(type) {
		case nil:
			delete(m, k)
		case string:
			if val == "" {
				delete(m, k)
			}
		case float64:
			if val == 0 {
				delete(m, k)
			}
		case map[string]any:
			if len(val) == 0 {
				delete(m, k)
			}
		}
	}
	return m
}
