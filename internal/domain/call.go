package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus enumerates lifecycle stages for an individual call.
type CallStatus string

const (
	CallStatusPending    CallStatus = "pending"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusCancelled  CallStatus = "cancelled"
)

// IsTerminal reports whether no further status change is allowed.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusPending, CallStatusInProgress, CallStatusCompleted, CallStatusFailed, CallStatusCancelled:
		return true
	}
	return false
}

// Call is one outbound voice interaction with a patient.
type Call struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	Status          CallStatus
	ProviderCallID  string
	Summary         string
	StructuredData  map[string]any
	ScheduledCallID *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// Call log event types.
const (
	LogCallInitiated          = "CALL_INITIATED"
	LogProviderDispatched     = "PROVIDER_DISPATCHED"
	LogDispatchError          = "DISPATCH_ERROR"
	LogCallStarted            = "CALL_STARTED"
	LogCallProgress           = "CALL_PROGRESS"
	LogCallEnded              = "CALL_ENDED"
	LogEventIgnored           = "EVENT_IGNORED"
	LogTranscript             = "TRANSCRIPT"
	LogFunctionCall           = "FUNCTION_CALL"
	LogDeliveryConfirmation   = "DELIVERY_CONFIRMATION"
	LogMedicationUpdate       = "MEDICATION_UPDATE"
	LogStatusUpdated          = "STATUS_UPDATED"
	LogStatusOverrideRejected = "STATUS_OVERRIDE_REJECTED"
	LogCallCancelled          = "CALL_CANCELLED"
	LogAttemptSuperseded      = "ATTEMPT_SUPERSEDED"
	LogAppendFailed           = "LOG_APPEND_FAILED"
)

// CallLog is an append-only narrative entry attached to a call.
type CallLog struct {
	ID        uuid.UUID
	CallID    uuid.UUID
	EventType string
	Data      map[string]any
	Timestamp time.Time
}

// CallStats aggregates call counters for one day.
type CallStats struct {
	Day             time.Time `db:"day"`
	TotalCalls      int64     `db:"total_calls"`
	PendingCalls    int64     `db:"pending_calls"`
	InProgressCalls int64     `db:"in_progress_calls"`
	CompletedCalls  int64     `db:"completed_calls"`
	FailedCalls     int64     `db:"failed_calls"`
	CancelledCalls  int64     `db:"cancelled_calls"`
}

// SuccessRate is completed calls over finished calls, zero when none finished.
func (s CallStats) SuccessRate() float64 {
	finished := s.CompletedCalls + s.FailedCalls + s.CancelledCalls
	if finished <= 0 {
		return 0
	}
	return float64(s.CompletedCalls) / float64(finished)
}
