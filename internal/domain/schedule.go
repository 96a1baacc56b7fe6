package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleStatus enumerates lifecycle states of a scheduled call campaign.
type ScheduleStatus string

const (
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusRunning   ScheduleStatus = "running"
	ScheduleStatusCompleted ScheduleStatus = "completed"
	ScheduleStatusFailed    ScheduleStatus = "failed"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
)

// IsTerminal reports whether the campaign will make no further attempts.
func (s ScheduleStatus) IsTerminal() bool {
	switch s {
	case ScheduleStatusCompleted, ScheduleStatusFailed, ScheduleStatusCancelled:
		return true
	}
	return false
}

// Retry policy bounds for scheduled calls.
const (
	DefaultRetryIntervalMinutes = 60
	MinRetryIntervalMinutes     = 5
	MaxRetryIntervalMinutes     = 1440
	DefaultMaxAttempts          = 3
	MinMaxAttempts              = 1
	MaxMaxAttempts              = 10
)

// ScheduledCall is a retrying campaign targeting one patient.
type ScheduledCall struct {
	ID                   uuid.UUID
	PatientID            uuid.UUID
	StartAt              time.Time
	RetryIntervalMinutes int
	MaxAttempts          int
	AttemptsMade         int
	NextAttemptAt        *time.Time
	Status               ScheduleStatus
	VoicemailTemplate    string
	Version              int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// RetryInterval returns the configured spacing between attempts.
func (s ScheduledCall) RetryInterval() time.Duration {
	return time.Duration(s.RetryIntervalMinutes) * time.Minute
}

// Exhausted reports whether the attempt budget is spent.
func (s ScheduledCall) Exhausted() bool {
	return s.AttemptsMade >= s.MaxAttempts
}

// AttemptOutcome is the result of one campaign attempt.
type AttemptOutcome string

const (
	AttemptOutcomeInProgress AttemptOutcome = "in_progress"
	AttemptOutcomeAnswered   AttemptOutcome = "answered"
	AttemptOutcomeFailed     AttemptOutcome = "failed"
)

// CallAttempt links a campaign to the call placed for one of its attempts.
type CallAttempt struct {
	ID              uuid.UUID
	ScheduledCallID uuid.UUID
	AttemptNumber   int
	CallID          uuid.UUID
	Outcome         AttemptOutcome
	CreatedAt       time.Time
	EndedAt         *time.Time
}

// OutcomeForCall maps a terminal call status onto an attempt outcome.
// Cancelled calls count as failed attempts.
func OutcomeForCall(status CallStatus) (AttemptOutcome, bool) {
	switch status {
	case CallStatusCompleted:
		return AttemptOutcomeAnswered, true
	case CallStatusFailed, CallStatusCancelled:
		return AttemptOutcomeFailed, true
	}
	return "", false
}
