package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/pharmacy-outreach/internal/domain"
	apperrors "github.com/acme/pharmacy-outreach/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a lost optimistic update or a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// PatientRepository reads patient records.
type PatientRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Patient, error)
	FindByPhone(ctx context.Context, phone string) (*domain.Patient, error)
}

// CallStore persists calls. Status changes go through ApplyTransition only.
type CallStore interface {
	CreateCall(ctx context.Context, call *domain.Call) error
	GetCall(ctx context.Context, id uuid.UUID) (*domain.Call, error)
	FindByProviderCallID(ctx context.Context, providerCallID string) (*domain.Call, error)
	// FindActiveByPatient returns the patient's most recent pending call,
	// falling back to the most recent in-progress call.
	FindActiveByPatient(ctx context.Context, patientID uuid.UUID) (*domain.Call, error)
	// SetProviderCallID records the provider id unless a different one is
	// already present, in which case ErrConflict is returned.
	SetProviderCallID(ctx context.Context, id uuid.UUID, providerCallID string) error
	// ApplyTransition updates the call only while it is still in t.From.
	// It returns ErrNotFound for unknown calls and ErrConflict when the
	// status moved underneath the caller.
	ApplyTransition(ctx context.Context, t CallTransition) error
	ListCalls(ctx context.Context, filter CallFilter) ([]domain.Call, error)
}

// CallTransition is a guarded status change.
type CallTransition struct {
	CallID         uuid.UUID
	From           domain.CallStatus
	To             domain.CallStatus
	ProviderCallID string
	Summary        *string
	StructuredData map[string]any
	CompletedAt    *time.Time
	UpdatedAt      time.Time
}

// CallFilter narrows call listings.
type CallFilter struct {
	PatientID       *uuid.UUID
	ScheduledCallID *uuid.UUID
	Status          domain.CallStatus
	Limit           int
	Offset          int
}

// CallLogStore keeps the append-only call narrative.
type CallLogStore interface {
	Append(ctx context.Context, entry domain.CallLog) error
	List(ctx context.Context, callID uuid.UUID, limit int, pagingState []byte) ([]domain.CallLog, []byte, error)
}

// WebhookJournal records raw provider events before they are processed.
type WebhookJournal interface {
	Record(ctx context.Context, entry WebhookJournalEntry) error
}

// WebhookJournalEntry is one received webhook body.
type WebhookJournalEntry struct {
	ID             uuid.UUID
	EventType      string
	ProviderCallID string
	Verified       bool
	Payload        []byte
	ReceivedAt     time.Time
}

// ScheduleRepository persists scheduled call campaigns and their attempts.
type ScheduleRepository interface {
	Create(ctx context.Context, schedule *domain.ScheduledCall) error
	Get(ctx context.Context, id uuid.UUID) (*domain.ScheduledCall, error)
	List(ctx context.Context, filter ScheduleFilter) ([]*domain.ScheduledCall, error)
	// ListDue returns active campaigns with nextAttemptAt <= now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduledCall, error)
	// Update writes the campaign if its version still matches and bumps
	// schedule.Version. A stale version yields ErrConflict.
	Update(ctx context.Context, schedule *domain.ScheduledCall) error

	// RecordAttempt inserts the attempt and applies the versioned campaign
	// update in one transaction.
	RecordAttempt(ctx context.Context, schedule *domain.ScheduledCall, attempt *domain.CallAttempt) error
	FindAttemptByCallID(ctx context.Context, callID uuid.UUID) (*domain.CallAttempt, error)
	// ResolveAttempt sets the outcome only while the attempt is in progress
	// and reports whether this call changed it.
	ResolveAttempt(ctx context.Context, id uuid.UUID, outcome domain.AttemptOutcome, endedAt time.Time) (bool, error)
	ListAttempts(ctx context.Context, scheduledCallID uuid.UUID) ([]domain.CallAttempt, error)
}

// ScheduleFilter narrows campaign listings.
type ScheduleFilter struct {
	PatientID *uuid.UUID
	Status    domain.ScheduleStatus
	Limit     int
	Offset    int
}

// CallStatisticsRepository keeps daily aggregate counters.
type CallStatisticsRepository interface {
	Get(ctx context.Context, day time.Time) (*domain.CallStats, error)
	ApplyDelta(ctx context.Context, day time.Time, delta StatsDelta) error
}

// StatsDelta captures atomic counter increments.
type StatsDelta struct {
	TotalCallsDelta      int64
	PendingCallsDelta    int64
	InProgressCallsDelta int64
	CompletedCallsDelta  int64
	FailedCallsDelta     int64
	CancelledCallsDelta  int64
}

// IsZero reports whether the delta changes nothing.
func (d StatsDelta) IsZero() bool {
	return d == StatsDelta{}
}

// DeltaForTransition moves one call from its previous status bucket into
// the next. An empty previous status counts a newly created call.
func DeltaForTransition(previous, next domain.CallStatus) StatsDelta {
	var d StatsDelta
	if previous == next {
		return d
	}
	if previous == "" {
		d.TotalCallsDelta = 1
	} else {
		d.add(previous, -1)
	}
	d.add(next, 1)
	return d
}

func (d *StatsDelta) add(status domain.CallStatus, n int64) {
	switch status {
	case domain.CallStatusPending:
		d.PendingCallsDelta += n
	case domain.CallStatusInProgress:
		d.InProgressCallsDelta += n
	case domain.CallStatusCompleted:
		d.CompletedCallsDelta += n
	case domain.CallStatusFailed:
		d.FailedCallsDelta += n
	case domain.CallStatusCancelled:
		d.CancelledCallsDelta += n
	}
}

// BucketDay truncates t to its UTC calendar day.
func BucketDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
