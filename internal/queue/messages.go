package queue

import (
	"time"

	"github.com/google/uuid"
)

// StatusMessage announces one call status change. PreviousStatus is empty
// when the call was just created.
type StatusMessage struct {
	CallID          uuid.UUID  `json:"call_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	ScheduledCallID *uuid.UUID `json:"scheduled_call_id,omitempty"`
	Status          string     `json:"status"`
	PreviousStatus  string     `json:"previous_status,omitempty"`
	Source          string     `json:"source"`
	CallCreatedAt   time.Time  `json:"call_created_at"`
	OccurredAt      time.Time  `json:"occurred_at"`
}
