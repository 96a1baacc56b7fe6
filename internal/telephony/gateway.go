// Package telephony defines the outbound dispatch boundary to the voice provider.
package telephony

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrMissingDestination is returned when a request carries no phone number.
var ErrMissingDestination = errors.New("telephony: destination is required")

// Request describes one outbound call to place.
type Request struct {
	CallID      uuid.UUID
	Destination string
	PatientID   uuid.UUID
	PatientName string
}

// Dispatch is the provider's acknowledgement of an accepted call.
type Dispatch struct {
	ProviderCallID string
	Status         string
}

// Gateway places outbound calls. Accepting a call says nothing about whether
// it will be answered; progress arrives later through webhooks.
type Gateway interface {
	InitiateCall(ctx context.Context, req Request) (Dispatch, error)
}
