package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrCallTerminal is returned for any event against a finished call.
	ErrCallTerminal = errors.New("call is in a terminal state")
	// ErrInvalidTransition is returned when an event does not apply to the current status.
	ErrInvalidTransition = errors.New("invalid call status transition")
)

// CallEvent is an input to the call state machine.
type CallEvent string

const (
	CallEventDispatched     CallEvent = "dispatched"
	CallEventDispatchFailed CallEvent = "dispatch_failed"
	CallEventProgress       CallEvent = "progress"
	CallEventEndedOK        CallEvent = "ended_ok"
	CallEventEndedFailed    CallEvent = "ended_failed"
	CallEventCancel         CallEvent = "cancel"
	CallEventForceCompleted CallEvent = "force_completed"
	CallEventForceFailed    CallEvent = "force_failed"
	CallEventForceCancelled CallEvent = "force_cancelled"
)

// NextCallStatus applies event to current. A result equal to current means
// the event is recorded in the call log only.
func NextCallStatus(current CallStatus, event CallEvent) (CallStatus, error) {
	if current.IsTerminal() {
		return current, fmt.Errorf("%w: %s", ErrCallTerminal, current)
	}

	switch current {
	case CallStatusPending:
		switch event {
		case CallEventDispatched:
			return CallStatusPending, nil
		case CallEventDispatchFailed, CallEventEndedFailed, CallEventForceFailed:
			return CallStatusFailed, nil
		case CallEventProgress:
			return CallStatusInProgress, nil
		case CallEventEndedOK, CallEventForceCompleted:
			return CallStatusCompleted, nil
		case CallEventCancel, CallEventForceCancelled:
			return CallStatusCancelled, nil
		}
	case CallStatusInProgress:
		switch event {
		case CallEventDispatched, CallEventDispatchFailed, CallEventProgress:
			return CallStatusInProgress, nil
		case CallEventEndedOK, CallEventForceCompleted:
			return CallStatusCompleted, nil
		case CallEventEndedFailed, CallEventForceFailed:
			return CallStatusFailed, nil
		case CallEventForceCancelled:
			return CallStatusCancelled, nil
		}
	}

	return current, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, current)
}

// ForceEvent maps an administrative override target to its event.
func ForceEvent(target CallStatus) (CallEvent, error) {
	switch target {
	case CallStatusCompleted:
		return CallEventForceCompleted, nil
	case CallStatusFailed:
		return CallEventForceFailed, nil
	case CallStatusCancelled:
		return CallEventForceCancelled, nil
	}
	return "", fmt.Errorf("%w: override target %q must be terminal", ErrInvalidTransition, target)
}
