package domain

import (
	"errors"
	"testing"
)

func TestNextCallStatus(t *testing.T) {
	cases := []struct {
		name    string
		current CallStatus
		event   CallEvent
		want    CallStatus
		wantErr error
	}{
		{"dispatch keeps pending", CallStatusPending, CallEventDispatched, CallStatusPending, nil},
		{"dispatch failure fails", CallStatusPending, CallEventDispatchFailed, CallStatusFailed, nil},
		{"progress starts call", CallStatusPending, CallEventProgress, CallStatusInProgress, nil},
		{"ended before started", CallStatusPending, CallEventEndedOK, CallStatusCompleted, nil},
		{"cancel pending", CallStatusPending, CallEventCancel, CallStatusCancelled, nil},
		{"repeat progress is log only", CallStatusInProgress, CallEventProgress, CallStatusInProgress, nil},
		{"late dispatch failure is log only", CallStatusInProgress, CallEventDispatchFailed, CallStatusInProgress, nil},
		{"ended ok", CallStatusInProgress, CallEventEndedOK, CallStatusCompleted, nil},
		{"ended failed", CallStatusInProgress, CallEventEndedFailed, CallStatusFailed, nil},
		{"cancel in progress", CallStatusInProgress, CallEventCancel, CallStatusInProgress, ErrInvalidTransition},
		{"force cancel in progress", CallStatusInProgress, CallEventForceCancelled, CallStatusCancelled, nil},
		{"completed is terminal", CallStatusCompleted, CallEventEndedFailed, CallStatusCompleted, ErrCallTerminal},
		{"failed is terminal", CallStatusFailed, CallEventProgress, CallStatusFailed, ErrCallTerminal},
		{"cancelled is terminal", CallStatusCancelled, CallEventForceCompleted, CallStatusCancelled, ErrCallTerminal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NextCallStatus(tc.current, tc.event)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestTerminalStatusesAcceptNoEvent(t *testing.T) {
	events := []CallEvent{
		CallEventDispatched, CallEventDispatchFailed, CallEventProgress, CallEventEndedOK,
		CallEventEndedFailed, CallEventCancel, CallEventForceCompleted, CallEventForceFailed,
		CallEventForceCancelled,
	}
	for _, status := range []CallStatus{CallStatusCompleted, CallStatusFailed, CallStatusCancelled} {
		for _, ev := range events {
			next, err := NextCallStatus(status, ev)
			if !errors.Is(err, ErrCallTerminal) || next != status {
				t.Fatalf("%s + %s: expected terminal rejection, got %s, %v", status, ev, next, err)
			}
		}
	}
}

func TestForceEventRequiresTerminalTarget(t *testing.T) {
	if _, err := ForceEvent(CallStatusInProgress); err == nil {
		t.Fatalf("expected non-terminal override target to fail")
	}
	ev, err := ForceEvent(CallStatusFailed)
	if err != nil || ev != CallEventForceFailed {
		t.Fatalf("unexpected mapping %s, %v", ev, err)
	}
}

func TestAllowedHoursContains(t *testing.T) {
	day := AllowedHours{Start: 9, End: 18}
	if !day.Contains(9) || day.Contains(18) || day.Contains(3) {
		t.Fatalf("unexpected containment for %+v", day)
	}

	night := AllowedHours{Start: 22, End: 6}
	if !night.Contains(23) || !night.Contains(2) || night.Contains(12) {
		t.Fatalf("unexpected containment for wrapping window %+v", night)
	}
}
