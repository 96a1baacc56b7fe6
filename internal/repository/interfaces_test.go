package repository

import (
	"testing"
	"time"

	"github.com/acme/pharmacy-outreach/internal/domain"
)

func TestDeltaForTransition(t *testing.T) {
	created := DeltaForTransition("", domain.CallStatusPending)
	if created != (StatsDelta{TotalCallsDelta: 1, PendingCallsDelta: 1}) {
		t.Fatalf("unexpected creation delta %+v", created)
	}

	started := DeltaForTransition(domain.CallStatusPending, domain.CallStatusInProgress)
	if started != (StatsDelta{PendingCallsDelta: -1, InProgressCallsDelta: 1}) {
		t.Fatalf("unexpected start delta %+v", started)
	}

	finished := DeltaForTransition(domain.CallStatusInProgress, domain.CallStatusCancelled)
	if finished != (StatsDelta{InProgressCallsDelta: -1, CancelledCallsDelta: 1}) {
		t.Fatalf("unexpected finish delta %+v", finished)
	}

	if !DeltaForTransition(domain.CallStatusFailed, domain.CallStatusFailed).IsZero() {
		t.Fatalf("expected no-op delta for unchanged status")
	}
}

func TestBucketDay(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	got := BucketDay(time.Date(2024, 3, 1, 22, 30, 0, 0, loc))
	want := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
