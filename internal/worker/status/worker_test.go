package status

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/acme/pharmacy-outreach/internal/domain"
	"github.com/acme/pharmacy-outreach/internal/queue"
	"github.com/acme/pharmacy-outreach/internal/repository"
	"github.com/acme/pharmacy-outreach/internal/repository/memory"
)

type fakeReader struct {
	messages  []kafka.Message
	committed []kafka.Message
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.messages) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

type failingStats struct{ repository.CallStatisticsRepository }

func (failingStats) ApplyDelta(context.Context, time.Time, repository.StatsDelta) error {
	return errors.New("postgres down")
}

func statusMessage(t *testing.T, offset int64, prev, next domain.CallStatus, created time.Time) kafka.Message {
	t.Helper()
	value, err := json.Marshal(queue.StatusMessage{
		CallID:         uuid.New(),
		PatientID:      uuid.New(),
		Status:         string(next),
		PreviousStatus: string(prev),
		Source:         "webhook",
		CallCreatedAt:  created,
		OccurredAt:     created.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return kafka.Message{Offset: offset, Value: value}
}

func TestRunFoldsLifecycleIntoDailyCounters(t *testing.T) {
	created := time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{cancel: cancel, messages: []kafka.Message{
		statusMessage(t, 1, "", domain.CallStatusPending, created),
		statusMessage(t, 2, domain.CallStatusPending, domain.CallStatusInProgress, created),
		statusMessage(t, 3, domain.CallStatusInProgress, domain.CallStatusCompleted, created),
		statusMessage(t, 4, "", domain.CallStatusPending, created),
		statusMessage(t, 5, domain.CallStatusPending, domain.CallStatusFailed, created),
		{Offset: 6, Value: []byte("not json")},
	}}
	stats := memory.NewStats()

	err := New(reader, stats, nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}

	got, err := stats.Get(context.Background(), created)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TotalCalls != 2 || got.PendingCalls != 0 || got.InProgressCalls != 0 || got.CompletedCalls != 1 || got.FailedCalls != 1 {
		t.Fatalf("unexpected counters: %+v", got)
	}
	if len(reader.committed) != 6 {
		t.Fatalf("committed %d messages, want 6", len(reader.committed))
	}
}

func TestHandleBucketsByCallCreationDay(t *testing.T) {
	created := time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)
	stats := memory.NewStats()
	w := New(&fakeReader{}, stats, nil)

	msg := statusMessage(t, 1, domain.CallStatusPending, domain.CallStatusCancelled, created)
	if err := w.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	got, err := stats.Get(context.Background(), created)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CancelledCalls != 1 || got.PendingCalls != -1 {
		t.Fatalf("unexpected counters: %+v", got)
	}
	if _, err := stats.Get(context.Background(), created.Add(time.Hour)); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("next day should be untouched, err = %v", err)
	}
}

func TestRunLeavesFailedMessagesUncommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &fakeReader{cancel: cancel, messages: []kafka.Message{
		statusMessage(t, 1, "", domain.CallStatusPending, time.Now()),
	}}

	_ = New(reader, failingStats{}, nil).Run(ctx)

	if len(reader.committed) != 0 {
		t.Fatalf("committed %d messages, want 0", len(reader.committed))
	}
}

func TestHandleSkipsUnknownAndUnchangedStatus(t *testing.T) {
	stats := memory.NewStats()
	w := New(&fakeReader{}, stats, nil)
	created := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)

	for _, msg := range []kafka.Message{
		statusMessage(t, 1, domain.CallStatusPending, "ringing", created),
		statusMessage(t, 2, domain.CallStatusInProgress, domain.CallStatusInProgress, created),
	} {
		if err := w.Handle(context.Background(), msg); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}

	if _, err := stats.Get(context.Background(), created); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected no counters, err = %v", err)
	}
}
