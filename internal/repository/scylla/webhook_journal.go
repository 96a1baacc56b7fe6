package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/acme/pharmacy-outreach/internal/repository"
)

// WebhookJournal keeps every received provider webhook, bucketed by day.
type WebhookJournal struct {
	session *gocql.Session
	ttl     time.Duration
}

// NewWebhookJournal creates a journal. A positive ttl expires old entries.
func NewWebhookJournal(session *gocql.Session, ttl time.Duration) *WebhookJournal {
	return &WebhookJournal{session: session, ttl: ttl}
}

// Record stores the raw webhook body.
func (j *WebhookJournal) Record(ctx context.Context, entry repository.WebhookJournalEntry) error {
	received := entry.ReceivedAt
	if received.IsZero() {
		received = time.Now().UTC()
	}

	q := `INSERT INTO webhook_events (bucket, received_at, event_id, event_type, provider_call_id, verified, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	if j.ttl > 0 {
		q += fmt.Sprintf(" USING TTL %d", int(j.ttl.Seconds()))
	}

	if err := j.session.Query(q,
		bucketDate(received), gocql.UUIDFromTime(received), entry.ID.String(), entry.EventType,
		entry.ProviderCallID, entry.Verified, entry.Payload,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("webhook journal: insert: %w", err)
	}
	return nil
}

func bucketDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
