package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/pharmacy-outreach/internal/domain"
)

// CallLogStore persists the append-only call narrative in Scylla.
type CallLogStore struct {
	session *gocql.Session
}

// NewCallLogStore creates a new call log store.
func NewCallLogStore(session *gocql.Session) *CallLogStore {
	return &CallLogStore{session: session}
}

// Append inserts one log entry. Entries cluster by a time-based id, so
// reads return them in append order.
func (s *CallLogStore) Append(ctx context.Context, entry domain.CallLog) error {
	payload, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("call log store: marshal data: %w", err)
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	if err := s.session.Query(`INSERT INTO call_logs (call_id, log_id, event_type, data, logged_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.CallID.String(), gocql.UUIDFromTime(ts), entry.EventType, string(payload), ts,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call log store: insert: %w", err)
	}
	return nil
}

// List returns entries for a call in append order with pagination.
func (s *CallLogStore) List(ctx context.Context, callID uuid.UUID, limit int, pagingState []byte) ([]domain.CallLog, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT log_id, event_type, data, logged_at FROM call_logs WHERE call_id = ?`,
		callID.String()).WithContext(ctx).PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	entries := make([]domain.CallLog, 0, limit)

	var (
		logID     gocql.UUID
		eventType string
		data      string
		loggedAt  time.Time
	)
	for iter.Scan(&logID, &eventType, &data, &loggedAt) {
		entry := domain.CallLog{
			ID:        uuid.UUID(logID),
			CallID:    callID,
			EventType: eventType,
			Timestamp: loggedAt,
		}
		if data != "" {
			_ = json.Unmarshal([]byte(data), &entry.Data)
		}
		entries = append(entries, entry)
	}

	nextState := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("call log store: iter close: %w", err)
	}

	return entries, nextState, nil
}
