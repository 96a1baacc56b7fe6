package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/acme/pharmacy-outreach/internal/domain"
	"github.com/acme/pharmacy-outreach/internal/repository"
)

// CallStatisticsRepository implements repository.CallStatisticsRepository.
type CallStatisticsRepository struct {
	db *sqlx.DB
}

// NewCallStatisticsRepository builds the repository.
func NewCallStatisticsRepository(db *sqlx.DB) *CallStatisticsRepository {
	return &CallStatisticsRepository{db: db}
}

// Get retrieves the counters for one day.
func (r *CallStatisticsRepository) Get(ctx context.Context, day time.Time) (*domain.CallStats, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT day, total_calls, pending_calls, in_progress_calls,
		completed_calls, failed_calls, cancelled_calls
		FROM call_statistics WHERE day = $1`, repository.BucketDay(day))

	var stats domain.CallStats
	if err := row.StructScan(&stats); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("call stats: get: %w", err)
	}
	return &stats, nil
}

// ApplyDelta applies counter deltas atomically, creating the day row on first use.
func (r *CallStatisticsRepository) ApplyDelta(ctx context.Context, day time.Time, delta repository.StatsDelta) error {
	if delta.IsZero() {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO call_statistics (
		day, total_calls, pending_calls, in_progress_calls, completed_calls, failed_calls, cancelled_calls, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	ON CONFLICT (day) DO UPDATE SET
		total_calls = call_statistics.total_calls + EXCLUDED.total_calls,
		pending_calls = call_statistics.pending_calls + EXCLUDED.pending_calls,
		in_progress_calls = call_statistics.in_progress_calls + EXCLUDED.in_progress_calls,
		completed_calls = call_statistics.completed_calls + EXCLUDED.completed_calls,
		failed_calls = call_statistics.failed_calls + EXCLUDED.failed_calls,
		cancelled_calls = call_statistics.cancelled_calls + EXCLUDED.cancelled_calls,
		updated_at = NOW()`,
		repository.BucketDay(day),
		delta.TotalCallsDelta,
		delta.PendingCallsDelta,
		delta.InProgressCallsDelta,
		delta.CompletedCallsDelta,
		delta.FailedCallsDelta,
		delta.CancelledCallsDelta,
	)
	if err != nil {
		return fmt.Errorf("call stats: apply delta: %w", err)
	}
	return nil
}
