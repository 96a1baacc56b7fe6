package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/pharmacy-outreach/internal/domain"
	"github.com/acme/pharmacy-outreach/internal/repository"
)

const scheduleColumns = `id, patient_id, start_at, retry_interval_minutes, max_attempts, attempts_made,
	next_attempt_at, status, voicemail_template, version, created_at, updated_at`

const attemptColumns = `id, scheduled_call_id, attempt_number, call_id, outcome, created_at, ended_at`

// ScheduleRepository implements repository.ScheduleRepository using PostgreSQL.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository constructs a new repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Create inserts a new scheduled call campaign.
func (r *ScheduleRepository) Create(ctx context.Context, s *domain.ScheduledCall) error {
	q := `INSERT INTO scheduled_calls (
		id, patient_id, start_at, retry_interval_minutes, max_attempts, attempts_made,
		next_attempt_at, status, voicemail_template, version, created_at, updated_at
	) VALUES (
		:id, :patient_id, :start_at, :retry_interval_minutes, :max_attempts, :attempts_made,
		:next_attempt_at, :status, :voicemail_template, :version, :created_at, :updated_at
	)`

	params := map[string]any{
		"id":                     s.ID,
		"patient_id":             s.PatientID,
		"start_at":               s.StartAt,
		"retry_interval_minutes": s.RetryIntervalMinutes,
		"max_attempts":           s.MaxAttempts,
		"attempts_made":          s.AttemptsMade,
		"next_attempt_at":        s.NextAttemptAt,
		"status":                 string(s.Status),
		"voicemail_template":     nullString(s.VoicemailTemplate),
		"version":                s.Version,
		"created_at":             s.CreatedAt,
		"updated_at":             s.UpdatedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("schedule repo: insert: %w", err)
	}
	return nil
}

// Get fetches a campaign by id.
func (r *ScheduleRepository) Get(ctx context.Context, id uuid.UUID) (*domain.ScheduledCall, error) {
	var record scheduleRecord
	err := r.db.QueryRowxContext(ctx, `SELECT `+scheduleColumns+` FROM scheduled_calls WHERE id = $1`, id).StructScan(&record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("schedule repo: get: %w", err)
	}
	s := record.toDomain()
	return &s, nil
}

// List returns campaigns newest first.
func (r *ScheduleRepository) List(ctx context.Context, filter repository.ScheduleFilter) ([]*domain.ScheduledCall, error) {
	var (
		conds []string
		args  []any
	)
	if filter.PatientID != nil {
		args = append(args, *filter.PatientID)
		conds = append(conds, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT ` + scheduleColumns + ` FROM scheduled_calls`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, limit, filter.Offset)
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	return r.query(ctx, "list", q, args...)
}

// ListDue returns active campaigns whose next attempt is due, oldest first.
func (r *ScheduleRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduledCall, error) {
	if limit <= 0 {
		limit = 10
	}
	q := `SELECT ` + scheduleColumns + ` FROM scheduled_calls
		WHERE status IN ('scheduled', 'running') AND next_attempt_at <= $1
		ORDER BY next_attempt_at ASC
		LIMIT $2`
	return r.query(ctx, "list due", q, now, limit)
}

// Update writes the campaign when its version is unchanged.
func (r *ScheduleRepository) Update(ctx context.Context, s *domain.ScheduledCall) error {
	if err := updateSchedule(ctx, r.db, s); err != nil {
		return err
	}
	s.Version++
	return nil
}

// RecordAttempt inserts an attempt and updates its campaign atomically.
func (r *ScheduleRepository) RecordAttempt(ctx context.Context, s *domain.ScheduledCall, attempt *domain.CallAttempt) error {
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO call_attempts (`+attemptColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			attempt.ID, attempt.ScheduledCallID, attempt.AttemptNumber, attempt.CallID,
			string(attempt.Outcome), attempt.CreatedAt, attempt.EndedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return repository.ErrConflict
			}
			return fmt.Errorf("schedule repo: insert attempt: %w", err)
		}
		return updateSchedule(ctx, tx, s)
	})
	if err != nil {
		return err
	}
	s.Version++
	return nil
}

// FindAttemptByCallID fetches the attempt that placed the given call.
func (r *ScheduleRepository) FindAttemptByCallID(ctx context.Context, callID uuid.UUID) (*domain.CallAttempt, error) {
	var record attemptRecord
	err := r.db.QueryRowxContext(ctx, `SELECT `+attemptColumns+` FROM call_attempts WHERE call_id = $1`, callID).StructScan(&record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("schedule repo: find attempt: %w", err)
	}
	a := record.toDomain()
	return &a, nil
}

// ResolveAttempt records an attempt outcome exactly once.
func (r *ScheduleRepository) ResolveAttempt(ctx context.Context, id uuid.UUID, outcome domain.AttemptOutcome, endedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE call_attempts SET outcome = $2, ended_at = $3
		WHERE id = $1 AND outcome = 'in_progress'`, id, string(outcome), endedAt)
	if err != nil {
		return false, fmt.Errorf("schedule repo: resolve attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("schedule repo: rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRowxContext(ctx, `SELECT EXISTS (SELECT 1 FROM call_attempts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("schedule repo: attempt exists: %w", err)
	}
	if !exists {
		return false, repository.ErrNotFound
	}
	return false, nil
}

// ListAttempts returns a campaign's attempts in order.
func (r *ScheduleRepository) ListAttempts(ctx context.Context, scheduledCallID uuid.UUID) ([]domain.CallAttempt, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT `+attemptColumns+` FROM call_attempts
		WHERE scheduled_call_id = $1 ORDER BY attempt_number ASC`, scheduledCallID)
	if err != nil {
		return nil, fmt.Errorf("schedule repo: list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.CallAttempt
	for rows.Next() {
		var record attemptRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("schedule repo: scan attempt: %w", err)
		}
		attempts = append(attempts, record.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schedule repo: rows err: %w", err)
	}
	return attempts, nil
}

func (r *ScheduleRepository) query(ctx context.Context, op, q string, args ...any) ([]*domain.ScheduledCall, error) {
	rows, err := r.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("schedule repo: %s: %w", op, err)
	}
	defer rows.Close()

	var results []*domain.ScheduledCall
	for rows.Next() {
		var record scheduleRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("schedule repo: scan: %w", err)
		}
		s := record.toDomain()
		results = append(results, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schedule repo: rows err: %w", err)
	}
	return results, nil
}

func updateSchedule(ctx context.Context, db sqlx.ExtContext, s *domain.ScheduledCall) error {
	res, err := db.ExecContext(ctx, `UPDATE scheduled_calls SET
		attempts_made = $3,
		next_attempt_at = $4,
		status = $5,
		updated_at = $6,
		version = version + 1
	WHERE id = $1 AND version = $2`,
		s.ID, s.Version, s.AttemptsMade, s.NextAttemptAt, string(s.Status), s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("schedule repo: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("schedule repo: rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := sqlx.GetContext(ctx, db, &exists, `SELECT EXISTS (SELECT 1 FROM scheduled_calls WHERE id = $1)`, s.ID); err != nil {
		return fmt.Errorf("schedule repo: exists: %w", err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}

type scheduleRecord struct {
	ID                   uuid.UUID      `db:"id"`
	PatientID            uuid.UUID      `db:"patient_id"`
	StartAt              time.Time      `db:"start_at"`
	RetryIntervalMinutes int            `db:"retry_interval_minutes"`
	MaxAttempts          int            `db:"max_attempts"`
	AttemptsMade         int            `db:"attempts_made"`
	NextAttemptAt        sql.NullTime   `db:"next_attempt_at"`
	Status               string         `db:"status"`
	VoicemailTemplate    sql.NullString `db:"voicemail_template"`
	Version              int            `db:"version"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

func (r scheduleRecord) toDomain() domain.ScheduledCall {
	s := domain.ScheduledCall{
		ID:                   r.ID,
		PatientID:            r.PatientID,
		StartAt:              r.StartAt,
		RetryIntervalMinutes: r.RetryIntervalMinutes,
		MaxAttempts:          r.MaxAttempts,
		AttemptsMade:         r.AttemptsMade,
		Status:               domain.ScheduleStatus(r.Status),
		VoicemailTemplate:    r.VoicemailTemplate.String,
		Version:              r.Version,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
	if r.NextAttemptAt.Valid {
		t := r.NextAttemptAt.Time
		s.NextAttemptAt = &t
	}
	return s
}

type attemptRecord struct {
	ID              uuid.UUID    `db:"id"`
	ScheduledCallID uuid.UUID    `db:"scheduled_call_id"`
	AttemptNumber   int          `db:"attempt_number"`
	CallID          uuid.UUID    `db:"call_id"`
	Outcome         string       `db:"outcome"`
	CreatedAt       time.Time    `db:"created_at"`
	EndedAt         sql.NullTime `db:"ended_at"`
}

func (r attemptRecord) toDomain() domain.CallAttempt {
	a := domain.CallAttempt{
		ID:              r.ID,
		ScheduledCallID: r.ScheduledCallID,
		AttemptNumber:   r.AttemptNumber,
		CallID:          r.CallID,
		Outcome:         domain.AttemptOutcome(r.Outcome),
		CreatedAt:       r.CreatedAt,
	}
	if r.EndedAt.Valid {
		t := r.EndedAt.Time
		a.EndedAt = &t
	}
	return a
}
