package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/pharmacy-outreach/internal/domain"
	"github.com/acme/pharmacy-outreach/internal/repository"
)

func setupMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return sqlx.NewDb(raw, "pgx"), mock
}

func completedTransition(id uuid.UUID) repository.CallTransition {
	summary := "Call completed"
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return repository.CallTransition{
		CallID:         id,
		From:           domain.CallStatusInProgress,
		To:             domain.CallStatusCompleted,
		Summary:        &summary,
		StructuredData: map[string]any{"duration": 42.0},
		CompletedAt:    &now,
		UpdatedAt:      now,
	}
}

func TestApplyTransition_Success(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewCallRepository(db)
	id := uuid.New()

	mock.ExpectExec(`UPDATE calls SET`).
		WithArgs(id, "in_progress", "completed", "", "Call completed", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ApplyTransition(context.Background(), completedTransition(id))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransition_StatusMovedIsConflict(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewCallRepository(db)
	id := uuid.New()

	mock.ExpectExec(`UPDATE calls SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM calls WHERE id = \$1\)`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := repo.ApplyTransition(context.Background(), completedTransition(id))
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransition_UnknownCallIsNotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewCallRepository(db)
	id := uuid.New()

	mock.ExpectExec(`UPDATE calls SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := repo.ApplyTransition(context.Background(), completedTransition(id))
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetProviderCallID_DuplicateIsConflict(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewCallRepository(db)
	id := uuid.New()

	mock.ExpectExec(`UPDATE calls SET provider_call_id`).
		WithArgs(id, "prov-1", sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.SetProviderCallID(context.Background(), id, "prov-1")
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveByPatient(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewCallRepository(db)
	patientID := uuid.New()
	callID := uuid.New()
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "patient_id", "status", "provider_call_id", "summary", "structured_data",
		"scheduled_call_id", "created_at", "updated_at", "completed_at",
	}).AddRow(callID.String(), patientID.String(), "pending", nil, nil, nil, nil, created, created, nil)

	mock.ExpectQuery(`(?s)SELECT (.+) FROM calls\s+WHERE patient_id = \$1 AND status IN`).
		WithArgs(patientID).
		WillReturnRows(rows)

	call, err := repo.FindActiveByPatient(context.Background(), patientID)
	require.NoError(t, err)
	assert.Equal(t, callID, call.ID)
	assert.Equal(t, domain.CallStatusPending, call.Status)
	assert.Empty(t, call.ProviderCallID)
	assert.Nil(t, call.ScheduledCallID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveByPatient_NoneIsNotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewCallRepository(db)
	patientID := uuid.New()

	mock.ExpectQuery(`(?s)SELECT (.+) FROM calls`).
		WithArgs(patientID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindActiveByPatient(context.Background(), patientID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRecordAttempt_CommitsAndBumpsVersion(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewScheduleRepository(db)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	next := now.Add(time.Hour)
	schedule := &domain.ScheduledCall{
		ID:            uuid.New(),
		AttemptsMade:  1,
		NextAttemptAt: &next,
		Status:        domain.ScheduleStatusRunning,
		Version:       3,
		UpdatedAt:     now,
	}
	attempt := &domain.CallAttempt{
		ID:              uuid.New(),
		ScheduledCallID: schedule.ID,
		AttemptNumber:   1,
		CallID:          uuid.New(),
		Outcome:         domain.AttemptOutcomeInProgress,
		CreatedAt:       now,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO call_attempts`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE scheduled_calls SET`).
		WithArgs(schedule.ID, 3, 1, sqlmock.AnyArg(), "running", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.RecordAttempt(context.Background(), schedule, attempt)
	require.NoError(t, err)
	assert.Equal(t, 4, schedule.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordAttempt_StaleVersionRollsBack(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewScheduleRepository(db)
	schedule := &domain.ScheduledCall{ID: uuid.New(), Status: domain.ScheduleStatusRunning, Version: 2}
	attempt := &domain.CallAttempt{ID: uuid.New(), ScheduledCallID: schedule.ID, AttemptNumber: 2, CallID: uuid.New()}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO call_attempts`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE scheduled_calls SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM scheduled_calls`).
		WithArgs(schedule.ID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := repo.RecordAttempt(context.Background(), schedule, attempt)
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Equal(t, 2, schedule.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAttempt_AlreadyResolved(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewScheduleRepository(db)
	id := uuid.New()

	mock.ExpectExec(`UPDATE call_attempts SET outcome`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM call_attempts`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	changed, err := repo.ResolveAttempt(context.Background(), id, domain.AttemptOutcomeAnswered, time.Now())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
