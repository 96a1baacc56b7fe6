package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/acme/pharmacy-outreach/internal/domain"
	"github.com/acme/pharmacy-outreach/internal/repository"
)

const callColumns = `id, patient_id, status, provider_call_id, summary, structured_data,
	scheduled_call_id, created_at, updated_at, completed_at`

// CallRepository implements repository.CallStore using PostgreSQL.
type CallRepository struct {
	db *sqlx.DB
}

// NewCallRepository constructs a new repository.
func NewCallRepository(db *sqlx.DB) *CallRepository {
	return &CallRepository{db: db}
}

// CreateCall inserts a new call.
func (r *CallRepository) CreateCall(ctx context.Context, call *domain.Call) error {
	data, err := marshalJSON(call.StructuredData)
	if err != nil {
		return fmt.Errorf("call repo: marshal structured data: %w", err)
	}

	q := `INSERT INTO calls (
		id, patient_id, status, provider_call_id, summary, structured_data,
		scheduled_call_id, created_at, updated_at, completed_at
	) VALUES (
		:id, :patient_id, :status, :provider_call_id, :summary, :structured_data,
		:scheduled_call_id, :created_at, :updated_at, :completed_at
	)`

	params := map[string]any{
		"id":                call.ID,
		"patient_id":        call.PatientID,
		"status":            string(call.Status),
		"provider_call_id":  nullString(call.ProviderCallID),
		"summary":           call.Summary,
		"structured_data":   data,
		"scheduled_call_id": call.ScheduledCallID,
		"created_at":        call.CreatedAt,
		"updated_at":        call.UpdatedAt,
		"completed_at":      call.CompletedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("call repo: insert: %w", err)
	}
	return nil
}

// GetCall fetches a call by id.
func (r *CallRepository) GetCall(ctx context.Context, id uuid.UUID) (*domain.Call, error) {
	return r.getOne(ctx, "get", `SELECT `+callColumns+` FROM calls WHERE id = $1`, id)
}

// FindByProviderCallID fetches the call carrying the provider's identifier.
func (r *CallRepository) FindByProviderCallID(ctx context.Context, providerCallID string) (*domain.Call, error) {
	return r.getOne(ctx, "find by provider id", `SELECT `+callColumns+` FROM calls WHERE provider_call_id = $1`, providerCallID)
}

// FindActiveByPatient prefers the newest pending call, then the newest in-progress one.
func (r *CallRepository) FindActiveByPatient(ctx context.Context, patientID uuid.UUID) (*domain.Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls
		WHERE patient_id = $1 AND status IN ('pending', 'in_progress')
		ORDER BY (status = 'pending') DESC, created_at DESC
		LIMIT 1`
	return r.getOne(ctx, "find active", q, patientID)
}

// SetProviderCallID attaches the provider id unless another one is already stored.
func (r *CallRepository) SetProviderCallID(ctx context.Context, id uuid.UUID, providerCallID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE calls SET provider_call_id = $2, updated_at = $3
		WHERE id = $1 AND (provider_call_id IS NULL OR provider_call_id = $2)`,
		id, providerCallID, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("call repo: set provider id: %w", err)
	}
	return r.checkAffected(ctx, res, id)
}

// ApplyTransition performs a status change guarded by the expected current status.
func (r *CallRepository) ApplyTransition(ctx context.Context, t repository.CallTransition) error {
	var data any
	if t.StructuredData != nil {
		raw, err := json.Marshal(t.StructuredData)
		if err != nil {
			return fmt.Errorf("call repo: marshal structured data: %w", err)
		}
		data = raw
	}

	var summary any
	if t.Summary != nil {
		summary = *t.Summary
	}

	var completedAt any
	if t.CompletedAt != nil {
		completedAt = *t.CompletedAt
	}

	res, err := r.db.ExecContext(ctx, `UPDATE calls SET
		status = $3,
		provider_call_id = COALESCE(provider_call_id, NULLIF($4, '')),
		summary = COALESCE($5, summary),
		structured_data = COALESCE($6, structured_data),
		completed_at = COALESCE($7, completed_at),
		updated_at = $8
	WHERE id = $1 AND status = $2`,
		t.CallID, string(t.From), string(t.To), t.ProviderCallID, summary, data, completedAt, t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("call repo: transition: %w", err)
	}
	return r.checkAffected(ctx, res, t.CallID)
}

// ListCalls returns calls newest first.
func (r *CallRepository) ListCalls(ctx context.Context, filter repository.CallFilter) ([]domain.Call, error) {
	var (
		conds []string
		args  []any
	)
	if filter.PatientID != nil {
		args = append(args, *filter.PatientID)
		conds = append(conds, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if filter.ScheduledCallID != nil {
		args = append(args, *filter.ScheduledCallID)
		conds = append(conds, fmt.Sprintf("scheduled_call_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT ` + callColumns + ` FROM calls`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, limit, filter.Offset)
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("call repo: list: %w", err)
	}
	defer rows.Close()

	var results []domain.Call
	for rows.Next() {
		var record callRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("call repo: scan: %w", err)
		}
		results = append(results, record.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("call repo: rows err: %w", err)
	}
	return results, nil
}

func (r *CallRepository) getOne(ctx context.Context, op, q string, arg any) (*domain.Call, error) {
	var record callRecord
	if err := r.db.QueryRowxContext(ctx, q, arg).StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("call repo: %s: %w", op, err)
	}
	call := record.toDomain()
	return &call, nil
}

// checkAffected separates "no such call" from "guard no longer holds".
func (r *CallRepository) checkAffected(ctx context.Context, res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("call repo: rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowxContext(ctx, `SELECT EXISTS (SELECT 1 FROM calls WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("call repo: exists: %w", err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}

type callRecord struct {
	ID              uuid.UUID      `db:"id"`
	PatientID       uuid.UUID      `db:"patient_id"`
	Status          string         `db:"status"`
	ProviderCallID  sql.NullString `db:"provider_call_id"`
	Summary         sql.NullString `db:"summary"`
	StructuredData  []byte         `db:"structured_data"`
	ScheduledCallID uuid.NullUUID  `db:"scheduled_call_id"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
}

func (r callRecord) toDomain() domain.Call {
	call := domain.Call{
		ID:             r.ID,
		PatientID:      r.PatientID,
		Status:         domain.CallStatus(r.Status),
		ProviderCallID: r.ProviderCallID.String,
		Summary:        r.Summary.String,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if len(r.StructuredData) > 0 {
		_ = json.Unmarshal(r.StructuredData, &call.StructuredData)
	}
	if r.ScheduledCallID.Valid {
		id := r.ScheduledCallID.UUID
		call.ScheduledCallID = &id
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		call.CompletedAt = &t
	}
	return call
}

func marshalJSON(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
