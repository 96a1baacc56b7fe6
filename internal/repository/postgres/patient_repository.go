package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/pharmacy-outreach/internal/domain"
	"github.com/acme/pharmacy-outreach/internal/repository"
)

const patientColumns = `id, name, phone, address, medication_info, call_preferences, created_at, updated_at`

// PatientRepository implements repository.PatientRepository using PostgreSQL.
type PatientRepository struct {
	db *sqlx.DB
}

// NewPatientRepository constructs a new repository.
func NewPatientRepository(db *sqlx.DB) *PatientRepository {
	return &PatientRepository{db: db}
}

// Get fetches a patient by id.
func (r *PatientRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Patient, error) {
	return r.getOne(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
}

// FindByPhone fetches a patient by E.164 phone number.
func (r *PatientRepository) FindByPhone(ctx context.Context, phone string) (*domain.Patient, error) {
	return r.getOne(ctx, `SELECT `+patientColumns+` FROM patients WHERE phone = $1 ORDER BY created_at ASC LIMIT 1`, phone)
}

func (r *PatientRepository) getOne(ctx context.Context, q string, arg any) (*domain.Patient, error) {
	var record patientRecord
	if err := r.db.QueryRowxContext(ctx, q, arg).StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("patient repo: get: %w", err)
	}
	patient := record.toDomain()
	return &patient, nil
}

type patientRecord struct {
	ID              uuid.UUID      `db:"id"`
	Name            string         `db:"name"`
	Phone           string         `db:"phone"`
	Address         sql.NullString `db:"address"`
	MedicationInfo  []byte         `db:"medication_info"`
	CallPreferences []byte         `db:"call_preferences"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r patientRecord) toDomain() domain.Patient {
	patient := domain.Patient{
		ID:        r.ID,
		Name:      r.Name,
		Phone:     r.Phone,
		Address:   r.Address.String,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.MedicationInfo) > 0 {
		_ = json.Unmarshal(r.MedicationInfo, &patient.MedicationInfo)
	}
	if len(r.CallPreferences) > 0 {
		_ = json.Unmarshal(r.CallPreferences, &patient.CallPreferences)
	}
	return patient
}
