package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mediclear/mediclear/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const patientCols = `patient_id, case_number, patient_name, date_of_birth, age_gender, ward,
	admission_date, release_date, status, attending_physician, attending_doctor_name,
	contact_number, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var status string
	err := row.Scan(&p.ID, &p.CaseNumber, &p.PatientName, &p.DateOfBirth, &p.AgeGender, &p.Ward,
		&p.AdmissionDate, &p.ReleaseDate, &status, &p.AttendingPhysicianID, &p.AttendingDoctorName,
		&p.ContactNumber, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Status = Status(status)
	return &p, nil
}

func (r *patientRepoPG) List(ctx context.Context) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patients ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()
	items := make([]*Patient, 0)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE patient_id = $1`, id))
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (patient_id, case_number, patient_name, date_of_birth, age_gender, ward,
			admission_date, release_date, status, attending_physician, attending_doctor_name, contact_number)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		p.ID, p.CaseNumber, p.PatientName, p.DateOfBirth, p.AgeGender, p.Ward,
		p.AdmissionDate, p.ReleaseDate, string(p.Status), p.AttendingPhysicianID, p.AttendingDoctorName, p.ContactNumber,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET case_number=$2, patient_name=$3, date_of_birth=$4, age_gender=$5, ward=$6,
			admission_date=$7, release_date=$8, status=$9, attending_physician=$10,
			attending_doctor_name=$11, contact_number=$12, updated_at=NOW()
		WHERE patient_id = $1
		RETURNING created_at, updated_at`,
		p.ID, p.CaseNumber, p.PatientName, p.DateOfBirth, p.AgeGender, p.Ward,
		p.AdmissionDate, p.ReleaseDate, string(p.Status), p.AttendingPhysicianID,
		p.AttendingDoctorName, p.ContactNumber,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patients WHERE patient_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
