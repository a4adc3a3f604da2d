// Package records manages the clinical records attached to a patient: vital
// signs, diagnoses, billing items and medical history. The four types share
// one generic store, repository and handler, parameterized by a Kind.
package records

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mediclear/mediclear/pkg/format"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrPatientNotFound = errors.New("patient not found")
)

type VitalSigns struct {
	ID               uuid.UUID       `json:"vital_id"`
	PatientID        uuid.UUID       `json:"patient_id"`
	RecordDatetime   format.DateTime `json:"record_datetime"`
	Temperature      *float64        `json:"temperature"`
	Pulse            *int            `json:"pulse"`
	Respiration      *int            `json:"respiration"`
	BloodPressure    string          `json:"blood_pressure"`
	OxygenSaturation *int            `json:"oxygen_saturation"`
	CreatedAt        time.Time       `json:"created_at"`
}

type Diagnosis struct {
	ID               uuid.UUID   `json:"diagnosis_id"`
	PatientID        uuid.UUID   `json:"patient_id"`
	DiagnosisDate    format.Date `json:"diagnosis_date"`
	DiagnosisDetails string      `json:"diagnosis_details"`
	CreatedAt        time.Time   `json:"created_at"`
}

type Billing struct {
	ID              uuid.UUID `json:"bill_id"`
	PatientID       uuid.UUID `json:"patient_id"`
	ItemDescription string    `json:"item_description"`
	Amount          float64   `json:"amount"`
	CreatedAt       time.Time `json:"created_at"`
}

type MedicalHistory struct {
	ID                 uuid.UUID `json:"history_id"`
	PatientID          uuid.UUID `json:"patient_id"`
	Allergies          string    `json:"allergies"`
	PastIllnesses      string    `json:"past_illnesses"`
	PreviousOperations string    `json:"previous_operations"`
	CreatedAt          time.Time `json:"created_at"`
}

// Kind describes how one record type is stored and checked.
type Kind[T any] struct {
	// Name is the URL segment, Label the human form used in messages.
	Name     string
	Label    string
	Table    string
	IDColumn string
	// Columns are the editable columns, in the order Fields returns them.
	Columns []string
	OrderBy string

	ID        func(*T) *uuid.UUID
	PatientID func(*T) *uuid.UUID
	CreatedAt func(*T) *time.Time
	Fields    func(*T) []any

	// Prepare fills defaults before insert. Validate runs before every write.
	Prepare  func(item *T, now time.Time)
	Validate func(*T) error
}

var VitalSignsKind = &Kind[VitalSigns]{
	Name:     "vital-signs",
	Label:    "vital signs",
	Table:    "vital_signs",
	IDColumn: "vital_id",
	Columns:  []string{"record_datetime", "temperature", "pulse", "respiration", "blood_pressure", "oxygen_saturation"},
	OrderBy:  "record_datetime DESC, created_at DESC",

	ID:        func(v *VitalSigns) *uuid.UUID { return &v.ID },
	PatientID: func(v *VitalSigns) *uuid.UUID { return &v.PatientID },
	CreatedAt: func(v *VitalSigns) *time.Time { return &v.CreatedAt },
	Fields: func(v *VitalSigns) []any {
		return []any{&v.RecordDatetime.Time, &v.Temperature, &v.Pulse, &v.Respiration, &v.BloodPressure, &v.OxygenSaturation}
	},
	Prepare: func(v *VitalSigns, now time.Time) {
		if v.RecordDatetime.IsZero() {
			v.RecordDatetime.Time = now.UTC()
		}
	},
	Validate: func(v *VitalSigns) error {
		if v.Temperature == nil && v.Pulse == nil && v.Respiration == nil &&
			strings.TrimSpace(v.BloodPressure) == "" && v.OxygenSaturation == nil {
			return fmt.Errorf("at least one measurement is required")
		}
		if v.OxygenSaturation != nil && (*v.OxygenSaturation < 0 || *v.OxygenSaturation > 100) {
			return fmt.Errorf("oxygen_saturation must be between 0 and 100")
		}
		if v.Pulse != nil && *v.Pulse < 0 {
			return fmt.Errorf("pulse must not be negative")
		}
		if v.Respiration != nil && *v.Respiration < 0 {
			return fmt.Errorf("respiration must not be negative")
		}
		return nil
	},
}

var DiagnosisKind = &Kind[Diagnosis]{
	Name:     "diagnosis",
	Label:    "diagnosis",
	Table:    "diagnosis",
	IDColumn: "diagnosis_id",
	Columns:  []string{"diagnosis_date", "diagnosis_details"},
	OrderBy:  "diagnosis_date DESC, created_at DESC",

	ID:        func(d *Diagnosis) *uuid.UUID { return &d.ID },
	PatientID: func(d *Diagnosis) *uuid.UUID { return &d.PatientID },
	CreatedAt: func(d *Diagnosis) *time.Time { return &d.CreatedAt },
	Fields: func(d *Diagnosis) []any {
		return []any{&d.DiagnosisDate.Time, &d.DiagnosisDetails}
	},
	Prepare: func(d *Diagnosis, now time.Time) {
		if d.DiagnosisDate.IsZero() {
			d.DiagnosisDate.Time = format.StartOfDay(now.UTC())
		}
	},
	Validate: func(d *Diagnosis) error {
		if strings.TrimSpace(d.DiagnosisDetails) == "" {
			return fmt.Errorf("diagnosis_details is required")
		}
		return nil
	},
}

var BillingKind = &Kind[Billing]{
	Name:     "billing",
	Label:    "billing",
	Table:    "billing",
	IDColumn: "bill_id",
	Columns:  []string{"item_description", "amount"},
	OrderBy:  "created_at DESC",

	ID:        func(b *Billing) *uuid.UUID { return &b.ID },
	PatientID: func(b *Billing) *uuid.UUID { return &b.PatientID },
	CreatedAt: func(b *Billing) *time.Time { return &b.CreatedAt },
	Fields: func(b *Billing) []any {
		return []any{&b.ItemDescription, &b.Amount}
	},
	Validate: func(b *Billing) error {
		if strings.TrimSpace(b.ItemDescription) == "" {
			return fmt.Errorf("item_description is required")
		}
		if b.Amount < 0 {
			return fmt.Errorf("amount must not be negative")
		}
		return nil
	},
}

var MedicalHistoryKind = &Kind[MedicalHistory]{
	Name:     "medical-history",
	Label:    "medical history",
	Table:    "medical_history",
	IDColumn: "history_id",
	Columns:  []string{"allergies", "past_illnesses", "previous_operations"},
	OrderBy:  "created_at DESC",

	ID:        func(h *MedicalHistory) *uuid.UUID { return &h.ID },
	PatientID: func(h *MedicalHistory) *uuid.UUID { return &h.PatientID },
	CreatedAt: func(h *MedicalHistory) *time.Time { return &h.CreatedAt },
	Fields: func(h *MedicalHistory) []any {
		return []any{&h.Allergies, &h.PastIllnesses, &h.PreviousOperations}
	},
}

func (k *Kind[T]) prepare(item *T, now time.Time) {
	if k.Prepare != nil {
		k.Prepare(item, now)
	}
}

func (k *Kind[T]) validate(item *T) error {
	if k.Validate == nil {
		return nil
	}
	if err := k.Validate(item); err != nil {
		return &ValidationError{Kind: k.Label, Err: err}
	}
	return nil
}

// ValidationError wraps a field problem with the record type it came from.
type ValidationError struct {
	Kind string
	Err  error
}

func (e *ValidationError) Error() string { return e.Kind + ": " + e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }
