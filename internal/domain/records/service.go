package records

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mediclear/mediclear/internal/domain/patient"
	"github.com/mediclear/mediclear/internal/platform/db"
	"github.com/mediclear/mediclear/pkg/result"
)

type Service struct {
	vitals    Repository[VitalSigns]
	diagnoses Repository[Diagnosis]
	billing   Repository[Billing]
	history   Repository[MedicalHistory]
	logger    zerolog.Logger
}

func NewService(v Repository[VitalSigns], d Repository[Diagnosis], b Repository[Billing], h Repository[MedicalHistory], logger zerolog.Logger) *Service {
	return &Service{vitals: v, diagnoses: d, billing: b, history: h, logger: logger}
}

func (s *Service) VitalSigns() *Store[VitalSigns] {
	return NewStore(VitalSignsKind, s.vitals, s.logger)
}

func (s *Service) Diagnoses() *Store[Diagnosis] {
	return NewStore(DiagnosisKind, s.diagnoses, s.logger)
}

func (s *Service) Billing() *Store[Billing] {
	return NewStore(BillingKind, s.billing, s.logger)
}

func (s *Service) MedicalHistory() *Store[MedicalHistory] {
	return NewStore(MedicalHistoryKind, s.history, s.logger)
}

// Detail is the patient summary: the patient and the newest record of each
// type. Each record slot settles on its own, so one failing table does not
// hide the others.
type Detail struct {
	Patient        *patient.Patient               `json:"patient"`
	VitalSigns     result.Result[*VitalSigns]     `json:"vital_signs"`
	Diagnosis      result.Result[*Diagnosis]      `json:"diagnosis"`
	Billing        result.Result[*Billing]        `json:"billing"`
	MedicalHistory result.Result[*MedicalHistory] `json:"medical_history"`
}

// Detail reads the four record types concurrently and waits for all of them.
func (s *Service) Detail(ctx context.Context, p *patient.Patient) *Detail {
	d := &Detail{Patient: p}
	var g errgroup.Group
	g.Go(func() error {
		d.VitalSigns = latest(ctx, s.VitalSigns(), p.ID)
		return nil
	})
	g.Go(func() error {
		d.Diagnosis = latest(ctx, s.Diagnoses(), p.ID)
		return nil
	})
	g.Go(func() error {
		d.Billing = latest(ctx, s.Billing(), p.ID)
		return nil
	})
	g.Go(func() error {
		d.MedicalHistory = latest(ctx, s.MedicalHistory(), p.ID)
		return nil
	})
	_ = g.Wait()
	return d
}

// latest hides the backend error behind a fixed message; Load has already
// logged it.
func latest[T any](ctx context.Context, st *Store[T], patientID uuid.UUID) result.Result[*T] {
	err := db.WithOwnConn(ctx, func(ctx context.Context) error {
		return st.Load(ctx, patientID)
	})
	if err != nil {
		return result.Fail[*T](fmt.Errorf("%s unavailable", st.Kind().Label))
	}
	return result.Ok(st.Latest())
}
