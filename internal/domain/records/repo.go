package records

import (
	"context"

	"github.com/google/uuid"
)

// Repository stores one record type. Lists are scoped to a patient and
// ordered newest first.
type Repository[T any] interface {
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*T, error)
	GetByID(ctx context.Context, id uuid.UUID) (*T, error)
	Create(ctx context.Context, item *T) error
	Update(ctx context.Context, item *T) error
	Delete(ctx context.Context, id uuid.UUID) error
}
