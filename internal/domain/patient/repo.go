package patient

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists patients. Implementations run under the caller's row
// policies, so List only returns what the caller may see and a hidden row
// behaves as missing.
type Repository interface {
	List(ctx context.Context) ([]*Patient, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Create(ctx context.Context, p *Patient) error
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
}
