package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AccountRepository interface {
	// Create returns ErrEmailTaken when the email is already registered.
	Create(ctx context.Context, a *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	ConfirmEmail(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type ProfileRepository interface {
	Create(ctx context.Context, p *Profile) error
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Profile, error)
	// ListByRole returns active profiles with the role, ordered by name.
	ListByRole(ctx context.Context, role string) ([]*Profile, error)
}
