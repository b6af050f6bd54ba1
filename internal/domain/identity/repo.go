package identity

import (
	"context"

	"github.com/google/uuid"
)

// Directory resolves patients and doctors. Lookups of unknown or inactive
// entries return an apperr.ErrNotFound error.
type Directory interface {
	Patient(ctx context.Context, id uuid.UUID) (*Person, error)
	Doctor(ctx context.Context, id uuid.UUID) (*Person, error)
}

// Repository is the writable side used by the admin endpoints.
type Repository interface {
	Directory
	Create(ctx context.Context, kind Kind, p *Person) error
	List(ctx context.Context, kind Kind, limit, offset int) ([]*Person, int, error)
}
