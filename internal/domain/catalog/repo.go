package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Catalog resolves medicines for billing. FindByName returns the first active
// medicine whose name contains name, ignoring case, or an apperr.ErrNotFound
// error.
type Catalog interface {
	FindByName(ctx context.Context, name string) (*Medicine, error)
}

type Repository interface {
	Catalog
	Create(ctx context.Context, m *Medicine) error
	GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error)
	List(ctx context.Context, limit, offset int) ([]*Medicine, int, error)
}
