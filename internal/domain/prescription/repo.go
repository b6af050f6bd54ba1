package prescription

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists prescription aggregates with their items. Implementations
// own field encryption: callers always see plaintext.
type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	// GetByID returns an apperr.ErrNotFound error for unknown ids.
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	// Update rewrites the aggregate row and every item row.
	Update(ctx context.Context, p *Prescription) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Prescription, int, error)
}
