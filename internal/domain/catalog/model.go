package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Medicine is a catalog entry. UnitPrice is the price billed per dispensed unit.
type Medicine struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	UnitPrice float64   `json:"unit_price"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
