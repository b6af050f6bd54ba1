package billing

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/rxledger/internal/domain/prescription"
)

type InvoiceRepository interface {
	// Create stores the invoice and its line items.
	Create(ctx context.Context, inv *Invoice) error
	// GetLatestForPrescription returns the newest invoice for a prescription
	// or an apperr.ErrNotFound error.
	GetLatestForPrescription(ctx context.Context, prescriptionID uuid.UUID) (*Invoice, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error)
}

// PrescriptionReader is the part of the prescription store invoicing needs.
type PrescriptionReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error)
}
