package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/rxledger/internal/domain/catalog"
	"github.com/ehr/rxledger/internal/domain/prescription"
	"github.com/ehr/rxledger/internal/platform/apperr"
)

// TxRunner runs fn as one unit of work. db.TxManager implements it.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service derives invoices from dispensed prescription items.
type Service struct {
	invoices      InvoiceRepository
	prescriptions PrescriptionReader
	catalog       catalog.Catalog
	tx            TxRunner
	logger        zerolog.Logger
	now           func() time.Time
}

func NewService(invoices InvoiceRepository, prescriptions PrescriptionReader, cat catalog.Catalog, tx TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		invoices:      invoices,
		prescriptions: prescriptions,
		catalog:       cat,
		tx:            tx,
		logger:        logger.With().Str("component", "billing").Logger(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Generate builds and stores an invoice for the dispensed items of a
// prescription. Unit prices come from the catalog, not from the dispense.
func (s *Service) Generate(ctx context.Context, prescriptionID uuid.UUID) (*Invoice, error) {
	var created *Invoice
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.prescriptions.GetByID(ctx, prescriptionID)
		if err != nil {
			return err
		}

		inv := &Invoice{
			ID:             uuid.New(),
			PrescriptionID: p.ID,
			PatientID:      p.PatientID,
			CreatedAt:      s.now(),
		}
		for _, item := range p.Items {
			li, err := s.lineFor(ctx, p, item)
			if err != nil {
				return err
			}
			if li == nil {
				continue
			}
			li.InvoiceID = inv.ID
			li.Position = len(inv.LineItems)
			inv.LineItems = append(inv.LineItems, li)
		}
		if len(inv.LineItems) == 0 {
			return apperr.Domain("prescription %s has no billable items", p.ID)
		}
		inv.TotalAmount = prescription.Round2(inv.Sum())

		if err := s.invoices.Create(ctx, inv); err != nil {
			return err
		}
		created = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("invoice_id", created.ID.String()).
		Str("prescription_id", created.PrescriptionID.String()).
		Int("lines", len(created.LineItems)).
		Float64("total", created.TotalAmount).
		Msg("invoice generated")
	return created, nil
}

// lineFor prices one item. It returns nil for items that are not billed.
func (s *Service) lineFor(ctx context.Context, p *prescription.Prescription, item *prescription.Medication) (*InvoiceLineItem, error) {
	if item.LegacyMismatch() {
		s.logger.Warn().
			Str("prescription_id", p.ID.String()).
			Str("medication_id", item.ID.String()).
			Msg("legacy dispensed status set but item is not dispensed; not billed")
	}
	if !item.Billable() {
		return nil, nil
	}

	med, err := s.catalog.FindByName(ctx, item.MedicineName)
	if errors.Is(err, apperr.ErrNotFound) {
		s.logger.Warn().
			Str("prescription_id", p.ID.String()).
			Str("medication_id", item.ID.String()).
			Msg("no catalog match for dispensed item; skipped")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	price := prescription.Round2(med.UnitPrice)
	return &InvoiceLineItem{
		ID:                uuid.New(),
		MedicationID:      item.ID,
		MedicineName:      item.MedicineName,
		Dosage:            item.Dosage,
		QuantityDispensed: item.QuantityDispensed,
		UnitPrice:         price,
		LineTotal:         prescription.Round2(float64(item.QuantityDispensed) * price),
	}, nil
}

func (s *Service) GetLatestForPrescription(ctx context.Context, prescriptionID uuid.UUID) (*Invoice, error) {
	return s.invoices.GetLatestForPrescription(ctx, prescriptionID)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	return s.invoices.ListByPatient(ctx, patientID, limit, offset)
}
