package billing

import (
	"time"

	"github.com/google/uuid"
)

// Invoice maps to the invoice table. It is derived from the dispensed items
// of one prescription and never edited afterwards.
type Invoice struct {
	ID             uuid.UUID          `db:"id" json:"id"`
	PrescriptionID uuid.UUID          `db:"prescription_id" json:"prescription_id"`
	PatientID      uuid.UUID          `db:"patient_id" json:"patient_id"`
	TotalAmount    float64            `db:"total_amount" json:"total_amount"`
	CreatedAt      time.Time          `db:"created_at" json:"created_at"`
	LineItems      []*InvoiceLineItem `db:"-" json:"line_items"`
}

// InvoiceLineItem maps to the invoice_line_item table. MedicineName and
// Dosage are stored encrypted.
type InvoiceLineItem struct {
	ID                uuid.UUID `db:"id" json:"id"`
	InvoiceID         uuid.UUID `db:"invoice_id" json:"invoice_id"`
	Position          int       `db:"position" json:"position"`
	MedicationID      uuid.UUID `db:"medication_id" json:"medication_id"`
	MedicineName      string    `db:"medicine_name" json:"medicine_name"`
	Dosage            string    `db:"dosage" json:"dosage"`
	QuantityDispensed int       `db:"quantity_dispensed" json:"quantity_dispensed"`
	UnitPrice         float64   `db:"unit_price" json:"unit_price"`
	LineTotal         float64   `db:"line_total" json:"line_total"`
}

// Sum returns the total of all line totals.
func (inv *Invoice) Sum() float64 {
	var total float64
	for _, li := range inv.LineItems {
		total += li.LineTotal
	}
	return total
}
