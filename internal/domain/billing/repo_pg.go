package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/rxledger/internal/platform/apperr"
	"github.com/ehr/rxledger/internal/platform/db"
	"github.com/ehr/rxledger/internal/platform/fieldcipher"
)

type invoiceRepoPG struct {
	pool  *pgxpool.Pool
	codec *fieldcipher.Codec
}

// NewInvoiceRepoPG returns an InvoiceRepository that encrypts line item text
// with codec.
func NewInvoiceRepoPG(pool *pgxpool.Pool, codec *fieldcipher.Codec) InvoiceRepository {
	return &invoiceRepoPG{pool: pool, codec: codec}
}

func (r *invoiceRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const invCols = `id, prescription_id, patient_id, total_amount, created_at`

const lineCols = `id, invoice_id, position, medication_id, medicine_name, dosage,
	quantity_dispensed, unit_price, line_total`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	if err := row.Scan(&inv.ID, &inv.PrescriptionID, &inv.PatientID, &inv.TotalAmount, &inv.CreatedAt); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoice (`+invCols+`)
		VALUES ($1,$2,$3,$4,$5)`,
		inv.ID, inv.PrescriptionID, inv.PatientID, inv.TotalAmount, inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("invoice create: %w", err)
	}
	for _, li := range inv.LineItems {
		if err := r.addLineItem(ctx, li); err != nil {
			return err
		}
	}
	return nil
}

func (r *invoiceRepoPG) addLineItem(ctx context.Context, li *InvoiceLineItem) error {
	b := r.codec.Batch()
	name := b.Encrypt(li.MedicineName)
	dosage := b.Encrypt(li.Dosage)
	if err := b.Err(); err != nil {
		return fmt.Errorf("invoice line item: %w", err)
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoice_line_item (`+lineCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		li.ID, li.InvoiceID, li.Position, li.MedicationID, name, dosage,
		li.QuantityDispensed, li.UnitPrice, li.LineTotal)
	if err != nil {
		return fmt.Errorf("invoice line item: %w", err)
	}
	return nil
}

func (r *invoiceRepoPG) GetLatestForPrescription(ctx context.Context, prescriptionID uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, `
		SELECT `+invCols+` FROM invoice
		WHERE prescription_id = $1
		ORDER BY created_at DESC, id DESC LIMIT 1`, prescriptionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("invoice for prescription", prescriptionID)
	}
	if err != nil {
		return nil, fmt.Errorf("invoice get: %w", err)
	}
	if inv.LineItems, err = r.lineItems(ctx, inv.ID); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *invoiceRepoPG) lineItems(ctx context.Context, invoiceID uuid.UUID) ([]*InvoiceLineItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+lineCols+` FROM invoice_line_item
		WHERE invoice_id = $1 ORDER BY position`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("invoice line items: %w", err)
	}
	defer rows.Close()

	items := []*InvoiceLineItem{}
	for rows.Next() {
		var li InvoiceLineItem
		if err := rows.Scan(&li.ID, &li.InvoiceID, &li.Position, &li.MedicationID, &li.MedicineName, &li.Dosage,
			&li.QuantityDispensed, &li.UnitPrice, &li.LineTotal); err != nil {
			return nil, fmt.Errorf("invoice line item scan: %w", err)
		}
		if err := r.openLineItem(&li); err != nil {
			return nil, err
		}
		items = append(items, &li)
	}
	return items, rows.Err()
}

func (r *invoiceRepoPG) openLineItem(li *InvoiceLineItem) error {
	b := r.codec.Batch()
	b.Decrypt(&li.MedicineName)
	b.Decrypt(&li.Dosage)
	if err := b.Err(); err != nil {
		return fmt.Errorf("invoice line item %s: %w", li.ID, err)
	}
	return nil
}

func (r *invoiceRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoice WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("invoice count: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+invCols+` FROM invoice WHERE patient_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("invoice list: %w", err)
	}
	defer rows.Close()

	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("invoice scan: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	rows.Close()

	for _, inv := range out {
		if inv.LineItems, err = r.lineItems(ctx, inv.ID); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}
