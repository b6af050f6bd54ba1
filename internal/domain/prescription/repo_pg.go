package prescription

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/rxledger/internal/platform/apperr"
	"github.com/ehr/rxledger/internal/platform/db"
	"github.com/ehr/rxledger/internal/platform/fieldcipher"
)

type repoPG struct {
	pool  *pgxpool.Pool
	codec *fieldcipher.Codec
}

// NewRepoPG returns a Repository that encrypts every sensitive column with
// codec before it reaches the database.
func NewRepoPG(pool *pgxpool.Pool, codec *fieldcipher.Codec) Repository {
	return &repoPG{pool: pool, codec: codec}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const prescriptionCols = `id, patient_id, doctor_id, patient_identifier, patient_name,
	doctor_identifier, doctor_name, appointment_ref, notes,
	pharmacist_identifier, pharmacist_name, pharmacy_notes,
	status, is_active, snapshot, verification_hash,
	requested_at, completed_at, created_at, updated_at`

const medicationCols = `id, prescription_id, position, medicine_id, medicine_name,
	dosage, duration, meal_timing, administration_method, remarks,
	morning, afternoon, evening, night,
	quantity_dispensed, unit_price, total_price, is_dispensed, legacy_dispensed_status,
	snapshot, verification_hash, created_at, updated_at`

// sealedPrescription holds the ciphertext of every sensitive column.
type sealedPrescription struct {
	patientIdentifier    string
	patientName          string
	doctorIdentifier     string
	doctorName           string
	appointmentRef       *string
	notes                *string
	pharmacistIdentifier *string
	pharmacistName       *string
	pharmacyNotes        *string
}

type sealedMedication struct {
	medicineName         string
	dosage               string
	duration             string
	mealTiming           string
	administrationMethod string
	remarks              string
}

func (r *repoPG) sealPrescription(p *Prescription) (sealedPrescription, error) {
	b := r.codec.Batch()
	s := sealedPrescription{
		patientIdentifier:    b.Encrypt(p.PatientIdentifier),
		patientName:          b.Encrypt(p.PatientName),
		doctorIdentifier:     b.Encrypt(p.DoctorIdentifier),
		doctorName:           b.Encrypt(p.DoctorName),
		appointmentRef:       b.EncryptPtr(p.AppointmentRef),
		notes:                b.EncryptPtr(p.Notes),
		pharmacistIdentifier: b.EncryptPtr(p.PharmacistIdentifier),
		pharmacistName:       b.EncryptPtr(p.PharmacistName),
		pharmacyNotes:        b.EncryptPtr(p.PharmacyNotes),
	}
	return s, b.Err()
}

func (r *repoPG) sealMedication(m *Medication) (sealedMedication, error) {
	b := r.codec.Batch()
	s := sealedMedication{
		medicineName:         b.Encrypt(m.MedicineName),
		dosage:               b.Encrypt(m.Dosage),
		duration:             b.Encrypt(m.Duration),
		mealTiming:           b.Encrypt(m.MealTiming),
		administrationMethod: b.Encrypt(m.AdministrationMethod),
		remarks:              b.Encrypt(m.Remarks),
	}
	return s, b.Err()
}

func (r *repoPG) openPrescription(p *Prescription) error {
	b := r.codec.Batch()
	b.Decrypt(&p.PatientIdentifier)
	b.Decrypt(&p.PatientName)
	b.Decrypt(&p.DoctorIdentifier)
	b.Decrypt(&p.DoctorName)
	b.DecryptPtr(&p.AppointmentRef)
	b.DecryptPtr(&p.Notes)
	b.DecryptPtr(&p.PharmacistIdentifier)
	b.DecryptPtr(&p.PharmacistName)
	b.DecryptPtr(&p.PharmacyNotes)
	return b.Err()
}

func (r *repoPG) openMedication(m *Medication) error {
	b := r.codec.Batch()
	b.Decrypt(&m.MedicineName)
	b.Decrypt(&m.Dosage)
	b.Decrypt(&m.Duration)
	b.Decrypt(&m.MealTiming)
	b.Decrypt(&m.AdministrationMethod)
	b.Decrypt(&m.Remarks)
	return b.Err()
}

func (r *repoPG) Create(ctx context.Context, p *Prescription) error {
	s, err := r.sealPrescription(p)
	if err != nil {
		return fmt.Errorf("prescription create: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO prescription (`+prescriptionCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		p.ID, p.PatientID, p.DoctorID, s.patientIdentifier, s.patientName,
		s.doctorIdentifier, s.doctorName, s.appointmentRef, s.notes,
		s.pharmacistIdentifier, s.pharmacistName, s.pharmacyNotes,
		p.Status, p.IsActive, p.Snapshot, p.VerificationHash,
		p.RequestedAt, p.CompletedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("prescription create: %w", err)
	}
	for _, m := range p.Items {
		if err := r.insertMedication(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) insertMedication(ctx context.Context, m *Medication) error {
	s, err := r.sealMedication(m)
	if err != nil {
		return fmt.Errorf("medication create: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO prescription_medication (`+medicationCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		m.ID, m.PrescriptionID, m.Position, m.MedicineID, s.medicineName,
		s.dosage, s.duration, s.mealTiming, s.administrationMethod, s.remarks,
		m.Morning, m.Afternoon, m.Evening, m.Night,
		m.QuantityDispensed, m.UnitPrice, m.TotalPrice, m.IsDispensed, m.LegacyDispensedStatus,
		m.Snapshot, m.VerificationHash, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("medication create: %w", err)
	}
	return nil
}

func (r *repoPG) Update(ctx context.Context, p *Prescription) error {
	s, err := r.sealPrescription(p)
	if err != nil {
		return fmt.Errorf("prescription update: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescription SET
			patient_identifier = $2, patient_name = $3, doctor_identifier = $4, doctor_name = $5,
			appointment_ref = $6, notes = $7,
			pharmacist_identifier = $8, pharmacist_name = $9, pharmacy_notes = $10,
			status = $11, is_active = $12, snapshot = $13, verification_hash = $14,
			completed_at = $15, updated_at = $16
		WHERE id = $1`,
		p.ID, s.patientIdentifier, s.patientName, s.doctorIdentifier, s.doctorName,
		s.appointmentRef, s.notes,
		s.pharmacistIdentifier, s.pharmacistName, s.pharmacyNotes,
		p.Status, p.IsActive, p.Snapshot, p.VerificationHash,
		p.CompletedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("prescription update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("prescription", p.ID)
	}
	for _, m := range p.Items {
		if err := r.updateMedication(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) updateMedication(ctx context.Context, m *Medication) error {
	s, err := r.sealMedication(m)
	if err != nil {
		return fmt.Errorf("medication update: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE prescription_medication SET
			medicine_name = $2, dosage = $3, duration = $4, meal_timing = $5,
			administration_method = $6, remarks = $7,
			quantity_dispensed = $8, unit_price = $9, total_price = $10, is_dispensed = $11,
			snapshot = $12, verification_hash = $13, updated_at = $14
		WHERE id = $1`,
		m.ID, s.medicineName, s.dosage, s.duration, s.mealTiming,
		s.administrationMethod, s.remarks,
		m.QuantityDispensed, m.UnitPrice, m.TotalPrice, m.IsDispensed,
		m.Snapshot, m.VerificationHash, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("medication update: %w", err)
	}
	return nil
}

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(
		&p.ID, &p.PatientID, &p.DoctorID, &p.PatientIdentifier, &p.PatientName,
		&p.DoctorIdentifier, &p.DoctorName, &p.AppointmentRef, &p.Notes,
		&p.PharmacistIdentifier, &p.PharmacistName, &p.PharmacyNotes,
		&p.Status, &p.IsActive, &p.Snapshot, &p.VerificationHash,
		&p.RequestedAt, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanMedication(row pgx.Row) (*Medication, error) {
	var m Medication
	err := row.Scan(
		&m.ID, &m.PrescriptionID, &m.Position, &m.MedicineID, &m.MedicineName,
		&m.Dosage, &m.Duration, &m.MealTiming, &m.AdministrationMethod, &m.Remarks,
		&m.Morning, &m.Afternoon, &m.Evening, &m.Night,
		&m.QuantityDispensed, &m.UnitPrice, &m.TotalPrice, &m.IsDispensed, &m.LegacyDispensedStatus,
		&m.Snapshot, &m.VerificationHash, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := scanPrescription(r.conn(ctx).QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescription WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("prescription", id)
	}
	if err != nil {
		return nil, fmt.Errorf("prescription get: %w", err)
	}
	if err := r.openPrescription(p); err != nil {
		return nil, fmt.Errorf("prescription get: %w", err)
	}
	if err := r.loadItems(ctx, []*Prescription{p}); err != nil {
		return nil, err
	}
	return p, nil
}

// loadItems attaches items to every prescription in ps with one query.
func (r *repoPG) loadItems(ctx context.Context, ps []*Prescription) error {
	if len(ps) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(ps))
	byID := make(map[uuid.UUID]*Prescription, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
		p.Items = []*Medication{}
		byID[p.ID] = p
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+medicationCols+` FROM prescription_medication
		WHERE prescription_id = ANY($1)
		ORDER BY prescription_id, position`, ids)
	if err != nil {
		return fmt.Errorf("medication list: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return fmt.Errorf("medication scan: %w", err)
		}
		if err := r.openMedication(m); err != nil {
			return fmt.Errorf("medication %s: %w", m.ID, err)
		}
		if p := byID[m.PrescriptionID]; p != nil {
			p.Items = append(p.Items, m)
		}
	}
	return rows.Err()
}

// whereClause renders f as SQL with positional arguments.
func whereClause(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Active != nil {
		add("is_active = $%d", *f.Active)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Prescription, int, error) {
	where, args := whereClause(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM prescription`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("prescription count: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM prescription%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		prescriptionCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("prescription list: %w", err)
	}
	defer rows.Close()

	var out []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("prescription scan: %w", err)
		}
		if err := r.openPrescription(p); err != nil {
			return nil, 0, fmt.Errorf("prescription %s: %w", p.ID, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	rows.Close()

	if err := r.loadItems(ctx, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
