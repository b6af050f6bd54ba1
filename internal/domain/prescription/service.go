package prescription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/errsx"
	"github.com/rs/zerolog"

	"github.com/ehr/rxledger/internal/domain/identity"
	"github.com/ehr/rxledger/internal/platform/apperr"
	"github.com/ehr/rxledger/internal/platform/snapshot"
)

// TxRunner runs fn as one unit of work. db.TxManager implements it.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo      Repository
	directory identity.Directory
	hasher    *snapshot.Hasher
	tx        TxRunner
	policy    TransitionPolicy
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(
	repo Repository,
	directory identity.Directory,
	hasher *snapshot.Hasher,
	tx TxRunner,
	policy TransitionPolicy,
	logger zerolog.Logger,
) *Service {
	if policy == "" {
		policy = TransitionPermissive
	}
	return &Service{
		repo:      repo,
		directory: directory,
		hasher:    hasher,
		tx:        tx,
		policy:    policy,
		logger:    logger.With().Str("component", "prescription").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var errNoTiming = errors.New("at least one of morning, afternoon, evening or night is required")

// buildItems drops entries without a medicine identity and rejects the rest
// when any of them has no timing.
func buildItems(inputs []ItemInput) ([]*Medication, error) {
	var errs errsx.Map
	var items []*Medication
	for i, in := range inputs {
		if in.blankIdentity() {
			continue
		}
		m := &Medication{
			MedicineID:           in.MedicineID,
			MedicineName:         strings.TrimSpace(in.MedicineName),
			Dosage:               strings.TrimSpace(in.Dosage),
			Duration:             strings.TrimSpace(in.Duration),
			MealTiming:           strings.TrimSpace(in.MealTiming),
			AdministrationMethod: strings.TrimSpace(in.AdministrationMethod),
			Remarks:              strings.TrimSpace(in.Remarks),
			Morning:              in.Morning,
			Afternoon:            in.Afternoon,
			Evening:              in.Evening,
			Night:                in.Night,
		}
		if !m.HasTiming() {
			errs.Set(fmt.Sprintf("items[%d]", i), errNoTiming)
			continue
		}
		items = append(items, m)
	}
	if !errs.IsEmpty() {
		return nil, apperr.ValidationFrom(errs.AsError())
	}
	if len(items) == 0 {
		return nil, apperr.Validation("prescription needs at least one medication")
	}
	return items, nil
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (s *Service) sealItem(m *Medication) error {
	sealed, err := s.hasher.Seal(m.SnapshotView())
	if err != nil {
		return err
	}
	m.Snapshot, m.VerificationHash = sealed.Ciphertext, sealed.Digest
	return nil
}

func (s *Service) sealAggregate(p *Prescription) error {
	sealed, err := s.hasher.Seal(p.SnapshotView())
	if err != nil {
		return err
	}
	p.Snapshot, p.VerificationHash = sealed.Ciphertext, sealed.Digest
	return nil
}

// Create records a new prescription in REQUESTED state.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Prescription, error) {
	if cmd.DoctorID == uuid.Nil {
		return nil, apperr.Validation("doctor_id is required")
	}
	if cmd.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	items, err := buildItems(cmd.Items)
	if err != nil {
		return nil, err
	}

	var created *Prescription
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		patient, err := s.directory.Patient(ctx, cmd.PatientID)
		if err != nil {
			return err
		}
		doctor, err := s.directory.Doctor(ctx, cmd.DoctorID)
		if err != nil {
			return err
		}

		now := s.now()
		p := &Prescription{
			ID:                uuid.New(),
			PatientID:         patient.ID,
			DoctorID:          doctor.ID,
			PatientIdentifier: patient.ID.String(),
			PatientName:       firstNonBlank(cmd.PatientName, patient.DisplayName),
			DoctorIdentifier:  doctor.ID.String(),
			DoctorName:        firstNonBlank(cmd.DoctorName, doctor.DisplayName),
			AppointmentRef:    cmd.AppointmentRef,
			Notes:             cmd.Notes,
			Status:            StatusRequested,
			IsActive:          true,
			Items:             items,
			RequestedAt:       now,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		for i, it := range p.Items {
			it.ID = uuid.New()
			it.PrescriptionID = p.ID
			it.Position = i
			it.CreatedAt, it.UpdatedAt = now, now
			if err := s.sealItem(it); err != nil {
				return err
			}
		}
		if err := s.sealAggregate(p); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, p); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("prescription_id", created.ID.String()).
		Str("doctor_id", created.DoctorID.String()).
		Int("items", len(created.Items)).
		Msg("prescription created")
	return created, nil
}

func validateDispenses(dispenses []Dispense) error {
	var errs errsx.Map
	seen := make(map[uuid.UUID]bool, len(dispenses))
	for i, d := range dispenses {
		key := fmt.Sprintf("dispenses[%d]", i)
		switch {
		case d.MedicationID == uuid.Nil:
			errs.Set(key, errors.New("medication_id is required"))
		case seen[d.MedicationID]:
			errs.Set(key, fmt.Errorf("medication %s is dispensed twice", d.MedicationID))
		case d.Quantity <= 0:
			errs.Set(key, errors.New("quantity must be greater than zero"))
		case d.UnitPrice < 0:
			errs.Set(key, errors.New("unit_price must not be negative"))
		}
		seen[d.MedicationID] = true
	}
	if !errs.IsEmpty() {
		return apperr.ValidationFrom(errs.AsError())
	}
	return nil
}

func (s *Service) checkTransition(p *Prescription, next Status) error {
	if CanTransition(p.Status, next) {
		return nil
	}
	if s.policy == TransitionStrict {
		return apperr.Domain("prescription %s cannot move from %s to %s", p.ID, p.Status, next)
	}
	s.logger.Warn().
		Str("prescription_id", p.ID.String()).
		Str("from", string(p.Status)).
		Str("to", string(next)).
		Msg("status change outside the transition table")
	return nil
}

// UpdateStatus applies a pharmacist update: status, attribution, notes and
// optional dispenses.
func (s *Service) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (*Prescription, error) {
	next, err := ParseStatus(cmd.Status)
	if err != nil {
		return nil, err
	}
	if cmd.Dispenses != nil {
		if err := validateDispenses(*cmd.Dispenses); err != nil {
			return nil, err
		}
	}

	var updated *Prescription
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByID(ctx, cmd.PrescriptionID)
		if err != nil {
			return err
		}
		if !p.IsActive {
			return apperr.Domain("prescription %s is inactive", p.ID)
		}
		if err := s.checkTransition(p, next); err != nil {
			return err
		}

		now := s.now()
		p.Status = next
		if id := strings.TrimSpace(cmd.PharmacistID); id != "" {
			p.PharmacistIdentifier = &id
		}
		if name := strings.TrimSpace(cmd.PharmacistName); name != "" {
			p.PharmacistName = &name
		}
		if cmd.Notes != nil {
			p.PharmacyNotes = cmd.Notes
		}
		if next == StatusCompleted {
			p.CompletedAt = &now
		}

		if cmd.Dispenses != nil {
			for _, d := range *cmd.Dispenses {
				item := p.Item(d.MedicationID)
				if item == nil {
					return apperr.NotFound("medication in prescription "+p.ID.String(), d.MedicationID)
				}
				price := Round2(d.UnitPrice)
				total := Round2(float64(d.Quantity) * price)
				item.QuantityDispensed = d.Quantity
				item.UnitPrice = &price
				item.TotalPrice = &total
				item.IsDispensed = true
				item.UpdatedAt = now
				if err := s.sealItem(item); err != nil {
					return err
				}
			}
			if err := s.sealAggregate(p); err != nil {
				return err
			}
		}

		p.UpdatedAt = now
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	ev := s.logger.Info().
		Str("prescription_id", updated.ID.String()).
		Str("status", string(updated.Status))
	if cmd.Dispenses != nil {
		ev = ev.Int("dispensed", len(*cmd.Dispenses))
	}
	ev.Msg("prescription status updated")
	return updated, nil
}

// Delete soft-deletes a prescription on behalf of its authoring doctor.
func (s *Service) Delete(ctx context.Context, id, requestingDoctorID uuid.UUID) error {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !p.IsActive {
			return apperr.Domain("prescription %s is already deleted", p.ID)
		}
		if p.Status != StatusRequested {
			return apperr.Domain("prescription %s is %s; only REQUESTED prescriptions can be deleted", p.ID, p.Status)
		}
		if p.DoctorID != requestingDoctorID {
			return apperr.Domain("prescription %s belongs to another doctor", p.ID)
		}
		p.IsActive = false
		p.UpdatedAt = s.now()
		return s.repo.Update(ctx, p)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("prescription_id", id.String()).Msg("prescription deleted")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Prescription, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	return s.repo.List(ctx, Filter{PatientID: &patientID}, limit, offset)
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	return s.repo.List(ctx, Filter{DoctorID: &doctorID}, limit, offset)
}

func (s *Service) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Prescription, int, error) {
	if !status.Known() {
		return nil, 0, apperr.Validation("unknown prescription status %q", status)
	}
	active := true
	return s.repo.List(ctx, Filter{Status: &status, Active: &active}, limit, offset)
}

func (s *Service) ListActive(ctx context.Context, limit, offset int) ([]*Prescription, int, error) {
	active := true
	return s.repo.List(ctx, Filter{Active: &active}, limit, offset)
}

// VerifyIntegrity checks the stored hashes of the aggregate and of every item
// against their stored snapshots and against the current field values.
func (s *Service) VerifyIntegrity(ctx context.Context, id uuid.UUID) (*IntegrityReport, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	report := &IntegrityReport{
		PrescriptionID: p.ID,
		AggregateValid: s.matches(p.Snapshot, p.VerificationHash, p.SnapshotView()),
		Items:          make([]ItemIntegrity, 0, len(p.Items)),
	}
	for _, it := range p.Items {
		report.Items = append(report.Items, ItemIntegrity{
			MedicationID: it.ID,
			Valid:        s.matches(it.Snapshot, it.VerificationHash, it.SnapshotView()),
		})
	}
	if !report.Valid() {
		s.logger.Warn().Str("prescription_id", p.ID.String()).Msg("integrity check failed")
	}
	return report, nil
}

// matches requires both that the stored snapshot verifies and that it still
// describes the current row.
func (s *Service) matches(ciphertext, digest string, current any) bool {
	if !s.hasher.Verify(ciphertext, digest) {
		return false
	}
	canonical, err := snapshot.Canonicalize(current)
	if err != nil {
		return false
	}
	return s.hasher.Matches(canonical, digest)
}
