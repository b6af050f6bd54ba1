package prescription

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/rxledger/internal/platform/apperr"
	"github.com/ehr/rxledger/internal/platform/snapshot"
)

type Status string

const (
	StatusRequested  Status = "REQUESTED"
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusRejected   Status = "REJECTED"
)

var knownStatuses = map[Status]bool{
	StatusRequested: true, StatusPending: true, StatusInProgress: true,
	StatusCompleted: true, StatusCancelled: true, StatusRejected: true,
}

func (s Status) Known() bool { return knownStatuses[s] }

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRejected
}

// ParseStatus accepts any case and surrounding whitespace.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Known() {
		return "", apperr.Validation("unknown prescription status %q", raw)
	}
	return s, nil
}

// Prescription is the decrypted view of a prescription aggregate. Text fields
// marked sensitive are stored encrypted; the repository handles that.
type Prescription struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`

	// Sensitive.
	PatientIdentifier    string  `json:"patient_identifier"`
	PatientName          string  `json:"patient_name"`
	DoctorIdentifier     string  `json:"doctor_identifier"`
	DoctorName           string  `json:"doctor_name"`
	AppointmentRef       *string `json:"appointment_ref,omitempty"`
	Notes                *string `json:"notes,omitempty"`
	PharmacistIdentifier *string `json:"pharmacist_identifier,omitempty"`
	PharmacistName       *string `json:"pharmacist_name,omitempty"`
	PharmacyNotes        *string `json:"pharmacy_notes,omitempty"`

	Status   Status        `json:"status"`
	IsActive bool          `json:"is_active"`
	Items    []*Medication `json:"items"`

	Snapshot         string `json:"-"`
	VerificationHash string `json:"verification_hash"`

	RequestedAt time.Time  `json:"requested_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Item returns the item with the given id, or nil.
func (p *Prescription) Item(id uuid.UUID) *Medication {
	for _, it := range p.Items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// SnapshotView is the canonical list the aggregate hash covers.
func (p *Prescription) SnapshotView() []snapshot.Medication {
	out := make([]snapshot.Medication, 0, len(p.Items))
	for _, it := range p.Items {
		out = append(out, it.SnapshotView())
	}
	return out
}

// Medication is one prescribed item.
type Medication struct {
	ID             uuid.UUID  `json:"id"`
	PrescriptionID uuid.UUID  `json:"prescription_id"`
	Position       int        `json:"position"`
	MedicineID     *uuid.UUID `json:"medicine_id,omitempty"`

	// Sensitive.
	MedicineName         string `json:"medicine_name"`
	Dosage               string `json:"dosage"`
	Duration             string `json:"duration"`
	MealTiming           string `json:"meal_timing"`
	AdministrationMethod string `json:"administration_method"`
	Remarks              string `json:"remarks"`

	Morning   bool `json:"morning"`
	Afternoon bool `json:"afternoon"`
	Evening   bool `json:"evening"`
	Night     bool `json:"night"`

	QuantityDispensed int      `json:"quantity_dispensed"`
	UnitPrice         *float64 `json:"unit_price,omitempty"`
	TotalPrice        *float64 `json:"total_price,omitempty"`
	IsDispensed       bool     `json:"is_dispensed"`

	// LegacyDispensedStatus is the integer indicator rows from the older
	// schema carry (1 = dispensed). It is read-only and never drives billing.
	LegacyDispensedStatus *int `json:"legacy_dispensed_status,omitempty"`

	Snapshot         string `json:"-"`
	VerificationHash string `json:"verification_hash"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m *Medication) HasTiming() bool {
	return m.Morning || m.Afternoon || m.Evening || m.Night
}

// LegacyMismatch reports rows whose legacy indicator says dispensed while the
// boolean does not.
func (m *Medication) LegacyMismatch() bool {
	return m.LegacyDispensedStatus != nil && *m.LegacyDispensedStatus == 1 && !m.IsDispensed
}

// Billable reports whether the item takes part in invoicing.
func (m *Medication) Billable() bool {
	return m.IsDispensed && m.QuantityDispensed > 0
}

func (m *Medication) SnapshotView() snapshot.Medication {
	var medicineID *string
	if m.MedicineID != nil {
		s := m.MedicineID.String()
		medicineID = &s
	}
	return snapshot.Medication{
		MedicineID:           medicineID,
		MedicineName:         m.MedicineName,
		Dosage:               m.Dosage,
		Duration:             m.Duration,
		Morning:              m.Morning,
		Afternoon:            m.Afternoon,
		Evening:              m.Evening,
		Night:                m.Night,
		MealTiming:           m.MealTiming,
		AdministrationMethod: m.AdministrationMethod,
		Remarks:              m.Remarks,
		QuantityDispensed:    m.QuantityDispensed,
		UnitPrice:            m.UnitPrice,
		TotalPrice:           m.TotalPrice,
		IsDispensed:          m.IsDispensed,
	}
}

// ItemInput is one requested medication in a CreateCommand.
type ItemInput struct {
	MedicineID           *uuid.UUID `json:"medicine_id,omitempty"`
	MedicineName         string     `json:"medicine_name"`
	Dosage               string     `json:"dosage"`
	Duration             string     `json:"duration"`
	Morning              bool       `json:"morning"`
	Afternoon            bool       `json:"afternoon"`
	Evening              bool       `json:"evening"`
	Night                bool       `json:"night"`
	MealTiming           string     `json:"meal_timing"`
	AdministrationMethod string     `json:"administration_method"`
	Remarks              string     `json:"remarks"`
}

func (in ItemInput) blankIdentity() bool {
	return in.MedicineID == nil && strings.TrimSpace(in.MedicineName) == ""
}

type CreateCommand struct {
	DoctorID       uuid.UUID   `json:"doctor_id"`
	DoctorName     string      `json:"doctor_name"`
	PatientID      uuid.UUID   `json:"patient_id"`
	PatientName    string      `json:"patient_name"`
	AppointmentRef *string     `json:"appointment_ref,omitempty"`
	Notes          *string     `json:"notes,omitempty"`
	Items          []ItemInput `json:"items"`
}

// Dispense records what the pharmacist issued for one item.
type Dispense struct {
	MedicationID uuid.UUID `json:"medication_id"`
	Quantity     int       `json:"quantity"`
	UnitPrice    float64   `json:"unit_price"`
}

type UpdateStatusCommand struct {
	PrescriptionID uuid.UUID   `json:"-"`
	Status         string      `json:"status"`
	Dispenses      *[]Dispense `json:"dispenses,omitempty"`
	PharmacistID   string      `json:"-"`
	PharmacistName string      `json:"-"`
	Notes          *string     `json:"notes,omitempty"`
}

// Filter narrows List. Nil fields match everything.
type Filter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    *Status
	Active    *bool
}

type ItemIntegrity struct {
	MedicationID uuid.UUID `json:"medication_id"`
	Valid        bool      `json:"valid"`
}

type IntegrityReport struct {
	PrescriptionID uuid.UUID       `json:"prescription_id"`
	AggregateValid bool            `json:"aggregate_valid"`
	Items          []ItemIntegrity `json:"items"`
}

// Valid is true only when the aggregate and every item verify.
func (r IntegrityReport) Valid() bool {
	if !r.AggregateValid {
		return false
	}
	for _, it := range r.Items {
		if !it.Valid {
			return false
		}
	}
	return true
}

// Round2 rounds half away from zero to cents.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
