package identity

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the two directories.
type Kind string

const (
	KindPatient Kind = "patient"
	KindDoctor  Kind = "doctor"
)

func (k Kind) table() string {
	if k == KindDoctor {
		return "practitioner"
	}
	return "patient"
}

// Person is a directory entry. The ledger only needs a stable id and a name to
// copy into prescriptions.
type Person struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}
