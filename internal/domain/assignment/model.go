package assignment

import (
	"time"

	"github.com/google/uuid"
)

// Assignment links a staff member to a resource for the duration of a
// patient flow. An assignment with a nil ReleasedAt is active; releasing
// sets the timestamp rather than deleting the row, so the ledger doubles
// as a work history.
type Assignment struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	ClinicID   uuid.UUID  `db:"clinic_id" json:"clinic_id"`
	StaffID    uuid.UUID  `db:"staff_id" json:"staff_id"`
	ResourceID uuid.UUID  `db:"resource_id" json:"resource_id"`
	FlowID     uuid.UUID  `db:"flow_id" json:"flow_id"`
	AssignedAt time.Time  `db:"assigned_at" json:"assigned_at"`
	ReleasedAt *time.Time `db:"released_at" json:"released_at,omitempty"`
}

// Workload summarizes a staff member's active assignment count, used to
// recommend who should take the next patient.
type Workload struct {
	StaffID uuid.UUID `json:"staff_id"`
	Active  int       `json:"active"`
}
