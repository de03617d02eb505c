package resource

import (
	"time"

	"github.com/google/uuid"
)

// Status is the occupancy lifecycle state of a clinic resource.
type Status string

const (
	StatusAvailable      Status = "AVAILABLE"
	StatusOccupied       Status = "OCCUPIED"
	StatusReadyForDoctor Status = "READY_FOR_DOCTOR"
	StatusCleaning       Status = "CLEANING"
	StatusBlocked        Status = "BLOCKED"
	StatusMaintenance    Status = "MAINTENANCE"
)

// Valid reports whether s is a known occupancy status.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusOccupied, StatusReadyForDoctor,
		StatusCleaning, StatusBlocked, StatusMaintenance:
		return true
	}
	return false
}

// Resource is a physical asset a patient flow can occupy: a treatment
// chair, an x-ray room, a consultation room.
type Resource struct {
	ID           uuid.UUID `db:"id" json:"id"`
	ClinicID     uuid.UUID `db:"clinic_id" json:"clinic_id"`
	Name         string    `db:"name" json:"name"`
	Kind         string    `db:"kind" json:"kind"`
	Capabilities []string  `db:"capabilities" json:"capabilities"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Occupancy tracks who holds a resource right now. Exactly one row exists
// per resource; status changes are serialized by conditional updates on the
// current status, so two flows can never hold the same resource.
type Occupancy struct {
	ResourceID      uuid.UUID  `db:"resource_id" json:"resource_id"`
	ClinicID        uuid.UUID  `db:"clinic_id" json:"clinic_id"`
	Status          Status     `db:"status" json:"status"`
	OccupyingFlowID *uuid.UUID `db:"occupying_flow_id" json:"occupying_flow_id,omitempty"`
	BlockReason     *string    `db:"block_reason" json:"block_reason,omitempty"`
	BlockedUntil    *time.Time `db:"blocked_until" json:"blocked_until,omitempty"`
	StatusChangedAt time.Time  `db:"status_changed_at" json:"status_changed_at"`
	Version         int64      `db:"version" json:"version"`
}
