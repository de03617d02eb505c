package audit

import (
	"time"

	"github.com/google/uuid"
)

// SubjectType identifies which entity an audit entry describes.
type SubjectType string

const (
	SubjectFlow       SubjectType = "FLOW"
	SubjectOccupancy  SubjectType = "OCCUPANCY"
	SubjectAssignment SubjectType = "ASSIGNMENT"
	SubjectLayout     SubjectType = "LAYOUT"
)

// Entry maps to the audit_entry table. Entries are append-only: every
// accepted mutation to a flow state, occupancy record, staff assignment or
// floor plan writes exactly one entry in the same transaction, which makes
// the table the source of truth for compliance review and for rebuilding
// in-memory projections after a restart.
type Entry struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	ClinicID    uuid.UUID   `db:"clinic_id" json:"clinic_id"`
	SubjectType SubjectType `db:"subject_type" json:"subject_type"`
	SubjectID   uuid.UUID   `db:"subject_id" json:"subject_id"`
	FromValue   string      `db:"from_value" json:"from_value"`
	ToValue     string      `db:"to_value" json:"to_value"`
	ActorID     string      `db:"actor_id" json:"actor_id"`
	OccurredAt  time.Time   `db:"occurred_at" json:"occurred_at"`
}

// Filter narrows an audit query.
type Filter struct {
	ClinicID    uuid.UUID
	SubjectType SubjectType
	SubjectID   *uuid.UUID
	Since       *time.Time
	Until       *time.Time
}
