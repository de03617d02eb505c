package resource

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StatusChange describes the target state of a conditional occupancy
// update. All fields are written as-is; a nil pointer clears the column.
type StatusChange struct {
	To              Status
	OccupyingFlowID *uuid.UUID
	BlockReason     *string
	BlockedUntil    *time.Time
}

type Repository interface {
	CreateResource(ctx context.Context, res *Resource) error
	GetResource(ctx context.Context, id uuid.UUID) (*Resource, error)
	ListResources(ctx context.Context, clinicID uuid.UUID) ([]*Resource, error)

	GetOccupancy(ctx context.Context, resourceID uuid.UUID) (*Occupancy, error)
	ListOccupancies(ctx context.Context, clinicID uuid.UUID) ([]*Occupancy, error)

	// SelectAvailable picks the available resource that has been idle the
	// longest, optionally filtered by capability. Returns
	// ErrResourceUnavailable when no resource qualifies.
	SelectAvailable(ctx context.Context, clinicID uuid.UUID, capability string) (*Resource, error)

	// UpdateStatus applies change only if the current status is one of
	// from. Zero matched rows means another caller won the race:
	// ErrResourceUnavailable (or ErrResourceNotFound if the resource does
	// not exist).
	UpdateStatus(ctx context.Context, resourceID uuid.UUID, from []Status, change StatusChange) (*Occupancy, error)
}
