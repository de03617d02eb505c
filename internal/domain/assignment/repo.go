package assignment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrAssignmentNotFound   = errors.New("assignment not found")
	ErrStaffAlreadyAssigned = errors.New("staff member is already assigned to this resource")
)

type Repository interface {
	Insert(ctx context.Context, a *Assignment) error
	Get(ctx context.Context, id uuid.UUID) (*Assignment, error)

	// ActiveForResource returns the open assignments on a resource.
	ActiveForResource(ctx context.Context, resourceID uuid.UUID) ([]*Assignment, error)
	ActiveForStaff(ctx context.Context, staffID uuid.UUID) ([]*Assignment, error)
	ActiveForClinic(ctx context.Context, clinicID uuid.UUID) ([]*Assignment, error)

	// ReleaseByResource closes every open assignment on a resource and
	// returns the rows it closed.
	ReleaseByResource(ctx context.Context, resourceID uuid.UUID) ([]*Assignment, error)
	Release(ctx context.Context, id uuid.UUID) (*Assignment, error)
}
