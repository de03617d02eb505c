package flow

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Insert(ctx context.Context, st *State) error
	Get(ctx context.Context, id uuid.UUID) (*State, error)

	// GetActiveByPatient returns the patient's non-terminal flow, if any.
	GetActiveByPatient(ctx context.Context, clinicID, patientID uuid.UUID) (*State, error)
	ListActive(ctx context.Context, clinicID uuid.UUID) ([]*State, error)

	// Update persists the whole row only if the stored version equals
	// expectedVersion, bumping it by one. ErrStaleVersion otherwise.
	Update(ctx context.Context, st *State, expectedVersion int64) error
}
