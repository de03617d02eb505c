package floorplan

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Get(ctx context.Context, clinicID uuid.UUID) (*Layout, error)

	// Save persists the layout only if the stored version equals
	// expectedVersion; expectedVersion 0 means the clinic has no layout
	// yet and inserts one. ErrLayoutConflict otherwise.
	Save(ctx context.Context, layout *Layout, expectedVersion int64) error
}
