package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Recorder is the narrow write interface the other domain services use.
// It is satisfied by *Service.
type Recorder interface {
	Record(ctx context.Context, entry *Entry) error
}

type Repository interface {
	Insert(ctx context.Context, entry *Entry) error
	Query(ctx context.Context, filter Filter, limit, offset int) ([]*Entry, int, error)
	ListClinicsActive(ctx context.Context, since time.Time) ([]uuid.UUID, error)
}
