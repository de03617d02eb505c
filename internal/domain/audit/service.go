package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service is the append-only audit trail. Record is called by the other
// domain services inside their own transactions, so a rejected operation
// leaves no audit rows behind.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Record(ctx context.Context, entry *Entry) error {
	if entry.ClinicID == uuid.Nil {
		return fmt.Errorf("audit: clinic_id is required")
	}
	if entry.SubjectID == uuid.Nil {
		return fmt.Errorf("audit: subject_id is required")
	}
	switch entry.SubjectType {
	case SubjectFlow, SubjectOccupancy, SubjectAssignment, SubjectLayout:
	default:
		return fmt.Errorf("audit: invalid subject type %q", entry.SubjectType)
	}
	if entry.ActorID == "" {
		entry.ActorID = "system"
	}
	return s.repo.Insert(ctx, entry)
}

func (s *Service) Query(ctx context.Context, filter Filter, limit, offset int) ([]*Entry, int, error) {
	return s.repo.Query(ctx, filter, limit, offset)
}

// ReplaySince returns a clinic's entries oldest-first for projection
// rebuilds after a restart.
func (s *Service) ReplaySince(ctx context.Context, clinicID uuid.UUID, since time.Time) ([]*Entry, error) {
	entries, _, err := s.repo.Query(ctx, Filter{ClinicID: clinicID, Since: &since}, 10000, 0)
	if err != nil {
		return nil, err
	}
	// Query returns newest-first; replays apply oldest-first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// ClinicsActiveSince lists clinics with any audited activity since the
// given time; used to warm per-clinic projections on startup.
func (s *Service) ClinicsActiveSince(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	return s.repo.ListClinicsActive(ctx, since)
}
