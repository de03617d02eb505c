package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chairflow/chairflow/internal/domain/audit"
	"github.com/chairflow/chairflow/internal/platform/db"
)

// EventSink receives committed occupancy changes for broadcast to
// dashboards and projections. May be nil.
type EventSink interface {
	Publish(clinicID uuid.UUID, subject string, subjectID uuid.UUID, fromValue, toValue string)
}

// Service coordinates resource occupancy. Mutual exclusion on a resource
// is enforced by conditional status updates, never by in-process locks, so
// it holds across server replicas.
type Service struct {
	repo   Repository
	runner db.Runner
	audit  audit.Recorder
	events EventSink
}

func NewService(repo Repository, runner db.Runner, recorder audit.Recorder, events EventSink) *Service {
	return &Service{repo: repo, runner: runner, audit: recorder, events: events}
}

func (s *Service) RegisterResource(ctx context.Context, res *Resource) (*Resource, error) {
	if res.ClinicID == uuid.Nil {
		return nil, fmt.Errorf("clinic_id is required")
	}
	if res.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if res.Kind == "" {
		res.Kind = "chair"
	}

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateResource(ctx, res); err != nil {
			return err
		}
		return s.audit.Record(ctx, &audit.Entry{
			ClinicID:    res.ClinicID,
			SubjectType: audit.SubjectOccupancy,
			SubjectID:   res.ID,
			ToValue:     string(StatusAvailable),
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("resource_id", res.ID.String()).Str("name", res.Name).Msg("resource registered")
	s.publish(res.ClinicID, res.ID, "", string(StatusAvailable))
	return res, nil
}

func (s *Service) ListResources(ctx context.Context, clinicID uuid.UUID) ([]*Resource, error) {
	return s.repo.ListResources(ctx, clinicID)
}

func (s *Service) GetResource(ctx context.Context, id uuid.UUID) (*Resource, error) {
	return s.repo.GetResource(ctx, id)
}

func (s *Service) GetOccupancy(ctx context.Context, resourceID uuid.UUID) (*Occupancy, error) {
	return s.repo.GetOccupancy(ctx, resourceID)
}

// Statuses returns all occupancy rows for a clinic, least recently changed
// first.
func (s *Service) Statuses(ctx context.Context, clinicID uuid.UUID) ([]*Occupancy, error) {
	return s.repo.ListOccupancies(ctx, clinicID)
}

// SelectAvailable picks a resource for automatic seating: the available
// resource idle the longest, with the lowest id breaking ties.
func (s *Service) SelectAvailable(ctx context.Context, clinicID uuid.UUID, capability string) (*Resource, error) {
	return s.repo.SelectAvailable(ctx, clinicID, capability)
}

// Acquire claims a resource for a flow. The conditional update from
// AVAILABLE is the whole mutual-exclusion story: of two concurrent callers
// exactly one matches the row, the other gets ErrResourceUnavailable.
func (s *Service) Acquire(ctx context.Context, resourceID, flowID uuid.UUID, actor string) (*Occupancy, error) {
	return s.acquire(ctx, resourceID, flowID, []Status{StatusAvailable}, actor)
}

// Reacquire claims a resource back for a flow correcting its checkout. The
// chair is usually still CLEANING from the release, so that state counts
// as claimable here.
func (s *Service) Reacquire(ctx context.Context, resourceID, flowID uuid.UUID, actor string) (*Occupancy, error) {
	return s.acquire(ctx, resourceID, flowID, []Status{StatusAvailable, StatusCleaning}, actor)
}

func (s *Service) acquire(ctx context.Context, resourceID, flowID uuid.UUID, from []Status, actor string) (*Occupancy, error) {
	var occ *Occupancy
	var prev Status
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetOccupancy(ctx, resourceID)
		if err != nil {
			return err
		}
		prev = cur.Status

		occ, err = s.repo.UpdateStatus(ctx, resourceID, from, StatusChange{
			To:              StatusOccupied,
			OccupyingFlowID: &flowID,
		})
		if err != nil {
			return err
		}
		return s.recordChange(ctx, occ, prev, actor)
	})
	if err != nil {
		return nil, err
	}
	s.publish(occ.ClinicID, resourceID, string(prev), string(occ.Status))
	return occ, nil
}

// Release frees a resource held by a flow. The resource lands on next
// (AVAILABLE or CLEANING), unless a block was requested while it was
// occupied, in which case the pending block takes effect now.
func (s *Service) Release(ctx context.Context, resourceID uuid.UUID, next Status, actor string) (*Occupancy, error) {
	if next != StatusAvailable && next != StatusCleaning {
		return nil, fmt.Errorf("%w: release to %s", ErrInvalidStatusChange, next)
	}

	var occ *Occupancy
	var from Status
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetOccupancy(ctx, resourceID)
		if err != nil {
			return err
		}
		if cur.Status != StatusOccupied && cur.Status != StatusReadyForDoctor {
			return fmt.Errorf("%w: release from %s", ErrInvalidStatusChange, cur.Status)
		}
		from = cur.Status

		change := StatusChange{To: next}
		if cur.BlockReason != nil {
			change.To = StatusBlocked
			change.BlockReason = cur.BlockReason
			change.BlockedUntil = cur.BlockedUntil
		}

		occ, err = s.repo.UpdateStatus(ctx, resourceID, []Status{cur.Status}, change)
		if err != nil {
			return err
		}
		return s.recordChange(ctx, occ, from, actor)
	})
	if err != nil {
		return nil, err
	}
	s.publish(occ.ClinicID, resourceID, string(from), string(occ.Status))
	return occ, nil
}

// MarkReadyForDoctor flags an occupied resource as waiting on the doctor.
func (s *Service) MarkReadyForDoctor(ctx context.Context, resourceID uuid.UUID, actor string) (*Occupancy, error) {
	return s.transition(ctx, resourceID, StatusOccupied, StatusReadyForDoctor, actor)
}

// ResumeOccupied returns a ready-for-doctor resource to plain occupied,
// when the doctor arrives chairside.
func (s *Service) ResumeOccupied(ctx context.Context, resourceID uuid.UUID, actor string) (*Occupancy, error) {
	return s.transition(ctx, resourceID, StatusReadyForDoctor, StatusOccupied, actor)
}

// FinishCleaning returns a cleaned resource to the available pool.
func (s *Service) FinishCleaning(ctx context.Context, resourceID uuid.UUID, actor string) (*Occupancy, error) {
	return s.transition(ctx, resourceID, StatusCleaning, StatusAvailable, actor)
}

// transition moves a resource between two unoccupied-adjacent states,
// preserving the occupying flow across the change.
func (s *Service) transition(ctx context.Context, resourceID uuid.UUID, from, to Status, actor string) (*Occupancy, error) {
	var occ *Occupancy
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetOccupancy(ctx, resourceID)
		if err != nil {
			return err
		}
		if cur.Status != from {
			return fmt.Errorf("%w: %s -> %s while %s", ErrInvalidStatusChange, from, to, cur.Status)
		}

		occ, err = s.repo.UpdateStatus(ctx, resourceID, []Status{from}, StatusChange{
			To:              to,
			OccupyingFlowID: cur.OccupyingFlowID,
			BlockReason:     cur.BlockReason,
			BlockedUntil:    cur.BlockedUntil,
		})
		if err != nil {
			return err
		}
		return s.recordChange(ctx, occ, from, actor)
	})
	if err != nil {
		return nil, err
	}
	s.publish(occ.ClinicID, resourceID, string(from), string(occ.Status))
	return occ, nil
}

// Block takes a resource out of service. An idle resource is blocked
// immediately. An occupied one is only blocked with force: the reason is
// recorded and the block lands when the current flow releases the chair.
func (s *Service) Block(ctx context.Context, resourceID uuid.UUID, reason string, until *time.Time, force bool, actor string) (*Occupancy, error) {
	if reason == "" {
		return nil, fmt.Errorf("block reason is required")
	}

	var occ *Occupancy
	var from Status
	toValue := string(StatusBlocked)
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetOccupancy(ctx, resourceID)
		if err != nil {
			return err
		}
		from = cur.Status

		switch cur.Status {
		case StatusOccupied, StatusReadyForDoctor:
			if !force {
				return ErrResourceOccupied
			}
			// Pending block: keep the patient in place, record the reason.
			toValue = "BLOCK_PENDING"
			occ, err = s.repo.UpdateStatus(ctx, resourceID, []Status{cur.Status}, StatusChange{
				To:              cur.Status,
				OccupyingFlowID: cur.OccupyingFlowID,
				BlockReason:     &reason,
				BlockedUntil:    until,
			})
		case StatusBlocked:
			return fmt.Errorf("%w: already blocked", ErrInvalidStatusChange)
		default:
			occ, err = s.repo.UpdateStatus(ctx, resourceID, []Status{cur.Status}, StatusChange{
				To:           StatusBlocked,
				BlockReason:  &reason,
				BlockedUntil: until,
			})
		}
		if err != nil {
			return err
		}
		return s.audit.Record(ctx, &audit.Entry{
			ClinicID:    occ.ClinicID,
			SubjectType: audit.SubjectOccupancy,
			SubjectID:   occ.ResourceID,
			FromValue:   string(from),
			ToValue:     toValue,
			ActorID:     actor,
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish(occ.ClinicID, resourceID, string(from), toValue)
	return occ, nil
}

// Unblock lifts a block, or clears a pending block from an occupied
// resource before it takes effect.
func (s *Service) Unblock(ctx context.Context, resourceID uuid.UUID, actor string) (*Occupancy, error) {
	var occ *Occupancy
	var from Status
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetOccupancy(ctx, resourceID)
		if err != nil {
			return err
		}
		if cur.Status != StatusBlocked && cur.BlockReason == nil {
			return ErrNotBlocked
		}
		from = cur.Status

		to := cur.Status
		if cur.Status == StatusBlocked {
			to = StatusAvailable
		}
		occ, err = s.repo.UpdateStatus(ctx, resourceID, []Status{cur.Status}, StatusChange{
			To:              to,
			OccupyingFlowID: cur.OccupyingFlowID,
		})
		if err != nil {
			return err
		}
		return s.recordChange(ctx, occ, from, actor)
	})
	if err != nil {
		return nil, err
	}
	s.publish(occ.ClinicID, resourceID, string(from), string(occ.Status))
	return occ, nil
}

func (s *Service) recordChange(ctx context.Context, occ *Occupancy, from Status, actor string) error {
	return s.audit.Record(ctx, &audit.Entry{
		ClinicID:    occ.ClinicID,
		SubjectType: audit.SubjectOccupancy,
		SubjectID:   occ.ResourceID,
		FromValue:   string(from),
		ToValue:     string(occ.Status),
		ActorID:     actor,
	})
}

func (s *Service) publish(clinicID, resourceID uuid.UUID, from, to string) {
	if s.events == nil || from == to {
		return
	}
	s.events.Publish(clinicID, "OCCUPANCY", resourceID, from, to)
}
