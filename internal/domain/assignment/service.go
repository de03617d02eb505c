package assignment

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/chairflow/chairflow/internal/domain/audit"
	"github.com/chairflow/chairflow/internal/platform/collab"
	"github.com/chairflow/chairflow/internal/platform/db"
)

// EventSink receives committed assignment changes. May be nil.
type EventSink interface {
	Publish(clinicID uuid.UUID, subject string, subjectID uuid.UUID, fromValue, toValue string)
}

// Service is the staff assignment ledger.
type Service struct {
	repo   Repository
	staff  collab.StaffDirectory
	runner db.Runner
	audit  audit.Recorder
	events EventSink
}

func NewService(repo Repository, staff collab.StaffDirectory, runner db.Runner, recorder audit.Recorder, events EventSink) *Service {
	return &Service{repo: repo, staff: staff, runner: runner, audit: recorder, events: events}
}

// Assign opens an assignment for a staff member on a resource. The staff
// id is resolved against the directory so typos surface at assign time,
// not on the work history report.
func (s *Service) Assign(ctx context.Context, clinicID, staffID, resourceID, flowID uuid.UUID, actor string) (*Assignment, error) {
	member, err := s.staff.Lookup(ctx, staffID)
	if err != nil {
		return nil, fmt.Errorf("staff lookup: %w", err)
	}

	a := &Assignment{
		ClinicID:   clinicID,
		StaffID:    member.ID,
		ResourceID: resourceID,
		FlowID:     flowID,
	}
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Insert(ctx, a); err != nil {
			return err
		}
		return s.audit.Record(ctx, &audit.Entry{
			ClinicID:    clinicID,
			SubjectType: audit.SubjectAssignment,
			SubjectID:   a.ID,
			ToValue:     "ASSIGNED",
			ActorID:     actor,
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish(clinicID, a.ID, "", "ASSIGNED")
	return a, nil
}

// Reassign swaps the staff on a resource: every open assignment is closed
// and a new one opened for the incoming staff member, atomically, so the
// ledger never shows the chair staffed by two people across the handover.
func (s *Service) Reassign(ctx context.Context, resourceID, newStaffID uuid.UUID, actor string) (*Assignment, error) {
	member, err := s.staff.Lookup(ctx, newStaffID)
	if err != nil {
		return nil, fmt.Errorf("staff lookup: %w", err)
	}

	var opened *Assignment
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		closed, err := s.repo.ReleaseByResource(ctx, resourceID)
		if err != nil {
			return err
		}
		if len(closed) == 0 {
			return ErrAssignmentNotFound
		}

		prev := closed[0]
		for _, c := range closed {
			if err := s.audit.Record(ctx, &audit.Entry{
				ClinicID:    c.ClinicID,
				SubjectType: audit.SubjectAssignment,
				SubjectID:   c.ID,
				FromValue:   "ASSIGNED",
				ToValue:     "RELEASED",
				ActorID:     actor,
			}); err != nil {
				return err
			}
		}

		opened = &Assignment{
			ClinicID:   prev.ClinicID,
			StaffID:    member.ID,
			ResourceID: resourceID,
			FlowID:     prev.FlowID,
		}
		if err := s.repo.Insert(ctx, opened); err != nil {
			return err
		}
		return s.audit.Record(ctx, &audit.Entry{
			ClinicID:    opened.ClinicID,
			SubjectType: audit.SubjectAssignment,
			SubjectID:   opened.ID,
			ToValue:     "ASSIGNED",
			ActorID:     actor,
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish(opened.ClinicID, opened.ID, "", "ASSIGNED")
	return opened, nil
}

// ReleaseByResource closes all open assignments on a resource, typically
// at checkout.
func (s *Service) ReleaseByResource(ctx context.Context, resourceID uuid.UUID, actor string) ([]*Assignment, error) {
	var closed []*Assignment
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		closed, err = s.repo.ReleaseByResource(ctx, resourceID)
		if err != nil {
			return err
		}
		for _, c := range closed {
			if err := s.audit.Record(ctx, &audit.Entry{
				ClinicID:    c.ClinicID,
				SubjectType: audit.SubjectAssignment,
				SubjectID:   c.ID,
				FromValue:   "ASSIGNED",
				ToValue:     "RELEASED",
				ActorID:     actor,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, c := range closed {
		s.publish(c.ClinicID, c.ID, "ASSIGNED", "RELEASED")
	}
	return closed, nil
}

func (s *Service) ActiveForStaff(ctx context.Context, staffID uuid.UUID) ([]*Assignment, error) {
	return s.repo.ActiveForStaff(ctx, staffID)
}

func (s *Service) ActiveForClinic(ctx context.Context, clinicID uuid.UUID) ([]*Assignment, error) {
	return s.repo.ActiveForClinic(ctx, clinicID)
}

// WorkloadRecommendation ranks a clinic's currently assigned staff by open
// assignment count, lightest first. Staff with no open assignments do not
// appear; the caller merges in the directory's idle staff if it wants them.
func (s *Service) WorkloadRecommendation(ctx context.Context, clinicID uuid.UUID) ([]Workload, error) {
	active, err := s.repo.ActiveForClinic(ctx, clinicID)
	if err != nil {
		return nil, err
	}

	counts := make(map[uuid.UUID]int)
	for _, a := range active {
		counts[a.StaffID]++
	}

	out := make([]Workload, 0, len(counts))
	for staffID, n := range counts {
		out = append(out, Workload{StaffID: staffID, Active: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Active != out[j].Active {
			return out[i].Active < out[j].Active
		}
		return out[i].StaffID.String() < out[j].StaffID.String()
	})
	return out, nil
}

func (s *Service) publish(clinicID, assignmentID uuid.UUID, from, to string) {
	if s.events == nil {
		return
	}
	s.events.Publish(clinicID, "ASSIGNMENT", assignmentID, from, to)
}
