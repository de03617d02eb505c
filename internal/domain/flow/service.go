package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chairflow/chairflow/internal/domain/assignment"
	"github.com/chairflow/chairflow/internal/domain/audit"
	"github.com/chairflow/chairflow/internal/domain/resource"
	"github.com/chairflow/chairflow/internal/platform/collab"
	"github.com/chairflow/chairflow/internal/platform/db"
	"github.com/chairflow/chairflow/internal/platform/metrics"
)

// ResourceCoordinator is the slice of the occupancy coordinator the flow
// machine drives. Satisfied by *resource.Service.
type ResourceCoordinator interface {
	Acquire(ctx context.Context, resourceID, flowID uuid.UUID, actor string) (*resource.Occupancy, error)
	Reacquire(ctx context.Context, resourceID, flowID uuid.UUID, actor string) (*resource.Occupancy, error)
	Release(ctx context.Context, resourceID uuid.UUID, next resource.Status, actor string) (*resource.Occupancy, error)
	MarkReadyForDoctor(ctx context.Context, resourceID uuid.UUID, actor string) (*resource.Occupancy, error)
	ResumeOccupied(ctx context.Context, resourceID uuid.UUID, actor string) (*resource.Occupancy, error)
	SelectAvailable(ctx context.Context, clinicID uuid.UUID, capability string) (*resource.Resource, error)
	GetOccupancy(ctx context.Context, resourceID uuid.UUID) (*resource.Occupancy, error)
}

// AssignmentLedger is the slice of the staff ledger the flow machine
// drives. Satisfied by *assignment.Service.
type AssignmentLedger interface {
	Assign(ctx context.Context, clinicID, staffID, resourceID, flowID uuid.UUID, actor string) (*assignment.Assignment, error)
	ReleaseByResource(ctx context.Context, resourceID uuid.UUID, actor string) ([]*assignment.Assignment, error)
}

// EventSink receives committed flow transitions. May be nil.
type EventSink interface {
	Publish(clinicID uuid.UUID, subject string, subjectID uuid.UUID, fromValue, toValue string)
}

// Service is the patient flow state machine. Every transition runs in one
// transaction with its occupancy, assignment and audit side effects, keyed
// on the version the caller last read.
type Service struct {
	repo         Repository
	resources    ResourceCoordinator
	assignments  AssignmentLedger
	appointments collab.AppointmentDirectory
	runner       db.Runner
	audit        audit.Recorder
	events       EventSink
}

func NewService(
	repo Repository,
	resources ResourceCoordinator,
	assignments AssignmentLedger,
	appointments collab.AppointmentDirectory,
	runner db.Runner,
	recorder audit.Recorder,
	events EventSink,
) *Service {
	return &Service{
		repo:         repo,
		resources:    resources,
		assignments:  assignments,
		appointments: appointments,
		runner:       runner,
		audit:        recorder,
		events:       events,
	}
}

// CheckIn opens a visit. A patient can hold at most one active visit per
// clinic; booking details are pulled from the appointment service when an
// appointment id is given.
func (s *Service) CheckIn(ctx context.Context, clinicID, patientID uuid.UUID, appointmentID *uuid.UUID, actor string) (*State, error) {
	if clinicID == uuid.Nil || patientID == uuid.Nil {
		return nil, fmt.Errorf("clinic_id and patient_id are required")
	}

	existing, err := s.repo.GetActiveByPatient(ctx, clinicID, patientID)
	if err != nil && !errors.Is(err, ErrFlowNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: flow %s is %s", ErrDuplicateActiveVisit, existing.ID, existing.Stage)
	}

	st := &State{
		ClinicID:  clinicID,
		PatientID: patientID,
		Stage:     StageCheckedIn,
	}
	if appointmentID != nil {
		appt, err := s.appointments.Lookup(ctx, *appointmentID)
		if err != nil {
			return nil, fmt.Errorf("appointment lookup: %w", err)
		}
		st.AppointmentID = &appt.ID
		st.Procedure = appt.Procedure
		st.ExpectedMinutes = int(appt.ExpectedDuration / time.Minute)
		st.RequiredCapability = appt.RequiredCapability
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Insert(ctx, st); err != nil {
			return err
		}
		return s.recordTransition(ctx, st, "", actor)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("flow_id", st.ID.String()).
		Str("patient_id", patientID.String()).
		Msg("patient checked in")
	s.finish(st, "", "")
	return st, nil
}

// Call summons a checked-in patient from the waiting area.
func (s *Service) Call(ctx context.Context, flowID uuid.UUID, actor string) (*State, error) {
	var st *State
	var fromVal string
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		st, err = s.repo.Get(ctx, flowID)
		if err != nil {
			return err
		}
		if st.Stage != StageCheckedIn {
			return transitionError(st.Stage, StageCalled)
		}
		fromVal = stageValue(st.Stage, st.SubStage)

		now := time.Now().UTC()
		expected := st.Version
		st.Stage = StageCalled
		st.CalledAt = &now
		if err := s.update(ctx, st, expected); err != nil {
			return err
		}
		return s.recordTransition(ctx, st, fromVal, actor)
	})
	if err != nil {
		return nil, err
	}
	s.finish(st, StageCheckedIn, fromVal)
	return st, nil
}

// Seat places a called patient in a chair. The chair is given explicitly
// or picked automatically (longest idle, honoring the appointment's
// required capability). The flow update, the occupancy acquisition, the
// staff assignment and their audit rows commit or roll back together.
func (s *Service) Seat(ctx context.Context, flowID uuid.UUID, resourceID, staffID *uuid.UUID, actor string) (*State, error) {
	var st *State
	var fromVal string
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		st, err = s.repo.Get(ctx, flowID)
		if err != nil {
			return err
		}
		if st.Stage != StageCalled {
			return transitionError(st.Stage, StageSeated)
		}
		fromVal = stageValue(st.Stage, st.SubStage)

		target := resourceID
		if target == nil {
			picked, err := s.resources.SelectAvailable(ctx, st.ClinicID, st.RequiredCapability)
			if err != nil {
				return err
			}
			target = &picked.ID
		}

		if _, err := s.resources.Acquire(ctx, *target, st.ID, actor); err != nil {
			return err
		}

		now := time.Now().UTC()
		expected := st.Version
		st.Stage = StageSeated
		st.SubStage = SubStageSetup
		st.ResourceID = target
		st.SeatedAt = &now
		if err := s.update(ctx, st, expected); err != nil {
			return err
		}

		if staffID != nil {
			if _, err := s.assignments.Assign(ctx, st.ClinicID, *staffID, *target, st.ID, actor); err != nil {
				return err
			}
		}
		return s.recordTransition(ctx, st, fromVal, actor)
	})
	if err != nil {
		if errors.Is(err, resource.ErrResourceUnavailable) {
			metrics.SeatConflicts.Inc()
		}
		return nil, err
	}
	s.finish(st, StageCalled, fromVal)
	return st, nil
}

// UpdateSubStage moves the chairside sub-stage. Entering READY_FOR_DOCTOR
// flips the chair's occupancy status so the dashboard shows it waiting;
// DOCTOR_WORKING flips it back, and if the flow was still SEATED it
// promotes the stage to IN_TREATMENT.
func (s *Service) UpdateSubStage(ctx context.Context, flowID uuid.UUID, sub SubStage, actor string) (*State, error) {
	var st *State
	var fromVal string
	var fromStage Stage
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		st, err = s.repo.Get(ctx, flowID)
		if err != nil {
			return err
		}
		if st.Stage != StageSeated && st.Stage != StageInTreatment {
			return fmt.Errorf("%w: stage %s", ErrInvalidSubStage, st.Stage)
		}
		if !subStageAllowed(st.Stage, sub) {
			return fmt.Errorf("%w: %s while %s", ErrInvalidSubStage, sub, st.Stage)
		}
		if st.SubStage == sub {
			return nil
		}
		fromVal = stageValue(st.Stage, st.SubStage)
		fromStage = st.Stage

		if st.ResourceID != nil {
			switch {
			case sub == SubStageReadyForDoctor:
				if _, err := s.resources.MarkReadyForDoctor(ctx, *st.ResourceID, actor); err != nil {
					return err
				}
			case st.SubStage == SubStageReadyForDoctor && sub == SubStageDoctorWorking:
				if _, err := s.resources.ResumeOccupied(ctx, *st.ResourceID, actor); err != nil {
					return err
				}
			}
		}

		expected := st.Version
		st.SubStage = sub
		if sub == SubStageDoctorWorking && st.Stage == StageSeated {
			now := time.Now().UTC()
			st.Stage = StageInTreatment
			st.TreatmentStartedAt = &now
		}
		if err := s.update(ctx, st, expected); err != nil {
			return err
		}
		return s.recordTransition(ctx, st, fromVal, actor)
	})
	if err != nil {
		return nil, err
	}
	if fromVal != "" {
		s.finish(st, fromStage, fromVal)
	}
	return st, nil
}

// CompleteTreatment marks the clinical work done; the patient still holds
// the chair until checkout. Valid from SEATED as well, since quick
// procedures finish without the doctor sub-stage ever being set.
func (s *Service) CompleteTreatment(ctx context.Context, flowID uuid.UUID, actor string) (*State, error) {
	var st *State
	var fromStage Stage
	var fromVal string
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		st, err = s.repo.Get(ctx, flowID)
		if err != nil {
			return err
		}
		if st.Stage != StageSeated && st.Stage != StageInTreatment {
			return transitionError(st.Stage, StageTreatmentComplete)
		}
		fromStage = st.Stage
		fromVal = stageValue(st.Stage, st.SubStage)

		// A chair flagged ready-for-doctor goes back to plain occupied so
		// the ready queue stops tracking a finished patient.
		if st.ResourceID != nil {
			occ, err := s.resources.GetOccupancy(ctx, *st.ResourceID)
			if err != nil {
				return err
			}
			if occ.Status == resource.StatusReadyForDoctor {
				if _, err := s.resources.ResumeOccupied(ctx, *st.ResourceID, actor); err != nil {
					return err
				}
			}
		}

		now := time.Now().UTC()
		expected := st.Version
		st.Stage = StageTreatmentComplete
		st.SubStage = SubStageNone
		st.CompletedAt = &now
		if err := s.update(ctx, st, expected); err != nil {
			return err
		}
		return s.recordTransition(ctx, st, fromVal, actor)
	})
	if err != nil {
		return nil, err
	}
	s.finish(st, fromStage, fromVal)
	return st, nil
}

// CheckOut closes the visit: the chair is released into CLEANING (or a
// pending block takes effect) and every staff assignment on it is closed.
func (s *Service) CheckOut(ctx context.Context, flowID uuid.UUID, actor string) (*State, error) {
	var st *State
	var fromVal string
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		st, err = s.repo.Get(ctx, flowID)
		if err != nil {
			return err
		}
		if st.Stage != StageTreatmentComplete {
			return transitionError(st.Stage, StageCheckedOut)
		}
		fromVal = stageValue(st.Stage, st.SubStage)

		if st.ResourceID != nil {
			if _, err := s.resources.Release(ctx, *st.ResourceID, resource.StatusCleaning, actor); err != nil {
				return err
			}
			if _, err := s.assignments.ReleaseByResource(ctx, *st.ResourceID, actor); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		expected := st.Version
		st.Stage = StageCheckedOut
		st.CheckedOutAt = &now
		if err := s.update(ctx, st, expected); err != nil {
			return err
		}
		return s.recordTransition(ctx, st, fromVal, actor)
	})
	if err != nil {
		return nil, err
	}
	s.finish(st, StageTreatmentComplete, fromVal)
	return st, nil
}

// Revert walks the flow exactly one stage back, undoing the side effects
// the forward transition made. Reverting a checkout re-claims the chair;
// if housekeeping already put it back in service for someone else the
// revert fails with ErrResourceNoLongerAvailable.
func (s *Service) Revert(ctx context.Context, flowID uuid.UUID, actor string) (*State, error) {
	var st *State
	var fromVal string
	var fromStage Stage
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		st, err = s.repo.Get(ctx, flowID)
		if err != nil {
			return err
		}
		prev, ok := prevStage[st.Stage]
		if !ok {
			return fmt.Errorf("%w: stage %s", ErrNoPriorStage, st.Stage)
		}
		fromVal = stageValue(st.Stage, st.SubStage)
		fromStage = st.Stage
		expected := st.Version

		switch st.Stage {
		case StageCalled:
			st.CalledAt = nil
		case StageSeated:
			if st.ResourceID != nil {
				if _, err := s.resources.Release(ctx, *st.ResourceID, resource.StatusAvailable, actor); err != nil {
					return err
				}
				if _, err := s.assignments.ReleaseByResource(ctx, *st.ResourceID, actor); err != nil {
					return err
				}
			}
			st.ResourceID = nil
			st.SeatedAt = nil
			st.SubStage = SubStageNone
		case StageInTreatment:
			st.TreatmentStartedAt = nil
			st.SubStage = SubStageAssistantWorking
		case StageTreatmentComplete:
			st.CompletedAt = nil
			st.SubStage = SubStageDoctorWorking
		case StageCheckedOut:
			if st.ResourceID != nil {
				if _, err := s.resources.Reacquire(ctx, *st.ResourceID, st.ID, actor); err != nil {
					if errors.Is(err, resource.ErrResourceUnavailable) {
						return ErrResourceNoLongerAvailable
					}
					return err
				}
			}
			st.CheckedOutAt = nil
		}

		st.Stage = prev
		if err := s.update(ctx, st, expected); err != nil {
			return err
		}
		return s.recordTransition(ctx, st, fromVal, actor)
	})
	if err != nil {
		return nil, err
	}
	s.finish(st, fromStage, fromVal)
	return st, nil
}

// Cancel abandons a visit that has not reached a chair. Seated patients
// must be reverted stage by stage instead, so the chair and staff are
// cleaned up deliberately.
func (s *Service) Cancel(ctx context.Context, flowID uuid.UUID, actor string) (*State, error) {
	var st *State
	var fromVal string
	var fromStage Stage
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		st, err = s.repo.Get(ctx, flowID)
		if err != nil {
			return err
		}
		if st.Stage != StageCheckedIn && st.Stage != StageCalled {
			return fmt.Errorf("%w: stage %s", ErrCancelNotAllowed, st.Stage)
		}
		fromVal = stageValue(st.Stage, st.SubStage)
		fromStage = st.Stage

		now := time.Now().UTC()
		expected := st.Version
		st.Stage = StageCancelled
		st.CancelledAt = &now
		if err := s.update(ctx, st, expected); err != nil {
			return err
		}
		return s.recordTransition(ctx, st, fromVal, actor)
	})
	if err != nil {
		return nil, err
	}
	s.finish(st, fromStage, fromVal)
	return st, nil
}

func (s *Service) Get(ctx context.Context, flowID uuid.UUID) (*State, error) {
	return s.repo.Get(ctx, flowID)
}

func (s *Service) ListActive(ctx context.Context, clinicID uuid.UUID) ([]*State, error) {
	return s.repo.ListActive(ctx, clinicID)
}

func (s *Service) update(ctx context.Context, st *State, expected int64) error {
	err := s.repo.Update(ctx, st, expected)
	if errors.Is(err, ErrStaleVersion) {
		metrics.StaleVersionRejections.Inc()
	}
	return err
}

func (s *Service) recordTransition(ctx context.Context, st *State, fromVal, actor string) error {
	return s.audit.Record(ctx, &audit.Entry{
		ClinicID:    st.ClinicID,
		SubjectType: audit.SubjectFlow,
		SubjectID:   st.ID,
		FromValue:   fromVal,
		ToValue:     stageValue(st.Stage, st.SubStage),
		ActorID:     actor,
	})
}

func (s *Service) finish(st *State, fromStage Stage, fromVal string) {
	if fromStage != st.Stage {
		metrics.StageTransitions.WithLabelValues(string(fromStage), string(st.Stage)).Inc()
	}
	if s.events != nil {
		s.events.Publish(st.ClinicID, "FLOW", st.ID, fromVal, stageValue(st.Stage, st.SubStage))
	}
}

func transitionError(from, to Stage) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
