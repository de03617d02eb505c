package flow

import (
	"time"

	"github.com/google/uuid"
)

// Stage is a patient flow lifecycle stage. The happy path runs
// CHECKED_IN → CALLED → SEATED → IN_TREATMENT → TREATMENT_COMPLETE →
// CHECKED_OUT; CANCELLED is terminal and only reachable before seating.
type Stage string

const (
	StageCheckedIn         Stage = "CHECKED_IN"
	StageCalled            Stage = "CALLED"
	StageSeated            Stage = "SEATED"
	StageInTreatment       Stage = "IN_TREATMENT"
	StageTreatmentComplete Stage = "TREATMENT_COMPLETE"
	StageCheckedOut        Stage = "CHECKED_OUT"
	StageCancelled         Stage = "CANCELLED"
)

// Terminal reports whether no further transitions leave this stage
// (other than an explicit checkout correction).
func (s Stage) Terminal() bool {
	return s == StageCheckedOut || s == StageCancelled
}

// SubStage refines SEATED and IN_TREATMENT for chairside coordination.
type SubStage string

const (
	SubStageNone             SubStage = ""
	SubStageSetup            SubStage = "SETUP"
	SubStageAssistantWorking SubStage = "ASSISTANT_WORKING"
	SubStageReadyForDoctor   SubStage = "READY_FOR_DOCTOR"
	SubStageDoctorWorking    SubStage = "DOCTOR_WORKING"
	SubStageWrapUp           SubStage = "WRAP_UP"
)

// prevStage maps each stage to the one Revert returns to.
var prevStage = map[Stage]Stage{
	StageCalled:            StageCheckedIn,
	StageSeated:            StageCalled,
	StageInTreatment:       StageSeated,
	StageTreatmentComplete: StageInTreatment,
	StageCheckedOut:        StageTreatmentComplete,
}

// subStagesByStage lists which sub-stages a stage admits.
var subStagesByStage = map[Stage][]SubStage{
	StageSeated:      {SubStageSetup, SubStageAssistantWorking, SubStageReadyForDoctor, SubStageDoctorWorking},
	StageInTreatment: {SubStageReadyForDoctor, SubStageDoctorWorking, SubStageWrapUp},
}

func subStageAllowed(stage Stage, sub SubStage) bool {
	for _, s := range subStagesByStage[stage] {
		if s == sub {
			return true
		}
	}
	return false
}

// State is the live flow record for one patient visit. Version increments
// on every accepted mutation; updates are conditional on the version the
// caller read, so concurrent writers never interleave.
type State struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	ClinicID           uuid.UUID  `db:"clinic_id" json:"clinic_id"`
	PatientID          uuid.UUID  `db:"patient_id" json:"patient_id"`
	AppointmentID      *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	Procedure          string     `db:"procedure" json:"procedure,omitempty"`
	ExpectedMinutes    int        `db:"expected_minutes" json:"expected_minutes,omitempty"`
	RequiredCapability string     `db:"required_capability" json:"required_capability,omitempty"`
	ResourceID         *uuid.UUID `db:"resource_id" json:"resource_id,omitempty"`
	Stage              Stage      `db:"stage" json:"stage"`
	SubStage           SubStage   `db:"sub_stage" json:"sub_stage,omitempty"`

	CheckedInAt        time.Time  `db:"checked_in_at" json:"checked_in_at"`
	CalledAt           *time.Time `db:"called_at" json:"called_at,omitempty"`
	SeatedAt           *time.Time `db:"seated_at" json:"seated_at,omitempty"`
	TreatmentStartedAt *time.Time `db:"treatment_started_at" json:"treatment_started_at,omitempty"`
	CompletedAt        *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CheckedOutAt       *time.Time `db:"checked_out_at" json:"checked_out_at,omitempty"`
	CancelledAt        *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`

	Version   int64     `db:"version" json:"version"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// stageValue renders the stage (and sub-stage if set) for audit entries
// and event payloads.
func stageValue(stage Stage, sub SubStage) string {
	if sub == SubStageNone {
		return string(stage)
	}
	return string(stage) + ":" + string(sub)
}
