package queueview

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// WaitingEntry is one patient in the waiting area (CHECKED_IN or CALLED),
// ordered by check-in time.
type WaitingEntry struct {
	FlowID      uuid.UUID `json:"flow_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	Stage       string    `json:"stage"`
	Procedure   string    `json:"procedure,omitempty"`
	CheckedInAt time.Time `json:"checked_in_at"`
	Waiting     Duration  `json:"waiting"`
}

// ReadyEntry is a chair whose patient is prepared and waiting on the
// doctor, oldest wait first.
type ReadyEntry struct {
	ResourceID uuid.UUID  `json:"resource_id"`
	FlowID     *uuid.UUID `json:"flow_id,omitempty"`
	Since      time.Time  `json:"since"`
	Waiting    Duration   `json:"waiting"`
}

// Stats aggregates the waiting queue.
type Stats struct {
	WaitingCount int      `json:"waiting_count"`
	ReadyCount   int      `json:"ready_count"`
	AvgWait      Duration `json:"avg_wait"`
	MaxWait      Duration `json:"max_wait"`
}

// Snapshot is the derived queue view for one clinic. It is a pure
// projection: recomputed from the flow and occupancy stores, never
// written back.
type Snapshot struct {
	ClinicID   uuid.UUID      `json:"clinic_id"`
	Waiting    []WaitingEntry `json:"waiting"`
	Ready      []ReadyEntry   `json:"ready"`
	Stats      Stats          `json:"stats"`
	ComputedAt time.Time      `json:"computed_at"`
}

// Duration marshals as whole seconds so dashboard clients do not need to
// parse Go duration strings.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(time.Duration(d)/time.Second), 10)), nil
}
