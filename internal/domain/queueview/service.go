package queueview

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chairflow/chairflow/internal/domain/flow"
	"github.com/chairflow/chairflow/internal/domain/resource"
	"github.com/chairflow/chairflow/internal/platform/metrics"
	"github.com/chairflow/chairflow/internal/platform/notify"
)

// FlowSource lists live flows; satisfied by *flow.Service.
type FlowSource interface {
	ListActive(ctx context.Context, clinicID uuid.UUID) ([]*flow.State, error)
}

// OccupancySource lists occupancy rows; satisfied by *resource.Service.
type OccupancySource interface {
	Statuses(ctx context.Context, clinicID uuid.UUID) ([]*resource.Occupancy, error)
}

// Thresholds carries the alert tuning from config.
type Thresholds struct {
	ReadyForDoctorWarnAfter time.Duration
	WaitingWarnAfter        time.Duration
}

// Service computes per-clinic queue snapshots and derives threshold
// alerts. Snapshots are cached until a mutation invalidates the clinic;
// the queue itself is never persisted.
type Service struct {
	flows      FlowSource
	occupancy  OccupancySource
	dispatcher *notify.Dispatcher
	thresholds Thresholds

	mu    sync.RWMutex
	cache map[uuid.UUID]*Snapshot
	known map[uuid.UUID]struct{}
}

func NewService(flows FlowSource, occupancy OccupancySource, dispatcher *notify.Dispatcher, thresholds Thresholds) *Service {
	return &Service{
		flows:      flows,
		occupancy:  occupancy,
		dispatcher: dispatcher,
		thresholds: thresholds,
		cache:      make(map[uuid.UUID]*Snapshot),
		known:      make(map[uuid.UUID]struct{}),
	}
}

// Invalidate drops a clinic's cached snapshot. Wired to the event sink so
// every committed mutation forces a recompute on the next read.
func (s *Service) Invalidate(clinicID uuid.UUID) {
	s.mu.Lock()
	delete(s.cache, clinicID)
	s.known[clinicID] = struct{}{}
	s.mu.Unlock()
}

// Snapshot returns the clinic's queue view, recomputing if stale.
func (s *Service) Snapshot(ctx context.Context, clinicID uuid.UUID) (*Snapshot, error) {
	s.mu.RLock()
	cached, ok := s.cache[clinicID]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}
	return s.recompute(ctx, clinicID)
}

// Clinics returns every clinic id the service has seen, for the poller.
func (s *Service) Clinics() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(s.known))
	for id := range s.known {
		out = append(out, id)
	}
	return out
}

func (s *Service) recompute(ctx context.Context, clinicID uuid.UUID) (*Snapshot, error) {
	flows, err := s.flows.ListActive(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	occupancies, err := s.occupancy.Statuses(ctx, clinicID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	snap := &Snapshot{
		ClinicID:   clinicID,
		Waiting:    []WaitingEntry{},
		Ready:      []ReadyEntry{},
		ComputedAt: now,
	}

	var totalWait, maxWait time.Duration
	var occupied int
	for _, st := range flows {
		if st.Stage != flow.StageCheckedIn && st.Stage != flow.StageCalled {
			continue
		}
		wait := now.Sub(st.CheckedInAt)
		totalWait += wait
		if wait > maxWait {
			maxWait = wait
		}
		snap.Waiting = append(snap.Waiting, WaitingEntry{
			FlowID:      st.ID,
			PatientID:   st.PatientID,
			Stage:       string(st.Stage),
			Procedure:   st.Procedure,
			CheckedInAt: st.CheckedInAt,
			Waiting:     Duration(wait),
		})
	}
	sort.Slice(snap.Waiting, func(i, j int) bool {
		if !snap.Waiting[i].CheckedInAt.Equal(snap.Waiting[j].CheckedInAt) {
			return snap.Waiting[i].CheckedInAt.Before(snap.Waiting[j].CheckedInAt)
		}
		return snap.Waiting[i].FlowID.String() < snap.Waiting[j].FlowID.String()
	})

	for _, occ := range occupancies {
		switch occ.Status {
		case resource.StatusReadyForDoctor:
			occupied++
			snap.Ready = append(snap.Ready, ReadyEntry{
				ResourceID: occ.ResourceID,
				FlowID:     occ.OccupyingFlowID,
				Since:      occ.StatusChangedAt,
				Waiting:    Duration(now.Sub(occ.StatusChangedAt)),
			})
		case resource.StatusOccupied:
			occupied++
		}
	}
	sort.Slice(snap.Ready, func(i, j int) bool {
		return snap.Ready[i].Since.Before(snap.Ready[j].Since)
	})

	snap.Stats = Stats{
		WaitingCount: len(snap.Waiting),
		ReadyCount:   len(snap.Ready),
		MaxWait:      Duration(maxWait),
	}
	if len(snap.Waiting) > 0 {
		snap.Stats.AvgWait = Duration(totalWait / time.Duration(len(snap.Waiting)))
	}

	metrics.WaitingDepth.WithLabelValues(clinicID.String()).Set(float64(len(snap.Waiting)))
	metrics.OccupiedResources.WithLabelValues(clinicID.String()).Set(float64(occupied))

	s.mu.Lock()
	s.cache[clinicID] = snap
	s.known[clinicID] = struct{}{}
	s.mu.Unlock()
	return snap, nil
}

// EvaluateAlerts recomputes the clinic's snapshot and emits an alert for
// every threshold breach. Alerts are derived fresh each evaluation; a
// breach that clears simply stops producing them.
func (s *Service) EvaluateAlerts(ctx context.Context, clinicID uuid.UUID) ([]notify.Alert, error) {
	snap, err := s.recompute(ctx, clinicID)
	if err != nil {
		return nil, err
	}

	var alerts []notify.Alert
	for _, entry := range snap.Ready {
		elapsed := time.Duration(entry.Waiting)
		if elapsed < s.thresholds.ReadyForDoctorWarnAfter {
			continue
		}
		alerts = append(alerts, notify.Alert{
			ClinicID:  clinicID,
			Kind:      notify.KindReadyForDoctorTooLong,
			SubjectID: entry.ResourceID,
			Message:   fmt.Sprintf("chair ready for doctor for %s", elapsed.Round(time.Second)),
			Since:     entry.Since,
			Elapsed:   elapsed,
			Threshold: s.thresholds.ReadyForDoctorWarnAfter,
		})
	}
	for _, entry := range snap.Waiting {
		elapsed := time.Duration(entry.Waiting)
		if elapsed < s.thresholds.WaitingWarnAfter {
			continue
		}
		alerts = append(alerts, notify.Alert{
			ClinicID:  clinicID,
			Kind:      notify.KindWaitingTooLong,
			SubjectID: entry.FlowID,
			Message:   fmt.Sprintf("patient waiting for %s", elapsed.Round(time.Second)),
			Since:     entry.CheckedInAt,
			Elapsed:   elapsed,
			Threshold: s.thresholds.WaitingWarnAfter,
		})
	}

	for _, a := range alerts {
		metrics.AlertsFired.WithLabelValues(string(a.Kind)).Inc()
		if s.dispatcher != nil {
			s.dispatcher.Dispatch(a)
		}
	}
	return alerts, nil
}

// Prime registers clinics discovered from the audit trail so the poller
// watches them from the first tick after a restart.
func (s *Service) Prime(ctx context.Context, clinicIDs []uuid.UUID) {
	for _, id := range clinicIDs {
		if _, err := s.recompute(ctx, id); err != nil {
			log.Warn().Err(err).Str("clinic_id", id.String()).Msg("queue warmup failed")
		}
	}
}
