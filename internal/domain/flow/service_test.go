package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chairflow/chairflow/internal/domain/assignment"
	"github.com/chairflow/chairflow/internal/domain/audit"
	"github.com/chairflow/chairflow/internal/domain/resource"
	"github.com/chairflow/chairflow/internal/platform/collab"
)

// --- mocks ------------------------------------------------------------

type mockRepo struct {
	mu    sync.Mutex
	flows map[uuid.UUID]*State
}

func newMockRepo() *mockRepo {
	return &mockRepo{flows: make(map[uuid.UUID]*State)}
}

func (m *mockRepo) Insert(ctx context.Context, st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Same contract as the one-active-visit-per-patient unique index.
	for _, other := range m.flows {
		if other.ClinicID == st.ClinicID && other.PatientID == st.PatientID && !other.Stage.Terminal() {
			return ErrDuplicateActiveVisit
		}
	}
	st.ID = uuid.New()
	st.Version = 1
	if st.CheckedInAt.IsZero() {
		st.CheckedInAt = time.Now()
	}
	cp := *st
	m.flows[st.ID] = &cp
	return nil
}

func (m *mockRepo) Get(ctx context.Context, id uuid.UUID) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.flows[id]
	if !ok {
		return nil, ErrFlowNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *mockRepo) GetActiveByPatient(ctx context.Context, clinicID, patientID uuid.UUID) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.flows {
		if st.ClinicID == clinicID && st.PatientID == patientID && !st.Stage.Terminal() {
			cp := *st
			return &cp, nil
		}
	}
	return nil, ErrFlowNotFound
}

func (m *mockRepo) ListActive(ctx context.Context, clinicID uuid.UUID) ([]*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*State
	for _, st := range m.flows {
		if st.ClinicID == clinicID && !st.Stage.Terminal() {
			cp := *st
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) Update(ctx context.Context, st *State, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.flows[st.ID]
	if !ok {
		return ErrFlowNotFound
	}
	if stored.Version != expectedVersion {
		return ErrStaleVersion
	}
	cp := *st
	cp.Version = expectedVersion + 1
	m.flows[st.ID] = &cp
	st.Version = cp.Version
	return nil
}

// mockResources enforces the same conditional-update contract as the real
// coordinator under one lock.
type mockResources struct {
	mu    sync.Mutex
	state map[uuid.UUID]*resource.Occupancy
	caps  map[uuid.UUID][]string
}

func newMockResources() *mockResources {
	return &mockResources{
		state: make(map[uuid.UUID]*resource.Occupancy),
		caps:  make(map[uuid.UUID][]string),
	}
}

func (m *mockResources) add(clinicID uuid.UUID, caps ...string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.state[id] = &resource.Occupancy{
		ResourceID:      id,
		ClinicID:        clinicID,
		Status:          resource.StatusAvailable,
		StatusChangedAt: time.Now(),
	}
	m.caps[id] = caps
	return id
}

func (m *mockResources) setStatus(id uuid.UUID, status resource.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[id].Status = status
}

func (m *mockResources) Acquire(ctx context.Context, resourceID, flowID uuid.UUID, actor string) (*resource.Occupancy, error) {
	return m.claim(resourceID, flowID, resource.StatusAvailable)
}

func (m *mockResources) Reacquire(ctx context.Context, resourceID, flowID uuid.UUID, actor string) (*resource.Occupancy, error) {
	occ, err := m.claim(resourceID, flowID, resource.StatusAvailable)
	if err == nil {
		return occ, nil
	}
	return m.claim(resourceID, flowID, resource.StatusCleaning)
}

func (m *mockResources) claim(resourceID, flowID uuid.UUID, from resource.Status) (*resource.Occupancy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	occ, ok := m.state[resourceID]
	if !ok {
		return nil, resource.ErrResourceNotFound
	}
	if occ.Status != from {
		return nil, resource.ErrResourceUnavailable
	}
	occ.Status = resource.StatusOccupied
	occ.OccupyingFlowID = &flowID
	occ.StatusChangedAt = time.Now()
	cp := *occ
	return &cp, nil
}

func (m *mockResources) Release(ctx context.Context, resourceID uuid.UUID, next resource.Status, actor string) (*resource.Occupancy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	occ, ok := m.state[resourceID]
	if !ok {
		return nil, resource.ErrResourceNotFound
	}
	if occ.Status != resource.StatusOccupied && occ.Status != resource.StatusReadyForDoctor {
		return nil, resource.ErrInvalidStatusChange
	}
	occ.Status = next
	occ.OccupyingFlowID = nil
	occ.StatusChangedAt = time.Now()
	cp := *occ
	return &cp, nil
}

func (m *mockResources) MarkReadyForDoctor(ctx context.Context, resourceID uuid.UUID, actor string) (*resource.Occupancy, error) {
	return m.flip(resourceID, resource.StatusOccupied, resource.StatusReadyForDoctor)
}

func (m *mockResources) ResumeOccupied(ctx context.Context, resourceID uuid.UUID, actor string) (*resource.Occupancy, error) {
	return m.flip(resourceID, resource.StatusReadyForDoctor, resource.StatusOccupied)
}

func (m *mockResources) flip(resourceID uuid.UUID, from, to resource.Status) (*resource.Occupancy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	occ, ok := m.state[resourceID]
	if !ok {
		return nil, resource.ErrResourceNotFound
	}
	if occ.Status != from {
		return nil, resource.ErrInvalidStatusChange
	}
	occ.Status = to
	cp := *occ
	return &cp, nil
}

func (m *mockResources) SelectAvailable(ctx context.Context, clinicID uuid.UUID, capability string) (*resource.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *resource.Occupancy
	for id, occ := range m.state {
		if occ.ClinicID != clinicID || occ.Status != resource.StatusAvailable {
			continue
		}
		if capability != "" && !contains(m.caps[id], capability) {
			continue
		}
		if best == nil || occ.StatusChangedAt.Before(best.StatusChangedAt) {
			best = occ
		}
	}
	if best == nil {
		return nil, resource.ErrResourceUnavailable
	}
	return &resource.Resource{ID: best.ResourceID, ClinicID: clinicID}, nil
}

func (m *mockResources) GetOccupancy(ctx context.Context, resourceID uuid.UUID) (*resource.Occupancy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	occ, ok := m.state[resourceID]
	if !ok {
		return nil, resource.ErrResourceNotFound
	}
	cp := *occ
	return &cp, nil
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

type mockLedger struct {
	mu       sync.Mutex
	active   map[uuid.UUID][]uuid.UUID // resourceID -> staff
	released []uuid.UUID
}

func newMockLedger() *mockLedger {
	return &mockLedger{active: make(map[uuid.UUID][]uuid.UUID)}
}

func (m *mockLedger) Assign(ctx context.Context, clinicID, staffID, resourceID, flowID uuid.UUID, actor string) (*assignment.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.active[resourceID] {
		if s == staffID {
			return nil, assignment.ErrStaffAlreadyAssigned
		}
	}
	m.active[resourceID] = append(m.active[resourceID], staffID)
	return &assignment.Assignment{
		ID: uuid.New(), ClinicID: clinicID, StaffID: staffID,
		ResourceID: resourceID, FlowID: flowID, AssignedAt: time.Now(),
	}, nil
}

func (m *mockLedger) ReleaseByResource(ctx context.Context, resourceID uuid.UUID, actor string) ([]*assignment.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	staff := m.active[resourceID]
	delete(m.active, resourceID)
	m.released = append(m.released, resourceID)
	out := make([]*assignment.Assignment, len(staff))
	now := time.Now()
	for i, s := range staff {
		out[i] = &assignment.Assignment{ID: uuid.New(), StaffID: s, ResourceID: resourceID, ReleasedAt: &now}
	}
	return out, nil
}

type passthroughRunner struct{}

func (passthroughRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (r *recordingAudit) Record(ctx context.Context, entry *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *recordingAudit) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

type fixture struct {
	svc       *Service
	repo      *mockRepo
	resources *mockResources
	ledger    *mockLedger
	audit     *recordingAudit
	appts     *collab.StaticAppointments
	clinicID  uuid.UUID
}

func newFixture() *fixture {
	f := &fixture{
		repo:      newMockRepo(),
		resources: newMockResources(),
		ledger:    newMockLedger(),
		audit:     &recordingAudit{},
		appts:     collab.NewStaticAppointments(true),
		clinicID:  uuid.New(),
	}
	f.svc = NewService(f.repo, f.resources, f.ledger, f.appts, passthroughRunner{}, f.audit, nil)
	return f
}

func (f *fixture) checkIn(t *testing.T) *State {
	t.Helper()
	st, err := f.svc.CheckIn(context.Background(), f.clinicID, uuid.New(), nil, "front-1")
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	return st
}

func (f *fixture) seatNew(t *testing.T, resourceID uuid.UUID) *State {
	t.Helper()
	st := f.checkIn(t)
	if _, err := f.svc.Call(context.Background(), st.ID, "front-1"); err != nil {
		t.Fatalf("Call: %v", err)
	}
	staffID := uuid.New()
	st, err := f.svc.Seat(context.Background(), st.ID, &resourceID, &staffID, "front-1")
	if err != nil {
		t.Fatalf("Seat: %v", err)
	}
	return st
}

// --- tests ------------------------------------------------------------

func TestHappyPathVisit(t *testing.T) {
	f := newFixture()
	chair := f.resources.add(f.clinicID)
	ctx := context.Background()

	st := f.checkIn(t)
	if st.Stage != StageCheckedIn || st.CheckedInAt.IsZero() {
		t.Fatalf("check-in state = %s", st.Stage)
	}

	st, err := f.svc.Call(ctx, st.ID, "front-1")
	if err != nil || st.Stage != StageCalled || st.CalledAt == nil {
		t.Fatalf("Call: %v, stage %s", err, st.Stage)
	}

	staffID := uuid.New()
	st, err = f.svc.Seat(ctx, st.ID, &chair, &staffID, "front-1")
	if err != nil {
		t.Fatalf("Seat: %v", err)
	}
	if st.Stage != StageSeated || st.SubStage != SubStageSetup || st.SeatedAt == nil {
		t.Fatalf("seated state = %s:%s", st.Stage, st.SubStage)
	}
	if st.ResourceID == nil || *st.ResourceID != chair {
		t.Fatal("flow did not record its chair")
	}
	occ, _ := f.resources.GetOccupancy(ctx, chair)
	if occ.Status != resource.StatusOccupied {
		t.Fatalf("chair = %s, want OCCUPIED", occ.Status)
	}

	st, err = f.svc.UpdateSubStage(ctx, st.ID, SubStageReadyForDoctor, "asst-1")
	if err != nil {
		t.Fatalf("ready for doctor: %v", err)
	}
	occ, _ = f.resources.GetOccupancy(ctx, chair)
	if occ.Status != resource.StatusReadyForDoctor {
		t.Errorf("chair = %s, want READY_FOR_DOCTOR", occ.Status)
	}

	st, err = f.svc.UpdateSubStage(ctx, st.ID, SubStageDoctorWorking, "doc-1")
	if err != nil {
		t.Fatalf("doctor working: %v", err)
	}
	if st.Stage != StageInTreatment || st.TreatmentStartedAt == nil {
		t.Errorf("stage = %s, want IN_TREATMENT with start time", st.Stage)
	}
	occ, _ = f.resources.GetOccupancy(ctx, chair)
	if occ.Status != resource.StatusOccupied {
		t.Errorf("chair = %s, want OCCUPIED again", occ.Status)
	}

	st, err = f.svc.CompleteTreatment(ctx, st.ID, "doc-1")
	if err != nil || st.Stage != StageTreatmentComplete || st.CompletedAt == nil {
		t.Fatalf("CompleteTreatment: %v, stage %s", err, st.Stage)
	}

	st, err = f.svc.CheckOut(ctx, st.ID, "front-1")
	if err != nil || st.Stage != StageCheckedOut || st.CheckedOutAt == nil {
		t.Fatalf("CheckOut: %v, stage %s", err, st.Stage)
	}
	occ, _ = f.resources.GetOccupancy(ctx, chair)
	if occ.Status != resource.StatusCleaning {
		t.Errorf("chair = %s, want CLEANING after checkout", occ.Status)
	}
	if len(f.ledger.released) != 1 {
		t.Errorf("assignments released %d times, want 1", len(f.ledger.released))
	}

	// check-in, call, seat, 2 sub-stage moves, complete, checkout
	if got := f.audit.count(); got != 7 {
		t.Errorf("flow audit entries = %d, want 7", got)
	}
}

func TestDuplicateActiveVisit(t *testing.T) {
	f := newFixture()
	patientID := uuid.New()
	ctx := context.Background()

	if _, err := f.svc.CheckIn(ctx, f.clinicID, patientID, nil, "front-1"); err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	_, err := f.svc.CheckIn(ctx, f.clinicID, patientID, nil, "front-1")
	if !errors.Is(err, ErrDuplicateActiveVisit) {
		t.Fatalf("err = %v, want ErrDuplicateActiveVisit", err)
	}
}

func TestCheckInRaceExactlyOneWinner(t *testing.T) {
	f := newFixture()
	patientID := uuid.New()
	ctx := context.Background()

	// Both racers pass the pre-check before either row lands; the insert
	// itself must resolve the duplicate.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CheckIn(ctx, f.clinicID, patientID, nil, "front-1")
		}(i)
	}
	wg.Wait()

	var won, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrDuplicateActiveVisit):
			dup++
		default:
			t.Fatalf("unexpected check-in error: %v", err)
		}
	}
	if won != 1 || dup != 1 {
		t.Errorf("winners = %d, duplicates = %d, want 1 and 1", won, dup)
	}
}

func TestCheckInAfterCheckoutAllowed(t *testing.T) {
	f := newFixture()
	chair := f.resources.add(f.clinicID)
	ctx := context.Background()

	st := f.seatNew(t, chair)
	patientID := st.PatientID
	if _, err := f.svc.UpdateSubStage(ctx, st.ID, SubStageDoctorWorking, "doc-1"); err != nil {
		t.Fatalf("substage: %v", err)
	}
	if _, err := f.svc.CompleteTreatment(ctx, st.ID, "doc-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.svc.CheckOut(ctx, st.ID, "front-1"); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if _, err := f.svc.CheckIn(ctx, f.clinicID, patientID, nil, "front-1"); err != nil {
		t.Fatalf("second visit after checkout should be allowed: %v", err)
	}
}

func TestSeatRaceExactlyOneWinner(t *testing.T) {
	f := newFixture()
	chair := f.resources.add(f.clinicID)
	ctx := context.Background()

	flows := make([]*State, 2)
	for i := range flows {
		st := f.checkIn(t)
		var err error
		flows[i], err = f.svc.Call(ctx, st.ID, "front-1")
		if err != nil {
			t.Fatalf("Call: %v", err)
		}
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.Seat(ctx, flows[i].ID, &chair, nil, "front-1")
		}(i)
	}
	wg.Wait()

	var winners, losers int
	for i, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, resource.ErrResourceUnavailable):
			losers++
			st, _ := f.svc.Get(ctx, flows[i].ID)
			if st.Stage != StageCalled {
				t.Errorf("loser stage = %s, want CALLED", st.Stage)
			}
			if st.ResourceID != nil {
				t.Error("loser must not hold a resource")
			}
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 || losers != 1 {
		t.Fatalf("winners=%d losers=%d, want 1/1", winners, losers)
	}
}

func TestSeatAutoSelectHonorsCapability(t *testing.T) {
	f := newFixture()
	f.resources.add(f.clinicID) // plain chair
	xray := f.resources.add(f.clinicID, "xray")
	ctx := context.Background()

	apptID := uuid.New()
	f.appts.Put(&collab.Appointment{
		ID:                 apptID,
		Procedure:          "panoramic x-ray",
		ExpectedDuration:   20 * time.Minute,
		RequiredCapability: "xray",
	})

	st, err := f.svc.CheckIn(ctx, f.clinicID, uuid.New(), &apptID, "front-1")
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if st.ExpectedMinutes != 20 || st.RequiredCapability != "xray" {
		t.Fatalf("appointment details not captured: %+v", st)
	}
	if _, err := f.svc.Call(ctx, st.ID, "front-1"); err != nil {
		t.Fatalf("Call: %v", err)
	}

	st, err = f.svc.Seat(ctx, st.ID, nil, nil, "front-1")
	if err != nil {
		t.Fatalf("Seat: %v", err)
	}
	if st.ResourceID == nil || *st.ResourceID != xray {
		t.Errorf("auto-select picked %v, want the xray room %s", st.ResourceID, xray)
	}
}

func TestInvalidTransitions(t *testing.T) {
	f := newFixture()
	chair := f.resources.add(f.clinicID)
	ctx := context.Background()

	st := f.checkIn(t)

	// Cannot skip stages.
	if _, err := f.svc.Seat(ctx, st.ID, &chair, nil, "front-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("seat from CHECKED_IN: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := f.svc.CompleteTreatment(ctx, st.ID, "doc-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("complete from CHECKED_IN: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := f.svc.CheckOut(ctx, st.ID, "front-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("checkout from CHECKED_IN: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := f.svc.UpdateSubStage(ctx, st.ID, SubStageSetup, "asst-1"); !errors.Is(err, ErrInvalidSubStage) {
		t.Errorf("substage from CHECKED_IN: err = %v, want ErrInvalidSubStage", err)
	}

	// Calling twice is rejected.
	if _, err := f.svc.Call(ctx, st.ID, "front-1"); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if _, err := f.svc.Call(ctx, st.ID, "front-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double call: err = %v, want ErrInvalidTransition", err)
	}
}

func TestSubStageRules(t *testing.T) {
	f := newFixture()
	chair := f.resources.add(f.clinicID)
	ctx := context.Background()

	st := f.seatNew(t, chair)

	// WRAP_UP belongs to IN_TREATMENT, not SEATED.
	if _, err := f.svc.UpdateSubStage(ctx, st.ID, SubStageWrapUp, "asst-1"); !errors.Is(err, ErrInvalidSubStage) {
		t.Errorf("wrap-up while seated: err = %v, want ErrInvalidSubStage", err)
	}

	if _, err := f.svc.UpdateSubStage(ctx, st.ID, SubStageDoctorWorking, "doc-1"); err != nil {
		t.Fatalf("doctor working: %v", err)
	}
	// SETUP belongs to SEATED, not IN_TREATMENT.
	if _, err := f.svc.UpdateSubStage(ctx, st.ID, SubStageSetup, "asst-1"); !errors.Is(err, ErrInvalidSubStage) {
		t.Errorf("setup while in treatment: err = %v, want ErrInvalidSubStage", err)
	}
	if _, err := f.svc.UpdateSubStage(ctx, st.ID, SubStageWrapUp, "asst-1"); err != nil {
		t.Errorf("wrap-up while in treatment: %v", err)
	}
}

func TestCompleteFromSeated(t *testing.T) {
	f := newFixture()
	chair := f.resources.add(f.clinicID)
	ctx := context.Background()

	// A quick procedure finishes without the doctor sub-stage ever being
	// set, so SEATED completes directly.
	st := f.seatNew(t, chair)
	st, err := f.svc.CompleteTreatment(ctx, st.ID, "doc-1")
	if err != nil {
		t.Fatalf("CompleteTreatment from SEATED: %v", err)
	}
	if st.Stage != StageTreatmentComplete || st.CompletedAt == nil {
		t.Errorf("stage = %s (completed %v), want TREATMENT_COMPLETE with time", st.Stage, st.CompletedAt)
	}

	if _, err := f.svc.CheckOut(ctx, st.ID, "front-1"); err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
}

func TestCompleteResetsReadyChair(t *testing.T) {
	f := newFixture()
	chair := f.resources.add(f.clinicID)
	ctx := context.Background()

	st := f.seatNew(t, chair)
	if _, err := f.svc.UpdateSubStage(ctx, st.ID, SubStageReadyForDoctor, "asst-1"); err != nil {
		t.Fatalf("ready for doctor: %v", err)
	}

	// Completing while the chair is still flagged ready must drop the flag,
	// or the ready queue keeps counting a finished patient.
	if _, err := f.svc.CompleteTreatment(ctx, st.ID, "doc-1"); err != nil {
		t.Fatalf("CompleteTreatment: %v", err)
	}
	occ, _ := f.resources.GetOccupancy(ctx, chair)
	if occ.Status != resource.StatusOccupied {
		t.Errorf("chair = %s, want OCCUPIED after completion", occ.Status)
	}
}

func TestRevertSeatedFreesChairAndStaff(t *testing.T) {
	f := newFixture()
	chair := f.resources.add(f.clinicID)
	ctx := context.Background()

	st := f.seatNew(t, chair)

	st, err := f.svc.Revert(ctx, st.ID, "front-1")
	if err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if st.Stage != StageCalled || st.SubStage != SubStageNone {
		t.Errorf("stage = %s:%s, want CALLED", st.Stage, st.SubStage)
	}
	if st.ResourceID != nil || st.SeatedAt != nil {
		t.Error("seat details must be cleared")
	}

	occ, _ := f.resources.GetOccupancy(ctx, chair)
	if occ.Status != resource.StatusAvailable {
		t.Errorf("chair = %s, want AVAILABLE (no cleaning needed, patient never treated)", occ.Status)
	}
	if len(f.ledger.released) != 1 {
		t.Errorf("assignments released %d times, want 1", len(f.ledger.released))
	}
}

func TestRevertCheckoutReclaimsChair(t *testing.T) {
	f := newFixture()
	chair := f.resources.add(f.clinicID)
	ctx := context.Background()

	st := f.seatNew(t, chair)
	if _, err := f.svc.UpdateSubStage(ctx, st.ID, SubStageDoctorWorking, "doc-1"); err != nil {
		t.Fatalf("substage: %v", err)
	}
	if _, err := f.svc.CompleteTreatment(ctx, st.ID, "doc-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.svc.CheckOut(ctx, st.ID, "front-1"); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	st, err := f.svc.Revert(ctx, st.ID, "front-1")
	if err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if st.Stage != StageTreatmentComplete || st.CheckedOutAt != nil {
		t.Errorf("stage = %s, want TREATMENT_COMPLETE with checkout cleared", st.Stage)
	}
	occ, _ := f.resources.GetOccupancy(ctx, chair)
	if occ.Status != resource.StatusOccupied {
		t.Errorf("chair = %s, want OCCUPIED again", occ.Status)
	}
}

func TestRevertCheckoutFailsWhenChairTaken(t *testing.T) {
	f := newFixture()
	chair := f.resources.add(f.clinicID)
	ctx := context.Background()

	st := f.seatNew(t, chair)
	if _, err := f.svc.UpdateSubStage(ctx, st.ID, SubStageDoctorWorking, "doc-1"); err != nil {
		t.Fatalf("substage: %v", err)
	}
	if _, err := f.svc.CompleteTreatment(ctx, st.ID, "doc-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.svc.CheckOut(ctx, st.ID, "front-1"); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	// Another patient grabs the chair before the correction.
	f.resources.setStatus(chair, resource.StatusOccupied)

	_, err := f.svc.Revert(ctx, st.ID, "front-1")
	if !errors.Is(err, ErrResourceNoLongerAvailable) {
		t.Fatalf("err = %v, want ErrResourceNoLongerAvailable", err)
	}
	cur, _ := f.svc.Get(ctx, st.ID)
	if cur.Stage != StageCheckedOut {
		t.Errorf("failed revert must leave the flow CHECKED_OUT, got %s", cur.Stage)
	}
}

func TestRevertFromCheckedIn(t *testing.T) {
	f := newFixture()
	st := f.checkIn(t)

	_, err := f.svc.Revert(context.Background(), st.ID, "front-1")
	if !errors.Is(err, ErrNoPriorStage) {
		t.Fatalf("err = %v, want ErrNoPriorStage", err)
	}
}

func TestCancelPolicy(t *testing.T) {
	f := newFixture()
	chair := f.resources.add(f.clinicID)
	ctx := context.Background()

	st := f.checkIn(t)
	st, err := f.svc.Cancel(ctx, st.ID, "front-1")
	if err != nil || st.Stage != StageCancelled || st.CancelledAt == nil {
		t.Fatalf("Cancel from CHECKED_IN: %v, stage %s", err, st.Stage)
	}

	// Cancelled is terminal.
	if _, err := f.svc.Call(ctx, st.ID, "front-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("call after cancel: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := f.svc.Revert(ctx, st.ID, "front-1"); !errors.Is(err, ErrNoPriorStage) {
		t.Errorf("revert after cancel: err = %v, want ErrNoPriorStage", err)
	}

	// Seated patients cannot be cancelled outright.
	seated := f.seatNew(t, chair)
	if _, err := f.svc.Cancel(ctx, seated.ID, "front-1"); !errors.Is(err, ErrCancelNotAllowed) {
		t.Errorf("cancel while seated: err = %v, want ErrCancelNotAllowed", err)
	}
}

func TestRejectedTransitionWritesNoAudit(t *testing.T) {
	f := newFixture()
	st := f.checkIn(t)
	before := f.audit.count()

	if _, err := f.svc.CheckOut(context.Background(), st.ID, "front-1"); err == nil {
		t.Fatal("expected checkout from CHECKED_IN to fail")
	}
	if f.audit.count() != before {
		t.Error("rejected transition must not write audit entries")
	}
}

func TestStaleVersionRejected(t *testing.T) {
	f := newFixture()
	st := f.checkIn(t)

	// Another writer bumps the row between our read and write.
	stale := *st
	if _, err := f.svc.Call(context.Background(), st.ID, "front-1"); err != nil {
		t.Fatalf("Call: %v", err)
	}

	stale.Stage = StageCalled
	err := f.repo.Update(context.Background(), &stale, st.Version)
	if !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("err = %v, want ErrStaleVersion", err)
	}
}
