// Package collab holds the engine's outbound collaborator interfaces:
// appointment booking and the staff directory. Both are owned by other
// services; the engine only reads from them.
package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Appointment is the booking-service view of a scheduled visit.
type Appointment struct {
	ID                 uuid.UUID     `json:"id"`
	PatientID          uuid.UUID     `json:"patient_id"`
	Procedure          string        `json:"procedure"`
	ExpectedDuration   time.Duration `json:"expected_duration"`
	RequiredCapability string        `json:"required_capability,omitempty"`
}

// StaffMember is the staff-directory view of a clinic employee.
type StaffMember struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Role string    `json:"role"`
}

// AppointmentDirectory resolves an appointment id to its booking details.
type AppointmentDirectory interface {
	Lookup(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error)
}

// StaffDirectory resolves a staff id to role information.
type StaffDirectory interface {
	Lookup(ctx context.Context, staffID uuid.UUID) (*StaffMember, error)
}

// ---------------------------------------------------------------------------
// HTTP clients
// ---------------------------------------------------------------------------

type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string) httpClient {
	return httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c httpClient) getJSON(ctx context.Context, path string, out interface{}) error {
	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", u, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ErrNotFound is returned when the collaborator does not know the id.
var ErrNotFound = fmt.Errorf("collaborator: not found")

// AppointmentClient is the HTTP implementation of AppointmentDirectory.
type AppointmentClient struct {
	httpClient
}

func NewAppointmentClient(baseURL string) *AppointmentClient {
	return &AppointmentClient{newHTTPClient(baseURL)}
}

func (c *AppointmentClient) Lookup(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	var appt Appointment
	if err := c.getJSON(ctx, "/appointments/"+appointmentID.String(), &appt); err != nil {
		return nil, err
	}
	return &appt, nil
}

// StaffClient is the HTTP implementation of StaffDirectory.
type StaffClient struct {
	httpClient
}

func NewStaffClient(baseURL string) *StaffClient {
	return &StaffClient{newHTTPClient(baseURL)}
}

func (c *StaffClient) Lookup(ctx context.Context, staffID uuid.UUID) (*StaffMember, error) {
	var member StaffMember
	if err := c.getJSON(ctx, "/staff/"+staffID.String(), &member); err != nil {
		return nil, err
	}
	return &member, nil
}

// ---------------------------------------------------------------------------
// In-memory directories (development mode)
// ---------------------------------------------------------------------------

// StaticAppointments answers lookups from a fixed map and accepts unknown
// ids, fabricating a generic appointment so development flows can check in
// without a booking service running.
type StaticAppointments struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*Appointment
	Loose bool
}

func NewStaticAppointments(loose bool) *StaticAppointments {
	return &StaticAppointments{byID: make(map[uuid.UUID]*Appointment), Loose: loose}
}

func (s *StaticAppointments) Put(appt *Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[appt.ID] = appt
}

func (s *StaticAppointments) Lookup(_ context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	s.mu.RLock()
	appt, ok := s.byID[appointmentID]
	s.mu.RUnlock()
	if ok {
		return appt, nil
	}
	if s.Loose {
		return &Appointment{ID: appointmentID, Procedure: "general", ExpectedDuration: 30 * time.Minute}, nil
	}
	return nil, ErrNotFound
}

// StaticStaff is the in-memory StaffDirectory counterpart.
type StaticStaff struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*StaffMember
	Loose bool
}

func NewStaticStaff(loose bool) *StaticStaff {
	return &StaticStaff{byID: make(map[uuid.UUID]*StaffMember), Loose: loose}
}

func (s *StaticStaff) Put(member *StaffMember) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[member.ID] = member
}

func (s *StaticStaff) Lookup(_ context.Context, staffID uuid.UUID) (*StaffMember, error) {
	s.mu.RLock()
	member, ok := s.byID[staffID]
	s.mu.RUnlock()
	if ok {
		return member, nil
	}
	if s.Loose {
		return &StaffMember{ID: staffID, Name: "unknown", Role: "assistant"}, nil
	}
	return nil, ErrNotFound
}
