package collab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestAppointmentClient_Lookup(t *testing.T) {
	apptID := uuid.New()
	patientID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/appointments/"+apptID.String() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(Appointment{ID: apptID, PatientID: patientID, Procedure: "root canal"})
	}))
	defer srv.Close()

	client := NewAppointmentClient(srv.URL)
	appt, err := client.Lookup(context.Background(), apptID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.Procedure != "root canal" {
		t.Errorf("expected root canal, got %s", appt.Procedure)
	}

	_, err = client.Lookup(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStaffClient_Lookup(t *testing.T) {
	staffID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(StaffMember{ID: staffID, Name: "Dr. Chen", Role: "dentist"})
	}))
	defer srv.Close()

	client := NewStaffClient(srv.URL)
	member, err := client.Lookup(context.Background(), staffID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if member.Role != "dentist" {
		t.Errorf("expected dentist, got %s", member.Role)
	}
}

func TestStaticAppointments(t *testing.T) {
	strict := NewStaticAppointments(false)
	if _, err := strict.Lookup(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	loose := NewStaticAppointments(true)
	appt, err := loose.Lookup(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.Procedure != "general" {
		t.Errorf("expected fabricated appointment, got %+v", appt)
	}

	known := &Appointment{ID: uuid.New(), Procedure: "extraction"}
	loose.Put(known)
	got, err := loose.Lookup(context.Background(), known.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Procedure != "extraction" {
		t.Errorf("expected extraction, got %s", got.Procedure)
	}
}
