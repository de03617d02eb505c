// Package notify delivers queue alerts to the external notification
// collaborator. The engine only produces alert events; rendering and
// routing to staff devices happen downstream.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AlertKind identifies the threshold rule that fired.
type AlertKind string

const (
	KindReadyForDoctorTooLong AlertKind = "ready_for_doctor_too_long"
	KindWaitingTooLong        AlertKind = "waiting_too_long"
)

// Alert is a threshold breach derived from the live queue. Alerts are
// recomputed on every poll and never persisted, so a cleared condition
// simply stops producing them.
type Alert struct {
	ClinicID  uuid.UUID     `json:"clinic_id"`
	Kind      AlertKind     `json:"kind"`
	SubjectID uuid.UUID     `json:"subject_id"` // flow or resource id
	Message   string        `json:"message"`
	Since     time.Time     `json:"since"`
	Elapsed   time.Duration `json:"elapsed"`
	Threshold time.Duration `json:"threshold"`
}

// Sender delivers a single alert. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, alert Alert) error
}

// LogSender writes alerts to the process log. It is the default sender in
// development and a fallback when no delivery collaborator is configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s *LogSender) Send(_ context.Context, alert Alert) error {
	s.Logger.Warn().
		Str("clinic_id", alert.ClinicID.String()).
		Str("kind", string(alert.Kind)).
		Str("subject_id", alert.SubjectID.String()).
		Dur("elapsed", alert.Elapsed).
		Dur("threshold", alert.Threshold).
		Msg(alert.Message)
	return nil
}

const (
	dispatchBufferSize = 1024
	maxSendAttempts    = 3
	sendTimeout        = 5 * time.Second
)

// Dispatcher fans alerts out to the configured senders asynchronously so
// alert evaluation never blocks on delivery. A full buffer drops the alert;
// the next poll cycle regenerates it if the condition still holds.
type Dispatcher struct {
	senders []Sender
	logger  zerolog.Logger
	queue   chan Alert
	done    chan struct{}
	backoff time.Duration
	once    sync.Once
}

func NewDispatcher(logger zerolog.Logger, senders ...Sender) *Dispatcher {
	d := &Dispatcher{
		senders: senders,
		logger:  logger,
		queue:   make(chan Alert, dispatchBufferSize),
		done:    make(chan struct{}),
		backoff: 500 * time.Millisecond,
	}
	go d.worker()
	return d
}

// Dispatch enqueues an alert for delivery.
func (d *Dispatcher) Dispatch(alert Alert) {
	select {
	case d.queue <- alert:
	default:
		d.logger.Warn().
			Str("kind", string(alert.Kind)).
			Msg("alert buffer full, dropping alert")
	}
}

// Shutdown stops accepting alerts and waits for the worker to drain.
func (d *Dispatcher) Shutdown() {
	d.once.Do(func() { close(d.queue) })
	select {
	case <-d.done:
	case <-time.After(10 * time.Second):
		d.logger.Warn().Msg("alert dispatcher shutdown timed out")
	}
}

func (d *Dispatcher) worker() {
	defer close(d.done)
	for alert := range d.queue {
		for _, sender := range d.senders {
			d.deliver(sender, alert)
		}
	}
}

func (d *Dispatcher) deliver(sender Sender, alert Alert) {
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := sender.Send(ctx, alert)
		cancel()
		if err == nil {
			return
		}
		if attempt < maxSendAttempts {
			time.Sleep(d.backoff * time.Duration(attempt))
			continue
		}
		d.logger.Error().Err(err).
			Str("kind", string(alert.Kind)).
			Int("attempts", attempt).
			Msg("alert delivery failed")
	}
}
