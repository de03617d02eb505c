package queueview

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Poller drives alert evaluation server-side on a fixed interval, so
// breaches fire even when no dashboard is polling the queue endpoint.
type Poller struct {
	svc      *Service
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewPoller(svc *Service, interval time.Duration) *Poller {
	return &Poller{
		svc:      svc,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (p *Poller) Start() {
	go p.run()
}

func (p *Poller) run() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Poller) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	for _, clinicID := range p.svc.Clinics() {
		alerts, err := p.svc.EvaluateAlerts(ctx, clinicID)
		if err != nil {
			log.Warn().Err(err).Str("clinic_id", clinicID.String()).Msg("alert evaluation failed")
			continue
		}
		if len(alerts) > 0 {
			log.Debug().Int("alerts", len(alerts)).Str("clinic_id", clinicID.String()).Msg("queue alerts fired")
		}
	}
}

// Stop halts the poller and waits for the in-flight tick to finish.
func (p *Poller) Stop() {
	close(p.stop)
	<-p.done
}
