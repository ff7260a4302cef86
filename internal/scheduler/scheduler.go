package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/docpilot/internal/apperr"
)

// TriggerFunc starts (or enqueues) a batch run for one tenant.
type TriggerFunc func(ctx context.Context, tenant string) error

// Scheduler triggers a batch run for every configured tenant on a fixed
// interval.
type Scheduler struct {
	trigger      TriggerFunc
	tenants      []string
	interval     time.Duration
	initialDelay time.Duration
	timeout      time.Duration
	stopCh       chan struct{}
	doneCh       chan struct{}
	started      bool
}

func NewScheduler(trigger TriggerFunc, tenants []string, interval, initialDelay time.Duration) *Scheduler {
	if interval < time.Second {
		interval = time.Second
	}
	return &Scheduler{
		trigger:      trigger,
		tenants:      tenants,
		interval:     interval,
		initialDelay: initialDelay,
		timeout:      interval,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	if s.started {
		return
	}
	s.started = true
	log.Info().Strs("tenants", s.tenants).Dur("interval", s.interval).Msg("Scheduler started")
	go s.loop()
}

func (s *Scheduler) Stop() {
	if !s.started {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) loop() {
	initial := time.NewTimer(s.initialDelay)
	ticker := time.NewTicker(s.interval)
	defer func() { initial.Stop(); ticker.Stop(); close(s.doneCh) }()
	for {
		select {
		case <-s.stopCh:
			return
		case <-initial.C:
			s.runOnce()
		case <-ticker.C:
			s.runOnce()
		}
	}
}

func (s *Scheduler) runOnce() {
	for _, tenant := range s.tenants {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.trigger(ctx, tenant)
		cancel()
		switch {
		case err == nil:
		case apperr.IsKind(err, apperr.KindBusy):
			log.Info().Str("tenant", tenant).Msg("Skipping scheduled run, previous run still active")
		default:
			log.Error().Err(err).Str("tenant", tenant).Msg("Scheduled batch run failed")
		}
	}
}
