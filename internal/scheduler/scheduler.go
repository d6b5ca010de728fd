// Package scheduler fires screening runs on a cron schedule and on demand,
// never more than one at a time within the process.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// ErrBusy is returned by Trigger while a run is executing
var ErrBusy = errors.New("run already in progress")

// RunFunc executes one run
type RunFunc func(ctx context.Context) error

// Scheduler manages the daily cron entry and manual triggers
type Scheduler struct {
	cron    *cron.Cron
	run     RunFunc
	running atomic.Bool
	entry   cron.EntryID

	mu      sync.Mutex
	baseCtx context.Context
	wg      sync.WaitGroup
}

// New creates a scheduler. spec uses six fields with seconds and is
// evaluated in timezone.
func New(spec, timezone string, run RunFunc) (*Scheduler, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
		}
		loc = l
	}

	s := &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		run:     run,
		baseCtx: context.Background(),
	}
	if spec != "" {
		id, err := s.cron.AddFunc(spec, s.scheduledRun)
		if err != nil {
			return nil, fmt.Errorf("register screening run: %w", err)
		}
		s.entry = id
	}
	return s, nil
}

// Start starts the cron loop. Runs it launches inherit ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
	s.cron.Start()
	log.Info().Time("next_run", s.Next()).Msg("scheduler started")
}

// Stop stops the cron loop and waits for an in-flight run to return
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	log.Info().Msg("scheduler stopped")
}

// Next returns the next scheduled fire time, zero when nothing is scheduled
func (s *Scheduler) Next() time.Time {
	if s.entry == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// Running reports whether a run is executing
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Trigger runs synchronously unless a run is already executing
func (s *Scheduler) Trigger(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.running.Store(false)
	return s.run(ctx)
}

// TriggerAsync starts a run in the background on the scheduler's context
func (s *Scheduler) TriggerAsync() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		if err := s.run(ctx); err != nil {
			log.Error().Err(err).Msg("triggered run failed")
		}
	}()
	return nil
}

func (s *Scheduler) scheduledRun() {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	s.wg.Add(1)
	defer s.wg.Done()
	if err := s.Trigger(ctx); err != nil {
		if errors.Is(err, ErrBusy) {
			log.Warn().Msg("scheduled run skipped, previous run still executing")
			return
		}
		log.Error().Err(err).Msg("scheduled run failed")
	}
}
