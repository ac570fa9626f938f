// Package maintenance runs periodic housekeeping against the store.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Store is the housekeeping surface of the database.
type Store interface {
	Optimize(ctx context.Context) error
	Vacuum(ctx context.Context) error
}

// Task selects what a scheduled run does.
type Task string

const (
	TaskOptimize Task = "optimize"
	TaskVacuum   Task = "vacuum"
)

// ErrUnknownTask is returned for a task other than optimize or vacuum.
var ErrUnknownTask = errors.New("unknown maintenance task")

// Validate reports ErrUnknownTask for anything but a known task.
func (t Task) Validate() error {
	switch t {
	case TaskOptimize, TaskVacuum:
		return nil
	}
	return fmt.Errorf("%w %q (want %s or %s)", ErrUnknownTask, string(t), TaskOptimize, TaskVacuum)
}

// Run executes one maintenance task.
func Run(ctx context.Context, store Store, task Task) error {
	switch task {
	case TaskOptimize:
		return store.Optimize(ctx)
	case TaskVacuum:
		return store.Vacuum(ctx)
	}
	return task.Validate()
}

// Scheduler runs a maintenance task on a cron schedule
type Scheduler struct {
	store   Store
	task    Task
	cron    *cron.Cron
	entryID cron.EntryID

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	runs    int
}

// NewScheduler creates a scheduler for task
func NewScheduler(store Store, task Task) *Scheduler {
	return &Scheduler{
		store: store,
		task:  task,
		cron:  cron.New(),
	}
}

// Start registers schedule (standard five-field cron or a descriptor like "@daily") and starts
// the scheduler. An invalid schedule or task is returned and nothing is started.
func (s *Scheduler) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if err := s.task.Validate(); err != nil {
		return err
	}

	id, err := s.cron.AddFunc(schedule, s.scheduledRun)
	if err != nil {
		return err
	}
	s.entryID = id

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.cron.Start()

	log.Info().Str("schedule", schedule).Str("task", string(s.task)).Msg("Maintenance scheduler started")
	return nil
}

// Stop cancels a run in progress and waits for it to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.cron.Remove(s.entryID)

	log.Info().Msg("Maintenance scheduler stopped")
}

// Runs returns how many scheduled runs have completed
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func (s *Scheduler) scheduledRun() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	log.Debug().Str("task", string(s.task)).Msg("Running scheduled maintenance")
	if err := Run(ctx, s.store, s.task); err != nil {
		log.Error().Err(err).Str("task", string(s.task)).Msg("Scheduled maintenance failed")
	}

	s.mu.Lock()
	s.runs++
	s.mu.Unlock()
}
