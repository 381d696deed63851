// Package scheduler repeats crawl runs on cron schedules. Jobs live in
// memory only; a run that is still going when its next tick arrives is
// skipped rather than stacked.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/cr4wler/internal/errors"
	"github.com/anstrom/cr4wler/internal/logging"
)

// JobFunc is the work a scheduled job performs.
type JobFunc func(ctx context.Context) error

// Scheduler manages scheduled jobs.
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[uuid.UUID]*ScheduledJob
	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// ScheduledJob represents a scheduled job wrapper.
type ScheduledJob struct {
	ID       uuid.UUID
	CronID   cron.EntryID
	Name     string
	CronExpr string
	LastRun  time.Time
	LastErr  error
	NextRun  time.Time
	Runs     int
	Running  bool
}

// NewScheduler creates a new job scheduler.
func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		jobs:   make(map[uuid.UUID]*ScheduledJob),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ValidateCron checks a standard 5-field cron expression.
func ValidateCron(cronExpr string) error {
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("invalid cron expression: %v", err), "schedule", cronExpr)
	}
	return nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.cron.Start()
	s.running = true

	logging.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop stops the scheduler, cancels running jobs and waits for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()

	logging.Info("Scheduler stopped")
}

// AddJob schedules fn under cronExpr and returns the job id.
func (s *Scheduler) AddJob(name, cronExpr string, fn JobFunc) (uuid.UUID, error) {
	if err := ValidateCron(cronExpr); err != nil {
		return uuid.Nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job := &ScheduledJob{ID: uuid.New(), Name: name, CronExpr: cronExpr}
	cronID, err := s.cron.AddFunc(cronExpr, func() { s.execute(job, fn) })
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to add cron job: %w", err)
	}
	job.CronID = cronID
	job.NextRun = s.cron.Entry(cronID).Next
	if job.NextRun.IsZero() {
		schedule, _ := cron.ParseStandard(cronExpr)
		job.NextRun = schedule.Next(time.Now())
	}
	s.jobs[job.ID] = job

	logging.Info("Added scheduled job", "name", name, "schedule", cronExpr, "next_run", job.NextRun)
	return job.ID, nil
}

// RemoveJob removes a scheduled job.
func (s *Scheduler) RemoveJob(jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return errors.NewScanError(errors.CodeNotFound, "scheduled job not found")
	}

	s.cron.Remove(job.CronID)
	delete(s.jobs, jobID)

	logging.Info("Removed scheduled job", "name", job.Name)
	return nil
}

// GetJobs returns a snapshot of all scheduled jobs ordered by name.
func (s *Scheduler) GetJobs() []ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

func (s *Scheduler) execute(job *ScheduledJob, fn JobFunc) {
	s.mu.Lock()
	job.Running = true
	job.LastRun = time.Now()
	s.mu.Unlock()

	logging.Info("Running scheduled job", "name", job.Name)
	err := fn(s.ctx)
	if err != nil {
		logging.Error("Scheduled job failed", "name", job.Name, "error", err)
	}

	s.mu.Lock()
	job.Running = false
	job.LastErr = err
	job.Runs++
	job.NextRun = s.cron.Entry(job.CronID).Next
	s.mu.Unlock()
}

// Run starts the scheduler and blocks until ctx is done, then stops it.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}
