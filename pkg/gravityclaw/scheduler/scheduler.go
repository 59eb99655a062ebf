// Package scheduler implements the cron tasks the agent can schedule for
// itself. Uses robfig/cron for expression parsing and execution, with
// SQLite-based persistence for surviving restarts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrJobNotFound is returned when removing an unknown job.
var ErrJobNotFound = errors.New("job not found")

// parser accepts standard 5-field expressions plus descriptors (@daily, @every 5m).
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler manages scheduled tasks using cron expressions.
type Scheduler struct {
	jobs map[string]*Job
	cron *cron.Cron

	// cronIDs maps job IDs to their cron entry IDs for removal.
	cronIDs map[string]cron.EntryID

	// runningJobs tracks which jobs are currently executing to prevent
	// duplicate runs when a cron fires while the previous run is still active.
	runningJobs map[string]bool

	storage JobStorage
	handler JobHandler

	// jobTimeout bounds a single execution.
	jobTimeout time.Duration

	logger *slog.Logger
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// Job is one scheduled task.
type Job struct {
	ID          string     `json:"id"`
	Schedule    string     `json:"schedule"`
	Description string     `json:"description"`
	UserID      string     `json:"user_id"`
	Enabled     bool       `json:"enabled"`
	CreatedAt   time.Time  `json:"created_at"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	RunCount    int        `json:"run_count"`
	LastError   string     `json:"last_error,omitempty"`
}

// JobHandler is called when a job fires.
type JobHandler func(ctx context.Context, job *Job) error

// JobStorage defines the persistence interface for jobs.
type JobStorage interface {
	Save(job *Job) error
	Delete(id string) error
	LoadAll() ([]*Job, error)
}

// New creates a new Scheduler with the given storage and handler. Either may
// be nil; SetHandler can attach the handler later.
func New(storage JobStorage, handler JobHandler, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:        make(map[string]*Job),
		cronIDs:     make(map[string]cron.EntryID),
		runningJobs: make(map[string]bool),
		storage:     storage,
		handler:     handler,
		jobTimeout:  5 * time.Minute,
		logger:      logger.With("component", "scheduler"),
	}
}

// SetHandler replaces the job handler.
func (s *Scheduler) SetHandler(h JobHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Validate checks a cron expression.
func Validate(schedule string) error {
	_, err := parser.Parse(strings.TrimSpace(schedule))
	return err
}

// Put registers job, replacing any job with the same ID.
func (s *Scheduler) Put(job *Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	job.Schedule = strings.TrimSpace(job.Schedule)
	if err := Validate(job.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		s.unscheduleLocked(job.ID)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.Enabled = true

	if s.cron != nil {
		if err := s.scheduleCronJob(job); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
		}
	}
	s.jobs[job.ID] = job

	if s.storage != nil {
		if err := s.storage.Save(job); err != nil {
			s.logger.Error("failed to persist job", "id", job.ID, "error", err)
		}
	}

	s.logger.Info("job scheduled", "id", job.ID, "schedule", job.Schedule, "user", job.UserID)
	return nil
}

// Remove deletes a job by ID.
func (s *Scheduler) Remove(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobID]; !exists {
		return ErrJobNotFound
	}
	s.unscheduleLocked(jobID)
	delete(s.jobs, jobID)

	if s.storage != nil {
		if err := s.storage.Delete(jobID); err != nil {
			s.logger.Error("failed to remove job from storage", "id", jobID, "error", err)
		}
	}

	s.logger.Info("job removed", "id", jobID)
	return nil
}

// List returns all jobs ordered by ID.
func (s *Scheduler) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, j)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].ID < result[k].ID })
	return result
}

// Get returns a job by ID.
func (s *Scheduler) Get(jobID string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	return j, ok
}

// Start initializes the cron scheduler and loads persisted jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithParser(parser))

	if s.storage != nil {
		jobs, err := s.storage.LoadAll()
		if err != nil {
			return fmt.Errorf("loading jobs: %w", err)
		}
		s.mu.Lock()
		for _, job := range jobs {
			s.jobs[job.ID] = job
			if job.Enabled {
				if err := s.scheduleCronJob(job); err != nil {
					s.logger.Warn("skipping job with invalid schedule",
						"id", job.ID, "schedule", job.Schedule, "error", err)
				}
			}
		}
		s.mu.Unlock()
		s.logger.Info("jobs loaded from storage", "count", len(jobs))
	}

	s.mu.Lock()
	// Jobs added before Start get their cron entries now.
	for id, job := range s.jobs {
		if _, ok := s.cronIDs[id]; !ok && job.Enabled {
			if err := s.scheduleCronJob(job); err != nil {
				s.logger.Warn("skipping job with invalid schedule", "id", id, "error", err)
			}
		}
	}
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "cron_entries", len(s.cron.Entries()))
	return nil
}

// Stop gracefully shuts down the scheduler, waiting briefly for running jobs.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		ctx := s.cron.Stop()
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Second):
			s.logger.Warn("scheduler stop timed out")
		}
	}
	s.logger.Info("scheduler stopped")
}

// Format renders the active jobs for the model.
func Format(jobs []*Job) string {
	if len(jobs) == 0 {
		return "No active scheduled tasks."
	}
	var b strings.Builder
	b.WriteString("📋 *Active Scheduled Tasks:*\n")
	for _, j := range jobs {
		fmt.Fprintf(&b, "- **%s**: `%s` — %s\n", j.ID, j.Schedule, j.Description)
	}
	return b.String()
}

// ---------- Internal ----------

func (s *Scheduler) scheduleCronJob(job *Job) error {
	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		s.executeJob(job)
	})
	if err != nil {
		return err
	}
	s.cronIDs[job.ID] = entryID
	return nil
}

func (s *Scheduler) unscheduleLocked(jobID string) {
	if entryID, ok := s.cronIDs[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.cronIDs, jobID)
	}
}

// minJobInterval is the minimum time between consecutive executions of the
// same job. Prevents cron from firing twice within the same second.
const minJobInterval = 2 * time.Second

// executeJob runs a job through the handler. Duplicate concurrent runs are
// skipped, panics are recovered and the handler gets a bounded context.
func (s *Scheduler) executeJob(job *Job) {
	s.mu.Lock()
	if s.runningJobs[job.ID] {
		s.mu.Unlock()
		s.logger.Warn("skipping job (already running)", "id", job.ID)
		return
	}
	if job.LastRunAt != nil && time.Since(*job.LastRunAt) < minJobInterval {
		s.mu.Unlock()
		s.logger.Debug("skipping job (ran too recently)", "id", job.ID)
		return
	}
	s.runningJobs[job.ID] = true
	now := time.Now()
	job.LastRunAt = &now
	job.RunCount++
	handler := s.handler
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.runningJobs, job.ID)
		if r := recover(); r != nil {
			job.LastError = fmt.Sprintf("panic: %v", r)
			s.logger.Error("scheduled job panicked", "id", job.ID, "panic", r)
		}
		_, stillExists := s.jobs[job.ID]
		s.mu.Unlock()
		if s.storage != nil && stillExists {
			if err := s.storage.Save(job); err != nil {
				s.logger.Error("failed to persist job", "id", job.ID, "error", err)
			}
		}
	}()

	s.logger.Info("executing scheduled job", "id", job.ID, "description", job.Description)
	if handler == nil {
		job.LastError = "no handler configured"
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.jobTimeout)
	defer cancel()

	start := time.Now()
	err := handler(ctx, job)

	s.mu.Lock()
	if err != nil {
		job.LastError = err.Error()
	} else {
		job.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled job failed", "id", job.ID, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Info("scheduled job completed", "id", job.ID, "duration", time.Since(start))
}
