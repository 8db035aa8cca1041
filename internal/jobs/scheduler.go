package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser supports both standard (5-field) and extended (6-field with seconds) cron expressions.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Job is a named maintenance task run on a schedule.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// SchedulerConfig configures the maintenance scheduler.
type SchedulerConfig struct {
	// JobTimeout bounds a single job run. Defaults to 5 minutes.
	JobTimeout time.Duration

	// Logger for job events.
	Logger *slog.Logger
}

// DefaultSchedulerConfig returns a SchedulerConfig with sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		JobTimeout: 5 * time.Minute,
	}
}

// Scheduler runs registered maintenance jobs on cron schedules.
type Scheduler struct {
	config SchedulerConfig
	logger *slog.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	jobs    []Job
	running bool
	cancel  context.CancelFunc
}

// NewScheduler creates a maintenance scheduler.
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.JobTimeout <= 0 {
		config.JobTimeout = 5 * time.Minute
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		config: config,
		logger: logger.With("component", "jobs"),
		cron:   cron.New(cron.WithParser(cronParser)),
	}
}

// Register adds a job. Returns an error for an empty name, a nil run
// function, or an unparseable schedule. Must be called before Start.
func (s *Scheduler) Register(job Job) error {
	if strings.TrimSpace(job.Name) == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Run == nil {
		return fmt.Errorf("job %s: run function is required", job.Name)
	}
	if _, err := cronParser.Parse(job.Schedule); err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", job.Name, job.Schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("job %s: scheduler already started", job.Name)
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start schedules all registered jobs and begins running them.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, job := range s.jobs {
		job := job
		if _, err := s.cron.AddFunc(job.Schedule, func() {
			s.runJob(ctx, job)
		}); err != nil {
			cancel()
			return fmt.Errorf("schedule job %s: %w", job.Name, err)
		}
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("maintenance scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop halts scheduling and waits for in-flight job runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	if cancel != nil {
		cancel()
	}
	s.logger.Info("maintenance scheduler stopped")
}

// RunNow executes a registered job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var found *Job
	for i := range s.jobs {
		if s.jobs[i].Name == name {
			found = &s.jobs[i]
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		return fmt.Errorf("unknown job %q", name)
	}
	s.runJob(ctx, *found)
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	runCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	started := time.Now()
	err := job.Run(runCtx)
	elapsed := time.Since(started)

	if err != nil {
		s.logger.Error("job failed", "job", job.Name, "elapsed", elapsed, "error", err)
		return
	}
	s.logger.Debug("job completed", "job", job.Name, "elapsed", elapsed)
}
