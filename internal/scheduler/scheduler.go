// Package scheduler triggers pipelines periodically.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/buildrunner/internal/build"
	"git.home.luguber.info/inful/buildrunner/internal/config"
	"git.home.luguber.info/inful/buildrunner/internal/logfields"
	"git.home.luguber.info/inful/buildrunner/internal/store"
)

// Trigger starts a build of the named pipeline, or returns build.ErrPipelineBusy
// while the pipeline's previous build is still running.
type Trigger interface {
	TryRunByName(ctx context.Context, name string) (*store.Build, error)
}

// Scheduler wraps a gocron scheduler running one job per configured schedule.
type Scheduler struct {
	scheduler gocron.Scheduler
	trigger   Trigger

	mu   sync.Mutex
	jobs map[string]gocron.Job

	stopOnce sync.Once
	stopErr  error
}

// New creates a scheduler that triggers builds through t.
func New(t Trigger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, trigger: t, jobs: make(map[string]gocron.Job)}, nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	slog.Info("Starting scheduler", slog.Int("schedules", s.Len()))
	s.scheduler.Start()
}

// Stop shuts the scheduler down and waits for running jobs to return. Builds
// already started keep running. Calling Stop again returns the first result.
func (s *Scheduler) Stop() error {
	s.stopOnce.Do(func() {
		slog.Info("Stopping scheduler")
		s.stopErr = s.scheduler.Shutdown()
	})
	return s.stopErr
}

// Len returns the number of registered schedules.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Add registers a schedule and returns its job ID.
func (s *Scheduler) Add(sc config.ScheduleConfig) (string, error) {
	interval, err := time.ParseDuration(sc.Interval)
	if err != nil || interval <= 0 {
		return "", fmt.Errorf("invalid interval %q for schedule %q", sc.Interval, sc.Name)
	}
	name := sc.Name
	if name == "" {
		name = sc.Pipeline
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return "", fmt.Errorf("schedule %q already registered", name)
	}

	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.execute, name, sc.Pipeline),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create schedule %q: %w", name, err)
	}
	s.jobs[name] = job
	slog.Debug("Schedule registered",
		logfields.ScheduleName(name),
		logfields.ScheduleID(job.ID().String()),
		logfields.Pipeline(sc.Pipeline),
		slog.Duration("interval", interval))
	return job.ID().String(), nil
}

// Replace swaps the registered schedules for a new set. Invalid entries are
// logged and skipped; the rest are still applied.
func (s *Scheduler) Replace(schedules []config.ScheduleConfig) error {
	s.mu.Lock()
	for name, job := range s.jobs {
		if err := s.scheduler.RemoveJob(job.ID()); err != nil {
			slog.Warn("Failed to remove schedule", logfields.ScheduleName(name), logfields.Error(err))
		}
		delete(s.jobs, name)
	}
	s.mu.Unlock()

	var firstErr error
	for _, sc := range schedules {
		if _, err := s.Add(sc); err != nil {
			slog.Error("Failed to register schedule", logfields.ScheduleName(sc.Name), logfields.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// execute is called by gocron to trigger a scheduled build.
func (s *Scheduler) execute(name, pipelineName string) {
	b, err := s.trigger.TryRunByName(context.Background(), pipelineName)
	if errors.Is(err, build.ErrPipelineBusy) {
		slog.Info("Scheduled build skipped, previous build still running",
			logfields.ScheduleName(name),
			logfields.Pipeline(pipelineName))
		return
	}
	if err != nil {
		slog.Error("Scheduled build failed to start",
			logfields.ScheduleName(name),
			logfields.Pipeline(pipelineName),
			logfields.Error(err))
		return
	}
	slog.Info("Scheduled build started",
		logfields.ScheduleName(name),
		logfields.Pipeline(pipelineName),
		logfields.BuildID(b.ID))
}
