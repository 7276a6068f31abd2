package build

import (
	"context"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/buildrunner/internal/logfields"
	"git.home.luguber.info/inful/buildrunner/internal/store"
)

// PipelineStore resolves pipelines and records new builds.
type PipelineStore interface {
	GetPipeline(ctx context.Context, id int64) (*store.Pipeline, error)
	GetPipelineByName(ctx context.Context, name string) (*store.Pipeline, error)
	CreateBuild(ctx context.Context, pipelineID int64) (*store.Build, error)
}

// Service is the single entry point for triggering builds (HTTP, scheduler, CLI).
type Service struct {
	store    PipelineStore
	executor *Executor

	mu     sync.Mutex
	active map[int64]int // running builds per pipeline id
}

// NewService returns a Service launching builds on executor.
func NewService(st PipelineStore, executor *Executor) *Service {
	return &Service{store: st, executor: executor, active: make(map[int64]int)}
}

// Run creates a queued build for the pipeline and starts it in the background.
func (s *Service) Run(ctx context.Context, pipelineID int64) (*store.Build, error) {
	p, err := s.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	s.acquire(p.ID)
	return s.launch(ctx, p)
}

// RunByName is Run for a pipeline referenced by name.
func (s *Service) RunByName(ctx context.Context, name string) (*store.Build, error) {
	p, err := s.store.GetPipelineByName(ctx, name)
	if err != nil {
		return nil, err
	}
	s.acquire(p.ID)
	return s.launch(ctx, p)
}

// TryRunByName is RunByName, except that it returns ErrPipelineBusy instead of
// starting a second build while one started through this Service is running.
func (s *Service) TryRunByName(ctx context.Context, name string) (*store.Build, error) {
	p, err := s.store.GetPipelineByName(ctx, name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.active[p.ID] > 0 {
		s.mu.Unlock()
		return nil, ErrPipelineBusy.WithContext("pipeline", name)
	}
	s.active[p.ID]++
	s.mu.Unlock()

	return s.launch(ctx, p)
}

// Busy reports whether a build of the pipeline is running.
func (s *Service) Busy(pipelineID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[pipelineID] > 0
}

// Pending is a queued build that has not been started.
type Pending struct {
	Build    *store.Build
	Pipeline *store.Pipeline
}

// Queue records a queued build of the named pipeline without starting it.
// Callers use the build id to subscribe to its events before Execute.
func (s *Service) Queue(ctx context.Context, name string) (*Pending, error) {
	p, err := s.store.GetPipelineByName(ctx, name)
	if err != nil {
		return nil, err
	}
	b, err := s.store.CreateBuild(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &Pending{Build: b, Pipeline: p}, nil
}

// Execute runs a queued build on the caller's goroutine. Like Start, the build
// ignores ctx's cancellation and runs to the end.
func (s *Service) Execute(ctx context.Context, p *Pending) Result {
	s.acquire(p.Pipeline.ID)
	defer s.release(p.Pipeline.ID)
	return s.executor.Execute(context.WithoutCancel(ctx), p.Build.ID, p.Pipeline.ConfigJSON)
}

// RunSync queues a build of the named pipeline and executes it on the
// caller's goroutine.
func (s *Service) RunSync(ctx context.Context, name string) (Result, error) {
	p, err := s.Queue(ctx, name)
	if err != nil {
		return Result{}, err
	}
	return s.Execute(ctx, p), nil
}

// launch expects the caller to have acquired p.ID; it is released when the
// build ends or could not be created.
func (s *Service) launch(ctx context.Context, p *store.Pipeline) (*store.Build, error) {
	b, err := s.store.CreateBuild(ctx, p.ID)
	if err != nil {
		s.release(p.ID)
		return nil, err
	}
	slog.Info("Build queued",
		logfields.BuildID(b.ID),
		logfields.PipelineID(p.ID),
		logfields.Pipeline(p.Name))

	done := s.executor.Start(ctx, b.ID, p.ConfigJSON)
	go func() {
		<-done
		s.release(p.ID)
	}()
	return b, nil
}

func (s *Service) acquire(pipelineID int64) {
	s.mu.Lock()
	s.active[pipelineID]++
	s.mu.Unlock()
}

func (s *Service) release(pipelineID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[pipelineID] <= 1 {
		delete(s.active, pipelineID)
		return
	}
	s.active[pipelineID]--
}
