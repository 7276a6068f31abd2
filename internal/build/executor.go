package build

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/buildrunner/internal/events"
	"git.home.luguber.info/inful/buildrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrunner/internal/logbatch"
	"git.home.luguber.info/inful/buildrunner/internal/logfields"
	"git.home.luguber.info/inful/buildrunner/internal/metrics"
	"git.home.luguber.info/inful/buildrunner/internal/pipeline"
	"git.home.luguber.info/inful/buildrunner/internal/retry"
	"git.home.luguber.info/inful/buildrunner/internal/store"
)

// StepOutcome is the result of one executed step.
type StepOutcome struct {
	StepIndex int
	Cmd       string
	ExitCode  int
	Lines     int
	Duration  time.Duration
}

// Result summarizes one Execute call.
type Result struct {
	BuildID int64
	// Status is empty when the build record did not exist.
	Status store.BuildStatus
	Steps  []StepOutcome
	// Err is set when the build failed for a reason other than a step exit code.
	Err error
}

// Executor orchestrates builds. It is safe for concurrent use; each build runs
// on its own goroutine and shares nothing but the store and the publisher.
type Executor struct {
	store      Store
	runner     StepRunner
	publisher  *events.BestEffort
	recorder   metrics.Recorder
	batchSize  int
	flushRetry *retry.Policy
	logEvery   int

	wg      sync.WaitGroup
	running atomic.Int64
}

// Option configures an Executor.
type Option func(*Executor)

// WithBatchSize sets the number of lines persisted per store transaction.
func WithBatchSize(n int) Option { return func(e *Executor) { e.batchSize = n } }

// WithFlushRetry sets the retry policy for failed log flushes.
func WithFlushRetry(p retry.Policy) Option { return func(e *Executor) { e.flushRetry = &p } }

// WithLogEvery sets the build_log sampling interval.
func WithLogEvery(n int) Option { return func(e *Executor) { e.logEvery = n } }

// WithRecorder injects a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Executor) {
		if r != nil {
			e.recorder = r
		}
	}
}

// NewExecutor wires an executor. A nil publisher discards events.
func NewExecutor(st Store, publisher *events.BestEffort, run StepRunner, opts ...Option) *Executor {
	if publisher == nil {
		publisher = events.NewBestEffort(nil)
	}
	e := &Executor{
		store:     st,
		runner:    run,
		publisher: publisher,
		recorder:  metrics.NoopRecorder{},
		batchSize: logbatch.DefaultBatchSize,
		logEvery:  events.DefaultLogEvery,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start runs the build on a new goroutine and returns immediately. The build
// keeps ctx's values but not its cancellation: once started it runs to the end.
// The returned channel receives the Result and is then closed.
func (e *Executor) Start(ctx context.Context, buildID int64, configJSON string) <-chan Result {
	done := make(chan Result, 1)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(done)
		done <- e.Execute(context.WithoutCancel(ctx), buildID, configJSON)
	}()
	return done
}

// Wait blocks until every started build has finished or ctx is done.
func (e *Executor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WrapError(ctx.Err(), errors.CategoryDaemon, "timed out waiting for running builds").
			WithContext("running", e.Running()).
			Build()
	}
}

// Running is the number of builds currently executing.
func (e *Executor) Running() int { return int(e.running.Load()) }

// Execute runs the build synchronously. It never panics and never returns an
// error: failures end up in the build status, the build_finished event and Result.
func (e *Executor) Execute(ctx context.Context, buildID int64, configJSON string) Result {
	x := &execution{e: e, ctx: ctx, buildID: buildID, log: slog.With(logfields.BuildID(buildID))}
	x.res.BuildID = buildID

	defer func() {
		if r := recover(); r != nil {
			if x.proc != nil {
				x.proc.Kill()
				x.proc.Wait()
			}
			x.fault(ErrExecutorPanic.WithContext("panic", fmt.Sprint(r)))
		}
	}()

	x.run(configJSON)
	return x.res
}

// execution is the state of one build on its goroutine.
type execution struct {
	e       *Executor
	ctx     context.Context
	buildID int64
	log     *slog.Logger
	proc    Process
	res     Result
}

func (x *execution) run(configJSON string) {
	if _, err := x.e.store.GetBuild(x.ctx, x.buildID); err != nil {
		if stderrors.Is(err, store.ErrBuildNotFound) {
			x.log.Warn("Build record not found, nothing to run")
			return
		}
		x.fault(err)
		return
	}

	x.e.running.Add(1)
	x.e.recorder.AddRunningBuilds(1)
	start := time.Now()
	defer func() {
		x.e.running.Add(-1)
		x.e.recorder.AddRunningBuilds(-1)
		x.e.recorder.ObserveBuildDuration(time.Since(start))
	}()

	if err := x.e.store.MarkRunning(x.ctx, x.buildID); err != nil {
		x.fault(statusError(err, x.buildID, store.StatusRunning))
		return
	}
	x.publish(events.StatusUpdate(x.buildID, string(store.StatusRunning)))

	def, err := pipeline.Parse(configJSON)
	if err != nil {
		x.fault(err)
		return
	}
	total := def.TotalSteps()
	x.log.Info("Build started", slog.Int("steps", len(def.Steps)))

	if len(def.Steps) == 0 {
		x.publish(events.Progress(x.buildID, 100))
	}

	for i, step := range def.Steps {
		outcome, err := x.runStep(i, step)
		x.res.Steps = append(x.res.Steps, outcome)
		if err != nil {
			x.fault(err)
			return
		}

		x.publish(events.Progress(x.buildID, progress(i+1, total)))

		if outcome.ExitCode != 0 {
			x.log.Warn("Step failed, stopping build",
				logfields.StepIndex(i),
				logfields.ExitCode(outcome.ExitCode))
			x.finish(store.StatusFailed)
			return
		}
	}

	x.finish(store.StatusSuccess)
}

func (x *execution) runStep(index int, step pipeline.Step) (StepOutcome, error) {
	x.publish(events.StepStart(x.buildID, index, step.Cmd))
	x.log.Info("Running step", logfields.StepIndex(index), logfields.Cmd(step.Cmd))

	start := time.Now()
	batch := logbatch.New(x.e.store, x.buildID, index, logbatch.Options{
		BatchSize: x.e.batchSize,
		Retry:     x.e.flushRetry,
		Recorder:  x.e.recorder,
	})
	throttle := events.NewThrottle(x.e.logEvery)

	// Kept on the execution until reaped so a panic can still kill it.
	proc := x.e.runner.Start(step.Cmd)
	x.proc = proc

	var persistErr error
	for line := range proc.Lines() {
		x.log.Debug("Step output", logfields.StepIndex(index), slog.String("text", line))
		if err := batch.Observe(x.ctx, line); err != nil {
			persistErr = err
			proc.Kill()
			break
		}
		if throttle.Observe() {
			x.publish(events.Log(x.buildID, index, line))
		}
	}
	if persistErr == nil {
		persistErr = batch.Drain(x.ctx)
	}
	exitCode := proc.Wait()
	x.proc = nil
	x.e.recorder.AddLogLines(batch.Flushed())

	outcome := StepOutcome{
		StepIndex: index,
		Cmd:       step.Cmd,
		ExitCode:  exitCode,
		Lines:     throttle.Count(),
		Duration:  time.Since(start),
	}
	if persistErr != nil {
		return outcome, errors.WrapError(persistErr, errors.CategoryBuild, ErrLogPersist.Message()).
			WithContext("build_id", x.buildID).
			WithContext("step_index", index).
			Build()
	}

	result := metrics.ResultSuccess
	if exitCode != 0 {
		result = metrics.ResultFailed
	}
	x.e.recorder.ObserveStepDuration(outcome.Duration, result)
	x.log.Info("Step finished",
		logfields.StepIndex(index),
		logfields.ExitCode(exitCode),
		logfields.Lines(outcome.Lines))
	return outcome, nil
}

func (x *execution) finish(status store.BuildStatus) {
	if err := x.e.store.Finish(x.ctx, x.buildID, status); err != nil {
		x.fault(statusError(err, x.buildID, status))
		return
	}
	x.res.Status = status
	x.publish(events.Finished(x.buildID, string(status), nil))

	outcome := metrics.BuildOutcomeSuccess
	if status != store.StatusSuccess {
		outcome = metrics.BuildOutcomeFailed
	}
	x.e.recorder.IncBuildOutcome(outcome)
	x.log.Info("Build finished", logfields.BuildStatus(string(status)))
}

// fault forces the build to failed, if it still exists and is not terminal,
// and publishes the terminal event with the cause. Store writes and the
// publication run detached from x.ctx so a canceled caller cannot leave the
// build running.
func (x *execution) fault(cause error) {
	ctx := context.WithoutCancel(x.ctx)
	x.res.Status = store.StatusFailed
	x.res.Err = cause
	x.log.Error("Build failed with orchestration error", logfields.Error(cause))

	b, err := x.e.store.GetBuild(ctx, x.buildID)
	switch {
	case stderrors.Is(err, store.ErrBuildNotFound):
		x.log.Warn("Build record no longer exists, status not updated")
	case err != nil:
		x.log.Error("Failed to load build for failure update", logfields.Error(err))
	case b.Status.IsTerminal():
		// Already finished elsewhere; its build_finished went out then.
		x.res.Status = b.Status
		x.log.Warn("Build already finished, not publishing again", logfields.BuildStatus(string(b.Status)))
		return
	default:
		if b.Status == store.StatusQueued {
			if err := x.e.store.MarkRunning(ctx, x.buildID); err != nil {
				x.log.Error("Failed to mark build running before failing it", logfields.Error(err))
			}
		}
		if err := x.e.store.Finish(ctx, x.buildID, store.StatusFailed); err != nil {
			x.log.Error("Failed to mark build failed", logfields.Error(err))
		}
	}

	x.e.publisher.Publish(ctx, events.Finished(x.buildID, string(store.StatusFailed), cause))
	x.e.recorder.IncBuildOutcome(metrics.BuildOutcomeFault)
}

func (x *execution) publish(evt events.Event) {
	x.e.publisher.Publish(x.ctx, evt)
}

func statusError(err error, buildID int64, to store.BuildStatus) error {
	return errors.WrapError(err, errors.CategoryBuild, ErrStatusUpdate.Message()).
		WithContext("build_id", buildID).
		WithContext("to", string(to)).
		Build()
}

// progress is the completed share of the build as a rounded percentage.
func progress(completed, total int) int {
	return int(math.Round(float64(completed) / float64(total) * 100))
}
