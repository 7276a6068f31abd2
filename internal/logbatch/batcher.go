// Package logbatch buffers step output and persists it in fixed-size batches.
package logbatch

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/buildrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrunner/internal/logfields"
	"git.home.luguber.info/inful/buildrunner/internal/metrics"
	"git.home.luguber.info/inful/buildrunner/internal/retry"
	"git.home.luguber.info/inful/buildrunner/internal/store"
)

// DefaultBatchSize is the number of buffered lines that triggers a flush.
const DefaultBatchSize = 15

// Appender persists a batch of log lines atomically.
type Appender interface {
	AppendLogs(ctx context.Context, logs []store.BuildLog) error
}

// Options tunes a Batcher. Zero values select the defaults.
type Options struct {
	BatchSize int
	Retry     *retry.Policy
	Now       func() time.Time
	Recorder  metrics.Recorder
}

// Batcher collects the lines of one step of one build.
// It is not safe for concurrent use; a build drives it from a single goroutine.
type Batcher struct {
	appender  Appender
	buildID   int64
	stepIndex int
	size      int
	policy    retry.Policy
	now       func() time.Time
	recorder  metrics.Recorder

	buf     []store.BuildLog
	flushed int
}

// New returns a Batcher for (buildID, stepIndex).
func New(appender Appender, buildID int64, stepIndex int, opts Options) *Batcher {
	b := &Batcher{
		appender:  appender,
		buildID:   buildID,
		stepIndex: stepIndex,
		size:      opts.BatchSize,
		policy:    retry.DefaultPolicy(),
		now:       opts.Now,
		recorder:  opts.Recorder,
	}
	if b.size <= 0 {
		b.size = DefaultBatchSize
	}
	if opts.Retry != nil {
		b.policy = *opts.Retry
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.recorder == nil {
		b.recorder = metrics.NoopRecorder{}
	}
	b.buf = make([]store.BuildLog, 0, b.size)
	return b
}

// Observe buffers one line and flushes when the batch is full.
// On error the buffer is kept, nothing is lost.
func (b *Batcher) Observe(ctx context.Context, line string) error {
	b.buf = append(b.buf, store.BuildLog{
		BuildID:   b.buildID,
		StepIndex: b.stepIndex,
		Text:      line,
		Timestamp: b.now(),
	})
	if len(b.buf) < b.size {
		return nil
	}
	return b.flush(ctx)
}

// Drain flushes whatever is buffered. An empty buffer is a no-op.
func (b *Batcher) Drain(ctx context.Context) error {
	if len(b.buf) == 0 {
		return nil
	}
	return b.flush(ctx)
}

// Flushed is the number of lines persisted so far.
func (b *Batcher) Flushed() int { return b.flushed }

// Pending is the number of buffered, not yet persisted lines.
func (b *Batcher) Pending() int { return len(b.buf) }

func (b *Batcher) flush(ctx context.Context) error {
	var permanent error
	err := b.policy.Do(ctx, func() error {
		err := b.appender.AppendLogs(ctx, b.buf)
		if ce, ok := errors.AsClassified(err); ok && !ce.CanRetry() {
			permanent = err
			return nil
		}
		return err
	}, func(attempt int, err error) {
		b.recorder.IncLogFlushRetry()
		slog.Warn("Log batch flush failed, retrying",
			logfields.BuildID(b.buildID),
			logfields.StepIndex(b.stepIndex),
			logfields.Lines(len(b.buf)),
			logfields.Attempt(attempt),
			logfields.Error(err))
	})
	if err == nil {
		err = permanent
	}
	if err != nil {
		return errors.WrapError(err, errors.CategoryStore, "log batch flush failed").
			WithContext("build_id", b.buildID).
			WithContext("step_index", b.stepIndex).
			WithContext("lines", len(b.buf)).
			Build()
	}

	b.flushed += len(b.buf)
	// AppendLogs may retain the slice; start a fresh one.
	b.buf = make([]store.BuildLog, 0, b.size)
	return nil
}
