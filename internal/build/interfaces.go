package build

import (
	"context"
	"iter"

	"git.home.luguber.info/inful/buildrunner/internal/logbatch"
	"git.home.luguber.info/inful/buildrunner/internal/runner"
	"git.home.luguber.info/inful/buildrunner/internal/store"
)

// Store is the persistence the executor drives. *store.SQLiteStore satisfies it.
type Store interface {
	GetBuild(ctx context.Context, id int64) (*store.Build, error)
	MarkRunning(ctx context.Context, id int64) error
	Finish(ctx context.Context, id int64, status store.BuildStatus) error
	logbatch.Appender
}

// Process is a running step command.
type Process interface {
	Lines() iter.Seq[string]
	Wait() int
	Kill()
}

// StepRunner starts step commands.
type StepRunner interface {
	Start(command string) Process
}

// StepRunnerFunc adapts a function to StepRunner.
type StepRunnerFunc func(command string) Process

func (f StepRunnerFunc) Start(command string) Process { return f(command) }

// FromRunner adapts a *runner.Runner to StepRunner.
func FromRunner(r *runner.Runner) StepRunner {
	return StepRunnerFunc(func(command string) Process { return r.Start(command) })
}
