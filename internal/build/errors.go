package build

import "git.home.luguber.info/inful/buildrunner/internal/foundation/errors"

// Sentinel errors for orchestration faults. They are wrapped with the build id
// at the call site.
var (
	ErrStatusUpdate  = errors.BuildError("failed to update build status").Build()
	ErrLogPersist    = errors.BuildError("failed to persist build logs").Build()
	ErrExecutorPanic = errors.InternalError("build executor panicked").Build()
)

// ErrPipelineBusy is returned by TryRunByName while a build of the pipeline
// started by the same Service is still running.
var ErrPipelineBusy = errors.NewError(errors.CategoryAlreadyExists, "pipeline already has a running build").Build()
