package store

// Sentinel errors for store operations. ClassifiedError.Is compares category and
// message, so errors.Is matches these even after WithContext decorations.

import (
	"git.home.luguber.info/inful/buildrunner/internal/foundation/errors"
)

var (
	// ErrDatabaseOpenFailed indicates the SQLite database could not be opened.
	ErrDatabaseOpenFailed = errors.StoreError("could not open build database").Fatal().Build()

	// ErrInitializeSchemaFailed indicates the database schema could not be initialized.
	ErrInitializeSchemaFailed = errors.StoreError("failed to initialize build database schema").Fatal().Build()

	// ErrPipelineNotFound indicates the pipeline id or name does not resolve.
	ErrPipelineNotFound = errors.NotFoundError("pipeline not found").Build()

	// ErrPipelineExists indicates a pipeline with the same name is already stored.
	ErrPipelineExists = errors.NewError(errors.CategoryAlreadyExists, "pipeline already exists").Build()

	// ErrBuildNotFound indicates the build record no longer exists.
	ErrBuildNotFound = errors.NotFoundError("build not found").Build()

	// ErrInvalidTransition indicates a status change outside queued -> running -> success|failed.
	ErrInvalidTransition = errors.NewError(errors.CategoryValidation, "invalid build status transition").Build()

	// ErrAppendLogsFailed indicates a log batch could not be committed.
	ErrAppendLogsFailed = errors.StoreError("failed to append build logs").Build()

	// ErrQueryFailed indicates a read query failed.
	ErrQueryFailed = errors.StoreError("failed to query build database").Build()

	// ErrWriteFailed indicates a pipeline or build write failed.
	ErrWriteFailed = errors.StoreError("failed to write build database").Build()
)

func wrap(sentinel *errors.ClassifiedError, cause error) error {
	return sentinel.Wrap(cause)
}
