// Package errors provides the classified errors used across buildrunner.
//
// Every ClassifiedError has a category. The category supplies its default
// severity and retryability, the HTTP status the API answers with and the
// exit code of the CLI, so callers only pick a category and add context:
//
//	err := errors.StoreError("append build logs failed").
//		WithContext("build_id", buildID).
//		WithCause(originalErr).
//		Build()
//
// Package-level sentinels are decorated with WithContext or Wrap, which copy;
// errors.Is still matches the sentinel afterwards.
package errors
