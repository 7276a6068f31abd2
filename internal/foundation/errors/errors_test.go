package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestBuilderStartsFromCategoryDefaults(t *testing.T) {
	tests := []struct {
		name      string
		builder   *ErrorBuilder
		category  ErrorCategory
		severity  ErrorSeverity
		retryable bool
	}{
		{"ConfigError", ConfigError("test"), CategoryConfig, SeverityFatal, false},
		{"ValidationError", ValidationError("test"), CategoryValidation, SeverityFatal, false},
		{"NotFoundError", NotFoundError("test"), CategoryNotFound, SeverityError, false},
		{"PipelineError", PipelineError("test"), CategoryPipeline, SeverityFatal, false},
		{"BuildError", BuildError("test"), CategoryBuild, SeverityFatal, false},
		{"ProcessError", ProcessError("test"), CategoryProcess, SeverityError, false},
		{"StoreError", StoreError("test"), CategoryStore, SeverityError, true},
		{"PublishError", PublishError("test"), CategoryPublish, SeverityWarning, false},
		{"DaemonError", DaemonError("test"), CategoryDaemon, SeverityFatal, false},
		{"InternalError", InternalError("test"), CategoryInternal, SeverityFatal, false},
		{"network", NewError(CategoryNetwork, "test"), CategoryNetwork, SeverityError, true},
		{"unknown category", NewError("mystery", "test"), "mystery", SeverityFatal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.builder.Build()
			if err.Category() != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category())
			}
			if err.Severity() != tt.severity {
				t.Errorf("expected severity %s, got %s", tt.severity, err.Severity())
			}
			if err.CanRetry() != tt.retryable {
				t.Errorf("expected retryable %v, got %v", tt.retryable, err.CanRetry())
			}
		})
	}
}

func TestBuilderContextAndCause(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := WrapError(cause, CategoryStore, "append build logs failed").
		Fatal().
		WithContext("build_id", int64(7)).
		WithContext("step_index", 2).
		Build()

	if err.Severity() != SeverityFatal {
		t.Errorf("expected Fatal to override the default severity, got %s", err.Severity())
	}
	if !errors.Is(err, cause) {
		t.Error("expected error to wrap its cause")
	}
	if v, ok := err.Context().Get("build_id"); !ok || v != int64(7) {
		t.Errorf("expected build_id 7, got %v", v)
	}
	if got := err.Error(); got != "[store:fatal] append build logs failed: disk I/O error" {
		t.Errorf("unexpected message %q", got)
	}
	if _, ok := err.Context().GetString("step_index"); ok {
		t.Error("GetString must not convert non-string values")
	}
}

func TestAsClassifiedUnwrapsChain(t *testing.T) {
	classified := StoreError("append build logs failed").Build()
	wrapped := fmt.Errorf("flush step 2: %w", classified)

	got, ok := AsClassified(wrapped)
	if !ok {
		t.Fatal("expected classified error in chain")
	}
	if got.Category() != CategoryStore {
		t.Errorf("expected category %s, got %s", CategoryStore, got.Category())
	}
	if !HasCategory(wrapped, CategoryStore) || HasCategory(wrapped, CategoryBuild) {
		t.Error("HasCategory should follow the chain and compare the category")
	}
	if HasCategory(errors.New("plain"), CategoryInternal) {
		t.Error("unclassified errors have no category")
	}
}

func TestSentinelDecorationCopies(t *testing.T) {
	sentinel := NotFoundError("build not found").Build()
	cause := errors.New("no rows")

	a := sentinel.WithContext("build_id", int64(1))
	b := sentinel.Wrap(cause).WithContext("build_id", int64(2))

	if _, ok := sentinel.Context().Get("build_id"); ok {
		t.Fatal("decorating a sentinel must not modify it")
	}
	if sentinel.Unwrap() != nil {
		t.Fatal("wrapping a sentinel must not modify it")
	}
	if v, _ := a.Context().Get("build_id"); v != int64(1) {
		t.Errorf("expected build_id 1, got %v", v)
	}
	if v, _ := b.Context().Get("build_id"); v != int64(2) {
		t.Errorf("expected build_id 2, got %v", v)
	}
	if !errors.Is(a, sentinel) || !errors.Is(b, sentinel) || !errors.Is(b, cause) {
		t.Error("decorated errors should still match the sentinel and the cause")
	}
	if errors.Is(a, NotFoundError("pipeline not found").Build()) {
		t.Error("errors with different messages must not match")
	}
}
