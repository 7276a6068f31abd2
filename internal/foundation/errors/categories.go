package errors

import (
	"log/slog"
	"net/http"
)

// ErrorCategory groups errors by the input or subsystem that produced them.
// The category decides the HTTP status, the CLI exit code and the defaults a
// builder starts from.
type ErrorCategory string

const (
	// Caller input.
	CategoryConfig        ErrorCategory = "config"
	CategoryValidation    ErrorCategory = "validation"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryAlreadyExists ErrorCategory = "already_exists"

	// Build execution.
	CategoryPipeline ErrorCategory = "pipeline"
	CategoryBuild    ErrorCategory = "build"
	CategoryProcess  ErrorCategory = "process"

	// Storage and transports.
	CategoryStore      ErrorCategory = "store"
	CategoryFileSystem ErrorCategory = "filesystem"
	CategoryNetwork    ErrorCategory = "network"
	CategoryPublish    ErrorCategory = "publish"

	CategoryDaemon   ErrorCategory = "daemon"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates the impact level of an error.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // stops the command or the build
	SeverityError   ErrorSeverity = "error"   // fails the current operation
	SeverityWarning ErrorSeverity = "warning" // logged, work continues
)

// Level maps the severity onto a slog level.
func (s ErrorSeverity) Level() slog.Level {
	if s == SeverityWarning {
		return slog.LevelWarn
	}
	return slog.LevelError
}

type traits struct {
	severity   ErrorSeverity
	retryable  bool
	httpStatus int
	exitCode   int
	userFacing bool // message printed by the CLI without --verbose
}

var categoryTraits = map[ErrorCategory]traits{
	CategoryConfig:        {SeverityFatal, false, http.StatusBadRequest, 7, true},
	CategoryValidation:    {SeverityFatal, false, http.StatusBadRequest, 2, true},
	CategoryNotFound:      {SeverityError, false, http.StatusNotFound, 4, true},
	CategoryAlreadyExists: {SeverityError, false, http.StatusConflict, 6, true},
	CategoryPipeline:      {SeverityFatal, false, http.StatusUnprocessableEntity, 11, true},
	CategoryBuild:         {SeverityFatal, false, http.StatusUnprocessableEntity, 11, true},
	CategoryProcess:       {SeverityError, false, http.StatusUnprocessableEntity, 11, false},
	CategoryStore:         {SeverityError, true, http.StatusInternalServerError, 13, false},
	CategoryFileSystem:    {SeverityError, true, http.StatusInternalServerError, 13, false},
	CategoryNetwork:       {SeverityError, true, http.StatusBadGateway, 8, false},
	CategoryPublish:       {SeverityWarning, false, http.StatusBadGateway, 8, false},
	CategoryDaemon:        {SeverityFatal, false, http.StatusServiceUnavailable, 12, false},
	CategoryInternal:      {SeverityFatal, false, http.StatusInternalServerError, 10, false},
}

func traitsOf(c ErrorCategory) traits {
	if t, ok := categoryTraits[c]; ok {
		return t
	}
	return categoryTraits[CategoryInternal]
}

// ErrorContext carries structured details about an error. It is rendered as
// the "details" object of HTTP error responses.
type ErrorContext map[string]any

// Get retrieves a context value.
func (c ErrorContext) Get(key string) (any, bool) {
	value, ok := c[key]
	return value, ok
}

// GetString retrieves a string context value.
func (c ErrorContext) GetString(key string) (string, bool) {
	s, ok := c[key].(string)
	return s, ok
}
