package errors

// ErrorBuilder assembles a ClassifiedError. It starts from the defaults of
// its category.
type ErrorBuilder struct {
	err ClassifiedError
}

// NewError starts an error of the given category.
func NewError(category ErrorCategory, message string) *ErrorBuilder {
	t := traitsOf(category)
	return &ErrorBuilder{err: ClassifiedError{
		category:  category,
		severity:  t.severity,
		retryable: t.retryable,
		message:   message,
	}}
}

// WrapError starts an error of the given category caused by err.
func WrapError(err error, category ErrorCategory, message string) *ErrorBuilder {
	return NewError(category, message).WithCause(err)
}

func (b *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	b.err.cause = err
	return b
}

func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	if b.err.context == nil {
		b.err.context = make(ErrorContext)
	}
	b.err.context[key] = value
	return b
}

// Fatal raises the severity so the CLI logs the error before exiting.
func (b *ErrorBuilder) Fatal() *ErrorBuilder {
	b.err.severity = SeverityFatal
	return b
}

func (b *ErrorBuilder) Build() *ClassifiedError {
	e := b.err
	return &e
}

func ConfigError(message string) *ErrorBuilder     { return NewError(CategoryConfig, message) }
func ValidationError(message string) *ErrorBuilder { return NewError(CategoryValidation, message) }
func NotFoundError(message string) *ErrorBuilder   { return NewError(CategoryNotFound, message) }
func PipelineError(message string) *ErrorBuilder   { return NewError(CategoryPipeline, message) }
func BuildError(message string) *ErrorBuilder      { return NewError(CategoryBuild, message) }
func ProcessError(message string) *ErrorBuilder    { return NewError(CategoryProcess, message) }
func StoreError(message string) *ErrorBuilder      { return NewError(CategoryStore, message) }
func PublishError(message string) *ErrorBuilder    { return NewError(CategoryPublish, message) }
func DaemonError(message string) *ErrorBuilder     { return NewError(CategoryDaemon, message) }
func InternalError(message string) *ErrorBuilder   { return NewError(CategoryInternal, message) }
