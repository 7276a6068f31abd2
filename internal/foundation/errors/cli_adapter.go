package errors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// CLIErrorAdapter turns a command error into a message on stderr and an exit code.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
	stderr  io.Writer
	exit    func(int)
}

// NewCLIErrorAdapter returns an adapter writing to os.Stderr and exiting the process.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{verbose: verbose, logger: logger, stderr: os.Stderr, exit: os.Exit}
}

// ExitCodeFor maps the error's category to an exit code. Unclassified errors exit 1.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if c, ok := AsClassified(err); ok {
		return traitsOf(c.category).exitCode
	}
	return 1
}

// FormatError renders the line printed for err. Without --verbose only
// user-facing categories show their message.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}
	c, ok := AsClassified(err)
	switch {
	case !ok:
		return fmt.Sprintf("Error: %v", err)
	case a.verbose:
		return c.Error()
	case traitsOf(c.category).userFacing:
		return "Error: " + c.message
	default:
		return "Internal error occurred (use -v for details)"
	}
}

// HandleError prints err and exits with its code. Fatal and unclassified
// errors are logged too, every error is when verbose.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}

	c, classified := AsClassified(err)
	switch {
	case !classified:
		a.logger.Error("Unclassified error", slog.String("error", err.Error()))
	case a.verbose || c.severity == SeverityFatal:
		a.logger.LogAttrs(context.Background(), c.severity.Level(), c.message,
			slog.String("category", string(c.category)),
			slog.Bool("retryable", c.retryable))
	}

	_, _ = fmt.Fprintln(a.stderr, a.FormatError(err))
	a.exit(a.ExitCodeFor(err))
}
