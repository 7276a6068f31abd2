package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBuildID     = "build_id"
	KeyPipelineID  = "pipeline_id"
	KeyPipeline    = "pipeline_name"
	KeyStepIndex   = "step_index"
	KeyCmd         = "cmd"
	KeyExitCode    = "exit_code"
	KeyBuildStatus = "build_status"
	KeyEvent       = "event"
	KeyLines       = "lines"
	KeyAttempt     = "attempt"
	KeyScheduleID  = "schedule_id"
	KeySchedule    = "schedule_name"
	KeyDurationMS  = "duration_ms"
	KeyMethod      = "method"
	KeyPath        = "path"
	KeyStatus      = "status"
	KeyRequestID   = "request_id"
	KeyURL         = "url"
	KeySubject     = "subject"
	KeyError       = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func BuildID(id int64) slog.Attr        { return slog.Int64(KeyBuildID, id) }
func PipelineID(id int64) slog.Attr     { return slog.Int64(KeyPipelineID, id) }
func Pipeline(name string) slog.Attr    { return slog.String(KeyPipeline, name) }
func StepIndex(i int) slog.Attr         { return slog.Int(KeyStepIndex, i) }
func Cmd(c string) slog.Attr            { return slog.String(KeyCmd, c) }
func ExitCode(code int) slog.Attr       { return slog.Int(KeyExitCode, code) }
func BuildStatus(s string) slog.Attr    { return slog.String(KeyBuildStatus, s) }
func Event(name string) slog.Attr       { return slog.String(KeyEvent, name) }
func Lines(n int) slog.Attr             { return slog.Int(KeyLines, n) }
func Attempt(n int) slog.Attr           { return slog.Int(KeyAttempt, n) }
func ScheduleID(id string) slog.Attr    { return slog.String(KeyScheduleID, id) }
func ScheduleName(n string) slog.Attr   { return slog.String(KeySchedule, n) }
func DurationMS(ms float64) slog.Attr   { return slog.Float64(KeyDurationMS, ms) }
func Method(m string) slog.Attr         { return slog.String(KeyMethod, m) }
func Path(p string) slog.Attr           { return slog.String(KeyPath, p) }
func Status(code int) slog.Attr         { return slog.Int(KeyStatus, code) }
func RequestID(id string) slog.Attr     { return slog.String(KeyRequestID, id) }
func URL(u string) slog.Attr            { return slog.String(KeyURL, u) }
func Subject(s string) slog.Attr        { return slog.String(KeySubject, s) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
