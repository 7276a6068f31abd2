package metrics

import "time"

// ResultLabel enumerates step result categories for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultFailed  ResultLabel = "failed"
)

// BuildOutcomeLabel is the final outcome of a build.
type BuildOutcomeLabel string

const (
	BuildOutcomeSuccess BuildOutcomeLabel = "success"
	BuildOutcomeFailed  BuildOutcomeLabel = "failed"
	// BuildOutcomeFault marks builds failed by an orchestration error rather than a step.
	BuildOutcomeFault BuildOutcomeLabel = "fault"
)

// Recorder defines observability hooks for build, step, log and event metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc.
type Recorder interface {
	ObserveBuildDuration(d time.Duration)
	IncBuildOutcome(outcome BuildOutcomeLabel)
	AddRunningBuilds(delta int)
	ObserveStepDuration(d time.Duration, result ResultLabel)
	AddLogLines(n int)
	IncLogFlushRetry()
	IncEventPublished(event string, delivered bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveBuildDuration(time.Duration)              {}
func (NoopRecorder) IncBuildOutcome(BuildOutcomeLabel)               {}
func (NoopRecorder) AddRunningBuilds(int)                            {}
func (NoopRecorder) ObserveStepDuration(time.Duration, ResultLabel) {}
func (NoopRecorder) AddLogLines(int)                                 {}
func (NoopRecorder) IncLogFlushRetry()                               {}
func (NoopRecorder) IncEventPublished(string, bool)                  {}
