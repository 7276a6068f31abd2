// Package store persists pipelines, builds and build logs in SQLite.
package store

import "time"

// BuildStatus is the lifecycle state of a build.
type BuildStatus string

const (
	StatusQueued  BuildStatus = "queued"
	StatusRunning BuildStatus = "running"
	StatusSuccess BuildStatus = "success"
	StatusFailed  BuildStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s BuildStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Pipeline is a named, stored pipeline definition.
type Pipeline struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ConfigJSON  string    `json:"config_json"`
	CreatedAt   time.Time `json:"created_at"`
}

// PipelineSummary is a pipeline together with its most recent build, if any.
type PipelineSummary struct {
	Pipeline
	LastBuild *Build `json:"last_build,omitempty"`
}

// Build is one execution instance of a pipeline.
type Build struct {
	ID         int64       `json:"id"`
	PipelineID int64       `json:"pipeline_id"`
	Status     BuildStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// Runtime is the elapsed time since start, frozen at finish.
func (b *Build) Runtime(now time.Time) time.Duration {
	if b.StartedAt == nil {
		return 0
	}
	end := now
	if b.FinishedAt != nil {
		end = *b.FinishedAt
	}
	return end.Sub(*b.StartedAt)
}

// BuildLog is one persisted output line of a step.
type BuildLog struct {
	ID        int64     `json:"id"`
	BuildID   int64     `json:"build_id"`
	StepIndex int       `json:"step_index"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
