// Package events publishes build lifecycle and progress events to live
// subscribers. Delivery is best effort; persistence never depends on it.
package events

import (
	"maps"
	"time"
)

// Type names a build event on the wire.
type Type string

const (
	TypeStatusUpdate Type = "build_status_update"
	TypeStepStart    Type = "build_step_start"
	TypeLog          Type = "build_log"
	TypeProgress     Type = "build_progress"
	TypeFinished     Type = "build_finished"
)

// Event is one published notification about a build.
type Event struct {
	Type      Type
	BuildID   int64
	Timestamp time.Time
	Payload   map[string]any
}

// Data is the wire body: the payload plus build_id.
func (e Event) Data() map[string]any {
	data := make(map[string]any, len(e.Payload)+1)
	maps.Copy(data, e.Payload)
	data["build_id"] = e.BuildID
	return data
}

// IsTerminal reports whether no further events follow for the build.
func (e Event) IsTerminal() bool {
	return e.Type == TypeFinished
}

func newEvent(t Type, buildID int64, payload map[string]any) Event {
	return Event{Type: t, BuildID: buildID, Timestamp: time.Now().UTC(), Payload: payload}
}

func StatusUpdate(buildID int64, status string) Event {
	return newEvent(TypeStatusUpdate, buildID, map[string]any{"status": status})
}

func StepStart(buildID int64, stepIndex int, cmd string) Event {
	return newEvent(TypeStepStart, buildID, map[string]any{"step_index": stepIndex, "cmd": cmd})
}

func Log(buildID int64, stepIndex int, text string) Event {
	return newEvent(TypeLog, buildID, map[string]any{"step_index": stepIndex, "text": text})
}

func Progress(buildID int64, percent int) Event {
	return newEvent(TypeProgress, buildID, map[string]any{"progress": percent})
}

// Finished is the last event of a build. cause is attached as "error" when set.
func Finished(buildID int64, status string, cause error) Event {
	payload := map[string]any{"status": status}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	return newEvent(TypeFinished, buildID, payload)
}
