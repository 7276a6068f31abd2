package logfields

import (
	"log/slog"
	"testing"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"Pipeline", KeyPipeline, "nightly", Pipeline("nightly")},
		{"Cmd", KeyCmd, "make test", Cmd("make test")},
		{"BuildStatus", KeyBuildStatus, "running", BuildStatus("running")},
		{"Event", KeyEvent, "build_log", Event("build_log")},
		{"ScheduleID", KeyScheduleID, "sch1", ScheduleID("sch1")},
		{"ScheduleName", KeySchedule, "nightly", ScheduleName("nightly")},
		{"Method", KeyMethod, "GET", Method("GET")},
		{"Path", KeyPath, "/api/builds", Path("/api/builds")},
		{"RequestID", KeyRequestID, "rid", RequestID("rid")},
		{"URL", KeyURL, "nats://127.0.0.1:4222", URL("nats://127.0.0.1:4222")},
		{"Subject", KeySubject, "buildrunner.builds.>", Subject("buildrunner.builds.>")},
	}

	for _, tc := range cases {
		a := tc.attr
		if a.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, a.Key)
		}
		if got := a.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}

// TestNumericHelpers verifies keys for numeric & float helpers.
func TestNumericHelpers(t *testing.T) {
	if v := BuildID(5); v.Key != KeyBuildID || v.Value.Int64() != 5 {
		t.Fatalf("BuildID mismatch: %v", v)
	}
	if v := PipelineID(2); v.Key != KeyPipelineID {
		t.Fatalf("PipelineID key mismatch: %s", v.Key)
	}
	if v := StepIndex(0); v.Key != KeyStepIndex || v.Value.Int64() != 0 {
		t.Fatalf("StepIndex mismatch: %v", v)
	}
	if v := ExitCode(127); v.Key != KeyExitCode || v.Value.Int64() != 127 {
		t.Fatalf("ExitCode mismatch: %v", v)
	}
	if v := Lines(15); v.Key != KeyLines {
		t.Fatalf("Lines key mismatch: %s", v.Key)
	}
	if v := Attempt(2); v.Key != KeyAttempt {
		t.Fatalf("Attempt key mismatch: %s", v.Key)
	}
	if v := Status(200); v.Key != KeyStatus {
		t.Fatalf("Status key mismatch: %s", v.Key)
	}
	if v := DurationMS(12.5); v.Key != KeyDurationMS {
		t.Fatalf("DurationMS key mismatch: %s", v.Key)
	}
}

// TestErrorHelper ensures Error() handles nil and non-nil errors predictably.
func TestErrorHelper(t *testing.T) {
	attr := Error(nil)
	if attr.Key != KeyError {
		t.Fatalf("Error key mismatch: %s", attr.Key)
	}
	if attr.Value.String() != "" {
		t.Fatalf("Expected empty error string, got %s", attr.Value.String())
	}
	attr = Error(errTest{})
	if attr.Value.String() != "err-test" {
		t.Fatalf("Expected 'err-test', got %s", attr.Value.String())
	}
}

type errTest struct{}

func (e errTest) Error() string { return "err-test" }
