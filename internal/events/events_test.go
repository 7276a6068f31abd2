package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildrunner/internal/metrics"
)

func TestEventData(t *testing.T) {
	evt := StepStart(9, 2, "make test")
	require.Equal(t, TypeStepStart, evt.Type)
	require.Equal(t, map[string]any{"build_id": int64(9), "step_index": 2, "cmd": "make test"}, evt.Data())
	require.False(t, evt.IsTerminal())

	// Data must not alias the payload
	evt.Data()["cmd"] = "changed"
	require.Equal(t, "make test", evt.Payload["cmd"])
}

func TestFinishedCarriesError(t *testing.T) {
	ok := Finished(1, "success", nil)
	require.NotContains(t, ok.Payload, "error")
	require.True(t, ok.IsTerminal())

	failed := Finished(1, "failed", errors.New("store unavailable"))
	require.Equal(t, "store unavailable", failed.Payload["error"])
}

func TestThrottleFiresEveryNth(t *testing.T) {
	for _, tc := range []struct{ lines, want int }{{0, 0}, {4, 0}, {5, 1}, {9, 1}, {10, 2}, {37, 7}} {
		th := NewThrottle(5)
		fired := 0
		for range tc.lines {
			if th.Observe() {
				fired++
			}
		}
		require.Equal(t, tc.want, fired, "lines=%d", tc.lines)
		require.Equal(t, tc.lines, th.Count())
	}
}

func TestThrottleDefault(t *testing.T) {
	th := NewThrottle(0)
	var fired []int
	for i := 1; i <= 10; i++ {
		if th.Observe() {
			fired = append(fired, i)
		}
	}
	require.Equal(t, []int{5, 10}, fired)
}

type countingRecorder struct {
	metrics.NoopRecorder
	delivered, failed int
}

func (r *countingRecorder) IncEventPublished(_ string, ok bool) {
	if ok {
		r.delivered++
	} else {
		r.failed++
	}
}

func TestBestEffortSwallowsFailures(t *testing.T) {
	rec := &countingRecorder{}
	failing := PublisherFunc(func(context.Context, Event) error { return errors.New("socket closed") })
	be := NewBestEffort(failing, WithRecorder(rec))

	d := be.Publish(t.Context(), Progress(1, 50))
	require.False(t, d.OK())
	require.Equal(t, TypeProgress, d.Event)
	require.Equal(t, 1, rec.failed)

	ok := NewBestEffort(nil, WithRecorder(rec)).Publish(t.Context(), Progress(1, 100))
	require.True(t, ok.OK())
	require.Equal(t, 1, rec.delivered)
}

func TestBestEffortBoundsSlowTransport(t *testing.T) {
	blocking := PublisherFunc(func(ctx context.Context, _ Event) error {
		<-ctx.Done()
		return ctx.Err()
	})
	be := NewBestEffort(blocking, WithTimeout(20*time.Millisecond))

	start := time.Now()
	d := be.Publish(t.Context(), Log(1, 0, "line"))
	require.ErrorIs(t, d.Err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
}

func TestFanoutDeliversToAllAndJoinsErrors(t *testing.T) {
	var got []Type
	recording := PublisherFunc(func(_ context.Context, e Event) error {
		got = append(got, e.Type)
		return nil
	})
	boom := errors.New("boom")
	failing := PublisherFunc(func(context.Context, Event) error { return boom })

	err := Fanout{failing, nil, recording}.Publish(t.Context(), StatusUpdate(3, "running"))
	require.ErrorIs(t, err, boom)
	require.Equal(t, []Type{TypeStatusUpdate}, got)

	require.NoError(t, Fanout{recording}.Publish(t.Context(), Progress(3, 10)))
}

func TestSubjectAndMessage(t *testing.T) {
	evt := Log(42, 1, "compiling")
	require.Equal(t, "buildrunner.builds.42.build_log", Subject("buildrunner.builds", evt))

	msg, err := newNATSMsg("ci", evt)
	require.NoError(t, err)
	require.Equal(t, "ci.42.build_log", msg.Subject)
	require.NotEmpty(t, msg.Header.Get("Nats-Msg-Id"))
	require.JSONEq(t, `{"build_id":42,"step_index":1,"text":"compiling","event":"build_log","timestamp":"`+
		evt.Timestamp.Format(time.RFC3339Nano)+`"}`, string(msg.Data))

	other, err := newNATSMsg("ci", evt)
	require.NoError(t, err)
	require.NotEqual(t, msg.Header.Get("Nats-Msg-Id"), other.Header.Get("Nats-Msg-Id"))
}
