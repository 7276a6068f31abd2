package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildrunner/internal/build"
	"git.home.luguber.info/inful/buildrunner/internal/config"
	"git.home.luguber.info/inful/buildrunner/internal/store"
)

type recordingTrigger struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingTrigger) TryRunByName(_ context.Context, name string) (*store.Build, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
	if r.err != nil {
		return nil, r.err
	}
	return &store.Build{ID: int64(len(r.calls)), Status: store.StatusQueued}, nil
}

func (r *recordingTrigger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newScheduler(t *testing.T, tr Trigger) *Scheduler {
	t.Helper()
	s, err := New(tr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestScheduler_Add(t *testing.T) {
	t.Run("returns job id for valid interval", func(t *testing.T) {
		s := newScheduler(t, &recordingTrigger{})
		id, err := s.Add(config.ScheduleConfig{Name: "nightly", Pipeline: "p", Interval: "10s"})
		require.NoError(t, err)
		require.NotEmpty(t, id)
		require.Equal(t, 1, s.Len())
	})

	t.Run("rejects non-positive interval", func(t *testing.T) {
		s := newScheduler(t, &recordingTrigger{})
		_, err := s.Add(config.ScheduleConfig{Name: "x", Pipeline: "p", Interval: "0s"})
		require.Error(t, err)
		_, err = s.Add(config.ScheduleConfig{Name: "y", Pipeline: "p", Interval: "soon"})
		require.Error(t, err)
	})

	t.Run("rejects duplicate names", func(t *testing.T) {
		s := newScheduler(t, &recordingTrigger{})
		_, err := s.Add(config.ScheduleConfig{Pipeline: "p", Interval: "1m"})
		require.NoError(t, err)
		_, err = s.Add(config.ScheduleConfig{Name: "p", Pipeline: "other", Interval: "1m"})
		require.Error(t, err)
	})
}

func TestScheduler_TriggersPipeline(t *testing.T) {
	tr := &recordingTrigger{}
	s := newScheduler(t, tr)
	_, err := s.Add(config.ScheduleConfig{Name: "fast", Pipeline: "deploy", Interval: "50ms"})
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool { return tr.count() >= 2 }, 3*time.Second, 20*time.Millisecond)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Equal(t, "deploy", tr.calls[0])
}

func TestScheduler_TriggerErrorIsLogged(t *testing.T) {
	tr := &recordingTrigger{err: errors.New("pipeline not found")}
	s := newScheduler(t, tr)
	_, err := s.Add(config.ScheduleConfig{Pipeline: "missing", Interval: "50ms"})
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool { return tr.count() >= 2 }, 3*time.Second, 20*time.Millisecond)
}

func TestScheduler_BusyPipelineIsSkipped(t *testing.T) {
	tr := &recordingTrigger{err: build.ErrPipelineBusy.WithContext("pipeline", "deploy")}
	s := newScheduler(t, tr)
	_, err := s.Add(config.ScheduleConfig{Pipeline: "deploy", Interval: "50ms"})
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool { return tr.count() >= 2 }, 3*time.Second, 20*time.Millisecond)
}

func TestScheduler_StopTwice(t *testing.T) {
	s := newScheduler(t, &recordingTrigger{})
	s.Start()
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestScheduler_Replace(t *testing.T) {
	s := newScheduler(t, &recordingTrigger{})
	_, err := s.Add(config.ScheduleConfig{Name: "old", Pipeline: "p", Interval: "1m"})
	require.NoError(t, err)

	err = s.Replace([]config.ScheduleConfig{
		{Name: "a", Pipeline: "p", Interval: "1m"},
		{Name: "b", Pipeline: "q", Interval: "bogus"},
		{Name: "c", Pipeline: "r", Interval: "2m"},
	})
	require.Error(t, err)
	require.Equal(t, 2, s.Len())

	require.NoError(t, s.Replace(nil))
	require.Zero(t, s.Len())
}
