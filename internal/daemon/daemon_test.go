package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildrunner/internal/config"
	"git.home.luguber.info/inful/buildrunner/internal/events"
	"git.home.luguber.info/inful/buildrunner/internal/pipeline"
	"git.home.luguber.info/inful/buildrunner/internal/store"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Store.Path = ":memory:"
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Daemon.StopTimeout = "5s"
	cfg.Pipelines = []config.PipelineConfig{{
		Name:  "hello",
		Steps: []pipeline.Step{{Cmd: "echo one"}, {Cmd: "echo two"}},
	}}
	return cfg
}

func newDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()
	d, err := New(t.Context(), cfg, "")
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func TestNewSeedsConfiguredPipelines(t *testing.T) {
	d := newDaemon(t, testConfig())

	p, err := d.Store().GetPipelineByName(t.Context(), "hello")
	require.NoError(t, err)
	def, err := pipeline.Parse(p.ConfigJSON)
	require.NoError(t, err)
	require.Len(t, def.Steps, 2)
	require.Equal(t, StatusStopped, d.GetStatus())
}

func TestRunSyncThroughDaemon(t *testing.T) {
	d := newDaemon(t, testConfig())

	sub, unsubscribe := d.Bus().Subscribe(256, nil)
	defer unsubscribe()

	res, err := d.Service().RunSync(t.Context(), "hello")
	require.NoError(t, err)
	require.Equal(t, store.StatusSuccess, res.Status)

	logs, err := d.Store().ListLogs(t.Context(), res.BuildID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, "one", logs[0].Text)
	require.Equal(t, "two", logs[1].Text)

	var last events.Event
	for evt := range sub {
		last = evt
		if evt.IsTerminal() {
			break
		}
	}
	require.Equal(t, events.TypeFinished, last.Type)
	require.Equal(t, "success", last.Payload["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	d := newDaemon(t, cfg)

	_, err := d.Service().RunSync(t.Context(), "hello")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "buildrunner_build_outcomes_total")
	require.Contains(t, w.Body.String(), "buildrunner_log_lines_persisted_total")
}

func TestMetricsDisabled(t *testing.T) {
	d := newDaemon(t, testConfig())
	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestReloadConfig(t *testing.T) {
	d := newDaemon(t, testConfig())

	next := testConfig()
	next.Pipelines = append(next.Pipelines, config.PipelineConfig{Name: "nightly", Steps: []pipeline.Step{{Cmd: "true"}}})
	next.Pipelines[0].Steps = []pipeline.Step{{Cmd: "echo changed"}}
	next.Schedules = []config.ScheduleConfig{{Name: "nightly", Pipeline: "nightly", Interval: "1h"}}

	require.NoError(t, d.ReloadConfig(t.Context(), next))
	require.Same(t, next, d.GetConfig())

	p, err := d.Store().GetPipelineByName(t.Context(), "hello")
	require.NoError(t, err)
	require.Contains(t, p.ConfigJSON, "echo changed")

	_, err = d.Store().GetPipelineByName(t.Context(), "nightly")
	require.NoError(t, err)
	require.Equal(t, 1, d.scheduler.Len())
}

func TestRunStopsOnCancel(t *testing.T) {
	d := newDaemon(t, testConfig())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return d.GetStatus() == StatusRunning }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
	require.Equal(t, StatusStopped, d.GetStatus())
}

func TestRunWaitsForRunningBuilds(t *testing.T) {
	cfg := testConfig()
	cfg.Pipelines = []config.PipelineConfig{{Name: "slow", Steps: []pipeline.Step{{Cmd: "sleep 0.3; echo done"}}}}
	d := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	require.Eventually(t, func() bool { return d.GetStatus() == StatusRunning }, 2*time.Second, 10*time.Millisecond)

	sub, unsubscribe := d.Bus().Subscribe(64, nil)
	defer unsubscribe()
	b, err := d.Service().RunByName(t.Context(), "slow")
	require.NoError(t, err)

	cancel()
	require.NoError(t, <-done)
	require.Zero(t, d.executor.Running())

	// Closing the bus on shutdown ends the subscription.
	var finished []events.Event
	for evt := range sub {
		if evt.IsTerminal() {
			finished = append(finished, evt)
		}
	}
	require.Len(t, finished, 1)
	require.Equal(t, b.ID, finished[0].BuildID)
	require.Equal(t, "success", finished[0].Payload["status"])
}

func TestRunStopsSchedulesBeforeDraining(t *testing.T) {
	cfg := testConfig()
	cfg.Pipelines = []config.PipelineConfig{
		{Name: "a", Steps: []pipeline.Step{{Cmd: "sleep 0.2"}}},
		{Name: "b", Steps: []pipeline.Step{{Cmd: "sleep 0.2"}}},
	}
	cfg.Schedules = []config.ScheduleConfig{
		{Pipeline: "a", Interval: "50ms"},
		{Pipeline: "b", Interval: "50ms"},
	}
	d := newDaemon(t, cfg)
	sub, unsubscribe := d.Bus().Subscribe(1024, nil)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	require.Eventually(t, func() bool { return d.executor.Running() > 0 }, 5*time.Second, 10*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
	require.Zero(t, d.executor.Running())

	started := map[int64]bool{}
	finished := map[int64]string{}
	for evt := range sub {
		switch {
		case evt.Type == events.TypeStatusUpdate:
			started[evt.BuildID] = true
		case evt.IsTerminal():
			finished[evt.BuildID] = evt.Payload["status"].(string)
		}
	}
	require.NotEmpty(t, started)
	for id := range started {
		require.Equal(t, "success", finished[id], "build %d", id)
	}
}

type reloadRecorder struct {
	mu   sync.Mutex
	cfgs []*config.Config
}

func (r *reloadRecorder) ReloadConfig(_ context.Context, cfg *config.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfgs = append(r.cfgs, cfg)
	return nil
}

func (r *reloadRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cfgs)
}

func TestConfigWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  path: \":memory:\"\n"), 0o600))

	rec := &reloadRecorder{}
	w, err := NewConfigWatcher(path, rec)
	require.NoError(t, err)
	w.debounceTime = 50 * time.Millisecond
	require.NoError(t, w.Start(t.Context()))
	t.Cleanup(func() { _ = w.Stop() })

	content := "store:\n  path: \":memory:\"\npipelines:\n  - name: added\n    steps:\n      - cmd: echo hi\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	require.Eventually(t, func() bool { return rec.count() >= 1 }, 5*time.Second, 20*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	last := rec.cfgs[len(rec.cfgs)-1]
	require.Len(t, last.Pipelines, 1)
	require.Equal(t, "added", last.Pipelines[0].Name)
}

func TestConfigWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))

	rec := &reloadRecorder{}
	w, err := NewConfigWatcher(path, rec)
	require.NoError(t, err)
	w.debounceTime = 20 * time.Millisecond
	require.NoError(t, w.Start(t.Context()))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o600))
	time.Sleep(200 * time.Millisecond)
	require.Zero(t, rec.count())
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
