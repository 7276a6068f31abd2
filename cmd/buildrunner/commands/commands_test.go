package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildrunner/internal/config"
	"git.home.luguber.info/inful/buildrunner/internal/daemon"
	"git.home.luguber.info/inful/buildrunner/internal/events"
	"git.home.luguber.info/inful/buildrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrunner/internal/pipeline"
	"git.home.luguber.info/inful/buildrunner/internal/store"
)

func newCLI(t *testing.T) (*CLI, *Global, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	var out bytes.Buffer
	return &CLI{Config: filepath.Join(dir, "buildrunner.yaml")}, &Global{Out: &out}, &out
}

func TestInitCommand(t *testing.T) {
	root, g, out := newCLI(t)

	require.NoError(t, (&InitCmd{}).Run(g, root))
	require.FileExists(t, root.Config)
	require.Contains(t, out.String(), "initialized successfully")

	err := (&InitCmd{}).Run(g, root)
	require.Error(t, err)
	require.True(t, errors.HasCategory(err, errors.CategoryConfig))

	require.NoError(t, (&InitCmd{Force: true}).Run(g, root))
}

func TestRunConfiguredPipeline(t *testing.T) {
	root, g, out := newCLI(t)
	require.NoError(t, (&InitCmd{}).Run(g, root))
	out.Reset()

	require.NoError(t, (&RunCmd{Pipeline: "Test Pipeline"}).Run(g, root))
	text := out.String()
	require.Contains(t, text, "==> step 0: echo Step 1: Build started")
	require.Contains(t, text, "==> step 2: echo Step 3: Deploy complete")
	require.Contains(t, text, "progress 100%")
	require.Contains(t, text, "build 1 success")

	out.Reset()
	require.NoError(t, (&BuildsCmd{Limit: 10}).Run(g, root))
	require.Contains(t, out.String(), "STATUS")
	require.Contains(t, out.String(), "success")

	out.Reset()
	require.NoError(t, (&LogsCmd{BuildID: 1}).Run(g, root))
	require.Contains(t, out.String(), "[build 1 | step 0]: Step 1: Build started")
	require.Contains(t, out.String(), "[build 1 | step 2]: Step 3: Deploy complete")

	out.Reset()
	step := 1
	require.NoError(t, (&LogsCmd{BuildID: 1, Step: &step}).Run(g, root))
	require.NotContains(t, out.String(), "Step 1:")
	require.Contains(t, out.String(), "Step 2: Running tests")
}

func TestRunPipelineFileFailsFast(t *testing.T) {
	root, g, out := newCLI(t)
	file := filepath.Join(t.TempDir(), "ci.yaml")
	require.NoError(t, os.WriteFile(file, []byte("steps:\n  - cmd: echo A\n  - cmd: \"false\"\n  - cmd: echo C\n"), 0o600))

	err := (&RunCmd{File: file}).Run(g, root)
	require.Error(t, err)
	require.True(t, errors.HasCategory(err, errors.CategoryBuild))
	require.Contains(t, out.String(), "build 1 failed")
	require.NotContains(t, out.String(), "echo C")

	out.Reset()
	require.NoError(t, (&LogsCmd{BuildID: 1}).Run(g, root))
	require.Contains(t, out.String(), "[build 1 | step 0]: A")
	require.NotContains(t, out.String(), ": C")
}

func TestRunPrintsOnlyItsOwnBuild(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Path = ":memory:"
	cfg.Pipelines = []config.PipelineConfig{{
		Name:  "slow",
		Steps: []pipeline.Step{{Cmd: "sleep 0.3; echo first"}, {Cmd: "echo second"}},
	}}
	d, err := daemon.New(t.Context(), cfg, "")
	require.NoError(t, err)
	t.Cleanup(d.Close)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = d.Bus().Publish(t.Context(), events.Log(9999, 0, "other build output"))
		_ = d.Bus().Publish(t.Context(), events.Finished(9999, "failed", nil))
	}()

	var out bytes.Buffer
	res, err := runPipeline(t.Context(), d, "slow", false, &out)
	require.NoError(t, err)
	require.Equal(t, store.StatusSuccess, res.Status)

	text := out.String()
	require.NotContains(t, text, "other build output")
	require.Contains(t, text, "==> step 0: sleep 0.3; echo first")
	require.Contains(t, text, "==> step 1: echo second")
	require.Contains(t, text, "progress 100%")
}

func TestRunRequiresPipeline(t *testing.T) {
	root, g, _ := newCLI(t)
	err := (&RunCmd{}).Run(g, root)
	require.True(t, errors.HasCategory(err, errors.CategoryValidation))
}

func TestRunUnknownPipeline(t *testing.T) {
	root, g, _ := newCLI(t)
	err := (&RunCmd{Pipeline: "nope"}).Run(g, root)
	require.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}

func TestLogsUnknownBuild(t *testing.T) {
	root, g, _ := newCLI(t)
	err := (&LogsCmd{BuildID: 9}).Run(g, root)
	require.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}
