package runner

import (
	"runtime"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildrunner/internal/config"
	ferrors "git.home.luguber.info/inful/buildrunner/internal/foundation/errors"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell fixtures assume a POSIX sh")
	}
}

func collect(p *Process) []string {
	return slices.Collect(p.Lines())
}

func TestEmptyCommandIsNoop(t *testing.T) {
	r := New(config.RunnerConfig{})

	for _, cmd := range []string{"", "   "} {
		p := r.Start(cmd)
		require.Empty(t, collect(p))
		require.Equal(t, 0, p.Wait())
	}
}

func TestLinesAndExitCode(t *testing.T) {
	skipOnWindows(t)
	r := New(config.RunnerConfig{})

	p := r.Start(`printf 'one\ntwo\r\nthree'`)
	require.Equal(t, []string{"one", "two", "three"}, collect(p))
	require.Equal(t, 0, p.Wait())

	p = r.Start("echo boom; exit 3")
	require.Equal(t, []string{"boom"}, collect(p))
	require.Equal(t, 3, p.Wait())
}

func TestStderrSharesStream(t *testing.T) {
	skipOnWindows(t)
	r := New(config.RunnerConfig{})

	p := r.Start("echo out; echo err 1>&2; echo out2")
	require.Equal(t, []string{"out", "err", "out2"}, collect(p))
	require.Equal(t, 0, p.Wait())
}

func TestLongLineIsNotTruncated(t *testing.T) {
	skipOnWindows(t)
	r := New(config.RunnerConfig{})

	p := r.Start(`head -c 200000 /dev/zero | tr '\0' 'x'; echo`)
	lines := collect(p)
	require.Len(t, lines, 1)
	require.Len(t, lines[0], 200000)
	require.Equal(t, 0, p.Wait())
}

func TestSpawnFailureExitsOne(t *testing.T) {
	r := New(config.RunnerConfig{Shell: []string{"/definitely/not/a/shell", "-c"}})

	p := r.Start("echo hi")
	require.Empty(t, collect(p))
	require.Equal(t, SpawnFailureExitCode, p.Wait())
	require.True(t, ferrors.HasCategory(p.Err(), ferrors.CategoryProcess))

	require.NoError(t, r.Start("").Err())
}

func TestEarlyStopKillsProcess(t *testing.T) {
	skipOnWindows(t)
	r := New(config.RunnerConfig{})

	p := r.Start("while true; do echo tick; done")
	for range p.Lines() {
		break
	}
	require.NotEqual(t, 0, p.Wait())
	// second wait is stable
	require.NotEqual(t, 0, p.Wait())
}

func TestLinesIsSingleUse(t *testing.T) {
	skipOnWindows(t)
	r := New(config.RunnerConfig{})

	p := r.Start("echo once")
	require.Equal(t, []string{"once"}, collect(p))
	require.Empty(t, collect(p))
	require.Equal(t, 0, p.Wait())
}

func TestWorkDirAndEnv(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	r := New(config.RunnerConfig{WorkDir: dir, Env: map[string]string{"BUILDRUNNER_TEST": "yes"}})

	p := r.Start(`pwd; echo "$BUILDRUNNER_TEST"`)
	lines := collect(p)
	require.Equal(t, 0, p.Wait())
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], dir[len(dir)-8:])
	require.Equal(t, "yes", lines[1])
}
