// Package runner spawns step commands and exposes their combined output as a
// lazy sequence of lines.
//
// Commands are handed to the configured shell verbatim. They are not
// sanitized; whoever can define a pipeline can run anything the daemon user can.
package runner

import (
	"bufio"
	"errors"
	"io"
	"iter"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"runtime"
	"slices"
	"strings"
	"sync"

	"git.home.luguber.info/inful/buildrunner/internal/config"
	ferrors "git.home.luguber.info/inful/buildrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrunner/internal/logfields"
)

// SpawnFailureExitCode is reported when the command could not be started.
const SpawnFailureExitCode = 1

// Runner starts one child process per command.
type Runner struct {
	shell []string
	dir   string
	env   []string
}

// New builds a Runner from the runner section of the config.
func New(cfg config.RunnerConfig) *Runner {
	shell := cfg.Shell
	if len(shell) == 0 {
		shell = config.DefaultShell(runtime.GOOS)
	}
	var env []string
	if len(cfg.Env) > 0 {
		env = os.Environ()
		for _, k := range slices.Sorted(maps.Keys(cfg.Env)) {
			env = append(env, k+"="+cfg.Env[k])
		}
	}
	return &Runner{shell: slices.Clone(shell), dir: cfg.WorkDir, env: env}
}

// Start launches command under the shell. It never fails: an empty command is
// a no-op that exits 0, a spawn failure is logged and exits 1.
func (r *Runner) Start(command string) *Process {
	if strings.TrimSpace(command) == "" {
		return &Process{exitCode: 0}
	}

	args := append(slices.Clone(r.shell[1:]), command)
	cmd := exec.Command(r.shell[0], args...)
	cmd.Dir = r.dir
	cmd.Env = r.env

	out, err := r.spawn(cmd)
	if err != nil {
		spawnErr := ferrors.ProcessError("failed to start step command").
			WithCause(err).
			WithContext("shell", r.shell[0]).
			WithContext("dir", r.dir).
			Build()
		slog.Error("Failed to start step command",
			logfields.Cmd(command),
			logfields.Error(spawnErr))
		return &Process{exitCode: SpawnFailureExitCode, err: spawnErr}
	}
	return &Process{cmd: cmd, out: out}
}

// spawn wires stdout and stderr to the write end of a single pipe so the two
// streams keep their production order.
func (r *Runner) spawn(cmd *exec.Cmd) (*os.File, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, err
	}
	// The child holds its own copy; closing ours lets reads hit EOF on exit.
	_ = pw.Close()
	return pr, nil
}

// Process is a started (or skipped) step command.
type Process struct {
	cmd      *exec.Cmd
	out      *os.File
	exitCode int
	err      error

	mu       sync.Mutex
	consumed bool
	drained  bool
	waited   bool
}

// Lines yields each output line without its terminator. The sequence can be
// ranged over once; later calls yield nothing.
func (p *Process) Lines() iter.Seq[string] {
	return func(yield func(string) bool) {
		p.mu.Lock()
		if p.out == nil || p.consumed {
			p.mu.Unlock()
			return
		}
		p.consumed = true
		p.mu.Unlock()

		reader := bufio.NewReader(p.out)
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				line = strings.TrimSuffix(line, "\n")
				line = strings.TrimSuffix(line, "\r")
				if !yield(line) {
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
					slog.Warn("Step output read failed", logfields.Error(err))
				}
				p.mu.Lock()
				p.drained = true
				p.mu.Unlock()
				return
			}
		}
	}
}

// Err is the reason the command could not be started, nil once it was.
func (p *Process) Err() error { return p.err }

// Kill terminates the process if it is still running.
func (p *Process) Kill() {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waited {
		return
	}
	_ = p.cmd.Process.Kill()
}

// Wait reaps the process and returns its exit code. If the output was not read
// to the end the process is killed first. Wait is idempotent.
func (p *Process) Wait() int {
	if p.cmd == nil {
		return p.exitCode
	}

	p.mu.Lock()
	if p.waited {
		p.mu.Unlock()
		return p.exitCode
	}
	if !p.drained {
		_ = p.cmd.Process.Kill()
	}
	p.mu.Unlock()

	err := p.cmd.Wait()
	_ = p.out.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.waited = true
	p.exitCode = exitCodeOf(err)
	return p.exitCode
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		// killed by a signal
		return -1
	}
	return SpawnFailureExitCode
}
