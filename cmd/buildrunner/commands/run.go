package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"git.home.luguber.info/inful/buildrunner/internal/build"
	"git.home.luguber.info/inful/buildrunner/internal/config"
	"git.home.luguber.info/inful/buildrunner/internal/daemon"
	"git.home.luguber.info/inful/buildrunner/internal/events"
	"git.home.luguber.info/inful/buildrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrunner/internal/pipeline"
	"git.home.luguber.info/inful/buildrunner/internal/store"
)

// RunCmd implements the 'run' command.
type RunCmd struct {
	Pipeline string `arg:"" optional:"" help:"Name of a pipeline known to the store or config"`
	File     string `short:"f" type:"existingfile" help:"Pipeline file (.yaml, .toml or .json) to register and run"`
	Quiet    bool   `short:"q" help:"Only print the final status"`
}

func (r *RunCmd) Run(g *Global, root *CLI) error {
	if r.Pipeline == "" && r.File == "" {
		return errors.ValidationError("a pipeline name or --file is required").Build()
	}

	cfg, err := root.loadConfigOrDefault()
	if err != nil {
		return err
	}

	name := r.Pipeline
	if r.File != "" {
		def, err := pipeline.Load(r.File)
		if err != nil {
			return err
		}
		if name != "" {
			def.Name = name
		}
		name = def.Name
		cfg.Pipelines = append(cfg.Pipelines, config.PipelineConfig{Name: def.Name, Description: def.Description, Steps: def.Steps})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(ctx, cfg, "")
	if err != nil {
		return err
	}
	defer d.Close()

	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			// Restore default signal handling so a second interrupt aborts.
			cancel()
			slog.Warn("Interrupted, finishing the build (interrupt again to abort)")
		case <-finished:
		}
	}()

	res, err := runPipeline(ctx, d, name, r.Quiet, g.Out)
	close(finished)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(g.Out, "build %d %s\n", res.BuildID, res.Status)
	if res.Status != store.StatusSuccess {
		b := errors.BuildError("build failed").
			WithContext("build_id", res.BuildID).
			WithContext("pipeline", name)
		if res.Err != nil {
			b = b.WithCause(res.Err)
		}
		return b.Build()
	}
	return nil
}

// runPipeline queues a build of the named pipeline and runs it to the end,
// printing its events to out unless quiet.
func runPipeline(ctx context.Context, d *daemon.Daemon, name string, quiet bool, out io.Writer) (build.Result, error) {
	p, err := d.Service().Queue(ctx, name)
	if err != nil {
		return build.Result{}, err
	}

	var wg sync.WaitGroup
	unsubscribe := func() {}
	if !quiet {
		var sub <-chan events.Event
		sub, unsubscribe = d.Bus().Subscribe(256, events.ForBuild(p.Build.ID))
		wg.Add(1)
		go func() {
			defer wg.Done()
			printEvents(out, sub)
		}()
	}

	res := d.Service().Execute(ctx, p)
	// Events are published before Execute returns; closing the
	// subscription lets the printer drain what is buffered.
	unsubscribe()
	wg.Wait()
	return res, nil
}

// printEvents renders live events until the build finishes.
func printEvents(w io.Writer, sub <-chan events.Event) {
	for evt := range sub {
		data := evt.Payload
		switch evt.Type {
		case events.TypeStatusUpdate:
			_, _ = fmt.Fprintf(w, "build %d: %v\n", evt.BuildID, data["status"])
		case events.TypeStepStart:
			_, _ = fmt.Fprintf(w, "==> step %v: %v\n", data["step_index"], data["cmd"])
		case events.TypeLog:
			_, _ = fmt.Fprintf(w, "    %v\n", data["text"])
		case events.TypeProgress:
			_, _ = fmt.Fprintf(w, "    progress %v%%\n", data["progress"])
		case events.TypeFinished:
			if msg, ok := data["error"]; ok {
				_, _ = fmt.Fprintf(w, "error: %v\n", msg)
			}
			return
		}
	}
}
