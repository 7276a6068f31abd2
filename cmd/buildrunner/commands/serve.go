package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/buildrunner/internal/daemon"
)

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	Addr  string `help:"Listen address; overrides server.addr"`
	Watch bool   `help:"Reload pipelines and schedules when the config file changes"`
}

func (s *ServeCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if s.Addr != "" {
		cfg.Server.Addr = s.Addr
	}
	if s.Watch {
		cfg.Daemon.WatchConfig = true
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(ctx, cfg, root.Config)
	if err != nil {
		return err
	}

	slog.Info("Starting build runner", slog.String("addr", cfg.Server.Addr), slog.String("store", cfg.Store.Path))
	return d.Run(ctx)
}
