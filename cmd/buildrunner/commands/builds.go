package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/buildrunner/internal/store"
)

// BuildsCmd implements the 'builds' command.
type BuildsCmd struct {
	Limit int `short:"n" help:"Number of builds to show" default:"20"`
}

func (b *BuildsCmd) Run(g *Global, root *CLI) error {
	st, err := openStore(root)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	builds, err := st.ListBuilds(context.Background(), b.Limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(g.Out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tPIPELINE\tSTATUS\tCREATED\tRUNTIME")
	now := time.Now()
	for _, bd := range builds {
		runtime := "-"
		if bd.StartedAt != nil {
			runtime = bd.Runtime(now).Round(time.Millisecond).String()
		}
		_, _ = fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n",
			bd.ID, bd.PipelineID, bd.Status, bd.CreatedAt.Local().Format(time.DateTime), runtime)
	}
	return tw.Flush()
}

func openStore(root *CLI) (*store.SQLiteStore, error) {
	cfg, err := root.loadConfigOrDefault()
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(cfg.Store.Path)
}
