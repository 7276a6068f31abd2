package commands

import (
	"context"
	"fmt"
)

// LogsCmd implements the 'logs' command.
type LogsCmd struct {
	BuildID int64 `arg:"" name:"build-id" help:"Build to print"`
	Step    *int  `help:"Only print this step"`
}

func (l *LogsCmd) Run(g *Global, root *CLI) error {
	st, err := openStore(root)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	b, err := st.GetBuild(ctx, l.BuildID)
	if err != nil {
		return err
	}
	logs, err := st.ListLogs(ctx, b.ID)
	if err != nil {
		return err
	}
	for _, line := range logs {
		if l.Step != nil && line.StepIndex != *l.Step {
			continue
		}
		_, _ = fmt.Fprintf(g.Out, "[build %d | step %d]: %s\n", line.BuildID, line.StepIndex, line.Text)
	}
	_, _ = fmt.Fprintf(g.Out, "build %d %s\n", b.ID, b.Status)
	return nil
}
