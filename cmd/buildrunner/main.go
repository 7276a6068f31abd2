package main

import (
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/buildrunner/cmd/buildrunner/commands"
	"git.home.luguber.info/inful/buildrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrunner/internal/version"
)

func main() {
	var cli commands.CLI
	ctx := kong.Parse(&cli,
		kong.Name("buildrunner"),
		kong.Description("Run shell pipelines, persist their output and stream build events."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)

	err := ctx.Run(&commands.Global{Out: os.Stdout}, &cli)
	errors.NewCLIErrorAdapter(cli.Verbose, nil).HandleError(err)
}
