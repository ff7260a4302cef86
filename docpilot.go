package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/docpilot/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "docpilot",
		Usage:   "Turn community conversations into reviewed documentation pull requests",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "docpilot.toml",
				EnvVars: []string{"DOCPILOT_CONFIG"},
			},
		},
		Commands: cmd.Commands(),
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
