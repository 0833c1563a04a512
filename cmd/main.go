package main

import (
	"context"
	"os"

	"github.com/desertthunder/hymnal/internal/shared"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)

	runner := NewRunner(RunnerOpts{Logger: logger})

	if err := newApp(runner).Run(context.Background(), os.Args); err != nil {
		logger.Fatalf("application error: %v", err)
	}
}

func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "hymnal",
		Usage:   "Offline-first song data layer: read, cache and refresh hymn collections",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error); overrides the config file",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "Disable styled output",
			},
		},
		Before:   r.Before,
		After:    r.After,
		Commands: r.register(),
	}
}
