// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func roleFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "role",
		Aliases: []string{"r"},
		Usage:   "Actor role (guest, user, premium, admin, super_admin)",
		Value:   "guest",
	}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format (text, json, csv, markdown)",
		Value:   "text",
	}
}

// setupCommand handles setup operations for the config file and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write a config file with the default settings",
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize database, run migrations and migrate the cache format",
				Action: r.SetupDatabase,
			},
		},
	}
}

// songsCommand reads songs through the tiered resolver.
func songsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "songs",
		Usage: "List songs visible to a role, from one collection or all of them",
		Flags: []cli.Flag{
			roleFlag(),
			formatFlag(),
			&cli.StringFlag{
				Name:  "collection",
				Usage: "Collection ID; omit to merge every accessible collection",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write to a file instead of stdout",
			},
		},
		Action: r.Songs,
	}
}

// pageCommand reads one page of the legacy partition.
func pageCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "page",
		Usage: "Read one page of songs in key order",
		Flags: []cli.Flag{
			formatFlag(),
			&cli.IntFlag{
				Name:  "size",
				Usage: "Page size",
				Value: 20,
			},
			&cli.StringFlag{
				Name:  "cursor",
				Usage: "Key of the last song of the previous page",
			},
		},
		Action: r.Page,
	}
}

// refreshCommand forces a full refresh.
func refreshCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Re-read every accessible collection from the remote store",
		Flags: []cli.Flag{
			roleFlag(),
			&cli.BoolFlag{
				Name:  "if-changed",
				Usage: "Only refresh when the remote change markers moved",
			},
		},
		Action: r.Refresh,
	}
}

// resetCommand wipes and rebuilds the cache.
func resetCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Wipe the cache and sync metadata, then refresh",
		Flags: []cli.Flag{
			roleFlag(),
			&cli.BoolFlag{
				Name:  "yes",
				Usage: "Confirm the reset",
			},
		},
		Action: r.Reset,
	}
}

// clearCommand drops cached partitions.
func clearCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "clear",
		Usage:  "Drop every cached partition and the sync metadata",
		Action: r.Clear,
	}
}

// statsCommand prints cache statistics.
func statsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Show cache tiers, orchestrator state and recent refresh runs",
		Flags:  []cli.Flag{formatFlag()},
		Action: r.Stats,
	}
}

// changesCommand asks the change detector.
func changesCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "changes",
		Usage:  "Report whether the remote store changed since the last check",
		Action: r.Changes,
	}
}

// serveCommand runs the HTTP surface.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve song reads and cache maintenance over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Listen host; overrides server.host",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Listen port; overrides server.port",
			},
			&cli.FloatFlag{
				Name:  "rate",
				Usage: "Requests per second allowed across all clients",
				Value: 50,
			},
		},
		Action: r.Serve,
	}
}
