package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/hymnal/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupConfig writes the default config file to the --config path.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}
	r.logger.Info("config file created", "path", path)
	return r.writePlain("✓ Config written to %s\n", path)
}

// SetupDatabase initializes the database, runs migrations and brings the cache format up to date.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	r.logger.Info("initializing database", "path", r.config.Database.Path)

	e, err := r.open()
	if err != nil {
		return err
	}

	progress, done := r.logProgress()
	err = e.Initialize(ctx, progress)
	close(progress)
	<-done
	if err != nil {
		return fmt.Errorf("failed to migrate cache: %w", err)
	}

	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)
	return r.writePlain("✓ Database ready at %s\n", r.config.Database.Path)
}
