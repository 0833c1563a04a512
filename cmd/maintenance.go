package main

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/desertthunder/hymnal/internal/models"
	"github.com/desertthunder/hymnal/internal/resolver"
	"github.com/desertthunder/hymnal/internal/shared"
	"github.com/desertthunder/hymnal/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Refresh re-reads every partition visible to --role and overwrites the cache.
func (r *Runner) Refresh(ctx context.Context, cmd *cli.Command) error {
	e, err := r.open()
	if err != nil {
		return err
	}

	if cmd.Bool("if-changed") {
		ran, err := e.CheckAndRefresh(ctx)
		if err != nil {
			return fmt.Errorf("refresh failed: %w", err)
		}
		if !ran {
			return r.writePlain("remote unchanged, nothing to do\n")
		}
		return r.writePlain("✓ Refreshed\n")
	}

	progress, done := r.logProgress()
	report, err := e.ForceRefresh(ctx, models.Role(cmd.String("role")), progress)
	close(progress)
	<-done
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}
	return r.writeReport("Refreshed", report)
}

// Reset wipes the cache and sync metadata, then refreshes. Requires --yes.
func (r *Runner) Reset(ctx context.Context, cmd *cli.Command) error {
	if !cmd.Bool("yes") {
		return fmt.Errorf("%w: reset discards every cached song, pass --yes to confirm", shared.ErrMissingArgument)
	}

	e, err := r.open()
	if err != nil {
		return err
	}

	progress, done := r.logProgress()
	report, err := e.EmergencyReset(ctx, models.Role(cmd.String("role")), progress)
	close(progress)
	<-done
	if err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}
	return r.writeReport("Reset", report)
}

// Clear drops every cached partition.
func (r *Runner) Clear(ctx context.Context, cmd *cli.Command) error {
	e, err := r.open()
	if err != nil {
		return err
	}
	if err := e.ClearCache(ctx); err != nil {
		return err
	}
	return r.writePlain("✓ Cache cleared\n")
}

func (r *Runner) writeReport(verb string, report resolver.RefreshReport) error {
	if err := r.writePlain("✓ %s %d songs from %d collections\n", verb, report.Songs, report.Collections); err != nil {
		return err
	}
	for _, id := range slices.Sorted(maps.Keys(report.Partitions)) {
		if err := r.writePlain("  %-24s %d\n", id, report.Partitions[id]); err != nil {
			return err
		}
	}
	for _, id := range report.Failed {
		if err := r.writePlain("  %-24s failed\n", id); err != nil {
			return err
		}
	}
	return nil
}

// logProgress returns a progress channel whose updates are logged until it is closed;
// done is closed once the last update has been logged.
func (r *Runner) logProgress() (chan tasks.ProgressUpdate, <-chan struct{}) {
	progress := make(chan tasks.ProgressUpdate, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range progress {
			if u.Total > 0 {
				r.logger.Info(u.Message, "phase", u.Phase, "step", u.Step, "total", u.Total)
			} else {
				r.logger.Info(u.Message, "phase", u.Phase)
			}
		}
	}()
	return progress, done
}
