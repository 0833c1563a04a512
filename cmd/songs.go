package main

import (
	"context"

	"github.com/desertthunder/hymnal/internal/formatter"
	"github.com/desertthunder/hymnal/internal/models"
	"github.com/urfave/cli/v3"
)

// Songs lists songs for --role, merged across collections or from --collection.
func (r *Runner) Songs(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	e, err := r.open()
	if err != nil {
		return err
	}

	role := models.Role(cmd.String("role"))
	listing := formatter.Listing{Title: "All songs"}
	if id := cmd.String("collection"); id != "" {
		res := e.GetSongsForCollection(ctx, id, role)
		listing = formatter.Listing{Title: id, Songs: res.Songs, Online: res.Online, Source: string(res.Source)}
	} else {
		res := e.GetAllSongs(ctx, role)
		listing.Songs, listing.Online, listing.Source = res.Songs, res.Online, string(res.Source)
	}

	if path := cmd.String("output"); path != "" {
		if err := formatter.WriteSongsFile(path, format, listing); err != nil {
			return err
		}
		r.logger.Info("songs exported", "path", path, "songs", len(listing.Songs))
		return r.writePlain("✓ %d songs written to %s\n", len(listing.Songs), path)
	}
	return formatter.WriteSongs(r.output, format, listing, r.styled)
}

// Page prints one page of songs and the cursor for the next one.
func (r *Runner) Page(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	e, err := r.open()
	if err != nil {
		return err
	}

	page := e.GetPaginatedSongs(ctx, int(cmd.Int("size")), cmd.String("cursor"))
	if format == formatter.FormatJSON {
		return r.writeJSON(map[string]any{
			"songs":       page.Songs,
			"online":      page.Online,
			"source":      page.Source,
			"has_more":    page.HasMore,
			"next_cursor": page.NextCursor,
		}, true)
	}

	listing := formatter.Listing{Songs: page.Songs, Online: page.Online, Source: string(page.Source)}
	if err := formatter.WriteSongs(r.output, format, listing, r.styled); err != nil {
		return err
	}
	if page.HasMore && format == formatter.FormatText {
		return r.writePlain("\nnext: --cursor %s\n", page.NextCursor)
	}
	return nil
}

// Stats prints cache statistics.
func (r *Runner) Stats(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	e, err := r.open()
	if err != nil {
		return err
	}
	return formatter.WriteStats(r.output, format, e.GetCacheStatistics(ctx), r.styled)
}

// Changes reports whether the remote store changed since the last check.
func (r *Runner) Changes(ctx context.Context, cmd *cli.Command) error {
	e, err := r.open()
	if err != nil {
		return err
	}
	if e.HasRemoteChanged(ctx) {
		return r.writePlain("changed\n")
	}
	return r.writePlain("unchanged\n")
}
