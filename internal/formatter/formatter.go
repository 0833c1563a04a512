// package formatter renders songs and cache statistics as text, JSON, CSV or Markdown
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/hymnal/internal/models"
	"github.com/desertthunder/hymnal/internal/shared"
)

// Format names an output encoding.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

// ParseFormat maps a flag value onto a [Format]. The empty string is text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, s)
	}
}

// Listing is a set of songs plus where they came from.
type Listing struct {
	Title  string        `json:"title,omitempty"`
	Songs  []models.Song `json:"songs"`
	Online bool          `json:"online"`
	Source string        `json:"source"`
}

// SongsToCSV converts songs to CSV with columns: Number, Title, Collection, Verses, Lyrics
func SongsToCSV(songs []models.Song) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Number", "Title", "Collection", "Verses", "Lyrics"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, song := range songs {
		record := []string{
			song.Number,
			song.Title,
			song.CollectionID,
			strconv.Itoa(len(song.Verses)),
			joinLyrics(song.Verses, " / "),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// SongsToMarkdown renders a listing as a Markdown document with one section per song.
func SongsToMarkdown(l Listing) ([]byte, error) {
	var buf bytes.Buffer

	title := l.Title
	if title == "" {
		title = "Songs"
	}
	fmt.Fprintf(&buf, "# %s\n\n", title)
	fmt.Fprintf(&buf, "**Songs**: %d\n", len(l.Songs))
	fmt.Fprintf(&buf, "**Source**: %s\n\n", sourceLabel(l))

	for _, song := range l.Songs {
		fmt.Fprintf(&buf, "## %s. %s\n\n", song.Number, song.Title)
		for _, v := range song.Verses {
			if v.Label != "" {
				fmt.Fprintf(&buf, "**%s**\n\n", v.Label)
			}
			fmt.Fprintf(&buf, "%s\n\n", v.Lyrics)
		}
	}

	return buf.Bytes(), nil
}

// SongsToText renders a listing as one line per song, styled with lipgloss when styled is set.
func SongsToText(l Listing, styled bool) ([]byte, error) {
	p := paletteFor(styled)
	var buf bytes.Buffer

	if l.Title != "" {
		fmt.Fprintln(&buf, p.title.Render(l.Title))
	}
	status := p.ok.Render(sourceLabel(l))
	if !l.Online {
		status = p.warn.Render(sourceLabel(l))
	}
	fmt.Fprintf(&buf, "%d songs (%s)\n\n", len(l.Songs), status)

	width := 0
	for _, song := range l.Songs {
		width = max(width, len(song.Number))
	}
	for _, song := range l.Songs {
		line := fmt.Sprintf("%*s. %s", width, song.Number, song.Title)
		if song.CollectionID != "" {
			line += " " + p.muted.Render("["+song.CollectionID+"]")
		}
		fmt.Fprintln(&buf, line)
	}

	return buf.Bytes(), nil
}

// StatsToText renders cache statistics as an aligned report.
func StatsToText(stats models.CacheStatistics, styled bool) ([]byte, error) {
	p := paletteFor(styled)
	var buf bytes.Buffer

	fmt.Fprintln(&buf, p.title.Render("Cache"))
	fmt.Fprintf(&buf, "  %-20s %s\n", "State:", stats.State)
	fmt.Fprintf(&buf, "  %-20s %d\n", "Schema version:", stats.SchemaVersion)
	fmt.Fprintf(&buf, "  %-20s %d\n", "Memory entries:", stats.MemoryEntries)
	fmt.Fprintf(&buf, "  %-20s %d\n", "Durable entries:", stats.DurableEntries)
	fmt.Fprintf(&buf, "  %-20s %d\n", "Total songs:", stats.TotalSongs)
	fmt.Fprintf(&buf, "  %-20s %s\n", "Last full sync:", formatTime(stats.LastFullSync))
	fmt.Fprintf(&buf, "  %-20s %s\n", "Last change check:", formatTime(stats.LastMetadataCheck))
	if stats.RefreshInFlight {
		fmt.Fprintf(&buf, "  %s\n", p.warn.Render("refresh in progress"))
	}

	if len(stats.Entries) > 0 {
		fmt.Fprintln(&buf)
		fmt.Fprintln(&buf, p.title.Render("Entries"))
		for _, e := range stats.Entries {
			state := p.ok.Render("fresh")
			if e.Expired {
				state = p.err.Render("expired")
			}
			fmt.Fprintf(&buf, "  %-24s %5d songs  %-10s %s\n", e.CollectionID, e.Songs, e.Age.Round(time.Second), state)
		}
	}

	if len(stats.RecentRuns) > 0 {
		fmt.Fprintln(&buf)
		fmt.Fprintln(&buf, p.title.Render("Recent runs"))
		for _, run := range stats.RecentRuns {
			status := string(run.Status())
			switch run.Status() {
			case models.SyncCompleted:
				status = p.ok.Render(status)
			case models.SyncFailed:
				status = p.err.Render(status)
			default:
				status = p.muted.Render(status)
			}
			line := fmt.Sprintf("  #%-4d %-10s %s  %d songs", run.Sequence(), run.Trigger(), status, run.Songs())
			if msg := run.ErrorMessage(); msg != "" {
				line += "  " + p.muted.Render(msg)
			}
			fmt.Fprintln(&buf, line)
		}
	}

	return buf.Bytes(), nil
}

// WriteSongs encodes a listing to w in the given format.
func WriteSongs(w io.Writer, format Format, l Listing, styled bool) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(l, "", "  ")
		data = append(data, '\n')
	case FormatCSV:
		data, err = SongsToCSV(l.Songs)
	case FormatMarkdown:
		data, err = SongsToMarkdown(l)
	default:
		data, err = SongsToText(l, styled)
	}
	if err != nil {
		return err
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// WriteStats encodes cache statistics to w. CSV and Markdown fall back to text.
func WriteStats(w io.Writer, format Format, stats models.CacheStatistics, styled bool) error {
	var (
		data []byte
		err  error
	)
	if format == FormatJSON {
		data, err = json.MarshalIndent(stats, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = StatsToText(stats, styled)
	}
	if err != nil {
		return err
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// WriteSongsFile exports a listing to path, creating or truncating it. Files are never styled.
func WriteSongsFile(path string, format Format, l Listing) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteSongs(f, format, l, false); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func joinLyrics(verses []models.Verse, sep string) string {
	parts := make([]string, 0, len(verses))
	for _, v := range verses {
		parts = append(parts, strings.Join(strings.Fields(v.Lyrics), " "))
	}
	return strings.Join(parts, sep)
}

func sourceLabel(l Listing) string {
	if l.Online {
		return l.Source + ", online"
	}
	return l.Source + ", offline"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}
