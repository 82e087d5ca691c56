package main

import (
	"fmt"
	"io"
	"time"

	"github.com/peteski22/crmsync/internal/sync"
)

// passSummary is the reportable form of a sync pass.
type passSummary struct {
	Direction       string     `json:"direction"`
	Error           string     `json:"error,omitempty"`
	Errors          int        `json:"errors"`
	Fetched         int        `json:"fetched"`
	Inserted        int        `json:"inserted"`
	LinkDuplicates  int        `json:"link_duplicates"`
	Links           int        `json:"links"`
	LinksUnresolved int        `json:"links_unresolved"`
	Pushed          int        `json:"pushed"`
	Since           *time.Time `json:"since,omitempty"`
	State           string     `json:"state"`
	Unchanged       int        `json:"unchanged"`
	Updated         int        `json:"updated"`
}

// entitySummary is the reportable form of a sync result.
type entitySummary struct {
	DryRun     bool          `json:"dry_run"`
	Entity     string        `json:"entity"`
	ErrorCount int           `json:"error_count"`
	Errors     []string      `json:"errors,omitempty"`
	Mode       string        `json:"mode"`
	Passes     []passSummary `json:"passes"`
	Synced     int           `json:"synced"`
}

// summarize converts results into their reportable form.
func summarize(results ...*sync.Result) []entitySummary {
	out := make([]entitySummary, 0, len(results))

	for _, res := range results {
		s := entitySummary{
			DryRun:     res.DryRun,
			Entity:     string(res.Entity),
			ErrorCount: res.ErrorCount,
			Mode:       string(res.Mode),
			Synced:     res.SyncedCount,
		}
		for _, e := range res.Errors {
			s.Errors = append(s.Errors, e.Error())
		}
		for _, p := range res.Passes {
			ps := passSummary{
				Direction:       string(p.Direction),
				Errors:          len(p.Errors),
				Fetched:         p.Fetched,
				Inserted:        p.Inserted,
				LinkDuplicates:  p.LinkDuplicates,
				Links:           p.Links,
				LinksUnresolved: p.LinksUnresolved,
				Pushed:          p.Pushed,
				Since:           p.Since,
				State:           string(p.State),
				Unchanged:       p.Unchanged,
				Updated:         p.Updated,
			}
			if p.Err != nil {
				ps.Error = p.Err.Error()
			}
			s.Passes = append(s.Passes, ps)
		}
		out = append(out, s)
	}

	return out
}

// printSummary writes a human readable run summary.
func printSummary(w io.Writer, summaries []entitySummary) {
	for _, s := range summaries {
		prefix := ""
		if s.DryRun {
			prefix = "[DRY-RUN] "
		}
		_, _ = fmt.Fprintf(w, "%s%s (%s): %d synced, %d errors\n", prefix, s.Entity, s.Mode, s.Synced, s.ErrorCount)

		for _, p := range s.Passes {
			since := "full"
			if p.Since != nil {
				since = p.Since.Format(time.RFC3339)
			}
			_, _ = fmt.Fprintf(w, "  %-4s %-6s since=%s fetched=%d inserted=%d updated=%d unchanged=%d pushed=%d",
				p.Direction, p.State, since, p.Fetched, p.Inserted, p.Updated, p.Unchanged, p.Pushed)
			if p.Links > 0 || p.LinksUnresolved > 0 || p.LinkDuplicates > 0 {
				_, _ = fmt.Fprintf(w, " links=%d unresolved=%d duplicates=%d", p.Links, p.LinksUnresolved, p.LinkDuplicates)
			}
			_, _ = fmt.Fprintln(w)
			if p.Error != "" {
				_, _ = fmt.Fprintf(w, "    error: %s\n", p.Error)
			}
		}

		for _, e := range s.Errors {
			_, _ = fmt.Fprintf(w, "    - %s\n", e)
		}
		if extra := s.ErrorCount - len(s.Errors); extra > 0 {
			_, _ = fmt.Fprintf(w, "    ... and %d more\n", extra)
		}
	}
}
