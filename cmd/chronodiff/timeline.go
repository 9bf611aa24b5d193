package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chronodiff/chronodiff/internal/query"
	"github.com/chronodiff/chronodiff/internal/schema"
	"github.com/chronodiff/chronodiff/internal/store"
	"github.com/chronodiff/chronodiff/internal/ui"
)

// defaultTimelineLimit caps the listing when --limit is not given.
const defaultTimelineLimit = 20

func newTimelineCmd(a *app) *cobra.Command {
	var (
		path   string
		limit  int
		from   string
		to     string
		filter string
		asJSON bool
		asYAML bool
	)

	cmd := &cobra.Command{
		Use:     "timeline",
		GroupID: "history",
		Short:   "List recent records, newest first",
		Long: `List recent records of a project, newest first.

--from and --to accept RFC3339 timestamps, dates ("2026-03-02") or relative
expressions ("2 hours ago", "yesterday").

--filter keeps records matching a boolean expression over the fields
id, timestamp, files, added, removed, duration_ms. Examples:

  chronodiff timeline --filter 'files > 2 && added > 10'
  chronodiff timeline --filter 'id startsWith "3f9a"'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			q := store.TimelineQuery{Limit: limit}
			var err error
			if from != "" {
				if q.From, err = query.ParseTime(from, now); err != nil {
					return fmt.Errorf("invalid --from: %w", err)
				}
			}
			if to != "" {
				if q.To, err = query.ParseTime(to, now); err != nil {
					return fmt.Errorf("invalid --to: %w", err)
				}
			}
			f, err := query.CompileFilter(filter)
			if err != nil {
				return err
			}

			engine, err := a.openEngine(cmd, path)
			if err != nil {
				return err
			}
			defer engine.Close()

			if filter != "" {
				q.Limit = 0
			}
			entries, err := engine.TimelineContext(cmd.Context(), q)
			if err != nil {
				return err
			}
			if entries, err = f.Apply(entries); err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			if entries == nil {
				entries = []schema.TimelineEntry{}
			}

			out := cmd.OutOrStdout()
			if ok, err := encode(out, entries, asJSON, asYAML); ok {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No records yet")
				return nil
			}
			return ui.RenderTimeline(out, entries)
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "Project path (default: current directory)")
	cmd.Flags().IntVar(&limit, "limit", defaultTimelineLimit, "Maximum number of records (0 for all)")
	cmd.Flags().StringVar(&from, "from", "", "Only records that ended at or after this time")
	cmd.Flags().StringVar(&to, "to", "", "Only records that ended at or before this time")
	cmd.Flags().StringVar(&filter, "filter", "", "Filter expression")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Output YAML")
	cmd.MarkFlagsMutuallyExclusive("json", "yaml")
	return cmd
}
