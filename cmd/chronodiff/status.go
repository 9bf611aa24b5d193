package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chronodiff/chronodiff/internal/lock"
	"github.com/chronodiff/chronodiff/internal/schema"
	"github.com/chronodiff/chronodiff/internal/ui"
)

type watcherStatus struct {
	Active bool       `json:"active" yaml:"active"`
	Lock   *lock.Info `json:"lock" yaml:"lock"`
}

type recordSummary struct {
	RecordID     string    `json:"record_id" yaml:"record_id"`
	EndedAt      time.Time `json:"ended_at" yaml:"ended_at"`
	Files        int       `json:"files" yaml:"files"`
	LinesAdded   int       `json:"lines_added" yaml:"lines_added"`
	LinesRemoved int       `json:"lines_removed" yaml:"lines_removed"`
}

type statusReport struct {
	ProjectID    string         `json:"project_id" yaml:"project_id"`
	Root         string         `json:"root" yaml:"root"`
	Watcher      watcherStatus  `json:"watcher" yaml:"watcher"`
	LatestRecord *recordSummary `json:"latest_record" yaml:"latest_record"`
}

func newStatusCmd(a *app) *cobra.Command {
	var (
		path   string
		asJSON bool
		asYAML bool
	)

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: "project",
		Short:   "Show watcher state and the latest record of a project",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.openEngine(cmd, path)
			if err != nil {
				return err
			}
			defer engine.Close()

			report := statusReport{ProjectID: engine.ProjectID(), Root: engine.ProjectRoot()}

			st, err := lock.Inspect(lock.Path(engine.Layout().MetaDir))
			if err != nil {
				a.logger.Warn("unreadable lock file", "path", st.Path, "error", err)
			}
			report.Watcher = watcherStatus{Active: st.Active, Lock: st.Info}

			latest, ok, err := engine.LatestRecordIDContext(cmd.Context())
			if err != nil {
				return err
			}
			if ok {
				meta, err := engine.ReadRecordMeta(latest)
				if err != nil {
					return err
				}
				report.LatestRecord = &recordSummary{
					RecordID:     meta.RecordID,
					EndedAt:      meta.EndedAt,
					Files:        meta.Stats.Files,
					LinesAdded:   meta.Stats.LinesAdded,
					LinesRemoved: meta.Stats.LinesRemoved,
				}
			}

			out := cmd.OutOrStdout()
			if ok, err := encode(out, report, asJSON, asYAML); ok {
				return err
			}

			now := time.Now()
			fmt.Fprintf(out, "Project: %s\n", report.ProjectID)
			fmt.Fprintf(out, "Root: %s\n", report.Root)
			switch {
			case st.Active:
				fmt.Fprintf(out, "%s Watcher running (pid %d) since %s\n",
					ui.RenderPass("●"), st.Info.PID, ui.RelativeTime(st.Info.StartedAt, now))
			case st.Info != nil:
				fmt.Fprintf(out, "%s Watcher lock present but process %d not running\n",
					ui.RenderWarn("⚠"), st.Info.PID)
			default:
				fmt.Fprintln(out, "Watcher: inactive")
			}
			if r := report.LatestRecord; r != nil {
				fmt.Fprintf(out, "Last record: %s %s (files: %d, +%d, -%d)\n",
					r.RecordID, ui.RelativeTime(r.EndedAt, now), r.Files, r.LinesAdded, r.LinesRemoved)
			} else {
				fmt.Fprintln(out, "No records yet")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "Project path (default: current directory)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Output YAML")
	cmd.MarkFlagsMutuallyExclusive("json", "yaml")
	return cmd
}

func newProjectsCmd(a *app) *cobra.Command {
	var (
		asJSON bool
		prune  bool
	)

	cmd := &cobra.Command{
		Use:     "projects",
		GroupID: "project",
		Short:   "List every project with recorded history",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			registry := a.registry()

			if prune {
				pruned, err := registry.Prune()
				if err != nil {
					return err
				}
				if !asJSON {
					for _, p := range pruned {
						fmt.Fprintf(out, "Pruned %s (%s)\n", p.ProjectID, p.Path)
					}
				}
			}

			projects, err := registry.List()
			if err != nil {
				return err
			}
			if asJSON {
				if projects == nil {
					projects = []schema.ProjectEntry{}
				}
				return ui.WriteJSON(out, projects)
			}
			if len(projects) == 0 {
				fmt.Fprintln(out, "No projects tracked yet")
				return nil
			}

			now := time.Now()
			fmt.Fprintln(out, "Known projects:")
			for _, p := range projects {
				fmt.Fprintf(out, "  - %s (%s) %s\n",
					p.ProjectID, p.Path, ui.RenderMuted("seen "+ui.RelativeTime(p.LastSeenTime(), now)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&prune, "prune", false, "Drop projects whose directory no longer exists")
	return cmd
}

type inspectReport struct {
	ProjectID     string `json:"project_id" yaml:"project_id"`
	Root          string `json:"root" yaml:"root"`
	Storage       string `json:"storage" yaml:"storage"`
	LayoutVersion string `json:"layout_version" yaml:"layout_version"`
	Records       int    `json:"records" yaml:"records"`
	Snapshots     int    `json:"snapshots" yaml:"snapshots"`
	LatestRecord  string `json:"latest_record,omitempty" yaml:"latest_record,omitempty"`
	DatabaseBytes int64  `json:"database_bytes" yaml:"database_bytes"`
}

func newInspectCmd(a *app) *cobra.Command {
	var (
		path      string
		projectID string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:     "inspect",
		GroupID: "advanced",
		Short:   "Show storage details of a project",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" && projectID == "" {
				return errors.New("provide --path or --project-id")
			}
			engine, err := a.openEngineFor(cmd, path, projectID)
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx := cmd.Context()
			layout := engine.Layout()
			report := inspectReport{
				ProjectID: engine.ProjectID(),
				Root:      engine.ProjectRoot(),
				Storage:   layout.ProjectDir,
			}
			if data, err := os.ReadFile(layout.VersionFile()); err == nil {
				report.LayoutVersion = strings.TrimSpace(string(data))
			}
			if info, err := os.Stat(layout.TimelineDB); err == nil {
				report.DatabaseBytes = info.Size()
			}
			if report.Records, err = engine.RecordCount(ctx); err != nil {
				return err
			}
			if report.Snapshots, err = engine.SnapshotCount(ctx); err != nil {
				return err
			}
			if report.LatestRecord, _, err = engine.LatestRecordIDContext(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return ui.WriteJSON(out, report)
			}
			fmt.Fprintf(out, "Project: %s\n", report.ProjectID)
			fmt.Fprintf(out, "Root: %s\n", report.Root)
			fmt.Fprintf(out, "Storage: %s (layout %s, db %s)\n", report.Storage, report.LayoutVersion, ui.Bytes(report.DatabaseBytes))
			fmt.Fprintf(out, "Records: %s\n", ui.Count(report.Records))
			fmt.Fprintf(out, "Tracked files: %s\n", ui.Count(report.Snapshots))
			if report.LatestRecord != "" {
				fmt.Fprintf(out, "Latest: %s\n", report.LatestRecord)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "Project path")
	cmd.Flags().StringVar(&projectID, "project-id", "", "Registered project id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.MarkFlagsMutuallyExclusive("path", "project-id")
	return cmd
}
