package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chronodiff/chronodiff/internal/patch"
	"github.com/chronodiff/chronodiff/internal/schema"
	"github.com/chronodiff/chronodiff/internal/store"
	"github.com/chronodiff/chronodiff/internal/ui"
)

const displayTime = "2006-01-02T15:04:05.000Z07:00"

// loadRecord opens the project and reads the metadata of the record whose
// id starts with prefix.
func (a *app) loadRecord(cmd *cobra.Command, path, prefix string) (*store.Engine, *schema.RecordMeta, error) {
	engine, err := a.openEngine(cmd, path)
	if err != nil {
		return nil, nil, err
	}
	id, err := resolveRecord(cmd, engine, prefix)
	if err != nil {
		engine.Close()
		return nil, nil, err
	}
	meta, err := engine.ReadRecordMeta(id)
	if err != nil {
		engine.Close()
		return nil, nil, err
	}
	return engine, meta, nil
}

func newShowCmd(a *app) *cobra.Command {
	var (
		path   string
		asJSON bool
		asYAML bool
	)

	cmd := &cobra.Command{
		Use:     "show <record-id>",
		GroupID: "history",
		Short:   "Show the metadata of a record",
		Long:    `Show the metadata of a record. Any unambiguous id prefix is accepted.`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, meta, err := a.loadRecord(cmd, path, args[0])
			if err != nil {
				return err
			}
			defer engine.Close()

			out := cmd.OutOrStdout()
			if ok, err := encode(out, meta, asJSON, asYAML); ok {
				return err
			}
			printRecord(out, meta)
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "Project path (default: current directory)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Output YAML")
	cmd.MarkFlagsMutuallyExclusive("json", "yaml")
	return cmd
}

func printRecord(w io.Writer, meta *schema.RecordMeta) {
	fmt.Fprintf(w, "Record: %s\n", ui.RenderBold(meta.RecordID))
	fmt.Fprintf(w, "Project: %s\n", meta.ProjectID)
	fmt.Fprintf(w, "Started: %s\n", meta.StartedAt.Format(displayTime))
	fmt.Fprintf(w, "Ended:   %s\n", meta.EndedAt.Format(displayTime))
	if meta.PrevRecordID != "" {
		fmt.Fprintf(w, "Previous: %s\n", meta.PrevRecordID)
	}
	fmt.Fprintf(w, "Stats: files=%d, %s, %s\n",
		meta.Stats.Files, ui.RenderAdded(meta.Stats.LinesAdded), ui.RenderRemoved(meta.Stats.LinesRemoved))
	fmt.Fprintln(w, "Files:")
	for _, f := range meta.Files {
		fmt.Fprintf(w, "  - %s (%s)\n", f.Path, f.Op)
	}
}

func newDiffCmd(a *app) *cobra.Command {
	var (
		path   string
		asJSON bool
		stat   bool
		file   string
	)

	cmd := &cobra.Command{
		Use:     "diff <record-id>",
		GroupID: "history",
		Short:   "Print the unified diff of a record",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, meta, err := a.loadRecord(cmd, path, args[0])
			if err != nil {
				return err
			}
			defer engine.Close()

			out := cmd.OutOrStdout()
			if asJSON {
				return ui.WriteJSON(out, meta.Files)
			}

			if stat {
				fmt.Fprintf(out, "Diff summary for record %s:\n", meta.RecordID)
				for _, f := range meta.Files {
					fmt.Fprintf(out, "  - %-40s %5d added %5d removed\n", f.Path, f.Stats.Added, f.Stats.Removed)
				}
				fmt.Fprintf(out, "Totals: files=%d +%d -%d\n",
					meta.Stats.Files, meta.Stats.LinesAdded, meta.Stats.LinesRemoved)
				return nil
			}

			text, err := engine.ReadPatchText(meta.RecordID)
			if err != nil {
				return err
			}
			if file != "" {
				text = patch.FilterFile(text, filepath.ToSlash(file))
				if strings.TrimSpace(text) == "" {
					fmt.Fprintf(out, "No diff found for %s in record %s\n", file, meta.RecordID)
					return nil
				}
				if !strings.HasSuffix(text, "\n") {
					text += "\n"
				}
			}
			_, err = io.WriteString(out, text)
			return err
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "Project path (default: current directory)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output per-file entries as JSON")
	cmd.Flags().BoolVar(&stat, "stat", false, "Print per-file line counts only")
	cmd.Flags().StringVar(&file, "file", "", "Only the diff of this project-relative file")
	cmd.MarkFlagsMutuallyExclusive("json", "stat")
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	var (
		path  string
		apply bool
		yes   bool
	)

	cmd := &cobra.Command{
		Use:     "restore <record-id>",
		GroupID: "history",
		Short:   "Restore the files of a record into the project",
		Long: `Restore every file of a record to its content after the record.

Without --apply only the files that would change are listed. Files the
record deleted are removed. On a terminal --apply asks for confirmation
unless --yes is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, meta, err := a.loadRecord(cmd, path, args[0])
			if err != nil {
				return err
			}
			defer engine.Close()

			out := cmd.OutOrStdout()
			if !apply {
				fmt.Fprintf(out, "Would restore %d files:\n", len(meta.Files))
				for _, f := range meta.Files {
					fmt.Fprintf(out, "  - %s\n", f.Path)
				}
				fmt.Fprintln(out, "Use --apply to write changes to disk.")
				return nil
			}

			if !yes && ui.IsTerminal(cmd.InOrStdin()) {
				ok, err := ui.Confirm(
					fmt.Sprintf("Restore %d files from record %s?", len(meta.Files), meta.RecordID),
					"Files in "+engine.ProjectRoot()+" will be overwritten or removed.")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, "Aborted")
					return nil
				}
			}

			for _, f := range meta.Files {
				target := filepath.Join(engine.ProjectRoot(), filepath.FromSlash(f.Path))
				if f.AfterSHA == "" {
					if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
						return fmt.Errorf("failed to remove %s: %w", target, err)
					}
					continue
				}
				if err := writeBlob(engine, f.AfterSHA, target); err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "%s Restored record %s\n", ui.RenderPass("✓"), meta.RecordID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "Project path (default: current directory)")
	cmd.Flags().BoolVar(&apply, "apply", false, "Apply changes instead of a dry run")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func writeBlob(engine *store.Engine, sha, target string) error {
	data, err := engine.ReadBlob(sha)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return nil
}

func newExtractCmd(a *app) *cobra.Command {
	var (
		path      string
		output    string
		overwrite bool
	)

	cmd := &cobra.Command{
		Use:     "extract <record-id>",
		GroupID: "history",
		Short:   "Write the files of a record into another directory",
		Long: `Write the post-change content of every file in a record under --output.

Files the record deleted are skipped. Existing files are never replaced
unless --overwrite is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, meta, err := a.loadRecord(cmd, path, args[0])
			if err != nil {
				return err
			}
			defer engine.Close()

			dir := a.abs(output)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}

			type target struct{ sha, dest string }
			var targets []target
			for _, f := range meta.Files {
				if f.AfterSHA == "" {
					continue
				}
				dest := filepath.Join(dir, filepath.FromSlash(f.Path))
				if _, err := os.Stat(dest); err == nil && !overwrite {
					return fmt.Errorf("%s already exists; use --overwrite to replace", dest)
				}
				targets = append(targets, target{sha: f.AfterSHA, dest: dest})
			}

			start := time.Now()
			for _, tg := range targets {
				if err := writeBlob(engine, tg.sha, tg.dest); err != nil {
					return err
				}
			}

			a.logger.Info("extracted", "record_id", meta.RecordID, "files", len(targets), "elapsed", time.Since(start))
			fmt.Fprintf(cmd.OutOrStdout(), "Extracted record %s to %s\n", meta.RecordID, dir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "Project path (default: current directory)")
	cmd.Flags().StringVar(&output, "output", "", "Destination directory")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace existing files")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
