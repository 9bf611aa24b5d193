package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chronodiff/chronodiff/internal/ignore"
	"github.com/chronodiff/chronodiff/internal/ui"
)

func newIgnoreCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ignore",
		GroupID: "project",
		Short:   "Inspect the ignore rules of a project",
		Long: `Inspect the ignore rules of a project.

Rules use gitignore syntax. Built-in defaults exclude VCS metadata and common
build directories; a project's ` + ignore.FileName + ` file adds rules and can
re-include defaults with "!pattern".`,
	}
	cmd.AddCommand(newIgnoreListCmd(a), newIgnoreTestCmd(a))
	return cmd
}

func newIgnoreListCmd(a *app) *cobra.Command {
	var (
		path   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the effective ignore rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.projectRoot(path)
			if err != nil {
				return err
			}
			matcher, err := ignore.Load(root, a.cfg.Home)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return ui.WriteJSON(out, matcher.Rules())
			}
			fmt.Fprintf(out, "Ignore rules for %s:\n", root)
			for _, r := range matcher.Rules() {
				fmt.Fprintf(out, "  - %s %s\n", r.Pattern, ui.RenderMuted("("+r.Source+")"))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "Project path (default: current directory)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newIgnoreTestCmd(a *app) *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "test <target>",
		Short: "Print IGNORED or TRACKED for a path",
		Long: `Print IGNORED or TRACKED for a path. Relative targets are resolved against
the project root. Exits 0 when the path is ignored and 1 when it is tracked.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.projectRoot(project)
			if err != nil {
				return err
			}
			matcher, err := ignore.Load(root, a.cfg.Home)
			if err != nil {
				return err
			}

			target := args[0]
			if !filepath.IsAbs(target) {
				target = filepath.Join(root, target)
			}
			info, err := os.Stat(target)
			isDir := err == nil && info.IsDir()

			if matcher.IsIgnored(target, isDir) {
				fmt.Fprintln(cmd.OutOrStdout(), "IGNORED")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "TRACKED")
			return &exitError{code: 1}
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "Project path (default: current directory)")
	return cmd
}
