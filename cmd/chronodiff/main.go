// Command chronodiff records every burst of file changes under a directory
// as an immutable, content-addressed record and lets you browse, diff and
// restore them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chronodiff/chronodiff/internal/version"
)

// exitError ends the process with code without printing anything more.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	err = run(ctx, os.Args[1:], &env{
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		workdir: wd,
	})
	cancel()
	os.Exit(exitCode(err, os.Stderr))
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

// run executes one chronodiff invocation.
func run(ctx context.Context, args []string, e *env) error {
	root := newRootCmd(&app{env: e})
	root.SetArgs(args)
	root.SetIn(e.stdin)
	root.SetOut(e.stdout)
	root.SetErr(e.stderr)
	return root.ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chronodiff",
		Short: "Local change history for any directory",
		Long: `chronodiff watches a directory and records each burst of file changes as an
immutable record: a unified diff, the before/after content of every file and
line statistics. Records form a linear history per project that can be
listed, diffed, restored and extracted without a version control system.

Storage lives in $CHRONODIFF_HOME (default ~/.chronodiff).`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) { a.teardown() },
	}

	rootCmd.AddGroup(
		&cobra.Group{ID: "record", Title: "Recording:"},
		&cobra.Group{ID: "history", Title: "History:"},
		&cobra.Group{ID: "project", Title: "Projects:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.CountVarP(&a.verbose, "verbose", "v", "Increase verbosity (-v info, -vv debug)")
	pf.StringVar(&a.homeFlag, "home", "", "Storage root (default $CHRONODIFF_HOME or ~/.chronodiff)")
	pf.StringVar(&a.configFlag, "config", "", "Config file (default <home>/config.toml)")
	pf.BoolVar(&a.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		newWatchCmd(a),
		newStopCmd(a),
		newTimelineCmd(a),
		newShowCmd(a),
		newDiffCmd(a),
		newRestoreCmd(a),
		newExtractCmd(a),
		newStatusCmd(a),
		newProjectsCmd(a),
		newInspectCmd(a),
		newIgnoreCmd(a),
		newConfigCmd(a),
		newBenchCmd(a),
	)
	return rootCmd
}
