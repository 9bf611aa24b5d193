package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chronodiff/chronodiff/internal/loadtest"
	"github.com/chronodiff/chronodiff/internal/ui"
)

func newBenchCmd(a *app) *cobra.Command {
	config := loadtest.DefaultConfig()
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "bench",
		GroupID: "advanced",
		Short:   "Measure record commit latency on this machine",
		Long: `Measure record commit latency on this machine.

A throwaway project is created in the system temp directory. Each record
rewrites --files files of --lines lines and goes through the full pipeline:
diff, compression, blob writes and the metadata transaction. --readers
timeline queries run concurrently to measure reader latency under writes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("workers") {
				config.Workers = a.cfg.Workers
			}
			out := cmd.OutOrStdout()
			if !asJSON {
				fmt.Fprintf(out, "%s Committing %d records of %d files...\n",
					ui.RenderAccent("●"), config.Records, config.FilesPerRecord)
			}

			result, err := loadtest.Run(cmd.Context(), "", config)
			if err != nil {
				return err
			}
			if asJSON {
				return ui.WriteJSON(out, result)
			}

			fmt.Fprintln(out)
			result.Commit.PrintStats(out, "Commit latency")
			if config.Readers > 0 {
				fmt.Fprintln(out)
				result.Timeline.PrintStats(out, "Timeline latency")
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Records:       %s\n", ui.Count(result.Records))
			fmt.Fprintf(out, "Tracked files: %s\n", ui.Count(result.Snapshots))
			fmt.Fprintf(out, "Storage:       %s\n", ui.Bytes(result.StorageBytes))
			fmt.Fprintf(out, "Total:         %s\n", ui.Duration(result.TotalDuration))
			if result.ReadErrors > 0 {
				fmt.Fprintf(out, "%s %d timeline queries failed\n", ui.RenderWarn("⚠"), result.ReadErrors)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&config.Records, "records", config.Records, "Number of records to commit")
	cmd.Flags().IntVar(&config.FilesPerRecord, "files", config.FilesPerRecord, "Files changed per record")
	cmd.Flags().IntVar(&config.LinesPerFile, "lines", config.LinesPerFile, "Lines per file")
	cmd.Flags().IntVar(&config.Readers, "readers", config.Readers, "Concurrent timeline readers")
	cmd.Flags().IntVar(&config.Workers, "workers", config.Workers, "Parallel file workers per record")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}
