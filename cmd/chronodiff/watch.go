package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/chronodiff/chronodiff/internal/daemon"
	"github.com/chronodiff/chronodiff/internal/dashboard"
	"github.com/chronodiff/chronodiff/internal/digest"
	"github.com/chronodiff/chronodiff/internal/lock"
	"github.com/chronodiff/chronodiff/internal/logging"
	"github.com/chronodiff/chronodiff/internal/store"
	"github.com/chronodiff/chronodiff/internal/ui"
)

const logFileName = "watch.log"

func newWatchCmd(a *app) *cobra.Command {
	var (
		path          string
		windowMS      int
		detach        bool
		foreground    bool
		dashboardPort int
	)

	cmd := &cobra.Command{
		Use:     "watch",
		GroupID: "record",
		Short:   "Watch a directory and record every burst of changes",
		Long: `Watch a project directory and commit one record per burst of changes.

Events are coalesced with a sliding window: a batch closes once no event has
arrived for --window-ms. Each record is printed as a summary line followed by
its unified diff.

Only one watcher may run per project. A second watch fails while the first
is alive; a lock left behind by a crashed watcher is taken over.

With --daemon the watcher detaches into the background and logs to
<home>/<project>/logs/watch.log. Stop it with 'chronodiff stop'.

With --dashboard-port the watcher also serves a live WebSocket feed of
committed records on ws://127.0.0.1:<port>/ws.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.projectRoot(path)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("window-ms") {
				windowMS = a.cfg.WindowMS
			}
			if windowMS <= 0 {
				return fmt.Errorf("--window-ms must be positive")
			}
			if !cmd.Flags().Changed("dashboard-port") {
				dashboardPort = a.cfg.Dashboard.Port
			}

			if detach && !foreground {
				return a.spawnDaemon(cmd, root, windowMS, dashboardPort)
			}
			return a.watch(cmd, root, windowMS, dashboardPort, foreground)
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "Project path (default: current directory)")
	cmd.Flags().IntVar(&windowMS, "window-ms", 50, "Micro-batch window in milliseconds")
	cmd.Flags().BoolVar(&detach, "daemon", false, "Run the watcher in the background")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run as the detached daemon process")
	cmd.Flags().IntVar(&dashboardPort, "dashboard-port", 0, "Serve a live record feed on this port (0 disables)")
	_ = cmd.Flags().MarkHidden("foreground")
	return cmd
}

// spawnDaemon re-executes the binary as a detached watcher.
func (a *app) spawnDaemon(cmd *cobra.Command, root string, windowMS, dashboardPort int) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve current executable: %w", err)
	}

	args := []string{"--home", a.cfg.Home}
	if a.configFlag != "" {
		args = append(args, "--config", a.abs(a.configFlag))
	}
	for range a.verbose {
		args = append(args, "-v")
	}
	args = append(args, "watch", "--foreground",
		"--path", root,
		"--window-ms", strconv.Itoa(windowMS),
		"--dashboard-port", strconv.Itoa(dashboardPort))

	child := exec.Command(exe, args...)
	child.Dir = root
	child.Stdin, child.Stdout, child.Stderr = nil, nil, nil
	detachProcess(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to spawn watcher daemon: %w", err)
	}
	pid := child.Process.Pid
	_ = child.Process.Release()

	fmt.Fprintf(cmd.OutOrStdout(), "Watcher daemon started (pid %d) for %s\n", pid, root)
	return nil
}

// watch runs the watcher until the command's context is cancelled.
func (a *app) watch(cmd *cobra.Command, root string, windowMS, dashboardPort int, detached bool) error {
	out := cmd.OutOrStdout()
	logger := a.logger

	if detached {
		layout := store.NewLayout(a.cfg.Home, digest.ProjectID(root))
		if err := os.MkdirAll(layout.LogsDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		fileLogger, closer, err := logging.New(logging.Options{
			Level:      logging.LevelFromVerbosity(a.verbose, "info"),
			Format:     a.cfg.Log.Format,
			File:       filepath.Join(layout.LogsDir, logFileName),
			MaxSizeMB:  a.cfg.Log.MaxSizeMB,
			MaxBackups: a.cfg.Log.MaxBackups,
			MaxAgeDays: a.cfg.Log.MaxAgeDays,
			Compress:   a.cfg.Log.Compress,
		})
		if err != nil {
			return err
		}
		defer closer.Close()
		logger = fileLogger
		out = nil
	}

	var current atomic.Pointer[daemon.Daemon]
	config := &daemon.Config{
		DebounceInterval: time.Duration(windowMS) * time.Millisecond,
		BufferSize:       a.cfg.BufferSize,
		Workers:          a.cfg.Workers,
		Output:           out,
		Logger:           logger,
	}

	if dashboardPort > 0 {
		server := dashboard.NewServer(&dashboard.Config{
			Port:   dashboardPort,
			Logger: logger,
			Status: func() any {
				if d := current.Load(); d != nil {
					return d.Stats()
				}
				return nil
			},
		})
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			if err := server.Stop(); err != nil {
				logger.Warn("failed to stop dashboard", "error", err)
			}
		}()
		config.Notifier = dashboard.NewHandler(server, logger)
		if out != nil {
			fmt.Fprintf(out, "%s Live feed on ws://%s/ws\n", ui.RenderAccent("●"), server.Addr())
		}
	}

	err := daemon.Watch(cmd.Context(), root, daemon.WatchOptions{
		StorageRoot: a.cfg.Home,
		Config:      config,
		OnReady: func(d *daemon.Daemon, l *lock.Lock) {
			current.Store(d)
			logger.Info("watching", "root", root, "project_id", d.Engine().ProjectID(), "pid", l.Info().PID)
			if out != nil {
				fmt.Fprintf(out, "%s Watching %s (project %s, window %dms)\n",
					ui.RenderAccent("●"), root, d.Engine().ProjectID(), windowMS)
			}
		},
	})
	if errors.Is(err, lock.ErrLocked) {
		return fmt.Errorf("%w; run 'chronodiff stop' first", err)
	}
	if err != nil {
		return err
	}

	if d := current.Load(); d != nil {
		stats := d.Stats()
		logger.Info("watch stopped", "records", stats.Records, "batches", stats.Batches, "events_dropped", stats.EventsDropped)
		if out != nil {
			fmt.Fprintf(out, "%s Stopped watching %s (%d records)\n", ui.RenderPass("✓"), root, stats.Records)
		}
	}
	return nil
}

func newStopCmd(a *app) *cobra.Command {
	var (
		path      string
		projectID string
		force     bool
	)

	cmd := &cobra.Command{
		Use:     "stop",
		GroupID: "record",
		Short:   "Stop the watcher of a project",
		Long: `Stop the watcher of a project by signalling the process that holds its lock.

A lock whose process is gone is only removed with --force.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			var pid string
			if projectID != "" {
				entry, err := a.registry().Find(projectID)
				if err != nil {
					return fmt.Errorf("project %s not found in registry", projectID)
				}
				pid = entry.ProjectID
			} else {
				root, err := a.projectRoot(path)
				if err != nil {
					return err
				}
				pid = digest.ProjectID(root)
			}

			lockPath := lock.Path(store.NewLayout(a.cfg.Home, pid).MetaDir)
			st, err := lock.Inspect(lockPath)
			switch {
			case !st.Exists:
				fmt.Fprintf(out, "No active watcher for project %s\n", pid)
				return nil
			case err != nil && !force:
				return fmt.Errorf("failed to read lock (use --force to clear it): %w", err)
			case err != nil:
				fmt.Fprintf(out, "Removing unreadable lock for project %s\n", pid)
			case st.Active:
				if err := lock.Terminate(st.Info.PID); err != nil {
					return err
				}
				fmt.Fprintf(out, "Sent SIGTERM to watcher pid %d\n", st.Info.PID)
			case !force:
				fmt.Fprintf(out, "%s Watcher process %d not running; use --force to clear lock\n",
					ui.RenderWarn("⚠"), st.Info.PID)
				return nil
			default:
				fmt.Fprintf(out, "Removing stale lock for project %s\n", pid)
			}

			if err := lock.Clear(lockPath); err != nil {
				return err
			}
			fmt.Fprintf(out, "Stopped watcher for project %s\n", pid)
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "Project path (default: current directory)")
	cmd.Flags().StringVar(&projectID, "project-id", "", "Project id instead of path")
	cmd.Flags().BoolVar(&force, "force", false, "Remove a stale lock even if the process is not running")
	return cmd
}
