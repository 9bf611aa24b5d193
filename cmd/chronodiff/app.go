package main

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chronodiff/chronodiff/internal/config"
	"github.com/chronodiff/chronodiff/internal/logging"
	"github.com/chronodiff/chronodiff/internal/store"
	"github.com/chronodiff/chronodiff/internal/ui"
)

// env is the process environment of one invocation.
type env struct {
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	workdir string
}

// app carries global flags and state shared by all commands.
type app struct {
	*env

	verbose    int
	homeFlag   string
	configFlag string
	noColor    bool

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
}

// setup loads configuration and builds the logger before any command runs.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	configPath := a.configFlag
	if configPath != "" {
		configPath = a.abs(configPath)
	} else if a.homeFlag != "" {
		configPath = config.Path(a.abs(a.homeFlag))
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if a.homeFlag != "" {
		cfg.Home = a.abs(a.homeFlag)
	}
	if a.noColor {
		cfg.Output.Color = config.ColorNever
	}
	a.cfg = cfg

	ui.Init(cfg.Output.Color, cmd.OutOrStdout())

	logger, closer, err := logging.New(logging.Options{
		Level:  logging.LevelFromVerbosity(a.verbose, cfg.Log.Level),
		Format: cfg.Log.Format,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	a.logger, a.logCloser = logger, closer
	return nil
}

func (a *app) teardown() {
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// abs resolves p against the invocation's working directory.
func (a *app) abs(p string) string {
	if p == "" {
		return a.workdir
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(a.workdir, p)
}

// projectRoot returns the canonical project root for a --path value,
// defaulting to the working directory.
func (a *app) projectRoot(path string) (string, error) {
	return store.Canonicalize(a.abs(path))
}

// openEngine opens storage for the project at path.
func (a *app) openEngine(cmd *cobra.Command, path string) (*store.Engine, error) {
	return store.OpenContext(cmd.Context(), a.abs(path), store.Options{
		Root:   a.cfg.Home,
		Logger: a.logger,
	})
}

// openEngineFor opens storage for --path or, when set, a registered
// --project-id.
func (a *app) openEngineFor(cmd *cobra.Command, path, projectID string) (*store.Engine, error) {
	if projectID == "" {
		return a.openEngine(cmd, path)
	}
	entry, err := a.registry().Find(projectID)
	if err != nil {
		return nil, err
	}
	return a.openEngine(cmd, entry.Path)
}

func (a *app) registry() *store.Registry {
	return store.NewRegistry(store.RegistryPath(a.cfg.Home))
}

// resolveRecord expands a record id prefix to a full id.
func resolveRecord(cmd *cobra.Command, engine *store.Engine, id string) (string, error) {
	return engine.ResolveRecordID(cmd.Context(), id)
}

// encode writes v as JSON or YAML when requested and reports whether it did.
func encode(w io.Writer, v any, asJSON, asYAML bool) (bool, error) {
	switch {
	case asJSON:
		return true, ui.WriteJSON(w, v)
	case asYAML:
		return true, ui.WriteYAML(w, v)
	}
	return false, nil
}
