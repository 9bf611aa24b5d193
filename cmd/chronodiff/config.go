package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/chronodiff/chronodiff/internal/config"
	"github.com/chronodiff/chronodiff/internal/ui"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		GroupID: "advanced",
		Short:   "Manage the configuration file",
		Long: `Manage the configuration file.

Settings are read from <home>/` + config.FileName + ` (or --config) and can be
overridden with ` + config.EnvPrefix + `_* environment variables, for example
` + config.EnvPrefix + `_WINDOW_MS=100 or ` + config.EnvPrefix + `_LOG_LEVEL=debug.`,
	}
	cmd.AddCommand(newConfigInitCmd(a), newConfigShowCmd(a))
	return cmd
}

func (a *app) configPath() string {
	if a.configFlag != "" {
		return a.abs(a.configFlag)
	}
	return config.Path(a.cfg.Home)
}

func newConfigInitCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			cfg.Home = a.cfg.Home
			path := a.configPath()
			if err := config.Write(path, cfg, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", ui.RenderPass("✓"), path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing file")
	return cmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	var (
		asJSON bool
		asYAML bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if ok, err := encode(out, a.cfg, asJSON, asYAML); ok {
				return err
			}
			if err := toml.NewEncoder(out).Encode(a.cfg); err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Output YAML")
	cmd.MarkFlagsMutuallyExclusive("json", "yaml")
	return cmd
}
