package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/tablerag/internal/config"
	"github.com/Aman-CERP/tablerag/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the user configuration file.

Configuration precedence (lowest to highest):
  1. Built-in defaults
  2. User config (~/.config/tablerag/config.yaml)
  3. Project config (.tablerag.yaml)
  4. Environment variables (TABLERAG_*)`,
		Example: `  tablerag config init
  tablerag config show --json
  tablerag config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the user configuration file",
		Long: `Write the defaults to the user configuration file.

An existing file is left alone unless --force is given; then it is
backed up, missing options are filled in with their defaults and your
settings are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Upgrade an existing file with new defaults")

	return cmd
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())
	path := config.GetUserConfigPath()

	if !config.UserConfigExists() {
		if _, err := config.WriteUserConfig(config.NewConfig()); err != nil {
			return err
		}
		out.Success("Created user configuration")
		out.Statusf("📁", "Location: %s", path)
		return nil
	}

	if !force {
		out.Warning("User configuration already exists")
		out.Statusf("📁", "Location: %s", path)
		out.Hint("Use --force to add new defaults (your settings are kept)")
		return nil
	}

	existing, err := config.LoadUserConfig()
	if err != nil {
		return fmt.Errorf("failed to load existing config: %w", err)
	}
	if existing == nil {
		return fmt.Errorf("config file disappeared during upgrade")
	}
	added := existing.MergeNewDefaults()

	backup, err := config.WriteUserConfig(existing)
	if err != nil {
		return err
	}

	out.Success("Configuration upgraded")
	out.Statusf("📁", "Location: %s", path)
	out.Statusf("💾", "Backup: %s", backup)
	if len(added) == 0 {
		out.Hint("Already up to date")
		return nil
	}
	out.Status("✨", "New options added with defaults:")
	for _, field := range added {
		out.Hint("  - " + field)
	}
	return nil
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := loadProject()
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(p.cfg)
			}
			data, err := yaml.Marshal(p.cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			out.Text(string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}
