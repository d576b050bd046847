package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/fusesearch/configs"
	"github.com/Aman-CERP/fusesearch/internal/config"
	"github.com/Aman-CERP/fusesearch/internal/output"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create configuration",
		Long: `Show or create fusesearch configuration.

Configuration precedence (lowest to highest):
  1. Built-in defaults
  2. User config (~/.config/fusesearch/config.yaml)
  3. Project config (.fusesearch.yaml)
  4. Environment variables (FUSESEARCH_*)`,
		Example: `  # Show the effective configuration
  fusesearch config show

  # Create .fusesearch.yaml in the project root
  fusesearch config init`,
	}

	cmd.AddCommand(newConfigShowCmd(g))
	cmd.AddCommand(newConfigInitCmd(g))
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

func newConfigShowCmd(g *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := loadProject(g.dir)
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(p.cfg)
			}
			data, err := yaml.Marshal(p.cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newConfigInitCmd(g *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a project configuration file",
		Long: `Create .fusesearch.yaml in the project root from a commented template.

Every setting in the template is commented out, so the new file changes
nothing until edited.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			root, err := config.FindProjectRoot(g.dir)
			if err != nil {
				return err
			}
			path := filepath.Join(root, config.ProjectConfigFile)
			if _, err := os.Stat(path); err == nil && !force {
				out.Warning("Project configuration already exists")
				out.Statusf("", "Location: %s", path)
				out.Status("", "Use --force to overwrite it")
				return nil
			}
			if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			out.Success("Created project configuration")
			out.Statusf("", "Location: %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}
