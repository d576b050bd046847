// Package cmd provides the CLI commands for fusesearch.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fusesearch/internal/logging"
	"github.com/Aman-CERP/fusesearch/internal/profiling"
	"github.com/Aman-CERP/fusesearch/pkg/version"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	dir      string
	debug    bool
	profiles profiling.Options

	profile        *profiling.Session
	loggingCleanup func()
}

// NewRootCmd creates the root command for the fusesearch CLI.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "fusesearch",
		Short: "Hybrid keyword and semantic search over a project",
		Long: `fusesearch indexes a project's files into a keyword index and a vector
index, runs every query against both in parallel and fuses the two rankings.

Results found by both searches are boosted. When one search fails the other
still answers, and the result is marked degraded.

Run 'fusesearch index' in your project, then 'fusesearch search <query>' or
'fusesearch serve' to expose search to MCP clients.`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: g.start,
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return g.stop()
		},
	}
	cmd.SetVersionTemplate("fusesearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&g.dir, "dir", "C", ".", "Project directory")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging to ~/.fusesearch/logs/")
	cmd.PersistentFlags().StringVar(&g.profiles.CPUPath, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&g.profiles.HeapPath, "profile-mem", "", "Write heap profile to file")
	cmd.PersistentFlags().StringVar(&g.profiles.TracePath, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newIndexCmd(g))
	cmd.AddCommand(newSearchCmd(g))
	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newStatsCmd(g))
	cmd.AddCommand(newConfigCmd(g))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// start sets up logging and profiling. serve installs its own file logger.
func (g *globalOptions) start(cmd *cobra.Command, _ []string) error {
	if cmd.Name() != "serve" {
		cfg := logging.Config{Level: "warn", WriteToStderr: true}
		if g.debug {
			cfg = logging.DefaultConfig()
			cfg.Level = "debug"
			cfg.WriteToStderr = false
		}
		logger, cleanup, err := logging.Setup(cfg)
		if err != nil {
			return fmt.Errorf("setup logging: %w", err)
		}
		g.loggingCleanup = cleanup
		slog.SetDefault(logger)
		if g.debug {
			slog.Debug("debug_logging_enabled",
				slog.String("log_file", cfg.FilePath),
				slog.String("version", version.Version))
		}
	}

	if g.profiles.Enabled() {
		s, err := profiling.Start(g.profiles)
		if err != nil {
			return err
		}
		g.profile = s
	}
	return nil
}

func (g *globalOptions) stop() error {
	var err error
	if g.profile != nil {
		err = g.profile.Stop()
		g.profile = nil
	}
	if g.loggingCleanup != nil {
		g.loggingCleanup()
		g.loggingCleanup = nil
	}
	return err
}

// Execute runs the root command.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with ctx, which is canceled on
// interrupt by main.
func ExecuteContext(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
