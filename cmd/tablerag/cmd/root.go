// Package cmd provides the CLI commands for tablerag.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/tablerag/internal/config"
	apperrors "github.com/Aman-CERP/tablerag/internal/errors"
	"github.com/Aman-CERP/tablerag/internal/logging"
	"github.com/Aman-CERP/tablerag/internal/profiling"
	"github.com/Aman-CERP/tablerag/pkg/version"
)

// Persistent flags.
var (
	debugMode      bool
	indexOverride  string
	profileOpts    profiling.Options
	loggingCleanup func()
	profileSession *profiling.Session
)

// NewRootCmd creates the root command for the tablerag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tablerag",
		Short: "Hybrid search over gaushala registry records",
		Long: `tablerag indexes a gaushala registry export (xlsx, csv, json or yaml)
and answers natural-language questions about it.

Queries that name a registration identifier (for example GSA-14) are
answered directly. Other queries combine BM25 keyword search with
embedding search and re-rank the union with a cross-encoder.

Typical flow:
  tablerag build registry.xlsx
  tablerag search "gaushalas in Jaipur with more than 100 cattle"
  tablerag serve --records registry.xlsx --watch`,
		Version:            version.Version,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  startRun,
		PersistentPostRunE: func(*cobra.Command, []string) error { return stopRun() },
	}

	cmd.SetVersionTemplate("tablerag version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging (also mirrored to stderr)")
	cmd.PersistentFlags().StringVar(&indexOverride, "index", "", "Index bundle directory (overrides index.dir)")
	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newBuildCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startRun starts profiling when requested and sends JSON logs to the
// rotating log file. serve never mirrors logs to stderr because stdio
// clients read the process streams.
func startRun(cmd *cobra.Command, _ []string) error {
	if profileOpts.Enabled() {
		session, err := profiling.Start(profileOpts)
		if err != nil {
			return err
		}
		profileSession = session
	}
	if cmd.Name() == "logs" {
		return nil
	}
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = debugMode && cmd.Name() != "serve"
	if debugMode {
		cfg.Level = "debug"
	}

	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("command_started",
		slog.String("command", cmd.CommandPath()),
		slog.String("version", version.Version))
	return nil
}

func stopRun() error {
	var err error
	if profileSession != nil {
		err = profileSession.Stop()
		profileSession = nil
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// Execute runs the root command and prints failures to stderr.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	// PersistentPostRunE does not run when a command fails.
	if stopErr := stopRun(); err == nil {
		err = stopErr
	}
	if err != nil {
		fmt.Fprint(os.Stderr, apperrors.FormatForCLI(err))
	}
	return err
}

// project is the resolved working context of a command.
type project struct {
	root string
	cfg  *config.Config
}

// loadProject finds the project root from the working directory and loads
// its merged configuration.
func loadProject() (*project, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	root, err := config.FindProjectRoot(cwd)
	if err != nil {
		root = cwd
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, apperrors.ConfigError("failed to load configuration", err)
	}
	return &project{root: root, cfg: cfg}, nil
}

// indexDir returns --index when set, else the configured bundle directory.
func (p *project) indexDir() string {
	if indexOverride != "" {
		return indexOverride
	}
	return p.cfg.IndexDir(p.root)
}
