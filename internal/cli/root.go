// Package cli implements the encoder and decoder command lines.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"alexhalogen/rsraid/internal/config"
	rserr "alexhalogen/rsraid/internal/errors"
	"alexhalogen/rsraid/internal/logger"
	"alexhalogen/rsraid/internal/orchestrator"
	"alexhalogen/rsraid/internal/stage"
)

// Version is set by main.go
var Version = "dev"

// globalOptions are the persistent flags of both binaries.
type globalOptions struct {
	configPath string
	logLevel   string
	quiet      bool
}

func (g *globalOptions) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (overrides the configuration)")
	cmd.PersistentFlags().BoolVarP(&g.quiet, "quiet", "q", false, "Suppress progress output")
}

// load reads the configuration and sets up logging.
func (g *globalOptions) load() (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if cfg.Log.File != "" {
		if err := logger.SetFile(cfg.Log.File); err != nil {
			return config.Config{}, fmt.Errorf("log file: %w", err)
		}
	}
	if g.quiet {
		logger.Silence()
	}
	if err := logger.Configure(cfg.Log.Level); err != nil {
		return config.Config{}, fmt.Errorf("log level: %w", err)
	}
	return cfg, nil
}

// run executes op with a live progress line and returns its result.
func (g *globalOptions) run(cmd *cobra.Command, cfg config.Config, op orchestrator.Operation, job orchestrator.Job) orchestrator.Result {
	board := stage.NewBoard()
	reporter := NewReporter(cmd.ErrOrStderr(), g.quiet)
	reporter.Follow(board)
	res := orchestrator.New(cfg, board).Run(cmd.Context(), op, job)
	reporter.Stop()
	return res
}

func newRoot(use, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	return cmd
}

// Execute runs cmd; Ctrl+C stops the running operation cooperatively.
func Execute(cmd *cobra.Command) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		r := NewReporter(cmd.ErrOrStderr(), false)
		if rserr.IsCancelled(err) {
			r.PrintError("operation cancelled")
		} else {
			r.PrintError("%v", err)
		}
		return 1
	}
	return 0
}
