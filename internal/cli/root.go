package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/deploydag/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the deploydag CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "deploydag",
		Short: "deploydag - dependency-aware contract deployment",
		Long: `Deploy a set of compiled contracts whose constructor arguments and
library links refer to each other, in dependency order, and record every
confirmed deployment in a manifest keyed by network and unit.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			setupLogging(opts, cmd.ErrOrStderr())
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default ./deploydag.yaml)")

	// Add subcommands
	cmd.AddCommand(NewDeployCommand(opts))
	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewManifestCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// logLevel starts at info and follows log.level from the config once it is
// loaded; --verbose pins it to debug.
var (
	logLevel            = new(slog.LevelVar)
	logOutput io.Writer = os.Stderr
)

// setupLogging routes slog to w. Diagnostics never share stdout with the
// report, so json output stays parseable.
func setupLogging(opts *RootOptions, w io.Writer) {
	logOutput = w
	logLevel.Set(slog.LevelInfo)
	if opts.Verbose {
		logLevel.Set(slog.LevelDebug)
	}
	slog.SetDefault(slog.New(newLogHandler(config.LogFormatText, w)))
}

// applyConfigLogging follows log.level and log.format once the config is
// loaded.
func applyConfigLogging(opts *RootOptions, cfg *config.Config) {
	if !opts.Verbose {
		logLevel.Set(cfg.LogLevel())
	}
	slog.SetDefault(slog.New(newLogHandler(cfg.Log.Format, logOutput)))
}

func newLogHandler(format string, w io.Writer) slog.Handler {
	hopts := &slog.HandlerOptions{Level: logLevel}
	if format == config.LogFormatJSON {
		return slog.NewJSONHandler(w, hopts)
	}
	return slog.NewTextHandler(w, hopts)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
