package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/persistkit/internal/access"
	"github.com/roach88/persistkit/internal/config"
	"github.com/roach88/persistkit/internal/logging"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "persistkit.yaml"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the persistkit CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "persistkit",
		Short: "persistkit - persistence access layer tooling",
		Long: `Operate a persistence access layer from the command line.

Entities, named queries and the database connection are declared in a YAML
configuration file. Every command runs in its own unit of work.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", DefaultConfigPath, "path to the configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewPingCommand(opts))
	cmd.AddCommand(NewGenIDCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewCountCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewExecCommand(opts))

	return cmd
}

// formatter builds the output formatter for a command.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// openLayer loads the configuration, installs the logger and opens the
// persistence layer. Callers Close the layer.
func (o *RootOptions) openLayer(cmd *cobra.Command, f *OutputFormatter) (*access.Layer, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, outputError(f, ErrCodeConfig, ExitCommandError, "failed to load configuration", err)
	}

	level := cfg.Logging.Level
	if o.Verbose {
		level = "debug"
	}
	logger := logging.Setup(level, cfg.Logging.Format, cmd.ErrOrStderr())

	f.VerboseLog("Opening %s database", cfg.Database.Driver)
	l, err := access.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, outputError(f, ErrCodeOpen, ExitCommandError, "failed to open database", err)
	}
	return l, nil
}

// closeLayer closes l, logging failures.
func closeLayer(l *access.Layer) {
	if err := l.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
