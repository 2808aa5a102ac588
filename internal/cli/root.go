// Package cli implements planctl, the offline companion to the planner
// service: fingerprinting, one-shot runs, geostore maintenance and cluster
// cache invalidation.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/h3-netplan/internal/core/config"
	"github.com/mohammed-shakir/h3-netplan/internal/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile string
	DBPath  string
	Format  string // "json" | "text"
	Verbose bool

	cfg config.Config
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "planctl",
		Short: "Operate the network planning service offline",
		Long: `planctl fingerprints and runs plan requests without the HTTP service,
imports grid and boundary data into the geostore, and publishes cache
invalidation events to every running planner.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", opts.EnvFile, err)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.DBPath != "" {
				cfg.GeoDBPath = opts.DBPath
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env", ".env", "dotenv file loaded before reading the environment")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "geostore sqlite path (overrides GEO_DB_PATH)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging on stderr")

	cmd.AddCommand(NewFingerprintCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewGridCommand(opts))
	cmd.AddCommand(NewBoundaryCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewInvalidateCommand(opts))

	return cmd
}

// logger writes to stderr so json output on stdout stays parseable.
func (o *RootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := "warn"
	if o.Verbose {
		level = "debug"
	}
	zl := logger.Build(logger.Config{
		Level:     level,
		Console:   true,
		Instance:  o.cfg.Instance,
		Component: "planctl",
	}, cmd.ErrOrStderr())
	return logger.NewSlog(&zl)
}
