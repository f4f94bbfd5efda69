// Package cli implements cachectl, the operator tool for the application
// cache table.
package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/goliatone/go-application-cache/pkg/di"
)

type app struct {
	v          *viper.Viper
	configFile string
	logger     *slog.Logger
}

// NewRootCommand builds the cachectl command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: newViper()}

	root := &cobra.Command{
		Use:          "cachectl",
		Short:        "Inspect and maintain the application cache",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: slog.LevelInfo,
			})).With("app", "cachectl", "command", cmd.CommandPath())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Config file path")
	flags.String("driver", "", "Database driver (sqlite3, postgres)")
	flags.String("dsn", "", "Database DSN")
	_ = a.v.BindPFlag("database.driver", flags.Lookup("driver"))
	_ = a.v.BindPFlag("database.dsn", flags.Lookup("dsn"))

	root.AddCommand(
		newMigrateCommand(a),
		newSweepCommand(a),
		newExpireCommand(a),
		newInspectCommand(a),
		newStatsCommand(a),
	)
	return root
}

// Execute runs cachectl with the process arguments.
func Execute(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	return NewRootCommand().ExecuteContext(ctx)
}

// withContainer opens the configured cache for the duration of run.
func (a *app) withContainer(run func(cmd *cobra.Command, args []string, c *di.Container) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(a.v, a.configFile)
		if err != nil {
			return err
		}

		c, err := di.NewContainer(cmd.Context(), cfg, di.WithLogger(a.logger))
		if err != nil {
			return err
		}
		defer func() {
			if err := c.Close(); err != nil {
				a.logger.Error("close database failed", "error", err)
			}
		}()

		return run(cmd, args, c)
	}
}
