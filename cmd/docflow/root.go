package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli carries state shared by every subcommand.
type cli struct {
	v         *viper.Viper
	outputFmt string
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "docflow",
		Short: "Document workflow, access control and anomaly detection service",
		Long: `docflow stores versioned documents, runs their approval chains, decides
access requests against policies and raises alerts on suspicious activity.

Most settings come from DOCFLOW_* environment variables. The flags below
can also be set in a YAML file passed with --config.`,
		SilenceUsage: true,
	}
	if err := bindFlags(c.v, root.PersistentFlags()); err != nil {
		glog.Fatalf("Failed to bind flags: %v", err)
	}
	root.PersistentFlags().StringVarP(&c.outputFmt, "output", "o", "table", "Output format: table, json, yaml")

	root.AddCommand(newServeCmd(c))
	root.AddCommand(newMigrateCmd(c))
	root.AddCommand(newRunCmd(c))
	root.AddCommand(newJobsCmd(c))
	root.AddCommand(newPoliciesCmd(c))
	return root
}

// open loads the configuration and builds the app.
func (c *cli) open(ctx context.Context) (*app, *slog.Logger, error) {
	cfg, err := loadConfig(c.v)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise docflow: %w", err)
	}
	return a, logger, nil
}
