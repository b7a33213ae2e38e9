package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"keeper-oracle/src/config"
	"keeper-oracle/src/keeper"
	"keeper-oracle/src/logger"
)

// -----------------------------------------------------------------------------

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// -----------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "keeper-oracle",
		Short:         "Exchange price oracle and keeper bots for the Circuit protocol",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/default.yaml", "path to config file")

	load := func() (*config.Config, *logger.Logger, error) {
		conf, err := config.NewConfig(configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("error loading config: %w", err)
		}
		return conf, logger.NewLogger(conf, conf.Name), nil
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "oracle",
			Short: "Run the feeds, the aggregation loop and the control servers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				conf, appLogger, err := load()
				if err != nil {
					return err
				}
				return runOracle(cmd.Context(), conf, configPath, appLogger)
			},
		},
		&cobra.Command{
			Use:   "bot [name...]",
			Short: "Run keeper bots; all of them when no name is given",
			Long: `Run one or more keeper bots against the Circuit RPC server.

RPC_URL and PRIVATE_KEY are read from the environment or a .env file.

Example:
  $ keeper-oracle bot announcer_update
  $ keeper-oracle bot liquidation_start bad_debt_recovery`,
			ValidArgs: keeper.Names(),
			Args:      cobra.OnlyValidArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				conf, appLogger, err := load()
				if err != nil {
					return err
				}
				if len(args) == 0 {
					args = keeper.Names()
				}
				return runBots(cmd.Context(), conf, args, appLogger)
			},
		},
		&cobra.Command{
			Use:   "price",
			Short: "Warm up the feeds and print one aggregated price",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				conf, appLogger, err := load()
				if err != nil {
					return err
				}
				return runPrice(cmd.Context(), conf, cmd.OutOrStdout(), appLogger)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Query a running oracle over its gRPC control port",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				conf, _, err := load()
				if err != nil {
					return err
				}
				return runStatus(cmd.Context(), conf, cmd.OutOrStdout())
			},
		},
	)
	return root
}
